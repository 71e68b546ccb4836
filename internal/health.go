package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// VoIP registration codes shown on the status page
const (
	voipRegistered   = "Y"
	voipUnauthorized = "401"
	voipForbidden    = "403"

	clockFaultPrefix = "1970-01"
)

// HealthConfig tunes the device health monitor
type HealthConfig struct {
	// CheckInterval rate-limits PeriodicCheck
	CheckInterval time.Duration
	// RebootSettle is waited after triggering a reboot
	RebootSettle time.Duration
	// ResetSettle is waited after a factory reset of the configuration
	ResetSettle time.Duration
	// PasswordSettle is waited after the admin password is changed
	PasswordSettle  time.Duration
	Device          DeviceCredentials
	DefaultPassword string
	Restore         RestoreProfile
	RestoreCreds    RestoreCredentials
}

// HealthMonitor keeps the VoIP, SIM and GSM registration of the device
// healthy. It owns the device session and the messaging gateway and
// reinitialises both after a reboot or repair.
type HealthMonitor struct {
	cfg        HealthConfig
	accounting *Accounting
	notifier   Notifier
	events     Events
	clock      Clock

	newSession SessionFactory
	newGateway GatewayFactory
	device     *Resource[DeviceSession]
	gateway    *Resource[MessagingGateway]

	lastCheckedAt time.Time
	lastFault     string
	lastVoIP      string
	healthy       bool
}

func NewHealthMonitor(cfg HealthConfig, accounting *Accounting, notifier Notifier, events Events, clock Clock, newSession SessionFactory, newGateway GatewayFactory) *HealthMonitor {
	if events == nil {
		events = NopEvents{}
	}
	return &HealthMonitor{
		cfg:        cfg,
		accounting: accounting,
		notifier:   notifier,
		events:     events,
		clock:      clock,
		newSession: newSession,
		newGateway: newGateway,
		device:     NewResource[DeviceSession]("device session"),
		gateway:    NewResource[MessagingGateway]("messaging gateway"),
		healthy:    true,
	}
}

// Session returns the current device session
func (h *HealthMonitor) Session() (DeviceSession, error) {
	s, ok := h.device.Get()
	if !ok {
		return nil, ErrNoDeviceSession
	}
	return s, nil
}

// Gateway returns the current messaging gateway
func (h *HealthMonitor) Gateway() (MessagingGateway, error) {
	g, ok := h.gateway.Get()
	if !ok {
		return nil, ErrGatewayDown
	}
	return g, nil
}

// Healthy reports the outcome of the last completed check
func (h *HealthMonitor) Healthy() bool {
	return h.healthy
}

// InitDevice replaces the device session. An empty password means the
// configured one; when that is rejected the factory default is tried,
// since a configuration reset restores it.
func (h *HealthMonitor) InitDevice(ctx context.Context, password string) error {
	h.device.Release()

	creds := h.cfg.Device
	if password != "" {
		creds.Password = password
	}
	s, err := h.newSession(ctx, creds)
	if err != nil && errors.Is(err, ErrNotLoggedIn) && creds.Password != h.cfg.DefaultPassword {
		slog.Error("Error in init device session", "error", err)
		slog.Warn("Logging in using default password")
		creds.Password = h.cfg.DefaultPassword
		s, err = h.newSession(ctx, creds)
	}
	if err != nil {
		return fmt.Errorf("failed to init device session: %w", err)
	}
	h.device.Replace(s)
	return s.Refresh(ctx)
}

// InitGateway replaces the messaging gateway. A failed start is logged and
// leaves the system running without SMS.
func (h *HealthMonitor) InitGateway(ctx context.Context, notifyUp bool) {
	h.gateway.Release()
	g, err := h.newGateway(ctx, notifyUp)
	if err != nil {
		slog.Error("Failed to init messaging gateway", "error", err)
		return
	}
	h.gateway.Replace(g)
}

// Close releases the gateway and the device session
func (h *HealthMonitor) Close() {
	h.gateway.Release()
	h.device.Release()
}

// CheckHealth reads the registration fields of the status page and records
// the fault reason. It returns false only for faults a repair can fix.
func (h *HealthMonitor) CheckHealth(ctx context.Context) (bool, error) {
	slog.Info("Checking statuses")
	s, err := h.Session()
	if err != nil {
		return false, err
	}
	sim, err := s.ReadField(ctx, fieldSIMStatus)
	if err != nil {
		return false, err
	}
	gsm, err := s.ReadField(ctx, fieldGSMStatus)
	if err != nil {
		return false, err
	}
	voip, err := s.ReadField(ctx, fieldVoIPStatus)
	if err != nil {
		return false, err
	}

	h.lastVoIP = voip
	h.accounting.SetLastRegStatus("")
	switch {
	case voip == voipUnauthorized:
		slog.Error("Incorrect SIP username/password specified")
		// fixing wrong credentials more than once a day is useless
		if t, ok := h.accounting.LastErrorNotified(); ok && sameDay(t, h.clock.Now()) {
			return true, nil
		}
		h.accounting.SetLastRegStatus(fmt.Sprintf(msgRegBadCreds, voip))
		return false, nil
	case voip == voipForbidden:
		slog.Error("Error 403. No easy remedy for this")
		h.accounting.SetLastRegStatus(fmt.Sprintf(msgRegForbidden, voip))
		return true, nil
	case voip != voipRegistered:
		slog.Error("VoIP registration failed", "status", voip)
		h.accounting.SetLastRegStatus(fmt.Sprintf(msgRegVoIP, voip))
		return false, nil
	}
	if sim != voipRegistered {
		slog.Error("SIM not found. No easy remedy for this")
		h.accounting.SetLastRegStatus(msgRegNoSIM)
	}
	if gsm != voipRegistered {
		slog.Error("No GSM network. No easy remedy for this")
		h.accounting.SetLastRegStatus(msgRegNoGSM)
	}
	h.accounting.SetLastErrorNotified(time.Time{})
	return true, nil
}

// PeriodicCheck is the rate-limited health check run every poll cycle.
// Within CheckInterval of the previous check it reports healthy without
// touching the device. A fault repeated on two consecutive checks fires the
// repair sequence. A device clock stuck in 1970 is handled first: reboot on
// the first occurrence of the day, repair on later ones.
func (h *HealthMonitor) PeriodicCheck(ctx context.Context) (bool, error) {
	now := h.clock.Now()
	if !h.lastCheckedAt.IsZero() && now.Sub(h.lastCheckedAt) < h.cfg.CheckInterval {
		return true, nil
	}

	s, err := h.Session()
	if err != nil {
		return false, err
	}
	cdrStarted, err := s.ReadField(ctx, fieldCDRStarted)
	if err != nil {
		return false, err
	}
	if strings.HasPrefix(cdrStarted, clockFaultPrefix) {
		return false, h.recoverClockFault(ctx, now)
	}

	healthy, err := h.CheckHealth(ctx)
	if err != nil {
		return false, err
	}
	signature := ""
	if !healthy {
		signature = h.accounting.LastRegStatus()
	}

	if !healthy && signature == h.lastFault {
		unauthorized := h.lastVoIP == voipUnauthorized
		err := h.Repair(ctx)
		if unauthorized {
			h.accounting.SetLastErrorNotified(now)
		}
		if err != nil {
			return false, err
		}
		if err := h.openStatus(ctx); err != nil {
			return false, err
		}
		// a repaired device must fail twice again before the next repair
		signature = ""
	}

	h.lastFault = signature
	h.lastCheckedAt = now
	h.healthy = healthy
	h.heartbeat(now)
	slog.Info("Sleeping", "for", h.cfg.CheckInterval)
	if !healthy {
		slog.Error("Patient is not ok. Will check again soon.")
	}
	return healthy, nil
}

func (h *HealthMonitor) recoverClockFault(ctx context.Context, now time.Time) error {
	slog.Error("Have internal GoIP issue (1970 year at clock)")
	var err error
	if t, ok := h.accounting.LastCDRRestart(); ok && sameDay(t, now) {
		h.notifier.Send(ctx, msgClockRepair, false)
		err = h.Repair(ctx)
	} else {
		h.accounting.SetLastCDRRestart(now)
		h.notifier.Send(ctx, msgClockReboot, false)
		err = h.Reboot(ctx)
	}
	if err != nil {
		return err
	}
	if err := h.openStatus(ctx); err != nil {
		return err
	}
	h.healthy = false
	h.heartbeat(now)
	return nil
}

func (h *HealthMonitor) heartbeat(now time.Time) {
	h.accounting.SetMonitorHeartbeat(now)
	h.events.Publish(EventHealth, HealthEvent{
		Healthy:       h.healthy,
		LastRegStatus: h.accounting.LastRegStatus(),
		At:            now,
	})
}

func (h *HealthMonitor) openStatus(ctx context.Context) error {
	s, err := h.Session()
	if err != nil {
		return err
	}
	return s.OpenSection(ctx, sectionStatus)
}

// Reboot restarts the device and reconnects the session and the gateway
func (h *HealthMonitor) Reboot(ctx context.Context) error {
	slog.Info("Rebooting caller")
	s, err := h.Session()
	if err != nil {
		return err
	}
	h.gateway.Release()
	h.notifier.Send(ctx, msgRebooting, false)
	if err := s.GoRelative(ctx, "reboot.html"); err != nil {
		return fmt.Errorf("failed to trigger reboot: %w", err)
	}
	h.clock.Sleep(h.cfg.RebootSettle)
	if err := h.InitDevice(ctx, ""); err != nil {
		return err
	}
	h.InitGateway(ctx, true)
	slog.Info("Finished reboot")
	h.notifier.Send(ctx, msgRebooted, false)
	h.events.Publish(EventReboot, HealthEvent{Healthy: h.healthy, At: h.clock.Now()})
	return nil
}

// Repair resets the device configuration and applies the restore profile
func (h *HealthMonitor) Repair(ctx context.Context) error {
	status := h.accounting.LastRegStatus()
	slog.Info("Caller stopped working", "status", status)
	h.reportBeforeRepair(ctx, status)
	h.accounting.SetOverallCallsDuration(0)

	if err := h.resetConfig(ctx); err != nil {
		return err
	}
	if err := h.restoreConfig(ctx); err != nil {
		return err
	}

	healthy, err := h.CheckHealth(ctx)
	if err != nil {
		return err
	}
	if healthy {
		slog.Info("Caller is working now")
		h.notifier.Send(ctx, msgCallerFixed, false)
	} else {
		slog.Info("Caller is not working after fix")
		h.notifier.Send(ctx, msgCallerNotFixed, false)
	}
	h.events.Publish(EventRepair, HealthEvent{
		Healthy:       healthy,
		LastRegStatus: h.accounting.LastRegStatus(),
		At:            h.clock.Now(),
	})
	return nil
}

func (h *HealthMonitor) reportBeforeRepair(ctx context.Context, status string) {
	uptime := 0
	if s, err := h.Session(); err == nil {
		if v, err := s.UptimeSeconds(ctx); err != nil {
			slog.Warn("Failed to read uptime", "error", err)
		} else {
			uptime = v
		}
	}
	prefix := ""
	if status != "" {
		prefix = fmt.Sprintf(msgCallerDown, status)
	}
	talk := h.accounting.OverallCallsDuration()
	h.notifier.Send(ctx, fmt.Sprintf(msgCallerReport, prefix, formatDuration(uptime, false), formatDuration(talk, false)), false)
}

func (h *HealthMonitor) resetConfig(ctx context.Context) error {
	slog.Info("Resetting config")
	s, err := h.Session()
	if err != nil {
		return err
	}
	// SMPP is not started again after the configuration is reset
	h.gateway.Release()
	if err := s.GoRelative(ctx, "reset_config.html"); err != nil {
		return fmt.Errorf("failed to reset config: %w", err)
	}
	h.clock.Sleep(h.cfg.ResetSettle)
	return h.InitDevice(ctx, h.cfg.DefaultPassword)
}

func (h *HealthMonitor) restoreConfig(ctx context.Context) error {
	s, err := h.Session()
	if err != nil {
		return err
	}
	if err := h.cfg.Restore.Apply(ctx, s, h.cfg.RestoreCreds); err != nil {
		return err
	}
	h.clock.Sleep(h.cfg.PasswordSettle)
	if err := h.InitDevice(ctx, ""); err != nil {
		return err
	}
	h.InitGateway(ctx, false)
	h.accounting.IncreaseDailyRepairs(1)
	return nil
}
