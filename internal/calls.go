package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// ErrUnknownLineState is returned for a line state the monitor has no
// policy for
var ErrUnknownLineState = errors.New("unknown raw status")

// ParseLineState maps the raw l1_line_state text to a CallState
func ParseLineState(raw string) (CallState, error) {
	switch {
	case raw == "IDLE":
		return StateIdle, nil
	case raw == "ACTIVE":
		return StateActive, nil
	case strings.HasPrefix(raw, "ALERTING"):
		return StateAlerting, nil
	case strings.HasPrefix(raw, "DIALING"):
		return StateDialing, nil
	case strings.HasPrefix(raw, "CONNECTED"):
		return StateConnected, nil
	}
	return StateIdle, fmt.Errorf("%w: %q", ErrUnknownLineState, raw)
}

func phaseTemplate(s CallState) string {
	switch s {
	case StateActive:
		return msgTyping
	case StateAlerting:
		return msgRinging
	default:
		return msgDialing
	}
}

// CallSession is the call currently in progress. The zero value means the
// line is idle.
type CallSession struct {
	DialingStartedAt time.Time
	CallStartedAt    time.Time
	CallNumber       string
	LastCalledNumber string
	// Phrase is the template of the last dialing phase notification
	Phrase string
	Ref    MessageRef
}

// InProgress reports whether dialing or talking has started
func (c *CallSession) InProgress() bool {
	return !c.DialingStartedAt.IsZero() || !c.CallStartedAt.IsZero()
}

// MonitorConfig tunes the polling loop
type MonitorConfig struct {
	IdleInterval   time.Duration
	ActiveInterval time.Duration
	// AuthGrace is how long an unauthorised session is waited out before
	// the device session is reinitialised
	AuthGrace time.Duration
	// SummaryHour is the local hour the daily summary goes out
	SummaryHour int
	// GreetingAfter is the heartbeat age that makes a restart worth a greeting
	GreetingAfter time.Duration
	Location      *time.Location
}

// CallMonitor drives the single polling loop: operator requests, the daily
// summary, device health and the call state machine, in that order.
type CallMonitor struct {
	cfg        MonitorConfig
	health     *HealthMonitor
	reporter   *Reporter
	accounting *Accounting
	queue      *RequestQueue
	notifier   Notifier
	events     Events
	clock      Clock
	pick       func(int) int

	state        CallState
	session      CallSession
	waitingSince time.Time
	summarySent  time.Time
	lastFault    string

	snapshot atomic.Pointer[StatusSnapshot]
}

func NewCallMonitor(cfg MonitorConfig, health *HealthMonitor, reporter *Reporter, accounting *Accounting, queue *RequestQueue, notifier Notifier, events Events, clock Clock) *CallMonitor {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if events == nil {
		events = NopEvents{}
	}
	m := &CallMonitor{
		cfg:        cfg,
		health:     health,
		reporter:   reporter,
		accounting: accounting,
		queue:      queue,
		notifier:   notifier,
		events:     events,
		clock:      clock,
	}
	m.summarySent, _ = accounting.DailySummarySent()
	return m
}

// Snapshot returns the state published after the last cycle
func (m *CallMonitor) Snapshot() (*StatusSnapshot, bool) {
	s := m.snapshot.Load()
	return s, s != nil
}

// Session returns a copy of the call in progress
func (m *CallMonitor) Session() CallSession {
	return m.session
}

// State returns the last observed line state
func (m *CallMonitor) State() CallState {
	return m.state
}

// Startup connects to the device and the gateway, starts a new accounting
// day when the last one is over and greets the operators after a long
// outage.
func (m *CallMonitor) Startup(ctx context.Context) error {
	if err := m.health.InitDevice(ctx, ""); err != nil {
		return err
	}
	m.health.InitGateway(ctx, false)

	if m.accounting.DailyCountersStale() {
		m.accounting.IncreaseWeeklyCallsDuration(m.accounting.DailyCallsDuration())
		m.reporter.ResetDaily(ctx)
	} else {
		slog.Info("Recent restart - do not reset daily calls duration")
	}

	if hb, ok := m.accounting.MonitorHeartbeat(); ok && m.clock.Now().Sub(hb) > m.cfg.GreetingAfter {
		m.notifier.Send(ctx, randomPhrase(greetingPhrases, m.pick), false)
	} else {
		slog.Info("Regular restart - no greeting was sent")
	}
	return nil
}

// Run loops until ctx is cancelled. A failing cycle is reported to the
// operators once per distinct fault and the loop carries on.
func (m *CallMonitor) Run(ctx context.Context) error {
	slog.Info("Started monitor")
	if s, err := m.health.Session(); err == nil {
		if err := s.OpenSection(ctx, sectionStatus); err != nil {
			slog.Error("Failed to open status page", "error", err)
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		interval := m.cfg.IdleInterval
		fault := Safe(func() error {
			var err error
			interval, err = m.RunCycle(ctx)
			return err
		}, func(err error) { m.reportFault(ctx, err) })
		if fault == nil {
			m.lastFault = ""
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.clock.Sleep(interval)
	}
}

func (m *CallMonitor) reportFault(ctx context.Context, err error) {
	text := fmt.Sprintf(msgLoopFault, err)
	if text == m.lastFault {
		return
	}
	m.lastFault = text
	m.notifier.Send(ctx, text, true)
}

// RunCycle runs one polling iteration and returns how long to sleep before
// the next one
func (m *CallMonitor) RunCycle(ctx context.Context) (time.Duration, error) {
	m.drainRequest(ctx)

	now := m.clock.Now().In(m.cfg.Location)
	if now.Hour() == m.cfg.SummaryHour && !m.session.InProgress() && !sameDay(m.summarySent, now) {
		m.summarySent = now
		m.accounting.SetDailySummarySent(now)
		m.notifier.Send(ctx, m.reporter.DailySummary(ctx, true), false)
	}

	interval := m.cfg.IdleInterval
	if m.session.InProgress() {
		interval = m.cfg.ActiveInterval
	}

	s, err := m.health.Session()
	if err != nil || !s.IsAuthorized(ctx) {
		if m.waitingSince.IsZero() {
			m.waitingSince = now
		}
		if now.Sub(m.waitingSince) <= m.cfg.AuthGrace {
			slog.Warn("Device session is not authorised")
			m.publish(now)
			return interval, nil
		}
		slog.Warn("Device session is still not authorised, reinitialising")
		m.waitingSince = time.Time{}
		if err := m.health.InitDevice(ctx, ""); err != nil {
			return interval, err
		}
		if s, err = m.health.Session(); err != nil {
			return interval, err
		}
	}
	m.waitingSince = time.Time{}

	if err := s.Refresh(ctx); err != nil {
		return interval, err
	}
	healthy, err := m.health.PeriodicCheck(ctx)
	if err != nil {
		return interval, err
	}
	if healthy {
		if err := m.Poll(ctx); err != nil {
			return interval, err
		}
	} else {
		slog.Info("GoIP monitor is not ok")
	}
	m.publish(now)
	return interval, nil
}

// drainRequest processes the pending operator request unless it has to
// wait for the line to go idle
func (m *CallMonitor) drainRequest(ctx context.Context) {
	req, ok := m.queue.Pending()
	if !ok {
		return
	}
	slog.Info("Has operator request", "id", req.ID, "kind", req.Kind)
	if m.session.InProgress() && !req.Kind.RunsDuringCall() {
		slog.Info("Could not process the request while in a call. Waiting...")
		return
	}
	if req.Kind.RunsDuringCall() {
		m.waitingSince = time.Time{}
	}
	if err := processRequest(ctx, m.queue, req, m.notifier, m.handleRequest); err != nil {
		slog.Warn("Operator request failed", "error", err)
	}
	if s, err := m.health.Session(); err == nil {
		if err := s.OpenSection(ctx, sectionStatus); err != nil {
			slog.Error("Failed to open status page", "error", err)
		}
	}
}

func (m *CallMonitor) handleRequest(ctx context.Context, req *OperatorRequest) (string, error) {
	switch req.Kind {
	case RequestBalance:
		return m.reporter.DailySummary(ctx, false), nil
	case RequestReboot:
		return "", m.health.Reboot(ctx)
	case RequestRepair:
		return "", m.health.Repair(ctx)
	case RequestSendSMS:
		g, err := m.health.Gateway()
		if err != nil {
			return "", err
		}
		return "", g.SendSMS(ctx, req.Number, req.Text)
	case RequestSendUSSD:
		g, err := m.health.Gateway()
		if err != nil {
			return "", err
		}
		m.notifier.Send(ctx, fmt.Sprintf(msgUSSDSending, req.Code), true)
		return g.SendUSSD(ctx, req.Code)
	}
	return "", fmt.Errorf("unknown request kind %q", req.Kind)
}

// Poll reads the line state from the device and advances the call state
// machine
func (m *CallMonitor) Poll(ctx context.Context) error {
	s, err := m.health.Session()
	if err != nil {
		return err
	}
	raw, err := s.ReadField(ctx, fieldLineState)
	if err != nil {
		return err
	}
	return m.Observe(ctx, raw)
}

// Observe advances the call state machine with one raw line state reading
func (m *CallMonitor) Observe(ctx context.Context, raw string) error {
	state, err := ParseLineState(raw)
	if err != nil {
		return err
	}
	changed := state != m.state
	m.state = state
	number, hasNumber := parseCallNumber(raw)

	switch {
	case state == StateIdle:
		if m.session.InProgress() {
			m.finishCall(ctx)
		}
	case state.IsDialingPhase():
		slog.Info("Monitor call status", "status", state)
		if hasNumber {
			m.session.CallNumber = number
		}
		m.startDialing(ctx, state, changed)
	case state == StateConnected:
		slog.Info("Monitor call status", "status", state)
		// the previous call ended and a new one started between two polls
		if !m.session.CallStartedAt.IsZero() && hasNumber && number != m.session.LastCalledNumber {
			m.finishCall(ctx)
		}
		if hasNumber {
			m.session.CallNumber = number
		}
		if m.session.DialingStartedAt.IsZero() {
			m.startDialing(ctx, StateDialing, false)
		}
		if m.session.CallStartedAt.IsZero() {
			slog.Info("Started call", "number", m.session.CallNumber)
			m.message(ctx, fmt.Sprintf(msgTalking, m.session.CallNumber))
			m.session.CallStartedAt = m.clock.Now()
			m.session.LastCalledNumber = m.session.CallNumber
		}
	}
	return nil
}

func (m *CallMonitor) startDialing(ctx context.Context, phase CallState, notify bool) {
	if m.session.DialingStartedAt.IsZero() {
		m.session.DialingStartedAt = m.clock.Now()
	}
	m.session.Phrase = phaseTemplate(phase)
	if notify {
		slog.Info("Start call", "phase", phase)
		m.message(ctx, m.session.Phrase)
	}
}

func (m *CallMonitor) anyCallNumber() string {
	if m.session.LastCalledNumber != "" {
		return m.session.LastCalledNumber
	}
	if m.session.CallNumber != "" {
		return m.session.CallNumber
	}
	return msgUnknownCallee
}

// message edits the notification of the current call or starts a new one
func (m *CallMonitor) message(ctx context.Context, template string) {
	text := strings.ReplaceAll(template, "{number}", m.anyCallNumber())
	if m.session.Ref != "" {
		m.session.Ref = m.notifier.Edit(ctx, m.session.Ref, text)
		return
	}
	m.session.Ref = m.notifier.Send(ctx, text, false)
}

func (m *CallMonitor) finishCall(ctx context.Context) {
	number := m.anyCallNumber()
	started := m.session.CallStartedAt
	connected := !started.IsZero()
	if !connected {
		started = m.session.DialingStartedAt
	}
	seconds := int(m.clock.Now().Sub(started).Seconds())
	duration := formatDuration(seconds, seconds > 3600)
	slog.Info("Call ended", "number", number, "seconds", seconds, "connected", connected)

	var text string
	if connected {
		text = fmt.Sprintf(msgCallEnded, number, duration)
		m.accounting.IncreaseDailyCallsDuration(seconds)
		m.accounting.IncreaseDailyOKCalls(1)
	} else {
		text = msgProbablyFailed
		if m.session.Phrase != "" {
			text = m.session.Phrase + randomPhrase(failedCallRemarks, m.pick)
		}
		m.accounting.IncreaseDailyFailedCalls(1)
	}
	m.message(ctx, text)
	m.events.Publish(EventCall, CallEvent{Number: number, Connected: connected, Seconds: seconds, At: m.clock.Now()})
	m.session = CallSession{}
}

func (m *CallMonitor) publish(now time.Time) {
	snap := &StatusSnapshot{
		State:         m.state.String(),
		CallNumber:    m.session.CallNumber,
		Healthy:       m.health.Healthy(),
		LastRegStatus: m.accounting.LastRegStatus(),
		UpdatedAt:     now,
	}
	if t := m.session.DialingStartedAt; !t.IsZero() {
		snap.DialingStarted = &t
	}
	if t := m.session.CallStartedAt; !t.IsZero() {
		snap.CallStarted = &t
	}
	if req, ok := m.queue.Pending(); ok {
		snap.PendingRequest = req.ID
	}
	m.snapshot.Store(snap)
}
