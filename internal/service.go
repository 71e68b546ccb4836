package internal

import (
	"context"
	"errors"
	"log/slog"
)

// MonitorService runs the call monitor loop in the background
type MonitorService struct {
	monitor    *CallMonitor
	health     *HealthMonitor
	notifier   Notifier
	cancelFunc context.CancelFunc
	ctx        context.Context
	done       chan struct{}
}

// NewMonitorService creates a new monitor service
func NewMonitorService(monitor *CallMonitor, health *HealthMonitor, notifier Notifier) *MonitorService {
	ctx, cancel := context.WithCancel(context.Background())
	return &MonitorService{
		monitor:    monitor,
		health:     health,
		notifier:   notifier,
		cancelFunc: cancel,
		ctx:        ctx,
		done:       make(chan struct{}),
	}
}

// Start connects to the device and begins the polling loop. Startup
// failures are returned, loop faults are handled inside the loop.
func (s *MonitorService) Start() error {
	slog.Info("Starting monitor service")
	if err := s.monitor.Startup(s.ctx); err != nil {
		close(s.done)
		s.notifier.Send(context.Background(), msgCrashed, false)
		return err
	}

	go func() {
		defer close(s.done)
		err := Safe(func() error {
			return s.monitor.Run(s.ctx)
		}, func(err error) {
			if !errors.Is(err, context.Canceled) {
				s.notifier.Send(context.Background(), msgCrashed, false)
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("Monitor loop exited", "error", err)
		}
		slog.Info("Monitor service stopped")
	}()
	return nil
}

// Done is closed when the loop has exited
func (s *MonitorService) Done() <-chan struct{} {
	return s.done
}

// Stop cancels the loop, waits for the current cycle to finish and
// releases the device session and the gateway
func (s *MonitorService) Stop() {
	slog.Info("Stopping monitor service")
	s.cancelFunc()
	<-s.done
	s.health.Close()
}
