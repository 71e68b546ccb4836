package internal

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseLineState(t *testing.T) {
	tests := []struct {
		raw     string
		want    CallState
		wantErr bool
	}{
		{"IDLE", StateIdle, false},
		{"ACTIVE", StateActive, false},
		{"ALERTING:0038099111222", StateAlerting, false},
		{"DIALING:0038099111222", StateDialing, false},
		{"DIALING", StateDialing, false},
		{"CONNECTED:0038099111222", StateConnected, false},
		{"RINGING", StateIdle, true},
		{"", StateIdle, true},
		{"idle", StateIdle, true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseLineState(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownLineState) {
					t.Fatalf("Expected ErrUnknownLineState for %q, got %v", tt.raw, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestParseCallNumber(t *testing.T) {
	tests := []struct {
		raw    string
		want   string
		wantOK bool
	}{
		{"DIALING:0038099111222", "+38099111222", true},
		{"CONNECTED:0038099111222", "+38099111222", true},
		{"ALERTING:+38099111222", "+38099111222", true},
		{"CONNECTED:0671234567", "0671234567", true},
		{"DIALING:", "", false},
		{"ACTIVE", "", false},
		{"IDLE", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := parseCallNumber(tt.raw)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("parseCallNumber(%q) = %q, %v; want %q, %v", tt.raw, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestObserveFullCall(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()
	m := rig.monitor

	steps := []string{
		"IDLE",
		"DIALING:0038099111222",
		"ALERTING:0038099111222",
		"CONNECTED:0038099111222",
		"IDLE",
	}
	for i, raw := range steps {
		if err := m.Observe(ctx, raw); err != nil {
			t.Fatalf("Observe(%q) failed: %v", raw, err)
		}
		rig.clock.Advance(20 * time.Second)
		if i == 3 && m.Session().CallStartedAt.IsZero() {
			t.Fatal("Expected call start to be recorded on CONNECTED")
		}
	}

	msgs := rig.notifier.messages()
	if rig.notifier.sends() != 1 {
		t.Fatalf("Expected exactly one new message for the call, got %d: %+v", rig.notifier.sends(), msgs)
	}
	if len(msgs) != 4 {
		t.Fatalf("Expected 4 notifications (1 send + 3 edits), got %d: %+v", len(msgs), msgs)
	}
	if msgs[0].Text != "Дзвоник до +38099111222" {
		t.Errorf("Unexpected dialing text: %q", msgs[0].Text)
	}
	for _, msg := range msgs[1:] {
		if !msg.Edit || msg.Ref != msgs[0].Ref {
			t.Errorf("Expected an edit of message %s, got %+v", msgs[0].Ref, msg)
		}
	}
	if msgs[2].Text != "Говоримо з +38099111222" {
		t.Errorf("Unexpected talking text: %q", msgs[2].Text)
	}
	if msgs[3].Text != "Дзвоник до +38099111222 - 20 сек" {
		t.Errorf("Unexpected call ended text: %q", msgs[3].Text)
	}

	if m.State() != StateIdle {
		t.Errorf("Expected final state IDLE, got %v", m.State())
	}
	if s := m.Session(); s != (CallSession{}) {
		t.Errorf("Expected session to be cleared, got %+v", s)
	}
	if got := rig.accounting.DailyOKCalls(); got != 1 {
		t.Errorf("Expected 1 successful call, got %d", got)
	}
	if got := rig.accounting.DailyCallsDuration(); got != 20 {
		t.Errorf("Expected 20 seconds of talk time, got %d", got)
	}
	if events := rig.events.ofKind(EventCall); len(events) != 1 {
		t.Errorf("Expected one call event, got %d", len(events))
	}
}

func TestFinishCallCountsFromCallStart(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()
	m := rig.monitor

	if err := m.Observe(ctx, "DIALING:0038099111222"); err != nil {
		t.Fatal(err)
	}
	rig.clock.Advance(5 * time.Second)
	if err := m.Observe(ctx, "CONNECTED:0038099111222"); err != nil {
		t.Fatal(err)
	}
	rig.clock.Advance(60 * time.Second)
	if err := m.Observe(ctx, "IDLE"); err != nil {
		t.Fatal(err)
	}

	if got := rig.accounting.DailyCallsDuration(); got != 60 {
		t.Errorf("Expected 60 seconds counted from call start, got %d", got)
	}
	if got := rig.accounting.DailyOKCalls(); got != 1 {
		t.Errorf("Expected success counter 1, got %d", got)
	}
	if got := rig.accounting.DailyFailedCalls(); got != 0 {
		t.Errorf("Expected failure counter 0, got %d", got)
	}
}

func TestFinishCallUnconnected(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()
	m := rig.monitor

	if err := m.Observe(ctx, "DIALING:0038099111222"); err != nil {
		t.Fatal(err)
	}
	rig.clock.Advance(45 * time.Second)
	if err := m.Observe(ctx, "IDLE"); err != nil {
		t.Fatal(err)
	}

	if got := rig.accounting.DailyFailedCalls(); got != 1 {
		t.Errorf("Expected failure counter 1, got %d", got)
	}
	if got := rig.accounting.DailyOKCalls(); got != 0 {
		t.Errorf("Expected success counter 0, got %d", got)
	}
	if got := rig.accounting.DailyCallsDuration(); got != 0 {
		t.Errorf("Expected no talk time, got %d", got)
	}

	msgs := rig.notifier.messages()
	last := msgs[len(msgs)-1]
	want := "Дзвоник до +38099111222" + failedCallRemarks[0]
	if last.Text != want {
		t.Errorf("Expected %q, got %q", want, last.Text)
	}
}

func TestObserveKeepsKnownNumber(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()
	m := rig.monitor

	if err := m.Observe(ctx, "DIALING:0038099111222"); err != nil {
		t.Fatal(err)
	}
	if err := m.Observe(ctx, "ALERTING"); err != nil {
		t.Fatal(err)
	}
	if got := m.Session().CallNumber; got != "+38099111222" {
		t.Errorf("Expected number to be kept, got %q", got)
	}
}

func TestObserveConnectedWithoutDialing(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()
	m := rig.monitor

	if err := m.Observe(ctx, "CONNECTED:0038099111222"); err != nil {
		t.Fatal(err)
	}
	s := m.Session()
	if s.DialingStartedAt.IsZero() || s.CallStartedAt.IsZero() {
		t.Fatalf("Expected both dialing and call start to be set, got %+v", s)
	}
	msgs := rig.notifier.messages()
	if len(msgs) != 1 || msgs[0].Text != "Говоримо з +38099111222" {
		t.Errorf("Expected only the talking notification, got %+v", msgs)
	}
}

func TestObserveBackToBackCalls(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()
	m := rig.monitor

	if err := m.Observe(ctx, "CONNECTED:0038099111222"); err != nil {
		t.Fatal(err)
	}
	rig.clock.Advance(30 * time.Second)
	if err := m.Observe(ctx, "CONNECTED:0038067333444"); err != nil {
		t.Fatal(err)
	}

	if got := rig.accounting.DailyOKCalls(); got != 1 {
		t.Errorf("Expected the first call to be finished, got %d ok calls", got)
	}
	if got := m.Session().LastCalledNumber; got != "+38067333444" {
		t.Errorf("Expected the second call to be tracked, got %q", got)
	}
}

func TestObserveUnknownState(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()

	err := rig.monitor.Observe(ctx, "BUSY")
	if !errors.Is(err, ErrUnknownLineState) {
		t.Fatalf("Expected ErrUnknownLineState, got %v", err)
	}
}

func TestRunCycleDefersRequestDuringCall(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()
	rig.connect(ctx)
	rig.session.set(fieldLineState, "CONNECTED:0038099111222")

	if _, err := rig.monitor.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	req := &OperatorRequest{Kind: RequestBalance}
	if err := rig.queue.Submit(ctx, req); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	rig.clock.Advance(2 * time.Second)
	interval, err := rig.monitor.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	if interval != 2*time.Second {
		t.Errorf("Expected the active interval during a call, got %v", interval)
	}
	if _, ok := rig.queue.Pending(); !ok {
		t.Fatal("Expected the balance request to wait for the call to end")
	}

	rig.session.set(fieldLineState, "IDLE")
	rig.clock.Advance(2 * time.Second)
	if _, err := rig.monitor.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	// the call ends during this cycle, the request goes on the next one
	if _, err := rig.monitor.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	if _, ok := rig.queue.Pending(); ok {
		t.Error("Expected the request to be processed once the line is idle")
	}
	history, _ := rig.queue.History(req.ID)
	last := history.Statuses[len(history.Statuses)-1]
	if last.Stage != StageDone {
		t.Errorf("Expected request to be done, got %+v", history.Statuses)
	}
}

func TestRunCycleRebootDuringCall(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()
	rig.connect(ctx)

	if err := rig.monitor.Observe(ctx, "CONNECTED:0038099111222"); err != nil {
		t.Fatal(err)
	}
	if err := rig.queue.Submit(ctx, &OperatorRequest{Kind: RequestReboot}); err != nil {
		t.Fatal(err)
	}
	rig.session.set(fieldLineState, "CONNECTED:0038099111222")

	if _, err := rig.monitor.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	if _, ok := rig.queue.Pending(); ok {
		t.Error("Expected reboot to run during a call")
	}
	if rig.session.count("go:reboot.html") != 1 {
		t.Errorf("Expected one reboot, got calls %v", rig.session.recorded())
	}
}

func TestRunCycleWaitsForAuthorisation(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()
	rig.connect(ctx)
	rig.session.mu.Lock()
	rig.session.authorized = false
	rig.session.mu.Unlock()
	logins := len(rig.device.passwords)

	if _, err := rig.monitor.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	rig.clock.Advance(4 * time.Minute)
	if _, err := rig.monitor.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	if len(rig.device.passwords) != logins {
		t.Fatal("Expected no new login within the grace period")
	}

	rig.clock.Advance(2 * time.Minute)
	if _, err := rig.monitor.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	if len(rig.device.passwords) != logins+1 {
		t.Errorf("Expected the session to be reinitialised after the grace period, got %d logins", len(rig.device.passwords)-logins)
	}
}

func TestRunCycleSendsSummaryOncePerDay(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()
	rig.connect(ctx)
	rig.clock.Set(time.Date(2024, time.March, 12, 23, 5, 0, 0, time.UTC))

	for i := 0; i < 3; i++ {
		if _, err := rig.monitor.RunCycle(ctx); err != nil {
			t.Fatalf("RunCycle failed: %v", err)
		}
		rig.clock.Advance(5 * time.Second)
	}

	summaries := 0
	for _, msg := range rig.notifier.messages() {
		if strings.HasPrefix(msg.Text, "Розмов") {
			summaries++
		}
	}
	if summaries != 1 {
		t.Errorf("Expected one daily summary, got %d", summaries)
	}
	if _, ok := rig.accounting.DailySummarySent(); !ok {
		t.Error("Expected the summary time to be stored")
	}
}

func TestRunReportsFaultOnce(t *testing.T) {
	rig := newTestRig()
	rig.connect(context.Background())
	rig.session.set(fieldLineState, "BUSY")

	ctx, cancel := context.WithCancel(context.Background())
	rig.monitor.cfg.IdleInterval = time.Second
	go func() {
		for {
			if len(rig.clock.Sleeps()) >= 3 {
				cancel()
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()
	err := rig.monitor.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}

	faults := 0
	for _, msg := range rig.notifier.messages() {
		if strings.HasPrefix(msg.Text, "Щось пішло не так") {
			faults++
		}
	}
	if faults != 1 {
		t.Errorf("Expected the repeated fault to be reported once, got %d", faults)
	}
}

func TestStartupGreeting(t *testing.T) {
	tests := []struct {
		name      string
		heartbeat time.Duration
		wantGreet bool
	}{
		{"recent restart", 5 * time.Minute, false},
		{"long outage", 2 * time.Hour, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rig := newTestRig()
			rig.accounting.SetMonitorHeartbeat(testStart.Add(-tt.heartbeat))
			rig.accounting.SetDailyCallsDuration(0)

			if err := rig.monitor.Startup(context.Background()); err != nil {
				t.Fatalf("Startup failed: %v", err)
			}
			got := rig.notifier.contains(greetingPhrases[0])
			if got != tt.wantGreet {
				t.Errorf("Expected greeting %v, got %v", tt.wantGreet, got)
			}
		})
	}
}

func TestStartupRollsOverStaleDay(t *testing.T) {
	rig := newTestRig()
	yesterday := NewAccounting(rig.accounting.store, NewFakeClock(testStart.Add(-24*time.Hour)))
	yesterday.SetDailyCallsDuration(120)
	rig.gateway.ussd[DefaultUSSDCodes.Balance] = "Na vashem schete 9.22 grn. Tarif 'Smart'. Nomer deystvitelen do 20.12.2024."

	if err := rig.monitor.Startup(context.Background()); err != nil {
		t.Fatalf("Startup failed: %v", err)
	}
	if got := rig.accounting.WeeklyCallsDuration(); got != 120 {
		t.Errorf("Expected yesterday's talk time in the weekly total, got %d", got)
	}
	if got := rig.accounting.DailyCallsDuration(); got != 0 {
		t.Errorf("Expected the daily counter to be reset, got %d", got)
	}
	if got := rig.accounting.OpeningBalance(); got != 9.22 {
		t.Errorf("Expected opening balance 9.22, got %v", got)
	}
}
