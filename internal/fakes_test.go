package internal

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
)

var testStart = time.Date(2024, time.March, 12, 10, 0, 0, 0, time.UTC)

// fakeSession is a scripted DeviceSession. Fields are read from a map and
// every mutating call is recorded in calls.
type fakeSession struct {
	mu         sync.Mutex
	fields     map[string]string
	authorized bool
	uptime     int
	calls      []string
	closed     bool
	failOn     string
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		fields: map[string]string{
			fieldSIMStatus:  "Y",
			fieldGSMStatus:  "Y",
			fieldVoIPStatus: "Y",
			fieldLineState:  "IDLE",
			fieldCDRStarted: "2024-03-12 09:00:00",
		},
		authorized: true,
	}
}

func (s *fakeSession) record(call string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
	if s.failOn != "" && s.failOn == call {
		return fmt.Errorf("scripted failure on %s", call)
	}
	return nil
}

func (s *fakeSession) set(id, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields[id] = value
}

func (s *fakeSession) recorded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *fakeSession) count(call string) int {
	n := 0
	for _, c := range s.recorded() {
		if c == call {
			n++
		}
	}
	return n
}

func (s *fakeSession) IsAuthorized(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authorized
}

func (s *fakeSession) Refresh(ctx context.Context) error { return nil }

func (s *fakeSession) ReadField(ctx context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.fields[id]
	if !ok {
		return "", fmt.Errorf("element %q not found", id)
	}
	return v, nil
}

func (s *fakeSession) OpenSection(ctx context.Context, name string) error {
	return s.record("open:" + name)
}

func (s *fakeSession) SetField(ctx context.Context, id, value string) error {
	return s.record("set:" + id + "=" + value)
}

func (s *fakeSession) ClickAction(ctx context.Context, id string) error {
	return s.record("click:" + id)
}

func (s *fakeSession) Save(ctx context.Context) error { return s.record("save") }

func (s *fakeSession) UptimeSeconds(ctx context.Context) (int, error) { return s.uptime, nil }

func (s *fakeSession) CurrentURL() string { return "http://goip.test/default/en_US/status.html" }

func (s *fakeSession) GoRelative(ctx context.Context, path string) error {
	return s.record("go:" + path)
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// fakeDevice hands out sessions and remembers the passwords used
type fakeDevice struct {
	session   *fakeSession
	rejected  map[string]bool
	passwords []string
}

func (d *fakeDevice) factory() SessionFactory {
	return func(ctx context.Context, creds DeviceCredentials) (DeviceSession, error) {
		d.passwords = append(d.passwords, creds.Password)
		if d.rejected[creds.Password] {
			return nil, fmt.Errorf("login as %s: %w", creds.Username, ErrNotLoggedIn)
		}
		return d.session, nil
	}
}

type fakeGateway struct {
	mu     sync.Mutex
	ussd   map[string]string
	sms    []string
	codes  []string
	closed int
	smsErr error
}

func (g *fakeGateway) SendSMS(ctx context.Context, number, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sms = append(g.sms, number+": "+text)
	return g.smsErr
}

func (g *fakeGateway) SendUSSD(ctx context.Context, code string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.codes = append(g.codes, code)
	resp, ok := g.ussd[code]
	if !ok {
		return "", errors.New("no response")
	}
	return resp, nil
}

func (g *fakeGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed++
	return nil
}

// sentMessage is one Send or Edit seen by recordingNotifier
type sentMessage struct {
	Ref  MessageRef
	Text string
	Edit bool
}

type recordingNotifier struct {
	mu   sync.Mutex
	seq  int
	msgs []sentMessage
}

func (n *recordingNotifier) Send(ctx context.Context, text string, escape bool) MessageRef {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seq++
	ref := MessageRef(strconv.Itoa(n.seq))
	n.msgs = append(n.msgs, sentMessage{Ref: ref, Text: text})
	return ref
}

func (n *recordingNotifier) Edit(ctx context.Context, ref MessageRef, text string) MessageRef {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, sentMessage{Ref: ref, Text: text, Edit: true})
	return ref
}

func (n *recordingNotifier) messages() []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]sentMessage, len(n.msgs))
	copy(out, n.msgs)
	return out
}

func (n *recordingNotifier) sends() int {
	count := 0
	for _, m := range n.messages() {
		if !m.Edit {
			count++
		}
	}
	return count
}

func (n *recordingNotifier) contains(text string) bool {
	for _, m := range n.messages() {
		if m.Text == text {
			return true
		}
	}
	return false
}

type publishedEvent struct {
	Kind    string
	Payload any
}

type recordingEvents struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (e *recordingEvents) Publish(kind string, payload any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, publishedEvent{Kind: kind, Payload: payload})
}

func (e *recordingEvents) ofKind(kind string) []any {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []any
	for _, ev := range e.events {
		if ev.Kind == kind {
			out = append(out, ev.Payload)
		}
	}
	return out
}

// testRig wires a health monitor, reporter and call monitor over fakes
type testRig struct {
	clock      *FakeClock
	session    *fakeSession
	device     *fakeDevice
	gateway    *fakeGateway
	notifier   *recordingNotifier
	events     *recordingEvents
	accounting *Accounting
	queue      *RequestQueue
	health     *HealthMonitor
	reporter   *Reporter
	monitor    *CallMonitor
	gateways   int
}

func newTestRig() *testRig {
	r := &testRig{
		clock:    NewFakeClock(testStart),
		session:  newFakeSession(),
		gateway:  &fakeGateway{ussd: map[string]string{}},
		notifier: &recordingNotifier{},
		events:   &recordingEvents{},
	}
	r.device = &fakeDevice{session: r.session, rejected: map[string]bool{}}
	r.accounting = NewAccounting(NewMemoryStore(), r.clock)
	r.queue = NewRequestQueue(r.clock)

	healthCfg := HealthConfig{
		CheckInterval:   10 * time.Minute,
		RebootSettle:    30 * time.Second,
		ResetSettle:     20 * time.Second,
		PasswordSettle:  10 * time.Second,
		Device:          DeviceCredentials{URL: "http://goip.test", Username: "admin", Password: "secret"},
		DefaultPassword: "admin",
		Restore: RestoreProfile{Steps: []RestoreStep{{
			Section: "Basic VoIP",
			Fields:  []FieldValue{{"sip_auth_id", "{sip_login}"}},
			Save:    true,
		}}},
		RestoreCreds: RestoreCredentials{SIPLogin: "100200"},
	}
	newGateway := func(ctx context.Context, notifyUp bool) (MessagingGateway, error) {
		r.gateways++
		return r.gateway, nil
	}
	r.health = NewHealthMonitor(healthCfg, r.accounting, r.notifier, r.events, r.clock, r.device.factory(), newGateway)

	parser, err := NewUSSDParser(DefaultUSSDPatterns)
	if err != nil {
		panic(err)
	}
	r.reporter = NewReporter(ReporterConfig{
		Codes:          DefaultUSSDCodes,
		WeekBoundary:   time.Sunday,
		LowBalanceDays: 10,
		Location:       time.UTC,
	}, parser, r.accounting, r.health.Gateway, r.events, r.clock)

	r.monitor = NewCallMonitor(MonitorConfig{
		IdleInterval:   5 * time.Second,
		ActiveInterval: 2 * time.Second,
		AuthGrace:      5 * time.Minute,
		SummaryHour:    23,
		GreetingAfter:  30 * time.Minute,
		Location:       time.UTC,
	}, r.health, r.reporter, r.accounting, r.queue, r.notifier, r.events, r.clock)
	r.monitor.pick = func(int) int { return 0 }
	return r
}

// connect opens the device session and the gateway the way Startup does
func (r *testRig) connect(ctx context.Context) {
	if err := r.health.InitDevice(ctx, ""); err != nil {
		panic(err)
	}
	r.health.InitGateway(ctx, false)
}
