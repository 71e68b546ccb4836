package internal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/fiorix/go-smpp/smpp/pdu/pdutext"
)

// fakeUSSDDevice answers USSD posts and serves send_status.xml. The first
// pending polls report the request as not done yet.
type fakeUSSDDevice struct {
	mu       sync.Mutex
	key      string
	code     string
	sends    int
	polls    int
	pending  int
	response string
}

func (d *fakeUSSDDevice) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/default/en_US/sms_info.html", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("type") != "ussd" || r.Method != http.MethodPost {
			t.Errorf("Unexpected USSD request %s %s", r.Method, r.URL)
		}
		r.ParseForm()
		d.mu.Lock()
		d.key = r.PostForm.Get("smskey")
		d.code = r.PostForm.Get("telnum")
		d.sends++
		d.mu.Unlock()
	})
	mux.HandleFunc("/default/en_US/send_status.xml", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("u") != "admin" {
			t.Errorf("Expected credentials in the query, got %s", r.URL.RawQuery)
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		d.polls++
		status := "STARTED"
		if d.polls > d.pending {
			status = "DONE"
		}
		fmt.Fprintf(w, `<?xml version="1.0" encoding="utf-8"?><send-sms-status><id1>%s</id1><status1>%s</status1><error1>%s</error1></send-sms-status>`, d.key, status, d.response)
	})
	return mux
}

func (d *fakeUSSDDevice) counts() (sends, polls int, code string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sends, d.polls, d.code
}

func newTestGateway(srv *httptest.Server, clock Clock) *GoIPGateway {
	return &GoIPGateway{
		cfg: GatewayConfig{
			DeviceURL:     srv.URL,
			Username:      "admin",
			Password:      "secret",
			USSDPoll:      RetryPolicy{Tries: 5, Delay: 2 * time.Second, Backoff: 1},
			USSDRoundTrip: RetryPolicy{Tries: 2, Delay: 3 * time.Second, Backoff: 2},
		},
		http:     srv.Client(),
		notifier: &recordingNotifier{},
		clock:    clock,
		done:     make(chan struct{}),
	}
}

func TestSendUSSDPollsUntilDone(t *testing.T) {
	d := &fakeUSSDDevice{pending: 2, response: "Na vashem schete 9.22 grn."}
	srv := httptest.NewServer(d.handler(t))
	defer srv.Close()
	clock := NewFakeClock(testStart)
	g := newTestGateway(srv, clock)

	got, err := g.SendUSSD(context.Background(), "*101#")
	if err != nil {
		t.Fatalf("SendUSSD failed: %v", err)
	}
	if got != "Na vashem schete 9.22 grn." {
		t.Errorf("Unexpected response %q", got)
	}
	sends, polls, code := d.counts()
	if code != "*101#" || sends != 1 {
		t.Errorf("Expected one USSD request for *101#, got %d for %q", sends, code)
	}
	if polls != 3 {
		t.Errorf("Expected 3 polls, got %d", polls)
	}
	sleeps := clock.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != 2*time.Second || sleeps[1] != 2*time.Second {
		t.Errorf("Expected two poll delays of 2s, got %v", sleeps)
	}
}

func TestSendUSSDRepeatsRoundTrip(t *testing.T) {
	d := &fakeUSSDDevice{pending: 100}
	srv := httptest.NewServer(d.handler(t))
	defer srv.Close()
	g := newTestGateway(srv, NewFakeClock(testStart))

	_, err := g.SendUSSD(context.Background(), "*101*4#")
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("Expected the last transient error, got %v", err)
	}
	sends, polls, _ := d.counts()
	if sends != 2 {
		t.Errorf("Expected the request to be sent twice, got %d", sends)
	}
	if polls != 10 {
		t.Errorf("Expected 5 polls per round trip, got %d", polls)
	}
}

func TestPollUSSDTransientStates(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		pending  int
		response string
	}{
		{"other request", "99999", 0, "Balance"},
		{"not done", "12345", 1, ""},
		{"gsm logout", "12345", 0, "GSM_LOGOUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeUSSDDevice{key: tt.key, pending: tt.pending, response: tt.response}
			srv := httptest.NewServer(d.handler(t))
			defer srv.Close()
			g := newTestGateway(srv, NewFakeClock(testStart))

			_, err := g.pollUSSD(context.Background(), "*101#", "12345")
			if !errors.Is(err, ErrTransient) {
				t.Errorf("Expected ErrTransient, got %v", err)
			}
		})
	}
}

func TestGatewayCloseIsIdempotent(t *testing.T) {
	g := &GoIPGateway{done: make(chan struct{})}
	close(g.done)
	if err := g.Close(); err != nil {
		t.Errorf("Expected a closed gateway to close quietly, got %v", err)
	}
}

func TestDecodeShortMessage(t *testing.T) {
	ucs2 := pdutext.UCS2("Привіт, баланс 9.22").Encode()
	if got := decodeShortMessage(uint8(pdutext.UCS2Type), ucs2); got != "Привіт, баланс 9.22" {
		t.Errorf("Unexpected UCS2 decode %q", got)
	}
	if got := decodeShortMessage(0, []byte("Balance 9.22")); got != "Balance 9.22" {
		t.Errorf("Unexpected plain decode %q", got)
	}
	if got := decodeShortMessage(0, []byte{0xff, 0xfe, 0x00}); got != "" {
		t.Errorf("Expected invalid bytes to be dropped, got %q", got)
	}
}
