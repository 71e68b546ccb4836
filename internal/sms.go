package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fiorix/go-smpp/smpp"
	"github.com/fiorix/go-smpp/smpp/pdu"
	"github.com/fiorix/go-smpp/smpp/pdu/pdufield"
	"github.com/fiorix/go-smpp/smpp/pdu/pdutext"
)

// ErrGatewayDown is returned when SMS or USSD is requested without a live gateway
var ErrGatewayDown = errors.New("SMS module is down")

// MessagingGateway sends SMS and USSD through the device's GSM line
type MessagingGateway interface {
	SendSMS(ctx context.Context, number, text string) error
	// SendUSSD returns the carrier's response text, retried internally
	SendUSSD(ctx context.Context, code string) (string, error)
	Close() error
}

// GatewayFactory connects a new gateway. notifyUp asks it to report a
// successful start to the operators.
type GatewayFactory func(ctx context.Context, notifyUp bool) (MessagingGateway, error)

// GatewayConfig addresses the SMPP server and the USSD pages of the device
type GatewayConfig struct {
	DeviceURL   string
	Username    string
	Password    string
	SMPPPort    int
	SMPPUser    string
	SMPPSecret  string
	SenderPhone string
	BindTimeout time.Duration
	// USSDPoll schedules polling of send_status.xml for one USSD request
	USSDPoll RetryPolicy
	// USSDRoundTrip schedules repeating the whole USSD request
	USSDRoundTrip RetryPolicy
}

const (
	ussdSendPath   = "/default/en_US/sms_info.html?type=ussd"
	ussdStatusPath = "/default/en_US/send_status.xml"
	ucs2MaxLen     = 70
)

// GoIPGateway uses the device's built-in SMPP server for SMS and its web
// interface for USSD
type GoIPGateway struct {
	cfg      GatewayConfig
	tx       *smpp.Transceiver
	http     *http.Client
	notifier Notifier
	clock    Clock
	done     chan struct{}
}

// NewGoIPGatewayFactory returns a GatewayFactory dialing GoIPGateways
func NewGoIPGatewayFactory(cfg GatewayConfig, notifier Notifier, clock Clock) GatewayFactory {
	return func(ctx context.Context, notifyUp bool) (MessagingGateway, error) {
		return DialGoIPGateway(ctx, cfg, notifier, clock, notifyUp)
	}
}

// DialGoIPGateway binds an SMPP transceiver to the device and starts
// listening for inbound SMS
func DialGoIPGateway(ctx context.Context, cfg GatewayConfig, notifier Notifier, clock Clock, notifyUp bool) (*GoIPGateway, error) {
	base, err := url.Parse(cfg.DeviceURL)
	if err != nil {
		return nil, fmt.Errorf("invalid device url: %w", err)
	}
	if cfg.BindTimeout == 0 {
		cfg.BindTimeout = 10 * time.Second
	}
	if cfg.USSDPoll.Tries == 0 {
		cfg.USSDPoll = DefaultRetryPolicy
	}
	if cfg.USSDRoundTrip.Tries == 0 {
		cfg.USSDRoundTrip = DefaultRetryPolicy
	}

	g := &GoIPGateway{
		cfg:      cfg,
		http:     &http.Client{Timeout: 30 * time.Second},
		notifier: notifier,
		clock:    clock,
		done:     make(chan struct{}),
	}
	g.tx = &smpp.Transceiver{
		Addr:    net.JoinHostPort(base.Hostname(), strconv.Itoa(cfg.SMPPPort)),
		User:    cfg.SMPPUser,
		Passwd:  cfg.SMPPSecret,
		Handler: g.handlePDU,
	}

	slog.Info("SMS monitoring started", "addr", g.tx.Addr)
	status := g.tx.Bind()
	select {
	case st := <-status:
		if st.Status() != smpp.Connected {
			g.tx.Close()
			notifier.Send(ctx, msgSMSDown, false)
			return nil, fmt.Errorf("SMS module is down: %v: %w", st.Error(), ErrGatewayDown)
		}
	case <-time.After(cfg.BindTimeout):
		g.tx.Close()
		notifier.Send(ctx, msgSMSDown, false)
		return nil, fmt.Errorf("SMS module bind timed out: %w", ErrGatewayDown)
	case <-ctx.Done():
		g.tx.Close()
		return nil, ctx.Err()
	}
	go g.watch(status)

	slog.Info("SMS monitoring is listening")
	if notifyUp {
		notifier.Send(ctx, msgSMSUp, false)
	}
	return g, nil
}

func (g *GoIPGateway) watch(status <-chan smpp.ConnStatus) {
	for {
		select {
		case <-g.done:
			return
		case st, ok := <-status:
			if !ok {
				return
			}
			slog.Info("SMPP connection status changed", "status", st.Status().String(), "error", st.Error())
		}
	}
}

func (g *GoIPGateway) handlePDU(p pdu.Body) {
	if p.Header().ID != pdu.DeliverSMID {
		return
	}
	fields := p.Fields()
	from := ""
	if f := fields[pdufield.SourceAddr]; f != nil {
		from = f.String()
	}
	var coding uint8
	if f := fields[pdufield.DataCoding]; f != nil {
		coding, _ = f.Raw().(uint8)
	}
	var content string
	if f := fields[pdufield.ShortMessage]; f != nil {
		content = decodeShortMessage(coding, f.Bytes())
	}
	if content == "" {
		content = "<empty>"
	}
	slog.Info("Received SMS", "from", from, "content", content)
	g.notifier.Send(context.Background(), fmt.Sprintf(msgSMSReceived, from, content), true)
}

func decodeShortMessage(coding uint8, raw []byte) string {
	if coding == uint8(pdutext.UCS2Type) {
		return string(pdutext.UCS2(raw).Decode())
	}
	if !utf8.Valid(raw) {
		slog.Error("Failed to decode SMS message", "contents", raw)
		return ""
	}
	return string(raw)
}

func (g *GoIPGateway) SendSMS(ctx context.Context, number, text string) error {
	slog.Info("Send SMS", "number", number, "message", text)
	g.notifier.Send(ctx, fmt.Sprintf(msgSMSSending, number, text), true)

	sm := &smpp.ShortMessage{
		Src:           g.cfg.SenderPhone,
		Dst:           number,
		Text:          pdutext.UCS2(text),
		Register:      pdufield.FinalDeliveryReceipt,
		SourceAddrTON: 1,
		DestAddrTON:   1,
	}
	var err error
	if utf8.RuneCountInString(text) > ucs2MaxLen {
		_, err = g.tx.SubmitLongMsg(sm)
	} else {
		_, err = g.tx.Submit(sm)
	}
	if err != nil {
		slog.Error("Error sending SMS", "number", number, "error", err)
		g.notifier.Send(ctx, msgSMSFailed, false)
		return fmt.Errorf("failed to send SMS to %s: %w", number, err)
	}
	slog.Info("SMS sent successfully", "number", number)
	g.notifier.Send(ctx, msgSMSSent, false)
	return nil
}

func (g *GoIPGateway) SendUSSD(ctx context.Context, code string) (string, error) {
	return RetryUntil(ctx, g.clock, g.cfg.USSDRoundTrip, func(ctx context.Context) (string, error) {
		return g.ussdRoundTrip(ctx, code)
	})
}

func (g *GoIPGateway) ussdRoundTrip(ctx context.Context, code string) (string, error) {
	key := strconv.Itoa(10000 + rand.Intn(990000))
	form := url.Values{
		"line1":  {"1"},
		"smskey": {key},
		"action": {"USSD"},
		"telnum": {code},
		"send":   {"Send"},
	}
	target := strings.TrimRight(g.cfg.DeviceURL, "/") + ussdSendPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(g.cfg.Username, g.cfg.Password)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := g.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send USSD %s: %w", code, err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	return WithRetry(ctx, g.clock, g.cfg.USSDPoll, func(ctx context.Context) (string, error) {
		return g.pollUSSD(ctx, code, key)
	})
}

// pollUSSD reads the response of the USSD request identified by key.
// Everything that may resolve itself on the next poll is ErrTransient.
func (g *GoIPGateway) pollUSSD(ctx context.Context, code, key string) (string, error) {
	q := url.Values{"u": {g.cfg.Username}, "p": {g.cfg.Password}}
	target := strings.TrimRight(g.cfg.DeviceURL, "/") + ussdStatusPath + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(g.cfg.Username, g.cfg.Password)
	resp, err := g.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to read USSD status: %v: %w", err, ErrTransient)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read USSD status: %v: %w", err, ErrTransient)
	}

	status, err := parseSendStatus(body)
	if err != nil {
		return "", fmt.Errorf("%v: %w", err, ErrTransient)
	}
	if status.Key != key {
		return "", fmt.Errorf("didn't find the proper key in the USSD response (expected=%q, got=%q): %w", key, status.Key, ErrTransient)
	}
	if !status.Done {
		slog.Info("Waiting for the USSD response", "code", code)
		return "", fmt.Errorf("USSD response is not ready: %w", ErrTransient)
	}
	if strings.Contains(status.Response, "GSM_LOGOUT") {
		return "", fmt.Errorf("GSM module is not ready yet: %w", ErrTransient)
	}
	slog.Info("Received USSD response", "code", code, "response", status.Response)
	return status.Response, nil
}

func (g *GoIPGateway) Close() error {
	slog.Info("Disconnecting the SMPP client")
	select {
	case <-g.done:
		return nil
	default:
		close(g.done)
	}
	return g.tx.Close()
}
