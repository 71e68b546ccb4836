package internal

import (
	"fmt"
	"strings"
	"time"
)

// CallState is the line state reported by the device status page
type CallState int

const (
	StateIdle      CallState = iota
	StateActive              // typing the number
	StateAlerting            // callee phone is ringing
	StateDialing             // request sent through the VoIP / GSM network
	StateConnected           // actually speaking with the number
)

func (s CallState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateActive:
		return "ACTIVE"
	case StateAlerting:
		return "ALERTING"
	case StateDialing:
		return "DIALING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// IsDialingPhase reports whether s lies between initiating a call and it connecting
func (s CallState) IsDialingPhase() bool {
	return s == StateActive || s == StateAlerting || s == StateDialing
}

// RequestKind identifies an operator-issued action
type RequestKind string

const (
	RequestBalance  RequestKind = "balance"
	RequestReboot   RequestKind = "reboot"
	RequestRepair   RequestKind = "repair"
	RequestSendSMS  RequestKind = "sms"
	RequestSendUSSD RequestKind = "ussd"
)

// ParseRequestKind validates a kind received from an operator channel
func ParseRequestKind(s string) (RequestKind, error) {
	switch k := RequestKind(strings.ToLower(strings.TrimSpace(s))); k {
	case RequestBalance, RequestReboot, RequestRepair, RequestSendSMS, RequestSendUSSD:
		return k, nil
	default:
		return "", fmt.Errorf("unknown request kind %q", s)
	}
}

// RunsDuringCall reports whether the request may run while the line is busy.
// Reboot and repair are confirmed by the operator upstream, everything else waits.
func (k RequestKind) RunsDuringCall() bool {
	return k == RequestReboot || k == RequestRepair
}

// OperatorRequest is a pending operator action with its reply context
type OperatorRequest struct {
	ID        string       `json:"id"`
	Kind      RequestKind  `json:"kind"`
	Number    string       `json:"number,omitempty"`
	Text      string       `json:"text,omitempty"`
	Code      string       `json:"code,omitempty"`
	Operator  string       `json:"operator,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	Reply     ReplyContext `json:"-"`
}

// Validate checks that the request carries the fields its kind needs
func (r *OperatorRequest) Validate() error {
	switch r.Kind {
	case RequestSendSMS:
		if strings.TrimSpace(r.Number) == "" || r.Text == "" {
			return fmt.Errorf("sms request needs number and text")
		}
	case RequestSendUSSD:
		if strings.TrimSpace(r.Code) == "" {
			return fmt.Errorf("ussd request needs a code")
		}
	case RequestBalance, RequestReboot, RequestRepair:
	default:
		return fmt.Errorf("unknown request kind %q", r.Kind)
	}
	return nil
}

// RequestStatus is one step of a request's lifecycle as seen by the operator
type RequestStatus struct {
	Stage string    `json:"stage"` // created, performing, result, done, error
	Text  string    `json:"text,omitempty"`
	At    time.Time `json:"at"`
}

// StatusSnapshot is the monitor state published after every poll cycle
type StatusSnapshot struct {
	State          string     `json:"state"`
	CallNumber     string     `json:"call_number,omitempty"`
	DialingStarted *time.Time `json:"dialing_started,omitempty"`
	CallStarted    *time.Time `json:"call_started,omitempty"`
	Healthy        bool       `json:"healthy"`
	LastRegStatus  string     `json:"last_reg_status"`
	PendingRequest string     `json:"pending_request,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// CountersResponse is the accounting view returned by the status endpoint
type CountersResponse struct {
	DailyCallsDuration   int        `json:"daily_calls_duration"`
	WeeklyCallsDuration  int        `json:"weekly_calls_duration"`
	OverallCallsDuration int        `json:"overall_calls_duration"`
	DailyRepairs         int        `json:"daily_repairs"`
	DailyOKCalls         int        `json:"daily_ok_calls"`
	DailyFailedCalls     int        `json:"daily_failed_calls"`
	OpeningBalance       float64    `json:"opening_balance"`
	Heartbeat            *time.Time `json:"heartbeat,omitempty"`
	DailySummarySent     *time.Time `json:"daily_summary_sent,omitempty"`
}

type StatusResponse struct {
	Monitor  *StatusSnapshot  `json:"monitor,omitempty"`
	Counters CountersResponse `json:"counters"`
}

type CreateRequestBody struct {
	Kind   string `json:"kind"`
	Number string `json:"number,omitempty"`
	Text   string `json:"text,omitempty"`
	Code   string `json:"code,omitempty"`
}

func (b CreateRequestBody) toRequest(operator string) (*OperatorRequest, error) {
	kind, err := ParseRequestKind(b.Kind)
	if err != nil {
		return nil, err
	}
	req := &OperatorRequest{
		Kind:     kind,
		Number:   normalizePhoneNumber(strings.TrimSpace(b.Number)),
		Text:     b.Text,
		Code:     strings.TrimSpace(b.Code),
		Operator: operator,
	}
	return req, req.Validate()
}

type CreateRequestResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error,omitempty"`
}

type RequestHistoryResponse struct {
	ID       string          `json:"id"`
	Kind     RequestKind     `json:"kind"`
	Pending  bool            `json:"pending"`
	Statuses []RequestStatus `json:"statuses"`
}

type Operator struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"` // Never send password hash to client
	CreatedAt    time.Time `json:"created_at"`
}

type Session struct {
	ID         string    `json:"id"`
	OperatorID string    `json:"operator_id"`
	Username   string    `json:"username"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Success  bool      `json:"success"`
	Operator *Operator `json:"operator,omitempty"`
	Session  *Session  `json:"session,omitempty"`
	Error    string    `json:"error,omitempty"`
}
