package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Event kinds published by the monitor
const (
	EventHealth  = "health"
	EventReboot  = "reboot"
	EventRepair  = "repair"
	EventCall    = "call"
	EventSummary = "summary"
)

// Events receives monitor events. Publishing never blocks the loop and
// never fails it.
type Events interface {
	Publish(kind string, payload any)
}

// NopEvents drops every event
type NopEvents struct{}

func (NopEvents) Publish(string, any) {}

type HealthEvent struct {
	Healthy       bool      `json:"healthy"`
	LastRegStatus string    `json:"last_reg_status,omitempty"`
	At            time.Time `json:"at"`
}

type CallEvent struct {
	Number    string    `json:"number"`
	Connected bool      `json:"connected"`
	Seconds   int       `json:"seconds"`
	At        time.Time `json:"at"`
}

type SummaryEvent struct {
	Text      string    `json:"text"`
	Scheduled bool      `json:"scheduled"`
	At        time.Time `json:"at"`
}

// NATSBridge feeds operator requests from a NATS subject into the request
// queue and publishes monitor events on <prefix>.<kind>
type NATSBridge struct {
	nc          *nats.Conn
	sub         *nats.Subscription
	eventPrefix string
}

// ConnectNATS connects to the server at url
func ConnectNATS(url, eventPrefix string) (*NATSBridge, error) {
	nc, err := nats.Connect(url,
		nats.Name("goipwatch"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	slog.Info("Connected to NATS", "url", url)
	return &NATSBridge{nc: nc, eventPrefix: eventPrefix}, nil
}

func (b *NATSBridge) Publish(kind string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Failed to encode event", "kind", kind, "error", err)
		return
	}
	if err := b.nc.Publish(b.eventPrefix+"."+kind, data); err != nil {
		slog.Error("Failed to publish event", "kind", kind, "error", err)
	}
}

// ServeRequests subscribes to subject. Each message carries a
// CreateRequestBody; lifecycle updates go to the message's reply inbox.
func (b *NATSBridge) ServeRequests(ctx context.Context, subject string, queue *RequestQueue) error {
	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		b.handleRequest(ctx, msg, queue)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	b.sub = sub
	slog.Info("Listening for operator requests", "subject", subject)
	return nil
}

func (b *NATSBridge) handleRequest(ctx context.Context, msg *nats.Msg, queue *RequestQueue) {
	reply := &natsReply{nc: b.nc, inbox: msg.Reply}

	var body CreateRequestBody
	if err := json.Unmarshal(msg.Data, &body); err != nil {
		slog.Warn("Invalid request on NATS", "error", err)
		reply.Reply(ctx, StageError, err.Error())
		return
	}
	req, err := body.toRequest("nats")
	if err == nil {
		req.Reply = reply
		err = queue.Submit(ctx, req)
	}
	if err != nil {
		slog.Warn("Rejected NATS request", "kind", body.Kind, "error", err)
		reply.Reply(ctx, StageError, err.Error())
	}
}

func (b *NATSBridge) Close() error {
	if b.sub != nil {
		if err := b.sub.Unsubscribe(); err != nil {
			slog.Warn("Failed to unsubscribe", "error", err)
		}
	}
	return b.nc.Drain()
}

type natsReply struct {
	nc    *nats.Conn
	inbox string
}

func (r *natsReply) Reply(ctx context.Context, stage, text string) {
	if r.inbox == "" {
		return
	}
	data, err := json.Marshal(RequestStatus{Stage: stage, Text: text, At: time.Now()})
	if err != nil {
		return
	}
	if err := r.nc.Publish(r.inbox, data); err != nil {
		slog.Warn("Failed to publish request status", "stage", stage, "error", err)
	}
}
