package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// ErrRequestPending is returned when a request arrives while another one
// is still waiting or being processed
var ErrRequestPending = errors.New("another request is being processed")

// Request lifecycle stages reported back to the operator
const (
	StageCreated    = "created"
	StagePerforming = "performing"
	StageResult     = "result"
	StageDone       = "done"
	StageError      = "error"
)

const requestHistoryLimit = 100

// ReplyContext routes lifecycle messages back to whoever issued a request.
// The monitor never looks inside it.
type ReplyContext interface {
	Reply(ctx context.Context, stage, text string)
}

// NotifierReply answers in the operators' chat, editing its first message
// for every following stage
type NotifierReply struct {
	notifier Notifier
	mu       sync.Mutex
	ref      MessageRef
}

func NewNotifierReply(n Notifier) *NotifierReply {
	return &NotifierReply{notifier: n}
}

func (r *NotifierReply) Reply(ctx context.Context, stage, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// results are posted separately by the processor
	if stage == StageResult {
		return
	}
	if r.ref == "" {
		r.ref = r.notifier.Send(ctx, text, false)
		return
	}
	r.ref = r.notifier.Edit(ctx, r.ref, text)
}

type requestRecord struct {
	kind     RequestKind
	statuses []RequestStatus
}

// RequestQueue is the single pending-request slot shared between the
// operator channels and the monitor loop. Only the loop takes requests out.
type RequestQueue struct {
	clock Clock

	mu      sync.Mutex
	pending *OperatorRequest
	history map[string]*requestRecord
	order   []string
}

func NewRequestQueue(clock Clock) *RequestQueue {
	return &RequestQueue{
		clock:   clock,
		history: make(map[string]*requestRecord),
	}
}

// Submit validates req and places it in the slot
func (q *RequestQueue) Submit(ctx context.Context, req *OperatorRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	q.mu.Lock()
	if q.pending != nil {
		q.mu.Unlock()
		return ErrRequestPending
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = q.clock.Now()
	}
	req.Reply = &recordingReply{queue: q, id: req.ID, next: req.Reply}
	q.pending = req
	q.history[req.ID] = &requestRecord{kind: req.Kind}
	q.order = append(q.order, req.ID)
	if len(q.order) > requestHistoryLimit {
		delete(q.history, q.order[0])
		q.order = q.order[1:]
	}
	q.mu.Unlock()

	slog.Info("Operator request created", "id", req.ID, "kind", req.Kind, "operator", req.Operator)
	req.Reply.Reply(ctx, StageCreated, msgRequestCreated)
	return nil
}

// Pending returns the request in the slot without removing it
func (q *RequestQueue) Pending() (*OperatorRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending, q.pending != nil
}

// Clear empties the slot if it still holds the request with the given id
func (q *RequestQueue) Clear(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending != nil && q.pending.ID == id {
		q.pending = nil
	}
}

// History returns the lifecycle of a recent request
func (q *RequestQueue) History(id string) (RequestHistoryResponse, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	rec, ok := q.history[id]
	if !ok {
		return RequestHistoryResponse{}, false
	}
	statuses := make([]RequestStatus, len(rec.statuses))
	copy(statuses, rec.statuses)
	return RequestHistoryResponse{
		ID:       id,
		Kind:     rec.kind,
		Pending:  q.pending != nil && q.pending.ID == id,
		Statuses: statuses,
	}, true
}

func (q *RequestQueue) record(id, stage, text string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if rec, ok := q.history[id]; ok {
		rec.statuses = append(rec.statuses, RequestStatus{Stage: stage, Text: text, At: q.clock.Now()})
	}
}

type recordingReply struct {
	queue *RequestQueue
	id    string
	next  ReplyContext
}

func (r *recordingReply) Reply(ctx context.Context, stage, text string) {
	r.queue.record(r.id, stage, text)
	if r.next != nil {
		r.next.Reply(ctx, stage, text)
	}
}

// RequestHandler performs the action behind a request and returns the text
// to post to the operators, if any
type RequestHandler func(ctx context.Context, req *OperatorRequest) (string, error)

// processRequest runs one request through its lifecycle. The slot is
// cleared whatever happens, including a panic in the handler.
func processRequest(ctx context.Context, q *RequestQueue, req *OperatorRequest, notifier Notifier, handle RequestHandler) error {
	defer q.Clear(req.ID)

	reply := func(stage, text string) {
		if req.Reply != nil {
			req.Reply.Reply(ctx, stage, text)
		}
	}

	slog.Info("Processing operator request", "id", req.ID, "kind", req.Kind)
	reply(StagePerforming, msgRequestRunning)

	var result string
	err := Safe(func() error {
		var err error
		result, err = handle(ctx, req)
		return err
	}, nil)
	if err != nil {
		slog.Error("Exception while processing request", "id", req.ID, "error", err)
		reply(StageError, msgRequestFailed)
		return fmt.Errorf("request %s failed: %w", req.ID, err)
	}

	if result != "" {
		notifier.Send(ctx, result, false)
		reply(StageResult, result)
	}
	reply(StageDone, msgRequestDone)
	slog.Info("Processed operator request", "id", req.ID)
	return nil
}
