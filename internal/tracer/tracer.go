// Package tracer tags every unit of work with a correlation id, collects
// its stage events and appends one shadow log entry when the unit ends.
package tracer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"yaha-bot/internal/domain"
)

// Sink appends shadow log entries. Entries are write-once.
type Sink interface {
	AppendEntry(ctx context.Context, e domain.ShadowLogEntry) error
}

// Reader returns the entries recorded for one correlation id, oldest first.
type Reader interface {
	EntriesByCorrelation(ctx context.Context, correlationID string) ([]domain.ShadowLogEntry, error)
}

// NewCorrelationID returns a fresh correlation id.
func NewCorrelationID() string {
	return uuid.NewString()
}

type Tracer struct {
	sink Sink
	now  func() time.Time
}

type Option func(*Tracer)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracer) {
		t.now = now
	}
}

func New(sink Sink, opts ...Option) (*Tracer, error) {
	if sink == nil {
		return nil, errors.New("tracer: sink must not be nil")
	}
	t := &Tracer{sink: sink, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Trace collects the events of one inbound message.
type Trace struct {
	tracer *Tracer

	mu       sync.Mutex
	entry    domain.ShadowLogEntry
	finished bool
}

// Start opens a trace for one inbound message. A resumed negotiation reuses
// the correlation id of the message that opened it.
func (t *Tracer) Start(correlationID, chatID string, in domain.InputRef) *Trace {
	return &Trace{
		tracer: t,
		entry: domain.ShadowLogEntry{
			ID:            uuid.NewString(),
			CorrelationID: correlationID,
			ChatID:        chatID,
			Input:         in,
		},
	}
}

func (tr *Trace) CorrelationID() string { return tr.entry.CorrelationID }

// SetContainer records the container the unit of work settled on.
func (tr *Trace) SetContainer(c domain.Container) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.entry.Container = c
}

// Record appends an event. detail is marshalled as JSON; values that cannot
// be marshalled are dropped from the event.
func (tr *Trace) Record(stage domain.Stage, status domain.EventStatus, detail any) {
	ev := domain.TraceEvent{Stage: stage, Status: status, At: tr.tracer.now().UTC()}
	if detail != nil {
		if b, err := json.Marshal(detail); err == nil {
			ev.Detail = b
		} else {
			slog.Warn("trace detail not recorded", "correlation_id", tr.entry.CorrelationID, "stage", stage, "err", err)
		}
	}
	tr.append(ev)
}

// Fail appends a failed event carrying err.
func (tr *Trace) Fail(stage domain.Stage, err error, detail any) {
	tr.RecordError(stage, domain.StatusFailed, err, detail)
}

// RecordError appends an event with an error message, for failures and retries.
func (tr *Trace) RecordError(stage domain.Stage, status domain.EventStatus, err error, detail any) {
	ev := domain.TraceEvent{Stage: stage, Status: status, At: tr.tracer.now().UTC()}
	if err != nil {
		ev.Error = err.Error()
	}
	if detail != nil {
		if b, mErr := json.Marshal(detail); mErr == nil {
			ev.Detail = b
		}
	}
	tr.append(ev)
}

func (tr *Trace) append(ev domain.TraceEvent) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.finished {
		return
	}
	tr.entry.Events = append(tr.entry.Events, ev)
}

// Finish seals the trace with its outcome and appends it to the sink. A sink
// failure is logged and never returned. Calls after the first are no-ops.
func (tr *Trace) Finish(ctx context.Context, outcome domain.EntryOutcome, errText string) domain.ShadowLogEntry {
	tr.mu.Lock()
	if tr.finished {
		e := tr.entry
		tr.mu.Unlock()
		return e
	}
	tr.finished = true
	tr.entry.Outcome = outcome
	tr.entry.Error = errText
	tr.entry.CreatedAt = tr.tracer.now().UTC()
	tr.entry.Events = slices.Clone(tr.entry.Events)
	e := tr.entry
	tr.mu.Unlock()

	// The audit write must outlive a cancelled request.
	if err := tr.tracer.sink.AppendEntry(context.WithoutCancel(ctx), e); err != nil {
		slog.Error("shadow log append failed",
			"correlation_id", e.CorrelationID,
			"chat_id", e.ChatID,
			"outcome", e.Outcome,
			"err", err,
		)
	}
	return e
}
