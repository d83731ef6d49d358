package tracer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"yaha-bot/internal/domain"
)

type memorySink struct {
	mu      sync.Mutex
	entries []domain.ShadowLogEntry
	err     error
}

func (m *memorySink) AppendEntry(_ context.Context, e domain.ShadowLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memorySink) EntriesByCorrelation(_ context.Context, id string) ([]domain.ShadowLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ShadowLogEntry
	for _, e := range m.entries {
		if e.CorrelationID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

var fixed = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func newTracer(t *testing.T, sink Sink) *Tracer {
	t.Helper()
	tr, err := New(sink, WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)
	return tr
}

func TestNew_RequiresSink(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestTrace_FinishAppendsOnce(t *testing.T) {
	sink := &memorySink{}
	tr := newTracer(t, sink)

	trace := tr.Start("corr-1", "chat-1", domain.InputRef{Kind: domain.KindText, Text: "slept 7h"})
	trace.Record(domain.StageClassification, domain.StatusOK, map[string]string{"container": "sleep"})
	trace.SetContainer(domain.ContainerSleep)
	trace.Record(domain.StagePersistence, domain.StatusOK, nil)

	e := trace.Finish(context.Background(), domain.OutcomePersisted, "")
	require.Equal(t, "corr-1", e.CorrelationID)
	require.Equal(t, domain.ContainerSleep, e.Container)
	require.Len(t, e.Events, 2)
	require.JSONEq(t, `{"container":"sleep"}`, string(e.Events[0].Detail))
	require.Equal(t, fixed, e.CreatedAt)

	trace.Record(domain.StageShaping, domain.StatusOK, nil)
	trace.Finish(context.Background(), domain.OutcomeFailed, "late")
	require.Len(t, sink.entries, 1)
	require.Equal(t, domain.OutcomePersisted, sink.entries[0].Outcome)
	require.Len(t, sink.entries[0].Events, 2)
}

func TestTrace_SinkFailureIsSwallowed(t *testing.T) {
	tr := newTracer(t, &memorySink{err: errors.New("table missing")})
	trace := tr.Start("corr-1", "chat-1", domain.InputRef{})
	e := trace.Finish(context.Background(), domain.OutcomePersisted, "")
	require.Equal(t, domain.OutcomePersisted, e.Outcome)
}

func TestTrace_FinishAfterCancel(t *testing.T) {
	sink := &memorySink{}
	tr := newTracer(t, sink)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tr.Start("corr-1", "chat-1", domain.InputRef{}).Finish(ctx, domain.OutcomeAbandoned, "")
	require.Len(t, sink.entries, 1)
}

func TestHopOf(t *testing.T) {
	require.Equal(t, HopExtraction, HopOf(domain.StageExtraction))
	require.Equal(t, HopUnderstanding, HopOf(domain.StageClassification))
	require.Equal(t, HopUnderstanding, HopOf(domain.StageValidation))
	require.Equal(t, HopSaving, HopOf(domain.StagePersistence))
}

func TestDiagnose_FirstFailureAcrossEntries(t *testing.T) {
	entries := []domain.ShadowLogEntry{
		{
			CorrelationID: "corr-1", ChatID: "chat-1", Outcome: domain.OutcomePending,
			Events: []domain.TraceEvent{
				{Stage: domain.StageClassification, Status: domain.StatusOK},
				{Stage: domain.StageNegotiation, Status: domain.StatusOK},
			},
		},
		{
			CorrelationID: "corr-1", ChatID: "chat-1", Container: domain.ContainerExercise, Outcome: domain.OutcomeFailed, Error: "store down",
			Events: []domain.TraceEvent{
				{Stage: domain.StagePersistence, Status: domain.StatusRetry, Error: "503"},
				{Stage: domain.StagePersistence, Status: domain.StatusFailed, Error: "transport_error after 3 attempts"},
			},
		},
	}
	d := Diagnose(entries)
	require.Equal(t, domain.StagePersistence, d.FailedStage)
	require.Equal(t, HopSaving, d.Hop)
	require.Equal(t, "transport_error after 3 attempts", d.Reason)
	require.Equal(t, domain.OutcomeFailed, d.Outcome)
	require.Equal(t, domain.ContainerExercise, d.Container)
	require.Equal(t, 2, d.Entries)
	require.Equal(t, 4, d.Events)
	require.Equal(t, d, Diagnose(entries))
}

func TestDiagnose_Success(t *testing.T) {
	d := Diagnose([]domain.ShadowLogEntry{{CorrelationID: "c", Outcome: domain.OutcomePersisted, Events: []domain.TraceEvent{{Stage: domain.StagePersistence, Status: domain.StatusOK}}}})
	require.Empty(t, d.FailedStage)
	require.Equal(t, HopNone, d.Hop)
	require.Equal(t, domain.OutcomePersisted, d.Outcome)
}

func TestLookup(t *testing.T) {
	sink := &memorySink{}
	tr := newTracer(t, sink)
	trace := tr.Start("corr-9", "chat-1", domain.InputRef{})
	trace.Fail(domain.StageExtraction, errors.New("ocr failed"), nil)
	trace.Finish(context.Background(), domain.OutcomeFailed, "ocr failed")

	d, entries, err := Lookup(context.Background(), sink, "corr-9")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, HopExtraction, d.Hop)

	_, _, err = Lookup(context.Background(), sink, "missing")
	require.ErrorIs(t, err, ErrNoTrace)
}
