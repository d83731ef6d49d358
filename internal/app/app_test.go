package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"yaha-bot/internal/config"
	"yaha-bot/internal/domain"
	"yaha-bot/internal/extraction"
	"yaha-bot/internal/negotiation"
	"yaha-bot/internal/persistence/sqlitestore"
	"yaha-bot/internal/pipeline"
	"yaha-bot/internal/tracer"
)

func localConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Reasoning.Enabled = false
	cfg.Store.Backend = config.BackendSQLite
	cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "yaha.db")
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestBuild_RejectsNilConfig(t *testing.T) {
	_, err := Build(context.Background(), nil)
	require.Error(t, err)
}

func TestBuild_SQLiteEndToEnd(t *testing.T) {
	ctx := context.Background()
	a, err := Build(ctx, localConfig(t))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	r, err := a.Service.Handle(ctx, domain.RawInput{
		ChatID:    "chat-1",
		Timestamp: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
		Kind:      domain.KindText,
		Text:      "oats with protein powder, 520 kcal",
	})
	require.NoError(t, err)
	require.Equal(t, pipeline.ReplyConfirmed, r.Kind)
	require.NotEmpty(t, r.StoredID)

	d, entries, err := tracer.Lookup(ctx, a.Traces, r.CorrelationID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, domain.OutcomePersisted, d.Outcome)
	require.Equal(t, tracer.HopNone, d.Hop)
}

func TestBuild_WithBackendAndAdapter(t *testing.T) {
	ctx := context.Background()
	db, err := sqlitestore.OpenMemory(config.DefaultConfig().Store.Tables)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	adapter := extraction.AdapterFunc(func(_ context.Context, _ domain.MediaRef) domain.ExtractionResult {
		return domain.ExtractionResult{Text: "slept 7h, resting HR 55", Confidence: 0.8}
	})
	a, err := Build(ctx, localConfig(t),
		WithBackend(db, negotiation.NewMemoryStore()),
		WithAdapter(domain.KindAudio, adapter),
	)
	require.NoError(t, err)

	r, err := a.Service.Handle(ctx, domain.RawInput{
		ChatID: "chat-2",
		Kind:   domain.KindAudio,
		Media:  []domain.MediaRef{{Kind: domain.KindAudio, Ref: "voice-1"}},
	})
	require.NoError(t, err)
	require.Equal(t, domain.ContainerSleep, r.Container)

	n, err := db.Count(ctx, domain.ContainerSleep)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
