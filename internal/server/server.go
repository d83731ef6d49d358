// Package server exposes the pipeline and the trace query API over HTTP for
// local and self-hosted runs.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"yaha-bot/internal/domain"
	"yaha-bot/internal/tracer"
)

// Expirer abandons sessions past their deadline. *pipeline.Service satisfies it.
type Expirer interface {
	ExpireSessions(ctx context.Context, now time.Time) (int, error)
}

type traceResponse struct {
	Diagnosis tracer.Diagnosis        `json:"diagnosis"`
	Entries   []domain.ShadowLogEntry `json:"entries"`
}

// NewRouter routes POST /messages to messages and serves traces from r.
func NewRouter(messages http.Handler, r tracer.Reader) chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	router.Method(http.MethodPost, "/messages", messages)
	router.Get("/traces/{correlationID}", func(w http.ResponseWriter, req *http.Request) {
		corr := chi.URLParam(req, "correlationID")
		d, entries, err := tracer.Lookup(req.Context(), r, corr)
		switch {
		case errors.Is(err, tracer.ErrNoTrace):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "NOT_FOUND"})
		case err != nil:
			slog.Error("trace lookup failed", "correlation_id", corr, "err", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "TRACE_UNAVAILABLE"})
		default:
			writeJSON(w, http.StatusOK, traceResponse{Diagnosis: d, Entries: entries})
		}
	})
	return router
}

// RunExpiry calls ExpireSessions every interval until ctx is done.
func RunExpiry(ctx context.Context, e Expirer, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := e.ExpireSessions(ctx, now)
			if err != nil {
				slog.Error("session expiry failed", "err", err)
				continue
			}
			if n > 0 {
				slog.Info("abandoned expired sessions", "count", n)
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
