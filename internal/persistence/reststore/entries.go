package reststore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"yaha-bot/internal/domain"
)

type entryRow struct {
	ID            string              `json:"id"`
	CorrelationID string              `json:"correlation_id"`
	ChatID        string              `json:"chat_id"`
	Container     domain.Container    `json:"container"`
	Outcome       domain.EntryOutcome `json:"outcome"`
	Error         *string             `json:"error"`
	Input         domain.InputRef     `json:"input"`
	Events        []domain.TraceEvent `json:"events"`
	CreatedAt     time.Time           `json:"created_at"`
}

func toEntryRow(e domain.ShadowLogEntry) entryRow {
	row := entryRow{
		ID:            e.ID,
		CorrelationID: e.CorrelationID,
		ChatID:        e.ChatID,
		Container:     e.Container,
		Outcome:       e.Outcome,
		Input:         e.Input,
		Events:        e.Events,
		CreatedAt:     e.CreatedAt.UTC(),
	}
	if e.Error != "" {
		row.Error = &e.Error
	}
	return row
}

func (r entryRow) entry() domain.ShadowLogEntry {
	e := domain.ShadowLogEntry{
		ID:            r.ID,
		CorrelationID: r.CorrelationID,
		ChatID:        r.ChatID,
		Container:     r.Container,
		Outcome:       r.Outcome,
		Input:         r.Input,
		Events:        r.Events,
		CreatedAt:     r.CreatedAt,
	}
	if r.Error != nil {
		e.Error = *r.Error
	}
	return e
}

// AppendEntry posts one shadow log entry to the entries table.
func (c *Client) AppendEntry(ctx context.Context, e domain.ShadowLogEntry) error {
	if err := c.do(ctx, http.MethodPost, c.tableURL(c.tables.Entries, nil), toEntryRow(e), nil); err != nil {
		return fmt.Errorf("reststore: append entry: %w", err)
	}
	return nil
}

// EntriesByCorrelation returns the entries of one correlation id, oldest first.
func (c *Client) EntriesByCorrelation(ctx context.Context, correlationID string) ([]domain.ShadowLogEntry, error) {
	q := url.Values{}
	q.Set("correlation_id", "eq."+correlationID)
	q.Set("order", "created_at.asc")
	q.Set("select", "*")

	var rows []json.RawMessage
	if err := c.do(ctx, http.MethodGet, c.tableURL(c.tables.Entries, q), nil, &rows); err != nil {
		return nil, fmt.Errorf("reststore: entries: %w", err)
	}
	out := make([]domain.ShadowLogEntry, 0, len(rows))
	for _, raw := range rows {
		var r entryRow
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("reststore: decode entry: %w", err)
		}
		out = append(out, r.entry())
	}
	return out, nil
}
