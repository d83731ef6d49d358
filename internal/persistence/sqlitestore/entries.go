package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"yaha-bot/internal/domain"
)

// AppendEntry inserts one write-once shadow log entry.
func (d *DB) AppendEntry(ctx context.Context, e domain.ShadowLogEntry) error {
	if e.ID == "" || e.CorrelationID == "" {
		return errors.New("sqlitestore: AppendEntry: id and correlation id are required")
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("sqlitestore: AppendEntry marshal: %w", err)
	}
	var errText sql.NullString
	if e.Error != "" {
		errText = sql.NullString{String: e.Error, Valid: true}
	}
	_, err = d.db.ExecContext(ctx,
		"INSERT INTO "+quote(d.tables.Entries)+
			" (id, correlation_id, chat_id, container, outcome, error, payload, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		e.ID, e.CorrelationID, e.ChatID, string(e.Container), string(e.Outcome), errText, string(payload),
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: AppendEntry: %w", storeError(err))
	}
	return nil
}

// EntriesByCorrelation returns the entries of one correlation id, oldest first.
func (d *DB) EntriesByCorrelation(ctx context.Context, correlationID string) ([]domain.ShadowLogEntry, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT payload FROM "+quote(d.tables.Entries)+" WHERE correlation_id = ? ORDER BY created_at, id",
		correlationID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: query entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.ShadowLogEntry
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan entry: %w", err)
		}
		var e domain.ShadowLogEntry
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return nil, fmt.Errorf("sqlitestore: decode entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitestore: iterate entries: %w", err)
	}
	return entries, nil
}
