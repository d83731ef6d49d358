// Package persistence writes validated records to their container store
// exactly once and classifies every store response.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"yaha-bot/internal/domain"
)

// dedupeNamespace scopes DedupeKey values. Changing it would break idempotency
// for writes already in flight.
var dedupeNamespace = uuid.MustParse("6f1b7c1e-3a7d-5b9e-9a40-2f8d1c0e4b21")

// DedupeKey derives the deterministic key of one logical write.
func DedupeKey(chatID string, c domain.Container, date, correlationID string) string {
	name := strings.Join([]string{chatID, string(c), date, correlationID}, "\x1f")
	return uuid.NewSHA1(dedupeNamespace, []byte(name)).String()
}

// SQLStateUniqueViolation is the SQLSTATE a store reports when a unique
// constraint, such as the dedupe key, rejects a write.
const SQLStateUniqueViolation = "23505"

// StoreError is a non-success store response. Status is the HTTP-equivalent
// status, or 0 when no response arrived. Code is the SQLSTATE the store
// reported, if it reports one.
type StoreError struct {
	Status int
	Code   string
	Body   string
	Err    error
}

func (e *StoreError) Error() string {
	switch {
	case e.Err != nil && e.Status != 0:
		return fmt.Sprintf("persistence: store status %d: %v", e.Status, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("persistence: store: %v", e.Err)
	}
	return fmt.Sprintf("persistence: store status %d", e.Status)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Store writes one record to its container's table. A write whose dedupe key
// already exists must fail with a 409 StoreError; the store, not the caller,
// detects the conflict.
type Store interface {
	Insert(ctx context.Context, rec domain.Record, dedupeKey, correlationID string) (storedID string, err error)
}

// Tables names the store table behind each container plus the audit table.
type Tables struct {
	Food     string `koanf:"food"`
	Sleep    string `koanf:"sleep"`
	Exercise string `koanf:"exercise"`
	Entries  string `koanf:"entries"`
}

func DefaultTables() Tables {
	return Tables{Food: "food", Sleep: "sleep", Exercise: "exercise", Entries: "entries"}
}

// For returns the table of c, or false for containers without a store.
func (t Tables) For(c domain.Container) (string, bool) {
	switch c {
	case domain.ContainerFood:
		return t.Food, t.Food != ""
	case domain.ContainerSleep:
		return t.Sleep, t.Sleep != ""
	case domain.ContainerExercise:
		return t.Exercise, t.Exercise != ""
	}
	return "", false
}

// Row lists the stored columns of rec: chat_id, date, the record fields,
// estimated_fields, dedupe_key and correlation_id.
func Row(rec domain.Record, dedupeKey, correlationID string) []domain.Column {
	meta := rec.Header()
	cols := []domain.Column{{Name: "chat_id", Value: meta.ChatID}, {Name: "date", Value: meta.Date}}
	cols = append(cols, rec.Columns()...)
	estimated := domain.Column{Name: "estimated_fields"}
	if len(meta.Estimated) > 0 {
		estimated.Value = append([]string(nil), meta.Estimated...)
	}
	return append(cols, estimated,
		domain.Column{Name: "dedupe_key", Value: dedupeKey},
		domain.Column{Name: "correlation_id", Value: correlationID},
	)
}

// Writer performs single persist attempts. Retrying is the caller's job and is
// safe because every attempt for a unit of work carries the same dedupe key.
type Writer struct {
	store   Store
	timeout time.Duration
}

// NewWriter creates a Writer. A positive timeout bounds every attempt.
func NewWriter(store Store, timeout time.Duration) (*Writer, error) {
	if store == nil {
		return nil, errors.New("persistence: store must not be nil")
	}
	return &Writer{store: store, timeout: timeout}, nil
}

// Persist makes one write attempt and classifies the result.
func (w *Writer) Persist(ctx context.Context, rec domain.Record, correlationID string) domain.PersistenceOutcome {
	if rec == nil || !rec.Container().Storable() {
		return domain.PersistenceOutcome{Status: domain.PersistSchemaRejected, Err: "persistence: record has no container store"}
	}
	meta := rec.Header()
	key := DedupeKey(meta.ChatID, rec.Container(), meta.Date, correlationID)
	out := domain.PersistenceOutcome{DedupeKey: key, Record: rec}

	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	id, err := w.store.Insert(ctx, rec, key, correlationID)
	if err == nil {
		out.Status = domain.PersistSuccess
		out.StoredID = id
		return out
	}

	out.Err = err.Error()
	var se *StoreError
	if !errors.As(err, &se) {
		out.Status = domain.PersistTransportError
		return out
	}
	out.HTTPStatus = se.Status
	out.Body = se.Body
	out.Status = classifyError(se)
	return out
}

// classifyError is Classify plus the SQLSTATE check: a conflict only proves
// the row exists when it is a unique violation. A foreign key conflict wrote
// nothing.
func classifyError(se *StoreError) domain.PersistenceStatus {
	status := Classify(se.Status)
	if status == domain.PersistConflict && se.Code != "" && se.Code != SQLStateUniqueViolation {
		return domain.PersistSchemaRejected
	}
	return status
}

// Classify maps a store status to the outcome taxonomy.
func Classify(status int) domain.PersistenceStatus {
	switch {
	case status >= 200 && status < 300:
		return domain.PersistSuccess
	case status == http.StatusConflict:
		return domain.PersistConflict
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return domain.PersistTransportError
	case status >= 400 && status < 500:
		return domain.PersistSchemaRejected
	}
	return domain.PersistTransportError
}
