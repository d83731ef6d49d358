package pipeline

import (
	"fmt"

	"yaha-bot/internal/tracer"
)

type Kind string

const (
	KindInvalidInput              Kind = "INVALID_INPUT"
	KindExtractionFailure         Kind = "EXTRACTION_FAILURE"
	KindClassificationUnavailable Kind = "CLASSIFICATION_UNAVAILABLE"
	KindSchemaRejected            Kind = "SCHEMA_REJECTED"
	KindPersistenceTransport      Kind = "PERSISTENCE_TRANSPORT_ERROR"
	KindInternal                  Kind = "INTERNAL_ERROR"

	// Ambiguity and conflicts are resolved inside the pipeline. These kinds
	// only appear in trace details.
	KindClassificationAmbiguous Kind = "CLASSIFICATION_AMBIGUOUS"
	KindPersistenceConflict     Kind = "PERSISTENCE_CONFLICT"
)

// Error is a unit of work that ended without a stored record. Hop names the
// failed hop in user-facing terms; Reason is a stable snake_case code.
type Error struct {
	Kind   Kind
	Hop    tracer.Hop
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("pipeline: %s (%s)", e.Kind, e.Reason)
	}
	return fmt.Sprintf("pipeline: %s (%s): %v", e.Kind, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(kind Kind, hop tracer.Hop, reason string, err error) *Error {
	return &Error{Kind: kind, Hop: hop, Reason: reason, Err: err}
}
