package domain

import (
	"encoding/json"
	"time"
)

// Stage is one hop of the pipeline.
type Stage string

const (
	StageIngress        Stage = "ingress"
	StageExtraction     Stage = "extraction"
	StageClassification Stage = "classification"
	StageShaping        Stage = "shaping"
	StageValidation     Stage = "validation"
	StageNegotiation    Stage = "negotiation"
	StageEstimation     Stage = "estimation"
	StagePersistence    Stage = "persistence"
)

// EventStatus is the result of one stage event.
type EventStatus string

const (
	StatusOK      EventStatus = "ok"
	StatusFailed  EventStatus = "failed"
	StatusRetry   EventStatus = "retry"
	StatusSkipped EventStatus = "skipped"
)

// TraceEvent is one intermediate result tagged with its stage.
type TraceEvent struct {
	Stage  Stage           `json:"stage"`
	Status EventStatus     `json:"status"`
	Detail json.RawMessage `json:"detail,omitempty"`
	Error  string          `json:"error,omitempty"`
	At     time.Time       `json:"at"`
}

// EntryOutcome is how a unit of work ended.
type EntryOutcome string

const (
	OutcomePersisted    EntryOutcome = "persisted"
	OutcomeRejected     EntryOutcome = "rejected"
	OutcomeAbandoned    EntryOutcome = "abandoned"
	OutcomePending      EntryOutcome = "pending"
	OutcomeUnclassified EntryOutcome = "unclassified"
	OutcomeFailed       EntryOutcome = "failed"
)

// InputRef is the part of a RawInput kept in the audit trail.
type InputRef struct {
	Kind      InputKind  `json:"kind"`
	Text      string     `json:"text,omitempty"`
	Media     []MediaRef `json:"media,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// RefOf builds the audit reference for in.
func RefOf(in RawInput) InputRef {
	return InputRef{Kind: in.Kind, Text: in.Text, Media: in.Media, Timestamp: in.Timestamp}
}

// ShadowLogEntry is one write-once audit row per unit of work.
type ShadowLogEntry struct {
	ID            string       `json:"id"`
	CorrelationID string       `json:"correlation_id"`
	ChatID        string       `json:"chat_id"`
	Input         InputRef     `json:"input"`
	Container     Container    `json:"container,omitempty"`
	Events        []TraceEvent `json:"events"`
	Outcome       EntryOutcome `json:"outcome"`
	Error         string       `json:"error,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}
