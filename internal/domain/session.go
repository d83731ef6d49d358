package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// SessionState is a NegotiationSession state.
type SessionState string

const (
	StateNew                     SessionState = "new"
	StateAwaitingContainerChoice SessionState = "awaiting_container_choice"
	StateReady                   SessionState = "ready"
	StateAwaitingMacroConsent    SessionState = "awaiting_macro_consent"
	StatePersisting              SessionState = "persisting"
	StatePersisted               SessionState = "persisted"
	StateFailed                  SessionState = "failed"
	StateAbandoned               SessionState = "abandoned"
)

// Terminal reports whether no further transition can leave s.
func (s SessionState) Terminal() bool {
	return s == StatePersisted || s == StateFailed || s == StateAbandoned
}

// Awaiting reports whether s is waiting on a user reply.
func (s SessionState) Awaiting() bool {
	return s == StateAwaitingContainerChoice || s == StateAwaitingMacroConsent
}

// QuestionKind is the clarifying question a session is waiting on.
type QuestionKind string

const (
	QuestionNone            QuestionKind = ""
	QuestionContainerChoice QuestionKind = "container_choice"
	QuestionMacroConsent    QuestionKind = "macro_consent"
)

// Transition is one recorded state change.
type Transition struct {
	From  SessionState `json:"from"`
	To    SessionState `json:"to"`
	Event string       `json:"event"`
	At    time.Time    `json:"at"`
}

// NegotiationSession is the only state that survives between inbound messages.
// It is keyed by (ChatID, CorrelationID).
type NegotiationSession struct {
	ChatID         string               `json:"chat_id"`
	CorrelationID  string               `json:"correlation_id"`
	State          SessionState         `json:"state"`
	Question       QuestionKind         `json:"question,omitempty"`
	Text           string               `json:"text"`
	Description    string               `json:"description,omitempty"`
	Date           string               `json:"date"`
	Classification ClassificationResult `json:"classification"`
	Record         Record               `json:"-"`
	ReplyAttempts  int                  `json:"reply_attempts"`
	Consent        *bool                `json:"consent,omitempty"`
	Version        int                  `json:"version"`
	CreatedAt      time.Time            `json:"created_at"`
	Deadline       time.Time            `json:"deadline"`
	History        []Transition         `json:"history,omitempty"`
}

// Expired reports whether the reply deadline has passed at now.
func (s *NegotiationSession) Expired(now time.Time) bool {
	return !s.Deadline.IsZero() && now.After(s.Deadline)
}

// ConsentGiven reports whether the user answered yes to macro estimation.
func (s *NegotiationSession) ConsentGiven() bool {
	return s.Consent != nil && *s.Consent
}

type sessionAlias NegotiationSession

type sessionJSON struct {
	sessionAlias
	RecordContainer Container       `json:"record_container,omitempty"`
	RecordData      json.RawMessage `json:"record,omitempty"`
}

func (s NegotiationSession) MarshalJSON() ([]byte, error) {
	out := sessionJSON{sessionAlias: sessionAlias(s)}
	if s.Record != nil {
		data, err := json.Marshal(s.Record)
		if err != nil {
			return nil, fmt.Errorf("domain: marshal session record: %w", err)
		}
		out.RecordContainer = s.Record.Container()
		out.RecordData = data
	}
	return json.Marshal(out)
}

func (s *NegotiationSession) UnmarshalJSON(b []byte) error {
	var in sessionJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*s = NegotiationSession(in.sessionAlias)
	if in.RecordContainer == "" || len(in.RecordData) == 0 {
		return nil
	}
	rec := NewRecord(in.RecordContainer, "", "")
	if rec == nil {
		return fmt.Errorf("domain: session record has unsupported container %q", in.RecordContainer)
	}
	if err := json.Unmarshal(in.RecordData, rec); err != nil {
		return fmt.Errorf("domain: unmarshal session record: %w", err)
	}
	s.Record = rec
	return nil
}
