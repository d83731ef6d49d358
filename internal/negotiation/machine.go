// Package negotiation holds the per-conversation state machine that resolves
// ambiguous classifications and macro-estimation consent with the user.
package negotiation

import (
	"errors"
	"fmt"
	"time"

	"yaha-bot/internal/domain"
)

// Event drives a session from one state to the next.
type Event string

const (
	EventAmbiguous        Event = "ambiguous"
	EventUnambiguous      Event = "unambiguous"
	EventUnclassified     Event = "unclassified"
	EventContainerChosen  Event = "container_chosen"
	EventDeclined         Event = "declined"
	EventReplyUnparseable Event = "reply_unparseable"
	EventRetriesExhausted Event = "retries_exhausted"
	EventRejected         Event = "rejected"
	EventPartialMacros    Event = "partial_macros"
	EventComplete         Event = "complete"
	EventConsentYes       Event = "consent_yes"
	EventConsentNo        Event = "consent_no"
	EventPersisted        Event = "persisted"
	EventConflict         Event = "conflict"
	EventTransportError   Event = "transport_error"
	EventSchemaRejected   Event = "schema_rejected"
	EventTimeout          Event = "timeout"
	EventCancel           Event = "cancel"
)

// ErrIllegalTransition is returned by Fire for an event the current state
// does not accept.
var ErrIllegalTransition = errors.New("negotiation: illegal transition")

var transitions = map[domain.SessionState]map[Event]domain.SessionState{
	domain.StateNew: {
		EventAmbiguous:    domain.StateAwaitingContainerChoice,
		EventUnambiguous:  domain.StateReady,
		EventUnclassified: domain.StateFailed,
	},
	domain.StateAwaitingContainerChoice: {
		EventContainerChosen:  domain.StateReady,
		EventReplyUnparseable: domain.StateAwaitingContainerChoice,
		EventRetriesExhausted: domain.StateFailed,
		EventDeclined:         domain.StateFailed,
		EventCancel:           domain.StateAbandoned,
		EventTimeout:          domain.StateAbandoned,
	},
	domain.StateReady: {
		EventPartialMacros: domain.StateAwaitingMacroConsent,
		EventComplete:      domain.StatePersisting,
		EventRejected:      domain.StateFailed,
	},
	domain.StateAwaitingMacroConsent: {
		EventConsentYes:       domain.StatePersisting,
		EventConsentNo:        domain.StatePersisting,
		EventReplyUnparseable: domain.StateAwaitingMacroConsent,
		EventRetriesExhausted: domain.StateFailed,
		EventCancel:           domain.StateAbandoned,
		EventTimeout:          domain.StateAbandoned,
	},
	domain.StatePersisting: {
		EventPersisted:        domain.StatePersisted,
		EventConflict:         domain.StatePersisted,
		EventTransportError:   domain.StatePersisting,
		EventSchemaRejected:   domain.StateFailed,
		EventRetriesExhausted: domain.StateFailed,
	},
}

// Next returns the state ev leads to from s.
func Next(s domain.SessionState, ev Event) (domain.SessionState, error) {
	to, ok := transitions[s][ev]
	if !ok {
		return s, fmt.Errorf("%w: %s on %s", ErrIllegalTransition, ev, s)
	}
	return to, nil
}

// Fire applies ev to sess and records the transition.
func Fire(sess *domain.NegotiationSession, ev Event, now time.Time) error {
	to, err := Next(sess.State, ev)
	if err != nil {
		return err
	}
	sess.History = append(sess.History, domain.Transition{From: sess.State, To: to, Event: string(ev), At: now.UTC()})
	sess.State = to
	switch to {
	case domain.StateAwaitingContainerChoice:
		sess.Question = domain.QuestionContainerChoice
	case domain.StateAwaitingMacroConsent:
		sess.Question = domain.QuestionMacroConsent
	default:
		sess.Question = domain.QuestionNone
	}
	return nil
}

// CanWrite reports whether a store write is allowed in s. Only Persisting may write.
func CanWrite(s domain.SessionState) bool {
	return s == domain.StatePersisting
}

// NewSession starts a session in New whose reply deadline is ttl from now.
func NewSession(chatID, correlationID string, now time.Time, ttl time.Duration) *domain.NegotiationSession {
	now = now.UTC()
	return &domain.NegotiationSession{
		ChatID:        chatID,
		CorrelationID: correlationID,
		State:         domain.StateNew,
		CreatedAt:     now,
		Deadline:      now.Add(ttl),
	}
}

// Extend moves the reply deadline to ttl after now, as each question restarts the clock.
func Extend(sess *domain.NegotiationSession, now time.Time, ttl time.Duration) {
	sess.Deadline = now.UTC().Add(ttl)
}
