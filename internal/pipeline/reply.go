package pipeline

import (
	"fmt"
	"slices"
	"strings"

	"yaha-bot/internal/domain"
	"yaha-bot/internal/negotiation"
	"yaha-bot/internal/tracer"
)

// ReplyKind tells the transport what kind of message to render.
type ReplyKind string

const (
	ReplyConfirmed ReplyKind = "confirmed"
	ReplyQuestion  ReplyKind = "question"
	ReplyFiled     ReplyKind = "filed_unknown"
	ReplyCancelled ReplyKind = "cancelled"
	ReplyFailed    ReplyKind = "failed"
)

// Field is one stored value in a confirmation preview.
type Field struct {
	Name      string `json:"name"`
	Value     string `json:"value"`
	Estimated bool   `json:"estimated,omitempty"`
}

// Reply is the egress payload for one inbound message.
type Reply struct {
	Kind          ReplyKind           `json:"kind"`
	ChatID        string              `json:"chat_id"`
	CorrelationID string              `json:"correlation_id"`
	Text          string              `json:"text"`
	Question      domain.QuestionKind `json:"question,omitempty"`
	Options       []string            `json:"options,omitempty"`
	Container     domain.Container    `json:"container,omitempty"`
	Date          string              `json:"date,omitempty"`
	StoredID      string              `json:"stored_id,omitempty"`
	Fields        []Field             `json:"fields,omitempty"`
	Hop           tracer.Hop          `json:"hop,omitempty"`
	NextAction    string              `json:"next_action,omitempty"`
}

func containerQuestion(sess *domain.NegotiationSession, retry bool) Reply {
	options := make([]string, 0, len(sess.Classification.Candidates)+1)
	for _, c := range sess.Classification.Candidates {
		options = append(options, string(c))
	}
	options = append(options, negotiation.OptionSomethingElse)

	var b strings.Builder
	if retry {
		b.WriteString("Sorry, I didn't catch that. ")
	}
	b.WriteString("Which log does this belong to?")
	for i, o := range options {
		fmt.Fprintf(&b, "\n%d. %s", i+1, o)
	}
	return Reply{
		Kind:          ReplyQuestion,
		ChatID:        sess.ChatID,
		CorrelationID: sess.CorrelationID,
		Text:          b.String(),
		Question:      domain.QuestionContainerChoice,
		Options:       options,
	}
}

func consentQuestion(sess *domain.NegotiationSession, description string, retry bool) Reply {
	text := fmt.Sprintf("I didn't find calories or macros for %q. Want me to estimate them? (yes/no)", description)
	if retry {
		text = "Sorry, I didn't catch that. " + text
	}
	return Reply{
		Kind:          ReplyQuestion,
		ChatID:        sess.ChatID,
		CorrelationID: sess.CorrelationID,
		Text:          text,
		Question:      domain.QuestionMacroConsent,
		Options:       []string{"yes", "no"},
		Container:     domain.ContainerFood,
	}
}

// preview lists every stored field, nulls included, and marks estimated ones.
func preview(rec domain.Record) []Field {
	estimated := rec.Header().Estimated
	cols := rec.Columns()
	fields := make([]Field, 0, len(cols))
	for _, c := range cols {
		fields = append(fields, Field{Name: c.Name, Value: c.String(), Estimated: slices.Contains(estimated, c.Name)})
	}
	return fields
}

func confirmation(sess *domain.NegotiationSession, out domain.PersistenceOutcome, note string) Reply {
	rec := sess.Record
	fields := preview(rec)

	var b strings.Builder
	if out.Status == domain.PersistConflict {
		fmt.Fprintf(&b, "Already saved this %s entry for %s:", rec.Container(), rec.Header().Date)
	} else {
		fmt.Fprintf(&b, "Saved %s entry for %s:", rec.Container(), rec.Header().Date)
	}
	for _, f := range fields {
		fmt.Fprintf(&b, "\n• %s: %s", f.Name, f.Value)
		if f.Estimated {
			b.WriteString(" (estimated)")
		}
	}
	if note != "" {
		b.WriteString("\n" + note)
	}

	return Reply{
		Kind:          ReplyConfirmed,
		ChatID:        sess.ChatID,
		CorrelationID: sess.CorrelationID,
		Text:          b.String(),
		Container:     rec.Container(),
		Date:          rec.Header().Date,
		StoredID:      out.StoredID,
		Fields:        fields,
	}
}

// failure builds the user-facing message for a failed hop. Diagnostic detail
// stays in the shadow log.
func failure(sess *domain.NegotiationSession, hop tracer.Hop, text, next string) Reply {
	return Reply{
		Kind:          ReplyFailed,
		ChatID:        sess.ChatID,
		CorrelationID: sess.CorrelationID,
		Text:          text,
		Hop:           hop,
		NextAction:    next,
	}
}

var hopMessages = map[tracer.Hop]string{
	tracer.HopExtraction:    "I couldn't read that attachment.",
	tracer.HopUnderstanding: "I couldn't understand that entry.",
	tracer.HopSaving:        "I couldn't save that entry.",
}

func hopFailure(sess *domain.NegotiationSession, hop tracer.Hop, next string) Reply {
	text := hopMessages[hop]
	if next != "" {
		text += " " + next
	}
	return failure(sess, hop, text, next)
}
