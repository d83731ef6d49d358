package tracer

import (
	"context"
	"errors"
	"fmt"

	"yaha-bot/internal/domain"
)

// ErrNoTrace is returned when a correlation id has no entries.
var ErrNoTrace = errors.New("tracer: no entries for correlation id")

// Hop is the user-facing name of a group of stages.
type Hop string

const (
	HopNone          Hop = ""
	HopExtraction    Hop = "extraction"
	HopUnderstanding Hop = "understanding"
	HopSaving        Hop = "saving"
)

// HopOf maps a stage to the hop named in user-facing failure messages.
func HopOf(s domain.Stage) Hop {
	switch s {
	case domain.StageIngress, domain.StageExtraction:
		return HopExtraction
	case domain.StagePersistence:
		return HopSaving
	case domain.StageClassification, domain.StageShaping, domain.StageValidation,
		domain.StageNegotiation, domain.StageEstimation:
		return HopUnderstanding
	}
	return HopNone
}

// Diagnosis answers which hop broke for one correlation id.
type Diagnosis struct {
	CorrelationID string              `json:"correlation_id" yaml:"correlation_id"`
	ChatID        string              `json:"chat_id" yaml:"chat_id"`
	Container     domain.Container    `json:"container,omitempty" yaml:"container,omitempty"`
	Outcome       domain.EntryOutcome `json:"outcome" yaml:"outcome"`
	FailedStage   domain.Stage        `json:"failed_stage,omitempty" yaml:"failed_stage,omitempty"`
	Hop           Hop                 `json:"hop,omitempty" yaml:"hop,omitempty"`
	Reason        string              `json:"reason,omitempty" yaml:"reason,omitempty"`
	Entries       int                 `json:"entries" yaml:"entries"`
	Events        int                 `json:"events" yaml:"events"`
}

// Diagnose walks entries in order and reports the first failed stage. The
// outcome and container are taken from the last entry. It is deterministic
// for a given entry list.
func Diagnose(entries []domain.ShadowLogEntry) Diagnosis {
	var d Diagnosis
	d.Entries = len(entries)
	for _, e := range entries {
		d.CorrelationID = e.CorrelationID
		d.ChatID = e.ChatID
		d.Outcome = e.Outcome
		if e.Container != "" {
			d.Container = e.Container
		}
		d.Events += len(e.Events)
		if d.FailedStage != "" {
			continue
		}
		for _, ev := range e.Events {
			if ev.Status == domain.StatusFailed {
				d.FailedStage = ev.Stage
				d.Hop = HopOf(ev.Stage)
				d.Reason = ev.Error
				break
			}
		}
		if d.FailedStage == "" && e.Error != "" && failedOutcome(e.Outcome) {
			d.Reason = e.Error
		}
	}
	return d
}

func failedOutcome(o domain.EntryOutcome) bool {
	return o == domain.OutcomeFailed || o == domain.OutcomeRejected
}

// Lookup reads the entries of correlationID and diagnoses them.
func Lookup(ctx context.Context, r Reader, correlationID string) (Diagnosis, []domain.ShadowLogEntry, error) {
	entries, err := r.EntriesByCorrelation(ctx, correlationID)
	if err != nil {
		return Diagnosis{}, nil, fmt.Errorf("tracer: lookup %s: %w", correlationID, err)
	}
	if len(entries) == 0 {
		return Diagnosis{}, nil, fmt.Errorf("%w: %s", ErrNoTrace, correlationID)
	}
	return Diagnose(entries), entries, nil
}
