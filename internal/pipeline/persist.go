package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"yaha-bot/internal/domain"
	"yaha-bot/internal/negotiation"
	"yaha-bot/internal/tracer"
)

// persist writes the session record, retrying transport errors with backoff.
// Every attempt carries the same dedupe key, so a conflict means an earlier
// attempt landed.
func (s *Service) persist(ctx context.Context, u *unit, note string) (Reply, error) {
	sess := u.sess
	if !negotiation.CanWrite(sess.State) {
		return s.internal(ctx, u, fmt.Errorf("write attempted in state %s", sess.State))
	}

	policy := s.opts.PersistRetry
	var last domain.PersistenceOutcome
	for attempt := 1; attempt <= policy.Attempts(); attempt++ {
		if err := policy.Wait(ctx, attempt); err != nil {
			last = domain.PersistenceOutcome{Status: domain.PersistTransportError, Err: err.Error()}
			break
		}
		out := s.deps.Writer.Persist(ctx, sess.Record, sess.CorrelationID)
		last = out

		if out.Applied() {
			ev := negotiation.EventPersisted
			if out.Status == domain.PersistConflict {
				ev = negotiation.EventConflict
				u.trace.Record(domain.StagePersistence, domain.StatusOK, map[string]any{"kind": KindPersistenceConflict, "outcome": out})
			} else {
				u.trace.Record(domain.StagePersistence, domain.StatusOK, out)
			}
			if err := s.fire(u, ev); err != nil {
				return s.internal(ctx, u, err)
			}
			s.release(ctx, u)
			u.trace.Finish(ctx, domain.OutcomePersisted, "")
			u.log.Info("record persisted",
				"container", sess.Record.Container(),
				"status", out.Status,
				"stored_id", out.StoredID,
				"attempts", attempt,
			)
			return confirmation(sess, out, note), nil
		}
		if out.Status == domain.PersistSchemaRejected {
			e := newError(KindSchemaRejected, tracer.HopSaving, "store_rejected", errors.New(out.Err))
			u.trace.Fail(domain.StagePersistence, e, out)
			if err := s.fire(u, negotiation.EventSchemaRejected); err != nil {
				return s.internal(ctx, u, err)
			}
			return s.fail(ctx, u, domain.OutcomeRejected, e, hopFailure(sess, tracer.HopSaving, "The log didn't accept it, and nothing was saved."))
		}

		u.log.Warn("persist attempt failed", "attempt", attempt, "http_status", out.HTTPStatus, "err", out.Err)
		u.trace.RecordError(domain.StagePersistence, domain.StatusRetry, errors.New(out.Err), out)
		if err := s.fire(u, negotiation.EventTransportError); err != nil {
			return s.internal(ctx, u, err)
		}
	}

	e := newError(KindPersistenceTransport, tracer.HopSaving, "retries_exhausted", errors.New(last.Err))
	u.trace.Fail(domain.StagePersistence, e, last)
	if err := s.fire(u, negotiation.EventRetriesExhausted); err != nil {
		return s.internal(ctx, u, err)
	}
	return s.fail(ctx, u, domain.OutcomeFailed, e, hopFailure(sess, tracer.HopSaving, "Please try again later."))
}

// estimate fills null macros after the user said yes. On any failure the
// record keeps its nulls and the returned note tells the user so.
func (s *Service) estimate(ctx context.Context, u *unit) string {
	const unavailable = "I couldn't estimate the macros, so they were saved as empty."
	food, ok := u.sess.Record.(*domain.FoodRecord)
	desc, hasDesc := describe(u.sess)
	if !u.sess.ConsentGiven() || !ok || !hasDesc || s.deps.Estimator == nil {
		u.trace.Record(domain.StageEstimation, domain.StatusSkipped, nil)
		return unavailable
	}

	ectx := ctx
	if s.opts.EstimateTimeout > 0 {
		var cancel context.CancelFunc
		ectx, cancel = context.WithTimeout(ctx, s.opts.EstimateTimeout)
		defer cancel()
	}
	m, err := s.deps.Estimator.EstimateMacros(ectx, desc)
	if err != nil {
		u.trace.RecordError(domain.StageEstimation, domain.StatusSkipped, err, nil)
		u.log.Warn("macro estimation failed", "err", err)
		return unavailable
	}

	estimated := *food
	estimated.Estimated = slices.Clone(food.Estimated)
	filled := estimated.ApplyEstimate(m)
	if len(filled) == 0 {
		u.trace.Record(domain.StageEstimation, domain.StatusSkipped, map[string]any{"filled": filled})
		return unavailable
	}
	if err := s.deps.Validator.Validate(&estimated); err != nil {
		u.trace.RecordError(domain.StageEstimation, domain.StatusSkipped, err, nil)
		u.log.Warn("estimated macros failed validation", "err", err)
		return unavailable
	}
	u.sess.Record = &estimated
	u.trace.Record(domain.StageEstimation, domain.StatusOK, map[string]any{"filled": filled})
	return ""
}
