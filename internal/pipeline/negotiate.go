package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"yaha-bot/internal/domain"
	"yaha-bot/internal/negotiation"
	"yaha-bot/internal/tracer"
)

// resume reads in as the answer to the pending question of sess.
func (s *Service) resume(ctx context.Context, sess *domain.NegotiationSession, in domain.RawInput) (Reply, error) {
	u := s.newUnit(sess, domain.RefOf(in))
	u.trace.Record(domain.StageIngress, domain.StatusOK, map[string]any{"kind": in.Kind, "reply_to": sess.Question})
	text := strings.TrimSpace(in.Text)

	if sess.State.Awaiting() && negotiation.IsCancel(text) {
		if err := s.fire(u, negotiation.EventCancel); err != nil {
			return s.internal(ctx, u, err)
		}
		s.release(ctx, u)
		u.trace.Finish(ctx, domain.OutcomeAbandoned, "cancelled by user")
		u.log.Info("entry cancelled")
		return Reply{
			Kind:          ReplyCancelled,
			ChatID:        sess.ChatID,
			CorrelationID: sess.CorrelationID,
			Text:          "Okay, I dropped that entry. Nothing was saved.",
		}, nil
	}

	switch sess.State {
	case domain.StateAwaitingContainerChoice:
		c, r := negotiation.ParseContainerChoice(text, sess.Classification.Candidates)
		switch r {
		case negotiation.ReplyContainer:
			if err := s.fire(u, negotiation.EventContainerChosen); err != nil {
				return s.internal(ctx, u, err)
			}
			sess.ReplyAttempts = 0
			sess.Classification.Container = c
			return s.ready(ctx, u, c)
		case negotiation.ReplyOther:
			if err := s.fire(u, negotiation.EventDeclined); err != nil {
				return s.internal(ctx, u, err)
			}
			return s.fileUnknown(ctx, u), nil
		}
		return s.unparseable(ctx, u, containerQuestion(sess, true))

	case domain.StateAwaitingMacroConsent:
		switch negotiation.ParseConsent(text) {
		case negotiation.ReplyYes:
			if err := s.fire(u, negotiation.EventConsentYes); err != nil {
				return s.internal(ctx, u, err)
			}
			yes := true
			sess.Consent = &yes
			return s.persist(ctx, u, s.estimate(ctx, u))
		case negotiation.ReplyNo:
			if err := s.fire(u, negotiation.EventConsentNo); err != nil {
				return s.internal(ctx, u, err)
			}
			no := false
			sess.Consent = &no
			return s.persist(ctx, u, "")
		}
		desc, _ := describe(sess)
		return s.unparseable(ctx, u, consentQuestion(sess, desc, true))
	}

	// Only awaiting sessions are stored; anything else is left over from a crash.
	u.log.Warn("dropping stale session", "state", sess.State)
	s.release(ctx, u)
	u.trace.Finish(ctx, domain.OutcomeAbandoned, "stale session in state "+string(sess.State))
	return s.start(ctx, in)
}

// unparseable re-asks q until the reply retries run out, then gives up
// without writing.
func (s *Service) unparseable(ctx context.Context, u *unit, q Reply) (Reply, error) {
	u.sess.ReplyAttempts++
	if u.sess.ReplyAttempts > s.opts.ReplyRetries {
		if err := s.fire(u, negotiation.EventRetriesExhausted); err != nil {
			return s.internal(ctx, u, err)
		}
		u.trace.Fail(domain.StageNegotiation, errors.New("reply retries exhausted"), map[string]int{"attempts": u.sess.ReplyAttempts})
		s.release(ctx, u)
		u.trace.Finish(ctx, domain.OutcomeFailed, "reply retries exhausted")
		u.log.Info("negotiation gave up", "attempts", u.sess.ReplyAttempts)
		return failure(u.sess, tracer.HopUnderstanding,
			"I still couldn't match your reply, so I dropped that entry. Nothing was saved.",
			"Send the entry again and start it with food, sleep or exercise."), nil
	}
	if err := s.fire(u, negotiation.EventReplyUnparseable); err != nil {
		return s.internal(ctx, u, err)
	}
	return s.ask(ctx, u, q)
}

// abandon ends a session whose deadline passed. Nothing is written.
func (s *Service) abandon(ctx context.Context, sess *domain.NegotiationSession) {
	u := s.newUnit(sess, domain.InputRef{})
	if err := s.fire(u, negotiation.EventTimeout); err != nil {
		u.log.Warn("abandoning session in unexpected state", "state", sess.State, "err", err)
	}
	s.release(ctx, u)
	u.trace.Finish(ctx, domain.OutcomeAbandoned, "no reply before deadline")
	u.log.Info("session abandoned", "deadline", sess.Deadline)
}

// ExpireSessions abandons every pending session whose deadline is before now
// and returns how many it abandoned. Sessions answered in the meantime are
// left alone.
func (s *Service) ExpireSessions(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.deps.Sessions.Expired(ctx, now)
	if err != nil {
		return 0, newError(KindInternal, tracer.HopNone, "session_scan_error", err)
	}

	n := 0
	var errs []error
	for _, candidate := range expired {
		unlock := s.locks.lock(candidate.ChatID)
		cur, err := s.deps.Sessions.Pending(ctx, candidate.ChatID)
		switch {
		case errors.Is(err, negotiation.ErrNotFound):
		case err != nil:
			errs = append(errs, err)
		case cur.CorrelationID == candidate.CorrelationID && cur.Expired(now):
			s.abandon(ctx, cur)
			n++
		}
		unlock()
	}
	if len(errs) > 0 {
		return n, newError(KindInternal, tracer.HopNone, "session_expiry_error", errors.Join(errs...))
	}
	return n, nil
}
