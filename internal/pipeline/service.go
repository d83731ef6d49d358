// Package pipeline runs one inbound message through extraction,
// classification, shaping, validation, negotiation and persistence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"yaha-bot/internal/domain"
	"yaha-bot/internal/extraction"
	"yaha-bot/internal/negotiation"
	"yaha-bot/internal/retry"
	"yaha-bot/internal/shaper"
	"yaha-bot/internal/tracer"
	"yaha-bot/internal/validator"
)

type Extractor interface {
	ExtractAll(ctx context.Context, refs []domain.MediaRef) []domain.ExtractionResult
}

type Classifier interface {
	Classify(ctx context.Context, text string) (domain.ClassificationResult, error)
}

type Shaper interface {
	Shape(ctx context.Context, req shaper.Request) (domain.Record, error)
}

type Validator interface {
	Validate(rec domain.Record) error
}

// Estimator produces macro estimates for a meal description.
type Estimator interface {
	EstimateMacros(ctx context.Context, description string) (domain.Macros, error)
}

// Persister makes one write attempt. *persistence.Writer satisfies it.
type Persister interface {
	Persist(ctx context.Context, rec domain.Record, correlationID string) domain.PersistenceOutcome
}

// Deps are the collaborators of a Service. Extractor and Estimator are optional.
type Deps struct {
	Extractor  Extractor
	Classifier Classifier
	Shaper     Shaper
	Validator  Validator
	Estimator  Estimator
	Writer     Persister
	Sessions   negotiation.Store
	Tracer     *tracer.Tracer
}

// Options are the tunables of a Service.
type Options struct {
	// ReplyRetries is how many unparseable replies a question tolerates.
	ReplyRetries  int
	ClassifyRetry retry.Policy
	PersistRetry  retry.Policy
	// SessionTTL is how long a question waits for its reply.
	SessionTTL time.Duration
	// EstimateTimeout bounds one macro estimation call.
	EstimateTimeout time.Duration
	// Location decides the calendar date of an entry.
	Location *time.Location
}

func DefaultOptions() Options {
	backoff := retry.Policy{MaxAttempts: 3, Base: 250 * time.Millisecond, Max: 4 * time.Second}
	return Options{
		ReplyRetries:    2,
		ClassifyRetry:   backoff,
		PersistRetry:    backoff,
		SessionTTL:      30 * time.Minute,
		EstimateTimeout: 10 * time.Second,
		Location:        time.UTC,
	}
}

type Service struct {
	deps  Deps
	opts  Options
	locks *chatLocks
	now   func() time.Time
}

type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(d Deps, o Options, opts ...Option) (*Service, error) {
	switch {
	case d.Classifier == nil:
		return nil, errors.New("pipeline: classifier must not be nil")
	case d.Shaper == nil:
		return nil, errors.New("pipeline: shaper must not be nil")
	case d.Validator == nil:
		return nil, errors.New("pipeline: validator must not be nil")
	case d.Writer == nil:
		return nil, errors.New("pipeline: writer must not be nil")
	case d.Sessions == nil:
		return nil, errors.New("pipeline: session store must not be nil")
	case d.Tracer == nil:
		return nil, errors.New("pipeline: tracer must not be nil")
	}
	if o.ReplyRetries < 0 {
		o.ReplyRetries = 0
	}
	if o.SessionTTL <= 0 {
		o.SessionTTL = DefaultOptions().SessionTTL
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	s := &Service{deps: d, opts: o, locks: newChatLocks(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// unit is the state of one inbound message while it is handled.
type unit struct {
	trace *tracer.Trace
	sess  *domain.NegotiationSession
	log   *slog.Logger
}

func (s *Service) newUnit(sess *domain.NegotiationSession, in domain.InputRef) *unit {
	return &unit{
		trace: s.deps.Tracer.Start(sess.CorrelationID, sess.ChatID, in),
		sess:  sess,
		log:   slog.With("correlation_id", sess.CorrelationID, "chat_id", sess.ChatID),
	}
}

// Handle processes one inbound message. Messages of one chat are handled one
// at a time, and a message arriving while a question is pending is read as
// its answer. When the unit of work fails the returned Reply still carries
// the user-facing explanation and the error is a *Error.
func (s *Service) Handle(ctx context.Context, in domain.RawInput) (Reply, error) {
	in.ChatID = strings.TrimSpace(in.ChatID)
	if in.ChatID == "" {
		return Reply{}, newError(KindInvalidInput, tracer.HopNone, "missing_chat_id", nil)
	}
	if !in.Kind.Valid() {
		return Reply{}, newError(KindInvalidInput, tracer.HopNone, "invalid_input_kind", nil)
	}

	unlock := s.locks.lock(in.ChatID)
	defer unlock()

	pending, err := s.deps.Sessions.Pending(ctx, in.ChatID)
	switch {
	case errors.Is(err, negotiation.ErrNotFound):
	case err != nil:
		return Reply{}, newError(KindInternal, tracer.HopNone, "session_load_error", err)
	case pending.Expired(s.now()):
		s.abandon(ctx, pending)
	default:
		return s.resume(ctx, pending, in)
	}
	return s.start(ctx, in)
}

func (s *Service) start(ctx context.Context, in domain.RawInput) (Reply, error) {
	now := s.now()
	sess := negotiation.NewSession(in.ChatID, tracer.NewCorrelationID(), now, s.opts.SessionTTL)
	sess.Date = domain.LocalDate(in.Timestamp, s.opts.Location)
	u := s.newUnit(sess, domain.RefOf(in))
	u.trace.Record(domain.StageIngress, domain.StatusOK, map[string]any{"kind": in.Kind, "media": len(in.Media)})

	text, description, err := s.extract(ctx, u, in)
	if err != nil {
		return s.fail(ctx, u, domain.OutcomeFailed, err, hopFailure(sess, tracer.HopExtraction, "Type the entry as text instead."))
	}
	sess.Text = text
	sess.Description = description

	res, err := s.classify(ctx, u, text)
	if err != nil {
		return s.fail(ctx, u, domain.OutcomeFailed, err, hopFailure(sess, tracer.HopUnderstanding, "Please try again in a moment."))
	}
	sess.Classification = res

	switch {
	case res.Unclassifiable():
		if err := s.fire(u, negotiation.EventUnclassified); err != nil {
			return s.internal(ctx, u, err)
		}
		return s.fileUnknown(ctx, u), nil
	case res.Ambiguous:
		if err := s.fire(u, negotiation.EventAmbiguous); err != nil {
			return s.internal(ctx, u, err)
		}
		u.trace.Record(domain.StageClassification, domain.StatusOK, map[string]any{"kind": KindClassificationAmbiguous, "candidates": res.Candidates})
		return s.ask(ctx, u, containerQuestion(sess, false))
	}

	if err := s.fire(u, negotiation.EventUnambiguous); err != nil {
		return s.internal(ctx, u, err)
	}
	return s.ready(ctx, u, res.Container)
}

// extract returns the text to classify and the free-form description.
// Plain text bypasses the adapters.
func (s *Service) extract(ctx context.Context, u *unit, in domain.RawInput) (string, string, error) {
	text := strings.TrimSpace(in.Text)
	if len(in.Media) == 0 {
		return text, text, nil
	}
	if s.deps.Extractor == nil {
		err := newError(KindExtractionFailure, tracer.HopExtraction, "no_extractor", nil)
		u.trace.Fail(domain.StageExtraction, err, nil)
		return "", "", err
	}

	results := s.deps.Extractor.ExtractAll(ctx, in.Media)
	merged, err := extraction.Merge(text, results)
	if err != nil {
		e := newError(KindExtractionFailure, tracer.HopExtraction, "nothing_usable", err)
		u.trace.Fail(domain.StageExtraction, e, results)
		return "", "", e
	}
	u.trace.Record(domain.StageExtraction, domain.StatusOK, map[string]any{"results": results, "confidence": merged.Confidence})
	return merged.Text, merged.Description, nil
}

func (s *Service) classify(ctx context.Context, u *unit, text string) (domain.ClassificationResult, error) {
	policy := s.opts.ClassifyRetry
	var last error
	for attempt := 1; attempt <= policy.Attempts(); attempt++ {
		if err := policy.Wait(ctx, attempt); err != nil {
			last = err
			break
		}
		res, err := s.deps.Classifier.Classify(ctx, text)
		if err == nil {
			u.trace.Record(domain.StageClassification, domain.StatusOK, res)
			if !res.Ambiguous {
				u.trace.SetContainer(res.Container)
			}
			return res, nil
		}
		last = err
		u.log.Warn("classification attempt failed", "attempt", attempt, "err", err)
		if attempt < policy.Attempts() {
			u.trace.RecordError(domain.StageClassification, domain.StatusRetry, err, map[string]int{"attempt": attempt})
		}
	}
	e := newError(KindClassificationUnavailable, tracer.HopUnderstanding, "classification_unavailable", last)
	u.trace.Fail(domain.StageClassification, e, nil)
	return domain.ClassificationResult{}, e
}

// ready shapes and validates under c, then either asks for macro consent or persists.
func (s *Service) ready(ctx context.Context, u *unit, c domain.Container) (Reply, error) {
	sess := u.sess
	u.trace.SetContainer(c)

	rec, err := s.deps.Shaper.Shape(ctx, shaper.Request{
		Text:        sess.Text,
		Description: sess.Description,
		Container:   c,
		ChatID:      sess.ChatID,
		Date:        sess.Date,
	})
	if err != nil {
		e := newError(KindSchemaRejected, tracer.HopUnderstanding, "shape_failed", err)
		u.trace.Fail(domain.StageShaping, e, nil)
		if ferr := s.fire(u, negotiation.EventRejected); ferr != nil {
			return s.internal(ctx, u, ferr)
		}
		return s.fail(ctx, u, domain.OutcomeRejected, e, hopFailure(sess, tracer.HopUnderstanding, ""))
	}
	u.trace.Record(domain.StageShaping, domain.StatusOK, rec)

	if err := s.deps.Validator.Validate(rec); err != nil {
		return s.rejected(ctx, u, err)
	}
	u.trace.Record(domain.StageValidation, domain.StatusOK, nil)
	sess.Record = rec

	if desc, ok := s.needsConsent(sess); ok {
		if err := s.fire(u, negotiation.EventPartialMacros); err != nil {
			return s.internal(ctx, u, err)
		}
		return s.ask(ctx, u, consentQuestion(sess, desc, false))
	}
	if err := s.fire(u, negotiation.EventComplete); err != nil {
		return s.internal(ctx, u, err)
	}
	return s.persist(ctx, u, "")
}

// needsConsent reports whether a food record has no macros but a description
// worth estimating from, and returns that description.
func (s *Service) needsConsent(sess *domain.NegotiationSession) (string, bool) {
	food, ok := sess.Record.(*domain.FoodRecord)
	if !ok || !food.MacrosEmpty() || s.deps.Estimator == nil {
		return "", false
	}
	return describe(sess)
}

// describe returns the meal description macros would be estimated from.
func describe(sess *domain.NegotiationSession) (string, bool) {
	food, ok := sess.Record.(*domain.FoodRecord)
	if !ok {
		return "", false
	}
	if food.MealName != nil && strings.TrimSpace(*food.MealName) != "" {
		return *food.MealName, true
	}
	if d := strings.TrimSpace(sess.Description); d != "" {
		return d, true
	}
	return "", false
}

func (s *Service) rejected(ctx context.Context, u *unit, err error) (Reply, error) {
	reason, next := "validation_failed", ""
	var rej *validator.Rejected
	if errors.As(err, &rej) && len(rej.Reasons) > 0 {
		reason = string(rej.Reasons[0].Code)
		next = rej.NextAction()
	}
	e := newError(KindSchemaRejected, tracer.HopUnderstanding, reason, err)
	u.trace.Fail(domain.StageValidation, e, err)
	if ferr := s.fire(u, negotiation.EventRejected); ferr != nil {
		return s.internal(ctx, u, ferr)
	}
	return s.fail(ctx, u, domain.OutcomeRejected, e, hopFailure(u.sess, tracer.HopUnderstanding, next))
}

// fire applies ev to the unit's session and traces the transition.
func (s *Service) fire(u *unit, ev negotiation.Event) error {
	from := u.sess.State
	if err := negotiation.Fire(u.sess, ev, s.now()); err != nil {
		u.trace.Fail(domain.StageNegotiation, err, nil)
		return err
	}
	u.trace.Record(domain.StageNegotiation, domain.StatusOK, map[string]any{"from": from, "event": ev, "to": u.sess.State})
	return nil
}

// ask saves the session with a fresh deadline and returns the question.
func (s *Service) ask(ctx context.Context, u *unit, q Reply) (Reply, error) {
	negotiation.Extend(u.sess, s.now(), s.opts.SessionTTL)
	if err := s.deps.Sessions.Save(ctx, u.sess); err != nil {
		return s.internal(ctx, u, fmt.Errorf("save session: %w", err))
	}
	u.trace.Finish(ctx, domain.OutcomePending, "")
	u.log.Info("question asked", "question", u.sess.Question)
	return q, nil
}

func (s *Service) fileUnknown(ctx context.Context, u *unit) Reply {
	u.trace.SetContainer(domain.ContainerUnknown)
	s.release(ctx, u)
	u.trace.Finish(ctx, domain.OutcomeUnclassified, "")
	u.log.Info("input filed under unknown")
	return Reply{
		Kind:          ReplyFiled,
		ChatID:        u.sess.ChatID,
		CorrelationID: u.sess.CorrelationID,
		Text:          "I couldn't tell whether that was food, sleep or exercise, so I filed it under unknown.",
		Container:     domain.ContainerUnknown,
	}
}

// fail ends the unit with outcome and returns reply together with err.
func (s *Service) fail(ctx context.Context, u *unit, outcome domain.EntryOutcome, err error, reply Reply) (Reply, error) {
	s.release(ctx, u)
	u.trace.Finish(ctx, outcome, err.Error())
	u.log.Warn("unit of work failed", "outcome", outcome, "err", err)
	var pe *Error
	if !errors.As(err, &pe) {
		pe = newError(KindInternal, reply.Hop, "internal_error", err)
	}
	return reply, pe
}

func (s *Service) internal(ctx context.Context, u *unit, err error) (Reply, error) {
	e := newError(KindInternal, tracer.HopNone, "internal_error", err)
	return s.fail(ctx, u, domain.OutcomeFailed, e, failure(u.sess, tracer.HopNone, "Something went wrong on my side. Please send that again.", ""))
}

// release drops a stored session once its unit of work is over.
func (s *Service) release(ctx context.Context, u *unit) {
	if u.sess.Version == 0 {
		return
	}
	if err := s.deps.Sessions.Delete(ctx, u.sess.ChatID, u.sess.CorrelationID); err != nil {
		u.log.Error("delete session failed", "err", err)
	}
}
