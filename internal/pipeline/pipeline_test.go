package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"yaha-bot/internal/classifier"
	"yaha-bot/internal/domain"
	"yaha-bot/internal/extraction"
	"yaha-bot/internal/negotiation"
	"yaha-bot/internal/persistence"
	"yaha-bot/internal/retry"
	"yaha-bot/internal/shaper"
	"yaha-bot/internal/tracer"
	"yaha-bot/internal/validator"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeStore keeps rows by dedupe key. failures are consumed one per Insert;
// a failure with landed=true stores the row before failing.
type fakeStore struct {
	mu       sync.Mutex
	rows     map[string]domain.Record
	keys     []string
	failures []storeFailure
}

type storeFailure struct {
	status int
	landed bool
}

func newFakeStore(failures ...storeFailure) *fakeStore {
	return &fakeStore{rows: make(map[string]domain.Record), failures: failures}
}

func (f *fakeStore) Insert(_ context.Context, rec domain.Record, key, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	if len(f.failures) > 0 {
		fail := f.failures[0]
		f.failures = f.failures[1:]
		if fail.landed {
			f.rows[key] = rec
		}
		return "", &persistence.StoreError{Status: fail.status, Body: `{"message":"upstream"}`}
	}
	if _, ok := f.rows[key]; ok {
		return "", &persistence.StoreError{Status: http.StatusConflict, Body: `{"code":"23505"}`}
	}
	f.rows[key] = rec
	return fmt.Sprintf("row-%d", len(f.rows)), nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

type memorySink struct {
	mu      sync.Mutex
	entries []domain.ShadowLogEntry
}

func (m *memorySink) AppendEntry(_ context.Context, e domain.ShadowLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memorySink) EntriesByCorrelation(_ context.Context, id string) ([]domain.ShadowLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ShadowLogEntry
	for _, e := range m.entries {
		if e.CorrelationID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memorySink) all() []domain.ShadowLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ShadowLogEntry(nil), m.entries...)
}

type fakeEstimator struct {
	mu     sync.Mutex
	macros domain.Macros
	err    error
	calls  []string
}

func (f *fakeEstimator) EstimateMacros(_ context.Context, description string) (domain.Macros, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, description)
	return f.macros, f.err
}

type unavailableClassifier struct {
	failures int
	calls    int
}

func (u *unavailableClassifier) Classify(ctx context.Context, text string) (domain.ClassificationResult, error) {
	u.calls++
	if u.calls <= u.failures {
		return domain.ClassificationResult{}, fmt.Errorf("%w: reasoning timeout", classifier.ErrUnavailable)
	}
	return classifier.New(classifier.DefaultThreshold).Classify(ctx, text)
}

type harness struct {
	svc      *Service
	store    *fakeStore
	sessions *negotiation.MemoryStore
	sink     *memorySink
	clock    *clock
}

type setup struct {
	store      *fakeStore
	estimator  Estimator
	classifier Classifier
	extractor  Extractor
}

func newHarness(t *testing.T, s setup) *harness {
	t.Helper()
	if s.store == nil {
		s.store = newFakeStore()
	}
	if s.classifier == nil {
		s.classifier = classifier.New(classifier.DefaultThreshold)
	}
	clk := &clock{t: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}
	sink := &memorySink{}
	tr, err := tracer.New(sink, tracer.WithClock(clk.now))
	require.NoError(t, err)
	writer, err := persistence.NewWriter(s.store, time.Second)
	require.NoError(t, err)
	sessions := negotiation.NewMemoryStore()

	opts := DefaultOptions()
	opts.ClassifyRetry = retry.Policy{MaxAttempts: 3}
	opts.PersistRetry = retry.Policy{MaxAttempts: 3}

	svc, err := New(Deps{
		Extractor:  s.extractor,
		Classifier: s.classifier,
		Shaper:     shaper.New(),
		Validator:  validator.New(validator.DefaultLimits()),
		Estimator:  s.estimator,
		Writer:     writer,
		Sessions:   sessions,
		Tracer:     tr,
	}, opts, WithClock(clk.now))
	require.NoError(t, err)
	return &harness{svc: svc, store: s.store, sessions: sessions, sink: sink, clock: clk}
}

func (h *harness) send(t *testing.T, chatID, text string) (Reply, error) {
	t.Helper()
	return h.svc.Handle(context.Background(), domain.RawInput{
		ChatID:    chatID,
		Timestamp: h.clock.now(),
		Kind:      domain.KindText,
		Text:      text,
	})
}

func field(t *testing.T, r Reply, name string) Field {
	t.Helper()
	for _, f := range r.Fields {
		if f.Name == name {
			return f
		}
	}
	t.Fatalf("field %s not in reply", name)
	return Field{}
}

func requireNoSession(t *testing.T, h *harness, chatID string) {
	t.Helper()
	_, err := h.sessions.Pending(context.Background(), chatID)
	require.ErrorIs(t, err, negotiation.ErrNotFound)
}

func TestNew_ValidatesDependencies(t *testing.T) {
	_, err := New(Deps{}, DefaultOptions())
	require.Error(t, err)
}

func TestHandle_InvalidInput(t *testing.T) {
	h := newHarness(t, setup{})
	_, err := h.send(t, " ", "520 kcal")
	var pe *Error
	require.ErrorAs(t, err, &pe)
	require.Equal(t, KindInvalidInput, pe.Kind)

	_, err = h.svc.Handle(context.Background(), domain.RawInput{ChatID: "chat-1", Kind: "video"})
	require.ErrorAs(t, err, &pe)
	require.Equal(t, "invalid_input_kind", pe.Reason)
}

func TestHandle_UnambiguousFoodIsPersisted(t *testing.T) {
	h := newHarness(t, setup{})

	r, err := h.send(t, "chat-1", "oats with protein powder, 520 kcal")
	require.NoError(t, err)
	require.Equal(t, ReplyConfirmed, r.Kind)
	require.Equal(t, domain.ContainerFood, r.Container)
	require.Equal(t, "2025-03-01", r.Date)
	require.Equal(t, "oats with protein powder", field(t, r, "meal_name").Value)
	require.Equal(t, "520", field(t, r, "calories").Value)
	for _, name := range []string{"protein_g", "carbs_g", "fat_g", "fiber_g"} {
		require.Equal(t, "null", field(t, r, name).Value, name)
	}
	require.Contains(t, r.Text, "calories: 520")
	require.Equal(t, 1, h.store.count())
	requireNoSession(t, h, "chat-1")

	entries := h.sink.all()
	require.Len(t, entries, 1)
	require.Equal(t, domain.OutcomePersisted, entries[0].Outcome)
	require.Equal(t, domain.ContainerFood, entries[0].Container)
	require.Equal(t, r.CorrelationID, entries[0].CorrelationID)
}

func TestHandle_AmbiguousWaitsForContainerChoice(t *testing.T) {
	h := newHarness(t, setup{})

	q, err := h.send(t, "chat-1", "energy was low after lunch but I walked a lot")
	require.NoError(t, err)
	require.Equal(t, ReplyQuestion, q.Kind)
	require.Equal(t, domain.QuestionContainerChoice, q.Question)
	require.Equal(t, []string{"sleep", "exercise", negotiation.OptionSomethingElse}, q.Options)
	require.Zero(t, h.store.count())

	sess, err := h.sessions.Pending(context.Background(), "chat-1")
	require.NoError(t, err)
	require.Equal(t, domain.StateAwaitingContainerChoice, sess.State)
	require.Equal(t, q.CorrelationID, sess.CorrelationID)

	r, err := h.send(t, "chat-1", "exercise")
	require.NoError(t, err)
	require.Equal(t, ReplyConfirmed, r.Kind)
	require.Equal(t, domain.ContainerExercise, r.Container)
	require.Equal(t, "walk", field(t, r, "workout_name").Value)
	require.Equal(t, q.CorrelationID, r.CorrelationID)
	require.Equal(t, 1, h.store.count())
	requireNoSession(t, h, "chat-1")

	d, entries, err := tracer.Lookup(context.Background(), h.sink, q.CorrelationID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, domain.OutcomePending, entries[0].Outcome)
	require.Equal(t, domain.OutcomePersisted, d.Outcome)
	require.Empty(t, d.FailedStage)
}

func TestHandle_ContainerChoiceByNumber(t *testing.T) {
	h := newHarness(t, setup{})
	_, err := h.send(t, "chat-1", "energy was low after lunch but I walked a lot")
	require.NoError(t, err)

	r, err := h.send(t, "chat-1", "2")
	require.NoError(t, err)
	require.Equal(t, domain.ContainerExercise, r.Container)
}

func TestHandle_SomethingElseFilesUnknown(t *testing.T) {
	h := newHarness(t, setup{})
	_, err := h.send(t, "chat-1", "energy was low after lunch but I walked a lot")
	require.NoError(t, err)

	r, err := h.send(t, "chat-1", "3")
	require.NoError(t, err)
	require.Equal(t, ReplyFiled, r.Kind)
	require.Zero(t, h.store.count())
	requireNoSession(t, h, "chat-1")
	require.Equal(t, domain.OutcomeUnclassified, h.sink.all()[1].Outcome)
}

func TestHandle_UnparseableRepliesAreBounded(t *testing.T) {
	h := newHarness(t, setup{})
	_, err := h.send(t, "chat-1", "energy was low after lunch but I walked a lot")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		r, err := h.send(t, "chat-1", "banana?")
		require.NoError(t, err)
		require.Equal(t, ReplyQuestion, r.Kind)
		require.Contains(t, r.Text, "didn't catch that")
	}

	r, err := h.send(t, "chat-1", "banana?")
	require.NoError(t, err)
	require.Equal(t, ReplyFailed, r.Kind)
	require.Equal(t, tracer.HopUnderstanding, r.Hop)
	require.NotEmpty(t, r.NextAction)
	require.Zero(t, h.store.count())
	requireNoSession(t, h, "chat-1")
}

func TestHandle_CancelAbandonsWithoutWriting(t *testing.T) {
	h := newHarness(t, setup{})
	_, err := h.send(t, "chat-1", "energy was low after lunch but I walked a lot")
	require.NoError(t, err)

	r, err := h.send(t, "chat-1", "Cancel")
	require.NoError(t, err)
	require.Equal(t, ReplyCancelled, r.Kind)
	require.Zero(t, h.store.count())
	requireNoSession(t, h, "chat-1")
	require.Equal(t, domain.OutcomeAbandoned, h.sink.all()[1].Outcome)
}

func TestHandle_SleepWithoutScore(t *testing.T) {
	h := newHarness(t, setup{})
	r, err := h.send(t, "chat-1", "slept 7h, resting HR 55")
	require.NoError(t, err)
	require.Equal(t, ReplyConfirmed, r.Kind)
	require.Equal(t, "7", field(t, r, "duration_hr").Value)
	require.Equal(t, "55", field(t, r, "resting_hr").Value)
	require.Equal(t, "null", field(t, r, "sleep_score").Value)
}

func TestHandle_TransportErrorsRetriedWithSameKey(t *testing.T) {
	store := newFakeStore(storeFailure{status: 503}, storeFailure{status: 0})
	h := newHarness(t, setup{store: store})

	r, err := h.send(t, "chat-1", "slept 7h, resting HR 55")
	require.NoError(t, err)
	require.Equal(t, ReplyConfirmed, r.Kind)
	require.Equal(t, 1, store.count())
	require.Len(t, store.keys, 3)
	require.Equal(t, store.keys[0], store.keys[1])
	require.Equal(t, store.keys[1], store.keys[2])

	var retries int
	for _, ev := range h.sink.all()[0].Events {
		if ev.Stage == domain.StagePersistence && ev.Status == domain.StatusRetry {
			retries++
		}
	}
	require.Equal(t, 2, retries)
}

func TestHandle_LostResponseThenConflictIsPersisted(t *testing.T) {
	store := newFakeStore(storeFailure{status: 504, landed: true})
	h := newHarness(t, setup{store: store})

	r, err := h.send(t, "chat-1", "slept 7h")
	require.NoError(t, err)
	require.Equal(t, ReplyConfirmed, r.Kind)
	require.Contains(t, r.Text, "Already saved")
	require.Equal(t, 1, store.count())
}

func TestHandle_TransportRetriesExhausted(t *testing.T) {
	store := newFakeStore(storeFailure{status: 503}, storeFailure{status: 503}, storeFailure{status: 503})
	h := newHarness(t, setup{store: store})

	r, err := h.send(t, "chat-1", "slept 7h")
	var pe *Error
	require.ErrorAs(t, err, &pe)
	require.Equal(t, KindPersistenceTransport, pe.Kind)
	require.Equal(t, tracer.HopSaving, pe.Hop)
	require.Equal(t, ReplyFailed, r.Kind)
	require.Contains(t, r.Text, "couldn't save")
	require.NotContains(t, r.Text, "upstream")
	require.Zero(t, store.count())

	d := tracer.Diagnose(h.sink.all())
	require.Equal(t, domain.StagePersistence, d.FailedStage)
	require.Equal(t, tracer.HopSaving, d.Hop)
	require.Equal(t, domain.OutcomeFailed, d.Outcome)
}

func TestHandle_StoreSchemaRejection(t *testing.T) {
	store := newFakeStore(storeFailure{status: 400})
	h := newHarness(t, setup{store: store})

	r, err := h.send(t, "chat-1", "slept 7h")
	var pe *Error
	require.ErrorAs(t, err, &pe)
	require.Equal(t, KindSchemaRejected, pe.Kind)
	require.Equal(t, tracer.HopSaving, r.Hop)
	require.Len(t, store.keys, 1)
	require.Equal(t, domain.OutcomeRejected, h.sink.all()[0].Outcome)
}

func TestHandle_ValidationRejectionBlocksWrite(t *testing.T) {
	h := newHarness(t, setup{})
	r, err := h.send(t, "chat-1", "slept 7h, sleep score 150")
	var pe *Error
	require.ErrorAs(t, err, &pe)
	require.Equal(t, KindSchemaRejected, pe.Kind)
	require.Equal(t, string(validator.CodeOutOfRange), pe.Reason)
	require.Equal(t, tracer.HopUnderstanding, r.Hop)
	require.NotEmpty(t, r.NextAction)
	require.Zero(t, h.store.count())

	d := tracer.Diagnose(h.sink.all())
	require.Equal(t, domain.StageValidation, d.FailedStage)
}

func TestHandle_EmptyAndGibberishFiledUnknown(t *testing.T) {
	for _, text := range []string{"", "qwerty zxcv"} {
		h := newHarness(t, setup{})
		r, err := h.send(t, "chat-1", text)
		require.NoError(t, err, text)
		require.Equal(t, ReplyFiled, r.Kind)
		require.Equal(t, domain.ContainerUnknown, r.Container)
		require.Zero(t, h.store.count())
		requireNoSession(t, h, "chat-1")

		entries := h.sink.all()
		require.Len(t, entries, 1)
		require.Equal(t, domain.OutcomeUnclassified, entries[0].Outcome)
		require.Equal(t, domain.ContainerUnknown, entries[0].Container)
	}
}

func TestHandle_MacroConsentYesEstimates(t *testing.T) {
	est := &fakeEstimator{macros: domain.Macros{Calories: domain.Float(600), ProteinG: domain.Float(40)}}
	h := newHarness(t, setup{estimator: est})

	q, err := h.send(t, "chat-1", "chicken rice")
	require.NoError(t, err)
	require.Equal(t, domain.QuestionMacroConsent, q.Question)
	require.Zero(t, h.store.count())
	require.Empty(t, est.calls)

	r, err := h.send(t, "chat-1", "yes")
	require.NoError(t, err)
	require.Equal(t, ReplyConfirmed, r.Kind)
	require.Equal(t, []string{"chicken rice"}, est.calls)

	cal := field(t, r, "calories")
	require.Equal(t, "600", cal.Value)
	require.True(t, cal.Estimated)
	require.False(t, field(t, r, "meal_name").Estimated)
	require.Equal(t, "null", field(t, r, "fat_g").Value)
	require.Contains(t, r.Text, "calories: 600 (estimated)")

	for _, rec := range h.store.rows {
		require.ElementsMatch(t, []string{"calories", "protein_g"}, rec.Header().Estimated)
	}
}

func TestHandle_MacroConsentNoKeepsNulls(t *testing.T) {
	est := &fakeEstimator{macros: domain.Macros{Calories: domain.Float(600)}}
	h := newHarness(t, setup{estimator: est})

	_, err := h.send(t, "chat-1", "chicken rice")
	require.NoError(t, err)
	r, err := h.send(t, "chat-1", "skip")
	require.NoError(t, err)
	require.Equal(t, ReplyConfirmed, r.Kind)
	require.Empty(t, est.calls)
	require.Equal(t, "null", field(t, r, "calories").Value)
	require.False(t, field(t, r, "calories").Estimated)
}

func TestEstimate_RequiresConsent(t *testing.T) {
	est := &fakeEstimator{macros: domain.Macros{Calories: domain.Float(600)}}
	h := newHarness(t, setup{estimator: est})

	sess := negotiation.NewSession("chat-1", "corr-1", time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC), time.Minute)
	sess.Record = &domain.FoodRecord{
		Meta:     domain.Meta{ChatID: "chat-1", Date: "2025-03-01"},
		MealName: domain.String("chicken rice"),
	}
	u := h.svc.newUnit(sess, domain.InputRef{Kind: domain.KindText, Text: "chicken rice"})

	note := h.svc.estimate(context.Background(), u)
	require.Contains(t, note, "couldn't estimate")
	require.Empty(t, est.calls)
	require.True(t, sess.Record.(*domain.FoodRecord).MacrosEmpty())

	no := false
	sess.Consent = &no
	h.svc.estimate(context.Background(), u)
	require.Empty(t, est.calls)
}

func TestHandle_EstimationFailureSavesNulls(t *testing.T) {
	est := &fakeEstimator{err: errors.New("reasoning down")}
	h := newHarness(t, setup{estimator: est})

	_, err := h.send(t, "chat-1", "chicken rice")
	require.NoError(t, err)
	r, err := h.send(t, "chat-1", "yes")
	require.NoError(t, err)
	require.Equal(t, ReplyConfirmed, r.Kind)
	require.Contains(t, r.Text, "couldn't estimate")
	require.Equal(t, "null", field(t, r, "calories").Value)
}

func TestHandle_NoEstimatorSkipsConsent(t *testing.T) {
	h := newHarness(t, setup{})
	r, err := h.send(t, "chat-1", "chicken rice")
	require.NoError(t, err)
	require.Equal(t, ReplyConfirmed, r.Kind)
	require.Equal(t, "null", field(t, r, "calories").Value)
}

func TestHandle_ExpiredSessionIsAbandonedLazily(t *testing.T) {
	h := newHarness(t, setup{})
	q, err := h.send(t, "chat-1", "energy was low after lunch but I walked a lot")
	require.NoError(t, err)

	h.clock.advance(31 * time.Minute)
	r, err := h.send(t, "chat-1", "slept 7h")
	require.NoError(t, err)
	require.Equal(t, ReplyConfirmed, r.Kind)
	require.Equal(t, domain.ContainerSleep, r.Container)
	require.NotEqual(t, q.CorrelationID, r.CorrelationID)

	entries, err := h.sink.EntriesByCorrelation(context.Background(), q.CorrelationID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, domain.OutcomeAbandoned, entries[1].Outcome)
}

func TestExpireSessions(t *testing.T) {
	h := newHarness(t, setup{})
	for _, chat := range []string{"chat-1", "chat-2"} {
		_, err := h.send(t, chat, "energy was low after lunch but I walked a lot")
		require.NoError(t, err)
	}

	n, err := h.svc.ExpireSessions(context.Background(), h.clock.now())
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = h.svc.ExpireSessions(context.Background(), h.clock.now().Add(31*time.Minute))
	require.NoError(t, err)
	require.Equal(t, 2, n)
	requireNoSession(t, h, "chat-1")
	requireNoSession(t, h, "chat-2")
	require.Zero(t, h.store.count())
}

func TestHandle_ClassificationRetriedThenUnavailable(t *testing.T) {
	c := &unavailableClassifier{failures: 2}
	h := newHarness(t, setup{classifier: c})
	r, err := h.send(t, "chat-1", "slept 7h")
	require.NoError(t, err)
	require.Equal(t, ReplyConfirmed, r.Kind)
	require.Equal(t, 3, c.calls)

	c = &unavailableClassifier{failures: 5}
	h = newHarness(t, setup{classifier: c})
	r, err = h.send(t, "chat-1", "slept 7h")
	var pe *Error
	require.ErrorAs(t, err, &pe)
	require.Equal(t, KindClassificationUnavailable, pe.Kind)
	require.ErrorIs(t, err, classifier.ErrUnavailable)
	require.Equal(t, tracer.HopUnderstanding, r.Hop)
	require.Equal(t, 3, c.calls)
	require.Equal(t, domain.OutcomeFailed, h.sink.all()[0].Outcome)
}

func TestHandle_AttachmentAndCaption(t *testing.T) {
	reg := extraction.NewRegistry(time.Second)
	reg.Register(domain.KindImage, extraction.AdapterFunc(func(_ context.Context, _ domain.MediaRef) domain.ExtractionResult {
		return domain.ExtractionResult{Text: "Nutrition Facts\nCalories 250\nProtein 20g", Confidence: 0.9}
	}))
	h := newHarness(t, setup{extractor: reg})

	r, err := h.svc.Handle(context.Background(), domain.RawInput{
		ChatID: "chat-1",
		Kind:   domain.KindImage,
		Text:   "protein bar",
		Media:  []domain.MediaRef{{Kind: domain.KindImage, Ref: "photo-1"}},
	})
	require.NoError(t, err)
	require.Equal(t, ReplyConfirmed, r.Kind)
	require.Equal(t, "protein bar", field(t, r, "meal_name").Value)
	require.Equal(t, "250", field(t, r, "calories").Value)
	require.Equal(t, "20", field(t, r, "protein_g").Value)
}

func TestHandle_ExtractionFailure(t *testing.T) {
	reg := extraction.NewRegistry(time.Second)
	h := newHarness(t, setup{extractor: reg})

	r, err := h.svc.Handle(context.Background(), domain.RawInput{
		ChatID: "chat-1",
		Kind:   domain.KindAudio,
		Media:  []domain.MediaRef{{Kind: domain.KindAudio, Ref: "voice-1"}},
	})
	var pe *Error
	require.ErrorAs(t, err, &pe)
	require.Equal(t, KindExtractionFailure, pe.Kind)
	require.Equal(t, tracer.HopExtraction, r.Hop)
	require.Equal(t, tracer.HopExtraction, tracer.Diagnose(h.sink.all()).Hop)
}

func TestHandle_ChatsRunConcurrently(t *testing.T) {
	h := newHarness(t, setup{})
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 20; i++ {
		chat := fmt.Sprintf("chat-%d", i)
		g.Go(func() error {
			r, err := h.svc.Handle(ctx, domain.RawInput{ChatID: chat, Kind: domain.KindText, Text: "slept 7h"})
			if err != nil {
				return err
			}
			if r.Kind != ReplyConfirmed {
				return fmt.Errorf("%s: got %s", chat, r.Kind)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Equal(t, 20, h.store.count())
}

func TestHandle_SameChatMessagesAreSerialised(t *testing.T) {
	h := newHarness(t, setup{})
	_, err := h.send(t, "chat-1", "energy was low after lunch but I walked a lot")
	require.NoError(t, err)

	var wg sync.WaitGroup
	replies := make([]Reply, 2)
	for i, text := range []string{"exercise", "sleep"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			replies[i], _ = h.send(t, "chat-1", text)
		}()
	}
	wg.Wait()

	// One reply resolves the question; the other arrives after it and is a new input.
	require.Equal(t, 1, h.store.count())
	kinds := []ReplyKind{replies[0].Kind, replies[1].Kind}
	require.Contains(t, kinds, ReplyConfirmed)
}
