package classifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"yaha-bot/internal/domain"
)

type fakeReasoner struct {
	res   domain.ClassificationResult
	err   error
	calls int
	block bool
}

func (f *fakeReasoner) Classify(ctx context.Context, _ string) (domain.ClassificationResult, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return domain.ClassificationResult{}, ctx.Err()
	}
	return f.res, f.err
}

func TestLexical_Scenarios(t *testing.T) {
	cases := []struct {
		name       string
		text       string
		container  domain.Container
		ambiguous  bool
		candidates []domain.Container
	}{
		{"food with kcal", "oats with protein powder, 520 kcal", domain.ContainerFood, false, nil},
		{"glued unit", "chicken wrap 610kcal", domain.ContainerFood, false, nil},
		{"sleep with resting hr", "slept 7h, resting HR 55", domain.ContainerSleep, false, nil},
		{"exercise burn is not food", "ran 5km, burned 400 calories", domain.ContainerExercise, false, nil},
		{"energy and walking", "energy was low after lunch but I walked a lot", domain.ContainerUnknown, true,
			[]domain.Container{domain.ContainerSleep, domain.ContainerExercise}},
		{"meal word alone", "after lunch", domain.ContainerUnknown, true, []domain.Container{domain.ContainerFood}},
		{"gibberish", "qwerty zxcv", domain.ContainerUnknown, true, nil},
		{"empty", "   ", domain.ContainerUnknown, true, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Lexical(tc.text, DefaultThreshold)
			require.Equal(t, tc.container, res.Container)
			require.Equal(t, tc.ambiguous, res.Ambiguous)
			require.Equal(t, tc.candidates, res.Candidates)
			require.Equal(t, RulesetVersion, res.RulesetVersion)
			require.GreaterOrEqual(t, res.Confidence, 0.0)
			require.LessOrEqual(t, res.Confidence, 1.0)
		})
	}
}

func TestLexical_Deterministic(t *testing.T) {
	text := "slept badly after a hard gym session and a big dinner"
	first := Lexical(text, DefaultThreshold)
	for range 20 {
		require.Equal(t, first, Lexical(text, DefaultThreshold))
	}
	require.True(t, first.Ambiguous)
	require.ElementsMatch(t, []domain.Container{domain.ContainerSleep, domain.ContainerExercise}, first.Candidates)
}

func TestLexical_SingleMatchBelowThreshold(t *testing.T) {
	// food 1 against sleep 0.5: two thirds of the total score.
	res := Lexical("snack while tired", 0.7)
	require.True(t, res.Ambiguous)
	require.Equal(t, []domain.Container{domain.ContainerFood, domain.ContainerSleep}, res.Candidates)

	res = Lexical("snack while tired", 0.6)
	require.False(t, res.Ambiguous)
	require.Equal(t, domain.ContainerFood, res.Container)
	require.InDelta(t, 1/1.5, res.Confidence, 1e-9)
}

func TestClassify_FallbackOnlyWithoutSignal(t *testing.T) {
	r := &fakeReasoner{res: domain.ClassificationResult{Container: domain.ContainerFood, Confidence: 0.9, RulesetVersion: "reasoning:gpt"}}
	c := New(0.6, WithReasoner(r))

	res, err := c.Classify(context.Background(), "oats with protein powder, 520 kcal")
	require.NoError(t, err)
	require.Equal(t, domain.ContainerFood, res.Container)
	require.Equal(t, 0, r.calls)

	res, err = c.Classify(context.Background(), "energy was low after lunch but I walked a lot")
	require.NoError(t, err)
	require.True(t, res.Ambiguous)
	require.Equal(t, 0, r.calls)

	_, err = c.Classify(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, 0, r.calls)

	res, err = c.Classify(context.Background(), "a bowl of pho")
	require.NoError(t, err)
	require.Equal(t, 1, r.calls)
	require.Equal(t, domain.ContainerFood, res.Container)
	require.Equal(t, "lexical-v1+reasoning:gpt", res.RulesetVersion)
}

func TestClassify_LowConfidenceFallbackBecomesQuestion(t *testing.T) {
	r := &fakeReasoner{res: domain.ClassificationResult{Container: domain.ContainerSleep, Confidence: 0.3}}
	res, err := New(0.6, WithReasoner(r)).Classify(context.Background(), "zzz")
	require.NoError(t, err)
	require.True(t, res.Ambiguous)
	require.Equal(t, domain.ContainerUnknown, res.Container)
	require.Equal(t, []domain.Container{domain.ContainerSleep}, res.Candidates)
}

func TestClassify_UnavailableIsDistinctFromUnknown(t *testing.T) {
	upstream := errors.New("503")
	_, err := New(0.6, WithReasoner(&fakeReasoner{err: upstream})).Classify(context.Background(), "pho")
	require.ErrorIs(t, err, ErrUnavailable)
	require.ErrorIs(t, err, upstream)

	_, err = New(0.6, WithReasoner(&fakeReasoner{block: true}), WithTimeout(10*time.Millisecond)).
		Classify(context.Background(), "pho")
	require.ErrorIs(t, err, ErrUnavailable)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNew_ThresholdDefault(t *testing.T) {
	require.Equal(t, DefaultThreshold, New(0).threshold)
	require.Equal(t, DefaultThreshold, New(1.5).threshold)
	require.Equal(t, 0.8, New(0.8).threshold)
}
