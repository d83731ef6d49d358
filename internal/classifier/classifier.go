// Package classifier maps normalized text to a container verdict.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"yaha-bot/internal/domain"
)

// ErrUnavailable means the reasoning fallback failed or timed out. It is not
// the same as an unknown verdict: callers may retry it.
var ErrUnavailable = errors.New("classifier: classification unavailable")

// DefaultThreshold is the share of the total signal score a single container
// needs before it is accepted without asking.
const DefaultThreshold = 0.6

// Reasoner is the optional fallback consulted when the lexical ruleset finds
// no container signal at all.
type Reasoner interface {
	Classify(ctx context.Context, text string) (domain.ClassificationResult, error)
}

type Classifier struct {
	threshold float64
	reasoner  Reasoner
	timeout   time.Duration
}

type Option func(*Classifier)

// WithReasoner enables the reasoning fallback.
func WithReasoner(r Reasoner) Option {
	return func(c *Classifier) {
		c.reasoner = r
	}
}

// WithTimeout bounds each fallback call.
func WithTimeout(d time.Duration) Option {
	return func(c *Classifier) {
		c.timeout = d
	}
}

// New creates a Classifier. A threshold outside (0,1] falls back to DefaultThreshold.
func New(threshold float64, opts ...Option) *Classifier {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	c := &Classifier{threshold: threshold}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify returns a verdict for text. Ambiguous verdicts list their
// candidates; an empty candidate set routes to unknown. The only error is
// ErrUnavailable from the fallback.
func (c *Classifier) Classify(ctx context.Context, text string) (domain.ClassificationResult, error) {
	res, strong := lexical(text, c.threshold)
	if strong > 0 || c.reasoner == nil || strings.TrimSpace(text) == "" {
		return res, nil
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	fallback, err := c.reasoner.Classify(ctx, text)
	if err != nil {
		slog.Warn("classifier fallback failed", "err", err)
		return domain.ClassificationResult{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if fallback.RulesetVersion == "" {
		fallback.RulesetVersion = "reasoning"
	}
	fallback.RulesetVersion = RulesetVersion + "+" + fallback.RulesetVersion
	if !fallback.Ambiguous && fallback.Confidence < c.threshold {
		// Low-confidence picks are questions, never silent defaults.
		fallback.Candidates = []domain.Container{fallback.Container}
		fallback.Container = domain.ContainerUnknown
		fallback.Ambiguous = true
	}
	return fallback, nil
}
