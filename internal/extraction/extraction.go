// Package extraction is the boundary to the OCR, speech and file-text
// adapters. Adapters live outside this module; the pipeline only consumes them
// through Adapter.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"yaha-bot/internal/domain"
)

var (
	// ErrNoAdapter is reported when no adapter is registered for a media kind.
	ErrNoAdapter = errors.New("extraction: no adapter for input kind")
	// ErrNothingUsable is returned by Merge when neither a caption nor any
	// attachment produced text.
	ErrNothingUsable = errors.New("extraction: no usable text")
)

// Adapter turns one media reference into plain text. Implementations report
// failure through ExtractionResult.Error.
type Adapter interface {
	Extract(ctx context.Context, ref domain.MediaRef) domain.ExtractionResult
}

// AdapterFunc adapts a function to Adapter.
type AdapterFunc func(ctx context.Context, ref domain.MediaRef) domain.ExtractionResult

func (f AdapterFunc) Extract(ctx context.Context, ref domain.MediaRef) domain.ExtractionResult {
	return f(ctx, ref)
}

// Registry dispatches media references to the adapter registered for their kind.
type Registry struct {
	mu       sync.RWMutex
	adapters map[domain.InputKind]Adapter
	timeout  time.Duration
}

// NewRegistry creates an empty Registry. A positive timeout bounds every call.
func NewRegistry(timeout time.Duration) *Registry {
	return &Registry{adapters: make(map[domain.InputKind]Adapter), timeout: timeout}
}

// Register installs a for kind, replacing any previous adapter.
func (r *Registry) Register(kind domain.InputKind, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[kind] = a
}

func (r *Registry) lookup(kind domain.InputKind) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[kind]
	return a, ok
}

// Extract runs the adapter for ref. It never panics and never returns an
// error; every failure is folded into the result.
func (r *Registry) Extract(ctx context.Context, ref domain.MediaRef) (res domain.ExtractionResult) {
	res.SourceKind = ref.Kind
	a, ok := r.lookup(ref.Kind)
	if !ok {
		res.Error = fmt.Sprintf("%v: %s", ErrNoAdapter, ref.Kind)
		return res
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	defer func() {
		if p := recover(); p != nil {
			res = domain.ExtractionResult{SourceKind: ref.Kind, Error: fmt.Sprintf("extraction: adapter panic: %v", p)}
		}
	}()

	out := a.Extract(ctx, ref)
	out.SourceKind = ref.Kind
	out.Text = strings.TrimSpace(out.Text)
	out.Confidence = clamp01(out.Confidence)
	if out.Error == "" && ctx.Err() != nil {
		out.Error = fmt.Sprintf("extraction: %v", ctx.Err())
	}
	return out
}

// ExtractAll extracts every reference concurrently. Results keep the order of refs.
func (r *Registry) ExtractAll(ctx context.Context, refs []domain.MediaRef) []domain.ExtractionResult {
	results := make([]domain.ExtractionResult, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	for i, ref := range refs {
		g.Go(func() error {
			results[i] = r.Extract(gctx, ref)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Merged is the deterministic combination of a caption and attachment texts.
type Merged struct {
	// Text is what the classifier and shaper read. Label text from images and
	// files comes first so its figures win over figures in the caption.
	Text string
	// Description is the free-form description: the caption, else a transcript.
	Description string
	Confidence  float64
}

// Merge combines a caption with extraction results. Image and file text is
// authoritative for label-style figures; caption text is authoritative for the
// free-form description.
func Merge(caption string, results []domain.ExtractionResult) (Merged, error) {
	caption = strings.TrimSpace(caption)
	var labels, transcripts []string
	confidence := 1.0
	used := caption != ""

	for _, r := range results {
		if !r.Usable() {
			continue
		}
		used = true
		confidence = min(confidence, r.Confidence)
		switch r.SourceKind {
		case domain.KindAudio:
			transcripts = append(transcripts, r.Text)
		default:
			labels = append(labels, r.Text)
		}
	}
	if !used {
		return Merged{}, ErrNothingUsable
	}

	description := caption
	if description == "" && len(transcripts) > 0 {
		description = transcripts[0]
	}

	parts := make([]string, 0, len(labels)+len(transcripts)+1)
	parts = append(parts, labels...)
	if caption != "" {
		parts = append(parts, caption)
	}
	parts = append(parts, transcripts...)

	return Merged{
		Text:        strings.Join(parts, "\n"),
		Description: description,
		Confidence:  confidence,
	}, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
