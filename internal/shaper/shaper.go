// Package shaper turns classified text into a strict container record.
// Any field the text does not state is left null.
package shaper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"yaha-bot/internal/domain"
)

// Request is one shaping call. ChatID and Date come from the caller, never
// from the text.
type Request struct {
	Text string
	// Description is the free-form description, authoritative for meal names.
	// Empty means use Text.
	Description string
	Container   domain.Container
	ChatID      string
	Date        string
}

// Reasoner shapes text through the reasoning service. *reasoning.Client
// satisfies it.
type Reasoner interface {
	Shape(ctx context.Context, text string, c domain.Container) (domain.Record, error)
}

type Shaper struct {
	reasoner Reasoner
	timeout  time.Duration
}

type Option func(*Shaper)

// WithReasoner fills fields the lexical pass left null from the reasoning
// service. Lexical values always win.
func WithReasoner(r Reasoner) Option {
	return func(s *Shaper) {
		s.reasoner = r
	}
}

// WithTimeout bounds each reasoning call.
func WithTimeout(d time.Duration) Option {
	return func(s *Shaper) {
		s.timeout = d
	}
}

func New(opts ...Option) *Shaper {
	s := &Shaper{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Shape builds the record for req.Container. It fails only for a request it
// cannot shape at all; unparseable values become nulls.
func (s *Shaper) Shape(ctx context.Context, req Request) (domain.Record, error) {
	rec, err := Lexical(req)
	if err != nil || s.reasoner == nil {
		return rec, err
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	extra, err := s.reasoner.Shape(ctx, req.Text, req.Container)
	if err != nil {
		slog.Warn("reasoning shape failed, keeping lexical fields", "container", req.Container, "err", err)
		return rec, nil
	}
	merged, err := fillNulls(rec, extra)
	if err != nil {
		slog.Warn("merge reasoning shape", "container", req.Container, "err", err)
		return rec, nil
	}
	return merged, nil
}

// Lexical shapes req with the deterministic field patterns only.
func Lexical(req Request) (domain.Record, error) {
	if !req.Container.Storable() {
		return nil, fmt.Errorf("shaper: container %q has no record shape", req.Container)
	}
	if strings.TrimSpace(req.ChatID) == "" {
		return nil, errors.New("shaper: chat id is required")
	}
	meta := domain.Meta{ChatID: req.ChatID, Date: req.Date}
	return shapeLexical(req.Text, strings.TrimSpace(req.Description), req.Container, meta), nil
}

// callerFields are never taken from a reasoning response.
var callerFields = map[string]bool{"chat_id": true, "date": true, "estimated_fields": true}

// fillNulls copies every non-null field of extra into the matching null field
// of base and returns the result as a new record.
func fillNulls(base, extra domain.Record) (domain.Record, error) {
	if extra == nil || base.Container() != extra.Container() {
		return nil, errors.New("shaper: reasoning record does not match container")
	}
	baseMap, err := toMap(base)
	if err != nil {
		return nil, err
	}
	extraMap, err := toMap(extra)
	if err != nil {
		return nil, err
	}
	for k, v := range extraMap {
		if callerFields[k] || isNull(v) {
			continue
		}
		if cur, ok := baseMap[k]; ok && !isNull(cur) {
			continue
		}
		baseMap[k] = v
	}
	raw, err := json.Marshal(baseMap)
	if err != nil {
		return nil, fmt.Errorf("shaper: marshal merged record: %w", err)
	}
	out := domain.NewRecord(base.Container(), "", "")
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("shaper: unmarshal merged record: %w", err)
	}
	return out, nil
}

func toMap(r domain.Record) (map[string]json.RawMessage, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("shaper: marshal record: %w", err)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("shaper: unmarshal record: %w", err)
	}
	return m, nil
}

func isNull(v json.RawMessage) bool {
	s := strings.TrimSpace(string(v))
	return s == "" || s == "null" || s == "[]"
}
