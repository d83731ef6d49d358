// Package reasoning wraps the external reasoning service. Every response is
// decoded against a strict per-request shape; anything else is ErrMalformed.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"yaha-bot/internal/domain"
)

// LLM is the chat-completions capability the reasoning client needs.
// *openai.Client satisfies it.
type LLM interface {
	Complete(ctx context.Context, messages []domain.ChatMessage, schema *domain.ResponseSchema) (string, error)
}

// Client issues classification, shaping and estimation requests.
type Client struct {
	llm   LLM
	model string
}

// New creates a Client. model is only used to label results.
func New(llm LLM, model string) (*Client, error) {
	if llm == nil {
		return nil, errors.New("reasoning: llm must not be nil")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = "unknown-model"
	}
	return &Client{llm: llm, model: model}, nil
}

// Version labels results produced by this client.
func (c *Client) Version() string { return "reasoning:" + c.model }

type verdictResponse struct {
	Container  string   `json:"container"`
	Confidence float64  `json:"confidence"`
	Ambiguous  bool     `json:"ambiguous"`
	Candidates []string `json:"candidates"`
}

// Classify asks the service for a container verdict on text.
func (c *Client) Classify(ctx context.Context, text string) (domain.ClassificationResult, error) {
	raw, err := c.llm.Complete(ctx, classifyMessages(text), verdictSchema())
	if err != nil {
		return domain.ClassificationResult{}, fmt.Errorf("reasoning: classify: %w", err)
	}
	var v verdictResponse
	if err := decodeStrict(raw, &v); err != nil {
		return domain.ClassificationResult{}, fmt.Errorf("reasoning: classify: %w", err)
	}
	res, err := v.toResult()
	if err != nil {
		return domain.ClassificationResult{}, fmt.Errorf("reasoning: classify: %w", err)
	}
	res.RulesetVersion = c.Version()
	return res, nil
}

func (v verdictResponse) toResult() (domain.ClassificationResult, error) {
	if v.Confidence < 0 || v.Confidence > 1 || math.IsNaN(v.Confidence) {
		return domain.ClassificationResult{}, fmt.Errorf("%w: confidence %v out of range", ErrMalformed, v.Confidence)
	}
	container, ok := domain.ParseContainer(v.Container)
	if !ok {
		return domain.ClassificationResult{}, fmt.Errorf("%w: container %q", ErrMalformed, v.Container)
	}
	var candidates []domain.Container
	for _, s := range v.Candidates {
		cand, ok := domain.ParseContainer(s)
		if !ok || !cand.Storable() {
			return domain.ClassificationResult{}, fmt.Errorf("%w: candidate %q", ErrMalformed, s)
		}
		if !slices.Contains(candidates, cand) {
			candidates = append(candidates, cand)
		}
	}

	switch {
	case v.Ambiguous || container == domain.ContainerUnknown:
		// A single candidate is still a question for the user, never a pick.
		return domain.ClassificationResult{
			Container:  domain.ContainerUnknown,
			Confidence: v.Confidence,
			Ambiguous:  true,
			Candidates: candidates,
		}, nil
	case len(candidates) > 1:
		return domain.ClassificationResult{}, fmt.Errorf("%w: several candidates on an unambiguous verdict", ErrMalformed)
	case len(candidates) == 1 && candidates[0] != container:
		return domain.ClassificationResult{}, fmt.Errorf("%w: candidate disagrees with container", ErrMalformed)
	}
	return domain.ClassificationResult{
		Container:  container,
		Confidence: v.Confidence,
	}, nil
}

// Shape asks the service to fill a record for container from text. The
// returned record carries no chat_id or date; the caller owns those.
func (c *Client) Shape(ctx context.Context, text string, container domain.Container) (domain.Record, error) {
	fields, ok := recordFields[container]
	if !ok {
		return nil, fmt.Errorf("reasoning: shape: container %q has no record shape", container)
	}
	raw, err := c.llm.Complete(ctx, shapeMessages(text, container), objectSchema(container.String()+"_record", fields))
	if err != nil {
		return nil, fmt.Errorf("reasoning: shape: %w", err)
	}
	if err := requireKeys(raw, fields); err != nil {
		return nil, fmt.Errorf("reasoning: shape: %w", err)
	}
	rec := domain.NewRecord(container, "", "")
	if err := decodeStrict(raw, rec); err != nil {
		return nil, fmt.Errorf("reasoning: shape: %w", err)
	}
	return rec, nil
}

// EstimateMacros asks the service for a nutrition estimate of description.
func (c *Client) EstimateMacros(ctx context.Context, description string) (domain.Macros, error) {
	if strings.TrimSpace(description) == "" {
		return domain.Macros{}, errors.New("reasoning: estimate: description is empty")
	}
	raw, err := c.llm.Complete(ctx, estimateMessages(description), objectSchema("macro_estimate", macroFields))
	if err != nil {
		return domain.Macros{}, fmt.Errorf("reasoning: estimate: %w", err)
	}
	if err := requireKeys(raw, macroFields); err != nil {
		return domain.Macros{}, fmt.Errorf("reasoning: estimate: %w", err)
	}
	var m domain.Macros
	if err := decodeStrict(raw, &m); err != nil {
		return domain.Macros{}, fmt.Errorf("reasoning: estimate: %w", err)
	}
	for _, v := range []*float64{m.Calories, m.ProteinG, m.CarbsG, m.FatG, m.FiberG} {
		if v != nil && *v < 0 {
			return domain.Macros{}, fmt.Errorf("reasoning: estimate: %w: negative value", ErrMalformed)
		}
	}
	return m, nil
}
