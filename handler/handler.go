// Package handler maps API Gateway and plain HTTP requests onto the pipeline.
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"yaha-bot/internal/domain"
	"yaha-bot/internal/pipeline"
)

const (
	correlationHeader = "X-Correlation-Id"
	maxBodyBytes      = 1 << 20
)

// Pipeline handles one inbound message. *pipeline.Service satisfies it.
type Pipeline interface {
	Handle(ctx context.Context, in domain.RawInput) (pipeline.Reply, error)
}

type Handler struct {
	svc Pipeline
	now func() time.Time
}

type errorResponse struct {
	Error  string          `json:"error"`
	Reason string          `json:"reason,omitempty"`
	Reply  *pipeline.Reply `json:"reply,omitempty"`
}

func NewHandler(svc Pipeline) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("handler: pipeline must not be nil")
	}
	return &Handler{svc: svc, now: time.Now}, nil
}

// Handle is the Lambda entrypoint for API Gateway proxy events.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	status, corr, body := h.process(ctx, []byte(req.Body), headerValue(req.Headers, correlationHeader))
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: corr,
		},
		Body: body,
	}, nil
}

// ServeHTTP serves the same contract over net/http for local runs.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil || len(raw) > maxBodyBytes {
		raw = nil
	}
	status, corr, body := h.process(r.Context(), raw, r.Header.Get(correlationHeader))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(correlationHeader, corr)
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func (h *Handler) process(ctx context.Context, raw []byte, corr string) (int, string, string) {
	if corr == "" {
		corr = uuid.NewString()
	}
	in, err := decodeInput(raw)
	if err != nil {
		slog.Warn("rejected request body", "correlation_id", corr, "err", err)
		return http.StatusBadRequest, corr, marshal(errorResponse{Error: string(pipeline.KindInvalidInput), Reason: "invalid_body"})
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = h.now()
	}

	reply, err := h.svc.Handle(ctx, in)
	if reply.CorrelationID != "" {
		corr = reply.CorrelationID
	}
	if err != nil {
		status, resp := errorFor(err)
		if reply.Kind != "" {
			resp.Reply = &reply
		}
		return status, corr, marshal(resp)
	}
	return http.StatusOK, corr, marshal(reply)
}

func decodeInput(raw []byte) (domain.RawInput, error) {
	var in domain.RawInput
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return domain.RawInput{}, fmt.Errorf("handler: decode body: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return domain.RawInput{}, errors.New("handler: decode body: trailing data")
	}
	return in, nil
}

func errorFor(err error) (int, errorResponse) {
	var pe *pipeline.Error
	if !errors.As(err, &pe) {
		slog.Error("unexpected pipeline error", "err", err)
		return http.StatusInternalServerError, errorResponse{Error: string(pipeline.KindInternal)}
	}
	resp := errorResponse{Error: string(pe.Kind), Reason: pe.Reason}
	switch pe.Kind {
	case pipeline.KindInvalidInput:
		return http.StatusBadRequest, resp
	case pipeline.KindExtractionFailure, pipeline.KindSchemaRejected:
		return http.StatusUnprocessableEntity, resp
	case pipeline.KindClassificationUnavailable, pipeline.KindPersistenceTransport:
		return http.StatusServiceUnavailable, resp
	default:
		return http.StatusInternalServerError, resp
	}
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func marshal(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `{"error":"INTERNAL_ERROR"}`
	}
	return string(b)
}
