// Package reststore writes records and shadow log entries to a Supabase
// (PostgREST) project over HTTP.
package reststore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"yaha-bot/internal/domain"
	"yaha-bot/internal/integrations/paramstore"
	"yaha-bot/internal/persistence"
)

const maxBody = 4096

// Client is a PostgREST client with one table per container and an entries table.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tables     persistence.Tables
	getter     paramstore.Getter
	keyParam   string

	keyOnce sync.Once
	key     string
	keyErr  error
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a Client for the project at baseURL. The service key is read
// from keyParam through getter on first use.
func New(baseURL string, tables persistence.Tables, getter paramstore.Getter, keyParam string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("reststore: base url must not be empty")
	}
	if getter == nil {
		return nil, errors.New("reststore: paramstore getter must not be nil")
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		tables:     tables,
		getter:     getter,
		keyParam:   keyParam,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) serviceKey(ctx context.Context) (string, error) {
	c.keyOnce.Do(func() {
		c.key, c.keyErr = paramstore.FetchToken(ctx, c.getter, c.keyParam)
	})
	return c.key, c.keyErr
}

func (c *Client) tableURL(table string, query url.Values) string {
	u := c.baseURL + "/rest/v1/" + url.PathEscape(table)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// do sends one request. Non-2xx responses come back as *persistence.StoreError
// carrying the response body; transport failures carry status 0.
func (c *Client) do(ctx context.Context, method, target string, body any, dest any) error {
	key, err := c.serviceKey(ctx)
	if err != nil {
		return fmt.Errorf("reststore: service key: %w", err)
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("reststore: marshal body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("reststore: create request: %w", err)
	}
	req.Header.Set("apikey", key)
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Prefer", "return=representation")
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return &persistence.StoreError{Err: err}
	}
	defer func() { _ = res.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return &persistence.StoreError{Status: res.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		text := string(raw)
		if len(text) > maxBody {
			text = text[:maxBody]
		}
		return &persistence.StoreError{Status: res.StatusCode, Code: errorCode(raw), Body: text, Err: fmt.Errorf("%s %s", method, target)}
	}
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return &persistence.StoreError{Status: res.StatusCode, Body: truncate(raw), Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// errorCode reads the SQLSTATE from a PostgREST error body.
func errorCode(raw []byte) string {
	var body struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	return body.Code
}

func truncate(raw []byte) string {
	if len(raw) > maxBody {
		raw = raw[:maxBody]
	}
	return string(raw)
}

type writtenRow struct {
	ID json.RawMessage `json:"id"`
}

// Insert posts rec to its container table and returns the stored row id.
// The table's unique dedupe_key constraint turns a repeat into a 409.
func (c *Client) Insert(ctx context.Context, rec domain.Record, dedupeKey, correlationID string) (string, error) {
	table, ok := c.tables.For(rec.Container())
	if !ok {
		return "", &persistence.StoreError{Status: http.StatusBadRequest, Body: "no table for container " + string(rec.Container())}
	}
	row := make(map[string]any)
	for _, col := range persistence.Row(rec, dedupeKey, correlationID) {
		row[col.Name] = col.Value
	}

	var written []writtenRow
	if err := c.do(ctx, http.MethodPost, c.tableURL(table, nil), row, &written); err != nil {
		return "", fmt.Errorf("reststore: insert %s: %w", table, err)
	}
	if len(written) == 0 {
		return "", &persistence.StoreError{Status: http.StatusOK, Body: "[]", Err: errors.New("reststore: insert returned no row")}
	}
	return strings.Trim(string(written[0].ID), `"`), nil
}
