package reasoning

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrMalformed marks a response that does not match the requested shape
// exactly. Callers treat it like an unavailable service.
var ErrMalformed = errors.New("reasoning: malformed response")

// decodeStrict decodes exactly one JSON value into out, rejecting unknown
// fields and trailing data.
func decodeStrict(raw string, out any) error {
	dec := json.NewDecoder(bytes.NewBufferString(strings.TrimSpace(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return fmt.Errorf("%w: multiple JSON values", ErrMalformed)
		}
		return fmt.Errorf("%w: trailing data: %v", ErrMalformed, err)
	}
	return nil
}

// requireKeys checks that raw is an object carrying every field and nothing else.
func requireKeys(raw string, fields []field) error {
	var obj map[string]json.RawMessage
	if err := decodeStrict(raw, &obj); err != nil {
		return err
	}
	if obj == nil {
		return fmt.Errorf("%w: expected an object", ErrMalformed)
	}
	for _, f := range fields {
		if _, ok := obj[f.name]; !ok {
			return fmt.Errorf("%w: missing field %q", ErrMalformed, f.name)
		}
	}
	if len(obj) != len(fields) {
		return fmt.Errorf("%w: unexpected fields", ErrMalformed)
	}
	return nil
}
