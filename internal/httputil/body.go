// Package httputil bounds and decodes HTTP payloads.
package httputil

import (
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"
)

const (
	// DefaultMaxResponseBodyBytes caps upstream responses. Synthesized audio is the largest payload.
	DefaultMaxResponseBodyBytes int64 = 10 * 1024 * 1024
	// DefaultMaxRequestBodyBytes caps inbound generation requests.
	DefaultMaxRequestBodyBytes int64 = 1 << 20
)

var ErrBodyTooLarge = errors.New("body too large")

// ReadLimitedBody reads up to maxBytes from reader and returns ErrBodyTooLarge when exceeded.
// A non-positive maxBytes reads everything.
func ReadLimitedBody(reader io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return io.ReadAll(reader)
	}

	body, err := io.ReadAll(io.LimitReader(reader, maxBytes+1))
	if err != nil {
		return body, err
	}
	if int64(len(body)) > maxBytes {
		return body[:maxBytes], ErrBodyTooLarge
	}
	return body, nil
}

// DecodeJSON reads a bounded body from reader and unmarshals it into v.
func DecodeJSON(reader io.Reader, maxBytes int64, v any) error {
	body, err := ReadLimitedBody(reader, maxBytes)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return errors.New("empty body")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}
