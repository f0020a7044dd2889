// Package cache provides the public contract for generation cache backends.
// Implementations never return errors to the caller: a failing store degrades
// to a cache miss or a no-op.
package cache

import (
	"context"
	"time"
)

// Kind tags which backend variant is in use.
type Kind string

const (
	KindDurable  Kind = "durable"  // Network key/value store
	KindDisabled Kind = "disabled" // Always-miss no-op
)

// Backend defines the interface for all cache backends.
type Backend interface {
	// Get retrieves a value from the cache.
	// Returns nil, false on a miss or on any backend error.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores a value with the given TTL. Structured values are encoded
	// to JSON; []byte and string values are stored as-is.
	// Returns false when the value was not stored.
	Set(ctx context.Context, key string, value any, ttl time.Duration) bool

	// Delete removes a key from the cache.
	Delete(ctx context.Context, key string)

	// Clear removes every key matching a prefix glob such as "speech:*"
	// and returns the number of keys actually removed.
	Clear(ctx context.Context, pattern string) int64

	// GetMulti retrieves multiple keys at once.
	// Missing or unreadable keys are not included.
	GetMulti(ctx context.Context, keys []string) map[string][]byte

	// Ping checks if the backend is healthy.
	Ping(ctx context.Context) error

	// Close releases any resources held by the backend.
	Close() error

	// Kind reports which variant this backend is.
	Kind() Kind

	// Stats returns backend statistics.
	Stats() Stats
}

// Stats holds backend statistics for monitoring.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Sets    int64 `json:"sets"`
	Deletes int64 `json:"deletes"`
	Errors  int64 `json:"errors"`
}
