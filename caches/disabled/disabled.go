// Package disabled provides a cache backend that stores nothing.
// It is handed out when caching is switched off or the durable store is unreachable.
package disabled

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/vocabforge/vocabcache/pkg/cache"
)

// Backend is an always-miss cache.Backend. All methods run in constant time without I/O.
type Backend struct {
	reason string
	misses atomic.Int64
}

var _ cache.Backend = (*Backend)(nil)

// New creates a disabled backend and logs a single warning naming the reason,
// so operators can tell "intentionally off" apart from "silently failing".
func New(reason string, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("cache backend disabled, all lookups will miss", "reason", reason)
	return &Backend{reason: reason}
}

// Reason returns why caching is disabled.
func (b *Backend) Reason() string { return b.reason }

// Get always misses.
func (b *Backend) Get(context.Context, string) ([]byte, bool) {
	b.misses.Add(1)
	return nil, false
}

// Set discards the value and reports it was not stored.
func (b *Backend) Set(context.Context, string, any, time.Duration) bool { return false }

// Delete is a no-op.
func (b *Backend) Delete(context.Context, string) {}

// Clear removes nothing.
func (b *Backend) Clear(context.Context, string) int64 { return 0 }

// GetMulti returns an empty map.
func (b *Backend) GetMulti(context.Context, []string) map[string][]byte {
	return map[string][]byte{}
}

// Ping always succeeds; there is nothing to reach.
func (b *Backend) Ping(context.Context) error { return nil }

// Close is a no-op.
func (b *Backend) Close() error { return nil }

// Kind returns cache.KindDisabled.
func (b *Backend) Kind() cache.Kind { return cache.KindDisabled }

// Stats reports the misses served.
func (b *Backend) Stats() cache.Stats {
	return cache.Stats{Misses: b.misses.Load()}
}
