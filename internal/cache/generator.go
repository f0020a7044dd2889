package cache

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/vocabforge/vocabcache/internal/metrics"
	store "github.com/vocabforge/vocabcache/pkg/cache"
	genErrors "github.com/vocabforge/vocabcache/pkg/errors"
)

const tracerName = "github.com/vocabforge/vocabcache/internal/cache"

// Generator produces results without any caching awareness.
type Generator[Req, Res any] interface {
	Generate(ctx context.Context, req Req) (Res, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc[Req, Res any] func(ctx context.Context, req Req) (Res, error)

// Generate calls f(ctx, req).
func (f GeneratorFunc[Req, Res]) Generate(ctx context.Context, req Req) (Res, error) {
	return f(ctx, req)
}

// GeneratorConfig describes one cached generation service.
type GeneratorConfig struct {
	Service           string        // Name used for metrics and the registry
	Namespace         string        // Key namespace, e.g. "speech"
	TTL               time.Duration // Lifetime of stored results
	MaxCacheableBytes int           // Encoded results larger than this are not stored (0 = no limit)
}

type generatorOptions struct {
	logger *slog.Logger
	tracer trace.Tracer
	codec  Codec
}

// Option configures a CachedGenerator.
type Option func(*generatorOptions)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *generatorOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTracer sets the tracer used for generate spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *generatorOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithCodec replaces the JSON codec.
func WithCodec(codec Codec) Option {
	return func(o *generatorOptions) {
		if codec != nil {
			o.codec = codec
		}
	}
}

// CachedGenerator answers Generate from the cache when it can and otherwise
// calls the wrapped Generator and stores the result. Concurrent misses for one
// key share a single call to the wrapped Generator.
type CachedGenerator[Req Keyer, Res any] struct {
	service  string
	keys     *KeyGenerator
	backend  store.Backend
	gen      Generator[Req, Res]
	codec    Codec
	maxBytes int
	ttl      atomic.Int64
	logger   *slog.Logger
	tracer   trace.Tracer

	inflight singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCachedGenerator wraps gen with caching on backend.
func NewCachedGenerator[Req Keyer, Res any](cfg GeneratorConfig, backend store.Backend, gen Generator[Req, Res], opts ...Option) *CachedGenerator[Req, Res] {
	o := generatorOptions{
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
		codec:  JSONCodec{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.Service == "" {
		cfg.Service = cfg.Namespace
	}

	g := &CachedGenerator[Req, Res]{
		service:  cfg.Service,
		keys:     NewKeyGenerator(cfg.Namespace),
		backend:  backend,
		gen:      gen,
		codec:    o.codec,
		maxBytes: cfg.MaxCacheableBytes,
		logger:   o.logger.With("service", cfg.Service),
		tracer:   o.tracer,
	}
	g.SetTTL(cfg.TTL)
	return g
}

// Service returns the service name.
func (g *CachedGenerator[Req, Res]) Service() string { return g.service }

// Key returns the cache key for req.
func (g *CachedGenerator[Req, Res]) Key(req Req) string { return g.keys.Key(req) }

// TTL returns the lifetime applied to newly stored results.
func (g *CachedGenerator[Req, Res]) TTL() time.Duration { return time.Duration(g.ttl.Load()) }

// SetTTL changes the lifetime of results stored from now on.
func (g *CachedGenerator[Req, Res]) SetTTL(ttl time.Duration) { g.ttl.Store(int64(ttl)) }

// Generate returns the cached result for req, or generates and stores it.
// Errors from the wrapped Generator are returned unchanged and never cached.
func (g *CachedGenerator[Req, Res]) Generate(ctx context.Context, req Req) (Res, error) {
	key := g.keys.Key(req)

	ctx, span := g.tracer.Start(ctx, "cache.generate",
		trace.WithAttributes(
			attribute.String("cache.service", g.service),
			attribute.String("cache.key", key),
		),
	)
	defer span.End()

	if res, ok := g.lookup(ctx, key); ok {
		g.hits.Add(1)
		metrics.CacheHits.WithLabelValues(g.service).Inc()
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return res, nil
	}

	g.misses.Add(1)
	metrics.CacheMisses.WithLabelValues(g.service).Inc()
	span.SetAttributes(attribute.Bool("cache.hit", false))

	// The shared call outlives any single caller; each caller still stops waiting on its own cancellation.
	shared := context.WithoutCancel(ctx)
	var leader bool
	ch := g.inflight.DoChan(key, func() (any, error) {
		leader = true
		return g.generateAndStore(shared, key, req)
	})

	var zero Res
	select {
	case r := <-ch:
		if r.Shared && !leader {
			metrics.GenerationsCoalesced.WithLabelValues(g.service).Inc()
			span.SetAttributes(attribute.Bool("cache.coalesced", true))
		}
		if r.Err != nil {
			span.RecordError(r.Err)
			span.SetStatus(codes.Error, r.Err.Error())
			return zero, r.Err
		}
		res, _ := r.Val.(Res)
		return res, nil
	case <-ctx.Done():
		span.SetStatus(codes.Error, ctx.Err().Error())
		return zero, ctx.Err()
	}
}

func (g *CachedGenerator[Req, Res]) lookup(ctx context.Context, key string) (Res, bool) {
	var res Res
	data, ok := g.backend.Get(ctx, key)
	if !ok {
		return res, false
	}
	if err := g.codec.Unmarshal(data, &res); err != nil {
		g.logger.Warn("discarding undecodable cache entry", "key", key, "error", err)
		var zero Res
		return zero, false
	}
	return res, true
}

// generateAndStore runs inside singleflight, which re-panics on a goroutine
// no caller can recover. A panic is turned into an internal error instead.
func (g *CachedGenerator[Req, Res]) generateAndStore(ctx context.Context, key string, req Req) (val any, err error) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			g.logger.Error("generator panicked", "service", g.service, "key", key, "panic", p, "stack", string(debug.Stack()))
			metrics.GenerationLatency.WithLabelValues(g.service, "error").Observe(time.Since(start).Seconds())
			val, err = nil, genErrors.NewInternalError(g.service, fmt.Sprintf("generator panic: %v", p))
		}
	}()

	res, err := g.gen.Generate(ctx, req)
	if err != nil {
		metrics.GenerationLatency.WithLabelValues(g.service, "error").Observe(time.Since(start).Seconds())
		return nil, err
	}
	metrics.GenerationLatency.WithLabelValues(g.service, "success").Observe(time.Since(start).Seconds())

	g.store(ctx, key, res)
	return res, nil
}

// store writes res under key. Every failure is tolerated: the caller still gets the result.
func (g *CachedGenerator[Req, Res]) store(ctx context.Context, key string, res Res) {
	if g.backend.Kind() == store.KindDisabled {
		return
	}

	data, err := g.codec.Marshal(res)
	if err != nil {
		g.logger.Warn("failed to encode result for cache", "key", key, "error", err)
		metrics.CacheStoreSkipped.WithLabelValues(g.service, "encode").Inc()
		return
	}
	if g.maxBytes > 0 && len(data) > g.maxBytes {
		g.logger.Debug("result too large to cache", "key", key, "bytes", len(data), "limit", g.maxBytes)
		metrics.CacheStoreSkipped.WithLabelValues(g.service, "too_large").Inc()
		return
	}
	if !g.backend.Set(ctx, key, data, g.TTL()) {
		metrics.CacheStoreSkipped.WithLabelValues(g.service, "backend").Inc()
	}
}

// Invalidate removes the stored result for req.
func (g *CachedGenerator[Req, Res]) Invalidate(ctx context.Context, req Req) {
	g.backend.Delete(ctx, g.keys.Key(req))
}

// ClearCache removes every stored result of this service whose key hash starts
// with scope (all of them when scope is empty) and returns how many were removed.
func (g *CachedGenerator[Req, Res]) ClearCache(ctx context.Context, scope string) int64 {
	pattern := g.keys.Pattern(scope)
	removed := g.backend.Clear(ctx, pattern)
	if removed > 0 {
		metrics.CacheEvictions.WithLabelValues(g.service).Add(float64(removed))
	}
	g.logger.Info("cache cleared", "pattern", pattern, "removed", removed)
	return removed
}

// Metrics returns the live hit/miss counters.
func (g *CachedGenerator[Req, Res]) Metrics() metrics.Snapshot {
	return metrics.NewSnapshot(g.hits.Load(), g.misses.Load())
}

// MetricsSource adapts Metrics for metrics.Registry.
func (g *CachedGenerator[Req, Res]) MetricsSource() metrics.SnapshotFunc {
	return func() (metrics.Snapshot, error) {
		return g.Metrics(), nil
	}
}

// ResetMetrics zeroes the counters. Intended for tests.
func (g *CachedGenerator[Req, Res]) ResetMetrics() {
	g.hits.Store(0)
	g.misses.Store(0)
}
