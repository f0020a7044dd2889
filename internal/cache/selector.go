package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vocabforge/vocabcache/caches/disabled"
	"github.com/vocabforge/vocabcache/caches/redis"
	store "github.com/vocabforge/vocabcache/pkg/cache"
)

// Decision records which backend was selected and why.
type Decision struct {
	Kind   store.Kind `json:"kind"`
	Reason string     `json:"reason"`
}

// Choose maps the selection inputs to a backend kind. buildErr is the result of
// constructing the durable client and probeErr the result of pinging it;
// probeErr is ignored when buildErr is set.
func Choose(enabled bool, buildErr, probeErr error) Decision {
	switch {
	case !enabled:
		return Decision{Kind: store.KindDisabled, Reason: "caching disabled by configuration"}
	case buildErr != nil:
		return Decision{Kind: store.KindDisabled, Reason: "durable backend unavailable: " + buildErr.Error()}
	case errors.Is(probeErr, context.DeadlineExceeded):
		return Decision{Kind: store.KindDisabled, Reason: "durable backend health probe timed out"}
	case probeErr != nil:
		return Decision{Kind: store.KindDisabled, Reason: "durable backend health probe failed: " + probeErr.Error()}
	default:
		return Decision{Kind: store.KindDurable, Reason: "durable backend healthy"}
	}
}

// DurableFactory constructs the durable backend without contacting it.
type DurableFactory func(cfg redis.Config, logger *slog.Logger) (store.Backend, error)

func newRedisBackend(cfg redis.Config, logger *slog.Logger) (store.Backend, error) {
	return redis.New(cfg, redis.WithLogger(logger))
}

// selection is one initialization cycle. Reset swaps in a fresh one.
type selection struct {
	once     sync.Once
	ready    atomic.Bool
	backend  store.Backend
	decision Decision
}

// Selector decides once which backend to hand out and returns that same
// instance to every caller. Concurrent first calls run a single probe.
type Selector struct {
	cfg     Config
	logger  *slog.Logger
	factory DurableFactory

	state  atomic.Pointer[selection]
	probes atomic.Int64
}

// SelectorOption configures a Selector.
type SelectorOption func(*Selector)

// WithSelectorLogger sets the logger.
func WithSelectorLogger(logger *slog.Logger) SelectorOption {
	return func(s *Selector) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDurableFactory replaces how the durable backend is constructed.
func WithDurableFactory(factory DurableFactory) SelectorOption {
	return func(s *Selector) {
		if factory != nil {
			s.factory = factory
		}
	}
}

// NewSelector creates a selector. Nothing is probed until Backend is called.
func NewSelector(cfg Config, opts ...SelectorOption) *Selector {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	s := &Selector{
		cfg:     cfg,
		logger:  slog.Default(),
		factory: newRedisBackend,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.state.Store(&selection{})
	return s
}

// Backend returns the process-wide backend, selecting it on first use.
// The probe is bounded by the configured timeout and does not inherit the
// caller's cancellation, so one aborted request cannot pin the disabled backend.
func (s *Selector) Backend(ctx context.Context) store.Backend {
	for {
		sel := s.state.Load()
		sel.once.Do(func() {
			sel.backend, sel.decision = s.selectBackend(ctx)
			sel.ready.Store(true)
		})
		if sel.backend != nil {
			return sel.backend
		}
		// Reset retired sel before anything was selected; use the new cycle.
	}
}

// Decision returns the selection outcome, or false before the first Backend call.
func (s *Selector) Decision() (Decision, bool) {
	sel := s.state.Load()
	if !sel.ready.Load() {
		return Decision{}, false
	}
	return sel.decision, true
}

// Probes returns how many health probes have been issued.
func (s *Selector) Probes() int64 {
	return s.probes.Load()
}

// Reset closes the selected backend and forgets the decision so the next
// Backend call selects again. A selection still in flight is waited for and
// its backend closed. Intended for tests.
func (s *Selector) Reset() error {
	old := s.state.Swap(&selection{})
	old.once.Do(func() {})
	if old.backend == nil {
		return nil
	}
	return old.backend.Close()
}

// Close releases the selected backend.
func (s *Selector) Close() error {
	return s.Reset()
}

func (s *Selector) selectBackend(ctx context.Context) (store.Backend, Decision) {
	if !s.cfg.Enabled {
		return s.disabled(Choose(false, nil, nil))
	}

	durable, err := s.factory(s.cfg.Redis, s.logger)
	if err != nil {
		return s.disabled(Choose(true, err, nil))
	}

	probeErr := s.probe(ctx, durable)
	decision := Choose(true, nil, probeErr)
	if decision.Kind != store.KindDurable {
		if closeErr := durable.Close(); closeErr != nil {
			s.logger.Warn("failed to close unhealthy cache backend", "error", closeErr)
		}
		return s.disabled(decision)
	}

	s.logger.Info("cache backend selected", "kind", decision.Kind, "reason", decision.Reason)
	return durable, decision
}

func (s *Selector) probe(ctx context.Context, b store.Backend) error {
	s.probes.Add(1)
	probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ProbeTimeout)
	defer cancel()

	start := time.Now()
	err := b.Ping(probeCtx)
	if ctxErr := probeCtx.Err(); ctxErr != nil {
		err = ctxErr
	}
	s.logger.Debug("cache backend probed", "duration", time.Since(start), "error", err)
	return err
}

func (s *Selector) disabled(d Decision) (store.Backend, Decision) {
	return disabled.New(d.Reason, s.logger), d
}
