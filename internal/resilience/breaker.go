// Package resilience protects upstream generators from repeated calls while
// they are failing.
package resilience

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vocabforge/vocabcache/internal/cache"
	"github.com/vocabforge/vocabcache/internal/metrics"
	"github.com/vocabforge/vocabcache/pkg/errors"
)

// State is a circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig controls when a breaker opens and how it recovers.
type BreakerConfig struct {
	Enabled             bool          `yaml:"enabled"`
	FailureThreshold    int           `yaml:"failure_threshold"`      // consecutive failures that open the circuit
	SuccessThreshold    int           `yaml:"success_threshold"`      // half-open successes that close it again
	OpenTimeout         time.Duration `yaml:"open_timeout"`           // time spent open before probing
	HalfOpenMaxRequests int           `yaml:"half_open_max_requests"` // concurrent probes while half-open
}

// DefaultBreakerConfig returns sensible defaults. The breaker is off by default.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		OpenTimeout:         30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

func (c BreakerConfig) normalized() BreakerConfig {
	def := DefaultBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = def.SuccessThreshold
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = def.OpenTimeout
	}
	if c.HalfOpenMaxRequests <= 0 {
		c.HalfOpenMaxRequests = def.HalfOpenMaxRequests
	}
	return c
}

// Breaker is a consecutive-failure circuit breaker for one upstream service.
type Breaker struct {
	mu        sync.Mutex
	service   string
	cfg       BreakerConfig
	state     State
	failures  int
	successes int
	probes    int
	openedAt  time.Time
	now       func() time.Time
	logger    *slog.Logger
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithLogger sets the logger used for state transitions.
func WithLogger(logger *slog.Logger) BreakerOption {
	return func(b *Breaker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// NewBreaker creates a closed breaker for service.
func NewBreaker(service string, cfg BreakerConfig, opts ...BreakerOption) *Breaker {
	b := &Breaker{
		service: service,
		cfg:     cfg.normalized(),
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	metrics.UpstreamCircuitState.WithLabelValues(service).Set(float64(StateClosed))
	return b
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call may proceed. A true result must be followed by Record.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.OpenTimeout {
			return false
		}
		b.transition(StateHalfOpen)
		b.probes = 1
		return true
	case StateHalfOpen:
		if b.probes >= b.cfg.HalfOpenMaxRequests {
			return false
		}
		b.probes++
		return true
	default:
		return true
	}
}

// Record reports the outcome of an allowed call.
func (b *Breaker) Record(failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		if !failed {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.open()
		}
	case StateHalfOpen:
		b.probes--
		if failed {
			b.open()
			return
		}
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.transition(StateClosed)
		}
	}
}

// Reset closes the breaker.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed)
}

func (b *Breaker) open() {
	b.openedAt = b.now()
	b.transition(StateOpen)
}

// transition must be called with mu held. Counters restart on every change.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	b.failures, b.successes = 0, 0
	if to != StateHalfOpen {
		b.probes = 0
	}
	if from == to {
		return
	}
	metrics.UpstreamCircuitState.WithLabelValues(b.service).Set(float64(to))
	b.logger.Warn("upstream circuit state changed", "service", b.service, "from", from.String(), "to", to.String())
}

// countsAsFailure decides which errors trip the breaker. Client mistakes and
// caller cancellation say nothing about upstream health.
func countsAsFailure(err error) bool {
	if err == nil || stderrors.Is(err, context.Canceled) {
		return false
	}
	if genErr, ok := errors.As(err); ok {
		return genErr.Retryable
	}
	return true
}

// Guard wraps gen with b. While the circuit is open calls fail fast with a
// service unavailable error, so cached results keep being served in front of it.
func Guard[Req, Res any](b *Breaker, gen cache.Generator[Req, Res]) cache.Generator[Req, Res] {
	return cache.GeneratorFunc[Req, Res](func(ctx context.Context, req Req) (Res, error) {
		if !b.Allow() {
			metrics.UpstreamRejected.WithLabelValues(b.service).Inc()
			var zero Res
			return zero, errors.NewServiceUnavailableError(b.service, "upstream circuit open")
		}
		recorded := false
		defer func() {
			// A panicking upstream still releases its half-open slot.
			if !recorded {
				b.Record(true)
			}
		}()
		res, err := gen.Generate(ctx, req)
		recorded = true
		b.Record(countsAsFailure(err))
		return res, err
	})
}
