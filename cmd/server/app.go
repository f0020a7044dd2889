package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/vocabforge/vocabcache/internal/api"
	"github.com/vocabforge/vocabcache/internal/cache"
	"github.com/vocabforge/vocabcache/internal/config"
	"github.com/vocabforge/vocabcache/internal/dialogue"
	"github.com/vocabforge/vocabcache/internal/metrics"
	"github.com/vocabforge/vocabcache/internal/observability"
	"github.com/vocabforge/vocabcache/internal/resilience"
	"github.com/vocabforge/vocabcache/internal/speech"
	"github.com/vocabforge/vocabcache/internal/upstream"
	store "github.com/vocabforge/vocabcache/pkg/cache"
)

// app is the assembled server: one selected backend shared by both cached generators.
type app struct {
	logger   *observability.Logger
	selector *cache.Selector
	speech   *speech.Service
	dialogue *dialogue.Service
	registry *metrics.Registry
	handler  http.Handler
}

// newApp builds the upstream clients, selects the cache backend and wires the
// HTTP handler. Selection happens once here, before the first request.
func newApp(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*app, error) {
	if cfg == nil {
		return nil, errNilConfig
	}
	log := logger.Slog()

	synth, err := newUpstream[speech.Request, speech.Result](speech.Namespace, cfg.Speech, log)
	if err != nil {
		return nil, err
	}
	gen, err := newUpstream[dialogue.Request, dialogue.Result](dialogue.Namespace, cfg.Dialogue, log)
	if err != nil {
		return nil, err
	}
	speechOpts, err := cacheOptions(cfg.Speech, log)
	if err != nil {
		return nil, fmt.Errorf("speech: %w", err)
	}
	dialogueOpts, err := cacheOptions(cfg.Dialogue, log)
	if err != nil {
		return nil, fmt.Errorf("dialogue: %w", err)
	}

	selector := cache.NewSelector(cfg.Cache, cache.WithSelectorLogger(log))
	backend := selector.Backend(ctx)
	metrics.SetBackendKind(string(backend.Kind()), string(store.KindDurable), string(store.KindDisabled))

	speechSvc := speech.NewService(backend, synth, cfg.Speech.TTL, cfg.Speech.MaxCacheableBytes, speechOpts...)
	dialogueSvc := dialogue.NewService(backend, gen, cfg.Dialogue.TTL, cfg.Dialogue.MaxCacheableBytes, dialogueOpts...)

	registry := metrics.NewRegistry()
	registry.Register(speechSvc.Service(), speechSvc.MetricsSource())
	registry.Register(dialogueSvc.Service(), dialogueSvc.MetricsSource())

	mux, err := buildMux(cfg, api.NewHandler(speechSvc, dialogueSvc, selector, registry, api.WithLogger(log)))
	if err != nil {
		_ = selector.Close()
		return nil, err
	}
	middleware, err := buildMiddlewareStack(cfg)
	if err != nil {
		_ = selector.Close()
		return nil, err
	}

	return &app{
		logger:   logger,
		selector: selector,
		speech:   speechSvc,
		dialogue: dialogueSvc,
		registry: registry,
		handler:  middleware(mux),
	}, nil
}

func cacheOptions(cfg config.UpstreamConfig, logger *slog.Logger) ([]cache.Option, error) {
	codec, err := cache.CodecByName(cfg.Codec)
	if err != nil {
		return nil, err
	}
	return []cache.Option{cache.WithLogger(logger), cache.WithCodec(codec)}, nil
}

// newUpstream builds the uncached generator for one service, behind a circuit
// breaker when one is enabled.
func newUpstream[Req, Res any](service string, cfg config.UpstreamConfig, logger *slog.Logger) (cache.Generator[Req, Res], error) {
	client, err := upstream.New[Req, Res](upstream.Config{
		Service:  service,
		Endpoint: cfg.Endpoint,
		APIKey:   cfg.APIKey,
		Timeout:  cfg.Timeout,
		Headers:  cfg.Headers,

		RequestsPerMinute: cfg.RequestsPerMinute,
		Burst:             cfg.Burst,
	}, upstream.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("%s upstream: %w", service, err)
	}
	if !cfg.CircuitBreaker.Enabled {
		return client, nil
	}
	breaker := resilience.NewBreaker(service, cfg.CircuitBreaker, resilience.WithLogger(logger))
	return resilience.Guard[Req, Res](breaker, client), nil
}

// applyConfig takes the settings that can change without a restart.
// Backend, endpoints and listen address need a restart.
func (a *app) applyConfig(cfg *config.Config) {
	if err := a.logger.SetLevel(cfg.Logging.Level); err != nil {
		a.logger.Warn("ignoring log level from reloaded config", "error", err)
	}
	a.speech.SetTTL(cfg.Speech.TTL)
	a.dialogue.SetTTL(cfg.Dialogue.TTL)
	a.logger.Info("configuration applied",
		"log_level", a.logger.Level().String(),
		"speech_ttl", cfg.Speech.TTL,
		"dialogue_ttl", cfg.Dialogue.TTL,
	)
}

func (a *app) close() error {
	return a.selector.Close()
}
