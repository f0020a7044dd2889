package main

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vocabforge/vocabcache/internal/config"
	"github.com/vocabforge/vocabcache/internal/metrics"
	"github.com/vocabforge/vocabcache/internal/observability"
)

// buildMiddlewareStack wraps the mux, innermost first: metrics, request ID,
// CORS, then the tracing handler. Metrics sits directly on the mux so the
// matched pattern is visible after the call returns.
func buildMiddlewareStack(cfg *config.Config) (func(http.Handler) http.Handler, error) {
	if cfg == nil {
		return nil, errNilConfig
	}

	return func(next http.Handler) http.Handler {
		if next == nil {
			return nil
		}
		handler := metrics.Middleware(next)
		handler = observability.RequestIDMiddleware(handler)
		handler = corsMiddleware(cfg.CORS, handler)
		if cfg.Tracing.Enabled {
			handler = otelhttp.NewHandler(handler, cfg.Tracing.ServiceName,
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					return r.Method + " " + r.URL.Path
				}),
			)
		}
		return handler
	}, nil
}
