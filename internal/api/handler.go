// Package api exposes the cached generators over HTTP.
package api //nolint:revive // package name is intentional

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/vocabforge/vocabcache/internal/cache"
	"github.com/vocabforge/vocabcache/internal/dialogue"
	"github.com/vocabforge/vocabcache/internal/httputil"
	"github.com/vocabforge/vocabcache/internal/metrics"
	"github.com/vocabforge/vocabcache/internal/speech"
	store "github.com/vocabforge/vocabcache/pkg/cache"
	"github.com/vocabforge/vocabcache/pkg/errors"
)

// scopePattern limits clear scopes to a hash prefix, so a caller can never
// smuggle glob metacharacters into the backend pattern.
var scopePattern = regexp.MustCompile(`^[0-9a-f]{0,64}$`)

// Clearer is implemented by every cached generator.
type Clearer interface {
	ClearCache(ctx context.Context, scope string) int64
}

// BackendStatus reports the backend selection outcome.
type BackendStatus interface {
	Decision() (cache.Decision, bool)
}

// Handler serves the generation, cache management and health endpoints.
type Handler struct {
	speech   *speech.Service
	dialogue *dialogue.Service
	clearers map[string]Clearer
	backend  BackendStatus
	registry *metrics.Registry
	logger   *slog.Logger
	maxBody  int64
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMaxBodySize bounds request bodies.
func WithMaxBodySize(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBody = n
		}
	}
}

// NewHandler creates the API handler.
func NewHandler(speechSvc *speech.Service, dialogueSvc *dialogue.Service, backend BackendStatus, registry *metrics.Registry, opts ...Option) *Handler {
	h := &Handler{
		speech:   speechSvc,
		dialogue: dialogueSvc,
		clearers: map[string]Clearer{
			speechSvc.Service():   speechSvc,
			dialogueSvc.Service(): dialogueSvc,
		},
		backend:  backend,
		registry: registry,
		logger:   slog.Default(),
		maxBody:  httputil.DefaultMaxRequestBodyBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// validatable is a generation request that can reject itself.
type validatable interface {
	cache.Keyer
	Validate() error
}

// generateHandler decodes Req, runs it through svc and writes Res.
func generateHandler[Req validatable, Res any](h *Handler, svc *cache.CachedGenerator[Req, Res]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req Req
		if err := httputil.DecodeJSON(r.Body, h.maxBody, &req); err != nil {
			writeError(w, h.logger, errors.NewInvalidRequestError(svc.Service(), err.Error()))
			return
		}
		if err := req.Validate(); err != nil {
			writeError(w, h.logger, err)
			return
		}

		res, err := svc.Generate(r.Context(), req)
		if err != nil {
			h.logger.WarnContext(r.Context(), "generation failed", "service", svc.Service(), "error", err)
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, res)
	}
}

// invalidateHandler removes the cached result for one request.
func invalidateHandler[Req validatable, Res any](h *Handler, svc *cache.CachedGenerator[Req, Res]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req Req
		if err := httputil.DecodeJSON(r.Body, h.maxBody, &req); err != nil {
			writeError(w, h.logger, errors.NewInvalidRequestError(svc.Service(), err.Error()))
			return
		}
		svc.Invalidate(r.Context(), req)
		writeJSON(w, h.logger, http.StatusOK, map[string]string{"key": svc.Key(req)})
	}
}

// ClearCache handles DELETE /v1/cache/{service}?scope=<hash prefix>.
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	service := r.PathValue("service")
	clearer, ok := h.clearers[service]
	if !ok {
		writeJSON(w, h.logger, http.StatusNotFound, ErrorResponse{Error: ErrorDetail{
			Message: "unknown service " + service,
			Type:    errors.TypeInvalidRequest,
		}})
		return
	}

	scope := r.URL.Query().Get("scope")
	if !scopePattern.MatchString(scope) {
		writeError(w, h.logger, errors.NewInvalidRequestError(service, "scope must be a lowercase hex prefix"))
		return
	}

	removed := clearer.ClearCache(r.Context(), scope)
	writeJSON(w, h.logger, http.StatusOK, map[string]any{
		"service": service,
		"scope":   scope,
		"removed": removed,
	})
}

// CacheMetrics handles GET /health/cache.
func (h *Handler) CacheMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, h.registry.Aggregate())
}

// Live handles GET /health/live.
func (h *Handler) Live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /health/ready. A disabled cache is degraded, not unready.
func (h *Handler) Ready(w http.ResponseWriter, _ *http.Request) {
	decision, ok := h.backend.Decision()
	if !ok {
		writeJSON(w, h.logger, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}

	status := "ok"
	if decision.Kind != store.KindDurable {
		status = "degraded"
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]any{
		"status": status,
		"cache":  decision,
	})
}
