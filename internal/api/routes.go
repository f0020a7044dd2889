package api //nolint:revive // package name is intentional

import (
	"net/http"
)

// RegisterRoutes registers all API routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Generation
	mux.HandleFunc("POST /v1/speech", generateHandler(h, h.speech))
	mux.HandleFunc("POST /v1/dialogue", generateHandler(h, h.dialogue))

	// Cache management
	mux.HandleFunc("POST /v1/speech/invalidate", invalidateHandler(h, h.speech))
	mux.HandleFunc("POST /v1/dialogue/invalidate", invalidateHandler(h, h.dialogue))
	mux.HandleFunc("DELETE /v1/cache/{service}", h.ClearCache)

	// Health
	mux.HandleFunc("GET /health/cache", h.CacheMetrics)
	mux.HandleFunc("GET /health/live", h.Live)
	mux.HandleFunc("GET /health/ready", h.Ready)
}
