package main

import (
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/vocabforge/vocabcache/internal/config"
)

// corsHeaders are the response headers shared by every allowed origin.
type corsHeaders struct {
	methods     string
	headers     string
	expose      string
	maxAge      string
	credentials bool
	wildcard    bool
}

func newCORSHeaders(cfg config.CORSConfig) corsHeaders {
	h := corsHeaders{
		methods:     strings.Join(cfg.AllowMethods, ", "),
		headers:     strings.Join(cfg.AllowHeaders, ", "),
		expose:      strings.Join(cfg.ExposeHeaders, ", "),
		credentials: cfg.AllowCredentials,
		wildcard:    cfg.AllowAllOrigins && !cfg.AllowCredentials,
	}
	if cfg.MaxAge > 0 {
		h.maxAge = strconv.FormatInt(int64(cfg.MaxAge.Seconds()), 10)
	}
	return h
}

func (h corsHeaders) apply(w http.ResponseWriter, origin string) {
	header := w.Header()
	if h.wildcard {
		header.Set("Access-Control-Allow-Origin", "*")
	} else {
		header.Set("Access-Control-Allow-Origin", origin)
		header.Add("Vary", "Origin")
	}
	if h.credentials {
		header.Set("Access-Control-Allow-Credentials", "true")
	}
	setIfNotEmpty(header, "Access-Control-Allow-Methods", h.methods)
	setIfNotEmpty(header, "Access-Control-Allow-Headers", h.headers)
	setIfNotEmpty(header, "Access-Control-Expose-Headers", h.expose)
	setIfNotEmpty(header, "Access-Control-Max-Age", h.maxAge)
}

func setIfNotEmpty(header http.Header, key, value string) {
	if value != "" {
		header.Set(key, value)
	}
}

// corsMiddleware enforces the origin policies. Requests without an Origin
// header pass through untouched; cache management paths are checked against
// their own, usually narrower, policy.
func corsMiddleware(cfg config.CORSConfig, next http.Handler) http.Handler {
	if !cfg.Enabled {
		return next
	}
	headers := newCORSHeaders(cfg)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		policy := cfg.DataOrigins
		if isManagementPath(r.URL.Path, cfg.ManagementPathPrefixes) {
			policy = cfg.ManagementOrigins
		}
		if !originAllowed(origin, policy, cfg.AllowAllOrigins) {
			w.WriteHeader(http.StatusForbidden)
			return
		}

		headers.apply(w, origin)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isManagementPath(path string, prefixes []string) bool {
	return slices.ContainsFunc(prefixes, func(prefix string) bool {
		return strings.HasPrefix(path, prefix)
	})
}

func originAllowed(origin string, policy config.CORSOrigins, allowAll bool) bool {
	if slices.Contains(policy.Denylist, "*") || slices.Contains(policy.Denylist, origin) {
		return false
	}
	return allowAll || slices.Contains(policy.Allowlist, origin)
}
