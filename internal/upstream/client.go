// Package upstream calls external generation services that speak JSON over HTTP.
// A Client is the uncached Generator that the cache layer wraps.
package upstream

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/vocabforge/vocabcache/internal/httputil"
	"github.com/vocabforge/vocabcache/pkg/errors"
)

const defaultTimeout = 30 * time.Second

// Config describes one upstream endpoint.
type Config struct {
	Service  string        // service name used in errors and logs, e.g. "speech"
	Endpoint string        // full URL requests are POSTed to
	APIKey   string        // sent as a bearer token when set
	Timeout  time.Duration // per-request timeout, 30s when zero
	Headers  map[string]string

	MaxResponseBytes int64 // defaults to httputil.DefaultMaxResponseBodyBytes

	// RequestsPerMinute caps outgoing calls; 0 means unlimited.
	RequestsPerMinute int
	Burst             int // defaults to 1 when a limit is set
}

// Client posts Req as JSON to the endpoint and decodes Res from the reply.
type Client[Req, Res any] struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter // nil when unlimited
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*options)

type options struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// WithHTTPClient replaces the instrumented default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// New creates a client for cfg.
func New[Req, Res any](cfg Config, opts ...Option) (*Client[Req, Res], error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("upstream %s: endpoint is required", cfg.Service)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = httputil.DefaultMaxResponseBodyBytes
	}

	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	c := &Client[Req, Res]{
		cfg:    cfg,
		http:   o.httpClient,
		logger: o.logger.With("service", cfg.Service),
	}
	if cfg.RequestsPerMinute > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), burst)
	}
	return c, nil
}

// wait blocks until the limiter admits one call or ctx gives up.
func (c *Client[Req, Res]) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return errors.NewTimeoutError(c.cfg.Service, "timed out waiting for upstream rate limit")
		}
		return errors.NewRateLimitError(c.cfg.Service, "upstream rate limit: "+err.Error())
	}
	return nil
}

// Generate performs one upstream call. Failures are returned as *errors.GenerationError.
func (c *Client[Req, Res]) Generate(ctx context.Context, req Req) (Res, error) {
	var zero Res

	body, err := json.Marshal(req)
	if err != nil {
		return zero, errors.NewInvalidRequestError(c.cfg.Service, "marshal request: "+err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if err := c.wait(ctx); err != nil {
		return zero, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return zero, errors.NewInternalError(c.cfg.Service, "create request: "+err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	for k, v := range c.cfg.Headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) {
			return zero, errors.NewTimeoutError(c.cfg.Service, "upstream request timed out")
		}
		return zero, errors.NewServiceUnavailableError(c.cfg.Service, err.Error())
	}
	defer resp.Body.Close()

	respBody, err := httputil.ReadLimitedBody(resp.Body, c.cfg.MaxResponseBytes)
	if err != nil {
		return zero, errors.NewUpstreamError(c.cfg.Service, "read response: "+err.Error())
	}

	c.logger.Debug("upstream call completed",
		"status", resp.StatusCode,
		"duration", time.Since(start),
		"bytes", len(respBody),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return zero, c.mapError(resp.StatusCode, respBody)
	}

	var out Res
	if err := json.Unmarshal(respBody, &out); err != nil {
		return zero, errors.NewUpstreamError(c.cfg.Service, "unmarshal response: "+err.Error())
	}
	return out, nil
}

// mapError understands both {"error":{"message":...}} and {"error":"..."} bodies.
func (c *Client[Req, Res]) mapError(status int, body []byte) error {
	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	var flat struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}

	message := ""
	switch {
	case json.Unmarshal(body, &nested) == nil && nested.Error.Message != "":
		message = nested.Error.Message
	case json.Unmarshal(body, &flat) == nil && (flat.Error != "" || flat.Message != ""):
		message = flat.Error
		if message == "" {
			message = flat.Message
		}
	}
	return errors.FromStatus(c.cfg.Service, status, message)
}
