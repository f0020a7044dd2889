// Package config provides configuration management with hot-reload support.
// It uses fsnotify to watch for file changes and atomic pointer swaps for zero-downtime updates.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vocabforge/vocabcache/internal/cache"
	"github.com/vocabforge/vocabcache/internal/resilience"
)

// ErrCacheAddressRequired is returned when caching is enabled without any redis target.
var ErrCacheAddressRequired = errors.New("cache.redis: an address is required when cache.enabled is true")

// Config represents the complete service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Cache    cache.Config   `yaml:"cache"`
	Speech   UpstreamConfig `yaml:"speech"`
	Dialogue UpstreamConfig `yaml:"dialogue"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing"`
	CORS     CORSConfig     `yaml:"cors"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// UpstreamConfig describes one external generation service and how its results are cached.
type UpstreamConfig struct {
	Endpoint          string            `yaml:"endpoint"`
	APIKey            string            `yaml:"api_key"`
	Timeout           time.Duration     `yaml:"timeout"`
	Headers           map[string]string `yaml:"headers"`
	TTL               time.Duration     `yaml:"ttl"`                 // lifetime of cached results
	MaxCacheableBytes int               `yaml:"max_cacheable_bytes"` // 0 = no limit
	RequestsPerMinute int               `yaml:"requests_per_minute"` // 0 = unlimited
	Burst             int               `yaml:"burst"`
	Codec             string            `yaml:"codec"` // json (default) or msgpack

	CircuitBreaker resilience.BreakerConfig `yaml:"circuit_breaker"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig contains OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`     // OTLP endpoint (e.g., "localhost:4317")
	ServiceName string  `yaml:"service_name"` // Service name for traces
	SampleRate  float64 `yaml:"sample_rate"`  // Sampling rate (0.0 to 1.0)
	Insecure    bool    `yaml:"insecure"`     // Use insecure connection (no TLS)
}

// CORSConfig controls cross-origin access from the web front end.
// Cache management routes use ManagementOrigins; everything else uses DataOrigins.
type CORSConfig struct {
	Enabled                bool          `yaml:"enabled"`
	AllowAllOrigins        bool          `yaml:"allow_all_origins"`
	AllowCredentials       bool          `yaml:"allow_credentials"`
	AllowMethods           []string      `yaml:"allow_methods"`
	AllowHeaders           []string      `yaml:"allow_headers"`
	ExposeHeaders          []string      `yaml:"expose_headers"`
	MaxAge                 time.Duration `yaml:"max_age"`
	DataOrigins            CORSOrigins   `yaml:"data_origins"`
	ManagementOrigins      CORSOrigins   `yaml:"management_origins"`
	ManagementPathPrefixes []string      `yaml:"management_path_prefixes"`
}

// CORSOrigins is an origin policy. The denylist wins; "*" denies every origin.
type CORSOrigins struct {
	Allowlist []string `yaml:"allowlist"`
	Denylist  []string `yaml:"denylist"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Cache: cache.DefaultConfig(),
		Speech: UpstreamConfig{
			Timeout:           30 * time.Second,
			TTL:               30 * 24 * time.Hour,
			MaxCacheableBytes: 5 << 20,
			Codec:             "msgpack",
			CircuitBreaker:    resilience.DefaultBreakerConfig(),
		},
		Dialogue: UpstreamConfig{
			Timeout:        60 * time.Second,
			TTL:            7 * 24 * time.Hour,
			CircuitBreaker: resilience.DefaultBreakerConfig(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			ServiceName: "vocabcache",
			SampleRate:  1.0,
			Insecure:    true,
		},
		CORS: CORSConfig{
			AllowMethods:           []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:           []string{"Content-Type", "Authorization", "X-Request-ID"},
			ExposeHeaders:          []string{"X-Request-ID"},
			MaxAge:                 10 * time.Minute,
			ManagementPathPrefixes: []string{"/v1/cache/", "/v1/speech/invalidate", "/v1/dialogue/invalidate"},
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file.
// Environment variables in the format ${VAR_NAME} are expanded.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of DefaultConfig and validates the result.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Cache.Enabled && !c.Cache.Redis.HasAddress() {
		return ErrCacheAddressRequired
	}
	if c.Cache.ProbeTimeout < 0 {
		return fmt.Errorf("cache.probe_timeout cannot be negative")
	}
	if len(c.Cache.Redis.SentinelAddrs) > 0 && c.Cache.Redis.SentinelMaster == "" {
		return fmt.Errorf("cache.redis.sentinel_master is required with sentinel_addrs")
	}

	upstreams := []struct {
		name string
		cfg  UpstreamConfig
	}{{"speech", c.Speech}, {"dialogue", c.Dialogue}}
	for _, up := range upstreams {
		name, u := up.name, up.cfg
		if strings.TrimSpace(u.Endpoint) == "" {
			return fmt.Errorf("%s.endpoint is required", name)
		}
		if u.Timeout < 0 {
			return fmt.Errorf("%s.timeout cannot be negative", name)
		}
		if u.TTL < 0 {
			return fmt.Errorf("%s.ttl cannot be negative", name)
		}
		if u.MaxCacheableBytes < 0 {
			return fmt.Errorf("%s.max_cacheable_bytes cannot be negative", name)
		}
		if _, err := cache.CodecByName(u.Codec); err != nil {
			return fmt.Errorf("%s.codec: %w", name, err)
		}
		if u.RequestsPerMinute < 0 || u.Burst < 0 {
			return fmt.Errorf("%s.requests_per_minute and burst cannot be negative", name)
		}
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be between 0 and 1")
	}

	return nil
}
