// Package cache implements the cache-or-generate layer that sits in front of
// the speech and dialogue generators: key derivation, backend selection and
// the CachedGenerator decorator.
package cache

import (
	"time"

	"github.com/vocabforge/vocabcache/caches/redis"
)

const defaultProbeTimeout = 5 * time.Second

// Config holds the cache configuration.
type Config struct {
	Enabled      bool          `yaml:"enabled"`       // Administrative switch; false never touches the network
	ProbeTimeout time.Duration `yaml:"probe_timeout"` // Upper bound on the startup health probe
	Redis        redis.Config  `yaml:"redis"`         // Durable backend connection
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		ProbeTimeout: defaultProbeTimeout,
		Redis:        redis.DefaultConfig(),
	}
}
