// Package redis provides the durable, Redis-backed cache backend.
package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vocabforge/vocabcache/pkg/cache"
)

var (
	// ErrNoAddress is returned when no single-node, cluster, sentinel or URL address is configured.
	ErrNoAddress = errors.New("redis: no address configured")

	// ErrSentinelMasterRequired is returned when sentinel addresses are set without a master name.
	ErrSentinelMasterRequired = errors.New("redis: sentinel_master is required with sentinel_addrs")
)

const (
	defaultScanCount   = 100
	defaultDeleteBatch = 500
)

// Backend implements cache.Backend using Redis as the store.
// Every call makes a single attempt; failures are logged and reported as a miss or no-op.
type Backend struct {
	client     goredis.UniversalClient
	ownsClient bool
	prefix     string
	defaultTTL time.Duration
	scanCount  int64
	batchSize  int
	logger     *slog.Logger

	hits    atomic.Int64
	misses  atomic.Int64
	sets    atomic.Int64
	deletes atomic.Int64
	errors  atomic.Int64
}

var _ cache.Backend = (*Backend)(nil)

// Config holds configuration for the Redis backend.
type Config struct {
	// Exactly one target is used, checked in this order: URL, cluster,
	// sentinel, single node.
	Addr           string   `yaml:"addr"`
	URL            string   `yaml:"url"` // redis:// or rediss://; overrides Addr, Password and DB
	Password       string   `yaml:"password"`
	DB             int      `yaml:"db"`
	ClusterAddrs   []string `yaml:"cluster_addrs"`
	SentinelAddrs  []string `yaml:"sentinel_addrs"`
	SentinelMaster string   `yaml:"sentinel_master"`

	KeyPrefix     string        `yaml:"key_prefix"`  // Prepended to every key as "prefix:"
	DefaultTTL    time.Duration `yaml:"default_ttl"` // TTL used when Set gets ttl <= 0
	DialTimeout   time.Duration `yaml:"dial_timeout"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	PoolSize      int           `yaml:"pool_size"`
	MinIdleConns  int           `yaml:"min_idle_conns"`
	ScanCount     int64         `yaml:"scan_count"`   // COUNT hint per SCAN round trip
	DeleteBatch   int           `yaml:"delete_batch"` // Keys per DEL during Clear
	TLSEnabled    bool          `yaml:"tls_enabled"`
	TLSSkipVerify bool          `yaml:"tls_skip_verify"`
}

// DefaultConfig targets a local single node with a one day TTL.
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		DefaultTTL:   24 * time.Hour,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
		ScanCount:    defaultScanCount,
		DeleteBatch:  defaultDeleteBatch,
	}
}

// HasAddress reports whether any connection target is configured.
func (c Config) HasAddress() bool {
	return c.Addr != "" || c.URL != "" || len(c.ClusterAddrs) > 0 || len(c.SentinelAddrs) > 0
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger used for fail-open warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithKeyPrefix prepends prefix to every key.
func WithKeyPrefix(prefix string) Option {
	return func(b *Backend) {
		b.prefix = prefix
	}
}

// WithDefaultTTL sets the TTL used when Set is called with ttl <= 0.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(b *Backend) {
		if ttl > 0 {
			b.defaultTTL = ttl
		}
	}
}

// WithScan sets the SCAN count hint and the DEL batch size used by Clear.
func WithScan(count int64, batch int) Option {
	return func(b *Backend) {
		if count > 0 {
			b.scanCount = count
		}
		if batch > 0 {
			b.batchSize = batch
		}
	}
}

// New builds a client from cfg. It does not contact the server;
// callers decide whether to trust the backend after a Ping.
func New(cfg Config, opts ...Option) (*Backend, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}

	all := append([]Option{
		WithKeyPrefix(cfg.KeyPrefix),
		WithDefaultTTL(cfg.DefaultTTL),
		WithScan(cfg.ScanCount, cfg.DeleteBatch),
	}, opts...)

	b := NewFromClient(client, all...)
	b.ownsClient = true
	return b, nil
}

// NewFromClient wraps an existing client. The caller owns the client lifecycle
// and Close leaves it open.
func NewFromClient(client goredis.UniversalClient, opts ...Option) *Backend {
	b := &Backend{
		client:     client,
		defaultTTL: 24 * time.Hour,
		scanCount:  defaultScanCount,
		batchSize:  defaultDeleteBatch,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func newClient(cfg Config) (goredis.UniversalClient, error) {
	if !cfg.HasAddress() {
		return nil, ErrNoAddress
	}
	if cfg.URL != "" {
		return newURLClient(cfg)
	}

	// Retries would stretch a miss into several round trips.
	uo := &goredis.UniversalOptions{
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   -1,
	}
	if cfg.TLSEnabled {
		uo.TLSConfig = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.TLSSkipVerify, //nolint:gosec // operator opt-in
		}
	}

	switch {
	case len(cfg.ClusterAddrs) > 0:
		uo.Addrs = cfg.ClusterAddrs
		return goredis.NewClusterClient(uo.Cluster()), nil
	case len(cfg.SentinelAddrs) > 0:
		if cfg.SentinelMaster == "" {
			return nil, ErrSentinelMasterRequired
		}
		uo.Addrs = cfg.SentinelAddrs
		uo.MasterName = cfg.SentinelMaster
		return goredis.NewFailoverClient(uo.Failover()), nil
	default:
		uo.Addrs = []string{cfg.Addr}
		return goredis.NewClient(uo.Simple()), nil
	}
}

// newURLClient honors everything the URL carries; explicit timeouts and pool
// size in cfg take precedence.
func newURLClient(cfg Config) (goredis.UniversalClient, error) {
	o, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	overrideDuration(&o.DialTimeout, cfg.DialTimeout)
	overrideDuration(&o.ReadTimeout, cfg.ReadTimeout)
	overrideDuration(&o.WriteTimeout, cfg.WriteTimeout)
	if cfg.PoolSize > 0 {
		o.PoolSize = cfg.PoolSize
	}
	o.MaxRetries = -1
	return goredis.NewClient(o), nil
}

func overrideDuration(dst *time.Duration, v time.Duration) {
	if v > 0 {
		*dst = v
	}
}

// prefixKey adds the deployment prefix to the key.
func (b *Backend) prefixKey(key string) string {
	if b.prefix == "" {
		return key
	}
	return b.prefix + ":" + key
}

func (b *Backend) fail(op string, err error, args ...any) {
	b.errors.Add(1)
	attrs := append([]any{"op", op, "error", err}, args...)
	b.logger.Warn("cache backend operation failed", attrs...)
}

// Get retrieves a value from Redis.
func (b *Backend) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := b.client.Get(ctx, b.prefixKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			b.misses.Add(1)
			return nil, false
		}
		b.fail("get", err, "key", key)
		return nil, false
	}

	b.hits.Add(1)
	return val, true
}

// Set stores a value in Redis with TTL.
func (b *Backend) Set(ctx context.Context, key string, value any, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = b.defaultTTL
	}

	data, err := cache.Encode(value)
	if err != nil {
		b.fail("set", fmt.Errorf("encode value: %w", err), "key", key)
		return false
	}

	if err := b.client.Set(ctx, b.prefixKey(key), data, ttl).Err(); err != nil {
		b.fail("set", err, "key", key)
		return false
	}

	b.sets.Add(1)
	return true
}

// Delete removes a key from Redis.
func (b *Backend) Delete(ctx context.Context, key string) {
	if err := b.client.Del(ctx, b.prefixKey(key)).Err(); err != nil {
		b.fail("delete", err, "key", key)
		return
	}
	b.deletes.Add(1)
}

// Clear removes keys matching pattern using SCAN with batched deletes, so no
// single command walks the whole keyspace. A cluster is scanned master by
// master, since a SCAN cursor is only meaningful on the node that issued it.
// On error it stops and returns the number of keys removed so far.
func (b *Backend) Clear(ctx context.Context, pattern string) int64 {
	if pattern == "" {
		return 0
	}
	match := b.prefixKey(pattern)

	var removed atomic.Int64
	var err error
	if cluster, ok := b.client.(*goredis.ClusterClient); ok {
		err = cluster.ForEachMaster(ctx, func(ctx context.Context, node *goredis.Client) error {
			return b.clearNode(ctx, node, match, delEach, &removed)
		})
	} else {
		err = b.clearNode(ctx, b.client, match, delBatch, &removed)
	}

	b.deletes.Add(removed.Load())
	if err != nil {
		b.fail("clear", err, "pattern", pattern, "removed", removed.Load())
	}
	return removed.Load()
}

// deleteFunc removes keys that all live on one node.
type deleteFunc func(ctx context.Context, c goredis.Cmdable, keys []string) (int64, error)

// delBatch issues one multi-key DEL.
func delBatch(ctx context.Context, c goredis.Cmdable, keys []string) (int64, error) {
	return c.Del(ctx, keys...).Result()
}

// delEach pipelines single-key DELs. Cluster nodes reject multi-key commands
// whose keys hash to different slots.
func delEach(ctx context.Context, c goredis.Cmdable, keys []string) (int64, error) {
	cmds, err := c.Pipelined(ctx, func(p goredis.Pipeliner) error {
		for _, k := range keys {
			p.Del(ctx, k)
		}
		return nil
	})
	var n int64
	for _, cmd := range cmds {
		if del, ok := cmd.(*goredis.IntCmd); ok {
			n += del.Val()
		}
	}
	return n, err
}

func (b *Backend) clearNode(ctx context.Context, c goredis.Cmdable, match string, del deleteFunc, removed *atomic.Int64) error {
	batch := make([]string, 0, b.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := del(ctx, c, batch)
		removed.Add(n)
		batch = batch[:0]
		return err
	}

	iter := c.Scan(ctx, 0, match, b.scanCount).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= b.batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	return flush()
}

// GetMulti retrieves multiple keys using Redis MGET.
func (b *Backend) GetMulti(ctx context.Context, keys []string) map[string][]byte {
	result := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return result
	}

	// Prefix all keys
	prefixedKeys := make([]string, len(keys))
	for i, key := range keys {
		prefixedKeys[i] = b.prefixKey(key)
	}

	vals, err := b.client.MGet(ctx, prefixedKeys...).Result()
	if err != nil {
		b.fail("get_multi", err, "keys", len(keys))
		return result
	}

	for i, val := range vals {
		switch v := val.(type) {
		case string:
			result[keys[i]] = []byte(v)
			b.hits.Add(1)
		case []byte:
			result[keys[i]] = v
			b.hits.Add(1)
		default:
			b.misses.Add(1)
		}
	}

	return result
}

// Ping checks Redis connectivity.
func (b *Backend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close closes the Redis connection when the backend created it.
func (b *Backend) Close() error {
	if !b.ownsClient {
		return nil
	}
	if err := b.client.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
		return err
	}
	return nil
}

// Kind reports cache.KindDurable.
func (b *Backend) Kind() cache.Kind {
	return cache.KindDurable
}

// Stats returns backend statistics.
func (b *Backend) Stats() cache.Stats {
	return cache.Stats{
		Hits:    b.hits.Load(),
		Misses:  b.misses.Load(),
		Sets:    b.sets.Load(),
		Deletes: b.deletes.Load(),
		Errors:  b.errors.Load(),
	}
}
