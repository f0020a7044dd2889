package redis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocabforge/vocabcache/pkg/cache"
)

func newTestBackend(t *testing.T, opts ...Option) (*miniredis.Miniredis, *Backend) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	quiet := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	opts = append([]Option{WithLogger(quiet)}, opts...)
	return mr, NewFromClient(client, opts...)
}

func TestBackend_SetGetRoundTrip(t *testing.T) {
	_, b := newTestBackend(t)
	ctx := context.Background()

	val, ok := b.Get(ctx, "speech:missing")
	assert.False(t, ok)
	assert.Nil(t, val)

	require.True(t, b.Set(ctx, "speech:raw", []byte("audio-bytes"), time.Minute))
	val, ok = b.Get(ctx, "speech:raw")
	require.True(t, ok)
	assert.Equal(t, []byte("audio-bytes"), val)

	type payload struct {
		Word  string `json:"word"`
		Lines int    `json:"lines"`
	}
	require.True(t, b.Set(ctx, "dialogue:json", payload{Word: "苹果", Lines: 3}, time.Minute))
	val, ok = b.Get(ctx, "dialogue:json")
	require.True(t, ok)
	assert.JSONEq(t, `{"word":"苹果","lines":3}`, string(val))

	stats := b.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(2), stats.Sets)
	assert.Equal(t, cache.KindDurable, b.Kind())
}

func TestBackend_TTLExpiry(t *testing.T) {
	mr, b := newTestBackend(t)
	ctx := context.Background()

	require.True(t, b.Set(ctx, "speech:ttl", "v", 10*time.Second))
	assert.Equal(t, 10*time.Second, mr.TTL("speech:ttl"))

	mr.FastForward(11 * time.Second)
	_, ok := b.Get(ctx, "speech:ttl")
	assert.False(t, ok)
}

func TestBackend_DefaultTTL(t *testing.T) {
	mr, b := newTestBackend(t, WithDefaultTTL(time.Hour))

	require.True(t, b.Set(context.Background(), "k", "v", 0))
	assert.Equal(t, time.Hour, mr.TTL("k"))
}

func TestBackend_Delete(t *testing.T) {
	mr, b := newTestBackend(t)
	ctx := context.Background()

	require.True(t, b.Set(ctx, "speech:del", "v", time.Minute))
	b.Delete(ctx, "speech:del")
	assert.False(t, mr.Exists("speech:del"))
	assert.Equal(t, int64(1), b.Stats().Deletes)
}

func TestBackend_ClearPattern(t *testing.T) {
	mr, b := newTestBackend(t, WithScan(3, 2))
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		require.True(t, b.Set(ctx, fmt.Sprintf("ns:%d", i), "v", time.Minute))
	}
	require.True(t, b.Set(ctx, "other:1", "v", time.Minute))
	require.True(t, b.Set(ctx, "other:2", "v", time.Minute))

	removed := b.Clear(ctx, "ns:*")
	assert.Equal(t, int64(7), removed)

	for i := 0; i < 7; i++ {
		assert.False(t, mr.Exists(fmt.Sprintf("ns:%d", i)))
	}
	assert.True(t, mr.Exists("other:1"))
	assert.True(t, mr.Exists("other:2"))

	assert.Equal(t, int64(0), b.Clear(ctx, "ns:*"))
	assert.Equal(t, int64(0), b.Clear(ctx, ""))
}

func TestBackend_KeyPrefix(t *testing.T) {
	mr, b := newTestBackend(t, WithKeyPrefix("vocab"))
	ctx := context.Background()

	require.True(t, b.Set(ctx, "speech:a", "1", time.Minute))
	require.True(t, b.Set(ctx, "dialogue:b", "2", time.Minute))
	assert.True(t, mr.Exists("vocab:speech:a"))

	got := b.GetMulti(ctx, []string{"speech:a", "dialogue:b", "speech:none"})
	assert.Equal(t, map[string][]byte{
		"speech:a":   []byte("1"),
		"dialogue:b": []byte("2"),
	}, got)

	assert.Equal(t, int64(1), b.Clear(ctx, "speech:*"))
	assert.True(t, mr.Exists("vocab:dialogue:b"))
}

func TestBackend_GetMulti(t *testing.T) {
	_, b := newTestBackend(t)
	ctx := context.Background()

	empty := b.GetMulti(ctx, nil)
	require.NotNil(t, empty)
	assert.Empty(t, empty)

	require.True(t, b.Set(ctx, "a", "1", time.Minute))
	require.True(t, b.Set(ctx, "c", "3", time.Minute))

	got := b.GetMulti(ctx, []string{"a", "b", "c"})
	assert.Len(t, got, 2)
	assert.Equal(t, []byte("1"), got["a"])
	assert.Equal(t, []byte("3"), got["c"])
}

func TestBackend_FailOpen(t *testing.T) {
	mr, b := newTestBackend(t)
	ctx := context.Background()
	require.True(t, b.Set(ctx, "speech:a", "v", time.Minute))

	mr.Close()

	val, ok := b.Get(ctx, "speech:a")
	assert.False(t, ok)
	assert.Nil(t, val)
	assert.False(t, b.Set(ctx, "speech:b", "v", time.Minute))
	assert.NotPanics(t, func() { b.Delete(ctx, "speech:a") })
	assert.Equal(t, int64(0), b.Clear(ctx, "speech:*"))

	multi := b.GetMulti(ctx, []string{"speech:a"})
	require.NotNil(t, multi)
	assert.Empty(t, multi)

	assert.Error(t, b.Ping(ctx))
	assert.Equal(t, int64(5), b.Stats().Errors)
}

func TestBackend_ServerError(t *testing.T) {
	mr, b := newTestBackend(t)
	ctx := context.Background()
	require.True(t, b.Set(ctx, "warm", "v", time.Minute))

	mr.SetError("LOADING dataset in memory")
	_, ok := b.Get(ctx, "k")
	assert.False(t, ok)
	assert.False(t, b.Set(ctx, "k", "v", time.Minute))

	mr.SetError("")
	assert.True(t, b.Set(ctx, "k", "v", time.Minute))
}

func TestBackend_UnencodableValue(t *testing.T) {
	_, b := newTestBackend(t)

	assert.False(t, b.Set(context.Background(), "k", make(chan int), time.Minute))
	assert.Equal(t, int64(1), b.Stats().Errors)
}

func TestNew_Configuration(t *testing.T) {
	t.Run("no address", func(t *testing.T) {
		_, err := New(Config{})
		assert.ErrorIs(t, err, ErrNoAddress)
	})

	t.Run("sentinel without master", func(t *testing.T) {
		_, err := New(Config{SentinelAddrs: []string{"localhost:26379"}})
		assert.ErrorIs(t, err, ErrSentinelMasterRequired)
	})

	t.Run("bad url", func(t *testing.T) {
		_, err := New(Config{URL: "http://not-redis"})
		assert.Error(t, err)
	})

	t.Run("url", func(t *testing.T) {
		mr := miniredis.RunT(t)
		b, err := New(Config{URL: "redis://" + mr.Addr() + "/0"})
		require.NoError(t, err)
		defer func() { _ = b.Close() }()
		assert.NoError(t, b.Ping(context.Background()))
	})

	t.Run("single node owns client", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := DefaultConfig()
		cfg.Addr = mr.Addr()
		cfg.KeyPrefix = "p"
		b, err := New(cfg)
		require.NoError(t, err)

		ctx := context.Background()
		require.True(t, b.Set(ctx, "k", "v", time.Minute))
		assert.True(t, mr.Exists("p:k"))

		require.NoError(t, b.Close())
		require.NoError(t, b.Close())
	})
}

// failingDel fails every DEL after the first allowed ones.
type failingDel struct {
	allowed int32
	seen    atomic.Int32
}

func (h *failingDel) DialHook(next goredis.DialHook) goredis.DialHook { return next }

func (h *failingDel) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		if cmd.Name() == "del" && h.seen.Add(1) > h.allowed {
			err := errors.New("connection reset")
			cmd.SetErr(err)
			return err
		}
		return next(ctx, cmd)
	}
}

func (h *failingDel) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return next
}

func TestBackend_ClearPartialFailureCountsDeletes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	quiet := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	b := NewFromClient(client, WithLogger(quiet), WithScan(10, 2))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.True(t, b.Set(ctx, fmt.Sprintf("speech:%d", i), "v", time.Minute))
	}
	client.AddHook(&failingDel{allowed: 1})

	removed := b.Clear(ctx, "speech:*")
	assert.Equal(t, int64(2), removed)
	assert.Len(t, mr.Keys(), 3)

	stats := b.Stats()
	assert.Equal(t, int64(2), stats.Deletes)
	assert.Equal(t, int64(1), stats.Errors)
}

func TestDelEach(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	require.NoError(t, mr.Set("speech:a", "1"))
	require.NoError(t, mr.Set("speech:b", "2"))

	n, err := delEach(ctx, client, []string{"speech:a", "speech:b", "speech:gone"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.False(t, mr.Exists("speech:a"))
	assert.False(t, mr.Exists("speech:b"))
}

func TestBackend_ClearCluster(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClusterClient(&goredis.ClusterOptions{Addrs: []string{mr.Addr()}, MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("cluster mode unavailable: %v", err)
	}

	quiet := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	b := NewFromClient(client, WithLogger(quiet), WithScan(2, 3))
	for i := 0; i < 8; i++ {
		require.True(t, b.Set(ctx, fmt.Sprintf("dialogue:%d", i), "v", time.Minute))
	}
	require.True(t, b.Set(ctx, "speech:keep", "v", time.Minute))

	assert.Equal(t, int64(8), b.Clear(ctx, "dialogue:*"))
	assert.Equal(t, []string{"speech:keep"}, mr.Keys())
	assert.Equal(t, int64(8), b.Stats().Deletes)
}
