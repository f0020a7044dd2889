package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocabforge/vocabcache/internal/config"
	"github.com/vocabforge/vocabcache/internal/observability"
	"github.com/vocabforge/vocabcache/internal/speech"
)

type fakeUpstreams struct {
	speech      *httptest.Server
	dialogue    *httptest.Server
	speechHits  atomic.Int32
	dialogueHit atomic.Int32
}

func newFakeUpstreams(t *testing.T) *fakeUpstreams {
	t.Helper()
	f := &fakeUpstreams{}
	f.speech = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.speechHits.Add(1)
		var req speech.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(speech.Result{AudioContent: []byte(req.Text), ContentType: "audio/mpeg"})
	}))
	f.dialogue = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.dialogueHit.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down"}}`))
	}))
	t.Cleanup(f.speech.Close)
	t.Cleanup(f.dialogue.Close)
	return f
}

func testAppConfig(redisAddr string, f *fakeUpstreams) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Cache.Redis.Addr = redisAddr
	cfg.Cache.ProbeTimeout = time.Second
	cfg.Speech.Endpoint = f.speech.URL
	cfg.Dialogue.Endpoint = f.dialogue.URL
	return cfg
}

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.LoggerConfig{Level: "error", Output: &bytes.Buffer{}})
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestApp_EndToEnd(t *testing.T) {
	mr := miniredis.RunT(t)
	f := newFakeUpstreams(t)

	a, err := newApp(context.Background(), testAppConfig(mr.Addr(), f), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.close() })

	body := `{"text":"谢谢","voice":"cmn-CN-Wavenet-B"}`
	for i := 0; i < 3; i++ {
		rec := serve(a.handler, http.MethodPost, "/v1/speech", body)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.NotEmpty(t, rec.Header().Get(observability.RequestIDHeader))
	}
	assert.Equal(t, int32(1), f.speechHits.Load())

	rec := serve(a.handler, http.MethodPost, "/v1/dialogue", `{"word":"谢谢"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "slow down")

	rec = serve(a.handler, http.MethodGet, "/health/cache", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"services": {
			"speech":   {"hits":2,"misses":1,"total":3,"hitRate":"66.67"},
			"dialogue": {"hits":0,"misses":1,"total":1,"hitRate":"0.00"}
		},
		"overall": {"hits":2,"misses":2,"total":4,"hitRate":"50.00"}
	}`, rec.Body.String())

	rec = serve(a.handler, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "vocabcache_cache_hits_total")
}

func TestApp_DegradesWithoutRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	f := newFakeUpstreams(t)

	a, err := newApp(context.Background(), testAppConfig(addr, f), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.close() })

	for i := 0; i < 2; i++ {
		rec := serve(a.handler, http.MethodPost, "/v1/speech", `{"text":"再见"}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, int32(2), f.speechHits.Load())

	rec := serve(a.handler, http.MethodGet, "/health/ready", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"degraded"`)
}

func TestApp_RequiresEndpoints(t *testing.T) {
	mr := miniredis.RunT(t)
	f := newFakeUpstreams(t)
	cfg := testAppConfig(mr.Addr(), f)
	cfg.Dialogue.Endpoint = ""

	_, err := newApp(context.Background(), cfg, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dialogue upstream")
}

func TestApp_ApplyConfig(t *testing.T) {
	mr := miniredis.RunT(t)
	f := newFakeUpstreams(t)
	logger := testLogger()

	a, err := newApp(context.Background(), testAppConfig(mr.Addr(), f), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.close() })

	next := testAppConfig(mr.Addr(), f)
	next.Logging.Level = "debug"
	next.Speech.TTL = time.Minute
	next.Dialogue.TTL = 2 * time.Minute
	a.applyConfig(next)

	assert.Equal(t, "DEBUG", logger.Level().String())
	assert.Equal(t, time.Minute, a.speech.TTL())
	assert.Equal(t, 2*time.Minute, a.dialogue.TTL())

	rec := serve(a.handler, http.MethodPost, "/v1/speech", `{"text":"你好"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	key := a.speech.Key(speech.Request{Text: "你好"})
	assert.Equal(t, time.Minute, mr.TTL(key))
}

func TestApp_CircuitBreakerShieldsUpstream(t *testing.T) {
	mr := miniredis.RunT(t)
	f := newFakeUpstreams(t)
	cfg := testAppConfig(mr.Addr(), f)
	cfg.Dialogue.CircuitBreaker.Enabled = true
	cfg.Dialogue.CircuitBreaker.FailureThreshold = 2
	cfg.Dialogue.CircuitBreaker.OpenTimeout = time.Hour

	a, err := newApp(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.close() })

	for i := 0; i < 2; i++ {
		rec := serve(a.handler, http.MethodPost, "/v1/dialogue", `{"word":"学习"}`)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	}
	rec := serve(a.handler, http.MethodPost, "/v1/dialogue", `{"word":"学习"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "circuit open")
	assert.Equal(t, int32(2), f.dialogueHit.Load())
}
