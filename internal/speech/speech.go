// Package speech defines text-to-speech requests and the cached synthesizer
// used for vocabulary pronunciation.
package speech

import (
	"strings"
	"time"

	"github.com/vocabforge/vocabcache/internal/cache"
	store "github.com/vocabforge/vocabcache/pkg/cache"
	"github.com/vocabforge/vocabcache/pkg/errors"
)

// Namespace prefixes every speech cache key.
const Namespace = "speech"

// MaxTextLength bounds a single synthesis request.
const MaxTextLength = 5000

// Request is a synthesis request. Every field changes the produced audio, so
// every field takes part in the cache key.
type Request struct {
	Text          string  `json:"text"`
	Voice         string  `json:"voice,omitempty"`
	LanguageCode  string  `json:"languageCode,omitempty"`
	AudioEncoding string  `json:"audioEncoding,omitempty"`
	SpeakingRate  float64 `json:"speakingRate,omitempty"`
	Pitch         float64 `json:"pitch,omitempty"`
}

// CacheFields implements cache.Keyer.
func (r Request) CacheFields() []cache.Field {
	return []cache.Field{
		cache.String("text", r.Text),
		cache.String("voice", r.Voice),
		cache.String("language_code", r.LanguageCode),
		cache.String("audio_encoding", r.AudioEncoding),
		cache.Float("speaking_rate", r.SpeakingRate),
		cache.Float("pitch", r.Pitch),
	}
}

// Validate reports malformed requests before they reach the synthesizer.
func (r Request) Validate() error {
	switch {
	case strings.TrimSpace(r.Text) == "":
		return errors.NewInvalidRequestError(Namespace, "text is required")
	case len(r.Text) > MaxTextLength:
		return errors.NewInvalidRequestError(Namespace, "text is too long")
	case r.SpeakingRate != 0 && (r.SpeakingRate < 0.25 || r.SpeakingRate > 4):
		return errors.NewInvalidRequestError(Namespace, "speakingRate must be between 0.25 and 4")
	case r.Pitch < -20 || r.Pitch > 20:
		return errors.NewInvalidRequestError(Namespace, "pitch must be between -20 and 20")
	}
	return nil
}

// Result is synthesized audio. AudioContent is base64 in JSON.
type Result struct {
	AudioContent []byte `json:"audioContent"`
	ContentType  string `json:"contentType,omitempty"`
	Voice        string `json:"voice,omitempty"`
}

// Synthesizer produces audio without any caching.
type Synthesizer = cache.Generator[Request, Result]

// Service is the cached synthesizer.
type Service = cache.CachedGenerator[Request, Result]

// NewService wraps synth with caching on backend.
func NewService(backend store.Backend, synth Synthesizer, ttl time.Duration, maxCacheableBytes int, opts ...cache.Option) *Service {
	return cache.NewCachedGenerator(cache.GeneratorConfig{
		Service:           Namespace,
		Namespace:         Namespace,
		TTL:               ttl,
		MaxCacheableBytes: maxCacheableBytes,
	}, backend, synth, opts...)
}
