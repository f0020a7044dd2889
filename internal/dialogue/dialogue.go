// Package dialogue defines example-dialogue requests for a vocabulary word and
// the cached generator that produces them.
package dialogue

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/vocabforge/vocabcache/internal/cache"
	store "github.com/vocabforge/vocabcache/pkg/cache"
	"github.com/vocabforge/vocabcache/pkg/errors"
)

const (
	// Namespace prefixes every dialogue cache key.
	Namespace = "dialogue"

	MaxSpeakers = 4
	MaxTurns    = 20
)

// Request asks for a short dialogue that uses Word in context.
type Request struct {
	Word     string `json:"word"`
	Meaning  string `json:"meaning,omitempty"`
	Level    string `json:"level,omitempty"`    // learner level, e.g. "HSK3"
	Scenario string `json:"scenario,omitempty"` // e.g. "ordering at a restaurant"
	Language string `json:"language,omitempty"` // language of the translations
	Speakers int    `json:"speakers,omitempty"`
	Turns    int    `json:"turns,omitempty"`
	Model    string `json:"model,omitempty"`

	// Options carries free-form generation hints; each one is part of the key.
	Options map[string]string `json:"options,omitempty"`
}

// CacheFields implements cache.Keyer. Word is compared after NFKC
// normalization and case folding, so full-width and half-width forms match.
func (r Request) CacheFields() []cache.Field {
	fields := []cache.Field{
		cache.String("word", normalize(r.Word)),
		cache.String("meaning", r.Meaning),
		cache.String("level", r.Level),
		cache.String("scenario", r.Scenario),
		cache.String("language", r.Language),
		cache.Int("speakers", r.Speakers),
		cache.Int("turns", r.Turns),
		cache.String("model", r.Model),
	}
	return append(fields, cache.Map("option", r.Options)...)
}

func normalize(s string) string {
	return cases.Fold().String(norm.NFKC.String(strings.TrimSpace(s)))
}

// Validate reports malformed requests before they reach the generator.
func (r Request) Validate() error {
	switch {
	case normalize(r.Word) == "":
		return errors.NewInvalidRequestError(Namespace, "word is required")
	case r.Speakers < 0 || r.Speakers > MaxSpeakers:
		return errors.NewInvalidRequestError(Namespace, "speakers out of range")
	case r.Turns < 0 || r.Turns > MaxTurns:
		return errors.NewInvalidRequestError(Namespace, "turns out of range")
	}
	return nil
}

// Line is one turn of a dialogue.
type Line struct {
	Speaker       string `json:"speaker"`
	Text          string `json:"text"`
	Romanization  string `json:"romanization,omitempty"`
	Translation   string `json:"translation,omitempty"`
	HighlightWord bool   `json:"highlightWord,omitempty"`
}

// Result is a generated dialogue.
type Result struct {
	Word  string `json:"word"`
	Title string `json:"title,omitempty"`
	Lines []Line `json:"lines"`
	Model string `json:"model,omitempty"`
}

// Generator produces dialogues without any caching.
type Generator = cache.Generator[Request, Result]

// Service is the cached dialogue generator.
type Service = cache.CachedGenerator[Request, Result]

// NewService wraps gen with caching on backend.
func NewService(backend store.Backend, gen Generator, ttl time.Duration, maxCacheableBytes int, opts ...cache.Option) *Service {
	return cache.NewCachedGenerator(cache.GeneratorConfig{
		Service:           Namespace,
		Namespace:         Namespace,
		TTL:               ttl,
		MaxCacheableBytes: maxCacheableBytes,
	}, backend, gen, opts...)
}
