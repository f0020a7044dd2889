package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strconv"
	"strings"
)

// Field is one semantically relevant request value that takes part in the cache key.
type Field struct {
	Name  string
	Value string
}

// String returns a string field.
func String(name, value string) Field {
	return Field{Name: name, Value: value}
}

// Float returns a float field formatted in its shortest exact form,
// so 1.0 and 1.00 hash identically.
func Float(name string, value float64) Field {
	if value == 0 {
		return Field{Name: name}
	}
	return Field{Name: name, Value: strconv.FormatFloat(value, 'g', -1, 64)}
}

// Int returns an integer field.
func Int(name string, value int) Field {
	if value == 0 {
		return Field{Name: name}
	}
	return Field{Name: name, Value: strconv.Itoa(value)}
}

// Map expands a map into fields named "prefix.key". Map iteration order
// never leaks into the key because Generate sorts fields by name.
func Map(prefix string, values map[string]string) []Field {
	fields := make([]Field, 0, len(values))
	for k, v := range values {
		fields = append(fields, Field{Name: prefix + "." + k, Value: v})
	}
	return fields
}

// Keyer is implemented by generation requests that can derive their cache key fields.
type Keyer interface {
	CacheFields() []Field
}

// KeyGenerator derives cache keys of the form "namespace:sha256hex".
type KeyGenerator struct {
	// Namespace identifies the generation domain, e.g. "speech" or "dialogue".
	Namespace string
}

// NewKeyGenerator creates a KeyGenerator for the given namespace.
func NewKeyGenerator(namespace string) *KeyGenerator {
	return &KeyGenerator{Namespace: namespace}
}

// Generate hashes fields into a key. Fields are sorted by name and fields with an
// empty value are skipped, so an unset optional field and a missing one are the same.
// Names and values are both length-prefixed, so separators inside either
// cannot make two field lists encode alike.
func (g *KeyGenerator) Generate(fields ...Field) string {
	sorted := make([]Field, 0, len(fields))
	for _, f := range fields {
		if f.Value != "" {
			sorted = append(sorted, f)
		}
	}
	slices.SortStableFunc(sorted, func(a, b Field) int {
		return strings.Compare(a.Name, b.Name)
	})

	var sb strings.Builder
	for _, f := range sorted {
		writeLengthPrefixed(&sb, f.Name)
		sb.WriteByte('=')
		writeLengthPrefixed(&sb, f.Value)
		sb.WriteByte('|')
	}

	hash := sha256.Sum256([]byte(sb.String()))
	return g.join(hex.EncodeToString(hash[:]))
}

func writeLengthPrefixed(sb *strings.Builder, s string) {
	sb.WriteString(strconv.Itoa(len(s)))
	sb.WriteByte(':')
	sb.WriteString(s)
}

// Key derives the key for a request.
func (g *KeyGenerator) Key(req Keyer) string {
	return g.Generate(req.CacheFields()...)
}

// Pattern returns the glob matching every key in this namespace whose hash starts with scope.
// An empty scope matches the whole namespace.
func (g *KeyGenerator) Pattern(scope string) string {
	return g.join(scope + "*")
}

func (g *KeyGenerator) join(rest string) string {
	if g.Namespace == "" {
		return rest
	}
	return g.Namespace + ":" + rest
}
