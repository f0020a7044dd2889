package cache

import (
	"github.com/goccy/go-json"
)

// Encode converts a value to the canonical text form stored by backends.
// Byte slices, strings and raw JSON pass through unchanged; anything else
// is marshaled to JSON.
func Encode(value any) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return []byte("null"), nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case json.RawMessage:
		return v, nil
	default:
		return json.Marshal(v)
	}
}
