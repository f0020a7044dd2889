package cache

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"nil", nil, "null"},
		{"bytes pass through", []byte{0xff, 0x00}, "\xff\x00"},
		{"string pass through", "你好", "你好"},
		{"raw json", json.RawMessage(`{"a":1}`), `{"a":1}`},
		{"struct", struct {
			Word string `json:"word"`
		}{"苹果"}, `{"word":"苹果"}`},
		{"map", map[string]int{"turns": 4}, `{"turns":4}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestEncode_Unsupported(t *testing.T) {
	_, err := Encode(make(chan int))
	assert.Error(t, err)
}
