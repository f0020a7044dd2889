package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecByName(t *testing.T) {
	for _, name := range []string{"", "json", " JSON "} {
		c, err := CodecByName(name)
		require.NoError(t, err)
		assert.IsType(t, JSONCodec{}, c)
	}

	c, err := CodecByName("msgpack")
	require.NoError(t, err)
	assert.IsType(t, MsgpackCodec{}, c)

	_, err = CodecByName("gob")
	assert.Error(t, err)
}

func TestMsgpackCodec_KeepsBinaryCompact(t *testing.T) {
	audio := make([]byte, 3000)
	for i := range audio {
		audio[i] = byte(i)
	}
	type clip struct {
		Audio []byte `json:"audio"`
		Voice string `json:"voice"`
	}
	in := clip{Audio: audio, Voice: "cmn-CN-Wavenet-A"}

	packed, err := MsgpackCodec{}.Marshal(in)
	require.NoError(t, err)
	asJSON, err := JSONCodec{}.Marshal(in)
	require.NoError(t, err)
	assert.Less(t, len(packed), len(asJSON))

	var out clip
	require.NoError(t, MsgpackCodec{}.Unmarshal(packed, &out))
	assert.Equal(t, in, out)
}

func TestCachedGenerator_CodecSwitchRegenerates(t *testing.T) {
	_, backend := newRedisStore(t)
	gen := &countingGenerator{}
	ctx := context.Background()
	req := ttsRequest{Text: "谢谢", Voice: "cmn-CN-Wavenet-B"}

	jsonSvc := newSpeechGenerator(backend, gen)
	_, err := jsonSvc.Generate(ctx, req)
	require.NoError(t, err)

	packSvc := newSpeechGenerator(backend, gen, WithCodec(MsgpackCodec{}))
	res, err := packSvc.Generate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "audio:谢谢", res.Audio)
	assert.Equal(t, int32(2), gen.calls.Load())

	_, err = packSvc.Generate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int32(2), gen.calls.Load())
}
