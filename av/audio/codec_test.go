package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ramp(n int) []int16 {
	pcm := make([]int16, n)
	for i := range pcm {
		pcm[i] = int16(i*7 - 1000)
	}
	return pcm
}

func TestPCMCodecLosslessRoundTrip(t *testing.T) {
	tests := []struct {
		name        string
		variant     CodecVariant
		blockFactor int
	}{
		{"long_single", CodecOpus, 1},
		{"short_single", CodecOpusLowDelay, 1},
		{"short_coalesced", CodecOpusLowDelay, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewPCMCodec()
			samples := tt.variant.FrameSamples() * CodecChannels * tt.blockFactor
			pcm := ramp(samples)
			packet := make([]byte, LosslessSubFrameSize(tt.variant)*tt.blockFactor)

			n, err := c.Encode(tt.variant, pcm, tt.blockFactor, packet)
			require.NoError(t, err)
			assert.Equal(t, len(packet), n)

			out := make([]int16, samples)
			frames, err := c.Decode(tt.variant, packet, tt.blockFactor, out)
			require.NoError(t, err)
			assert.Equal(t, tt.variant.FrameSamples()*tt.blockFactor, frames)
			assert.Equal(t, pcm, out)
		})
	}
}

func TestPCMCodecLossyKeepsFrameCount(t *testing.T) {
	c := NewPCMCodec()
	d := StereoNormal()
	pcm := ramp(d.Samples())
	packet := make([]byte, d.PacketSize)

	n, err := c.Encode(d.Codec, pcm, d.BlockFactor, packet)
	require.NoError(t, err)
	assert.Equal(t, d.PacketSize, n)

	out := make([]int16, d.Samples())
	frames, err := c.Decode(d.Codec, packet, d.BlockFactor, out)
	require.NoError(t, err)
	assert.Equal(t, d.FrameSize, frames)
	assert.Equal(t, pcm[0], out[0])
}

func TestPCMCodecErrors(t *testing.T) {
	c := NewPCMCodec()
	pcm := make([]int16, CodecOpus.FrameSamples()*CodecChannels)

	_, err := c.Encode(CodecOpus, pcm[:10], 1, make([]byte, 80))
	assert.ErrorIs(t, err, ErrCodec)
	_, err = c.Encode(CodecVariant(5), pcm, 1, make([]byte, 80))
	assert.ErrorIs(t, err, ErrCodec)
	_, err = c.Encode(CodecOpus, pcm, 1, make([]byte, 1))
	assert.ErrorIs(t, err, ErrCodec)

	_, err = c.Decode(CodecOpus, nil, 1, pcm)
	assert.ErrorIs(t, err, ErrCodec)
	_, err = c.Decode(CodecOpus, make([]byte, 81), 2, pcm)
	assert.ErrorIs(t, err, ErrCodec)
	_, err = c.Decode(CodecOpus, make([]byte, 80), 1, pcm[:4])
	assert.ErrorIs(t, err, ErrCodec)
}

func TestPCMCodecResetsAndConfigure(t *testing.T) {
	c := NewPCMCodec()
	require.NoError(t, c.ResetEncoder(CodecOpusLowDelay))
	require.NoError(t, c.ResetDecoder(CodecOpusLowDelay))
	require.NoError(t, c.ResetDecoder(CodecOpusLowDelay))
	assert.Error(t, c.ResetEncoder(CodecVariant(3)))

	enc, dec := c.Resets(CodecOpusLowDelay)
	assert.Equal(t, uint64(1), enc)
	assert.Equal(t, uint64(2), dec)

	_, ok := c.Configured()
	assert.False(t, ok)
	require.NoError(t, c.Configure(StereoHigh()))
	got, ok := c.Configured()
	assert.True(t, ok)
	assert.Equal(t, StereoHigh(), got)
	assert.Error(t, c.Configure(TransportDetails{}))
}
