package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresetsValidate(t *testing.T) {
	for _, p := range Presets() {
		t.Run(p.Name, func(t *testing.T) {
			require.NoError(t, p.Details.Validate())
			assert.True(t, p.Details.SequenceNumbers)
			assert.Equal(t, p.Details.PacketSize+1, p.Details.WireSize())

			got, err := PresetByName(p.Name)
			require.NoError(t, err)
			assert.Equal(t, p.Details, got)
		})
	}

	_, err := PresetByName("mono-ultra")
	assert.ErrorIs(t, err, ErrInvalidTransport)
}

func TestTransportDetailsValidate(t *testing.T) {
	tests := []struct {
		name    string
		details TransportDetails
		wantErr bool
	}{
		{"stereo_normal", StereoNormal(), false},
		{"coalesced_low_delay", LowDelayNormal().WithBlockFactor(2), false},
		{"unknown_codec", TransportDetails{Codec: 7, PacketSize: 80, BlockFactor: 1, FrameSize: 240}, true},
		{"zero_block_factor", TransportDetails{Codec: CodecOpus, PacketSize: 80, BlockFactor: 0, FrameSize: 0}, true},
		{"block_factor_too_large", NewTransportDetails(CodecOpus, 80, MaxBlockFactor+1), true},
		{"packet_not_multiple", TransportDetails{Codec: CodecOpus, PacketSize: 81, BlockFactor: 2, FrameSize: 480}, true},
		{"sub_frame_too_small", NewTransportDetails(CodecOpus, MinSubFrameSize-1, 1), true},
		{"sub_frame_too_large", NewTransportDetails(CodecOpus, MaxSubFrameSize+1, 1), true},
		{"frame_size_mismatch", TransportDetails{Codec: CodecOpusLowDelay, PacketSize: 40, BlockFactor: 1, FrameSize: 240}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.details.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransport)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTransportDetailsDerived(t *testing.T) {
	d := LowDelayNormal().WithBlockFactor(2)
	assert.Equal(t, 80, d.PacketSize)
	assert.Equal(t, 40, d.SubFrameSize())
	assert.Equal(t, 240, d.FrameSize)
	assert.Equal(t, 480, d.Samples())
	assert.Equal(t, 128000, d.Bitrate())
	assert.Equal(t, 128000, StereoNormal().Bitrate())
	assert.Equal(t, 0, TransportDetails{}.SubFrameSize())
}

func TestParseCodecVariant(t *testing.T) {
	for _, v := range []CodecVariant{CodecOpus, CodecOpusLowDelay} {
		got, err := ParseCodecVariant(v.String())
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
	_, err := ParseCodecVariant("mp3")
	assert.ErrorIs(t, err, ErrInvalidTransport)
	assert.Equal(t, "CodecVariant(9)", CodecVariant(9).String())
}
