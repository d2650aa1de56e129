package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatValidate(t *testing.T) {
	tests := []struct {
		name    string
		format  Format
		wantErr bool
	}{
		{"canonical", CanonicalFormat, false},
		{"mono_44100", Format{SampleRate: 44100, Channels: 1}, false},
		{"too_slow", Format{SampleRate: 4000, Channels: 2}, true},
		{"surround", Format{SampleRate: 48000, Channels: 6}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.format.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedFormat)
			} else {
				assert.NoError(t, err)
			}
		})
	}
	assert.True(t, CanonicalFormat.IsCanonical())
	assert.Equal(t, 441, Format{SampleRate: 44100, Channels: 2}.FramesFor(480))
}

func TestConverterChannelMapping(t *testing.T) {
	tests := []struct {
		name string
		from Format
		to   Format
		in   []int16
		want []int16
	}{
		{
			name: "mono_to_stereo",
			from: Format{SampleRate: 48000, Channels: 1},
			to:   CanonicalFormat,
			in:   []int16{1, 2, 3},
			want: []int16{1, 1, 2, 2, 3, 3},
		},
		{
			name: "stereo_to_mono",
			from: CanonicalFormat,
			to:   Format{SampleRate: 48000, Channels: 1},
			in:   []int16{10, 20, -4, 4},
			want: []int16{15, 0},
		},
		{
			name: "passthrough",
			from: CanonicalFormat,
			to:   CanonicalFormat,
			in:   []int16{7, 8},
			want: []int16{7, 8},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewConverter(tt.from, tt.to, 16)
			require.NoError(t, err)

			out := make([]int16, len(tt.want))
			n, err := c.Convert(tt.in, out)
			require.NoError(t, err)
			assert.Equal(t, len(tt.want)/tt.to.Channels, n)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestConverterErrors(t *testing.T) {
	_, err := NewConverter(Format{SampleRate: 48000, Channels: 4}, CanonicalFormat, 16)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	c, err := NewConverter(Format{SampleRate: 44100, Channels: 1}, CanonicalFormat, 4)
	require.NoError(t, err)

	_, err = c.Convert(nil, make([]int16, 8))
	assert.ErrorIs(t, err, ErrConversion)
	_, err = c.Convert(make([]int16, 5), make([]int16, 16))
	assert.ErrorIs(t, err, ErrConversion, "input larger than converter capacity")
}

func TestConverterResamplesToCanonical(t *testing.T) {
	from := Format{SampleRate: 44100, Channels: 1}
	c, err := NewConverter(from, CanonicalFormat, 0)
	require.NoError(t, err)

	in := make([]int16, 441)
	out := make([]int16, 2*600)
	total := 0
	for i := 0; i < 10; i++ {
		n, err := c.Convert(in, out)
		require.NoError(t, err)
		total += n
	}
	assert.InDelta(t, 4800, total, 2)
}
