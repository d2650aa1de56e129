package device

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/jamcore/av"
	"github.com/opd-ai/jamcore/av/audio"
)

// recorder is a Processor that remembers the last capture and renders a
// fixed pattern.
type recorder struct {
	captured   []int16
	frameCount int
}

func (r *recorder) ProcessCapture(in []int16) {
	r.captured = append(r.captured[:0], in...)
}

func (r *recorder) ProcessRender(out []int16, frameCount int) {
	r.frameCount = frameCount
	for i := range out {
		out[i] = int16(-i)
	}
}

var _ av.Processor = (*recorder)(nil)
var _ av.Driver = (*Duplex)(nil)

func TestConfigFormat(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want audio.Format
	}{
		{"default", DefaultConfig(), audio.CanonicalFormat},
		{"zero value", Config{}, audio.CanonicalFormat},
		{"mono 44.1k", Config{SampleRate: 44100, Channels: 1}, audio.Format{SampleRate: 44100, Channels: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewDuplex(tt.cfg).Format())
		})
	}
}

func TestPeriodFrames(t *testing.T) {
	tests := []struct {
		hw        audio.Format
		frameSize int
		want      uint32
	}{
		{audio.CanonicalFormat, 240, 240},
		{audio.CanonicalFormat, 120, 120},
		{audio.Format{SampleRate: 44100, Channels: 2}, 240, 221},
		{audio.Format{SampleRate: 96000, Channels: 1}, 120, 240},
		{audio.Format{SampleRate: 8000, Channels: 1}, 1, 1},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, PeriodFrames(tt.hw, tt.frameSize), "%s frame %d", tt.hw, tt.frameSize)
	}
}

func TestCallbackRoutesSamples(t *testing.T) {
	rec := &recorder{}
	cb := newCallback(rec, 2)

	input := make([]byte, 4*2*2)
	for i := 0; i < 8; i++ {
		binary.LittleEndian.PutUint16(input[2*i:], uint16(int16(i*100-300)))
	}
	output := make([]byte, len(input))

	cb.data(output, input, 4)

	assert.Equal(t, []int16{-300, -200, -100, 0, 100, 200, 300, 400}, rec.captured)
	assert.Equal(t, 4, rec.frameCount)
	for i := 0; i < 8; i++ {
		assert.Equal(t, int16(-i), int16(binary.LittleEndian.Uint16(output[2*i:])))
	}
}

func TestCallbackPlaybackOnly(t *testing.T) {
	rec := &recorder{}
	cb := newCallback(rec, 1)

	output := make([]byte, 6)
	cb.data(output, nil, 3)

	assert.Nil(t, rec.captured)
	assert.Equal(t, 3, rec.frameCount)
}

func TestCallbackDoesNotAllocate(t *testing.T) {
	rec := &recorder{captured: make([]int16, 0, 512)}
	cb := newCallback(rec, 2)
	input := make([]byte, 256*2*2)
	output := make([]byte, len(input))

	allocs := testing.AllocsPerRun(50, func() {
		cb.data(output, input, 256)
	})
	assert.Zero(t, allocs)
}

func TestSampleConversion(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768}
	buf := make([]byte, len(samples)*2+4)
	for i := range buf {
		buf[i] = 0xff
	}

	samplesToBytes(buf, samples)
	assert.Equal(t, []byte{0, 0, 0, 0}, buf[len(samples)*2:], "remainder is zeroed")

	back := make([]int16, len(samples))
	n := bytesToSamples(back, buf[:len(samples)*2])
	require.Equal(t, len(samples), n)
	assert.Equal(t, samples, back)

	// Short destination.
	short := make([]int16, 2)
	assert.Equal(t, 2, bytesToSamples(short, buf))
	assert.Equal(t, []int16{0, 1}, short)
}

func TestStopWithoutStart(t *testing.T) {
	d := NewDuplex(DefaultConfig())
	assert.NoError(t, d.Stop())
	assert.NoError(t, d.Close())
}
