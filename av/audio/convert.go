package audio

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// MaxCallbackFrames bounds the frames a single hardware callback may
// deliver to a converting pipeline. Scratch buffers are sized from it.
const MaxCallbackFrames = 8192

// Format describes interleaved 16-bit PCM.
type Format struct {
	SampleRate int
	Channels   int
}

// CanonicalFormat is the format every codec frame uses.
var CanonicalFormat = Format{SampleRate: CodecSampleRate, Channels: CodecChannels}

// IsCanonical reports whether f needs no conversion.
func (f Format) IsCanonical() bool {
	return f == CanonicalFormat
}

// Validate checks that the format can be converted.
func (f Format) Validate() error {
	if f.SampleRate < 8000 || f.SampleRate > 192000 {
		return fmt.Errorf("%w: sample rate %d", ErrUnsupportedFormat, f.SampleRate)
	}
	if f.Channels < 1 || f.Channels > 2 {
		return fmt.Errorf("%w: %d channels", ErrUnsupportedFormat, f.Channels)
	}
	return nil
}

// String returns a compact description for logs.
func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch", f.SampleRate, f.Channels)
}

// FramesFor returns how many frames at f cover the duration of frames at
// the canonical rate, rounded to the nearest frame.
func (f Format) FramesFor(canonicalFrames int) int {
	return (canonicalFrames*f.SampleRate + CodecSampleRate/2) / CodecSampleRate
}

// Converter maps interleaved PCM between two formats: channels first, then
// sample rate. All buffers are allocated at construction.
type Converter struct {
	from      Format
	to        Format
	resampler *Resampler
	mapped    []int16
}

// NewConverter creates a converter for inputs of up to maxFrames frames.
func NewConverter(from, to Format, maxFrames int) (*Converter, error) {
	if err := from.Validate(); err != nil {
		return nil, err
	}
	if err := to.Validate(); err != nil {
		return nil, err
	}
	if maxFrames <= 0 {
		maxFrames = MaxCallbackFrames
	}

	c := &Converter{
		from:   from,
		to:     to,
		mapped: make([]int16, maxFrames*to.Channels),
	}
	if from.SampleRate != to.SampleRate {
		r, err := NewResampler(ResamplerConfig{
			InputRate:  uint32(from.SampleRate),
			OutputRate: uint32(to.SampleRate),
			Channels:   to.Channels,
		})
		if err != nil {
			return nil, err
		}
		c.resampler = r
	}

	logrus.WithFields(logrus.Fields{
		"function":   "NewConverter",
		"from":       from.String(),
		"to":         to.String(),
		"max_frames": maxFrames,
		"resampling": c.resampler != nil,
	}).Debug("Format converter created")

	return c, nil
}

// From returns the input format.
func (c *Converter) From() Format { return c.from }

// To returns the output format.
func (c *Converter) To() Format { return c.to }

// Convert writes the converted form of in to out and returns the number of
// frames written.
func (c *Converter) Convert(in, out []int16) (int, error) {
	if len(in) == 0 || len(in)%c.from.Channels != 0 {
		return 0, fmt.Errorf("%w: %d samples for %d channels", ErrConversion, len(in), c.from.Channels)
	}
	frames := len(in) / c.from.Channels
	if frames*c.to.Channels > len(c.mapped) {
		return 0, fmt.Errorf("%w: %d frames exceed converter capacity %d",
			ErrConversion, frames, len(c.mapped)/c.to.Channels)
	}

	mapped := c.mapped[:frames*c.to.Channels]
	mapChannels(in, c.from.Channels, mapped, c.to.Channels)

	if c.resampler == nil {
		return copy(out, mapped) / c.to.Channels, nil
	}
	return c.resampler.ResampleInto(mapped, out)
}

// Reset clears resampler history.
func (c *Converter) Reset() {
	if c.resampler != nil {
		c.resampler.Reset()
	}
}

// mapChannels converts between mono and stereo. Stereo to mono averages
// both channels; mono to stereo duplicates.
func mapChannels(in []int16, inCh int, out []int16, outCh int) {
	frames := len(out) / outCh
	switch {
	case inCh == outCh:
		copy(out, in[:frames*inCh])
	case inCh == 1 && outCh == 2:
		for i := 0; i < frames; i++ {
			out[2*i] = in[i]
			out[2*i+1] = in[i]
		}
	case inCh == 2 && outCh == 1:
		for i := 0; i < frames; i++ {
			out[i] = int16((int32(in[2*i]) + int32(in[2*i+1])) / 2)
		}
	}
}

// fitFrames zeroes samples in buf after the first n frames, so a short
// conversion or decode is padded with silence.
func fitFrames(buf []int16, n, channels int) {
	if n*channels < len(buf) {
		clear(buf[n*channels:])
	}
}
