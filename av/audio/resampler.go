package audio

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

// Resampler provides audio sample rate conversion functionality.
//
// Uses linear interpolation between adjacent frames and carries the last
// frame and fractional read position across calls, so consecutive blocks
// of one stream join without clicks. A Resampler serves a single stream.
type Resampler struct {
	inputRate   uint32
	outputRate  uint32
	channels    int
	lastSamples []int16 // Final frame of the previous block
	position    float64 // Fractional position in the current input block
}

// ResamplerConfig holds configuration for creating a resampler.
type ResamplerConfig struct {
	InputRate  uint32 // Input sample rate in Hz
	OutputRate uint32 // Output sample rate in Hz
	Channels   int    // Number of audio channels (1=mono, 2=stereo)
}

// NewResampler creates a new audio resampler instance.
func NewResampler(config ResamplerConfig) (*Resampler, error) {
	if config.InputRate == 0 || config.OutputRate == 0 {
		logrus.WithFields(logrus.Fields{
			"function":    "NewResampler",
			"input_rate":  config.InputRate,
			"output_rate": config.OutputRate,
			"error":       "invalid sample rates",
		}).Error("Sample rate validation failed")
		return nil, fmt.Errorf("%w: invalid sample rates: input=%d, output=%d",
			ErrUnsupportedFormat, config.InputRate, config.OutputRate)
	}

	if config.Channels < 1 || config.Channels > 2 {
		logrus.WithFields(logrus.Fields{
			"function": "NewResampler",
			"channels": config.Channels,
			"error":    "unsupported channel count",
		}).Error("Channel count validation failed")
		return nil, fmt.Errorf("%w: unsupported channel count: %d (must be 1 or 2)",
			ErrUnsupportedFormat, config.Channels)
	}

	resampler := &Resampler{
		inputRate:   config.InputRate,
		outputRate:  config.OutputRate,
		channels:    config.Channels,
		lastSamples: make([]int16, config.Channels),
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewResampler",
		"input_rate":  resampler.inputRate,
		"output_rate": resampler.outputRate,
		"channels":    resampler.channels,
		"ratio":       float64(config.InputRate) / float64(config.OutputRate),
	}).Debug("Audio resampler created")

	return resampler, nil
}

// validateResamplerInput checks that input is non-empty and aligned to the
// channel count.
func validateResamplerInput(input []int16, channels int) error {
	if len(input) == 0 {
		return fmt.Errorf("%w: empty input samples", ErrConversion)
	}
	if len(input)%channels != 0 {
		return fmt.Errorf("%w: input samples (%d) not aligned to channel count (%d)",
			ErrConversion, len(input), channels)
	}
	return nil
}

// interpolateSample performs linear interpolation for a single channel
// sample. Index -1 interpolates from the previous block's final frame.
func interpolateSample(input []int16, inputIndex int, frac float64, ch, channels, inputFrames int, lastSamples []int16) int16 {
	var s1, s2 int16
	switch {
	case inputIndex < 0:
		s1 = lastSamples[ch]
		s2 = input[ch]
	case inputIndex >= inputFrames-1:
		return input[(inputFrames-1)*channels+ch]
	default:
		s1 = input[inputIndex*channels+ch]
		s2 = input[(inputIndex+1)*channels+ch]
	}
	return int16(float64(s1)*(1.0-frac) + float64(s2)*frac)
}

// ResampleInto converts input into output without allocating and returns
// the number of frames written. Frames beyond the capacity of output are
// dropped and the stream position restarts at the next block.
func (r *Resampler) ResampleInto(input, output []int16) (int, error) {
	if err := validateResamplerInput(input, r.channels); err != nil {
		return 0, err
	}

	ch := r.channels
	inputFrames := len(input) / ch
	maxFrames := len(output) / ch

	if r.inputRate == r.outputRate {
		n := inputFrames
		if n > maxFrames {
			n = maxFrames
		}
		copy(output, input[:n*ch])
		copy(r.lastSamples, input[len(input)-ch:])
		return n, nil
	}

	ratio := float64(r.inputRate) / float64(r.outputRate)
	n := 0
	for r.position < float64(inputFrames-1) && n < maxFrames {
		base := math.Floor(r.position)
		inputIndex := int(base)
		frac := r.position - base
		for c := 0; c < ch; c++ {
			output[n*ch+c] = interpolateSample(input, inputIndex, frac, c, ch, inputFrames, r.lastSamples)
		}
		n++
		r.position += ratio
	}

	// Carry the fractional position into the next block. Index -1 of the
	// next block is the final frame of this one.
	r.position -= float64(inputFrames)
	if r.position < -1 {
		r.position = -1
	}
	copy(r.lastSamples, input[len(input)-ch:])

	return n, nil
}

// Resample converts input and returns a newly allocated slice. It is meant
// for configuration-time and test use; real-time callers use ResampleInto.
func (r *Resampler) Resample(input []int16) ([]int16, error) {
	output := make([]int16, (r.CalculateOutputSize(len(input)/max(r.channels, 1))+2)*r.channels)
	n, err := r.ResampleInto(input, output)
	if err != nil {
		return nil, err
	}
	return output[:n*r.channels], nil
}

// GetInputRate returns the configured input sample rate.
func (r *Resampler) GetInputRate() uint32 { return r.inputRate }

// GetOutputRate returns the configured output sample rate.
func (r *Resampler) GetOutputRate() uint32 { return r.outputRate }

// GetChannels returns the configured number of channels.
func (r *Resampler) GetChannels() int { return r.channels }

// CalculateOutputSize estimates the output frame count for an input frame
// count.
func (r *Resampler) CalculateOutputSize(inputFrames int) int {
	if r.inputRate == r.outputRate {
		return inputFrames
	}
	ratio := float64(r.outputRate) / float64(r.inputRate)
	return int(float64(inputFrames)*ratio + 0.5)
}

// Reset clears the carried stream state.
func (r *Resampler) Reset() {
	r.position = 0
	for i := range r.lastSamples {
		r.lastSamples[i] = 0
	}
}
