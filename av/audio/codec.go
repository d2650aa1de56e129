package audio

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Codec compresses canonical PCM frames into fixed-size packets and back.
//
// An implementation holds one encoder and one decoder per CodecVariant.
// Encode and ResetEncoder are only called from the capture thread, Decode
// and ResetDecoder only from the render thread, and Configure only while
// both pipelines are locked for reconfiguration.
type Codec interface {
	// Configure applies the bitrate implied by details to the encoder of
	// its variant.
	Configure(details TransportDetails) error
	// Encode compresses blockFactor sub-frames of interleaved canonical PCM
	// into dst, each sub-frame filling exactly len(dst)/blockFactor bytes.
	// It returns the number of bytes written.
	Encode(variant CodecVariant, pcm []int16, blockFactor int, dst []byte) (int, error)
	// Decode expands blockFactor equally sized sub-frames from data into
	// pcm and returns the number of frames per channel produced.
	Decode(variant CodecVariant, data []byte, blockFactor int, pcm []int16) (int, error)
	// ResetEncoder drops the predictive state of the variant's encoder.
	ResetEncoder(variant CodecVariant) error
	// ResetDecoder drops the predictive state of the variant's decoder.
	ResetDecoder(variant CodecVariant) error
}

// PCMCodec is a deterministic Codec that stores raw samples. When a
// sub-frame has room for fewer samples than the frame holds, the frame is
// decimated on encode and sample-and-hold expanded on decode. It needs no
// native library and is exact when every sub-frame has two bytes per
// sample.
type PCMCodec struct {
	encoderResets [2]atomic.Uint64
	decoderResets [2]atomic.Uint64
	configured    atomic.Pointer[TransportDetails]
}

// NewPCMCodec creates a raw-sample codec.
func NewPCMCodec() *PCMCodec {
	logrus.WithFields(logrus.Fields{
		"function": "NewPCMCodec",
	}).Debug("Creating raw PCM codec")
	return &PCMCodec{}
}

// LosslessSubFrameSize returns the sub-frame size at which PCMCodec stores
// every sample of the variant.
func LosslessSubFrameSize(v CodecVariant) int {
	return v.FrameSamples() * CodecChannels * 2
}

// Configure records the active details.
func (c *PCMCodec) Configure(details TransportDetails) error {
	if err := details.Validate(); err != nil {
		return err
	}
	c.configured.Store(&details)
	return nil
}

// Configured returns the details passed to the last successful Configure.
func (c *PCMCodec) Configured() (TransportDetails, bool) {
	d := c.configured.Load()
	if d == nil {
		return TransportDetails{}, false
	}
	return *d, true
}

// Encode implements Codec.
func (c *PCMCodec) Encode(variant CodecVariant, pcm []int16, blockFactor int, dst []byte) (int, error) {
	n := variant.FrameSamples() * CodecChannels
	if !variant.Valid() || blockFactor < 1 {
		return 0, fmt.Errorf("%w: variant %s, block factor %d", ErrCodec, variant, blockFactor)
	}
	if len(pcm) != n*blockFactor {
		return 0, fmt.Errorf("%w: %d samples, want %d", ErrCodec, len(pcm), n*blockFactor)
	}
	if len(dst)%blockFactor != 0 || len(dst)/blockFactor < 2 {
		return 0, fmt.Errorf("%w: %d bytes for %d sub-frames", ErrCodec, len(dst), blockFactor)
	}

	sub := len(dst) / blockFactor
	slots := sub / 2
	for b := 0; b < blockFactor; b++ {
		frame := pcm[b*n : (b+1)*n]
		out := dst[b*sub : (b+1)*sub]
		clear(out)
		for j := 0; j < slots; j++ {
			idx := j
			if slots > n {
				if j >= n {
					break
				}
			} else {
				idx = j * n / slots
			}
			binary.LittleEndian.PutUint16(out[2*j:], uint16(frame[idx]))
		}
	}
	return len(dst), nil
}

// Decode implements Codec.
func (c *PCMCodec) Decode(variant CodecVariant, data []byte, blockFactor int, pcm []int16) (int, error) {
	n := variant.FrameSamples() * CodecChannels
	if !variant.Valid() || blockFactor < 1 {
		return 0, fmt.Errorf("%w: variant %s, block factor %d", ErrCodec, variant, blockFactor)
	}
	if len(data) == 0 || len(data)%blockFactor != 0 || len(data)/blockFactor < 2 {
		return 0, fmt.Errorf("%w: %d bytes for %d sub-frames", ErrCodec, len(data), blockFactor)
	}
	if len(pcm) < n*blockFactor {
		return 0, fmt.Errorf("%w: output holds %d samples, need %d", ErrCodec, len(pcm), n*blockFactor)
	}

	sub := len(data) / blockFactor
	slots := sub / 2
	for b := 0; b < blockFactor; b++ {
		in := data[b*sub : (b+1)*sub]
		frame := pcm[b*n : (b+1)*n]
		for k := range frame {
			j := k
			if slots < n {
				j = k * slots / n
			}
			frame[k] = int16(binary.LittleEndian.Uint16(in[2*j:]))
		}
	}
	return blockFactor * variant.FrameSamples(), nil
}

// ResetEncoder implements Codec.
func (c *PCMCodec) ResetEncoder(variant CodecVariant) error {
	if !variant.Valid() {
		return fmt.Errorf("%w: variant %s", ErrCodec, variant)
	}
	c.encoderResets[variant].Add(1)
	return nil
}

// ResetDecoder implements Codec.
func (c *PCMCodec) ResetDecoder(variant CodecVariant) error {
	if !variant.Valid() {
		return fmt.Errorf("%w: variant %s", ErrCodec, variant)
	}
	c.decoderResets[variant].Add(1)
	return nil
}

// Resets returns how often the variant's encoder and decoder were reset.
func (c *PCMCodec) Resets(variant CodecVariant) (encoder, decoder uint64) {
	if !variant.Valid() {
		return 0, 0
	}
	return c.encoderResets[variant].Load(), c.decoderResets[variant].Load()
}
