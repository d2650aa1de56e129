package audio

import (
	"fmt"
)

// Canonical codec format. Every codec frame is interleaved 16-bit stereo at
// this rate.
const (
	CodecSampleRate = 48000
	CodecChannels   = 2
)

// Limits on a single codec sub-frame.
const (
	MinSubFrameSize = 8
	MaxSubFrameSize = 1275
	MaxBlockFactor  = 8
)

// CodecVariant selects one of the two codec instances.
type CodecVariant uint8

const (
	// CodecOpus uses 5 ms frames.
	CodecOpus CodecVariant = iota
	// CodecOpusLowDelay uses 2.5 ms frames.
	CodecOpusLowDelay
)

// FrameSamples returns the PCM frames per channel in one codec sub-frame.
func (v CodecVariant) FrameSamples() int {
	switch v {
	case CodecOpusLowDelay:
		return 120
	default:
		return 240
	}
}

// Valid reports whether v names a known variant.
func (v CodecVariant) Valid() bool {
	return v == CodecOpus || v == CodecOpusLowDelay
}

// String returns a human-readable representation of the variant.
func (v CodecVariant) String() string {
	switch v {
	case CodecOpus:
		return "opus"
	case CodecOpusLowDelay:
		return "opus-low-delay"
	default:
		return fmt.Sprintf("CodecVariant(%d)", uint8(v))
	}
}

// ParseCodecVariant maps a variant name back to its value.
func ParseCodecVariant(name string) (CodecVariant, error) {
	switch name {
	case "opus":
		return CodecOpus, nil
	case "opus-low-delay", "opus64":
		return CodecOpusLowDelay, nil
	default:
		return 0, fmt.Errorf("%w: unknown codec %q", ErrInvalidTransport, name)
	}
}

// TransportDetails describes how PCM frames map to network packets. A
// value is immutable for one configuration epoch: changing it requires
// reconfiguring the pipelines.
type TransportDetails struct {
	// Codec selects the codec instance.
	Codec CodecVariant
	// PacketSize is the payload size of one packet in bytes, covering all
	// BlockFactor sub-frames.
	PacketSize int
	// BlockFactor is the number of codec sub-frames coalesced per packet.
	BlockFactor int
	// FrameSize is the PCM frame count one packet carries.
	FrameSize int
	// SequenceNumbers appends a one-byte wrapping sequence number to every
	// outgoing packet.
	SequenceNumbers bool
}

// NewTransportDetails builds consistent details from a sub-frame size and a
// block factor.
func NewTransportDetails(codec CodecVariant, subFrameSize, blockFactor int) TransportDetails {
	return TransportDetails{
		Codec:           codec,
		PacketSize:      subFrameSize * blockFactor,
		BlockFactor:     blockFactor,
		FrameSize:       codec.FrameSamples() * blockFactor,
		SequenceNumbers: true,
	}
}

// SubFrameSize returns the compressed size of one codec sub-frame.
func (d TransportDetails) SubFrameSize() int {
	if d.BlockFactor <= 0 {
		return 0
	}
	return d.PacketSize / d.BlockFactor
}

// WireSize returns the size of one packet on the wire, including the
// sequence byte when enabled.
func (d TransportDetails) WireSize() int {
	if d.SequenceNumbers {
		return d.PacketSize + 1
	}
	return d.PacketSize
}

// Samples returns the interleaved canonical sample count of one packet.
func (d TransportDetails) Samples() int {
	return d.FrameSize * CodecChannels
}

// Bitrate returns the constant bitrate implied by the sub-frame size.
func (d TransportDetails) Bitrate() int {
	return d.SubFrameSize() * 8 * CodecSampleRate / d.Codec.FrameSamples()
}

// WithBlockFactor returns a copy that coalesces n sub-frames of the same
// size into each packet.
func (d TransportDetails) WithBlockFactor(n int) TransportDetails {
	return NewTransportDetails(d.Codec, d.SubFrameSize(), n).withSequence(d.SequenceNumbers)
}

func (d TransportDetails) withSequence(on bool) TransportDetails {
	d.SequenceNumbers = on
	return d
}

// Validate checks that the fields are mutually consistent.
func (d TransportDetails) Validate() error {
	if !d.Codec.Valid() {
		return fmt.Errorf("%w: unknown codec variant %d", ErrInvalidTransport, d.Codec)
	}
	if d.BlockFactor < 1 || d.BlockFactor > MaxBlockFactor {
		return fmt.Errorf("%w: block factor %d outside [1, %d]", ErrInvalidTransport, d.BlockFactor, MaxBlockFactor)
	}
	if d.PacketSize <= 0 || d.PacketSize%d.BlockFactor != 0 {
		return fmt.Errorf("%w: packet size %d not a positive multiple of block factor %d",
			ErrInvalidTransport, d.PacketSize, d.BlockFactor)
	}
	if sub := d.SubFrameSize(); sub < MinSubFrameSize || sub > MaxSubFrameSize {
		return fmt.Errorf("%w: sub-frame size %d outside [%d, %d]",
			ErrInvalidTransport, sub, MinSubFrameSize, MaxSubFrameSize)
	}
	if want := d.BlockFactor * d.Codec.FrameSamples(); d.FrameSize != want {
		return fmt.Errorf("%w: frame size %d, %s with block factor %d needs %d",
			ErrInvalidTransport, d.FrameSize, d.Codec, d.BlockFactor, want)
	}
	return nil
}

// String returns a compact description for logs.
func (d TransportDetails) String() string {
	return fmt.Sprintf("%s/%dB x%d/%d frames", d.Codec, d.PacketSize, d.BlockFactor, d.FrameSize)
}

// StereoLow is 5 ms frames at about 77 kbit/s.
func StereoLow() TransportDetails { return NewTransportDetails(CodecOpus, 48, 1) }

// StereoNormal is 5 ms frames at 128 kbit/s.
func StereoNormal() TransportDetails { return NewTransportDetails(CodecOpus, 80, 1) }

// StereoHigh is 5 ms frames at 256 kbit/s.
func StereoHigh() TransportDetails { return NewTransportDetails(CodecOpus, 160, 1) }

// LowDelayLow is 2.5 ms frames at about 77 kbit/s.
func LowDelayLow() TransportDetails { return NewTransportDetails(CodecOpusLowDelay, 24, 1) }

// LowDelayNormal is 2.5 ms frames at 128 kbit/s.
func LowDelayNormal() TransportDetails { return NewTransportDetails(CodecOpusLowDelay, 40, 1) }

// LowDelayHigh is 2.5 ms frames at 256 kbit/s.
func LowDelayHigh() TransportDetails { return NewTransportDetails(CodecOpusLowDelay, 80, 1) }

// Preset pairs a name with its details.
type Preset struct {
	Name    string
	Details TransportDetails
}

// Presets returns every named preset in a stable order.
func Presets() []Preset {
	return []Preset{
		{"stereo-low", StereoLow()},
		{"stereo-normal", StereoNormal()},
		{"stereo-high", StereoHigh()},
		{"low-delay-low", LowDelayLow()},
		{"low-delay-normal", LowDelayNormal()},
		{"low-delay-high", LowDelayHigh()},
	}
}

// PresetByName looks up a preset.
func PresetByName(name string) (TransportDetails, error) {
	for _, p := range Presets() {
		if p.Name == name {
			return p.Details, nil
		}
	}
	return TransportDetails{}, fmt.Errorf("%w: unknown preset %q", ErrInvalidTransport, name)
}
