package codec

import (
	"errors"
	"fmt"
	"sync/atomic"

	pionopus "github.com/pion/opus"
	"github.com/sirupsen/logrus"
	"gopkg.in/hraban/opus.v2"

	"github.com/opd-ai/jamcore/av/audio"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("codec closed")

// Defaults for Config.
const (
	DefaultPacketLossPercent = 5
	DefaultShortComplexity   = 9
	DefaultLongComplexity    = 7
)

// Config holds the encoder settings fixed at construction.
type Config struct {
	// PacketLossPercent is the expected loss the encoder prepares for.
	PacketLossPercent int
	// ShortComplexity is the encoder complexity for 2.5 ms frames.
	ShortComplexity int
	// LongComplexity is the encoder complexity for 5 ms frames.
	LongComplexity int
	// MaxBandwidth caps the coded audio bandwidth.
	MaxBandwidth pionopus.Bandwidth
}

// DefaultConfig returns the standard settings.
func DefaultConfig() Config {
	return Config{
		PacketLossPercent: DefaultPacketLossPercent,
		ShortComplexity:   DefaultShortComplexity,
		LongComplexity:    DefaultLongComplexity,
		MaxBandwidth:      pionopus.BandwidthFullband,
	}
}

// Validate checks the settings against the libopus ranges.
func (c Config) Validate() error {
	if c.PacketLossPercent < 0 || c.PacketLossPercent > 100 {
		return fmt.Errorf("packet loss percent %d outside [0, 100]", c.PacketLossPercent)
	}
	for _, cx := range []int{c.ShortComplexity, c.LongComplexity} {
		if cx < 0 || cx > 10 {
			return fmt.Errorf("complexity %d outside [0, 10]", cx)
		}
	}
	return nil
}

// instance is one encoder/decoder pair pinned to a frame size.
type instance struct {
	variant      audio.CodecVariant
	frameSamples int
	complexity   int
	bitrate      int

	enc *cbrEncoder
	dec *opus.Decoder
}

// Opus is the libopus implementation of audio.Codec.
type Opus struct {
	cfg       Config
	instances [2]*instance
	closed    atomic.Bool
}

// New creates both codec instances.
func New(cfg Config) (*Opus, error) {
	logrus.WithFields(logrus.Fields{
		"function":      "codec.New",
		"packet_loss":   cfg.PacketLossPercent,
		"max_bandwidth": cfg.MaxBandwidth.String(),
	}).Info("Creating Opus codec")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", audio.ErrCodec, err)
	}

	o := &Opus{cfg: cfg}
	for _, v := range []audio.CodecVariant{audio.CodecOpus, audio.CodecOpusLowDelay} {
		complexity := cfg.LongComplexity
		if v == audio.CodecOpusLowDelay {
			complexity = cfg.ShortComplexity
		}
		inst := &instance{
			variant:      v,
			frameSamples: v.FrameSamples(),
			complexity:   complexity,
			bitrate:      audio.StereoNormal().Bitrate(),
		}
		if err := o.initEncoder(inst); err != nil {
			return nil, err
		}
		if err := o.initDecoder(inst); err != nil {
			return nil, err
		}
		o.instances[v] = inst
	}

	logrus.WithFields(logrus.Fields{
		"function": "codec.New",
	}).Info("Opus codec created successfully")

	return o, nil
}

func (o *Opus) initEncoder(inst *instance) error {
	if inst.enc == nil {
		enc, err := newCBREncoder(audio.CodecSampleRate, audio.CodecChannels)
		if err != nil {
			return fmt.Errorf("%w: create %s encoder: %v", audio.ErrCodec, inst.variant, err)
		}
		inst.enc = enc
	}
	return o.applyEncoderSettings(inst)
}

func (o *Opus) initDecoder(inst *instance) error {
	dec, err := opus.NewDecoder(audio.CodecSampleRate, audio.CodecChannels)
	if err != nil {
		return fmt.Errorf("%w: create %s decoder: %v", audio.ErrCodec, inst.variant, err)
	}
	inst.dec = dec
	return nil
}

// applyEncoderSettings pushes every fixed control plus the current bitrate.
// Packets only come out at the exact configured size with VBR off.
func (o *Opus) applyEncoderSettings(inst *instance) error {
	enc := inst.enc
	if err := enc.setVBR(false); err != nil {
		return fmt.Errorf("%w: %v", audio.ErrCodec, err)
	}
	if err := enc.setComplexity(inst.complexity); err != nil {
		return fmt.Errorf("%w: %v", audio.ErrCodec, err)
	}
	if err := enc.setPacketLossPerc(o.cfg.PacketLossPercent); err != nil {
		return fmt.Errorf("%w: %v", audio.ErrCodec, err)
	}
	if err := enc.setMaxBandwidth(hrabanBandwidth(o.cfg.MaxBandwidth)); err != nil {
		return fmt.Errorf("%w: %v", audio.ErrCodec, err)
	}
	if err := enc.setBitrate(inst.bitrate); err != nil {
		return fmt.Errorf("%w: bitrate %d: %v", audio.ErrCodec, inst.bitrate, err)
	}
	return nil
}

func (o *Opus) instance(v audio.CodecVariant) (*instance, error) {
	if o.closed.Load() {
		return nil, ErrClosed
	}
	if !v.Valid() {
		return nil, fmt.Errorf("%w: unknown variant %s", audio.ErrCodec, v)
	}
	return o.instances[v], nil
}

// Configure sets the constant bitrate that makes each sub-frame of details
// exactly SubFrameSize bytes.
func (o *Opus) Configure(details audio.TransportDetails) error {
	if err := details.Validate(); err != nil {
		return err
	}
	return o.SetBitrate(details.Codec, details.Bitrate())
}

// SetBitrate changes the variant's encoder bitrate in bits per second.
func (o *Opus) SetBitrate(v audio.CodecVariant, bitrate int) error {
	inst, err := o.instance(v)
	if err != nil {
		return err
	}
	if err := inst.enc.setBitrate(bitrate); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Opus.SetBitrate",
			"variant":  v.String(),
			"bitrate":  bitrate,
			"error":    err.Error(),
		}).Error("Failed to set encoder bitrate")
		return fmt.Errorf("%w: set bitrate %d: %v", audio.ErrCodec, bitrate, err)
	}
	inst.bitrate = bitrate

	logrus.WithFields(logrus.Fields{
		"function": "Opus.SetBitrate",
		"variant":  v.String(),
		"bitrate":  bitrate,
	}).Info("Encoder bitrate updated")

	return nil
}

// Bitrate returns the variant's configured bitrate.
func (o *Opus) Bitrate(v audio.CodecVariant) int {
	if !v.Valid() {
		return 0
	}
	return o.instances[v].bitrate
}

// Encode implements audio.Codec.
func (o *Opus) Encode(v audio.CodecVariant, pcm []int16, blockFactor int, dst []byte) (int, error) {
	inst, err := o.instance(v)
	if err != nil {
		return 0, err
	}
	n := inst.frameSamples * audio.CodecChannels
	if blockFactor < 1 || len(pcm) != n*blockFactor || len(dst)%blockFactor != 0 {
		return 0, fmt.Errorf("%w: %d samples into %d bytes with block factor %d",
			audio.ErrCodec, len(pcm), len(dst), blockFactor)
	}

	sub := len(dst) / blockFactor
	for b := 0; b < blockFactor; b++ {
		out := dst[b*sub : (b+1)*sub]
		written, err := inst.enc.encode(pcm[b*n:(b+1)*n], out)
		if err != nil {
			return 0, fmt.Errorf("%w: encode sub-frame %d: %v", audio.ErrCodec, b, err)
		}
		if written != sub {
			return 0, fmt.Errorf("%w: sub-frame %d encoded to %d bytes, want %d", audio.ErrCodec, b, written, sub)
		}
	}
	return len(dst), nil
}

// Decode implements audio.Codec.
func (o *Opus) Decode(v audio.CodecVariant, data []byte, blockFactor int, pcm []int16) (int, error) {
	inst, err := o.instance(v)
	if err != nil {
		return 0, err
	}
	n := inst.frameSamples * audio.CodecChannels
	if blockFactor < 1 || len(data) == 0 || len(data)%blockFactor != 0 || len(pcm) < n*blockFactor {
		return 0, fmt.Errorf("%w: %d bytes into %d samples with block factor %d",
			audio.ErrCodec, len(data), len(pcm), blockFactor)
	}

	sub := len(data) / blockFactor
	frames := 0
	for b := 0; b < blockFactor; b++ {
		got, err := inst.dec.Decode(data[b*sub:(b+1)*sub], pcm[b*n:(b+1)*n])
		if err != nil {
			return 0, fmt.Errorf("%w: decode sub-frame %d: %v", audio.ErrCodec, b, err)
		}
		frames += got
	}
	return frames, nil
}

// ResetEncoder implements audio.Codec.
func (o *Opus) ResetEncoder(v audio.CodecVariant) error {
	inst, err := o.instance(v)
	if err != nil {
		return err
	}
	if err := inst.enc.reset(); err != nil {
		return fmt.Errorf("%w: reset %s encoder: %v", audio.ErrCodec, v, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Opus.ResetEncoder",
		"variant":  v.String(),
	}).Debug("Encoder state reset")

	return nil
}

// ResetDecoder implements audio.Codec.
func (o *Opus) ResetDecoder(v audio.CodecVariant) error {
	inst, err := o.instance(v)
	if err != nil {
		return err
	}
	// The binding refuses to Init a decoder twice, so a reset replaces it.
	if err := o.initDecoder(inst); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Opus.ResetDecoder",
		"variant":  v.String(),
	}).Debug("Decoder state reset")

	return nil
}

// Bandwidth returns the coded audio bandwidth.
func (o *Opus) Bandwidth() pionopus.Bandwidth {
	return o.cfg.MaxBandwidth
}

// Close marks the codec unusable. Callers stop both pipelines first; later
// calls fail with ErrClosed.
func (o *Opus) Close() error {
	if o.closed.Swap(true) {
		return nil
	}

	logrus.WithFields(logrus.Fields{
		"function": "Opus.Close",
	}).Info("Opus codec closed")

	return nil
}
