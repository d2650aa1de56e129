// Package device drives the audio hardware through miniaudio.
//
// Duplex opens one full-duplex device and hands every hardware callback to
// an av.Processor: the captured samples first, then the playback buffer to
// fill. All sample buffers are allocated when the device starts.
package device

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/jamcore/av"
	"github.com/opd-ai/jamcore/av/audio"
)

// ErrAlreadyStarted is returned when Start is called on a running device.
var ErrAlreadyStarted = errors.New("device already started")

// Config selects the hardware format.
type Config struct {
	// SampleRate of the device. Zero means the codec rate.
	SampleRate int
	// Channels of both capture and playback. Zero means stereo.
	Channels int
	// NoMMap disables memory-mapped ALSA buffers, which some USB
	// interfaces need.
	NoMMap bool
}

// DefaultConfig returns 48 kHz stereo.
func DefaultConfig() Config {
	return Config{
		SampleRate: audio.CodecSampleRate,
		Channels:   audio.CodecChannels,
	}
}

func (c Config) format() audio.Format {
	f := audio.Format{SampleRate: c.SampleRate, Channels: c.Channels}
	if f.SampleRate == 0 {
		f.SampleRate = audio.CodecSampleRate
	}
	if f.Channels == 0 {
		f.Channels = audio.CodecChannels
	}
	return f
}

// Duplex is an av.Driver backed by a miniaudio duplex device.
type Duplex struct {
	cfg    Config
	format audio.Format

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	cb     *callback
}

// NewDuplex creates a driver. The device is opened by Start.
func NewDuplex(cfg Config) *Duplex {
	return &Duplex{cfg: cfg, format: cfg.format()}
}

// Format implements av.Driver.
func (d *Duplex) Format() audio.Format {
	return d.format
}

// PeriodFrames returns the hardware period that covers frameSize frames at
// the codec rate.
func PeriodFrames(hw audio.Format, frameSize int) uint32 {
	n := hw.FramesFor(frameSize)
	if n < 1 {
		n = 1
	}
	return uint32(n)
}

// Start implements av.Driver.
func (d *Duplex) Start(p av.Processor, frameSize int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.device != nil {
		return ErrAlreadyStarted
	}
	if err := d.format.Validate(); err != nil {
		return err
	}

	if d.ctx == nil {
		ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
			logrus.WithFields(logrus.Fields{
				"function": "miniaudio",
			}).Debug(message)
		})
		if err != nil {
			return fmt.Errorf("init audio context: %w", err)
		}
		d.ctx = ctx
	}

	period := PeriodFrames(d.format, frameSize)
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Duplex)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(d.format.Channels)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = uint32(d.format.Channels)
	deviceConfig.SampleRate = uint32(d.format.SampleRate)
	deviceConfig.PeriodSizeInFrames = period
	if d.cfg.NoMMap {
		deviceConfig.Alsa.NoMMap = 1
	}

	cb := newCallback(p, d.format.Channels)
	device, err := malgo.InitDevice(d.ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: cb.data,
	})
	if err != nil {
		return fmt.Errorf("open duplex device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("start duplex device: %w", err)
	}
	d.device = device
	d.cb = cb

	logrus.WithFields(logrus.Fields{
		"function":      "Duplex.Start",
		"hw_format":     d.format.String(),
		"period_frames": period,
		"frame_size":    frameSize,
	}).Info("Duplex audio device started")

	return nil
}

// Stop implements av.Driver. miniaudio waits for an in-flight callback
// before the device is released.
func (d *Duplex) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.device == nil {
		return nil
	}
	d.device.Uninit()
	d.device = nil
	d.cb = nil

	logrus.WithFields(logrus.Fields{
		"function": "Duplex.Stop",
	}).Info("Duplex audio device stopped")

	return nil
}

// Close stops the device and releases the audio context.
func (d *Duplex) Close() error {
	if err := d.Stop(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx == nil {
		return nil
	}
	err := d.ctx.Uninit()
	d.ctx.Free()
	d.ctx = nil
	if err != nil {
		return fmt.Errorf("release audio context: %w", err)
	}
	return nil
}

// callback adapts miniaudio's byte buffers to the Processor's samples.
type callback struct {
	processor av.Processor
	channels  int
	in        []int16
	out       []int16
}

func newCallback(p av.Processor, channels int) *callback {
	return &callback{
		processor: p,
		channels:  channels,
		in:        make([]int16, audio.MaxCallbackFrames*channels),
		out:       make([]int16, audio.MaxCallbackFrames*channels),
	}
}

// data is the miniaudio data callback: capture first, then render.
func (c *callback) data(output, input []byte, frameCount uint32) {
	frames := int(frameCount)
	if frames > audio.MaxCallbackFrames {
		frames = audio.MaxCallbackFrames
	}
	samples := frames * c.channels

	if len(input) > 0 {
		n := bytesToSamples(c.in[:samples], input)
		c.processor.ProcessCapture(c.in[:n])
	}
	if len(output) > 0 {
		out := c.out[:samples]
		c.processor.ProcessRender(out, frames)
		samplesToBytes(output, out)
	}
}

// bytesToSamples decodes little-endian int16 samples into dst and returns
// how many were decoded.
func bytesToSamples(dst []int16, src []byte) int {
	n := len(src) / 2
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = int16(binary.LittleEndian.Uint16(src[2*i:]))
	}
	return n
}

// samplesToBytes encodes src as little-endian int16 into dst and zeroes any
// remainder of dst.
func samplesToBytes(dst []byte, src []int16) {
	n := len(dst) / 2
	if n > len(src) {
		n = len(src)
	}
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(dst[2*i:], uint16(src[i]))
	}
	clear(dst[2*n:])
}
