// Package config loads jamcore settings from an embedded default TOML file,
// the user's config file, JAMCORE_* environment variables and command-line
// flags, in increasing order of precedence.
package config

import (
	_ "embed" // default configuration file
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/jamcore/av"
	"github.com/opd-ai/jamcore/av/audio"
	"github.com/opd-ai/jamcore/simnet"
)

//go:embed jamcore.toml
var defaultConfigFile []byte

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Codec backends.
const (
	CodecOpus = "opus"
	CodecPCM  = "pcm"
)

// Config is the complete application configuration.
type Config struct {
	Audio      AudioConfig      `mapstructure:"audio" toml:"audio"`
	Network    NetworkConfig    `mapstructure:"network" toml:"network"`
	Simulation SimulationConfig `mapstructure:"simulation" toml:"simulation"`
	Log        LogConfig        `mapstructure:"log" toml:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics" toml:"metrics"`
}

// AudioConfig selects the transport and the hardware format.
type AudioConfig struct {
	Preset      string `mapstructure:"preset" toml:"preset"`
	BlockFactor int    `mapstructure:"block_factor" toml:"block_factor"`
	Codec       string `mapstructure:"codec" toml:"codec"`
	InputMuted  bool   `mapstructure:"input_muted" toml:"input_muted"`
	SampleRate  int    `mapstructure:"sample_rate" toml:"sample_rate"`
	Channels    int    `mapstructure:"channels" toml:"channels"`
	NoMMap      bool   `mapstructure:"no_mmap" toml:"no_mmap"`
}

// NetworkConfig holds the receive-side settings.
type NetworkConfig struct {
	BufferSize      int  `mapstructure:"buffer_size" toml:"buffer_size"`
	SequenceNumbers bool `mapstructure:"sequence_numbers" toml:"sequence_numbers"`
}

// SimulationConfig describes the simulated link used by the simulate and
// loopback commands.
type SimulationConfig struct {
	LossRate      float64 `mapstructure:"loss_rate" toml:"loss_rate"`
	ReorderRate   float64 `mapstructure:"reorder_rate" toml:"reorder_rate"`
	DuplicateRate float64 `mapstructure:"duplicate_rate" toml:"duplicate_rate"`
	DelayTicks    int     `mapstructure:"delay_ticks" toml:"delay_ticks"`
	JitterTicks   int     `mapstructure:"jitter_ticks" toml:"jitter_ticks"`
	Seed          uint64  `mapstructure:"seed" toml:"seed"`
	Periods       int     `mapstructure:"periods" toml:"periods"`
}

// LogConfig configures logrus.
type LogConfig struct {
	Level  string `mapstructure:"level" toml:"level"`
	Format string `mapstructure:"format" toml:"format"`
}

// MetricsConfig configures the Prometheus endpoint and periodic stats.
type MetricsConfig struct {
	Listen         string        `mapstructure:"listen" toml:"listen"`
	ReportInterval time.Duration `mapstructure:"report_interval" toml:"report_interval"`
}

// Default returns the built-in configuration, identical to the embedded
// default file.
func Default() Config {
	return Config{
		Audio: AudioConfig{
			Preset:      "stereo-normal",
			BlockFactor: 1,
			Codec:       CodecOpus,
			InputMuted:  true,
			SampleRate:  audio.CodecSampleRate,
			Channels:    audio.CodecChannels,
		},
		Network: NetworkConfig{
			BufferSize:      av.DefaultBufferSize,
			SequenceNumbers: true,
		},
		Simulation: SimulationConfig{
			DelayTicks: 1,
			Seed:       1,
			Periods:    2000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			ReportInterval: 5 * time.Second,
		},
	}
}

// Validate checks every section.
func (c Config) Validate() error {
	if _, err := c.Transport(); err != nil {
		return fmt.Errorf("%w: audio: %v", ErrInvalid, err)
	}
	switch c.Audio.Codec {
	case CodecOpus, CodecPCM:
	default:
		return fmt.Errorf("%w: audio.codec %q is not opus or pcm", ErrInvalid, c.Audio.Codec)
	}
	if err := c.HardwareFormat().Validate(); err != nil {
		return fmt.Errorf("%w: audio: %v", ErrInvalid, err)
	}
	if err := c.EngineOptions().Validate(); err != nil {
		return fmt.Errorf("%w: network: %v", ErrInvalid, err)
	}
	if err := c.LinkConfig().Validate(); err != nil {
		return fmt.Errorf("%w: simulation: %v", ErrInvalid, err)
	}
	if c.Simulation.Periods < 0 {
		return fmt.Errorf("%w: simulation.periods %d is negative", ErrInvalid, c.Simulation.Periods)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalid, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log.format %q is not text or json", ErrInvalid, c.Log.Format)
	}
	if c.Metrics.ReportInterval < 0 {
		return fmt.Errorf("%w: metrics.report_interval is negative", ErrInvalid)
	}
	return nil
}

// Transport resolves the preset, block factor and sequence numbering into
// transport details. The raw PCM backend only fits lossless sub-frames, so
// with it the preset contributes just the codec variant.
func (c Config) Transport() (audio.TransportDetails, error) {
	d, err := audio.PresetByName(c.Audio.Preset)
	if err != nil {
		return audio.TransportDetails{}, err
	}
	if c.Audio.Codec == CodecPCM {
		d = audio.NewTransportDetails(d.Codec, audio.LosslessSubFrameSize(d.Codec), 1)
	}
	if c.Audio.BlockFactor > 1 {
		d = d.WithBlockFactor(c.Audio.BlockFactor)
	}
	d.SequenceNumbers = c.Network.SequenceNumbers
	if err := d.Validate(); err != nil {
		return audio.TransportDetails{}, err
	}
	return d, nil
}

// HardwareFormat returns the configured device format.
func (c Config) HardwareFormat() audio.Format {
	return audio.Format{SampleRate: c.Audio.SampleRate, Channels: c.Audio.Channels}
}

// EngineOptions returns engine options for this configuration. Driver and
// Registerer are left for the caller.
func (c Config) EngineOptions() *av.Options {
	opts := av.NewOptions()
	opts.BufferSize = c.Network.BufferSize
	opts.InputMuted = c.Audio.InputMuted
	opts.HardwareFormat = c.HardwareFormat()
	return opts
}

// LinkConfig returns the simulated link settings.
func (c Config) LinkConfig() simnet.LinkConfig {
	s := c.Simulation
	return simnet.LinkConfig{
		LossRate:      s.LossRate,
		ReorderRate:   s.ReorderRate,
		DuplicateRate: s.DuplicateRate,
		DelayTicks:    s.DelayTicks,
		JitterTicks:   s.JitterTicks,
		Seed:          s.Seed,
	}
}

// Apply configures the global logrus logger.
func (l LogConfig) Apply() error {
	level, err := logrus.ParseLevel(l.Level)
	if err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalid, err)
	}
	logrus.SetLevel(level)
	if strings.EqualFold(l.Format, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// LiveTarget is the part of the engine a running configuration can change.
type LiveTarget interface {
	SetNetworkBufferSize(capacity int) error
	SetTransportProperties(details audio.TransportDetails) error
	MuteInput(muted bool)
}

// ApplyLive pushes the settings that can change while audio runs from next
// to target, skipping those equal in prev. Other changes need a restart and
// are reported in the returned list.
func ApplyLive(target LiveTarget, prev, next Config) (restartNeeded []string, err error) {
	if next.Network.BufferSize != prev.Network.BufferSize {
		if err := target.SetNetworkBufferSize(next.Network.BufferSize); err != nil {
			return nil, err
		}
	}
	if next.Audio.InputMuted != prev.Audio.InputMuted {
		target.MuteInput(next.Audio.InputMuted)
	}

	// Preset, block factor and sequence numbering switch live as long as
	// the codec backend and the device stay the same.
	a, b := prev.Audio, next.Audio
	a.InputMuted, b.InputMuted = false, false
	a.Preset, b.Preset = "", ""
	a.BlockFactor, b.BlockFactor = 0, 0
	if a != b {
		restartNeeded = append(restartNeeded, "audio")
	} else {
		before, err := prev.Transport()
		if err != nil {
			return nil, err
		}
		after, err := next.Transport()
		if err != nil {
			return nil, err
		}
		if after != before {
			if err := target.SetTransportProperties(after); err != nil {
				return nil, err
			}
		}
	}

	if next.Simulation != prev.Simulation {
		restartNeeded = append(restartNeeded, "simulation")
	}
	if next.Metrics != prev.Metrics {
		restartNeeded = append(restartNeeded, "metrics")
	}
	return restartNeeded, nil
}
