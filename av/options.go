package av

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/opd-ai/jamcore/av/audio"
	"github.com/opd-ai/jamcore/av/jitter"
)

// Options configures an Engine.
type Options struct {
	// BufferSize is the jitter buffer capacity in packets.
	BufferSize int

	// InputMuted starts the engine with capture muted.
	InputMuted bool

	// HardwareFormat is used when no Driver is set. With a Driver its
	// Format wins.
	HardwareFormat audio.Format

	// Driver runs the hardware callbacks. When nil the caller drives
	// ProcessCapture and ProcessRender itself.
	Driver Driver

	// Registerer receives the engine's Prometheus collectors. When nil the
	// collectors are created but not registered.
	Registerer prometheus.Registerer

	// StateBufferSize is the channel size of the internal buffer state
	// subscription feeding OnBufferStateChange.
	StateBufferSize int

	// TimeProvider supplies timestamps for Stats. Nil means wall clock.
	TimeProvider TimeProvider
}

// Defaults applied by NewOptions.
const (
	DefaultBufferSize      = jitter.DefaultCapacity
	DefaultStateBufferSize = 16
)

// NewOptions returns options with defaults: a 10-packet jitter buffer,
// muted input and canonical hardware format.
func NewOptions() *Options {
	return &Options{
		BufferSize:      DefaultBufferSize,
		InputMuted:      true,
		HardwareFormat:  audio.CanonicalFormat,
		StateBufferSize: DefaultStateBufferSize,
	}
}

// Validate checks the options.
func (o *Options) Validate() error {
	if err := validateCapacity(o.BufferSize); err != nil {
		return err
	}
	if o.Driver == nil {
		if err := o.HardwareFormat.Validate(); err != nil {
			return err
		}
	}
	if o.StateBufferSize < 0 {
		return fmt.Errorf("state buffer size %d is negative", o.StateBufferSize)
	}
	return nil
}

func validateCapacity(capacity int) error {
	if capacity < jitter.MinCapacity || capacity > jitter.MaxCapacity {
		return fmt.Errorf("%w: %d outside [%d, %d]",
			ErrInvalidCapacity, capacity, jitter.MinCapacity, jitter.MaxCapacity)
	}
	return nil
}

// TimeProvider abstracts time operations for deterministic testing.
// Implementations must be safe for concurrent use.
type TimeProvider interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// DefaultTimeProvider uses the standard library time functions.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// Since returns the duration since the given time.
func (DefaultTimeProvider) Since(t time.Time) time.Duration { return time.Since(t) }
