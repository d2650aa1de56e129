package av

import (
	"errors"
	"fmt"

	"github.com/opd-ai/jamcore/av/audio"
)

// Sentinel errors for av package operations.
// These errors enable reliable error classification using errors.Is().

// Configuration errors.
var (
	// ErrInvalidTransport indicates transport details failed validation.
	ErrInvalidTransport = audio.ErrInvalidTransport

	// ErrInvalidCapacity indicates a jitter buffer size outside the
	// supported range.
	ErrInvalidCapacity = errors.New("invalid jitter buffer capacity")

	// ErrUnsupportedFormat indicates a hardware format the pipelines cannot
	// convert.
	ErrUnsupportedFormat = audio.ErrUnsupportedFormat

	// ErrCodecSetup indicates the codec rejected its configuration.
	ErrCodecSetup = errors.New("codec setup failed")

	// ErrDriver indicates the audio driver failed to start or stop.
	ErrDriver = errors.New("audio driver failure")
)

// Real-time errors. They are counted and replaced with silence, never
// returned to callers.
var (
	// ErrConversion indicates sample format conversion failed.
	ErrConversion = audio.ErrConversion

	// ErrCodec indicates the codec failed on a frame.
	ErrCodec = audio.ErrCodec
)

// Engine state errors.
var (
	// ErrEngineNotRunning indicates the engine has not been started.
	ErrEngineNotRunning = errors.New("engine is not running")

	// ErrEngineAlreadyRunning indicates the engine is already running.
	ErrEngineAlreadyRunning = errors.New("engine is already running")

	// ErrAlreadyRunning is returned when starting a running stats reporter.
	ErrAlreadyRunning = errors.New("service is already running")
)

// ConfigError reports which configuration operation failed.
type ConfigError struct {
	Op  string
	Err error
}

// Error implements error.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

func configError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ConfigError{Op: op, Err: err}
}
