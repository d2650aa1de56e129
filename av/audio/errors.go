package audio

import "errors"

// Configuration errors.
var (
	// ErrInvalidTransport indicates TransportDetails failed validation.
	ErrInvalidTransport = errors.New("invalid transport details")

	// ErrUnsupportedFormat indicates a hardware format the converter cannot
	// handle.
	ErrUnsupportedFormat = errors.New("unsupported audio format")

	// ErrNilCodec indicates a pipeline was built without a codec.
	ErrNilCodec = errors.New("codec is nil")
)

// Real-time errors. These never leave the pipelines; they are counted and
// replaced with silence.
var (
	// ErrConversion indicates sample format conversion failed.
	ErrConversion = errors.New("format conversion failed")

	// ErrCodec indicates the codec failed to encode or decode a frame.
	ErrCodec = errors.New("codec failure")
)
