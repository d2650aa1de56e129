package audio

import (
	"fmt"
	"sync"

	"github.com/opd-ai/jamcore/av/jitter"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Receiver is the decode pipeline: once per render callback it pulls one
// packet from the jitter buffer and fills the hardware output.
type Receiver struct {
	mu sync.Mutex

	codec   Codec
	buffer  *jitter.Buffer
	hw      Format
	details TransportDetails
	conv    *Converter

	packet    []byte
	pcm       []int16
	converted []int16

	resetPending bool

	observer OutcomeObserver
	counters outcomeCounters
	limiter  *rate.Limiter
}

// NewReceiver builds a decode pipeline reading from buffer. Each read
// publishes the buffer state to the buffer's notifier, if one is attached.
func NewReceiver(codec Codec, buffer *jitter.Buffer, hw Format, details TransportDetails) (*Receiver, error) {
	if codec == nil {
		return nil, ErrNilCodec
	}
	if buffer == nil {
		return nil, fmt.Errorf("%w: jitter buffer is nil", ErrInvalidTransport)
	}

	r := &Receiver{
		codec:   codec,
		buffer:  buffer,
		limiter: newFailureLimiter(),
	}
	if err := r.apply(details, hw); err != nil {
		return nil, err
	}
	r.resetPending = false

	logrus.WithFields(logrus.Fields{
		"function":  "NewReceiver",
		"hw_format": hw.String(),
		"transport": details.String(),
	}).Info("Decode pipeline created")

	return r, nil
}

// Reconfigure swaps the transport details and hardware format. Render calls
// made meanwhile play silence. A codec variant change resets the decoder
// before the next packet. The jitter buffer is left to its owner.
func (r *Receiver) Reconfigure(details TransportDetails, hw Format) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.details
	if err := r.apply(details, hw); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Receiver.Reconfigure",
			"error":    err.Error(),
		}).Error("Decode pipeline reconfiguration failed")
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function":      "Receiver.Reconfigure",
		"old_transport": old.String(),
		"transport":     details.String(),
		"hw_format":     hw.String(),
		"decoder_reset": r.resetPending,
	}).Info("Decode pipeline reconfigured")

	return nil
}

// apply validates and installs new settings. Callers hold r.mu.
func (r *Receiver) apply(details TransportDetails, hw Format) error {
	if err := details.Validate(); err != nil {
		return err
	}
	if err := hw.Validate(); err != nil {
		return err
	}

	var conv *Converter
	var converted []int16
	if !hw.IsCanonical() {
		c, err := NewConverter(CanonicalFormat, hw, details.FrameSize)
		if err != nil {
			return fmt.Errorf("decode converter: %w", err)
		}
		conv = c
		converted = make([]int16, (hw.FramesFor(details.FrameSize)+2)*hw.Channels)
	}

	if details.Codec != r.details.Codec {
		r.resetPending = true
	}
	r.details = details
	r.hw = hw
	r.conv = conv
	r.converted = converted
	r.packet = make([]byte, details.PacketSize)
	r.pcm = make([]int16, details.Samples())
	return nil
}

// SetObserver registers a callback for every outcome. Pass nil to remove it.
func (r *Receiver) SetObserver(observer OutcomeObserver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observer = observer
}

// Details returns the active transport details.
func (r *Receiver) Details() TransportDetails {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.details
}

// Stats returns the outcome counters.
func (r *Receiver) Stats() PipelineStats {
	return r.counters.snapshot()
}

// Render fills exactly frameCount frames of out with interleaved hardware
// PCM, substituting silence for anything that cannot be played. frameCount
// is clamped to what out can hold.
func (r *Receiver) Render(out []int16, frameCount int) Outcome {
	if !r.mu.TryLock() {
		clear(out)
		r.counters.record(OutcomeReconfiguring)
		return OutcomeReconfiguring
	}
	defer r.mu.Unlock()

	ch := r.hw.Channels
	if frameCount < 0 {
		frameCount = 0
	}
	if frameCount*ch > len(out) {
		frameCount = len(out) / ch
	}
	out = out[:frameCount*ch]

	outcome := r.decode(out)
	if outcome != OutcomeOK {
		clear(out)
	}
	r.counters.record(outcome)
	if r.observer != nil {
		r.observer(outcome)
	}
	return outcome
}

func (r *Receiver) decode(out []int16) Outcome {
	d := r.details
	data, ok := r.buffer.Read(r.packet)

	if r.resetPending {
		if err := r.codec.ResetDecoder(d.Codec); err != nil {
			r.warn("Decoder reset failed", err)
		}
		r.resetPending = false
	}

	if !ok || len(data) != d.PacketSize {
		return OutcomeMissing
	}

	n, err := r.codec.Decode(d.Codec, data, d.BlockFactor, r.pcm)
	if err != nil {
		r.warn("Decode failed", err)
		return OutcomeCodecFailed
	}
	if n > d.FrameSize {
		n = d.FrameSize
	}
	fitFrames(r.pcm, n, CodecChannels)

	if r.conv == nil {
		m := copy(out, r.pcm) / CodecChannels
		fitFrames(out, m, CodecChannels)
		return OutcomeOK
	}

	m, err := r.conv.Convert(r.pcm, r.converted)
	if err != nil {
		r.warn("Render conversion failed", err)
		return OutcomeConversionFailed
	}
	m = copy(out, r.converted[:m*r.hw.Channels]) / r.hw.Channels
	fitFrames(out, m, r.hw.Channels)
	return OutcomeOK
}

func (r *Receiver) warn(msg string, err error) {
	if r.limiter.Allow() {
		logrus.WithFields(logrus.Fields{
			"function":  "Receiver.Render",
			"transport": r.details.String(),
			"error":     err.Error(),
		}).Warn(msg)
	}
}
