package audio

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// SendFunc hands one finished packet to the network. The slice is reused by
// the next Capture call, so implementations copy it if they keep it.
type SendFunc func(packet []byte)

// Sender is the encode pipeline: it turns one capture callback worth of
// hardware PCM into one network packet.
type Sender struct {
	mu sync.Mutex

	codec   Codec
	send    SendFunc
	hw      Format
	details TransportDetails
	conv    *Converter

	// frame holds one packet of canonical PCM; packet holds the payload
	// plus room for the sequence byte.
	frame  []int16
	packet []byte
	seq    uint8

	resetPending bool
	muted        atomic.Bool

	observer OutcomeObserver
	counters outcomeCounters
	limiter  *rate.Limiter
}

// NewSender builds an encode pipeline for hardware format hw.
func NewSender(codec Codec, hw Format, details TransportDetails, send SendFunc) (*Sender, error) {
	if codec == nil {
		return nil, ErrNilCodec
	}
	if send == nil {
		send = func([]byte) {}
	}

	s := &Sender{
		codec:   codec,
		send:    send,
		limiter: newFailureLimiter(),
	}
	if err := s.apply(details, hw); err != nil {
		return nil, err
	}
	s.resetPending = false

	logrus.WithFields(logrus.Fields{
		"function":  "NewSender",
		"hw_format": hw.String(),
		"transport": details.String(),
	}).Info("Encode pipeline created")

	return s, nil
}

// Reconfigure swaps the transport details and hardware format and applies
// the matching encoder bitrate. It waits for an in-flight Capture to
// finish; Capture calls made meanwhile send nothing. A codec variant change
// resets the encoder before the next frame.
func (s *Sender) Reconfigure(details TransportDetails, hw Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.details
	if err := s.apply(details, hw); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Sender.Reconfigure",
			"error":    err.Error(),
		}).Error("Encode pipeline reconfiguration failed")
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function":      "Sender.Reconfigure",
		"old_transport": old.String(),
		"transport":     details.String(),
		"hw_format":     hw.String(),
		"encoder_reset": s.resetPending,
	}).Info("Encode pipeline reconfigured")

	return nil
}

// apply validates and installs new settings. Callers hold s.mu.
func (s *Sender) apply(details TransportDetails, hw Format) error {
	if err := details.Validate(); err != nil {
		return err
	}
	if err := hw.Validate(); err != nil {
		return err
	}

	var conv *Converter
	if !hw.IsCanonical() {
		c, err := NewConverter(hw, CanonicalFormat, MaxCallbackFrames)
		if err != nil {
			return fmt.Errorf("encode converter: %w", err)
		}
		conv = c
	}
	if err := s.codec.Configure(details); err != nil {
		return fmt.Errorf("configure codec: %w", err)
	}

	if details.Codec != s.details.Codec {
		s.resetPending = true
	}
	s.details = details
	s.hw = hw
	s.conv = conv
	s.frame = make([]int16, details.Samples())
	s.packet = make([]byte, details.PacketSize+1)
	return nil
}

// SetMuted switches input muting. Muted input is still encoded and sent as
// silence so the receiving side keeps its timing.
func (s *Sender) SetMuted(muted bool) {
	s.muted.Store(muted)
}

// Muted reports whether input is muted.
func (s *Sender) Muted() bool {
	return s.muted.Load()
}

// SetObserver registers a callback for every outcome. Pass nil to remove it.
func (s *Sender) SetObserver(observer OutcomeObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = observer
}

// Details returns the active transport details.
func (s *Sender) Details() TransportDetails {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.details
}

// Stats returns the outcome counters.
func (s *Sender) Stats() PipelineStats {
	return s.counters.snapshot()
}

// Capture encodes one capture callback of interleaved hardware PCM and
// sends exactly one packet, unless a reconfiguration holds the pipeline.
func (s *Sender) Capture(in []int16) Outcome {
	if !s.mu.TryLock() {
		s.counters.record(OutcomeReconfiguring)
		return OutcomeReconfiguring
	}
	defer s.mu.Unlock()

	outcome := s.encode(in)
	s.counters.record(outcome)
	if s.observer != nil {
		s.observer(outcome)
	}
	return outcome
}

func (s *Sender) encode(in []int16) Outcome {
	d := s.details
	payload := s.packet[:d.PacketSize]

	if s.resetPending {
		if err := s.codec.ResetEncoder(d.Codec); err != nil {
			s.warn("Encoder reset failed", err)
		}
		s.resetPending = false
	}

	outcome := OutcomeOK
	switch {
	case s.muted.Load():
		clear(s.frame)
		outcome = OutcomeMuted
	case s.conv == nil:
		n := copy(s.frame, in) / CodecChannels
		fitFrames(s.frame, n, CodecChannels)
	default:
		n, err := s.conv.Convert(in, s.frame)
		if err != nil {
			s.warn("Capture conversion failed", err)
			clear(payload)
			s.transmit(payload)
			return OutcomeConversionFailed
		}
		fitFrames(s.frame, n, CodecChannels)
	}

	n, err := s.codec.Encode(d.Codec, s.frame, d.BlockFactor, payload)
	if err == nil && n != d.PacketSize {
		err = fmt.Errorf("%w: encoded %d bytes, want %d", ErrCodec, n, d.PacketSize)
	}
	if err != nil {
		s.warn("Encode failed", err)
		clear(payload)
		s.transmit(payload)
		return OutcomeCodecFailed
	}

	s.transmit(payload)
	return outcome
}

// transmit appends the sequence byte when enabled and sends the packet.
func (s *Sender) transmit(payload []byte) {
	wire := payload
	if s.details.SequenceNumbers {
		wire = s.packet[:len(payload)+1]
		wire[len(payload)] = s.seq
		s.seq++
	}
	s.send(wire)
}

func (s *Sender) warn(msg string, err error) {
	if s.limiter.Allow() {
		logrus.WithFields(logrus.Fields{
			"function":  "Sender.Capture",
			"transport": s.details.String(),
			"error":     err.Error(),
		}).Warn(msg)
	}
}
