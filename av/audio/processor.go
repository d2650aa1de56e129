package audio

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Outcome reports what a single real-time callback did.
type Outcome uint8

const (
	// OutcomeOK means a packet was encoded and sent, or decoded and played.
	OutcomeOK Outcome = iota
	// OutcomeMuted means muted input was encoded as silence and sent.
	OutcomeMuted
	// OutcomeMissing means the jitter buffer had no packet; silence played.
	OutcomeMissing
	// OutcomeConversionFailed means format conversion failed; a zero packet
	// was sent or silence played.
	OutcomeConversionFailed
	// OutcomeCodecFailed means the codec failed; a zero packet was sent or
	// silence played.
	OutcomeCodecFailed
	// OutcomeReconfiguring means a reconfiguration held the pipeline; no
	// packet was sent or silence played.
	OutcomeReconfiguring
)

// String returns a human-readable representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeMuted:
		return "muted"
	case OutcomeMissing:
		return "missing"
	case OutcomeConversionFailed:
		return "conversion_failed"
	case OutcomeCodecFailed:
		return "codec_failed"
	case OutcomeReconfiguring:
		return "reconfiguring"
	default:
		return "unknown"
	}
}

// Silent reports whether the callback produced silence or a zero packet
// instead of real audio.
func (o Outcome) Silent() bool {
	return o != OutcomeOK && o != OutcomeMuted
}

const numOutcomes = int(OutcomeReconfiguring) + 1

// PipelineStats counts callback outcomes.
type PipelineStats struct {
	Callbacks          uint64
	OK                 uint64
	Muted              uint64
	Missing            uint64
	ConversionFailures uint64
	CodecFailures      uint64
	Reconfiguring      uint64
}

// outcomeCounters is the lock-free backing store for PipelineStats.
type outcomeCounters struct {
	counts [numOutcomes]atomic.Uint64
}

func (c *outcomeCounters) record(o Outcome) {
	if int(o) < numOutcomes {
		c.counts[o].Add(1)
	}
}

func (c *outcomeCounters) snapshot() PipelineStats {
	s := PipelineStats{
		OK:                 c.counts[OutcomeOK].Load(),
		Muted:              c.counts[OutcomeMuted].Load(),
		Missing:            c.counts[OutcomeMissing].Load(),
		ConversionFailures: c.counts[OutcomeConversionFailed].Load(),
		CodecFailures:      c.counts[OutcomeCodecFailed].Load(),
		Reconfiguring:      c.counts[OutcomeReconfiguring].Load(),
	}
	s.Callbacks = s.OK + s.Muted + s.Missing + s.ConversionFailures + s.CodecFailures + s.Reconfiguring
	return s
}

// OutcomeObserver is notified of every callback outcome. It runs on the
// real-time thread and must not block.
type OutcomeObserver func(o Outcome)

// newFailureLimiter gates warning logs on the real-time path to a short
// burst followed by one per second.
func newFailureLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(time.Second), 3)
}
