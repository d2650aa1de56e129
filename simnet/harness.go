package simnet

import (
	"context"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/jamcore/av/audio"
)

// Endpoint is the callback surface a Harness drives. av.Engine satisfies
// it.
type Endpoint interface {
	ProcessCapture(in []int16)
	ProcessRender(out []int16, frameCount int)
}

// Harness stands in for the audio hardware: each period it captures one
// frame from Source, advances the link by one tick and renders one frame.
type Harness struct {
	endpoint Endpoint
	link     *Link
	hw       audio.Format
	frames   int

	// Source fills the capture frame for period n. Nil captures silence.
	Source func(frame []int16, n int)
	// Sink observes the rendered frame for period n.
	Sink func(frame []int16, n int)

	in  []int16
	out []int16
}

// NewHarness drives endpoint with hardware periods of frameSize frames at
// the codec rate, expressed in format hw.
func NewHarness(endpoint Endpoint, link *Link, frameSize int, hw audio.Format) *Harness {
	frames := hw.FramesFor(frameSize)
	return &Harness{
		endpoint: endpoint,
		link:     link,
		hw:       hw,
		frames:   frames,
		in:       make([]int16, frames*hw.Channels),
		out:      make([]int16, frames*hw.Channels),
	}
}

// PeriodFrames returns the hardware frames per period.
func (h *Harness) PeriodFrames() int {
	return h.frames
}

// Run executes periods capture/render cycles. With pace > 0 each period
// waits for a ticker, otherwise the run is as fast as possible. It stops
// early when ctx is done.
func (h *Harness) Run(ctx context.Context, periods int, pace time.Duration) error {
	logrus.WithFields(logrus.Fields{
		"function":      "Harness.Run",
		"periods":       periods,
		"period_frames": h.frames,
		"hw_format":     h.hw.String(),
		"pace":          pace,
	}).Info("Starting simulated audio run")

	var tick <-chan time.Time
	if pace > 0 {
		ticker := time.NewTicker(pace)
		defer ticker.Stop()
		tick = ticker.C
	}

	for n := 0; n < periods; n++ {
		if tick != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tick:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		h.Step(n)
	}
	return nil
}

// Step runs a single period.
func (h *Harness) Step(n int) {
	if h.Source != nil {
		h.Source(h.in, n)
	} else {
		clear(h.in)
	}
	h.endpoint.ProcessCapture(h.in)
	if h.link != nil {
		h.link.Tick()
	}
	h.endpoint.ProcessRender(h.out, h.frames)
	if h.Sink != nil {
		h.Sink(h.out, n)
	}
}

// Sine returns a Source producing a continuous tone at half scale in
// format f.
func Sine(freq float64, f audio.Format) func(frame []int16, n int) {
	phase := 0.0
	step := 2 * math.Pi * freq / float64(f.SampleRate)
	return func(frame []int16, _ int) {
		for i := 0; i+f.Channels <= len(frame); i += f.Channels {
			v := int16(math.Sin(phase) * 16384)
			for c := 0; c < f.Channels; c++ {
				frame[i+c] = v
			}
			phase += step
			if phase > 2*math.Pi {
				phase -= 2 * math.Pi
			}
		}
	}
}

// RMS returns the root mean square of frame, used to tell silence from
// signal.
func RMS(frame []int16) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(frame)))
}
