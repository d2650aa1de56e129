package av

import (
	"time"

	"github.com/opd-ai/jamcore/av/audio"
	"github.com/opd-ai/jamcore/av/jitter"
)

// BufferState is the jitter buffer health exposed to callers.
type BufferState = jitter.State

// Buffer states, re-exported for callers that only import av.
const (
	BufferEmpty    = jitter.StateEmpty
	BufferUnderrun = jitter.StateUnderrun
	BufferNormal   = jitter.StateNormal
	BufferFull     = jitter.StateFull
	BufferOverrun  = jitter.StateOverrun
)

// Processor receives the hardware callbacks. Engine implements it.
type Processor interface {
	// ProcessCapture consumes one capture period of interleaved PCM.
	ProcessCapture(in []int16)
	// ProcessRender fills frameCount frames of interleaved PCM.
	ProcessRender(out []int16, frameCount int)
}

// Driver owns the audio hardware. It calls the Processor from its
// real-time threads between Start and Stop.
type Driver interface {
	// Format reports the hardware sample format.
	Format() audio.Format
	// Start opens the device with a period covering frameSize frames at
	// the codec rate and begins delivering callbacks.
	Start(p Processor, frameSize int) error
	// Stop halts callbacks. No callback runs after Stop returns.
	Stop() error
}

// Stats is a point-in-time snapshot of engine activity.
type Stats struct {
	EngineID  string
	Running   bool
	StartedAt time.Time
	Uptime    time.Duration

	Transport      audio.TransportDetails
	HardwareFormat audio.Format
	InputMuted     bool

	BufferCapacity  int
	BufferOccupancy int
	BufferState     BufferState
	Buffer          jitter.Stats

	Capture audio.PipelineStats
	Render  audio.PipelineStats

	// DroppedDatagrams counts network datagrams received while stopped.
	DroppedDatagrams uint64
	// StateNotificationsDropped counts state changes a slow subscriber
	// missed.
	StateNotificationsDropped uint64
}
