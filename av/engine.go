package av

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/jamcore/av/audio"
	"github.com/opd-ai/jamcore/av/jitter"
)

// Engine owns one jitter buffer, one codec and the two pipelines around
// them. It is the single handle callers hold: there is no package-level
// state.
//
// Three contexts call into a running engine: the capture thread
// (ProcessCapture), the render thread (ProcessRender) and the network
// receive context (HandleAudioFromNetwork). Configuration methods may be
// called from any other goroutine.
type Engine struct {
	id           string
	codec        audio.Codec
	driver       Driver
	buffer       *jitter.Buffer
	notifier     *jitter.Notifier
	metrics      *Metrics
	timeProvider TimeProvider
	stateBufSize int
	fallbackHW   audio.Format

	// Real-time paths read these without taking mu.
	running        atomic.Bool
	inputMuted     atomic.Bool
	activeSender   atomic.Pointer[audio.Sender]
	activeReceiver atomic.Pointer[audio.Receiver]
	dropped        atomic.Uint64

	mu         sync.Mutex
	details    audio.TransportDetails
	hw         audio.Format
	bufferSize int
	startedAt  time.Time
	sender     *audio.Sender
	receiver   *audio.Receiver

	cancelStates func()
	statesDone   chan struct{}

	callbackMu    sync.RWMutex
	stateCallback func(BufferState)
}

// New creates a stopped engine. A nil opts uses NewOptions.
func New(opts *Options, codec audio.Codec) (*Engine, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if codec == nil {
		return nil, configError("new engine", audio.ErrNilCodec)
	}
	if err := opts.Validate(); err != nil {
		return nil, configError("new engine", err)
	}

	tp := opts.TimeProvider
	if tp == nil {
		tp = DefaultTimeProvider{}
	}
	stateBufSize := opts.StateBufferSize
	if stateBufSize == 0 {
		stateBufSize = DefaultStateBufferSize
	}

	id := uuid.New().String()
	e := &Engine{
		id:           id,
		codec:        codec,
		driver:       opts.Driver,
		buffer:       jitter.New(opts.BufferSize, 0),
		notifier:     jitter.NewNotifier(),
		metrics:      NewMetrics(opts.Registerer, id),
		timeProvider: tp,
		stateBufSize: stateBufSize,
		fallbackHW:   opts.HardwareFormat,
		bufferSize:   opts.BufferSize,
	}
	e.inputMuted.Store(opts.InputMuted)
	e.buffer.SetNotifier(e.notifier)

	logrus.WithFields(logrus.Fields{
		"function":    "av.New",
		"engine_id":   id,
		"buffer_size": opts.BufferSize,
		"input_muted": opts.InputMuted,
		"has_driver":  opts.Driver != nil,
	}).Info("Audio engine created")

	return e, nil
}

// ID returns the engine's unique identifier, used as a metrics label.
func (e *Engine) ID() string {
	return e.id
}

func (e *Engine) hardwareFormat() audio.Format {
	if e.driver != nil {
		return e.driver.Format()
	}
	return e.fallbackHW
}

// setupError classifies a pipeline construction failure.
func setupError(err error) error {
	if errors.Is(err, ErrInvalidTransport) || errors.Is(err, ErrUnsupportedFormat) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrCodecSetup, err)
}

// Start configures both pipelines for details, resets the jitter buffer and
// starts the driver. send receives every encoded packet. On failure the
// engine stays stopped and the error is a *ConfigError.
func (e *Engine) Start(details audio.TransportDetails, send audio.SendFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running.Load() {
		return ErrEngineAlreadyRunning
	}
	if err := details.Validate(); err != nil {
		return configError("start", err)
	}

	hw := e.hardwareFormat()
	sender, err := audio.NewSender(e.codec, hw, details, send)
	if err != nil {
		return configError("start", setupError(err))
	}
	receiver, err := audio.NewReceiver(e.codec, e.buffer, hw, details)
	if err != nil {
		return configError("start", setupError(err))
	}
	sender.SetMuted(e.inputMuted.Load())

	e.sender = sender
	e.receiver = receiver
	e.details = details
	e.hw = hw
	e.startedAt = e.timeProvider.Now()

	// The watcher must see the reset state even when it repeats the last
	// one published before Stop.
	e.watchStates()
	e.notifier.Forget()
	e.buffer.ResizeTo(e.bufferSize, details.PacketSize)
	e.metrics.observeTransport(details, e.buffer.Capacity())

	e.activeSender.Store(sender)
	e.activeReceiver.Store(receiver)
	e.running.Store(true)

	if e.driver != nil {
		if err := e.driver.Start(e, details.FrameSize); err != nil {
			e.teardown()
			logrus.WithFields(logrus.Fields{
				"function":  "Engine.Start",
				"engine_id": e.id,
				"error":     err.Error(),
			}).Error("Audio driver failed to start")
			return configError("start", fmt.Errorf("%w: %w", ErrDriver, err))
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":    "Engine.Start",
		"engine_id":   e.id,
		"transport":   details.String(),
		"hw_format":   hw.String(),
		"buffer_size": e.buffer.Capacity(),
		"input_muted": e.inputMuted.Load(),
	}).Info("Audio engine started")

	return nil
}

// Stop halts the driver and detaches both pipelines. Datagrams arriving
// afterwards are counted and dropped.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running.Load() {
		return ErrEngineNotRunning
	}

	var driverErr error
	if e.driver != nil {
		if err := e.driver.Stop(); err != nil {
			driverErr = fmt.Errorf("%w: %w", ErrDriver, err)
			logrus.WithFields(logrus.Fields{
				"function":  "Engine.Stop",
				"engine_id": e.id,
				"error":     err.Error(),
			}).Warn("Audio driver failed to stop cleanly")
		}
	}
	e.teardown()

	logrus.WithFields(logrus.Fields{
		"function":  "Engine.Stop",
		"engine_id": e.id,
		"uptime":    e.timeProvider.Since(e.startedAt),
	}).Info("Audio engine stopped")

	if driverErr != nil {
		return &ConfigError{Op: "stop", Err: driverErr}
	}
	return nil
}

// teardown detaches the real-time paths. Callers hold mu.
func (e *Engine) teardown() {
	e.running.Store(false)
	e.activeSender.Store(nil)
	e.activeReceiver.Store(nil)
	if e.cancelStates != nil {
		e.cancelStates()
		<-e.statesDone
		e.cancelStates = nil
	}
}

// IsRunning reports whether the engine has been started.
func (e *Engine) IsRunning() bool {
	return e.running.Load()
}

// watchStates subscribes to buffer state changes and forwards them to the
// metrics and the registered callback. Callers hold mu.
func (e *Engine) watchStates() {
	ch, cancel := e.notifier.Subscribe(e.stateBufSize)
	done := make(chan struct{})
	e.cancelStates = cancel
	e.statesDone = done

	go func() {
		defer close(done)
		for s := range ch {
			e.metrics.observeState(s)

			e.callbackMu.RLock()
			cb := e.stateCallback
			e.callbackMu.RUnlock()
			if cb != nil {
				cb(s)
			}
		}
	}()
}

// SetNetworkBufferSize resizes the jitter buffer to capacity packets. The
// buffer is reset, so playback underruns briefly. A stopped engine keeps
// the size for the next Start.
func (e *Engine) SetNetworkBufferSize(capacity int) error {
	if err := validateCapacity(capacity); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Engine.SetNetworkBufferSize",
			"capacity": capacity,
		}).Warn("Rejected jitter buffer size")
		return configError("set network buffer size", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	old := e.bufferSize
	e.bufferSize = capacity
	if e.running.Load() {
		e.buffer.ResizeTo(capacity, e.details.PacketSize)
		e.metrics.observeTransport(e.details, capacity)
	}

	logrus.WithFields(logrus.Fields{
		"function":     "Engine.SetNetworkBufferSize",
		"engine_id":    e.id,
		"old_capacity": old,
		"capacity":     capacity,
		"live":         e.running.Load(),
	}).Info("Network buffer size changed")

	return nil
}

// NetworkBufferSize returns the configured jitter buffer capacity.
func (e *Engine) NetworkBufferSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bufferSize
}

// SetTransportProperties switches a running engine to new transport
// details. A packet size change resets the jitter buffer, a codec variant
// change resets the codec state, and a frame size change restarts the
// driver so its period matches. On failure the previous configuration is
// restored and a *ConfigError is returned.
func (e *Engine) SetTransportProperties(details audio.TransportDetails) error {
	const op = "set transport properties"

	if err := details.Validate(); err != nil {
		return configError(op, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running.Load() {
		return configError(op, ErrEngineNotRunning)
	}

	old := e.details
	if old == details {
		return nil
	}

	restartDriver := e.driver != nil && old.FrameSize != details.FrameSize
	if restartDriver {
		if err := e.driver.Stop(); err != nil {
			return configError(op, fmt.Errorf("%w: pause: %w", ErrDriver, err))
		}
	}

	if err := e.sender.Reconfigure(details, e.hw); err != nil {
		e.resumeDriver(restartDriver, old)
		return configError(op, setupError(err))
	}
	if err := e.receiver.Reconfigure(details, e.hw); err != nil {
		if rerr := e.sender.Reconfigure(old, e.hw); rerr != nil {
			logrus.WithFields(logrus.Fields{
				"function":  "Engine.SetTransportProperties",
				"engine_id": e.id,
				"error":     rerr.Error(),
			}).Error("Failed to revert encode pipeline")
		}
		e.resumeDriver(restartDriver, old)
		return configError(op, setupError(err))
	}

	if old.PacketSize != details.PacketSize {
		e.buffer.Reset(details.PacketSize)
	}
	e.details = details
	e.metrics.observeTransport(details, e.buffer.Capacity())

	if restartDriver {
		if err := e.driver.Start(e, details.FrameSize); err != nil {
			e.revertTransport(old)
			return configError(op, fmt.Errorf("%w: %w", ErrDriver, err))
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":       "Engine.SetTransportProperties",
		"engine_id":      e.id,
		"old_transport":  old.String(),
		"transport":      details.String(),
		"buffer_reset":   old.PacketSize != details.PacketSize,
		"codec_changed":  old.Codec != details.Codec,
		"driver_restart": restartDriver,
	}).Info("Transport properties changed")

	return nil
}

// resumeDriver restarts a driver paused for reconfiguration. When even the
// previous frame size cannot be restored the engine stops. Callers hold mu.
func (e *Engine) resumeDriver(paused bool, details audio.TransportDetails) {
	if !paused {
		return
	}
	if err := e.driver.Start(e, details.FrameSize); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "Engine.resumeDriver",
			"engine_id": e.id,
			"error":     err.Error(),
		}).Error("Audio driver could not be resumed; stopping engine")
		e.teardown()
	}
}

// revertTransport restores old after the driver refused the new frame size.
// Callers hold mu.
func (e *Engine) revertTransport(old audio.TransportDetails) {
	current := e.details
	if err := e.sender.Reconfigure(old, e.hw); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Engine.revertTransport",
			"error":    err.Error(),
		}).Error("Failed to revert encode pipeline")
	}
	if err := e.receiver.Reconfigure(old, e.hw); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Engine.revertTransport",
			"error":    err.Error(),
		}).Error("Failed to revert decode pipeline")
	}
	if current.PacketSize != old.PacketSize {
		e.buffer.Reset(old.PacketSize)
	}
	e.details = old
	e.metrics.observeTransport(old, e.buffer.Capacity())
	e.resumeDriver(true, old)
}

// TransportDetails returns the active transport details.
func (e *Engine) TransportDetails() audio.TransportDetails {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.details
}

// MuteInput switches capture muting. Muted capture still sends silent
// packets.
func (e *Engine) MuteInput(muted bool) {
	e.inputMuted.Store(muted)
	if s := e.activeSender.Load(); s != nil {
		s.SetMuted(muted)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Engine.MuteInput",
		"engine_id": e.id,
		"muted":     muted,
	}).Info("Input mute changed")
}

// IsInputMuted reports whether capture is muted.
func (e *Engine) IsInputMuted() bool {
	return e.inputMuted.Load()
}

// HandleAudioFromNetwork stores one inbound datagram in the jitter buffer.
// It is safe to call from the network receive goroutine.
func (e *Engine) HandleAudioFromNetwork(data []byte) {
	if !e.running.Load() {
		e.dropped.Add(1)
		e.metrics.droppedStopped.Inc()
		return
	}

	res := e.buffer.Write(data)
	e.metrics.observeWrite(res)

	if logrus.IsLevelEnabled(logrus.TraceLevel) {
		logrus.WithFields(logrus.Fields{
			"function":         "Engine.HandleAudioFromNetwork",
			"bytes":            len(data),
			"stored":           res.Stored,
			"forward_resyncs":  res.ForwardResyncs,
			"backward_resyncs": res.BackwardResyncs,
			"dropped_bytes":    res.DroppedBytes,
		}).Trace("Datagram buffered")
	}
}

// ProcessCapture implements Processor.
func (e *Engine) ProcessCapture(in []int16) {
	s := e.activeSender.Load()
	if s == nil {
		return
	}
	e.metrics.observeCapture(s.Capture(in))
}

// ProcessRender implements Processor. A stopped engine renders silence.
func (e *Engine) ProcessRender(out []int16, frameCount int) {
	r := e.activeReceiver.Load()
	if r == nil {
		clear(out)
		return
	}
	e.metrics.observeRender(r.Render(out, frameCount))
}

// OnBufferStateChange registers a callback invoked on a background
// goroutine whenever the jitter buffer state changes while running. Stop
// waits for that goroutine, so the callback must not call Stats or any
// method that reconfigures the engine.
func (e *Engine) OnBufferStateChange(callback func(BufferState)) {
	e.callbackMu.Lock()
	defer e.callbackMu.Unlock()
	e.stateCallback = callback
}

// BufferStateChanges returns a channel of buffer state changes and a func
// that closes it. A subscriber that falls behind misses states.
func (e *Engine) BufferStateChanges(size int) (<-chan BufferState, func()) {
	return e.notifier.Subscribe(size)
}

// BufferState returns the current jitter buffer state.
func (e *Engine) BufferState() BufferState {
	return e.buffer.State()
}

// Metrics returns the engine's Prometheus collectors.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// Stats returns a snapshot of engine activity.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Stats{
		EngineID:                  e.id,
		Running:                   e.running.Load(),
		Transport:                 e.details,
		HardwareFormat:            e.hw,
		InputMuted:                e.inputMuted.Load(),
		BufferCapacity:            e.buffer.Capacity(),
		BufferOccupancy:           e.buffer.Occupancy(),
		BufferState:               e.buffer.State(),
		Buffer:                    e.buffer.Stats(),
		DroppedDatagrams:          e.dropped.Load(),
		StateNotificationsDropped: e.notifier.Dropped(),
	}
	if st.Running {
		st.StartedAt = e.startedAt
		st.Uptime = e.timeProvider.Since(e.startedAt)
	}
	if e.sender != nil {
		st.Capture = e.sender.Stats()
	}
	if e.receiver != nil {
		st.Render = e.receiver.Stats()
	}
	return st
}
