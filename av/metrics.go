package av

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/jamcore/av/audio"
	"github.com/opd-ai/jamcore/av/jitter"
)

const metricsNamespace = "jamcore"

// Metrics holds the engine's Prometheus collectors. Label values are
// resolved up front so that updates from the real-time threads are plain
// atomic operations.
type Metrics struct {
	captureOutcomes [6]prometheus.Counter
	renderOutcomes  [6]prometheus.Counter

	datagrams       prometheus.Counter
	packetsStored   prometheus.Counter
	forwardResyncs  prometheus.Counter
	backwardResyncs prometheus.Counter
	droppedBytes    prometheus.Counter
	droppedStopped  prometheus.Counter

	bufferState    prometheus.Gauge
	bufferCapacity prometheus.Gauge
	packetBytes    prometheus.Gauge
	stateChanges   *prometheus.CounterVec
}

var outcomes = []audio.Outcome{
	audio.OutcomeOK,
	audio.OutcomeMuted,
	audio.OutcomeMissing,
	audio.OutcomeConversionFailed,
	audio.OutcomeCodecFailed,
	audio.OutcomeReconfiguring,
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer, engineID string) *Metrics {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"engine": engineID}

	capture := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace:   metricsNamespace,
		Name:        "capture_callbacks_total",
		Help:        "Capture callbacks by outcome",
		ConstLabels: labels,
	}, []string{"outcome"})
	render := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace:   metricsNamespace,
		Name:        "render_callbacks_total",
		Help:        "Render callbacks by outcome",
		ConstLabels: labels,
	}, []string{"outcome"})
	resyncs := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace:   metricsNamespace,
		Name:        "jitter_resyncs_total",
		Help:        "Jitter buffer sequence resyncs by direction",
		ConstLabels: labels,
	}, []string{"direction"})

	m := &Metrics{
		datagrams: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "network_datagrams_total",
			Help:        "Datagrams handed to the jitter buffer",
			ConstLabels: labels,
		}),
		packetsStored: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "jitter_packets_stored_total",
			Help:        "Packets copied into jitter buffer slots",
			ConstLabels: labels,
		}),
		forwardResyncs:  resyncs.WithLabelValues("forward"),
		backwardResyncs: resyncs.WithLabelValues("backward"),
		droppedBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "jitter_dropped_bytes_total",
			Help:        "Trailing datagram bytes that did not form a whole packet",
			ConstLabels: labels,
		}),
		droppedStopped: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "network_datagrams_dropped_total",
			Help:        "Datagrams received while the engine was stopped",
			ConstLabels: labels,
		}),
		bufferState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Name:        "jitter_buffer_state",
			Help:        "Jitter buffer state (0 empty, 1 underrun, 2 normal, 3 full, 4 overrun)",
			ConstLabels: labels,
		}),
		bufferCapacity: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Name:        "jitter_buffer_capacity_packets",
			Help:        "Jitter buffer capacity in packets",
			ConstLabels: labels,
		}),
		packetBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Name:        "transport_packet_bytes",
			Help:        "Payload size of one network packet",
			ConstLabels: labels,
		}),
		stateChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "jitter_state_changes_total",
			Help:        "Jitter buffer state transitions by new state",
			ConstLabels: labels,
		}, []string{"state"}),
	}
	for _, o := range outcomes {
		m.captureOutcomes[o] = capture.WithLabelValues(o.String())
		m.renderOutcomes[o] = render.WithLabelValues(o.String())
	}
	return m
}

func (m *Metrics) observeCapture(o audio.Outcome) {
	if int(o) < len(m.captureOutcomes) {
		m.captureOutcomes[o].Inc()
	}
}

func (m *Metrics) observeRender(o audio.Outcome) {
	if int(o) < len(m.renderOutcomes) {
		m.renderOutcomes[o].Inc()
	}
}

func (m *Metrics) observeWrite(res jitter.WriteResult) {
	m.datagrams.Inc()
	m.packetsStored.Add(float64(res.Stored))
	if res.ForwardResyncs > 0 {
		m.forwardResyncs.Add(float64(res.ForwardResyncs))
	}
	if res.BackwardResyncs > 0 {
		m.backwardResyncs.Add(float64(res.BackwardResyncs))
	}
	if res.DroppedBytes > 0 {
		m.droppedBytes.Add(float64(res.DroppedBytes))
	}
}

func (m *Metrics) observeState(s BufferState) {
	m.bufferState.Set(float64(s))
	m.stateChanges.WithLabelValues(s.String()).Inc()
}

func (m *Metrics) observeTransport(d audio.TransportDetails, capacity int) {
	m.packetBytes.Set(float64(d.PacketSize))
	m.bufferCapacity.Set(float64(capacity))
}

// StatsReporter periodically snapshots engine stats and hands them to a
// callback, for logging or dashboards.
//
// Example usage:
//
//	reporter := av.NewStatsReporter(engine, 5*time.Second)
//	reporter.OnReport(func(s av.Stats) {
//	    fmt.Printf("buffer %s, %d misses\n", s.BufferState, s.Render.Missing)
//	})
//	reporter.Start()
//	defer reporter.Stop()
type StatsReporter struct {
	source   interface{ Stats() Stats }
	interval time.Duration

	mu       sync.RWMutex
	running  bool
	callback func(Stats)

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewStatsReporter creates a reporter polling source every interval.
func NewStatsReporter(source interface{ Stats() Stats }, interval time.Duration) *StatsReporter {
	if interval <= 0 {
		interval = time.Second
	}
	logrus.WithFields(logrus.Fields{
		"function":        "NewStatsReporter",
		"report_interval": interval,
	}).Debug("Creating stats reporter")

	return &StatsReporter{
		source:   source,
		interval: interval,
	}
}

// OnReport registers the callback invoked with every snapshot.
func (r *StatsReporter) OnReport(callback func(Stats)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callback = callback
}

// Start begins periodic reporting.
func (r *StatsReporter) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return ErrAlreadyRunning
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.done = make(chan struct{})
	r.running = true
	go r.reportLoop(r.ctx, r.done)

	logrus.WithFields(logrus.Fields{
		"function": "StatsReporter.Start",
		"interval": r.interval,
	}).Info("Stats reporter started")

	return nil
}

// Stop halts reporting and waits for the loop to exit.
func (r *StatsReporter) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.cancel()
	done := r.done
	r.mu.Unlock()

	<-done

	logrus.WithFields(logrus.Fields{
		"function": "StatsReporter.Stop",
	}).Info("Stats reporter stopped")
}

// IsRunning returns whether the reporter is active.
func (r *StatsReporter) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

func (r *StatsReporter) reportLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.report()
		}
	}
}

func (r *StatsReporter) report() {
	r.mu.RLock()
	callback := r.callback
	r.mu.RUnlock()
	if callback == nil {
		return
	}
	callback(r.source.Stats())
}
