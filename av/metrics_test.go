package av

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/jamcore/av/audio"
)

// metricValue returns the value of the counter or gauge named name whose
// labels include every pair in labels.
func metricValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for k, v := range labels {
				found := false
				for _, lp := range m.GetLabel() {
					if lp.GetName() == k && lp.GetValue() == v {
						found = true
						break
					}
				}
				if !found {
					continue metrics
				}
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s %v not found", name, labels)
	return 0
}

func TestEngineMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	opts := unmuted()
	opts.Registerer = reg
	details := lossless(audio.CodecOpus)

	e, _ := newLoopbackEngine(t, opts, details)
	id := map[string]string{"engine": e.ID()}

	in := ramp(details.FrameSize, 7)
	out := make([]int16, len(in))
	e.ProcessCapture(in)
	e.ProcessRender(out, details.FrameSize)
	e.ProcessRender(out, details.FrameSize)

	assert.Equal(t, 1.0, metricValue(t, reg, "jamcore_capture_callbacks_total",
		map[string]string{"engine": e.ID(), "outcome": "ok"}))
	assert.Equal(t, 1.0, metricValue(t, reg, "jamcore_render_callbacks_total",
		map[string]string{"engine": e.ID(), "outcome": "ok"}))
	assert.Equal(t, 1.0, metricValue(t, reg, "jamcore_render_callbacks_total",
		map[string]string{"engine": e.ID(), "outcome": "missing"}))
	assert.Equal(t, 1.0, metricValue(t, reg, "jamcore_network_datagrams_total", id))
	assert.Equal(t, 1.0, metricValue(t, reg, "jamcore_jitter_packets_stored_total", id))
	assert.Equal(t, float64(DefaultBufferSize), metricValue(t, reg, "jamcore_jitter_buffer_capacity_packets", id))
	assert.Equal(t, float64(details.PacketSize), metricValue(t, reg, "jamcore_transport_packet_bytes", id))

	require.Eventually(t, func() bool {
		return metricValue(t, reg, "jamcore_jitter_buffer_state", id) == float64(BufferUnderrun)
	}, time.Second, 5*time.Millisecond)
}

func TestMetricsResyncCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	opts := unmuted()
	opts.Registerer = reg
	opts.BufferSize = 4
	details := lossless(audio.CodecOpusLowDelay)

	codec := audio.NewPCMCodec()
	e, err := New(opts, codec)
	require.NoError(t, err)
	require.NoError(t, e.Start(details, nil))
	defer e.Stop()

	packet := make([]byte, details.WireSize())
	packet[details.PacketSize] = 10 // far ahead of the expected zero
	e.HandleAudioFromNetwork(packet)

	assert.Equal(t, 1.0, metricValue(t, reg, "jamcore_jitter_resyncs_total",
		map[string]string{"engine": e.ID(), "direction": "forward"}))

	// Three trailing bytes cannot form a packet.
	e.HandleAudioFromNetwork(append(packet, 1, 2, 3))
	assert.Equal(t, 3.0, metricValue(t, reg, "jamcore_jitter_dropped_bytes_total",
		map[string]string{"engine": e.ID()}))
}

func TestMetricsTwoEnginesShareRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	opts := NewOptions()
	opts.Registerer = reg

	a, err := New(opts, audio.NewPCMCodec())
	require.NoError(t, err)
	b, err := New(opts, audio.NewPCMCodec())
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())

	a.HandleAudioFromNetwork([]byte{1})
	assert.Equal(t, 1.0, metricValue(t, reg, "jamcore_network_datagrams_dropped_total",
		map[string]string{"engine": a.ID()}))
	assert.Equal(t, 0.0, metricValue(t, reg, "jamcore_network_datagrams_dropped_total",
		map[string]string{"engine": b.ID()}))
}

func TestNewMetricsWithoutRegistry(t *testing.T) {
	m := NewMetrics(nil, "standalone")
	require.NotNil(t, m)
	m.observeCapture(audio.OutcomeOK)
	m.observeRender(audio.Outcome(200))
}

type countingSource struct {
	calls atomic.Int32
}

func (c *countingSource) Stats() Stats {
	c.calls.Add(1)
	return Stats{EngineID: "fake", BufferState: BufferNormal}
}

func TestStatsReporterLifecycle(t *testing.T) {
	src := &countingSource{}
	reporter := NewStatsReporter(src, 5*time.Millisecond)
	require.NotNil(t, reporter)
	assert.False(t, reporter.IsRunning())

	var got atomic.Int32
	reporter.OnReport(func(s Stats) {
		assert.Equal(t, "fake", s.EngineID)
		got.Add(1)
	})

	require.NoError(t, reporter.Start())
	assert.True(t, reporter.IsRunning())
	assert.ErrorIs(t, reporter.Start(), ErrAlreadyRunning)

	require.Eventually(t, func() bool { return got.Load() >= 2 }, time.Second, time.Millisecond)

	reporter.Stop()
	assert.False(t, reporter.IsRunning())
	reporter.Stop()

	// Restart after stop.
	require.NoError(t, reporter.Start())
	reporter.Stop()
}

func TestStatsReporterWithoutCallback(t *testing.T) {
	src := &countingSource{}
	reporter := NewStatsReporter(src, 0)
	assert.Equal(t, time.Second, reporter.interval)

	reporter.report()
	assert.Zero(t, src.calls.Load())
}
