package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/jamcore/av"
	"github.com/opd-ai/jamcore/av/audio"
	"github.com/opd-ai/jamcore/av/codec"
	"github.com/opd-ai/jamcore/config"
)

// session owns one engine together with its codec, metrics registry,
// stats reporter and optional HTTP endpoint.
type session struct {
	cfg      config.Config
	details  audio.TransportDetails
	codec    audio.Codec
	registry *prometheus.Registry
	engine   *av.Engine
	reporter *av.StatsReporter
	server   *http.Server
}

// newSession builds the engine for cfg. A nil driver leaves the callbacks
// to the caller.
func newSession(cfg config.Config, driver av.Driver) (*session, error) {
	details, err := cfg.Transport()
	if err != nil {
		return nil, err
	}

	hw := cfg.HardwareFormat()
	if driver != nil {
		hw = driver.Format()
	}
	c, err := newCodec(cfg.Audio.Codec, hw)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := cfg.EngineOptions()
	opts.Registerer = registry
	opts.Driver = driver
	engine, err := av.New(opts, c)
	if err != nil {
		closeCodec(c)
		return nil, err
	}

	engine.OnBufferStateChange(func(state av.BufferState) {
		logrus.WithFields(logrus.Fields{
			"function": "session",
			"engine":   engine.ID(),
			"state":    state.String(),
		}).Debug("Jitter buffer state changed")
	})

	reporter := av.NewStatsReporter(engine, cfg.Metrics.ReportInterval)
	reporter.OnReport(logStats)

	return &session{
		cfg:      cfg,
		details:  details,
		codec:    c,
		registry: registry,
		engine:   engine,
		reporter: reporter,
	}, nil
}

// newCodec creates the configured backend. Opus bandwidth is capped at
// what the device rate can carry.
func newCodec(name string, hw audio.Format) (audio.Codec, error) {
	switch name {
	case config.CodecPCM:
		return audio.NewPCMCodec(), nil
	case config.CodecOpus:
		cfg := codec.DefaultConfig()
		cfg.MaxBandwidth = codec.BandwidthForSampleRate(hw.SampleRate)
		c, err := codec.New(cfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("%w: unknown codec %q", config.ErrInvalid, name)
	}
}

func closeCodec(c audio.Codec) {
	if closer, ok := c.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "closeCodec",
				"error":    err.Error(),
			}).Warn("Failed to release codec")
		}
	}
}

// start begins audio processing, periodic stats and the HTTP endpoint.
func (s *session) start(send audio.SendFunc) error {
	if err := s.engine.Start(s.details, send); err != nil {
		return err
	}
	if err := s.reporter.Start(); err != nil {
		return err
	}
	if s.cfg.Metrics.Listen != "" {
		if err := s.serve(s.cfg.Metrics.Listen); err != nil {
			return err
		}
	}
	return nil
}

// handler serves Prometheus metrics and a JSON stats snapshot.
func (s *session) handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
	mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(s.engine.Stats()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return mux
}

func (s *session) serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.server = &http.Server{
		Handler:           s.handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logrus.WithFields(logrus.Fields{
		"function": "session.serve",
		"address":  ln.Addr().String(),
	}).Info("Serving metrics")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithFields(logrus.Fields{
				"function": "session.serve",
				"error":    err.Error(),
			}).Error("Metrics server failed")
		}
	}()
	return nil
}

// watch applies configuration edits to the running engine until ctx is
// done.
func (s *session) watch(ctx context.Context, loader *config.Loader) {
	err := loader.Watch(ctx, func(prev, next config.Config) {
		if err := next.Log.Apply(); err != nil {
			logrus.WithError(err).Warn("Ignoring log configuration")
		}
		restart, err := config.ApplyLive(s.engine, prev, next)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "session.watch",
				"error":    err.Error(),
			}).Warn("Failed to apply configuration change")
			return
		}
		if len(restart) > 0 {
			logrus.WithFields(logrus.Fields{
				"function": "session.watch",
				"sections": restart,
			}).Warn("Changes take effect after restart")
		}
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "session.watch",
			"error":    err.Error(),
		}).Warn("Configuration hot reload unavailable")
	}
}

// close stops everything start began. It is safe after a failed start.
func (s *session) close() {
	s.reporter.Stop()
	if err := s.engine.Stop(); err != nil && !errors.Is(err, av.ErrEngineNotRunning) {
		logrus.WithFields(logrus.Fields{
			"function": "session.close",
			"error":    err.Error(),
		}).Warn("Failed to stop engine")
	}
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.server.Shutdown(ctx)
	}
	closeCodec(s.codec)
}

// logStats is the periodic stats reporter callback.
func logStats(st av.Stats) {
	logrus.WithFields(logrus.Fields{
		"function":        "logStats",
		"engine":          st.EngineID,
		"uptime":          st.Uptime.Round(time.Second).String(),
		"buffer_state":    st.BufferState.String(),
		"buffer_fill":     fmt.Sprintf("%d/%d", st.BufferOccupancy, st.BufferCapacity),
		"render_ok":       st.Render.OK,
		"render_missing":  st.Render.Missing,
		"capture_ok":      st.Capture.OK,
		"forward_resyncs": st.Buffer.ForwardResyncs,
	}).Info("Engine stats")
}
