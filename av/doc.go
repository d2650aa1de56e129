// Package av implements the real-time audio engine of a low-latency network
// music client.
//
// The engine sits between the audio hardware and the network. Captured PCM
// is encoded into fixed-size packets and handed to a send function;
// datagrams from the peer are placed in a jitter buffer by sequence number
// and drained, one packet per render callback, through the decoder to the
// hardware output. Both directions degrade to silence rather than fail.
//
// # Architecture
//
// The av package consists of several integrated subsystems:
//
//   - Engine: Owns the jitter buffer, codec and pipelines, and the lifecycle
//   - Options: Construction settings with defaults and validation
//   - Metrics: Prometheus collectors registered on a caller-supplied registry
//   - StatsReporter: Periodic snapshots of Stats for logging or dashboards
//
// # Sub-Packages
//
//   - av/jitter: Sequence-indexed jitter buffer and state notifications
//   - av/audio: Transport details, format conversion and the pipelines
//   - av/codec: libopus codec adapter
//   - av/device: Duplex hardware driver built on miniaudio
//
// # Engine Usage
//
//	codec, err := codec.New(codec.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer codec.Close()
//
//	opts := av.NewOptions()
//	opts.Driver = device.NewDuplex(device.DefaultConfig())
//	opts.Registerer = prometheus.DefaultRegisterer
//
//	engine, err := av.New(opts, codec)
//	if err != nil {
//	    return err
//	}
//	if err := engine.Start(audio.StereoNormal(), conn.Send); err != nil {
//	    return err
//	}
//	defer engine.Stop()
//
//	// network receive goroutine
//	engine.HandleAudioFromNetwork(datagram)
//
// # Live Reconfiguration
//
//	engine.SetNetworkBufferSize(16)
//	engine.SetTransportProperties(audio.LowDelayNormal())
//	engine.MuteInput(false)
//
// Configuration failures are returned as *ConfigError wrapping one of the
// sentinel errors, so callers can use errors.As and errors.Is. Failures on
// the real-time threads are never returned; they are counted in Stats and
// Metrics and replaced with silence.
//
// # Buffer Health
//
//	engine.OnBufferStateChange(func(s av.BufferState) {
//	    ui.SetBufferIndicator(s.String())
//	})
//
// The engine publishes a state only when it changes.
//
// # Thread Safety
//
// ProcessCapture, ProcessRender and HandleAudioFromNetwork never take the
// engine lock and never allocate once started. Configuration methods
// serialize on the engine lock and may be called from any goroutine.
package av
