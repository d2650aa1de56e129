// Package audio implements the real-time encode and decode pipelines that sit
// between the hardware audio callbacks and the network.
//
// # Architecture Overview
//
//	Capture:  hardware PCM → Converter → Codec.Encode → sequence byte → SendFunc
//	Playback: hardware PCM ← Converter ← Codec.Decode ← jitter.Buffer ← network
//
// # Core Components
//
// ## TransportDetails
//
// Describes how one network packet is built: codec variant, packet size,
// the number of codec sub-frames per packet and the PCM frame count they
// cover. Presets mirror the usual quality tiers:
//
//	details := audio.StereoNormal()
//	if err := details.Validate(); err != nil { ... }
//
// ## Sender and Receiver
//
// Sender.Capture runs once per capture callback and always emits exactly one
// packet unless a reconfiguration is in progress. Receiver.Render runs once
// per render callback and always fills the requested frame count, with
// silence when a packet is missing or cannot be decoded.
//
//	sender, _ := audio.NewSender(codec, hw, details, send)
//	receiver, _ := audio.NewReceiver(codec, buf, hw, details)
//
// ## Converter and Resampler
//
// Hardware that does not run at the canonical 48 kHz stereo format is
// converted with channel mapping and linear interpolation resampling into
// preallocated buffers.
//
// # Thread Safety
//
// Capture and Render take a per-pipeline lock with TryLock so that a
// concurrent Reconfigure never blocks the real-time thread; the callback
// outputs silence or skips the packet instead. Neither call allocates once
// the pipeline is configured.
//
// # Dependencies
//
//   - github.com/sirupsen/logrus: Structured logging
//   - golang.org/x/time/rate: Gating of failure logs on real-time paths
package audio
