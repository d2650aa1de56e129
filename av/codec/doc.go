// Package codec adapts libopus to the audio.Codec interface.
//
// Opus holds two encoder/decoder pairs, one per audio.CodecVariant: 2.5 ms
// frames for the low-delay variant and 5 ms frames for the regular one.
// Both run at 48 kHz stereo with variable bitrate disabled, so every
// sub-frame compresses to exactly the size the transport details ask for,
// and with a fixed packet loss percentage that keeps the encoder's loss
// resilience on.
//
//	c, err := codec.New(codec.DefaultConfig())
//	if err != nil { ... }
//	defer c.Close()
//	_ = c.Configure(audio.StereoNormal())
//
// Decoding uses the cgo binding gopkg.in/hraban/opus.v2. The encoders call
// libopus through a small cgo shim of their own because the binding cannot
// switch variable bitrate off. Bandwidth is reported with the
// github.com/pion/opus Bandwidth type.
package codec
