// Package simnet provides an in-memory network link and a period-driven
// harness for exercising the audio engine without sockets or hardware.
//
// # Overview
//
// A Link carries datagrams from a sender to a deliver callback, one
// scheduling tick at a time. It can lose, duplicate, delay and reorder
// packets the way a congested UDP path does, and it is fully deterministic
// for a given seed, so tests and the simulate command reproduce exactly.
//
// # Usage
//
//	link, err := simnet.NewLink(simnet.LinkConfig{
//	    LossRate:    0.02,
//	    ReorderRate: 0.01,
//	    DelayTicks:  2,
//	    JitterTicks: 1,
//	    Seed:        42,
//	}, engine.HandleAudioFromNetwork)
//
//	engine.Start(audio.StereoNormal(), link.Send)
//
//	h := simnet.NewHarness(engine, link, details.FrameSize, audio.CanonicalFormat)
//	h.Source = simnet.Sine(440, audio.CanonicalFormat)
//	err = h.Run(ctx, 2000, 0)
//
// # Delivery Logs
//
// Every packet handed to Send is recorded in a DeliveryRecord with the tick
// it was sent and delivered, or whether it was lost. Use DeliveryLog to
// inspect it and ClearDeliveryLog to reset between runs.
//
// # Thread Safety
//
// All methods on Link are safe for concurrent use. The deliver callback
// runs without the link lock held, so it may call back into Send.
package simnet
