// Package jitter implements the receive-side jitter buffer.
//
// The buffer is a fixed-capacity ring of packet slots indexed by an 8-bit
// wrapping sequence number. Packets arriving from the network are written at
// the position their sequence number implies relative to the next sequence
// the render thread expects, and the render thread drains exactly one slot
// per callback whether or not that slot was filled.
//
// Writers never fail. A sequence number that falls behind the read cursor
// pulls the cursor back to it, and a sequence number too far ahead drags the
// cursor forward until the packet fits, discarding the oldest slots.
//
// Basic usage:
//
//	buf := jitter.New(jitter.DefaultCapacity, packetSize)
//	buf.Write(datagram)            // network goroutine
//	payload, ok := buf.Read(dst)   // render callback
//
// Buffer health is exposed as a State, which is purely observational.
package jitter
