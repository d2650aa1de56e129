package jitter

// State describes the fill health of a Buffer.
type State uint8

const (
	// StateEmpty means nothing has been written since the last reset.
	StateEmpty State = iota
	// StateUnderrun means the buffer is below its fill threshold or the
	// last read found no packet.
	StateUnderrun
	// StateNormal means the buffer holds enough packets to absorb jitter.
	StateNormal
	// StateFull means every slot is occupied.
	StateFull
	// StateOverrun means a packet arrived too far ahead and older slots
	// were discarded to make room.
	StateOverrun
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateUnderrun:
		return "underrun"
	case StateNormal:
		return "normal"
	case StateFull:
		return "full"
	case StateOverrun:
		return "overrun"
	default:
		return "unknown"
	}
}

// afterWrite derives the next state from a completed write. An empty buffer
// counts as underrun, so one datagram carrying enough packets can fill it
// straight to StateNormal or StateFull.
func afterWrite(current State, res WriteResult, occupancy, capacity, threshold int) State {
	switch {
	case res.ForwardResyncs > 0:
		return StateOverrun
	case res.BackwardResyncs > 0:
		return StateUnderrun
	}
	if current == StateEmpty {
		current = StateUnderrun
	}
	switch {
	case occupancy >= capacity:
		return StateFull
	case occupancy >= threshold:
		return StateNormal
	case current == StateNormal || current == StateFull:
		return StateNormal
	default:
		return StateUnderrun
	}
}

// afterRead derives the next state from a completed read. occupancy is the
// count before the read consumed its slot.
func afterRead(current State, hit, written bool, occupancy, threshold int) State {
	if !hit {
		if current == StateEmpty && !written {
			return StateEmpty
		}
		return StateUnderrun
	}
	switch current {
	case StateFull, StateOverrun, StateNormal:
		return StateNormal
	default:
		if occupancy >= threshold {
			return StateNormal
		}
		return StateUnderrun
	}
}
