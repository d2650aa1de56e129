package jitter

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// packet builds a payload of blockSize bytes filled with fill, followed by
// the sequence byte.
func packet(blockSize int, fill byte, seq uint8) []byte {
	p := bytes.Repeat([]byte{fill}, blockSize)
	return append(p, seq)
}

func TestResetLeavesBufferEmpty(t *testing.T) {
	tests := []struct {
		name      string
		capacity  int
		blockSize int
	}{
		{"single_slot", 1, 8},
		{"default", DefaultCapacity, 64},
		{"max", MaxCapacity, 160},
		{"zero_block", 4, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := New(tt.capacity, 16)
			if tt.blockSize > 0 {
				buf.Write(packet(16, 1, 0))
			}
			buf.Reset(tt.blockSize)

			assert.Equal(t, StateEmpty, buf.State())
			assert.Equal(t, 0, buf.Occupancy())
			assert.Equal(t, tt.blockSize, buf.BlockSize())

			data, ok := buf.Read(nil)
			assert.False(t, ok)
			assert.Nil(t, data)
			assert.Equal(t, StateEmpty, buf.State(), "a miss before any write keeps the buffer empty")
		})
	}
}

func TestCapacityClamped(t *testing.T) {
	assert.Equal(t, MinCapacity, New(0, 4).Capacity())
	assert.Equal(t, MinCapacity, New(-3, 4).Capacity())
	assert.Equal(t, MaxCapacity, New(500, 4).Capacity())
	assert.Equal(t, 20, New(20, 4).Capacity())
}

func TestContiguousFillAndDrain(t *testing.T) {
	const capacity, blockSize = 8, 64
	buf := New(capacity, blockSize)

	var states []State
	for seq := 0; seq < capacity; seq++ {
		res := buf.Write(packet(blockSize, byte(seq+1), uint8(seq)))
		require.Equal(t, 1, res.Stored)
		assert.Zero(t, res.ForwardResyncs)
		assert.Zero(t, res.BackwardResyncs)
		states = append(states, buf.State())
	}

	assert.Equal(t, StateUnderrun, states[0])
	assert.Equal(t, StateUnderrun, states[capacity-GainMargin-2])
	assert.Equal(t, StateNormal, states[capacity-GainMargin-1])
	assert.Equal(t, StateFull, states[capacity-1])

	dst := make([]byte, blockSize)
	for seq := 0; seq < capacity; seq++ {
		data, ok := buf.Read(dst)
		require.True(t, ok, "read %d", seq)
		assert.Equal(t, bytes.Repeat([]byte{byte(seq + 1)}, blockSize), data)
		assert.Equal(t, StateNormal, buf.State())
	}

	data, ok := buf.Read(dst)
	assert.False(t, ok)
	assert.Nil(t, data)
	assert.Equal(t, StateUnderrun, buf.State())

	stats := buf.Stats()
	assert.Equal(t, uint64(capacity+1), stats.Reads)
	assert.Equal(t, uint64(capacity), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestReadDoesNotAllocateWithSizedDestination(t *testing.T) {
	buf := New(4, 32)
	dst := make([]byte, 32)
	buf.Write(packet(32, 7, 0))

	allocs := testing.AllocsPerRun(100, func() {
		buf.Write(packet32)
		buf.Read(dst)
	})
	assert.Zero(t, allocs)
}

var packet32 = packet(32, 9, 0)

func TestSequenceWraparound(t *testing.T) {
	const blockSize = 4
	buf := New(DefaultCapacity, blockSize)

	// Advance the read cursor to 254 with misses.
	for i := 0; i < 254; i++ {
		buf.Read(nil)
	}
	require.Equal(t, uint8(254), buf.ExpectedSequence())

	for i, seq := range []uint8{254, 255, 0, 1} {
		res := buf.Write(packet(blockSize, byte(i+1), seq))
		assert.Zero(t, res.ForwardResyncs, "seq %d", seq)
		assert.Zero(t, res.BackwardResyncs, "seq %d", seq)
	}

	for i, seq := range []uint8{254, 255, 0, 1} {
		data, ok := buf.Read(nil)
		require.True(t, ok, "seq %d", seq)
		assert.Equal(t, bytes.Repeat([]byte{byte(i + 1)}, blockSize), data)
	}
}

func TestForwardResync(t *testing.T) {
	const capacity, blockSize = 8, 4
	tests := []struct {
		name        string
		seq         uint8
		wantResync  bool
		wantSkipped int
	}{
		{"last_representable_slot", capacity - 1, false, 0},
		{"one_past_capacity", capacity, true, 1},
		{"far_ahead", 100, true, 100 - (capacity - 1)},
		{"max_forward_gap", 127, true, 127 - (capacity - 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := New(capacity, blockSize)
			res := buf.Write(packet(blockSize, 0xAB, tt.seq))

			if !tt.wantResync {
				assert.Zero(t, res.ForwardResyncs)
				assert.Equal(t, uint8(0), buf.ExpectedSequence())
				return
			}

			assert.Equal(t, 1, res.ForwardResyncs)
			assert.Equal(t, StateOverrun, buf.State())
			assert.Equal(t, uint8(tt.wantSkipped), buf.ExpectedSequence())

			// The packet sits in the newest slot: capacity-1 reads from now.
			for i := 0; i < capacity-1; i++ {
				_, ok := buf.Read(nil)
				assert.False(t, ok, "read %d", i)
			}
			data, ok := buf.Read(nil)
			require.True(t, ok)
			assert.Equal(t, bytes.Repeat([]byte{0xAB}, blockSize), data)
		})
	}
}

func TestForwardResyncDiscardsOldestSlots(t *testing.T) {
	const capacity, blockSize = 4, 2
	buf := New(capacity, blockSize)
	for seq := 0; seq < capacity; seq++ {
		buf.Write(packet(blockSize, byte(seq+1), uint8(seq)))
	}
	require.Equal(t, capacity, buf.Occupancy())

	// seq 5 needs the cursor at 2: packets 0 and 1 are discarded.
	res := buf.Write(packet(blockSize, 6, 5))
	assert.Equal(t, 1, res.ForwardResyncs)
	assert.Equal(t, uint8(2), buf.ExpectedSequence())

	want := []byte{3, 4, 0, 6}
	for i, fill := range want {
		data, ok := buf.Read(nil)
		if fill == 0 {
			assert.False(t, ok, "read %d", i)
			continue
		}
		require.True(t, ok, "read %d", i)
		assert.Equal(t, bytes.Repeat([]byte{fill}, blockSize), data)
	}
}

func TestBackwardResync(t *testing.T) {
	const capacity, blockSize = 16, 8
	buf := New(capacity, blockSize)
	for i := 0; i < 50; i++ {
		buf.Read(nil)
	}
	require.Equal(t, uint8(50), buf.ExpectedSequence())

	res := buf.Write(packet(blockSize, 40, 40))
	assert.Equal(t, 1, res.BackwardResyncs)
	assert.Equal(t, StateUnderrun, buf.State())
	assert.Equal(t, uint8(40), buf.ExpectedSequence())

	data, ok := buf.Read(nil)
	require.True(t, ok)
	assert.Equal(t, bytes.Repeat([]byte{40}, blockSize), data)
}

func TestDuplicatePacketOverwrites(t *testing.T) {
	buf := New(4, 2)
	buf.Write(packet(2, 1, 0))
	buf.Write(packet(2, 2, 0))

	assert.Equal(t, 1, buf.Occupancy())
	assert.Equal(t, uint64(1), buf.Stats().Overwrites)

	data, ok := buf.Read(nil)
	require.True(t, ok)
	assert.Equal(t, []byte{2, 2}, data)
}

func TestReorderedPacketsReadInSequence(t *testing.T) {
	buf := New(8, 1)
	for _, seq := range []uint8{2, 0, 3, 1} {
		buf.Write([]byte{seq + 10, seq})
	}
	for seq := 0; seq < 4; seq++ {
		data, ok := buf.Read(nil)
		require.True(t, ok)
		assert.Equal(t, []byte{byte(seq + 10)}, data)
	}
}

func TestWriteFraming(t *testing.T) {
	const blockSize = 4
	tests := []struct {
		name        string
		data        []byte
		wantStored  int
		wantDropped int
	}{
		{"empty", nil, 0, 0},
		{"single_sequenced", packet(blockSize, 1, 0), 1, 0},
		{"two_sequenced", append(packet(blockSize, 1, 0), packet(blockSize, 2, 1)...), 2, 0},
		{"unsequenced_pair", bytes.Repeat([]byte{5}, 2*blockSize), 2, 0},
		{"trailing_partial", append(packet(blockSize, 1, 0), 1, 2), 1, 2},
		{"short_fragment", []byte{1, 2, 3}, 0, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := New(8, blockSize)
			res := buf.Write(tt.data)
			assert.Equal(t, tt.wantStored, res.Stored)
			assert.Equal(t, tt.wantDropped, res.DroppedBytes)
			assert.Equal(t, tt.wantStored, buf.Occupancy())
		})
	}
}

func TestUnsequencedPacketsFollowLastWrite(t *testing.T) {
	buf := New(8, 2)
	buf.Write(packet(2, 1, 0))
	buf.Write([]byte{2, 2})
	buf.Write([]byte{3, 3})

	for fill := byte(1); fill <= 3; fill++ {
		data, ok := buf.Read(nil)
		require.True(t, ok)
		assert.Equal(t, []byte{fill, fill}, data)
	}
}

func TestResizeTo(t *testing.T) {
	buf := New(4, 2)
	buf.Write(packet(2, 1, 0))

	buf.ResizeTo(12, 6)
	assert.Equal(t, 12, buf.Capacity())
	assert.Equal(t, 6, buf.BlockSize())
	assert.Equal(t, StateEmpty, buf.State())
	assert.Equal(t, 0, buf.Occupancy())
	_, ok := buf.Read(nil)
	assert.False(t, ok)
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateEmpty, "empty"},
		{StateUnderrun, "underrun"},
		{StateNormal, "normal"},
		{StateFull, "full"},
		{StateOverrun, "overrun"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.String())
		})
	}
}

func TestConcurrentReadWrite(t *testing.T) {
	buf := New(DefaultCapacity, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 2000; i++ {
			buf.Write(packet(16, byte(i), uint8(i)))
		}
	}()
	for i := 0; i < 2000; i++ {
		buf.Read(nil)
	}
	<-done

	stats := buf.Stats()
	assert.Equal(t, uint64(2000), stats.Reads)
	assert.Equal(t, uint64(2000), stats.Writes)
	assert.LessOrEqual(t, buf.Occupancy(), DefaultCapacity)
}

func TestSingleDatagramStateFromOccupancy(t *testing.T) {
	tests := []struct {
		name      string
		capacity  int
		blockSize int
		chunks    int
		want      State
	}{
		{"fills_every_slot", 8, 4, 8, StateFull},
		{"reaches_threshold", 8, 4, 8 - GainMargin, StateNormal},
		{"below_threshold", 8, 4, 8 - GainMargin - 1, StateUnderrun},
		{"single_slot", 1, 4, 1, StateFull},
		{"single_packet", 8, 4, 1, StateUnderrun},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := New(tt.capacity, tt.blockSize)
			var data []byte
			for seq := 0; seq < tt.chunks; seq++ {
				data = append(data, packet(tt.blockSize, byte(seq+1), uint8(seq))...)
			}

			res := buf.Write(data)
			require.Equal(t, tt.chunks, res.Stored)
			assert.Equal(t, tt.chunks, buf.Occupancy())
			assert.Equal(t, tt.want, buf.State())
		})
	}
}

func TestAttachedNotifierReceivesTransitions(t *testing.T) {
	buf := New(4, 2)
	n := NewNotifier()
	ch, cancel := n.Subscribe(16)
	defer cancel()
	buf.SetNotifier(n)

	buf.Write(packet(2, 1, 0))
	buf.Write(packet(2, 2, 1))
	buf.Read(nil)
	buf.Read(nil)
	buf.Read(nil)
	buf.Reset(2)
	buf.Write(packet(2, 3, 9))
	buf.ResizeTo(8, 2)

	want := []State{
		StateEmpty,
		StateUnderrun,
		StateNormal,
		StateUnderrun,
		StateEmpty,
		StateOverrun,
		StateEmpty,
	}
	require.Len(t, ch, len(want))
	for i, s := range want {
		assert.Equal(t, s, <-ch, "notification %d", i)
	}
}

func TestAttachedNotifierMatchesStateAfterConcurrentUse(t *testing.T) {
	buf := New(DefaultCapacity, 8)
	n := NewNotifier()
	buf.SetNotifier(n)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 3000; i++ {
			buf.Write(packet(8, byte(i), uint8(i*3)))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 3000; i++ {
			buf.Read(nil)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			buf.Reset(8)
		}
	}()
	wg.Wait()

	last, ok := n.Last()
	require.True(t, ok)
	assert.Equal(t, buf.State(), last)
}
