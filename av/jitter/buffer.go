package jitter

import (
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultCapacity is the slot count used when none is configured.
	DefaultCapacity = 10
	// MinCapacity is the smallest supported slot count.
	MinCapacity = 1
	// MaxCapacity is the largest gap an 8-bit sequence number can express
	// forward of the read cursor.
	MaxCapacity = 128
	// GainMargin is how far below capacity the buffer is considered
	// filled enough for steady playback.
	GainMargin = 2
)

// WriteResult summarizes what a Write did with its datagram.
type WriteResult struct {
	// Stored is the number of packets copied into slots.
	Stored int
	// ForwardResyncs counts packets that dragged the read cursor forward.
	ForwardResyncs int
	// BackwardResyncs counts packets that pulled the read cursor back.
	BackwardResyncs int
	// DroppedBytes counts trailing bytes that did not form a whole packet.
	DroppedBytes int
}

// Stats holds cumulative counters since construction.
type Stats struct {
	Writes          uint64
	PacketsStored   uint64
	Overwrites      uint64
	Reads           uint64
	Hits            uint64
	Misses          uint64
	ForwardResyncs  uint64
	BackwardResyncs uint64
	DroppedBytes    uint64
}

// Buffer is a sequence-indexed ring of fixed-size packet slots.
//
// All methods are safe for concurrent use. Read and Write hold the lock for
// a bounded number of steps and never allocate. State changes are published
// to the attached Notifier while the lock is held.
type Buffer struct {
	mu       sync.Mutex
	notifier *Notifier

	capacity  int
	blockSize int
	threshold int

	// storage holds capacity contiguous slots of blockSize bytes.
	storage []byte
	filled  []bool

	occupancy  int
	readIndex  int
	writeIndex int
	readSeq    uint8

	lastSeq uint8
	written bool

	state State
	stats Stats
}

// New creates a buffer with the given slot count and packet payload size.
// Capacity is clamped to [MinCapacity, MaxCapacity].
func New(capacity, blockSize int) *Buffer {
	b := &Buffer{}
	b.allocate(capacity, blockSize)

	logrus.WithFields(logrus.Fields{
		"function":   "jitter.New",
		"capacity":   b.capacity,
		"block_size": b.blockSize,
	}).Info("Jitter buffer created")

	return b
}

// ClampCapacity limits capacity to the supported range.
func ClampCapacity(capacity int) int {
	if capacity < MinCapacity {
		return MinCapacity
	}
	if capacity > MaxCapacity {
		return MaxCapacity
	}
	return capacity
}

func (b *Buffer) allocate(capacity, blockSize int) {
	if blockSize < 0 {
		blockSize = 0
	}
	b.capacity = ClampCapacity(capacity)
	b.blockSize = blockSize
	b.threshold = b.capacity - GainMargin
	if b.threshold < 1 {
		b.threshold = 1
	}
	b.storage = make([]byte, b.capacity*blockSize)
	b.filled = make([]bool, b.capacity)
	b.resetCursors()
}

func (b *Buffer) resetCursors() {
	for i := range b.filled {
		b.filled[i] = false
	}
	b.occupancy = 0
	b.readIndex = 0
	b.writeIndex = 0
	b.readSeq = 0
	b.lastSeq = 0
	b.written = false
	b.state = StateEmpty
}

// Reset clears every slot and cursor and sets the packet payload size.
// Storage is reused when the size is unchanged.
func (b *Buffer) Reset(blockSize int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if blockSize != b.blockSize {
		b.allocate(b.capacity, blockSize)
	} else {
		b.resetCursors()
	}
	b.publish()

	logrus.WithFields(logrus.Fields{
		"function":   "Buffer.Reset",
		"capacity":   b.capacity,
		"block_size": b.blockSize,
	}).Debug("Jitter buffer reset")
}

// ResizeTo reallocates the slot array and resets the buffer.
func (b *Buffer) ResizeTo(capacity, blockSize int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	old := b.capacity
	b.allocate(capacity, blockSize)
	b.publish()

	logrus.WithFields(logrus.Fields{
		"function":     "Buffer.ResizeTo",
		"old_capacity": old,
		"capacity":     b.capacity,
		"block_size":   b.blockSize,
	}).Info("Jitter buffer resized")
}

// Write stores every packet in data. A datagram is a run of packets, each
// blockSize payload bytes optionally followed by one sequence byte. When
// the datagram length is a multiple of blockSize+1 every packet is taken
// to carry a sequence byte. Otherwise, when it is a multiple of blockSize,
// packets are unsequenced and numbered after the last stored packet.
// Trailing bytes that do not form a whole packet are dropped.
func (b *Buffer) Write(data []byte) WriteResult {
	var res WriteResult
	if len(data) == 0 {
		return res
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.stats.Writes++
	if b.blockSize == 0 {
		res.DroppedBytes = len(data)
		b.stats.DroppedBytes += uint64(res.DroppedBytes)
		return res
	}

	stride, sequenced := b.framing(len(data))
	whole := len(data) / stride * stride
	res.DroppedBytes = len(data) - whole

	for off := 0; off < whole; off += stride {
		payload := data[off : off+b.blockSize]
		seq := b.lastSeq + 1
		if sequenced {
			seq = data[off+b.blockSize]
		} else if !b.written {
			seq = b.readSeq
		}
		b.place(seq, payload, &res)
	}

	b.stats.PacketsStored += uint64(res.Stored)
	b.stats.ForwardResyncs += uint64(res.ForwardResyncs)
	b.stats.BackwardResyncs += uint64(res.BackwardResyncs)
	b.stats.DroppedBytes += uint64(res.DroppedBytes)
	if res.Stored > 0 {
		b.state = afterWrite(b.state, res, b.occupancy, b.capacity, b.threshold)
		b.publish()
	}

	if logrus.IsLevelEnabled(logrus.TraceLevel) {
		logrus.WithFields(logrus.Fields{
			"function":         "Buffer.Write",
			"bytes":            len(data),
			"stored":           res.Stored,
			"forward_resyncs":  res.ForwardResyncs,
			"backward_resyncs": res.BackwardResyncs,
			"occupancy":        b.occupancy,
			"state":            b.state.String(),
		}).Trace("Datagram written")
	}

	return res
}

func (b *Buffer) framing(n int) (stride int, sequenced bool) {
	if n%(b.blockSize+1) == 0 {
		return b.blockSize + 1, true
	}
	if n%b.blockSize == 0 {
		return b.blockSize, false
	}
	return b.blockSize + 1, true
}

// place positions one packet relative to the read cursor.
func (b *Buffer) place(seq uint8, payload []byte, res *WriteResult) {
	diff := int(int8(seq - b.readSeq))

	switch {
	case diff < 0:
		for ; diff < 0; diff++ {
			b.readIndex = (b.readIndex + b.capacity - 1) % b.capacity
			b.clear(b.readIndex)
			b.readSeq--
		}
		b.writeIndex = b.readIndex
		res.BackwardResyncs++
	case diff >= b.capacity:
		for ; diff > b.capacity-1; diff-- {
			b.clear(b.readIndex)
			b.readIndex = (b.readIndex + 1) % b.capacity
			b.readSeq++
		}
		b.writeIndex = (b.readIndex + b.capacity - 1) % b.capacity
		res.ForwardResyncs++
	default:
		b.writeIndex = (b.readIndex + diff) % b.capacity
	}

	if b.filled[b.writeIndex] {
		b.stats.Overwrites++
	} else {
		b.filled[b.writeIndex] = true
		b.occupancy++
	}
	copy(b.slot(b.writeIndex), payload)
	b.lastSeq = seq
	b.written = true
	res.Stored++
}

func (b *Buffer) slot(i int) []byte {
	return b.storage[i*b.blockSize : (i+1)*b.blockSize]
}

func (b *Buffer) clear(i int) {
	if b.filled[i] {
		b.filled[i] = false
		b.occupancy--
	}
}

// Read consumes the slot under the read cursor and advances the cursor and
// the expected sequence number by one whether or not the slot was filled.
// On a hit the payload is copied into dst, which is grown only when its
// capacity is below the block size, and the copy is returned.
func (b *Buffer) Read(dst []byte) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stats.Reads++
	hit := b.filled[b.readIndex]
	before := b.occupancy
	if hit {
		if cap(dst) < b.blockSize {
			dst = make([]byte, b.blockSize)
		}
		dst = dst[:b.blockSize]
		copy(dst, b.slot(b.readIndex))
		b.clear(b.readIndex)
		b.stats.Hits++
	} else {
		dst = nil
		b.stats.Misses++
	}

	b.readIndex = (b.readIndex + 1) % b.capacity
	b.readSeq++
	b.state = afterRead(b.state, hit, b.written, before, b.threshold)
	b.publish()

	return dst, hit
}

// SetNotifier attaches n, which may be nil, and publishes the current state
// to it.
func (b *Buffer) SetNotifier(n *Notifier) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notifier = n
	b.publish()
}

// publish runs with mu held, which orders notifications the same way as the
// state transitions they report.
func (b *Buffer) publish() {
	if b.notifier != nil {
		b.notifier.Publish(b.state)
	}
}

// State returns the current buffer health.
func (b *Buffer) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Occupancy returns the number of filled slots.
func (b *Buffer) Occupancy() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.occupancy
}

// Capacity returns the slot count.
func (b *Buffer) Capacity() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity
}

// BlockSize returns the packet payload size in bytes.
func (b *Buffer) BlockSize() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.blockSize
}

// ExpectedSequence returns the sequence number the next Read consumes.
func (b *Buffer) ExpectedSequence() uint8 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readSeq
}

// Stats returns a snapshot of the cumulative counters.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}
