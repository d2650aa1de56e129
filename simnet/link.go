package simnet

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrInvalidConfig is returned for link settings out of range.
var ErrInvalidConfig = errors.New("invalid link configuration")

// reorderHold is how many extra ticks a reordered packet waits, enough for
// the packet sent after it to overtake.
const reorderHold = 2

// LinkConfig describes the impairments of a simulated path.
type LinkConfig struct {
	// LossRate is the probability in [0, 1] that a packet is dropped.
	LossRate float64
	// DuplicateRate is the probability in [0, 1] that a delivered packet
	// arrives twice.
	DuplicateRate float64
	// ReorderRate is the probability in [0, 1] that a packet is held back
	// behind its successor.
	ReorderRate float64
	// DelayTicks is the fixed one-way delay.
	DelayTicks int
	// JitterTicks is the maximum extra random delay.
	JitterTicks int
	// Seed makes the impairment pattern reproducible.
	Seed uint64
}

// Validate checks the configuration ranges.
func (c LinkConfig) Validate() error {
	rates := []struct {
		name string
		p    float64
	}{
		{"loss rate", c.LossRate},
		{"duplicate rate", c.DuplicateRate},
		{"reorder rate", c.ReorderRate},
	}
	for _, r := range rates {
		if r.p < 0 || r.p > 1 {
			return fmt.Errorf("%w: %s %v outside [0, 1]", ErrInvalidConfig, r.name, r.p)
		}
	}
	if c.DelayTicks < 0 || c.JitterTicks < 0 {
		return fmt.Errorf("%w: negative delay", ErrInvalidConfig)
	}
	return nil
}

// DeliveryRecord is one packet's fate.
type DeliveryRecord struct {
	// Index counts packets in Send order from zero.
	Index      uint64
	PacketSize int
	SentTick   int64
	// DeliveredTick is -1 while in flight or when lost.
	DeliveredTick int64
	Lost          bool
	Duplicated    bool
	Reordered     bool
}

// Stats summarizes link activity.
type Stats struct {
	Sent       uint64
	Delivered  uint64
	Lost       uint64
	Duplicated uint64
	Reordered  uint64
	InFlight   int
}

type inflight struct {
	due    int64
	order  uint64
	record int
	data   []byte
}

// Link is a simulated unreliable datagram path.
type Link struct {
	cfg     LinkConfig
	deliver func([]byte)

	mu      sync.Mutex
	rng     *rand.Rand
	tick    int64
	order   uint64
	pending []inflight
	log     []DeliveryRecord
	stats   Stats
}

// NewLink creates a link delivering to deliver. The callback owns the
// slice it receives.
func NewLink(cfg LinkConfig, deliver func([]byte)) (*Link, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deliver == nil {
		deliver = func([]byte) {}
	}

	logrus.WithFields(logrus.Fields{
		"function":     "simnet.NewLink",
		"loss_rate":    cfg.LossRate,
		"reorder_rate": cfg.ReorderRate,
		"dup_rate":     cfg.DuplicateRate,
		"delay_ticks":  cfg.DelayTicks,
		"jitter_ticks": cfg.JitterTicks,
		"seed":         cfg.Seed,
	}).Info("Creating simulated link")

	return &Link{
		cfg:     cfg,
		deliver: deliver,
		rng:     rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
	}, nil
}

// Send schedules a copy of packet for delivery.
func (l *Link) Send(packet []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := DeliveryRecord{
		Index:         l.stats.Sent,
		PacketSize:    len(packet),
		SentTick:      l.tick,
		DeliveredTick: -1,
	}
	l.stats.Sent++

	if l.chance(l.cfg.LossRate) {
		rec.Lost = true
		l.stats.Lost++
		l.log = append(l.log, rec)
		return
	}

	due := l.tick + int64(l.cfg.DelayTicks)
	if l.cfg.JitterTicks > 0 {
		due += int64(l.rng.IntN(l.cfg.JitterTicks + 1))
	}
	if l.chance(l.cfg.ReorderRate) {
		due += reorderHold
		rec.Reordered = true
		l.stats.Reordered++
	}
	copies := 1
	if l.chance(l.cfg.DuplicateRate) {
		copies = 2
		rec.Duplicated = true
		l.stats.Duplicated++
	}

	l.log = append(l.log, rec)
	idx := len(l.log) - 1
	for i := 0; i < copies; i++ {
		l.pending = append(l.pending, inflight{
			due:    due,
			order:  l.order,
			record: idx,
			data:   append([]byte(nil), packet...),
		})
		l.order++
	}
}

func (l *Link) chance(p float64) bool {
	return p > 0 && l.rng.Float64() < p
}

// Tick advances simulated time by one step and delivers every packet that
// became due, in due-then-send order. It returns how many were delivered.
func (l *Link) Tick() int {
	l.mu.Lock()
	l.tick++
	due := l.takeDue(l.tick)
	l.mu.Unlock()

	for _, p := range due {
		l.deliver(p)
	}
	return len(due)
}

// Flush delivers everything still in flight regardless of delay.
func (l *Link) Flush() int {
	l.mu.Lock()
	due := l.takeDue(1<<62 - 1)
	l.mu.Unlock()

	for _, p := range due {
		l.deliver(p)
	}
	return len(due)
}

// takeDue removes and returns packets due at or before now. Callers hold mu.
func (l *Link) takeDue(now int64) [][]byte {
	if len(l.pending) == 0 {
		return nil
	}
	sort.SliceStable(l.pending, func(i, j int) bool {
		if l.pending[i].due != l.pending[j].due {
			return l.pending[i].due < l.pending[j].due
		}
		return l.pending[i].order < l.pending[j].order
	})

	n := 0
	for n < len(l.pending) && l.pending[n].due <= now {
		n++
	}
	if n == 0 {
		return nil
	}

	out := make([][]byte, n)
	for i, p := range l.pending[:n] {
		out[i] = p.data
		if p.record >= 0 && l.log[p.record].DeliveredTick < 0 {
			l.log[p.record].DeliveredTick = l.tick
		}
		l.stats.Delivered++
	}
	l.pending = append(l.pending[:0], l.pending[n:]...)
	return out
}

// Now returns the current tick.
func (l *Link) Now() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tick
}

// Stats returns a snapshot of link counters.
func (l *Link) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stats
	s.InFlight = len(l.pending)
	return s
}

// DeliveryLog returns a copy of the delivery log.
func (l *Link) DeliveryLog() []DeliveryRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	log := make([]DeliveryRecord, len(l.log))
	copy(log, l.log)
	return log
}

// ClearDeliveryLog empties the log. Packets still in flight are kept but
// no longer recorded.
func (l *Link) ClearDeliveryLog() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.log = l.log[:0]
	kept := l.pending[:0]
	for _, p := range l.pending {
		p.record = -1
		kept = append(kept, p)
	}
	l.pending = kept

	logrus.WithFields(logrus.Fields{
		"function": "Link.ClearDeliveryLog",
	}).Debug("Simulation delivery log cleared")
}
