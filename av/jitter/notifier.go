package jitter

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Notifier fans buffer state changes out to subscribers.
//
// A Buffer publishes to its notifier with the buffer lock held, from
// whichever goroutine changed it, so Publish runs on the render thread as
// well as on network and configuration goroutines. It never
// blocks, never allocates and only forwards a state when it differs from the
// last one published. Subscribers that fall behind miss intermediate states.
type Notifier struct {
	mu   sync.RWMutex
	subs []chan State

	last    atomic.Int32
	dropped atomic.Uint64
}

// NewNotifier creates a notifier with no subscribers.
func NewNotifier() *Notifier {
	n := &Notifier{}
	n.last.Store(-1)
	return n
}

// Publish forwards s to every subscriber if it differs from the previously
// published state. It reports whether s was a change.
func (n *Notifier) Publish(s State) bool {
	if n.last.Swap(int32(s)) == int32(s) {
		return false
	}
	// A subscriber list change holds the lock only briefly; rather than
	// wait for it, forget s so the next Publish forwards it again.
	if !n.mu.TryRLock() {
		n.last.Store(-1)
		return false
	}
	defer n.mu.RUnlock()
	for _, ch := range n.subs {
		select {
		case ch <- s:
		default:
			n.dropped.Add(1)
		}
	}
	return true
}

// Last returns the most recently published state and whether any state has
// been published.
func (n *Notifier) Last() (State, bool) {
	v := n.last.Load()
	if v < 0 {
		return StateEmpty, false
	}
	return State(v), true
}

// Forget clears the de-duplication memory so the next Publish is always
// forwarded.
func (n *Notifier) Forget() {
	n.last.Store(-1)
}

// Dropped returns how many notifications were discarded because a
// subscriber channel was full.
func (n *Notifier) Dropped() uint64 {
	return n.dropped.Load()
}

// Subscribe registers a new subscriber channel with the given buffer size
// (at least 1). The returned cancel function unregisters and closes it.
func (n *Notifier) Subscribe(size int) (<-chan State, func()) {
	if size < 1 {
		size = 1
	}
	ch := make(chan State, size)

	n.mu.Lock()
	n.subs = append(n.subs, ch)
	count := len(n.subs)
	n.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":    "Notifier.Subscribe",
		"buffer_size": size,
		"subscribers": count,
	}).Debug("State subscriber registered")

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			for i, c := range n.subs {
				if c == ch {
					n.subs = append(n.subs[:i], n.subs[i+1:]...)
					break
				}
			}
			close(ch)
		})
	}
	return ch, cancel
}
