package simnet

import (
	"encoding/binary"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collector records delivered packets.
type collector struct {
	mu      sync.Mutex
	packets [][]byte
}

func (c *collector) deliver(p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.packets = append(c.packets, p)
}

func (c *collector) indices() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uint32, len(c.packets))
	for i, p := range c.packets {
		out[i] = binary.BigEndian.Uint32(p)
	}
	return out
}

func numbered(i int) []byte {
	p := make([]byte, 8)
	binary.BigEndian.PutUint32(p, uint32(i))
	return p
}

func TestLinkConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     LinkConfig
		wantErr bool
	}{
		{"perfect", LinkConfig{}, false},
		{"lossy", LinkConfig{LossRate: 0.5, ReorderRate: 0.1, DuplicateRate: 1, DelayTicks: 3, JitterTicks: 2}, false},
		{"negative loss", LinkConfig{LossRate: -0.1}, true},
		{"reorder above one", LinkConfig{ReorderRate: 1.5}, true},
		{"negative delay", LinkConfig{DelayTicks: -1}, true},
		{"negative jitter", LinkConfig{JitterTicks: -2}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLink(tt.cfg, nil)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestLinkPerfectDeliveryWithDelay(t *testing.T) {
	c := &collector{}
	link, err := NewLink(LinkConfig{DelayTicks: 2}, c.deliver)
	require.NoError(t, err)

	link.Send(numbered(0))
	link.Send(numbered(1))
	assert.Equal(t, 0, link.Tick())
	assert.Equal(t, 2, link.Tick())
	assert.Equal(t, []uint32{0, 1}, c.indices())

	log := link.DeliveryLog()
	require.Len(t, log, 2)
	assert.Equal(t, int64(0), log[0].SentTick)
	assert.Equal(t, int64(2), log[0].DeliveredTick)
	assert.Equal(t, 8, log[1].PacketSize)

	st := link.Stats()
	assert.Equal(t, uint64(2), st.Sent)
	assert.Equal(t, uint64(2), st.Delivered)
	assert.Zero(t, st.InFlight)
}

func TestLinkCopiesPackets(t *testing.T) {
	c := &collector{}
	link, err := NewLink(LinkConfig{}, c.deliver)
	require.NoError(t, err)

	buf := numbered(7)
	link.Send(buf)
	buf[3] = 99
	link.Tick()
	assert.Equal(t, []uint32{7}, c.indices())
}

func TestLinkTotalLoss(t *testing.T) {
	c := &collector{}
	link, err := NewLink(LinkConfig{LossRate: 1}, c.deliver)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		link.Send(numbered(i))
		link.Tick()
	}
	assert.Empty(t, c.indices())

	st := link.Stats()
	assert.Equal(t, uint64(20), st.Lost)
	for _, rec := range link.DeliveryLog() {
		assert.True(t, rec.Lost)
		assert.Equal(t, int64(-1), rec.DeliveredTick)
	}
}

func TestLinkDuplicates(t *testing.T) {
	c := &collector{}
	link, err := NewLink(LinkConfig{DuplicateRate: 1}, c.deliver)
	require.NoError(t, err)

	link.Send(numbered(3))
	link.Tick()
	assert.Equal(t, []uint32{3, 3}, c.indices())
	assert.Equal(t, uint64(1), link.Stats().Duplicated)
	assert.True(t, link.DeliveryLog()[0].Duplicated)
}

func TestLinkReorders(t *testing.T) {
	c := &collector{}
	link, err := NewLink(LinkConfig{ReorderRate: 0.5, Seed: 7}, c.deliver)
	require.NoError(t, err)

	const n = 200
	for i := 0; i < n; i++ {
		link.Send(numbered(i))
		link.Tick()
	}
	link.Flush()

	got := c.indices()
	require.Len(t, got, n)
	outOfOrder := 0
	for i := 1; i < len(got); i++ {
		if got[i] < got[i-1] {
			outOfOrder++
		}
	}
	assert.Positive(t, outOfOrder)
	assert.Positive(t, link.Stats().Reordered)
}

func TestLinkDeterministicForSeed(t *testing.T) {
	run := func(seed uint64) []DeliveryRecord {
		link, err := NewLink(LinkConfig{LossRate: 0.3, JitterTicks: 3, ReorderRate: 0.1, Seed: seed}, nil)
		require.NoError(t, err)
		for i := 0; i < 100; i++ {
			link.Send(numbered(i))
			link.Tick()
		}
		link.Flush()
		return link.DeliveryLog()
	}

	assert.Equal(t, run(11), run(11))
	assert.NotEqual(t, run(11), run(12))
}

func TestLinkFlushAndClear(t *testing.T) {
	c := &collector{}
	link, err := NewLink(LinkConfig{DelayTicks: 100}, c.deliver)
	require.NoError(t, err)

	link.Send(numbered(1))
	link.Send(numbered(2))
	link.ClearDeliveryLog()
	assert.Empty(t, link.DeliveryLog())
	assert.Equal(t, 2, link.Stats().InFlight)

	assert.Equal(t, 2, link.Flush())
	assert.Equal(t, []uint32{1, 2}, c.indices())
	assert.Empty(t, link.DeliveryLog())
}

func TestLinkDeliverMaySend(t *testing.T) {
	var link *Link
	echoes := 0
	link, err := NewLink(LinkConfig{}, func(p []byte) {
		if echoes < 3 {
			echoes++
			link.Send(p)
		}
	})
	require.NoError(t, err)

	link.Send(numbered(0))
	for i := 0; i < 5; i++ {
		link.Tick()
	}
	assert.Equal(t, 3, echoes)
	assert.Equal(t, uint64(4), link.Stats().Sent)
	assert.Equal(t, int64(5), link.Now())
}
