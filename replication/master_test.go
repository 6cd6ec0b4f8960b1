package replication

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raniellyferreira/redis-inmemory-server/protocol"
	"github.com/raniellyferreira/redis-inmemory-server/rdb"
)

type fakePeer struct {
	id uint64

	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
	err    error

	block     chan struct{}
	closeOnce sync.Once
}

func newFakePeer(id uint64) *fakePeer {
	return &fakePeer{id: id}
}

func (p *fakePeer) ID() uint64         { return p.id }
func (p *fakePeer) RemoteAddr() string { return "10.0.0.1:5" + strconv.FormatUint(p.id, 10) }

func (p *fakePeer) Write(b []byte) error {
	if p.block != nil {
		<-p.block
		return ErrReplicaClosed
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.buf.Write(b)
	return nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	if p.block != nil {
		p.closeOnce.Do(func() { close(p.block) })
	}
	return nil
}

func (p *fakePeer) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.String()
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func fullResync(m *Master, offset int64) string {
	snap := rdb.EmptySnapshot()
	return "+FULLRESYNC " + m.ReplID() + " " + strconv.FormatInt(offset, 10) + "\r\n$" +
		strconv.Itoa(len(snap)) + "\r\n" + string(snap)
}

func TestNewReplID(t *testing.T) {
	a, b := NewReplID(), NewReplID()
	assert.Len(t, a, 40)
	assert.Regexp(t, "^[0-9a-f]{40}$", a)
	assert.NotEqual(t, a, b)

	m := NewMaster(WithReplID("8371b4fb1155b71f4a04d3e1bc3e18c4a990aeeb"))
	assert.Equal(t, "8371b4fb1155b71f4a04d3e1bc3e18c4a990aeeb", m.ReplID())
}

func TestPropagateAdvancesOffset(t *testing.T) {
	m := NewMaster()
	assert.Zero(t, m.Offset())

	set := protocol.EncodeCommand([]byte("SET"), []byte("a"), []byte("1"))
	offset := m.Propagate([]byte("SET"), []byte("a"), []byte("1"))
	assert.Equal(t, int64(len(set)), offset)
	assert.Equal(t, offset, m.Offset())

	offset = m.Propagate([]byte("DEL"), []byte("a"))
	assert.Equal(t, int64(len(set)+len(protocol.EncodeCommand([]byte("DEL"), []byte("a")))), offset)
}

func TestAttachSendsSnapshotBeforeStream(t *testing.T) {
	m := NewMaster()
	m.Propagate([]byte("SET"), []byte("before"), []byte("x"))
	before := m.Offset()

	peer := newFakePeer(1)
	r := m.Attach(peer)
	m.Propagate([]byte("SET"), []byte("after"), []byte("y"))

	want := fullResync(m, before) + string(protocol.EncodeCommand([]byte("SET"), []byte("after"), []byte("y")))
	require.Eventually(t, func() bool { return peer.String() == want }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateStreaming, r.State())
	assert.Equal(t, before, r.AckOffset())
	assert.Equal(t, 1, m.ConnectedReplicas())
}

func TestHandshakeStates(t *testing.T) {
	m := NewMaster()
	peer := newFakePeer(7)

	r := m.Handshake(peer)
	assert.Equal(t, StateHandshakePing, r.State())
	assert.Same(t, r, m.Handshake(peer))

	r.SetListeningPort(6380)
	r.AddCapability("psync2")
	assert.Equal(t, StateHandshakeReplconf, r.State())
	assert.Equal(t, []string{"psync2"}, r.Capabilities())
	assert.Zero(t, m.ConnectedReplicas())

	attached := m.Attach(peer)
	assert.Same(t, r, attached)
	require.Eventually(t, func() bool { return r.State() == StateStreaming }, time.Second, 5*time.Millisecond)

	infos := m.Replicas()
	require.Len(t, infos, 1)
	assert.Equal(t, "10.0.0.1", infos[0].IP)
	assert.Equal(t, 6380, infos[0].Port)
	assert.Equal(t, "online", infos[0].State.InfoState())

	m.Remove(peer.ID())
	assert.Equal(t, StateClosed, r.State())
	assert.Zero(t, m.ConnectedReplicas())
}

func TestQueueOverflowClosesLink(t *testing.T) {
	m := NewMaster(WithQueueSize(1))
	peer := newFakePeer(2)
	peer.block = make(chan struct{})

	r := m.Attach(peer)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			m.Propagate([]byte("SET"), []byte("k"), []byte(strconv.Itoa(i)))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("propagation blocked on a stalled replica")
	}

	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("overflowing replica was not closed")
	}
	assert.ErrorIs(t, r.Err(), ErrQueueFull)
	assert.True(t, peer.isClosed())
	assert.Zero(t, m.ConnectedReplicas())
}

func TestWriteErrorClosesLink(t *testing.T) {
	m := NewMaster()
	peer := newFakePeer(3)
	peer.err = errors.New("broken pipe")

	r := m.Attach(peer)
	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("replica was not closed after a write error")
	}
	assert.EqualError(t, r.Err(), "broken pipe")
	require.Eventually(t, func() bool { return m.ConnectedReplicas() == 0 }, time.Second, 5*time.Millisecond)
}

func TestWait(t *testing.T) {
	t.Run("zero replicas requested", func(t *testing.T) {
		m := NewMaster()
		start := time.Now()
		assert.Equal(t, 0, m.Wait(context.Background(), 0, 5*time.Second))
		assert.Less(t, time.Since(start), 100*time.Millisecond)
	})

	t.Run("times out without replicas", func(t *testing.T) {
		m := NewMaster()
		start := time.Now()
		assert.Equal(t, 0, m.Wait(context.Background(), 1, 50*time.Millisecond))
		assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	})

	t.Run("already acknowledged", func(t *testing.T) {
		m := NewMaster()
		peer := newFakePeer(1)
		m.Attach(peer)

		assert.Equal(t, 1, m.Wait(context.Background(), 1, time.Second))
		assert.NotContains(t, peer.String(), "GETACK")
	})

	t.Run("waits for acknowledgement", func(t *testing.T) {
		m := NewMaster()
		fast, slow := newFakePeer(1), newFakePeer(2)
		m.Attach(fast)
		m.Attach(slow)
		target := m.Propagate([]byte("SET"), []byte("a"), []byte("1"))

		result := make(chan int, 1)
		go func() { result <- m.Wait(context.Background(), 2, 0) }()

		require.Eventually(t, func() bool {
			return bytes.Contains([]byte(fast.String()), getAckFrame)
		}, time.Second, 5*time.Millisecond)

		m.Ack(fast.ID(), target)
		select {
		case <-result:
			t.Fatal("returned before enough replicas acknowledged")
		case <-time.After(20 * time.Millisecond):
		}

		m.Ack(slow.ID(), target+37)
		select {
		case n := <-result:
			assert.Equal(t, 2, n)
		case <-time.After(time.Second):
			t.Fatal("wait did not observe the acknowledgements")
		}
	})

	t.Run("context cancelled", func(t *testing.T) {
		m := NewMaster()
		m.Attach(newFakePeer(1))
		m.Propagate([]byte("SET"), []byte("a"), []byte("1"))

		ctx, cancel := context.WithCancel(context.Background())
		result := make(chan int, 1)
		go func() { result <- m.Wait(ctx, 1, 0) }()
		cancel()

		select {
		case n := <-result:
			assert.Equal(t, 0, n)
		case <-time.After(time.Second):
			t.Fatal("wait ignored cancellation")
		}
	})
}

func TestAckNeverMovesBackwards(t *testing.T) {
	m := NewMaster()
	peer := newFakePeer(1)
	r := m.Attach(peer)

	m.Ack(peer.ID(), 100)
	m.Ack(peer.ID(), 40)
	assert.Equal(t, int64(100), r.AckOffset())

	// Unknown peers are ignored.
	m.Ack(99, 1000)
}

func TestMasterClose(t *testing.T) {
	m := NewMaster()
	peers := []*fakePeer{newFakePeer(1), newFakePeer(2)}
	for _, p := range peers {
		m.Attach(p)
	}
	require.NoError(t, m.Close())
	for _, p := range peers {
		assert.True(t, p.isClosed())
	}
	require.Eventually(t, func() bool { return m.ConnectedReplicas() == 0 }, time.Second, 5*time.Millisecond)
}

func TestLinkStateNames(t *testing.T) {
	tests := []struct {
		state LinkState
		name  string
		info  string
	}{
		{StateHandshakePing, "HANDSHAKE_PING", "wait_bgsave"},
		{StateHandshakeReplconf, "HANDSHAKE_REPLCONF", "wait_bgsave"},
		{StateHandshakePsync, "HANDSHAKE_PSYNC", "wait_bgsave"},
		{StateSnapshotSent, "SNAPSHOT_SENT", "send_bulk"},
		{StateStreaming, "STREAMING", "online"},
		{StateClosed, "CLOSED", "closed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.state.String())
			assert.Equal(t, tt.info, tt.state.InfoState())
		})
	}
}
