package replication

import (
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raniellyferreira/redis-inmemory-server/protocol"
	"github.com/raniellyferreira/redis-inmemory-server/rdb"
	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

type recordingApplier struct {
	store storage.Storage

	mu   sync.Mutex
	cmds []string
}

func (a *recordingApplier) Apply(cmd *protocol.Command) protocol.Value {
	a.mu.Lock()
	a.cmds = append(a.cmds, cmd.String())
	a.mu.Unlock()

	if cmd.Name == "SET" && len(cmd.Args) == 2 {
		if err := a.store.Set(string(cmd.Args[0]), cmd.Args[1], nil); err != nil {
			return protocol.Error(err.Error())
		}
	}
	return protocol.OK()
}

func (a *recordingApplier) commands() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.cmds...)
}

// fakeMaster accepts replica connections and hands them to the test.
type fakeMaster struct {
	ln    net.Listener
	conns chan net.Conn
}

func newFakeMaster(t *testing.T) *fakeMaster {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	fm := &fakeMaster{ln: ln, conns: make(chan net.Conn, 4)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			fm.conns <- conn
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return fm
}

func (fm *fakeMaster) accept(t *testing.T) (net.Conn, *protocol.Reader) {
	t.Helper()
	select {
	case conn := <-fm.conns:
		t.Cleanup(func() { conn.Close() })
		return conn, protocol.NewReader(conn)
	case <-time.After(2 * time.Second):
		t.Fatal("replica did not connect")
		return nil, nil
	}
}

func expectCommand(t *testing.T, r *protocol.Reader, want string) {
	t.Helper()
	v, err := r.ReadNext()
	require.NoError(t, err)
	cmd, err := protocol.ParseCommand(v)
	require.NoError(t, err)
	assert.Equal(t, want, cmd.String())
}

// serveHandshake answers the replica handshake and sends the snapshot.
func serveHandshake(t *testing.T, conn net.Conn, r *protocol.Reader, replID string, offset int64) {
	t.Helper()
	expectCommand(t, r, "PING")
	_, err := conn.Write([]byte("+PONG\r\n"))
	require.NoError(t, err)

	expectCommand(t, r, "REPLCONF listening-port 6380")
	_, err = conn.Write([]byte("+OK\r\n"))
	require.NoError(t, err)

	expectCommand(t, r, "REPLCONF capa psync2")
	_, err = conn.Write([]byte("+OK\r\n"))
	require.NoError(t, err)

	expectCommand(t, r, "PSYNC ? -1")
	snap := rdb.EmptySnapshot()
	resync := "+FULLRESYNC " + replID + " " + strconv.FormatInt(offset, 10) + "\r\n$" + strconv.Itoa(len(snap)) + "\r\n"
	_, err = conn.Write(append([]byte(resync), snap...))
	require.NoError(t, err)
}

func newTestClient(t *testing.T, addr string) (*Client, *recordingApplier, storage.Storage) {
	t.Helper()
	store := storage.NewMemory(storage.WithCleanupConfig(storage.CleanupConfig{}))
	t.Cleanup(func() { store.Close() })

	applier := &recordingApplier{store: store}
	c := NewClient(addr, store, applier)
	c.SetListeningPort(6380)
	c.SetAckInterval(0)
	c.SetBackoff(10*time.Millisecond, 20*time.Millisecond)
	t.Cleanup(func() { c.Stop() })
	return c, applier, store
}

func TestClientFullSyncAndStream(t *testing.T) {
	fm := newFakeMaster(t)
	c, applier, store := newTestClient(t, fm.ln.Addr().String())

	// The snapshot replaces whatever the replica held.
	require.NoError(t, store.Set("stale", []byte("x"), nil))

	require.NoError(t, c.Start(t.Context()))
	conn, r := fm.accept(t)
	serveHandshake(t, conn, r, "8371b4fb1155b71f4a04d3e1bc3e18c4a990aeeb", 100)

	require.NoError(t, c.WaitForSync(t.Context()))
	assert.Equal(t, int64(100), c.Offset())
	assert.True(t, c.LinkUp())
	_, ok, _ := store.Get("stale")
	assert.False(t, ok)

	set := protocol.EncodeCommand([]byte("SET"), []byte("a"), []byte("1"))
	ping := protocol.EncodeCommand([]byte("PING"))
	_, err := conn.Write(append(append([]byte{}, set...), ping...))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(applier.commands()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"SET a 1", "PING"}, applier.commands())
	val, ok, err := store.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", string(val))

	// GETACK is answered with the offset before the GETACK frame itself.
	_, err = conn.Write(getAckFrame)
	require.NoError(t, err)
	expectCommand(t, r, "REPLCONF ACK "+strconv.Itoa(100+len(set)+len(ping)))

	require.Eventually(t, func() bool {
		return c.Offset() == int64(100+len(set)+len(ping)+len(getAckFrame))
	}, time.Second, 5*time.Millisecond)

	stats := c.Stats()
	assert.True(t, stats.InitialSyncCompleted)
	assert.Equal(t, "8371b4fb1155b71f4a04d3e1bc3e18c4a990aeeb", stats.MasterReplID)
	assert.Equal(t, int64(2), stats.CommandsProcessed)
}

func TestClientResyncAfterLinkDrop(t *testing.T) {
	fm := newFakeMaster(t)
	c, _, _ := newTestClient(t, fm.ln.Addr().String())

	syncs := make(chan struct{}, 2)
	c.OnSyncComplete(func() { syncs <- struct{}{} })

	require.NoError(t, c.Start(t.Context()))
	conn, r := fm.accept(t)
	serveHandshake(t, conn, r, "aaaa", 0)
	<-syncs
	conn.Close()

	conn, r = fm.accept(t)
	serveHandshake(t, conn, r, "bbbb", 500)
	select {
	case <-syncs:
	case <-time.After(2 * time.Second):
		t.Fatal("replica did not resync")
	}

	assert.Equal(t, int64(500), c.Offset())
	assert.Equal(t, "bbbb", c.Stats().MasterReplID)
	assert.GreaterOrEqual(t, c.Stats().ReconnectCount, int64(1))
}

func TestClientRetriesRejectedHandshake(t *testing.T) {
	fm := newFakeMaster(t)
	c, _, _ := newTestClient(t, fm.ln.Addr().String())
	require.NoError(t, c.Start(t.Context()))

	conn, r := fm.accept(t)
	expectCommand(t, r, "PING")
	_, err := conn.Write([]byte("-NOAUTH Authentication required.\r\n"))
	require.NoError(t, err)

	conn, r = fm.accept(t)
	serveHandshake(t, conn, r, "cccc", 0)
	require.NoError(t, c.WaitForSync(t.Context()))
}

func TestClientPeriodicAck(t *testing.T) {
	fm := newFakeMaster(t)
	c, _, _ := newTestClient(t, fm.ln.Addr().String())
	c.SetAckInterval(20 * time.Millisecond)

	require.NoError(t, c.Start(t.Context()))
	conn, r := fm.accept(t)
	serveHandshake(t, conn, r, "dddd", 42)

	expectCommand(t, r, "REPLCONF ACK 42")
}

func TestClientStop(t *testing.T) {
	c, _, _ := newTestClient(t, "127.0.0.1:1")
	require.NoError(t, c.Start(t.Context()))
	require.NoError(t, c.Stop())
	assert.Equal(t, ClientStopped, c.State())
	assert.ErrorIs(t, c.Start(t.Context()), ErrClientStopped)
	assert.ErrorIs(t, c.WaitForSync(t.Context()), ErrClientStopped)
}

func TestParseFullResync(t *testing.T) {
	id, off, err := parseFullResync("FULLRESYNC 8371b4fb1155b71f4a04d3e1bc3e18c4a990aeeb 0")
	require.NoError(t, err)
	assert.Equal(t, "8371b4fb1155b71f4a04d3e1bc3e18c4a990aeeb", id)
	assert.Zero(t, off)

	for _, bad := range []string{"CONTINUE", "FULLRESYNC id", "FULLRESYNC id x", "FULLRESYNC id -4"} {
		_, _, err := parseFullResync(bad)
		assert.Error(t, err, bad)
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		retries int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{50, 10 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, backoff(tt.retries, time.Second, 10*time.Second), "retry %d", tt.retries)
	}
}

func TestSyncError(t *testing.T) {
	inner := &net.OpError{Op: "dial", Net: "tcp", Err: assert.AnError}
	err := syncError(PhaseConnect, inner)
	assert.Equal(t, "replication connect failed: "+inner.Error(), err.Error())
	assert.ErrorIs(t, err, assert.AnError)
	assert.True(t, IsSyncError(err))

	// Wrapping twice keeps the innermost phase.
	assert.Same(t, err, syncError(PhaseStream, err))

	err.Retries = 3
	assert.Contains(t, err.Error(), "retry 3")
}
