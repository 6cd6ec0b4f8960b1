package replication

import (
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Peer is the connection a replica is attached through. Write must be safe
// for concurrent use with the connection's reply path.
type Peer interface {
	ID() uint64
	RemoteAddr() string
	Write(p []byte) error
	Close() error
}

type frame struct {
	data     []byte
	snapshot bool
}

// Replica is the master-side descriptor of one replica link.
type Replica struct {
	peer   Peer
	logger *zap.Logger

	mu            sync.Mutex
	listeningPort int
	capabilities  []string

	state     atomic.Int32
	ackOffset atomic.Int64
	lastAck   atomic.Int64 // unix nanoseconds

	queue     chan frame
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
	onClose   func(r *Replica, err error)
}

func newReplica(peer Peer, queueSize int, logger *zap.Logger) *Replica {
	if queueSize < 1 {
		queueSize = 1
	}
	r := &Replica{
		peer:   peer,
		logger: logger.With(zap.Uint64("replica", peer.ID()), zap.String("addr", peer.RemoteAddr())),
		queue:  make(chan frame, queueSize),
		done:   make(chan struct{}),
	}
	r.lastAck.Store(time.Now().UnixNano())
	return r
}

// ID returns the identifier of the underlying connection.
func (r *Replica) ID() uint64 {
	return r.peer.ID()
}

// State returns the current link state.
func (r *Replica) State() LinkState {
	return LinkState(r.state.Load())
}

func (r *Replica) setState(s LinkState) {
	r.state.Store(int32(s))
}

// advance moves the state forward, never backwards and never out of CLOSED.
func (r *Replica) advance(s LinkState) {
	for {
		cur := r.state.Load()
		if cur >= int32(s) {
			return
		}
		if r.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

// SetListeningPort records the port announced with REPLCONF listening-port.
func (r *Replica) SetListeningPort(port int) {
	r.mu.Lock()
	r.listeningPort = port
	r.mu.Unlock()
	r.advance(StateHandshakeReplconf)
}

// AddCapability records a capability announced with REPLCONF capa.
func (r *Replica) AddCapability(capa string) {
	r.mu.Lock()
	r.capabilities = append(r.capabilities, capa)
	r.mu.Unlock()
	r.advance(StateHandshakeReplconf)
}

// ListeningPort returns the announced port, or 0.
func (r *Replica) ListeningPort() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listeningPort
}

// Capabilities returns the announced capabilities.
func (r *Replica) Capabilities() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.capabilities))
	copy(out, r.capabilities)
	return out
}

// AckOffset returns the last offset the replica acknowledged.
func (r *Replica) AckOffset() int64 {
	return r.ackOffset.Load()
}

// LastAck returns when the replica last acknowledged.
func (r *Replica) LastAck() time.Time {
	return time.Unix(0, r.lastAck.Load())
}

// ack records an acknowledged offset. Offsets never move backwards.
func (r *Replica) ack(offset int64, now time.Time) {
	r.lastAck.Store(now.UnixNano())
	for {
		cur := r.ackOffset.Load()
		if offset <= cur || r.ackOffset.CompareAndSwap(cur, offset) {
			return
		}
	}
}

// enqueue hands a frame to the writer goroutine without blocking. A full
// queue closes the link.
func (r *Replica) enqueue(f frame) bool {
	select {
	case <-r.done:
		return false
	default:
	}

	select {
	case r.queue <- f:
		return true
	default:
		r.close(ErrQueueFull)
		return false
	}
}

func (r *Replica) writeLoop() {
	for {
		select {
		case <-r.done:
			return
		case f := <-r.queue:
			if err := r.peer.Write(f.data); err != nil {
				r.close(err)
				return
			}
			if f.snapshot {
				r.advance(StateStreaming)
				r.logger.Info("Snapshot sent to replica", zap.Int("bytes", len(f.data)))
			}
		}
	}
}

// Done is closed once the link is closed.
func (r *Replica) Done() <-chan struct{} {
	return r.done
}

// Err returns the reason the link was closed, if any.
func (r *Replica) Err() error {
	select {
	case <-r.done:
		return r.closeErr
	default:
		return nil
	}
}

// Close closes the link. The queue channel itself is never closed, so a
// concurrent enqueue cannot panic.
func (r *Replica) Close() error {
	r.close(nil)
	return nil
}

func (r *Replica) close(err error) {
	r.closeOnce.Do(func() {
		r.closeErr = err
		r.setState(StateClosed)
		close(r.done)
		if err != nil {
			r.logger.Warn("Closing replica link", zap.Error(err))
			r.peer.Close()
		}
		if r.onClose != nil {
			r.onClose(r, err)
		}
	})
}

// ReplicaInfo is a point-in-time view of a replica for INFO replication.
type ReplicaInfo struct {
	ID     uint64
	IP     string
	Port   int
	State  LinkState
	Offset int64
	Lag    time.Duration
}

func (r *Replica) info(now time.Time) ReplicaInfo {
	addr := r.peer.RemoteAddr()
	ip := addr
	port := r.ListeningPort()
	if host, p, err := net.SplitHostPort(addr); err == nil {
		ip = host
		if port == 0 {
			port, _ = strconv.Atoi(p)
		}
	}
	return ReplicaInfo{
		ID:     r.ID(),
		IP:     ip,
		Port:   port,
		State:  r.State(),
		Offset: r.AckOffset(),
		Lag:    now.Sub(r.LastAck()),
	}
}
