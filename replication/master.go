package replication

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"github.com/raniellyferreira/redis-inmemory-server/protocol"
	"github.com/raniellyferreira/redis-inmemory-server/rdb"
)

// DefaultQueueSize is the number of frames a replica may lag behind before
// its link is dropped.
const DefaultQueueSize = 4096

// Master tracks attached replicas and feeds them the command stream.
type Master struct {
	// mu orders Propagate against Attach, so a replica sees the snapshot
	// followed by exactly the frames propagated after it.
	mu     sync.Mutex
	replID string
	offset atomic.Int64

	replicas *xsync.MapOf[uint64, *Replica]
	pending  *xsync.MapOf[uint64, *Replica]

	ackMu sync.Mutex
	acked chan struct{}

	queueSize int
	snapshot  func() []byte
	now       func() time.Time
	logger    *zap.Logger
	metrics   MetricsCollector
}

// MasterOption configures a Master.
type MasterOption func(*Master)

// WithLogger sets the master's logger.
func WithLogger(logger *zap.Logger) MasterOption {
	return func(m *Master) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics sets the collector notified about replica changes.
func WithMetrics(metrics MetricsCollector) MasterOption {
	return func(m *Master) {
		m.metrics = metrics
	}
}

// WithQueueSize bounds each replica's outbound queue.
func WithQueueSize(n int) MasterOption {
	return func(m *Master) {
		if n > 0 {
			m.queueSize = n
		}
	}
}

// WithReplID fixes the replication ID instead of generating one.
func WithReplID(id string) MasterOption {
	return func(m *Master) {
		if id != "" {
			m.replID = id
		}
	}
}

// WithSnapshot overrides the snapshot sent on FULLRESYNC.
func WithSnapshot(fn func() []byte) MasterOption {
	return func(m *Master) {
		if fn != nil {
			m.snapshot = fn
		}
	}
}

// NewMaster creates a master with a random 40 character replication ID.
func NewMaster(opts ...MasterOption) *Master {
	m := &Master{
		replicas:  xsync.NewMapOf[uint64, *Replica](),
		pending:   xsync.NewMapOf[uint64, *Replica](),
		acked:     make(chan struct{}),
		queueSize: DefaultQueueSize,
		snapshot:  rdb.EmptySnapshot,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.replID == "" {
		m.replID = NewReplID()
	}
	return m
}

// NewReplID returns 40 random hex characters.
func NewReplID() string {
	var b [20]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("replication: cannot read random bytes: " + err.Error())
	}
	return hex.EncodeToString(b[:])
}

// ReplID returns the replication ID.
func (m *Master) ReplID() string {
	return m.replID
}

// Offset returns the number of bytes propagated so far.
func (m *Master) Offset() int64 {
	return m.offset.Load()
}

// Handshake returns the pending descriptor for peer, creating it on the
// first REPLCONF.
func (m *Master) Handshake(peer Peer) *Replica {
	if r, ok := m.replicas.Load(peer.ID()); ok {
		return r
	}
	r, _ := m.pending.LoadOrCompute(peer.ID(), func() *Replica {
		return newReplica(peer, m.queueSize, m.logger)
	})
	return r
}

// Attach turns peer into a replica link. The FULLRESYNC line and the
// snapshot are the first frames its writer sends.
func (m *Master) Attach(peer Peer) *Replica {
	r, ok := m.pending.LoadAndDelete(peer.ID())
	if !ok {
		r = newReplica(peer, m.queueSize, m.logger)
	}
	r.advance(StateHandshakePsync)
	r.onClose = m.detached

	snap := m.snapshot()

	m.mu.Lock()
	offset := m.offset.Load()
	payload := make([]byte, 0, len(snap)+96)
	payload = append(payload, "+FULLRESYNC "...)
	payload = append(payload, m.replID...)
	payload = append(payload, ' ')
	payload = strconv.AppendInt(payload, offset, 10)
	payload = append(payload, "\r\n$"...)
	payload = strconv.AppendInt(payload, int64(len(snap)), 10)
	payload = append(payload, "\r\n"...)
	payload = append(payload, snap...)

	r.ack(offset, m.now())
	r.enqueue(frame{data: payload, snapshot: true})
	r.advance(StateSnapshotSent)
	m.replicas.Store(peer.ID(), r)
	m.mu.Unlock()

	go r.writeLoop()

	m.logger.Info("Replica attached",
		zap.Uint64("replica", peer.ID()),
		zap.String("addr", peer.RemoteAddr()),
		zap.Int64("offset", offset),
		zap.Int("snapshot_bytes", len(snap)))
	m.reportReplicas()
	return r
}

// Propagate encodes argv and queues it to every replica. It returns the new
// replication offset.
func (m *Master) Propagate(argv ...[]byte) int64 {
	return m.PropagateRaw(protocol.EncodeCommand(argv...))
}

// PropagateRaw queues a pre-encoded frame to every replica.
func (m *Master) PropagateRaw(data []byte) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	offset := m.offset.Add(int64(len(data)))
	m.replicas.Range(func(_ uint64, r *Replica) bool {
		r.enqueue(frame{data: data})
		return true
	})
	if m.metrics != nil {
		m.metrics.RecordReplicationOffset(offset)
	}
	return offset
}

// Ack records REPLCONF ACK <offset> received from peer id.
func (m *Master) Ack(id uint64, offset int64) {
	r, ok := m.replicas.Load(id)
	if !ok {
		return
	}
	r.ack(offset, m.now())

	m.ackMu.Lock()
	close(m.acked)
	m.acked = make(chan struct{})
	m.ackMu.Unlock()
}

func (m *Master) ackChanged() <-chan struct{} {
	m.ackMu.Lock()
	defer m.ackMu.Unlock()
	return m.acked
}

// Remove forgets peer id, closing its link if it was attached.
func (m *Master) Remove(id uint64) {
	m.pending.Delete(id)
	if r, ok := m.replicas.Load(id); ok {
		r.Close()
	}
}

func (m *Master) detached(r *Replica, err error) {
	m.replicas.Compute(r.ID(), func(cur *Replica, loaded bool) (*Replica, bool) {
		return cur, !loaded || cur == r
	})
	if m.metrics != nil && err != nil {
		reason := "error"
		if err == ErrQueueFull {
			reason = "overflow"
		}
		m.metrics.RecordReplicaDropped(reason)
	}
	m.logger.Info("Replica detached", zap.Uint64("replica", r.ID()), zap.Error(err))
	m.reportReplicas()
}

func (m *Master) reportReplicas() {
	if m.metrics != nil {
		m.metrics.SetConnectedReplicas(m.ConnectedReplicas())
	}
}

// ConnectedReplicas returns the number of attached replicas.
func (m *Master) ConnectedReplicas() int {
	return m.replicas.Size()
}

// Replicas returns a view of every attached replica ordered by ID.
func (m *Master) Replicas() []ReplicaInfo {
	now := m.now()
	var out []ReplicaInfo
	m.replicas.Range(func(_ uint64, r *Replica) bool {
		out = append(out, r.info(now))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Master) countAcked(target int64) int {
	n := 0
	m.replicas.Range(func(_ uint64, r *Replica) bool {
		if r.State() != StateClosed && r.AckOffset() >= target {
			n++
		}
		return true
	})
	return n
}

var getAckFrame = protocol.EncodeCommand([]byte("REPLCONF"), []byte("GETACK"), []byte("*"))

// Wait blocks until n replicas acknowledged the offset current at call time,
// timeout elapses or ctx is done. A zero timeout waits indefinitely. It
// returns the number of replicas that acknowledged.
func (m *Master) Wait(ctx context.Context, n int, timeout time.Duration) int {
	target := m.Offset()
	acked := m.countAcked(target)
	if n <= 0 || acked >= n {
		return acked
	}

	m.PropagateRaw(getAckFrame)

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		changed := m.ackChanged()
		if acked = m.countAcked(target); acked >= n {
			return acked
		}
		select {
		case <-changed:
		case <-expired:
			return m.countAcked(target)
		case <-ctx.Done():
			return m.countAcked(target)
		}
	}
}

// Close drops every replica link.
func (m *Master) Close() error {
	m.pending.Clear()
	m.replicas.Range(func(_ uint64, r *Replica) bool {
		r.close(ErrReplicaClosed)
		return true
	})
	return nil
}
