package replication

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/raniellyferreira/redis-inmemory-server/protocol"
	"github.com/raniellyferreira/redis-inmemory-server/rdb"
	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

// Applier executes a command received on the upstream link. The reply is
// discarded.
type Applier interface {
	Apply(cmd *protocol.Command) protocol.Value
}

// MetricsCollector receives replication events. Implementations must be safe
// for concurrent use.
type MetricsCollector interface {
	RecordSyncDuration(duration time.Duration)
	RecordNetworkBytes(bytes int64)
	RecordReconnection()
	RecordError(errorType string)
	RecordReplicationOffset(offset int64)
	SetConnectedReplicas(n int)
	RecordReplicaDropped(reason string)
}

// ReplicationStats tracks replica-side statistics
type ReplicationStats struct {
	mu sync.RWMutex

	Connected         bool
	MasterAddr        string
	MasterReplID      string
	ReplicationOffset int64
	LastSyncTime      time.Time
	LastIOTime        time.Time
	BytesReceived     int64
	CommandsProcessed int64
	ReconnectCount    int64
	KeysLoaded        int64

	InitialSyncCompleted bool
}

// Client implements the replica side of replication
type Client struct {
	masterAddr    string
	listeningPort int
	store         storage.Storage
	applier       Applier

	state  atomic.Int32
	offset atomic.Int64

	ctx       context.Context
	cancel    context.CancelFunc
	doneChan  chan struct{}
	started   atomic.Bool
	stopped   atomic.Bool
	synced    chan struct{}
	syncOnce  sync.Once
	callbacks sync.Mutex

	stats          *ReplicationStats
	onSyncComplete []func()

	logger         *zap.Logger
	metrics        MetricsCollector
	connectTimeout time.Duration
	syncTimeout    time.Duration
	writeTimeout   time.Duration
	ackInterval    time.Duration
	minBackoff     time.Duration
	maxBackoff     time.Duration
}

// NewClient creates a replication client for the master at masterAddr.
// Snapshots are loaded into store and streamed commands go to applier.
func NewClient(masterAddr string, store storage.Storage, applier Applier) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		masterAddr:     masterAddr,
		store:          store,
		applier:        applier,
		ctx:            ctx,
		cancel:         cancel,
		doneChan:       make(chan struct{}),
		synced:         make(chan struct{}),
		stats:          &ReplicationStats{MasterAddr: masterAddr},
		logger:         zap.NewNop(),
		connectTimeout: 5 * time.Second,
		syncTimeout:    30 * time.Second,
		writeTimeout:   10 * time.Second,
		ackInterval:    time.Second,
		minBackoff:     time.Second,
		maxBackoff:     10 * time.Second,
	}
}

// SetLogger sets the logger
func (c *Client) SetLogger(logger *zap.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// SetMetrics sets the metrics collector
func (c *Client) SetMetrics(metrics MetricsCollector) {
	c.metrics = metrics
}

// SetListeningPort sets the port announced with REPLCONF listening-port
func (c *Client) SetListeningPort(port int) {
	c.listeningPort = port
}

// SetConnectTimeout sets the dial timeout
func (c *Client) SetConnectTimeout(timeout time.Duration) {
	c.connectTimeout = timeout
}

// SetSyncTimeout bounds the handshake and the snapshot transfer
func (c *Client) SetSyncTimeout(timeout time.Duration) {
	c.syncTimeout = timeout
}

// SetWriteTimeout sets the write deadline for frames sent to the master
func (c *Client) SetWriteTimeout(timeout time.Duration) {
	c.writeTimeout = timeout
}

// SetAckInterval sets how often an unsolicited REPLCONF ACK is sent while
// streaming. Zero disables it.
func (c *Client) SetAckInterval(interval time.Duration) {
	c.ackInterval = interval
}

// SetBackoff sets the reconnect delay bounds
func (c *Client) SetBackoff(min, max time.Duration) {
	if min > 0 {
		c.minBackoff = min
	}
	if max >= c.minBackoff {
		c.maxBackoff = max
	}
}

// OnSyncComplete registers a callback run after every full sync
func (c *Client) OnSyncComplete(fn func()) {
	c.callbacks.Lock()
	defer c.callbacks.Unlock()
	c.onSyncComplete = append(c.onSyncComplete, fn)
}

// Start launches the replication loop. It does not wait for the master:
// link failures are retried in the background. Cancelling ctx stops the
// loop like Stop does.
func (c *Client) Start(ctx context.Context) error {
	if c.stopped.Load() {
		return ErrClientStopped
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.started.CompareAndSwap(false, true) {
		return nil
	}

	c.logger.Info("Starting replication client", zap.String("master", c.masterAddr))
	context.AfterFunc(ctx, c.cancel)
	go c.run()
	return nil
}

// WaitForSync blocks until the first full sync completed.
func (c *Client) WaitForSync(ctx context.Context) error {
	select {
	case <-c.synced:
		return nil
	case <-c.doneChan:
		return ErrClientStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop stops replication and waits for the loop to exit.
func (c *Client) Stop() error {
	if !c.stopped.CompareAndSwap(false, true) {
		return nil
	}

	c.logger.Info("Stopping replication client")
	c.cancel()

	if !c.started.Load() {
		c.setState(ClientStopped)
		return nil
	}

	select {
	case <-c.doneChan:
		c.setState(ClientStopped)
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("stop timeout")
	}
}

// State returns the link state.
func (c *Client) State() ClientState {
	return ClientState(c.state.Load())
}

func (c *Client) setState(s ClientState) {
	c.state.Store(int32(s))
}

// Offset returns the number of command stream bytes processed.
func (c *Client) Offset() int64 {
	return c.offset.Load()
}

// MasterAddr returns the configured master address.
func (c *Client) MasterAddr() string {
	return c.masterAddr
}

// LinkUp reports whether the client is streaming from its master.
func (c *Client) LinkUp() bool {
	return c.State() == ClientStreaming
}

// Stats returns current replication statistics
func (c *Client) Stats() ReplicationStats {
	c.stats.mu.RLock()
	defer c.stats.mu.RUnlock()

	return ReplicationStats{
		Connected:            c.stats.Connected,
		MasterAddr:           c.stats.MasterAddr,
		MasterReplID:         c.stats.MasterReplID,
		ReplicationOffset:    c.offset.Load(),
		LastSyncTime:         c.stats.LastSyncTime,
		LastIOTime:           c.stats.LastIOTime,
		BytesReceived:        c.stats.BytesReceived,
		CommandsProcessed:    c.stats.CommandsProcessed,
		ReconnectCount:       c.stats.ReconnectCount,
		KeysLoaded:           c.stats.KeysLoaded,
		InitialSyncCompleted: c.stats.InitialSyncCompleted,
	}
}

func (c *Client) updateStats(fn func(*ReplicationStats)) {
	c.stats.mu.Lock()
	defer c.stats.mu.Unlock()
	fn(c.stats)
}

func (c *Client) recordMetricError(errorType string) {
	if c.metrics != nil {
		c.metrics.RecordError(errorType)
	}
}

// run is the main replication loop
func (c *Client) run() {
	defer close(c.doneChan)

	retries := 0
	for {
		streamed, err := c.session()
		if c.ctx.Err() != nil {
			return
		}
		if streamed {
			retries = 0
		}
		retries++

		se := syncError(PhaseStream, err)
		se.Retries = retries
		c.logger.Warn("Replication link failed",
			zap.String("master", c.masterAddr),
			zap.String("phase", se.Phase),
			zap.Int("retries", retries),
			zap.Error(se.Err))
		c.recordMetricError(se.Phase)
		c.setState(ClientConnecting)
		c.updateStats(func(s *ReplicationStats) {
			s.Connected = false
		})

		select {
		case <-time.After(backoff(retries, c.minBackoff, c.maxBackoff)):
		case <-c.ctx.Done():
			return
		}

		c.updateStats(func(s *ReplicationStats) {
			s.ReconnectCount++
		})
		if c.metrics != nil {
			c.metrics.RecordReconnection()
		}
	}
}

// backoff returns min doubled for every retry after the first, capped at max.
func backoff(retries int, min, max time.Duration) time.Duration {
	d := min
	for i := 1; i < retries && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	return d
}

// link is one connection to the master. Writes are serialised because the
// periodic ACK shares the socket with GETACK replies.
type link struct {
	conn         net.Conn
	reader       *protocol.Reader
	writeTimeout time.Duration

	mu     sync.Mutex
	writer *protocol.Writer
}

func (l *link) send(args ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writeTimeout > 0 {
		l.conn.SetWriteDeadline(time.Now().Add(l.writeTimeout))
	}
	if err := l.writer.WriteCommand(args[0], args[1:]...); err != nil {
		return err
	}
	return l.writer.Flush()
}

func (l *link) roundTrip(args ...string) (protocol.Value, error) {
	if err := l.send(args...); err != nil {
		return protocol.Value{}, err
	}
	reply, err := l.reader.ReadNext()
	if err != nil {
		return protocol.Value{}, err
	}
	if reply.IsError() {
		return reply, fmt.Errorf("%s rejected: %s", args[0], reply.Error())
	}
	return reply, nil
}

// session runs one connection to the master until it fails. It reports
// whether streaming was reached.
func (c *Client) session() (bool, error) {
	c.setState(ClientConnecting)
	c.logger.Debug("Connecting to master", zap.String("addr", c.masterAddr))

	dialer := &net.Dialer{Timeout: c.connectTimeout}
	conn, err := dialer.DialContext(c.ctx, "tcp", c.masterAddr)
	if err != nil {
		return false, syncError(PhaseConnect, fmt.Errorf("dial failed: %w", err))
	}
	defer conn.Close()

	stop := context.AfterFunc(c.ctx, func() { conn.Close() })
	defer stop()

	l := &link{
		conn:         conn,
		reader:       protocol.NewReader(conn),
		writer:       protocol.NewWriter(conn),
		writeTimeout: c.writeTimeout,
	}

	c.updateStats(func(s *ReplicationStats) {
		s.Connected = true
	})
	c.logger.Info("Connected to master", zap.String("addr", c.masterAddr))

	start := time.Now()
	if c.syncTimeout > 0 {
		conn.SetDeadline(start.Add(c.syncTimeout))
	}

	c.setState(ClientHandshaking)
	replID, offset, err := c.handshake(l)
	if err != nil {
		return false, syncError(PhaseHandshake, err)
	}

	c.setState(ClientLoadingSnapshot)
	if err := c.loadSnapshot(l); err != nil {
		return false, syncError(PhaseSnapshot, err)
	}
	conn.SetDeadline(time.Time{})

	c.offset.Store(offset)
	duration := time.Since(start)
	if c.metrics != nil {
		c.metrics.RecordSyncDuration(duration)
	}
	c.updateStats(func(s *ReplicationStats) {
		s.MasterReplID = replID
		s.InitialSyncCompleted = true
		s.LastSyncTime = time.Now()
	})

	c.setState(ClientStreaming)
	c.logger.Info("Full synchronization completed",
		zap.String("replid", replID),
		zap.Int64("offset", offset),
		zap.Duration("duration", duration))

	c.syncOnce.Do(func() { close(c.synced) })
	c.callbacks.Lock()
	callbacks := make([]func(), len(c.onSyncComplete))
	copy(callbacks, c.onSyncComplete)
	c.callbacks.Unlock()
	for _, callback := range callbacks {
		callback()
	}

	return true, syncError(PhaseStream, c.stream(l))
}

// handshake performs PING, REPLCONF and PSYNC and returns the master's
// replication ID and starting offset.
func (c *Client) handshake(l *link) (string, int64, error) {
	if _, err := l.roundTrip("PING"); err != nil {
		return "", 0, err
	}
	if _, err := l.roundTrip("REPLCONF", "listening-port", strconv.Itoa(c.listeningPort)); err != nil {
		return "", 0, err
	}
	if _, err := l.roundTrip("REPLCONF", "capa", "psync2"); err != nil {
		return "", 0, err
	}

	reply, err := l.roundTrip("PSYNC", "?", "-1")
	if err != nil {
		return "", 0, err
	}
	return parseFullResync(reply.String())
}

func parseFullResync(line string) (string, int64, error) {
	parts := strings.Fields(line)
	if len(parts) != 3 || parts[0] != "FULLRESYNC" {
		return "", 0, fmt.Errorf("unsupported PSYNC response: %q", line)
	}
	offset, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || offset < 0 {
		return "", 0, fmt.Errorf("invalid offset: %q", parts[2])
	}
	return parts[1], offset, nil
}

func (c *Client) loadSnapshot(l *link) error {
	payload, err := l.reader.ReadSnapshot()
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	if c.metrics != nil {
		c.metrics.RecordNetworkBytes(int64(len(payload)))
	}

	stats, err := rdb.Load(bytes.NewReader(payload), c.store, rdb.WithLogger(c.logger))
	if err != nil {
		return err
	}
	c.updateStats(func(s *ReplicationStats) {
		s.BytesReceived += int64(len(payload))
		s.KeysLoaded = stats.Keys
	})
	return nil
}

// stream applies frames in receive order until the link fails.
func (c *Client) stream(l *link) error {
	ctx, cancel := context.WithCancel(c.ctx)
	defer cancel()

	ackErr := make(chan error, 1)
	if c.ackInterval > 0 {
		go c.ackLoop(ctx, l, ackErr)
	}

	for {
		v, size, err := l.reader.ReadValue()
		if err != nil {
			select {
			case aerr := <-ackErr:
				return fmt.Errorf("ack failed: %w", aerr)
			default:
			}
			return fmt.Errorf("read command failed: %w", err)
		}
		if err := c.processFrame(l, v, size); err != nil {
			return err
		}
	}
}

func (c *Client) processFrame(l *link, v protocol.Value, size int) error {
	defer func() {
		offset := c.offset.Add(int64(size))
		if c.metrics != nil {
			c.metrics.RecordNetworkBytes(int64(size))
			c.metrics.RecordReplicationOffset(offset)
		}
		c.updateStats(func(s *ReplicationStats) {
			s.BytesReceived += int64(size)
			s.LastIOTime = time.Now()
		})
	}()

	cmd, err := protocol.ParseCommand(v)
	if err != nil {
		c.logger.Debug("Ignoring non-command frame", zap.String("frame", v.String()))
		return nil
	}

	if isGetAck(cmd) {
		return l.send("REPLCONF", "ACK", strconv.FormatInt(c.offset.Load(), 10))
	}

	reply := c.applier.Apply(cmd)
	if reply.IsError() {
		c.logger.Warn("Replicated command failed",
			zap.String("command", cmd.Name),
			zap.String("error", reply.Error()))
	}
	c.updateStats(func(s *ReplicationStats) {
		s.CommandsProcessed++
	})
	return nil
}

func (c *Client) ackLoop(ctx context.Context, l *link, errc chan<- error) {
	ticker := time.NewTicker(c.ackInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.send("REPLCONF", "ACK", strconv.FormatInt(c.offset.Load(), 10)); err != nil {
				errc <- err
				l.conn.Close()
				return
			}
		}
	}
}

func isGetAck(cmd *protocol.Command) bool {
	return cmd.Name == "REPLCONF" && len(cmd.Args) > 0 && strings.EqualFold(string(cmd.Args[0]), "GETACK")
}

// IsSyncError reports whether err is a replication link failure.
func IsSyncError(err error) bool {
	var se *SyncError
	return errors.As(err, &se)
}
