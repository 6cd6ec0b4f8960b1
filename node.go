package redisserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/raniellyferreira/redis-inmemory-server/command"
	"github.com/raniellyferreira/redis-inmemory-server/lua"
	"github.com/raniellyferreira/redis-inmemory-server/metrics"
	"github.com/raniellyferreira/redis-inmemory-server/rdb"
	"github.com/raniellyferreira/redis-inmemory-server/replication"
	"github.com/raniellyferreira/redis-inmemory-server/server"
	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

// shutdownTimeout bounds how long Close waits for connections to drain
const shutdownTimeout = 5 * time.Second

// Node is one Redis-compatible server process: a master, or a replica when
// configured with WithReplicaOf.
type Node struct {
	config *config
	logger *zap.Logger

	// Components
	store      *storage.Memory
	master     *replication.Master
	dispatcher *command.Dispatcher
	server     *server.Server
	client     *replication.Client

	metrics       *metrics.Metrics
	metricsServer *metrics.Server

	// State
	mu        sync.Mutex
	started   bool
	closed    bool
	loadStats *rdb.LoadStats
}

// New creates a Node with the given options
//
// The node is created but not started. Use Start() to load the snapshot and
// begin serving.
func New(opts ...Option) (*Node, error) {
	cfg := defaultConfig()

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	m := cfg.metrics
	if m == nil {
		m = metrics.New()
	}

	n := &Node{
		config:  cfg,
		logger:  cfg.logger,
		store:   storage.NewMemory(),
		metrics: m,
	}
	m.RegisterKeyspace(n.store.KeyCount)

	masterOpts := []replication.MasterOption{
		replication.WithLogger(cfg.logger.Named("master")),
		replication.WithMetrics(m),
	}
	if cfg.queueSize > 0 {
		masterOpts = append(masterOpts, replication.WithQueueSize(cfg.queueSize))
	}
	n.master = replication.NewMaster(masterOpts...)

	n.dispatcher = command.NewDispatcher(n.store, n.master,
		command.WithLogger(cfg.logger.Named("command")),
		command.WithMetrics(m),
		command.WithScripts(lua.NewEngine()),
		command.WithClientCount(n.clientCount),
		command.WithConfig(command.Config{
			Port:            cfg.port,
			Dir:             cfg.dir,
			DBFilename:      cfg.dbFilename,
			ReplicaOf:       replicaOfParam(cfg.masterAddr),
			ReplicaReadOnly: cfg.replicaReadOnly,
		}),
	)

	n.server = server.New(cfg.listenAddr(), n.dispatcher,
		server.WithLogger(cfg.logger.Named("server")),
		server.WithMetrics(m),
	)

	if cfg.masterAddr != "" {
		n.client = replication.NewClient(cfg.masterAddr, n.store, n.dispatcher)
		n.client.SetLogger(cfg.logger.Named("replication"))
		n.client.SetMetrics(m)
		n.client.SetListeningPort(cfg.port)
		n.client.SetConnectTimeout(cfg.connectTimeout)
		n.client.SetSyncTimeout(cfg.syncTimeout)
		n.client.SetAckInterval(cfg.ackInterval)
		n.client.SetBackoff(cfg.minBackoff, cfg.maxBackoff)
		n.dispatcher.SetUpstream(n.client)
	}

	if cfg.metricsAddr != "" {
		n.metricsServer = metrics.NewServer(cfg.metricsAddr, m, cfg.logger.Named("metrics"))
	}

	return n, nil
}

func (n *Node) clientCount() int {
	return n.server.ClientCount()
}

// replicaOfParam renders the master address the way CONFIG GET replicaof
// reports it.
func replicaOfParam(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return ""
	}
	return host + " " + port
}

// Start loads the snapshot, starts the listener and, on a replica, the
// replication client. It does not wait for the first sync; see WaitForSync.
//
// A malformed snapshot is fatal: Start returns the *rdb.FormatError and
// nothing is started.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrClosed
	}
	if n.started {
		return nil
	}

	if err := n.loadSnapshot(); err != nil {
		return err
	}

	if err := n.server.Start(); err != nil {
		return &ConnectionError{Addr: n.config.listenAddr(), Err: err}
	}

	if n.metricsServer != nil {
		if err := n.metricsServer.Start(); err != nil {
			n.shutdownServer()
			return err
		}
	}

	if n.client != nil {
		if port := n.Port(); port > 0 {
			n.client.SetListeningPort(port)
		}
		if err := n.client.Start(ctx); err != nil {
			n.shutdownServer()
			return fmt.Errorf("start replication: %w", err)
		}
		n.logger.Info("Replicating", zap.String("master", n.config.masterAddr))
	}

	n.started = true
	n.logger.Info("Node started",
		zap.String("addr", n.server.Addr()),
		zap.String("role", n.Role()),
		zap.String("version", Version))
	return nil
}

func (n *Node) loadSnapshot() error {
	path := filepath.Join(n.config.dir, n.config.dbFilename)
	stats, err := rdb.LoadFile(path, n.store, rdb.WithLogger(n.logger.Named("rdb")))
	if err != nil {
		var ferr *rdb.FormatError
		if errors.As(err, &ferr) {
			n.logger.Error("Snapshot is corrupt",
				zap.String("path", path),
				zap.Int64("offset", ferr.Offset),
				zap.Error(err))
		}
		return err
	}

	n.loadStats = stats
	n.metrics.RecordSnapshotLoad(stats.Duration, stats.Keys)
	if stats.Keys > 0 || stats.Expired > 0 {
		n.logger.Info("Snapshot loaded",
			zap.String("path", path),
			zap.Int64("keys", stats.Keys),
			zap.Int64("expired", stats.Expired),
			zap.Duration("duration", stats.Duration))
	}
	return nil
}

func (n *Node) shutdownServer() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := n.server.Shutdown(ctx); err != nil {
		n.logger.Error("Error stopping server", zap.Error(err))
	}
}

// WaitForSync blocks until the first full sync has been applied or ctx is
// done. It returns ErrNotReplica on a master.
func (n *Node) WaitForSync(ctx context.Context) error {
	if n.client == nil {
		return ErrNotReplica
	}
	return n.client.WaitForSync(ctx)
}

// OnSyncComplete registers a callback run after every completed full sync
func (n *Node) OnSyncComplete(fn func()) {
	if n.client != nil {
		n.client.OnSyncComplete(fn)
	}
}

// Close gracefully shuts down the node
//
// It stops the listener and every connection, the replication client and
// the metrics endpoint, then releases the keyspace.
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true

	var errs []error

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := n.server.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if n.client != nil {
		if err := n.client.Stop(); err != nil && !errors.Is(err, replication.ErrClientStopped) {
			errs = append(errs, err)
		}
	}
	if err := n.master.Close(); err != nil {
		errs = append(errs, err)
	}
	if n.metricsServer != nil && n.started {
		if err := n.metricsServer.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := n.store.Close(); err != nil {
		errs = append(errs, err)
	}

	n.logger.Info("Node stopped")
	return errors.Join(errs...)
}

// Addr returns the address clients connect to
func (n *Node) Addr() string {
	return n.server.Addr()
}

// Port returns the bound port, or the configured one before Start
func (n *Node) Port() int {
	_, port, err := net.SplitHostPort(n.server.Addr())
	if err != nil {
		return n.config.port
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return n.config.port
	}
	return p
}

// MetricsAddr returns the metrics endpoint address, or "" when disabled
func (n *Node) MetricsAddr() string {
	if n.metricsServer == nil {
		return ""
	}
	return n.metricsServer.Addr()
}

// Role returns "master" or "slave", as INFO replication reports it
func (n *Node) Role() string {
	if n.client != nil {
		return "slave"
	}
	return "master"
}

// Storage returns the underlying keyspace for direct access
func (n *Node) Storage() storage.Storage {
	return n.store
}

// Dispatcher returns the command dispatcher, for embedding the node's
// command set behind another transport
func (n *Node) Dispatcher() *command.Dispatcher {
	return n.dispatcher
}

// Metrics returns the node's collectors
func (n *Node) Metrics() *metrics.Metrics {
	return n.metrics
}

// SnapshotStats returns the statistics of the startup snapshot load, or nil
// before Start
func (n *Node) SnapshotStats() *rdb.LoadStats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.loadStats
}
