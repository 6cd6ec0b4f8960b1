package redisserver

import (
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/raniellyferreira/redis-inmemory-server/metrics"
)

// config holds the configuration for a Node
type config struct {
	// Listener settings
	bind string
	port int

	// Replication settings; masterAddr is empty on a master
	masterAddr      string
	replicaReadOnly bool
	connectTimeout  time.Duration
	syncTimeout     time.Duration
	ackInterval     time.Duration
	minBackoff      time.Duration
	maxBackoff      time.Duration
	queueSize       int

	// Snapshot location
	dir        string
	dbFilename string

	// Observability
	logger      *zap.Logger
	metrics     *metrics.Metrics
	metricsAddr string
}

// defaultConfig returns a configuration with sensible defaults
func defaultConfig() *config {
	return &config{
		port:            6379,
		replicaReadOnly: true,
		connectTimeout:  5 * time.Second,
		syncTimeout:     30 * time.Second,
		ackInterval:     time.Second,
		minBackoff:      time.Second,
		maxBackoff:      10 * time.Second,
		dir:             ".",
		dbFilename:      "dump.rdb",
		logger:          zap.NewNop(),
	}
}

func (c *config) listenAddr() string {
	return net.JoinHostPort(c.bind, strconv.Itoa(c.port))
}

// Option represents a configuration option for a Node
type Option func(*config) error

// WithPort sets the client listening port. Port 0 picks a free port.
//
// Example:
//
//	WithPort(6380)
func WithPort(port int) Option {
	return func(c *config) error {
		if port < 0 || port > 65535 {
			return ErrInvalidConfig
		}
		c.port = port
		return nil
	}
}

// WithBind sets the interface to listen on; empty means all interfaces
func WithBind(host string) Option {
	return func(c *config) error {
		c.bind = host
		return nil
	}
}

// WithReplicaOf makes the node a replica of the master at addr, given as
// "host:port". An empty addr keeps the node a master.
//
// Example:
//
//	WithReplicaOf("redis.example.com:6379")
func WithReplicaOf(addr string) Option {
	return func(c *config) error {
		if addr == "" {
			c.masterAddr = ""
			return nil
		}
		host, port, err := net.SplitHostPort(addr)
		if err != nil || host == "" {
			return &ConnectionError{Addr: addr, Err: ErrInvalidConfig}
		}
		if n, err := strconv.Atoi(port); err != nil || n <= 0 || n > 65535 {
			return &ConnectionError{Addr: addr, Err: ErrInvalidConfig}
		}
		c.masterAddr = addr
		return nil
	}
}

// WithReplicaReadOnly sets whether a replica rejects client writes (default: true)
func WithReplicaReadOnly(readOnly bool) Option {
	return func(c *config) error {
		c.replicaReadOnly = readOnly
		return nil
	}
}

// WithDir sets the directory the snapshot is read from
func WithDir(dir string) Option {
	return func(c *config) error {
		if dir == "" {
			return ErrInvalidConfig
		}
		c.dir = dir
		return nil
	}
}

// WithDBFilename sets the snapshot file name inside the snapshot directory
func WithDBFilename(name string) Option {
	return func(c *config) error {
		if name == "" || strings.ContainsAny(name, `/\`) {
			return ErrInvalidConfig
		}
		c.dbFilename = name
		return nil
	}
}

// WithConnectTimeout sets the dial timeout for the master connection
func WithConnectTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout <= 0 {
			return ErrInvalidConfig
		}
		c.connectTimeout = timeout
		return nil
	}
}

// WithSyncTimeout bounds the handshake and snapshot transfer
func WithSyncTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout <= 0 {
			return ErrInvalidConfig
		}
		c.syncTimeout = timeout
		return nil
	}
}

// WithAckInterval sets how often a replica reports its offset to the master.
// Zero disables periodic acknowledgements; GETACK is still answered.
func WithAckInterval(interval time.Duration) Option {
	return func(c *config) error {
		if interval < 0 {
			return ErrInvalidConfig
		}
		c.ackInterval = interval
		return nil
	}
}

// WithReconnectBackoff sets the bounds of the exponential backoff between
// resync attempts
func WithReconnectBackoff(minDelay, maxDelay time.Duration) Option {
	return func(c *config) error {
		if minDelay <= 0 || maxDelay < minDelay {
			return ErrInvalidConfig
		}
		c.minBackoff = minDelay
		c.maxBackoff = maxDelay
		return nil
	}
}

// WithReplicaQueueSize bounds the frames buffered for each attached replica.
// A replica that falls further behind is disconnected.
func WithReplicaQueueSize(n int) Option {
	return func(c *config) error {
		if n <= 0 {
			return ErrInvalidConfig
		}
		c.queueSize = n
		return nil
	}
}

// WithLogger sets the logger for every component of the node
func WithLogger(logger *zap.Logger) Option {
	return func(c *config) error {
		if logger == nil {
			return ErrInvalidConfig
		}
		c.logger = logger
		return nil
	}
}

// WithMetrics makes the node record into m instead of a private collector set
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *config) error {
		if m == nil {
			return ErrInvalidConfig
		}
		c.metrics = m
		return nil
	}
}

// WithMetricsAddr serves /metrics and /health on addr
//
// Example:
//
//	WithMetricsAddr(":9121")
func WithMetricsAddr(addr string) Option {
	return func(c *config) error {
		c.metricsAddr = addr
		return nil
	}
}
