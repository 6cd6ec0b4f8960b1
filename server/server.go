package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"github.com/raniellyferreira/redis-inmemory-server/command"
)

// DefaultPipelineDepth bounds the decoded commands a connection buffers
// ahead of the executor.
const DefaultPipelineDepth = 128

// ErrServerClosed is returned by Start after Shutdown.
var ErrServerClosed = errors.New("server closed")

// MetricsCollector receives connection events
type MetricsCollector interface {
	ConnectionOpened()
	ConnectionClosed()
}

// Server provides Redis protocol server functionality
type Server struct {
	addr       string
	dispatcher *command.Dispatcher
	logger     *zap.Logger
	metrics    MetricsCollector
	depth      int

	listener net.Listener
	clients  *xsync.MapOf[uint64, *Conn]
	nextID   atomic.Uint64

	totalConnections atomic.Int64
	closed           atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the server logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the connection metrics collector
func WithMetrics(m MetricsCollector) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithPipelineDepth sets how many decoded commands a connection may queue
func WithPipelineDepth(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.depth = n
		}
	}
}

// New creates a server that will listen on addr
func New(addr string, d *command.Dispatcher, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		addr:       addr,
		dispatcher: d,
		logger:     zap.NewNop(),
		depth:      DefaultPipelineDepth,
		clients:    xsync.NewMapOf[uint64, *Conn](),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start binds the listener and accepts connections in the background
func (s *Server) Start() error {
	if s.closed.Load() {
		return ErrServerClosed
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.logger.Info("Server listening", zap.String("addr", ln.Addr().String()))

	s.wg.Add(1)
	go s.acceptConnections()

	return nil
}

// Addr returns the server's listening address
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of open connections
func (s *Server) ClientCount() int {
	return s.clients.Size()
}

// Stats is a snapshot of server counters
type Stats struct {
	ConnectedClients int
	TotalConnections int64
}

// Stats returns server statistics
func (s *Server) Stats() Stats {
	return Stats{
		ConnectedClients: s.ClientCount(),
		TotalConnections: s.totalConnections.Load(),
	}
}

// Shutdown stops accepting, closes every connection and waits for their
// goroutines to finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.logger.Info("Shutting down server", zap.Int("clients", s.ClientCount()))

	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}
	s.clients.Range(func(_ uint64, c *Conn) bool {
		c.Close()
		return true
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("server shutdown: %w", ctx.Err())
	}
}

// acceptConnections accepts new client connections
func (s *Server) acceptConnections() {
	defer s.wg.Done()

	for {
		nc, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			s.logger.Error("Accept failed", zap.Error(err))
			return
		}

		c := newConn(s, nc)
		s.clients.Store(c.id, c)
		s.totalConnections.Add(1)
		if s.metrics != nil {
			s.metrics.ConnectionOpened()
		}
		s.logger.Debug("Client connected",
			zap.Uint64("id", c.id),
			zap.String("remote", c.RemoteAddr()))

		s.wg.Add(1)
		go c.serve()
	}
}

func (s *Server) forget(c *Conn) {
	if _, ok := s.clients.LoadAndDelete(c.id); ok && s.metrics != nil {
		s.metrics.ConnectionClosed()
	}
}
