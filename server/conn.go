package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/raniellyferreira/redis-inmemory-server/command"
	"github.com/raniellyferreira/redis-inmemory-server/protocol"
)

// Conn is one client connection. It implements replication.Peer so the
// connection can be handed to the master on PSYNC.
type Conn struct {
	id      uint64
	conn    net.Conn
	server  *Server
	reader  *protocol.Reader
	session *command.Session

	mu     sync.Mutex
	writer *protocol.Writer

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// frame is what the reader hands to the executor: a command, or the error
// that ended the stream.
type frame struct {
	cmd *protocol.Command
	err error
}

func newConn(s *Server, nc net.Conn) *Conn {
	ctx, cancel := context.WithCancel(s.ctx)
	c := &Conn{
		id:     s.nextID.Add(1),
		conn:   nc,
		server: s,
		reader: protocol.NewReader(nc),
		writer: protocol.NewWriter(nc),
		ctx:    ctx,
		cancel: cancel,
	}
	c.session = command.NewSession(ctx, c.id, c)
	return c
}

// ID returns the connection identifier
func (c *Conn) ID() uint64 {
	return c.id
}

// RemoteAddr returns the peer address
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Write sends pre-encoded bytes and flushes them.
func (c *Conn) Write(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writer.WriteRaw(p); err != nil {
		return err
	}
	return c.writer.Flush()
}

// Close cancels the session and closes the socket. It is safe to call more
// than once and from any goroutine.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
		c.server.forget(c)
	})
	return err
}

func (c *Conn) serve() {
	defer c.server.wg.Done()

	frames := make(chan frame, c.server.depth)
	go c.readLoop(frames)

	c.execLoop(frames)
	c.Close()
	c.server.dispatcher.CloseSession(c.session)

	c.server.logger.Debug("Client disconnected", zap.Uint64("id", c.id))
}

// readLoop decodes frames until the stream ends. The session context is
// cancelled as soon as the peer goes away.
func (c *Conn) readLoop(frames chan<- frame) {
	defer close(frames)

	for {
		v, err := c.reader.ReadNext()
		if err != nil {
			c.readFailed(frames, err)
			return
		}

		if v.Type == protocol.TypeArray && !v.IsNull && len(v.Array) == 0 {
			continue
		}

		cmd, err := protocol.ParseCommand(v)
		if err != nil {
			err = &protocol.ProtocolError{Message: "expected '$', got '" + string(rune(v.Type)) + "'"}
			if v.Type == protocol.TypeArray {
				err = &protocol.ProtocolError{Message: "expected '$' in multibulk"}
			}
			c.readFailed(frames, err)
			return
		}

		select {
		case frames <- frame{cmd: cmd}:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Conn) readFailed(frames chan<- frame, err error) {
	var perr *protocol.ProtocolError
	if errors.As(err, &perr) {
		c.server.logger.Debug("Protocol error",
			zap.Uint64("id", c.id),
			zap.String("remote", c.RemoteAddr()),
			zap.Error(err))
		select {
		case frames <- frame{err: err}:
		case <-c.ctx.Done():
		}
		return
	}

	if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && c.ctx.Err() == nil {
		c.server.logger.Debug("Read failed", zap.Uint64("id", c.id), zap.Error(err))
	}
	c.cancel()
}

// execLoop runs commands in arrival order. Replies are flushed once the
// pipeline has drained.
func (c *Conn) execLoop(frames <-chan frame) {
	for f := range frames {
		if f.err != nil {
			c.reply(protocol.Error("ERR "+f.err.Error()), true)
			return
		}

		if spec, ok := c.server.dispatcher.Lookup(f.cmd.Name); ok && spec.Flags.Has(command.FlagBlocking) {
			if err := c.reply(protocol.NoReply, true); err != nil {
				return
			}
		}

		reply := c.server.dispatcher.Dispatch(c.session, f.cmd)
		quit := c.session.CloseRequested()
		if err := c.reply(reply, quit || len(frames) == 0); err != nil {
			return
		}
		if quit {
			return
		}
	}
}

func (c *Conn) reply(v protocol.Value, flush bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writer.WriteValue(v); err != nil {
		return err
	}
	if flush {
		return c.writer.Flush()
	}
	return nil
}
