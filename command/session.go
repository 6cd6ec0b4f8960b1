package command

import (
	"context"
	"sync/atomic"

	"github.com/raniellyferreira/redis-inmemory-server/replication"
)

// Session is the per-connection state the dispatcher needs.
type Session struct {
	id   uint64
	ctx  context.Context
	peer replication.Peer

	// upstream marks the link to our master; its commands always apply.
	upstream bool
	// script marks commands issued by redis.call.
	script bool

	closing     atomic.Bool
	replicaLink atomic.Bool
}

// NewSession creates the session for one client connection. peer may be nil
// when the connection can never become a replica link.
func NewSession(ctx context.Context, id uint64, peer replication.Peer) *Session {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Session{id: id, ctx: ctx, peer: peer}
}

// ID returns the connection identifier.
func (s *Session) ID() uint64 {
	return s.id
}

// Context is cancelled when the connection closes.
func (s *Session) Context() context.Context {
	return s.ctx
}

// CloseRequested reports whether the client sent QUIT.
func (s *Session) CloseRequested() bool {
	return s.closing.Load()
}

// IsReplicaLink reports whether the connection was turned into a replica
// link by PSYNC.
func (s *Session) IsReplicaLink() bool {
	return s.replicaLink.Load()
}

// scriptSession returns the session redis.call runs in.
func (s *Session) scriptSession() *Session {
	return &Session{
		id:       s.id,
		ctx:      s.ctx,
		upstream: s.upstream,
		script:   true,
	}
}
