package replication

import (
	"errors"
	"fmt"
)

var (
	// ErrQueueFull is recorded when a replica falls too far behind and its
	// link is closed.
	ErrQueueFull = errors.New("replica output queue full")

	// ErrReplicaClosed is returned when writing to a closed replica link.
	ErrReplicaClosed = errors.New("replica link closed")

	// ErrNotStreaming is returned by operations that need a replica in the
	// STREAMING state.
	ErrNotStreaming = errors.New("replica is not streaming")

	// ErrClientStopped is returned by Start on a client that was stopped.
	ErrClientStopped = errors.New("replication client stopped")
)

// Sync phases reported in SyncError.
const (
	PhaseConnect   = "connect"
	PhaseHandshake = "handshake"
	PhaseSnapshot  = "snapshot"
	PhaseStream    = "stream"
)

// SyncError describes a replication link failure. It is never fatal: the
// client logs it, closes the link and starts a full resync.
type SyncError struct {
	Phase   string
	Err     error
	Retries int
}

func (e *SyncError) Error() string {
	if e.Retries > 0 {
		return fmt.Sprintf("replication %s failed (retry %d): %v", e.Phase, e.Retries, e.Err)
	}
	return fmt.Sprintf("replication %s failed: %v", e.Phase, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

func syncError(phase string, err error) *SyncError {
	var se *SyncError
	if errors.As(err, &se) {
		return se
	}
	return &SyncError{Phase: phase, Err: err}
}
