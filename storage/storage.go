package storage

import (
	"errors"
	"time"
)

// Errors returned by keyspace operations. Their text is the reply a Redis
// client expects to see.
var (
	ErrWrongType        = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")
	ErrNotInteger       = errors.New("ERR value is not an integer or out of range")
	ErrOverflow         = errors.New("ERR increment or decrement would overflow")
	ErrInvalidStreamID  = errors.New("ERR Invalid stream ID specified as stream command argument")
	ErrStreamIDZero     = errors.New("ERR The ID specified in XADD must be greater than 0-0")
	ErrStreamIDTooSmall = errors.New("ERR The ID specified in XADD is equal or smaller than the target stream top item")
)

// Storage defines the keyspace operations used by the command layer
type Storage interface {
	// String operations
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte, expiry *time.Time) error
	SetWith(key string, value []byte, opts SetOptions) (bool, error)
	Incr(key string, delta int64) (int64, error)

	// Key operations
	Del(keys ...string) int64
	Exists(keys ...string) int64
	Type(key string) ValueType
	Keys(pattern string) []string
	KeyCount() int64
	FlushAll()

	// Stream operations
	XAdd(key string, id IDSpec, fields [][]byte) (StreamID, error)
	XRange(key string, start, end StreamID, count int) ([]StreamEntry, error)
	XReadSince(key string, after StreamID, count int) ([]StreamEntry, error)
	LastStreamID(key string) (StreamID, error)

	// Restore replaces the whole keyspace, as after loading a snapshot
	Restore(values map[string]*Value)

	// Changed returns a channel closed by the next write
	Changed() <-chan struct{}

	// Digest returns an order independent hash of the keyspace
	Digest() string
	DigestKey(key string) string

	// Info and stats
	Info() map[string]interface{}

	// Shutdown
	Close() error
}

// SetOptions carries the modifiers of the SET command
type SetOptions struct {
	// Expiry is the new absolute expiry, nil for none
	Expiry *time.Time
	// KeepTTL retains the expiry of an existing string
	KeepTTL bool
	// NX only sets the key when it does not exist
	NX bool
	// XX only sets the key when it already exists
	XX bool
}

// CleanupConfig holds configuration for incremental cleanup
type CleanupConfig struct {
	// Interval between two cleanup cycles
	Interval time.Duration
	// SampleSize is the number of keys to sample per round
	SampleSize int
	// MaxRounds is the maximum number of rounds per cleanup cycle
	MaxRounds int
	// ExpiredThreshold continues cleanup if this fraction of sampled keys are expired
	ExpiredThreshold float64
}

// CleanupConfigDefault mirrors the active expiry cycle of Redis: sample 20
// keys, keep going while more than a quarter of them had expired.
var CleanupConfigDefault = CleanupConfig{
	Interval:         time.Second,
	SampleSize:       20,
	MaxRounds:        4,
	ExpiredThreshold: 0.25,
}

// CleanupConfigLowLatency keeps every cycle short
var CleanupConfigLowLatency = CleanupConfig{
	Interval:         time.Second,
	SampleSize:       15,
	MaxRounds:        3,
	ExpiredThreshold: 0.4,
}

// CleanupConfigAggressive reclaims memory faster on keyspaces with many
// short lived keys
var CleanupConfigAggressive = CleanupConfig{
	Interval:         100 * time.Millisecond,
	SampleSize:       50,
	MaxRounds:        8,
	ExpiredThreshold: 0.15,
}
