package storage

import (
	randv2 "math/rand/v2"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Memory implements Storage in memory
type Memory struct {
	mu   sync.RWMutex
	data map[string]*Value

	// changed is closed and replaced on every write
	changed chan struct{}

	now func() time.Time

	// Background cleanup
	cleanupConfig CleanupConfig
	cleanupStop   chan struct{}
	cleanupDone   chan struct{}
	closeOnce     sync.Once

	// Random number generator for sampling, guarded by mu
	rng *randv2.Rand
}

// MemoryOption is a function that configures a Memory instance
type MemoryOption func(*Memory)

// WithCleanupConfig replaces the background expiry settings. A zero
// Interval disables the background sweep; reads still expire lazily.
func WithCleanupConfig(config CleanupConfig) MemoryOption {
	return func(s *Memory) {
		s.cleanupConfig = config
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *Memory) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemory creates a new in-memory keyspace and starts its expiry sweep
func NewMemory(opts ...MemoryOption) *Memory {
	s := &Memory{
		data:          make(map[string]*Value),
		changed:       make(chan struct{}),
		now:           time.Now,
		cleanupConfig: CleanupConfigDefault,
		cleanupStop:   make(chan struct{}),
		cleanupDone:   make(chan struct{}),
		rng:           randv2.New(randv2.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.cleanupConfig.Interval > 0 {
		go s.cleanupExpiredKeys()
	} else {
		close(s.cleanupDone)
	}

	return s
}

// lookup returns the live value for key. Caller holds mu.
func (s *Memory) lookup(key string) (*Value, bool) {
	value, exists := s.data[key]
	if !exists || value.expiredAt(s.now()) {
		return nil, false
	}
	return value, true
}

// notifyLocked wakes everybody waiting on Changed. Caller holds mu for writing.
func (s *Memory) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// Changed returns a channel that is closed by the next write
func (s *Memory) Changed() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.changed
}

// Get retrieves a string by key
func (s *Memory) Get(key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.lookup(key)
	if !ok {
		return nil, false, nil
	}
	sv, ok := value.Data.(*StringValue)
	if !ok {
		return nil, false, ErrWrongType
	}

	result := make([]byte, len(sv.Data))
	copy(result, sv.Data)
	return result, true, nil
}

// Set stores a string with optional expiration, replacing any value
func (s *Memory) Set(key string, value []byte, expiry *time.Time) error {
	_, err := s.SetWith(key, value, SetOptions{Expiry: expiry})
	return err
}

// SetWith stores a string honouring the NX, XX and KEEPTTL modifiers. It
// reports whether the key was written.
func (s *Memory) SetWith(key string, value []byte, opts SetOptions) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, exists := s.lookup(key)
	if (opts.NX && exists) || (opts.XX && !exists) {
		return false, nil
	}

	expiry := opts.Expiry
	if opts.KeepTTL && exists && old.Type == ValueTypeString {
		expiry = old.Expiry
	}

	s.data[key] = NewStringValue(append([]byte(nil), value...), expiry)
	s.notifyLocked()
	return true, nil
}

// Incr adds delta to the integer stored at key, keeping its expiry
func (s *Memory) Incr(key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		current int64
		expiry  *time.Time
	)
	if old, exists := s.lookup(key); exists {
		sv, ok := old.Data.(*StringValue)
		if !ok {
			return 0, ErrWrongType
		}
		n, err := strconv.ParseInt(string(sv.Data), 10, 64)
		if err != nil {
			return 0, ErrNotInteger
		}
		current = n
		expiry = old.Expiry
	}

	if (delta > 0 && current > maxInt64-delta) || (delta < 0 && current < minInt64-delta) {
		return 0, ErrOverflow
	}
	current += delta

	s.data[key] = NewStringValue(strconv.AppendInt(nil, current, 10), expiry)
	s.notifyLocked()
	return current, nil
}

const (
	maxInt64 = int64(^uint64(0) >> 1)
	minInt64 = -maxInt64 - 1
)

// Del deletes one or more keys
func (s *Memory) Del(keys ...string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := int64(0)
	for _, key := range keys {
		if _, exists := s.lookup(key); exists {
			deleted++
		}
		delete(s.data, key)
	}
	if deleted > 0 {
		s.notifyLocked()
	}
	return deleted
}

// Exists counts the given keys that exist. A key named twice counts twice.
func (s *Memory) Exists(keys ...string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := int64(0)
	for _, key := range keys {
		if _, exists := s.lookup(key); exists {
			count++
		}
	}
	return count
}

// Type returns the type of a key, ValueTypeNone when absent
func (s *Memory) Type(key string) ValueType {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, exists := s.lookup(key)
	if !exists {
		return ValueTypeNone
	}
	return value.Type
}

// Keys returns the live keys matching a Redis glob pattern, sorted
func (s *Memory) Keys(pattern string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	keys := make([]string, 0)
	matchAll := pattern == "*"
	for key, value := range s.data {
		if value.expiredAt(now) {
			continue
		}
		if matchAll || MatchPattern(key, pattern) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// KeyCount returns the number of live keys
func (s *Memory) KeyCount() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	count := int64(0)
	for _, value := range s.data {
		if !value.expiredAt(now) {
			count++
		}
	}
	return count
}

// FlushAll removes every key
func (s *Memory) FlushAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = make(map[string]*Value)
	s.notifyLocked()
}

// Restore replaces the whole keyspace with values. Values already expired
// are dropped.
func (s *Memory) Restore(values map[string]*Value) {
	now := s.now()
	data := make(map[string]*Value, len(values))
	for key, value := range values {
		if value == nil || value.expiredAt(now) {
			continue
		}
		data[key] = value
	}

	s.mu.Lock()
	s.data = data
	s.notifyLocked()
	s.mu.Unlock()
}

// stream returns the stream at key, nil when absent. Caller holds mu.
func (s *Memory) stream(key string) (*StreamValue, error) {
	value, exists := s.lookup(key)
	if !exists {
		return nil, nil
	}
	sv, ok := value.Data.(*StreamValue)
	if !ok {
		return nil, ErrWrongType
	}
	return sv, nil
}

// XAdd appends an entry to the stream at key, creating it if needed, and
// returns the ID it was stored under. The ID is resolved under the write
// lock so concurrent "*" appends always produce increasing IDs.
func (s *Memory) XAdd(key string, spec IDSpec, fields [][]byte) (StreamID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sv, err := s.stream(key)
	if err != nil {
		return StreamID{}, err
	}

	var last StreamID
	if sv != nil {
		last = sv.LastID
	}

	id, err := spec.resolve(last, uint64(s.now().UnixMilli()))
	if err != nil {
		return StreamID{}, err
	}

	owned := make([][]byte, len(fields))
	for i, f := range fields {
		owned[i] = append([]byte(nil), f...)
	}

	if sv == nil {
		sv = &StreamValue{}
		s.data[key] = &Value{Type: ValueTypeStream, Data: sv}
	}
	sv.Entries = append(sv.Entries, StreamEntry{ID: id, Fields: owned})
	sv.LastID = id

	s.notifyLocked()
	return id, nil
}

// XRange returns entries with start <= ID <= end in ascending order. A
// count <= 0 means no limit.
func (s *Memory) XRange(key string, start, end StreamID, count int) ([]StreamEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sv, err := s.stream(key)
	if err != nil || sv == nil {
		return nil, err
	}
	return sv.rangeEntries(start, end, count), nil
}

// XReadSince returns entries with ID strictly greater than after
func (s *Memory) XReadSince(key string, after StreamID, count int) ([]StreamEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sv, err := s.stream(key)
	if err != nil || sv == nil {
		return nil, err
	}
	return sv.entriesAfter(after, count), nil
}

// LastStreamID returns the top ID of the stream at key, 0-0 when absent
func (s *Memory) LastStreamID(key string) (StreamID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sv, err := s.stream(key)
	if err != nil || sv == nil {
		return StreamID{}, err
	}
	return sv.LastID, nil
}

// Info returns keyspace statistics
func (s *Memory) Info() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	keys, expires, streams := int64(0), int64(0), int64(0)
	for _, value := range s.data {
		if value.expiredAt(now) {
			continue
		}
		keys++
		if value.Expiry != nil {
			expires++
		}
		if value.Type == ValueTypeStream {
			streams++
		}
	}

	return map[string]interface{}{
		"keys":    keys,
		"expires": expires,
		"streams": streams,
	}
}

// Close stops the background sweep
func (s *Memory) Close() error {
	s.closeOnce.Do(func() {
		close(s.cleanupStop)
	})
	<-s.cleanupDone
	return nil
}
