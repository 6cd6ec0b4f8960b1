package rdb

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

// LoadStats tracks the progress of a snapshot load
type LoadStats struct {
	Version int

	// Keys loaded into the keyspace
	Keys int64
	// Expired keys dropped at load time
	Expired int64
	// Skipped keys belonging to databases other than 0
	Skipped int64
	// TypeCounts counts loaded keys per type name
	TypeCounts map[string]int64

	Aux      map[string]string
	Duration time.Duration

	// BatchSize is the number of keys between two progress log lines
	BatchSize int64

	start     time.Time
	lastBatch time.Time
}

// NewLoadStats creates empty statistics
func NewLoadStats() *LoadStats {
	now := time.Now()
	return &LoadStats{
		TypeCounts: make(map[string]int64),
		Aux:        make(map[string]string),
		BatchSize:  10000,
		start:      now,
		lastBatch:  now,
	}
}

// RecordKey accounts for one loaded key and logs progress every BatchSize keys
func (s *LoadStats) RecordKey(typ storage.ValueType, logger *zap.Logger) {
	s.Keys++
	s.TypeCounts[typ.String()]++

	if s.BatchSize > 0 && s.Keys%s.BatchSize == 0 {
		now := time.Now()
		elapsed := now.Sub(s.lastBatch)
		rate := float64(s.BatchSize) / elapsed.Seconds()
		s.lastBatch = now
		logger.Info("Loading snapshot",
			zap.Int64("keys", s.Keys),
			zap.Float64("keys_per_sec", rate))
	}
}

// LogFinal logs a summary of the load
func (s *LoadStats) LogFinal(logger *zap.Logger) {
	logger.Info("Snapshot loaded",
		zap.Int("rdb_version", s.Version),
		zap.Int64("keys", s.Keys),
		zap.Int64("expired", s.Expired),
		zap.Int64("skipped", s.Skipped),
		zap.Any("types", s.TypeCounts),
		zap.Duration("duration", s.Duration))
}

// LoadOption configures a load
type LoadOption func(*loadConfig)

type loadConfig struct {
	logger *zap.Logger
	now    func() time.Time
}

// WithLogger sets the logger used for progress reporting
func WithLogger(logger *zap.Logger) LoadOption {
	return func(c *loadConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the time used to drop expired keys
func WithClock(now func() time.Time) LoadOption {
	return func(c *loadConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// storeHandler collects database 0 and hands it to the store in one Restore
// once the whole file has been verified, so a corrupt snapshot never leaves
// a partial keyspace behind.
type storeHandler struct {
	cfg     loadConfig
	stats   *LoadStats
	db      int
	values  map[string]*storage.Value
	store   storage.Storage
	nowTime time.Time
}

func (h *storeHandler) OnDatabase(index int) error {
	h.db = index
	if index != 0 {
		h.cfg.logger.Debug("Skipping snapshot database", zap.Int("db", index))
	}
	return nil
}

func (h *storeHandler) OnKey(key string, value *storage.Value) error {
	if h.db != 0 {
		h.stats.Skipped++
		return nil
	}
	if value.Expiry != nil && !h.nowTime.Before(*value.Expiry) {
		h.stats.Expired++
		return nil
	}
	h.values[key] = value
	h.stats.RecordKey(value.Type, h.cfg.logger)
	return nil
}

func (h *storeHandler) OnAux(key, value []byte) error {
	h.stats.Aux[string(key)] = string(value)
	h.cfg.logger.Debug("Snapshot aux field", zap.ByteString("key", key), zap.ByteString("value", value))
	return nil
}

func (h *storeHandler) OnEnd() error {
	h.store.Restore(h.values)
	return nil
}

// Load parses a snapshot from r and replaces the contents of store with its
// database 0. On error the store is left untouched.
func Load(r io.Reader, store storage.Storage, opts ...LoadOption) (*LoadStats, error) {
	cfg := loadConfig{logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}

	stats := NewLoadStats()
	h := &storeHandler{
		cfg:     cfg,
		stats:   stats,
		values:  make(map[string]*storage.Value),
		store:   store,
		nowTime: cfg.now(),
	}

	parser := NewParser(r, h)
	err := parser.Parse()
	stats.Version = parser.Version()
	stats.Duration = time.Since(stats.start)
	if err != nil {
		return stats, err
	}

	stats.LogFinal(cfg.logger)
	return stats, nil
}

// LoadFile loads the snapshot at path. A missing file is not an error: the
// store simply stays empty.
func LoadFile(path string, store storage.Storage, opts ...LoadOption) (*LoadStats, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewLoadStats(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	stats, err := Load(f, store, opts...)
	if err != nil {
		return stats, fmt.Errorf("load snapshot %s: %w", path, err)
	}
	return stats, nil
}
