package storage

import (
	"runtime"
	"time"
)

// cleanupExpiredKeys runs in background to clean up expired keys
func (s *Memory) cleanupExpiredKeys() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.cleanupConfig.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.cleanupStop:
			return
		case <-ticker.C:
			s.performCleanup()
		}
	}
}

// performCleanup removes expired keys using incremental sampling: one round
// samples SampleSize keys and deletes the expired ones, and another round
// follows while the expired fraction stays above ExpiredThreshold.
func (s *Memory) performCleanup() int {
	config := s.cleanupConfig
	if config.SampleSize <= 0 {
		return 0
	}

	removed := 0
	for round := 0; round < config.MaxRounds; round++ {
		sampled, expired := s.cleanupRound(config.SampleSize)
		removed += expired

		if sampled == 0 {
			break
		}
		if float64(expired)/float64(sampled) < config.ExpiredThreshold {
			break
		}

		// Yield CPU briefly between rounds to allow other operations
		runtime.Gosched()
	}
	return removed
}

// cleanupRound samples keys carrying an expiry and deletes the expired ones
// under a single write lock.
func (s *Memory) cleanupRound(sampleSize int) (sampled, expired int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := s.sampleVolatileKeys(sampleSize)
	now := s.now()
	for _, key := range keys {
		if value, exists := s.data[key]; exists && value.expiredAt(now) {
			delete(s.data, key)
			expired++
		}
	}
	// Nothing waits on logically absent keys, so no notification.
	return len(keys), expired
}

// sampleVolatileKeys picks up to n keys with an expiry using reservoir
// sampling. Caller holds mu.
func (s *Memory) sampleVolatileKeys(n int) []string {
	sample := make([]string, 0, n)
	i := 0
	for key, value := range s.data {
		if value.Expiry == nil {
			continue
		}
		if i < n {
			sample = append(sample, key)
		} else if j := s.rng.IntN(i + 1); j < n {
			sample[j] = key
		}
		i++
	}
	return sample
}
