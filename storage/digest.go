package storage

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/cespare/xxhash/v2"
)

const emptyDigest = "0000000000000000"

// Digest returns an order independent hash of every live key and value.
// Two keyspaces holding the same data produce the same digest regardless of
// insertion order. Expiry times are left out because a replica computes its
// own deadline from a relative expiry.
func (s *Memory) Digest() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	var acc uint64
	for key, value := range s.data {
		if value.expiredAt(now) {
			continue
		}
		acc ^= digestValue(key, value)
	}
	return formatDigest(acc)
}

// DigestKey returns the hash of a single key, all zeros when absent
func (s *Memory) DigestKey(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, exists := s.lookup(key)
	if !exists {
		return emptyDigest
	}
	return formatDigest(digestValue(key, value))
}

func digestValue(key string, value *Value) uint64 {
	h := xxhash.New()
	var lenBuf [binary.MaxVarintLen64]byte

	writeChunk := func(b []byte) {
		n := binary.PutUvarint(lenBuf[:], uint64(len(b)))
		_, _ = h.Write(lenBuf[:n])
		_, _ = h.Write(b)
	}

	writeChunk([]byte(key))
	_, _ = h.Write([]byte{byte(value.Type)})

	switch v := value.Data.(type) {
	case *StringValue:
		writeChunk(v.Data)
	case *StreamValue:
		var idBuf [16]byte
		for _, entry := range v.Entries {
			binary.BigEndian.PutUint64(idBuf[:8], entry.ID.Ms)
			binary.BigEndian.PutUint64(idBuf[8:], entry.ID.Seq)
			_, _ = h.Write(idBuf[:])
			for _, f := range entry.Fields {
				writeChunk(f)
			}
		}
	}
	return h.Sum64()
}

func formatDigest(sum uint64) string {
	if sum == 0 {
		return emptyDigest
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], sum)
	return hex.EncodeToString(b[:])
}
