package storage

import (
	"fmt"
	"testing"
	"time"
)

// BenchmarkStorageGet benchmarks Get operations with different value sizes
func BenchmarkStorageGet(b *testing.B) {
	scenarios := []struct {
		name string
		size int
	}{
		{name: "Small", size: 16},
		{name: "Medium", size: 1024},
		{name: "Large", size: 1024 * 1024},
	}

	for _, sc := range scenarios {
		b.Run(sc.name, func(b *testing.B) {
			s := NewMemory()
			defer s.Close()
			_ = s.Set("key", make([]byte, sc.size), nil)

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_, _, _ = s.Get("key")
			}
		})
	}
}

// BenchmarkStorageSetParallel measures write throughput under contention
func BenchmarkStorageSetParallel(b *testing.B) {
	s := NewMemory()
	defer s.Close()
	value := []byte("value")
	deadline := time.Now().Add(time.Hour)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			_ = s.Set(fmt.Sprintf("key:%d", i%1024), value, &deadline)
			i++
		}
	})
}

// BenchmarkXAdd measures stream appends with generated IDs
func BenchmarkXAdd(b *testing.B) {
	s := NewMemory()
	defer s.Close()
	fields := [][]byte{[]byte("sensor"), []byte("42")}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = s.XAdd("bench", AutoID(), fields)
	}
}

// BenchmarkCleanup measures one sampling cycle over a mostly expired keyspace
func BenchmarkCleanup(b *testing.B) {
	for _, size := range []int{1000, 100000} {
		b.Run(fmt.Sprintf("Keys_%d", size), func(b *testing.B) {
			s := NewMemory(WithCleanupConfig(CleanupConfig{
				SampleSize:       CleanupConfigDefault.SampleSize,
				MaxRounds:        CleanupConfigDefault.MaxRounds,
				ExpiredThreshold: CleanupConfigDefault.ExpiredThreshold,
			}))
			defer s.Close()

			past := time.Now().Add(-time.Minute)
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				b.StopTimer()
				for k := 0; k < size; k++ {
					_ = s.Set(fmt.Sprintf("k:%d", k), []byte("x"), &past)
				}
				b.StartTimer()
				s.performCleanup()
			}
		})
	}
}
