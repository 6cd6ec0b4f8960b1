package protocol_test

import (
	"bytes"
	"testing"

	"github.com/raniellyferreira/redis-inmemory-server/protocol"
)

func BenchmarkDecodeCommand(b *testing.B) {
	frame := []byte("*3\r\n$3\r\nSET\r\n$8\r\nuser:123\r\n$11\r\nhello world\r\n")
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := protocol.Decode(frame); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkReaderPipeline(b *testing.B) {
	frame := []byte("*2\r\n$3\r\nGET\r\n$8\r\nuser:123\r\n")
	input := bytes.Repeat(frame, 100)
	b.ReportAllocs()
	b.SetBytes(int64(len(input)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		reader := protocol.NewReader(bytes.NewReader(input))
		for j := 0; j < 100; j++ {
			if _, _, err := reader.ReadValue(); err != nil {
				b.Fatal(err)
			}
		}
	}
}

func BenchmarkEncodeStreamEntries(b *testing.B) {
	entries := make([]protocol.Value, 0, 10)
	for i := 0; i < 10; i++ {
		entries = append(entries, protocol.Array(
			protocol.BulkStringFromString("1526985054069-0"),
			protocol.Array(protocol.BulkStringFromString("temperature"), protocol.BulkStringFromString("36")),
		))
	}
	reply := protocol.Array(entries...)
	buf := make([]byte, 0, 1024)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf = protocol.AppendValue(buf[:0], reply)
	}
}
