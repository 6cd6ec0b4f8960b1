package protocol_test

import (
	"bytes"
	"errors"
	"io"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raniellyferreira/redis-inmemory-server/protocol"
)

func TestRESPReader(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected protocol.Value
	}{
		{
			name:     "simple string",
			input:    "+OK\r\n",
			expected: protocol.Value{Type: protocol.TypeSimpleString, Data: []byte("OK")},
		},
		{
			name:     "error",
			input:    "-ERR unknown command\r\n",
			expected: protocol.Value{Type: protocol.TypeError, Data: []byte("ERR unknown command")},
		},
		{
			name:     "integer",
			input:    ":42\r\n",
			expected: protocol.Value{Type: protocol.TypeInteger, Integer: 42},
		},
		{
			name:     "negative integer",
			input:    ":-7\r\n",
			expected: protocol.Value{Type: protocol.TypeInteger, Integer: -7},
		},
		{
			name:     "bulk string",
			input:    "$5\r\nhello\r\n",
			expected: protocol.Value{Type: protocol.TypeBulkString, Data: []byte("hello")},
		},
		{
			name:     "bulk string with CRLF inside",
			input:    "$4\r\na\r\nb\r\n",
			expected: protocol.Value{Type: protocol.TypeBulkString, Data: []byte("a\r\nb")},
		},
		{
			name:     "null bulk string",
			input:    "$-1\r\n",
			expected: protocol.Value{Type: protocol.TypeBulkString, IsNull: true},
		},
		{
			name:     "empty bulk string",
			input:    "$0\r\n\r\n",
			expected: protocol.Value{Type: protocol.TypeBulkString, Data: []byte{}},
		},
		{
			name:     "null array",
			input:    "*-1\r\n",
			expected: protocol.Value{Type: protocol.TypeArray, IsNull: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := protocol.NewReader(strings.NewReader(tt.input))
			value, size, err := reader.ReadValue()
			require.NoError(t, err)

			assert.Equal(t, tt.expected.Type, value.Type)
			assert.Equal(t, tt.expected.IsNull, value.IsNull)
			assert.Equal(t, tt.expected.Integer, value.Integer)
			if tt.expected.Data != nil {
				assert.Equal(t, tt.expected.Data, value.Data)
			}
			assert.Equal(t, len(tt.input), size)
		})
	}
}

func TestRESPArray(t *testing.T) {
	input := "*3\r\n$3\r\nSET\r\n$3\r\nkey\r\n$5\r\nvalue\r\n"

	reader := protocol.NewReader(strings.NewReader(input))
	value, err := reader.ReadNext()
	require.NoError(t, err)

	require.Equal(t, protocol.TypeArray, value.Type)
	require.Len(t, value.Array, 3)
	for i, expected := range []string{"SET", "key", "value"} {
		assert.Equal(t, expected, string(value.Array[i].Data))
	}
}

func TestDecodeIncomplete(t *testing.T) {
	frame := "*2\r\n$3\r\nGET\r\n$3\r\nkey\r\n"

	for i := 0; i < len(frame); i++ {
		_, n, err := protocol.Decode([]byte(frame[:i]))
		require.ErrorIs(t, err, protocol.ErrIncomplete, "prefix %q", frame[:i])
		assert.Zero(t, n)
	}

	v, n, err := protocol.Decode([]byte(frame + "+extra"))
	require.NoError(t, err)
	assert.Equal(t, len(frame), n)
	assert.Equal(t, "[GET, key]", v.String())
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "bad bulk length", input: "$abc\r\nfoo\r\n"},
		{name: "negative bulk length", input: "$-5\r\n"},
		{name: "bad multibulk length", input: "*x\r\n"},
		{name: "bulk not terminated", input: "$3\r\nfooXY"},
		{name: "line without CR", input: "+OK\n"},
		{name: "bad integer", input: ":12a\r\n"},
		{name: "unknown nested type", input: "*1\r\n!oops\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := protocol.Decode([]byte(tt.input))
			var perr *protocol.ProtocolError
			require.True(t, errors.As(err, &perr), "got %v", err)
			assert.Contains(t, perr.Error(), "Protocol error")
		})
	}
}

func TestDecodeLargeArrayHeaderIsCheap(t *testing.T) {
	partial := []byte("*1048576\r\n$1\r\na\r\n")

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	for i := 0; i < 100; i++ {
		_, n, err := protocol.Decode(partial)
		require.ErrorIs(t, err, protocol.ErrIncomplete)
		require.Zero(t, n)
	}
	runtime.ReadMemStats(&after)

	// Preallocating the announced length would cost ~75MB per attempt.
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(64<<20))
}

func TestDecodeInline(t *testing.T) {
	v, n, err := protocol.Decode([]byte("SET  a   1\r\nGET a\r\n"))
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	cmd, err := protocol.ParseCommand(v)
	require.NoError(t, err)
	assert.Equal(t, "SET", cmd.Name)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("1")}, cmd.Args)

	v, n, err = protocol.Decode([]byte("PING\n"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Len(t, v.Array, 1)
}

func TestReaderPipelinedPartialReads(t *testing.T) {
	input := "*3\r\n$3\r\nSET\r\n$1\r\na\r\n$1\r\n1\r\n*2\r\n$3\r\nGET\r\n$1\r\na\r\nPING\r\n"

	// One byte per Read call forces every frame to be reassembled.
	reader := protocol.NewReader(iotest.OneByteReader(strings.NewReader(input)))

	var names []string
	total := 0
	for {
		v, size, err := reader.ReadValue()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		cmd, err := protocol.ParseCommand(v)
		require.NoError(t, err)
		names = append(names, cmd.Name)
		total += size
	}

	assert.Equal(t, []string{"SET", "GET", "PING"}, names)
	assert.Equal(t, len(input), total)
}

func TestReaderTruncatedFrame(t *testing.T) {
	reader := protocol.NewReader(strings.NewReader("*2\r\n$3\r\nGET\r\n"))
	_, _, err := reader.ReadValue()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadSnapshot(t *testing.T) {
	payload := "REDIS0011\xff\x00\x00\x00\x00\x00\x00\x00\x00"
	stream := "+FULLRESYNC abc 0\r\n$" + strconv.Itoa(len(payload)) + "\r\n" + payload + "*1\r\n$4\r\nPING\r\n"

	reader := protocol.NewReader(iotest.HalfReader(strings.NewReader(stream)))

	v, err := reader.ReadNext()
	require.NoError(t, err)
	assert.Equal(t, "FULLRESYNC abc 0", v.String())

	snapshot, err := reader.ReadSnapshot()
	require.NoError(t, err)
	assert.Equal(t, []byte(payload), snapshot)

	v, size, err := reader.ReadValue()
	require.NoError(t, err)
	assert.Equal(t, "[PING]", v.String())
	assert.Equal(t, 14, size)
}

func TestRESPWriter(t *testing.T) {
	tests := []struct {
		name     string
		write    func(w *protocol.Writer) error
		expected string
	}{
		{"simple string", func(w *protocol.Writer) error { return w.WriteSimpleString("OK") }, "+OK\r\n"},
		{"error", func(w *protocol.Writer) error { return w.WriteError("ERR bad\nthing") }, "-ERR bad thing\r\n"},
		{"bulk string", func(w *protocol.Writer) error { return w.WriteBulkString([]byte("hello")) }, "$5\r\nhello\r\n"},
		{"null bulk", func(w *protocol.Writer) error { return w.WriteNullBulkString() }, "$-1\r\n"},
		{"integer", func(w *protocol.Writer) error { return w.WriteInteger(42) }, ":42\r\n"},
		{"command", func(w *protocol.Writer) error { return w.WriteCommand("SET", "key", "value") },
			"*3\r\n$3\r\nSET\r\n$3\r\nkey\r\n$5\r\nvalue\r\n"},
		{"no reply", func(w *protocol.Writer) error { return w.WriteValue(protocol.NoReply) }, ""},
		{"nested array", func(w *protocol.Writer) error {
			return w.WriteValue(protocol.Array(
				protocol.BulkStringFromString("1-1"),
				protocol.Array(protocol.BulkStringFromString("f"), protocol.BulkStringFromString("v")),
			))
		}, "*2\r\n$3\r\n1-1\r\n*2\r\n$1\r\nf\r\n$1\r\nv\r\n"},
		{"null array", func(w *protocol.Writer) error { return w.WriteValue(protocol.NullArray()) }, "*-1\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			w := protocol.NewWriter(&buf)
			require.NoError(t, tt.write(w))
			require.NoError(t, w.Flush())
			assert.Equal(t, tt.expected, buf.String())
		})
	}
}

func TestEncodeCommandLength(t *testing.T) {
	frame := protocol.EncodeCommand([]byte("REPLCONF"), []byte("GETACK"), []byte("*"))
	assert.Equal(t, "*3\r\n$8\r\nREPLCONF\r\n$6\r\nGETACK\r\n$1\r\n*\r\n", string(frame))
	assert.Len(t, frame, 37)
}

func TestParseCommand(t *testing.T) {
	value := protocol.Array(
		protocol.BulkStringFromString("set"),
		protocol.BulkStringFromString("key"),
		protocol.BulkStringFromString("value"),
	)

	cmd, err := protocol.ParseCommand(value)
	require.NoError(t, err)
	assert.Equal(t, "SET", cmd.Name)
	assert.Equal(t, [][]byte{[]byte("key"), []byte("value")}, cmd.Args)
	assert.Equal(t, "SET key value", cmd.String())

	_, err = protocol.ParseCommand(protocol.Array())
	assert.Error(t, err)
	_, err = protocol.ParseCommand(protocol.Integer(1))
	assert.Error(t, err)
}
