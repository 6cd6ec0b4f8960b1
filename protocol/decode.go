package protocol

import (
	"bytes"
	"errors"
	"strconv"
)

const (
	// CRLF is the Redis protocol line terminator
	CRLF = "\r\n"

	// maxBulkSize is the maximum size for bulk strings (512MB, as Redis)
	maxBulkSize = 512 * 1024 * 1024

	// maxArraySize is the maximum size for arrays
	maxArraySize = 1024 * 1024

	// maxInlineSize bounds a line that has not been terminated yet
	maxInlineSize = 64 * 1024

	// maxDepth bounds array nesting
	maxDepth = 32

	// initialArrayCap caps the capacity preallocated from an array header
	initialArrayCap = 1024
)

// ErrIncomplete is returned by Decode when the buffer holds only part of a
// frame. Nothing is consumed in that case.
var ErrIncomplete = errors.New("incomplete frame")

// ProtocolError represents malformed framing. The connection that produced
// it cannot be resynchronised and must be closed.
type ProtocolError struct {
	Message string
}

// Error implements the error interface
func (e *ProtocolError) Error() string {
	return "Protocol error: " + e.Message
}

func protocolError(msg string) error {
	return &ProtocolError{Message: msg}
}

// Decode decodes the first frame held in buf and returns it together with the
// number of bytes it occupies. Lines that do not start with a RESP type byte
// are treated as inline commands and returned as arrays of bulk strings.
//
// When buf ends in the middle of a frame, Decode returns ErrIncomplete and
// n == 0 so the caller can append more data and retry.
func Decode(buf []byte) (Value, int, error) {
	if len(buf) == 0 {
		return Value{}, 0, ErrIncomplete
	}

	switch ValueType(buf[0]) {
	case TypeSimpleString, TypeError, TypeInteger, TypeBulkString, TypeArray:
		return decodeValue(buf, 0, 0)
	default:
		return decodeInline(buf)
	}
}

func decodeValue(buf []byte, pos, depth int) (Value, int, error) {
	if pos >= len(buf) {
		return Value{}, 0, ErrIncomplete
	}
	if depth > maxDepth {
		return Value{}, 0, protocolError("nesting too deep")
	}

	typ := ValueType(buf[pos])
	line, next, err := readLine(buf, pos+1)
	if err != nil {
		return Value{}, 0, err
	}

	switch typ {
	case TypeSimpleString, TypeError:
		return Value{Type: typ, Data: clone(line)}, next, nil

	case TypeInteger:
		n, err := parseInt64(line)
		if err != nil {
			return Value{}, 0, protocolError("invalid integer '" + string(line) + "'")
		}
		return Value{Type: TypeInteger, Integer: n}, next, nil

	case TypeBulkString:
		length, err := parseInt64(line)
		if err != nil || length < -1 || length > maxBulkSize {
			return Value{}, 0, protocolError("invalid bulk length")
		}
		if length == -1 {
			return Value{Type: TypeBulkString, IsNull: true}, next, nil
		}
		end := next + int(length)
		if end+2 > len(buf) {
			return Value{}, 0, ErrIncomplete
		}
		if buf[end] != '\r' || buf[end+1] != '\n' {
			return Value{}, 0, protocolError("bulk string not terminated by CRLF")
		}
		return Value{Type: TypeBulkString, Data: clone(buf[next:end])}, end + 2, nil

	case TypeArray:
		length, err := parseInt64(line)
		if err != nil || length < -1 || length > maxArraySize {
			return Value{}, 0, protocolError("invalid multibulk length")
		}
		if length == -1 {
			return Value{Type: TypeArray, IsNull: true}, next, nil
		}
		// The header alone does not prove the elements will arrive.
		items := make([]Value, 0, min(length, initialArrayCap))
		for i := int64(0); i < length; i++ {
			item, after, err := decodeValue(buf, next, depth+1)
			if err != nil {
				return Value{}, 0, err
			}
			items = append(items, item)
			next = after
		}
		return Value{Type: TypeArray, Array: items}, next, nil

	default:
		return Value{}, 0, protocolError("expected '$', got '" + string(rune(typ)) + "'")
	}
}

// decodeInline splits a plain text line on whitespace.
func decodeInline(buf []byte) (Value, int, error) {
	idx := bytes.IndexByte(buf, '\n')
	if idx < 0 {
		if len(buf) > maxInlineSize {
			return Value{}, 0, protocolError("too big inline request")
		}
		return Value{}, 0, ErrIncomplete
	}

	line := bytes.TrimSuffix(buf[:idx], []byte{'\r'})
	fields := bytes.Fields(line)
	items := make([]Value, len(fields))
	for i, f := range fields {
		items[i] = Value{Type: TypeBulkString, Data: clone(f)}
	}
	return Value{Type: TypeArray, Array: items}, idx + 1, nil
}

// readLine returns the CRLF-terminated line starting at pos and the offset
// right after the terminator.
func readLine(buf []byte, pos int) ([]byte, int, error) {
	idx := bytes.IndexByte(buf[pos:], '\n')
	if idx < 0 {
		if len(buf)-pos > maxInlineSize {
			return nil, 0, protocolError("too big line")
		}
		return nil, 0, ErrIncomplete
	}
	end := pos + idx
	if idx == 0 || buf[end-1] != '\r' {
		return nil, 0, protocolError("missing CRLF terminator")
	}
	return buf[pos : end-1], end + 1, nil
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// parseInt64 parses an int64 from a byte slice without allocation
func parseInt64(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, strconv.ErrSyntax
	}

	var neg bool
	i := 0
	switch b[0] {
	case '-':
		neg = true
		i = 1
	case '+':
		i = 1
	}

	if i >= len(b) {
		return 0, strconv.ErrSyntax
	}

	var n int64
	for ; i < len(b); i++ {
		if b[i] < '0' || b[i] > '9' {
			return 0, strconv.ErrSyntax
		}
		if n > (1<<63-1)/10 {
			return 0, strconv.ErrRange
		}
		n = n*10 + int64(b[i]-'0')
	}

	if neg {
		return -n, nil
	}
	return n, nil
}
