package protocol

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
)

// Writer provides efficient writing of RESP protocol messages
type Writer struct {
	bw      *bufio.Writer
	scratch []byte
}

// NewWriter creates a new RESP protocol writer
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		bw:      bufio.NewWriter(w),
		scratch: make([]byte, 0, 512),
	}
}

// WriteValue writes a RESP value to the output stream. The NoReply marker
// writes nothing.
func (w *Writer) WriteValue(v Value) error {
	if v.IsNoReply() {
		return nil
	}
	if !validType(v.Type) {
		return fmt.Errorf("unsupported value type: %c", v.Type)
	}
	w.scratch = AppendValue(w.scratch[:0], v)
	_, err := w.bw.Write(w.scratch)
	return err
}

// WriteSimpleString writes a simple string
func (w *Writer) WriteSimpleString(s string) error {
	return w.WriteValue(SimpleString(s))
}

// WriteError writes an error message
func (w *Writer) WriteError(msg string) error {
	return w.WriteValue(Error(msg))
}

// WriteInteger writes an integer
func (w *Writer) WriteInteger(n int64) error {
	return w.WriteValue(Integer(n))
}

// WriteBulkString writes a bulk string
func (w *Writer) WriteBulkString(data []byte) error {
	return w.WriteValue(BulkString(data))
}

// WriteNullBulkString writes a null bulk string
func (w *Writer) WriteNullBulkString() error {
	return w.WriteValue(NullBulkString())
}

// WriteArray writes an array of values
func (w *Writer) WriteArray(values []Value) error {
	return w.WriteValue(Array(values...))
}

// WriteCommand writes a Redis command as a RESP array of bulk strings
func (w *Writer) WriteCommand(cmd string, args ...string) error {
	argv := make([][]byte, 0, len(args)+1)
	argv = append(argv, []byte(cmd))
	for _, arg := range args {
		argv = append(argv, []byte(arg))
	}
	_, err := w.bw.Write(EncodeCommand(argv...))
	return err
}

// WriteRaw writes pre-encoded bytes.
func (w *Writer) WriteRaw(p []byte) error {
	_, err := w.bw.Write(p)
	return err
}

// Flush flushes any buffered data to the underlying writer
func (w *Writer) Flush() error {
	return w.bw.Flush()
}

// Reset resets the writer to write to a new underlying writer
func (w *Writer) Reset(writer io.Writer) {
	w.bw.Reset(writer)
}

// Encode returns the wire form of v.
func Encode(v Value) []byte {
	return AppendValue(nil, v)
}

// EncodeCommand encodes argv as an array of bulk strings, the form used
// both for requests and for the replication stream.
func EncodeCommand(argv ...[]byte) []byte {
	size := 16
	for _, a := range argv {
		size += len(a) + 16
	}
	dst := make([]byte, 0, size)
	dst = appendHeader(dst, '*', int64(len(argv)))
	for _, a := range argv {
		dst = appendHeader(dst, '$', int64(len(a)))
		dst = append(dst, a...)
		dst = append(dst, CRLF...)
	}
	return dst
}

// AppendValue appends the wire form of v to dst.
func AppendValue(dst []byte, v Value) []byte {
	switch v.Type {
	case TypeSimpleString, TypeError:
		dst = append(dst, byte(v.Type))
		dst = append(dst, v.Data...)
		return append(dst, CRLF...)
	case TypeInteger:
		return appendHeader(dst, ':', v.Integer)
	case TypeBulkString:
		if v.IsNull {
			return append(dst, "$-1\r\n"...)
		}
		dst = appendHeader(dst, '$', int64(len(v.Data)))
		dst = append(dst, v.Data...)
		return append(dst, CRLF...)
	case TypeArray:
		if v.IsNull {
			return append(dst, "*-1\r\n"...)
		}
		dst = appendHeader(dst, '*', int64(len(v.Array)))
		for _, item := range v.Array {
			dst = AppendValue(dst, item)
		}
		return dst
	default:
		return dst
	}
}

func appendHeader(dst []byte, sigil byte, n int64) []byte {
	dst = append(dst, sigil)
	dst = strconv.AppendInt(dst, n, 10)
	return append(dst, CRLF...)
}

func validType(t ValueType) bool {
	switch t {
	case TypeSimpleString, TypeError, TypeInteger, TypeBulkString, TypeArray:
		return true
	}
	return false
}
