package protocol

import (
	"errors"
	"fmt"
	"io"
)

const (
	defaultReadSize = 16 * 1024

	// maxBufferSize is the largest frame a Reader will accumulate.
	maxBufferSize = maxBulkSize + maxInlineSize
)

// Reader is a streaming RESP reader. It accumulates partial reads until a
// whole frame is available, so any number of pipelined frames may arrive in a
// single read and a frame may be split across many.
type Reader struct {
	rd  io.Reader
	buf []byte
	r   int // start of unread data
	w   int // end of unread data
}

// NewReader creates a new streaming RESP reader
func NewReader(r io.Reader) *Reader {
	return &Reader{
		rd:  r,
		buf: make([]byte, defaultReadSize),
	}
}

// ReadNext reads the next RESP value from the stream
func (r *Reader) ReadNext() (Value, error) {
	v, _, err := r.ReadValue()
	return v, err
}

// ReadValue reads the next frame and also returns the number of bytes it
// occupied on the wire.
func (r *Reader) ReadValue() (Value, int, error) {
	for {
		if r.w > r.r {
			v, n, err := Decode(r.buf[r.r:r.w])
			if err == nil {
				r.r += n
				return v, n, nil
			}
			if !errors.Is(err, ErrIncomplete) {
				return Value{}, 0, err
			}
		}
		if err := r.fill(); err != nil {
			return Value{}, 0, err
		}
	}
}

// Buffered returns the number of bytes already read from the connection but
// not yet decoded.
func (r *Reader) Buffered() int {
	return r.w - r.r
}

// ReadSnapshot reads a bulk payload that has no trailing CRLF, which is how
// a master ships its RDB file after +FULLRESYNC.
func (r *Reader) ReadSnapshot() ([]byte, error) {
	for r.w-r.r < 1 {
		if err := r.fill(); err != nil {
			return nil, err
		}
	}
	if ValueType(r.buf[r.r]) != TypeBulkString {
		return nil, fmt.Errorf("expected bulk string, got %q", r.buf[r.r])
	}

	var (
		line []byte
		next int
		err  error
	)
	for {
		line, next, err = readLine(r.buf[:r.w], r.r+1)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrIncomplete) {
			return nil, err
		}
		if err := r.fill(); err != nil {
			return nil, err
		}
	}

	length, err := parseInt64(line)
	if err != nil || length < 0 || length > maxBulkSize {
		return nil, protocolError("invalid snapshot length")
	}
	// readLine returned an absolute offset; fill may compact, so keep it
	// relative to r.r.
	header := next - r.r

	for r.w-r.r < header+int(length) {
		if err := r.fill(); err != nil {
			return nil, err
		}
	}

	start := r.r + header
	payload := clone(r.buf[start : start+int(length)])
	r.r = start + int(length)
	return payload, nil
}

// fill reads more data from the underlying reader, compacting and growing
// the buffer as needed.
func (r *Reader) fill() error {
	if r.r > 0 {
		copy(r.buf, r.buf[r.r:r.w])
		r.w -= r.r
		r.r = 0
	}

	if r.w == len(r.buf) {
		if len(r.buf) >= maxBufferSize {
			return protocolError("frame too large")
		}
		size := len(r.buf) * 2
		if size > maxBufferSize {
			size = maxBufferSize
		}
		grown := make([]byte, size)
		copy(grown, r.buf[:r.w])
		r.buf = grown
	}

	n, err := r.rd.Read(r.buf[r.w:])
	r.w += n
	if n > 0 {
		return nil
	}
	if err == nil {
		return io.ErrNoProgress
	}
	if errors.Is(err, io.EOF) && r.w > r.r {
		return io.ErrUnexpectedEOF
	}
	return err
}
