package rdb

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

// RDB format constants
const (
	MinSupportedRDBVersion = 1
	MaxSupportedRDBVersion = 12

	// checksumSinceVersion is the first version carrying a CRC64 trailer
	checksumSinceVersion = 5

	RDBOpcodeIdle     = 0xF8
	RDBOpcodeFreq     = 0xF9
	RDBOpcodeAux      = 0xFA
	RDBOpcodeResizeDB = 0xFB
	RDBOpcodeExpiryMs = 0xFC
	RDBOpcodeExpiry   = 0xFD
	RDBOpcodeDB       = 0xFE
	RDBOpcodeEOF      = 0xFF

	RDBTypeString           = 0
	RDBTypeStreamListpacks  = 15
	RDBTypeStreamListpacks2 = 19
	RDBTypeStreamListpacks3 = 21

	// Length encodings
	rdbLen6Bit   = 0
	rdbLen14Bit  = 1
	rdbLen32Or64 = 2
	rdbLen32     = 0x80
	rdbLen64     = 0x81

	// Special string encodings
	rdbEncInt8  = 0
	rdbEncInt16 = 1
	rdbEncInt32 = 2
	rdbEncLZF   = 3

	// maxStringSize bounds a single string allocation
	maxStringSize = 512 * 1024 * 1024
)

// FormatError reports a snapshot that cannot be loaded. Offset is the byte
// position in the file where the problem was detected.
type FormatError struct {
	Offset int64
	Reason string
	Err    error
}

// Error implements the error interface
func (e *FormatError) Error() string {
	msg := fmt.Sprintf("rdb: %s at offset %d", e.Reason, e.Offset)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *FormatError) Unwrap() error {
	return e.Err
}

// ErrChecksum is wrapped by the FormatError of a file whose trailer does not
// match its content
var ErrChecksum = errors.New("checksum mismatch")

// Handler processes RDB entries during parsing
type Handler interface {
	// OnDatabase is called when switching to a new database
	OnDatabase(index int) error

	// OnKey is called for each key. value.Expiry carries the key's
	// deadline, if any.
	OnKey(key string, value *storage.Value) error

	// OnAux is called for auxiliary fields
	OnAux(key, value []byte) error

	// OnEnd is called once the EOF opcode and checksum were verified
	OnEnd() error
}

// Parser parses RDB files in streaming mode
type Parser struct {
	br      *bufio.Reader
	handler Handler
	version int
	offset  int64
	crc     uint64
}

// NewParser creates a new RDB parser
func NewParser(r io.Reader, handler Handler) *Parser {
	return &Parser{
		br:      bufio.NewReader(r),
		handler: handler,
	}
}

// Parse is a convenience function to parse an RDB stream
func Parse(r io.Reader, handler Handler) error {
	return NewParser(r, handler).Parse()
}

// Version returns the version read from the header
func (p *Parser) Version() int {
	return p.version
}

// Parse parses the whole RDB stream. Any structural problem is returned as
// a *FormatError.
func (p *Parser) Parse() error {
	header, err := p.readFull(9)
	if err != nil {
		return err
	}

	if string(header[:5]) != "REDIS" {
		return p.errorf(0, "invalid magic %q", header[:5])
	}

	version, err := strconv.Atoi(string(header[5:]))
	if err != nil {
		return p.errorf(5, "invalid version %q", header[5:])
	}
	if version < MinSupportedRDBVersion || version > MaxSupportedRDBVersion {
		return p.errorf(5, "unsupported version %d (supported: %d-%d)",
			version, MinSupportedRDBVersion, MaxSupportedRDBVersion)
	}
	p.version = version

	var expiry *time.Time

	for {
		opcodeAt := p.offset
		opcode, err := p.readByte()
		if err != nil {
			return err
		}

		switch opcode {
		case RDBOpcodeEOF:
			if err := p.verifyChecksum(); err != nil {
				return err
			}
			return p.handler.OnEnd()

		case RDBOpcodeDB:
			db, err := p.readLength()
			if err != nil {
				return err
			}
			if err := p.handler.OnDatabase(int(db)); err != nil {
				return err
			}

		case RDBOpcodeExpiry:
			b, err := p.readFull(4)
			if err != nil {
				return err
			}
			t := time.Unix(int64(binary.LittleEndian.Uint32(b)), 0)
			expiry = &t

		case RDBOpcodeExpiryMs:
			ms, err := p.readMillis()
			if err != nil {
				return err
			}
			t := time.UnixMilli(ms)
			expiry = &t

		case RDBOpcodeResizeDB:
			// Size hints for the main and expires tables
			if _, err := p.readLength(); err != nil {
				return err
			}
			if _, err := p.readLength(); err != nil {
				return err
			}

		case RDBOpcodeAux:
			key, err := p.readString()
			if err != nil {
				return err
			}
			value, err := p.readString()
			if err != nil {
				return err
			}
			if err := p.handler.OnAux(key, value); err != nil {
				return err
			}

		case RDBOpcodeIdle:
			// LRU idle time, not tracked
			if _, err := p.readLength(); err != nil {
				return err
			}

		case RDBOpcodeFreq:
			// LFU counter, not tracked
			if _, err := p.readByte(); err != nil {
				return err
			}

		default:
			if err := p.readKeyValue(opcodeAt, opcode, expiry); err != nil {
				return err
			}
			expiry = nil
		}
	}
}

// verifyChecksum reads the trailer that follows the EOF opcode
func (p *Parser) verifyChecksum() error {
	if p.version < checksumSinceVersion {
		return nil
	}

	computed := p.crc
	at := p.offset
	trailer, err := p.readFull(8)
	if err != nil {
		return err
	}

	expected := binary.LittleEndian.Uint64(trailer)
	if expected != 0 && expected != computed {
		return &FormatError{
			Offset: at,
			Reason: fmt.Sprintf("expected checksum %016x, computed %016x", expected, computed),
			Err:    ErrChecksum,
		}
	}
	return nil
}

func (p *Parser) readKeyValue(at int64, valueType byte, expiry *time.Time) error {
	switch valueType {
	case RDBTypeString, RDBTypeStreamListpacks, RDBTypeStreamListpacks2, RDBTypeStreamListpacks3:
	default:
		return p.errorf(at, "unsupported value type %d", valueType)
	}

	key, err := p.readString()
	if err != nil {
		return err
	}

	var value *storage.Value
	if valueType == RDBTypeString {
		data, err := p.readString()
		if err != nil {
			return err
		}
		value = storage.NewStringValue(data, nil)
	} else {
		value, err = p.readStream(valueType)
		if err != nil {
			return err
		}
	}
	value.Expiry = expiry

	return p.handler.OnKey(string(key), value)
}

// readLength reads a length-encoded integer. Special string encodings are
// rejected; use readString for values that may carry them.
func (p *Parser) readLength() (uint64, error) {
	at := p.offset
	length, encoded, err := p.readLengthOrEncoding()
	if err != nil {
		return 0, err
	}
	if encoded {
		return 0, p.errorf(at, "unexpected string encoding %d where a length was expected", length)
	}
	return length, nil
}

// readLengthOrEncoding returns either a length or, when encoded is true, the
// special string encoding selector.
func (p *Parser) readLengthOrEncoding() (uint64, bool, error) {
	b, err := p.readByte()
	if err != nil {
		return 0, false, err
	}

	switch (b & 0xC0) >> 6 {
	case rdbLen6Bit:
		return uint64(b & 0x3F), false, nil

	case rdbLen14Bit:
		b2, err := p.readByte()
		if err != nil {
			return 0, false, err
		}
		return uint64(b&0x3F)<<8 | uint64(b2), false, nil

	case rdbLen32Or64:
		switch b {
		case rdbLen32:
			buf, err := p.readFull(4)
			if err != nil {
				return 0, false, err
			}
			return uint64(binary.BigEndian.Uint32(buf)), false, nil
		case rdbLen64:
			buf, err := p.readFull(8)
			if err != nil {
				return 0, false, err
			}
			return binary.BigEndian.Uint64(buf), false, nil
		default:
			return 0, false, p.errorf(p.offset-1, "invalid length prefix 0x%02x", b)
		}

	default:
		return uint64(b & 0x3F), true, nil
	}
}

// readString reads a string that may use an integer or LZF encoding
func (p *Parser) readString() ([]byte, error) {
	at := p.offset
	length, encoded, err := p.readLengthOrEncoding()
	if err != nil {
		return nil, err
	}

	if !encoded {
		if length > maxStringSize {
			return nil, p.errorf(at, "string length %d too large", length)
		}
		return p.readFull(int(length))
	}

	switch length {
	case rdbEncInt8:
		b, err := p.readByte()
		if err != nil {
			return nil, err
		}
		return strconv.AppendInt(nil, int64(int8(b)), 10), nil

	case rdbEncInt16:
		buf, err := p.readFull(2)
		if err != nil {
			return nil, err
		}
		return strconv.AppendInt(nil, int64(int16(binary.LittleEndian.Uint16(buf))), 10), nil

	case rdbEncInt32:
		buf, err := p.readFull(4)
		if err != nil {
			return nil, err
		}
		return strconv.AppendInt(nil, int64(int32(binary.LittleEndian.Uint32(buf))), 10), nil

	case rdbEncLZF:
		return p.readCompressedString()

	default:
		return nil, p.errorf(at, "invalid string encoding %d", length)
	}
}

// readCompressedString reads an LZF compressed string
func (p *Parser) readCompressedString() ([]byte, error) {
	at := p.offset
	compressedLen, err := p.readLength()
	if err != nil {
		return nil, err
	}
	uncompressedLen, err := p.readLength()
	if err != nil {
		return nil, err
	}
	if compressedLen > maxStringSize || uncompressedLen > maxStringSize {
		return nil, p.errorf(at, "compressed string too large")
	}

	compressed, err := p.readFull(int(compressedLen))
	if err != nil {
		return nil, err
	}

	data, err := lzfDecompress(compressed, int(uncompressedLen))
	if err != nil {
		return nil, &FormatError{Offset: at, Reason: "corrupt LZF string", Err: err}
	}
	return data, nil
}

// readMillis reads a little endian millisecond timestamp
func (p *Parser) readMillis() (int64, error) {
	buf, err := p.readFull(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(buf)), nil
}

func (p *Parser) readByte() (byte, error) {
	b, err := p.br.ReadByte()
	if err != nil {
		return 0, p.truncated(err)
	}
	p.crc = crcTable[byte(p.crc)^b] ^ (p.crc >> 8)
	p.offset++
	return b, nil
}

func (p *Parser) readFull(n int) ([]byte, error) {
	buf := make([]byte, n)
	read, err := io.ReadFull(p.br, buf)
	p.crc = crcUpdate(p.crc, buf[:read])
	p.offset += int64(read)
	if err != nil {
		return nil, p.truncated(err)
	}
	return buf, nil
}

func (p *Parser) truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &FormatError{Offset: p.offset, Reason: "unexpected end of file", Err: io.ErrUnexpectedEOF}
	}
	return &FormatError{Offset: p.offset, Reason: "read failed", Err: err}
}

func (p *Parser) errorf(at int64, format string, args ...interface{}) error {
	return &FormatError{Offset: at, Reason: fmt.Sprintf(format, args...)}
}
