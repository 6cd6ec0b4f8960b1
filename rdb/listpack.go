package rdb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
)

const (
	listpackHeaderSize = 6
	listpackEnd        = 0xFF
)

var errListpackTruncated = errors.New("listpack: entry runs past end of buffer")

// listpackEntry is one listpack element. Listpacks store numeric strings as
// integers, so an element is either one or the other.
type listpackEntry struct {
	str   []byte
	num   int64
	isInt bool
}

// bytes returns the element as a string, formatting integers in decimal
func (e listpackEntry) bytes() []byte {
	if e.isInt {
		return strconv.AppendInt(nil, e.num, 10)
	}
	return e.str
}

// int returns the element as an integer
func (e listpackEntry) int() (int64, error) {
	if e.isInt {
		return e.num, nil
	}
	n, err := strconv.ParseInt(string(e.str), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("listpack: element %q is not an integer", e.str)
	}
	return n, nil
}

// decodeListpack decodes every element of a serialized listpack.
//
// Layout: <total-bytes u32><num-elements u16> <element>* 0xFF, where each
// element is <encoding+data><backlen>.
func decodeListpack(b []byte) ([]listpackEntry, error) {
	if len(b) < listpackHeaderSize+1 {
		return nil, errors.New("listpack: buffer too short")
	}
	total := binary.LittleEndian.Uint32(b[0:4])
	if int(total) != len(b) {
		return nil, fmt.Errorf("listpack: header declares %d bytes, have %d", total, len(b))
	}
	declared := binary.LittleEndian.Uint16(b[4:6])

	entries := make([]listpackEntry, 0, declared)
	pos := listpackHeaderSize
	for {
		if pos >= len(b) {
			return nil, errors.New("listpack: missing terminator")
		}
		if b[pos] == listpackEnd {
			break
		}

		entry, size, err := decodeListpackEntry(b[pos:])
		if err != nil {
			return nil, err
		}
		pos += size + backlenSize(size)
		if pos > len(b) {
			return nil, errListpackTruncated
		}
		entries = append(entries, entry)
	}

	// 65535 means the count did not fit and must be computed
	if declared != 0xFFFF && int(declared) != len(entries) {
		return nil, fmt.Errorf("listpack: header declares %d elements, found %d", declared, len(entries))
	}
	return entries, nil
}

// decodeListpackEntry decodes the element at the start of b and returns the
// size of its encoding and data, backlen excluded.
func decodeListpackEntry(b []byte) (listpackEntry, int, error) {
	enc := b[0]

	switch {
	case enc&0x80 == 0:
		// 0xxxxxxx: 7 bit unsigned integer
		return listpackEntry{num: int64(enc & 0x7F), isInt: true}, 1, nil

	case enc&0xC0 == 0x80:
		// 10xxxxxx: string up to 63 bytes
		return listpackString(b, 1, int(enc&0x3F))

	case enc&0xE0 == 0xC0:
		// 110xxxxx yyyyyyyy: 13 bit signed integer
		if len(b) < 2 {
			return listpackEntry{}, 0, errListpackTruncated
		}
		uval := int64(enc&0x1F)<<8 | int64(b[1])
		if uval >= 1<<12 {
			uval -= 1 << 13
		}
		return listpackEntry{num: uval, isInt: true}, 2, nil

	case enc&0xF0 == 0xE0:
		// 1110xxxx yyyyyyyy: string up to 4095 bytes
		if len(b) < 2 {
			return listpackEntry{}, 0, errListpackTruncated
		}
		return listpackString(b, 2, int(enc&0x0F)<<8|int(b[1]))
	}

	switch enc {
	case 0xF0:
		if len(b) < 5 {
			return listpackEntry{}, 0, errListpackTruncated
		}
		return listpackString(b, 5, int(binary.LittleEndian.Uint32(b[1:5])))

	case 0xF1:
		if len(b) < 3 {
			return listpackEntry{}, 0, errListpackTruncated
		}
		return listpackEntry{num: int64(int16(binary.LittleEndian.Uint16(b[1:3]))), isInt: true}, 3, nil

	case 0xF2:
		if len(b) < 4 {
			return listpackEntry{}, 0, errListpackTruncated
		}
		uval := int64(b[1]) | int64(b[2])<<8 | int64(b[3])<<16
		if uval >= 1<<23 {
			uval -= 1 << 24
		}
		return listpackEntry{num: uval, isInt: true}, 4, nil

	case 0xF3:
		if len(b) < 5 {
			return listpackEntry{}, 0, errListpackTruncated
		}
		return listpackEntry{num: int64(int32(binary.LittleEndian.Uint32(b[1:5]))), isInt: true}, 5, nil

	case 0xF4:
		if len(b) < 9 {
			return listpackEntry{}, 0, errListpackTruncated
		}
		return listpackEntry{num: int64(binary.LittleEndian.Uint64(b[1:9])), isInt: true}, 9, nil
	}

	return listpackEntry{}, 0, fmt.Errorf("listpack: invalid encoding byte 0x%02x", enc)
}

func listpackString(b []byte, header, length int) (listpackEntry, int, error) {
	if header+length > len(b) {
		return listpackEntry{}, 0, errListpackTruncated
	}
	data := make([]byte, length)
	copy(data, b[header:header+length])
	return listpackEntry{str: data}, header + length, nil
}

// backlenSize is the number of bytes used to store the length of an element
// of size l, which follows the element so the list can be walked backwards.
func backlenSize(l int) int {
	switch {
	case l <= 127:
		return 1
	case l < 16383:
		return 2
	case l < 2097151:
		return 3
	case l < 268435455:
		return 4
	default:
		return 5
	}
}
