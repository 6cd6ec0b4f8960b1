package rdb

import (
	"errors"
	"fmt"
)

var (
	errLZFLiteral  = errors.New("lzf: literal run past end of input")
	errLZFBackref  = errors.New("lzf: back reference truncated")
	errLZFOffset   = errors.New("lzf: back reference before start of output")
	errLZFOverflow = errors.New("lzf: output larger than declared")
)

// lzfDecompress expands an LZF block into exactly uncompressedLen bytes.
//
// A control byte below 32 starts a literal run of ctrl+1 bytes. Anything
// else is a back reference: the top three bits hold the length minus two
// (7 means an extra length byte follows) and the low five bits plus the next
// byte hold the distance minus one.
func lzfDecompress(in []byte, uncompressedLen int) ([]byte, error) {
	out := make([]byte, 0, uncompressedLen)
	ip := 0

	for ip < len(in) {
		ctrl := int(in[ip])
		ip++

		if ctrl < 32 {
			run := ctrl + 1
			if ip+run > len(in) {
				return nil, errLZFLiteral
			}
			if len(out)+run > uncompressedLen {
				return nil, errLZFOverflow
			}
			out = append(out, in[ip:ip+run]...)
			ip += run
			continue
		}

		length := ctrl >> 5
		if length == 7 {
			if ip >= len(in) {
				return nil, errLZFBackref
			}
			length += int(in[ip])
			ip++
		}
		length += 2

		if ip >= len(in) {
			return nil, errLZFBackref
		}
		ref := len(out) - ((ctrl&0x1f)<<8 | int(in[ip])) - 1
		ip++

		if ref < 0 {
			return nil, errLZFOffset
		}
		if len(out)+length > uncompressedLen {
			return nil, errLZFOverflow
		}
		// Byte by byte: the source may overlap the bytes being produced
		for i := 0; i < length; i++ {
			out = append(out, out[ref+i])
		}
	}

	if len(out) != uncompressedLen {
		return nil, fmt.Errorf("lzf: decompressed %d bytes, expected %d", len(out), uncompressedLen)
	}
	return out, nil
}
