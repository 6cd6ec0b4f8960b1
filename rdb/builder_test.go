package rdb

import (
	"encoding/binary"
	"strconv"
)

// rdbBuilder assembles snapshot files for tests
type rdbBuilder struct {
	buf []byte
}

func newRDB(version int) *rdbBuilder {
	b := &rdbBuilder{}
	b.buf = append(b.buf, "REDIS"...)
	b.buf = append(b.buf, []byte(leftPad(strconv.Itoa(version), 4))...)
	return b
}

func leftPad(s string, n int) string {
	for len(s) < n {
		s = "0" + s
	}
	return s
}

func (b *rdbBuilder) raw(p ...byte) *rdbBuilder {
	b.buf = append(b.buf, p...)
	return b
}

func (b *rdbBuilder) length(n uint64) *rdbBuilder {
	switch {
	case n < 1<<6:
		b.buf = append(b.buf, byte(n))
	case n < 1<<14:
		b.buf = append(b.buf, byte(n>>8)|0x40, byte(n))
	case n <= 0xFFFFFFFF:
		b.buf = append(b.buf, rdbLen32)
		b.buf = binary.BigEndian.AppendUint32(b.buf, uint32(n))
	default:
		b.buf = append(b.buf, rdbLen64)
		b.buf = binary.BigEndian.AppendUint64(b.buf, n)
	}
	return b
}

func (b *rdbBuilder) str(s []byte) *rdbBuilder {
	b.length(uint64(len(s)))
	b.buf = append(b.buf, s...)
	return b
}

func (b *rdbBuilder) aux(k, v string) *rdbBuilder {
	return b.raw(RDBOpcodeAux).str([]byte(k)).str([]byte(v))
}

func (b *rdbBuilder) selectDB(n uint64) *rdbBuilder {
	return b.raw(RDBOpcodeDB).length(n)
}

func (b *rdbBuilder) resizeDB(size, expires uint64) *rdbBuilder {
	return b.raw(RDBOpcodeResizeDB).length(size).length(expires)
}

func (b *rdbBuilder) expireMs(ms int64) *rdbBuilder {
	b.raw(RDBOpcodeExpiryMs)
	b.buf = binary.LittleEndian.AppendUint64(b.buf, uint64(ms))
	return b
}

func (b *rdbBuilder) expireSec(sec uint32) *rdbBuilder {
	b.raw(RDBOpcodeExpiry)
	b.buf = binary.LittleEndian.AppendUint32(b.buf, sec)
	return b
}

func (b *rdbBuilder) stringKey(k, v string) *rdbBuilder {
	return b.raw(RDBTypeString).str([]byte(k)).str([]byte(v))
}

// streamEntry is one entry of a test stream node
type streamEntry struct {
	msDiff, seqDiff int64
	fields          []string
	deleted         bool
	sameFields      bool
}

// streamNode builds the listpack of one radix tree node
func streamNode(masterFields []string, entries []streamEntry) []byte {
	var lp listpackBuilder

	count, deleted := 0, 0
	for _, e := range entries {
		if e.deleted {
			deleted++
		} else {
			count++
		}
	}
	lp.int(int64(count)).int(int64(deleted)).int(int64(len(masterFields)))
	for _, f := range masterFields {
		lp.str(f)
	}
	lp.int(0)

	for _, e := range entries {
		flags := int64(0)
		if e.deleted {
			flags |= streamItemFlagDeleted
		}
		if e.sameFields {
			flags |= streamItemFlagSameFields
		}
		lp.int(flags).int(e.msDiff).int(e.seqDiff)
		var elements int64
		if e.sameFields {
			for i := 1; i < len(e.fields); i += 2 {
				lp.str(e.fields[i])
			}
			elements = int64(len(e.fields) / 2)
		} else {
			lp.int(int64(len(e.fields) / 2))
			for _, f := range e.fields {
				lp.str(f)
			}
			elements = int64(len(e.fields)) + 1
		}
		lp.int(elements + 3)
	}
	return lp.bytes()
}

type streamMeta struct {
	length      uint64
	lastMs      uint64
	lastSeq     uint64
	withGroup   bool
	consumerPEL int
}

func (b *rdbBuilder) streamKey(typ byte, key string, master [2]uint64, node []byte, meta streamMeta) *rdbBuilder {
	b.raw(typ).str([]byte(key))
	b.length(1)
	nodeKey := make([]byte, 16)
	binary.BigEndian.PutUint64(nodeKey[:8], master[0])
	binary.BigEndian.PutUint64(nodeKey[8:], master[1])
	b.str(nodeKey).str(node)

	b.length(meta.length).length(meta.lastMs).length(meta.lastSeq)
	if typ >= RDBTypeStreamListpacks2 {
		b.length(master[0]).length(master[1]) // first id
		b.length(0).length(0)                 // max deleted id
		b.length(meta.length)                 // entries added
	}

	if !meta.withGroup {
		return b.length(0)
	}

	b.length(1)
	b.str([]byte("group"))
	b.length(meta.lastMs).length(meta.lastSeq)
	if typ >= RDBTypeStreamListpacks2 {
		b.length(meta.length)
	}
	rawID := make([]byte, 16)
	binary.BigEndian.PutUint64(rawID[:8], meta.lastMs)
	binary.BigEndian.PutUint64(rawID[8:], meta.lastSeq)

	b.length(uint64(meta.consumerPEL))
	for i := 0; i < meta.consumerPEL; i++ {
		b.raw(rawID...)
		b.buf = binary.LittleEndian.AppendUint64(b.buf, 1700000000000)
		b.length(1)
	}

	b.length(1)
	b.str([]byte("consumer"))
	b.buf = binary.LittleEndian.AppendUint64(b.buf, 1700000000000)
	if typ >= RDBTypeStreamListpacks3 {
		b.buf = binary.LittleEndian.AppendUint64(b.buf, 1700000000000)
	}
	b.length(uint64(meta.consumerPEL))
	for i := 0; i < meta.consumerPEL; i++ {
		b.raw(rawID...)
	}
	return b
}

// eof appends the EOF opcode and a valid checksum
func (b *rdbBuilder) eof() []byte {
	b.raw(RDBOpcodeEOF)
	return binary.LittleEndian.AppendUint64(b.buf, Checksum(b.buf))
}

// eofWithChecksum appends the EOF opcode and an arbitrary trailer
func (b *rdbBuilder) eofWithChecksum(sum uint64) []byte {
	b.raw(RDBOpcodeEOF)
	return binary.LittleEndian.AppendUint64(b.buf, sum)
}

// listpackBuilder encodes listpacks the way Redis does
type listpackBuilder struct {
	body  []byte
	count int
}

func (lp *listpackBuilder) element(enc []byte) *listpackBuilder {
	lp.body = append(lp.body, enc...)
	lp.body = append(lp.body, encodeBacklen(len(enc))...)
	lp.count++
	return lp
}

func (lp *listpackBuilder) int(v int64) *listpackBuilder {
	switch {
	case v >= 0 && v <= 127:
		return lp.element([]byte{byte(v)})
	case v >= -4096 && v <= 4095:
		u := uint64(v) & 0x1FFF
		return lp.element([]byte{0xC0 | byte(u>>8), byte(u)})
	case v >= -32768 && v <= 32767:
		return lp.element(binary.LittleEndian.AppendUint16([]byte{0xF1}, uint16(v)))
	case v >= -8388608 && v <= 8388607:
		u := uint32(v) & 0xFFFFFF
		return lp.element([]byte{0xF2, byte(u), byte(u >> 8), byte(u >> 16)})
	case v >= -2147483648 && v <= 2147483647:
		return lp.element(binary.LittleEndian.AppendUint32([]byte{0xF3}, uint32(v)))
	default:
		return lp.element(binary.LittleEndian.AppendUint64([]byte{0xF4}, uint64(v)))
	}
}

func (lp *listpackBuilder) str(s string) *listpackBuilder {
	// Numeric strings are stored as integers
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && strconv.FormatInt(n, 10) == s {
		return lp.int(n)
	}
	n := len(s)
	switch {
	case n < 64:
		return lp.element(append([]byte{0x80 | byte(n)}, s...))
	case n < 4096:
		return lp.element(append([]byte{0xE0 | byte(n>>8), byte(n)}, s...))
	default:
		enc := binary.LittleEndian.AppendUint32([]byte{0xF0}, uint32(n))
		return lp.element(append(enc, s...))
	}
}

func (lp *listpackBuilder) bytes() []byte {
	total := listpackHeaderSize + len(lp.body) + 1
	out := binary.LittleEndian.AppendUint32(nil, uint32(total))
	out = binary.LittleEndian.AppendUint16(out, uint16(lp.count))
	out = append(out, lp.body...)
	return append(out, listpackEnd)
}

func encodeBacklen(l int) []byte {
	switch {
	case l <= 127:
		return []byte{byte(l)}
	case l < 16383:
		return []byte{byte(l >> 7), byte(l&127) | 128}
	case l < 2097151:
		return []byte{byte(l >> 14), byte((l>>7)&127) | 128, byte(l&127) | 128}
	default:
		return []byte{byte(l >> 21), byte((l>>14)&127) | 128, byte((l>>7)&127) | 128, byte(l&127) | 128}
	}
}
