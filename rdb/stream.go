package rdb

import (
	"encoding/binary"
	"fmt"

	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

// Stream entry flags stored in the listpack
const (
	streamItemFlagDeleted    = 1 << 0
	streamItemFlagSameFields = 1 << 1
)

// readStream decodes a stream value: a radix tree of listpacks keyed by
// master entry ID, followed by stream metadata and consumer groups. Groups
// are read and discarded since the keyspace does not model them.
func (p *Parser) readStream(valueType byte) (*storage.Value, error) {
	nodes, err := p.readLength()
	if err != nil {
		return nil, err
	}

	var entries []storage.StreamEntry
	for i := uint64(0); i < nodes; i++ {
		keyAt := p.offset
		nodeKey, err := p.readString()
		if err != nil {
			return nil, err
		}
		if len(nodeKey) != 16 {
			return nil, p.errorf(keyAt, "stream node key has %d bytes, expected 16", len(nodeKey))
		}
		master := storage.StreamID{
			Ms:  binary.BigEndian.Uint64(nodeKey[:8]),
			Seq: binary.BigEndian.Uint64(nodeKey[8:]),
		}

		lpAt := p.offset
		lp, err := p.readString()
		if err != nil {
			return nil, err
		}
		elements, err := decodeListpack(lp)
		if err != nil {
			return nil, &FormatError{Offset: lpAt, Reason: "corrupt stream listpack", Err: err}
		}
		if len(elements) == 0 {
			return nil, p.errorf(lpAt, "empty listpack in stream node")
		}

		entries, err = appendStreamNode(entries, master, elements)
		if err != nil {
			return nil, &FormatError{Offset: lpAt, Reason: "corrupt stream node", Err: err}
		}
	}

	// Number of entries, then the last generated ID
	if _, err := p.readLength(); err != nil {
		return nil, err
	}
	lastID, err := p.readStreamID()
	if err != nil {
		return nil, err
	}

	if valueType >= RDBTypeStreamListpacks2 {
		// first_id, max_deleted_entry_id and entries_added
		if _, err := p.readStreamID(); err != nil {
			return nil, err
		}
		if _, err := p.readStreamID(); err != nil {
			return nil, err
		}
		if _, err := p.readLength(); err != nil {
			return nil, err
		}
	}

	if err := p.skipConsumerGroups(valueType); err != nil {
		return nil, err
	}

	return storage.NewStreamValue(entries, lastID), nil
}

func (p *Parser) readStreamID() (storage.StreamID, error) {
	ms, err := p.readLength()
	if err != nil {
		return storage.StreamID{}, err
	}
	seq, err := p.readLength()
	if err != nil {
		return storage.StreamID{}, err
	}
	return storage.StreamID{Ms: ms, Seq: seq}, nil
}

func (p *Parser) skipConsumerGroups(valueType byte) error {
	groups, err := p.readLength()
	if err != nil {
		return err
	}

	for g := uint64(0); g < groups; g++ {
		if _, err := p.readString(); err != nil { // name
			return err
		}
		if _, err := p.readStreamID(); err != nil { // last delivered ID
			return err
		}
		if valueType >= RDBTypeStreamListpacks2 {
			if _, err := p.readLength(); err != nil { // entries_read
				return err
			}
		}

		// Global PEL: raw ID, delivery time, delivery count
		pel, err := p.readLength()
		if err != nil {
			return err
		}
		for i := uint64(0); i < pel; i++ {
			if _, err := p.readFull(16 + 8); err != nil {
				return err
			}
			if _, err := p.readLength(); err != nil {
				return err
			}
		}

		consumers, err := p.readLength()
		if err != nil {
			return err
		}
		for c := uint64(0); c < consumers; c++ {
			if _, err := p.readString(); err != nil { // name
				return err
			}
			if _, err := p.readMillis(); err != nil { // seen time
				return err
			}
			if valueType >= RDBTypeStreamListpacks3 {
				if _, err := p.readMillis(); err != nil { // active time
					return err
				}
			}
			owned, err := p.readLength()
			if err != nil {
				return err
			}
			for i := uint64(0); i < owned; i++ {
				if _, err := p.readFull(16); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// appendStreamNode decodes one listpack node.
//
// The node starts with the master entry: count, deleted, number of master
// fields, the master fields and a 0 terminator. Each entry follows as
// flags, ms-diff, seq-diff, then either the values alone (SAMEFIELDS) or a
// field count and field/value pairs, and finally the entry's element count.
func appendStreamNode(entries []storage.StreamEntry, master storage.StreamID, elements []listpackEntry) ([]storage.StreamEntry, error) {
	cur := &listpackCursor{elements: elements}

	count, err := cur.nextInt()
	if err != nil {
		return nil, err
	}
	deleted, err := cur.nextInt()
	if err != nil {
		return nil, err
	}
	numMasterFields, err := cur.nextInt()
	if err != nil {
		return nil, err
	}
	if numMasterFields < 0 || numMasterFields > int64(len(elements)) {
		return nil, fmt.Errorf("stream: invalid master field count %d", numMasterFields)
	}
	masterFields := make([][]byte, numMasterFields)
	for i := range masterFields {
		if masterFields[i], err = cur.nextBytes(); err != nil {
			return nil, err
		}
	}
	if terminator, err := cur.nextInt(); err != nil || terminator != 0 {
		return nil, fmt.Errorf("stream: bad master entry terminator")
	}

	for n := int64(0); n < count+deleted; n++ {
		flags, err := cur.nextInt()
		if err != nil {
			return nil, err
		}
		msDiff, err := cur.nextInt()
		if err != nil {
			return nil, err
		}
		seqDiff, err := cur.nextInt()
		if err != nil {
			return nil, err
		}

		var fields [][]byte
		if flags&streamItemFlagSameFields != 0 {
			fields = make([][]byte, 0, 2*len(masterFields))
			for _, name := range masterFields {
				value, err := cur.nextBytes()
				if err != nil {
					return nil, err
				}
				fields = append(fields, name, value)
			}
		} else {
			numFields, err := cur.nextInt()
			if err != nil {
				return nil, err
			}
			if numFields < 0 || numFields > int64(len(elements)) {
				return nil, fmt.Errorf("stream: invalid field count %d", numFields)
			}
			fields = make([][]byte, 0, 2*numFields)
			for i := int64(0); i < 2*numFields; i++ {
				item, err := cur.nextBytes()
				if err != nil {
					return nil, err
				}
				fields = append(fields, item)
			}
		}

		// lp-count, used for backward iteration only
		if _, err := cur.nextInt(); err != nil {
			return nil, err
		}

		if flags&streamItemFlagDeleted != 0 {
			continue
		}

		id := storage.StreamID{
			Ms:  master.Ms + uint64(msDiff),
			Seq: master.Seq + uint64(seqDiff),
		}
		if n := len(entries); n > 0 && !entries[n-1].ID.Less(id) {
			return nil, fmt.Errorf("stream: entry %s out of order", id)
		}
		entries = append(entries, storage.StreamEntry{ID: id, Fields: fields})
	}

	if cur.pos != len(cur.elements) {
		return nil, fmt.Errorf("stream: %d trailing listpack elements", len(cur.elements)-cur.pos)
	}
	return entries, nil
}

type listpackCursor struct {
	elements []listpackEntry
	pos      int
}

func (c *listpackCursor) next() (listpackEntry, error) {
	if c.pos >= len(c.elements) {
		return listpackEntry{}, fmt.Errorf("stream: listpack ended early")
	}
	e := c.elements[c.pos]
	c.pos++
	return e, nil
}

func (c *listpackCursor) nextInt() (int64, error) {
	e, err := c.next()
	if err != nil {
		return 0, err
	}
	return e.int()
}

func (c *listpackCursor) nextBytes() ([]byte, error) {
	e, err := c.next()
	if err != nil {
		return nil, err
	}
	return e.bytes(), nil
}
