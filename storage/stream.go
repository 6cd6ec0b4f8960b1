package storage

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// StreamID identifies a stream entry: milliseconds and a sequence number
type StreamID struct {
	Ms  uint64
	Seq uint64
}

// MinStreamID and MaxStreamID are the open bounds of XRANGE
var (
	MinStreamID = StreamID{}
	MaxStreamID = StreamID{Ms: math.MaxUint64, Seq: math.MaxUint64}
)

// String renders the ID as ms-seq
func (id StreamID) String() string {
	return strconv.FormatUint(id.Ms, 10) + "-" + strconv.FormatUint(id.Seq, 10)
}

// IsZero reports whether id is 0-0
func (id StreamID) IsZero() bool {
	return id.Ms == 0 && id.Seq == 0
}

// Less reports whether id sorts before other
func (id StreamID) Less(other StreamID) bool {
	if id.Ms != other.Ms {
		return id.Ms < other.Ms
	}
	return id.Seq < other.Seq
}

// ParseStreamID parses "ms-seq". A bare "ms" gets missingSeq as sequence.
func ParseStreamID(s string, missingSeq uint64) (StreamID, error) {
	msPart, seqPart, hasSeq := strings.Cut(s, "-")
	ms, err := strconv.ParseUint(msPart, 10, 64)
	if err != nil {
		return StreamID{}, ErrInvalidStreamID
	}
	if !hasSeq {
		return StreamID{Ms: ms, Seq: missingSeq}, nil
	}
	seq, err := strconv.ParseUint(seqPart, 10, 64)
	if err != nil {
		return StreamID{}, ErrInvalidStreamID
	}
	return StreamID{Ms: ms, Seq: seq}, nil
}

// ParseRangeStart parses the start bound of XRANGE: "-" or an ID where a
// bare "ms" means ms-0.
func ParseRangeStart(s string) (StreamID, error) {
	if s == "-" {
		return MinStreamID, nil
	}
	return ParseStreamID(s, 0)
}

// ParseRangeEnd parses the end bound of XRANGE: "+" or an ID where a bare
// "ms" covers every sequence of that millisecond.
func ParseRangeEnd(s string) (StreamID, error) {
	if s == "+" {
		return MaxStreamID, nil
	}
	return ParseStreamID(s, math.MaxUint64)
}

// IDSpec is the ID argument of XADD: fully explicit, "ms-*" or "*"
type IDSpec struct {
	ID      StreamID
	AutoMs  bool
	AutoSeq bool
}

// AutoID is the "*" spec
func AutoID() IDSpec {
	return IDSpec{AutoMs: true, AutoSeq: true}
}

// ExplicitID is a fully specified ID
func ExplicitID(id StreamID) IDSpec {
	return IDSpec{ID: id}
}

// ParseIDSpec parses the ID argument of XADD
func ParseIDSpec(s string) (IDSpec, error) {
	if s == "*" {
		return AutoID(), nil
	}
	msPart, seqPart, hasSeq := strings.Cut(s, "-")
	if hasSeq && seqPart == "*" {
		ms, err := strconv.ParseUint(msPart, 10, 64)
		if err != nil {
			return IDSpec{}, ErrInvalidStreamID
		}
		return IDSpec{ID: StreamID{Ms: ms}, AutoSeq: true}, nil
	}
	id, err := ParseStreamID(s, 0)
	if err != nil {
		return IDSpec{}, err
	}
	return ExplicitID(id), nil
}

// resolve picks the ID for a new entry given the stream top and the
// current time in milliseconds.
func (spec IDSpec) resolve(last StreamID, nowMs uint64) (StreamID, error) {
	switch {
	case spec.AutoMs:
		ms := nowMs
		if ms < last.Ms {
			ms = last.Ms
		}
		if ms == last.Ms {
			if last.Seq == math.MaxUint64 {
				if ms == math.MaxUint64 {
					return StreamID{}, ErrStreamIDTooSmall
				}
				return StreamID{Ms: ms + 1}, nil
			}
			return StreamID{Ms: ms, Seq: last.Seq + 1}, nil
		}
		return StreamID{Ms: ms}, nil

	case spec.AutoSeq:
		ms := spec.ID.Ms
		switch {
		case ms < last.Ms:
			return StreamID{}, ErrStreamIDTooSmall
		case ms == last.Ms:
			if last.Seq == math.MaxUint64 {
				return StreamID{}, ErrStreamIDTooSmall
			}
			return StreamID{Ms: ms, Seq: last.Seq + 1}, nil
		default:
			return StreamID{Ms: ms}, nil
		}

	default:
		if spec.ID.IsZero() {
			return StreamID{}, ErrStreamIDZero
		}
		if !last.Less(spec.ID) {
			return StreamID{}, ErrStreamIDTooSmall
		}
		return spec.ID, nil
	}
}

// rangeEntries returns entries with start <= ID <= end
func (sv *StreamValue) rangeEntries(start, end StreamID, count int) []StreamEntry {
	if end.Less(start) {
		return nil
	}
	from := sort.Search(len(sv.Entries), func(i int) bool {
		return !sv.Entries[i].ID.Less(start)
	})
	var out []StreamEntry
	for i := from; i < len(sv.Entries); i++ {
		if end.Less(sv.Entries[i].ID) {
			break
		}
		out = append(out, sv.Entries[i])
		if count > 0 && len(out) == count {
			break
		}
	}
	return out
}

// entriesAfter returns entries with ID > after
func (sv *StreamValue) entriesAfter(after StreamID, count int) []StreamEntry {
	from := sort.Search(len(sv.Entries), func(i int) bool {
		return after.Less(sv.Entries[i].ID)
	})
	end := len(sv.Entries)
	if count > 0 && from+count < end {
		end = from + count
	}
	if from >= end {
		return nil
	}
	out := make([]StreamEntry, end-from)
	copy(out, sv.Entries[from:end])
	return out
}
