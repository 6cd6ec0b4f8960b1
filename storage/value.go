package storage

import "time"

// ValueType represents the Redis data type
type ValueType int

const (
	ValueTypeNone ValueType = iota
	ValueTypeString
	ValueTypeStream
)

// String returns the Redis-compatible type name
func (vt ValueType) String() string {
	switch vt {
	case ValueTypeString:
		return "string"
	case ValueTypeStream:
		return "stream"
	default:
		return "none"
	}
}

// Value represents a stored value with metadata
type Value struct {
	Type   ValueType
	Data   interface{}
	Expiry *time.Time
}

// NewStringValue builds a string value
func NewStringValue(data []byte, expiry *time.Time) *Value {
	return &Value{
		Type:   ValueTypeString,
		Data:   &StringValue{Data: data},
		Expiry: expiry,
	}
}

// NewStreamValue builds a stream value. Entries must already be in ID order.
func NewStreamValue(entries []StreamEntry, lastID StreamID) *Value {
	if n := len(entries); n > 0 && lastID.Less(entries[n-1].ID) {
		lastID = entries[n-1].ID
	}
	return &Value{
		Type: ValueTypeStream,
		Data: &StreamValue{Entries: entries, LastID: lastID},
	}
}

// IsExpired returns true if the value has expired
func (v *Value) IsExpired() bool {
	return v.expiredAt(time.Now())
}

func (v *Value) expiredAt(now time.Time) bool {
	return v.Expiry != nil && !now.Before(*v.Expiry)
}

// StringValue represents a string value
type StringValue struct {
	Data []byte
}

// StreamValue represents a stream value. LastID may be ahead of the last
// entry when entries were deleted on the origin.
type StreamValue struct {
	Entries []StreamEntry
	LastID  StreamID
}

// StreamEntry represents a stream entry. Fields is the flat
// field, value, field, value list in insertion order.
type StreamEntry struct {
	ID     StreamID
	Fields [][]byte
}
