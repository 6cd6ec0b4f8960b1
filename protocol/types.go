package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// ValueType represents the type of a RESP value
type ValueType byte

const (
	// RESP value types
	TypeSimpleString ValueType = '+'
	TypeError        ValueType = '-'
	TypeInteger      ValueType = ':'
	TypeBulkString   ValueType = '$'
	TypeArray        ValueType = '*'

	// typeNone marks the zero Value, which handlers use to say that
	// nothing must be written back to the peer.
	typeNone ValueType = 0
)

// Value represents a parsed RESP value
type Value struct {
	Type    ValueType
	Data    []byte
	Integer int64
	Array   []Value
	IsNull  bool
}

// NoReply is returned by a handler that answers out of band (or not at all).
var NoReply = Value{}

// SimpleString builds a status reply.
func SimpleString(s string) Value {
	return Value{Type: TypeSimpleString, Data: []byte(s)}
}

// Error builds an error reply. Line breaks are flattened so the frame
// stays valid.
func Error(msg string) Value {
	msg = strings.ReplaceAll(msg, "\r", " ")
	msg = strings.ReplaceAll(msg, "\n", " ")
	return Value{Type: TypeError, Data: []byte(msg)}
}

// Errorf builds an error reply from a format string.
func Errorf(format string, args ...interface{}) Value {
	return Error(fmt.Sprintf(format, args...))
}

// Integer builds an integer reply.
func Integer(n int64) Value {
	return Value{Type: TypeInteger, Integer: n}
}

// BulkString builds a bulk string reply.
func BulkString(b []byte) Value {
	if b == nil {
		b = []byte{}
	}
	return Value{Type: TypeBulkString, Data: b}
}

// BulkStringFromString builds a bulk string reply from a string.
func BulkStringFromString(s string) Value {
	return Value{Type: TypeBulkString, Data: []byte(s)}
}

// NullBulkString builds the $-1 reply.
func NullBulkString() Value {
	return Value{Type: TypeBulkString, IsNull: true}
}

// Array builds an array reply.
func Array(values ...Value) Value {
	if values == nil {
		values = []Value{}
	}
	return Value{Type: TypeArray, Array: values}
}

// NullArray builds the *-1 reply.
func NullArray() Value {
	return Value{Type: TypeArray, IsNull: true}
}

// OK is the +OK reply.
func OK() Value {
	return SimpleString("OK")
}

// String returns a string representation of the value
func (v Value) String() string {
	switch v.Type {
	case TypeSimpleString, TypeError:
		return string(v.Data)
	case TypeInteger:
		return strconv.FormatInt(v.Integer, 10)
	case TypeBulkString:
		if v.IsNull {
			return "(nil)"
		}
		return string(v.Data)
	case TypeArray:
		if v.IsNull {
			return "(nil)"
		}
		parts := make([]string, len(v.Array))
		for i, item := range v.Array {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case typeNone:
		return ""
	default:
		return fmt.Sprintf("unknown type %c", v.Type)
	}
}

// IsError returns true if this is an error value
func (v Value) IsError() bool {
	return v.Type == TypeError
}

// IsNoReply reports whether v is the NoReply marker.
func (v Value) IsNoReply() bool {
	return v.Type == typeNone
}

// Error returns the error message if this is an error value
func (v Value) Error() string {
	if v.Type == TypeError {
		return string(v.Data)
	}
	return ""
}

// Command represents a Redis command parsed from a RESP array
type Command struct {
	// Name is the upper-cased command name.
	Name string
	Args [][]byte
}

// ParseCommand parses a RESP array value into a Command
func ParseCommand(v Value) (*Command, error) {
	if v.Type != TypeArray || v.IsNull || len(v.Array) == 0 {
		return nil, fmt.Errorf("invalid command format")
	}

	cmd := &Command{
		Args: make([][]byte, len(v.Array)-1),
	}

	for i, item := range v.Array {
		if item.Type != TypeBulkString && item.Type != TypeSimpleString {
			return nil, fmt.Errorf("command arguments must be bulk strings")
		}
		if i == 0 {
			cmd.Name = strings.ToUpper(string(item.Data))
			continue
		}
		cmd.Args[i-1] = item.Data
	}

	return cmd, nil
}

// NewCommand builds a Command from its name and arguments.
func NewCommand(name string, args ...[]byte) *Command {
	return &Command{Name: strings.ToUpper(name), Args: args}
}

// Argv returns the name followed by the arguments, ready to be encoded.
func (c *Command) Argv() [][]byte {
	argv := make([][]byte, 0, len(c.Args)+1)
	argv = append(argv, []byte(c.Name))
	return append(argv, c.Args...)
}

// String returns a string representation of the command
func (c *Command) String() string {
	args := make([]string, len(c.Args))
	for i, arg := range c.Args {
		args[i] = string(arg)
	}
	return strings.TrimSpace(c.Name + " " + strings.Join(args, " "))
}
