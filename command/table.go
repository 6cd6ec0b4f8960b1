package command

import (
	"sort"
	"strings"

	"github.com/raniellyferreira/redis-inmemory-server/protocol"
)

// Flag describes how a command behaves.
type Flag uint16

const (
	FlagWrite Flag = 1 << iota
	FlagReadOnly
	FlagAdmin
	FlagNoScript
	FlagBlocking
	FlagFast
	FlagStale
)

var flagNames = []struct {
	flag Flag
	name string
}{
	{FlagWrite, "write"},
	{FlagReadOnly, "readonly"},
	{FlagAdmin, "admin"},
	{FlagNoScript, "noscript"},
	{FlagBlocking, "blocking"},
	{FlagFast, "fast"},
	{FlagStale, "stale"},
}

// Has reports whether all of want are set.
func (f Flag) Has(want Flag) bool {
	return f&want == want
}

// Names lists the flag names, as COMMAND INFO reports them.
func (f Flag) Names() []string {
	var out []string
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			out = append(out, fn.name)
		}
	}
	return out
}

// Spec is one entry of the command table.
type Spec struct {
	Name  string
	Arity int
	Flags Flag

	// Key positions, as reported by COMMAND INFO.
	FirstKey int
	LastKey  int
	Step     int

	handler func(c *call) protocol.Value
}

func (s *Spec) arityOK(argc int) bool {
	if s.Arity >= 0 {
		return argc == s.Arity
	}
	return argc >= -s.Arity
}

func (s *Spec) info() protocol.Value {
	flags := s.Flags.Names()
	flagValues := make([]protocol.Value, len(flags))
	for i, f := range flags {
		flagValues[i] = protocol.SimpleString(f)
	}
	return protocol.Array(
		protocol.BulkStringFromString(s.Name),
		protocol.Integer(int64(s.Arity)),
		protocol.Array(flagValues...),
		protocol.Integer(int64(s.FirstKey)),
		protocol.Integer(int64(s.LastKey)),
		protocol.Integer(int64(s.Step)),
	)
}

func newTable() map[string]*Spec {
	specs := []*Spec{
		{Name: "ping", Arity: -1, Flags: FlagFast | FlagStale, handler: cmdPing},
		{Name: "echo", Arity: 2, Flags: FlagFast, handler: cmdEcho},
		{Name: "quit", Arity: -1, Flags: FlagFast | FlagNoScript, handler: cmdQuit},
		{Name: "info", Arity: -1, Flags: FlagStale, handler: cmdInfo},
		{Name: "config", Arity: -2, Flags: FlagAdmin | FlagNoScript, handler: cmdConfig},
		{Name: "command", Arity: -1, Flags: FlagStale, handler: cmdCommand},
		{Name: "debug", Arity: -2, Flags: FlagAdmin | FlagNoScript, handler: cmdDebug},

		{Name: "get", Arity: 2, Flags: FlagReadOnly | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, handler: cmdGet},
		{Name: "set", Arity: -3, Flags: FlagWrite, FirstKey: 1, LastKey: 1, Step: 1, handler: cmdSet},
		{Name: "del", Arity: -2, Flags: FlagWrite, FirstKey: 1, LastKey: -1, Step: 1, handler: cmdDel},
		{Name: "exists", Arity: -2, Flags: FlagReadOnly | FlagFast, FirstKey: 1, LastKey: -1, Step: 1, handler: cmdExists},
		{Name: "incr", Arity: 2, Flags: FlagWrite | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, handler: cmdIncr},
		{Name: "type", Arity: 2, Flags: FlagReadOnly | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, handler: cmdType},
		{Name: "keys", Arity: 2, Flags: FlagReadOnly, handler: cmdKeys},
		{Name: "dbsize", Arity: 1, Flags: FlagReadOnly | FlagFast, handler: cmdDBSize},
		{Name: "flushall", Arity: -1, Flags: FlagWrite, handler: cmdFlushAll},

		{Name: "xadd", Arity: -5, Flags: FlagWrite | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, handler: cmdXAdd},
		{Name: "xrange", Arity: -4, Flags: FlagReadOnly, FirstKey: 1, LastKey: 1, Step: 1, handler: cmdXRange},
		{Name: "xread", Arity: -4, Flags: FlagReadOnly | FlagBlocking, handler: cmdXRead},

		{Name: "replconf", Arity: -1, Flags: FlagAdmin | FlagNoScript | FlagStale, handler: cmdReplconf},
		{Name: "psync", Arity: -3, Flags: FlagAdmin | FlagNoScript, handler: cmdPsync},
		{Name: "wait", Arity: 3, Flags: FlagNoScript | FlagBlocking, handler: cmdWait},

		{Name: "eval", Arity: -3, Flags: FlagNoScript, handler: cmdEval},
		{Name: "evalsha", Arity: -3, Flags: FlagNoScript, handler: cmdEvalSHA},
		{Name: "script", Arity: -2, Flags: FlagNoScript, handler: cmdScript},
	}

	table := make(map[string]*Spec, len(specs))
	for _, s := range specs {
		table[s.Name] = s
	}
	return table
}

// cmdCommand implements COMMAND, COMMAND COUNT, COMMAND INFO and COMMAND DOCS.
func cmdCommand(c *call) protocol.Value {
	if len(c.args) == 0 {
		names := make([]string, 0, len(c.d.table))
		for name := range c.d.table {
			names = append(names, name)
		}
		sort.Strings(names)
		out := make([]protocol.Value, len(names))
		for i, name := range names {
			out[i] = c.d.table[name].info()
		}
		return protocol.Array(out...)
	}

	switch sub := strings.ToUpper(c.arg(0)); sub {
	case "COUNT":
		return protocol.Integer(int64(len(c.d.table)))
	case "INFO":
		out := make([]protocol.Value, 0, len(c.args)-1)
		for _, name := range c.args[1:] {
			if spec, ok := c.d.Lookup(string(name)); ok {
				out = append(out, spec.info())
			} else {
				out = append(out, protocol.NullArray())
			}
		}
		return protocol.Array(out...)
	case "DOCS":
		var out []protocol.Value
		for _, name := range c.args[1:] {
			if spec, ok := c.d.Lookup(string(name)); ok {
				out = append(out, protocol.BulkStringFromString(spec.Name), protocol.Array())
			}
		}
		return protocol.Array(out...)
	default:
		return protocol.Errorf("ERR unknown subcommand '%s'. Try COMMAND HELP.", c.arg(0))
	}
}
