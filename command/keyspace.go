package command

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/protocol"
	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

func cmdGet(c *call) protocol.Value {
	value, ok, err := c.d.store.Get(c.arg(0))
	if err != nil {
		return errorReply(err)
	}
	if !ok {
		return protocol.NullBulkString()
	}
	return protocol.BulkString(value)
}

// cmdSet implements SET key value [EX s|PX ms|EXAT s|PXAT ms] [NX|XX] [KEEPTTL].
// An expiry is propagated as an absolute PXAT so replicas share the deadline.
func cmdSet(c *call) protocol.Value {
	opts, errReply, ok := parseSetOptions(c.args[2:], c.d.now())
	if !ok {
		return errReply
	}

	applied, err := c.d.store.SetWith(c.arg(0), c.args[1], opts)
	if err != nil {
		return errorReply(err)
	}
	if !applied {
		return protocol.NullBulkString()
	}
	if opts.Expiry != nil {
		c.propagate(absoluteExpiry(c.args, *opts.Expiry)...)
	} else {
		c.propagateAsIs()
	}
	return protocol.OK()
}

// absoluteExpiry rewrites the expiry option of a SET to PXAT <unix-ms>,
// keeping every other argument in place.
func absoluteExpiry(args [][]byte, at time.Time) [][]byte {
	argv := make([][]byte, 0, len(args)+1)
	argv = append(argv, []byte("SET"))
	argv = append(argv, args...)
	for i := 3; i+1 < len(argv); i++ {
		switch strings.ToUpper(string(argv[i])) {
		case "EX", "PX", "EXAT", "PXAT":
			argv[i] = []byte("PXAT")
			argv[i+1] = strconv.AppendInt(nil, at.UnixMilli(), 10)
			return argv
		}
	}
	return argv
}

// maxExpire bounds each expiry unit so the deadline fits in int64
// nanoseconds (relative forms) or milliseconds (absolute forms).
var maxExpire = map[string]int64{
	"EX":   math.MaxInt64 / int64(time.Second),
	"PX":   math.MaxInt64 / int64(time.Millisecond),
	"EXAT": math.MaxInt64 / 1000,
	"PXAT": math.MaxInt64,
}

func parseSetOptions(args [][]byte, now time.Time) (storage.SetOptions, protocol.Value, bool) {
	var (
		opts    storage.SetOptions
		expSeen bool
	)
	for i := 0; i < len(args); i++ {
		switch opt := strings.ToUpper(string(args[i])); opt {
		case "NX":
			if opts.XX {
				return opts, errSyntax, false
			}
			opts.NX = true
		case "XX":
			if opts.NX {
				return opts, errSyntax, false
			}
			opts.XX = true
		case "KEEPTTL":
			if expSeen {
				return opts, errSyntax, false
			}
			opts.KeepTTL = true
		case "EX", "PX", "EXAT", "PXAT":
			if expSeen || opts.KeepTTL || i+1 >= len(args) {
				return opts, errSyntax, false
			}
			i++
			n, err := strconv.ParseInt(string(args[i]), 10, 64)
			if err != nil {
				return opts, errNotInteger, false
			}
			if n <= 0 || n > maxExpire[opt] {
				return opts, protocol.Error("ERR invalid expire time in 'set' command"), false
			}
			var at time.Time
			switch opt {
			case "EX":
				at = now.Add(time.Duration(n) * time.Second)
			case "PX":
				at = now.Add(time.Duration(n) * time.Millisecond)
			case "EXAT":
				at = time.Unix(n, 0)
			case "PXAT":
				at = time.UnixMilli(n)
			}
			opts.Expiry = &at
			expSeen = true
		default:
			return opts, errSyntax, false
		}
	}
	return opts, protocol.Value{}, true
}

func keyArgs(args [][]byte) []string {
	keys := make([]string, len(args))
	for i, arg := range args {
		keys[i] = string(arg)
	}
	return keys
}

func cmdDel(c *call) protocol.Value {
	n := c.d.store.Del(keyArgs(c.args)...)
	if n > 0 {
		c.propagateAsIs()
	}
	return protocol.Integer(n)
}

func cmdExists(c *call) protocol.Value {
	return protocol.Integer(c.d.store.Exists(keyArgs(c.args)...))
}

func cmdIncr(c *call) protocol.Value {
	n, err := c.d.store.Incr(c.arg(0), 1)
	if err != nil {
		return errorReply(err)
	}
	c.propagateAsIs()
	return protocol.Integer(n)
}

func cmdType(c *call) protocol.Value {
	return protocol.SimpleString(c.d.store.Type(c.arg(0)).String())
}

func cmdKeys(c *call) protocol.Value {
	keys := c.d.store.Keys(c.arg(0))
	out := make([]protocol.Value, len(keys))
	for i, k := range keys {
		out[i] = protocol.BulkStringFromString(k)
	}
	return protocol.Array(out...)
}

func cmdDBSize(c *call) protocol.Value {
	return protocol.Integer(c.d.store.KeyCount())
}

// cmdFlushAll accepts the ASYNC and SYNC modifiers; both flush immediately.
func cmdFlushAll(c *call) protocol.Value {
	if len(c.args) > 1 {
		return errSyntax
	}
	if len(c.args) == 1 {
		if mode := strings.ToUpper(c.arg(0)); mode != "ASYNC" && mode != "SYNC" {
			return errSyntax
		}
	}
	c.d.store.FlushAll()
	c.propagateAsIs()
	return protocol.OK()
}
