package command

import (
	"strconv"
	"strings"
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/protocol"
	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

// cmdXAdd implements XADD key <id|*|ms-*> field value [field value ...].
// The resolved ID replaces the one received in the propagated command.
func cmdXAdd(c *call) protocol.Value {
	if (len(c.args)-2)%2 != 0 {
		return wrongArity(c.spec.Name)
	}

	spec, err := storage.ParseIDSpec(c.arg(1))
	if err != nil {
		return errorReply(err)
	}

	id, err := c.d.store.XAdd(c.arg(0), spec, c.args[2:])
	if err != nil {
		return errorReply(err)
	}

	resolved := []byte(id.String())
	argv := make([][]byte, 0, len(c.args)+1)
	argv = append(argv, []byte("XADD"), c.args[0], resolved)
	c.propagate(append(argv, c.args[2:]...)...)

	return protocol.BulkString(resolved)
}

// cmdXRange implements XRANGE key start end [COUNT n].
func cmdXRange(c *call) protocol.Value {
	start, err := storage.ParseRangeStart(c.arg(1))
	if err != nil {
		return errorReply(err)
	}
	end, err := storage.ParseRangeEnd(c.arg(2))
	if err != nil {
		return errorReply(err)
	}

	count := 0
	switch rest := c.args[3:]; {
	case len(rest) == 0:
	case len(rest) == 2 && strings.EqualFold(string(rest[0]), "COUNT"):
		n, err := strconv.Atoi(string(rest[1]))
		if err != nil {
			return errNotInteger
		}
		if n <= 0 {
			return protocol.Array()
		}
		count = n
	default:
		return errSyntax
	}

	entries, err := c.d.store.XRange(c.arg(0), start, end, count)
	if err != nil {
		return errorReply(err)
	}
	return entriesReply(entries)
}

type xreadRequest struct {
	count int
	block time.Duration
	// blocking is false when BLOCK was not given
	blocking bool
	keys     []string
	ids      []storage.StreamID
}

func parseXRead(c *call) (*xreadRequest, protocol.Value, bool) {
	req := &xreadRequest{}

	i := 0
	for ; i < len(c.args); i++ {
		switch opt := strings.ToUpper(c.arg(i)); opt {
		case "COUNT":
			if i+1 >= len(c.args) {
				return nil, errSyntax, false
			}
			i++
			n, err := strconv.Atoi(c.arg(i))
			if err != nil {
				return nil, errNotInteger, false
			}
			req.count = n
		case "BLOCK":
			if i+1 >= len(c.args) {
				return nil, errSyntax, false
			}
			i++
			ms, err := strconv.ParseInt(c.arg(i), 10, 64)
			if err != nil {
				return nil, protocol.Error("ERR timeout is not an integer or out of range"), false
			}
			if ms < 0 {
				return nil, protocol.Error("ERR timeout is negative"), false
			}
			req.block = time.Duration(ms) * time.Millisecond
			req.blocking = true
		case "STREAMS":
			rest := c.args[i+1:]
			if len(rest) == 0 || len(rest)%2 != 0 {
				return nil, protocol.Error("ERR Unbalanced 'xread' list of streams: for each stream key an ID or '$' must be specified."), false
			}
			half := len(rest) / 2
			for j := 0; j < half; j++ {
				key := string(rest[j])
				raw := string(rest[half+j])

				var id storage.StreamID
				var err error
				if raw == "$" {
					id, err = c.d.store.LastStreamID(key)
				} else {
					id, err = storage.ParseStreamID(raw, 0)
				}
				if err != nil {
					return nil, errorReply(err), false
				}
				req.keys = append(req.keys, key)
				req.ids = append(req.ids, id)
			}
			return req, protocol.Value{}, true
		default:
			return nil, errSyntax, false
		}
	}
	return nil, errSyntax, false
}

// cmdXRead implements XREAD [COUNT n] [BLOCK ms] STREAMS key... id....
// "$" means the stream's top ID when the command arrives. BLOCK 0 waits
// until data arrives or the connection closes.
func cmdXRead(c *call) protocol.Value {
	req, errReply, ok := parseXRead(c)
	if !ok {
		return errReply
	}
	if c.s.script {
		req.blocking = false
	}

	var expired <-chan time.Time
	if req.blocking && req.block > 0 {
		timer := time.NewTimer(req.block)
		defer timer.Stop()
		expired = timer.C
	}

	for blocked := false; ; {
		changed := c.d.store.Changed()

		result, err := readStreams(c.d.store, req)
		if err != nil {
			return errorReply(err)
		}
		if len(result) > 0 {
			return protocol.Array(result...)
		}
		if !req.blocking {
			return protocol.NullArray()
		}

		if !blocked {
			blocked = true
			c.d.blockedClients.Add(1)
			defer c.d.blockedClients.Add(-1)
		}

		select {
		case <-changed:
		case <-expired:
			return protocol.NullArray()
		case <-c.ctx().Done():
			return protocol.NullArray()
		}
	}
}

func readStreams(store storage.Storage, req *xreadRequest) ([]protocol.Value, error) {
	var result []protocol.Value
	for i, key := range req.keys {
		entries, err := store.XReadSince(key, req.ids[i], req.count)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			continue
		}
		result = append(result, protocol.Array(protocol.BulkStringFromString(key), entriesReply(entries)))
	}
	return result, nil
}

func entriesReply(entries []storage.StreamEntry) protocol.Value {
	out := make([]protocol.Value, len(entries))
	for i, e := range entries {
		fields := make([]protocol.Value, len(e.Fields))
		for j, f := range e.Fields {
			fields[j] = protocol.BulkString(f)
		}
		out[i] = protocol.Array(protocol.BulkStringFromString(e.ID.String()), protocol.Array(fields...))
	}
	return protocol.Array(out...)
}
