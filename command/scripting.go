package command

import (
	"strconv"
	"strings"

	"github.com/raniellyferreira/redis-inmemory-server/lua"
	"github.com/raniellyferreira/redis-inmemory-server/protocol"
)

// splitKeys separates "numkeys key... arg..." into keys and args.
func splitKeys(args [][]byte) ([][]byte, [][]byte, protocol.Value, bool) {
	numKeys, err := strconv.Atoi(string(args[0]))
	if err != nil {
		return nil, nil, errNotInteger, false
	}
	if numKeys < 0 {
		return nil, nil, protocol.Error("ERR Number of keys can't be negative"), false
	}
	if numKeys > len(args)-1 {
		return nil, nil, protocol.Error("ERR Number of keys can't be greater than number of args"), false
	}
	return args[1 : 1+numKeys], args[1+numKeys:], protocol.Value{}, true
}

// caller routes redis.call back through the dispatcher, so every write a
// script makes is checked and propagated on its own. It must only be used
// while writeMu is held.
func (c *call) caller() lua.Caller {
	s := c.s.scriptSession()
	return func(argv [][]byte) protocol.Value {
		return c.d.Dispatch(s, protocol.NewCommand(string(argv[0]), argv[1:]...))
	}
}

func cmdEval(c *call) protocol.Value {
	keys, args, errReply, ok := splitKeys(c.args[1:])
	if !ok {
		return errReply
	}

	// Scripts run atomically with respect to every other write.
	c.d.writeMu.Lock()
	defer c.d.writeMu.Unlock()
	return c.d.scripts.Eval(c.ctx(), c.arg(0), keys, args, c.caller())
}

func cmdEvalSHA(c *call) protocol.Value {
	keys, args, errReply, ok := splitKeys(c.args[1:])
	if !ok {
		return errReply
	}

	c.d.writeMu.Lock()
	defer c.d.writeMu.Unlock()
	return c.d.scripts.EvalSHA(c.ctx(), c.arg(0), keys, args, c.caller())
}

// cmdScript implements SCRIPT LOAD, SCRIPT EXISTS and SCRIPT FLUSH.
func cmdScript(c *call) protocol.Value {
	switch sub := strings.ToUpper(c.arg(0)); sub {
	case "LOAD":
		if len(c.args) != 2 {
			return protocol.Error("ERR wrong number of arguments for 'script|load' command")
		}
		sha, err := c.d.scripts.Load(c.arg(1))
		if err != nil {
			return errorReply(err)
		}
		return protocol.BulkStringFromString(sha)

	case "EXISTS":
		if len(c.args) < 2 {
			return protocol.Error("ERR wrong number of arguments for 'script|exists' command")
		}
		found := c.d.scripts.Exists(keyArgs(c.args[1:])...)
		out := make([]protocol.Value, len(found))
		for i, ok := range found {
			if ok {
				out[i] = protocol.Integer(1)
			} else {
				out[i] = protocol.Integer(0)
			}
		}
		return protocol.Array(out...)

	case "FLUSH":
		if len(c.args) > 2 {
			return protocol.Error("ERR wrong number of arguments for 'script|flush' command")
		}
		c.d.scripts.Flush()
		return protocol.OK()

	default:
		return protocol.Errorf("ERR unknown subcommand '%s'. Try SCRIPT HELP.", c.arg(0))
	}
}
