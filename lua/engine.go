package lua

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/puzpuzpuz/xsync/v3"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/raniellyferreira/redis-inmemory-server/protocol"
)

// Caller runs one command on behalf of a script and returns its reply.
type Caller func(argv [][]byte) protocol.Value

// ErrNoScript is the reply to EVALSHA for an unknown digest
var ErrNoScript = errors.New("NOSCRIPT No matching script. Please use EVAL.")

// Script is a compiled script
type Script struct {
	SHA    string
	Source string
	proto  *lua.FunctionProto
}

// Engine provides Redis-compatible Lua script execution
type Engine struct {
	scripts *xsync.MapOf[string, *Script]
}

// NewEngine creates a new Lua execution engine
func NewEngine() *Engine {
	return &Engine{
		scripts: xsync.NewMapOf[string, *Script](),
	}
}

// SHA1Hex returns the lowercase hex SHA1 of source, the script's cache key
func SHA1Hex(source string) string {
	sum := sha1.Sum([]byte(source))
	return hex.EncodeToString(sum[:])
}

// Load compiles source and caches it, returning its SHA1
func (e *Engine) Load(source string) (string, error) {
	s, err := e.load(source)
	if err != nil {
		return "", err
	}
	return s.SHA, nil
}

func (e *Engine) load(source string) (*Script, error) {
	sha := SHA1Hex(source)
	if s, ok := e.scripts.Load(sha); ok {
		return s, nil
	}

	chunk, err := parse.Parse(strings.NewReader(source), "@user_script")
	if err != nil {
		return nil, errors.New("ERR Error compiling script (new function): " + flatten(err.Error()))
	}
	proto, err := lua.Compile(chunk, "@user_script")
	if err != nil {
		return nil, errors.New("ERR Error compiling script (new function): " + flatten(err.Error()))
	}

	s, _ := e.scripts.LoadOrStore(sha, &Script{SHA: sha, Source: source, proto: proto})
	return s, nil
}

// Eval compiles (or reuses) source and runs it
func (e *Engine) Eval(ctx context.Context, source string, keys, argv [][]byte, call Caller) protocol.Value {
	s, err := e.load(source)
	if err != nil {
		return protocol.Error(err.Error())
	}
	return e.run(ctx, s, keys, argv, call)
}

// EvalSHA runs a previously loaded script by its SHA1 hash
func (e *Engine) EvalSHA(ctx context.Context, sha string, keys, argv [][]byte, call Caller) protocol.Value {
	s, ok := e.scripts.Load(strings.ToLower(sha))
	if !ok {
		return protocol.Error(ErrNoScript.Error())
	}
	return e.run(ctx, s, keys, argv, call)
}

// Exists checks if scripts with given SHA1 hashes are cached
func (e *Engine) Exists(hashes ...string) []bool {
	results := make([]bool, len(hashes))
	for i, hash := range hashes {
		_, results[i] = e.scripts.Load(strings.ToLower(hash))
	}
	return results
}

// Flush removes all cached scripts
func (e *Engine) Flush() {
	e.scripts.Clear()
}

// Len returns the number of cached scripts
func (e *Engine) Len() int {
	return e.scripts.Size()
}

func (e *Engine) run(ctx context.Context, s *Script, keys, argv [][]byte, call Caller) protocol.Value {
	L := newState()
	defer L.Close()
	if ctx != nil {
		L.SetContext(ctx)
	}

	L.SetGlobal("KEYS", stringTable(L, keys))
	L.SetGlobal("ARGV", stringTable(L, argv))
	L.SetGlobal("redis", redisTable(L, call))

	L.Push(L.NewFunctionFromProto(s.proto))
	if err := L.PCall(0, 1, nil); err != nil {
		var apiErr *lua.ApiError
		if errors.As(err, &apiErr) {
			if t, ok := apiErr.Object.(*lua.LTable); ok {
				if msg, ok := t.RawGetString("err").(lua.LString); ok {
					return protocol.Error(string(msg))
				}
			}
		}
		return protocol.Error("ERR Error running script (call to " + s.SHA + "): " + flatten(err.Error()))
	}

	return toReply(L.Get(-1))
}

// newState opens only the libraries a script may use.
func newState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	// Scripts must not load code from disk.
	for _, name := range []string{"dofile", "loadfile", "require"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

func stringTable(L *lua.LState, items [][]byte) *lua.LTable {
	t := L.CreateTable(len(items), 0)
	for i, item := range items {
		t.RawSetInt(i+1, lua.LString(item))
	}
	return t
}

func redisTable(L *lua.LState, call Caller) *lua.LTable {
	t := L.NewTable()
	L.SetFuncs(t, map[string]lua.LGFunction{
		"call": func(L *lua.LState) int {
			reply, err := invoke(L, call)
			if err != nil {
				L.Error(errorTable(L, err.Error()), 1)
				return 0
			}
			if reply.IsError() {
				L.Error(errorTable(L, reply.Error()), 1)
				return 0
			}
			L.Push(toLua(L, reply))
			return 1
		},
		"pcall": func(L *lua.LState) int {
			reply, err := invoke(L, call)
			if err != nil {
				L.Push(errorTable(L, err.Error()))
				return 1
			}
			L.Push(toLua(L, reply))
			return 1
		},
		"status_reply": func(L *lua.LState) int {
			st := L.NewTable()
			st.RawSetString("ok", lua.LString(L.CheckString(1)))
			L.Push(st)
			return 1
		},
		"error_reply": func(L *lua.LState) int {
			L.Push(errorTable(L, L.CheckString(1)))
			return 1
		},
		"sha1hex": func(L *lua.LState) int {
			L.Push(lua.LString(SHA1Hex(L.CheckString(1))))
			return 1
		},
	})
	return t
}

func invoke(L *lua.LState, call Caller) (protocol.Value, error) {
	argc := L.GetTop()
	if argc == 0 {
		return protocol.Value{}, errors.New("ERR Please specify at least one argument for this redis lib call")
	}

	argv := make([][]byte, argc)
	for i := 1; i <= argc; i++ {
		switch v := L.Get(i).(type) {
		case lua.LString:
			argv[i-1] = []byte(v)
		case lua.LNumber:
			argv[i-1] = []byte(formatNumber(v))
		default:
			return protocol.Value{}, errors.New("ERR Lua redis lib command arguments must be strings or integers")
		}
	}
	if call == nil {
		return protocol.Value{}, errors.New("ERR redis lib calls are not available")
	}
	return call(argv), nil
}

func errorTable(L *lua.LState, msg string) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("err", lua.LString(msg))
	return t
}

// toLua converts a command reply to its Lua form
func toLua(L *lua.LState, v protocol.Value) lua.LValue {
	switch v.Type {
	case protocol.TypeInteger:
		return lua.LNumber(v.Integer)
	case protocol.TypeBulkString:
		if v.IsNull {
			return lua.LFalse
		}
		return lua.LString(v.Data)
	case protocol.TypeSimpleString:
		t := L.NewTable()
		t.RawSetString("ok", lua.LString(v.Data))
		return t
	case protocol.TypeError:
		return errorTable(L, string(v.Data))
	case protocol.TypeArray:
		if v.IsNull {
			return lua.LFalse
		}
		t := L.CreateTable(len(v.Array), 0)
		for i, item := range v.Array {
			t.RawSetInt(i+1, toLua(L, item))
		}
		return t
	default:
		return lua.LNil
	}
}

// toReply converts a script's return value to a reply
func toReply(lv lua.LValue) protocol.Value {
	switch v := lv.(type) {
	case lua.LString:
		return protocol.BulkStringFromString(string(v))
	case lua.LNumber:
		return protocol.Integer(int64(math.Trunc(float64(v))))
	case lua.LBool:
		if v {
			return protocol.Integer(1)
		}
		return protocol.NullBulkString()
	case *lua.LTable:
		if msg, ok := v.RawGetString("err").(lua.LString); ok {
			return protocol.Error(string(msg))
		}
		if msg, ok := v.RawGetString("ok").(lua.LString); ok {
			return protocol.SimpleString(string(msg))
		}
		// Arrays stop at the first nil, as in Redis.
		var items []protocol.Value
		for i := 1; ; i++ {
			item := v.RawGetInt(i)
			if item == lua.LNil {
				break
			}
			items = append(items, toReply(item))
		}
		return protocol.Array(items...)
	default:
		return protocol.NullBulkString()
	}
}

func formatNumber(n lua.LNumber) string {
	f := float64(n)
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', 17, 64)
}

func flatten(msg string) string {
	return strings.ReplaceAll(msg, "\n", " ")
}
