package command

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/raniellyferreira/redis-inmemory-server/lua"
	"github.com/raniellyferreira/redis-inmemory-server/protocol"
	"github.com/raniellyferreira/redis-inmemory-server/replication"
	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

// RedisVersion is the version reported by INFO and HELLO-less clients.
const RedisVersion = "7.2.0"

// Config holds the settings exposed by CONFIG GET and INFO.
type Config struct {
	Port            int
	Dir             string
	DBFilename      string
	ReplicaOf       string
	ReplicaReadOnly bool
}

// Upstream is the replica-side view of the link to our master.
type Upstream interface {
	MasterAddr() string
	LinkUp() bool
	Offset() int64
}

// MetricsCollector records command executions.
type MetricsCollector interface {
	RecordCommand(name string, duration time.Duration, failed bool)
}

type upstreamRef struct {
	Upstream
}

// Dispatcher executes commands against the keyspace and feeds the
// replication stream.
type Dispatcher struct {
	store   storage.Storage
	master  *replication.Master
	scripts *lua.Engine
	table   map[string]*Spec

	// writeMu orders mutation plus propagation.
	writeMu sync.Mutex

	upstream        atomic.Pointer[upstreamRef]
	upstreamSession *Session

	config      Config
	clientCount func() int
	now         func() time.Time
	started     time.Time
	logger      *zap.Logger
	metrics     MetricsCollector

	commandsProcessed atomic.Int64
	blockedClients    atomic.Int64
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics sets the command metrics collector.
func WithMetrics(m MetricsCollector) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithConfig sets the values reported by CONFIG GET and INFO.
func WithConfig(cfg Config) Option {
	return func(d *Dispatcher) {
		d.config = cfg
	}
}

// WithScripts shares a script engine between dispatchers.
func WithScripts(e *lua.Engine) Option {
	return func(d *Dispatcher) {
		if e != nil {
			d.scripts = e
		}
	}
}

// WithClientCount sets the source of connected_clients.
func WithClientCount(fn func() int) Option {
	return func(d *Dispatcher) {
		d.clientCount = fn
	}
}

// WithClock overrides the time source used for expiries.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDispatcher creates a dispatcher over store. Writes are propagated
// through master, which must not be nil.
func NewDispatcher(store storage.Storage, master *replication.Master, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:       store,
		master:      master,
		scripts:     lua.NewEngine(),
		config:      Config{Port: 6379, Dir: ".", DBFilename: "dump.rdb", ReplicaReadOnly: true},
		clientCount: func() int { return 0 },
		now:         time.Now,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.started = d.now()
	d.table = newTable()
	d.upstreamSession = &Session{ctx: context.Background(), upstream: true}
	return d
}

// SetUpstream switches the dispatcher to the replica role. Passing nil
// switches it back to master.
func (d *Dispatcher) SetUpstream(u Upstream) {
	if u == nil {
		d.upstream.Store(nil)
		return
	}
	d.upstream.Store(&upstreamRef{u})
}

func (d *Dispatcher) upstreamLink() Upstream {
	if ref := d.upstream.Load(); ref != nil {
		return ref.Upstream
	}
	return nil
}

// IsReplica reports whether the dispatcher follows a master.
func (d *Dispatcher) IsReplica() bool {
	return d.upstream.Load() != nil
}

// Master returns the replication master fed by this dispatcher.
func (d *Dispatcher) Master() *replication.Master {
	return d.master
}

// Lookup returns the spec of a command.
func (d *Dispatcher) Lookup(name string) (*Spec, bool) {
	spec, ok := d.table[strings.ToLower(name)]
	return spec, ok
}

// Apply executes a command received from the upstream master. It
// implements replication.Applier.
func (d *Dispatcher) Apply(cmd *protocol.Command) protocol.Value {
	return d.Dispatch(d.upstreamSession, cmd)
}

// CloseSession releases whatever the session holds in the replication
// registry. The server calls it when the connection goes away.
func (d *Dispatcher) CloseSession(s *Session) {
	d.master.Remove(s.ID())
}

// Dispatch validates and executes cmd.
func (d *Dispatcher) Dispatch(s *Session, cmd *protocol.Command) protocol.Value {
	name := strings.ToLower(cmd.Name)
	spec, ok := d.table[name]
	if !ok {
		return unknownCommand(cmd)
	}
	if !spec.arityOK(len(cmd.Args) + 1) {
		return wrongArity(spec.Name)
	}
	if s.script && spec.Flags.Has(FlagNoScript) {
		return protocol.Error("ERR This Redis command is not allowed from script")
	}
	if spec.Flags.Has(FlagWrite) && !s.upstream && d.config.ReplicaReadOnly && d.IsReplica() {
		return protocol.Error("READONLY You can't write against a read only replica.")
	}

	start := time.Now()
	reply := d.execute(s, spec, cmd.Args)
	d.commandsProcessed.Add(1)
	if d.metrics != nil {
		d.metrics.RecordCommand(spec.Name, time.Since(start), reply.IsError())
	}
	return reply
}

func (d *Dispatcher) execute(s *Session, spec *Spec, args [][]byte) protocol.Value {
	c := &call{d: d, s: s, spec: spec, args: args}

	if !spec.Flags.Has(FlagWrite) {
		return spec.handler(c)
	}

	// A script already holds writeMu for its whole run.
	if !s.script {
		d.writeMu.Lock()
		defer d.writeMu.Unlock()
	}

	reply := spec.handler(c)
	if reply.IsError() {
		return reply
	}
	for _, effect := range c.effects {
		d.master.Propagate(effect...)
	}
	return reply
}

// call carries one command invocation through its handler.
type call struct {
	d       *Dispatcher
	s       *Session
	spec    *Spec
	args    [][]byte
	effects [][][]byte
}

func (c *call) ctx() context.Context {
	return c.s.ctx
}

// propagate records the effective command to send to replicas.
func (c *call) propagate(argv ...[]byte) {
	c.effects = append(c.effects, argv)
}

// propagateAsIs records the command exactly as received.
func (c *call) propagateAsIs() {
	argv := make([][]byte, 0, len(c.args)+1)
	argv = append(argv, []byte(strings.ToUpper(c.spec.Name)))
	c.propagate(append(argv, c.args...)...)
}

func (c *call) arg(i int) string {
	return string(c.args[i])
}

func unknownCommand(cmd *protocol.Command) protocol.Value {
	var b strings.Builder
	b.WriteString("ERR unknown command '")
	b.WriteString(cmd.Name)
	b.WriteString("', with args beginning with: ")
	for _, arg := range cmd.Args {
		if b.Len() > 128 {
			break
		}
		b.WriteByte('\'')
		b.Write(arg)
		b.WriteString("' ")
	}
	return protocol.Error(b.String())
}

func wrongArity(name string) protocol.Value {
	return protocol.Error("ERR wrong number of arguments for '" + name + "' command")
}

func errorReply(err error) protocol.Value {
	return protocol.Error(err.Error())
}

var (
	errSyntax     = protocol.Error("ERR syntax error")
	errNotInteger = protocol.Error(storage.ErrNotInteger.Error())
)
