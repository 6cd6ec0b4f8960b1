package command

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/raniellyferreira/redis-inmemory-server/protocol"
	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

func cmdPing(c *call) protocol.Value {
	switch len(c.args) {
	case 0:
		return protocol.SimpleString("PONG")
	case 1:
		return protocol.BulkString(c.args[0])
	default:
		return wrongArity(c.spec.Name)
	}
}

func cmdEcho(c *call) protocol.Value {
	return protocol.BulkString(c.args[0])
}

func cmdQuit(c *call) protocol.Value {
	c.s.closing.Store(true)
	return protocol.OK()
}

var infoSections = []string{"server", "clients", "stats", "replication", "keyspace"}

// cmdInfo implements INFO [section ...].
func cmdInfo(c *call) protocol.Value {
	wanted := make(map[string]bool)
	for _, arg := range c.args {
		s := strings.ToLower(string(arg))
		if s == "all" || s == "everything" || s == "default" {
			wanted = nil
			break
		}
		wanted[s] = true
	}

	var b strings.Builder
	for _, section := range infoSections {
		if len(wanted) > 0 && !wanted[section] {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\r\n")
		}
		switch section {
		case "server":
			c.d.writeServerInfo(&b)
		case "clients":
			c.d.writeClientsInfo(&b)
		case "stats":
			c.d.writeStatsInfo(&b)
		case "replication":
			c.d.writeReplicationInfo(&b)
		case "keyspace":
			c.d.writeKeyspaceInfo(&b)
		}
	}
	return protocol.BulkStringFromString(b.String())
}

func infoLine(b *strings.Builder, key string, value interface{}) {
	fmt.Fprintf(b, "%s:%v\r\n", key, value)
}

func (d *Dispatcher) writeServerInfo(b *strings.Builder) {
	b.WriteString("# Server\r\n")
	infoLine(b, "redis_version", RedisVersion)
	infoLine(b, "redis_mode", "standalone")
	infoLine(b, "process_id", os.Getpid())
	infoLine(b, "run_id", d.master.ReplID())
	infoLine(b, "tcp_port", d.config.Port)
	uptime := d.now().Sub(d.started)
	infoLine(b, "uptime_in_seconds", int64(uptime.Seconds()))
	infoLine(b, "uptime_in_days", int64(uptime.Hours()/24))
}

func (d *Dispatcher) writeClientsInfo(b *strings.Builder) {
	b.WriteString("# Clients\r\n")
	infoLine(b, "connected_clients", d.clientCount())
	infoLine(b, "blocked_clients", d.blockedClients.Load())
}

func (d *Dispatcher) writeStatsInfo(b *strings.Builder) {
	b.WriteString("# Stats\r\n")
	infoLine(b, "total_commands_processed", d.commandsProcessed.Load())
}

func (d *Dispatcher) writeReplicationInfo(b *strings.Builder) {
	b.WriteString("# Replication\r\n")

	if up := d.upstreamLink(); up != nil {
		host, port, err := net.SplitHostPort(up.MasterAddr())
		if err != nil {
			host, port = up.MasterAddr(), ""
		}
		status := "down"
		if up.LinkUp() {
			status = "up"
		}
		readOnly := 0
		if d.config.ReplicaReadOnly {
			readOnly = 1
		}
		infoLine(b, "role", "slave")
		infoLine(b, "master_host", host)
		infoLine(b, "master_port", port)
		infoLine(b, "master_link_status", status)
		infoLine(b, "slave_repl_offset", up.Offset())
		infoLine(b, "slave_read_only", readOnly)
	} else {
		infoLine(b, "role", "master")
	}

	replicas := d.master.Replicas()
	infoLine(b, "connected_slaves", len(replicas))
	for i, r := range replicas {
		infoLine(b, "slave"+strconv.Itoa(i), fmt.Sprintf("ip=%s,port=%d,state=%s,offset=%d,lag=%d",
			r.IP, r.Port, r.State.InfoState(), r.Offset, int64(r.Lag.Seconds())))
	}
	infoLine(b, "master_replid", d.master.ReplID())
	infoLine(b, "master_repl_offset", d.master.Offset())
}

func (d *Dispatcher) writeKeyspaceInfo(b *strings.Builder) {
	b.WriteString("# Keyspace\r\n")
	info := d.store.Info()
	keys, _ := info["keys"].(int64)
	expires, _ := info["expires"].(int64)
	if keys > 0 {
		infoLine(b, "db0", fmt.Sprintf("keys=%d,expires=%d,avg_ttl=0", keys, expires))
	}
}

// configParams lists the parameters CONFIG GET knows, in reply order.
var configParams = []string{"dir", "dbfilename", "port", "replica-read-only", "replicaof"}

func (d *Dispatcher) configValue(name string) string {
	switch name {
	case "dir":
		return d.config.Dir
	case "dbfilename":
		return d.config.DBFilename
	case "port":
		return strconv.Itoa(d.config.Port)
	case "replica-read-only":
		if d.config.ReplicaReadOnly {
			return "yes"
		}
		return "no"
	case "replicaof":
		return d.config.ReplicaOf
	}
	return ""
}

// cmdConfig implements CONFIG GET pattern [pattern ...].
func cmdConfig(c *call) protocol.Value {
	if !strings.EqualFold(c.arg(0), "GET") {
		return protocol.Errorf("ERR unknown subcommand '%s'. Try CONFIG HELP.", c.arg(0))
	}
	if len(c.args) < 2 {
		return protocol.Error("ERR wrong number of arguments for 'config|get' command")
	}

	var out []protocol.Value
	for _, name := range configParams {
		for _, pattern := range c.args[1:] {
			if storage.MatchPattern(name, strings.ToLower(string(pattern))) {
				out = append(out, protocol.BulkStringFromString(name), protocol.BulkStringFromString(c.d.configValue(name)))
				break
			}
		}
	}
	return protocol.Array(out...)
}

// cmdDebug implements DEBUG DIGEST and DEBUG DIGEST-VALUE key [key ...].
func cmdDebug(c *call) protocol.Value {
	switch strings.ToUpper(c.arg(0)) {
	case "DIGEST":
		return protocol.BulkStringFromString(c.d.store.Digest())
	case "DIGEST-VALUE":
		out := make([]protocol.Value, 0, len(c.args)-1)
		for _, key := range c.args[1:] {
			out = append(out, protocol.BulkStringFromString(c.d.store.DigestKey(string(key))))
		}
		return protocol.Array(out...)
	default:
		return protocol.Errorf("ERR unknown subcommand '%s'. Try DEBUG HELP.", c.arg(0))
	}
}
