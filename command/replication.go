package command

import (
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/raniellyferreira/redis-inmemory-server/protocol"
)

// cmdReplconf implements the REPLCONF options used during and after the
// replication handshake.
func cmdReplconf(c *call) protocol.Value {
	if len(c.args) == 0 || len(c.args)%2 != 0 {
		return errSyntax
	}

	for i := 0; i < len(c.args); i += 2 {
		opt, val := strings.ToLower(c.arg(i)), c.arg(i+1)
		switch opt {
		case "listening-port":
			port, err := strconv.Atoi(val)
			if err != nil || port < 0 || port > 65535 {
				return protocol.Error("ERR Invalid listening port")
			}
			if c.s.peer != nil {
				c.d.master.Handshake(c.s.peer).SetListeningPort(port)
			}
		case "capa":
			if c.s.peer != nil {
				c.d.master.Handshake(c.s.peer).AddCapability(val)
			}
		case "ack":
			offset, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return protocol.NoReply
			}
			c.d.master.Ack(c.s.id, offset)
			return protocol.NoReply
		case "getack":
			offset := c.d.master.Offset()
			if up := c.d.upstreamLink(); up != nil {
				offset = up.Offset()
			}
			return protocol.Array(
				protocol.BulkStringFromString("REPLCONF"),
				protocol.BulkStringFromString("ACK"),
				protocol.BulkStringFromString(strconv.FormatInt(offset, 10)),
			)
		default:
			return protocol.Errorf("ERR Unrecognized REPLCONF option: %s", c.arg(i))
		}
	}
	return protocol.OK()
}

// cmdPsync attaches the connection as a replica. The FULLRESYNC line and
// the snapshot are written by the replica link, so the command itself has
// no reply.
func cmdPsync(c *call) protocol.Value {
	if c.s.peer == nil || c.s.upstream {
		return protocol.Error("ERR PSYNC is not supported on this connection")
	}
	if c.s.IsReplicaLink() {
		return protocol.Error("ERR Replica already attached")
	}

	// Attach between two writes so the stream starts exactly after the
	// snapshot.
	c.d.writeMu.Lock()
	r := c.d.master.Attach(c.s.peer)
	c.d.writeMu.Unlock()

	c.s.replicaLink.Store(true)
	c.d.logger.Info("Replica requested full resync",
		zap.Uint64("client", c.s.id),
		zap.String("replid", c.arg(0)),
		zap.String("offset", c.arg(1)),
		zap.Int("listening_port", r.ListeningPort()))
	return protocol.NoReply
}

// cmdWait implements WAIT numreplicas timeout.
func cmdWait(c *call) protocol.Value {
	if c.d.IsReplica() {
		return protocol.Error("ERR WAIT cannot be used with replica instances.")
	}

	n, err := strconv.Atoi(c.arg(0))
	if err != nil {
		return errNotInteger
	}
	ms, err := strconv.ParseInt(c.arg(1), 10, 64)
	if err != nil {
		return protocol.Error("ERR timeout is not an integer or out of range")
	}
	if ms < 0 {
		return protocol.Error("ERR timeout is negative")
	}

	c.d.blockedClients.Add(1)
	defer c.d.blockedClients.Add(-1)

	acked := c.d.master.Wait(c.ctx(), n, time.Duration(ms)*time.Millisecond)
	return protocol.Integer(int64(acked))
}
