package replication

// LinkState is the state of a replica link as seen by the master.
type LinkState int32

const (
	StateHandshakePing LinkState = iota
	StateHandshakeReplconf
	StateHandshakePsync
	StateSnapshotSent
	StateStreaming
	StateClosed
)

func (s LinkState) String() string {
	switch s {
	case StateHandshakePing:
		return "HANDSHAKE_PING"
	case StateHandshakeReplconf:
		return "HANDSHAKE_REPLCONF"
	case StateHandshakePsync:
		return "HANDSHAKE_PSYNC"
	case StateSnapshotSent:
		return "SNAPSHOT_SENT"
	case StateStreaming:
		return "STREAMING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// InfoState is the name INFO replication uses for the state.
func (s LinkState) InfoState() string {
	switch s {
	case StateHandshakePing, StateHandshakeReplconf, StateHandshakePsync:
		return "wait_bgsave"
	case StateSnapshotSent:
		return "send_bulk"
	case StateStreaming:
		return "online"
	default:
		return "closed"
	}
}

// ClientState is the state of the replica-side link to its master.
type ClientState int32

const (
	ClientIdle ClientState = iota
	ClientConnecting
	ClientHandshaking
	ClientLoadingSnapshot
	ClientStreaming
	ClientStopped
)

func (s ClientState) String() string {
	switch s {
	case ClientIdle:
		return "IDLE"
	case ClientConnecting:
		return "CONNECTING"
	case ClientHandshaking:
		return "HANDSHAKING"
	case ClientLoadingSnapshot:
		return "LOADING_SNAPSHOT"
	case ClientStreaming:
		return "STREAMING"
	case ClientStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}
