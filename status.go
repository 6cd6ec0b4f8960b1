package redisserver

import (
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/replication"
)

// SyncStatus represents the replication state of a node
type SyncStatus struct {
	Role                 string
	InitialSyncCompleted bool
	Connected            bool
	LinkState            string
	MasterAddr           string
	MasterReplID         string
	ReplicationOffset    int64
	LastSyncTime         time.Time
	BytesReceived        int64
	CommandsProcessed    int64
	ReconnectCount       int64
	KeysLoaded           int64

	// Master side
	ReplID            string
	MasterOffset      int64
	ConnectedReplicas int
	Replicas          []replication.ReplicaInfo
}

// SyncStatus returns the current replication status
//
// On a master only the master-side fields are set. A replica reports both,
// because replicas may serve replicas of their own.
func (n *Node) SyncStatus() SyncStatus {
	status := SyncStatus{
		Role:              n.Role(),
		ReplID:            n.master.ReplID(),
		MasterOffset:      n.master.Offset(),
		ConnectedReplicas: n.master.ConnectedReplicas(),
		Replicas:          n.master.Replicas(),
	}
	if n.client == nil {
		return status
	}

	stats := n.client.Stats()
	status.InitialSyncCompleted = stats.InitialSyncCompleted
	status.Connected = n.client.LinkUp()
	status.LinkState = n.client.State().String()
	status.MasterAddr = stats.MasterAddr
	status.MasterReplID = stats.MasterReplID
	status.ReplicationOffset = stats.ReplicationOffset
	status.LastSyncTime = stats.LastSyncTime
	status.BytesReceived = stats.BytesReceived
	status.CommandsProcessed = stats.CommandsProcessed
	status.ReconnectCount = stats.ReconnectCount
	status.KeysLoaded = stats.KeysLoaded
	return status
}

// IsConnected reports whether a replica is streaming from its master
func (n *Node) IsConnected() bool {
	return n.client != nil && n.client.LinkUp()
}

// GetInfo returns keyspace, replication and version information
func (n *Node) GetInfo() map[string]interface{} {
	info := n.store.Info()

	status := n.SyncStatus()
	repl := map[string]interface{}{
		"role":               status.Role,
		"master_replid":      status.ReplID,
		"master_repl_offset": status.MasterOffset,
		"connected_replicas": status.ConnectedReplicas,
	}
	if n.client != nil {
		repl["master_addr"] = status.MasterAddr
		repl["link_up"] = status.Connected
		repl["initial_sync_completed"] = status.InitialSyncCompleted
		repl["replication_offset"] = status.ReplicationOffset
	}
	info["replication"] = repl
	info["version"] = VersionInfo()

	return info
}
