package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "redis_inmemory"

// Metrics holds all Prometheus metrics for one node
type Metrics struct {
	registry *prometheus.Registry

	// Command metrics
	CommandsTotal   *prometheus.CounterVec
	CommandErrors   *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec

	// Connection metrics
	ConnectionsTotal prometheus.Counter
	ConnectedClients prometheus.Gauge

	// Master-side replication metrics
	ReplicationOffset prometheus.Gauge
	ConnectedReplicas prometheus.Gauge
	ReplicasDropped   *prometheus.CounterVec

	// Replica-side replication metrics
	SyncDuration      prometheus.Histogram
	Reconnections     prometheus.Counter
	ReplicationErrors *prometheus.CounterVec
	ReplicationBytes  prometheus.Counter

	// Snapshot metrics
	SnapshotLoadDuration prometheus.Gauge
	SnapshotKeysLoaded   prometheus.Gauge
}

// New creates the collectors on a private registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		CommandsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands executed, by command name",
		}, []string{"command"}),
		CommandErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_errors_total",
			Help:      "Commands that returned an error reply, by command name",
		}, []string{"command"}),
		CommandDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Command execution time",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"command"}),

		ConnectionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Client connections accepted",
		}),
		ConnectedClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_clients",
			Help:      "Currently connected clients",
		}),

		ReplicationOffset: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "offset_bytes",
			Help:      "Replication offset",
		}),
		ConnectedReplicas: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "connected_replicas",
			Help:      "Replicas attached to this node",
		}),
		ReplicasDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "replicas_dropped_total",
			Help:      "Replica links closed by the master, by reason",
		}, []string{"reason"}),

		SyncDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "sync_duration_seconds",
			Help:      "Time spent on a full resynchronisation",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		Reconnections: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "reconnections_total",
			Help:      "Reconnections to the master",
		}),
		ReplicationErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "errors_total",
			Help:      "Replication link failures, by phase",
		}, []string{"phase"}),
		ReplicationBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "received_bytes_total",
			Help:      "Bytes received from the master",
		}),

		SnapshotLoadDuration: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "load_duration_seconds",
			Help:      "Duration of the last snapshot load",
		}),
		SnapshotKeysLoaded: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "keys_loaded",
			Help:      "Keys loaded by the last snapshot load",
		}),
	}
}

// Registry returns the registry the collectors live in
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RegisterKeyspace exports the live key count computed by fn
func (m *Metrics) RegisterKeyspace(fn func() int64) {
	if m == nil {
		return
	}
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "keyspace_keys",
		Help:      "Keys in the keyspace",
	}, func() float64 { return float64(fn()) })
}

// RecordCommand records one command execution
func (m *Metrics) RecordCommand(name string, duration time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.CommandsTotal.WithLabelValues(name).Inc()
	m.CommandDuration.WithLabelValues(name).Observe(duration.Seconds())
	if failed {
		m.CommandErrors.WithLabelValues(name).Inc()
	}
}

// ConnectionOpened records an accepted connection
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ConnectionsTotal.Inc()
	m.ConnectedClients.Inc()
}

// ConnectionClosed records a closed connection
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ConnectedClients.Dec()
}

// RecordSyncDuration records a completed full sync
func (m *Metrics) RecordSyncDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.SyncDuration.Observe(duration.Seconds())
}

// RecordNetworkBytes records bytes received from the master
func (m *Metrics) RecordNetworkBytes(n int64) {
	if m == nil {
		return
	}
	m.ReplicationBytes.Add(float64(n))
}

// RecordReconnection records a reconnection attempt to the master
func (m *Metrics) RecordReconnection() {
	if m == nil {
		return
	}
	m.Reconnections.Inc()
}

// RecordError records a replication link failure
func (m *Metrics) RecordError(phase string) {
	if m == nil {
		return
	}
	m.ReplicationErrors.WithLabelValues(phase).Inc()
}

// RecordReplicationOffset records the current replication offset
func (m *Metrics) RecordReplicationOffset(offset int64) {
	if m == nil {
		return
	}
	m.ReplicationOffset.Set(float64(offset))
}

// SetConnectedReplicas records the number of attached replicas
func (m *Metrics) SetConnectedReplicas(n int) {
	if m == nil {
		return
	}
	m.ConnectedReplicas.Set(float64(n))
}

// RecordReplicaDropped records a replica link closed by the master
func (m *Metrics) RecordReplicaDropped(reason string) {
	if m == nil {
		return
	}
	m.ReplicasDropped.WithLabelValues(reason).Inc()
}

// RecordSnapshotLoad records the outcome of the startup snapshot load
func (m *Metrics) RecordSnapshotLoad(duration time.Duration, keys int64) {
	if m == nil {
		return
	}
	m.SnapshotLoadDuration.Set(duration.Seconds())
	m.SnapshotKeysLoaded.Set(float64(keys))
}
