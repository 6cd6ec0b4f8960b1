package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordCommand("GET", time.Millisecond, false)
		m.ConnectionOpened()
		m.ConnectionClosed()
		m.RecordSyncDuration(time.Second)
		m.RecordNetworkBytes(10)
		m.RecordReconnection()
		m.RecordError("stream")
		m.RecordReplicationOffset(5)
		m.SetConnectedReplicas(1)
		m.RecordReplicaDropped("overflow")
		m.RecordSnapshotLoad(time.Second, 3)
		m.RegisterKeyspace(func() int64 { return 0 })
	})
	assert.Nil(t, m.Registry())
}

func TestRecordCommand(t *testing.T) {
	m := New()

	m.RecordCommand("SET", time.Millisecond, false)
	m.RecordCommand("SET", time.Millisecond, true)
	m.RecordCommand("GET", time.Millisecond, false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CommandsTotal.WithLabelValues("SET")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommandErrors.WithLabelValues("SET")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.CommandErrors.WithLabelValues("GET")))
}

func TestConnectionAndReplicationGauges(t *testing.T) {
	m := New()

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectedClients))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConnectionsTotal))

	m.RecordReplicationOffset(1234)
	m.SetConnectedReplicas(2)
	m.RecordReplicaDropped("overflow")
	m.RecordNetworkBytes(100)
	m.RecordNetworkBytes(50)
	m.RecordError("handshake")

	assert.Equal(t, 1234.0, testutil.ToFloat64(m.ReplicationOffset))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConnectedReplicas))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReplicasDropped.WithLabelValues("overflow")))
	assert.Equal(t, 150.0, testutil.ToFloat64(m.ReplicationBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReplicationErrors.WithLabelValues("handshake")))
}

func TestKeyspaceGauge(t *testing.T) {
	m := New()
	keys := int64(7)
	m.RegisterKeyspace(func() int64 { return keys })

	srv := httptest.NewServer(promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	defer srv.Close()

	body := fetch(t, srv.URL)
	assert.Contains(t, body, "redis_inmemory_keyspace_keys 7")
}

func TestServerEndpoints(t *testing.T) {
	m := New()
	m.RecordCommand("PING", time.Microsecond, false)

	s := NewServer("127.0.0.1:0", m, nil)
	require.NoError(t, s.Start())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, s.Stop(ctx))
	}()

	body := fetch(t, "http://"+s.Addr()+"/metrics")
	assert.Contains(t, body, `redis_inmemory_commands_total{command="PING"} 1`)

	body = fetch(t, "http://"+s.Addr()+"/health")
	assert.True(t, strings.HasPrefix(body, `{"status":"healthy"`), body)
}

func fetch(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}
