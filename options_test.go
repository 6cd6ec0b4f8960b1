package redisserver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionValidation(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
	}{
		{"negative port", WithPort(-1)},
		{"port out of range", WithPort(70000)},
		{"replicaof without port", WithReplicaOf("localhost")},
		{"replicaof with bad port", WithReplicaOf("localhost:abc")},
		{"replicaof without host", WithReplicaOf(":6379")},
		{"empty dir", WithDir("")},
		{"dbfilename with separator", WithDBFilename("../dump.rdb")},
		{"zero connect timeout", WithConnectTimeout(0)},
		{"zero sync timeout", WithSyncTimeout(0)},
		{"negative ack interval", WithAckInterval(-time.Second)},
		{"inverted backoff", WithReconnectBackoff(time.Second, time.Millisecond)},
		{"zero queue size", WithReplicaQueueSize(0)},
		{"nil logger", WithLogger(nil)},
		{"nil metrics", WithMetrics(nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opt)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
		})
	}
}

func TestReplicaOfConnectionError(t *testing.T) {
	_, err := New(WithReplicaOf("nohost"))
	var cerr *ConnectionError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "nohost", cerr.Addr)
}

func TestDefaults(t *testing.T) {
	n, err := New()
	require.NoError(t, err)
	defer n.Close()

	assert.Equal(t, ":6379", n.config.listenAddr())
	assert.Equal(t, "master", n.Role())
	assert.Nil(t, n.client)
	assert.Nil(t, n.metricsServer)
	assert.ErrorIs(t, n.WaitForSync(context.Background()), ErrNotReplica)
}

func TestReplicaOfParam(t *testing.T) {
	assert.Equal(t, "10.0.0.1 6379", replicaOfParam("10.0.0.1:6379"))
	assert.Equal(t, "", replicaOfParam(""))
}

func TestStartAfterClose(t *testing.T) {
	n, err := New(WithBind("127.0.0.1"), WithPort(0), WithDir(t.TempDir()))
	require.NoError(t, err)
	require.NoError(t, n.Close())
	assert.ErrorIs(t, n.Start(context.Background()), ErrClosed)
	assert.NoError(t, n.Close())
}

func TestMetricsEndpoint(t *testing.T) {
	n, err := New(
		WithBind("127.0.0.1"),
		WithPort(0),
		WithDir(t.TempDir()),
		WithMetricsAddr("127.0.0.1:0"),
	)
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background()))
	defer n.Close()

	assert.NotEmpty(t, n.MetricsAddr())
	assert.NotEqual(t, "127.0.0.1:0", n.MetricsAddr())
	assert.Equal(t, "master", n.GetInfo()["replication"].(map[string]interface{})["role"])
	assert.Equal(t, Version, VersionInfo()["version"])
}
