package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	redisserver "github.com/raniellyferreira/redis-inmemory-server"
)

func TestParseKeyspace(t *testing.T) {
	info := "# Keyspace\r\ndb0:keys=2,expires=1,avg_ttl=0\r\ndb3:keys=5,expires=0\r\n"
	assert.Equal(t, map[int]DatabaseStats{
		0: {Keys: 2, Expires: 1},
		3: {Keys: 5},
	}, parseKeyspace(info))
}

func TestParseInfo(t *testing.T) {
	fields := parseInfo("# Replication\r\nrole:master\r\nmaster_repl_offset:42\r\n")
	assert.Equal(t, "master", fields["role"])
	assert.Equal(t, "42", fields["master_repl_offset"])
}

func TestCompare(t *testing.T) {
	ref := &Snapshot{Digest: "a", DBSize: 2, Offset: 10, Keyspace: map[int]DatabaseStats{0: {Keys: 2}}}
	assert.Empty(t, compare(ref, ref))

	sut := &Snapshot{Digest: "b", DBSize: 1, Offset: 4, Keyspace: map[int]DatabaseStats{0: {Keys: 1}, 1: {Keys: 1}}}
	diffs := compare(ref, sut)
	assert.Len(t, diffs, 5)
	assert.Contains(t, diffs, "replication offset differs: REF=10 SUT=4 (lag 6 bytes)")
	assert.Contains(t, diffs, "db1 missing in REF")
}

func TestCommandAgainstNodes(t *testing.T) {
	ctx := context.Background()
	start := func(opts ...redisserver.Option) *redisserver.Node {
		base := []redisserver.Option{
			redisserver.WithBind("127.0.0.1"),
			redisserver.WithPort(0),
			redisserver.WithDir(t.TempDir()),
			redisserver.WithLogger(zap.NewNop()),
		}
		n, err := redisserver.New(append(base, opts...)...)
		require.NoError(t, err)
		require.NoError(t, n.Start(ctx))
		t.Cleanup(func() { n.Close() })
		return n
	}

	a := start()
	b := start()

	run := func() (string, error) {
		cmd := newCommand()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"--ref", a.Addr(), "--sut", b.Addr()})
		err := cmd.ExecuteContext(ctx)
		return out.String(), err
	}

	out, err := run()
	require.NoError(t, err, out)
	assert.Contains(t, out, "OK: digest")

	require.NoError(t, a.Storage().Set("k", []byte("v"), nil))
	out, err = run()
	assert.Error(t, err)
	assert.Contains(t, out, "DIFF: digest differs")
}
