package main

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DatabaseStats represents the statistics for a single database
type DatabaseStats struct {
	Keys    int64
	Expires int64
}

// Snapshot is what repl-diff compares between two endpoints
type Snapshot struct {
	Addr     string
	Digest   string
	DBSize   int64
	Role     string
	Offset   int64
	Keyspace map[int]DatabaseStats
}

var dbLine = regexp.MustCompile(`^db(\d+):keys=(\d+),expires=(\d+)`)

// collect queries one endpoint
func collect(ctx context.Context, client *redis.Client) (*Snapshot, error) {
	s := &Snapshot{Addr: client.Options().Addr}

	digest, err := client.Do(ctx, "DEBUG", "DIGEST").Text()
	if err != nil {
		return nil, fmt.Errorf("DEBUG DIGEST on %s: %w", s.Addr, err)
	}
	s.Digest = digest

	if s.DBSize, err = client.DBSize(ctx).Result(); err != nil {
		return nil, fmt.Errorf("DBSIZE on %s: %w", s.Addr, err)
	}

	repl, err := client.Info(ctx, "replication").Result()
	if err != nil {
		return nil, fmt.Errorf("INFO replication on %s: %w", s.Addr, err)
	}
	fields := parseInfo(repl)
	s.Role = fields["role"]
	offsetKey := "master_repl_offset"
	if s.Role == "slave" {
		offsetKey = "slave_repl_offset"
	}
	s.Offset, _ = strconv.ParseInt(fields[offsetKey], 10, 64)

	keyspace, err := client.Info(ctx, "keyspace").Result()
	if err != nil {
		return nil, fmt.Errorf("INFO keyspace on %s: %w", s.Addr, err)
	}
	s.Keyspace = parseKeyspace(keyspace)

	return s, nil
}

// parseInfo splits an INFO reply into its key:value fields
func parseInfo(info string) map[string]string {
	fields := make(map[string]string)
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if k, v, ok := strings.Cut(line, ":"); ok {
			fields[k] = v
		}
	}
	return fields
}

// parseKeyspace extracts lines like db0:keys=2,expires=0,avg_ttl=0
func parseKeyspace(info string) map[int]DatabaseStats {
	keyspace := make(map[int]DatabaseStats)
	for _, line := range strings.Split(info, "\n") {
		m := dbLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		db, _ := strconv.Atoi(m[1])
		keys, _ := strconv.ParseInt(m[2], 10, 64)
		expires, _ := strconv.ParseInt(m[3], 10, 64)
		keyspace[db] = DatabaseStats{Keys: keys, Expires: expires}
	}
	return keyspace
}

// compare returns one line per difference; none means the endpoints agree
func compare(ref, sut *Snapshot) []string {
	var diffs []string
	if ref.Digest != sut.Digest {
		diffs = append(diffs, fmt.Sprintf("digest differs: REF=%s SUT=%s", ref.Digest, sut.Digest))
	}
	if ref.DBSize != sut.DBSize {
		diffs = append(diffs, fmt.Sprintf("dbsize differs: REF=%d SUT=%d", ref.DBSize, sut.DBSize))
	}
	if ref.Offset != sut.Offset {
		diffs = append(diffs, fmt.Sprintf("replication offset differs: REF=%d SUT=%d (lag %d bytes)",
			ref.Offset, sut.Offset, ref.Offset-sut.Offset))
	}
	for db, r := range ref.Keyspace {
		s, ok := sut.Keyspace[db]
		switch {
		case !ok:
			diffs = append(diffs, fmt.Sprintf("db%d missing in SUT", db))
		case r != s:
			diffs = append(diffs, fmt.Sprintf("db%d differs: REF keys=%d,expires=%d SUT keys=%d,expires=%d",
				db, r.Keys, r.Expires, s.Keys, s.Expires))
		}
	}
	for db := range sut.Keyspace {
		if _, ok := ref.Keyspace[db]; !ok {
			diffs = append(diffs, fmt.Sprintf("db%d missing in REF", db))
		}
	}
	return diffs
}
