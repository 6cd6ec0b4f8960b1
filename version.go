package redisserver

import (
	"runtime"

	"github.com/raniellyferreira/redis-inmemory-server/command"
)

// Version is the current version of the redis-inmemory-server library.
const Version = "0.3.0"

// Build metadata, set with -ldflags "-X ...".
var (
	GitCommit string
	BuildTime string
)

// VersionInfo returns the library version, the Redis version reported by
// INFO, and build metadata when present.
func VersionInfo() map[string]string {
	info := map[string]string{
		"version":       Version,
		"redis_version": command.RedisVersion,
		"go":            runtime.Version(),
	}
	if GitCommit != "" {
		info["commit"] = GitCommit
	}
	if BuildTime != "" {
		info["build_time"] = BuildTime
	}
	return info
}
