// Command redis-inmemory-server runs an in-memory Redis-compatible server.
//
//	redis-inmemory-server --port 6380 --replicaof "localhost 6379"
package main

import "github.com/raniellyferreira/redis-inmemory-server/internal/cli"

func main() {
	cli.Execute()
}
