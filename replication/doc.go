// Package replication implements both sides of Redis master/replica
// replication.
//
// The master side keeps a registry of attached replicas. Every write the
// dispatcher accepts is handed to Master.Propagate, which appends the encoded
// command to each replica's outbound queue and advances the replication
// offset by the encoded length. Each replica link is drained by its own
// writer goroutine, so a slow or dead replica never blocks the write path.
//
// The replica side is Client. It performs the handshake:
//   - PING
//   - REPLCONF listening-port <port>
//   - REPLCONF capa psync2
//   - PSYNC ? -1
//
// then loads the snapshot that follows +FULLRESYNC and applies the command
// stream through an Applier. Any link failure triggers a full resync after a
// capped exponential backoff.
//
// Basic usage:
//
//	master := replication.NewMaster(replication.WithLogger(logger))
//	client := replication.NewClient("localhost:6379", store, dispatcher)
//	client.SetListeningPort(6380)
//	if err := client.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer client.Stop()
package replication
