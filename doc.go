// Package redisserver provides an in-memory, Redis-compatible server that
// can act as a replication master or as a replica of another Redis-speaking
// server.
//
// A Node bundles the keyspace, the command dispatcher, the connection server,
// the replication engine and an optional Prometheus endpoint. At startup it
// loads dir/dbfilename when the file exists; snapshots are never written.
//
// Basic usage:
//
//	node, err := redisserver.New(
//		redisserver.WithPort(6380),
//		redisserver.WithReplicaOf("localhost:6379"),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer node.Close()
//
//	if err := node.Start(context.Background()); err != nil {
//		log.Fatal(err)
//	}
//
//	// Block until the first full sync has been applied
//	if err := node.WaitForSync(ctx); err != nil {
//		log.Fatal(err)
//	}
//
// Without WithReplicaOf the node is a master: it accepts writes and streams
// them to any replica that connects and issues PSYNC.
package redisserver
