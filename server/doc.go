// Package server accepts Redis client connections and feeds their commands
// to a command.Dispatcher.
//
// Every connection runs two goroutines: a reader that decodes frames as they
// arrive, however the bytes are split across reads, and an executor that
// dispatches them in order and writes the replies. Closing a connection
// cancels its session context, so commands blocked in XREAD BLOCK or WAIT
// return promptly.
//
// A connection that issues PSYNC becomes a replica link. The replication
// master then writes the stream to the same socket; Conn serialises those
// writes with the reply path.
package server
