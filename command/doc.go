// Package command implements the Redis command table and dispatcher.
//
// Every command is described by a Spec: its arity (positive for an exact
// count, negative for a minimum, both counting the command name), its flags
// and its handler. Dispatch validates a request against the table, runs the
// handler and, for writes that succeed, propagates the effective command to
// the replication stream while still holding the ordering lock, so replicas
// observe writes in exactly the order they were applied.
//
// A Dispatcher also implements replication.Applier: commands received from
// an upstream master are applied through a dedicated session that bypasses
// the read-only check.
package command
