// Package storage provides the in-memory keyspace of the server.
//
// The keyspace holds two kinds of values: strings, which may carry an
// absolute expiry, and append-only streams. A single reader/writer lock
// protects it, so readers run in parallel and a writer excludes everybody
// for the duration of its in-memory work.
//
// Basic usage:
//
//	store := storage.NewMemory()
//	defer store.Close()
//
//	_ = store.Set("key", []byte("value"), nil)
//	value, ok, err := store.Get("key")
//
//	id, err := store.XAdd("events", storage.AutoID(), [][]byte{[]byte("f"), []byte("v")})
//
// Expired strings are logically absent for every read. A background sweep
// removes them physically using the incremental sampling described by
// CleanupConfig.
//
// Callers that block until the keyspace changes (XREAD BLOCK) take the
// channel returned by Changed before checking their condition and wait on it
// afterwards. The channel is closed on every write.
package storage
