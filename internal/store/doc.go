// Package store provides persistent storage for the gateway using SQLite.
//
// The only persisted state is the hit counter: one row per (path, key name)
// holding the number of accepted requests and the time of the latest one.
// Counters are keyed by the API key's configured name rather than the token,
// so hashed keys never have their secret written to disk.
//
// SQLiteStore uses the pure-Go modernc.org/sqlite driver in WAL mode.
// MockStore is an in-memory HitStore for handler tests.
package store
