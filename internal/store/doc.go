// Package store provides the SQLite-backed snapshot archive.
//
// The archive keeps every exported snapshot and owns the version counter,
// so versions stay monotonic across exports from separate processes that
// share one database file.
//
// # Tables
//
//   - versions: a single row holding the last issued version
//   - snapshots: one row per exported snapshot, keyed by version, with the
//     canonical artifact bytes as body
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait up to 5s for locks
//   - Single connection: SQLite allows one writer at a time
package store
