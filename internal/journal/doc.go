// Package journal provides an append-only SQLite audit log of every change
// the reconciliation engine applies.
//
// Each entry records where a record came from (seed, create, channel), what
// the merge did (insert, update, malformed), and the record itself as
// canonical JSON together with its content hash. The journal is written by
// the engine's single writer and read only by tooling; it is never replayed
// into the engine on start.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - one open connection (single writer)
//
// Schema is managed by golang-migrate from the embedded migrations directory.
package journal
