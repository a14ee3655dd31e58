// Package store provides the SQLite-backed run ledger.
//
// Every finished RunReport is recorded as one row in runs and one row per
// item result in run_items. The ledger is an audit trail only: the engine
// never reads it, and sync status lives in the destination records. Each
// run row also carries the engine version and the rule and config hashes
// the run executed under.
//
// # Critical Patterns
//
// Idempotent writes
//   - runs.id is the run id; recording the same report twice is a no-op
//   - run_items are keyed by (run_id, seq), seq being the report position
//
// Deterministic reads
//   - runs are listed newest first: ORDER BY started_at DESC, id DESC
//   - run items keep report order: ORDER BY seq ASC
//   - empty results are empty slices, never nil
//
// Versioned schema
//   - schema.sql creates the base tables; numbered migrations upgrade them
//   - PRAGMA user_version holds the last migration applied
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Cascade run_items when a run is pruned
package store
