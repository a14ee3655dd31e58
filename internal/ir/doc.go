// Package ir provides the canonical data model of the synchronization engine.
//
// This package contains the compiled configuration (types, provider mappings,
// sync groups and rules), the ephemeral Item materialized per rule run, and the
// canonical JSON and hashing helpers used to fingerprint both. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Configuration values are read-only once compiled; nothing mutates them during a run
//   - Items are never persisted by the engine; they live for one rule execution
//   - Ordered field sets are slices, never maps, so iteration order is stable
//   - All JSON tags use snake_case
package ir
