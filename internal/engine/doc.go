// Package engine executes sync rules.
//
// A rule run moves through fixed phases:
//
//  1. Prepare: resolve both mappings, validate both filters against their
//     providers and compile the rule's transforms.
//  2. Query: drain the source query, then the destination query. Each page
//     is retried on transient provider errors.
//  3. Plan: decode records into items, correlate them on the type's
//     identity field and decide one outcome per source item.
//  4. Budget: count the planned writes against the write budget.
//  5. Dispatch: issue the writes with bounded concurrency and record the
//     sync status on every written destination item.
//
// A failure in phases 1-4 aborts the run before anything is written: the
// report is marked Aborted and Execute returns an *AbortError. Failures in
// phase 5 are per item and never abort the run.
//
// DECISIONS:
//
// A source item with no destination match is created. A match whose
// comparable fields all agree is skipped. A match that differs is updated,
// unless the destination was modified after its last successful sync, in
// which case the pair is a Conflict and nothing is written. A source item
// matching more than one destination item is always a Conflict.
//
// Decide is a pure function of the pair, the type policy and the
// destination's sync status, so a rule run is idempotent: running it again
// against unchanged data produces only skips.
//
// CANCELLATION:
//
// Cancelling the context stops queries and dispatch. Writes already in
// flight finish on a detached context; writes not yet dispatched are
// reported Pending.
package engine
