// Package harness runs YAML sync scenarios against in-memory providers.
//
// A scenario carries a CUE configuration whose providers are all of kind
// "memory", seed records for those providers, and an ordered list of steps:
//
//	run:     execute a rule ("group/rule") or a whole group ("group")
//	mutate:  edit a record the way an external user would
//	advance: move the deterministic clock forward
//	fail:    make the next provider calls fail
//
// Run steps may carry an expect clause with the counters the run must
// produce. After the last step, record and record_count assertions check the
// final provider contents.
//
// # Determinism
//
// The clock only moves on advance steps and run ids are sequential
// ("run-0001", "run-0002", ...), so a scenario always produces the same run
// reports. Rules of a group run one after another in declaration order.
// Scenarios that create several items should set engine.concurrency to 1 so
// generated destination ids follow source order.
//
// # Golden files
//
// The reports of a scenario are snapshotted as indented canonical JSON and
// compared with goldie. Regenerate with:
//
//	go test ./internal/harness -update
//	itemsync test ./scenarios --update
package harness
