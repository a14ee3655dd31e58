// Package queryir is the provider-neutral representation of a rule
// endpoint's query filter.
//
// A configured filter (ir.Filter) maps native field paths to a value or a
// list of values. FromFilter lowers it into a Select whose predicate is a
// conjunction of Equals and In nodes, one per filter key in sorted order:
//
//	filter: {project: ["P1", "P2"], "fields.[System.State]": "Active"}
//
//	Select{From: "feature", Filter: And{
//	    Equals{Field: fields.[System.State], Value: "Active"},
//	    In{Field: project, Values: ["P1", "P2"]},
//	}}
//
// Backends consume the IR in different ways. The memory provider evaluates
// it with Match, the sqlite provider compiles it to SQL with querysql, and
// remote providers translate the keys they recognize into their own query
// language.
//
// Query and Predicate are sealed interfaces using the marker method pattern,
// so backends can switch exhaustively over the node types.
package queryir
