package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/itemsync/internal/ir"
)

// CycleWarning reports rules whose writes feed each other.
//
// A rule A feeds rule B when A's destination (provider, mapping) is B's
// source. Cycles are warnings, not errors: a bidirectional pair is legal,
// and the status field plus conflict detection keep it from ping-ponging.
type CycleWarning struct {
	Path    []string `json:"path"` // rule keys "group/rule", first == last
	Message string   `json:"message"`
	Level   string   `json:"level"`
}

// AnalyzeWriteCycles finds strongly connected components in the rule feed
// graph. A configuration without feedback loops returns an empty list.
func AnalyzeWriteCycles(cfg *ir.Config) []CycleWarning {
	graph := buildFeedGraph(cfg)
	if len(graph) == 0 {
		return []CycleWarning{}
	}

	warnings := []CycleWarning{}
	for _, scc := range tarjanSCC(graph) {
		if len(scc) > 1 || hasSelfLoop(scc[0], graph) {
			warnings = append(warnings, sccToWarning(scc, graph))
		}
	}
	return warnings
}

// feedGraph maps a rule key to the rule keys it feeds.
type feedGraph map[string][]string

func ruleKey(r *ir.SyncRule) string {
	return r.Group + "/" + r.Name
}

func endpointKey(ep ir.Endpoint) string {
	return ep.Provider + ":" + ep.Mapping
}

func buildFeedGraph(cfg *ir.Config) feedGraph {
	readers := make(map[string][]string) // endpoint -> rules that read it
	var rules []*ir.SyncRule
	for gi := range cfg.Groups {
		for ri := range cfg.Groups[gi].Rules {
			r := &cfg.Groups[gi].Rules[ri]
			rules = append(rules, r)
			src := endpointKey(r.Source)
			readers[src] = append(readers[src], ruleKey(r))
		}
	}

	graph := make(feedGraph, len(rules))
	for _, r := range rules {
		key := ruleKey(r)
		graph[key] = append(graph[key], readers[endpointKey(r.Destination)]...)
	}
	return graph
}

func hasSelfLoop(node string, graph feedGraph) bool {
	return slices.Contains(graph[node], node)
}

// tarjanSCC returns the strongly connected components of graph. Nodes are
// visited in sorted order so the result is deterministic.
func tarjanSCC(graph feedGraph) [][]string {
	var (
		next    int
		stack   []string
		index   = make(map[string]int)
		low     = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var visit func(string)
	visit = func(v string) {
		index[v] = next
		low[v] = next
		next++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, seen := index[w]; !seen {
				visit(w)
				low[v] = min(low[v], low[w])
			} else if onStack[w] {
				low[v] = min(low[v], index[w])
			}
		}

		if low[v] != index[v] {
			return
		}
		var scc []string
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[w] = false
			scc = append(scc, w)
			if w == v {
				break
			}
		}
		slices.Sort(scc)
		sccs = append(sccs, scc)
	}

	for _, node := range ir.SortedKeys(graph) {
		if _, seen := index[node]; !seen {
			visit(node)
		}
	}
	return sccs
}

func sccToWarning(scc []string, graph feedGraph) CycleWarning {
	if len(scc) == 1 {
		return CycleWarning{
			Path:    []string{scc[0], scc[0]},
			Message: fmt.Sprintf("rule %s writes to its own source", scc[0]),
			Level:   "warning",
		}
	}
	path := walkCycle(scc, graph)
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("rules feed each other: %s", strings.Join(path, " -> ")),
		Level:   "warning",
	}
}

// walkCycle follows edges inside scc from its first member back to itself.
func walkCycle(scc []string, graph feedGraph) []string {
	members := make(map[string]bool, len(scc))
	for _, n := range scc {
		members[n] = true
	}

	start := scc[0]
	path := []string{start}
	visited := map[string]bool{start: true}
	for cur := start; ; {
		var step string
		for _, w := range graph[cur] {
			if members[w] && (w == start || !visited[w]) {
				step = w
				break
			}
		}
		if step == "" {
			return path
		}
		path = append(path, step)
		if step == start {
			return path
		}
		visited[step] = true
		cur = step
	}
}
