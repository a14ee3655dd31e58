package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/itemsync/internal/ir"
)

func rule(group, name, src, dst string) ir.SyncRule {
	return ir.SyncRule{
		Name:        name,
		Group:       group,
		Source:      ir.Endpoint{Provider: src, Mapping: "m"},
		Destination: ir.Endpoint{Provider: dst, Mapping: "m"},
	}
}

func TestAnalyzeWriteCyclesEmpty(t *testing.T) {
	assert.Empty(t, AnalyzeWriteCycles(&ir.Config{}))
}

func TestAnalyzeWriteCyclesChain(t *testing.T) {
	cfg := &ir.Config{Groups: []ir.SyncGroup{{
		Name: "g",
		Rules: []ir.SyncRule{
			rule("g", "a-to-b", "a", "b"),
			rule("g", "b-to-c", "b", "c"),
		},
	}}}
	assert.Empty(t, AnalyzeWriteCycles(cfg), "a chain has no feedback")
}

func TestAnalyzeWriteCyclesBidirectional(t *testing.T) {
	cfg := &ir.Config{Groups: []ir.SyncGroup{
		{Name: "fwd", Rules: []ir.SyncRule{rule("fwd", "a-to-b", "a", "b")}},
		{Name: "back", Rules: []ir.SyncRule{rule("back", "b-to-a", "b", "a")}},
	}}

	warnings := AnalyzeWriteCycles(cfg)
	require.Len(t, warnings, 1)
	assert.Equal(t, "warning", warnings[0].Level)
	assert.Equal(t, []string{"back/b-to-a", "fwd/a-to-b", "back/b-to-a"}, warnings[0].Path)
	assert.Contains(t, warnings[0].Message, "feed each other")
}

func TestAnalyzeWriteCyclesThreeWay(t *testing.T) {
	cfg := &ir.Config{Groups: []ir.SyncGroup{{
		Name: "g",
		Rules: []ir.SyncRule{
			rule("g", "a-to-b", "a", "b"),
			rule("g", "b-to-c", "b", "c"),
			rule("g", "c-to-a", "c", "a"),
		},
	}}}

	warnings := AnalyzeWriteCycles(cfg)
	require.Len(t, warnings, 1)
	assert.Equal(t, []string{"g/a-to-b", "g/b-to-c", "g/c-to-a", "g/a-to-b"}, warnings[0].Path)
}

func TestAnalyzeWriteCyclesSelfLoop(t *testing.T) {
	cfg := &ir.Config{Groups: []ir.SyncGroup{{
		Name:  "g",
		Rules: []ir.SyncRule{rule("g", "loop", "a", "a")},
	}}}

	warnings := AnalyzeWriteCycles(cfg)
	require.Len(t, warnings, 1)
	assert.Equal(t, []string{"g/loop", "g/loop"}, warnings[0].Path)
	assert.Contains(t, warnings[0].Message, "its own source")
}

func TestAnalyzeWriteCyclesDeterministic(t *testing.T) {
	cfg := &ir.Config{Groups: []ir.SyncGroup{{
		Name: "g",
		Rules: []ir.SyncRule{
			rule("g", "x-to-y", "x", "y"),
			rule("g", "y-to-x", "y", "x"),
			rule("g", "p-to-q", "p", "q"),
			rule("g", "q-to-p", "q", "p"),
		},
	}}}

	first := AnalyzeWriteCycles(cfg)
	for range 10 {
		assert.Equal(t, first, AnalyzeWriteCycles(cfg))
	}
	require.Len(t, first, 2)
}
