package transform

import (
	"fmt"

	"github.com/roach88/itemsync/internal/ir"
	"github.com/roach88/itemsync/internal/syncerr"
)

// MappingStep substitutes values through an exact-value lookup table.
// Lookup keys are the canonical string form of the input (see ir.String), so
// the configured key "3" matches both the string "3" and the number 3.
type MappingStep struct {
	table  map[string]any
	strict bool
}

func newMappingStep(decl ir.TransformStep) (*MappingStep, error) {
	if len(decl.Table) == 0 && decl.Strict {
		return nil, syncerr.Configuration("E406", "strict mapping step has an empty table")
	}
	table := make(map[string]any, len(decl.Table))
	for k, v := range decl.Table {
		table[k] = ir.Normalize(v)
	}
	return &MappingStep{table: table, strict: decl.Strict}, nil
}

// Kind implements Step.
func (m *MappingStep) Kind() string { return KindMapping }

// Apply implements Step. A value absent from the table passes through
// unchanged unless the step is strict.
func (m *MappingStep) Apply(v any) (any, error) {
	if out, ok := m.table[ir.String(v)]; ok {
		return out, nil
	}
	if m.strict {
		return nil, fmt.Errorf("no mapping for value %q", ir.String(v))
	}
	return v, nil
}
