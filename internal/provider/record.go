package provider

import (
	"sort"

	"github.com/roach88/itemsync/internal/fieldpath"
	"github.com/roach88/itemsync/internal/ir"
)

// Assignment is one leaf of a native value map.
type Assignment struct {
	Path  fieldpath.Path
	Value any
}

// Flatten lists the leaves of a nested record in path order. Nested maps are
// descended into; every other value, including lists, is a leaf.
func Flatten(r Record) []Assignment {
	var out []Assignment
	flatten(nil, r, &out)
	return out
}

func flatten(prefix []string, m map[string]any, out *[]Assignment) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		seg := append(append([]string(nil), prefix...), k)
		if child, ok := m[k].(map[string]any); ok && len(child) > 0 {
			flatten(seg, child, out)
			continue
		}
		*out = append(*out, Assignment{Path: fieldpath.New(seg...), Value: m[k]})
	}
}

// Merge writes every leaf of values into dst.
func Merge(dst Record, values Record) error {
	for _, a := range Flatten(values) {
		if err := fieldpath.Set(dst, a.Path, a.Value); err != nil {
			return err
		}
	}
	return nil
}

// Clone deep-copies a record.
func Clone(r Record) Record {
	if r == nil {
		return nil
	}
	return cloneValue(r).(map[string]any)
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = cloneValue(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = cloneValue(elem)
		}
		return out
	default:
		return v
	}
}

// ScopeValues returns the single-valued keys of a destination filter. A
// provider places a created record inside its destination scope by writing
// these values at their native paths.
func ScopeValues(scope map[string]any) []Assignment {
	var out []Assignment
	for _, key := range ir.SortedKeys(scope) {
		v := scope[key]
		if list, ok := v.([]any); ok {
			if len(list) != 1 {
				continue
			}
			v = list[0]
		}
		p, err := fieldpath.Parse(key)
		if err != nil {
			continue
		}
		out = append(out, Assignment{Path: p, Value: v})
	}
	return out
}
