package queryir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/itemsync/internal/fieldpath"
	"github.com/roach88/itemsync/internal/ir"
)

func TestFromFilter(t *testing.T) {
	sel, err := FromFilter("feature", ir.Filter{
		"project":               []any{"P1", "P2"},
		"fields.[System.State]": "Active",
		"priority":              []any{int64(1)},
	})
	require.NoError(t, err)

	assert.Equal(t, "feature", sel.From)
	assert.Equal(t, And{Predicates: []Predicate{
		Equals{Field: fieldpath.MustParse("fields.[System.State]"), Value: "Active"},
		In{Field: fieldpath.MustParse("priority"), Values: []any{int64(1)}},
		In{Field: fieldpath.MustParse("project"), Values: []any{"P1", "P2"}},
	}}, sel.Filter)
}

func TestFromFilterEmpty(t *testing.T) {
	sel, err := FromFilter("feature", nil)
	require.NoError(t, err)
	assert.Nil(t, sel.Filter)
	assert.True(t, Match(sel.Filter, map[string]any{"anything": 1}))
}

func TestFromFilterErrors(t *testing.T) {
	_, err := FromFilter("feature", ir.Filter{
		"bad..path": "x",
		"empty":     []any{},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad..path")
	assert.Contains(t, err.Error(), "has no values")
}

func TestMatch(t *testing.T) {
	record := map[string]any{
		"id":      "7",
		"project": "P1",
		"fields": map[string]any{
			"System.State": "Active",
			"Priority":     json.Number("2"),
		},
	}

	tests := []struct {
		name string
		pred Predicate
		want bool
	}{
		{"equals", Equals{Field: fieldpath.MustParse("project"), Value: "P1"}, true},
		{"equals miss", Equals{Field: fieldpath.MustParse("project"), Value: "P2"}, false},
		{"nested", Equals{Field: fieldpath.MustParse("fields.[System.State]"), Value: "Active"}, true},
		{"number normalization", Equals{Field: fieldpath.MustParse("fields.Priority"), Value: int64(2)}, true},
		{"missing path", Equals{Field: fieldpath.MustParse("fields.Missing"), Value: "x"}, false},
		{"in", In{Field: fieldpath.MustParse("project"), Values: []any{"P0", "P1"}}, true},
		{"in miss", In{Field: fieldpath.MustParse("project"), Values: []any{"P0"}}, false},
		{"empty and", And{}, true},
		{"and all", And{Predicates: []Predicate{
			Equals{Field: fieldpath.MustParse("project"), Value: "P1"},
			&In{Field: fieldpath.MustParse("fields.[System.State]"), Values: []any{"Active"}},
		}}, true},
		{"and one fails", &And{Predicates: []Predicate{
			Equals{Field: fieldpath.MustParse("project"), Value: "P1"},
			Equals{Field: fieldpath.MustParse("id"), Value: "8"},
		}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.pred, record))
		})
	}
}

func TestFields(t *testing.T) {
	p := And{Predicates: []Predicate{
		Equals{Field: fieldpath.MustParse("a"), Value: "1"},
		And{Predicates: []Predicate{&In{Field: fieldpath.MustParse("b.c"), Values: []any{"2"}}}},
	}}
	fields := Fields(p)
	require.Len(t, fields, 2)
	assert.Equal(t, "a", fields[0].String())
	assert.Equal(t, "b.c", fields[1].String())
}

func TestValidate(t *testing.T) {
	valid := Select{From: "items", Filter: And{Predicates: []Predicate{
		Equals{Field: fieldpath.MustParse("project"), Value: "P1"},
		In{Field: fieldpath.MustParse("state"), Values: []any{"a", int64(1), true, 1.5}},
	}}}
	res := Validate(valid, nil)
	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)

	invalid := &Select{Limit: -1, Filter: And{Predicates: []Predicate{
		Equals{Field: fieldpath.MustParse("project"), Value: nil},
		In{Field: fieldpath.MustParse("state")},
		Equals{Field: fieldpath.MustParse("tags"), Value: []any{"x"}},
	}}}
	res = Validate(invalid, nil)
	assert.False(t, res.Valid)
	assert.Len(t, res.Errors, 5)
}

func TestValidateAllowedRoots(t *testing.T) {
	sel := Select{From: "requirement", Filter: And{Predicates: []Predicate{
		Equals{Field: fieldpath.MustParse("project"), Value: int64(12)},
		Equals{Field: fieldpath.MustParse("fields.name"), Value: "x"},
	}}}

	res := Validate(sel, map[string]bool{"project": true})
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], `"fields.name" is not filterable`)
}

func TestValidateNilQuery(t *testing.T) {
	res := Validate(nil, nil)
	assert.False(t, res.Valid)
}
