package queryir

import (
	"fmt"

	"github.com/roach88/itemsync/internal/fieldpath"
	"github.com/roach88/itemsync/internal/ir"
	"github.com/roach88/itemsync/internal/syncerr"
)

// FromFilter lowers a configured filter into a Select over collection from.
// Keys are parsed as native field paths. A single value becomes Equals and
// a list becomes In. An empty filter yields a nil predicate.
func FromFilter(from string, f ir.Filter) (Select, error) {
	sel := Select{From: from}
	if len(f) == 0 {
		return sel, nil
	}

	var preds []Predicate
	var errs syncerr.List
	for _, key := range f.Keys() {
		path, err := fieldpath.Parse(key)
		if err != nil {
			errs = append(errs, syncerr.Configuration("E121", "filter key %q: %v", key, err))
			continue
		}
		values := f.Values(key)
		switch len(values) {
		case 0:
			errs = append(errs, syncerr.Configuration("E121", "filter key %q has no values", key))
		case 1:
			if _, isList := f[key].([]any); !isList {
				preds = append(preds, Equals{Field: path, Value: values[0]})
				continue
			}
			fallthrough
		default:
			preds = append(preds, In{Field: path, Values: values})
		}
	}
	if err := errs.ErrOrNil(); err != nil {
		return sel, err
	}
	sel.Filter = And{Predicates: preds}
	return sel, nil
}

// Match evaluates p against a native record. Values are compared after
// ir.Normalize, so 1, int64(1) and json.Number("1") are all equal. A missing
// path never matches.
func Match(p Predicate, record map[string]any) bool {
	switch n := p.(type) {
	case nil:
		return true
	case And:
		for _, sub := range n.Predicates {
			if !Match(sub, record) {
				return false
			}
		}
		return true
	case *And:
		return Match(*n, record)
	case Equals:
		v, ok := fieldpath.Get(record, n.Field)
		return ok && ir.Equal(v, n.Value)
	case *Equals:
		return Match(*n, record)
	case In:
		v, ok := fieldpath.Get(record, n.Field)
		if !ok {
			return false
		}
		for _, want := range n.Values {
			if ir.Equal(v, want) {
				return true
			}
		}
		return false
	case *In:
		return Match(*n, record)
	default:
		panic(fmt.Sprintf("queryir: unknown predicate %T", p))
	}
}
