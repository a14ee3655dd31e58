package queryir

import "github.com/roach88/itemsync/internal/fieldpath"

// Query is a sealed query node.
type Query interface {
	queryNode()
}

// Predicate is a sealed filter node.
type Predicate interface {
	predicateNode()
}

// Select reads the records of one collection that satisfy Filter.
//
// Results are ordered by native id. After and Limit page through them:
// a page holds at most Limit records with id greater than After.
type Select struct {
	From   string    // collection (table, mapping or work item type)
	Filter Predicate // nil = every record
	After  string    // exclusive lower bound on id; "" = from the start
	Limit  int       // 0 = unbounded
}

func (Select) queryNode() {}

// Equals matches records whose value at Field equals Value.
type Equals struct {
	Field fieldpath.Path
	Value any // string, int64, float64 or bool
}

func (Equals) predicateNode() {}

// In matches records whose value at Field equals one of Values.
type In struct {
	Field  fieldpath.Path
	Values []any
}

func (In) predicateNode() {}

// And matches records satisfying every predicate. Empty And matches all.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Fields returns the native paths referenced by p, in traversal order.
func Fields(p Predicate) []fieldpath.Path {
	var out []fieldpath.Path
	walk(p, func(leaf Predicate) {
		switch n := leaf.(type) {
		case Equals:
			out = append(out, n.Field)
		case In:
			out = append(out, n.Field)
		}
	})
	return out
}

func walk(p Predicate, visit func(Predicate)) {
	switch n := p.(type) {
	case And:
		for _, sub := range n.Predicates {
			walk(sub, visit)
		}
	case *And:
		walk(*n, visit)
	case *Equals:
		visit(*n)
	case *In:
		visit(*n)
	case nil:
	default:
		visit(p)
	}
}
