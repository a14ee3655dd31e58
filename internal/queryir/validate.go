package queryir

import (
	"fmt"
)

// ValidationResult lists the problems found in a query.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// Validate checks that a query only uses scalar literals and non-empty
// lists. allowed, when non-nil, restricts the root segment of every field
// path; remote providers use it to reject keys they cannot translate.
//
// Validate is a pure function with no side effects.
func Validate(q Query, allowed map[string]bool) ValidationResult {
	v := &validator{allowed: allowed, errors: []string{}}
	v.validateQuery(q)
	return ValidationResult{Valid: len(v.errors) == 0, Errors: v.errors}
}

type validator struct {
	allowed map[string]bool
	errors  []string
}

func (v *validator) addError(format string, args ...any) {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
}

func (v *validator) validateQuery(q Query) {
	switch query := q.(type) {
	case Select:
		v.validateSelect(query)
	case *Select:
		v.validateSelect(*query)
	case nil:
		v.addError("nil query")
	default:
		v.addError("unknown query type %T", q)
	}
}

func (v *validator) validateSelect(sel Select) {
	if sel.From == "" {
		v.addError("select has no collection")
	}
	if sel.Limit < 0 {
		v.addError("negative limit %d", sel.Limit)
	}
	v.validatePredicate(sel.Filter)
}

func (v *validator) validatePredicate(p Predicate) {
	switch pred := p.(type) {
	case nil:
	case Equals:
		v.checkField(pred.Field.String(), pred.Field.Segments())
		v.checkScalar(pred.Field.String(), pred.Value)
	case *Equals:
		v.validatePredicate(*pred)
	case In:
		v.checkField(pred.Field.String(), pred.Field.Segments())
		if len(pred.Values) == 0 {
			v.addError("field %q: empty value list", pred.Field)
		}
		for _, val := range pred.Values {
			v.checkScalar(pred.Field.String(), val)
		}
	case *In:
		v.validatePredicate(*pred)
	case And:
		for _, sub := range pred.Predicates {
			v.validatePredicate(sub)
		}
	case *And:
		v.validatePredicate(*pred)
	default:
		v.addError("unknown predicate type %T", p)
	}
}

func (v *validator) checkField(name string, segments []string) {
	if len(segments) == 0 {
		v.addError("empty field path")
		return
	}
	if v.allowed != nil && !v.allowed[segments[0]] {
		v.addError("field %q is not filterable", name)
	}
}

func (v *validator) checkScalar(field string, val any) {
	switch val.(type) {
	case string, int64, float64, bool:
	case nil:
		v.addError("field %q compared to null", field)
	default:
		v.addError("field %q: value %v (%T) is not a scalar", field, val, val)
	}
}
