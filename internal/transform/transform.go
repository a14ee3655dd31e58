// Package transform implements the Transformer Pipeline: ordered, declarative
// value transforms applied to one field while it propagates from source to
// destination.
//
// Step kinds form a closed set dispatched in Compile. Adding a kind means
// adding a Step implementation and a case there; configuration naming an
// unknown kind is rejected at load time.
//
// Steps are pure. Apply never mutates its input and returns the same output
// for the same (value, steps) pair.
package transform

import (
	"fmt"

	"github.com/roach88/itemsync/internal/ir"
	"github.com/roach88/itemsync/internal/syncerr"
)

// Step kinds.
const (
	KindMapping = "mapping"
	KindCast    = "cast"
)

// Step is one compiled transform.
type Step interface {
	Kind() string
	Apply(v any) (any, error)
}

// Compile builds a Step from its declaration.
func Compile(decl ir.TransformStep) (Step, error) {
	switch decl.Kind {
	case KindMapping:
		return newMappingStep(decl)
	case KindCast:
		return newCastStep(decl)
	case "":
		return nil, syncerr.Configuration("E405", "transform step has no kind")
	default:
		return nil, syncerr.Configuration("E405", "unknown transform kind %q", decl.Kind)
	}
}

// Pipeline is an ordered list of steps.
type Pipeline []Step

// CompilePipeline compiles every declaration, collecting all errors.
func CompilePipeline(decls []ir.TransformStep) (Pipeline, error) {
	var errs syncerr.List
	p := make(Pipeline, 0, len(decls))
	for i, d := range decls {
		s, err := Compile(d)
		if err != nil {
			errs = append(errs, fmt.Errorf("step %d: %w", i, err))
			continue
		}
		p = append(p, s)
	}
	if err := errs.ErrOrNil(); err != nil {
		return nil, err
	}
	return p, nil
}

// Apply runs v through the steps in declared order.
func Apply(v any, steps Pipeline) (any, error) {
	cur := v
	for i, s := range steps {
		out, err := s.Apply(cur)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, s.Kind(), err)
		}
		cur = out
	}
	return cur, nil
}

// Set holds the compiled pipelines of one rule, keyed by destination field.
type Set struct {
	pipelines map[string]Pipeline
}

// CompileRule compiles every transform declared by rule.
func CompileRule(rule *ir.SyncRule) (*Set, error) {
	set := &Set{pipelines: make(map[string]Pipeline, len(rule.Transforms))}
	var errs syncerr.List
	for _, ft := range rule.Transforms {
		p, err := CompilePipeline(ft.Steps)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %s field %s: %w", rule.Name, ft.Field, err))
			continue
		}
		set.pipelines[ft.Field] = p
	}
	if err := errs.ErrOrNil(); err != nil {
		return nil, err
	}
	return set, nil
}

// ApplyField transforms the value destined for field. Fields without a
// pipeline pass through. Failures are TransformErrors scoped to the field.
func (s *Set) ApplyField(field string, v any) (any, error) {
	if s == nil {
		return v, nil
	}
	p, ok := s.pipelines[field]
	if !ok {
		return v, nil
	}
	out, err := Apply(v, p)
	if err != nil {
		return nil, syncerr.Transform(field, err)
	}
	return out, nil
}
