// Package compiler turns a CUE configuration document into ir.Config.
//
// The document has four top-level keys:
//
//	types:     internal item types with fields and comparable/syncable policy
//	providers: provider instances with connection options and type mappings
//	sync:      named rule groups, each with named rules
//	engine:    optional execution settings
//
// Compilation is structural: it checks shapes and scalar types and reports
// CUE source positions. Cross-references (does a rule's mapping exist, is a
// required field mapped) are checked later by schema.New.
package compiler

import (
	"fmt"
	"time"

	"cuelang.org/go/cue"

	"github.com/roach88/itemsync/internal/ir"
)

// CompileConfig compiles the whole configuration document.
func CompileConfig(v cue.Value) (*ir.Config, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	cfg := &ir.Config{Engine: ir.DefaultEngineSettings()}

	var err error
	if cfg.Types, err = compileTypes(v.LookupPath(cue.ParsePath("types"))); err != nil {
		return nil, err
	}
	if cfg.Providers, err = compileProviders(v.LookupPath(cue.ParsePath("providers"))); err != nil {
		return nil, err
	}
	if cfg.Groups, err = compileGroups(v.LookupPath(cue.ParsePath("sync"))); err != nil {
		return nil, err
	}
	if engineVal := v.LookupPath(cue.ParsePath("engine")); engineVal.Exists() {
		if err := compileEngine(engineVal, &cfg.Engine); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// compileTypes parses the types section.
func compileTypes(v cue.Value) ([]ir.TypeDefinition, error) {
	if !v.Exists() {
		return nil, &CompileError{Field: "types", Message: "types section is required", Pos: v.Pos()}
	}
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var types []ir.TypeDefinition
	for iter.Next() {
		td, err := compileType(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		types = append(types, td)
	}
	return types, nil
}

func compileType(name string, v cue.Value) (ir.TypeDefinition, error) {
	td := ir.TypeDefinition{Name: name}

	fieldsVal := v.LookupPath(cue.ParsePath("fields"))
	if !fieldsVal.Exists() {
		return td, &CompileError{Field: "types." + name + ".fields", Message: "fields are required", Pos: v.Pos()}
	}
	iter, err := fieldsVal.Fields()
	if err != nil {
		return td, formatCUEError(err)
	}
	for iter.Next() {
		fd, err := compileField(iter.Label(), iter.Value())
		if err != nil {
			return td, err
		}
		td.Fields = append(td.Fields, fd)
	}

	if td.Policy.ComparableFields, err = optionalStrings(v, "comparableFields"); err != nil {
		return td, err
	}
	if td.Policy.SyncableFields, err = optionalStrings(v, "syncableFields"); err != nil {
		return td, err
	}
	if td.Policy.IdentityField, err = optionalString(v, "identityField"); err != nil {
		return td, err
	}
	if td.Policy.StatusField, err = optionalString(v, "statusField"); err != nil {
		return td, err
	}
	return td, nil
}

func compileField(name string, v cue.Value) (ir.FieldDefinition, error) {
	fd := ir.FieldDefinition{Name: name}

	kind, err := requiredString(v, "type")
	if err != nil {
		return fd, err
	}
	fd.Kind = ir.FieldKind(kind)

	if fd.Required, err = optionalBool(v, "required"); err != nil {
		return fd, err
	}
	if fd.Values, err = optionalStrings(v, "values"); err != nil {
		return fd, err
	}
	if fd.ReferenceType, err = optionalString(v, "referenceType"); err != nil {
		return fd, err
	}
	if def := v.LookupPath(cue.ParsePath("default")); def.Exists() {
		var raw any
		if err := def.Decode(&raw); err != nil {
			return fd, formatCUEError(err)
		}
		fd.Default = ir.Normalize(raw)
	}
	return fd, nil
}

// compileProviders parses the providers section.
func compileProviders(v cue.Value) ([]ir.ProviderConfig, error) {
	if !v.Exists() {
		return nil, &CompileError{Field: "providers", Message: "providers section is required", Pos: v.Pos()}
	}
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var providers []ir.ProviderConfig
	for iter.Next() {
		pc, err := compileProvider(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		providers = append(providers, pc)
	}
	return providers, nil
}

func compileProvider(name string, v cue.Value) (ir.ProviderConfig, error) {
	pc := ir.ProviderConfig{Name: name, Mappings: make(map[string]ir.TypeMapping)}

	var err error
	if pc.Kind, err = requiredString(v, "provider"); err != nil {
		return pc, err
	}

	if opts := v.LookupPath(cue.ParsePath("options")); opts.Exists() {
		pc.Options = make(map[string]string)
		iter, err := opts.Fields()
		if err != nil {
			return pc, formatCUEError(err)
		}
		for iter.Next() {
			s, err := scalarString(iter.Value())
			if err != nil {
				return pc, &CompileError{Field: "options." + iter.Label(), Message: err.Error(), Pos: iter.Value().Pos()}
			}
			pc.Options[iter.Label()] = s
		}
	}

	mappings := v.LookupPath(cue.ParsePath("mappings"))
	if !mappings.Exists() {
		return pc, &CompileError{Field: "providers." + name + ".mappings", Message: "mappings are required", Pos: v.Pos()}
	}
	iter, err := mappings.Fields()
	if err != nil {
		return pc, formatCUEError(err)
	}
	for iter.Next() {
		tm, err := compileMapping(iter.Label(), iter.Value())
		if err != nil {
			return pc, err
		}
		pc.Mappings[tm.Name] = tm
	}
	return pc, nil
}

func compileMapping(name string, v cue.Value) (ir.TypeMapping, error) {
	tm := ir.TypeMapping{Name: name}

	var err error
	if tm.Type, err = requiredString(v, "type"); err != nil {
		return tm, err
	}
	if tm.ID, err = optionalString(v, "id"); err != nil {
		return tm, err
	}
	if tm.ID == "" {
		tm.ID = "id"
	}
	if tm.Modified, err = optionalString(v, "modified"); err != nil {
		return tm, err
	}

	fields := v.LookupPath(cue.ParsePath("fields"))
	if !fields.Exists() {
		return tm, &CompileError{Field: "mappings." + name + ".fields", Message: "fields are required", Pos: v.Pos()}
	}
	iter, err := fields.Fields()
	if err != nil {
		return tm, formatCUEError(err)
	}
	for iter.Next() {
		path, err := iter.Value().String()
		if err != nil {
			return tm, formatCUEError(err)
		}
		tm.Fields = append(tm.Fields, ir.FieldMapping{Field: iter.Label(), Path: path})
	}
	return tm, nil
}

// compileGroups parses the sync section.
func compileGroups(v cue.Value) ([]ir.SyncGroup, error) {
	if !v.Exists() {
		return nil, nil
	}
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var groups []ir.SyncGroup
	for iter.Next() {
		group := ir.SyncGroup{Name: iter.Label()}
		rules := iter.Value().LookupPath(cue.ParsePath("rules"))
		if !rules.Exists() {
			return nil, &CompileError{Field: "sync." + group.Name + ".rules", Message: "rules are required", Pos: iter.Value().Pos()}
		}
		ruleIter, err := rules.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for ruleIter.Next() {
			rule, err := CompileRule(ruleIter.Value())
			if err != nil {
				return nil, err
			}
			rule.Group = group.Name
			group.Rules = append(group.Rules, *rule)
		}
		groups = append(groups, group)
	}
	return groups, nil
}

// CompileRule parses one sync rule. The rule name is taken from the value's
// label, e.g. sync.requirements.rules."jama-to-ado" is named "jama-to-ado".
func CompileRule(v cue.Value) (*ir.SyncRule, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	rule := &ir.SyncRule{}
	if sels := v.Path().Selectors(); len(sels) > 0 {
		rule.Name = sels[len(sels)-1].Unquoted()
	}

	var err error
	if rule.Source, err = compileEndpoint(v, "source"); err != nil {
		return nil, err
	}
	if rule.Destination, err = compileEndpoint(v, "destination"); err != nil {
		return nil, err
	}

	if tv := v.LookupPath(cue.ParsePath("transforms")); tv.Exists() {
		iter, err := tv.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			steps, err := compileSteps(iter.Value())
			if err != nil {
				return nil, err
			}
			rule.Transforms = append(rule.Transforms, ir.FieldTransforms{Field: iter.Label(), Steps: steps})
		}
	}
	return rule, nil
}

func compileEndpoint(v cue.Value, side string) (ir.Endpoint, error) {
	ev := v.LookupPath(cue.ParsePath(side))
	if !ev.Exists() {
		return ir.Endpoint{}, &CompileError{Field: side, Message: side + " is required", Pos: v.Pos()}
	}

	var ep ir.Endpoint
	var err error
	if ep.Provider, err = requiredString(ev, "provider"); err != nil {
		return ep, err
	}
	if ep.Mapping, err = requiredString(ev, "mapping"); err != nil {
		return ep, err
	}

	filter := ev.LookupPath(cue.ParsePath("query.filter"))
	if filter.Exists() {
		var raw map[string]any
		if err := filter.Decode(&raw); err != nil {
			return ep, formatCUEError(err)
		}
		ep.Filter = make(ir.Filter, len(raw))
		for k, val := range raw {
			ep.Filter[k] = ir.Normalize(val)
		}
	}
	return ep, nil
}

func compileSteps(v cue.Value) ([]ir.TransformStep, error) {
	list, err := v.List()
	if err != nil {
		return nil, &CompileError{Field: "transforms", Message: "transforms must be a list of steps", Pos: v.Pos()}
	}
	var steps []ir.TransformStep
	for list.Next() {
		sv := list.Value()
		var step ir.TransformStep
		if step.Kind, err = requiredString(sv, "type"); err != nil {
			return nil, err
		}
		if step.Strict, err = optionalBool(sv, "strict"); err != nil {
			return nil, err
		}
		if step.To, err = optionalString(sv, "to"); err != nil {
			return nil, err
		}
		if table := sv.LookupPath(cue.ParsePath("map")); table.Exists() {
			if err := table.Decode(&step.Table); err != nil {
				return nil, formatCUEError(err)
			}
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func compileEngine(v cue.Value, es *ir.EngineSettings) error {
	ints := []struct {
		name string
		dst  *int
	}{
		{"concurrency", &es.Concurrency},
		{"maxAttempts", &es.MaxAttempts},
		{"maxWrites", &es.MaxWrites},
	}
	for _, f := range ints {
		fv := v.LookupPath(cue.ParsePath(f.name))
		if !fv.Exists() {
			continue
		}
		n, err := fv.Int64()
		if err != nil {
			return formatCUEError(err)
		}
		*f.dst = int(n)
	}

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"initialBackoff", &es.InitialBackoff},
		{"maxBackoff", &es.MaxBackoff},
		{"conflictTolerance", &es.ConflictTolerance},
	}
	for _, f := range durations {
		s, err := optionalString(v, f.name)
		if err != nil {
			return err
		}
		if s == "" {
			continue
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return &CompileError{Field: "engine." + f.name, Message: err.Error(), Pos: v.LookupPath(cue.ParsePath(f.name)).Pos()}
		}
		*f.dst = d
	}
	return nil
}

func requiredString(v cue.Value, path string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(path))
	if !fv.Exists() {
		return "", &CompileError{Field: path, Message: path + " is required", Pos: v.Pos()}
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalString(v cue.Value, path string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(path))
	if !fv.Exists() {
		return "", nil
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalBool(v cue.Value, path string) (bool, error) {
	fv := v.LookupPath(cue.ParsePath(path))
	if !fv.Exists() {
		return false, nil
	}
	b, err := fv.Bool()
	if err != nil {
		return false, formatCUEError(err)
	}
	return b, nil
}

func optionalStrings(v cue.Value, path string) ([]string, error) {
	fv := v.LookupPath(cue.ParsePath(path))
	if !fv.Exists() {
		return nil, nil
	}
	var out []string
	if err := fv.Decode(&out); err != nil {
		return nil, formatCUEError(err)
	}
	return out, nil
}

// scalarString renders a scalar option value as a string.
func scalarString(v cue.Value) (string, error) {
	switch v.Kind() {
	case cue.StringKind:
		return v.String()
	case cue.IntKind:
		n, err := v.Int64()
		return fmt.Sprint(n), err
	case cue.BoolKind:
		b, err := v.Bool()
		return fmt.Sprint(b), err
	default:
		return "", fmt.Errorf("option must be a string, int or bool, got %v", v.IncompleteKind())
	}
}
