// Package schema is the Schema Model: compiled type definitions, field kind
// coercion and the load-time cross-checks between types, provider mappings
// and sync rules.
//
// A Registry is built once before any rule runs. New fails fast when the
// configuration is inconsistent, so a half-validated schema never reaches
// the executor. The registry is read-only afterwards and safe to share
// across concurrently executing rules.
package schema

import (
	"fmt"
	"log/slog"

	"github.com/roach88/itemsync/internal/fieldpath"
	"github.com/roach88/itemsync/internal/ir"
	"github.com/roach88/itemsync/internal/syncerr"
)

// Warning is a non-fatal configuration finding. Fields covered by a warning
// fail closed at run time with a MappingError.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Registry holds the validated types and mappings.
type Registry struct {
	cfg      *ir.Config
	types    map[string]*ir.TypeDefinition
	resolver *fieldpath.Resolver
}

// New validates cfg and builds a Registry. Every problem found is returned
// in a single syncerr.List of configuration errors.
func New(cfg *ir.Config) (*Registry, []Warning, error) {
	r := &Registry{
		cfg:   cfg,
		types: make(map[string]*ir.TypeDefinition, len(cfg.Types)),
	}
	var errs syncerr.List
	var warnings []Warning

	for i := range cfg.Types {
		td := &cfg.Types[i]
		if _, dup := r.types[td.Name]; dup {
			errs = append(errs, syncerr.Configuration("E201", "duplicate type %q", td.Name))
			continue
		}
		inferStatusField(td)
		r.types[td.Name] = td
	}
	for _, name := range ir.SortedKeys(r.types) {
		td := r.types[name]
		errs = append(errs, r.validateType(td)...)
		for _, c := range td.Policy.ComparableFields {
			if !td.Policy.IsSyncable(c) {
				warnings = append(warnings, Warning{
					Code:    "W302",
					Message: fmt.Sprintf("type %q: comparable field %q is never written; a difference in it alone never triggers an update", td.Name, c),
				})
			}
		}
	}

	resolver, err := fieldpath.NewResolver(cfg.Providers)
	if err != nil {
		if list, ok := err.(syncerr.List); ok {
			errs = append(errs, list...)
		} else {
			errs = append(errs, err)
		}
	}
	r.resolver = resolver

	for _, pc := range cfg.Providers {
		for _, name := range ir.SortedKeys(pc.Mappings) {
			tm := pc.Mappings[name]
			mErrs, mWarn := r.validateMapping(pc.Name, name, &tm)
			errs = append(errs, mErrs...)
			warnings = append(warnings, mWarn...)
		}
	}

	for _, g := range cfg.Groups {
		for i := range g.Rules {
			errs = append(errs, r.validateRule(&g.Rules[i])...)
		}
	}

	if err := errs.ErrOrNil(); err != nil {
		return nil, warnings, err
	}
	for _, w := range warnings {
		slog.Warn("schema warning", "code", w.Code, "message", w.Message)
	}
	return r, warnings, nil
}

// inferStatusField picks the single syncStatus-kind field when the policy
// does not name one.
func inferStatusField(td *ir.TypeDefinition) {
	if td.Policy.StatusField != "" {
		return
	}
	var found []string
	for _, f := range td.Fields {
		if f.Kind == ir.KindSyncStatus {
			found = append(found, f.Name)
		}
	}
	if len(found) == 1 {
		td.Policy.StatusField = found[0]
	}
}

func (r *Registry) validateType(td *ir.TypeDefinition) syncerr.List {
	var errs syncerr.List
	seen := make(map[string]bool, len(td.Fields))
	for _, f := range td.Fields {
		if seen[f.Name] {
			errs = append(errs, syncerr.Configuration("E202", "type %q: duplicate field %q", td.Name, f.Name))
		}
		seen[f.Name] = true
		if !ir.ValidFieldKinds[f.Kind] {
			errs = append(errs, syncerr.Configuration("E202", "type %q field %q: unknown kind %q", td.Name, f.Name, f.Kind))
			continue
		}
		if f.Kind == ir.KindReference {
			if _, ok := r.types[f.ReferenceType]; !ok {
				errs = append(errs, syncerr.Configuration("E203",
					"type %q field %q: reference type %q is not declared", td.Name, f.Name, f.ReferenceType))
			}
		}
		if f.Default != nil && !(f.Kind == ir.KindDatetime && f.Default == ir.DefaultNow) {
			def := f
			if _, err := Coerce(&def, f.Default); err != nil {
				errs = append(errs, syncerr.Configuration("E206", "type %q field %q: invalid default: %v", td.Name, f.Name, err))
			}
		}
	}

	for _, name := range td.Policy.ComparableFields {
		if !seen[name] {
			errs = append(errs, syncerr.Configuration("E204", "type %q: comparable field %q is not declared", td.Name, name))
		}
	}
	for _, name := range td.Policy.SyncableFields {
		if !seen[name] {
			errs = append(errs, syncerr.Configuration("E204", "type %q: syncable field %q is not declared", td.Name, name))
		}
	}

	if id := td.Policy.IdentityField; id != "" {
		f, ok := td.Field(id)
		switch {
		case !ok:
			errs = append(errs, syncerr.Configuration("E205", "type %q: identity field %q is not declared", td.Name, id))
		case f.Kind != ir.KindString && f.Kind != ir.KindReference:
			errs = append(errs, syncerr.Configuration("E205", "type %q: identity field %q must be string or reference", td.Name, id))
		case !td.Policy.IsSyncable(id):
			errs = append(errs, syncerr.Configuration("E205", "type %q: identity field %q must be syncable", td.Name, id))
		}
	}
	if st := td.Policy.StatusField; st != "" {
		f, ok := td.Field(st)
		switch {
		case !ok:
			errs = append(errs, syncerr.Configuration("E205", "type %q: status field %q is not declared", td.Name, st))
		case f.Kind != ir.KindSyncStatus:
			errs = append(errs, syncerr.Configuration("E205", "type %q: status field %q must be of kind syncStatus", td.Name, st))
		case !td.Policy.IsSyncable(st):
			errs = append(errs, syncerr.Configuration("E205", "type %q: status field %q must be syncable", td.Name, st))
		case td.Policy.IsComparable(st):
			errs = append(errs, syncerr.Configuration("E205", "type %q: status field %q cannot be comparable", td.Name, st))
		}
	}
	return errs
}

func (r *Registry) validateMapping(provider, name string, tm *ir.TypeMapping) (syncerr.List, []Warning) {
	var errs syncerr.List
	var warnings []Warning

	td, ok := r.types[tm.Type]
	if !ok {
		errs = append(errs, syncerr.Configuration("E301", "provider %q mapping %q: unknown type %q", provider, name, tm.Type))
		return errs, nil
	}

	for _, fm := range tm.Fields {
		if _, ok := td.Field(fm.Field); !ok {
			errs = append(errs, syncerr.Configuration("E304",
				"provider %q mapping %q: field %q is not declared by type %q", provider, name, fm.Field, td.Name))
		}
	}

	for _, f := range td.Fields {
		if _, mapped := tm.Path(f.Name); mapped {
			continue
		}
		switch {
		case f.Required:
			errs = append(errs, syncerr.Configuration("E305",
				"provider %q mapping %q: required field %q has no native path", provider, name, f.Name))
		case td.Policy.IsComparable(f.Name) || td.Policy.IsSyncable(f.Name):
			warnings = append(warnings, Warning{
				Code:    "W301",
				Message: fmt.Sprintf("provider %q mapping %q: field %q has no native path and will be skipped", provider, name, f.Name),
			})
		}
	}

	return errs, warnings
}

func (r *Registry) validateRule(rule *ir.SyncRule) syncerr.List {
	var errs syncerr.List
	label := rule.Group + "/" + rule.Name

	src, srcType, err := r.lookup(rule.Source.Provider, rule.Source.Mapping)
	if err != nil {
		errs = append(errs, syncerr.Configuration("E401", "rule %s source: %v", label, err))
	}
	dst, dstType, err := r.lookup(rule.Destination.Provider, rule.Destination.Mapping)
	if err != nil {
		errs = append(errs, syncerr.Configuration("E401", "rule %s destination: %v", label, err))
	}
	if src == nil || dst == nil {
		return errs
	}

	if srcType.Name != dstType.Name {
		errs = append(errs, syncerr.Configuration("E402",
			"rule %s: source type %q does not match destination type %q", label, srcType.Name, dstType.Name))
	}
	if rule.Source.Provider == rule.Destination.Provider && rule.Source.Mapping == rule.Destination.Mapping {
		errs = append(errs, syncerr.Configuration("E402", "rule %s: source and destination are the same mapping", label))
	}

	policy := dstType.Policy
	if policy.IdentityField == "" {
		errs = append(errs, syncerr.Configuration("E403", "rule %s: type %q declares no identity field", label, dstType.Name))
	} else if !dst.Has(policy.IdentityField) {
		errs = append(errs, syncerr.Configuration("E403",
			"rule %s: destination mapping %q does not map identity field %q", label, dst.Name, policy.IdentityField))
	}
	if policy.StatusField != "" && !dst.Has(policy.StatusField) {
		errs = append(errs, syncerr.Configuration("E403",
			"rule %s: destination mapping %q does not map status field %q", label, dst.Name, policy.StatusField))
	}
	if dst.ID.IsZero() {
		errs = append(errs, syncerr.Configuration("E403", "rule %s: destination mapping %q has no id path", label, dst.Name))
	}

	for _, ft := range rule.Transforms {
		if _, ok := dstType.Field(ft.Field); !ok {
			errs = append(errs, syncerr.Configuration("E404", "rule %s: transform targets undeclared field %q", label, ft.Field))
		}
	}
	return errs
}

func (r *Registry) lookup(provider, mapping string) (*fieldpath.Mapping, *ir.TypeDefinition, error) {
	if r.resolver == nil {
		return nil, nil, fmt.Errorf("mappings failed to compile")
	}
	m, err := r.resolver.Mapping(provider, mapping)
	if err != nil {
		return nil, nil, err
	}
	td, ok := r.types[m.Type]
	if !ok {
		return nil, nil, fmt.Errorf("mapping %q references unknown type %q", mapping, m.Type)
	}
	return m, td, nil
}

// ResolveType returns the named type definition or a SchemaError.
func (r *Registry) ResolveType(name string) (*ir.TypeDefinition, error) {
	td, ok := r.types[name]
	if !ok {
		return nil, syncerr.Schema("", "unknown type %q", name)
	}
	return td, nil
}

// ResolveMapping returns the compiled mapping and its type.
func (r *Registry) ResolveMapping(provider, mapping string) (*fieldpath.Mapping, *ir.TypeDefinition, error) {
	m, td, err := r.lookup(provider, mapping)
	if err != nil {
		return nil, nil, syncerr.Configuration("E301", "%v", err)
	}
	return m, td, nil
}

// Resolver returns the field path resolver.
func (r *Registry) Resolver() *fieldpath.Resolver {
	return r.resolver
}

// Config returns the configuration the registry was built from.
func (r *Registry) Config() *ir.Config {
	return r.cfg
}
