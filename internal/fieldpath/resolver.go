package fieldpath

import (
	"fmt"

	"github.com/roach88/itemsync/internal/ir"
	"github.com/roach88/itemsync/internal/syncerr"
)

// Binding pairs an internal field with its parsed native path.
type Binding struct {
	Field string
	Path  Path
}

// Mapping is a compiled ir.TypeMapping.
type Mapping struct {
	Provider string
	Name     string
	Type     string
	ID       Path
	Modified Path // zero when the provider exposes no modification time
	Bindings []Binding

	toNative   map[string]Path
	fromNative map[string]string
}

// Resolver translates internal field names to provider-native paths and back.
// It is built once from configuration and is read-only afterwards.
type Resolver struct {
	mappings map[string]map[string]*Mapping // provider -> mapping name -> mapping
}

// NewResolver parses every path of every provider mapping. All parse errors
// are collected and returned together as configuration errors.
func NewResolver(providers []ir.ProviderConfig) (*Resolver, error) {
	r := &Resolver{mappings: make(map[string]map[string]*Mapping)}
	var errs syncerr.List

	for _, pc := range providers {
		byName := make(map[string]*Mapping, len(pc.Mappings))
		for _, name := range ir.SortedKeys(pc.Mappings) {
			tm := pc.Mappings[name]
			m, mErrs := compileMapping(pc.Name, name, tm)
			errs = append(errs, mErrs...)
			byName[name] = m
		}
		r.mappings[pc.Name] = byName
	}

	if err := errs.ErrOrNil(); err != nil {
		return nil, err
	}
	return r, nil
}

func compileMapping(provider, name string, tm ir.TypeMapping) (*Mapping, syncerr.List) {
	var errs syncerr.List
	m := &Mapping{
		Provider:   provider,
		Name:       name,
		Type:       tm.Type,
		toNative:   make(map[string]Path, len(tm.Fields)),
		fromNative: make(map[string]string, len(tm.Fields)),
	}

	parse := func(what, raw string) Path {
		p, err := Parse(raw)
		if err != nil {
			errs = append(errs, syncerr.Configuration("E302",
				"provider %q mapping %q: %s: %v", provider, name, what, err))
		}
		return p
	}

	m.ID = parse("id path", tm.ID)
	if tm.Modified != "" {
		m.Modified = parse("modified path", tm.Modified)
	}

	for _, fm := range tm.Fields {
		p := parse(fmt.Sprintf("field %q", fm.Field), fm.Path)
		if p.IsZero() {
			continue
		}
		if other, dup := m.fromNative[p.String()]; dup {
			errs = append(errs, syncerr.Configuration("E303",
				"provider %q mapping %q: fields %q and %q share native path %s",
				provider, name, other, fm.Field, p))
			continue
		}
		m.toNative[fm.Field] = p
		m.fromNative[p.String()] = fm.Field
		m.Bindings = append(m.Bindings, Binding{Field: fm.Field, Path: p})
	}
	return m, errs
}

// Mapping returns the compiled mapping for provider/name.
func (r *Resolver) Mapping(provider, name string) (*Mapping, error) {
	byName, ok := r.mappings[provider]
	if !ok {
		return nil, syncerr.Configuration("E301", "unknown provider %q", provider)
	}
	m, ok := byName[name]
	if !ok {
		return nil, syncerr.Configuration("E301", "provider %q has no mapping %q", provider, name)
	}
	return m, nil
}

// ToNative returns the native path for an internal field. A field without a
// mapping entry fails with a MappingError scoped to that field.
func (r *Resolver) ToNative(provider, mapping, field string) (Path, error) {
	m, err := r.Mapping(provider, mapping)
	if err != nil {
		return Path{}, err
	}
	return m.ToNative(field)
}

// FromNative returns the internal field mapped to a native path.
func (r *Resolver) FromNative(provider, mapping string, native Path) (string, error) {
	m, err := r.Mapping(provider, mapping)
	if err != nil {
		return "", err
	}
	return m.FromNative(native)
}

// ToNative returns the native path for field.
func (m *Mapping) ToNative(field string) (Path, error) {
	p, ok := m.toNative[field]
	if !ok {
		return Path{}, syncerr.Mapping(m.Provider, m.Name, field)
	}
	return p, nil
}

// FromNative returns the internal field mapped to native.
func (m *Mapping) FromNative(native Path) (string, error) {
	field, ok := m.fromNative[native.String()]
	if !ok {
		return "", &syncerr.Error{
			Kind:     syncerr.KindMapping,
			Provider: m.Provider,
			Message:  fmt.Sprintf("no field mapped to native path %s in mapping %q", native, m.Name),
		}
	}
	return field, nil
}

// Has reports whether field has a native path.
func (m *Mapping) Has(field string) bool {
	_, ok := m.toNative[field]
	return ok
}
