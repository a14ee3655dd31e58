package ir

import "time"

// FieldKind is the semantic kind of a field.
type FieldKind string

const (
	KindString     FieldKind = "string"
	KindInt        FieldKind = "int"
	KindFloat      FieldKind = "float"
	KindDatetime   FieldKind = "datetime"
	KindRichText   FieldKind = "richtext"
	KindReference  FieldKind = "reference"
	KindEnum       FieldKind = "enum"
	KindSyncStatus FieldKind = "syncStatus"
)

// ValidFieldKinds defines allowed field kinds.
var ValidFieldKinds = map[FieldKind]bool{
	KindString:     true,
	KindInt:        true,
	KindFloat:      true,
	KindDatetime:   true,
	KindRichText:   true,
	KindReference:  true,
	KindEnum:       true,
	KindSyncStatus: true,
}

// DefaultNow is the datetime default rule meaning "current timestamp at creation".
const DefaultNow = "now"

// FieldDefinition describes one field of an internal type.
type FieldDefinition struct {
	Name          string    `json:"name"`
	Kind          FieldKind `json:"kind"`
	Required      bool      `json:"required,omitempty"`
	Default       any       `json:"default,omitempty"`
	Values        []string  `json:"values,omitempty"`         // enum members
	ReferenceType string    `json:"reference_type,omitempty"` // reference target type
}

// TypePolicy declares which fields drive change detection and which are written.
type TypePolicy struct {
	ComparableFields []string `json:"comparable_fields"`
	SyncableFields   []string `json:"syncable_fields"`

	// IdentityField holds the source's native identifier on destination items.
	IdentityField string `json:"identity_field,omitempty"`

	// StatusField is the syncStatus-kind field used by the status tracker.
	StatusField string `json:"status_field,omitempty"`
}

// IsComparable reports whether name is a comparable field.
func (p TypePolicy) IsComparable(name string) bool {
	return contains(p.ComparableFields, name)
}

// IsSyncable reports whether name is a syncable field.
func (p TypePolicy) IsSyncable(name string) bool {
	return contains(p.SyncableFields, name)
}

// TypeDefinition is a compiled internal item type.
type TypeDefinition struct {
	Name   string            `json:"name"`
	Fields []FieldDefinition `json:"fields"` // declaration order
	Policy TypePolicy        `json:"policy"`
}

// Field returns the definition of the named field.
func (t *TypeDefinition) Field(name string) (*FieldDefinition, bool) {
	for i := range t.Fields {
		if t.Fields[i].Name == name {
			return &t.Fields[i], true
		}
	}
	return nil, false
}

// FieldMapping maps one internal field to a provider-native path.
type FieldMapping struct {
	Field string `json:"field"`
	Path  string `json:"path"`
}

// TypeMapping translates one external record kind to an internal type.
type TypeMapping struct {
	Name string `json:"name"`
	Type string `json:"type"`

	// ID and Modified are the native paths provenance is read from.
	ID       string `json:"id"`
	Modified string `json:"modified,omitempty"`

	Fields []FieldMapping `json:"fields"` // declaration order
}

// Path returns the native path string mapped to field.
func (m *TypeMapping) Path(field string) (string, bool) {
	for _, fm := range m.Fields {
		if fm.Field == field {
			return fm.Path, true
		}
	}
	return "", false
}

// ProviderConfig configures one provider instance.
type ProviderConfig struct {
	Name     string                 `json:"name"`
	Kind     string                 `json:"kind"`
	Options  map[string]string      `json:"options,omitempty"`
	Mappings map[string]TypeMapping `json:"mappings"`
}

// Filter is a provider query filter: named keys to a value or a list of values.
type Filter map[string]any

// Keys returns the filter keys in sorted order.
func (f Filter) Keys() []string {
	return SortedKeys(f)
}

// Values returns the filter value for key as a list.
func (f Filter) Values(key string) []any {
	v, ok := f[key]
	if !ok {
		return nil
	}
	if list, ok := v.([]any); ok {
		return list
	}
	return []any{v}
}

// Endpoint is one side of a sync rule.
type Endpoint struct {
	Provider string `json:"provider"`
	Mapping  string `json:"mapping"`
	Filter   Filter `json:"filter,omitempty"`
}

// TransformStep is a declarative value transform.
type TransformStep struct {
	Kind   string         `json:"kind"`
	Table  map[string]any `json:"table,omitempty"`  // mapping
	Strict bool           `json:"strict,omitempty"` // mapping
	To     string         `json:"to,omitempty"`     // cast
}

// FieldTransforms is the ordered step list for one destination field.
type FieldTransforms struct {
	Field string          `json:"field"`
	Steps []TransformStep `json:"steps"`
}

// SyncRule pairs a source query with a destination query.
type SyncRule struct {
	Name        string            `json:"name"`
	Group       string            `json:"group"`
	Source      Endpoint          `json:"source"`
	Destination Endpoint          `json:"destination"`
	Transforms  []FieldTransforms `json:"transforms,omitempty"`
}

// Steps returns the transform steps declared for field.
func (r *SyncRule) Steps(field string) []TransformStep {
	for _, ft := range r.Transforms {
		if ft.Field == field {
			return ft.Steps
		}
	}
	return nil
}

// SyncGroup is a named group of rules.
type SyncGroup struct {
	Name  string     `json:"name"`
	Rules []SyncRule `json:"rules"` // declaration order
}

// Rule returns the named rule.
func (g *SyncGroup) Rule(name string) (*SyncRule, bool) {
	for i := range g.Rules {
		if g.Rules[i].Name == name {
			return &g.Rules[i], true
		}
	}
	return nil, false
}

// EngineSettings tunes rule execution.
type EngineSettings struct {
	Concurrency       int           `json:"concurrency"`
	MaxAttempts       int           `json:"max_attempts"`
	InitialBackoff    time.Duration `json:"initial_backoff"`
	MaxBackoff        time.Duration `json:"max_backoff"`
	ConflictTolerance time.Duration `json:"conflict_tolerance"`
	MaxWrites         int           `json:"max_writes,omitempty"`
}

// DefaultEngineSettings returns the settings used when the configuration omits them.
func DefaultEngineSettings() EngineSettings {
	return EngineSettings{
		Concurrency:       4,
		MaxAttempts:       5,
		InitialBackoff:    200 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		ConflictTolerance: 5 * time.Second,
	}
}

// Config is the compiled configuration document.
type Config struct {
	Types     []TypeDefinition `json:"types"`
	Providers []ProviderConfig `json:"providers"`
	Groups    []SyncGroup      `json:"groups"`
	Engine    EngineSettings   `json:"engine"`
}

// Group returns the named sync group.
func (c *Config) Group(name string) (*SyncGroup, bool) {
	for i := range c.Groups {
		if c.Groups[i].Name == name {
			return &c.Groups[i], true
		}
	}
	return nil, false
}

// Provider returns the named provider configuration.
func (c *Config) Provider(name string) (*ProviderConfig, bool) {
	for i := range c.Providers {
		if c.Providers[i].Name == name {
			return &c.Providers[i], true
		}
	}
	return nil, false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
