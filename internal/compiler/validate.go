package compiler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/itemsync/internal/ir"
	"github.com/roach88/itemsync/internal/transform"
)

// Validation error codes (E100-E199)
const (
	// Names (E101-E104)
	ErrNameEmpty     = "E101" // a required name is empty
	ErrNameInvalid   = "E102" // name contains characters outside [A-Za-z0-9_.-]
	ErrDuplicateName = "E103" // duplicate group or rule name
	ErrNoFields      = "E104" // type or mapping declares no fields

	// Providers (E110-E119)
	ErrUnknownProvider = "E110" // provider kind is not supported
	ErrNoMappings      = "E111" // provider declares no mappings

	// Rules (E120-E129)
	ErrEndpointMissing = "E120" // rule endpoint has no provider or mapping
	ErrInvalidFilter   = "E121" // filter value is not a scalar or list of scalars
	ErrInvalidStep     = "E122" // transform step does not compile

	// Engine (E130-E139)
	ErrEngineRange = "E130" // engine setting out of range
)

// ProviderKinds lists the provider kinds the engine can build.
var ProviderKinds = map[string]bool{
	"memory":      true,
	"sqlite":      true,
	"jama":        true,
	"azuredevops": true,
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Validate checks the shape of a compiled configuration.
// Returns all errors found (does not fail-fast).
func Validate(cfg *ir.Config) []ValidationError {
	var errs []ValidationError

	for i, td := range cfg.Types {
		path := fmt.Sprintf("types[%d]", i)
		errs = append(errs, validateName(path+".name", td.Name)...)
		if len(td.Fields) == 0 {
			errs = append(errs, ValidationError{
				Field:   path + ".fields",
				Message: fmt.Sprintf("type %q declares no fields", td.Name),
				Code:    ErrNoFields,
			})
		}
	}

	for i, pc := range cfg.Providers {
		errs = append(errs, validateProvider(fmt.Sprintf("providers[%d]", i), pc)...)
	}

	groups := make(map[string]bool)
	for i, g := range cfg.Groups {
		path := fmt.Sprintf("sync[%d]", i)
		errs = append(errs, validateName(path+".name", g.Name)...)
		if groups[g.Name] {
			errs = append(errs, ValidationError{
				Field:   path + ".name",
				Message: fmt.Sprintf("duplicate sync group %q", g.Name),
				Code:    ErrDuplicateName,
			})
		}
		groups[g.Name] = true

		rules := make(map[string]bool)
		for j := range g.Rules {
			rule := &g.Rules[j]
			rpath := fmt.Sprintf("%s.rules[%d]", path, j)
			if rules[rule.Name] {
				errs = append(errs, ValidationError{
					Field:   rpath + ".name",
					Message: fmt.Sprintf("duplicate rule %q in group %q", rule.Name, g.Name),
					Code:    ErrDuplicateName,
				})
			}
			rules[rule.Name] = true
			errs = append(errs, validateRule(rpath, rule)...)
		}
	}

	errs = append(errs, validateEngine(cfg.Engine)...)
	return errs
}

func validateName(field, name string) []ValidationError {
	if strings.TrimSpace(name) == "" {
		return []ValidationError{{Field: field, Message: "name is required", Code: ErrNameEmpty}}
	}
	if !namePattern.MatchString(name) {
		return []ValidationError{{
			Field:   field,
			Message: fmt.Sprintf("invalid name %q, expected letters, digits, '_', '.' or '-'", name),
			Code:    ErrNameInvalid,
		}}
	}
	return nil
}

func validateProvider(path string, pc ir.ProviderConfig) []ValidationError {
	var errs []ValidationError
	errs = append(errs, validateName(path+".name", pc.Name)...)

	if !ProviderKinds[pc.Kind] {
		errs = append(errs, ValidationError{
			Field:   path + ".provider",
			Message: fmt.Sprintf("unsupported provider kind %q", pc.Kind),
			Code:    ErrUnknownProvider,
		})
	}
	if len(pc.Mappings) == 0 {
		errs = append(errs, ValidationError{
			Field:   path + ".mappings",
			Message: fmt.Sprintf("provider %q declares no mappings", pc.Name),
			Code:    ErrNoMappings,
		})
	}
	for _, name := range ir.SortedKeys(pc.Mappings) {
		tm := pc.Mappings[name]
		mpath := path + ".mappings." + name
		if strings.TrimSpace(tm.Type) == "" {
			errs = append(errs, ValidationError{Field: mpath + ".type", Message: "type is required", Code: ErrNameEmpty})
		}
		if len(tm.Fields) == 0 {
			errs = append(errs, ValidationError{
				Field:   mpath + ".fields",
				Message: fmt.Sprintf("mapping %q declares no fields", name),
				Code:    ErrNoFields,
			})
		}
	}
	return errs
}

func validateRule(path string, rule *ir.SyncRule) []ValidationError {
	var errs []ValidationError
	errs = append(errs, validateName(path+".name", rule.Name)...)

	endpoints := []struct {
		side string
		ep   ir.Endpoint
	}{{"source", rule.Source}, {"destination", rule.Destination}}
	for _, e := range endpoints {
		side, ep := e.side, e.ep
		if ep.Provider == "" || ep.Mapping == "" {
			errs = append(errs, ValidationError{
				Field:   path + "." + side,
				Message: fmt.Sprintf("rule %q %s needs both provider and mapping", rule.Name, side),
				Code:    ErrEndpointMissing,
			})
		}
		for _, key := range ep.Filter.Keys() {
			for _, v := range ep.Filter.Values(key) {
				switch v.(type) {
				case string, int64, float64, bool:
				default:
					errs = append(errs, ValidationError{
						Field:   fmt.Sprintf("%s.%s.query.filter.%s", path, side, key),
						Message: fmt.Sprintf("filter value %v must be a scalar or a list of scalars", v),
						Code:    ErrInvalidFilter,
					})
				}
			}
		}
	}

	for _, ft := range rule.Transforms {
		if _, err := transform.CompilePipeline(ft.Steps); err != nil {
			errs = append(errs, ValidationError{
				Field:   path + ".transforms." + ft.Field,
				Message: err.Error(),
				Code:    ErrInvalidStep,
			})
		}
	}
	return errs
}

func validateEngine(es ir.EngineSettings) []ValidationError {
	var errs []ValidationError
	check := func(ok bool, field, msg string) {
		if !ok {
			errs = append(errs, ValidationError{Field: "engine." + field, Message: msg, Code: ErrEngineRange})
		}
	}
	check(es.Concurrency >= 1, "concurrency", "must be at least 1")
	check(es.MaxAttempts >= 1, "maxAttempts", "must be at least 1")
	check(es.InitialBackoff > 0, "initialBackoff", "must be positive")
	check(es.MaxBackoff >= es.InitialBackoff, "maxBackoff", "must not be shorter than initialBackoff")
	check(es.ConflictTolerance >= 0, "conflictTolerance", "must not be negative")
	check(es.MaxWrites >= 0, "maxWrites", "must not be negative")
	return errs
}
