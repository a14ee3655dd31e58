// Package syncerr defines the error taxonomy shared by every layer of the
// synchronization engine.
//
// Every error surfaced by the engine is a *Error carrying a Kind. The kind
// decides how far an error propagates:
//
//   - KindConfiguration: fatal at load time, blocks all execution
//   - KindSchema: unknown type or a value that cannot be coerced to its field kind
//   - KindProvider: transport/auth/rate-limit failure; Transient errors are retried
//   - KindMapping: a field has no native path; scoped to that field
//   - KindTransform: a transform step could not produce a value; scoped to that field
//   - KindConflict: destination edited outside the sync flow; reported, never fatal
package syncerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind categorizes an Error.
type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindSchema        Kind = "schema"
	KindProvider      Kind = "provider"
	KindMapping       Kind = "mapping"
	KindTransform     Kind = "transform"
	KindConflict      Kind = "conflict"
)

// Error is the structured error type used across the engine.
type Error struct {
	// Kind is the taxonomy category.
	Kind Kind

	// Op names the operation that failed (e.g. "query", "create", "resolve").
	Op string

	// Code is an optional stable identifier (e.g. "E301", "RATE_LIMITED").
	Code string

	// Provider, Field and Item locate the failure when known.
	Provider string
	Field    string
	Item     string

	// Transient marks provider errors that are safe to retry.
	Transient bool

	// Message is a human-readable description used when Err is nil.
	Message string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(" error")
	if e.Code != "" {
		fmt.Fprintf(&b, " [%s]", e.Code)
	}

	var loc []string
	if e.Op != "" {
		loc = append(loc, "op="+e.Op)
	}
	if e.Provider != "" {
		loc = append(loc, "provider="+e.Provider)
	}
	if e.Item != "" {
		loc = append(loc, "item="+e.Item)
	}
	if e.Field != "" {
		loc = append(loc, "field="+e.Field)
	}
	if len(loc) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(loc, ", "))
	}

	switch {
	case e.Message != "" && e.Err != nil:
		fmt.Fprintf(&b, ": %s: %v", e.Message, e.Err)
	case e.Message != "":
		fmt.Fprintf(&b, ": %s", e.Message)
	case e.Err != nil:
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Configuration creates a load-time configuration error.
func Configuration(code, format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Schema creates a schema error for an unknown type or an invalid field value.
func Schema(field, format string, args ...any) *Error {
	return &Error{Kind: KindSchema, Field: field, Message: fmt.Sprintf(format, args...)}
}

// Mapping creates a mapping error for a field without a resolvable native path.
func Mapping(provider, mapping, field string) *Error {
	return &Error{
		Kind:     KindMapping,
		Provider: provider,
		Field:    field,
		Message:  fmt.Sprintf("no native path for field %q in mapping %q", field, mapping),
	}
}

// Transform creates a transform error scoped to one field.
func Transform(field string, err error) *Error {
	return &Error{Kind: KindTransform, Field: field, Err: err}
}

// Provider wraps a failure returned by a provider call.
func Provider(provider, op string, transient bool, err error) *Error {
	return &Error{Kind: KindProvider, Provider: provider, Op: op, Transient: transient, Err: err}
}

// Conflict creates the report entry for an externally modified destination item.
func Conflict(item, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Item: item, Message: fmt.Sprintf(format, args...)}
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsKind reports whether err carries an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	se, ok := As(err)
	return ok && se.Kind == kind
}

// IsTransient reports whether err is a provider error that may be retried.
func IsTransient(err error) bool {
	se, ok := As(err)
	return ok && se.Kind == KindProvider && se.Transient
}

// List aggregates several errors of one load or validation pass.
type List []error

// Error implements the error interface.
func (l List) Error() string {
	switch len(l) {
	case 0:
		return "no errors"
	case 1:
		return l[0].Error()
	}
	msgs := make([]string, len(l))
	for i, err := range l {
		msgs[i] = "  - " + err.Error()
	}
	return fmt.Sprintf("%d errors:\n%s", len(l), strings.Join(msgs, "\n"))
}

// Unwrap exposes the individual errors to errors.Is and errors.As.
func (l List) Unwrap() []error {
	return l
}

// ErrOrNil returns nil for an empty list.
func (l List) ErrOrNil() error {
	if len(l) == 0 {
		return nil
	}
	return l
}
