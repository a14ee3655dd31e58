package engine

import (
	"errors"
	"fmt"
)

// Phase names the stage of a rule run that failed a precondition.
type Phase string

const (
	// PhasePrepare covers mapping resolution, filter validation and
	// transform compilation.
	PhasePrepare Phase = "prepare"

	// PhaseSourceQuery and PhaseDestinationQuery cover draining the
	// respective query.
	PhaseSourceQuery      Phase = "source-query"
	PhaseDestinationQuery Phase = "destination-query"

	// PhaseBudget covers the write budget check.
	PhaseBudget Phase = "budget"
)

// AbortError is returned by Execute when a rule run aborts. Per-item
// failures never produce an AbortError; they are recorded in the report.
type AbortError struct {
	Rule  string
	RunID string
	Phase Phase
	Err   error
}

// Error implements the error interface.
func (e *AbortError) Error() string {
	return fmt.Sprintf("rule %s aborted in %s (run=%s): %v", e.Rule, e.Phase, e.RunID, e.Err)
}

// Unwrap returns the underlying cause.
func (e *AbortError) Unwrap() error {
	return e.Err
}

// IsAborted reports whether err is an AbortError.
// Uses errors.As to handle wrapped errors.
func IsAborted(err error) bool {
	var ae *AbortError
	return errors.As(err, &ae)
}

// AbortPhase returns the phase of an AbortError in err's chain.
func AbortPhase(err error) (Phase, bool) {
	var ae *AbortError
	if errors.As(err, &ae) {
		return ae.Phase, true
	}
	return "", false
}
