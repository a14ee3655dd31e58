package engine

import (
	"errors"
	"fmt"
)

// WriteBudget caps the number of writes one rule run may issue.
//
// The budget is checked once, after every decision is made and before any
// write is dispatched, so an exceeded budget never leaves a run half
// applied.
type WriteBudget struct {
	limit int // 0 means unlimited
}

// NewWriteBudget creates a budget of limit writes. A limit of 0 disables it.
func NewWriteBudget(limit int) WriteBudget {
	return WriteBudget{limit: limit}
}

// Check validates the planned write count against the limit.
func (b WriteBudget) Check(rule string, planned int) error {
	if b.limit > 0 && planned > b.limit {
		return &BudgetExceededError{Rule: rule, Planned: planned, Limit: b.limit}
	}
	return nil
}

// Limit returns the configured limit.
func (b WriteBudget) Limit() int {
	return b.limit
}

// BudgetExceededError is returned when a run plans more writes than allowed.
type BudgetExceededError struct {
	Rule    string
	Planned int
	Limit   int
}

// Error implements the error interface.
func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("rule %s plans %d writes, over the limit of %d", e.Rule, e.Planned, e.Limit)
}

// IsBudgetExceeded reports whether err is a BudgetExceededError.
func IsBudgetExceeded(err error) bool {
	var be *BudgetExceededError
	return errors.As(err, &be)
}
