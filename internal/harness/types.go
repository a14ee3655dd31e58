package harness

import (
	"github.com/roach88/itemsync/internal/engine"
	"github.com/roach88/itemsync/internal/provider"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall scenario success: every expect clause and
	// assertion held.
	Pass bool `json:"pass"`

	// Reports holds every run report in execution order.
	// Used for golden file comparison.
	Reports []*engine.RunReport `json:"reports"`

	// Errors contains expectation and assertion failures.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Records holds the final records per "provider/mapping".
	Records map[string][]provider.Record `json:"records,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Reports: []*engine.RunReport{},
		Errors:  []string{},
		Records: make(map[string][]provider.Record),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Totals sums the counters of reports.
func Totals(reports []*engine.RunReport) engine.RunReport {
	var t engine.RunReport
	for _, r := range reports {
		t.Created += r.Created
		t.Updated += r.Updated
		t.Skipped += r.Skipped
		t.Conflicted += r.Conflicted
		t.Failed += r.Failed
		t.Pending += r.Pending
		t.Aborted = t.Aborted || r.Aborted
	}
	return t
}
