package engine

import (
	"time"

	"github.com/roach88/itemsync/internal/ir"
	"github.com/roach88/itemsync/internal/syncerr"
)

// FieldError is a per-field failure recorded on an item result. It never
// aborts the rule.
type FieldError struct {
	Field   string       `json:"field"`
	Kind    syncerr.Kind `json:"kind"`
	Message string       `json:"message"`
}

func newFieldError(field string, err error) FieldError {
	fe := FieldError{Field: field, Kind: syncerr.KindSchema, Message: err.Error()}
	if se, ok := syncerr.As(err); ok {
		fe.Kind = se.Kind
	}
	return fe
}

// ItemResult is the outcome of one correlated pair.
type ItemResult struct {
	SourceID      string       `json:"source_id"`
	DestinationID string       `json:"destination_id,omitempty"`
	Outcome       ir.Outcome   `json:"outcome"`
	Changed       []string     `json:"changed,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	FieldErrors   []FieldError `json:"field_errors,omitempty"`
}

// RunProvenance identifies the engine build and the configuration a run
// executed under. Equal hashes mean the same rule and config documents.
type RunProvenance struct {
	EngineVersion string `json:"engine_version"`
	IRVersion     string `json:"ir_version"`
	RuleHash      string `json:"rule_hash,omitempty"`
	ConfigHash    string `json:"config_hash,omitempty"`
}

// RunReport is the structured result of executing one rule.
type RunReport struct {
	RunID      string        `json:"run_id"`
	Rule       string        `json:"rule"`
	Group      string        `json:"group"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	DryRun     bool          `json:"dry_run"`
	Provenance RunProvenance `json:"provenance,omitzero"`

	// Aborted is set when a precondition failed: configuration, a source
	// or destination query, or the write budget. Error holds the cause.
	Aborted bool   `json:"aborted"`
	Error   string `json:"error,omitempty"`

	Created    int `json:"created"`
	Updated    int `json:"updated"`
	Skipped    int `json:"skipped"`
	Conflicted int `json:"conflicted"`
	Failed     int `json:"failed"`
	Pending    int `json:"pending"`

	Items []ItemResult `json:"items"`
}

// tally recomputes the counters from Items.
func (r *RunReport) tally() {
	r.Created, r.Updated, r.Skipped, r.Conflicted, r.Failed, r.Pending = 0, 0, 0, 0, 0, 0
	for _, it := range r.Items {
		switch it.Outcome {
		case ir.OutcomeCreate:
			r.Created++
		case ir.OutcomeUpdate:
			r.Updated++
		case ir.OutcomeSkip:
			r.Skipped++
		case ir.OutcomeConflict:
			r.Conflicted++
		case ir.OutcomeFailed:
			r.Failed++
		case ir.OutcomePending:
			r.Pending++
		}
	}
}

// Writes returns the number of create and update outcomes.
func (r *RunReport) Writes() int {
	return r.Created + r.Updated
}

// NeedsAttention reports whether the run aborted or has failed, conflicted
// or pending items.
func (r *RunReport) NeedsAttention() bool {
	return r.Aborted || r.Failed > 0 || r.Conflicted > 0 || r.Pending > 0
}
