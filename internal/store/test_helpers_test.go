package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/itemsync/internal/engine"
	"github.com/roach88/itemsync/internal/ir"
	"github.com/roach88/itemsync/internal/syncerr"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestReport creates a finished report with one item per outcome.
func createTestReport(id, rule string, started time.Time) *engine.RunReport {
	return &engine.RunReport{
		RunID:      id,
		Group:      "requirements",
		Rule:       rule,
		StartedAt:  started,
		FinishedAt: started.Add(1500 * time.Millisecond),
		Provenance: engine.RunProvenance{
			EngineVersion: "0.1.0",
			IRVersion:     "1",
			RuleHash:      "rule-" + rule,
			ConfigHash:    "config-1",
		},
		Created:    1,
		Updated:    1,
		Conflicted: 1,
		Failed:     1,
		Items: []engine.ItemResult{
			{SourceID: "R-1", DestinationID: "F-1", Outcome: ir.OutcomeCreate},
			{SourceID: "R-2", DestinationID: "F-2", Outcome: ir.OutcomeUpdate, Changed: []string{"name", "state"}},
			{SourceID: "R-3", DestinationID: "F-3", Outcome: ir.OutcomeConflict, Changed: []string{"name"},
				Reason: "destination modified at 2026-01-01T01:00:00Z after last sync at 2026-01-01T00:00:00Z"},
			{SourceID: "R-4", Outcome: ir.OutcomeFailed, Reason: "destination sync status could not be decoded",
				FieldErrors: []engine.FieldError{{Field: "priority", Kind: syncerr.KindSchema, Message: "bad <int>"}}},
		},
	}
}
