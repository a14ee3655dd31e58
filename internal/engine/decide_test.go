package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/itemsync/internal/ir"
	"github.com/roach88/itemsync/internal/schema"
)

var syncedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func destination(modified time.Time, fields ...ir.FieldValue) *ir.Item {
	return &ir.Item{
		Type:       "item",
		Fields:     fields,
		Provenance: ir.Provenance{Provider: "ado", Mapping: "feature", NativeID: "F-1", ModifiedAt: modified},
	}
}

func source() *ir.Item {
	return &ir.Item{Type: "item", Provenance: ir.Provenance{Provider: "jama", Mapping: "requirement", NativeID: "R-1"}}
}

func TestDecide(t *testing.T) {
	td := &testConfig().Types[0]
	synced := schema.StatusValue{State: ir.StateSynced, SyncedAt: syncedAt}
	unsynced := schema.StatusValue{State: ir.StateUnsynced}
	rendered := map[string]any{"name": "Door", "description": "<p>Spec</p>", "state": "Open"}
	same := []ir.FieldValue{
		{Name: "name", Value: "Door"},
		{Name: "description", Value: "<p>Spec</p>\n"},
		{Name: "state", Value: "Open"},
	}
	renamed := []ir.FieldValue{
		{Name: "name", Value: "Door (edited)"},
		{Name: "description", Value: "<p>Spec</p>"},
		{Name: "state", Value: "Open"},
	}

	tests := []struct {
		name    string
		pair    Pair
		status  schema.StatusValue
		want    ir.Outcome
		changed []string
	}{
		{
			name:   "no destination creates",
			pair:   Pair{Source: source()},
			status: unsynced,
			want:   ir.OutcomeCreate,
		},
		{
			name:   "equal comparable fields skip",
			pair:   Pair{Source: source(), Destination: destination(syncedAt.Add(time.Hour), same...)},
			status: synced,
			want:   ir.OutcomeSkip,
		},
		{
			name:    "difference updates",
			pair:    Pair{Source: source(), Destination: destination(syncedAt, renamed...)},
			status:  synced,
			want:    ir.OutcomeUpdate,
			changed: []string{"name"},
		},
		{
			name:    "modified after sync conflicts",
			pair:    Pair{Source: source(), Destination: destination(syncedAt.Add(time.Hour), renamed...)},
			status:  synced,
			want:    ir.OutcomeConflict,
			changed: []string{"name"},
		},
		{
			name:    "write stamp within tolerance updates",
			pair:    Pair{Source: source(), Destination: destination(syncedAt.Add(2*time.Second), renamed...)},
			status:  synced,
			want:    ir.OutcomeUpdate,
			changed: []string{"name"},
		},
		{
			name:    "edit minutes after sync conflicts",
			pair:    Pair{Source: source(), Destination: destination(syncedAt.Add(2*time.Minute), renamed...)},
			status:  synced,
			want:    ir.OutcomeConflict,
			changed: []string{"name"},
		},
		{
			name:    "never synced updates",
			pair:    Pair{Source: source(), Destination: destination(syncedAt.Add(time.Hour), renamed...)},
			status:  unsynced,
			want:    ir.OutcomeUpdate,
			changed: []string{"name"},
		},
		{
			name:    "error state updates",
			pair:    Pair{Source: source(), Destination: destination(syncedAt.Add(time.Hour), renamed...)},
			status:  schema.StatusValue{State: ir.StateError, SyncedAt: syncedAt},
			want:    ir.OutcomeUpdate,
			changed: []string{"name"},
		},
		{
			name:   "differing source duplicates conflict",
			pair:   Pair{Source: source(), Destination: destination(syncedAt, same...), Duplicates: []*ir.Item{source()}},
			status: synced,
			want:   ir.OutcomeConflict,
		},
		{
			name:   "ambiguous conflicts",
			pair:   Pair{Source: source(), Ambiguous: []*ir.Item{destination(syncedAt), destination(syncedAt)}},
			status: unsynced,
			want:   ir.OutcomeConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.pair, td, rendered, tt.status, 5*time.Second)
			assert.Equal(t, tt.want, d.Outcome)
			assert.Equal(t, tt.changed, d.Changed)
		})
	}
}

func TestDecide_UnresolvedFieldsAreNotCompared(t *testing.T) {
	td := &testConfig().Types[0]
	dst := destination(syncedAt,
		ir.FieldValue{Name: "name", Value: "Door"},
		ir.FieldValue{Name: "state", Value: "Closed"},
	)
	rendered := map[string]any{"name": "Door"}

	d := Decide(Pair{Source: source(), Destination: dst}, td, rendered, schema.StatusValue{}, 0)

	assert.Equal(t, ir.OutcomeSkip, d.Outcome)
}

func TestDecide_MissingDestinationValueDiffers(t *testing.T) {
	td := &testConfig().Types[0]
	dst := destination(syncedAt, ir.FieldValue{Name: "name", Value: "Door"})
	rendered := map[string]any{"name": "Door", "state": "Open"}

	d := Decide(Pair{Source: source(), Destination: dst}, td, rendered, schema.StatusValue{}, 0)

	assert.Equal(t, ir.OutcomeUpdate, d.Outcome)
	assert.Equal(t, []string{"state"}, d.Changed)
}

func TestDecide_NonSyncableDifferenceNeverUpdates(t *testing.T) {
	td := &testConfig().Types[0]
	td.Policy.SyncableFields = []string{"name", "state", "priority", "sourceId", "syncStatus"}
	dst := destination(syncedAt,
		ir.FieldValue{Name: "name", Value: "Door"},
		ir.FieldValue{Name: "description", Value: "<p>Edited</p>"},
	)
	rendered := map[string]any{"name": "Door", "description": "<p>Spec</p>"}

	d := Decide(Pair{Source: source(), Destination: dst}, td, rendered, schema.StatusValue{}, 0)
	assert.Equal(t, ir.OutcomeSkip, d.Outcome)

	rendered["name"] = "Door v2"
	d = Decide(Pair{Source: source(), Destination: dst}, td, rendered, schema.StatusValue{}, 0)
	assert.Equal(t, ir.OutcomeUpdate, d.Outcome)
	assert.Equal(t, []string{"name", "description"}, d.Changed)
}
