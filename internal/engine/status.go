package engine

import (
	"time"

	"github.com/roach88/itemsync/internal/fieldpath"
	"github.com/roach88/itemsync/internal/ir"
	"github.com/roach88/itemsync/internal/provider"
	"github.com/roach88/itemsync/internal/schema"
)

// StatusTracker reads and writes the sync status field of destination
// items. It holds no state of its own: the status lives in the destination
// record and changes only through ordinary provider writes.
//
// A tracker for a type without a status field is disabled; every read
// reports unsynced and RecordOutcome writes nothing.
type StatusTracker struct {
	field string
	def   *ir.FieldDefinition
	path  fieldpath.Path
}

// NewStatusTracker builds the tracker for td as stored by mapping m.
func NewStatusTracker(td *ir.TypeDefinition, m *fieldpath.Mapping) *StatusTracker {
	name := td.Policy.StatusField
	if name == "" {
		return &StatusTracker{}
	}
	def, ok := td.Field(name)
	if !ok {
		return &StatusTracker{}
	}
	path, err := m.ToNative(name)
	if err != nil {
		return &StatusTracker{}
	}
	return &StatusTracker{field: name, def: def, path: path}
}

// Enabled reports whether the type tracks sync status.
func (t *StatusTracker) Enabled() bool {
	return t.field != ""
}

// Field returns the internal name of the status field.
func (t *StatusTracker) Field() string {
	return t.field
}

// Status returns the decoded status of a destination item.
func (t *StatusTracker) Status(item *ir.Item) schema.StatusValue {
	if !t.Enabled() || item == nil {
		return schema.StatusValue{State: ir.StateUnsynced}
	}
	v, _ := item.Get(t.field)
	if sv, ok := v.(schema.StatusValue); ok {
		return sv
	}
	return schema.StatusValue{State: ir.StateUnsynced}
}

// State returns the sync state of a destination item.
func (t *StatusTracker) State(item *ir.Item) ir.SyncState {
	return t.Status(item).State
}

// LastSyncedAt returns when the item was last synced successfully.
func (t *StatusTracker) LastSyncedAt(item *ir.Item) (time.Time, bool) {
	sv := t.Status(item)
	if sv.State != ir.StateSynced || sv.SyncedAt.IsZero() {
		return time.Time{}, false
	}
	return sv.SyncedAt, true
}

// RecordOutcome writes the status for outcome into the native values of a
// pending write. Create and Update record Synced at ts; Failed records
// Error. link, when its URL is set, points back at the source item.
func (t *StatusTracker) RecordOutcome(values provider.Record, outcome ir.Outcome, ts time.Time, link schema.Link) error {
	if !t.Enabled() {
		return nil
	}
	sv := schema.StatusValue{SyncedAt: ts.UTC()}
	switch outcome {
	case ir.OutcomeCreate, ir.OutcomeUpdate:
		sv.State = ir.StateSynced
	case ir.OutcomeFailed:
		sv.State = ir.StateError
	default:
		return nil
	}
	if link.URL != "" {
		sv.Links = []schema.Link{link}
	}
	return fieldpath.Set(values, t.path, schema.Encode(t.def, sv))
}
