package ir

import "time"

// Provenance records where an item was read from.
type Provenance struct {
	Provider   string    `json:"provider"`
	Mapping    string    `json:"mapping"`
	NativeID   string    `json:"native_id"`
	ModifiedAt time.Time `json:"modified_at,omitzero"`
}

// FieldValue is one internal field of an item.
type FieldValue struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Item is the ephemeral internal representation of one external record.
// Items are materialized per rule run and never persisted by the engine.
type Item struct {
	Type       string       `json:"type"`
	Fields     []FieldValue `json:"fields"` // mapping declaration order
	Provenance Provenance   `json:"provenance"`
}

// Get returns the value of the named field.
func (it *Item) Get(name string) (any, bool) {
	for _, f := range it.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Set assigns a field, appending it when not yet present.
func (it *Item) Set(name string, value any) {
	for i := range it.Fields {
		if it.Fields[i].Name == name {
			it.Fields[i].Value = value
			return
		}
	}
	it.Fields = append(it.Fields, FieldValue{Name: name, Value: value})
}

// Has reports whether the named field is present.
func (it *Item) Has(name string) bool {
	_, ok := it.Get(name)
	return ok
}

// SyncState is the tracked synchronization state of a destination item.
type SyncState string

const (
	StateUnsynced SyncState = "unsynced"
	StateSynced   SyncState = "synced"
	StateConflict SyncState = "conflict"
	StateError    SyncState = "error"
)

// ValidSyncStates defines allowed sync states.
var ValidSyncStates = map[SyncState]bool{
	StateUnsynced: true,
	StateSynced:   true,
	StateConflict: true,
	StateError:    true,
}

// Outcome is the decision taken for one correlated pair.
type Outcome string

const (
	OutcomeCreate   Outcome = "create"
	OutcomeUpdate   Outcome = "update"
	OutcomeSkip     Outcome = "skip"
	OutcomeConflict Outcome = "conflict"
	OutcomeFailed   Outcome = "failed"
	OutcomePending  Outcome = "pending"
)

// IsWrite reports whether the outcome issues a provider write.
func (o Outcome) IsWrite() bool {
	return o == OutcomeCreate || o == OutcomeUpdate
}
