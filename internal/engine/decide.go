package engine

import (
	"fmt"
	"time"

	"github.com/roach88/itemsync/internal/ir"
	"github.com/roach88/itemsync/internal/schema"
)

// Decision is the outcome chosen for one pair.
type Decision struct {
	Outcome ir.Outcome
	Changed []string // comparable fields that differ, in declaration order
	Reason  string
}

// Decide classifies a pair. rendered holds the transformed source values
// destined for the destination; comparable fields missing from rendered
// could not be resolved and are left out of the comparison. A difference
// in a comparable field that is not syncable is reported in Changed but
// never triggers an update on its own. status is the destination's decoded
// sync status.
//
// Decide is pure: it performs no I/O and reads no clock.
func Decide(p Pair, td *ir.TypeDefinition, rendered map[string]any, status schema.StatusValue, tolerance time.Duration) Decision {
	if len(p.Duplicates) > 0 {
		return Decision{
			Outcome: ir.OutcomeConflict,
			Reason: fmt.Sprintf("source returned %d differing records with id %q",
				len(p.Duplicates)+1, p.Source.Provenance.NativeID),
		}
	}
	if len(p.Ambiguous) > 0 {
		return Decision{
			Outcome: ir.OutcomeConflict,
			Reason: fmt.Sprintf("%d destination items carry identity %q",
				len(p.Ambiguous), p.Source.Provenance.NativeID),
		}
	}
	if p.Destination == nil {
		return Decision{Outcome: ir.OutcomeCreate}
	}

	var changed []string
	writable := false
	for _, name := range td.Policy.ComparableFields {
		want, ok := rendered[name]
		if !ok {
			continue
		}
		def, _ := td.Field(name)
		have, _ := p.Destination.Get(name)
		if !schema.Equal(def, want, have) {
			changed = append(changed, name)
			writable = writable || td.Policy.IsSyncable(name)
		}
	}
	if !writable {
		return Decision{Outcome: ir.OutcomeSkip}
	}

	modified := p.Destination.Provenance.ModifiedAt
	if status.State == ir.StateSynced && !modified.IsZero() && modified.After(status.SyncedAt.Add(tolerance)) {
		return Decision{
			Outcome: ir.OutcomeConflict,
			Changed: changed,
			Reason: fmt.Sprintf("destination modified at %s after last sync at %s",
				modified.UTC().Format(time.RFC3339), status.SyncedAt.UTC().Format(time.RFC3339)),
		}
	}
	return Decision{Outcome: ir.OutcomeUpdate, Changed: changed}
}
