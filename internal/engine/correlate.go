package engine

import (
	"github.com/roach88/itemsync/internal/ir"
)

// Pair is one source item and its destination match.
//
// Destination is nil when nothing matched. Ambiguous holds every candidate
// when more than one destination item carries the source's identity.
// Duplicates holds the other source records that share the source's native
// id but differ from it. Either kind of pair always decides to Conflict and
// is never written.
type Pair struct {
	Source      *ir.Item
	Destination *ir.Item
	Ambiguous   []*ir.Item
	Duplicates  []*ir.Item
}

// Correlate pairs each distinct source native id with the destination items
// whose identity field equals it. Output follows the order in which ids
// first appear among sources. Identical copies of a source record are
// dropped; differing copies are attached to the first as Duplicates.
// Destination items without an identity value never correlate.
func Correlate(sources, destinations []*ir.Item, identityField string) []Pair {
	byIdentity := make(map[string][]*ir.Item, len(destinations))
	for _, d := range destinations {
		v, ok := d.Get(identityField)
		if !ok || v == nil {
			continue
		}
		key := ir.String(v)
		if key == "" {
			continue
		}
		byIdentity[key] = append(byIdentity[key], d)
	}

	pairs := make([]Pair, 0, len(sources))
	seen := make(map[string]int, len(sources))
	for _, s := range sources {
		id := s.Provenance.NativeID
		if i, ok := seen[id]; ok {
			p := &pairs[i]
			if !sameRecord(p.Source, s) && !containsRecord(p.Duplicates, s) {
				p.Duplicates = append(p.Duplicates, s)
			}
			continue
		}
		seen[id] = len(pairs)

		p := Pair{Source: s}
		switch matches := byIdentity[id]; len(matches) {
		case 0:
		case 1:
			p.Destination = matches[0]
		default:
			p.Ambiguous = matches
		}
		pairs = append(pairs, p)
	}
	return pairs
}

// sameRecord reports whether two decoded items carry the same modification
// time and content.
func sameRecord(a, b *ir.Item) bool {
	if !a.Provenance.ModifiedAt.Equal(b.Provenance.ModifiedAt) {
		return false
	}
	fa, err := ir.ItemFingerprint(a)
	if err != nil {
		return false
	}
	fb, err := ir.ItemFingerprint(b)
	return err == nil && fa == fb
}

func containsRecord(items []*ir.Item, it *ir.Item) bool {
	for _, o := range items {
		if sameRecord(o, it) {
			return true
		}
	}
	return false
}
