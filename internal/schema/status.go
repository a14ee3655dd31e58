package schema

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/roach88/itemsync/internal/ir"
)

// anchorPattern matches the links written into status fields, e.g.
// <a href="https://jama.example.com/perspective.req#/items/12">R-12</a>.
var anchorPattern = regexp.MustCompile(`(?is)<a[^>]*?href="(.*?)"[^>]*>(.*?)</a>`)

var tagPattern = regexp.MustCompile(`(?s)<[^>]*>`)

// Link points at the source item a destination item was synced from.
type Link struct {
	URL string `json:"url"`
	ID  string `json:"id"`
}

// StatusValue is the decoded content of a syncStatus field.
//
// It is rendered as plain text followed by optional HTML anchors so it reads
// well in providers that display the field as rich text:
//
//	synced 2026-01-02T03:04:05Z <a href="https://src.example/items/12">R-12</a>
type StatusValue struct {
	State    ir.SyncState `json:"state"`
	SyncedAt time.Time    `json:"synced_at,omitzero"`
	Links    []Link       `json:"links,omitempty"`
}

// String renders the status for writing to a provider.
func (s StatusValue) String() string {
	state := s.State
	if state == "" {
		state = ir.StateUnsynced
	}
	parts := []string{string(state)}
	if !s.SyncedAt.IsZero() {
		parts = append(parts, s.SyncedAt.UTC().Format(time.RFC3339Nano))
	}
	for _, l := range s.Links {
		parts = append(parts, fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(l.URL), html.EscapeString(l.ID)))
	}
	return strings.Join(parts, " ")
}

// ParseStatus decodes a rendered status. Surrounding markup added by the
// provider (paragraphs, divs) is ignored; an empty value is unsynced.
func ParseStatus(s string) (StatusValue, error) {
	var sv StatusValue
	for _, m := range anchorPattern.FindAllStringSubmatch(s, -1) {
		sv.Links = append(sv.Links, Link{
			URL: html.UnescapeString(m[1]),
			ID:  strings.TrimSpace(html.UnescapeString(tagPattern.ReplaceAllString(m[2], ""))),
		})
	}

	text := anchorPattern.ReplaceAllString(s, " ")
	text = html.UnescapeString(tagPattern.ReplaceAllString(text, " "))
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		sv.State = ir.StateUnsynced
		return sv, nil
	}

	state := ir.SyncState(strings.ToLower(tokens[0]))
	if !ir.ValidSyncStates[state] {
		return StatusValue{}, fmt.Errorf("invalid sync status %q", tokens[0])
	}
	sv.State = state

	if len(tokens) > 1 {
		ts, err := time.Parse(time.RFC3339Nano, tokens[1])
		if err != nil {
			return StatusValue{}, fmt.Errorf("invalid sync timestamp %q: %w", tokens[1], err)
		}
		sv.SyncedAt = ts.UTC()
	}
	return sv, nil
}
