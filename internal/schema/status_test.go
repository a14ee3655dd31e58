package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/itemsync/internal/ir"
)

func TestStatusValue_RoundTrip(t *testing.T) {
	sv := StatusValue{
		State:    ir.StateSynced,
		SyncedAt: time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC),
		Links:    []Link{{URL: "https://jama.example.com/perspective.req#/items/12?x=1&y=2", ID: "R-12"}},
	}
	rendered := sv.String()
	assert.Equal(t,
		`synced 2026-04-02T09:30:00Z <a href="https://jama.example.com/perspective.req#/items/12?x=1&amp;y=2">R-12</a>`,
		rendered)

	parsed, err := ParseStatus(rendered)
	require.NoError(t, err)
	assert.Equal(t, sv, parsed)
}

func TestParseStatus_ProviderMarkup(t *testing.T) {
	parsed, err := ParseStatus(`<div>Synced&nbsp;2026-04-02T09:30:00Z</div><div><a target="_blank" href="https://x/1">R-1</a></div>`)
	require.NoError(t, err)
	assert.Equal(t, ir.StateSynced, parsed.State)
	assert.Equal(t, time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC), parsed.SyncedAt)
	assert.Equal(t, []Link{{URL: "https://x/1", ID: "R-1"}}, parsed.Links)
}

func TestParseStatus_Empty(t *testing.T) {
	for _, in := range []string{"", "   ", "<p></p>"} {
		parsed, err := ParseStatus(in)
		require.NoError(t, err)
		assert.Equal(t, ir.StateUnsynced, parsed.State)
		assert.True(t, parsed.SyncedAt.IsZero())
	}
}

func TestParseStatus_Invalid(t *testing.T) {
	_, err := ParseStatus("done")
	assert.Error(t, err)

	_, err = ParseStatus("synced yesterday")
	assert.Error(t, err)
}

func TestStatusValue_StringDefaults(t *testing.T) {
	assert.Equal(t, "unsynced", StatusValue{}.String())
	assert.Equal(t, "conflict", StatusValue{State: ir.StateConflict}.String())
}
