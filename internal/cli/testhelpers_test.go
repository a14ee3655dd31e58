package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/itemsync/internal/ir"
	"github.com/roach88/itemsync/internal/provider"
	"github.com/roach88/itemsync/internal/provider/sqlite"
)

// syncConfig is a two-provider configuration over local SQLite files.
// %s placeholders: source path, destination path, source token option.
const syncConfig = `
types: item: {
	fields: {
		name:       {type: "string", required: true}
		state:      {type: "enum", values: ["New", "Active", "Closed"]}
		sourceId:   {type: "string"}
		syncStatus: {type: "syncStatus"}
	}
	comparableFields: ["name", "state"]
	syncableFields:   ["name", "state", "sourceId", "syncStatus"]
	identityField:    "sourceId"
	statusField:      "syncStatus"
}

providers: {
	jama: {
		provider: "sqlite"
		options: {
			path:     %q
			apiToken: %q
		}
		mappings: requirement: {
			type:     "item"
			id:       "id"
			modified: "modifiedDate"
			fields: {
				name:  "fields.name"
				state: "fields.status"
			}
		}
	}
	ado: {
		provider: "sqlite"
		options: path: %q
		mappings: feature: {
			type:     "item"
			id:       "id"
			modified: "changedDate"
			fields: {
				name:       "fields.[System.Title]"
				state:      "fields.[System.State]"
				sourceId:   "fields.[Custom.SourceId]"
				syncStatus: "fields.[Custom.SyncStatus]"
			}
		}
	}
}

sync: requirements: rules: "jama-to-ado": {
	source: {provider: "jama", mapping: "requirement", query: filter: project: ["PRJ"]}
	destination: {provider: "ado", mapping: "feature", query: filter: areaPath: "Team"}
}

engine: {
	concurrency:       1
	maxAttempts:       1
	initialBackoff:    "1ms"
	maxBackoff:        "1ms"
	conflictTolerance: "5s"
}
`

// fixture is a configuration file with a seeded source database.
type fixture struct {
	Dir        string
	ConfigPath string
	SourcePath string
	DestPath   string
	LedgerPath string
}

// newFixture writes the configuration and seeds the source with one
// requirement per id. token is the literal or reference used for the
// jama apiToken option.
func newFixture(t *testing.T, token string, ids ...string) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		Dir:        dir,
		ConfigPath: filepath.Join(dir, "sync.cue"),
		SourcePath: filepath.Join(dir, "jama.db"),
		DestPath:   filepath.Join(dir, "ado.db"),
		LedgerPath: filepath.Join(dir, "ledger.db"),
	}
	cfg := fmt.Sprintf(syncConfig, f.SourcePath, token, f.DestPath)
	require.NoError(t, os.WriteFile(f.ConfigPath, []byte(cfg), 0644))

	src, err := sqlite.Open(context.Background(), ir.ProviderConfig{
		Name:    "jama",
		Kind:    "sqlite",
		Options: map[string]string{"path": f.SourcePath},
		Mappings: map[string]ir.TypeMapping{
			"requirement": {Name: "requirement", Type: "item", ID: "id", Modified: "modifiedDate"},
		},
	})
	require.NoError(t, err)
	defer src.Close()

	for _, id := range ids {
		require.NoError(t, src.Insert(context.Background(), "requirement", provider.Record{
			"id":           id,
			"project":      "PRJ",
			"modifiedDate": "2026-01-01T00:00:00Z",
			"fields":       map[string]any{"name": "Item " + id, "status": "New"},
		}))
	}
	return f
}

// execute runs cmd with args and returns stdout and the error.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}
