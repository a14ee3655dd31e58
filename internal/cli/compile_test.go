package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/itemsync/internal/ir"
)

func TestCompileRedactsLiteralCredentials(t *testing.T) {
	f := newFixture(t, "literal-token")

	out, err := execute(t, NewCompileCommand(&RootOptions{Format: "text", Config: f.ConfigPath}))
	require.NoError(t, err)
	assert.NotContains(t, out, "literal-token")
	assert.Contains(t, out, `"apiToken": "<redacted>"`)
	assert.Contains(t, out, f.SourcePath)

	var cfg map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Len(t, cfg["providers"], 2)
}

func TestCompileKeepsSecretReferences(t *testing.T) {
	f := newFixture(t, "env(JAMA_TOKEN)")

	out, err := execute(t, NewCompileCommand(&RootOptions{Format: "text", Config: f.ConfigPath}))
	require.NoError(t, err)
	assert.Contains(t, out, `"apiToken": "env(JAMA_TOKEN)"`)
	assert.NotContains(t, out, Redacted)
}

func TestCompileJSON(t *testing.T) {
	f := newFixture(t, "literal-token")

	out, err := execute(t, NewCompileCommand(&RootOptions{Format: "json", Config: f.ConfigPath}))
	require.NoError(t, err)

	var resp struct {
		Status string            `json:"status"`
		Data   CompilationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, CompilationStats{Types: 1, Providers: 2, Mappings: 2, Groups: 1, Rules: 1}, resp.Data.Stats)
	assert.NotContains(t, string(resp.Data.Config), "literal-token")
}

func TestCompileOutputFile(t *testing.T) {
	f := newFixture(t, "literal-token")
	outPath := filepath.Join(f.Dir, "compiled.json")

	out, err := execute(t, NewCompileCommand(&RootOptions{Format: "text", Config: f.ConfigPath}), "-o", outPath)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Compiled 1 rule(s) in 1 group(s) to "+outPath)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.True(t, json.Valid(data))
	assert.NotContains(t, string(data), "literal-token")
}

func TestCompileValidationErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.cue")
	require.NoError(t, os.WriteFile(path, []byte(`
types: item: fields: name: type: "string"
providers: a: {provider: "ftp", mappings: m: {type: "item", fields: name: "name"}}
`), 0644))

	out, err := execute(t, NewCompileCommand(&RootOptions{Format: "text", Config: path}))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, "E110")
}

func TestCompileMissingConfig(t *testing.T) {
	out, err := execute(t, NewCompileCommand(&RootOptions{Format: "text", Config: filepath.Join(t.TempDir(), "none.cue")}))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E005]")
}

func TestRedactConfig(t *testing.T) {
	cfg := &ir.Config{
		Providers: []ir.ProviderConfig{{
			Name: "jama",
			Options: map[string]string{
				"baseUrl":      "https://example.jamacloud.com",
				"clientSecret": "s3cret",
				"apiKey":       "abc",
				"password":     "awssm(prod/jama#password)",
			},
		}},
	}

	out := RedactConfig(cfg)
	assert.Equal(t, map[string]string{
		"baseUrl":      "https://example.jamacloud.com",
		"clientSecret": Redacted,
		"apiKey":       Redacted,
		"password":     "awssm(prod/jama#password)",
	}, out.Providers[0].Options)

	// The input is left untouched.
	assert.Equal(t, "s3cret", cfg.Providers[0].Options["clientSecret"])
}
