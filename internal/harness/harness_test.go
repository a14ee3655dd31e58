package harness

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requirementsConfig(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile("testdata/scenarios/requirements.cue")
	require.NoError(t, err)
	return string(data)
}

func seedRequirements(ids ...string) map[string]map[string][]map[string]any {
	var records []map[string]any
	for _, id := range ids {
		records = append(records, map[string]any{
			"id":           id,
			"project":      "PRJ",
			"modifiedDate": "2026-01-01T00:00:00Z",
			"fields":       map[string]any{"name": "Item " + id, "status": "New"},
		})
	}
	return map[string]map[string][]map[string]any{"jama": {"requirement": records}}
}

func intp(n int) *int { return &n }

func boolp(b bool) *bool { return &b }

func TestRun_CreatesAndCapturesRecords(t *testing.T) {
	scenario := &Scenario{
		Name:        "creates",
		Description: "Creates two features",
		Config:      requirementsConfig(t),
		Seed:        seedRequirements("R-1", "R-2"),
		Steps: []Step{
			{Run: "requirements/jama-to-ado", Expect: &Expect{Created: intp(2), Failed: intp(0)}},
		},
		Assertions: []Assertion{
			{Type: AssertRecordCount, Provider: "ado", Mapping: "feature", Count: 2},
			{
				Type:     AssertRecord,
				Provider: "ado",
				Mapping:  "feature",
				Where:    map[string]any{"fields.[Custom.SourceId]": "R-2"},
				Expect:   map[string]any{"id": "F-2", "fields.[System.Title]": "Item R-2", "areaPath": "Team"},
			},
		},
	}

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Errors)

	require.Len(t, result.Reports, 1)
	report := result.Reports[0]
	assert.Equal(t, "run-0001", report.RunID)
	assert.Equal(t, 2, report.Created)

	assert.Len(t, result.Records["ado/feature"], 2)
	assert.Len(t, result.Records["jama/requirement"], 2)
}

func TestRun_GroupRunsEveryRule(t *testing.T) {
	cfg := requirementsConfig(t) + `
sync: requirements: rules: "jama-to-ado-copy": {
	source: {provider: "jama", mapping: "requirement", query: filter: project: ["PRJ"]}
	destination: {provider: "ado", mapping: "feature", query: filter: areaPath: "Copy"}
}
`
	scenario := &Scenario{
		Name:        "group",
		Description: "Runs both rules of the group",
		Config:      cfg,
		Seed:        seedRequirements("R-1"),
		Steps:       []Step{{Run: "requirements", Expect: &Expect{Created: intp(2)}}},
		Assertions: []Assertion{
			{Type: AssertRecordCount, Provider: "ado", Mapping: "feature", Where: map[string]any{"areaPath": "Copy"}, Count: 1},
		},
	}

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	require.Len(t, result.Reports, 2)
	assert.Equal(t, "jama-to-ado", result.Reports[0].Rule)
	assert.Equal(t, "run-0001", result.Reports[0].RunID)
	assert.Equal(t, "jama-to-ado-copy", result.Reports[1].Rule)
	assert.Equal(t, "run-0002", result.Reports[1].RunID)
}

func TestRun_ExpectMismatch(t *testing.T) {
	scenario := &Scenario{
		Name:        "mismatch",
		Description: "Wrong expectations fail the result",
		Config:      requirementsConfig(t),
		Seed:        seedRequirements("R-1"),
		Steps: []Step{
			{Run: "requirements/jama-to-ado", Expect: &Expect{Created: intp(5), Aborted: boolp(true)}},
		},
	}

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Equal(t, "step 0 (run requirements/jama-to-ado): created: expected 5, got 1", result.Errors[0])
	assert.Equal(t, "step 0 (run requirements/jama-to-ado): aborted: expected true, got false", result.Errors[1])
}

func TestRun_AssertionFailure(t *testing.T) {
	scenario := &Scenario{
		Name:        "assertion",
		Description: "A failing assertion fails the result",
		Config:      requirementsConfig(t),
		Seed:        seedRequirements("R-1"),
		Steps:       []Step{{Run: "requirements/jama-to-ado"}},
		Assertions: []Assertion{
			{
				Type:     AssertRecord,
				Provider: "ado",
				Mapping:  "feature",
				Where:    map[string]any{"id": "F-1"},
				Expect:   map[string]any{"fields.[System.Title]": "Something else"},
			},
		},
	}

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Assertion failed: record on ado/feature")
	assert.Contains(t, result.Errors[0], "Actual: fields.[System.Title] = Item R-1")
}

func TestRun_WriteBudgetAborts(t *testing.T) {
	cfg := strings.Replace(requirementsConfig(t), "concurrency:       1", "concurrency:       1\n\tmaxWrites:         1", 1)
	scenario := &Scenario{
		Name:        "budget",
		Description: "Too many writes abort the run",
		Config:      cfg,
		Seed:        seedRequirements("R-1", "R-2"),
		Steps: []Step{
			{Run: "requirements/jama-to-ado", Expect: &Expect{Aborted: boolp(true), Pending: intp(2), Created: intp(0)}},
		},
		Assertions: []Assertion{
			{Type: AssertRecordCount, Provider: "ado", Mapping: "feature", Count: 0},
		},
	}

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Contains(t, result.Reports[0].Error, "plans 2 writes, over the limit of 1")
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/create-skip-update.yaml")
	require.NoError(t, err)

	first, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	second, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	a, err := MarshalSnapshot(scenario, first)
	require.NoError(t, err)
	b, err := MarshalSnapshot(scenario, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRun_SetupErrors(t *testing.T) {
	tests := []struct {
		name   string
		config func(string) string
		seed   map[string]map[string][]map[string]any
		steps  []Step
		want   string
	}{
		{
			name:   "invalid cue",
			config: func(string) string { return "types: 1" },
			steps:  []Step{{Advance: "1m"}},
			want:   "failed to compile config",
		},
		{
			name: "non-memory provider",
			config: func(cfg string) string {
				return strings.Replace(cfg, `provider: "memory"`, `provider: "sqlite"`, 1)
			},
			steps: []Step{{Advance: "1m"}},
			want:  "memory providers only",
		},
		{
			name:  "unknown group",
			steps: []Step{{Run: "nope"}},
			want:  `unknown sync group "nope"`,
		},
		{
			name:  "unknown rule",
			steps: []Step{{Run: "requirements/nope"}},
			want:  `unknown rule "nope" in group "requirements"`,
		},
		{
			name:  "seed unknown provider",
			seed:  map[string]map[string][]map[string]any{"github": {"issue": {{"id": "1"}}}},
			steps: []Step{{Advance: "1m"}},
			want:  `unknown provider "github"`,
		},
		{
			name: "mutate missing record",
			steps: []Step{{Mutate: &Mutation{
				Provider: "jama", Mapping: "requirement", ID: "R-404",
				Values: map[string]any{"fields": map[string]any{"name": "x"}},
			}}},
			want: "has no record R-404",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := requirementsConfig(t)
			if tt.config != nil {
				cfg = tt.config(cfg)
			}
			scenario := &Scenario{
				Name:        "setup",
				Description: tt.name,
				Config:      cfg,
				Seed:        tt.seed,
				Steps:       tt.steps,
			}

			_, err := Run(context.Background(), scenario)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
