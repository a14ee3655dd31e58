package harness

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/itemsync/internal/engine"
	"github.com/roach88/itemsync/internal/ir"
)

// Snapshot is the golden form of a scenario run: its name and every run
// report, in execution order.
type Snapshot struct {
	Scenario string `json:"scenario"`
	Reports  any    `json:"reports"`
}

// MarshalSnapshot renders the golden form of result. Keys are sorted
// (canonical JSON) and the output is indented, one report field per line,
// so golden diffs stay readable. Run provenance is left out; it changes
// with every engine release.
func MarshalSnapshot(scenario *Scenario, result *Result) ([]byte, error) {
	reports := make([]engine.RunReport, 0, len(result.Reports))
	for _, r := range result.Reports {
		rep := *r
		rep.Provenance = engine.RunProvenance{}
		reports = append(reports, rep)
	}
	canonical, err := ir.MarshalCanonical(Snapshot{
		Scenario: scenario.Name,
		Reports:  reports,
	})
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, canonical, "", "  "); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// RunWithGolden executes a scenario and compares its reports against a
// golden file. The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the reports don't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(t.Context(), scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario, result)
}

// AssertGolden compares an existing result against its golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenario *Scenario, result *Result) error {
	t.Helper()

	data, err := MarshalSnapshot(scenario, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
	return nil
}
