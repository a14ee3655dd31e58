package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario defines a sync scenario.
// A scenario seeds memory providers, runs rules against them in steps, and
// asserts on each run's counts and on the final provider records.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config is the CUE configuration document. Every provider must be of
	// kind "memory".
	Config string `yaml:"config,omitempty"`

	// ConfigFile is a path to a CUE file, relative to the scenario file.
	// Exactly one of Config and ConfigFile is set.
	ConfigFile string `yaml:"config_file,omitempty"`

	// Start is the initial clock reading. Defaults to testutil.Epoch.
	Start time.Time `yaml:"start,omitempty"`

	// Seed lists records per provider and mapping, stored before the first
	// step.
	Seed map[string]map[string][]map[string]any `yaml:"seed,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final provider records.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one scenario action. Exactly one of Run, Mutate, Advance and
// Fail is set.
type Step struct {
	// Run executes a rule ("group/rule") or every rule of a group
	// ("group"), in declaration order.
	Run string `yaml:"run,omitempty"`

	// DryRun executes Run without writes.
	DryRun bool `yaml:"dry_run,omitempty"`

	// Expect checks the counters of the run's reports, summed.
	Expect *Expect `yaml:"expect,omitempty"`

	// Mutate edits a record the way an external user would.
	Mutate *Mutation `yaml:"mutate,omitempty"`

	// Advance moves the clock forward (Go duration syntax).
	Advance string `yaml:"advance,omitempty"`

	// Fail injects failures into the next provider calls.
	Fail *Fault `yaml:"fail,omitempty"`
}

// Expect lists expected run counters. Only set fields are checked.
type Expect struct {
	Created    *int  `yaml:"created,omitempty"`
	Updated    *int  `yaml:"updated,omitempty"`
	Skipped    *int  `yaml:"skipped,omitempty"`
	Conflicted *int  `yaml:"conflicted,omitempty"`
	Failed     *int  `yaml:"failed,omitempty"`
	Pending    *int  `yaml:"pending,omitempty"`
	Aborted    *bool `yaml:"aborted,omitempty"`
}

// Mutation merges Values into one record and stamps its modified path.
type Mutation struct {
	Provider string         `yaml:"provider"`
	Mapping  string         `yaml:"mapping"`
	ID       string         `yaml:"id"`
	Values   map[string]any `yaml:"values"`
}

// Fault makes the next Times calls of Op on Provider fail.
type Fault struct {
	Provider  string `yaml:"provider"`
	Op        string `yaml:"op"`
	Times     int    `yaml:"times"`
	Transient bool   `yaml:"transient,omitempty"`
	Message   string `yaml:"message,omitempty"`
}

// Assertion validates final provider records.
type Assertion struct {
	// Type is one of AssertRecord or AssertRecordCount.
	Type string `yaml:"type"`

	Provider string `yaml:"provider"`
	Mapping  string `yaml:"mapping"`

	// Where selects records by native path; all entries must match.
	Where map[string]any `yaml:"where,omitempty"`

	// Expect holds expected native path values (subset match, record only).
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number of matching records (record_count only).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertRecord      = "record"
	AssertRecordCount = "record_count"
)

var faultOps = map[string]bool{"query": true, "create": true, "update": true}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
// A config_file is read relative to the scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.ConfigFile != "" {
		configPath := scenario.ConfigFile
		if !filepath.IsAbs(configPath) {
			configPath = filepath.Join(filepath.Dir(path), configPath)
		}
		src, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		scenario.Config = string(src)
		scenario.ConfigFile = configPath
	}
	return scenario, nil
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	hasInline := strings.TrimSpace(s.Config) != ""
	if hasInline == (s.ConfigFile != "") {
		return fmt.Errorf("exactly one of config and config_file is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertion %d: %w", i, err)
		}
	}

	return nil
}

func validateStep(step Step) error {
	set := 0
	if step.Run != "" {
		set++
	}
	if step.Mutate != nil {
		set++
	}
	if step.Advance != "" {
		set++
	}
	if step.Fail != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("exactly one of run, mutate, advance and fail is required")
	}

	if step.Run == "" && (step.DryRun || step.Expect != nil) {
		return fmt.Errorf("dry_run and expect apply to run steps only")
	}

	switch {
	case step.Mutate != nil:
		m := step.Mutate
		if m.Provider == "" || m.Mapping == "" || m.ID == "" {
			return fmt.Errorf("mutate requires provider, mapping and id")
		}
		if len(m.Values) == 0 {
			return fmt.Errorf("mutate requires values")
		}
	case step.Advance != "":
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return fmt.Errorf("advance: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("advance must be positive, got %s", step.Advance)
		}
	case step.Fail != nil:
		f := step.Fail
		if f.Provider == "" {
			return fmt.Errorf("fail requires provider")
		}
		if !faultOps[f.Op] {
			return fmt.Errorf("fail op must be query, create or update, got %q", f.Op)
		}
		if f.Times <= 0 {
			return fmt.Errorf("fail times must be positive")
		}
	}
	return nil
}

func validateAssertion(a Assertion) error {
	if a.Provider == "" || a.Mapping == "" {
		return fmt.Errorf("provider and mapping are required")
	}
	switch a.Type {
	case AssertRecord:
		if len(a.Where) == 0 {
			return fmt.Errorf("record assertion requires where")
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("record assertion requires expect")
		}
	case AssertRecordCount:
		if len(a.Expect) > 0 {
			return fmt.Errorf("record_count assertion takes no expect")
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
