package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/itemsync/internal/compiler"
	"github.com/roach88/itemsync/internal/engine"
	"github.com/roach88/itemsync/internal/ir"
	"github.com/roach88/itemsync/internal/provider"
	"github.com/roach88/itemsync/internal/provider/memory"
	"github.com/roach88/itemsync/internal/schema"
	"github.com/roach88/itemsync/internal/syncerr"
	"github.com/roach88/itemsync/internal/testutil"
)

// Harness is the scenario execution environment.
// It owns the memory providers, the deterministic clock and the run id
// generator of one scenario run.
type Harness struct {
	cfg       *ir.Config
	schema    *schema.Registry
	providers *provider.Registry
	memory    map[string]*memory.Provider
	clock     *testutil.DeterministicClock
	runIDs    *testutil.SequentialRunIDs
	logger    *slog.Logger
}

// Option configures a scenario run.
type Option func(*Harness)

// WithLogger sets the logger handed to the engine. Logs are discarded by
// default.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = l
	}
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against fresh memory providers, so scenarios are
// isolated. The clock starts at the scenario's start time and only moves on
// advance steps; run ids are sequential. The same scenario therefore
// always produces the same reports.
//
// Execution flow:
// 1. Compile and validate the CUE configuration
// 2. Build one memory provider per configured provider and seed it
// 3. Execute steps, checking each run's expect clause
// 4. Capture final records and evaluate assertions
//
// The error is non-nil only when the scenario itself is unusable: a bad
// configuration, an unknown rule, or a seed or mutation that cannot apply.
// Failed expectations are reported in the result.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	h := &Harness{
		clock:  testutil.NewDeterministicClock(scenario.Start),
		runIDs: testutil.NewSequentialRunIDs("run"),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		memory: make(map[string]*memory.Provider),
	}
	for _, opt := range opts {
		opt(h)
	}

	if err := h.load(scenario); err != nil {
		return nil, err
	}
	defer h.providers.Close()

	if err := h.seed(scenario.Seed); err != nil {
		return nil, fmt.Errorf("failed to seed providers: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	h.captureRecords(result)
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(errMsg)
	}
	return result, nil
}

// load compiles the scenario configuration and builds memory providers.
func (h *Harness) load(scenario *Scenario) error {
	v := cuecontext.New().CompileString(scenario.Config, cue.Filename(scenario.Name+".cue"))
	cfg, err := compiler.CompileConfig(v)
	if err != nil {
		return fmt.Errorf("failed to compile config: %w", err)
	}
	if verrs := compiler.Validate(cfg); len(verrs) > 0 {
		errs := make([]error, len(verrs))
		for i := range verrs {
			errs[i] = verrs[i]
		}
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	reg, warnings, err := schema.New(cfg)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for _, w := range warnings {
		h.logger.Warn("config warning", "code", w.Code, "message", w.Message)
	}

	h.cfg = cfg
	h.schema = reg
	h.providers = provider.NewRegistry()
	for _, pc := range cfg.Providers {
		if pc.Kind != "memory" {
			_ = h.providers.Close()
			return syncerr.Configuration("E110", "provider %q: scenarios support memory providers only, got %q", pc.Name, pc.Kind)
		}
		p, err := memory.New(pc, memory.WithClock(h.clock.Now))
		if err != nil {
			_ = h.providers.Close()
			return err
		}
		if err := h.providers.Register(pc.Name, pc.Kind, p); err != nil {
			_ = h.providers.Close()
			return err
		}
		h.memory[pc.Name] = p
	}
	return nil
}

func (h *Harness) seed(seed map[string]map[string][]map[string]any) error {
	for _, providerName := range ir.SortedKeys(seed) {
		p, err := h.provider(providerName)
		if err != nil {
			return err
		}
		for _, mapping := range ir.SortedKeys(seed[providerName]) {
			records := seed[providerName][mapping]
			recs := make([]provider.Record, len(records))
			for i, rec := range records {
				recs[i] = provider.Record(rec)
			}
			if err := p.Seed(mapping, recs...); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *Harness) provider(name string) (*memory.Provider, error) {
	p, ok := h.memory[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return p, nil
}

func (h *Harness) executeStep(ctx context.Context, i int, step Step, result *Result) error {
	switch {
	case step.Run != "":
		return h.executeRun(ctx, i, step, result)

	case step.Mutate != nil:
		m := step.Mutate
		p, err := h.provider(m.Provider)
		if err != nil {
			return err
		}
		if err := p.Touch(m.Mapping, m.ID, provider.Record(m.Values)); err != nil {
			return err
		}
		h.logger.Info("record mutated", "step", i, "provider", m.Provider, "mapping", m.Mapping, "id", m.ID)

	case step.Advance != "":
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return err
		}
		now := h.clock.Advance(d)
		h.logger.Info("clock advanced", "step", i, "now", now)

	case step.Fail != nil:
		f := step.Fail
		p, err := h.provider(f.Provider)
		if err != nil {
			return err
		}
		msg := f.Message
		if msg == "" {
			msg = "injected failure"
		}
		p.FailNext(memory.Op(f.Op), f.Times, f.Transient, errors.New(msg))
		h.logger.Info("failure injected", "step", i, "provider", f.Provider, "op", f.Op, "times", f.Times)
	}
	return nil
}

// executeRun runs the rules named by step.Run sequentially, in declaration
// order, so run ids are assigned deterministically.
func (h *Harness) executeRun(ctx context.Context, i int, step Step, result *Result) error {
	rules, err := h.rules(step.Run)
	if err != nil {
		return err
	}

	eng := engine.New(h.schema, h.providers,
		engine.WithClock(h.clock),
		engine.WithRunIDGenerator(h.runIDs),
		engine.WithDryRun(step.DryRun),
		engine.WithLogger(h.logger),
	)

	reports := make([]*engine.RunReport, 0, len(rules))
	for _, rule := range rules {
		// Aborts are recorded on the report and checked through expect.
		report, _ := eng.Execute(ctx, rule)
		reports = append(reports, report)
	}
	result.Reports = append(result.Reports, reports...)

	if step.Expect != nil {
		for _, msg := range checkExpect(step.Expect, Totals(reports)) {
			result.AddError(fmt.Sprintf("step %d (run %s): %s", i, step.Run, msg))
		}
	}
	return nil
}

// rules resolves "group" or "group/rule".
func (h *Harness) rules(target string) ([]*ir.SyncRule, error) {
	groupName, ruleName, hasRule := strings.Cut(target, "/")
	group, ok := h.cfg.Group(groupName)
	if !ok {
		return nil, fmt.Errorf("unknown sync group %q", groupName)
	}
	if hasRule {
		rule, ok := group.Rule(ruleName)
		if !ok {
			return nil, fmt.Errorf("unknown rule %q in group %q", ruleName, groupName)
		}
		return []*ir.SyncRule{rule}, nil
	}
	rules := make([]*ir.SyncRule, len(group.Rules))
	for i := range group.Rules {
		rules[i] = &group.Rules[i]
	}
	return rules, nil
}

func checkExpect(want *Expect, got engine.RunReport) []string {
	var msgs []string
	check := func(name string, want *int, got int) {
		if want != nil && *want != got {
			msgs = append(msgs, fmt.Sprintf("%s: expected %d, got %d", name, *want, got))
		}
	}
	check("created", want.Created, got.Created)
	check("updated", want.Updated, got.Updated)
	check("skipped", want.Skipped, got.Skipped)
	check("conflicted", want.Conflicted, got.Conflicted)
	check("failed", want.Failed, got.Failed)
	check("pending", want.Pending, got.Pending)
	if want.Aborted != nil && *want.Aborted != got.Aborted {
		msgs = append(msgs, fmt.Sprintf("aborted: expected %t, got %t", *want.Aborted, got.Aborted))
	}
	return msgs
}

// captureRecords copies every record of every memory provider into result.
func (h *Harness) captureRecords(result *Result) {
	for _, pc := range h.cfg.Providers {
		p := h.memory[pc.Name]
		for _, mapping := range ir.SortedKeys(pc.Mappings) {
			result.Records[recordsKey(pc.Name, mapping)] = p.All(mapping)
		}
	}
}

func recordsKey(providerName, mapping string) string {
	return providerName + "/" + mapping
}
