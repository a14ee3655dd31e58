package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/itemsync/internal/ir"
	"github.com/roach88/itemsync/internal/provider"
	"github.com/roach88/itemsync/internal/schema"
)

// Recorder receives every finished RunReport. The run ledger implements it.
type Recorder interface {
	RecordRun(ctx context.Context, report *RunReport) error
}

// Engine executes sync rules.
//
// An Engine holds only read-only configuration and the provider registry;
// every Execute call owns its items and report. Independent rules may run
// concurrently on one Engine.
type Engine struct {
	schema    *schema.Registry
	providers *provider.Registry

	concurrency int
	retry       RetryPolicy
	clock       Clock
	runIDs      RunIDGenerator
	dryRun      bool
	recorder    Recorder
	tolerance   time.Duration
	budget      WriteBudget
	logger      *slog.Logger
	configHash  string
}

// Option configures an Engine.
type Option func(*Engine)

// WithConcurrency bounds the number of concurrent writes per rule.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithRetry sets the retry policy for provider calls.
func WithRetry(p RetryPolicy) Option {
	return func(e *Engine) {
		e.retry = p
	}
}

// WithClock sets the clock used for status timestamps and report times.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithRunIDGenerator sets the run id generator.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(e *Engine) {
		e.runIDs = g
	}
}

// WithDryRun computes and reports decisions without issuing writes.
func WithDryRun(dryRun bool) Option {
	return func(e *Engine) {
		e.dryRun = dryRun
	}
}

// WithRecorder sets the recorder that receives every report.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

// WithConflictTolerance sets how far a destination's modification time may
// trail the last sync before the item counts as externally modified.
func WithConflictTolerance(d time.Duration) Option {
	return func(e *Engine) {
		e.tolerance = d
	}
}

// WithMaxWrites sets the per-run write budget. 0 disables it.
func WithMaxWrites(n int) Option {
	return func(e *Engine) {
		e.budget = NewWriteBudget(n)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an Engine. Defaults come from the configuration's engine
// settings; options override them.
func New(reg *schema.Registry, providers *provider.Registry, opts ...Option) *Engine {
	settings := reg.Config().Engine
	e := &Engine{
		schema:      reg,
		providers:   providers,
		concurrency: max(settings.Concurrency, 1),
		retry: RetryPolicy{
			MaxAttempts:    settings.MaxAttempts,
			InitialBackoff: settings.InitialBackoff,
			MaxBackoff:     settings.MaxBackoff,
		},
		clock:     SystemClock{},
		runIDs:    UUIDv7Generator{},
		tolerance: settings.ConflictTolerance,
		budget:    NewWriteBudget(settings.MaxWrites),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if h, err := ir.ConfigHash(reg.Config()); err != nil {
		e.logger.Warn("config hash unavailable", "error", err)
	} else {
		e.configHash = h
	}
	return e
}

// provenance describes the engine and configuration running rule.
func (e *Engine) provenance(rule *ir.SyncRule) RunProvenance {
	p := RunProvenance{
		EngineVersion: ir.EngineVersion,
		IRVersion:     ir.IRVersion,
		ConfigHash:    e.configHash,
	}
	if h, err := ir.RuleHash(rule); err != nil {
		e.logger.Warn("rule hash unavailable", "rule", ruleLabel(rule), "error", err)
	} else {
		p.RuleHash = h
	}
	return p
}

// ExecuteGroup runs every rule of group concurrently. Reports are returned
// in declaration order; the error joins the abort errors of failed rules.
func (e *Engine) ExecuteGroup(ctx context.Context, group *ir.SyncGroup) ([]*RunReport, error) {
	reports := make([]*RunReport, len(group.Rules))
	errs := make([]error, len(group.Rules))

	var wg sync.WaitGroup
	for i := range group.Rules {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reports[i], errs[i] = e.Execute(ctx, &group.Rules[i])
		}(i)
	}
	wg.Wait()
	return reports, errors.Join(errs...)
}

// ExecuteAll runs every group of the configuration in declaration order.
func (e *Engine) ExecuteAll(ctx context.Context) ([]*RunReport, error) {
	var all []*RunReport
	var errs []error
	for i := range e.schema.Config().Groups {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		reports, err := e.ExecuteGroup(ctx, &e.schema.Config().Groups[i])
		all = append(all, reports...)
		errs = append(errs, err)
	}
	return all, errors.Join(errs...)
}
