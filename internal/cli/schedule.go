package cli

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/roach88/itemsync/internal/engine"
	"github.com/roach88/itemsync/internal/secrets"
	"github.com/roach88/itemsync/internal/store"
)

// ScheduleOptions holds flags for the schedule command.
type ScheduleOptions struct {
	*RootOptions
	Cron     string
	DryRun   bool
	Database string

	// Resolver overrides the secret resolver (for testing).
	Resolver *secrets.Resolver
	// Ready is called with the scheduler once it is started (for testing).
	Ready func(*Scheduler)
}

// Scheduler runs one target on a cron schedule. A tick that fires while
// the previous run is still executing is skipped.
type Scheduler struct {
	target target
	engine *engine.Engine
	env    *environment

	mu      sync.Mutex
	running bool
	runs    int
}

// Tick executes the target once unless a run is in progress. It reports
// whether a run happened.
func (s *Scheduler) Tick(ctx context.Context) bool {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.env.logger.Warn("previous run still executing, skipping tick", "target", s.target.String())
		return false
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.runs++
		s.mu.Unlock()
	}()

	reports, err := s.target.execute(ctx, s.engine)
	if err != nil && !isCancellation(err) {
		s.env.logger.Error("scheduled run aborted", "target", s.target.String(), "error", err)
	}
	for _, r := range reports {
		s.env.logger.Info("scheduled run finished",
			"rule", r.Group+"/"+r.Rule,
			"run_id", r.RunID,
			"created", r.Created,
			"updated", r.Updated,
			"conflicted", r.Conflicted,
			"failed", r.Failed,
			"attention", r.NeedsAttention(),
		)
	}
	return true
}

// Runs returns the number of completed ticks.
func (s *Scheduler) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// NewScheduleCommand creates the schedule command.
func NewScheduleCommand(rootOpts *RootOptions) *cobra.Command {
	return newScheduleCommand(&ScheduleOptions{RootOptions: rootOpts})
}

func newScheduleCommand(opts *ScheduleOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule [group] [rule]",
		Short: "Run sync rules on a cron schedule",
		Long: `Run sync rules repeatedly on a standard five-field cron schedule
until SIGINT or SIGTERM.

The configuration and providers are loaded once at startup. Each tick
runs the selected rules exactly like "itemsync run"; a tick is skipped
while the previous one is still executing.

Example:
  itemsync schedule --cron "*/15 * * * *" requirements --db ./itemsync.db
  itemsync schedule --cron "@hourly"`,
		Args:          cobra.MaximumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchedule(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Cron, "cron", "", "cron expression (required)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "decide and report without writing")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the SQLite run ledger")
	_ = cmd.MarkFlagRequired("cron")

	return cmd
}

func runSchedule(opts *ScheduleOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := opts.newLogger(cmd.ErrOrStderr())

	schedule, err := cron.ParseStandard(opts.Cron)
	if err != nil {
		return commandError(formatter, ErrCodeUsage, fmt.Sprintf("invalid cron expression %q: %v", opts.Cron, err))
	}

	ctx, stop := signalContext(cmd.Context(), logger)
	defer stop()

	env, err := openEnvironment(ctx, opts.RootOptions, formatter, logger, opts.Resolver)
	if err != nil {
		return err
	}
	defer env.Close()

	t, err := resolveTarget(env.Config, args)
	if err != nil {
		return commandError(formatter, ErrCodeUsage, err.Error())
	}

	engineOpts := []engine.Option{
		engine.WithDryRun(opts.DryRun),
		engine.WithLogger(logger),
	}
	if opts.Database != "" {
		st, err := store.Open(opts.Database)
		if err != nil {
			return commandError(formatter, ErrCodeLedger, fmt.Sprintf("failed to open run ledger: %v", err))
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing run ledger", "error", closeErr)
			}
		}()
		engineOpts = append(engineOpts, engine.WithRecorder(st))
	}

	s := &Scheduler{
		target: t,
		engine: engine.New(env.Schema, env.providers, engineOpts...),
		env:    env,
	}

	c := cron.New()
	c.Schedule(schedule, cron.FuncJob(func() { s.Tick(ctx) }))
	c.Start()

	logger.Info("scheduler started", "cron", opts.Cron, "target", t.String(), "next", c.Entries()[0].Next)
	if formatter.Format != "json" {
		fmt.Fprintf(formatter.Writer, "Scheduled %s on %q. Press Ctrl-C to stop.\n", t, opts.Cron)
	}
	if opts.Ready != nil {
		opts.Ready(s)
	}

	<-ctx.Done()

	// Wait for a run in flight to finish before closing providers
	<-c.Stop().Done()
	logger.Info("scheduler stopped", "runs", s.Runs())

	if formatter.Format == "json" {
		return formatter.Success(map[string]any{"cron": opts.Cron, "target": t.String(), "runs": s.Runs()})
	}
	fmt.Fprintf(formatter.Writer, "Stopped after %d run(s).\n", s.Runs())
	return nil
}
