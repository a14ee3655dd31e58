package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/itemsync/internal/engine"
	"github.com/roach88/itemsync/internal/ir"
	"github.com/roach88/itemsync/internal/secrets"
	"github.com/roach88/itemsync/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	DryRun      bool
	Concurrency int           // 0 keeps the configured value
	Database    string        // run ledger path, empty for none
	Timeout     time.Duration // 0 means no timeout

	// Resolver overrides the secret resolver (for testing).
	Resolver *secrets.Resolver
	// RunIDs overrides the run id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs engine.RunIDGenerator
}

// RunResult is the JSON payload of the run command.
type RunResult struct {
	Reports []*engine.RunReport `json:"reports"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [group] [rule]",
		Short: "Execute sync rules",
		Long: `Execute sync rules once.

Without arguments every group runs in declaration order. With a group
name, the rules of that group run concurrently. With a group and a rule
name, only that rule runs.

SIGINT and SIGTERM stop the run cooperatively: writes in flight finish
and the remaining items are reported as pending.

Exit codes:
  0 - Every item created, updated or skipped
  1 - One or more items failed, conflicted or are pending
  2 - Configuration error or an aborted rule

Example:
  itemsync run -c ./sync.cue
  itemsync run -c ./sync.cue requirements --dry-run
  itemsync run -c ./sync.cue requirements jama-to-ado --db ./itemsync.db`,
		Args:          cobra.MaximumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRules(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "decide and report without writing")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 0, "concurrent writes per rule (0 uses engine.concurrency)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the SQLite run ledger")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "abort the run after this duration (0 for none)")

	return cmd
}

func runRules(opts *RunOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := opts.newLogger(cmd.ErrOrStderr())

	if opts.Concurrency < 0 {
		return commandError(formatter, ErrCodeUsage, fmt.Sprintf("--concurrency must not be negative, got %d", opts.Concurrency))
	}

	ctx, stop := signalContext(cmd.Context(), logger)
	defer stop()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

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
		engine.WithConcurrency(opts.Concurrency),
		engine.WithLogger(logger),
	}
	if opts.RunIDs != nil {
		engineOpts = append(engineOpts, engine.WithRunIDGenerator(opts.RunIDs))
	}

	// Open the ledger (create if not exists)
	if opts.Database != "" {
		logger.Debug("opening run ledger", "path", opts.Database)
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

	eng := engine.New(env.Schema, env.providers, engineOpts...)

	logger.Info("run starting", "target", t.String(), "dry_run", opts.DryRun)
	reports, runErr := t.execute(ctx, eng)
	if runErr != nil {
		logger.Debug("run finished with aborted rules", "error", runErr)
	}

	return outputReports(formatter, reports)
}

// outputReports prints reports and maps them to an exit code.
func outputReports(formatter *OutputFormatter, reports []*engine.RunReport) error {
	exitErr := reportsExitError(reports)

	if formatter.Format == "json" {
		resp := CLIResponse{
			Status: "ok",
			Data:   RunResult{Reports: reports},
			RunIDs: runIDs(reports),
		}
		if exitErr != nil {
			resp.Status = "error"
			resp.Error = &CLIError{Code: ErrCodeGeneric, Message: exitErr.Message}
		}
		if err := formatter.Encode(resp); err != nil {
			return err
		}
		if exitErr != nil {
			return exitErr
		}
		return nil
	}

	for _, r := range reports {
		writeReport(formatter.Writer, r)
	}
	fmt.Fprintln(formatter.Writer)

	if exitErr != nil {
		fmt.Fprintf(formatter.Writer, "✗ %s\n", exitErr.Message)
		return exitErr
	}
	fmt.Fprintf(formatter.Writer, "✓ %d rule(s) in sync\n", len(reports))
	return nil
}

// reportsExitError returns nil when every report is clean. Aborted rules
// are precondition failures; item failures, conflicts and pending items
// are run failures.
func reportsExitError(reports []*engine.RunReport) *ExitError {
	var aborted, attention int
	for _, r := range reports {
		switch {
		case r.Aborted:
			aborted++
		case r.NeedsAttention():
			attention++
		}
	}
	switch {
	case aborted > 0:
		return NewExitError(ExitCommandError, fmt.Sprintf("%d rule(s) aborted, %d rule(s) need attention", aborted, attention))
	case attention > 0:
		return NewExitError(ExitFailure, fmt.Sprintf("%d rule(s) need attention", attention))
	}
	return nil
}

// writeReport prints one report summary followed by the items that need
// attention.
func writeReport(w io.Writer, r *engine.RunReport) {
	mark := "✓"
	if r.NeedsAttention() {
		mark = "✗"
	}
	var flags []string
	if r.DryRun {
		flags = append(flags, "dry run")
	}
	if r.Aborted {
		flags = append(flags, "aborted")
	}
	suffix := ""
	if len(flags) > 0 {
		suffix = " (" + strings.Join(flags, ", ") + ")"
	}

	fmt.Fprintf(w, "%s %s/%s%s run=%s\n", mark, r.Group, r.Rule, suffix, r.RunID)
	fmt.Fprintf(w, "  created=%d updated=%d skipped=%d conflicted=%d failed=%d pending=%d\n",
		r.Created, r.Updated, r.Skipped, r.Conflicted, r.Failed, r.Pending)
	if r.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", r.Error)
	}
	for _, it := range r.Items {
		switch it.Outcome {
		case ir.OutcomeFailed, ir.OutcomeConflict, ir.OutcomePending:
		default:
			continue
		}
		fmt.Fprintf(w, "  %s %s", it.Outcome, it.SourceID)
		if it.DestinationID != "" {
			fmt.Fprintf(w, " -> %s", it.DestinationID)
		}
		if it.Reason != "" {
			fmt.Fprintf(w, ": %s", it.Reason)
		}
		fmt.Fprintln(w)
		for _, fe := range it.FieldErrors {
			fmt.Fprintf(w, "    %s: %s\n", fe.Field, fe.Message)
		}
	}
}

func runIDs(reports []*engine.RunReport) []string {
	ids := make([]string, 0, len(reports))
	for _, r := range reports {
		ids = append(ids, r.RunID)
	}
	return ids
}

// isCancellation reports whether err only records a cancelled context.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
