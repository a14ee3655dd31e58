package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/itemsync/internal/engine"
	"github.com/roach88/itemsync/internal/store"
)

// DefaultLedgerPath is the run ledger read by history when --db is not given.
const DefaultLedgerPath = "itemsync.db"

// HistoryOptions holds flags shared by the history commands.
type HistoryOptions struct {
	*RootOptions
	Database  string
	Group     string
	Rule      string
	Limit     int
	OlderThan time.Duration

	// Now overrides the current time for prune (for testing).
	Now func() time.Time
}

// PruneResult is the JSON payload of history prune.
type PruneResult struct {
	Cutoff  time.Time `json:"cutoff"`
	Removed int64     `json:"removed"`
}

// NewHistoryCommand creates the history command and its subcommands.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	return newHistoryCommand(&HistoryOptions{RootOptions: rootOpts, Now: time.Now})
}

func newHistoryCommand(opts *HistoryOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs from the run ledger",
		Long: `List runs recorded by "itemsync run --db", newest first.

The ledger is an audit trail: it is never consulted when deciding what
to sync.

Example:
  itemsync history --db ./itemsync.db --rule jama-to-ado --limit 5
  itemsync history show <run-id>
  itemsync history item R-42`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistoryList(opts, cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Database, "db", DefaultLedgerPath, "path to the SQLite run ledger")
	cmd.Flags().StringVar(&opts.Group, "group", "", "only runs of this group")
	cmd.Flags().StringVar(&opts.Rule, "rule", "", "only runs of this rule")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of runs (0 for all)")

	show := &cobra.Command{
		Use:           "show <run-id>",
		Short:         "Show one run with every item outcome",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistoryShow(opts, args[0], cmd)
		},
	}

	item := &cobra.Command{
		Use:           "item <source-id>",
		Short:         "Show every recorded outcome of one source item",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistoryItem(opts, args[0], cmd)
		},
	}

	prune := &cobra.Command{
		Use:           "prune",
		Short:         "Delete runs that started before a cutoff",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistoryPrune(opts, cmd)
		},
	}
	prune.Flags().DurationVar(&opts.OlderThan, "older-than", 30*24*time.Hour, "delete runs older than this")

	cmd.AddCommand(show, item, prune)
	return cmd
}

// openLedger opens an existing ledger. history never creates one.
func openLedger(opts *HistoryOptions, formatter *OutputFormatter) (*store.Store, error) {
	if _, err := os.Stat(opts.Database); err != nil {
		return nil, commandError(formatter, ErrCodeLedger, fmt.Sprintf("run ledger not found: %s", opts.Database))
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return nil, commandError(formatter, ErrCodeLedger, fmt.Sprintf("failed to open run ledger: %v", err))
	}
	return st, nil
}

func runHistoryList(opts *HistoryOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	st, err := openLedger(opts, formatter)
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.ListRuns(cmd.Context(), store.RunFilter{Group: opts.Group, Rule: opts.Rule, Limit: opts.Limit})
	if err != nil {
		return commandError(formatter, ErrCodeLedger, err.Error())
	}

	if formatter.Format == "json" {
		return formatter.Success(RunResult{Reports: runs})
	}
	if len(runs) == 0 {
		fmt.Fprintln(formatter.Writer, "No runs recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tRULE\tSTARTED\tCREATED\tUPDATED\tSKIPPED\tCONFLICTED\tFAILED\tPENDING\tSTATUS")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s/%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			r.RunID, r.Group, r.Rule, r.StartedAt.UTC().Format(time.RFC3339),
			r.Created, r.Updated, r.Skipped, r.Conflicted, r.Failed, r.Pending, runStatus(r))
	}
	return tw.Flush()
}

func runHistoryShow(opts *HistoryOptions, runID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	st, err := openLedger(opts, formatter)
	if err != nil {
		return err
	}
	defer st.Close()

	run, err := st.GetRun(cmd.Context(), runID)
	if errors.Is(err, store.ErrRunNotFound) {
		return commandError(formatter, ErrCodeUsage, err.Error())
	}
	if err != nil {
		return commandError(formatter, ErrCodeLedger, err.Error())
	}

	if formatter.Format == "json" {
		return formatter.Success(run)
	}

	writeReport(formatter.Writer, run)
	if p := run.Provenance; p.EngineVersion != "" {
		fmt.Fprintf(formatter.Writer, "  engine=%s ir=%s rule=%s config=%s\n",
			p.EngineVersion, p.IRVersion, shortHash(p.RuleHash), shortHash(p.ConfigHash))
	}
	tw := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tDESTINATION\tOUTCOME\tCHANGED\tREASON")
	for _, it := range run.Items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			it.SourceID, dash(it.DestinationID), it.Outcome, dash(strings.Join(it.Changed, ",")), dash(it.Reason))
	}
	return tw.Flush()
}

func runHistoryItem(opts *HistoryOptions, sourceID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	st, err := openLedger(opts, formatter)
	if err != nil {
		return err
	}
	defer st.Close()

	entries, err := st.ItemHistory(cmd.Context(), sourceID)
	if err != nil {
		return commandError(formatter, ErrCodeLedger, err.Error())
	}

	if formatter.Format == "json" {
		return formatter.Success(entries)
	}
	if len(entries) == 0 {
		fmt.Fprintf(formatter.Writer, "No runs recorded for %s.\n", sourceID)
		return nil
	}

	tw := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tRULE\tSTARTED\tDESTINATION\tOUTCOME\tREASON")
	for _, e := range entries {
		outcome := string(e.Result.Outcome)
		if e.DryRun {
			outcome += " (dry run)"
		}
		fmt.Fprintf(tw, "%s\t%s/%s\t%s\t%s\t%s\t%s\n",
			e.RunID, e.Group, e.Rule, e.StartedAt.UTC().Format(time.RFC3339),
			dash(e.Result.DestinationID), outcome, dash(e.Result.Reason))
	}
	return tw.Flush()
}

func runHistoryPrune(opts *HistoryOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	if opts.OlderThan <= 0 {
		return commandError(formatter, ErrCodeUsage, fmt.Sprintf("--older-than must be positive, got %s", opts.OlderThan))
	}
	st, err := openLedger(opts, formatter)
	if err != nil {
		return err
	}
	defer st.Close()

	cutoff := opts.Now().Add(-opts.OlderThan)
	removed, err := st.Prune(cmd.Context(), cutoff)
	if err != nil {
		return commandError(formatter, ErrCodeLedger, err.Error())
	}

	if formatter.Format == "json" {
		return formatter.Success(PruneResult{Cutoff: cutoff, Removed: removed})
	}
	fmt.Fprintf(formatter.Writer, "✓ Removed %d run(s) started before %s\n", removed, cutoff.UTC().Format(time.RFC3339))
	return nil
}

func runStatus(r *engine.RunReport) string {
	switch {
	case r.Aborted:
		return "aborted"
	case r.NeedsAttention():
		return "attention"
	case r.DryRun:
		return "dry-run"
	default:
		return "ok"
	}
}

// shortHash abbreviates a content hash for display.
func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return dash(h)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
