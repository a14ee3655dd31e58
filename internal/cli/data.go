package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/itemsync/internal/engine"
	"github.com/roach88/itemsync/internal/ir"
	"github.com/roach88/itemsync/internal/secrets"
)

// DataOptions holds flags for the data get command.
type DataOptions struct {
	*RootOptions
	OnlyCount bool
	Side      string // "source" | "destination"

	// Resolver overrides the secret resolver (for testing).
	Resolver *secrets.Resolver
}

// DataResult is the JSON payload of the data get command.
type DataResult struct {
	Group string               `json:"group"`
	Rule  string               `json:"rule"`
	Side  string               `json:"side"`
	Count int                  `json:"count"`
	Items []engine.FetchedItem `json:"items,omitempty"`
}

// NewDataCommand creates the data command and its get subcommand.
func NewDataCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "data",
		Short: "Inspect provider data through the configured mappings",
	}
	cmd.AddCommand(newDataGetCommand(&DataOptions{RootOptions: rootOpts}))
	return cmd
}

func newDataGetCommand(opts *DataOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <group> <rule>",
		Short: "Query one side of a rule and print the decoded items",
		Long: `Query the source or destination of a rule with its configured filter
and print every item decoded through the mapping. Nothing is written.

Field-level decoding errors are printed with the item they belong to.

Example:
  itemsync data get requirements jama-to-ado
  itemsync data get requirements jama-to-ado --side destination --only-count`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDataGet(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.OnlyCount, "only-count", false, "print only the number of items")
	cmd.Flags().StringVar(&opts.Side, "side", string(engine.SideSource), "rule side to query (source|destination)")

	return cmd
}

func runDataGet(opts *DataOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := opts.newLogger(cmd.ErrOrStderr())

	side := engine.Side(opts.Side)
	if side != engine.SideSource && side != engine.SideDestination {
		return commandError(formatter, ErrCodeUsage, fmt.Sprintf("--side must be source or destination, got %q", opts.Side))
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

	eng := engine.New(env.Schema, env.providers, engine.WithLogger(logger))
	items, err := eng.Items(ctx, t.rule, side)
	if err != nil {
		msg := fmt.Sprintf("query %s of %s failed", side, t)
		_ = formatter.Error(ErrCodeProviders, fmt.Sprintf("%s: %v", msg, err), nil)
		return WrapExitError(ExitFailure, msg, err)
	}

	result := DataResult{
		Group: t.group.Name,
		Rule:  t.rule.Name,
		Side:  string(side),
		Count: len(items),
	}
	if !opts.OnlyCount {
		result.Items = items
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	if opts.OnlyCount {
		fmt.Fprintln(formatter.Writer, result.Count)
		return nil
	}
	for _, it := range items {
		fields := make(map[string]any, len(it.Item.Fields))
		for _, f := range it.Item.Fields {
			fields[f.Name] = f.Value
		}
		data, err := ir.MarshalCanonical(fields)
		if err != nil {
			_ = formatter.Error(ErrCodeGeneric, fmt.Sprintf("marshaling item: %v", err), nil)
			return WrapExitError(ExitFailure, "marshaling item", err)
		}
		fmt.Fprintf(formatter.Writer, "%s %s\n", it.Item.Provenance.NativeID, data)
		for _, fe := range it.Errors {
			fmt.Fprintf(formatter.Writer, "  ! %s: %s\n", fe.Field, fe.Message)
		}
	}
	fmt.Fprintf(formatter.Writer, "%d item(s)\n", result.Count)
	return nil
}
