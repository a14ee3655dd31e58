package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/itemsync/internal/compiler"
	"github.com/roach88/itemsync/internal/schema"
	"github.com/roach88/itemsync/internal/secrets"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Offline bool // skip secret resolution

	// Resolver overrides the secret resolver (for testing).
	Resolver *secrets.Resolver
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                       `json:"valid"`
	Errors   []compiler.ValidationError `json:"errors,omitempty"`
	Warnings []schema.Warning           `json:"warnings,omitempty"`
	Cycles   []compiler.CycleWarning    `json:"cycles,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return newValidateCommand(&ValidateOptions{RootOptions: rootOpts})
}

func newValidateCommand(opts *ValidateOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the sync configuration",
		Long: `Validate the CUE sync configuration without running any rule.

Compiles the configuration, checks every type, mapping and rule, and
resolves env() and awssm() secret references in provider options.
Use --offline to skip secret resolution.

Exit codes:
  0 - Configuration valid
  1 - Validation failed
  2 - Configuration could not be loaded`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Offline, "offline", false, "skip resolution of secret references")

	return cmd
}

func runValidate(opts *ValidateOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	path := opts.configPath()

	loadResult, loadErrors := LoadConfig(path)
	if loadResult == nil {
		verr := toValidationError(loadErrors[0])
		return commandError(formatter, verr.Code, verr.Message)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, path)

	validationErrors := make([]compiler.ValidationError, 0, len(loadErrors))
	for _, err := range loadErrors {
		validationErrors = append(validationErrors, toValidationError(err))
	}

	if len(validationErrors) == 0 && !opts.Offline {
		resolver := opts.Resolver
		if resolver == nil {
			resolver = secrets.NewResolver()
		}
		validationErrors = append(validationErrors, resolveSecrets(cmd.Context(), resolver, loadResult, formatter)...)
	}

	if len(validationErrors) > 0 {
		return outputValidationErrors(formatter, validationErrors)
	}

	return outputValidateSuccess(formatter, loadResult)
}

// resolveSecrets resolves every provider option once, reporting failures
// as validation errors. Resolved values are discarded.
func resolveSecrets(ctx context.Context, resolver *secrets.Resolver, loadResult *LoadResult, formatter *OutputFormatter) []compiler.ValidationError {
	if ctx == nil {
		ctx = context.Background()
	}
	var errs []compiler.ValidationError
	for _, pc := range loadResult.Config.Providers {
		formatter.VerboseLog("Resolving options of provider: %s", pc.Name)
		if _, err := resolver.ResolveOptions(ctx, pc.Name, pc.Options); err != nil {
			for _, e := range flatten(err) {
				verr := toValidationError(e)
				verr.Field = "providers." + pc.Name
				errs = append(errs, verr)
			}
		}
	}
	return errs
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, loadResult *LoadResult) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{
			Valid:    true,
			Warnings: loadResult.Warnings,
			Cycles:   loadResult.Cycles,
		})
	}

	for _, w := range loadResult.Warnings {
		fmt.Fprintf(formatter.Writer, "! %s: %s\n", w.Code, w.Message)
	}
	for _, c := range loadResult.Cycles {
		fmt.Fprintf(formatter.Writer, "! %s\n", c.Message)
	}
	fmt.Fprintln(formatter.Writer, "✓ Configuration valid")
	return nil
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs []compiler.ValidationError) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data: ValidationResult{
				Valid:  false,
				Errors: errs,
			},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}
		if err := formatter.Encode(response); err != nil {
			return err
		}

		// Validation failures = exit code 1 (test/validation failure)
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	// Text format
	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", err.Line)
		}
		if err.Field != "" {
			fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", err.Code, err.Field, err.Message)
		} else {
			fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", err.Code, err.Message)
		}
	}

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
