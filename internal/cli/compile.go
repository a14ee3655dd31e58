package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/itemsync/internal/compiler"
	"github.com/roach88/itemsync/internal/ir"
	"github.com/roach88/itemsync/internal/secrets"
)

// Redacted replaces literal secret values in compiled output.
const Redacted = "<redacted>"

// sensitiveOptionWords mark provider options whose literal values are
// credentials.
var sensitiveOptionWords = []string{"token", "password", "secret", "key"}

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompilationResult is the JSON payload of the compile command.
type CompilationResult struct {
	Config json.RawMessage         `json:"config"`
	Stats  CompilationStats        `json:"stats"`
	Cycles []compiler.CycleWarning `json:"cycles,omitempty"`
}

// CompilationStats holds summary statistics.
type CompilationStats struct {
	Types     int `json:"types"`
	Providers int `json:"providers"`
	Mappings  int `json:"mappings"`
	Groups    int `json:"groups"`
	Rules     int `json:"rules"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile the configuration to canonical JSON",
		Long: `Compile the CUE sync configuration and print it as canonical JSON.

Literal credentials in provider options (tokens, passwords, secrets and
keys) are replaced with "<redacted>". env() and awssm() references are
printed as written; they are never resolved by this command.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	path := opts.configPath()

	loadResult, loadErrors := LoadConfig(path)
	if len(loadErrors) > 0 {
		if loadResult == nil {
			verr := toValidationError(loadErrors[0])
			return commandError(formatter, verr.Code, verr.Message)
		}
		errs := make([]compiler.ValidationError, len(loadErrors))
		for i, err := range loadErrors {
			errs[i] = toValidationError(err)
		}
		return outputValidationErrors(formatter, errs)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, path)

	data, err := ir.MarshalCanonical(RedactConfig(loadResult.Config))
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, fmt.Sprintf("marshaling configuration: %v", err), nil)
		return WrapExitError(ExitFailure, "marshaling configuration", err)
	}

	var indented bytes.Buffer
	if err := json.Indent(&indented, data, "", "  "); err != nil {
		_ = formatter.Error(ErrCodeGeneric, fmt.Sprintf("formatting configuration: %v", err), nil)
		return WrapExitError(ExitFailure, "formatting configuration", err)
	}
	indented.WriteByte('\n')

	// Write to file if --output specified
	if opts.Output != "" {
		if err := os.WriteFile(opts.Output, indented.Bytes(), 0644); err != nil {
			return commandError(formatter, ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err))
		}
		formatter.VerboseLog("Wrote %s", opts.Output)
	}

	stats := calculateStats(loadResult.Config)

	if formatter.Format == "json" {
		return formatter.Success(CompilationResult{
			Config: data,
			Stats:  stats,
			Cycles: loadResult.Cycles,
		})
	}

	w := formatter.Diagnostics()
	for _, c := range loadResult.Cycles {
		fmt.Fprintf(w, "! %s\n", c.Message)
	}
	if opts.Output != "" {
		fmt.Fprintf(formatter.Writer, "✓ Compiled %d rule(s) in %d group(s) to %s\n", stats.Rules, stats.Groups, opts.Output)
		return nil
	}
	_, err = formatter.Writer.Write(indented.Bytes())
	return err
}

// calculateStats computes summary statistics for a configuration.
func calculateStats(cfg *ir.Config) CompilationStats {
	stats := CompilationStats{
		Types:     len(cfg.Types),
		Providers: len(cfg.Providers),
		Groups:    len(cfg.Groups),
	}
	for _, pc := range cfg.Providers {
		stats.Mappings += len(pc.Mappings)
	}
	for _, g := range cfg.Groups {
		stats.Rules += len(g.Rules)
	}
	return stats
}

// RedactConfig returns a copy of cfg whose literal credential options are
// replaced with Redacted.
func RedactConfig(cfg *ir.Config) *ir.Config {
	out := *cfg
	out.Providers = make([]ir.ProviderConfig, len(cfg.Providers))
	for i, pc := range cfg.Providers {
		if len(pc.Options) > 0 {
			opts := make(map[string]string, len(pc.Options))
			for k, v := range pc.Options {
				if isSensitiveOption(k) && !secrets.IsReference(v) {
					v = Redacted
				}
				opts[k] = v
			}
			pc.Options = opts
		}
		out.Providers[i] = pc
	}
	return &out
}

func isSensitiveOption(name string) bool {
	lower := strings.ToLower(name)
	for _, word := range sensitiveOptionWords {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}
