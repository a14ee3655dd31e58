package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/roach88/itemsync/internal/engine"
	"github.com/roach88/itemsync/internal/ir"
	"github.com/roach88/itemsync/internal/provider"
	"github.com/roach88/itemsync/internal/provider/factory"
	"github.com/roach88/itemsync/internal/secrets"
	"github.com/roach88/itemsync/internal/syncerr"
)

// environment is a validated configuration with its providers built.
type environment struct {
	*LoadResult
	providers *provider.Registry
	logger    *slog.Logger
}

// openEnvironment loads the configuration and builds every provider,
// resolving secret references once. Failures are ExitCommandErrors.
func openEnvironment(ctx context.Context, opts *RootOptions, formatter *OutputFormatter, logger *slog.Logger, resolver *secrets.Resolver) (*environment, error) {
	path := opts.configPath()
	logger.Debug("loading configuration", "path", path)

	loadResult, loadErrors := LoadConfig(path)
	if len(loadErrors) > 0 {
		for _, err := range loadErrors[1:] {
			logger.Error("configuration error", "error", err)
		}
		verr := toValidationError(loadErrors[0])
		code := verr.Code
		if loadResult != nil {
			code = ErrCodeInvalidConfig
		}
		return nil, commandError(formatter, code, fmt.Sprintf("%s (%d error(s), run validate for details)", verr.Message, len(loadErrors)))
	}
	for _, c := range loadResult.Cycles {
		logger.Warn("write cycle", "path", c.Path, "message", c.Message)
	}

	if resolver == nil {
		resolver = secrets.NewResolver()
	}
	providers, err := factory.Build(ctx, loadResult.Config, resolver, factory.WithLogger(logger))
	if err != nil {
		return nil, commandError(formatter, ErrCodeProviders, err.Error())
	}
	logger.Debug("configuration loaded", "files", loadResult.FileCount, "providers", len(loadResult.Config.Providers))

	return &environment{LoadResult: loadResult, providers: providers, logger: logger}, nil
}

// Close releases the providers.
func (e *environment) Close() {
	if err := e.providers.Close(); err != nil {
		e.logger.Error("error closing providers", "error", err)
	}
}

// target is the selection of a [group] [rule] argument list. A nil group
// selects every group; a nil rule selects every rule of group.
type target struct {
	group *ir.SyncGroup
	rule  *ir.SyncRule
}

// resolveTarget resolves the [group] [rule] arguments against cfg.
func resolveTarget(cfg *ir.Config, args []string) (target, error) {
	var t target
	if len(args) == 0 {
		return t, nil
	}
	group, ok := cfg.Group(args[0])
	if !ok {
		return t, fmt.Errorf("unknown sync group %q", args[0])
	}
	t.group = group
	if len(args) == 1 {
		return t, nil
	}
	rule, ok := group.Rule(args[1])
	if !ok {
		return t, fmt.Errorf("unknown rule %q in group %q", args[1], args[0])
	}
	t.rule = rule
	return t, nil
}

// String names the target for logs.
func (t target) String() string {
	switch {
	case t.rule != nil:
		return t.group.Name + "/" + t.rule.Name
	case t.group != nil:
		return t.group.Name
	default:
		return "all groups"
	}
}

// execute runs the target on eng. Reports are returned even when the error
// is non-nil; the error joins the abort errors of the runs.
func (t target) execute(ctx context.Context, eng *engine.Engine) ([]*engine.RunReport, error) {
	switch {
	case t.rule != nil:
		report, err := eng.Execute(ctx, t.rule)
		return []*engine.RunReport{report}, err
	case t.group != nil:
		return eng.ExecuteGroup(ctx, t.group)
	default:
		return eng.ExecuteAll(ctx)
	}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM. Work in
// flight finishes; nothing new is dispatched.
func signalContext(parent context.Context, logger *slog.Logger) (context.Context, context.CancelFunc) {
	// Use command's context if available (for testing), otherwise create one
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan) // Prevent signal handler leak
		cancel()
	}
}

// flatten splits a syncerr.List into its elements.
func flatten(err error) []error {
	var list syncerr.List
	if errors.As(err, &list) {
		return list
	}
	return []error{err}
}
