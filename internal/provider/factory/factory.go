// Package factory builds the provider registry of a configuration.
package factory

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/roach88/itemsync/internal/ir"
	"github.com/roach88/itemsync/internal/provider"
	"github.com/roach88/itemsync/internal/provider/azuredevops"
	"github.com/roach88/itemsync/internal/provider/jama"
	"github.com/roach88/itemsync/internal/provider/memory"
	"github.com/roach88/itemsync/internal/provider/rest"
	"github.com/roach88/itemsync/internal/provider/sqlite"
	"github.com/roach88/itemsync/internal/secrets"
	"github.com/roach88/itemsync/internal/syncerr"
)

type settings struct {
	httpClient *http.Client
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures Build.
type Option func(*settings)

// WithHTTPClient sets the HTTP client of remote providers.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *settings) {
		s.httpClient = hc
	}
}

// WithClock sets the clock local providers stamp modification times with.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		s.now = now
	}
}

// WithLogger sets the logger handed to providers.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		s.logger = l
	}
}

// Build resolves provider option secrets and constructs every configured
// provider. A nil resolver uses option values verbatim. Every failure is
// collected; on error the providers built so far are closed.
func Build(ctx context.Context, cfg *ir.Config, res *secrets.Resolver, opts ...Option) (*provider.Registry, error) {
	s := settings{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&s)
	}

	reg := provider.NewRegistry()
	var errs syncerr.List
	for _, pc := range cfg.Providers {
		if res != nil {
			resolved, err := res.ResolveOptions(ctx, pc.Name, pc.Options)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			pc.Options = resolved
		}

		p, err := build(ctx, pc, s)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := reg.Register(pc.Name, pc.Kind, p); err != nil {
			errs = append(errs, err)
			continue
		}
		s.logger.Debug("provider ready", "provider", pc.Name, "kind", pc.Kind)
	}

	if err := errs.ErrOrNil(); err != nil {
		_ = reg.Close()
		return nil, err
	}
	return reg, nil
}

func build(ctx context.Context, pc ir.ProviderConfig, s settings) (provider.Provider, error) {
	switch pc.Kind {
	case "memory":
		return memory.New(pc, memory.WithClock(s.now))
	case "sqlite":
		return sqlite.Open(ctx, pc, sqlite.WithClock(s.now))
	case "jama":
		return jama.New(pc, jama.WithHTTPClient(s.httpClient))
	case "azuredevops":
		return azuredevops.New(pc, rest.WithHTTPClient(s.httpClient), rest.WithLogger(s.logger))
	default:
		return nil, syncerr.Configuration("E110", "provider %q: unsupported provider kind %q", pc.Name, pc.Kind)
	}
}
