package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/itemsync/internal/fieldpath"
	"github.com/roach88/itemsync/internal/ir"
	"github.com/roach88/itemsync/internal/provider"
	"github.com/roach88/itemsync/internal/schema"
	"github.com/roach88/itemsync/internal/syncerr"
	"github.com/roach88/itemsync/internal/transform"
)

// endpoint is one resolved side of a rule.
type endpoint struct {
	ir.Endpoint
	provider provider.Provider
	mapping  *fieldpath.Mapping
	td       *ir.TypeDefinition
}

// ruleRun is the state of one Execute call. It is never shared between
// calls.
type ruleRun struct {
	e          *Engine
	rule       *ir.SyncRule
	report     *RunReport
	src, dst   endpoint
	transforms *transform.Set
	tracker    *StatusTracker
	logger     *slog.Logger
}

// Execute runs one rule to completion and returns its report.
//
// Per-item failures are recorded in the report and never returned. The
// error is non-nil only when the run aborted before any write was
// dispatched: the report is still returned, marked Aborted.
func (e *Engine) Execute(ctx context.Context, rule *ir.SyncRule) (*RunReport, error) {
	r := &ruleRun{
		e:    e,
		rule: rule,
		report: &RunReport{
			RunID:      e.runIDs.Generate(),
			Rule:       rule.Name,
			Group:      rule.Group,
			StartedAt:  e.clock.Now(),
			DryRun:     e.dryRun,
			Provenance: e.provenance(rule),
			Items:      []ItemResult{},
		},
	}
	r.logger = e.logger.With("rule", ruleLabel(rule), "run_id", r.report.RunID)
	r.logger.Info("rule started", "dry_run", e.dryRun)

	err := r.run(ctx)

	r.report.tally()
	r.report.FinishedAt = e.clock.Now()
	if err != nil {
		r.report.Aborted = true
		r.report.Error = err.Error()
		r.logger.Error("rule aborted", "error", err)
	}
	r.logger.Info("rule finished",
		"created", r.report.Created,
		"updated", r.report.Updated,
		"skipped", r.report.Skipped,
		"conflicted", r.report.Conflicted,
		"failed", r.report.Failed,
		"pending", r.report.Pending,
		"duration", r.report.FinishedAt.Sub(r.report.StartedAt),
	)

	if e.recorder != nil {
		if rerr := e.recorder.RecordRun(context.WithoutCancel(ctx), r.report); rerr != nil {
			r.logger.Warn("record run failed", "error", rerr)
		}
	}
	return r.report, err
}

func (r *ruleRun) run(ctx context.Context) error {
	if err := r.prepare(); err != nil {
		return r.abort(PhasePrepare, err)
	}

	sources, err := r.e.fetch(ctx, r.src, r.logger)
	if err != nil {
		return r.abort(PhaseSourceQuery, err)
	}
	destinations, err := r.e.fetch(ctx, r.dst, r.logger)
	if err != nil {
		return r.abort(PhaseDestinationQuery, err)
	}
	r.logger.Debug("queries drained", "sources", len(sources), "destinations", len(destinations))

	writes := r.plan(sources, destinations)

	if !r.e.dryRun {
		if err := r.e.budget.Check(ruleLabel(r.rule), len(writes)); err != nil {
			for _, w := range writes {
				res := &r.report.Items[w.idx]
				res.Outcome = ir.OutcomePending
				res.Reason = "write budget exceeded"
			}
			return r.abort(PhaseBudget, err)
		}
	}

	r.dispatch(ctx, writes)
	return nil
}

func (r *ruleRun) abort(phase Phase, err error) error {
	return &AbortError{Rule: ruleLabel(r.rule), RunID: r.report.RunID, Phase: phase, Err: err}
}

func (r *ruleRun) prepare() error {
	var err error
	if r.src, err = r.e.resolve(r.rule.Source, provider.RoleSource); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if r.dst, err = r.e.resolve(r.rule.Destination, provider.RoleDestination); err != nil {
		return fmt.Errorf("destination: %w", err)
	}
	if r.transforms, err = transform.CompileRule(r.rule); err != nil {
		return err
	}
	r.tracker = NewStatusTracker(r.dst.td, r.dst.mapping)
	return nil
}

func (e *Engine) resolve(ep ir.Endpoint, role provider.Role) (endpoint, error) {
	m, td, err := e.schema.ResolveMapping(ep.Provider, ep.Mapping)
	if err != nil {
		return endpoint{}, err
	}
	p, err := e.providers.Get(ep.Provider)
	if err != nil {
		return endpoint{}, err
	}
	if err := p.ValidateFilter(ep.Mapping, role, ep.Filter); err != nil {
		return endpoint{}, err
	}
	return endpoint{Endpoint: ep, provider: p, mapping: m, td: td}, nil
}

// decoded is one native record translated into an item. errs holds the
// fields that could not be decoded; unreadable names them, and those fields
// are absent from item. badModified is set when the modification time was
// present but could not be read.
type decoded struct {
	item        ir.Item
	errs        []FieldError
	unreadable  map[string]bool
	badModified bool
}

func (d *decoded) fail(field string, err error) {
	d.errs = append(d.errs, newFieldError(field, err))
	if d.unreadable == nil {
		d.unreadable = make(map[string]bool)
	}
	d.unreadable[field] = true
}

// fetch drains a query and decodes every record. Each page is retried on
// transient errors; any other failure fails the whole fetch.
func (e *Engine) fetch(ctx context.Context, ep endpoint, logger *slog.Logger) ([]*decoded, error) {
	var out []*decoded
	cursor := ""
	for {
		var page provider.Page
		err := e.retry.Do(ctx, func() error {
			var err error
			page, err = ep.provider.Query(ctx, ep.Mapping, ep.Filter, cursor)
			return err
		}, retryNotify(logger, "query", ep.Provider))
		if err != nil {
			return nil, err
		}
		for _, rec := range page.Records {
			out = append(out, decode(ep, rec))
		}
		if page.Next == "" {
			return out, nil
		}
		if page.Next == cursor {
			return nil, syncerr.Provider(ep.Provider, "query", false,
				fmt.Errorf("cursor %q did not advance", cursor))
		}
		cursor = page.Next
	}
}

var modifiedDef = ir.FieldDefinition{Name: "modifiedAt", Kind: ir.KindDatetime}

// decode reads the identifier, modification time and every mapped field of
// rec into an item of the endpoint's type.
func decode(ep endpoint, rec provider.Record) *decoded {
	d := &decoded{item: ir.Item{
		Type: ep.td.Name,
		Provenance: ir.Provenance{
			Provider: ep.Provider,
			Mapping:  ep.Mapping,
		},
	}}

	if v, ok := ep.provider.ReadNative(rec, ep.mapping.ID); ok && v != nil {
		d.item.Provenance.NativeID = ir.String(v)
	}
	if d.item.Provenance.NativeID == "" {
		d.errs = append(d.errs, FieldError{
			Field:   "",
			Kind:    syncerr.KindMapping,
			Message: fmt.Sprintf("record has no identifier at %s", ep.mapping.ID),
		})
	}

	if !ep.mapping.Modified.IsZero() {
		if raw, ok := ep.provider.ReadNative(rec, ep.mapping.Modified); ok {
			v, err := schema.Coerce(&modifiedDef, raw)
			if err != nil {
				d.errs = append(d.errs, newFieldError(ep.mapping.Modified.String(), err))
				d.badModified = true
			} else if t, ok := v.(time.Time); ok {
				d.item.Provenance.ModifiedAt = t
			}
		}
	}

	for _, b := range ep.mapping.Bindings {
		def, ok := ep.td.Field(b.Field)
		if !ok {
			continue
		}
		raw, found := ep.provider.ReadNative(rec, b.Path)
		if !found && def.Kind != ir.KindSyncStatus {
			continue
		}
		v, err := schema.Coerce(def, raw)
		if err != nil {
			d.fail(b.Field, err)
			continue
		}
		d.item.Set(b.Field, v)
	}
	return d
}

func retryNotify(logger *slog.Logger, op, providerName string) func(error, time.Duration) {
	return func(err error, wait time.Duration) {
		logger.Warn("provider call failed, retrying",
			"op", op,
			"provider", providerName,
			"wait", wait,
			"error", err,
		)
	}
}

func ruleLabel(rule *ir.SyncRule) string {
	return rule.Group + "/" + rule.Name
}

// Side selects one endpoint of a rule.
type Side string

const (
	SideSource      Side = "source"
	SideDestination Side = "destination"
)

// FetchedItem is one decoded record returned by Items.
type FetchedItem struct {
	Item   ir.Item      `json:"item"`
	Errors []FieldError `json:"errors,omitempty"`
}

// Items drains one side of rule and returns its decoded items without
// deciding or writing anything.
func (e *Engine) Items(ctx context.Context, rule *ir.SyncRule, side Side) ([]FetchedItem, error) {
	ep, role := rule.Source, provider.RoleSource
	if side == SideDestination {
		ep, role = rule.Destination, provider.RoleDestination
	}
	resolved, err := e.resolve(ep, role)
	if err != nil {
		return nil, err
	}
	logger := e.logger.With("rule", ruleLabel(rule), "side", string(side))
	records, err := e.fetch(ctx, resolved, logger)
	if err != nil {
		return nil, err
	}
	out := make([]FetchedItem, 0, len(records))
	for _, d := range records {
		out = append(out, FetchedItem{Item: d.item, Errors: d.errs})
	}
	return out, nil
}
