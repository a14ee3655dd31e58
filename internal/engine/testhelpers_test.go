package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/itemsync/internal/ir"
	"github.com/roach88/itemsync/internal/provider"
	"github.com/roach88/itemsync/internal/provider/memory"
	"github.com/roach88/itemsync/internal/schema"
	"github.com/roach88/itemsync/internal/testutil"
)

// testConfig syncs "item" from a Jama-shaped memory mapping into an Azure
// DevOps-shaped memory mapping.
func testConfig() *ir.Config {
	return &ir.Config{
		Types: []ir.TypeDefinition{{
			Name: "item",
			Fields: []ir.FieldDefinition{
				{Name: "name", Kind: ir.KindString, Required: true},
				{Name: "description", Kind: ir.KindRichText},
				{Name: "state", Kind: ir.KindEnum, Values: []string{"Open", "Closed", "New", "Active"}},
				{Name: "priority", Kind: ir.KindInt},
				{Name: "sourceId", Kind: ir.KindString},
				{Name: "syncStatus", Kind: ir.KindSyncStatus},
			},
			Policy: ir.TypePolicy{
				ComparableFields: []string{"name", "description", "state"},
				SyncableFields:   []string{"name", "description", "state", "priority", "sourceId", "syncStatus"},
				IdentityField:    "sourceId",
				StatusField:      "syncStatus",
			},
		}},
		Providers: []ir.ProviderConfig{
			{
				Name: "jama",
				Kind: "memory",
				Mappings: map[string]ir.TypeMapping{
					"requirement": {
						Name: "requirement", Type: "item", ID: "id", Modified: "modifiedDate",
						Fields: []ir.FieldMapping{
							{Field: "name", Path: "fields.name"},
							{Field: "description", Path: "fields.description"},
							{Field: "state", Path: "fields.status"},
							{Field: "priority", Path: "fields.priority"},
						},
					},
				},
			},
			{
				Name: "ado",
				Kind: "memory",
				Mappings: map[string]ir.TypeMapping{
					"feature": {
						Name: "feature", Type: "item", ID: "id", Modified: "fields.[System.ChangedDate]",
						Fields: []ir.FieldMapping{
							{Field: "name", Path: "fields.[System.Title]"},
							{Field: "description", Path: "fields.[System.Description]"},
							{Field: "state", Path: "fields.[System.State]"},
							{Field: "priority", Path: "fields.[Microsoft.VSTS.Common.Priority]"},
							{Field: "sourceId", Path: "fields.[Custom.SourceId]"},
							{Field: "syncStatus", Path: "fields.[Custom.SyncStatus]"},
						},
					},
				},
			},
		},
		Groups: []ir.SyncGroup{{
			Name: "requirements",
			Rules: []ir.SyncRule{{
				Name:        "jama-to-ado",
				Group:       "requirements",
				Source:      ir.Endpoint{Provider: "jama", Mapping: "requirement", Filter: ir.Filter{"project": []any{"PRJ"}}},
				Destination: ir.Endpoint{Provider: "ado", Mapping: "feature", Filter: ir.Filter{"fields.[System.AreaPath]": "Team"}},
			}},
		}},
		Engine: ir.EngineSettings{
			Concurrency:       4,
			MaxAttempts:       3,
			InitialBackoff:    time.Millisecond,
			MaxBackoff:        2 * time.Millisecond,
			ConflictTolerance: 5 * time.Second,
		},
	}
}

type fixture struct {
	cfg    *ir.Config
	clock  *testutil.DeterministicClock
	src    *memory.Provider
	dst    *memory.Provider
	engine *Engine
}

type fixtureOptions struct {
	cfg     *ir.Config
	srcOpts []memory.Option
	dstOpts []memory.Option
	wrapSrc func(*memory.Provider) provider.Provider
	wrapDst func(*memory.Provider) provider.Provider
	engine  []Option
}

func newFixture(t *testing.T, engineOpts ...Option) *fixture {
	t.Helper()
	return newFixtureWith(t, fixtureOptions{engine: engineOpts})
}

func newFixtureWith(t *testing.T, o fixtureOptions) *fixture {
	t.Helper()
	cfg := o.cfg
	if cfg == nil {
		cfg = testConfig()
	}
	clock := testutil.NewDeterministicClock(testutil.Epoch)

	reg, _, err := schema.New(cfg)
	require.NoError(t, err)

	srcCfg, _ := cfg.Provider("jama")
	src, err := memory.New(*srcCfg, append([]memory.Option{memory.WithClock(clock.Now)}, o.srcOpts...)...)
	require.NoError(t, err)
	dstCfg, _ := cfg.Provider("ado")
	dst, err := memory.New(*dstCfg, append([]memory.Option{memory.WithClock(clock.Now), memory.WithIDPrefix("F-")}, o.dstOpts...)...)
	require.NoError(t, err)

	providers := provider.NewRegistry()
	var srcProvider provider.Provider = src
	if o.wrapSrc != nil {
		srcProvider = o.wrapSrc(src)
	}
	require.NoError(t, providers.Register("jama", "memory", srcProvider))
	var dstProvider provider.Provider = dst
	if o.wrapDst != nil {
		dstProvider = o.wrapDst(dst)
	}
	require.NoError(t, providers.Register("ado", "memory", dstProvider))

	opts := append([]Option{
		WithClock(clock),
		WithRunIDGenerator(testutil.NewSequentialRunIDs("run")),
	}, o.engine...)

	return &fixture{
		cfg:    cfg,
		clock:  clock,
		src:    src,
		dst:    dst,
		engine: New(reg, providers, opts...),
	}
}

func (f *fixture) rule() *ir.SyncRule {
	return &f.cfg.Groups[0].Rules[0]
}

func (f *fixture) run(t *testing.T) *RunReport {
	t.Helper()
	report, err := f.engine.Execute(context.Background(), f.rule())
	require.NoError(t, err)
	return report
}

func (f *fixture) seedSource(t *testing.T, records ...provider.Record) {
	t.Helper()
	require.NoError(t, f.src.Seed("requirement", records...))
}

func requirement(id, name string) provider.Record {
	return provider.Record{
		"id":           id,
		"project":      "PRJ",
		"modifiedDate": testutil.Epoch.Format(time.RFC3339),
		"fields": map[string]any{
			"name":        name,
			"description": "<p>" + name + " spec</p>",
			"status":      "Open",
			"priority":    2,
		},
	}
}

// feature returns the fields map of the only destination record.
func (f *fixture) feature(t *testing.T) map[string]any {
	t.Helper()
	all := f.dst.All("feature")
	require.Len(t, all, 1)
	fields, ok := all[0]["fields"].(map[string]any)
	require.True(t, ok)
	return fields
}

type captureRecorder struct {
	reports []*RunReport
}

func (r *captureRecorder) RecordRun(_ context.Context, report *RunReport) error {
	r.reports = append(r.reports, report)
	return nil
}

// cancelOnCreate cancels the run's context from inside the first Create.
type cancelOnCreate struct {
	*memory.Provider
	cancel context.CancelFunc
}

func (c *cancelOnCreate) Create(ctx context.Context, mapping string, scope ir.Filter, values provider.Record) (string, error) {
	c.cancel()
	return c.Provider.Create(ctx, mapping, scope, values)
}

// repeatingSource returns every record of a page twice, the way an offset
// paginated API does when records shift between page requests. A non-empty
// rename gives the second copy a different name.
type repeatingSource struct {
	*memory.Provider
	rename string
}

func (r *repeatingSource) Query(ctx context.Context, mapping string, filter ir.Filter, cursor string) (provider.Page, error) {
	page, err := r.Provider.Query(ctx, mapping, filter, cursor)
	if err != nil {
		return page, err
	}
	records := make([]provider.Record, 0, 2*len(page.Records))
	for _, rec := range page.Records {
		again := provider.Clone(rec)
		if r.rename != "" {
			again["fields"].(map[string]any)["name"] = r.rename
		}
		records = append(records, rec, again)
	}
	page.Records = records
	return page, nil
}
