// Package memory implements an in-process provider backed by maps.
//
// Each configured mapping is a collection of records keyed by native id.
// Filters are native paths matched by equality or list membership. Writes
// are atomic and stamp the mapping's modified path with the provider clock,
// which makes the provider suitable for scenarios that exercise conflict
// detection.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/roach88/itemsync/internal/fieldpath"
	"github.com/roach88/itemsync/internal/ir"
	"github.com/roach88/itemsync/internal/provider"
	"github.com/roach88/itemsync/internal/queryir"
	"github.com/roach88/itemsync/internal/syncerr"
)

const defaultPageSize = 100

// Op names a provider call for fault injection and call counting.
type Op string

const (
	OpQuery  Op = "query"
	OpCreate Op = "create"
	OpUpdate Op = "update"
)

// Stats counts calls per operation, including failed ones.
type Stats struct {
	Queries int
	Creates int
	Updates int
}

type collection struct {
	id       fieldpath.Path
	modified fieldpath.Path
	records  map[string]provider.Record
}

type fault struct {
	remaining int
	err       error
}

// Provider is the in-memory provider. It is safe for concurrent use.
type Provider struct {
	name     string
	pageSize int
	prefix   string
	atomic   bool
	now      func() time.Time

	mu          sync.Mutex
	collections map[string]*collection
	seq         int
	stats       Stats
	faults      map[Op]*fault
}

// Option configures a Provider.
type Option func(*Provider)

// WithPageSize sets the number of records per query page.
func WithPageSize(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.pageSize = n
		}
	}
}

// WithClock sets the clock used to stamp modification times.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		p.now = now
	}
}

// WithIDPrefix sets the prefix of generated ids.
func WithIDPrefix(prefix string) Option {
	return func(p *Provider) {
		p.prefix = prefix
	}
}

// WithAtomicWrites overrides the reported write atomicity.
func WithAtomicWrites(atomic bool) Option {
	return func(p *Provider) {
		p.atomic = atomic
	}
}

// New creates a memory provider with one collection per mapping.
func New(cfg ir.ProviderConfig, opts ...Option) (*Provider, error) {
	p := &Provider{
		name:        cfg.Name,
		pageSize:    defaultPageSize,
		atomic:      true,
		now:         time.Now,
		collections: make(map[string]*collection, len(cfg.Mappings)),
		faults:      make(map[Op]*fault),
	}

	if v, ok := cfg.Options["pageSize"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, syncerr.Configuration("E110", "provider %q: pageSize %q is not a positive integer", cfg.Name, v)
		}
		p.pageSize = n
	}
	if v, ok := cfg.Options["idPrefix"]; ok {
		p.prefix = v
	}
	if v, ok := cfg.Options["atomicWrites"]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, syncerr.Configuration("E110", "provider %q: atomicWrites %q is not a boolean", cfg.Name, v)
		}
		p.atomic = b
	}
	for _, opt := range opts {
		opt(p)
	}

	for _, name := range ir.SortedKeys(cfg.Mappings) {
		tm := cfg.Mappings[name]
		c := &collection{records: make(map[string]provider.Record)}
		var err error
		if c.id, err = fieldpath.Parse(tm.ID); err != nil {
			return nil, syncerr.Configuration("E302", "provider %q mapping %q: id path: %v", cfg.Name, name, err)
		}
		if tm.Modified != "" {
			if c.modified, err = fieldpath.Parse(tm.Modified); err != nil {
				return nil, syncerr.Configuration("E302", "provider %q mapping %q: modified path: %v", cfg.Name, name, err)
			}
		}
		p.collections[name] = c
	}
	return p, nil
}

// Name returns the provider instance name.
func (p *Provider) Name() string {
	return p.name
}

// ValidateFilter accepts any key that parses as a native path.
func (p *Provider) ValidateFilter(mapping string, _ provider.Role, filter ir.Filter) error {
	if _, ok := p.collections[mapping]; !ok {
		return syncerr.Configuration("E301", "provider %q has no mapping %q", p.name, mapping)
	}
	sel, err := queryir.FromFilter(mapping, filter)
	if err != nil {
		return err
	}
	if res := queryir.Validate(sel, nil); !res.Valid {
		return syncerr.Configuration("E121", "provider %q mapping %q: %v", p.name, mapping, res.Errors)
	}
	return nil
}

// Query returns records matching filter in id order.
func (p *Provider) Query(ctx context.Context, mapping string, filter ir.Filter, cursor string) (provider.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.Queries++

	if err := p.takeFault(OpQuery); err != nil {
		return provider.Page{}, err
	}
	if err := ctx.Err(); err != nil {
		return provider.Page{}, syncerr.Provider(p.name, string(OpQuery), false, err)
	}
	c, err := p.collection(mapping, OpQuery)
	if err != nil {
		return provider.Page{}, err
	}
	sel, err := queryir.FromFilter(mapping, filter)
	if err != nil {
		return provider.Page{}, err
	}

	var page provider.Page
	for _, id := range sortedIDs(c.records) {
		if cursor != "" && !idLess(cursor, id) {
			continue
		}
		rec := c.records[id]
		if !queryir.Match(sel.Filter, rec) {
			continue
		}
		if len(page.Records) == p.pageSize {
			page.Next = idOf(page.Records[len(page.Records)-1], c.id)
			break
		}
		page.Records = append(page.Records, provider.Clone(rec))
	}
	return page, nil
}

// Create stores a new record inside scope and returns its generated id.
func (p *Provider) Create(ctx context.Context, mapping string, scope ir.Filter, values provider.Record) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.Creates++

	if err := p.takeFault(OpCreate); err != nil {
		return "", err
	}
	c, err := p.collection(mapping, OpCreate)
	if err != nil {
		return "", err
	}

	p.seq++
	id := p.prefix + strconv.Itoa(p.seq)
	rec := provider.Record{}
	for _, a := range provider.ScopeValues(scope) {
		if err := fieldpath.Set(rec, a.Path, a.Value); err != nil {
			return "", syncerr.Provider(p.name, string(OpCreate), false, err)
		}
	}
	if err := provider.Merge(rec, provider.Clone(values)); err != nil {
		return "", syncerr.Provider(p.name, string(OpCreate), false, err)
	}
	if err := fieldpath.Set(rec, c.id, id); err != nil {
		return "", syncerr.Provider(p.name, string(OpCreate), false, err)
	}
	p.stamp(c, rec)
	c.records[id] = rec
	return id, nil
}

// Update merges values into an existing record.
func (p *Provider) Update(ctx context.Context, mapping, id string, values provider.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.Updates++

	if err := p.takeFault(OpUpdate); err != nil {
		return err
	}
	c, err := p.collection(mapping, OpUpdate)
	if err != nil {
		return err
	}
	rec, ok := c.records[id]
	if !ok {
		return &syncerr.Error{
			Kind:     syncerr.KindProvider,
			Op:       string(OpUpdate),
			Code:     "NOT_FOUND",
			Provider: p.name,
			Item:     id,
			Message:  fmt.Sprintf("no record %s in mapping %q", id, mapping),
		}
	}
	next := provider.Clone(rec)
	if err := provider.Merge(next, provider.Clone(values)); err != nil {
		return syncerr.Provider(p.name, string(OpUpdate), false, err)
	}
	p.stamp(c, next)
	c.records[id] = next
	return nil
}

// ReadNative reads a path from a record.
func (p *Provider) ReadNative(record provider.Record, path fieldpath.Path) (any, bool) {
	return fieldpath.Get(record, path)
}

// Capabilities reports atomic writes unless disabled.
func (p *Provider) Capabilities() provider.Capabilities {
	return provider.Capabilities{AtomicWrites: p.atomic}
}

// ItemURL returns a memory:// link.
func (p *Provider) ItemURL(mapping, id string) string {
	return fmt.Sprintf("memory://%s/%s/%s", p.name, mapping, id)
}

// Seed stores records as-is. Each record must carry its id at the mapping's
// id path. Seeding does not count as a call and does not stamp times.
func (p *Provider) Seed(mapping string, records ...provider.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.collections[mapping]
	if !ok {
		return fmt.Errorf("memory provider %q has no mapping %q", p.name, mapping)
	}
	for i, rec := range records {
		id := idOf(rec, c.id)
		if id == "" {
			return fmt.Errorf("seed %s[%d]: record has no id at %s", mapping, i, c.id)
		}
		c.records[id] = provider.Clone(rec)
	}
	return nil
}

// Touch merges values into a record the way an external edit would,
// stamping the modified path. It does not count as a call.
func (p *Provider) Touch(mapping, id string, values provider.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.collections[mapping]
	if !ok {
		return fmt.Errorf("memory provider %q has no mapping %q", p.name, mapping)
	}
	rec, ok := c.records[id]
	if !ok {
		return fmt.Errorf("memory provider %q mapping %q has no record %s", p.name, mapping, id)
	}
	if err := provider.Merge(rec, provider.Clone(values)); err != nil {
		return err
	}
	p.stamp(c, rec)
	return nil
}

// Get returns a copy of one record.
func (p *Provider) Get(mapping, id string) (provider.Record, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.collections[mapping]
	if !ok {
		return nil, false
	}
	rec, ok := c.records[id]
	return provider.Clone(rec), ok
}

// All returns copies of every record of mapping in id order.
func (p *Provider) All(mapping string) []provider.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.collections[mapping]
	if !ok {
		return []provider.Record{}
	}
	out := make([]provider.Record, 0, len(c.records))
	for _, id := range sortedIDs(c.records) {
		out = append(out, provider.Clone(c.records[id]))
	}
	return out
}

// Stats returns the call counters.
func (p *Provider) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// FailNext makes the next n calls of op fail with err. A plain error is
// wrapped as a provider error with the given transience.
func (p *Provider) FailNext(op Op, n int, transient bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := syncerr.As(err); !ok {
		err = syncerr.Provider(p.name, string(op), transient, err)
	}
	p.faults[op] = &fault{remaining: n, err: err}
}

func (p *Provider) takeFault(op Op) error {
	f, ok := p.faults[op]
	if !ok || f.remaining == 0 {
		return nil
	}
	f.remaining--
	return f.err
}

func (p *Provider) collection(mapping string, op Op) (*collection, error) {
	c, ok := p.collections[mapping]
	if !ok {
		return nil, syncerr.Provider(p.name, string(op), false, fmt.Errorf("unknown mapping %q", mapping))
	}
	return c, nil
}

func (p *Provider) stamp(c *collection, rec provider.Record) {
	if c.modified.IsZero() {
		return
	}
	_ = fieldpath.Set(rec, c.modified, p.now().UTC().Format(time.RFC3339Nano))
}

func idOf(rec provider.Record, path fieldpath.Path) string {
	v, ok := fieldpath.Get(rec, path)
	if !ok || v == nil {
		return ""
	}
	return ir.String(v)
}

// idLess orders ids so generated numeric ids sort numerically.
func idLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

func sortedIDs(records map[string]provider.Record) []string {
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return idLess(ids[i], ids[j]) })
	return ids
}
