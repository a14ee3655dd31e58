// Package sqlite implements a provider over a local SQLite database.
//
// Each mapping is a table of JSON documents:
//
//	CREATE TABLE <mapping> (id TEXT PRIMARY KEY, data TEXT NOT NULL)
//
// Filters compile through queryir and querysql into json_extract
// predicates. Generated ids are UUIDv7 strings, so id order is creation
// order. Writes run in a transaction and are atomic.
package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/roach88/itemsync/internal/fieldpath"
	"github.com/roach88/itemsync/internal/ir"
	"github.com/roach88/itemsync/internal/provider"
	"github.com/roach88/itemsync/internal/queryir"
	"github.com/roach88/itemsync/internal/querysql"
	"github.com/roach88/itemsync/internal/syncerr"
)

const defaultPageSize = 100

type table struct {
	id       fieldpath.Path
	modified fieldpath.Path
}

// Provider stores records in SQLite.
type Provider struct {
	name     string
	db       *sql.DB
	pageSize int
	now      func() time.Time
	tables   map[string]table
	compiler *querysql.SQLCompiler
}

// Option configures a Provider.
type Option func(*Provider)

// WithClock sets the clock used to stamp modification times.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		p.now = now
	}
}

// Open opens the database named by the "path" option and creates one table
// per mapping.
func Open(ctx context.Context, cfg ir.ProviderConfig, opts ...Option) (*Provider, error) {
	path := cfg.Options["path"]
	if path == "" {
		return nil, syncerr.Configuration("E110", "provider %q: option path is required", cfg.Name)
	}

	p := &Provider{
		name:     cfg.Name,
		pageSize: defaultPageSize,
		now:      time.Now,
		tables:   make(map[string]table, len(cfg.Mappings)),
		compiler: querysql.NewSQLCompiler(),
	}
	if v, ok := cfg.Options["pageSize"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, syncerr.Configuration("E110", "provider %q: pageSize %q is not a positive integer", cfg.Name, v)
		}
		p.pageSize = n
	}
	for _, opt := range opts {
		opt(p)
	}

	for _, name := range ir.SortedKeys(cfg.Mappings) {
		tm := cfg.Mappings[name]
		if _, _, err := p.compiler.Compile(queryir.Select{From: name}); err != nil {
			return nil, syncerr.Configuration("E110", "provider %q: mapping %q cannot be a table name", cfg.Name, name)
		}
		var t table
		var err error
		if t.id, err = fieldpath.Parse(tm.ID); err != nil {
			return nil, syncerr.Configuration("E302", "provider %q mapping %q: id path: %v", cfg.Name, name, err)
		}
		if tm.Modified != "" {
			if t.modified, err = fieldpath.Parse(tm.Modified); err != nil {
				return nil, syncerr.Configuration("E302", "provider %q mapping %q: modified path: %v", cfg.Name, name, err)
			}
		}
		p.tables[name] = t
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	p.db = db

	stmts := []string{"PRAGMA busy_timeout = 5000"}
	for _, name := range ir.SortedKeys(p.tables) {
		stmts = append(stmts, fmt.Sprintf(
			"CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, data TEXT NOT NULL)", name))
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("provider %q: %s: %w", cfg.Name, stmt, err)
		}
	}
	return p, nil
}

// Close closes the database.
func (p *Provider) Close() error {
	return p.db.Close()
}

// ValidateFilter accepts any key that parses as a native path.
func (p *Provider) ValidateFilter(mapping string, _ provider.Role, filter ir.Filter) error {
	if _, ok := p.tables[mapping]; !ok {
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

// Query returns one page of matching documents in id order.
func (p *Provider) Query(ctx context.Context, mapping string, filter ir.Filter, cursor string) (provider.Page, error) {
	if _, ok := p.tables[mapping]; !ok {
		return provider.Page{}, p.fail("query", fmt.Errorf("unknown mapping %q", mapping))
	}
	sel, err := queryir.FromFilter(mapping, filter)
	if err != nil {
		return provider.Page{}, err
	}
	sel.After = cursor
	sel.Limit = p.pageSize + 1

	query, args, err := p.compiler.Compile(sel)
	if err != nil {
		return provider.Page{}, p.fail("query", err)
	}
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return provider.Page{}, p.fail("query", err)
	}
	defer rows.Close()

	var page provider.Page
	var ids []string
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return provider.Page{}, p.fail("query", err)
		}
		rec, err := decode(data)
		if err != nil {
			return provider.Page{}, p.fail("query", fmt.Errorf("record %s: %w", id, err))
		}
		ids = append(ids, id)
		page.Records = append(page.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return provider.Page{}, p.fail("query", err)
	}

	if len(page.Records) > p.pageSize {
		page.Records = page.Records[:p.pageSize]
		page.Next = ids[p.pageSize-1]
	}
	return page, nil
}

// Create inserts a new document inside scope.
func (p *Provider) Create(ctx context.Context, mapping string, scope ir.Filter, values provider.Record) (string, error) {
	t, ok := p.tables[mapping]
	if !ok {
		return "", p.fail("create", fmt.Errorf("unknown mapping %q", mapping))
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", p.fail("create", err)
	}
	rec := provider.Record{}
	for _, a := range provider.ScopeValues(scope) {
		if err := fieldpath.Set(rec, a.Path, a.Value); err != nil {
			return "", p.fail("create", err)
		}
	}
	if err := provider.Merge(rec, values); err != nil {
		return "", p.fail("create", err)
	}
	if err := fieldpath.Set(rec, t.id, id.String()); err != nil {
		return "", p.fail("create", err)
	}
	p.stamp(t, rec)

	data, err := json.Marshal(rec)
	if err != nil {
		return "", p.fail("create", err)
	}
	if _, err := p.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (id, data) VALUES (?, ?)", mapping), id.String(), string(data)); err != nil {
		return "", p.fail("create", err)
	}
	return id.String(), nil
}

// Update merges values into an existing document in one transaction.
func (p *Provider) Update(ctx context.Context, mapping, id string, values provider.Record) error {
	t, ok := p.tables[mapping]
	if !ok {
		return p.fail("update", fmt.Errorf("unknown mapping %q", mapping))
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return p.fail("update", err)
	}
	defer tx.Rollback()

	var data string
	err = tx.QueryRowContext(ctx, fmt.Sprintf("SELECT data FROM %s WHERE id = ?", mapping), id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return &syncerr.Error{
			Kind:     syncerr.KindProvider,
			Op:       "update",
			Code:     "NOT_FOUND",
			Provider: p.name,
			Item:     id,
			Message:  fmt.Sprintf("no record %s in mapping %q", id, mapping),
		}
	}
	if err != nil {
		return p.fail("update", err)
	}

	rec, err := decode(data)
	if err != nil {
		return p.fail("update", err)
	}
	if err := provider.Merge(rec, values); err != nil {
		return p.fail("update", err)
	}
	p.stamp(t, rec)

	out, err := json.Marshal(rec)
	if err != nil {
		return p.fail("update", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("UPDATE %s SET data = ? WHERE id = ?", mapping), string(out), id); err != nil {
		return p.fail("update", err)
	}
	if err := tx.Commit(); err != nil {
		return p.fail("update", err)
	}
	return nil
}

// ReadNative reads a path from a document.
func (p *Provider) ReadNative(record provider.Record, path fieldpath.Path) (any, bool) {
	return fieldpath.Get(record, path)
}

// Capabilities reports atomic writes.
func (p *Provider) Capabilities() provider.Capabilities {
	return provider.Capabilities{AtomicWrites: true}
}

// Insert stores a document with an explicit id, replacing any existing one.
// It is used to load fixtures.
func (p *Provider) Insert(ctx context.Context, mapping string, rec provider.Record) error {
	t, ok := p.tables[mapping]
	if !ok {
		return fmt.Errorf("provider %q has no mapping %q", p.name, mapping)
	}
	v, ok := fieldpath.Get(rec, t.id)
	if !ok {
		return fmt.Errorf("record has no id at %s", t.id)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		fmt.Sprintf("INSERT OR REPLACE INTO %s (id, data) VALUES (?, ?)", mapping), ir.String(v), string(data))
	return err
}

func (p *Provider) stamp(t table, rec provider.Record) {
	if t.modified.IsZero() {
		return
	}
	_ = fieldpath.Set(rec, t.modified, p.now().UTC().Format(time.RFC3339Nano))
}

// fail wraps a database error. Busy and locked databases are transient.
func (p *Provider) fail(op string, err error) error {
	var sqliteErr sqlite3.Error
	transient := errors.As(err, &sqliteErr) &&
		(sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked)
	return syncerr.Provider(p.name, op, transient, err)
}

func decode(data string) (provider.Record, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()
	var rec provider.Record
	if err := dec.Decode(&rec); err != nil {
		return nil, err
	}
	return rec, nil
}
