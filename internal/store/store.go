package store

import (
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// migration upgrades a ledger from version-1 to version. schema.sql always
// creates the version 0 tables; migrations add everything after that.
type migration struct {
	version int
	name    string
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		name:    "index item outcomes",
		stmts: []string{
			`CREATE INDEX IF NOT EXISTS idx_run_items_outcome ON run_items(outcome, run_id)`,
		},
	},
	{
		version: 2,
		name:    "record run provenance",
		stmts: []string{
			`ALTER TABLE runs ADD COLUMN engine_version TEXT NOT NULL DEFAULT ''`,
			`ALTER TABLE runs ADD COLUMN ir_version TEXT NOT NULL DEFAULT ''`,
			`ALTER TABLE runs ADD COLUMN rule_hash TEXT NOT NULL DEFAULT ''`,
			`ALTER TABLE runs ADD COLUMN config_hash TEXT NOT NULL DEFAULT ''`,
		},
	},
}

// ledgerPragmas configure the ledger connection.
var ledgerPragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
}

// Store is the run ledger: one SQLite file holding every recorded run
// report and its item results.
type Store struct {
	db *sql.DB
}

// Open opens the ledger at path, creating it when missing, and upgrades it
// to the current schema. Opening an up-to-date ledger changes nothing.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := prepare(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close releases the ledger. Closing a zero Store is a no-op.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func prepare(db *sql.DB) error {
	for _, p := range ledgerPragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return migrate(db)
}

// migrate applies every migration newer than the ledger's user_version,
// each in its own transaction together with the version bump.
func migrate(db *sql.DB) error {
	var current int
	if err := db.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("read ledger version: %w", err)
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := apply(db, m); err != nil {
			return fmt.Errorf("migrate ledger to v%d (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}

func apply(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range m.stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
		return err
	}
	return tx.Commit()
}
