package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/itemsync/internal/engine"
	"github.com/roach88/itemsync/internal/ir"
)

// ErrRunNotFound is returned by GetRun for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// RunFilter narrows ListRuns. Zero values match everything.
type RunFilter struct {
	Group string
	Rule  string
	Limit int // 0 means no limit
}

// ItemHistoryEntry is one recorded outcome for a source item.
type ItemHistoryEntry struct {
	RunID     string            `json:"run_id"`
	Group     string            `json:"group"`
	Rule      string            `json:"rule"`
	StartedAt time.Time         `json:"started_at"`
	DryRun    bool              `json:"dry_run"`
	Result    engine.ItemResult `json:"result"`
}

const runColumns = `id, group_name, rule_name, started_at, finished_at, dry_run, aborted, error,
	created, updated, skipped, conflicted, failed, pending,
	engine_version, ir_version, rule_hash, config_hash`

// ListRuns returns run summaries, newest first. Items are not loaded.
//
// Returns an empty slice (not nil) if no runs match.
func (s *Store) ListRuns(ctx context.Context, f RunFilter) ([]*engine.RunReport, error) {
	var where []string
	var args []any
	if f.Group != "" {
		where = append(where, "group_name = ?")
		args = append(args, f.Group)
	}
	if f.Rule != "" {
		where = append(where, "rule_name = ?")
		args = append(args, f.Rule)
	}

	query := "SELECT " + runColumns + " FROM runs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []*engine.RunReport{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// GetRun returns one run with its item results in report order.
func (s *Store) GetRun(ctx context.Context, id string) (*engine.RunReport, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, destination_id, outcome, changed, reason, field_errors
		FROM run_items
		WHERE run_id = ?
		ORDER BY seq ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query run items: %w", err)
	}
	defer rows.Close()

	r.Items = []engine.ItemResult{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		r.Items = append(r.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run items: %w", err)
	}
	return r, nil
}

// ItemHistory returns every recorded outcome for a source item, newest
// run first.
//
// Returns an empty slice (not nil) if the item was never recorded.
func (s *Store) ItemHistory(ctx context.Context, sourceID string) ([]ItemHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.group_name, r.rule_name, r.started_at, r.dry_run,
		       i.source_id, i.destination_id, i.outcome, i.changed, i.reason, i.field_errors
		FROM run_items i
		JOIN runs r ON i.run_id = r.id
		WHERE i.source_id = ?
		ORDER BY r.started_at DESC, r.id DESC, i.seq ASC
	`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("query item history: %w", err)
	}
	defer rows.Close()

	entries := []ItemHistoryEntry{}
	for rows.Next() {
		var (
			e                    ItemHistoryEntry
			startedAt            string
			dryRun               int
			outcome, changed, fe string
		)
		if err := rows.Scan(&e.RunID, &e.Group, &e.Rule, &startedAt, &dryRun,
			&e.Result.SourceID, &e.Result.DestinationID, &outcome, &changed, &e.Result.Reason, &fe); err != nil {
			return nil, fmt.Errorf("scan item history: %w", err)
		}
		if e.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		e.DryRun = dryRun != 0
		e.Result.Outcome = ir.Outcome(outcome)
		if e.Result.Changed, err = unmarshalChanged(changed); err != nil {
			return nil, err
		}
		if e.Result.FieldErrors, err = unmarshalFieldErrors(fe); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate item history: %w", err)
	}
	return entries, nil
}

// scanner is implemented by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*engine.RunReport, error) {
	var (
		r                 engine.RunReport
		started, finished string
		dryRun, aborted   int
	)
	err := row.Scan(&r.RunID, &r.Group, &r.Rule, &started, &finished, &dryRun, &aborted, &r.Error,
		&r.Created, &r.Updated, &r.Skipped, &r.Conflicted, &r.Failed, &r.Pending,
		&r.Provenance.EngineVersion, &r.Provenance.IRVersion, &r.Provenance.RuleHash, &r.Provenance.ConfigHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	if r.StartedAt, err = parseTime(started); err != nil {
		return nil, err
	}
	if r.FinishedAt, err = parseTime(finished); err != nil {
		return nil, err
	}
	r.DryRun = dryRun != 0
	r.Aborted = aborted != 0
	return &r, nil
}

func scanItem(row scanner) (engine.ItemResult, error) {
	var (
		it                   engine.ItemResult
		outcome, changed, fe string
	)
	if err := row.Scan(&it.SourceID, &it.DestinationID, &outcome, &changed, &it.Reason, &fe); err != nil {
		return engine.ItemResult{}, fmt.Errorf("scan run item: %w", err)
	}
	it.Outcome = ir.Outcome(outcome)
	var err error
	if it.Changed, err = unmarshalChanged(changed); err != nil {
		return engine.ItemResult{}, err
	}
	if it.FieldErrors, err = unmarshalFieldErrors(fe); err != nil {
		return engine.ItemResult{}, err
	}
	return it, nil
}
