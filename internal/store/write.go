package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/itemsync/internal/engine"
)

// RecordRun stores a report and its item results in one transaction. It
// implements engine.Recorder. A run id is recorded once; recording it again
// leaves the first record untouched.
func (s *Store) RecordRun(ctx context.Context, r *engine.RunReport) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record run: begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO runs
		(id, group_name, rule_name, started_at, finished_at, dry_run, aborted, error,
		 created, updated, skipped, conflicted, failed, pending,
		 engine_version, ir_version, rule_hash, config_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		r.RunID,
		r.Group,
		r.Rule,
		formatTime(r.StartedAt),
		formatTime(r.FinishedAt),
		boolInt(r.DryRun),
		boolInt(r.Aborted),
		r.Error,
		r.Created,
		r.Updated,
		r.Skipped,
		r.Conflicted,
		r.Failed,
		r.Pending,
		r.Provenance.EngineVersion,
		r.Provenance.IRVersion,
		r.Provenance.RuleHash,
		r.Provenance.ConfigHash,
	)
	if err != nil {
		return fmt.Errorf("record run: insert run: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("record run: rows affected: %w", err)
	} else if n == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_items
		(run_id, seq, source_id, destination_id, outcome, changed, reason, field_errors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, seq) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("record run: prepare items: %w", err)
	}
	defer stmt.Close()

	for i, it := range r.Items {
		changed, err := marshalChanged(it.Changed)
		if err != nil {
			return fmt.Errorf("record run: %w", err)
		}
		fieldErrors, err := marshalFieldErrors(it.FieldErrors)
		if err != nil {
			return fmt.Errorf("record run: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			r.RunID,
			i,
			it.SourceID,
			it.DestinationID,
			string(it.Outcome),
			changed,
			it.Reason,
			fieldErrors,
		); err != nil {
			return fmt.Errorf("record run: insert item %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record run: commit: %w", err)
	}
	return nil
}

// Prune deletes runs started before cutoff together with their items and
// returns the number of runs removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune runs: rows affected: %w", err)
	}
	return n, nil
}
