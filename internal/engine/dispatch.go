package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/itemsync/internal/ir"
	"github.com/roach88/itemsync/internal/provider"
	"github.com/roach88/itemsync/internal/schema"
	"github.com/roach88/itemsync/internal/syncerr"
)

// dispatch issues the planned writes with bounded concurrency.
//
// Cancellation stops dispatch: writes not yet started are reported Pending.
// A write already in flight runs to completion on a context detached from
// ctx, so no destination item is left half written.
func (r *ruleRun) dispatch(ctx context.Context, writes []*write) {
	if r.e.dryRun {
		for _, w := range writes {
			r.logger.Info("dry run, write skipped",
				"outcome", w.outcome,
				"source_id", w.sourceID,
				"destination_id", w.dstID,
			)
		}
		return
	}

	sem := make(chan struct{}, r.e.concurrency)
	writeCtx := context.WithoutCancel(ctx)
	var wg sync.WaitGroup

	for i, w := range writes {
		acquired := false
		select {
		case sem <- struct{}{}:
			acquired = true
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			if acquired {
				<-sem
			}
			r.markPending(writes[i:])
			break
		}

		wg.Add(1)
		go func(w *write) {
			defer wg.Done()
			defer func() { <-sem }()
			r.execute(ctx, writeCtx, w)
		}(w)
	}
	wg.Wait()
}

func (r *ruleRun) markPending(writes []*write) {
	for _, w := range writes {
		res := &r.report.Items[w.idx]
		res.Outcome = ir.OutcomePending
		res.Reason = "run cancelled before the write was dispatched"
	}
	r.logger.Warn("run cancelled", "pending", len(writes))
}

// execute issues one write and, when the destination cannot write the
// status atomically with the data, a follow-up status update.
func (r *ruleRun) execute(ctx, writeCtx context.Context, w *write) {
	res := &r.report.Items[w.idx]
	dst := r.dst
	atomic := dst.provider.Capabilities().AtomicWrites
	link := schema.Link{URL: provider.ItemURL(r.src.provider, r.src.Mapping, w.sourceID), ID: w.sourceID}

	values := w.values
	if atomic {
		if err := r.tracker.RecordOutcome(values, w.outcome, r.e.clock.Now(), link); err != nil {
			r.fail(res, w, err)
			return
		}
	}

	switch w.outcome {
	case ir.OutcomeCreate:
		var id string
		err := r.call(ctx, "create", func() error {
			var err error
			id, err = dst.provider.Create(writeCtx, dst.Mapping, dst.Filter, values)
			return err
		})
		if err != nil {
			r.fail(res, w, err)
			return
		}
		res.DestinationID = id
	case ir.OutcomeUpdate:
		err := r.call(ctx, "update", func() error {
			return dst.provider.Update(writeCtx, dst.Mapping, w.dstID, values)
		})
		if err != nil {
			r.fail(res, w, err)
			r.recordError(writeCtx, w, link)
			return
		}
	}

	if !atomic && r.tracker.Enabled() {
		status := provider.Record{}
		err := r.tracker.RecordOutcome(status, w.outcome, r.e.clock.Now(), link)
		if err == nil {
			err = r.call(ctx, "update", func() error {
				return dst.provider.Update(writeCtx, dst.Mapping, res.DestinationID, status)
			})
		}
		if err != nil {
			res.Outcome = ir.OutcomeFailed
			res.Reason = fmt.Sprintf("data written, status write failed: %v", err)
			res.FieldErrors = append(res.FieldErrors, newFieldError(r.tracker.Field(), err))
			r.logger.Error("status write failed", "source_id", w.sourceID, "destination_id", res.DestinationID, "error", err)
			return
		}
	}

	r.logger.Info("item written",
		"outcome", w.outcome,
		"source_id", w.sourceID,
		"destination_id", res.DestinationID,
	)
}

func (r *ruleRun) call(ctx context.Context, op string, fn func() error) error {
	return r.e.retry.Do(ctx, fn, retryNotify(r.logger, op, r.dst.Provider))
}

func (r *ruleRun) fail(res *ItemResult, w *write, err error) {
	res.Outcome = ir.OutcomeFailed
	res.Reason = err.Error()
	if se, ok := syncerr.As(err); ok && se.Field != "" {
		res.FieldErrors = append(res.FieldErrors, newFieldError(se.Field, err))
	}
	r.logger.Error("write failed",
		"outcome", w.outcome,
		"source_id", w.sourceID,
		"destination_id", w.dstID,
		"error", err,
	)
}

// recordError marks a destination item whose update failed. It is a single
// best-effort attempt; the previous sync time is kept.
func (r *ruleRun) recordError(ctx context.Context, w *write, link schema.Link) {
	if !r.tracker.Enabled() {
		return
	}
	status := provider.Record{}
	if err := r.tracker.RecordOutcome(status, ir.OutcomeFailed, w.lastSynced, link); err != nil {
		return
	}
	if err := r.dst.provider.Update(ctx, r.dst.Mapping, w.dstID, status); err != nil {
		r.logger.Warn("could not record error status", "destination_id", w.dstID, "error", err)
	}
}
