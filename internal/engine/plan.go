package engine

import (
	"fmt"
	"time"

	"github.com/roach88/itemsync/internal/fieldpath"
	"github.com/roach88/itemsync/internal/ir"
	"github.com/roach88/itemsync/internal/provider"
	"github.com/roach88/itemsync/internal/schema"
	"github.com/roach88/itemsync/internal/syncerr"
)

// write is one planned provider write. idx points at its report entry.
type write struct {
	idx        int
	outcome    ir.Outcome
	sourceID   string
	dstID      string
	values     provider.Record
	lastSynced time.Time
}

// plan correlates, renders and decides every source item, appending one
// report entry per distinct source id. It returns the writes to dispatch in
// source order.
//
// Fields that could not be decoded are reported and left out: an
// unreadable source field is not rendered, and an unreadable destination
// field is not compared. The item fails only when the source has no
// identifier, a required field is missing on create, or the destination's
// sync status or modification time cannot be read.
func (r *ruleRun) plan(sources, destinations []*decoded) []*write {
	byItem := make(map[*ir.Item]*decoded, len(sources)+len(destinations))
	srcItems := make([]*ir.Item, 0, len(sources))
	for _, d := range sources {
		if d.item.Provenance.NativeID == "" {
			r.report.Items = append(r.report.Items, ItemResult{
				Outcome:     ir.OutcomeFailed,
				Reason:      "source record has no identifier",
				FieldErrors: d.errs,
			})
			continue
		}
		byItem[&d.item] = d
		srcItems = append(srcItems, &d.item)
	}
	dstItems := make([]*ir.Item, 0, len(destinations))
	for _, d := range destinations {
		byItem[&d.item] = d
		dstItems = append(dstItems, &d.item)
	}

	td := r.dst.td
	var writes []*write
	for _, p := range Correlate(srcItems, dstItems, td.Policy.IdentityField) {
		src := byItem[p.Source]
		res := ItemResult{SourceID: p.Source.Provenance.NativeID}

		var dst *decoded
		if p.Destination != nil {
			dst = byItem[p.Destination]
			res.DestinationID = p.Destination.Provenance.NativeID
		}
		res.FieldErrors = decodeErrors(src, dst)
		if reason := r.untrackable(dst); reason != "" {
			res.Outcome = ir.OutcomeFailed
			res.Reason = reason
			r.report.Items = append(r.report.Items, res)
			continue
		}

		create := p.Destination == nil && len(p.Ambiguous) == 0
		rendered, ferrs := r.render(src, create)
		res.FieldErrors = append(res.FieldErrors, ferrs...)

		status := r.tracker.Status(p.Destination)
		d := Decide(p, td, comparedValues(rendered, dst), status, r.e.tolerance)
		res.Outcome, res.Changed, res.Reason = d.Outcome, d.Changed, d.Reason

		switch d.Outcome {
		case ir.OutcomeCreate:
			if missing := r.missingRequired(rendered); missing != "" {
				res.Outcome = ir.OutcomeFailed
				res.Reason = fmt.Sprintf("required field %q has no value", missing)
				break
			}
			values, verrs := r.nativeValues(r.createFields(rendered), rendered)
			res.FieldErrors = append(res.FieldErrors, verrs...)
			writes = append(writes, &write{
				idx:      len(r.report.Items),
				outcome:  ir.OutcomeCreate,
				sourceID: res.SourceID,
				values:   values,
			})
		case ir.OutcomeUpdate:
			values, verrs := r.nativeValues(r.updateFields(rendered, d.Changed), rendered)
			res.FieldErrors = append(res.FieldErrors, verrs...)
			writes = append(writes, &write{
				idx:        len(r.report.Items),
				outcome:    ir.OutcomeUpdate,
				sourceID:   res.SourceID,
				dstID:      res.DestinationID,
				values:     values,
				lastSynced: status.SyncedAt,
			})
		case ir.OutcomeConflict:
			cerr := syncerr.Conflict(res.SourceID, "%s", d.Reason)
			r.logger.Warn("conflict", "source_id", res.SourceID, "destination_id", res.DestinationID, "error", cerr)
		}

		r.logger.Debug("item decided",
			"source_id", res.SourceID,
			"destination_id", res.DestinationID,
			"outcome", res.Outcome,
			"changed", res.Changed,
		)
		r.report.Items = append(r.report.Items, res)
	}
	return writes
}

func decodeErrors(src, dst *decoded) []FieldError {
	var errs []FieldError
	errs = append(errs, src.errs...)
	if dst != nil {
		errs = append(errs, dst.errs...)
	}
	return errs
}

// untrackable returns why conflict detection cannot run against dst, or ""
// when it can.
func (r *ruleRun) untrackable(dst *decoded) string {
	switch {
	case dst == nil:
		return ""
	case dst.badModified:
		return "destination modification time could not be decoded"
	case r.tracker.Enabled() && dst.unreadable[r.tracker.Field()]:
		return "destination sync status could not be decoded"
	}
	return ""
}

// comparedValues drops the rendered values whose destination counterpart
// could not be decoded.
func comparedValues(rendered map[string]any, dst *decoded) map[string]any {
	if dst == nil || len(dst.unreadable) == 0 {
		return rendered
	}
	out := make(map[string]any, len(rendered))
	for name, v := range rendered {
		if !dst.unreadable[name] {
			out[name] = v
		}
	}
	return out
}

// render computes the destination-bound value of every comparable or
// syncable field. Fields that cannot be resolved are left out and reported;
// fields the source could not decode are left out silently, their error is
// already on src. The identity field takes the source's native id; on
// create, absent values fall back to field defaults.
func (r *ruleRun) render(d *decoded, create bool) (map[string]any, []FieldError) {
	src := &d.item
	td := r.dst.td
	policy := td.Policy
	out := make(map[string]any, len(td.Fields))
	var errs []FieldError

	for i := range td.Fields {
		def := &td.Fields[i]
		name := def.Name
		if name == policy.StatusField || !(policy.IsComparable(name) || policy.IsSyncable(name)) {
			continue
		}
		if !r.dst.mapping.Has(name) {
			errs = append(errs, newFieldError(name, syncerr.Mapping(r.dst.Provider, r.dst.Mapping, name)))
			continue
		}
		if name == policy.IdentityField {
			out[name] = src.Provenance.NativeID
			continue
		}
		if !r.src.mapping.Has(name) {
			errs = append(errs, newFieldError(name, syncerr.Mapping(r.src.Provider, r.src.Mapping, name)))
			continue
		}
		if d.unreadable[name] {
			continue
		}

		raw, _ := src.Get(name)
		if raw == nil && create {
			if dv, ok := schema.Default(def, r.e.clock.Now()); ok {
				raw = dv
			}
		}
		v, err := r.transforms.ApplyField(name, raw)
		if err != nil {
			errs = append(errs, newFieldError(name, err))
			continue
		}
		v, err = schema.Coerce(def, v)
		if err != nil {
			errs = append(errs, newFieldError(name, syncerr.Transform(name, err)))
			continue
		}
		out[name] = v
	}
	return out, errs
}

func (r *ruleRun) missingRequired(rendered map[string]any) string {
	for _, f := range r.dst.td.Fields {
		if !f.Required || !r.dst.td.Policy.IsSyncable(f.Name) || f.Name == r.dst.td.Policy.StatusField {
			continue
		}
		if rendered[f.Name] == nil {
			return f.Name
		}
	}
	return ""
}

// createFields lists every syncable field with a rendered value.
func (r *ruleRun) createFields(rendered map[string]any) []string {
	var fields []string
	for _, f := range r.dst.td.Fields {
		if _, ok := rendered[f.Name]; ok && r.dst.td.Policy.IsSyncable(f.Name) {
			fields = append(fields, f.Name)
		}
	}
	return fields
}

// updateFields lists the syncable fields that changed, plus the syncable
// fields that are never compared and so are always overwritten.
func (r *ruleRun) updateFields(rendered map[string]any, changed []string) []string {
	policy := r.dst.td.Policy
	var fields []string
	for _, f := range r.dst.td.Fields {
		if _, ok := rendered[f.Name]; !ok || !policy.IsSyncable(f.Name) {
			continue
		}
		if !policy.IsComparable(f.Name) || contains(changed, f.Name) {
			fields = append(fields, f.Name)
		}
	}
	return fields
}

// nativeValues builds the destination record for fields.
func (r *ruleRun) nativeValues(fields []string, rendered map[string]any) (provider.Record, []FieldError) {
	values := provider.Record{}
	var errs []FieldError
	for _, name := range fields {
		def, _ := r.dst.td.Field(name)
		path, err := r.dst.mapping.ToNative(name)
		if err == nil {
			err = fieldpath.Set(values, path, schema.Encode(def, rendered[name]))
		}
		if err != nil {
			errs = append(errs, newFieldError(name, err))
		}
	}
	return values, errs
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
