package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/syssam/porter"
	"github.com/syssam/porter/graph"
	"github.com/syssam/porter/schema/field"
)

// errNoKey is reported for entities that cannot be paginated.
var errNoKey = errors.New("entity has no primary key or no columns")

// sourceError marks errors returned by the source, which fail the entity
// but not the run.
type sourceError struct{ err error }

func (e *sourceError) Error() string { return "read source: " + e.err.Error() }
func (e *sourceError) Unwrap() error { return e.err }

// loadEntity copies all rows of one entity, runs its self-reference second
// pass and repairs its sequence. Only errors that stop the run are returned.
func (r *run) loadEntity(ctx context.Context, name string) error {
	e, _ := r.graph.Entity(name)
	er, _ := r.report.Entity(name)
	if er.Status == StatusSkipped || er.Status == StatusFailed {
		return nil
	}
	log := r.log.With("entity", name, "stage", r.stage+1)
	start := time.Now()
	defer func() { er.Duration = time.Since(start) }()

	var after []any
	if st, ok := r.cp.state(name); ok {
		er.Attempted, er.Migrated, er.Skipped = st.Attempted, st.Migrated, st.Skipped
		er.Resumed = true
		if len(st.LastKey) == 1 {
			er.SourceMaxKey = st.LastKey[0]
		}
		if st.Done {
			er.Status = st.Status
			if st.Status != StatusSkipped {
				r.repairSequence(ctx, e, er, log)
			}
			r.complete(name)
			log.InfoContext(ctx, "entity already loaded", "rows", st.Migrated)
			return nil
		}
		after = lastKey(e, st.LastKey)
		log.InfoContext(ctx, "resuming entity", "after", formatKey(after))
	}
	if len(e.Columns) == 0 || len(e.PrimaryKey) == 0 {
		er.fail(errNoKey)
		log.ErrorContext(ctx, "entity cannot be loaded", "err", errNoKey)
		return nil
	}

	l := r.newLoader(e)
	err := r.stream(ctx, l, er, after, log)
	var serr *sourceError
	switch {
	case err == nil:
	case errors.As(err, &serr) && ctx.Err() == nil:
		if errors.Is(err, ErrMissingTable) && er.Attempted == 0 {
			log.WarnContext(ctx, "source table does not exist, skipping entity", "table", e.TableName())
			er.Status = StatusSkipped
			return r.finishEntity(e, er)
		}
		log.ErrorContext(ctx, "entity failed", "err", err)
		er.fail(err)
	default:
		return err
	}

	if fixups := r.takeSelfFixups(name); len(fixups) > 0 {
		r.applyFixups(ctx, e, er, fixups)
		if err := r.cp.update(func(cp *Checkpoint) { cp.Fixups[name] = r.pendingCopy(name) }); err != nil {
			return err
		}
	}
	er.finish()
	if er.Status != StatusFailed {
		r.repairSequence(ctx, e, er, log)
		r.complete(name)
	}
	log.InfoContext(ctx, "entity loaded", "status", string(er.Status),
		"attempted", er.Attempted, "migrated", er.Migrated, "skipped", er.Skipped, "fixups", er.Fixups)
	return r.finishEntity(e, er)
}

func (r *run) finishEntity(e *graph.Entity, er *EntityReport) error {
	return r.cp.update(func(cp *Checkpoint) {
		st := cp.Entities[e.Name]
		if st == nil {
			st = &EntityState{}
			cp.Entities[e.Name] = st
		}
		// Failed entities continue after their last committed batch.
		st.Done, st.Status = er.Status != StatusFailed, er.Status
		st.Attempted, st.Migrated, st.Skipped = er.Attempted, er.Migrated, er.Skipped
	})
}

// lastKey restores the key types of a checkpointed key, which decodes with
// the widest integer types.
func lastKey(e *graph.Entity, key []any) []any {
	if len(key) == 0 {
		return nil
	}
	out := slices.Clone(key)
	for i, j := range e.KeyIndexes() {
		if i < len(out) && j >= 0 && j < len(e.Columns) {
			out[i] = convert(e.Columns[j].Type, out[i])
		}
	}
	return out
}

// stream reads batches ahead of their application. Batches are applied in
// key order by a single goroutine, and cancellation is checked between
// batches only.
func (r *run) stream(ctx context.Context, l *loader, er *EntityReport, after []any, log *slog.Logger) error {
	batches := make(chan [][]any, 1)
	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		defer close(batches)
		for {
			if err := gctx.Err(); err != nil {
				return err
			}
			rows, err := r.src.Rows(gctx, l.e, after, r.x.batchSize)
			if err != nil {
				return &sourceError{err: err}
			}
			if len(rows) == 0 {
				return nil
			}
			after = keyOf(l.keys, rows[len(rows)-1])
			select {
			case batches <- rows:
			case <-gctx.Done():
				return gctx.Err()
			}
			if len(rows) < r.x.batchSize {
				return nil
			}
		}
	})
	eg.Go(func() error {
		n := 0
		for rows := range batches {
			if err := ctx.Err(); err != nil {
				return err
			}
			n++
			// A started batch completes even if the run is canceled.
			if err := r.loadBatch(context.WithoutCancel(ctx), l, er, rows, n, log); err != nil {
				return err
			}
		}
		return nil
	})
	return eg.Wait()
}

// loadBatch converts the rows, defers the unresolvable references and applies
// the batch.
func (r *run) loadBatch(ctx context.Context, l *loader, er *EntityReport, rows [][]any, n int, log *slog.Logger) error {
	fixups := l.prepare(rows)
	res := r.applyBatch(ctx, l.e, rows)
	er.Attempted += int64(len(rows))
	er.Migrated += int64(res.applied)
	er.Skipped += int64(len(rows) - res.applied)
	for _, err := range res.errs {
		er.batchError(err)
		log.WarnContext(ctx, "batch rejected", "batch", n, "range", err.Range, "err", err.Cause)
	}
	if len(res.rejected) > 0 {
		// Rejected rows do not exist in the destination.
		rejected := res.rejectedKeys(l.keys)
		fixups = slices.DeleteFunc(fixups, func(f *Fixup) bool {
			return rejected[formatKey(f.Key)]
		})
	}
	last := keyOf(l.keys, rows[len(rows)-1])
	if len(last) == 1 {
		er.SourceMaxKey = last[0]
	}
	log.DebugContext(ctx, "batch applied", "batch", n, "rows", res.applied, "deferred", len(fixups))
	if err := r.deferFixups(l.e.Name, fixups); err != nil {
		return err
	}
	return r.cp.update(func(cp *Checkpoint) {
		st := cp.Entities[l.e.Name]
		if st == nil {
			st = &EntityState{Status: StatusPending}
			cp.Entities[l.e.Name] = st
		}
		st.LastKey = last
		st.Attempted, st.Migrated, st.Skipped = er.Attempted, er.Migrated, er.Skipped
	})
}

// takeSelfFixups removes and returns the pending self-reference fixups of
// the entity.
func (r *run) takeSelfFixups(name string) []*Fixup {
	r.mu.Lock()
	defer r.mu.Unlock()
	var self, rest []*Fixup
	for _, f := range r.pending[name] {
		if f.Self {
			self = append(self, f)
		} else {
			rest = append(rest, f)
		}
	}
	if len(rest) == 0 {
		delete(r.pending, name)
	} else {
		r.pending[name] = rest
	}
	return self
}

func (r *run) pendingCopy(name string) []*Fixup {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.pending[name])
}

// applyFixups writes deferred values in chunks of the batch size. Rejected
// chunks are reported on the entity.
func (r *run) applyFixups(ctx context.Context, e *graph.Entity, er *EntityReport, fixups []*Fixup) {
	for chunk := range slices.Chunk(fixups, r.x.batchSize) {
		if err := r.dst.ApplyFixups(ctx, e, chunk); err != nil {
			berr := porter.NewBatchApplyError(e.Name, "fixups "+formatRange(chunk[0].Key, chunk[len(chunk)-1].Key, len(chunk)), err)
			er.batchError(berr)
			r.log.WarnContext(ctx, "second pass rejected", "entity", e.Name, "rows", len(chunk), "err", err)
			continue
		}
		er.Fixups += int64(len(chunk))
	}
	if len(er.Errors) > 0 && er.Status == StatusCompleted {
		er.Status = StatusPartial
	}
}

// repairSequence records the destination row count and the primary-key
// maxima, and resets the destination sequence of entities with a single
// integer key.
func (r *run) repairSequence(ctx context.Context, e *graph.Entity, er *EntityReport, log *slog.Logger) {
	if n, err := r.dst.Count(ctx, e); err != nil {
		log.WarnContext(ctx, "destination rows not counted", "err", err)
	} else {
		er.DestRows, er.counted = n, true
	}
	kc, ok := e.KeyColumn()
	if !ok {
		return
	}
	if er.SourceMaxKey != nil {
		er.SourceMaxKey = convert(kc.Type, er.SourceMaxKey)
	}
	m, err := r.dst.MaxKey(ctx, e)
	if err == nil {
		er.DestMaxKey = convert(kc.Type, m)
	}
	if !kc.Type.Integer() {
		return
	}
	next := int64(1)
	if err == nil && m != nil {
		var n any
		if n, err = field.Convert(field.TypeInt64, m); err == nil {
			next = n.(int64) + 1
		}
	}
	if err == nil {
		err = r.dst.ResetSequence(ctx, e, next)
	}
	if err != nil {
		serr := porter.NewSequenceResetError(e.Name, err)
		er.SequenceError = err.Error()
		er.errs = append(er.errs, serr)
		log.WarnContext(ctx, "sequence reset failed", "err", err)
		return
	}
	log.DebugContext(ctx, "sequence reset", "next", next)
}

// deferredRef is a reference whose values may not be resolvable when the row
// is written: self references, broken edges and intra-stage references.
type deferredRef struct {
	ref      *graph.Reference
	col      int
	nullable bool
}

// loader prepares the rows of one entity.
type loader struct {
	r     *run
	e     *graph.Entity
	keys  []int
	types []field.Type
	refs  []deferredRef
	// intKey reports a single integer key, which allows resolving
	// self-references to rows with smaller keys.
	intKey bool
}

func (r *run) newLoader(e *graph.Entity) *loader {
	l := &loader{r: r, e: e, keys: e.KeyIndexes(), intKey: e.HasIntegerKey()}
	l.types = make([]field.Type, len(e.Columns))
	for i, c := range e.Columns {
		l.types[i] = c.Type
	}
	stage, _ := r.plan.StageOf(e.Name)
	for _, ref := range e.References {
		target, _ := r.plan.StageOf(ref.Target)
		if !ref.Self && !r.plan.IsBroken(ref) && target != stage {
			continue
		}
		col := slices.IndexFunc(e.Columns, func(c *graph.Column) bool { return c.Name == ref.Column })
		if col < 0 {
			continue
		}
		l.refs = append(l.refs, deferredRef{ref: ref, col: col, nullable: e.Columns[col].Nullable})
	}
	return l
}

// prepare converts the row values in place and returns the fixups of the
// deferred values. Unresolvable values of nullable columns are written as
// NULL; required columns keep their value, which needs disabled constraints.
func (l *loader) prepare(rows [][]any) []*Fixup {
	var fixups []*Fixup
	for _, row := range rows {
		for i, v := range row {
			if i < len(l.types) {
				row[i] = convert(l.types[i], v)
			}
		}
		for _, d := range l.refs {
			v := row[d.col]
			if v == nil || !d.nullable || l.resolvable(d, v, row) {
				continue
			}
			fixups = append(fixups, &Fixup{
				Key:    keyOf(l.keys, row),
				Column: d.ref.Column,
				Value:  v,
				Self:   d.ref.Self,
			})
			row[d.col] = nil
		}
	}
	return fixups
}

// resolvable reports if the referenced row of v is already loaded.
func (l *loader) resolvable(d deferredRef, v any, row []any) bool {
	if !d.ref.Self {
		return l.r.completed(d.ref.Target)
	}
	key := keyOf(l.keys, row)
	if l.intKey && (d.ref.TargetColumn == "" || d.ref.TargetColumn == l.e.PrimaryKey[0]) {
		tv, err1 := field.Convert(field.TypeInt64, v)
		kv, err2 := field.Convert(field.TypeInt64, key[0])
		// Rows are loaded in key order.
		return err1 == nil && err2 == nil && tv.(int64) <= kv.(int64)
	}
	return len(key) == 1 && fmt.Sprint(key[0]) == fmt.Sprint(v)
}

// convert normalizes a source value to its semantic type. Values that cannot
// be converted are passed through for the destination to judge.
func convert(t field.Type, v any) any {
	if !t.Valid() {
		return v
	}
	c, err := field.Convert(t, v)
	if err != nil {
		return v
	}
	return c
}
