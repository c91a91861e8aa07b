package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/syssam/porter"
	"github.com/syssam/porter/graph"
	"github.com/syssam/porter/plan"
)

// Executor runs migration plans. An Executor holds configuration only and
// may run several plans, one run per destination at a time.
type Executor struct {
	batchSize  int
	workers    int
	retry      RetryPolicy
	toggle     bool
	checkpoint string
	resume     bool
	logger     *slog.Logger
}

// New returns an executor configured with the given options.
func New(opts ...Option) (*Executor, error) {
	x := &Executor{
		batchSize: DefaultBatchSize,
		workers:   defaultWorkers(),
		retry:     RetryHalve,
		toggle:    true,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(x); err != nil {
			return nil, err
		}
	}
	if x.resume && x.checkpoint == "" {
		return nil, porter.NewConfigError("Resume", true, "resuming requires a checkpoint file")
	}
	return x, nil
}

// Execute runs the plan with a new executor configured with opts.
func Execute(ctx context.Context, p *plan.Plan, g *graph.Graph, src Source, dst Destination, opts ...Option) (*Report, error) {
	x, err := New(opts...)
	if err != nil {
		return nil, err
	}
	return x.Execute(ctx, p, g, src, dst)
}

// Execute copies the rows of every planned entity from src to dst.
//
// Batch and sequence errors are entity scoped: they are recorded in the
// report and the run continues. Execute returns an error only when the run
// cannot proceed (invalid plan, constraint toggling failure, checkpoint
// failure or cancellation) or when the destination constraints could not be
// restored. The report is returned in all cases once the run has started.
func (x *Executor) Execute(ctx context.Context, p *plan.Plan, g *graph.Graph, src Source, dst Destination) (rep *Report, rerr error) {
	if err := p.Validate(g); err != nil {
		return nil, err
	}
	hash := p.Hash()
	id := uuid.New()
	cp, err := openCheckpoint(x.checkpoint, x.resume, id, hash)
	if err != nil {
		return nil, err
	}
	if cp != nil {
		id = cp.cp.RunID
	}
	r := &run{
		x:       x,
		id:      id,
		plan:    p,
		graph:   g,
		src:     src,
		dst:     dst,
		cp:      cp,
		report:  newReport(id, hash),
		log:     x.logger.With("run", id.String()),
		done:    make(map[string]bool),
		pending: make(map[string][]*Fixup),
	}
	for i, stage := range p.Stages {
		for _, name := range stage {
			r.report.add(name, i)
		}
	}
	for name, fixups := range cp.pendingFixups() {
		r.pending[name] = fixups
	}
	r.report.Started = time.Now()
	defer func() {
		r.report.Finished = time.Now()
		// Restoration runs even if the run was canceled.
		if err := r.restore(context.WithoutCancel(ctx)); err != nil {
			rerr = errors.Join(rerr, &porter.ConstraintRestorationError{Cause: err})
			r.log.ErrorContext(ctx, "destination constraints were not restored", "err", err)
		}
		rep = r.report
	}()
	return nil, r.execute(ctx)
}

// run is the working state of one execution of a plan.
type run struct {
	x     *Executor
	id    uuid.UUID
	plan  *plan.Plan
	graph *graph.Graph
	src   Source
	dst   Destination
	cp    *checkpointer
	log   *slog.Logger

	// stage is the index of the stage being loaded.
	stage  int
	report *Report

	mu sync.Mutex
	// done holds the entities whose rows are all loaded.
	done map[string]bool
	// pending holds the fixups applied after the last stage.
	pending map[string][]*Fixup
	// restores holds the obligations to undo what the run disabled, in the
	// order they were taken.
	restores []func(context.Context) error
}

func (r *run) execute(ctx context.Context) error {
	r.log.InfoContext(ctx, "migration started",
		"entities", len(r.plan.Entities()), "stages", len(r.plan.Stages),
		"batch", r.x.batchSize, "workers", r.x.workers, "retry", r.x.retry.String())
	if r.x.toggle {
		if err := r.dst.DisableConstraints(ctx); err != nil {
			return fmt.Errorf("migrate: disable constraints: %w", err)
		}
		r.restores = append(r.restores, r.dst.EnableConstraints)
	}
	if err := r.truncate(ctx); err != nil {
		return err
	}
	for i, stage := range r.plan.Stages {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.stage = i
		if err := r.loadStage(ctx, i, stage); err != nil {
			return err
		}
	}
	if err := r.applyPending(ctx); err != nil {
		return err
	}
	attempted, migrated, skipped := r.report.Totals()
	r.log.InfoContext(ctx, "migration finished", "attempted", attempted, "migrated", migrated, "skipped", skipped)
	return nil
}

// restore runs the restoration obligations in reverse order.
func (r *run) restore(ctx context.Context) error {
	var errs []error
	for i := len(r.restores) - 1; i >= 0; i-- {
		if err := r.restores[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	r.restores = nil
	return errors.Join(errs...)
}

// truncate empties the destination tables in reverse plan order. Entities
// recorded in the checkpoint keep their rows.
func (r *run) truncate(ctx context.Context) error {
	names := r.plan.Entities()
	slices.Reverse(names)
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		er, _ := r.report.Entity(name)
		if _, ok := r.cp.state(name); ok {
			continue
		}
		e, _ := r.graph.Entity(name)
		err := r.dst.Truncate(ctx, e)
		switch {
		case err == nil:
		case errors.Is(err, ErrMissingTable):
			r.log.WarnContext(ctx, "destination table does not exist, skipping entity", "entity", name, "table", e.TableName())
			er.Status = StatusSkipped
		default:
			r.log.ErrorContext(ctx, "truncate failed", "entity", name, "err", err)
			er.fail(fmt.Errorf("truncate: %w", err))
		}
	}
	return r.cp.update(func(cp *Checkpoint) { cp.Truncated = true })
}

// loadStage loads the entities of a stage concurrently.
func (r *run) loadStage(ctx context.Context, i int, stage plan.Stage) error {
	r.log.InfoContext(ctx, "loading stage", "stage", i+1, "entities", len(stage))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(max(1, min(r.x.workers, len(stage))))
	for _, name := range stage {
		eg.Go(func() error {
			return r.loadEntity(ctx, name)
		})
	}
	return eg.Wait()
}

// complete marks the entity as loaded.
func (r *run) complete(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done[name] = true
}

func (r *run) completed(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done[name]
}

// deferFixups records fixups applied after the last stage.
func (r *run) deferFixups(name string, fixups []*Fixup) error {
	if len(fixups) == 0 {
		return nil
	}
	r.mu.Lock()
	r.pending[name] = append(r.pending[name], fixups...)
	all := slices.Clone(r.pending[name])
	r.mu.Unlock()
	return r.cp.update(func(cp *Checkpoint) { cp.Fixups[name] = all })
}

// applyPending runs the second pass for the deferred values of broken and
// intra-stage references, in plan order.
func (r *run) applyPending(ctx context.Context) error {
	for _, name := range r.plan.Entities() {
		fixups := r.pending[name]
		if len(fixups) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		e, _ := r.graph.Entity(name)
		er, _ := r.report.Entity(name)
		r.applyFixups(ctx, e, er, fixups)
		delete(r.pending, name)
		if err := r.cp.update(func(cp *Checkpoint) { delete(cp.Fixups, name) }); err != nil {
			return err
		}
	}
	return nil
}
