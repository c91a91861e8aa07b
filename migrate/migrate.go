// Package migrate executes a migration plan: it copies the rows of every
// planned entity from a source database to a destination database, stage by
// stage, preserving primary keys and foreign-key integrity.
//
// The executor never reorders entities. It trusts the plan and the graph it
// was built from:
//
//	x, err := migrate.New(migrate.WithBatchSize(500), migrate.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	report, err := x.Execute(ctx, p, g, src, dst)
//
// A run truncates the destination tables in reverse plan order, disables the
// destination constraints, loads each stage with a bounded pool of workers,
// applies the deferred foreign-key values in a second pass, resets the
// primary-key sequences and finally restores the constraints. Restoration
// is attempted even when the run is canceled or fails.
package migrate

import (
	"context"
	"errors"

	"github.com/syssam/porter/graph"
)

// ErrMissingTable is wrapped by Source and Destination errors caused by a
// table that does not exist. The executor skips such entities.
var ErrMissingTable = errors.New("migrate: table does not exist")

// Source reads entity rows.
type Source interface {
	// Rows returns at most limit rows of the entity in primary-key order,
	// starting after the given key, or from the first row if after is nil.
	// Row values are ordered as the entity columns.
	Rows(ctx context.Context, e *graph.Entity, after []any, limit int) ([][]any, error)
}

// Destination writes entity rows.
type Destination interface {
	// DisableConstraints turns off foreign-key checks for the statements
	// issued by the destination until EnableConstraints is called.
	DisableConstraints(context.Context) error
	// EnableConstraints turns foreign-key checks back on.
	EnableConstraints(context.Context) error
	// Truncate removes all rows of the entity table.
	Truncate(context.Context, *graph.Entity) error
	// ApplyBatch inserts the rows, with all entity columns, in a single
	// transaction.
	ApplyBatch(ctx context.Context, e *graph.Entity, rows [][]any) error
	// ApplyFixups writes the deferred column values in a single transaction.
	ApplyFixups(ctx context.Context, e *graph.Entity, fixups []*Fixup) error
	// MaxKey returns the largest value of the single-column primary key, or
	// nil if the table is empty.
	MaxKey(context.Context, *graph.Entity) (any, error)
	// Count returns the number of rows of the entity table.
	Count(context.Context, *graph.Entity) (int64, error)
	// ResetSequence makes the primary-key generator of the entity produce
	// next as its next value. Running it twice has no further effect.
	ResetSequence(ctx context.Context, e *graph.Entity, next int64) error
}

// Fixup is a foreign-key value that could not be written when its row was
// inserted because the referenced row did not exist yet. It is written by
// the second pass.
type Fixup struct {
	// Key holds the primary key of the row to update.
	Key []any `msgpack:"key"`
	// Column is the foreign-key column.
	Column string `msgpack:"column"`
	// Value is the value read from the source.
	Value any `msgpack:"value"`
	// Self reports if the reference targets the row's own entity.
	Self bool `msgpack:"self"`
}
