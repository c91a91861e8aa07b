package sqlmigrate

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync/atomic"

	"github.com/syssam/porter/dialect"
	"github.com/syssam/porter/dialect/sql"
	"github.com/syssam/porter/dialect/sql/sqlgraph"
	"github.com/syssam/porter/graph"
	"github.com/syssam/porter/migrate"
)

// Maximum number of bound parameters per statement.
const (
	maxArgs       = 65535
	maxSQLiteArgs = 32766
)

// Destination writes entity rows. While constraints are disabled, every
// Postgres and MySQL statement runs with foreign-key enforcement turned off
// for its session; SQLite toggles the foreign_keys pragma, which requires a
// pool of a single connection.
type Destination struct {
	drv      dialect.Driver
	dialect  string
	maxArgs  int
	disabled atomic.Bool
}

// Option configures a destination.
type Option func(*Destination)

// WithMaxArgs limits the number of bound parameters per insert statement.
// Batches exceeding it are written with several statements in one
// transaction.
func WithMaxArgs(n int) Option {
	return func(d *Destination) {
		if n > 0 {
			d.maxArgs = n
		}
	}
}

// NewDestination returns a destination writing to drv.
func NewDestination(drv dialect.Driver, opts ...Option) *Destination {
	d := &Destination{drv: drv, dialect: dialect.Normalize(drv.Dialect()), maxArgs: maxArgs}
	if d.dialect == dialect.SQLite {
		d.maxArgs = maxSQLiteArgs
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DisableConstraints turns off foreign-key enforcement for the following
// statements.
func (d *Destination) DisableConstraints(ctx context.Context) error {
	if d.dialect == dialect.SQLite {
		if err := d.drv.Exec(ctx, "PRAGMA foreign_keys = OFF", []any{}, nil); err != nil {
			return fmt.Errorf("sqlmigrate: disable foreign keys: %w", err)
		}
		d.disabled.Store(true)
		return nil
	}
	d.disabled.Store(true)
	// Setting the variable needs privileges on Postgres; fail before any
	// row is written.
	if err := d.drv.Exec(d.session(ctx), "SELECT 1", []any{}, nil); err != nil {
		d.disabled.Store(false)
		return fmt.Errorf("sqlmigrate: disable foreign keys: %w", err)
	}
	return nil
}

// EnableConstraints restores foreign-key enforcement.
func (d *Destination) EnableConstraints(ctx context.Context) error {
	d.disabled.Store(false)
	if d.dialect == dialect.SQLite {
		if err := d.drv.Exec(ctx, "PRAGMA foreign_keys = ON", []any{}, nil); err != nil {
			return fmt.Errorf("sqlmigrate: enable foreign keys: %w", err)
		}
	}
	return nil
}

// session attaches the session variables disabling foreign keys.
func (d *Destination) session(ctx context.Context) context.Context {
	if !d.disabled.Load() {
		return ctx
	}
	switch d.dialect {
	case dialect.Postgres:
		return sql.WithVar(ctx, "session_replication_role", "replica")
	case dialect.MySQL:
		return sql.WithVar(ctx, "foreign_key_checks", "OFF")
	}
	return ctx
}

// Truncate removes all rows of the entity table.
func (d *Destination) Truncate(ctx context.Context, e *graph.Entity) error {
	query, args := sql.Dialect(d.dialect).Truncate(e.TableName()).Query()
	if err := d.drv.Exec(d.session(ctx), query, args, nil); err != nil {
		return tableError(e, err)
	}
	return nil
}

// ApplyBatch inserts the rows in one transaction.
func (d *Destination) ApplyBatch(ctx context.Context, e *graph.Entity, rows [][]any) error {
	columns := e.ColumnNames()
	size := max(1, d.maxArgs/max(1, len(columns)))
	return d.tx(ctx, func(ctx context.Context, tx dialect.Tx) error {
		for chunk := range slices.Chunk(rows, size) {
			query, args := sql.Dialect(d.dialect).Insert(e.TableName(), columns, chunk).Query()
			if err := tx.Exec(ctx, query, args, nil); err != nil {
				return tableError(e, err)
			}
		}
		return nil
	})
}

// ApplyFixups writes the deferred values in one transaction. Auto-updated
// timestamp columns keep their migrated values.
func (d *Destination) ApplyFixups(ctx context.Context, e *graph.Entity, fixups []*migrate.Fixup) error {
	var auto []string
	for _, c := range e.Columns {
		if c.AutoNow {
			auto = append(auto, c.Name)
		}
	}
	return d.tx(ctx, func(ctx context.Context, tx dialect.Tx) error {
		for _, f := range fixups {
			keep := slices.DeleteFunc(slices.Clone(auto), func(c string) bool { return c == f.Column })
			query, args := sql.Dialect(d.dialect).
				Update(e.TableName(), f.Column, f.Value, keep, e.PrimaryKey, f.Key).
				Query()
			if err := tx.Exec(ctx, query, args, nil); err != nil {
				return tableError(e, err)
			}
		}
		return nil
	})
}

// MaxKey returns the largest primary key of the entity table, or nil for
// empty tables and composite keys.
func (d *Destination) MaxKey(ctx context.Context, e *graph.Entity) (any, error) {
	kc, ok := e.KeyColumn()
	if !ok {
		return nil, nil
	}
	query, args := sql.Dialect(d.dialect).Max(e.TableName(), kc.Name).Query()
	var rows sql.Rows
	if err := d.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, tableError(e, err)
	}
	return sql.ScanValue(rows)
}

// Count returns the number of rows of the entity table.
func (d *Destination) Count(ctx context.Context, e *graph.Entity) (int64, error) {
	query, args := sql.Dialect(d.dialect).Count(e.TableName()).Query()
	var rows sql.Rows
	if err := d.drv.Query(ctx, query, args, &rows); err != nil {
		return 0, tableError(e, err)
	}
	return sql.ScanInt64(rows)
}

// ResetSequence sets the next value generated for the primary key of the
// entity table.
func (d *Destination) ResetSequence(ctx context.Context, e *graph.Entity, next int64) error {
	kc, ok := e.KeyColumn()
	if !ok {
		return nil
	}
	b := sql.Dialect(d.dialect)
	switch d.dialect {
	case dialect.Postgres:
		// setval ignores tables without a sequence: pg_get_serial_sequence
		// returns NULL and setval is strict.
		query, args := b.WriteString("SELECT setval(pg_get_serial_sequence(").
			Arg(b.Quote(e.TableName())).WriteString(", ").Arg(kc.Name).
			WriteString("), ").Arg(next).WriteString(", false)").
			Query()
		var rows sql.Rows
		if err := d.drv.Query(ctx, query, args, &rows); err != nil {
			return tableError(e, err)
		}
		if _, err := sql.ScanValue(rows); err != nil {
			return err
		}
	case dialect.MySQL:
		query, args := b.WriteString("ALTER TABLE ").Ident(e.TableName()).
			WriteString(" AUTO_INCREMENT = " + strconv.FormatInt(next, 10)).
			Query()
		if err := d.drv.Exec(ctx, query, args, nil); err != nil {
			return tableError(e, err)
		}
	case dialect.SQLite:
		// Only AUTOINCREMENT tables have a sequence; the others continue
		// after the largest rowid.
		query, args := b.WriteString("UPDATE sqlite_sequence SET seq = ").Arg(next - 1).
			WriteString(" WHERE name = ").Arg(e.TableName()).
			Query()
		if err := d.drv.Exec(ctx, query, args, nil); err != nil && !sqlgraph.IsUndefinedTableError(err) {
			return fmt.Errorf("sqlmigrate: %s: %w", e.TableName(), err)
		}
	default:
		return fmt.Errorf("sqlmigrate: unsupported dialect %q", d.dialect)
	}
	return nil
}

// tx runs fn in a transaction carrying the session variables.
func (d *Destination) tx(ctx context.Context, fn func(context.Context, dialect.Tx) error) error {
	ctx = d.session(ctx)
	tx, err := d.drv.Tx(ctx)
	if err != nil {
		return fmt.Errorf("sqlmigrate: begin transaction: %w", err)
	}
	if err := fn(ctx, tx); err != nil {
		return rollback(tx, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlmigrate: commit transaction: %w", err)
	}
	return nil
}

// rollback calls tx.Rollback and wraps the given error with the rollback
// error if occurred.
func rollback(tx dialect.Tx, err error) error {
	if rerr := tx.Rollback(); rerr != nil {
		err = fmt.Errorf("%w: %v", err, rerr)
	}
	return err
}

var _ migrate.Destination = (*Destination)(nil)
