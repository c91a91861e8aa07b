// Package sqlmigrate implements the row source and destination of the
// migration executor on top of dialect drivers. Postgres, MySQL and SQLite
// are supported on both sides.
package sqlmigrate

import (
	"context"
	"fmt"

	"github.com/syssam/porter/dialect"
	"github.com/syssam/porter/dialect/sql"
	"github.com/syssam/porter/dialect/sql/sqlgraph"
	"github.com/syssam/porter/graph"
	"github.com/syssam/porter/migrate"
)

// Source reads entity rows in primary-key order with keyset pagination.
type Source struct {
	drv     dialect.Driver
	dialect string
}

// NewSource returns a source reading from drv.
func NewSource(drv dialect.Driver) *Source {
	return &Source{drv: drv, dialect: dialect.Normalize(drv.Dialect())}
}

// Rows returns at most limit rows of e whose key is greater than after.
// Values are returned as scanned from the driver, in column order.
func (s *Source) Rows(ctx context.Context, e *graph.Entity, after []any, limit int) ([][]any, error) {
	query, args := sql.Dialect(s.dialect).
		SelectAfter(e.TableName(), e.ColumnNames(), e.PrimaryKey, after, limit).
		Query()
	var rows sql.Rows
	if err := s.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, tableError(e, err)
	}
	values, err := sql.ScanValues(rows)
	if err != nil {
		return nil, fmt.Errorf("sqlmigrate: read %s: %w", e.TableName(), err)
	}
	return values, nil
}

// tableError marks errors caused by a missing table.
func tableError(e *graph.Entity, err error) error {
	if sqlgraph.IsUndefinedTableError(err) {
		return fmt.Errorf("%w: %s: %w", migrate.ErrMissingTable, e.TableName(), err)
	}
	return fmt.Errorf("sqlmigrate: %s: %w", e.TableName(), err)
}

var _ migrate.Source = (*Source)(nil)
