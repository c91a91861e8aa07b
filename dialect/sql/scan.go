package sql

import (
	"database/sql"
	"fmt"
)

// ScanValues scans all rows into slices of driver values, one per column.
// The rows are closed on return.
func ScanValues(rows ColumnScanner) ([][]any, error) {
	defer rows.Close()
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("sql/scan: columns: %w", err)
	}
	var out [][]any
	for rows.Next() {
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("sql/scan: %w", err)
		}
		out = append(out, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ScanValue scans the first column of the first row. It returns nil if there
// are no rows or the value is NULL.
func ScanValue(rows ColumnScanner) (any, error) {
	values, err := ScanValues(rows)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 || len(values[0]) == 0 {
		return nil, nil
	}
	return values[0][0], nil
}

// ScanInt64 scans the first column of the first row into an int64.
// NULL scans as zero.
func ScanInt64(rows ColumnScanner) (int64, error) {
	defer rows.Close()
	var n sql.NullInt64
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, err
		}
		return 0, fmt.Errorf("sql/scan: no rows")
	}
	if err := rows.Scan(&n); err != nil {
		return 0, fmt.Errorf("sql/scan: %w", err)
	}
	return n.Int64, rows.Err()
}
