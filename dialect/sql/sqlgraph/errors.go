// Package sqlgraph classifies the errors returned by the database drivers
// supported by the migration engine.
package sqlgraph

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// PostgreSQL SQLSTATE codes.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
	pgNotNullViolation    = "23502"
	pgUndefinedTable      = "42P01"
)

// MySQL error numbers.
const (
	mysqlDuplicateEntry         = 1062
	mysqlForeignKeyParent       = 1451 // Cannot delete or update a parent row
	mysqlForeignKeyChild        = 1452 // Cannot add or update a child row
	mysqlCheckConstraintViolate = 3819
	mysqlBadNull                = 1048
	mysqlNoSuchTable            = 1146
)

// sqlStateError is implemented by errors that provide SQLSTATE codes, for
// example *pgconn.PgError and *pq.Error.
type sqlStateError interface {
	SQLState() string
}

// errorCoder is implemented by driver errors exposing a textual code.
type errorCoder interface {
	Code() string
}

// sqlState returns the SQLSTATE code of a Postgres error.
func sqlState(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), true
	}
	if e, ok := asError[sqlStateError](err); ok {
		return e.SQLState(), true
	}
	if e, ok := asError[errorCoder](err); ok {
		return e.Code(), true
	}
	return "", false
}

// mysqlNumber returns the error number of a MySQL error.
func mysqlNumber(err error) (uint16, bool) {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number, true
	}
	return 0, false
}

// classify reports if err matches one of the SQLSTATE codes, one of the
// MySQL numbers, or, for drivers without typed errors, one of the messages.
func classify(err error, states []string, numbers []uint16, messages ...string) bool {
	if err == nil {
		return false
	}
	if code, ok := sqlState(err); ok {
		for _, s := range states {
			if code == s {
				return true
			}
		}
	}
	if num, ok := mysqlNumber(err); ok {
		for _, n := range numbers {
			if num == n {
				return true
			}
		}
	}
	return containsAny(err.Error(), messages...)
}

// IsConstraintError returns true if the error resulted from a database constraint violation.
func IsConstraintError(err error) bool {
	return IsUniqueConstraintError(err) ||
		IsForeignKeyConstraintError(err) ||
		IsCheckConstraintError(err) ||
		IsNotNullConstraintError(err)
}

// IsUniqueConstraintError reports if the error resulted from a DB uniqueness constraint violation.
// e.g. duplicate value in unique index.
func IsUniqueConstraintError(err error) bool {
	return classify(err,
		[]string{pgUniqueViolation},
		[]uint16{mysqlDuplicateEntry},
		"Error 1062",                 // MySQL (string fallback)
		"violates unique constraint", // Postgres (string fallback)
		"UNIQUE constraint failed",   // SQLite
	)
}

// IsForeignKeyConstraintError reports if the error resulted from a database foreign-key constraint violation.
// e.g. parent row does not exist.
func IsForeignKeyConstraintError(err error) bool {
	return classify(err,
		[]string{pgForeignKeyViolation},
		[]uint16{mysqlForeignKeyParent, mysqlForeignKeyChild},
		"Error 1451",                      // MySQL (Cannot delete or update a parent row)
		"Error 1452",                      // MySQL (Cannot add or update a child row)
		"violates foreign key constraint", // Postgres
		"FOREIGN KEY constraint failed",   // SQLite
	)
}

// IsCheckConstraintError reports if the error resulted from a database check constraint violation.
func IsCheckConstraintError(err error) bool {
	return classify(err,
		[]string{pgCheckViolation},
		[]uint16{mysqlCheckConstraintViolate},
		"Error 3819",                // MySQL
		"violates check constraint", // Postgres
		"CHECK constraint failed",   // SQLite
	)
}

// IsNotNullConstraintError reports if the error resulted from writing NULL
// into a required column.
func IsNotNullConstraintError(err error) bool {
	return classify(err,
		[]string{pgNotNullViolation},
		[]uint16{mysqlBadNull},
		"Error 1048",                   // MySQL
		"violates not-null constraint", // Postgres
		"NOT NULL constraint failed",   // SQLite
	)
}

// IsUndefinedTableError reports if the error resulted from a statement on
// a table that does not exist.
func IsUndefinedTableError(err error) bool {
	if err == nil {
		return false
	}
	if classify(err,
		[]string{pgUndefinedTable},
		[]uint16{mysqlNoSuchTable},
		"Error 1146",    // MySQL
		"no such table", // SQLite
	) {
		return true
	}
	// Postgres: relation "x" does not exist
	msg := err.Error()
	return strings.Contains(msg, `relation "`) && strings.HasSuffix(msg, "does not exist")
}

// asError attempts to extract an error implementing interface T from the error chain.
func asError[T any](err error) (T, bool) {
	var target T
	for err != nil {
		if e, ok := err.(T); ok {
			return e, true
		}
		err = errors.Unwrap(err)
	}
	return target, false
}

// containsAny returns true if s contains any of the substrings.
func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
