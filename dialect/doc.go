// Package dialect provides the database abstraction used by the migration
// engine.
//
// This package defines the interfaces shared by the source and destination
// connections, allowing porter to read from and write to PostgreSQL, MySQL,
// and SQLite.
//
// # Dialect Constants
//
// Each dialect is identified by a constant string:
//
//	dialect.Postgres = "postgres"
//	dialect.MySQL    = "mysql"
//	dialect.SQLite   = "sqlite"
//
// Normalize maps database/sql driver names to these constants, so that the
// "pgx" driver is handled as Postgres and "sqlite3" as SQLite.
//
// # Driver Interface
//
//	type Driver interface {
//	    Exec(ctx context.Context, query string, args, v any) error
//	    Query(ctx context.Context, query string, args, v any) error
//	    Tx(ctx context.Context) (Tx, error)
//	    Close() error
//	    Dialect() string
//	}
//
// The Tx interface adds Commit and Rollback to the ExecQuerier methods.
//
// # Usage
//
//	drv, err := sql.Open(dialect.Postgres, "postgres://...")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer drv.Close()
//
// # Sub-packages
//
//   - dialect/sql: driver implementation, session variables and statement building
//   - dialect/sql/schema: schema inspection and destination validation
//   - dialect/sql/sqlgraph: database error classification
//   - dialect/sql/sqlmigrate: SQL sources and destinations for the executor
package dialect
