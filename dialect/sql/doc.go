// Package sql provides the database/sql based driver used by the migration
// engine, together with a small statement builder.
//
// # Drivers
//
// Open and OpenDB return a *Driver implementing dialect.Driver. Any
// registered database/sql driver can be used; its name is normalized to a
// dialect ("pgx" is handled as Postgres):
//
//	drv, err := sql.Open("pgx", "postgres://localhost/app")
//
// StatsDriver and DebugDriver wrap any dialect.Driver to collect statement
// statistics or log every statement:
//
//	dst := sql.NewStatsDriver(sql.NewDebugDriver(drv, logger), sql.WithSlowQueryLog(logger))
//
// # Session Variables
//
// WithVar attaches a session variable to a context. Every statement executed
// with that context first sets the variable:
//
//	ctx = sql.WithVar(ctx, "session_replication_role", "replica")
//
// Outside transactions the statement runs on a dedicated pooled connection
// and the variable is reset before the connection is released. Inside
// transactions Postgres variables are set with SET LOCAL, and MySQL
// variables are reset when the transaction ends.
//
// # Statements
//
// Builder writes the statements issued by the migration engine with
// dialect-aware identifier quoting and placeholders:
//
//	query, args := sql.Dialect(dialect.MySQL).
//	    SelectAfter("post_tags", cols, []string{"post_id", "tag_id"}, last, 1000).
//	    Query()
//	// SELECT ... WHERE (`post_id`, `tag_id`) > (?, ?) ORDER BY `post_id`, `tag_id` LIMIT 1000
//
// ScanValues, ScanValue and ScanInt64 read the results.
package sql
