package main

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"log/slog"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/syssam/porter/dialect"
	"github.com/syssam/porter/dialect/sql"
	"github.com/syssam/porter/internal/config"
)

// driverName returns the registered database/sql driver of the configured
// driver.
func driverName(name string) string {
	switch name {
	case "pgx", "mysql":
		return name
	}
	switch dialect.Normalize(name) {
	case dialect.Postgres:
		return "postgres"
	case dialect.SQLite:
		return "sqlite"
	}
	return name
}

// openDB opens and pings the configured database.
func openDB(ctx context.Context, side string, c config.Database) (*stdsql.DB, error) {
	if err := c.Validate(side); err != nil {
		return nil, err
	}
	db, err := stdsql.Open(driverName(c.Driver), c.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", side, err)
	}
	switch {
	case dialect.Normalize(c.Driver) == dialect.SQLite:
		// Pragmas are per connection.
		db.SetMaxOpenConns(1)
	case c.MaxOpenConns > 0:
		db.SetMaxOpenConns(c.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to %s: %w", side, err)
	}
	return db, nil
}

// driver wraps db with statement statistics, and with statement logging in
// debug mode.
func driver(db *stdsql.DB, c config.Database, side string, debug bool, logger *slog.Logger) *sql.StatsDriver {
	var drv dialect.Driver = sql.OpenDB(c.Driver, db)
	if debug {
		drv = sql.NewDebugDriver(drv, logger.With("side", side))
	}
	return sql.NewStatsDriver(drv, sql.WithSlowQueryLog(logger.With("side", side)))
}
