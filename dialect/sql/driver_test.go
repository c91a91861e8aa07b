package sql

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/porter/dialect"
)

func TestWithVars(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	drv := OpenDB(dialect.Postgres, db)
	ctx := WithVar(context.Background(), "session_replication_role", "replica")

	mock.ExpectExec("SET session_replication_role = 'replica'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectExec("RESET session_replication_role").WillReturnResult(sqlmock.NewResult(0, 0))
	rows := &Rows{}
	require.NoError(t, drv.Query(ctx, "SELECT 1", []any{}, rows))
	require.NoError(t, rows.Close(), "rows should be closed to release the connection")
	require.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectExec("SET session_replication_role = 'replica'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`TRUNCATE TABLE "users"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("RESET session_replication_role").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, drv.Exec(ctx, `TRUNCATE TABLE "users"`, []any{}, nil))
	require.NoError(t, mock.ExpectationsWereMet())

	// Inside a transaction the variable expires with the transaction.
	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL session_replication_role = 'replica'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	tx, err := drv.Tx(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.Exec(ctx, "INSERT INTO users (id) VALUES ($1)", []any{1}, nil))
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithVars_Override(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	drv := OpenDB(dialect.Postgres, db)
	parent := WithVar(context.Background(), "foo", "bar")
	child := WithVar(parent, "foo", "baz")

	v, ok := VarFromContext(child, "foo")
	require.True(t, ok)
	assert.Equal(t, "baz", v)
	v, _ = VarFromContext(parent, "foo")
	assert.Equal(t, "bar", v, "parent context must not see child variables")
	_, ok = VarFromContext(context.Background(), "foo")
	assert.False(t, ok)

	mock.ExpectExec("SET foo = 'bar'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SET foo = 'baz'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectExec("RESET foo").WillReturnResult(sqlmock.NewResult(0, 0))
	rows := &Rows{}
	require.NoError(t, drv.Query(child, "SELECT 1", []any{}, rows))
	require.NoError(t, rows.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithVars_MySQL(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	drv := OpenDB(dialect.MySQL, db)
	ctx := WithVar(context.Background(), "foreign_key_checks", "OFF")

	mock.ExpectExec("SET foreign_key_checks = 'OFF'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM `users`").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("SET foreign_key_checks = DEFAULT").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, drv.Exec(ctx, "DELETE FROM `users`", []any{}, nil))
	require.NoError(t, mock.ExpectationsWereMet())

	// Transactions reset the variable once, before they end.
	mock.ExpectBegin()
	mock.ExpectExec("SET foreign_key_checks = 'OFF'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO `posts`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("SET foreign_key_checks = 'OFF'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO `posts`").WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectExec("SET foreign_key_checks = DEFAULT").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()
	tx, err := drv.Tx(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.Exec(ctx, "INSERT INTO `posts` (`id`) VALUES (?)", []any{1}, nil))
	require.NoError(t, tx.Exec(ctx, "INSERT INTO `posts` (`id`) VALUES (?)", []any{2}, nil))
	require.NoError(t, tx.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenDB(t *testing.T) {
	tests := []struct {
		driver string
		want   string
	}{
		{dialect.Postgres, dialect.Postgres},
		{"pgx", dialect.Postgres},
		{dialect.MySQL, dialect.MySQL},
		{dialect.SQLite, dialect.SQLite},
		{"sqlite3", dialect.SQLite},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			db, _, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			drv := OpenDB(tt.driver, db)
			assert.Equal(t, tt.want, drv.Dialect())
			assert.Same(t, db, drv.DB())
		})
	}
}

func TestDriverQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	drv := OpenDB(dialect.Postgres, db)

	t.Run("query_with_args", func(t *testing.T) {
		mock.ExpectQuery(`SELECT "name" FROM "users" WHERE "id" > \$1`).
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Alice"))
		rows := &Rows{}
		err := drv.Query(context.Background(), `SELECT "name" FROM "users" WHERE "id" > $1`, []any{1}, rows)
		require.NoError(t, err)
		require.NoError(t, rows.Close())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query_error", func(t *testing.T) {
		mock.ExpectQuery("SELECT").WillReturnError(errors.New("database error"))
		rows := &Rows{}
		err := drv.Query(context.Background(), "SELECT", []any{}, rows)
		require.Error(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid_arguments", func(t *testing.T) {
		require.Error(t, drv.Query(context.Background(), "SELECT 1", []any{}, nil))
		require.Error(t, drv.Query(context.Background(), "SELECT 1", nil, &Rows{}))
		require.Error(t, drv.Exec(context.Background(), "SELECT 1", "x", nil))
		var n int
		require.Error(t, drv.Exec(context.Background(), "SELECT 1", []any{}, &n))
	})
}

func TestDriverExec(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	drv := OpenDB(dialect.Postgres, db)

	mock.ExpectExec(`UPDATE "users" SET "name" = \$1 WHERE "id" = \$2`).
		WithArgs("Alice", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	var res Result
	err = drv.Exec(context.Background(), `UPDATE "users" SET "name" = $1 WHERE "id" = $2`, []any{"Alice", 1}, &res)
	require.NoError(t, err)
	n, err := res.RowsAffected()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	mock.ExpectExec("DELETE").WillReturnError(errors.New("constraint violation"))
	require.Error(t, drv.Exec(context.Background(), "DELETE FROM users", []any{}, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDriverTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	drv := OpenDB(dialect.SQLite, db)

	t.Run("commit", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()
		tx, err := drv.Tx(context.Background())
		require.NoError(t, err)
		require.NoError(t, tx.Exec(context.Background(), "INSERT INTO users (id) VALUES (?)", []any{1}, nil))
		require.NoError(t, tx.Commit())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rollback", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO users").WillReturnError(errors.New("UNIQUE constraint failed: users.id"))
		mock.ExpectRollback()
		tx, err := drv.Tx(context.Background())
		require.NoError(t, err)
		require.Error(t, tx.Exec(context.Background(), "INSERT INTO users (id) VALUES (?)", []any{1}, nil))
		require.NoError(t, tx.Rollback())
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestContextCancellation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	drv := OpenDB(dialect.Postgres, db)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	mock.ExpectQuery("SELECT").WillReturnError(context.Canceled)
	rows := &Rows{}
	assert.Error(t, drv.Query(ctx, "SELECT 1", []any{}, rows))
}

func TestIsValidIdentifier(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{"valid_simple", "foreign_key_checks", true},
		{"valid_with_dot", "pg.role", true},
		{"valid_starting_underscore", "_private", true},
		{"invalid_empty", "", false},
		{"invalid_starting_number", "123foo", false},
		{"invalid_with_space", "foo bar", false},
		{"invalid_with_semicolon", "foo;DROP TABLE", false},
		{"invalid_too_long", string(make([]byte, 129)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isValidIdentifier(tt.input))
		})
	}
}

func TestEscapeStringValue(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"replica", "replica"},
		{"it's", "it''s"},
		{`path\to`, `path\\to`},
		{"'; DROP TABLE users; --", "''; DROP TABLE users; --"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, escapeStringValue(tt.input))
	}
}

func TestWithVarsInvalidIdentifier(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	drv := OpenDB(dialect.Postgres, db)

	rows := &Rows{}
	err = drv.Query(
		WithVar(context.Background(), "foo; DROP TABLE users; --", "bar"),
		"SELECT 1",
		[]any{},
		rows,
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid session variable name")
}

func TestWithVarsEscapedValue(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	drv := OpenDB(dialect.Postgres, db)

	mock.ExpectExec("SET application_name = 'porter''s run'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectExec("RESET application_name").WillReturnResult(sqlmock.NewResult(0, 0))
	rows := &Rows{}
	require.NoError(t, drv.Query(WithVar(context.Background(), "application_name", "porter's run"), "SELECT 1", []any{}, rows))
	require.NoError(t, rows.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsDriver(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	var slow []string
	drv := NewStatsDriver(OpenDB(dialect.Postgres, db),
		WithSlowThreshold(-1),
		WithSlowQueryHook(func(_ context.Context, query string, _ []any, _ time.Duration) {
			slow = append(slow, query)
		}),
	)
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectExec("DELETE").WillReturnError(errors.New("boom"))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectRollback()

	ctx := context.Background()
	rows := &Rows{}
	require.NoError(t, drv.Query(ctx, "SELECT 1", []any{}, rows))
	require.NoError(t, rows.Close())
	require.Error(t, drv.Exec(ctx, "DELETE FROM t", []any{}, nil))
	tx, err := drv.Tx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Exec(ctx, "INSERT INTO t VALUES (1), (2), (3)", []any{}, nil))
	require.NoError(t, tx.Commit())
	tx, err = drv.Tx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())

	s := drv.QueryStats().Stats()
	assert.Equal(t, int64(1), s.Queries)
	assert.Equal(t, int64(2), s.Execs)
	assert.Equal(t, int64(3), s.Rows)
	assert.Equal(t, int64(1), s.Commits)
	assert.Equal(t, int64(1), s.Rollbacks)
	assert.Equal(t, int64(1), s.Errors)
	assert.Equal(t, []string{"SELECT 1", "DELETE FROM t", "INSERT INTO t VALUES (1), (2), (3)"}, slow)
	assert.Contains(t, s.String(), "queries=1 execs=2 rows=3 commits=1 rollbacks=1 errors=1 slow=3")
	assert.Equal(t, dialect.Postgres, drv.Dialect())
}

func TestStatsDriver_Result(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	drv := NewStatsDriver(OpenDB(dialect.SQLite, db))
	mock.ExpectExec("UPDATE").WillReturnResult(sqlmock.NewResult(0, 2))
	var res Result
	require.NoError(t, drv.Exec(context.Background(), "UPDATE t SET a = 1", []any{}, &res))
	n, err := res.RowsAffected()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, int64(2), drv.QueryStats().Stats().Rows)
	assert.Zero(t, drv.QueryStats().Stats().Slow)
}

func TestDebugDriver(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey || a.Key == "tx" {
				return slog.Attr{}
			}
			return a
		},
	}))
	drv := NewDebugDriver(OpenDB(dialect.MySQL, db), logger)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectRollback()
	tx, err := drv.Tx(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.Exec(context.Background(), "INSERT INTO t VALUES (?)", []any{1}, nil))
	require.NoError(t, tx.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, `level=DEBUG msg=begin
level=DEBUG msg=exec query="INSERT INTO t VALUES (?)" args=[1]
level=DEBUG msg=rollback
`, buf.String())
}
