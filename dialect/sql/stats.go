package sql

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/syssam/porter/dialect"
)

// QueryStats counts the statements sent to one database.
type QueryStats struct {
	queries   atomic.Int64
	execs     atomic.Int64
	rows      atomic.Int64
	commits   atomic.Int64
	rollbacks atomic.Int64
	errors    atomic.Int64
	slow      atomic.Int64
	elapsed   atomic.Int64 // nanoseconds
}

// Stats returns a snapshot of the counters.
func (s *QueryStats) Stats() StatsSnapshot {
	return StatsSnapshot{
		Queries:   s.queries.Load(),
		Execs:     s.execs.Load(),
		Rows:      s.rows.Load(),
		Commits:   s.commits.Load(),
		Rollbacks: s.rollbacks.Load(),
		Errors:    s.errors.Load(),
		Slow:      s.slow.Load(),
		Elapsed:   time.Duration(s.elapsed.Load()),
	}
}

// StatsSnapshot is a point-in-time copy of QueryStats.
type StatsSnapshot struct {
	Queries int64
	Execs   int64
	// Rows is the number of rows affected by exec statements, as reported
	// by the database driver.
	Rows      int64
	Commits   int64
	Rollbacks int64
	Errors    int64
	Slow      int64
	Elapsed   time.Duration
}

// Avg returns the average statement duration.
func (s StatsSnapshot) Avg() time.Duration {
	n := s.Queries + s.Execs
	if n == 0 {
		return 0
	}
	return s.Elapsed / time.Duration(n)
}

func (s StatsSnapshot) String() string {
	return fmt.Sprintf("queries=%d execs=%d rows=%d commits=%d rollbacks=%d errors=%d slow=%d elapsed=%s avg=%s",
		s.Queries, s.Execs, s.Rows, s.Commits, s.Rollbacks, s.Errors, s.Slow,
		s.Elapsed.Round(time.Millisecond), s.Avg())
}

// SlowQueryHook is called for every statement slower than the threshold.
type SlowQueryHook func(ctx context.Context, query string, args []any, d time.Duration)

// StatsDriver wraps a Driver and counts its statements and transactions.
type StatsDriver struct {
	dialect.Driver
	stats     *QueryStats
	threshold time.Duration
	hook      SlowQueryHook
}

// StatsOption configures a StatsDriver.
type StatsOption func(*StatsDriver)

// WithSlowThreshold sets the duration above which a statement is counted as
// slow. Default is one second, since a batch insert of a few thousand rows
// routinely takes longer than an application query.
func WithSlowThreshold(d time.Duration) StatsOption {
	return func(s *StatsDriver) {
		s.threshold = d
	}
}

// WithSlowQueryHook sets the function called for slow statements.
func WithSlowQueryHook(hook SlowQueryHook) StatsOption {
	return func(s *StatsDriver) {
		s.hook = hook
	}
}

// WithSlowQueryLog logs slow statements to logger, or to the default logger
// if nil. Only the number of arguments is logged since they hold row data.
func WithSlowQueryLog(logger *slog.Logger) StatsOption {
	if logger == nil {
		logger = slog.Default()
	}
	return WithSlowQueryHook(func(ctx context.Context, query string, args []any, d time.Duration) {
		logger.WarnContext(ctx, "slow statement", "duration", d, "query", truncate(query, 200), "args", len(args))
	})
}

// NewStatsDriver wraps drv with statement counting.
//
//	dst := sql.NewStatsDriver(drv, sql.WithSlowQueryLog(logger))
//	// after the run
//	logger.Info("destination", "stats", dst.QueryStats().Stats())
func NewStatsDriver(drv dialect.Driver, opts ...StatsOption) *StatsDriver {
	s := &StatsDriver{
		Driver:    drv,
		stats:     &QueryStats{},
		threshold: time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// QueryStats returns the counters of the driver.
func (d *StatsDriver) QueryStats() *QueryStats {
	return d.stats
}

// Query implements the dialect.Query method.
func (d *StatsDriver) Query(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := d.Driver.Query(ctx, query, args, v)
	d.record(ctx, query, args, start, err)
	d.stats.queries.Add(1)
	return err
}

// Exec implements the dialect.Exec method.
func (d *StatsDriver) Exec(ctx context.Context, query string, args, v any) error {
	return d.exec(ctx, d.Driver, query, args, v)
}

// Tx starts a transaction whose statements are counted too.
func (d *StatsDriver) Tx(ctx context.Context) (dialect.Tx, error) {
	tx, err := d.Driver.Tx(ctx)
	if err != nil {
		d.stats.errors.Add(1)
		return nil, err
	}
	return &statsTx{Tx: tx, d: d}, nil
}

// exec runs the statement on ex and counts the rows it affected.
func (d *StatsDriver) exec(ctx context.Context, ex dialect.ExecQuerier, query string, args, v any) error {
	if v == nil {
		var res Result
		v = &res
	}
	start := time.Now()
	err := ex.Exec(ctx, query, args, v)
	d.record(ctx, query, args, start, err)
	d.stats.execs.Add(1)
	if res, ok := v.(*Result); ok && err == nil && *res != nil {
		if n, err := (*res).RowsAffected(); err == nil && n > 0 {
			d.stats.rows.Add(n)
		}
	}
	return err
}

func (d *StatsDriver) record(ctx context.Context, query string, args any, start time.Time, err error) {
	elapsed := time.Since(start)
	d.stats.elapsed.Add(int64(elapsed))
	if err != nil {
		d.stats.errors.Add(1)
	}
	if elapsed <= d.threshold {
		return
	}
	d.stats.slow.Add(1)
	if d.hook != nil {
		argv, _ := args.([]any)
		d.hook(ctx, query, argv, elapsed)
	}
}

type statsTx struct {
	dialect.Tx
	d *StatsDriver
}

func (tx *statsTx) Query(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := tx.Tx.Query(ctx, query, args, v)
	tx.d.record(ctx, query, args, start, err)
	tx.d.stats.queries.Add(1)
	return err
}

func (tx *statsTx) Exec(ctx context.Context, query string, args, v any) error {
	return tx.d.exec(ctx, tx.Tx, query, args, v)
}

func (tx *statsTx) Commit() error {
	err := tx.Tx.Commit()
	if err != nil {
		tx.d.stats.errors.Add(1)
		return err
	}
	tx.d.stats.commits.Add(1)
	return nil
}

func (tx *statsTx) Rollback() error {
	tx.d.stats.rollbacks.Add(1)
	return tx.Tx.Rollback()
}

// DebugDriver logs every statement at debug level.
type DebugDriver struct {
	dialect.Driver
	logger *slog.Logger
}

// NewDebugDriver wraps drv with statement logging on logger, or on the
// default logger if nil. Arguments are logged as given, row data included.
func NewDebugDriver(drv dialect.Driver, logger *slog.Logger) *DebugDriver {
	if logger == nil {
		logger = slog.Default()
	}
	return &DebugDriver{Driver: drv, logger: logger}
}

// Query implements the dialect.Query method.
func (d *DebugDriver) Query(ctx context.Context, query string, args, v any) error {
	d.logger.DebugContext(ctx, "query", "query", query, "args", args)
	return d.Driver.Query(ctx, query, args, v)
}

// Exec implements the dialect.Exec method.
func (d *DebugDriver) Exec(ctx context.Context, query string, args, v any) error {
	d.logger.DebugContext(ctx, "exec", "query", query, "args", args)
	return d.Driver.Exec(ctx, query, args, v)
}

// Tx starts a transaction whose statements are logged too.
func (d *DebugDriver) Tx(ctx context.Context) (dialect.Tx, error) {
	tx, err := d.Driver.Tx(ctx)
	if err != nil {
		return nil, err
	}
	logger := d.logger.With("tx", fmt.Sprintf("%p", tx))
	logger.DebugContext(ctx, "begin")
	return &debugTx{Tx: tx, ctx: ctx, logger: logger}, nil
}

type debugTx struct {
	dialect.Tx
	// ctx is the context the transaction was started with.
	ctx    context.Context
	logger *slog.Logger
}

func (tx *debugTx) Query(ctx context.Context, query string, args, v any) error {
	tx.logger.DebugContext(ctx, "query", "query", query, "args", args)
	return tx.Tx.Query(ctx, query, args, v)
}

func (tx *debugTx) Exec(ctx context.Context, query string, args, v any) error {
	tx.logger.DebugContext(ctx, "exec", "query", query, "args", args)
	return tx.Tx.Exec(ctx, query, args, v)
}

func (tx *debugTx) Commit() error {
	tx.logger.DebugContext(tx.ctx, "commit")
	return tx.Tx.Commit()
}

func (tx *debugTx) Rollback() error {
	tx.logger.DebugContext(tx.ctx, "rollback")
	return tx.Tx.Rollback()
}

var (
	_ dialect.Driver = (*StatsDriver)(nil)
	_ dialect.Driver = (*DebugDriver)(nil)
)

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
