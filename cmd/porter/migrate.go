package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/syssam/porter/dialect/sql/schema"
	"github.com/syssam/porter/dialect/sql/sqlmigrate"
	"github.com/syssam/porter/graph"
	"github.com/syssam/porter/migrate"
	"github.com/syssam/porter/plan"
	"github.com/syssam/porter/schema/load"
)

// migrateFlags holds the flags of the migrate command.
type migrateFlags struct {
	entities       string
	plan           string
	batchSize      int
	workers        int
	retry          string
	noDisable      bool
	checkpoint     string
	resume         bool
	yes            bool
	debug          bool
	skipValidation bool
	report         string
}

func (a *app) migrateCommand() *cobra.Command {
	var f migrateFlags
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Copy the rows of every planned entity from the source to the destination",
		Long: `Migrate empties the destination tables of the plan, then loads them stage
by stage in batches. Primary keys are preserved and sequences are reset
after each table is loaded.

All rows of the planned destination tables are deleted. The command asks for
confirmation on a terminal and requires --yes otherwise.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.migrate(cmd, &f)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&f.entities, "entities", "e", "entities.yaml", "Entity metadata file (YAML or JSON)")
	flags.StringVarP(&f.plan, "plan", "p", "migration_plan.json", "Plan written by analyze")
	flags.IntVar(&f.batchSize, "batch-size", 0, "Rows per batch (default from config)")
	flags.IntVar(&f.workers, "workers", 0, "Entities of a stage loaded concurrently (default from config)")
	flags.StringVar(&f.retry, "retry", "", "Retry policy for rejected batches: none, halve or bisect")
	flags.BoolVar(&f.noDisable, "no-disable-constraints", false, "Keep destination foreign keys enforced")
	flags.StringVar(&f.checkpoint, "checkpoint", "", "Record progress in this file")
	flags.BoolVar(&f.resume, "resume", false, "Continue the run recorded in the checkpoint file")
	flags.BoolVarP(&f.yes, "yes", "y", false, "Do not ask for confirmation")
	flags.BoolVar(&f.debug, "debug", false, "Log every statement; implies --log-level debug")
	flags.BoolVar(&f.skipValidation, "skip-validation", false, "Do not check the destination tables before migrating")
	flags.StringVar(&f.report, "report", "", "Write the JSON report to this file")
	return cmd
}

func (a *app) migrate(cmd *cobra.Command, f *migrateFlags) error {
	ctx := cmd.Context()
	if f.debug && !cmd.Flags().Changed("log-level") {
		c := a.cfg.Log
		c.Level = "debug"
		logger, err := newLogger(a.errOut, c)
		if err != nil {
			return err
		}
		a.logger = logger
	}
	g, err := load.Graph(f.entities)
	if err != nil {
		return err
	}
	p, err := plan.ReadFile(f.plan)
	if err != nil {
		return err
	}
	if err := p.Validate(g); err != nil {
		return fmt.Errorf("%s: %w", f.plan, err)
	}
	for _, e := range p.Forced() {
		a.logger.WarnContext(ctx, "required reference is broken, its values are written before their targets", "edge", e.String())
	}
	opts, err := a.executorOptions(cmd, f)
	if err != nil {
		return err
	}
	if err := a.confirm(g, f.yes); err != nil {
		return err
	}

	srcDB, err := openDB(ctx, "source", a.cfg.Source)
	if err != nil {
		return err
	}
	defer srcDB.Close()
	dstDB, err := openDB(ctx, "destination", a.cfg.Destination)
	if err != nil {
		return err
	}
	defer dstDB.Close()
	if !f.skipValidation {
		if err := a.validate(ctx, dstDB, g); err != nil {
			return err
		}
	}

	src := driver(srcDB, a.cfg.Source, "source", f.debug, a.logger)
	dst := driver(dstDB, a.cfg.Destination, "destination", f.debug, a.logger)
	report, err := migrate.Execute(ctx, p, g, sqlmigrate.NewSource(src), sqlmigrate.NewDestination(dst), opts...)
	if report != nil {
		if werr := report.WriteText(a.out); werr != nil {
			err = errors.Join(err, werr)
		}
		if f.report != "" {
			err = errors.Join(err, writeReport(f.report, report))
		}
		err = errors.Join(err, report.Err())
	}
	a.logger.InfoContext(ctx, "statements",
		"source", src.QueryStats().Stats().String(),
		"destination", dst.QueryStats().Stats().String())
	return err
}

// executorOptions merges the configuration with the flags set on the
// command line.
func (a *app) executorOptions(cmd *cobra.Command, f *migrateFlags) ([]migrate.Option, error) {
	c := a.cfg.Migrate
	flags := cmd.Flags()
	if flags.Changed("batch-size") {
		c.BatchSize = f.batchSize
	}
	if flags.Changed("workers") {
		c.Workers = f.workers
	}
	if flags.Changed("retry") {
		c.Retry = f.retry
	}
	if f.noDisable {
		c.DisableConstraints = false
	}
	if flags.Changed("checkpoint") {
		c.Checkpoint = f.checkpoint
	}
	retry, err := migrate.ParseRetryPolicy(c.Retry)
	if err != nil {
		return nil, err
	}
	opts := []migrate.Option{
		migrate.WithLogger(a.logger),
		migrate.WithBatchSize(c.BatchSize),
		migrate.WithRetry(retry),
		migrate.WithConstraintToggling(c.DisableConstraints),
		migrate.WithResume(f.resume),
	}
	if c.Workers != 0 {
		opts = append(opts, migrate.WithWorkers(c.Workers))
	}
	if c.Checkpoint != "" {
		opts = append(opts, migrate.WithCheckpoint(c.Checkpoint))
	}
	// Surface configuration errors before connecting.
	if _, err := migrate.New(opts...); err != nil {
		return nil, err
	}
	return opts, nil
}

// confirm asks before the destination tables are emptied.
func (a *app) confirm(g *graph.Graph, yes bool) error {
	if yes {
		return nil
	}
	if !a.interactive() {
		return errors.New("refusing to empty destination tables without confirmation; rerun with --yes")
	}
	fmt.Fprintf(a.out, "All rows of %d tables in the %s destination will be deleted and reloaded.\nType 'yes' to continue: ",
		g.Len(), a.cfg.Destination.Driver)
	line, err := bufio.NewReader(a.in).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("read confirmation: %w", err)
	}
	if !strings.EqualFold(strings.TrimSpace(line), "yes") {
		return errors.New("migration canceled")
	}
	return nil
}

// validate checks that the destination tables can hold the rows. Missing
// tables are skipped by the executor and only reported.
func (a *app) validate(ctx context.Context, db schema.ExecQuerier, g *graph.Graph) error {
	d := a.cfg.Destination
	res, err := schema.Validate(ctx, d.Driver, db, g.Entities(),
		schema.AllowMissingTable(),
		schema.WithInspectOptions(schema.WithSchemaName(d.Schema)),
	)
	if err != nil {
		return fmt.Errorf("validate destination: %w", err)
	}
	for _, w := range res.Warnings {
		a.logger.WarnContext(ctx, "destination", "table", w.Table, "column", w.Column, "warning", w.Message)
	}
	if res.HasErrors() {
		fmt.Fprintln(a.errOut, res.String())
		return errors.New("the destination cannot hold the migrated rows; rerun with --skip-validation to migrate anyway")
	}
	return nil
}

func writeReport(path string, r *migrate.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if err := r.WriteJSON(f); err != nil {
		f.Close()
		return fmt.Errorf("write report: %w", err)
	}
	return f.Close()
}
