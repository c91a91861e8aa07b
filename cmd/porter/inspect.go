package main

import (
	"slices"

	"github.com/spf13/cobra"

	"github.com/syssam/porter/dialect/sql/schema"
	"github.com/syssam/porter/schema/load"
)

func (a *app) inspectCommand() *cobra.Command {
	var (
		out     string
		exclude []string
	)
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Write the tables and foreign keys of the source database as entity metadata",
		Example: `  porter inspect --config porter.yaml --out entities.yaml
  porter inspect --exclude 'django_*' --out -`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			src := a.cfg.Source
			db, err := openDB(ctx, "source", src)
			if err != nil {
				return err
			}
			defer db.Close()
			entities, err := schema.Inspect(ctx, src.Driver, db,
				schema.WithSchemaName(src.Schema),
				schema.WithExclude(slices.Concat(src.Exclude, exclude)...),
			)
			if err != nil {
				return err
			}
			a.logger.InfoContext(ctx, "source inspected", "entities", len(entities))
			if out == "-" {
				return load.Write(a.out, entities)
			}
			if err := load.WriteFile(out, entities); err != nil {
				return err
			}
			a.logger.InfoContext(ctx, "entity metadata written", "file", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "entities.yaml", `Output file, or "-" for standard output`)
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "Table name patterns to leave out")
	return cmd
}
