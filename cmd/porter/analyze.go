package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/syssam/porter"
	"github.com/syssam/porter/plan"
	"github.com/syssam/porter/schema/load"
)

func (a *app) analyzeCommand() *cobra.Command {
	var (
		entities     string
		out          string
		ignoreCycles bool
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Compute the load order of the entities and write the migration plan",
		Long: `Analyze groups the entities into stages. Every entity is loaded after the
entities it references. The plan is written as JSON (or YAML) together with a
human-readable text rendering.

A cycle of references fails the command unless --ignore-cycles is set, in
which case one reference per cycle is broken and revisited after loading.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			g, err := load.Graph(entities)
			if err != nil {
				return err
			}
			p, err := plan.Build(g, ignoreCycles)
			if porter.IsCyclicDependency(err) {
				fmt.Fprintln(a.errOut, "The entities contain cycles of references; rerun with --ignore-cycles to break them:")
				for _, c := range cycles(err) {
					fmt.Fprintf(a.errOut, "  {%s}\n", strings.Join(c, ", "))
				}
			}
			if err != nil {
				return err
			}
			for _, w := range p.Diagnostics.Warnings {
				a.logger.WarnContext(ctx, w)
			}
			machine, text := planFiles(out)
			if err := plan.WriteFile(machine, p, g); err != nil {
				return err
			}
			if err := plan.WriteFile(text, p, g); err != nil {
				return err
			}
			a.logger.InfoContext(ctx, "plan written",
				"stages", len(p.Stages), "entities", g.Len(),
				"broken", len(p.Diagnostics.EdgesBroken), "file", machine, "text", text)
			return nil
		},
	}
	cmd.Flags().StringVarP(&entities, "entities", "e", "entities.yaml", "Entity metadata file (YAML or JSON)")
	cmd.Flags().StringVarP(&out, "out", "o", "migration_plan", "Plan file; .json is added when there is no extension")
	cmd.Flags().BoolVar(&ignoreCycles, "ignore-cycles", false, "Break cycles of references instead of failing")
	return cmd
}

// planFiles returns the machine-readable and the text plan files for out.
func planFiles(out string) (string, string) {
	ext := filepath.Ext(out)
	switch strings.ToLower(ext) {
	case ".json", ".yaml", ".yml":
		return out, strings.TrimSuffix(out, ext) + ".txt"
	default:
		return out + ".json", out + ".txt"
	}
}

// cycles returns the components of a cyclic dependency error.
func cycles(err error) [][]string {
	var cerr *porter.CyclicDependencyError
	if errors.As(err, &cerr) {
		return cerr.Components
	}
	return nil
}
