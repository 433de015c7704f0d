package commands

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/Sternrassler/sensboxd/pkg/export"
	"github.com/Sternrassler/sensboxd/pkg/fetchloop"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newExportCmd(f *rootFlags) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "export --user <name> [--all] [--out <dir>]",
		Short: "Fetches a collection and writes one CSV file per category and list.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(f, cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer a.close()

			fetchAll := all || a.cfg.Fetch.FetchAll
			sum, err := a.loop.Start(cmd.Context(), f.user, a.cfg.Fetch.PageSize, fetchAll)
			if err != nil {
				if msg := a.cfg.Messages.For(err); msg != "" {
					return fmt.Errorf("%s: %w", msg, err)
				}
				return err
			}

			plan, err := a.planner.PlanAllExports(a.store, a.store.Availability())
			if err != nil {
				return fmt.Errorf("@%s: %w", sum.Username, err)
			}
			paths, err := export.WriteJobs(cmd.Context(), a.cfg.Export.OutputDir, plan.Jobs, a.cfg.Export.Concurrency)
			if err != nil {
				return err
			}

			printSummary(cmd.OutOrStdout(), sum, plan, paths)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "Fetch every page instead of only the first")
	return cmd
}

// printSummary renders the written files as a table.
func printSummary(w io.Writer, sum fetchloop.Summary, plan export.Plan, paths []string) {
	fmt.Fprintf(w, "@%s: %d/%d items in %d pages (%s)\n",
		sum.Username, sum.Loaded, sum.Expected, sum.Pages, sum.Duration.Round(time.Millisecond))

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Category", "List", "Items", "File"})
	for i, job := range plan.Jobs {
		file := ""
		if i < len(paths) {
			file = filepath.Base(paths[i])
		}
		t.AppendRow(table.Row{job.Category.Label, job.Kind.String(), job.ItemCount(), file})
	}
	t.AppendFooter(table.Row{"Total", "", plan.TotalItems, fmt.Sprintf("%d files", plan.JobCount)})
	t.SetStyle(table.StyleRounded)
	t.Render()
}
