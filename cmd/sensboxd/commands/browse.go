package commands

import (
	"github.com/Sternrassler/sensboxd/internal/tui"
	"github.com/spf13/cobra"
)

func newBrowseCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "browse [--user <name>]",
		Short: "Opens the interactive collection browser.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(f, cmd.ErrOrStderr(), true)
			if err != nil {
				return err
			}
			defer a.close()

			return tui.Run(cmd.Context(), tui.Options{
				Store:       a.store,
				Loop:        a.loop,
				Planner:     a.planner,
				Messages:    a.cfg.Messages,
				PageSize:    a.cfg.Fetch.PageSize,
				FetchAll:    true,
				OutputDir:   a.cfg.Export.OutputDir,
				Concurrency: a.cfg.Export.Concurrency,
				Username:    f.user,
			})
		},
	}
}
