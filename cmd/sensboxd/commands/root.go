// Package commands implements the sensboxd command tree.
package commands

import (
	"context"
	"fmt"
	"os"
	_ "time/tzdata"

	"github.com/Sternrassler/sensboxd/pkg/config"
	"github.com/spf13/cobra"
)

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configPath string
	user       string
	pageSize   int
	proxy      string
	out        string
	logLevel   string
	logFile    string
}

// overrides turns the set flags into a config layer. Unset flags are zero
// and leave the file values alone.
func (f *rootFlags) overrides() config.Config {
	var o config.Config
	o.Catalog.ProxyURL = f.proxy
	o.Fetch.PageSize = f.pageSize
	o.Export.OutputDir = f.out
	o.Log.Level = f.logLevel
	o.Log.File = f.logFile
	return o
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}

	root := &cobra.Command{
		Use:           "sensboxd",
		Short:         "sensboxd exports a SensCritique collection to Letterboxd CSV files.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "", "JSON5 config file (a .local variant is merged over it)")
	pf.StringVarP(&f.user, "user", "u", "", "SensCritique username")
	pf.IntVar(&f.pageSize, "page-size", 0, "Items requested per page (default from config)")
	pf.StringVar(&f.proxy, "proxy", "", "CORS relay URL to route API requests through")
	pf.StringVarP(&f.out, "out", "o", "", "Directory for exported CSV files")
	pf.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error, disabled")
	pf.StringVar(&f.logFile, "log-file", "", "Write logs to this file instead of stderr")

	root.AddCommand(newExportCmd(f), newBrowseCmd(f))
	return root
}

// ExecuteContext runs the command tree and exits non-zero on error.
func ExecuteContext(ctx context.Context) {
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
