package commands

import (
	"io"
	"os"
	"path/filepath"

	"github.com/Sternrassler/sensboxd/pkg/catalog"
	"github.com/Sternrassler/sensboxd/pkg/collection"
	"github.com/Sternrassler/sensboxd/pkg/config"
	"github.com/Sternrassler/sensboxd/pkg/export"
	"github.com/Sternrassler/sensboxd/pkg/fetchloop"
	"github.com/Sternrassler/sensboxd/pkg/logging"
	"github.com/rs/zerolog/log"
)

// app is one wired session: catalog client, store, loop and planner.
type app struct {
	cfg     config.Config
	store   *collection.Store
	loop    *fetchloop.Loop
	planner *export.Planner
	logFile *os.File
}

// newApp loads the configuration, applies flags and wires the session.
// stderr receives logs unless a log file is configured; interactive
// sessions always log to a file because the terminal belongs to the UI.
func newApp(f *rootFlags, stderr io.Writer, interactive bool) (*app, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyOverrides(f.overrides()); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}

	output := stderr
	logPath := cfg.Log.File
	if logPath == "" && interactive {
		logPath = filepath.Join(os.TempDir(), "sensboxd.log")
	}
	if logPath != "" {
		a.logFile, err = logging.OpenFile(logPath)
		if err != nil {
			return nil, err
		}
		output = a.logFile
	}
	logCfg := cfg.LoggingConfig(output)
	logCfg.Pretty = cfg.Log.Pretty && logPath == ""
	logging.Setup(logCfg)

	client, err := catalog.New(cfg.CatalogConfig())
	if err != nil {
		a.close()
		return nil, err
	}

	storeCfg := cfg.StoreConfig()
	if !interactive {
		// Nobody can scroll in a headless run, so it must never pause.
		storeCfg.AutoContinue = true
	}
	a.store = collection.New(storeCfg)
	a.loop = fetchloop.New(client, a.store, cfg.LoopConfig())

	loc, err := cfg.Location()
	if err != nil {
		a.close()
		return nil, err
	}
	a.planner, err = export.NewPlanner(loc)
	if err != nil {
		a.close()
		return nil, err
	}
	a.planner.SourceName = cfg.Export.SourceName

	log.Debug().
		Str("endpoint", cfg.Catalog.Endpoint).
		Bool("via_proxy", cfg.Catalog.ProxyURL != "").
		Int("page_size", cfg.Fetch.PageSize).
		Msg("Session wired")

	return a, nil
}

func (a *app) close() {
	if a.loop != nil {
		a.loop.Close()
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
}
