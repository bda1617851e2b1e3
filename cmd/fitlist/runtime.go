package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/pders01/fitlist/internal/archive"
	"github.com/pders01/fitlist/internal/config"
	"github.com/pders01/fitlist/internal/debuglog"
	"github.com/pders01/fitlist/internal/refresh"
	"github.com/pders01/fitlist/internal/scrape"
	"github.com/pders01/fitlist/internal/search"
	"github.com/pders01/fitlist/internal/storage"
	"github.com/pders01/fitlist/internal/validation"
)

type logTarget int

const (
	// logToConsole writes readable lines to stderr; stdout stays free for
	// command output.
	logToConsole logTarget = iota
	// logToFile writes JSON lines to the configured log file. The terminal
	// belongs to the UI.
	logToFile
	// logToJSON writes JSON lines to stderr.
	logToJSON
)

type runtimeOptions struct {
	logTarget logTarget
	archive   bool
	search    bool
	// requireArchive fails startup when the page archive cannot be opened.
	requireArchive bool
}

// runtime bundles everything a command needs. Fields a command did not ask
// for are nil.
type runtime struct {
	cfg      *config.Config
	store    *storage.Store
	scraper  *scrape.Scraper
	archive  *archive.Archive
	coord    *refresh.Coordinator
	searcher search.Searcher

	closers []func() error
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

func setupLogging(cfg *config.Config, target logTarget) error {
	lc := debuglog.Config{
		Level:   debuglog.ParseLogLevel(cfg.Log.Level),
		Service: "fitlist",
	}
	switch target {
	case logToFile:
		lc.File = cfg.Log.File
	case logToJSON:
		lc.Output = os.Stderr
	default:
		lc.Output = os.Stderr
		lc.Console = true
	}
	return debuglog.Configure(lc)
}

func openStore(cfg *config.Config) (*storage.Store, error) {
	sc := storage.DefaultConfig()
	if cfg.Database.BusyTimeout > 0 {
		sc.BusyTimeout = cfg.Database.BusyTimeout
	}
	sc.RequiredFields = cfg.Scraper.RequiredFields
	path, err := prepareDataPath(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("database path: %w", err)
	}
	cfg.Database.Path = path
	store, err := storage.Open(cfg.Database.Path, sc)
	if err != nil {
		var merr *storage.MigrationError
		if errors.As(err, &merr) {
			return nil, fmt.Errorf("schema migration failed, database left untouched: %w", err)
		}
		return nil, fmt.Errorf("opening database %s: %w", cfg.Database.Path, err)
	}
	return store, nil
}

var dataPaths = validation.NewPermissiveFilePathValidator()

// prepareDataPath cleans a configured data file path and creates its
// directory. SQLite's in-memory name passes through.
func prepareDataPath(path string) (string, error) {
	if path == "" || path == ":memory:" {
		return path, nil
	}
	return dataPaths.EnsureParentDir(path)
}

func newRuntime(ctx context.Context, opts runtimeOptions) (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := setupLogging(cfg, opts.logTarget); err != nil {
		return nil, fmt.Errorf("configuring logging: %w", err)
	}
	log := debuglog.WithComponent("cli")

	rt := &runtime{cfg: cfg}
	rt.closers = append(rt.closers, debuglog.Close)

	rt.store, err = openStore(cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.closers = append(rt.closers, rt.store.Close)

	rt.scraper = scrape.New(cfg)

	if opts.archive || opts.requireArchive {
		switch path := cfg.Database.PageArchive; {
		case path == "" && opts.requireArchive:
			rt.Close()
			return nil, errors.New("no page archive configured (database.page_archive)")
		case path != "":
			var a *archive.Archive
			path, err := prepareDataPath(path)
			if err == nil {
				a, err = archive.Open(path)
			}
			if err != nil {
				if opts.requireArchive {
					rt.Close()
					return nil, err
				}
				// Another fitlist process may hold the archive lock.
				log.Warn().Err(err).Str("path", path).Msg("page archive unavailable, pages will not be archived")
				break
			}
			rt.archive = a
			rt.scraper.AddObserver(a)
			rt.closers = append(rt.closers, a.Close)
		}
	}

	rt.coord = refresh.NewCoordinator(rt.store, rt.scraper, cfg)

	if opts.search {
		rt.searcher = search.NewEngine(rt.store)
		if cfg.Database.SearchIndex != "" {
			idx, err := search.NewBleveEngine(ctx, rt.store, cfg.Database.SearchIndex)
			if err != nil {
				log.Warn().Err(err).Str("path", cfg.Database.SearchIndex).Msg("search index unavailable, falling back to in-memory search")
			} else {
				rt.searcher = idx
				rt.coord.AddListener(idx)
				rt.closers = append(rt.closers, idx.Close)
			}
		}
	}

	return rt, nil
}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}
	rt.closers = nil
}
