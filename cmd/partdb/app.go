package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/c360studio/partdb/collector"
	"github.com/c360studio/partdb/config"
	"github.com/c360studio/partdb/database"
	"github.com/c360studio/partdb/export"
	"github.com/c360studio/partdb/loader"
	"github.com/c360studio/partdb/manifest"
	"github.com/c360studio/partdb/metrics"
	"github.com/c360studio/partdb/platform"
	"github.com/c360studio/partdb/spmconfig"
	"github.com/c360studio/partdb/stateless"
	"github.com/c360studio/partdb/watch"
)

// App wires configuration to the build pipeline and its outputs.
type App struct {
	cfg    *config.Config
	logger *slog.Logger
	out    io.Writer

	cache   *loader.DocumentCache
	metrics *metrics.Collector
}

// NewApp creates an application for a validated configuration. Exports
// without an output path go to out.
func NewApp(cfg *config.Config, logger *slog.Logger, out io.Writer) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if out == nil {
		out = os.Stdout
	}

	cache, err := loader.NewDocumentCache(0)
	if err != nil {
		return nil, fmt.Errorf("create document cache: %w", err)
	}

	return &App{
		cfg:     cfg,
		logger:  logger,
		out:     out,
		cache:   cache,
		metrics: metrics.New(),
	}, nil
}

// Lists returns the configured manifest lists, resolved against the
// build root.
func (a *App) Lists() ([]manifest.ListEntry, error) {
	args := make([]string, len(a.cfg.Build.ManifestLists))
	for i, p := range a.cfg.Build.ManifestLists {
		args[i] = a.cfg.ResolvePath(p)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("no manifest lists configured")
	}
	return collector.ParsePairs(args)
}

// Layout resolves the stateless handle layout: an explicit layout wins,
// then the TOML profile, then the SPM header.
func (a *App) Layout() (stateless.Layout, error) {
	if a.cfg.Platform.Layout != nil {
		return *a.cfg.Platform.Layout, nil
	}

	var sources platform.Overlay
	if p := a.cfg.Platform.Profile; p != "" {
		profile, err := platform.LoadProfile(a.cfg.ResolvePath(p))
		if err != nil {
			return stateless.Layout{}, err
		}
		sources = append(sources, profile)
	}
	if h := a.cfg.Platform.Header; h != "" {
		header, err := platform.LoadHeader(a.cfg.ResolvePath(h))
		if err != nil {
			if len(sources) == 0 {
				return stateless.Layout{}, err
			}
			a.logger.Debug("Platform header unavailable, using profile only", "error", err)
		} else {
			sources = append(sources, header)
		}
	}
	return platform.LayoutFrom(sources)
}

// Build runs the pipeline once and records the outcome in the metrics.
func (a *App) Build() (*database.Database, error) {
	db, err := a.build()
	a.metrics.RecordBuild(err)
	if err == nil {
		a.metrics.Observe(db)
	}
	return db, err
}

func (a *App) build() (*database.Database, error) {
	lists, err := a.Lists()
	if err != nil {
		return nil, err
	}
	backend, err := spmconfig.ParseBackend(a.cfg.Build.Backend)
	if err != nil {
		return nil, err
	}
	// Env files are read on every build so that watch picks up edits
	env, err := a.environment()
	if err != nil {
		return nil, err
	}

	return database.Build(database.Options{
		Lists:          lists,
		Backend:        backend,
		IsolationLevel: a.cfg.Build.IsolationLevel,
		LayoutFunc:     a.Layout,
		OutDir:         a.cfg.Build.OutDir,
		Env:            env,
		Cache:          a.cache,
		Logger:         a.logger,
	})
}

func (a *App) environment() (*loader.Environment, error) {
	files := make([]string, len(a.cfg.Build.EnvFiles))
	for i, f := range a.cfg.Build.EnvFiles {
		files[i] = a.cfg.ResolvePath(f)
	}
	return loader.NewEnvironment(files...)
}

// Emit writes the exported database and, when configured, the metrics
// textfile.
func (a *App) Emit(db *database.Database) error {
	format, err := export.ParseFormat(a.cfg.Output.Format)
	if err != nil {
		return err
	}

	exporter := export.NewExporter(db)
	if path := a.cfg.Output.Path; path != "" {
		if err := exporter.WriteFile(a.cfg.ResolvePath(path), format); err != nil {
			return err
		}
		a.logger.Debug("Database exported", "path", path, "format", format)
	} else {
		out, err := exporter.Export(format)
		if err != nil {
			return err
		}
		if _, err := io.WriteString(a.out, out); err != nil {
			return fmt.Errorf("write export: %w", err)
		}
	}

	return a.writeMetrics()
}

func (a *App) writeMetrics() error {
	if a.cfg.Output.MetricsFile == "" {
		return nil
	}
	return a.metrics.WriteTextfile(a.cfg.ResolvePath(a.cfg.Output.MetricsFile))
}

// Run builds and emits once.
func (a *App) Run() error {
	db, err := a.Build()
	if err != nil {
		_ = a.writeMetrics()
		return err
	}
	return a.Emit(db)
}

// Watch builds, emits, then rebuilds on every batch of input changes
// until ctx is cancelled. Failed rebuilds are logged and the previous
// outputs are left in place.
func (a *App) Watch(ctx context.Context) error {
	db, err := a.Build()
	if err != nil {
		a.logger.Error("Initial build failed", "error", err)
	} else if err := a.Emit(db); err != nil {
		return err
	}

	for {
		lists, err := a.Lists()
		if err != nil {
			return err
		}

		w, err := watch.New(watch.Config{
			Root:     a.cfg.Build.Root,
			Dirs:     watch.DirsFor(lists, db, a.platformFiles()...),
			Patterns: a.cfg.Watch.Patterns,
			Debounce: a.cfg.Watch.Debounce,
			Logger:   a.logger,
		})
		if err != nil {
			return fmt.Errorf("create watcher: %w", err)
		}

		wctx, cancel := context.WithCancel(ctx)
		if err := w.Start(wctx); err != nil {
			cancel()
			_ = w.Stop()
			return fmt.Errorf("start watcher: %w", err)
		}

		batch, ok := a.nextBatch(ctx, w)
		cancel()
		_ = w.Stop()
		if !ok {
			return nil
		}

		for _, p := range batch.Paths() {
			a.cache.Invalidate(p)
		}
		a.logger.Info("Inputs changed, rebuilding", "changes", len(batch.Changes))

		next, err := a.Build()
		if err != nil {
			a.logger.Error("Rebuild failed", "error", err)
			_ = a.writeMetrics()
			continue
		}
		if err := a.Emit(next); err != nil {
			a.logger.Error("Export failed", "error", err)
			continue
		}
		// Watch the directories of the new database on the next round
		db = next
	}
}

func (a *App) nextBatch(ctx context.Context, w *watch.Watcher) (watch.Batch, bool) {
	select {
	case <-ctx.Done():
		return watch.Batch{}, false
	case batch, ok := <-w.Batches():
		if !ok {
			return watch.Batch{}, false
		}
		return batch, true
	}
}

func (a *App) platformFiles() []string {
	var files []string
	if h := a.cfg.Platform.Header; h != "" {
		files = append(files, a.cfg.ResolvePath(h))
	}
	if p := a.cfg.Platform.Profile; p != "" {
		files = append(files, a.cfg.ResolvePath(p))
	}
	for _, f := range a.cfg.Build.EnvFiles {
		files = append(files, a.cfg.ResolvePath(f))
	}
	return files
}
