// Package database builds the partition database: the validated
// partitions, the SPM configuration flags and the stateless service table
// that the file generator renders.
//
// Build runs the whole pipeline (collect manifest lists, load and validate
// manifests, assign partition IDs, derive the configuration, allocate
// stateless handles) with fresh state on every call, so identical inputs
// always produce an identical database.
package database

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/partdb/collector"
	"github.com/c360studio/partdb/loader"
	"github.com/c360studio/partdb/manifest"
	"github.com/c360studio/partdb/spmconfig"
	"github.com/c360studio/partdb/stateless"
)

// Options are the inputs of a build.
type Options struct {
	// Lists are the manifest lists, in processing order.
	Lists []manifest.ListEntry
	// Backend is the requested SPM backend.
	Backend spmconfig.Backend
	// IsolationLevel is the requested isolation level, 1 to 3.
	IsolationLevel int
	// Layout is the platform's stateless handle layout.
	Layout stateless.Layout
	// LayoutFunc, when set, supplies the layout instead of Layout. It is
	// only called when there are stateless services to place.
	LayoutFunc func() (stateless.Layout, error)
	// OutDir is the root of generated files.
	OutDir string
	// Env resolves variables in manifest paths. Nil uses the process
	// environment.
	Env *loader.Environment
	// Cache serves manifest files across builds. Optional.
	Cache *loader.DocumentCache
	// Logger for progress messages. Nil uses slog.Default().
	Logger *slog.Logger
}

// Database is the result of a build. It is not modified after Build
// returns.
type Database struct {
	Partitions []*manifest.Partition
	Statistics spmconfig.Statistics
	Config     spmconfig.FlagSet
	Stateless  stateless.Table
}

// Build runs the pipeline over opts.Lists.
func Build(opts Options) (*Database, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("run_id", uuid.NewString()))
	start := time.Now()

	refs, err := collector.New(logger).Collect(opts.Lists)
	if err != nil {
		return nil, err
	}
	return buildFromRefs(refs, opts, logger, start)
}

// BuildFromRefs runs the pipeline from already collected references.
func BuildFromRefs(refs []*manifest.Ref, opts Options) (*Database, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return buildFromRefs(refs, opts, logger.With(slog.String("run_id", uuid.NewString())), time.Now())
}

func buildFromRefs(refs []*manifest.Ref, opts Options, logger *slog.Logger, start time.Time) (*Database, error) {
	if err := spmconfig.ValidateIsolationLevel(opts.IsolationLevel); err != nil {
		return nil, err
	}

	ld := loader.New(loader.Options{
		OutDir: opts.OutDir,
		Env:    opts.Env,
		Cache:  opts.Cache,
		Logger: logger,
	})
	partitions, err := ld.Load(refs)
	if err != nil {
		return nil, err
	}

	stats := spmconfig.Aggregate(partitions)
	flags, err := spmconfig.Derive(stats, opts.Backend, opts.IsolationLevel)
	if err != nil {
		return nil, err
	}

	candidates, err := stateless.Collect(partitions)
	if err != nil {
		return nil, err
	}
	layout := opts.Layout
	if opts.LayoutFunc != nil && len(candidates) > 0 {
		if layout, err = opts.LayoutFunc(); err != nil {
			return nil, fmt.Errorf("resolve stateless handle layout: %w", err)
		}
	}
	table, err := stateless.Allocate(candidates, layout)
	if err != nil {
		return nil, err
	}

	logger.Info("Partition database built",
		slog.Int("manifests", len(refs)),
		slog.Int("partitions", len(partitions)),
		slog.Int("stateless_services", table.Used()),
		slog.String("backend", string(opts.Backend)),
		slog.Int("isolation_level", opts.IsolationLevel),
		slog.Duration("elapsed", time.Since(start)))

	return &Database{
		Partitions: partitions,
		Statistics: stats,
		Config:     flags,
		Stateless:  table,
	}, nil
}

// Partition returns the partition with the given name.
func (db *Database) Partition(name string) (*manifest.Partition, error) {
	for _, p := range db.Partitions {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("partition %s not found", name)
}

// PIDs returns the partition IDs in database order.
func (db *Database) PIDs() []int {
	pids := make([]int, len(db.Partitions))
	for i, p := range db.Partitions {
		pids[i] = p.PID
	}
	return pids
}
