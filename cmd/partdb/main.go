// Package main provides the partdb binary entry point.
// Partdb reads secure partition manifests and builds the partition
// database that the firmware file generator renders.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360studio/partdb/config"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "partdb"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options holds the command line settings. Only flags the user set
// override the configuration files.
type options struct {
	configPath string
	logLevel   string
	quiet      bool

	manifestLists  []string
	positional     []string
	outDir         string
	backend        string
	isolationLevel int
	header         string
	profile        string
	envFiles       []string
	format         string
	output         string
	metricsFile    string
	debounce       time.Duration
}

func rootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   appName + " [LIST DIR]...",
		Short: "Secure partition manifest database builder",
		Long: `Partdb reads the manifest lists and partition manifests of a secure
firmware build and produces the partition database:

- validated partitions with assigned partition IDs
- SPM configuration flags derived from backend, isolation level and usage
- the stateless service table with encoded handles

The database is exported as YAML, JSON or C defines for the file generator.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.positional = args
			return runBuild(cmd, opts)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVarP(&opts.quiet, "quiet", "q", false, "Only log warnings and errors")
	addBuildFlags(cmd, opts)

	build := &cobra.Command{
		Use:   "build [LIST DIR]...",
		Short: "Build and export the partition database",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.positional = args
			return runBuild(cmd, opts)
		},
	}
	addBuildFlags(build, opts)
	cmd.AddCommand(build)

	watchCmd := &cobra.Command{
		Use:   "watch [LIST DIR]...",
		Short: "Rebuild the partition database when its inputs change",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.positional = args
			return runWatch(cmd, opts)
		},
	}
	addBuildFlags(watchCmd, opts)
	watchCmd.Flags().DurationVar(&opts.debounce, "debounce", 0, "Wait this long for more changes before rebuilding")
	cmd.AddCommand(watchCmd)

	// Version command
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func addBuildFlags(cmd *cobra.Command, opts *options) {
	f := cmd.Flags()
	f.StringSliceVarP(&opts.manifestLists, "manifest-lists", "m", nil,
		"Manifest list files and their original directories, alternating")
	f.StringVarP(&opts.outDir, "outdir", "o", "", "Root directory for generated files")
	f.StringVarP(&opts.backend, "backend", "b", "", "SPM backend (IPC or SFN)")
	f.IntVarP(&opts.isolationLevel, "isolation-level", "l", 0, "Isolation level (1-3)")
	f.StringVar(&opts.header, "platform-header", "", "SPM header defining the stateless handle layout")
	f.StringVar(&opts.profile, "platform-profile", "", "TOML platform profile with the stateless handle layout")
	f.StringSliceVar(&opts.envFiles, "env-file", nil, "Dotenv files overlaid on the environment for path expansion")
	f.StringVar(&opts.format, "format", "", "Export format (yaml, json, defines)")
	f.StringVar(&opts.output, "output", "", "Export destination (stdout if empty)")
	f.StringVar(&opts.metricsFile, "metrics-file", "", "Write Prometheus metrics to this textfile")
}

// applyFlags overrides cfg with every flag set on cmd.
func applyFlags(cmd *cobra.Command, opts *options, cfg *config.Config) {
	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}

	// Positional arguments continue the -m pairs
	if changed("manifest-lists") || len(opts.positional) > 0 {
		lists := append([]string{}, opts.manifestLists...)
		cfg.Build.ManifestLists = absPaths(append(lists, opts.positional...))
	}
	if changed("outdir") {
		cfg.Build.OutDir = opts.outDir
	}
	if changed("backend") {
		cfg.Build.Backend = strings.ToUpper(opts.backend)
	}
	if changed("isolation-level") {
		cfg.Build.IsolationLevel = opts.isolationLevel
	}
	if changed("platform-header") {
		cfg.Platform.Header = absPath(opts.header)
	}
	if changed("platform-profile") {
		cfg.Platform.Profile = absPath(opts.profile)
	}
	if changed("env-file") {
		cfg.Build.EnvFiles = absPaths(opts.envFiles)
	}
	if changed("format") {
		cfg.Output.Format = opts.format
	}
	if changed("output") {
		cfg.Output.Path = absPath(opts.output)
	}
	if changed("metrics-file") {
		cfg.Output.MetricsFile = absPath(opts.metricsFile)
	}
	if changed("debounce") {
		cfg.Watch.Debounce = opts.debounce
	}
	if opts.logLevel != "" {
		cfg.Log.Level = strings.ToLower(opts.logLevel)
	}
	if opts.quiet && (cfg.Log.Level == "debug" || cfg.Log.Level == "info") {
		cfg.Log.Level = "warn"
	}
}

// Paths given on the command line are relative to the working directory,
// not the build root.
func absPath(p string) string {
	if p == "" {
		return p
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

func absPaths(ps []string) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = absPath(p)
	}
	return out
}

// setup loads and validates the configuration and configures logging.
func setup(cmd *cobra.Command, opts *options) (*App, error) {
	cfg, err := config.NewLoader(nil).Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	applyFlags(cmd, opts, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	return NewApp(cfg, logger, cmd.OutOrStdout())
}

func newLogger(level string) *slog.Logger {
	l := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func runBuild(cmd *cobra.Command, opts *options) error {
	app, err := setup(cmd, opts)
	if err != nil {
		return err
	}
	return app.Run()
}

func runWatch(cmd *cobra.Command, opts *options) error {
	app, err := setup(cmd, opts)
	if err != nil {
		return err
	}

	// Setup signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("Watching for changes", "version", Version)
	if err := app.Watch(ctx); err != nil {
		return err
	}
	slog.Info("Received shutdown signal")
	return nil
}
