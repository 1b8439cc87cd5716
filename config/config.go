// Package config provides configuration loading and management for partdb.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/partdb/export"
	"github.com/c360studio/partdb/platform"
	"github.com/c360studio/partdb/spmconfig"
	"github.com/c360studio/partdb/stateless"
)

// Config represents the complete partdb configuration
type Config struct {
	Build    BuildConfig    `yaml:"build"`
	Platform PlatformConfig `yaml:"platform"`
	Output   OutputConfig   `yaml:"output"`
	Watch    WatchConfig    `yaml:"watch"`
	Log      LogConfig      `yaml:"log"`
}

// BuildConfig configures the database build
type BuildConfig struct {
	// Root is the firmware source root; relative paths resolve against it
	// (auto-detected from git if empty)
	Root string `yaml:"root"`
	// ManifestLists alternates manifest list files and their original directories
	ManifestLists []string `yaml:"manifest_lists"`
	// Backend is the SPM backend (IPC or SFN)
	Backend string `yaml:"backend"`
	// IsolationLevel is the requested isolation level (1-3)
	IsolationLevel int `yaml:"isolation_level"`
	// OutDir is the root directory for generated files
	OutDir string `yaml:"out_dir"`
	// EnvFiles are dotenv files overlaid on the environment for path expansion
	EnvFiles []string `yaml:"env_files"`
}

// PlatformConfig locates the stateless handle layout
type PlatformConfig struct {
	// Header is the SPM header defining the STATIC_HANDLE_* macros
	Header string `yaml:"header"`
	// Profile is an optional TOML platform profile; it takes precedence over the header
	Profile string `yaml:"profile"`
	// Layout overrides both when set
	Layout *stateless.Layout `yaml:"layout"`
}

// OutputConfig configures what a build writes
type OutputConfig struct {
	// Path is where the exported database is written (empty = stdout)
	Path string `yaml:"path"`
	// Format is the export format (yaml, json, defines)
	Format string `yaml:"format"`
	// MetricsFile is an optional Prometheus textfile destination
	MetricsFile string `yaml:"metrics_file"`
}

// WatchConfig configures watch mode
type WatchConfig struct {
	// Debounce is how long to wait for more changes before rebuilding
	Debounce time.Duration `yaml:"debounce"`
	// Patterns select which changed files trigger a rebuild
	Patterns []string `yaml:"patterns"`
}

// LogConfig configures logging
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Build: BuildConfig{
			Root:           "", // Auto-detect
			Backend:        string(spmconfig.BackendIPC),
			IsolationLevel: 1,
			OutDir:         ".",
		},
		Platform: PlatformConfig{
			Header: platform.DefaultHeader,
		},
		Output: OutputConfig{
			Format: string(export.FormatYAML),
		},
		Watch: WatchConfig{
			Debounce: 200 * time.Millisecond,
			Patterns: []string{"**/*.yaml", "**/*.yml", "**/*.h", "**/*.toml", "**/.env"},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if _, err := spmconfig.ParseBackend(c.Build.Backend); err != nil {
		return fmt.Errorf("build.backend: %w", err)
	}
	if err := spmconfig.ValidateIsolationLevel(c.Build.IsolationLevel); err != nil {
		return fmt.Errorf("build.isolation_level: %w", err)
	}
	if len(c.Build.ManifestLists)%2 != 0 {
		return fmt.Errorf("build.manifest_lists must alternate list files and original directories")
	}
	if _, err := export.ParseFormat(c.Output.Format); err != nil {
		return fmt.Errorf("output.format: %w", err)
	}
	if c.Platform.Layout != nil {
		if err := c.Platform.Layout.Validate(); err != nil {
			return fmt.Errorf("platform.layout: %w", err)
		}
	}
	if c.Platform.Layout == nil && c.Platform.Header == "" && c.Platform.Profile == "" {
		return fmt.Errorf("one of platform.header, platform.profile or platform.layout is required")
	}
	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	return nil
}

// ResolvePath makes p absolute against the build root. Empty paths stay empty.
func (c *Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) || c.Build.Root == "" {
		return p
	}
	return filepath.Join(c.Build.Root, p)
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Build
	if other.Build.Root != "" {
		c.Build.Root = other.Build.Root
	}
	if len(other.Build.ManifestLists) > 0 {
		c.Build.ManifestLists = other.Build.ManifestLists
	}
	if other.Build.Backend != "" {
		c.Build.Backend = other.Build.Backend
	}
	if other.Build.IsolationLevel != 0 {
		c.Build.IsolationLevel = other.Build.IsolationLevel
	}
	if other.Build.OutDir != "" {
		c.Build.OutDir = other.Build.OutDir
	}
	if len(other.Build.EnvFiles) > 0 {
		c.Build.EnvFiles = other.Build.EnvFiles
	}

	// Platform
	if other.Platform.Header != "" {
		c.Platform.Header = other.Platform.Header
	}
	if other.Platform.Profile != "" {
		c.Platform.Profile = other.Platform.Profile
	}
	if other.Platform.Layout != nil {
		layout := *other.Platform.Layout
		c.Platform.Layout = &layout
	}

	// Output
	if other.Output.Path != "" {
		c.Output.Path = other.Output.Path
	}
	if other.Output.Format != "" {
		c.Output.Format = other.Output.Format
	}
	if other.Output.MetricsFile != "" {
		c.Output.MetricsFile = other.Output.MetricsFile
	}

	// Watch
	if other.Watch.Debounce != 0 {
		c.Watch.Debounce = other.Watch.Debounce
	}
	if len(other.Watch.Patterns) > 0 {
		c.Watch.Patterns = other.Watch.Patterns
	}

	// Log
	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
}
