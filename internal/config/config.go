// Package config handles configuration loading, validation, and management for crumbeez.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"crumbeez/internal/logging"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete crumbeez configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Storage configuration for the snapshot, history and journal.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Summary configuration for when summaries are produced.
	Summary SummaryConfig `toml:"summary" json:"summary" yaml:"summary"`

	// Feed configuration for the incoming event stream.
	Feed FeedConfig `toml:"feed" json:"feed" yaml:"feed"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Metrics configuration.
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`

	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`
}

// StorageConfig holds persistence configuration. Empty paths are derived
// from DataDir.
type StorageConfig struct {
	// DataDir is the root of the crumbeez directory.
	DataDir string `toml:"data_dir" json:"data_dir" yaml:"data_dir"`

	// SnapshotPath is the durable log snapshot.
	// Default: <data_dir>/scratchpad/eventlog.snap
	SnapshotPath string `toml:"snapshot_path" json:"snapshot_path" yaml:"snapshot_path"`

	// Compression is the snapshot payload compression: "none", "lz4" or "zstd".
	Compression string `toml:"compression" json:"compression" yaml:"compression"`

	// LogCapacity is the number of entries the durable log retains.
	LogCapacity int `toml:"log_capacity" json:"log_capacity" yaml:"log_capacity"`

	// HistoryPath is the SQLite summary history.
	// Default: <data_dir>/history.db
	HistoryPath string `toml:"history_path" json:"history_path" yaml:"history_path"`

	// SummariesDir holds the Markdown journal.
	// Default: <data_dir>/summaries
	SummariesDir string `toml:"summaries_dir" json:"summaries_dir" yaml:"summaries_dir"`

	// BusyTimeoutMs is the SQLite busy timeout in milliseconds.
	BusyTimeoutMs int `toml:"busy_timeout_ms" json:"busy_timeout_ms" yaml:"busy_timeout_ms"`
}

// SummaryConfig controls summary triggers and where summaries go.
type SummaryConfig struct {
	// InactivitySec is the idle time after which pending activity is summarized.
	// 0 disables the inactivity trigger.
	InactivitySec int `toml:"inactivity_sec" json:"inactivity_sec" yaml:"inactivity_sec"`

	// PendingLimit is how many summaries are kept in memory.
	PendingLimit int `toml:"pending_limit" json:"pending_limit" yaml:"pending_limit"`

	// OnPaneSwitch summarizes the current pane's activity before a focus change.
	OnPaneSwitch bool `toml:"on_pane_switch" json:"on_pane_switch" yaml:"on_pane_switch"`

	// History records every summary in the SQLite history.
	History bool `toml:"history" json:"history" yaml:"history"`

	// Journal appends every summary to the daily Markdown file.
	Journal bool `toml:"journal" json:"journal" yaml:"journal"`
}

// FeedConfig describes the event stream.
type FeedConfig struct {
	// Path is the NDJSON event file; "-" reads standard input.
	Path string `toml:"path" json:"path" yaml:"path"`

	// Follow keeps reading as the file grows.
	Follow bool `toml:"follow" json:"follow" yaml:"follow"`

	// Validate checks each line against the event schema.
	Validate bool `toml:"validate" json:"validate" yaml:"validate"`

	// PollMs is the follow poll interval in milliseconds.
	PollMs int `toml:"poll_ms" json:"poll_ms" yaml:"poll_ms"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is the log output: "stdout", "stderr", "file" or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the path to the log file (when Output is "file" or "both").
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the maximum log file size before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of old log files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	// MaxAgeDays is the maximum age of log files in days.
	MaxAgeDays int `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`

	// Compress determines whether to compress rotated logs.
	Compress bool `toml:"compress" json:"compress" yaml:"compress"`

	// KeystrokeText writes typed text and pane titles into the log.
	KeystrokeText bool `toml:"keystroke_text" json:"keystroke_text" yaml:"keystroke_text"`
}

// MetricsConfig holds the metrics endpoint configuration.
type MetricsConfig struct {
	// Enabled serves metrics over HTTP while ingesting.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// ListenAddr is the HTTP listen address.
	ListenAddr string `toml:"listen_addr" json:"listen_addr" yaml:"listen_addr"`

	// Namespace prefixes every metric name.
	Namespace string `toml:"namespace" json:"namespace" yaml:"namespace"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: Version,
		Storage: StorageConfig{
			DataDir:       DataDir(),
			Compression:   "zstd",
			LogCapacity:   10000,
			BusyTimeoutMs: 5000,
		},
		Summary: SummaryConfig{
			InactivitySec: 10,
			PendingLimit:  10,
			OnPaneSwitch:  true,
			History:       true,
			Journal:       true,
		},
		Feed: FeedConfig{
			Path:     "-",
			Validate: true,
			PollMs:   250,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   logging.DefaultLogPath(),
			MaxSizeMB:  20,
			MaxBackups: 5,
			MaxAgeDays: 14,
			Compress:   true,
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: "127.0.0.1:9464",
			Namespace:  "crumbeez",
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	if p := FindConfigFile(); p != "" {
		return p
	}
	return filepath.Join(DataDir(), "config.toml")
}

// Load reads configuration from the specified path, applies environment
// overrides and validates the result. A missing file yields the defaults.
// TOML, JSON, and YAML are chosen by file extension.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// SnapshotPath returns the snapshot file location.
func (c *Config) SnapshotPath() string {
	if c.Storage.SnapshotPath != "" {
		return c.Storage.SnapshotPath
	}
	return filepath.Join(c.Storage.DataDir, ScratchpadDirName, "eventlog.snap")
}

// HistoryPath returns the SQLite history location.
func (c *Config) HistoryPath() string {
	if c.Storage.HistoryPath != "" {
		return c.Storage.HistoryPath
	}
	return filepath.Join(c.Storage.DataDir, "history.db")
}

// SummariesDir returns the Markdown journal directory.
func (c *Config) SummariesDir() string {
	if c.Storage.SummariesDir != "" {
		return c.Storage.SummariesDir
	}
	return filepath.Join(c.Storage.DataDir, SummariesDirName)
}

// CrashDir returns where crash reports are written.
func (c *Config) CrashDir() string {
	return filepath.Join(c.Storage.DataDir, "crashes")
}

// Inactivity returns the inactivity threshold; zero means disabled.
func (c *Config) Inactivity() time.Duration {
	return time.Duration(c.Summary.InactivitySec) * time.Second
}

// BusyTimeout returns the SQLite busy timeout.
func (c *Config) BusyTimeout() time.Duration {
	return time.Duration(c.Storage.BusyTimeoutMs) * time.Millisecond
}

// PollInterval returns the feed follow poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Feed.PollMs) * time.Millisecond
}

// LogConfig converts the logging section for the logging package.
func (c *Config) LogConfig() (*logging.Config, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(c.Logging.Format)
	if err != nil {
		return nil, err
	}
	lc := logging.DefaultConfig()
	lc.Level = level
	lc.Format = format
	lc.Output = c.Logging.Output
	lc.FilePath = c.Logging.FilePath
	lc.MaxSize = int64(c.Logging.MaxSizeMB)
	lc.MaxBackups = c.Logging.MaxBackups
	lc.MaxAge = c.Logging.MaxAgeDays
	lc.Compress = c.Logging.Compress
	lc.LogKeystrokeText = c.Logging.KeystrokeText
	return lc, nil
}

// EnsureDirectories creates all directories the configured files live in.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDir,
		filepath.Dir(c.SnapshotPath()),
		filepath.Dir(c.HistoryPath()),
		c.SummariesDir(),
	}
	if c.Logging.Output == "file" || c.Logging.Output == "both" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ApplyEnvOverrides applies environment variable overrides to the
// configuration. Variables are prefixed with CRUMBEEZ_.
func (c *Config) ApplyEnvOverrides() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	strs := map[string]*string{
		"CRUMBEEZ_DATA_DIR":     &c.Storage.DataDir,
		"CRUMBEEZ_SNAPSHOT":     &c.Storage.SnapshotPath,
		"CRUMBEEZ_COMPRESSION":  &c.Storage.Compression,
		"CRUMBEEZ_HISTORY_PATH": &c.Storage.HistoryPath,
		"CRUMBEEZ_FEED":         &c.Feed.Path,
		"CRUMBEEZ_LOG_LEVEL":    &c.Logging.Level,
		"CRUMBEEZ_LOG_FORMAT":   &c.Logging.Format,
		"CRUMBEEZ_LOG_OUTPUT":   &c.Logging.Output,
		"CRUMBEEZ_LOG_PATH":     &c.Logging.FilePath,
		"CRUMBEEZ_METRICS_ADDR": &c.Metrics.ListenAddr,
	}
	for name, dst := range strs {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"CRUMBEEZ_INACTIVITY_SEC": &c.Summary.InactivitySec,
		"CRUMBEEZ_LOG_CAPACITY":   &c.Storage.LogCapacity,
	}
	for name, dst := range ints {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = n
		}
	}

	if v := os.Getenv("CRUMBEEZ_LOG_KEYSTROKE_TEXT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CRUMBEEZ_LOG_KEYSTROKE_TEXT: %w", err)
		}
		c.Logging.KeystrokeText = b
	}
	return nil
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &Config{
		Version: c.Version,
		Storage: c.Storage,
		Summary: c.Summary,
		Feed:    c.Feed,
		Logging: c.Logging,
		Metrics: c.Metrics,
	}
}
