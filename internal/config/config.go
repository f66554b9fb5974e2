package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/Ning0612/dsync/internal/domain"
	"github.com/Ning0612/dsync/internal/logger"
)

// Config represents the complete configuration for dsync
type Config struct {
	// Workers is the number of ranks the job runs on
	Workers int `mapstructure:"workers"`

	// ChunkSize is the unit of distributed content comparison, in bytes
	ChunkSize int64 `mapstructure:"chunk_size"`

	// BufferSize is the read buffer used for chunk I/O and file copies
	BufferSize int `mapstructure:"buffer_size"`

	// Exclude lists glob patterns, relative to each root, skipped by the walk
	Exclude []string `mapstructure:"exclude"`

	// StateDir holds the run history database and the destination lock.
	// Empty disables run history.
	StateDir string `mapstructure:"state_dir"`

	Log   LogConfig   `mapstructure:"log"`
	Cache CacheConfig `mapstructure:"cache"`
}

// LogConfig configures the process logger
type LogConfig struct {
	Level  string        `mapstructure:"level"`
	Format string        `mapstructure:"format"`
	File   LogFileConfig `mapstructure:"file"`
}

// LogFileConfig configures the rotated log file
type LogFileConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// CacheConfig configures the list cache files written for outputs
type CacheConfig struct {
	Compress bool `mapstructure:"compress"`
}

// Default returns the configuration used when no file is found
func Default() *Config {
	return &Config{
		Workers:    runtime.NumCPU(),
		ChunkSize:  1 << 20,
		BufferSize: 1 << 20,
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
			File: LogFileConfig{
				MaxSizeMB:  10,
				MaxAgeDays: 30,
				MaxBackups: 5,
			},
		},
		Cache: CacheConfig{Compress: true},
	}
}

// Validate checks if the configuration is complete and consistent
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be at least 1, got %d", domain.ErrConfigInvalid, c.Workers)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", domain.ErrConfigInvalid, c.ChunkSize)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("%w: buffer_size must be positive, got %d", domain.ErrConfigInvalid, c.BufferSize)
	}
	for _, p := range c.Exclude {
		if p == "" {
			return fmt.Errorf("%w: empty exclude pattern", domain.ErrConfigInvalid)
		}
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: unknown log format: %s", domain.ErrConfigInvalid, c.Log.Format)
	}
	if c.Log.File.Enabled && c.Log.File.Path == "" {
		return fmt.Errorf("%w: log.file.path is required when file logging is enabled", domain.ErrConfigInvalid)
	}
	return nil
}

// LoggerConfig converts the log section into a logger configuration.
// Console output goes to stderr so stdout carries only the summary.
func (c *Config) LoggerConfig() logger.Config {
	lc := logger.Config{
		Level:   logger.ParseLevel(c.Log.Level),
		Format:  logger.ParseFormat(c.Log.Format),
		Outputs: []logger.OutputConfig{{Type: logger.OutputStderr}},
	}
	if c.Log.File.Enabled {
		lc.Outputs = append(lc.Outputs, logger.OutputConfig{Type: logger.OutputFile})
		lc.File = logger.FileConfig{
			Enabled:    true,
			Path:       ExpandPath(c.Log.File.Path),
			MaxSizeMB:  c.Log.File.MaxSizeMB,
			MaxAgeDays: c.Log.File.MaxAgeDays,
			MaxBackups: c.Log.File.MaxBackups,
			Compress:   c.Log.File.Compress,
		}
	}
	return lc
}

// ExpandPath expands ~ and environment variables in a path
func ExpandPath(path string) string {
	if path == "" {
		return ""
	}
	// Expand ~ to home directory
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			if len(path) > 1 && (path[1] == '/' || path[1] == filepath.Separator) {
				path = filepath.Join(home, path[2:])
			} else if len(path) == 1 {
				path = home
			}
		}
	}
	path = os.ExpandEnv(path)
	return filepath.Clean(path)
}
