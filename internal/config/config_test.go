package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ning0612/dsync/internal/domain"
	"github.com/Ning0612/dsync/internal/logger"
)

func TestLoadFromString(t *testing.T) {
	cfg, err := LoadFromString(`
workers: 4
chunk_size: 65536
exclude:
  - "*.tmp"
  - ".git"
log:
  level: debug
  format: json
cache:
  compress: false
`)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, int64(65536), cfg.ChunkSize)
	assert.Equal(t, 1<<20, cfg.BufferSize)
	assert.Equal(t, []string{"*.tmp", ".git"}, cfg.Exclude)
	assert.False(t, cfg.Cache.Compress)

	lc := cfg.LoggerConfig()
	assert.Equal(t, logger.LevelDebug, lc.Level)
	assert.Equal(t, logger.FormatJSON, lc.Format)
	require.Len(t, lc.Outputs, 1)
	assert.Equal(t, logger.OutputStderr, lc.Outputs[0].Type)
}

func TestLoadFromStringDefaults(t *testing.T) {
	cfg, err := LoadFromString("{}")
	require.NoError(t, err)
	d := Default()
	assert.Equal(t, d.Workers, cfg.Workers)
	assert.Equal(t, d.ChunkSize, cfg.ChunkSize)
	assert.True(t, cfg.Cache.Compress)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"zero workers", "workers: 0"},
		{"negative chunk", "chunk_size: -1"},
		{"zero buffer", "buffer_size: 0"},
		{"empty exclude", "exclude: ['']"},
		{"bad format", "log: {format: xml}"},
		{"file without path", "log: {file: {enabled: true}}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromString(tt.yaml)
			assert.ErrorIs(t, err, domain.ErrConfigInvalid)
		})
	}
}

func TestLoadFileEnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 2\nchunk_size: 4096\nbuffer_size: 8192\n"), 0o644))

	t.Setenv("DSYNC_BUFFER_SIZE", "1024")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("workers", 0, "")
	flags.Int64("chunk-size", 0, "")
	flags.StringArray("exclude", nil, "")
	require.NoError(t, flags.Parse([]string{"--workers", "8"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Workers, "set flag overrides file")
	assert.Equal(t, int64(4096), cfg.ChunkSize, "unset flag keeps file value")
	assert.Equal(t, 1024, cfg.BufferSize, "env overrides file")
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.ErrorIs(t, err, domain.ErrConfigNotFound)
}

func TestLoggerConfigFile(t *testing.T) {
	cfg := Default()
	cfg.Log.File.Enabled = true
	cfg.Log.File.Path = "/var/log/dsync.log"
	require.NoError(t, cfg.Validate())

	lc := cfg.LoggerConfig()
	require.Len(t, lc.Outputs, 2)
	assert.Equal(t, logger.OutputFile, lc.Outputs[1].Type)
	assert.Equal(t, "/var/log/dsync.log", lc.File.Path)
	assert.Equal(t, 10, lc.File.MaxSizeMB)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "x"), ExpandPath("~/x"))
	assert.Equal(t, "", ExpandPath(""))

	t.Setenv("DSYNC_TEST_DIR", "/tmp/dsync")
	assert.Equal(t, "/tmp/dsync/state", ExpandPath("$DSYNC_TEST_DIR/state"))
}
