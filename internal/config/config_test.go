package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "destore.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefaultValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
cache_dir = "/var/cache/destore"
page_size = 8192
output = "json"

[log]
level = "debug"
format = "json"

[device]
path = "/dev/ttyUSB0"
chunk_size = 1024
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/cache/destore", cfg.CacheDir)
	assert.Equal(t, 8192, cfg.PageSize)
	assert.Equal(t, "json", cfg.Output)
	assert.Equal(t, "_DESTORE_SCHEMA", cfg.Symbol, "unset keys keep defaults")
	assert.Equal(t, 4096, cfg.MaxEntry)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Device.Path)

	lc, err := cfg.Logging()
	require.NoError(t, err)
	assert.Equal(t, "json", lc.Format.String())
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	// no explicit path and no ./destore.toml falls back to defaults
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().CacheDir, cfg.CacheDir)
}

func TestLoadUnknownKey(t *testing.T) {
	_, err := Load(writeConfig(t, "cache_dirr = \"x\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache_dirr")
}

func TestLoadSyntaxError(t *testing.T) {
	_, err := Load(writeConfig(t, "page_size = \n"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DESTORE_CACHE_DIR", "/tmp/schemas")
	t.Setenv("DESTORE_LOG_LEVEL", "warn")
	t.Setenv("DESTORE_DEVICE", "/dev/mtd0")

	cfg, err := Load(writeConfig(t, "cache_dir = \"from-file\"\n"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/schemas", cfg.CacheDir)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "/dev/mtd0", cfg.Device.Path)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		mod   func(*Config)
		field string
	}{
		{"page size not word multiple", func(c *Config) { c.PageSize = 4097 }, "page_size"},
		{"page size too small", func(c *Config) { c.PageSize = 8 }, "page_size"},
		{"empty symbol", func(c *Config) { c.Symbol = "" }, "symbol"},
		{"empty cache dir", func(c *Config) { c.CacheDir = "" }, "cache_dir"},
		{"max entry", func(c *Config) { c.MaxEntry = 0 }, "max_entry"},
		{"output", func(c *Config) { c.Output = "xml" }, "output"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"chunk size", func(c *Config) { c.Device.ChunkSize = 0 }, "device.chunk_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mod(cfg)
			err := cfg.Validate()
			var verrs ValidationErrors
			require.True(t, errors.As(err, &verrs), "got %v", err)
			require.Len(t, verrs, 1)
			assert.Equal(t, tt.field, verrs[0].Field)
		})
	}
}
