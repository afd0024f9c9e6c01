// Package config loads destore's TOML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"destore/internal/logging"
)

// DefaultFile is read from the working directory when no path is given.
const DefaultFile = "destore.toml"

// Config is the merged configuration.
type Config struct {
	CacheDir string       `toml:"cache_dir"`
	Symbol   string       `toml:"symbol"`
	PageSize int          `toml:"page_size"`
	MaxEntry int          `toml:"max_entry"`
	Output   string       `toml:"output"`
	Log      LogConfig    `toml:"log"`
	Device   DeviceConfig `toml:"device"`
}

// LogConfig selects the logger.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DeviceConfig describes the raw flash source used by dump.
type DeviceConfig struct {
	Path      string `toml:"path"`
	ChunkSize int    `toml:"chunk_size"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		CacheDir: ".destore",
		Symbol:   "_DESTORE_SCHEMA",
		PageSize: 4096,
		MaxEntry: 4096,
		Output:   "text",
		Log:      LogConfig{Level: "info", Format: "text"},
		Device:   DeviceConfig{ChunkSize: 4096},
	}
}

// Load reads path over the defaults, then applies environment overrides
// and validates. An empty path tries DefaultFile and tolerates its absence.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	md, err := toml.DecodeFile(path, cfg)
	switch {
	case err == nil:
		if undec := md.Undecoded(); len(undec) > 0 {
			keys := make([]string, len(undec))
			for i, k := range undec {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: %s: unknown keys: %s", path, strings.Join(keys, ", "))
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides applies DESTORE_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("DESTORE_CACHE_DIR"); v != "" {
		c.CacheDir = v
	}
	if v := os.Getenv("DESTORE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("DESTORE_DEVICE"); v != "" {
		c.Device.Path = v
	}
}

// ValidationError names the offending key.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i := range e {
		msgs[i] = e[i].Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.CacheDir == "" {
		add("cache_dir", "must not be empty")
	}
	if c.Symbol == "" {
		add("symbol", "must not be empty")
	}
	if c.PageSize < 16 || c.PageSize%4 != 0 {
		add("page_size", "%d is not a multiple of 4 of at least 16", c.PageSize)
	}
	if c.MaxEntry <= 0 || c.MaxEntry > 0xffff {
		add("max_entry", "%d outside [1, 65535]", c.MaxEntry)
	}
	switch c.Output {
	case "text", "json", "yaml":
	default:
		add("output", "unknown format %q", c.Output)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		add("log.level", "unknown level %q", c.Log.Level)
	}
	if _, err := logging.ParseFormat(c.Log.Format); err != nil {
		add("log.format", "unknown format %q", c.Log.Format)
	}
	if c.Device.ChunkSize <= 0 {
		add("device.chunk_size", "must be positive")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Logging converts the [log] table to a logger config.
func (c *Config) Logging() (logging.Config, error) {
	lc := logging.DefaultConfig()
	lvl, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		return lc, err
	}
	f, err := logging.ParseFormat(c.Log.Format)
	if err != nil {
		return lc, err
	}
	lc.Level, lc.Format = lvl, f
	return lc, nil
}
