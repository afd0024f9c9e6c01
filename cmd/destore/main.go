// Command destore decodes structured logs from device flash using schemas
// recovered from the firmware binary.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"destore/internal/cache"
	"destore/internal/config"
	"destore/internal/logging"
	"destore/internal/output"
)

var (
	flagConfig    string
	flagCacheDir  string
	flagLogLevel  string
	flagLogFormat string
	flagFormat    string
)

// Resolved by the root command before any subcommand runs.
var (
	cfg    *config.Config
	logger *slog.Logger
	format output.Format
)

var rootCmd = &cobra.Command{
	Use:           "destore",
	Short:         "Decode destore flash logs against firmware schemas",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup(cmd)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "TOML config file (default ./"+config.DefaultFile+" if present)")
	pf.StringVar(&flagCacheDir, "cache-dir", "", "schema cache directory")
	pf.StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&flagLogFormat, "log-format", "", "log format: text, json")
	pf.StringVar(&flagFormat, "format", "", "record output: text, json, yaml")
}

func setup(cmd *cobra.Command) error {
	var err error
	cfg, err = config.Load(flagConfig)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("cache-dir") {
		cfg.CacheDir = flagCacheDir
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = flagLogLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = flagLogFormat
	}
	if flags.Changed("format") {
		cfg.Output = flagFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	lc, err := cfg.Logging()
	if err != nil {
		return err
	}
	lc.Output = cmd.ErrOrStderr()
	logger = logging.New(lc)
	slog.SetDefault(logger)

	format, err = output.ParseFormat(cfg.Output)
	return err
}

func openCache() (*cache.Cache, error) {
	return cache.Open(cfg.CacheDir, logger)
}

// parseNum accepts decimal or 0x-prefixed hex.
func parseNum(s string) (uint32, error) {
	base := 10
	if t, ok := strings.CutPrefix(strings.ToLower(s), "0x"); ok {
		s, base = t, 16
	}
	v, err := strconv.ParseUint(s, base, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return uint32(v), nil
}

// exitError carries a child process's exit status out of proxy.
type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func main() {
	if err := rootCmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
