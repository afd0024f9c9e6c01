package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"destore/internal/harvest"
)

var proxyCmd = &cobra.Command{
	Use:   "proxy -- <command...>",
	Short: "Run a flashing command, caching the schema of the binary it flashes",
	Long: `Runs the command with inherited stdio and exits with its status. When
the last argument names an existing file it is treated as the firmware
binary and its schema is harvested into the cache in the background.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if last := args[len(args)-1]; fileExists(last) {
			c, err := openCache()
			if err != nil {
				return err
			}
			h := &harvest.Harvester{Cache: c, Symbol: cfg.Symbol, Logger: logger}
			// Not awaited: the command may finish first.
			h.Background(last)
		}

		child := exec.CommandContext(cmd.Context(), args[0], args[1:]...)
		child.Stdin = os.Stdin
		child.Stdout = cmd.OutOrStdout()
		child.Stderr = cmd.ErrOrStderr()

		err := child.Run()
		var ee *exec.ExitError
		switch {
		case err == nil:
			return nil
		case errors.As(err, &ee):
			code := ee.ExitCode()
			if code < 0 {
				code = 1
			}
			return &exitError{code: code}
		default:
			return fmt.Errorf("proxy: %w", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(proxyCmd)
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular()
}
