package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"destore/internal/harvest"
)

var (
	watchDebounce time.Duration
	watchAll      bool
)

var watchCmd = &cobra.Command{
	Use:   "watch <elf-file...>",
	Short: "Harvest schemas from firmware binaries whenever they are rebuilt",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCache()
		if err != nil {
			return err
		}
		h := &harvest.Harvester{Cache: c, Symbol: cfg.Symbol, All: watchAll, Logger: logger}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		events, err := h.Watch(ctx, args, watchDebounce)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for ev := range events {
			if ev.Err != nil {
				continue
			}
			for _, fp := range ev.Fingerprints {
				fmt.Fprintf(out, "%s %s\n", fp, ev.Path)
			}
		}
		return nil
	},
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", harvest.DefaultDebounce, "quiet time after a write before harvesting")
	watchCmd.Flags().BoolVar(&watchAll, "all", false, "harvest every export starting with the configured symbol")
	rootCmd.AddCommand(watchCmd)
}
