package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"destore/internal/device"
)

var (
	dumpDevice string
	dumpStore  string
	dumpELF    string
	dumpSymbol string
)

var dumpCmd = &cobra.Command{
	Use:   "dump <start> <size>",
	Short: "Read the log partition from a flash device and decode it",
	Long: `Reads the partition page by page from a raw flash device or full flash
image, stopping after the first erased page. <start> and <size> accept
decimal or 0x-prefixed hex.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		start, err := parseNum(args[0])
		if err != nil {
			return fmt.Errorf("start: %w", err)
		}
		size, err := parseNum(args[1])
		if err != nil {
			return fmt.Errorf("size: %w", err)
		}

		path := cfg.Device.Path
		if cmd.Flags().Changed("device") {
			path = dumpDevice
		}
		if path == "" {
			return errors.New("no device: pass --device or set [device] path")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		data, err := device.DumpFile(ctx, path, device.Options{
			Start:     start,
			Size:      size,
			PageSize:  cfg.PageSize,
			ChunkSize: cfg.Device.ChunkSize,
			Logger:    logger,
		})
		if err != nil {
			return err
		}

		if dumpStore != "" {
			if err := os.WriteFile(dumpStore, data, 0644); err != nil {
				return fmt.Errorf("store partition: %w", err)
			}
			logger.Info("partition stored", "path", dumpStore, "size", len(data))
		}
		return decodePartition(cmd, data, dumpELF, symbolFlag(cmd, dumpSymbol))
	},
}

func init() {
	f := dumpCmd.Flags()
	f.StringVar(&dumpDevice, "device", "", "raw flash device or image (default from config)")
	f.StringVar(&dumpStore, "store-partition", "", "also write the dumped partition to this file")
	f.StringVar(&dumpELF, "elf", "", "firmware ELF to take the schema from")
	f.StringVar(&dumpSymbol, "symbol", "", "schema symbol (default from config)")
	rootCmd.AddCommand(dumpCmd)
}
