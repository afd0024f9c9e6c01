package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"destore/internal/cache"
	"destore/internal/flash"
	"destore/internal/layout"
	"destore/internal/output"
	"destore/internal/schema"
	"destore/internal/session"
)

var (
	decodeELF    string
	decodeSymbol string
)

var decodeCmd = &cobra.Command{
	Use:   "decode <partition-file>",
	Short: "Decode a stored partition dump",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("partition file: %w", err)
		}
		return decodePartition(cmd, data, decodeELF, symbolFlag(cmd, decodeSymbol))
	},
}

func init() {
	decodeCmd.Flags().StringVar(&decodeELF, "elf", "", "firmware ELF to take the schema from (also stored in the cache)")
	decodeCmd.Flags().StringVar(&decodeSymbol, "symbol", "", "schema symbol (default from config)")
	rootCmd.AddCommand(decodeCmd)
}

func symbolFlag(cmd *cobra.Command, v string) string {
	if cmd.Flags().Changed("symbol") && v != "" {
		return v
	}
	return cfg.Symbol
}

// decodePartition writes every record in data to stdout. With elfPath the
// schema comes from the binary and announcements must match it; without,
// announcements are resolved through the cache.
func decodePartition(cmd *cobra.Command, data []byte, elfPath, symbol string) error {
	c, err := openCache()
	if err != nil {
		return err
	}

	var supplied *schema.Node
	if elfPath != "" {
		supplied, err = layout.LoadFile(elfPath, symbol, layout.Options{Logger: logger})
		if err != nil {
			return err
		}
		storeSupplied(c, supplied)
	}

	logger.Info("decoding partition", "size", len(data))
	s := session.New(session.Options{Cache: c, Schema: supplied, Logger: logger})
	it := flash.Iterate(flash.NewBuffer(data), flash.Range{}, flash.Options{
		PageSize: cfg.PageSize,
		MaxEntry: cfg.MaxEntry,
		Logger:   logger,
	})

	rw := output.NewRecordWriter(cmd.OutOrStdout(), format)
	records := 0
	err = s.Run(it, func(r session.Record) error {
		records++
		return rw.Write(r)
	})
	if err != nil {
		rw.Close()
		return err
	}
	if n, fp := s.Active(); n != nil {
		logger.Info("partition decoded", "records", records, "fingerprint", fp)
	} else {
		logger.Info("partition decoded", "records", records, "fingerprint", "none announced")
	}
	return rw.Close()
}

// storeSupplied caches a schema loaded for decoding. The decode itself
// does not need the cache, so a failure is only logged.
func storeSupplied(c *cache.Cache, n *schema.Node) {
	if _, err := c.Store(n); err != nil {
		logger.Warn("supplied schema not cached", "err", err)
	}
}
