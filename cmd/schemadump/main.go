// Command schemadump prints the schemas a firmware ELF exports.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"destore/internal/elfx"
	"destore/internal/layout"
	"destore/internal/logging"
	"destore/internal/output"
	"destore/internal/schema"
)

var (
	flagSymbol  string
	flagAll     bool
	flagJSON    bool
	flagDOT     bool
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:           "schemadump <elf-file>",
	Short:         "Print the postcard schemas exported by a firmware ELF",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		lc := logging.DefaultConfig()
		if flagVerbose {
			lc.Level = slog.LevelDebug
		}
		lc.Output = cmd.ErrOrStderr()
		log := logging.New(lc)

		f, err := elfx.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		d := layout.NewDecoder(f, layout.Options{Logger: log})
		var exports []layout.Export
		if flagAll {
			exports, err = d.LoadAll(flagSymbol)
		} else {
			var e layout.Export
			e, err = loadOne(d, flagSymbol)
			exports = []layout.Export{e}
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		switch {
		case flagJSON:
			if flagAll {
				return output.WriteJSON(out, exports)
			}
			return output.WriteJSON(out, exports[0])
		case flagDOT:
			_, err := fmt.Fprint(out, output.SchemaDOT(exports, filepath.Base(args[0])))
			return err
		}
		for _, e := range exports {
			if flagAll {
				fmt.Fprintf(out, "%s %s\n", e.Symbol, e.Fingerprint)
				fmt.Fprintf(out, "  %s\n", e.Schema)
				continue
			}
			fmt.Fprintln(out, e.Schema)
		}
		return nil
	},
}

func loadOne(d *layout.Decoder, symbol string) (layout.Export, error) {
	n, err := d.LoadSchema(symbol)
	if err != nil {
		return layout.Export{}, err
	}
	return layout.Export{Symbol: symbol, Fingerprint: schema.FingerprintOf(n), Schema: n}, nil
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&flagSymbol, "symbol", layout.DefaultSymbol, "schema symbol, or prefix with --all")
	f.BoolVar(&flagAll, "all", false, "print every export whose name starts with --symbol")
	f.BoolVar(&flagJSON, "json", false, "print the schema tree as JSON")
	f.BoolVar(&flagDOT, "dot", false, "print a Graphviz containment graph")
	f.BoolVarP(&flagVerbose, "verbose", "v", false, "trace descriptor decoding on stderr")
	rootCmd.MarkFlagsMutuallyExclusive("json", "dot")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
