package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"destore/internal/output"
	"destore/internal/schema"
)

var cacheShowJSON bool

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the schema cache",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached schemas",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCache()
		if err != nil {
			return err
		}
		fps, err := c.List()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, fp := range fps {
			n, ok, err := c.Lookup(fp)
			if err != nil {
				fmt.Fprintf(out, "%s <%v>\n", fp, err)
				continue
			}
			if ok {
				fmt.Fprintf(out, "%s %s\n", fp, n)
			}
		}
		return nil
	},
}

var cacheShowCmd = &cobra.Command{
	Use:   "show <fingerprint>",
	Short: "Print a cached schema",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fp, err := schema.ParseFingerprint(args[0])
		if err != nil {
			return err
		}
		c, err := openCache()
		if err != nil {
			return err
		}
		n, ok, err := c.Lookup(fp)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("schema %s not in %s", fp, c.Dir())
		}
		if cacheShowJSON {
			return output.WriteJSON(cmd.OutOrStdout(), n)
		}
		fmt.Fprintln(cmd.OutOrStdout(), n)
		return nil
	},
}

func init() {
	cacheShowCmd.Flags().BoolVar(&cacheShowJSON, "json", false, "print the schema tree as JSON")
	cacheCmd.AddCommand(cacheListCmd, cacheShowCmd)
	rootCmd.AddCommand(cacheCmd)
}
