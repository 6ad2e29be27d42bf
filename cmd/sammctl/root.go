// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	jsonOut bool
	verbose bool
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "sammctl",
		Short: "Exercise and inspect the samm memory subsystem",
		Long: `sammctl runs synthetic scope workloads against the samm allocator,
measures the double-free filter and prints the pool geometry.`,
		Version:       "0.1.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&g.jsonOut, "json", false, "Output in JSON format")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "Log subsystem activity to stderr")

	root.AddCommand(newStressCmd(g), newBloomCmd(g), newClassesCmd(g))
	return root
}

func execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// printer formats numbers with thousands separators.
func printer() *message.Printer {
	return message.NewPrinter(language.English)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
