// Command dissect loads a JavaScript module in dissected form and prints its
// exports and top-level bindings.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "dissect",
		Short: "Introspect the top-level bindings of JavaScript modules",
		Long: `dissect loads a JavaScript module through an embedded CommonJS host so that
its top-level bindings, including unexported ones, can be read and assigned.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON instead of YAML")
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level for loader and console output")

	rootCmd.AddCommand(
		newVersionCmd(),
		newInspectCmd(),
		newPackCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			return writeOutput(cmd.OutOrStdout(), jsonOut, map[string]string{"version": version})
		},
	}
}
