package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "selfgraph",
	Short: "Personal knowledge graph engine",
	Long: `selfgraph accumulates a personal knowledge graph from uploaded
documents and guided training answers, using a local Ollama model
to extract structured entries.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the selfgraph version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("selfgraph version %s\n", version)
	},
}

func main() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.AddCommand(
		startCmd,
		stopCmd,
		statusCmd,
		versionCmd,
		uploadCmd,
		docsCmd,
		graphCmd,
		configCmd,
	)

	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
