package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "draftflow",
	Short: "Draftflow inspects pipeline definitions and run records",
	Long: `Draftflow is a cyclic, stage-based orchestration engine for review
workflows. This tool validates pipeline definition files and replays the
journaled decision trail of past runs.`,
}

// Execute runs the root command and exits non-zero on failure
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
