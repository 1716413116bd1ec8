package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/glimte/draftflow-go/journal"
	"github.com/glimte/draftflow-go/pipeline"
)

var journalPath string

var replayCmd = &cobra.Command{
	Use:   "replay <run-id>",
	Short: "Reconstruct the decision trail of a past run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recorder, err := journal.OpenSQLite(journalPath)
		if err != nil {
			return err
		}
		defer recorder.Close()

		records, err := recorder.GetByRunID(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return fmt.Errorf("no records for run %s", args[0])
		}

		fmt.Print(pipeline.FormatTrail(args[0], pipeline.Replay(records)))
		return nil
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List the runs present in the journal",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		recorder, err := journal.OpenSQLite(journalPath)
		if err != nil {
			return err
		}
		defer recorder.Close()

		runs, err := recorder.ListRuns(cmd.Context())
		if err != nil {
			return err
		}
		for _, id := range runs {
			fmt.Println(id)
		}
		return nil
	},
}

func init() {
	replayCmd.Flags().StringVar(&journalPath, "journal", "draftflow.db", "Path to the journal database")
	runsCmd.Flags().StringVar(&journalPath, "journal", "draftflow.db", "Path to the journal database")
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(runsCmd)
}
