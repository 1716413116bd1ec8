package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/glimte/draftflow-go/pipeline"
)

var validateCmd = &cobra.Command{
	Use:   "validate <definition.yaml>",
	Short: "Check a pipeline definition for consistency",
	Long: `Loads a YAML pipeline definition and validates its structure: stage
IDs, flow edges, fan-out groups, and the iteration bound. Handlers are not
needed; only the declared graph is checked.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		def, err := pipeline.LoadDefinition(args[0])
		if err != nil {
			return err
		}
		if err := def.Validate(); err != nil {
			return fmt.Errorf("definition is invalid: %w", err)
		}

		fmt.Printf("pipeline %s is valid (%d stages, entry %s, max %d iterations)\n",
			def.ID, len(def.Stages), def.Entry, maxIterations(def))
		return nil
	},
}

func maxIterations(def *pipeline.Definition) int {
	if def.MaxIterations > 0 {
		return def.MaxIterations
	}
	return pipeline.DefaultMaxIterations
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
