package pipeline

import (
	"fmt"
	"strings"

	"github.com/glimte/draftflow-go/journal"
)

// ReplayStep is one reconstructed decision from the run record
type ReplayStep struct {
	StageID   string
	Group     string
	Iteration int
	Approved  bool
	Feedback  string
	Override  string
	Error     string
}

// Replay reconstructs the decision trail of a run from its journal records.
// Records are assumed to be in append order, as GetByRunID returns them.
func Replay(records []*journal.StepRecord) []ReplayStep {
	steps := make([]ReplayStep, 0, len(records))
	for _, rec := range records {
		steps = append(steps, ReplayStep{
			StageID:   rec.StageID,
			Group:     rec.Group,
			Iteration: rec.Iteration,
			Approved:  rec.Approved,
			Feedback:  rec.Feedback,
			Override:  rec.Override,
			Error:     rec.Error,
		})
	}
	return steps
}

// FormatTrail renders a decision trail as a human-readable report
func FormatTrail(runID string, steps []ReplayStep) string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s (%d steps)\n", runID, len(steps))

	for i, step := range steps {
		verdict := "approved"
		switch {
		case step.Error != "":
			verdict = "failed"
		case !step.Approved:
			verdict = "rejected"
		}

		fmt.Fprintf(&b, "%3d. [iter %d] %s", i+1, step.Iteration, step.StageID)
		if step.Group != "" {
			fmt.Fprintf(&b, " (group %s)", step.Group)
		}
		fmt.Fprintf(&b, ": %s", verdict)
		if step.Feedback != "" {
			fmt.Fprintf(&b, " (%s)", step.Feedback)
		}
		if step.Override != "" {
			fmt.Fprintf(&b, " -> override %s", step.Override)
		}
		if step.Error != "" {
			fmt.Fprintf(&b, " (%s)", step.Error)
		}
		b.WriteString("\n")
	}

	return b.String()
}
