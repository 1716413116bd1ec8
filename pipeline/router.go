package pipeline

// Route resolves the next stage after a completed step. It is a pure
// function of the stage, its result, and the declared edges.
//
// Precedence: an explicit override wins over the declared edges; otherwise
// the approved or rejected edge is taken according to the verdict. An
// override naming an unknown stage is a RoutingError with no fallback.
func Route(stageID string, result *StageResult, flows map[string]FlowEdge) (string, error) {
	if result.NextStageOverride != "" {
		target := result.NextStageOverride
		if target == Terminal {
			return Terminal, nil
		}
		if _, ok := flows[target]; !ok {
			return "", &RoutingError{StageID: stageID, Target: target,
				Reason: "override names an unregistered stage"}
		}
		return target, nil
	}

	edge, ok := flows[stageID]
	if !ok {
		return "", &RoutingError{StageID: stageID, Reason: "stage has no flow edges"}
	}

	if result.Approved {
		if edge.ApprovedTarget == "" {
			return "", &RoutingError{StageID: stageID, Reason: "stage has no approved target"}
		}
		return edge.ApprovedTarget, nil
	}

	if edge.RejectedTarget == "" {
		return "", &RoutingError{StageID: stageID, Reason: "stage has no rejected target"}
	}
	return edge.RejectedTarget, nil
}
