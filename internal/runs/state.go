package runs

import "github.com/fentz26/shipctl/internal/models"

// DeriveState maps a run to a workflow state. A nil run is unknown.
func DeriveState(run *models.RunRecord) models.WorkflowState {
	if run == nil {
		return models.StateUnknown
	}
	switch run.Status {
	case models.RunInProgress:
		return models.StateRunning
	case models.RunQueued:
		return models.StateStarting
	case models.RunCompleted:
		switch run.Conclusion {
		case models.ConclusionSuccess:
			return models.StateStopped
		case models.ConclusionFailure:
			return models.StateFailed
		}
	}
	return models.StateUnknown
}

// Views annotates runs with their derived state.
func Views(records []models.RunRecord) []models.RunView {
	views := make([]models.RunView, 0, len(records))
	for i := range records {
		views = append(views, models.RunView{RunRecord: records[i], State: DeriveState(&records[i])})
	}
	return views
}
