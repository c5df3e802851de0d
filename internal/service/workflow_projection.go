package service

import (
	"time"

	"github.com/noah-isme/lab-access-api/internal/dto"
	"github.com/noah-isme/lab-access-api/internal/models"
)

// stageDecision extracts the timestamp/actor pair the stage wrote on the
// request, or nil when the stage has not decided.
func stageDecision(req *models.AccessRequest, stage Stage) (*time.Time, *string) {
	switch stage.Column {
	case "guide":
		return req.GuideApprovedAt, req.GuideApprovedBy
	case "hod":
		return req.HODApprovedAt, req.HODApprovedBy
	case "it_services":
		return req.ITServicesApprovedAt, req.ITServicesApprovedBy
	}
	if stage.Final() {
		return req.ApprovedAt, nil
	}
	return nil, nil
}

// Timeline projects the ordered stage view for a request: exactly the
// stages that apply to its submitter class, each marked completed, pending,
// or rejected. When a rejecting ledger entry is available its recorded
// stage attributes the rejection; otherwise the first stage lacking a
// timestamp is marked, which is the best the request row alone supports.
func (w *Workflow) Timeline(req *models.AccessRequest, rejection *models.ApprovalRecord) []dto.WorkflowStep {
	submitted := req.SubmittedAt
	steps := []dto.WorkflowStep{{
		Stage:     "submitted",
		State:     dto.StageCompleted,
		Timestamp: &submitted,
	}}

	plan := w.Plan(req.RequesterRole)
	firstOpen := -1
	for i, st := range plan {
		ts, actor := stageDecision(req, st)
		step := dto.WorkflowStep{Stage: st.Name, State: dto.StagePending}
		if ts != nil {
			step.State = dto.StageCompleted
			step.Timestamp = ts
			step.ActorID = actor
		} else if firstOpen < 0 {
			firstOpen = i
		}
		steps = append(steps, step)
	}

	if req.Status == models.StatusRejected {
		idx := -1
		if rejection != nil {
			for i, st := range plan {
				if st.Name == rejection.Stage {
					idx = i
					break
				}
			}
		}
		if idx < 0 {
			idx = firstOpen
		}
		if idx >= 0 {
			steps[idx+1].State = dto.StageRejected
			steps[idx+1].Timestamp = req.RejectedAt
		}
	}

	return steps
}
