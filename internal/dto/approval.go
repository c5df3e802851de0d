package dto

import (
	"time"

	"github.com/noah-isme/lab-access-api/internal/models"
)

// ApprovePayload carries an optional comment for an approve decision.
type ApprovePayload struct {
	Comment string `json:"comment" validate:"omitempty,max=1000"`
}

// RejectPayload carries the mandatory rejection reason.
type RejectPayload struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

// StageState is the projection state of a single workflow step.
type StageState string

const (
	StageCompleted StageState = "completed"
	StagePending   StageState = "pending"
	StageRejected  StageState = "rejected"
	StageSkipped   StageState = "skipped"
)

// WorkflowStep is one row of the ordered stage timeline.
type WorkflowStep struct {
	Stage     string     `json:"stage"`
	State     StageState `json:"state"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	ActorID   *string    `json:"actor_id,omitempty"`
}

// WorkflowStatusResponse bundles the request with its stage timeline.
type WorkflowStatusResponse struct {
	Request       *models.AccessRequest `json:"request"`
	Workflow      []WorkflowStep        `json:"workflow"`
	CurrentStatus models.RequestStatus  `json:"current_status"`
}

// WorklistResponse is the per-approver dashboard payload.
type WorklistResponse struct {
	AwaitingAction []models.AccessRequest `json:"awaiting_action"`
	Decided        []models.AccessRequest `json:"decided"`
}
