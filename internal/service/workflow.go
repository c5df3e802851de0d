package service

import (
	"fmt"

	"github.com/noah-isme/lab-access-api/internal/models"
	appErrors "github.com/noah-isme/lab-access-api/pkg/errors"
)

// Stage is one role-gated step in the approval chain. The engine is driven
// by an ordered stage list instead of per-role branching, so alternative
// chains (different stage names, more or fewer steps) are a different list,
// not a different code path.
type Stage struct {
	// Name identifies the stage in ledger entries and timeline projections.
	Name string
	// Approver is the role authorized to decide this stage. Admin passes
	// every stage check as a superuser.
	Approver models.Role
	// Result is the request status after this stage approves.
	Result models.RequestStatus
	// Column selects which stage timestamp/actor column pair the decision
	// writes. Empty for the final stage, which writes approved_at instead.
	Column string
	// SkipForClass marks stages bypassed for submitters whose role class
	// skips the first stage (faculty, external).
	SkipForClass bool
}

// Final reports whether approving this stage grants the request.
func (s Stage) Final() bool {
	return s.Result == models.StatusApproved
}

// Workflow evaluates legal transitions over an ordered stage list.
type Workflow struct {
	stages []Stage
}

// NewWorkflow builds an engine from an ordered stage list. The last stage
// must result in approved.
func NewWorkflow(stages ...Stage) *Workflow {
	return &Workflow{stages: stages}
}

// DefaultWorkflow returns the canonical four-stage chain:
// guide -> hod -> it_services -> final admin approval.
func DefaultWorkflow() *Workflow {
	return NewWorkflow(
		Stage{Name: "guide", Approver: models.RoleGuide, Result: models.StatusGuideApproved, Column: "guide", SkipForClass: true},
		Stage{Name: "hod", Approver: models.RoleHOD, Result: models.StatusHODApproved, Column: "hod"},
		Stage{Name: "it_services", Approver: models.RoleITServices, Result: models.StatusITServicesApproved, Column: "it_services"},
		Stage{Name: "final", Approver: models.RoleAdmin, Result: models.StatusApproved},
	)
}

// Stages returns the full configured chain.
func (w *Workflow) Stages() []Stage {
	return w.stages
}

// Plan returns the stages that apply to the given submitter. Stages marked
// SkipForClass are dropped for faculty and external submitters; the
// conditional is evaluated from the submitter's role at decision time,
// never stored as a separate status.
func (w *Workflow) Plan(submitter models.Role) []Stage {
	if !submitter.SkipsFirstStage() {
		return w.stages
	}
	plan := make([]Stage, 0, len(w.stages))
	for _, st := range w.stages {
		if st.SkipForClass {
			continue
		}
		plan = append(plan, st)
	}
	return plan
}

// Next returns the stage awaiting action for a request in the given status.
// Terminal statuses and statuses outside the submitter's plan yield
// ErrInvalidState.
func (w *Workflow) Next(status models.RequestStatus, submitter models.Role) (Stage, error) {
	switch status {
	case models.StatusApproved:
		return Stage{}, appErrors.Clone(appErrors.ErrInvalidState, "request is already approved")
	case models.StatusRejected:
		return Stage{}, appErrors.Clone(appErrors.ErrInvalidState, "request has been rejected")
	case models.StatusClosed:
		return Stage{}, appErrors.Clone(appErrors.ErrInvalidState, "request is closed")
	}

	plan := w.Plan(submitter)
	if status == models.StatusPending {
		if len(plan) == 0 {
			return Stage{}, appErrors.Clone(appErrors.ErrInvalidState, "workflow has no stages")
		}
		return plan[0], nil
	}
	for i, st := range plan {
		if st.Result == status {
			if i+1 >= len(plan) {
				return Stage{}, appErrors.Clone(appErrors.ErrInvalidState, "request is already approved")
			}
			return plan[i+1], nil
		}
	}
	return Stage{}, appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("unknown workflow status: %s", status))
}

// ExpectedStatus returns the status a request must currently hold for the
// given stage to act. This drives both the compare-and-swap guard and the
// per-role worklist queries.
func (w *Workflow) ExpectedStatus(stage Stage, submitter models.Role) (models.RequestStatus, error) {
	plan := w.Plan(submitter)
	for i, st := range plan {
		if st.Name != stage.Name {
			continue
		}
		if i == 0 {
			return models.StatusPending, nil
		}
		return plan[i-1].Result, nil
	}
	return "", appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("stage %s does not apply to %s submitters", stage.Name, submitter))
}

// Authorized reports whether the actor may decide the stage. Admin is a
// superuser across all stages; this is the single capability check every
// authorization decision consults first.
func (w *Workflow) Authorized(actor models.Role, stage Stage) bool {
	if actor == models.RoleAdmin {
		return true
	}
	return actor == stage.Approver
}

// StageByApprover returns the stage bound to the given approver role.
func (w *Workflow) StageByApprover(role models.Role) (Stage, bool) {
	for _, st := range w.stages {
		if st.Approver == role {
			return st, true
		}
	}
	return Stage{}, false
}
