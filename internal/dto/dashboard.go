package dto

import "github.com/noah-isme/lab-access-api/internal/models"

// StatsResponse aggregates request counts for admin dashboards.
type StatsResponse struct {
	Totals   models.RequestStats          `json:"totals"`
	PerStage map[models.RequestStatus]int `json:"per_stage"`
}

// SubmitterOverviewResponse lists a submitter's requests with timelines.
type SubmitterOverviewResponse struct {
	Requests []SubmitterRequest `json:"requests"`
}

// SubmitterRequest pairs a request with its workflow projection.
type SubmitterRequest struct {
	Request  models.AccessRequest `json:"request"`
	Workflow []WorkflowStep       `json:"workflow"`
}
