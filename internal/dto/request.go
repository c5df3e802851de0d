package dto

import "github.com/noah-isme/lab-access-api/internal/models"

// CreateRequestPayload carries a new access request submission.
type CreateRequestPayload struct {
	Title            string                 `json:"title" validate:"required,min=3,max=255"`
	Description      string                 `json:"description" validate:"required"`
	Purpose          string                 `json:"purpose" validate:"required,max=500"`
	GuideEmail       string                 `json:"guide_email" validate:"omitempty,email"`
	ExpectedDuration string                 `json:"expected_duration" validate:"omitempty,max=100"`
	Priority         models.RequestPriority `json:"priority"`
}

// UpdateRequestPayload edits a pending request. Only the submitter-owned
// descriptive fields are mutable; workflow fields never are.
type UpdateRequestPayload struct {
	Title            string                 `json:"title" validate:"required,min=3,max=255"`
	Description      string                 `json:"description" validate:"required"`
	Purpose          string                 `json:"purpose" validate:"required,max=500"`
	GuideEmail       string                 `json:"guide_email" validate:"omitempty,email"`
	ExpectedDuration string                 `json:"expected_duration" validate:"omitempty,max=100"`
	Priority         models.RequestPriority `json:"priority"`
}

// RequestQuery narrows request listings.
type RequestQuery struct {
	Status      []models.RequestStatus
	RequesterID string
	Priority    models.RequestPriority
	Limit       int
	Offset      int
}
