package models

import "time"

// RequestStatus captures workflow states for access requests.
type RequestStatus string

const (
	StatusPending            RequestStatus = "pending"
	StatusGuideApproved      RequestStatus = "guide_approved"
	StatusHODApproved        RequestStatus = "hod_approved"
	StatusITServicesApproved RequestStatus = "it_services_approved"
	StatusApproved           RequestStatus = "approved"
	StatusRejected           RequestStatus = "rejected"
	StatusClosed             RequestStatus = "closed"
)

// Terminal reports whether no further stage transitions apply. Rejected is
// terminal for the approval chain but uniquely permits restore.
func (s RequestStatus) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusClosed:
		return true
	}
	return false
}

// RequestPriority enumerates submitter-declared urgency.
type RequestPriority string

const (
	PriorityLow    RequestPriority = "low"
	PriorityMedium RequestPriority = "medium"
	PriorityHigh   RequestPriority = "high"
	PriorityUrgent RequestPriority = "urgent"
)

// ValidPriority reports whether the value is a declared priority.
func ValidPriority(p RequestPriority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// AccessRequest is the unit of work moving through the approval chain.
// Stage timestamp/actor pairs are set if and only if that stage's approval
// has occurred; restore clears all of them.
type AccessRequest struct {
	ID               string          `db:"id" json:"id"`
	RequesterID      string          `db:"requester_id" json:"requester_id"`
	RequesterName    string          `db:"requester_name" json:"requester_name,omitempty"`
	RequesterRole    Role            `db:"requester_role" json:"requester_role,omitempty"`
	Title            string          `db:"title" json:"title"`
	Description      string          `db:"description" json:"description"`
	Purpose          string          `db:"purpose" json:"purpose"`
	GuideEmail       *string         `db:"guide_email" json:"guide_email,omitempty"`
	ExpectedDuration *string         `db:"expected_duration" json:"expected_duration,omitempty"`
	Priority         RequestPriority `db:"priority" json:"priority"`
	Status           RequestStatus   `db:"status" json:"status"`
	SubmittedAt      time.Time       `db:"submitted_at" json:"submitted_at"`

	GuideApprovedAt      *time.Time `db:"guide_approved_at" json:"guide_approved_at,omitempty"`
	GuideApprovedBy      *string    `db:"guide_approved_by" json:"guide_approved_by,omitempty"`
	HODApprovedAt        *time.Time `db:"hod_approved_at" json:"hod_approved_at,omitempty"`
	HODApprovedBy        *string    `db:"hod_approved_by" json:"hod_approved_by,omitempty"`
	ITServicesApprovedAt *time.Time `db:"it_services_approved_at" json:"it_services_approved_at,omitempty"`
	ITServicesApprovedBy *string    `db:"it_services_approved_by" json:"it_services_approved_by,omitempty"`

	ApprovedAt      *time.Time `db:"approved_at" json:"approved_at,omitempty"`
	RejectedAt      *time.Time `db:"rejected_at" json:"rejected_at,omitempty"`
	RejectionReason *string    `db:"rejection_reason" json:"rejection_reason,omitempty"`
	ClosedAt        *time.Time `db:"closed_at" json:"closed_at,omitempty"`
	ClosedBy        *string    `db:"closed_by" json:"closed_by,omitempty"`

	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// RequestFilter constrains request listing queries.
type RequestFilter struct {
	Status      []RequestStatus
	RequesterID string
	Priority    RequestPriority
	Limit       int
	Offset      int
}

// RequestStats aggregates counts for the admin dashboard.
type RequestStats struct {
	Total      int `db:"total" json:"total"`
	Pending    int `db:"pending" json:"pending"`
	InReview   int `db:"in_review" json:"in_review"`
	Approved   int `db:"approved" json:"approved"`
	Rejected   int `db:"rejected" json:"rejected"`
	Closed     int `db:"closed" json:"closed"`
	Last30Days int `db:"last_30_days" json:"last_30_days"`
}
