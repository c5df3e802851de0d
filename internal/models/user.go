package models

import "time"

// Role represents the available roles for the RBAC system.
type Role string

const (
	RoleStudent    Role = "student"
	RoleFaculty    Role = "faculty"
	RoleExternal   Role = "external"
	RoleGuide      Role = "project_guide"
	RoleHOD        Role = "hod"
	RoleITServices Role = "it_services"
	RoleAdmin      Role = "admin"
)

// SubmitterRoles lists roles allowed to create access requests.
var SubmitterRoles = []Role{RoleStudent, RoleFaculty, RoleExternal}

// ApproverRoles lists roles that participate in the approval chain.
var ApproverRoles = []Role{RoleGuide, RoleHOD, RoleITServices, RoleAdmin}

// IsSubmitter reports whether the role may create access requests.
func (r Role) IsSubmitter() bool {
	switch r {
	case RoleStudent, RoleFaculty, RoleExternal:
		return true
	}
	return false
}

// IsApprover reports whether the role participates in the approval chain.
func (r Role) IsApprover() bool {
	switch r {
	case RoleGuide, RoleHOD, RoleITServices, RoleAdmin:
		return true
	}
	return false
}

// SkipsFirstStage reports whether requests from this submitter class bypass
// the first approval stage. Faculty and external submitters go straight to
// the HOD.
func (r Role) SkipsFirstStage() bool {
	return r == RoleFaculty || r == RoleExternal
}

// User represents an application user stored in the users table.
type User struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FullName     string     `db:"full_name" json:"full_name"`
	Role         Role       `db:"role" json:"role"`
	Department   *string    `db:"department" json:"department,omitempty"`
	Active       bool       `db:"active" json:"active"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role      *Role
	Active    *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
