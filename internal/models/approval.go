package models

import "time"

// ApprovalRecord is an immutable audit entry for one approve or reject
// decision. Records are insert-only; restore cycles leave prior entries
// untouched. The stage is stored explicitly so rejection attribution never
// has to be inferred from which timestamp happens to be null.
type ApprovalRecord struct {
	ID        string    `db:"id" json:"id"`
	RequestID string    `db:"request_id" json:"request_id"`
	ActorID   string    `db:"actor_id" json:"actor_id"`
	ActorName string    `db:"actor_name" json:"actor_name,omitempty"`
	Stage     string    `db:"stage" json:"stage"`
	Approved  bool      `db:"approved" json:"approved"`
	Comment   *string   `db:"comment" json:"comment,omitempty"`
	DecidedAt time.Time `db:"decided_at" json:"decided_at"`
}
