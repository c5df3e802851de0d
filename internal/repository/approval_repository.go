package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lab-access-api/internal/models"
)

// ApprovalRepository reads the append-only decision ledger. Entries are
// written by RequestRepository.ApplyDecision inside the decision
// transaction; nothing updates or deletes them.
type ApprovalRepository struct {
	db *sqlx.DB
}

// NewApprovalRepository constructs the repository.
func NewApprovalRepository(db *sqlx.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

// Create inserts a ledger entry outside a decision transaction. Used by
// tooling and tests; the workflow path writes through ApplyDecision.
func (r *ApprovalRepository) Create(ctx context.Context, record *models.ApprovalRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.DecidedAt.IsZero() {
		record.DecidedAt = time.Now().UTC()
	}
	const query = `INSERT INTO approval_records (id, request_id, actor_id, stage, approved, comment, decided_at)
	VALUES (:id, :request_id, :actor_id, :stage, :approved, :comment, :decided_at)`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("create approval record: %w", err)
	}
	return nil
}

// ListByRequest returns the full decision history for a request, oldest
// first, joined with the deciding actor's name.
func (r *ApprovalRepository) ListByRequest(ctx context.Context, requestID string) ([]models.ApprovalRecord, error) {
	const query = `SELECT a.id, a.request_id, a.actor_id, u.full_name AS actor_name, a.stage, a.approved, a.comment, a.decided_at
	FROM approval_records a JOIN users u ON u.id = a.actor_id
	WHERE a.request_id = $1 ORDER BY a.decided_at ASC`
	var records []models.ApprovalRecord
	if err := r.db.SelectContext(ctx, &records, query, requestID); err != nil {
		return nil, fmt.Errorf("list approval records: %w", err)
	}
	return records, nil
}

// LatestRejection returns the most recent rejecting entry for a request, or
// nil when none exists. Used to attribute the rejected stage explicitly
// instead of inferring it from null timestamps.
func (r *ApprovalRepository) LatestRejection(ctx context.Context, requestID string) (*models.ApprovalRecord, error) {
	const query = `SELECT a.id, a.request_id, a.actor_id, u.full_name AS actor_name, a.stage, a.approved, a.comment, a.decided_at
	FROM approval_records a JOIN users u ON u.id = a.actor_id
	WHERE a.request_id = $1 AND a.approved = FALSE ORDER BY a.decided_at DESC LIMIT 1`
	var records []models.ApprovalRecord
	if err := r.db.SelectContext(ctx, &records, query, requestID); err != nil {
		return nil, fmt.Errorf("latest rejection: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}
