package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/lab-access-api/internal/models"
)

const requestColumns = `r.id, r.requester_id, u.full_name AS requester_name, u.role AS requester_role,
       r.title, r.description, r.purpose, r.guide_email, r.expected_duration, r.priority, r.status, r.submitted_at,
       r.guide_approved_at, r.guide_approved_by, r.hod_approved_at, r.hod_approved_by,
       r.it_services_approved_at, r.it_services_approved_by,
       r.approved_at, r.rejected_at, r.rejection_reason, r.closed_at, r.closed_by, r.updated_at`

// stageColumns whitelists the timestamp/actor column pairs a decision may
// write. Stage names arrive from the workflow engine, never from clients.
var stageColumns = map[string][2]string{
	"guide":       {"guide_approved_at", "guide_approved_by"},
	"hod":         {"hod_approved_at", "hod_approved_by"},
	"it_services": {"it_services_approved_at", "it_services_approved_by"},
}

// RequestRepository persists access requests and their decision history.
type RequestRepository struct {
	db *sqlx.DB
}

// NewRequestRepository constructs the repository.
func NewRequestRepository(db *sqlx.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// Create inserts a new request row.
func (r *RequestRepository) Create(ctx context.Context, req *models.AccessRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = models.StatusPending
	}
	if req.Priority == "" {
		req.Priority = models.PriorityMedium
	}
	now := time.Now().UTC()
	if req.SubmittedAt.IsZero() {
		req.SubmittedAt = now
	}
	req.UpdatedAt = now
	const query = `INSERT INTO access_requests
	(id, requester_id, title, description, purpose, guide_email, expected_duration, priority, status, submitted_at, updated_at)
	VALUES (:id, :requester_id, :title, :description, :purpose, :guide_email, :expected_duration, :priority, :status, :submitted_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, req); err != nil {
		return fmt.Errorf("create access request: %w", err)
	}
	return nil
}

// GetByID fetches a request joined with its requester.
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*models.AccessRequest, error) {
	query := `SELECT ` + requestColumns + `
	FROM access_requests r JOIN users u ON u.id = r.requester_id WHERE r.id = $1`
	var req models.AccessRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		return nil, err
	}
	return &req, nil
}

// List returns requests matching the filter, newest submission first.
func (r *RequestRepository) List(ctx context.Context, filter models.RequestFilter) ([]models.AccessRequest, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 4)
	builder.WriteString(`SELECT ` + requestColumns + ` FROM access_requests r JOIN users u ON u.id = r.requester_id`)

	conditions := make([]string, 0, 3)
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("r.status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.RequesterID != "" {
		args = append(args, filter.RequesterID)
		conditions = append(conditions, fmt.Sprintf("r.requester_id = $%d", len(args)))
	}
	if filter.Priority != "" {
		args = append(args, filter.Priority)
		conditions = append(conditions, fmt.Sprintf("r.priority = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY r.submitted_at DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var requests []models.AccessRequest
	if err := r.db.SelectContext(ctx, &requests, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list access requests: %w", err)
	}
	return requests, nil
}

// ListAwaiting returns the worklist for one stage: requests currently at the
// expected status, optionally restricted by submitter role class (the HOD
// worklist includes pending requests from faculty/external submitters, who
// skip the guide stage).
func (r *RequestRepository) ListAwaiting(ctx context.Context, status models.RequestStatus, submitterRoles []models.Role) ([]models.AccessRequest, error) {
	builder := strings.Builder{}
	args := []interface{}{status}
	builder.WriteString(`SELECT ` + requestColumns + `
	FROM access_requests r JOIN users u ON u.id = r.requester_id WHERE r.status = $1`)
	if len(submitterRoles) > 0 {
		placeholders := make([]string, len(submitterRoles))
		for i, role := range submitterRoles {
			args = append(args, role)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		builder.WriteString(fmt.Sprintf(" AND u.role IN (%s)", strings.Join(placeholders, ",")))
	}
	builder.WriteString(" ORDER BY r.submitted_at DESC")

	var requests []models.AccessRequest
	if err := r.db.SelectContext(ctx, &requests, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list awaiting requests: %w", err)
	}
	return requests, nil
}

// ListDecidedBy returns requests whose named stage was decided by the actor.
func (r *RequestRepository) ListDecidedBy(ctx context.Context, stageColumn, actorID string) ([]models.AccessRequest, error) {
	cols, ok := stageColumns[stageColumn]
	if !ok {
		// The final stage has no dedicated column pair; closed-out requests
		// are found through approved status instead.
		query := `SELECT ` + requestColumns + `
		FROM access_requests r JOIN users u ON u.id = r.requester_id
		WHERE r.status IN ('approved', 'closed') ORDER BY r.approved_at DESC`
		var requests []models.AccessRequest
		if err := r.db.SelectContext(ctx, &requests, query); err != nil {
			return nil, fmt.Errorf("list decided requests: %w", err)
		}
		return requests, nil
	}
	query := fmt.Sprintf(`SELECT %s
	FROM access_requests r JOIN users u ON u.id = r.requester_id
	WHERE r.%s = $1 ORDER BY r.%s DESC`, requestColumns, cols[1], cols[0])
	var requests []models.AccessRequest
	if err := r.db.SelectContext(ctx, &requests, query, actorID); err != nil {
		return nil, fmt.Errorf("list decided requests: %w", err)
	}
	return requests, nil
}

// DecisionParams groups the atomic write of one approve or reject decision:
// a compare-and-swap status update plus the ledger insert, committed
// together or not at all.
type DecisionParams struct {
	RequestID       string
	Expected        models.RequestStatus
	NewStatus       models.RequestStatus
	StageColumn     string
	ActorID         string
	DecidedAt       time.Time
	SetApprovedAt   bool
	SetRejectedAt   bool
	RejectionReason *string
	Ledger          models.ApprovalRecord
}

// ApplyDecision performs the transition inside a single transaction. The
// status guard makes concurrent decisions race safely: exactly one update
// matches, the loser sees sql.ErrNoRows.
func (r *RequestRepository) ApplyDecision(ctx context.Context, params DecisionParams) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin decision tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	setParts := []string{"status = $1", "updated_at = $2"}
	args := []interface{}{params.NewStatus, params.DecidedAt}
	if params.StageColumn != "" {
		cols, ok := stageColumns[params.StageColumn]
		if !ok {
			return fmt.Errorf("unknown stage column: %s", params.StageColumn)
		}
		args = append(args, params.DecidedAt)
		setParts = append(setParts, fmt.Sprintf("%s = $%d", cols[0], len(args)))
		args = append(args, params.ActorID)
		setParts = append(setParts, fmt.Sprintf("%s = $%d", cols[1], len(args)))
	}
	if params.SetApprovedAt {
		args = append(args, params.DecidedAt)
		setParts = append(setParts, fmt.Sprintf("approved_at = $%d", len(args)))
	}
	if params.SetRejectedAt {
		args = append(args, params.DecidedAt)
		setParts = append(setParts, fmt.Sprintf("rejected_at = $%d", len(args)))
		args = append(args, params.RejectionReason)
		setParts = append(setParts, fmt.Sprintf("rejection_reason = $%d", len(args)))
	}
	args = append(args, params.RequestID)
	idArg := len(args)
	args = append(args, params.Expected)
	query := fmt.Sprintf("UPDATE access_requests SET %s WHERE id = $%d AND status = $%d",
		strings.Join(setParts, ", "), idArg, len(args))

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("apply decision: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check decision rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}

	ledger := params.Ledger
	if ledger.ID == "" {
		ledger.ID = uuid.NewString()
	}
	if ledger.DecidedAt.IsZero() {
		ledger.DecidedAt = params.DecidedAt
	}
	const insert = `INSERT INTO approval_records (id, request_id, actor_id, stage, approved, comment, decided_at)
	VALUES (:id, :request_id, :actor_id, :stage, :approved, :comment, :decided_at)`
	if _, err := tx.NamedExecContext(ctx, insert, ledger); err != nil {
		return fmt.Errorf("insert approval record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit decision: %w", err)
	}
	return nil
}

// Restore resets a rejected request to pending, clearing every stage
// timestamp/actor and the rejection fields so the workflow restarts from
// scratch. The ledger is untouched.
func (r *RequestRepository) Restore(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE access_requests SET
		status = 'pending',
		guide_approved_at = NULL, guide_approved_by = NULL,
		hod_approved_at = NULL, hod_approved_by = NULL,
		it_services_approved_at = NULL, it_services_approved_by = NULL,
		approved_at = NULL, rejected_at = NULL, rejection_reason = NULL,
		updated_at = $2
	WHERE id = $1 AND status = 'rejected'`
	result, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("restore request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check restore rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Close marks an approved request closed.
func (r *RequestRepository) Close(ctx context.Context, id, actorID string, at time.Time) error {
	const query = `UPDATE access_requests SET status = 'closed', closed_at = $2, closed_by = $3, updated_at = $2
	WHERE id = $1 AND status = 'approved'`
	result, err := r.db.ExecContext(ctx, query, id, at, actorID)
	if err != nil {
		return fmt.Errorf("close request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check close rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Update edits submitter-owned descriptive fields while the request is
// still pending.
func (r *RequestRepository) Update(ctx context.Context, req *models.AccessRequest) error {
	req.UpdatedAt = time.Now().UTC()
	const query = `UPDATE access_requests SET
		title = :title, description = :description, purpose = :purpose,
		guide_email = :guide_email, expected_duration = :expected_duration,
		priority = :priority, updated_at = :updated_at
	WHERE id = :id AND status = 'pending'`
	result, err := r.db.NamedExecContext(ctx, query, req)
	if err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a request. Callers enforce the status precondition; the
// guard here keeps closed requests immune regardless.
func (r *RequestRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM access_requests WHERE id = $1 AND status <> 'closed'`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check delete rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Stats aggregates totals used by the admin dashboard. The 30-day window
// counts by submission timestamp.
func (r *RequestRepository) Stats(ctx context.Context, since time.Time) (*models.RequestStats, error) {
	const query = `SELECT
		COUNT(*) AS total,
		COUNT(*) FILTER (WHERE status = 'pending') AS pending,
		COUNT(*) FILTER (WHERE status IN ('guide_approved', 'hod_approved', 'it_services_approved')) AS in_review,
		COUNT(*) FILTER (WHERE status = 'approved') AS approved,
		COUNT(*) FILTER (WHERE status = 'rejected') AS rejected,
		COUNT(*) FILTER (WHERE status = 'closed') AS closed,
		COUNT(*) FILTER (WHERE submitted_at >= $1) AS last_30_days
	FROM access_requests`
	var stats models.RequestStats
	if err := r.db.GetContext(ctx, &stats, query, since); err != nil {
		return nil, fmt.Errorf("request stats: %w", err)
	}
	return &stats, nil
}

// CountByStatus returns in-flight counts per workflow status.
func (r *RequestRepository) CountByStatus(ctx context.Context) (map[models.RequestStatus]int, error) {
	const query = `SELECT status, COUNT(*) AS count FROM access_requests GROUP BY status`
	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	counts := make(map[models.RequestStatus]int)
	for rows.Next() {
		var status models.RequestStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	return counts, nil
}

// IsRetryableWriteConflict reports whether the error is a transient storage
// conflict worth retrying (serialization failure or deadlock).
func IsRetryableWriteConflict(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch string(pqErr.Code) {
	case "40001", "40P01":
		return true
	}
	return false
}
