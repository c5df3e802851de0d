package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lab-access-api/internal/models"
)

func newRequestRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func requestRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "requester_id", "requester_name", "requester_role",
		"title", "description", "purpose", "guide_email", "expected_duration", "priority", "status", "submitted_at",
		"guide_approved_at", "guide_approved_by", "hod_approved_at", "hod_approved_by",
		"it_services_approved_at", "it_services_approved_by",
		"approved_at", "rejected_at", "rejection_reason", "closed_at", "closed_by", "updated_at",
	})
}

func addRequestRow(rows *sqlmock.Rows, id, requesterID string, status models.RequestStatus) *sqlmock.Rows {
	now := time.Now()
	return rows.AddRow(
		id, requesterID, "Jane Doe", "student",
		"Lab access", "need cluster time", "research", nil, nil, "medium", status, now,
		nil, nil, nil, nil,
		nil, nil,
		nil, nil, nil, nil, nil, now,
	)
}

func TestRequestRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO access_requests")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	req := &models.AccessRequest{
		RequesterID: "stu-1",
		Title:       "Lab access",
		Description: "need cluster time",
		Purpose:     "research",
	}
	require.NoError(t, repo.Create(context.Background(), req))
	require.NotEmpty(t, req.ID)
	require.Equal(t, models.StatusPending, req.Status)
	require.Equal(t, models.PriorityMedium, req.Priority)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryGetByID(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT r.id, r.requester_id")).
		WithArgs("req-1").
		WillReturnRows(addRequestRow(requestRows(), "req-1", "stu-1", models.StatusPending))

	req, err := repo.GetByID(context.Background(), "req-1")
	require.NoError(t, err)
	require.Equal(t, "req-1", req.ID)
	require.Equal(t, models.RoleStudent, req.RequesterRole)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT r.id, r.requester_id")).
		WithArgs("pending", "guide_approved", "stu-1").
		WillReturnRows(addRequestRow(requestRows(), "req-1", "stu-1", models.StatusPending))

	list, err := repo.List(context.Background(), models.RequestFilter{
		Status:      []models.RequestStatus{models.StatusPending, models.StatusGuideApproved},
		RequesterID: "stu-1",
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryListAwaiting(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE r.status = $1")).
		WithArgs("pending", "faculty", "external").
		WillReturnRows(addRequestRow(requestRows(), "req-2", "fac-1", models.StatusPending))

	list, err := repo.ListAwaiting(context.Background(), models.StatusPending,
		[]models.Role{models.RoleFaculty, models.RoleExternal})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryListDecidedBy(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE r.hod_approved_by = $1")).
		WithArgs("hod-1").
		WillReturnRows(addRequestRow(requestRows(), "req-1", "stu-1", models.StatusHODApproved))

	list, err := repo.ListDecidedBy(context.Background(), "hod", "hod-1")
	require.NoError(t, err)
	require.Len(t, list, 1)

	// The final stage has no stage column; decided requests surface through
	// approved or closed status.
	mock.ExpectQuery(regexp.QuoteMeta("WHERE r.status IN ('approved', 'closed')")).
		WillReturnRows(addRequestRow(requestRows(), "req-3", "stu-2", models.StatusApproved))

	list, err = repo.ListDecidedBy(context.Background(), "", "adm-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryApplyDecision(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE access_requests SET status = $1")).
		WithArgs("guide_approved", now, now, "g-1", "req-1", "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO approval_records")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.ApplyDecision(context.Background(), DecisionParams{
		RequestID:   "req-1",
		Expected:    models.StatusPending,
		NewStatus:   models.StatusGuideApproved,
		StageColumn: "guide",
		ActorID:     "g-1",
		DecidedAt:   now,
		Ledger: models.ApprovalRecord{
			RequestID: "req-1",
			ActorID:   "g-1",
			Stage:     "guide",
			Approved:  true,
		},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryApplyDecisionCASMiss(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE access_requests SET status = $1")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.ApplyDecision(context.Background(), DecisionParams{
		RequestID:   "req-1",
		Expected:    models.StatusPending,
		NewStatus:   models.StatusGuideApproved,
		StageColumn: "guide",
		ActorID:     "g-1",
		DecidedAt:   now,
	})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryApplyDecisionLedgerFailureRollsBack(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE access_requests SET status = $1")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO approval_records")).
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	err := repo.ApplyDecision(context.Background(), DecisionParams{
		RequestID:   "req-1",
		Expected:    models.StatusGuideApproved,
		NewStatus:   models.StatusHODApproved,
		StageColumn: "hod",
		ActorID:     "h-1",
		DecidedAt:   now,
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryRestore(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("status = 'pending'")).
		WithArgs("req-1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Restore(context.Background(), "req-1", now))

	mock.ExpectExec(regexp.QuoteMeta("status = 'pending'")).
		WithArgs("req-1", now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.ErrorIs(t, repo.Restore(context.Background(), "req-1", now), sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryClose(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("status = 'closed'")).
		WithArgs("req-1", now, "adm-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Close(context.Background(), "req-1", "adm-1", now))

	mock.ExpectExec(regexp.QuoteMeta("status = 'closed'")).
		WithArgs("req-1", now, "adm-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.ErrorIs(t, repo.Close(context.Background(), "req-1", "adm-1", now), sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryUpdatePendingOnly(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	req := &models.AccessRequest{
		ID:          "req-1",
		Title:       "Lab access",
		Description: "updated",
		Purpose:     "research",
		Priority:    models.PriorityHigh,
	}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE access_requests SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Update(context.Background(), req))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE access_requests SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.ErrorIs(t, repo.Update(context.Background(), req), sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryStats(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	since := time.Now().Add(-30 * 24 * time.Hour)
	rows := sqlmock.NewRows([]string{"total", "pending", "in_review", "approved", "rejected", "closed", "last_30_days"}).
		AddRow(12, 3, 4, 2, 2, 1, 7)
	mock.ExpectQuery(regexp.QuoteMeta("COUNT(*) AS total")).
		WithArgs(since).
		WillReturnRows(rows)

	stats, err := repo.Stats(context.Background(), since)
	require.NoError(t, err)
	require.Equal(t, 12, stats.Total)
	require.Equal(t, 4, stats.InReview)
	require.Equal(t, 7, stats.Last30Days)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryCountByStatus(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	rows := sqlmock.NewRows([]string{"status", "count"}).
		AddRow("pending", 3).
		AddRow("approved", 2)
	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY status")).
		WillReturnRows(rows)

	counts, err := repo.CountByStatus(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, counts[models.StatusPending])
	require.Equal(t, 2, counts[models.StatusApproved])
	require.NoError(t, mock.ExpectationsWereMet())
}
