package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lab-access-api/internal/models"
)

func newApprovalRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func approvalRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "request_id", "actor_id", "actor_name", "stage", "approved", "comment", "decided_at"})
}

func TestApprovalRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newApprovalRepoMock(t)
	defer cleanup()

	repo := NewApprovalRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO approval_records")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	record := &models.ApprovalRecord{
		RequestID: "req-1",
		ActorID:   "g-1",
		Stage:     "guide",
		Approved:  true,
	}
	require.NoError(t, repo.Create(context.Background(), record))
	require.NotEmpty(t, record.ID)
	require.False(t, record.DecidedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApprovalRepositoryListByRequest(t *testing.T) {
	db, mock, cleanup := newApprovalRepoMock(t)
	defer cleanup()

	repo := NewApprovalRepository(db)
	now := time.Now()
	rows := approvalRows().
		AddRow("rec-1", "req-1", "g-1", "Guide One", "guide", true, nil, now.Add(-time.Hour)).
		AddRow("rec-2", "req-1", "h-1", "HOD One", "hod", false, "missing details", now)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY a.decided_at ASC")).
		WithArgs("req-1").
		WillReturnRows(rows)

	records, err := repo.ListByRequest(context.Background(), "req-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "guide", records[0].Stage)
	require.True(t, records[0].Approved)
	require.False(t, records[1].Approved)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApprovalRepositoryLatestRejection(t *testing.T) {
	db, mock, cleanup := newApprovalRepoMock(t)
	defer cleanup()

	repo := NewApprovalRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("a.approved = FALSE")).
		WithArgs("req-1").
		WillReturnRows(approvalRows().AddRow("rec-2", "req-1", "h-1", "HOD One", "hod", false, "missing details", time.Now()))

	record, err := repo.LatestRejection(context.Background(), "req-1")
	require.NoError(t, err)
	require.NotNil(t, record)
	require.Equal(t, "hod", record.Stage)

	mock.ExpectQuery(regexp.QuoteMeta("a.approved = FALSE")).
		WithArgs("req-2").
		WillReturnRows(approvalRows())

	record, err = repo.LatestRejection(context.Background(), "req-2")
	require.NoError(t, err)
	require.Nil(t, record)
	require.NoError(t, mock.ExpectationsWereMet())
}
