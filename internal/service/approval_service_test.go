package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lab-access-api/internal/dto"
	"github.com/noah-isme/lab-access-api/internal/models"
	"github.com/noah-isme/lab-access-api/internal/repository"
	"github.com/noah-isme/lab-access-api/pkg/config"
	appErrors "github.com/noah-isme/lab-access-api/pkg/errors"
)

type decisionStoreStub struct {
	requests map[string]*models.AccessRequest
	decided  []repository.DecisionParams
	awaiting map[models.RequestStatus][]models.AccessRequest

	// applyErrs is consumed one call at a time; nil past the end.
	applyErrs []error
	applies   int
}

func newDecisionStoreStub() *decisionStoreStub {
	return &decisionStoreStub{
		requests: make(map[string]*models.AccessRequest),
		awaiting: make(map[models.RequestStatus][]models.AccessRequest),
	}
}

func (s *decisionStoreStub) seed(req models.AccessRequest) *models.AccessRequest {
	stored := req
	s.requests[stored.ID] = &stored
	return &stored
}

func (s *decisionStoreStub) GetByID(ctx context.Context, id string) (*models.AccessRequest, error) {
	if req, ok := s.requests[id]; ok {
		copy := *req
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (s *decisionStoreStub) ApplyDecision(ctx context.Context, params repository.DecisionParams) error {
	s.applies++
	if len(s.applyErrs) > 0 {
		err := s.applyErrs[0]
		s.applyErrs = s.applyErrs[1:]
		if err != nil {
			return err
		}
	}
	req, ok := s.requests[params.RequestID]
	if !ok || req.Status != params.Expected {
		return sql.ErrNoRows
	}
	req.Status = params.NewStatus
	s.decided = append(s.decided, params)
	return nil
}

func (s *decisionStoreStub) Restore(ctx context.Context, id string, at time.Time) error {
	req, ok := s.requests[id]
	if !ok || req.Status != models.StatusRejected {
		return sql.ErrNoRows
	}
	req.Status = models.StatusPending
	return nil
}

func (s *decisionStoreStub) Close(ctx context.Context, id, actorID string, at time.Time) error {
	req, ok := s.requests[id]
	if !ok || req.Status != models.StatusApproved {
		return sql.ErrNoRows
	}
	req.Status = models.StatusClosed
	return nil
}

func (s *decisionStoreStub) ListAwaiting(ctx context.Context, status models.RequestStatus, submitterRoles []models.Role) ([]models.AccessRequest, error) {
	matched := make([]models.AccessRequest, 0)
	for _, req := range s.awaiting[status] {
		for _, role := range submitterRoles {
			if req.RequesterRole == role {
				matched = append(matched, req)
				break
			}
		}
	}
	return matched, nil
}

func (s *decisionStoreStub) ListDecidedBy(ctx context.Context, stageColumn, actorID string) ([]models.AccessRequest, error) {
	return nil, nil
}

func newApprovalService(store *decisionStoreStub) (*ApprovalService, *notifierStub, *auditLogStub) {
	notifier := &notifierStub{}
	audit := &auditLogStub{}
	cfg := config.WorkflowConfig{RetryAttempts: 3, RetryBackoff: time.Millisecond}
	return NewApprovalService(store, audit, nil, notifier, nil, nil, cfg, nil), notifier, audit
}

func pendingStudentRequest(id string) models.AccessRequest {
	return models.AccessRequest{
		ID:            id,
		RequesterID:   "stu-1",
		RequesterRole: models.RoleStudent,
		Status:        models.StatusPending,
		SubmittedAt:   time.Now(),
	}
}

func TestApprovalServiceApproveChain(t *testing.T) {
	store := newDecisionStoreStub()
	store.seed(pendingStudentRequest("req-1"))
	svc, notifier, audit := newApprovalService(store)
	ctx := context.Background()

	req, err := svc.Approve(ctx, "req-1", dto.ApprovePayload{}, claimsWithRole("g-1", models.RoleGuide))
	require.NoError(t, err)
	assert.Equal(t, models.StatusGuideApproved, req.Status)
	require.NotNil(t, req.GuideApprovedAt)
	require.NotNil(t, req.GuideApprovedBy)
	assert.Equal(t, "g-1", *req.GuideApprovedBy)

	req, err = svc.Approve(ctx, "req-1", dto.ApprovePayload{}, claimsWithRole("h-1", models.RoleHOD))
	require.NoError(t, err)
	assert.Equal(t, models.StatusHODApproved, req.Status)

	req, err = svc.Approve(ctx, "req-1", dto.ApprovePayload{}, claimsWithRole("it-1", models.RoleITServices))
	require.NoError(t, err)
	assert.Equal(t, models.StatusITServicesApproved, req.Status)

	req, err = svc.Approve(ctx, "req-1", dto.ApprovePayload{Comment: "granted"}, claimsWithRole("adm-1", models.RoleAdmin))
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, req.Status)
	require.NotNil(t, req.ApprovedAt)

	require.Len(t, store.decided, 4)
	assert.Equal(t, []string{"guide", "hod", "it_services", "final"}, []string{
		store.decided[0].Ledger.Stage,
		store.decided[1].Ledger.Stage,
		store.decided[2].Ledger.Stage,
		store.decided[3].Ledger.Stage,
	})
	assert.Len(t, audit.logs, 4)
	require.Len(t, notifier.events, 4)
	assert.Equal(t, NotifyStageApproved, notifier.events[0].Kind)
	assert.Equal(t, "hod", notifier.events[0].NextStage)
	assert.Equal(t, NotifyFinalApproved, notifier.events[3].Kind)
}

func TestApprovalServiceFacultySkipsGuide(t *testing.T) {
	store := newDecisionStoreStub()
	req := pendingStudentRequest("req-1")
	req.RequesterRole = models.RoleFaculty
	store.seed(req)
	svc, _, _ := newApprovalService(store)
	ctx := context.Background()

	// The guide has no claim on a faculty submission.
	_, err := svc.Approve(ctx, "req-1", dto.ApprovePayload{}, claimsWithRole("g-1", models.RoleGuide))
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	got, err := svc.Approve(ctx, "req-1", dto.ApprovePayload{}, claimsWithRole("h-1", models.RoleHOD))
	require.NoError(t, err)
	assert.Equal(t, models.StatusHODApproved, got.Status)
	require.Len(t, store.decided, 1)
	assert.Equal(t, models.StatusPending, store.decided[0].Expected)
}

func TestApprovalServiceApproveGuards(t *testing.T) {
	store := newDecisionStoreStub()
	store.seed(pendingStudentRequest("req-1"))
	approved := pendingStudentRequest("req-2")
	approved.Status = models.StatusApproved
	store.seed(approved)
	svc, _, _ := newApprovalService(store)
	ctx := context.Background()

	_, err := svc.Approve(ctx, "req-1", dto.ApprovePayload{}, studentClaims("stu-1"))
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	// An approver acting before the request reaches their stage is a state
	// error, not a permission one.
	_, err = svc.Approve(ctx, "req-1", dto.ApprovePayload{}, claimsWithRole("h-1", models.RoleHOD))
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidState))

	_, err = svc.Approve(ctx, "req-2", dto.ApprovePayload{}, claimsWithRole("adm-1", models.RoleAdmin))
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidState))

	_, err = svc.Approve(ctx, "missing", dto.ApprovePayload{}, claimsWithRole("g-1", models.RoleGuide))
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestApprovalServiceOutOfTurnApproversGetInvalidState(t *testing.T) {
	store := newDecisionStoreStub()
	store.seed(pendingStudentRequest("req-1"))
	svc, _, _ := newApprovalService(store)
	ctx := context.Background()

	_, err := svc.Approve(ctx, "req-1", dto.ApprovePayload{}, claimsWithRole("it-1", models.RoleITServices))
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidState))

	_, err = svc.Approve(ctx, "req-1", dto.ApprovePayload{}, claimsWithRole("g-1", models.RoleGuide))
	require.NoError(t, err)

	// The same guide approving again finds the request past their stage.
	_, err = svc.Approve(ctx, "req-1", dto.ApprovePayload{}, claimsWithRole("g-1", models.RoleGuide))
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
}

func TestApprovalServiceAdminOverride(t *testing.T) {
	store := newDecisionStoreStub()
	store.seed(pendingStudentRequest("req-1"))
	svc, _, _ := newApprovalService(store)

	// Admin may act for any stage, here standing in for the guide.
	req, err := svc.Approve(context.Background(), "req-1", dto.ApprovePayload{}, claimsWithRole("adm-1", models.RoleAdmin))
	require.NoError(t, err)
	assert.Equal(t, models.StatusGuideApproved, req.Status)
	assert.Equal(t, "guide", store.decided[0].Ledger.Stage)
}

func TestApprovalServiceReject(t *testing.T) {
	store := newDecisionStoreStub()
	req := pendingStudentRequest("req-1")
	req.Status = models.StatusGuideApproved
	store.seed(req)
	svc, notifier, _ := newApprovalService(store)
	ctx := context.Background()

	_, err := svc.Reject(ctx, "req-1", dto.RejectPayload{Reason: "  "}, claimsWithRole("h-1", models.RoleHOD))
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	// Any approver may reject regardless of the awaiting stage.
	got, err := svc.Reject(ctx, "req-1", dto.RejectPayload{Reason: "insufficient justification"}, claimsWithRole("it-1", models.RoleITServices))
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, got.Status)
	require.NotNil(t, got.RejectionReason)
	assert.Equal(t, "insufficient justification", *got.RejectionReason)

	require.Len(t, store.decided, 1)
	assert.Equal(t, "hod", store.decided[0].Ledger.Stage)
	assert.False(t, store.decided[0].Ledger.Approved)
	require.Len(t, notifier.events, 1)
	assert.Equal(t, NotifyStageRejected, notifier.events[0].Kind)

	_, err = svc.Reject(ctx, "req-1", dto.RejectPayload{Reason: "again"}, claimsWithRole("h-1", models.RoleHOD))
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
}

func TestApprovalServiceRestore(t *testing.T) {
	now := time.Now()
	store := newDecisionStoreStub()
	rejected := pendingStudentRequest("req-1")
	rejected.Status = models.StatusRejected
	rejected.GuideApprovedAt = &now
	rejected.RejectedAt = &now
	store.seed(rejected)
	svc, _, _ := newApprovalService(store)
	ctx := context.Background()

	_, err := svc.Restore(ctx, "req-1", studentClaims("stu-2"))
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	req, err := svc.Restore(ctx, "req-1", studentClaims("stu-1"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, req.Status)
	assert.Nil(t, req.GuideApprovedAt)
	assert.Nil(t, req.RejectedAt)
	assert.Nil(t, req.RejectionReason)

	_, err = svc.Restore(ctx, "req-1", studentClaims("stu-1"))
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
}

func TestApprovalServiceClose(t *testing.T) {
	store := newDecisionStoreStub()
	approved := pendingStudentRequest("req-1")
	approved.Status = models.StatusApproved
	store.seed(approved)
	store.seed(pendingStudentRequest("req-2"))
	svc, _, _ := newApprovalService(store)
	ctx := context.Background()

	_, err := svc.Close(ctx, "req-1", claimsWithRole("h-1", models.RoleHOD))
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	_, err = svc.Close(ctx, "req-2", claimsWithRole("adm-1", models.RoleAdmin))
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidState))

	req, err := svc.Close(ctx, "req-1", claimsWithRole("adm-1", models.RoleAdmin))
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, req.Status)
	require.NotNil(t, req.ClosedAt)
	require.NotNil(t, req.ClosedBy)
	assert.Equal(t, "adm-1", *req.ClosedBy)
}

func TestApprovalServiceRetriesWriteConflicts(t *testing.T) {
	store := newDecisionStoreStub()
	store.seed(pendingStudentRequest("req-1"))
	store.applyErrs = []error{&pq.Error{Code: "40001"}, &pq.Error{Code: "40P01"}}
	svc, _, _ := newApprovalService(store)

	req, err := svc.Approve(context.Background(), "req-1", dto.ApprovePayload{}, claimsWithRole("g-1", models.RoleGuide))
	require.NoError(t, err)
	assert.Equal(t, models.StatusGuideApproved, req.Status)
	assert.Equal(t, 3, store.applies)
}

func TestApprovalServiceConflictExhaustsRetries(t *testing.T) {
	store := newDecisionStoreStub()
	store.seed(pendingStudentRequest("req-1"))
	store.applyErrs = []error{
		&pq.Error{Code: "40001"},
		&pq.Error{Code: "40001"},
		&pq.Error{Code: "40001"},
	}
	svc, _, _ := newApprovalService(store)

	_, err := svc.Approve(context.Background(), "req-1", dto.ApprovePayload{}, claimsWithRole("g-1", models.RoleGuide))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
	assert.Equal(t, 3, store.applies)
}

func TestApprovalServiceCASMissIsInvalidState(t *testing.T) {
	store := newDecisionStoreStub()
	store.seed(pendingStudentRequest("req-1"))
	// The stored row moved on after the service loaded it.
	store.applyErrs = []error{sql.ErrNoRows}
	svc, _, _ := newApprovalService(store)

	_, err := svc.Approve(context.Background(), "req-1", dto.ApprovePayload{}, claimsWithRole("g-1", models.RoleGuide))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
	assert.Equal(t, 1, store.applies)
}

func TestApprovalServiceWorklist(t *testing.T) {
	store := newDecisionStoreStub()
	store.awaiting[models.StatusPending] = []models.AccessRequest{
		{ID: "req-1", RequesterRole: models.RoleStudent, Status: models.StatusPending},
		{ID: "req-2", RequesterRole: models.RoleFaculty, Status: models.StatusPending},
		{ID: "req-3", RequesterRole: models.RoleExternal, Status: models.StatusPending},
	}
	store.awaiting[models.StatusGuideApproved] = []models.AccessRequest{
		{ID: "req-4", RequesterRole: models.RoleStudent, Status: models.StatusGuideApproved},
	}
	svc, _, _ := newApprovalService(store)
	ctx := context.Background()

	// Guides only queue pending student submissions.
	list, err := svc.Worklist(ctx, claimsWithRole("g-1", models.RoleGuide))
	require.NoError(t, err)
	require.Len(t, list.AwaitingAction, 1)
	assert.Equal(t, "req-1", list.AwaitingAction[0].ID)

	// HODs merge guide-approved student requests with pending faculty and
	// external ones.
	list, err = svc.Worklist(ctx, claimsWithRole("h-1", models.RoleHOD))
	require.NoError(t, err)
	ids := make([]string, 0, len(list.AwaitingAction))
	for _, req := range list.AwaitingAction {
		ids = append(ids, req.ID)
	}
	assert.ElementsMatch(t, []string{"req-2", "req-3", "req-4"}, ids)

	_, err = svc.Worklist(ctx, studentClaims("stu-1"))
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestApprovalServiceWorklistOrdersAcrossClasses(t *testing.T) {
	now := time.Now()
	store := newDecisionStoreStub()
	// A faculty submission newer than both student ones sits in a different
	// per-class batch; the merged queue must still lead with it.
	store.awaiting[models.StatusPending] = []models.AccessRequest{
		{ID: "req-2", RequesterRole: models.RoleFaculty, Status: models.StatusPending, SubmittedAt: now},
	}
	store.awaiting[models.StatusGuideApproved] = []models.AccessRequest{
		{ID: "req-4", RequesterRole: models.RoleStudent, Status: models.StatusGuideApproved, SubmittedAt: now.Add(-time.Hour)},
		{ID: "req-3", RequesterRole: models.RoleStudent, Status: models.StatusGuideApproved, SubmittedAt: now.Add(-2 * time.Hour)},
	}
	svc, _, _ := newApprovalService(store)

	list, err := svc.Worklist(context.Background(), claimsWithRole("h-1", models.RoleHOD))
	require.NoError(t, err)
	require.Len(t, list.AwaitingAction, 3)
	assert.Equal(t, "req-2", list.AwaitingAction[0].ID)
	assert.Equal(t, "req-4", list.AwaitingAction[1].ID)
	assert.Equal(t, "req-3", list.AwaitingAction[2].ID)
}

type statsInvalidatorStub struct {
	calls int
}

func (s *statsInvalidatorStub) InvalidateStats(ctx context.Context) {
	s.calls++
}

func TestApprovalServiceInvalidatesStatsOnDecisions(t *testing.T) {
	store := newDecisionStoreStub()
	store.seed(pendingStudentRequest("req-1"))
	notifier := &notifierStub{}
	invalidator := &statsInvalidatorStub{}
	cfg := config.WorkflowConfig{RetryAttempts: 3, RetryBackoff: time.Millisecond}
	svc := NewApprovalService(store, nil, nil, notifier, nil, invalidator, cfg, nil)
	ctx := context.Background()

	_, err := svc.Approve(ctx, "req-1", dto.ApprovePayload{}, claimsWithRole("g-1", models.RoleGuide))
	require.NoError(t, err)
	assert.Equal(t, 1, invalidator.calls)

	_, err = svc.Reject(ctx, "req-1", dto.RejectPayload{Reason: "missing details"}, claimsWithRole("h-1", models.RoleHOD))
	require.NoError(t, err)
	assert.Equal(t, 2, invalidator.calls)

	_, err = svc.Restore(ctx, "req-1", studentClaims("stu-1"))
	require.NoError(t, err)
	assert.Equal(t, 3, invalidator.calls)

	// A refused decision must leave the cache alone.
	_, err = svc.Approve(ctx, "req-1", dto.ApprovePayload{}, claimsWithRole("it-1", models.RoleITServices))
	require.Error(t, err)
	assert.Equal(t, 3, invalidator.calls)
}
