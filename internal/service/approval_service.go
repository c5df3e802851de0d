package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lab-access-api/internal/dto"
	"github.com/noah-isme/lab-access-api/internal/models"
	"github.com/noah-isme/lab-access-api/internal/repository"
	"github.com/noah-isme/lab-access-api/pkg/config"
	appErrors "github.com/noah-isme/lab-access-api/pkg/errors"
)

// statsInvalidator drops cached aggregate counts once a decision commits.
type statsInvalidator interface {
	InvalidateStats(ctx context.Context)
}

type decisionStore interface {
	GetByID(ctx context.Context, id string) (*models.AccessRequest, error)
	ApplyDecision(ctx context.Context, params repository.DecisionParams) error
	Restore(ctx context.Context, id string, at time.Time) error
	Close(ctx context.Context, id, actorID string, at time.Time) error
	ListAwaiting(ctx context.Context, status models.RequestStatus, submitterRoles []models.Role) ([]models.AccessRequest, error)
	ListDecidedBy(ctx context.Context, stageColumn, actorID string) ([]models.AccessRequest, error)
}

// ApprovalService advances requests through the role-gated approval chain.
// Every decision is a single transaction: the compare-and-swap status update
// and the ledger insert commit together. Transient serialization failures
// are retried; permission and state errors never are.
type ApprovalService struct {
	repo     decisionStore
	audit    auditRecorder
	wf       *Workflow
	notifier Notifier
	metrics  *MetricsService
	stats    statsInvalidator
	attempts int
	backoff  time.Duration
	logger   *zap.Logger
}

// NewApprovalService constructs the service with defaults. stats may be nil
// when no dashboard cache is configured.
func NewApprovalService(repo decisionStore, audit auditRecorder, wf *Workflow, notifier Notifier, metrics *MetricsService, stats statsInvalidator, cfg config.WorkflowConfig, logger *zap.Logger) *ApprovalService {
	if wf == nil {
		wf = DefaultWorkflow()
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 50 * time.Millisecond
	}
	return &ApprovalService{
		repo:     repo,
		audit:    audit,
		wf:       wf,
		notifier: notifier,
		metrics:  metrics,
		stats:    stats,
		attempts: attempts,
		backoff:  backoff,
		logger:   logger,
	}
}

// Approve records an approval for the stage currently awaiting action and
// advances the request. Admins may act for any stage; other approvers only
// for their own.
func (s *ApprovalService) Approve(ctx context.Context, id string, payload dto.ApprovePayload, actor *models.JWTClaims) (*models.AccessRequest, error) {
	req, err := s.loadForDecision(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	stage, err := s.wf.Next(req.Status, req.RequesterRole)
	if err != nil {
		return nil, err
	}
	if !s.wf.Authorized(actor.Role, stage) {
		own, ok := s.wf.StageByApprover(actor.Role)
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "no workflow stage is bound to this role")
		}
		if _, err := s.wf.ExpectedStatus(own, req.RequesterRole); err != nil {
			// The actor's stage is skipped for this submitter class.
			return nil, err
		}
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "request is awaiting the "+stage.Name+" stage, not "+own.Name)
	}

	now := time.Now().UTC()
	params := repository.DecisionParams{
		RequestID:     req.ID,
		Expected:      req.Status,
		NewStatus:     stage.Result,
		StageColumn:   stage.Column,
		ActorID:       actor.UserID,
		DecidedAt:     now,
		SetApprovedAt: stage.Final(),
		Ledger: models.ApprovalRecord{
			RequestID: req.ID,
			ActorID:   actor.UserID,
			Stage:     stage.Name,
			Approved:  true,
			Comment:   optionalString(payload.Comment),
			DecidedAt: now,
		},
	}
	if err := s.applyWithRetry(ctx, params); err != nil {
		return nil, err
	}

	req.Status = stage.Result
	actorID := actor.UserID
	switch stage.Column {
	case "guide":
		req.GuideApprovedAt, req.GuideApprovedBy = &now, &actorID
	case "hod":
		req.HODApprovedAt, req.HODApprovedBy = &now, &actorID
	case "it_services":
		req.ITServicesApprovedAt, req.ITServicesApprovedBy = &now, &actorID
	}
	if stage.Final() {
		req.ApprovedAt = &now
	}
	req.UpdatedAt = now

	s.metrics.RecordDecision(stage.Name, true)
	s.emitDecisionAudit(ctx, actor.UserID, req)
	s.invalidateStats(ctx)

	event := NotificationEvent{Kind: NotifyStageApproved, Request: req, Actor: claimsInfo(actor)}
	if stage.Final() {
		event.Kind = NotifyFinalApproved
	} else if next, err := s.wf.Next(req.Status, req.RequesterRole); err == nil {
		event.NextStage = next.Name
	}
	s.notifier.Notify(ctx, event)
	return req, nil
}

// Reject turns down a request with a mandatory reason. Any approver may
// reject while the request is still in flight; the ledger entry records
// which stage the rejection happened at.
func (s *ApprovalService) Reject(ctx context.Context, id string, payload dto.RejectPayload, actor *models.JWTClaims) (*models.AccessRequest, error) {
	reason := strings.TrimSpace(payload.Reason)
	if reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "rejection reason is required")
	}
	req, err := s.loadForDecision(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	stage, err := s.wf.Next(req.Status, req.RequesterRole)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	params := repository.DecisionParams{
		RequestID:       req.ID,
		Expected:        req.Status,
		NewStatus:       models.StatusRejected,
		ActorID:         actor.UserID,
		DecidedAt:       now,
		SetRejectedAt:   true,
		RejectionReason: &reason,
		Ledger: models.ApprovalRecord{
			RequestID: req.ID,
			ActorID:   actor.UserID,
			Stage:     stage.Name,
			Approved:  false,
			Comment:   &reason,
			DecidedAt: now,
		},
	}
	if err := s.applyWithRetry(ctx, params); err != nil {
		return nil, err
	}

	req.Status = models.StatusRejected
	req.RejectedAt = &now
	req.RejectionReason = &reason
	req.UpdatedAt = now

	s.metrics.RecordDecision(stage.Name, false)
	s.emitDecisionAudit(ctx, actor.UserID, req)
	s.invalidateStats(ctx)
	s.notifier.Notify(ctx, NotificationEvent{
		Kind:    NotifyStageRejected,
		Request: req,
		Actor:   claimsInfo(actor),
		Reason:  reason,
	})
	return req, nil
}

// Restore returns a rejected request to pending, clearing every stage
// timestamp and actor so the approval chain starts over. Ledger entries
// from the previous cycle are kept.
func (s *ApprovalService) Restore(ctx context.Context, id string, actor *models.JWTClaims) (*models.AccessRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load access request")
	}
	if actor.Role != models.RoleAdmin && req.RequesterID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the requester or an admin can restore this request")
	}
	if req.Status != models.StatusRejected {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "only rejected requests can be restored")
	}

	now := time.Now().UTC()
	if err := s.repo.Restore(ctx, id, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "request is no longer rejected")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to restore request")
	}

	req.Status = models.StatusPending
	req.GuideApprovedAt, req.GuideApprovedBy = nil, nil
	req.HODApprovedAt, req.HODApprovedBy = nil, nil
	req.ITServicesApprovedAt, req.ITServicesApprovedBy = nil, nil
	req.ApprovedAt = nil
	req.RejectedAt = nil
	req.RejectionReason = nil
	req.UpdatedAt = now

	s.emitDecisionAudit(ctx, actor.UserID, req)
	s.invalidateStats(ctx)
	return req, nil
}

// Close retires a granted request. Only admins close, and only from
// approved; closed is terminal with no way back.
func (s *ApprovalService) Close(ctx context.Context, id string, actor *models.JWTClaims) (*models.AccessRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins can close requests")
	}
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load access request")
	}
	if req.Status != models.StatusApproved {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "only approved requests can be closed")
	}

	now := time.Now().UTC()
	if err := s.repo.Close(ctx, id, actor.UserID, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "request is no longer approved")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to close request")
	}

	actorID := actor.UserID
	req.Status = models.StatusClosed
	req.ClosedAt = &now
	req.ClosedBy = &actorID
	req.UpdatedAt = now

	s.emitDecisionAudit(ctx, actor.UserID, req)
	s.invalidateStats(ctx)
	return req, nil
}

// submitterClasses groups submitter roles by workflow plan. Students take
// the full chain; faculty and external submitters share the guide-skipping
// plan, so one representative role stands in for each class.
func submitterClasses() []struct {
	Rep   models.Role
	Roles []models.Role
} {
	return []struct {
		Rep   models.Role
		Roles []models.Role
	}{
		{Rep: models.RoleStudent, Roles: []models.Role{models.RoleStudent}},
		{Rep: models.RoleFaculty, Roles: []models.Role{models.RoleFaculty, models.RoleExternal}},
	}
}

// Worklist returns the approver dashboard: requests awaiting the actor's
// stage plus requests the actor already decided. The HOD worklist merges two
// queues because faculty and external submissions arrive at the HOD still in
// pending status.
func (s *ApprovalService) Worklist(ctx context.Context, actor *models.JWTClaims) (*dto.WorklistResponse, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !actor.Role.IsApprover() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only approver roles have a worklist")
	}
	stage, ok := s.wf.StageByApprover(actor.Role)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "no workflow stage is bound to this role")
	}

	awaiting := make([]models.AccessRequest, 0)
	for _, class := range submitterClasses() {
		expected, err := s.wf.ExpectedStatus(stage, class.Rep)
		if err != nil {
			// Stage not in this class's plan; nothing to queue.
			continue
		}
		batch, err := s.repo.ListAwaiting(ctx, expected, class.Roles)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load worklist")
		}
		awaiting = append(awaiting, batch...)
	}
	// Per-class batches arrive sorted internally; the merged list must be
	// newest-submitted first across classes too.
	sort.Slice(awaiting, func(i, j int) bool {
		return awaiting[i].SubmittedAt.After(awaiting[j].SubmittedAt)
	})

	decided, err := s.repo.ListDecidedBy(ctx, stage.Column, actor.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load decided requests")
	}
	return &dto.WorklistResponse{AwaitingAction: awaiting, Decided: decided}, nil
}

func (s *ApprovalService) loadForDecision(ctx context.Context, id string, actor *models.JWTClaims) (*models.AccessRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !actor.Role.IsApprover() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only approver roles can decide requests")
	}
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load access request")
	}
	return req, nil
}

// applyWithRetry commits one decision, retrying bounded times when Postgres
// reports a serialization failure or deadlock. A compare-and-swap miss means
// another decision landed first and surfaces as an invalid-state error.
func (s *ApprovalService) applyWithRetry(ctx context.Context, params repository.DecisionParams) error {
	var err error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		err = s.repo.ApplyDecision(ctx, params)
		if err == nil {
			return nil
		}
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrInvalidState, "request status changed since it was loaded")
		}
		if !repository.IsRetryableWriteConflict(err) {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record decision")
		}
		s.logger.Warn("retrying decision after write conflict",
			zap.String("request_id", params.RequestID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return appErrors.Wrap(ctx.Err(), appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "decision cancelled")
		case <-time.After(s.backoff * time.Duration(attempt)):
		}
	}
	return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "decision kept conflicting with concurrent writes")
}

func (s *ApprovalService) invalidateStats(ctx context.Context) {
	if s.stats != nil {
		s.stats.InvalidateStats(ctx)
	}
}

func (s *ApprovalService) emitDecisionAudit(ctx context.Context, userID string, req *models.AccessRequest) {
	if s.audit == nil {
		return
	}
	id := req.ID
	log := &models.AuditLog{
		UserID:     &userID,
		Action:     models.AuditActionDecision,
		Resource:   "access_request",
		ResourceID: &id,
		IPAddress:  "system",
		UserAgent:  "approval-service",
	}
	if data, err := json.Marshal(map[string]any{"status": req.Status}); err == nil {
		log.NewValues = data
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}
