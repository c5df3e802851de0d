package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/lab-access-api/internal/dto"
	"github.com/noah-isme/lab-access-api/internal/models"
	appErrors "github.com/noah-isme/lab-access-api/pkg/errors"
)

type requestStore interface {
	Create(ctx context.Context, req *models.AccessRequest) error
	GetByID(ctx context.Context, id string) (*models.AccessRequest, error)
	List(ctx context.Context, filter models.RequestFilter) ([]models.AccessRequest, error)
	Update(ctx context.Context, req *models.AccessRequest) error
	Delete(ctx context.Context, id string) error
}

type ledgerReader interface {
	ListByRequest(ctx context.Context, requestID string) ([]models.ApprovalRecord, error)
	LatestRejection(ctx context.Context, requestID string) (*models.ApprovalRecord, error)
}

type auditRecorder interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// RequestService owns the submitter-facing lifecycle: submission, pending
// edits, deletion, and read access to requests, their ledger, and the stage
// timeline. Decisions live in ApprovalService.
type RequestService struct {
	repo      requestStore
	ledger    ledgerReader
	audit     auditRecorder
	wf        *Workflow
	notifier  Notifier
	validator *validator.Validate
	logger    *zap.Logger
}

// NewRequestService constructs the service with defaults.
func NewRequestService(repo requestStore, ledger ledgerReader, audit auditRecorder, wf *Workflow, notifier Notifier, validate *validator.Validate, logger *zap.Logger) *RequestService {
	if wf == nil {
		wf = DefaultWorkflow()
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequestService{
		repo:      repo,
		ledger:    ledger,
		audit:     audit,
		wf:        wf,
		notifier:  notifier,
		validator: validate,
		logger:    logger,
	}
}

// Submit creates a new access request in pending status on behalf of the
// authenticated submitter.
func (s *RequestService) Submit(ctx context.Context, payload dto.CreateRequestPayload, actor *models.JWTClaims) (*models.AccessRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !actor.Role.IsSubmitter() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only submitter roles can create access requests")
	}
	if err := s.validator.Struct(payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	priority := payload.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	if !models.ValidPriority(priority) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "priority must be low, medium, high, or urgent")
	}
	if actor.Role == models.RoleStudent && strings.TrimSpace(payload.GuideEmail) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "guide email is required for student requests")
	}

	req := &models.AccessRequest{
		RequesterID:      actor.UserID,
		Title:            strings.TrimSpace(payload.Title),
		Description:      payload.Description,
		Purpose:          payload.Purpose,
		GuideEmail:       optionalString(payload.GuideEmail),
		ExpectedDuration: optionalString(payload.ExpectedDuration),
		Priority:         priority,
		Status:           models.StatusPending,
	}
	if err := s.repo.Create(ctx, req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access request")
	}
	req.RequesterName = actor.FullName
	req.RequesterRole = actor.Role

	s.emitAudit(ctx, actor.UserID, models.AuditActionRequestSubmit, req.ID, req)

	next := ""
	if plan := s.wf.Plan(actor.Role); len(plan) > 0 {
		next = plan[0].Name
	}
	s.notifier.Notify(ctx, NotificationEvent{
		Kind:      NotifySubmitted,
		Request:   req,
		Actor:     claimsInfo(actor),
		NextStage: next,
	})
	return req, nil
}

// Get loads one request, enforcing ownership for submitter roles.
func (s *RequestService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.AccessRequest, error) {
	return s.load(ctx, id, actor)
}

// List returns requests visible to the actor. Submitters only ever see their
// own; approvers and admins see everything the filter matches.
func (s *RequestService) List(ctx context.Context, query dto.RequestQuery, actor *models.JWTClaims) ([]models.AccessRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	filter := models.RequestFilter{
		Status:      query.Status,
		RequesterID: query.RequesterID,
		Priority:    query.Priority,
		Limit:       query.Limit,
		Offset:      query.Offset,
	}
	if actor.Role.IsSubmitter() {
		filter.RequesterID = actor.UserID
	}
	requests, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list access requests")
	}
	return requests, nil
}

// Update edits the descriptive fields of a pending request. Only the owner
// may edit, and only while no approver has acted.
func (s *RequestService) Update(ctx context.Context, id string, payload dto.UpdateRequestPayload, actor *models.JWTClaims) (*models.AccessRequest, error) {
	req, err := s.load(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if req.RequesterID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the requester can edit this request")
	}
	if req.Status != models.StatusPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "only pending requests can be edited")
	}
	if err := s.validator.Struct(payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	priority := payload.Priority
	if priority == "" {
		priority = req.Priority
	}
	if !models.ValidPriority(priority) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "priority must be low, medium, high, or urgent")
	}
	if actor.Role == models.RoleStudent && strings.TrimSpace(payload.GuideEmail) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "guide email is required for student requests")
	}

	req.Title = strings.TrimSpace(payload.Title)
	req.Description = payload.Description
	req.Purpose = payload.Purpose
	req.GuideEmail = optionalString(payload.GuideEmail)
	req.ExpectedDuration = optionalString(payload.ExpectedDuration)
	req.Priority = priority
	if err := s.repo.Update(ctx, req); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "only pending requests can be edited")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update access request")
	}
	s.emitAudit(ctx, actor.UserID, models.AuditActionRequestUpdate, req.ID, req)
	return req, nil
}

// Delete removes a request. Owners may withdraw while pending; admins may
// delete any request that is not closed.
func (s *RequestService) Delete(ctx context.Context, id string, actor *models.JWTClaims) error {
	req, err := s.load(ctx, id, actor)
	if err != nil {
		return err
	}
	switch {
	case actor.Role == models.RoleAdmin:
		if req.Status == models.StatusClosed {
			return appErrors.Clone(appErrors.ErrInvalidState, "closed requests cannot be deleted")
		}
	case req.RequesterID == actor.UserID:
		if req.Status != models.StatusPending {
			return appErrors.Clone(appErrors.ErrInvalidState, "only pending requests can be withdrawn")
		}
	default:
		return appErrors.Clone(appErrors.ErrForbidden, "only the requester or an admin can delete this request")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrInvalidState, "request was already processed")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete access request")
	}
	s.emitAudit(ctx, actor.UserID, models.AuditActionRequestDelete, id, nil)
	return nil
}

// History returns the full approval ledger for a request, oldest first.
// Restore cycles keep prior entries, so a request may carry more decisions
// than its timeline shows.
func (s *RequestService) History(ctx context.Context, id string, actor *models.JWTClaims) ([]models.ApprovalRecord, error) {
	if _, err := s.load(ctx, id, actor); err != nil {
		return nil, err
	}
	records, err := s.ledger.ListByRequest(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load approval history")
	}
	return records, nil
}

// WorkflowStatus projects the ordered stage timeline for a request.
func (s *RequestService) WorkflowStatus(ctx context.Context, id string, actor *models.JWTClaims) (*dto.WorkflowStatusResponse, error) {
	req, err := s.load(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	var rejection *models.ApprovalRecord
	if req.Status == models.StatusRejected {
		rejection, err = s.ledger.LatestRejection(ctx, id)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load rejection record")
		}
	}
	return &dto.WorkflowStatusResponse{
		Request:       req,
		Workflow:      s.wf.Timeline(req, rejection),
		CurrentStatus: req.Status,
	}, nil
}

func (s *RequestService) load(ctx context.Context, id string, actor *models.JWTClaims) (*models.AccessRequest, error) {
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
	if actor.Role.IsSubmitter() && req.RequesterID != actor.UserID {
		return nil, appErrors.ErrForbidden
	}
	return req, nil
}

func (s *RequestService) emitAudit(ctx context.Context, userID, action, resourceID string, payload any) {
	if s.audit == nil {
		return
	}
	log := &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "access_request",
		ResourceID: &resourceID,
		IPAddress:  "system",
		UserAgent:  "request-service",
	}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			log.NewValues = data
		}
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}

func optionalString(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	v := strings.TrimSpace(value)
	return &v
}

func claimsInfo(actor *models.JWTClaims) models.UserInfo {
	return models.UserInfo{
		ID:       actor.UserID,
		Email:    actor.Email,
		FullName: actor.FullName,
		Role:     actor.Role,
	}
}
