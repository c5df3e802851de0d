package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lab-access-api/internal/dto"
	"github.com/noah-isme/lab-access-api/internal/models"
	appErrors "github.com/noah-isme/lab-access-api/pkg/errors"
	"github.com/noah-isme/lab-access-api/pkg/response"
)

type approvalService interface {
	Approve(ctx context.Context, id string, payload dto.ApprovePayload, actor *models.JWTClaims) (*models.AccessRequest, error)
	Reject(ctx context.Context, id string, payload dto.RejectPayload, actor *models.JWTClaims) (*models.AccessRequest, error)
	Restore(ctx context.Context, id string, actor *models.JWTClaims) (*models.AccessRequest, error)
	Close(ctx context.Context, id string, actor *models.JWTClaims) (*models.AccessRequest, error)
	Worklist(ctx context.Context, actor *models.JWTClaims) (*dto.WorklistResponse, error)
}

// ApprovalHandler exposes the decision endpoints of the approval chain.
type ApprovalHandler struct {
	service approvalService
}

// NewApprovalHandler constructs the handler.
func NewApprovalHandler(service approvalService) *ApprovalHandler {
	return &ApprovalHandler{service: service}
}

// Approve godoc
// @Summary Approve the stage currently awaiting action
// @Tags Workflow
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.ApprovePayload false "Optional comment"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/approve [post]
func (h *ApprovalHandler) Approve(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var payload dto.ApprovePayload
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&payload); err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid approve payload"))
			return
		}
	}
	req, err := h.service.Approve(c.Request.Context(), c.Param("id"), payload, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, req, nil)
}

// Reject godoc
// @Summary Reject a request with a mandatory reason
// @Tags Workflow
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.RejectPayload true "Rejection reason"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/reject [post]
func (h *ApprovalHandler) Reject(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var payload dto.RejectPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "rejection reason is required"))
		return
	}
	req, err := h.service.Reject(c.Request.Context(), c.Param("id"), payload, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, req, nil)
}

// Restore godoc
// @Summary Restore a rejected request to pending
// @Tags Workflow
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/restore [post]
func (h *ApprovalHandler) Restore(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	req, err := h.service.Restore(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, req, nil)
}

// Close godoc
// @Summary Close an approved request
// @Tags Workflow
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/close [post]
func (h *ApprovalHandler) Close(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	req, err := h.service.Close(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, req, nil)
}

// Worklist godoc
// @Summary Get the approver worklist
// @Tags Workflow
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /approvals/worklist [get]
func (h *ApprovalHandler) Worklist(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	worklist, err := h.service.Worklist(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, worklist, nil)
}
