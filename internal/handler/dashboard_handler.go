package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lab-access-api/internal/dto"
	"github.com/noah-isme/lab-access-api/internal/middleware"
	"github.com/noah-isme/lab-access-api/internal/models"
	appErrors "github.com/noah-isme/lab-access-api/pkg/errors"
	"github.com/noah-isme/lab-access-api/pkg/response"
)

type dashboardService interface {
	Stats(ctx context.Context, actor *models.JWTClaims) (*dto.StatsResponse, bool, error)
	SubmitterOverview(ctx context.Context, actor *models.JWTClaims) (*dto.SubmitterOverviewResponse, error)
}

// DashboardHandler serves the aggregate views.
type DashboardHandler struct {
	service dashboardService
}

// NewDashboardHandler constructs the handler.
func NewDashboardHandler(service dashboardService) *DashboardHandler {
	return &DashboardHandler{service: service}
}

// Stats godoc
// @Summary Aggregate request counts for approvers and admins
// @Tags Dashboard
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /dashboard/stats [get]
func (h *DashboardHandler) Stats(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	stats, cached, err := h.service.Stats(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cached)
	response.JSON(c, http.StatusOK, stats, nil, middleware.ExtractMeta(c))
}

// Overview godoc
// @Summary The submitter's own requests with stage timelines
// @Tags Dashboard
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /dashboard/overview [get]
func (h *DashboardHandler) Overview(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	overview, err := h.service.SubmitterOverview(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, overview, nil)
}
