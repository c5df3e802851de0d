package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lab-access-api/internal/dto"
	"github.com/noah-isme/lab-access-api/internal/models"
	appErrors "github.com/noah-isme/lab-access-api/pkg/errors"
)

type statsProvider interface {
	Stats(ctx context.Context, since time.Time) (*models.RequestStats, error)
	CountByStatus(ctx context.Context) (map[models.RequestStatus]int, error)
}

type requestLister interface {
	List(ctx context.Context, filter models.RequestFilter) ([]models.AccessRequest, error)
}

// DashboardServiceConfig tunes dashboard behaviour.
type DashboardServiceConfig struct {
	CacheTTL       time.Duration
	ActivityWindow time.Duration
	OverviewLimit  int
}

// DashboardService composes the admin stats payload and the submitter
// overview. Stats are cached briefly; the submitter overview is always
// live because it drives the page a requester refreshes while waiting.
type DashboardService struct {
	stats    statsProvider
	requests requestLister
	ledger   ledgerReader
	wf       *Workflow
	cache    *CacheService
	logger   *zap.Logger
	now      func() time.Time
	cfg      DashboardServiceConfig
}

// DashboardServiceParams groups constructor dependencies.
type DashboardServiceParams struct {
	Stats    statsProvider
	Requests requestLister
	Ledger   ledgerReader
	Workflow *Workflow
	Cache    *CacheService
	Logger   *zap.Logger
	Config   DashboardServiceConfig
}

// NewDashboardService constructs a DashboardService with sane defaults.
func NewDashboardService(params DashboardServiceParams) *DashboardService {
	cfg := params.Config
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.ActivityWindow <= 0 {
		cfg.ActivityWindow = 30 * 24 * time.Hour
	}
	if cfg.OverviewLimit <= 0 {
		cfg.OverviewLimit = 50
	}
	wf := params.Workflow
	if wf == nil {
		wf = DefaultWorkflow()
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DashboardService{
		stats:    params.Stats,
		requests: params.Requests,
		ledger:   params.Ledger,
		wf:       wf,
		cache:    params.Cache,
		logger:   logger,
		now:      time.Now,
		cfg:      cfg,
	}
}

// Stats returns aggregate request counts for approver and admin dashboards
// and indicates cache utilisation.
func (s *DashboardService) Stats(ctx context.Context, actor *models.JWTClaims) (*dto.StatsResponse, bool, error) {
	if actor == nil {
		return nil, false, appErrors.ErrUnauthorized
	}
	if !actor.Role.IsApprover() {
		return nil, false, appErrors.Clone(appErrors.ErrForbidden, "stats are restricted to approver roles")
	}

	const cacheKey = "dash:stats"
	if s.cache != nil {
		var cached dto.StatsResponse
		hit, err := s.cache.Get(ctx, cacheKey, &cached)
		if err != nil {
			return nil, false, err
		}
		if hit {
			return &cached, true, nil
		}
	}

	since := s.now().UTC().Add(-s.cfg.ActivityWindow)
	totals, err := s.stats.Stats(ctx, since)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate request stats")
	}
	perStage, err := s.stats.CountByStatus(ctx)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count requests per stage")
	}

	summary := &dto.StatsResponse{Totals: *totals, PerStage: perStage}
	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, summary, s.cfg.CacheTTL); err != nil {
			s.logger.Warn("dashboard cache write failed", zap.String("key", cacheKey), zap.Error(err))
		}
	}
	return summary, false, nil
}

// SubmitterOverview returns the actor's own requests, each paired with its
// stage timeline.
func (s *DashboardService) SubmitterOverview(ctx context.Context, actor *models.JWTClaims) (*dto.SubmitterOverviewResponse, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !actor.Role.IsSubmitter() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "overview is restricted to submitter roles")
	}
	requests, err := s.requests.List(ctx, models.RequestFilter{
		RequesterID: actor.UserID,
		Limit:       s.cfg.OverviewLimit,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load requests")
	}

	overview := &dto.SubmitterOverviewResponse{Requests: make([]dto.SubmitterRequest, 0, len(requests))}
	for i := range requests {
		req := requests[i]
		var rejection *models.ApprovalRecord
		if req.Status == models.StatusRejected && s.ledger != nil {
			rejection, err = s.ledger.LatestRejection(ctx, req.ID)
			if err != nil {
				s.logger.Warn("rejection lookup failed",
					zap.String("request_id", req.ID),
					zap.Error(err))
			}
		}
		overview.Requests = append(overview.Requests, dto.SubmitterRequest{
			Request:  req,
			Workflow: s.wf.Timeline(&req, rejection),
		})
	}
	return overview, nil
}

// InvalidateStats drops the cached stats payload after a decision lands.
func (s *DashboardService) InvalidateStats(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, "dash:stats*"); err != nil {
		s.logger.Warn("stats cache invalidation failed", zap.Error(err))
	}
}
