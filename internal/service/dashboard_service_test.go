package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lab-access-api/internal/models"
	appErrors "github.com/noah-isme/lab-access-api/pkg/errors"
)

type statsProviderStub struct {
	stats     models.RequestStats
	perStage  map[models.RequestStatus]int
	statCalls int
}

func (s *statsProviderStub) Stats(ctx context.Context, since time.Time) (*models.RequestStats, error) {
	s.statCalls++
	stats := s.stats
	return &stats, nil
}

func (s *statsProviderStub) CountByStatus(ctx context.Context) (map[models.RequestStatus]int, error) {
	return s.perStage, nil
}

type requestListerStub struct {
	requests []models.AccessRequest
	filter   models.RequestFilter
}

func (s *requestListerStub) List(ctx context.Context, filter models.RequestFilter) ([]models.AccessRequest, error) {
	s.filter = filter
	return s.requests, nil
}

// memoryCacheRepo keeps serialized payloads in a map, mirroring what the
// redis-backed repository does with JSON round-trips.
type memoryCacheRepo struct {
	entries map[string][]byte
}

func newMemoryCacheRepo() *memoryCacheRepo {
	return &memoryCacheRepo{entries: make(map[string][]byte)}
}

func (m *memoryCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	data, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(data, dest)
}

func (m *memoryCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.entries[key] = data
	return nil
}

func (m *memoryCacheRepo) DeleteByPattern(ctx context.Context, pattern string) error {
	m.entries = make(map[string][]byte)
	return nil
}

func TestDashboardStatsCaching(t *testing.T) {
	stats := &statsProviderStub{
		stats:    models.RequestStats{Total: 10, Pending: 3, Approved: 4},
		perStage: map[models.RequestStatus]int{models.StatusPending: 3},
	}
	cacheRepo := newMemoryCacheRepo()
	cacheSvc := NewCacheService(cacheRepo, nil, time.Minute, nil, true)
	svc := NewDashboardService(DashboardServiceParams{
		Stats: stats,
		Cache: cacheSvc,
	})
	ctx := context.Background()
	admin := claimsWithRole("adm-1", models.RoleAdmin)

	resp, cached, err := svc.Stats(ctx, admin)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, 10, resp.Totals.Total)
	assert.Equal(t, 1, stats.statCalls)

	resp, cached, err = svc.Stats(ctx, admin)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, 10, resp.Totals.Total)
	assert.Equal(t, 1, stats.statCalls)

	svc.InvalidateStats(ctx)
	_, cached, err = svc.Stats(ctx, admin)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, 2, stats.statCalls)
}

func TestDashboardStatsRoleGate(t *testing.T) {
	svc := NewDashboardService(DashboardServiceParams{Stats: &statsProviderStub{}})

	_, _, err := svc.Stats(context.Background(), studentClaims("stu-1"))
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	_, _, err = svc.Stats(context.Background(), nil)
	assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))
}

func TestDashboardStatsWithoutCache(t *testing.T) {
	stats := &statsProviderStub{stats: models.RequestStats{Total: 2}}
	svc := NewDashboardService(DashboardServiceParams{Stats: stats})

	resp, cached, err := svc.Stats(context.Background(), claimsWithRole("h-1", models.RoleHOD))
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, 2, resp.Totals.Total)
}

func TestDashboardSubmitterOverview(t *testing.T) {
	now := time.Now()
	rejectedAt := now.Add(time.Hour)
	lister := &requestListerStub{requests: []models.AccessRequest{
		{ID: "req-1", RequesterID: "stu-1", RequesterRole: models.RoleStudent, Status: models.StatusPending, SubmittedAt: now},
		{ID: "req-2", RequesterID: "stu-1", RequesterRole: models.RoleStudent, Status: models.StatusRejected, SubmittedAt: now, RejectedAt: &rejectedAt},
	}}
	ledger := &ledgerStub{rejection: &models.ApprovalRecord{Stage: "guide", Approved: false}}
	svc := NewDashboardService(DashboardServiceParams{
		Requests: lister,
		Ledger:   ledger,
	})

	overview, err := svc.SubmitterOverview(context.Background(), studentClaims("stu-1"))
	require.NoError(t, err)
	require.Len(t, overview.Requests, 2)
	assert.Equal(t, "stu-1", lister.filter.RequesterID)
	// Each entry carries the projected timeline.
	require.Len(t, overview.Requests[0].Workflow, 5)

	_, err = svc.SubmitterOverview(context.Background(), claimsWithRole("adm-1", models.RoleAdmin))
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}
