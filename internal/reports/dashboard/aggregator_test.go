package dashboard

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"callscope/report-portal/report-portal-backend/internal/reports"
)

// MockQueryService is a mock implementation of reports.QueryService
type MockQueryService struct {
	mock.Mock
}

func (m *MockQueryService) Run(ctx context.Context, req reports.QueryRequest) (*reports.QueryResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reports.QueryResult), args.Error(1)
}

func byName(name reports.QueryName) interface{} {
	return mock.MatchedBy(func(req reports.QueryRequest) bool { return req.QueryName == name })
}

type notifications struct {
	mu    sync.Mutex
	items []reports.Notification
}

func (n *notifications) Notify(note reports.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = append(n.items, note)
}

func (n *notifications) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.items)
}

var fixedNow = time.Date(2024, 3, 31, 15, 0, 0, 0, time.UTC)

func newTestAggregator(service reports.QueryService, notifier reports.Notifier) *Aggregator {
	cfg := DefaultAggregatorConfig()
	cfg.TopQueues = 2
	a := NewAggregator(service, notifier, zap.NewNop(), cfg)
	a.clock = func() time.Time { return fixedNow }
	return a
}

func queueRow(id, received, answered, unanswered, sla string) reports.Row {
	return reports.NewRow(
		"queue_id", id,
		"received", received,
		"answered", answered,
		"unanswered", unanswered,
		"sla", sla,
	)
}

func TestAggregatorComputesKPIs(t *testing.T) {
	service := new(MockQueryService)
	service.On("Run", mock.Anything, byName(reports.QueryDistributionByQueue)).Return(reports.Succeeded(nil, []reports.Row{
		queueRow("q1", "100", "80", "20", "90.00"),
		queueRow("q2", "50", "25", "25", "70.5%"),
		queueRow("q3", "10", "10", "0", "n/a"),
	}), nil).Once()
	service.On("Run", mock.Anything, byName(reports.QueryDistributionByHour)).Return(reports.Succeeded(nil, []reports.Row{
		reports.NewRow("hour", "09:00", "received", "12"),
	}), nil).Once()

	a := newTestAggregator(service, nil)
	defer a.Close()

	o, err := a.GetOverview(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 160, o.TotalCalls)
	assert.Equal(t, 115, o.AnsweredCalls)
	assert.Equal(t, 45, o.MissedCalls)
	assert.Equal(t, 72, o.AnsweredPct)
	assert.Equal(t, 28, o.MissedPct)
	// (90 + 70.5 + 0) / 3
	assert.Equal(t, 54, o.AvgSLA)
	assert.Len(t, o.Queues, 2)
	assert.Len(t, o.Hourly, 1)
	assert.Empty(t, o.Errors)
	assert.Equal(t, "2024-03-01 00:00:00.000", o.Start)
	assert.Equal(t, "2024-03-31 23:59:59.999", o.End)

	// Served from cache
	again, err := a.GetOverview(context.Background())
	require.NoError(t, err)
	assert.Same(t, o, again)
	service.AssertExpectations(t)
}

func TestAggregatorOverviewExpires(t *testing.T) {
	service := new(MockQueryService)
	service.On("Run", mock.Anything, mock.Anything).Return(reports.Succeeded(nil, nil), nil)

	cfg := DefaultAggregatorConfig()
	cfg.CacheTTL = 30 * time.Millisecond
	a := NewAggregator(service, nil, zap.NewNop(), cfg)
	defer a.Close()

	first, err := a.GetOverview(context.Background())
	require.NoError(t, err)
	service.AssertNumberOfCalls(t, "Run", 2)

	require.Eventually(t, func() bool {
		_, ok := a.cache.Get(overviewKey)
		return !ok
	}, 2*time.Second, 5*time.Millisecond)

	second, err := a.GetOverview(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	service.AssertNumberOfCalls(t, "Run", 4)

	a.Close()
	assert.Equal(t, 0, a.cache.Len())
}

func TestAggregatorHourlyUsesToday(t *testing.T) {
	service := new(MockQueryService)
	service.On("Run", mock.Anything, byName(reports.QueryDistributionByQueue)).Return(reports.Succeeded(nil, nil), nil)
	service.On("Run", mock.Anything, mock.MatchedBy(func(req reports.QueryRequest) bool {
		start, end := req.DateRange.Boundaries()
		return req.QueryName == reports.QueryDistributionByHour &&
			start == "2024-03-31 00:00:00.000" && end == "2024-03-31 23:59:59.999"
	})).Return(reports.Succeeded(nil, nil), nil).Once()

	a := newTestAggregator(service, nil)
	defer a.Close()

	o, err := a.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, o.TotalCalls)
	assert.Equal(t, 0, o.AnsweredPct)
	assert.NotNil(t, o.Queues)
	service.AssertExpectations(t)
}

func TestAggregatorPartialFailure(t *testing.T) {
	service := new(MockQueryService)
	service.On("Run", mock.Anything, byName(reports.QueryDistributionByQueue)).Return(reports.Succeeded(nil, []reports.Row{
		queueRow("q1", "10", "9", "1", "95"),
	}), nil)
	service.On("Run", mock.Anything, byName(reports.QueryDistributionByHour)).Return(reports.Failed(errors.New("timeout")), nil)

	notifier := &notifications{}
	a := newTestAggregator(service, notifier)
	defer a.Close()

	o, err := a.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, o.TotalCalls)
	require.Len(t, o.Errors, 1)
	assert.Contains(t, o.Errors[0], "hourly distribution: timeout")
	assert.Equal(t, 0, notifier.count())
}

func TestAggregatorTotalFailureNotifies(t *testing.T) {
	service := new(MockQueryService)
	service.On("Run", mock.Anything, mock.Anything).Return(nil, errors.New("athena unavailable"))

	notifier := &notifications{}
	a := newTestAggregator(service, notifier)
	defer a.Close()

	_, err := a.GetOverview(context.Background())
	assert.ErrorContains(t, err, "athena unavailable")
	assert.Equal(t, 1, notifier.count())
	assert.Equal(t, "Failed to load dashboard data", notifier.items[0].Title)
}

func TestParseHelpers(t *testing.T) {
	assert.Equal(t, 42, parseCount("42"))
	assert.Equal(t, 42, parseCount(" 42 calls"))
	assert.Equal(t, -3, parseCount("-3"))
	assert.Equal(t, 0, parseCount(""))
	assert.Equal(t, 0, parseCount("n/a"))

	assert.Equal(t, 85.5, parsePercent("85.5%"))
	assert.Equal(t, 85.5, parsePercent("85.5"))
	assert.Equal(t, 0.0, parsePercent("NaN"))
	assert.Equal(t, 0.0, parsePercent(""))
}

func TestHandlerOverview(t *testing.T) {
	gin.SetMode(gin.TestMode)

	service := new(MockQueryService)
	service.On("Run", mock.Anything, mock.Anything).Return(nil, errors.New("down")).Once()
	service.On("Run", mock.Anything, mock.Anything).Return(nil, errors.New("down")).Once()
	service.On("Run", mock.Anything, mock.Anything).Return(reports.Succeeded(nil, nil), nil)

	a := newTestAggregator(service, nil)
	defer a.Close()

	router := gin.New()
	NewHandler(a, zap.NewNop()).RegisterRoutes(router.Group("/api/v1"))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/dashboard/overview", nil))
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/dashboard/overview/refresh", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total_calls":0`)
}
