package dashboard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"callscope/report-portal/report-portal-backend/internal/reports"
)

func TestRefresherRunsImmediately(t *testing.T) {
	service := new(MockQueryService)
	service.On("Run", mock.Anything, mock.Anything).Return(reports.Succeeded(nil, nil), nil)

	a := newTestAggregator(service, nil)
	defer a.Close()

	r := NewRefresher(a, "", zap.NewNop())
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()

	assert.Error(t, r.Start(context.Background()))

	require.Eventually(t, func() bool {
		_, ok := a.cache.Get(overviewKey)
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRefresherRejectsBadSchedule(t *testing.T) {
	a := newTestAggregator(new(MockQueryService), nil)
	defer a.Close()

	r := NewRefresher(a, "not a schedule", zap.NewNop())
	assert.Error(t, r.Start(context.Background()))
	r.Stop()
}
