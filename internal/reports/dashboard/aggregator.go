package dashboard

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"callscope/report-portal/report-portal-backend/internal/reports"
)

const overviewKey = "dashboard_overview"

// Aggregator computes the dashboard overview from the queue and hourly
// distribution queries
type Aggregator struct {
	service  reports.QueryService
	cache    *expirable.LRU[string, *Overview]
	notifier reports.Notifier
	logger   *zap.Logger
	config   AggregatorConfig
	clock    func() time.Time

	// refresh guards against overlapping recomputations
	refresh sync.Mutex
}

// AggregatorConfig configures the overview
type AggregatorConfig struct {
	CacheTTL  time.Duration `json:"cache_ttl"`
	RangeDays int           `json:"range_days"`
	TopQueues int           `json:"top_queues"`
}

// DefaultAggregatorConfig returns default configuration
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		CacheTTL:  5 * time.Minute,
		RangeDays: 30,
		TopQueues: 10,
	}
}

// Overview is the dashboard landing data
type Overview struct {
	Start string `json:"start"`
	End   string `json:"end"`

	TotalCalls    int `json:"total_calls"`
	AnsweredCalls int `json:"answered_calls"`
	MissedCalls   int `json:"missed_calls"`
	AnsweredPct   int `json:"answered_pct"`
	MissedPct     int `json:"missed_pct"`

	// AvgSLA is the unweighted mean of the per-queue SLA percentages. Queues
	// with little traffic weigh as much as busy ones, so it only approximates
	// the overall SLA.
	AvgSLA int `json:"avg_sla"`

	Queues []reports.Row `json:"queues"`
	Hourly []reports.Row `json:"hourly"`

	Errors     []string  `json:"errors,omitempty"`
	ComputedAt time.Time `json:"computed_at"`
}

// NewAggregator creates a new aggregator
func NewAggregator(service reports.QueryService, notifier reports.Notifier, logger *zap.Logger, config AggregatorConfig) *Aggregator {
	if config.RangeDays <= 0 {
		config.RangeDays = 30
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = 5 * time.Minute
	}
	return &Aggregator{
		service:  service,
		cache:    expirable.NewLRU[string, *Overview](1, nil, config.CacheTTL),
		notifier: notifier,
		logger:   logger,
		config:   config,
		clock:    time.Now,
	}
}

// GetOverview returns the cached overview, computing it on a miss
func (a *Aggregator) GetOverview(ctx context.Context) (*Overview, error) {
	if o, ok := a.cache.Get(overviewKey); ok {
		return o, nil
	}
	return a.Refresh(ctx)
}

// Refresh recomputes the overview and replaces the cached copy
func (a *Aggregator) Refresh(ctx context.Context) (*Overview, error) {
	a.refresh.Lock()
	defer a.refresh.Unlock()

	o, err := a.computeOverview(ctx)
	if err != nil {
		a.logger.Error("Failed to compute dashboard overview", zap.Error(err))
		if a.notifier != nil {
			a.notifier.Notify(reports.Notification{
				Kind:        reports.NotificationError,
				Title:       "Failed to load dashboard data",
				Description: err.Error(),
				Timestamp:   a.clock(),
			})
		}
		return nil, err
	}
	a.cache.Add(overviewKey, o)
	return o, nil
}

// Close drops the cached overview
func (a *Aggregator) Close() {
	a.cache.Purge()
}

func (a *Aggregator) computeOverview(ctx context.Context) (*Overview, error) {
	now := a.clock()
	rng := reports.LastNDays(a.config.RangeDays, now)
	start, end := rng.Boundaries()
	o := &Overview{Start: start, End: end, ComputedAt: now}

	var queueErr, hourErr error
	var g errgroup.Group

	g.Go(func() error {
		rows, err := a.run(ctx, reports.QueryRequest{
			QueryName: reports.QueryDistributionByQueue,
			DateRange: rng,
		})
		if err != nil {
			queueErr = fmt.Errorf("queue distribution: %w", err)
			return nil
		}
		a.summarize(o, rows)
		return nil
	})

	g.Go(func() error {
		rows, err := a.run(ctx, reports.QueryRequest{
			QueryName: reports.QueryDistributionByHour,
			DateRange: reports.Today(now),
		})
		if err != nil {
			hourErr = fmt.Errorf("hourly distribution: %w", err)
			return nil
		}
		o.Hourly = rows
		return nil
	})

	_ = g.Wait()

	if queueErr != nil && hourErr != nil {
		return nil, errors.Join(queueErr, hourErr)
	}
	for _, err := range []error{queueErr, hourErr} {
		if err != nil {
			o.Errors = append(o.Errors, err.Error())
		}
	}
	if len(o.Errors) > 0 {
		a.logger.Warn("Some dashboard aggregations failed", zap.Strings("errors", o.Errors))
	}
	if o.Queues == nil {
		o.Queues = []reports.Row{}
	}
	if o.Hourly == nil {
		o.Hourly = []reports.Row{}
	}
	return o, nil
}

func (a *Aggregator) run(ctx context.Context, req reports.QueryRequest) ([]reports.Row, error) {
	res, err := a.service.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	if res == nil || res.Status != reports.QueryStatusSucceeded {
		msg := "Unknown error"
		if res != nil && res.Error != "" {
			msg = res.Error
		}
		return nil, errors.New(msg)
	}
	return res.Rows, nil
}

// summarize fills the KPI fields from the queue distribution rows
func (a *Aggregator) summarize(o *Overview, rows []reports.Row) {
	var sla float64
	for _, r := range rows {
		o.TotalCalls += parseCount(r.Value("received"))
		o.AnsweredCalls += parseCount(r.Value("answered"))
		o.MissedCalls += parseCount(r.Value("unanswered"))
		sla += parsePercent(r.Value("sla"))
	}
	if len(rows) > 0 {
		o.AvgSLA = int(math.Round(sla / float64(len(rows))))
	}
	if o.TotalCalls > 0 {
		o.AnsweredPct = int(math.Round(float64(o.AnsweredCalls) / float64(o.TotalCalls) * 100))
		o.MissedPct = int(math.Round(float64(o.MissedCalls) / float64(o.TotalCalls) * 100))
	}

	top := a.config.TopQueues
	if top <= 0 || top > len(rows) {
		top = len(rows)
	}
	o.Queues = append([]reports.Row{}, rows[:top]...)
}

// parseCount reads the leading integer of a display string; anything
// unparseable counts as zero
func parseCount(s string) int {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && (s[end] >= '0' && s[end] <= '9' || end == 0 && s[end] == '-') {
		end++
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return n
}

// parsePercent reads a percentage such as "85.5" or "85.5%"
func parsePercent(s string) float64 {
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
