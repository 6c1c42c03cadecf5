package dashboard

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultRefreshSpec refreshes the overview every five minutes
const DefaultRefreshSpec = "@every 5m"

// Refresher recomputes the overview on a cron schedule
type Refresher struct {
	cron       *cron.Cron
	aggregator *Aggregator
	spec       string
	logger     *zap.Logger
	mu         sync.Mutex
	running    bool
	cancel     context.CancelFunc
}

// NewRefresher creates a refresher. An empty spec uses DefaultRefreshSpec.
func NewRefresher(aggregator *Aggregator, spec string, logger *zap.Logger) *Refresher {
	if spec == "" {
		spec = DefaultRefreshSpec
	}
	return &Refresher{
		cron:       cron.New(),
		aggregator: aggregator,
		spec:       spec,
		logger:     logger,
	}
}

// Start schedules the refresh job and runs it once immediately
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("dashboard refresher already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	if _, err := r.cron.AddFunc(r.spec, func() { r.refresh(ctx) }); err != nil {
		cancel()
		return fmt.Errorf("invalid refresh schedule %q: %w", r.spec, err)
	}
	r.cancel = cancel
	r.running = true

	r.logger.Info("Starting dashboard refresher", zap.String("schedule", r.spec))
	r.cron.Start()
	go r.refresh(ctx)
	return nil
}

// Stop stops the schedule and waits for a running refresh to finish
func (r *Refresher) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}

	r.logger.Info("Stopping dashboard refresher")
	r.cancel()
	stopped := r.cron.Stop()
	<-stopped.Done()
	r.running = false
}

func (r *Refresher) refresh(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	o, err := r.aggregator.Refresh(ctx)
	if err != nil {
		return
	}
	r.logger.Debug("Dashboard overview refreshed",
		zap.Int("total_calls", o.TotalCalls),
		zap.Int("queues", len(o.Queues)))
}
