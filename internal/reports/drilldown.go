package reports

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// DrilldownController turns a clicked aggregate row into a detail query and
// holds at most one detail result. Like ViewStore it relies on its owner to
// serialize calls.
type DrilldownController struct {
	page     *PageConfig
	scope    *DrilldownScope
	result   *QueryResult
	serial   uint64
	notifier Notifier
	metrics  *Metrics
	logger   *zap.Logger
}

// NewDrilldownController creates a controller for a page. metrics may be nil.
func NewDrilldownController(page *PageConfig, notifier Notifier, metrics *Metrics, logger *zap.Logger) *DrilldownController {
	return &DrilldownController{
		page:     page,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
	}
}

// DeriveFilters returns the narrowing for a row of view: each bound dimension
// is constrained to the row's key and nothing else.
func (c *DrilldownController) DeriveFilters(parentRow Row, parentView ViewID) (FilterSet, ViewConfig, error) {
	cfg, err := c.page.View(parentView)
	if err != nil {
		return FilterSet{}, ViewConfig{}, err
	}
	if !cfg.Drillable() {
		return FilterSet{}, cfg, fmt.Errorf("%w: %q", ErrNotDrillable, parentView)
	}
	derived := make(map[FilterKey][]string, len(cfg.Drilldown))
	for _, b := range cfg.Drilldown {
		v := strings.TrimSpace(parentRow.Value(b.Column))
		if v == "" || strings.EqualFold(v, AllValues) {
			return FilterSet{}, cfg, fmt.Errorf("%w: %q", ErrMissingRowKey, b.Column)
		}
		derived[b.Filter] = []string{v}
	}
	return NewFilterSet(derived), cfg, nil
}

// Open replaces the current scope with one derived from parentRow and returns
// the ticket for the detail query. On error the current scope is untouched.
func (c *DrilldownController) Open(parentRow Row, parentView ViewID, rng DateRange) (*Ticket, error) {
	derived, cfg, err := c.DeriveFilters(parentRow, parentView)
	if err != nil {
		return nil, err
	}

	label := strings.TrimSpace(parentRow.Value(cfg.LabelColumn))
	if label == "" {
		label = parentRow.Value(cfg.Drilldown[0].Column)
	}

	req := QueryRequest{
		QueryName: c.page.DrilldownQuery,
		DateRange: rng,
		Filters:   derived,
	}

	c.serial++
	c.scope = &DrilldownScope{
		ParentRow:      parentRow,
		ParentView:     parentView,
		DerivedFilters: derived,
		Request:        req,
		Title:          c.page.FormatDrilldownTitle(label),
		Serial:         c.serial,
	}
	c.result = nil

	if c.metrics != nil {
		c.metrics.QueriesIssued.WithLabelValues(string(req.QueryName)).Inc()
	}
	c.logger.Debug("Drilldown opened",
		zap.String("page", string(c.page.ID)),
		zap.String("view", string(parentView)),
		zap.String("request", req.Key()),
		zap.Uint64("serial", c.serial))

	return &Ticket{
		Target:  TargetDrilldown,
		View:    parentView,
		Serial:  c.serial,
		Request: req,
	}, nil
}

// OnResult applies a detail result if serial belongs to the live scope
func (c *DrilldownController) OnResult(serial uint64, result *QueryResult) bool {
	if c.scope == nil || serial != c.serial || c.result != nil {
		if c.metrics != nil {
			c.metrics.ResultsSuperseded.WithLabelValues(string(TargetDrilldown)).Inc()
		}
		c.logger.Debug("Discarding superseded drilldown result", zap.Uint64("serial", serial))
		return false
	}
	result = settle(result)
	c.result = result

	if result.Status == QueryStatusFailed {
		if c.metrics != nil {
			c.metrics.QueriesFailed.WithLabelValues(string(c.scope.Request.QueryName)).Inc()
		}
		safeNotify(c.notifier, Notification{
			Kind:        NotificationError,
			Title:       c.page.DrilldownFailure,
			Description: result.Error,
		})
	}
	return true
}

// Close discards the scope and its result. Responses still in flight are
// dropped because the serial advances.
func (c *DrilldownController) Close() {
	if c.scope == nil {
		return
	}
	c.serial++
	c.scope = nil
	c.result = nil
}

// Scope returns a copy of the live scope, nil when closed
func (c *DrilldownController) Scope() *DrilldownScope {
	if c.scope == nil {
		return nil
	}
	s := *c.scope
	return &s
}

// Snapshot returns an immutable copy for presentation
func (c *DrilldownController) Snapshot() DrilldownSnapshot {
	snap := DrilldownSnapshot{State: LoadStateNotLoaded, Rows: []Row{}}
	if c.scope == nil {
		return snap
	}
	snap.Open = true
	snap.Scope = c.Scope()
	snap.State = LoadStateLoading
	if c.result == nil {
		return snap
	}
	switch c.result.Status {
	case QueryStatusFailed:
		snap.State = LoadStateFailed
		snap.Error = c.result.Error
	case QueryStatusSucceeded:
		snap.State = LoadStateLoaded
	}
	snap.Columns = append([]string(nil), c.result.Columns...)
	snap.Rows = append([]Row{}, c.result.Rows...)
	snap.RowCount = c.result.RowCount
	snap.Empty = c.result.Empty()
	return snap
}
