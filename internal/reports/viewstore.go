package reports

import (
	"fmt"

	"go.uber.org/zap"
)

// TicketTarget says which component a query ticket reports back to
type TicketTarget string

const (
	TargetView      TicketTarget = "view"
	TargetDrilldown TicketTarget = "drilldown"
)

// Ticket is a query the owner of a ViewStore or DrilldownController must run
// and report back with the same serial.
type Ticket struct {
	Target  TicketTarget
	View    ViewID
	Serial  uint64
	Request QueryRequest
}

// key identifies the slot a ticket occupies; a newer ticket for the same key
// supersedes the older one.
func (t Ticket) key() string {
	if t.Target == TargetDrilldown {
		return string(TargetDrilldown)
	}
	return string(TargetView) + ":" + string(t.View)
}

// Criteria is the page-level date range and filter selection
type Criteria struct {
	DateRange DateRange
	Filters   FilterSet
}

// ViewStore owns one ViewState per view of a page. It is not safe for
// concurrent use; a Session serializes every call.
type ViewStore struct {
	page     *PageConfig
	views    map[ViewID]*ViewState
	notifier Notifier
	metrics  *Metrics
	logger   *zap.Logger
}

// NewViewStore creates a view store for a page. metrics may be nil.
func NewViewStore(page *PageConfig, notifier Notifier, metrics *Metrics, logger *zap.Logger) *ViewStore {
	return &ViewStore{
		page:     page,
		views:    make(map[ViewID]*ViewState),
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
	}
}

// RequestFor builds the request a view issues for the given criteria
func (s *ViewStore) RequestFor(view ViewID, c Criteria) (QueryRequest, error) {
	cfg, err := s.page.View(view)
	if err != nil {
		return QueryRequest{}, err
	}
	rng := c.DateRange
	if cfg.SingleDay {
		rng = rng.SingleDay()
	}
	return QueryRequest{
		QueryName: cfg.Query,
		DateRange: rng,
		Filters:   c.Filters.Restrict(cfg.Filters),
	}, nil
}

// Activate loads a view on first use. A view that already has a request
// (loading, loaded or failed) is served from cache and yields no ticket.
func (s *ViewStore) Activate(view ViewID, c Criteria) (*Ticket, error) {
	if _, err := s.page.View(view); err != nil {
		return nil, err
	}
	if st, ok := s.views[view]; ok && st.Request != nil {
		s.logger.Debug("View served from cache",
			zap.String("page", string(s.page.ID)),
			zap.String("view", string(view)),
			zap.String("state", string(st.State())))
		return nil, nil
	}
	req, err := s.RequestFor(view, c)
	if err != nil {
		return nil, err
	}
	return s.Reload(view, req)
}

// Reload forces a fetch. The view's serial is incremented before the ticket
// is issued so that any response to an earlier request is discarded.
func (s *ViewStore) Reload(view ViewID, req QueryRequest) (*Ticket, error) {
	if _, err := s.page.View(view); err != nil {
		return nil, err
	}
	st := s.state(view)
	st.RequestSerial++
	r := req
	st.Request = &r
	st.Result = nil

	if s.metrics != nil {
		s.metrics.QueriesIssued.WithLabelValues(string(req.QueryName)).Inc()
	}
	s.logger.Debug("View load issued",
		zap.String("page", string(s.page.ID)),
		zap.String("view", string(view)),
		zap.Uint64("serial", st.RequestSerial),
		zap.String("request", req.Key()))

	return &Ticket{
		Target:  TargetView,
		View:    view,
		Serial:  st.RequestSerial,
		Request: req,
	}, nil
}

// OnResult applies a response when serial is the view's current serial and
// reports whether it was applied. Superseded responses are dropped silently.
func (s *ViewStore) OnResult(view ViewID, serial uint64, result *QueryResult) bool {
	cfg, err := s.page.View(view)
	if err != nil {
		return false
	}
	st, ok := s.views[view]
	if !ok || st.RequestSerial != serial || st.Request == nil {
		if s.metrics != nil {
			s.metrics.ResultsSuperseded.WithLabelValues(string(TargetView)).Inc()
		}
		s.logger.Debug("Discarding superseded view result",
			zap.String("view", string(view)),
			zap.Uint64("serial", serial))
		return false
	}
	if st.Result != nil {
		return false
	}
	result = settle(result)
	st.Result = result

	if result.Status == QueryStatusFailed {
		if s.metrics != nil {
			s.metrics.QueriesFailed.WithLabelValues(string(st.Request.QueryName)).Inc()
		}
		safeNotify(s.notifier, Notification{
			Kind:        NotificationError,
			Title:       fmt.Sprintf("Failed to load %s data", cfg.FailureLabel),
			Description: result.Error,
		})
		return true
	}

	safeNotify(s.notifier, Notification{
		Kind:        NotificationInfo,
		Title:       fmt.Sprintf("%s loaded successfully", cfg.DataLabel),
		Description: fmt.Sprintf("Showing %d %s", result.RowCount, plural(cfg.Noun, result.RowCount)),
	})
	return true
}

// Invalidate drops every view except keep so its next activation reloads it.
// The serial of each dropped view advances so in-flight responses are
// discarded. It returns the dropped views.
func (s *ViewStore) Invalidate(keep ViewID) []ViewID {
	var dropped []ViewID
	for id, st := range s.views {
		if id == keep || st.Request == nil {
			continue
		}
		st.RequestSerial++
		st.Request = nil
		st.Result = nil
		dropped = append(dropped, id)
	}
	return dropped
}

// State returns a copy of the state of a view
func (s *ViewStore) State(view ViewID) ViewState {
	st, ok := s.views[view]
	if !ok {
		return ViewState{ViewID: view}
	}
	return *st
}

// Row returns a row of a loaded view
func (s *ViewStore) Row(view ViewID, index int) (Row, error) {
	st, ok := s.views[view]
	if !ok || st.State() != LoadStateLoaded {
		return Row{}, fmt.Errorf("%w: %q", ErrViewNotLoaded, view)
	}
	if index < 0 || index >= len(st.Result.Rows) {
		return Row{}, fmt.Errorf("%w: %d of %d", ErrRowOutOfRange, index, len(st.Result.Rows))
	}
	return st.Result.Rows[index], nil
}

// Snapshot returns an immutable copy of a view for presentation
func (s *ViewStore) Snapshot(view ViewID) ViewSnapshot {
	cfg, _ := s.page.View(view)
	snap := ViewSnapshot{
		ViewID:        view,
		Title:         cfg.Label,
		State:         LoadStateNotLoaded,
		Rows:          []Row{},
		searchColumns: cfg.SearchColumns,
	}
	st, ok := s.views[view]
	if !ok {
		return snap
	}
	snap.State = st.State()
	snap.Serial = st.RequestSerial
	if st.Request != nil {
		r := *st.Request
		snap.Request = &r
	}
	if st.Result != nil {
		snap.Columns = append([]string(nil), st.Result.Columns...)
		snap.Rows = append([]Row{}, st.Result.Rows...)
		snap.RowCount = st.Result.RowCount
		snap.Empty = st.Result.Empty()
		snap.Error = st.Result.Error
	}
	return snap
}

// Snapshots returns a snapshot of every view of the page
func (s *ViewStore) Snapshots() map[ViewID]ViewSnapshot {
	out := make(map[ViewID]ViewSnapshot, len(s.page.Views))
	for _, v := range s.page.Views {
		out[v.ID] = s.Snapshot(v.ID)
	}
	return out
}

func (s *ViewStore) state(view ViewID) *ViewState {
	st, ok := s.views[view]
	if !ok {
		st = &ViewState{ViewID: view}
		s.views[view] = st
	}
	return st
}

func plural(noun string, n int) string {
	if n == 1 {
		return noun
	}
	return noun + "s"
}
