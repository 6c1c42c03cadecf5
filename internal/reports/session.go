package reports

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// QueryService executes a named query against the analytics backend. A call
// may take minutes; it is made at most once per ticket and never retried.
type QueryService interface {
	Run(ctx context.Context, req QueryRequest) (*QueryResult, error)
}

// SessionOptions configures a report session
type SessionOptions struct {
	Notifier Notifier
	Metrics  *Metrics
	Logger   *zap.Logger
	Clock    func() time.Time

	// QueryTimeout bounds a single query execution; zero means no bound.
	QueryTimeout time.Duration
}

// Session is the single actor that owns a page's ViewStore and
// DrilldownController. Every event, including query completions, runs on the
// session goroutine one at a time.
type Session struct {
	id      string
	page    *PageConfig
	service QueryService
	views   *ViewStore
	drill   *DrilldownController
	logger  *zap.Logger
	metrics *Metrics
	clock   func() time.Time
	timeout time.Duration

	criteria Criteria
	active   ViewID
	inflight map[string]inflightCall

	events chan func()
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	calls  sync.WaitGroup

	closeOnce  sync.Once
	lastAccess atomic.Int64
}

type inflightCall struct {
	serial uint64
	cancel context.CancelFunc
}

// NewSession starts a session for page and loads its default view
func NewSession(id string, page *PageConfig, service QueryService, opts SessionOptions) *Session {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	logger := opts.Logger.With(zap.String("session_id", id), zap.String("page", string(page.ID)))
	notifier := sessionNotifier{sessionID: id, next: opts.Notifier}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:       id,
		page:     page,
		service:  service,
		views:    NewViewStore(page, notifier, opts.Metrics, logger),
		drill:    NewDrilldownController(page, notifier, opts.Metrics, logger),
		logger:   logger,
		metrics:  opts.Metrics,
		clock:    opts.Clock,
		timeout:  opts.QueryTimeout,
		active:   page.DefaultView,
		inflight: make(map[string]inflightCall),
		events:   make(chan func(), 64),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	s.criteria = s.defaultCriteria()
	s.touch()

	if s.metrics != nil {
		s.metrics.ActiveSessions.Inc()
	}

	go s.loop()

	_ = s.do(func() error {
		ticket, err := s.views.Activate(s.active, s.criteria)
		if err != nil {
			return err
		}
		s.execute(ticket)
		return nil
	})

	logger.Info("Report session started")
	return s
}

// ID returns the session id
func (s *Session) ID() string { return s.id }

// Page returns the page configuration
func (s *Session) Page() *PageConfig { return s.page }

// LastAccess returns the time of the last event
func (s *Session) LastAccess() time.Time { return time.Unix(0, s.lastAccess.Load()) }

// SetDateRange replaces the page date range. Loaded views keep their results
// until the next Apply or Refresh.
func (s *Session) SetDateRange(start, end time.Time) error {
	rng, err := NewDateRange(start, end)
	if err != nil {
		return err
	}
	return s.do(func() error {
		s.criteria.DateRange = rng
		return nil
	})
}

// SetQuickRange sets the range to the last n days
func (s *Session) SetQuickRange(days int) error {
	if days <= 0 {
		return fmt.Errorf("%w: quick range of %d days", ErrInvalidDateRange, days)
	}
	return s.do(func() error {
		s.criteria.DateRange = LastNDays(days, s.clock())
		return nil
	})
}

// SetFilters merges partial into the page filters without fetching
func (s *Session) SetFilters(partial map[FilterKey][]string) error {
	return s.do(func() error {
		s.criteria.Filters = s.criteria.Filters.Merge(partial)
		return nil
	})
}

// Activate switches to a view, loading it only if it has never been loaded.
// Any open drilldown is closed.
func (s *Session) Activate(view ViewID) error {
	return s.do(func() error {
		ticket, err := s.views.Activate(view, s.criteria)
		if err != nil {
			return err
		}
		s.active = view
		s.closeDrilldown()
		s.execute(ticket)
		return nil
	})
}

// Apply reloads the active view with the current criteria
func (s *Session) Apply() error {
	return s.do(func() error {
		return s.reloadActive()
	})
}

// Refresh re-runs the active view's query with the current criteria
func (s *Session) Refresh() error {
	return s.Apply()
}

// ApplyFilters merges partial into the filters and reloads the active view in
// one event.
func (s *Session) ApplyFilters(partial map[FilterKey][]string) error {
	return s.do(func() error {
		s.criteria.Filters = s.criteria.Filters.Merge(partial)
		return s.reloadActive()
	})
}

// Reset restores the default range and filters, reloads the active view and
// drops the other views so they reload on their next activation.
func (s *Session) Reset() error {
	return s.do(func() error {
		s.criteria = s.defaultCriteria()
		for _, v := range s.views.Invalidate(s.active) {
			s.cancelInflight(Ticket{Target: TargetView, View: v}.key())
		}
		return s.reloadActive()
	})
}

// OpenDrilldown drills into row index of a loaded view. When search is set
// the index refers to the search-filtered rows.
func (s *Session) OpenDrilldown(view ViewID, index int, search string) error {
	return s.do(func() error {
		snap := s.views.Snapshot(view)
		if snap.State != LoadStateLoaded {
			if _, err := s.page.View(view); err != nil {
				return err
			}
			return fmt.Errorf("%w: %q", ErrViewNotLoaded, view)
		}
		rows := snap.Search(search).Rows
		if index < 0 || index >= len(rows) {
			return fmt.Errorf("%w: %d of %d", ErrRowOutOfRange, index, len(rows))
		}
		ticket, err := s.drill.Open(rows[index], view, snap.Request.DateRange)
		if err != nil {
			return err
		}
		s.execute(ticket)
		return nil
	})
}

// CloseDrilldown discards the open drilldown
func (s *Session) CloseDrilldown() error {
	return s.do(func() error {
		s.closeDrilldown()
		return nil
	})
}

// Snapshot returns the full session state
func (s *Session) Snapshot() (SessionSnapshot, error) {
	var snap SessionSnapshot
	err := s.do(func() error {
		start, end := s.criteria.DateRange.Boundaries()
		snap = SessionSnapshot{
			SessionID:  s.id,
			Page:       s.page.ID,
			ActiveView: s.active,
			Start:      start,
			End:        end,
			Filters:    s.criteria.Filters,
			Views:      s.views.Snapshots(),
			Drilldown:  s.drill.Snapshot(),
		}
		return nil
	})
	return snap, err
}

// ViewSnapshot returns one view's state
func (s *Session) ViewSnapshot(view ViewID) (ViewSnapshot, error) {
	var snap ViewSnapshot
	err := s.do(func() error {
		if _, err := s.page.View(view); err != nil {
			return err
		}
		snap = s.views.Snapshot(view)
		return nil
	})
	return snap, err
}

// DrilldownSnapshot returns the drilldown state
func (s *Session) DrilldownSnapshot() (DrilldownSnapshot, error) {
	var snap DrilldownSnapshot
	err := s.do(func() error {
		snap = s.drill.Snapshot()
		return nil
	})
	return snap, err
}

// Closed reports whether the session is closed or closing
func (s *Session) Closed() bool { return s.ctx.Err() != nil }

// Close stops the session and cancels its outstanding queries
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		s.calls.Wait()
		if s.metrics != nil {
			s.metrics.ActiveSessions.Dec()
		}
		s.logger.Info("Report session closed")
	})
}

// =====================================================
// Event loop
// =====================================================

func (s *Session) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			for _, call := range s.inflight {
				call.cancel()
			}
			return
		case ev := <-s.events:
			ev()
		}
	}
}

// do runs fn on the session goroutine and waits for it
func (s *Session) do(fn func() error) error {
	s.touch()
	result := make(chan error, 1)
	ev := func() { result <- fn() }
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
		return ErrSessionClosed
	}
	select {
	case err := <-result:
		return err
	case <-s.done:
		return ErrSessionClosed
	}
}

// post queues fn without waiting; dropped once the session is closed
func (s *Session) post(fn func()) {
	select {
	case s.events <- fn:
	case <-s.ctx.Done():
	}
}

// execute runs a ticket in the background and posts its result back onto the
// loop. A ticket for an occupied slot cancels the older call, whose response
// would be discarded by its serial anyway.
func (s *Session) execute(ticket *Ticket) {
	if ticket == nil {
		return
	}
	key := ticket.key()
	s.cancelInflight(key)

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if s.timeout > 0 {
		ctx, cancel = context.WithTimeout(s.ctx, s.timeout)
	} else {
		ctx, cancel = context.WithCancel(s.ctx)
	}
	s.inflight[key] = inflightCall{serial: ticket.Serial, cancel: cancel}

	t := *ticket
	s.calls.Add(1)
	go func() {
		defer s.calls.Done()
		defer cancel()

		started := time.Now()
		result, err := s.service.Run(ctx, t.Request)
		if err != nil {
			result = Failed(err)
		} else if result == nil {
			result = Failed(errors.New("query service returned no result"))
		}
		if s.metrics != nil {
			s.metrics.QueryDuration.
				WithLabelValues(string(t.Request.QueryName), string(result.Status)).
				Observe(time.Since(started).Seconds())
		}

		s.post(func() {
			if call, ok := s.inflight[key]; ok && call.serial == t.Serial {
				delete(s.inflight, key)
			}
			s.deliver(t, result)
		})
	}()
}

func (s *Session) deliver(t Ticket, result *QueryResult) {
	var applied bool
	switch t.Target {
	case TargetDrilldown:
		applied = s.drill.OnResult(t.Serial, result)
	default:
		applied = s.views.OnResult(t.View, t.Serial, result)
	}
	if applied {
		s.logger.Info("Query result applied",
			zap.String("target", string(t.Target)),
			zap.String("view", string(t.View)),
			zap.String("query", string(t.Request.QueryName)),
			zap.String("status", string(result.Status)),
			zap.Int("row_count", result.RowCount))
	}
}

func (s *Session) cancelInflight(key string) {
	if call, ok := s.inflight[key]; ok {
		call.cancel()
		delete(s.inflight, key)
	}
}

func (s *Session) reloadActive() error {
	req, err := s.views.RequestFor(s.active, s.criteria)
	if err != nil {
		return err
	}
	ticket, err := s.views.Reload(s.active, req)
	if err != nil {
		return err
	}
	s.execute(ticket)
	return nil
}

func (s *Session) closeDrilldown() {
	s.drill.Close()
	s.cancelInflight(Ticket{Target: TargetDrilldown}.key())
}

func (s *Session) defaultCriteria() Criteria {
	days := s.page.DefaultDays
	if days <= 0 {
		days = 30
	}
	return Criteria{
		DateRange: LastNDays(days, s.clock()),
		Filters:   NewFilterSet(s.page.DefaultFilters),
	}
}

func (s *Session) touch() {
	s.lastAccess.Store(time.Now().UnixNano())
}
