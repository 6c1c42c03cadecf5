package reports

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callscope/report-portal/report-portal-backend/internal/reports/export"
)

// ExportStore persists a rendered export and returns where to fetch it
type ExportStore interface {
	Put(ctx context.Context, name, contentType string, data []byte) (*StoredExport, error)
}

// StoredExport describes an uploaded export
type StoredExport struct {
	Bucket    string    `json:"bucket"`
	Key       string    `json:"key"`
	FileName  string    `json:"file_name"`
	URL       string    `json:"url"`
	Size      int       `json:"size"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ExportFile is a rendered export held in memory
type ExportFile struct {
	Name        string
	ContentType string
	Data        []byte
	Rows        int
}

// ExportTarget selects what to export from a session
type ExportTarget struct {
	View      ViewID        `json:"view,omitempty"`
	Drilldown bool          `json:"drilldown,omitempty"`
	Search    string        `json:"search,omitempty"`
	Format    export.Format `json:"format,omitempty"`
}

// ServiceConfig configures the report service
type ServiceConfig struct {
	SessionCapacity int           `json:"session_capacity"`
	SessionTTL      time.Duration `json:"session_ttl"`
	QueryTimeout    time.Duration `json:"query_timeout"`
}

// DefaultServiceConfig returns default configuration
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		SessionCapacity: 256,
		SessionTTL:      30 * time.Minute,
		QueryTimeout:    10 * time.Minute,
	}
}

// Service owns the report sessions and renders their exports
type Service struct {
	queries  QueryService
	sessions *SessionRegistry
	notifier Notifier
	metrics  *Metrics
	store    ExportStore
	logger   *zap.Logger
	config   ServiceConfig
}

// NewService creates a new reports service. metrics and store may be nil.
func NewService(queries QueryService, notifier Notifier, metrics *Metrics, store ExportStore, logger *zap.Logger, config ServiceConfig) *Service {
	return &Service{
		queries:  queries,
		sessions: NewSessionRegistry(config.SessionCapacity, config.SessionTTL, logger),
		notifier: notifier,
		metrics:  metrics,
		store:    store,
		logger:   logger,
		config:   config,
	}
}

// =====================================================
// Session Operations
// =====================================================

// CreateSession opens a session on a report page and starts loading its
// default view
func (s *Service) CreateSession(pageID PageID) (*Session, error) {
	page, err := LookupPage(pageID)
	if err != nil {
		return nil, err
	}

	session := NewSession(uuid.NewString(), page, s.queries, SessionOptions{
		Notifier:     s.notifier,
		Metrics:      s.metrics,
		Logger:       s.logger,
		QueryTimeout: s.config.QueryTimeout,
	})
	s.sessions.Add(session)

	s.logger.Info("Report session created",
		zap.String("session_id", session.ID()),
		zap.String("page", string(pageID)))

	return session, nil
}

// GetSession returns an open session
func (s *Service) GetSession(id string) (*Session, error) {
	return s.sessions.Get(id)
}

// CloseSession closes a session and discards its state
func (s *Service) CloseSession(id string) error {
	if !s.sessions.Remove(id) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

// Close closes every session
func (s *Service) Close() {
	s.sessions.Purge()
}

// =====================================================
// Export Operations
// =====================================================

// ExportView renders the loaded rows of a view, narrowed by search
func (s *Service) ExportView(sessionID string, view ViewID, search string, format export.Format) (*ExportFile, error) {
	session, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	snap, err := session.ViewSnapshot(view)
	if err != nil {
		return nil, err
	}
	if snap.State != LoadStateLoaded {
		return nil, fmt.Errorf("%w: %q", ErrViewNotLoaded, view)
	}
	snap = snap.Search(search)

	page := session.Page()
	table := export.NewTable(page.Title+" - "+snap.Title, snap.Rows, snap.Columns)
	if snap.Request != nil {
		table.Subtitle = snap.Request.DateRange.String()
	}
	name := fmt.Sprintf("%s-%s.%s", page.ID, view, format.Extension())
	return s.render(name, format, table)
}

// ExportDrilldown renders the open drilldown using the fixed detail columns
func (s *Service) ExportDrilldown(sessionID string, format export.Format) (*ExportFile, error) {
	session, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	snap, err := session.DrilldownSnapshot()
	if err != nil {
		return nil, err
	}
	if !snap.Open {
		return nil, ErrNoDrilldown
	}
	if snap.State != LoadStateLoaded {
		return nil, fmt.Errorf("%w: drilldown", ErrViewNotLoaded)
	}

	table := export.NewTable(snap.Scope.Title, snap.Rows, DrilldownColumns)
	table.Subtitle = snap.Scope.Request.DateRange.String()
	name := fmt.Sprintf("%s-contacts.%s", session.Page().ID, format.Extension())
	return s.render(name, format, table)
}

// PublishExport renders an export and uploads it to the export store
func (s *Service) PublishExport(ctx context.Context, sessionID string, target ExportTarget) (*StoredExport, error) {
	if s.store == nil {
		return nil, fmt.Errorf("export storage is not configured")
	}

	var (
		file *ExportFile
		err  error
	)
	if target.Drilldown {
		file, err = s.ExportDrilldown(sessionID, target.Format)
	} else {
		file, err = s.ExportView(sessionID, target.View, target.Search, target.Format)
	}
	if err != nil {
		return nil, err
	}

	stored, err := s.store.Put(ctx, file.Name, file.ContentType, file.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to publish export: %w", err)
	}

	s.logger.Info("Export published",
		zap.String("session_id", sessionID),
		zap.String("file", file.Name),
		zap.Int("rows", file.Rows))

	return stored, nil
}

func (s *Service) render(name string, format export.Format, table export.Table) (*ExportFile, error) {
	data, err := export.Bytes(format, table)
	if err != nil {
		return nil, fmt.Errorf("failed to render %s export: %w", format.Extension(), err)
	}
	return &ExportFile{
		Name:        name,
		ContentType: format.ContentType(),
		Data:        data,
		Rows:        len(table.Rows),
	}, nil
}
