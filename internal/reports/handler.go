package reports

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"callscope/report-portal/report-portal-backend/internal/reports/export"
)

// DateLayout is the calendar day format accepted by the API
const DateLayout = "2006-01-02"

// Handler handles HTTP requests for report sessions
type Handler struct {
	service  *Service
	logger   *zap.Logger
	location *time.Location
}

// NewHandler creates a new reports handler. Dates are interpreted in loc,
// or the server's local zone when loc is nil.
func NewHandler(service *Service, logger *zap.Logger, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.Local
	}
	return &Handler{
		service:  service,
		logger:   logger,
		location: loc,
	}
}

// RegisterRoutes registers report session routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/pages", h.listPages)

	sessions := router.Group("/sessions")
	{
		sessions.POST("", h.createSession)
		sessions.GET("/:id", h.getSession)
		sessions.DELETE("/:id", h.closeSession)

		// Criteria
		sessions.POST("/:id/range", h.setRange)
		sessions.POST("/:id/filters", h.setFilters)
		sessions.POST("/:id/apply", h.apply)
		sessions.POST("/:id/reset", h.reset)
		sessions.POST("/:id/refresh", h.refresh)

		// Views
		sessions.POST("/:id/views/:view/activate", h.activateView)
		sessions.GET("/:id/views/:view", h.getView)
		sessions.GET("/:id/views/:view/export", h.exportView)

		// Drilldown
		sessions.POST("/:id/drilldown", h.openDrilldown)
		sessions.GET("/:id/drilldown", h.getDrilldown)
		sessions.DELETE("/:id/drilldown", h.closeDrilldown)
		sessions.GET("/:id/drilldown/export", h.exportDrilldown)

		// Stored exports
		sessions.POST("/:id/exports", h.publishExport)
	}
}

// =====================================================
// Request Types
// =====================================================

// CreateSessionRequest opens a session on a page
type CreateSessionRequest struct {
	Page PageID `json:"page" binding:"required"`
}

// SetRangeRequest sets the date range, either explicitly or as the last N days
type SetRangeRequest struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
	Days  int    `json:"days,omitempty"`
	Apply bool   `json:"apply,omitempty"`
}

// SetFiltersRequest merges filter selections into the session
type SetFiltersRequest struct {
	Filters map[FilterKey][]string `json:"filters" binding:"required"`
	Apply   bool                   `json:"apply,omitempty"`
}

// OpenDrilldownRequest drills into a row of a loaded view
type OpenDrilldownRequest struct {
	View     ViewID `json:"view" binding:"required"`
	RowIndex *int   `json:"row_index" binding:"required"`
	Search   string `json:"search,omitempty"`
}

// =====================================================
// Session Endpoints
// =====================================================

// listPages handles GET /api/v1/pages
func (h *Handler) listPages(c *gin.Context) {
	pages := make([]*PageConfig, 0, len(Pages))
	for _, id := range []PageID{PageMissedCalls, PageQueueMatrix, PageAgentPerformance} {
		pages = append(pages, Pages[id])
	}
	c.JSON(http.StatusOK, gin.H{"pages": pages})
}

// createSession handles POST /api/v1/sessions
func (h *Handler) createSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.service.CreateSession(req.Page)
	if err != nil {
		h.fail(c, "Failed to create session", err)
		return
	}
	snap, err := session.Snapshot()
	if err != nil {
		h.fail(c, "Failed to read session", err)
		return
	}
	c.JSON(http.StatusCreated, snap)
}

// getSession handles GET /api/v1/sessions/:id
func (h *Handler) getSession(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	h.respondSnapshot(c, session, http.StatusOK)
}

// closeSession handles DELETE /api/v1/sessions/:id
func (h *Handler) closeSession(c *gin.Context) {
	if err := h.service.CloseSession(c.Param("id")); err != nil {
		h.fail(c, "Failed to close session", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// setRange handles POST /api/v1/sessions/:id/range
func (h *Handler) setRange(c *gin.Context) {
	var req SetRangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	session, ok := h.session(c)
	if !ok {
		return
	}

	var err error
	if req.Days > 0 {
		err = session.SetQuickRange(req.Days)
	} else {
		var start, end time.Time
		if start, err = time.ParseInLocation(DateLayout, req.Start, h.location); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start date, expected YYYY-MM-DD"})
			return
		}
		if end, err = time.ParseInLocation(DateLayout, req.End, h.location); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end date, expected YYYY-MM-DD"})
			return
		}
		err = session.SetDateRange(start, end)
	}
	if err == nil && req.Apply {
		err = session.Apply()
	}
	if err != nil {
		h.fail(c, "Failed to set date range", err)
		return
	}
	h.respondSnapshot(c, session, http.StatusOK)
}

// setFilters handles POST /api/v1/sessions/:id/filters
func (h *Handler) setFilters(c *gin.Context) {
	var req SetFiltersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	session, ok := h.session(c)
	if !ok {
		return
	}

	var err error
	if req.Apply {
		err = session.ApplyFilters(req.Filters)
	} else {
		err = session.SetFilters(req.Filters)
	}
	if err != nil {
		h.fail(c, "Failed to set filters", err)
		return
	}
	h.respondSnapshot(c, session, http.StatusOK)
}

// apply handles POST /api/v1/sessions/:id/apply
func (h *Handler) apply(c *gin.Context) {
	h.sessionAction(c, "Failed to apply criteria", (*Session).Apply)
}

// reset handles POST /api/v1/sessions/:id/reset
func (h *Handler) reset(c *gin.Context) {
	h.sessionAction(c, "Failed to reset session", (*Session).Reset)
}

// refresh handles POST /api/v1/sessions/:id/refresh
func (h *Handler) refresh(c *gin.Context) {
	h.sessionAction(c, "Failed to refresh view", (*Session).Refresh)
}

// =====================================================
// View Endpoints
// =====================================================

// activateView handles POST /api/v1/sessions/:id/views/:view/activate
func (h *Handler) activateView(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	if err := session.Activate(ViewID(c.Param("view"))); err != nil {
		h.fail(c, "Failed to activate view", err)
		return
	}
	h.respondSnapshot(c, session, http.StatusOK)
}

// getView handles GET /api/v1/sessions/:id/views/:view
func (h *Handler) getView(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	snap, err := session.ViewSnapshot(ViewID(c.Param("view")))
	if err != nil {
		h.fail(c, "Failed to get view", err)
		return
	}
	c.JSON(http.StatusOK, snap.Search(c.Query("search")))
}

// exportView handles GET /api/v1/sessions/:id/views/:view/export
func (h *Handler) exportView(c *gin.Context) {
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	file, err := h.service.ExportView(c.Param("id"), ViewID(c.Param("view")), c.Query("search"), format)
	if err != nil {
		h.fail(c, "Failed to export view", err)
		return
	}
	h.attachment(c, file)
}

// =====================================================
// Drilldown Endpoints
// =====================================================

// openDrilldown handles POST /api/v1/sessions/:id/drilldown
func (h *Handler) openDrilldown(c *gin.Context) {
	var req OpenDrilldownRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	session, ok := h.session(c)
	if !ok {
		return
	}
	if err := session.OpenDrilldown(req.View, *req.RowIndex, req.Search); err != nil {
		h.fail(c, "Failed to open drilldown", err)
		return
	}
	snap, err := session.DrilldownSnapshot()
	if err != nil {
		h.fail(c, "Failed to read drilldown", err)
		return
	}
	c.JSON(http.StatusAccepted, snap)
}

// getDrilldown handles GET /api/v1/sessions/:id/drilldown
func (h *Handler) getDrilldown(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	snap, err := session.DrilldownSnapshot()
	if err != nil {
		h.fail(c, "Failed to read drilldown", err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// closeDrilldown handles DELETE /api/v1/sessions/:id/drilldown
func (h *Handler) closeDrilldown(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	if err := session.CloseDrilldown(); err != nil {
		h.fail(c, "Failed to close drilldown", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// exportDrilldown handles GET /api/v1/sessions/:id/drilldown/export
func (h *Handler) exportDrilldown(c *gin.Context) {
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	file, err := h.service.ExportDrilldown(c.Param("id"), format)
	if err != nil {
		h.fail(c, "Failed to export drilldown", err)
		return
	}
	h.attachment(c, file)
}

// publishExport handles POST /api/v1/sessions/:id/exports
func (h *Handler) publishExport(c *gin.Context) {
	var target ExportTarget
	if err := c.ShouldBindJSON(&target); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	format, err := export.ParseFormat(string(target.Format))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	target.Format = format
	if !target.Drilldown && target.View == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "either view or drilldown is required"})
		return
	}

	stored, err := h.service.PublishExport(c.Request.Context(), c.Param("id"), target)
	if err != nil {
		h.fail(c, "Failed to publish export", err)
		return
	}
	c.JSON(http.StatusCreated, stored)
}

// =====================================================
// Helpers
// =====================================================

func (h *Handler) session(c *gin.Context) (*Session, bool) {
	session, err := h.service.GetSession(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, false
	}
	return session, true
}

func (h *Handler) sessionAction(c *gin.Context, failure string, action func(*Session) error) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	if err := action(session); err != nil {
		h.fail(c, failure, err)
		return
	}
	h.respondSnapshot(c, session, http.StatusOK)
}

func (h *Handler) respondSnapshot(c *gin.Context, session *Session, status int) {
	snap, err := session.Snapshot()
	if err != nil {
		h.fail(c, "Failed to read session", err)
		return
	}
	c.JSON(status, snap)
}

func (h *Handler) attachment(c *gin.Context, file *ExportFile) {
	c.Header("Content-Disposition", `attachment; filename="`+file.Name+`"`)
	c.Data(http.StatusOK, file.ContentType, file.Data)
}

// fail maps domain errors onto HTTP status codes
func (h *Handler) fail(c *gin.Context, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, zap.Error(err), zap.String("session_id", c.Param("id")))
	} else {
		h.logger.Debug(msg, zap.Error(err), zap.String("session_id", c.Param("id")))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrUnknownView):
		return http.StatusNotFound
	case errors.Is(err, ErrUnknownPage),
		errors.Is(err, ErrInvalidDateRange),
		errors.Is(err, ErrNotDrillable),
		errors.Is(err, ErrMissingRowKey),
		errors.Is(err, ErrRowOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, ErrViewNotLoaded), errors.Is(err, ErrNoDrilldown):
		return http.StatusConflict
	case errors.Is(err, ErrSessionClosed):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}
