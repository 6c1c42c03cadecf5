package dashboard

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler serves the dashboard overview
type Handler struct {
	aggregator *Aggregator
	logger     *zap.Logger
}

// NewHandler creates a new dashboard handler
func NewHandler(aggregator *Aggregator, logger *zap.Logger) *Handler {
	return &Handler{
		aggregator: aggregator,
		logger:     logger,
	}
}

// RegisterRoutes registers dashboard routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	dashboard := router.Group("/dashboard")
	{
		dashboard.GET("/overview", h.getOverview)
		dashboard.POST("/overview/refresh", h.refreshOverview)
	}
}

// getOverview handles GET /api/v1/dashboard/overview
func (h *Handler) getOverview(c *gin.Context) {
	overview, err := h.aggregator.GetOverview(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to get dashboard overview", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, overview)
}

// refreshOverview handles POST /api/v1/dashboard/overview/refresh
func (h *Handler) refreshOverview(c *gin.Context) {
	overview, err := h.aggregator.Refresh(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, overview)
}
