package websocket

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RegisterRoutes exposes the notification stream at GET /ws
func (m *Manager) RegisterRoutes(router gin.IRoutes) {
	router.GET("/ws", m.serveWS)
}

// serveWS handles GET /ws?session_id=...
func (m *Manager) serveWS(c *gin.Context) {
	conn, err := m.HandleConnection(c.Writer, c.Request)
	if err != nil {
		// The upgrader has already written the HTTP error
		m.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}
	m.logger.Debug("WebSocket connected",
		zap.String("connection_id", conn.ID),
		zap.Strings("session_ids", conn.Sessions()))
}
