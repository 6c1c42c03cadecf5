package websocket

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"callscope/report-portal/report-portal-backend/internal/notifications"
	"callscope/report-portal/report-portal-backend/internal/reports"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
)

// Manager pushes report notifications to WebSocket clients. Clients receive
// the notifications of the sessions they subscribe to plus every
// notification that belongs to no session.
type Manager struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// Connection represents a WebSocket client connection
type Connection struct {
	ID           string
	Conn         *websocket.Conn
	Send         chan notifications.WebSocketMessage
	ConnectedAt  time.Time
	LastActivity time.Time
	UserAgent    string
	IPAddress    string

	mu       sync.Mutex
	sessions map[string]struct{}
}

// Hub owns the set of live connections. Only its run loop adds, removes or
// closes connections.
type Hub struct {
	connections map[*Connection]struct{}
	broadcast   chan notifications.WebSocketMessage
	register    chan *Connection
	unregister  chan *Connection
	count       chan chan int
	stop        chan struct{}
	stopOnce    sync.Once
	logger      *zap.Logger
}

// NewManager creates a new WebSocket manager
func NewManager(logger *zap.Logger, allowedOrigins []string) *Manager {
	hub := &Hub{
		connections: make(map[*Connection]struct{}),
		broadcast:   make(chan notifications.WebSocketMessage, 256),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		count:       make(chan chan int),
		stop:        make(chan struct{}),
		logger:      logger,
	}

	go hub.run()

	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = struct{}{}
	}

	return &Manager{
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(origins) == 0 {
					return true
				}
				_, ok := origins[r.Header.Get("Origin")]
				return ok
			},
		},
	}
}

// HandleConnection upgrades the request and subscribes the client to the
// session ids given in the session_id query parameter
func (m *Manager) HandleConnection(w http.ResponseWriter, r *http.Request) (*Connection, error) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	now := time.Now()
	connection := &Connection{
		ID:           uuid.New().String(),
		Conn:         conn,
		Send:         make(chan notifications.WebSocketMessage, 64),
		ConnectedAt:  now,
		LastActivity: now,
		UserAgent:    r.Header.Get("User-Agent"),
		IPAddress:    r.RemoteAddr,
		sessions:     make(map[string]struct{}),
	}
	connection.subscribe(r.URL.Query()["session_id"])

	select {
	case m.hub.register <- connection:
	case <-m.hub.stop:
		conn.Close()
		return nil, fmt.Errorf("websocket manager closed")
	}

	go m.readPump(connection)
	go m.writePump(connection)

	return connection, nil
}

// Notify implements reports.Notifier. It never blocks; a full hub drops the
// notification.
func (m *Manager) Notify(n reports.Notification) {
	channel, target := notifications.ChannelBroadcast, ""
	if n.SessionID != "" {
		channel, target = notifications.ChannelSession, n.SessionID
	}
	msg, err := notifications.NewMessage(notifications.WSMessageTypeNotification, channel, target, n)
	if err != nil {
		m.logger.Warn("Failed to encode notification", zap.Error(err))
		return
	}
	if !n.Timestamp.IsZero() {
		msg.Timestamp = n.Timestamp
	}

	select {
	case m.hub.broadcast <- msg:
	default:
		m.logger.Warn("Notification channel full, dropping message",
			zap.String("session_id", n.SessionID),
			zap.String("title", n.Title))
	}
}

// GetConnectionCount returns the number of active connections
func (m *Manager) GetConnectionCount() int {
	reply := make(chan int, 1)
	select {
	case m.hub.count <- reply:
		return <-reply
	case <-m.hub.stop:
		return 0
	}
}

// Close closes every connection and stops the hub
func (m *Manager) Close() {
	m.hub.stopOnce.Do(func() { close(m.hub.stop) })
}

// readPump reads subscription changes until the client goes away
func (m *Manager) readPump(conn *Connection) {
	defer func() {
		select {
		case m.hub.unregister <- conn:
		case <-m.hub.stop:
		}
		conn.Conn.Close()
	}()

	conn.Conn.SetReadLimit(maxMessageSize)
	_ = conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.Conn.SetPongHandler(func(string) error {
		return conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg notifications.WebSocketMessage
		if err := conn.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				m.logger.Debug("WebSocket read error", zap.String("connection_id", conn.ID), zap.Error(err))
			}
			return
		}

		conn.mu.Lock()
		conn.LastActivity = time.Now()
		conn.mu.Unlock()

		m.handleMessage(conn, &msg)
	}
}

// writePump writes queued messages and keeps the connection alive
func (m *Manager) writePump(conn *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			_ = conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.Conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (m *Manager) handleMessage(conn *Connection, msg *notifications.WebSocketMessage) {
	var data notifications.SubscribeData
	switch msg.Type {
	case notifications.WSMessageTypeSubscribe, notifications.WSMessageTypeUnsubscribe:
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			m.logger.Debug("Invalid subscription message", zap.String("connection_id", conn.ID), zap.Error(err))
			return
		}
	default:
		m.logger.Debug("Unknown message type", zap.String("type", msg.Type))
		return
	}

	if msg.Type == notifications.WSMessageTypeSubscribe {
		conn.subscribe(data.SessionIDs)
	} else {
		conn.unsubscribe(data.SessionIDs)
	}

	status, err := notifications.NewMessage(notifications.WSMessageTypeStatus, notifications.ChannelConnection, conn.ID, map[string]any{
		"status":        "subscribed",
		"connection_id": conn.ID,
		"session_ids":   conn.Sessions(),
	})
	if err != nil {
		return
	}
	select {
	case m.hub.broadcast <- status:
	default:
	}
}

// Wants reports whether the connection should receive msg
func (c *Connection) Wants(msg notifications.WebSocketMessage) bool {
	switch msg.Channel {
	case notifications.ChannelConnection:
		return msg.Target == c.ID
	case notifications.ChannelSession:
	default:
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sessions[msg.Target]
	return ok
}

// Sessions returns the subscribed session ids
func (c *Connection) Sessions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		out = append(out, id)
	}
	return out
}

func (c *Connection) subscribe(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		if id != "" {
			c.sessions[id] = struct{}{}
		}
	}
}

func (c *Connection) unsubscribe(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.sessions, id)
	}
}

// run runs the hub in its own goroutine
func (h *Hub) run() {
	for {
		select {
		case conn := <-h.register:
			h.connections[conn] = struct{}{}
			h.logger.Debug("Connection registered", zap.String("connection_id", conn.ID))

		case conn := <-h.unregister:
			if _, ok := h.connections[conn]; ok {
				delete(h.connections, conn)
				close(conn.Send)
				h.logger.Debug("Connection unregistered", zap.String("connection_id", conn.ID))
			}

		case message := <-h.broadcast:
			for conn := range h.connections {
				if !conn.Wants(message) {
					continue
				}
				select {
				case conn.Send <- message:
				default:
					close(conn.Send)
					delete(h.connections, conn)
				}
			}

		case reply := <-h.count:
			reply <- len(h.connections)

		case <-h.stop:
			for conn := range h.connections {
				close(conn.Send)
				delete(h.connections, conn)
			}
			return
		}
	}
}
