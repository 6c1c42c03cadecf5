package websocket

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"callscope/report-portal/report-portal-backend/internal/notifications"
	"callscope/report-portal/report-portal-backend/internal/reports"
)

func TestConnectionWants(t *testing.T) {
	conn := &Connection{ID: "c1", sessions: make(map[string]struct{})}
	conn.subscribe([]string{"s1", ""})

	assert.True(t, conn.Wants(notifications.WebSocketMessage{Channel: notifications.ChannelBroadcast}))
	assert.True(t, conn.Wants(notifications.WebSocketMessage{Channel: notifications.ChannelSession, Target: "s1"}))
	assert.False(t, conn.Wants(notifications.WebSocketMessage{Channel: notifications.ChannelSession, Target: "s2"}))
	assert.True(t, conn.Wants(notifications.WebSocketMessage{Channel: notifications.ChannelConnection, Target: "c1"}))
	assert.False(t, conn.Wants(notifications.WebSocketMessage{Channel: notifications.ChannelConnection, Target: "c2"}))

	conn.unsubscribe([]string{"s1"})
	assert.False(t, conn.Wants(notifications.WebSocketMessage{Channel: notifications.ChannelSession, Target: "s1"}))
	assert.Empty(t, conn.Sessions())
}

func startTestServer(t *testing.T) (*Manager, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	manager := NewManager(zap.NewNop(), nil)
	router := gin.New()
	manager.RegisterRoutes(router)
	server := httptest.NewServer(router)
	t.Cleanup(func() {
		manager.Close()
		server.Close()
	})
	return manager, "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) notifications.WebSocketMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg notifications.WebSocketMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestManagerRoutesSessionNotifications(t *testing.T) {
	manager, url := startTestServer(t)

	subscribed := dial(t, url+"?session_id=s1")
	other := dial(t, url+"?session_id=s2")
	require.Eventually(t, func() bool { return manager.GetConnectionCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	manager.Notify(reports.Notification{
		SessionID:   "s1",
		Kind:        reports.NotificationInfo,
		Title:       "Data loaded successfully",
		Description: "Showing 3 queues",
	})
	manager.Notify(reports.Notification{Kind: reports.NotificationError, Title: "Failed to load dashboard data"})

	msg := readMessage(t, subscribed)
	assert.Equal(t, notifications.WSMessageTypeNotification, msg.Type)
	assert.Equal(t, "s1", msg.Target)
	var n reports.Notification
	require.NoError(t, json.Unmarshal(msg.Data, &n))
	assert.Equal(t, "Data loaded successfully", n.Title)

	// The other client only sees the broadcast
	msg = readMessage(t, other)
	require.NoError(t, json.Unmarshal(msg.Data, &n))
	assert.Equal(t, "Failed to load dashboard data", n.Title)
	assert.Equal(t, notifications.ChannelBroadcast, msg.Channel)
}

func TestManagerSubscribeMessage(t *testing.T) {
	manager, url := startTestServer(t)

	conn := dial(t, url)
	require.Eventually(t, func() bool { return manager.GetConnectionCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	sub, err := notifications.NewMessage(notifications.WSMessageTypeSubscribe, "", "", notifications.SubscribeData{SessionIDs: []string{"s9"}})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(sub))

	status := readMessage(t, conn)
	assert.Equal(t, notifications.WSMessageTypeStatus, status.Type)
	assert.Contains(t, string(status.Data), "s9")

	manager.Notify(reports.Notification{SessionID: "s9", Title: "DID data loaded successfully"})
	msg := readMessage(t, conn)
	assert.Equal(t, "s9", msg.Target)
}

func TestManagerClose(t *testing.T) {
	manager, url := startTestServer(t)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return manager.GetConnectionCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	manager.Close()
	manager.Close()
	assert.Equal(t, 0, manager.GetConnectionCount())

	// The server side closes the socket
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	// Notify after close never blocks
	manager.Notify(reports.Notification{Title: "late"})
}
