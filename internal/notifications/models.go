package notifications

import (
	"encoding/json"
	"time"
)

// WebSocket message types
const (
	WSMessageTypeNotification = "notification"
	WSMessageTypeStatus       = "status"
	WSMessageTypeSubscribe    = "subscribe"
	WSMessageTypeUnsubscribe  = "unsubscribe"
)

// Channels a message can be addressed to
const (
	ChannelSession    = "session"
	ChannelConnection = "connection"
	ChannelBroadcast  = "broadcast"
)

// WebSocketMessage represents WebSocket message format
type WebSocketMessage struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Channel   string          `json:"channel,omitempty"`
	Target    string          `json:"target,omitempty"` // session or connection id, empty for broadcasts
}

// SubscribeData is the payload of subscribe and unsubscribe messages
type SubscribeData struct {
	SessionIDs []string `json:"session_ids"`
}

// NewMessage builds a message with a JSON payload
func NewMessage(msgType, channel, target string, data any) (WebSocketMessage, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return WebSocketMessage{}, err
	}
	return WebSocketMessage{
		Type:      msgType,
		Data:      raw,
		Timestamp: time.Now(),
		Channel:   channel,
		Target:    target,
	}, nil
}
