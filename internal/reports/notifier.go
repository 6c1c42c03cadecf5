package reports

import (
	"time"

	"go.uber.org/zap"
)

// NotificationKind is the severity of a user-facing notification
type NotificationKind string

const (
	NotificationInfo  NotificationKind = "info"
	NotificationError NotificationKind = "error"
)

// Notification is a fire-and-forget message for the analyst
type Notification struct {
	SessionID   string           `json:"session_id,omitempty"`
	Kind        NotificationKind `json:"kind"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Timestamp   time.Time        `json:"timestamp"`
}

// Notifier is the notification port. Implementations must not block for long
// and must not panic.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(n Notification)

// Notify implements Notifier
func (f NotifierFunc) Notify(n Notification) { f(n) }

// LogNotifier writes notifications to the service log
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier backed by zap
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier
func (l *LogNotifier) Notify(n Notification) {
	fields := []zap.Field{
		zap.String("session_id", n.SessionID),
		zap.String("title", n.Title),
		zap.String("description", n.Description),
	}
	if n.Kind == NotificationError {
		l.logger.Warn("Report notification", fields...)
		return
	}
	l.logger.Info("Report notification", fields...)
}

// MultiNotifier fans a notification out to several notifiers
type MultiNotifier []Notifier

// Notify implements Notifier
func (m MultiNotifier) Notify(n Notification) {
	for _, notifier := range m {
		safeNotify(notifier, n)
	}
}

// sessionNotifier stamps the session id and time on every notification
type sessionNotifier struct {
	sessionID string
	next      Notifier
}

func (s sessionNotifier) Notify(n Notification) {
	n.SessionID = s.sessionID
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}
	safeNotify(s.next, n)
}

// safeNotify keeps a misbehaving notifier from taking down the session loop
func safeNotify(notifier Notifier, n Notification) {
	if notifier == nil {
		return
	}
	defer func() { _ = recover() }()
	notifier.Notify(n)
}
