package reports

import (
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

// SessionRegistry holds open report sessions. Idle sessions expire after the
// TTL and the least recently used session is evicted once Size is reached;
// both close the evicted session.
type SessionRegistry struct {
	sessions *expirable.LRU[string, *Session]
	logger   *zap.Logger
}

// NewSessionRegistry creates a registry
func NewSessionRegistry(size int, ttl time.Duration, logger *zap.Logger) *SessionRegistry {
	if size <= 0 {
		size = 256
	}
	r := &SessionRegistry{logger: logger}
	r.sessions = expirable.NewLRU[string, *Session](size, r.onEvict, ttl)
	return r
}

func (r *SessionRegistry) onEvict(id string, s *Session) {
	r.logger.Debug("Evicting report session", zap.String("session_id", id))
	// Stop the session now so Get can tell it was evicted. Close waits for
	// in-flight queries; do not hold the LRU lock meanwhile.
	s.cancel()
	go s.Close()
}

// Add registers a session
func (r *SessionRegistry) Add(s *Session) {
	r.sessions.Add(s.ID(), s)
}

// Get returns a session and refreshes its expiry
func (r *SessionRegistry) Get(id string) (*Session, error) {
	s, ok := r.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	// expirable.LRU only refreshes the TTL on Add
	if !s.Closed() {
		r.sessions.Add(id, s)
	}

	// An expiry between Get and Add re-inserts a session that was already
	// stopped; take it back out.
	if s.Closed() {
		r.forget(id, s)
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

func (r *SessionRegistry) forget(id string, s *Session) {
	if cur, ok := r.sessions.Peek(id); ok && cur == s {
		r.sessions.Remove(id)
	}
}

// Remove closes and forgets a session
func (r *SessionRegistry) Remove(id string) bool {
	return r.sessions.Remove(id)
}

// Len returns the number of open sessions
func (r *SessionRegistry) Len() int {
	return r.sessions.Len()
}

// Purge closes every session and waits for them to stop
func (r *SessionRegistry) Purge() {
	open := r.sessions.Values()
	r.sessions.Purge()
	for _, s := range open {
		s.Close()
	}
}
