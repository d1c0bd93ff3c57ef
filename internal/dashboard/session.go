package dashboard

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medical-deserts/apl-dashboard/internal/filter"
)

// SessionCookie carries the session id between requests.
const SessionCookie = "apl_session"

// DefaultSessionTTL is how long an idle session keeps its selection.
const DefaultSessionTTL = time.Hour

// SessionStore keeps one filter selection per browser session. Sessions
// idle for longer than the TTL are dropped.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*session
	ttl      time.Duration
	now      func() time.Time
}

type session struct {
	sel      filter.Selection
	lastSeen time.Time
}

// NewSessionStore creates a store. ttl <= 0 uses DefaultSessionTTL.
func NewSessionStore(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionStore{
		sessions: make(map[string]*session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Get returns the selection of id. An unknown or expired session yields
// the reset selection and false.
func (s *SessionStore) Get(id string) (filter.Selection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return filter.Reset(), false
	}
	now := s.now()
	if now.Sub(sess.lastSeen) > s.ttl {
		delete(s.sessions, id)
		return filter.Reset(), false
	}
	sess.lastSeen = now
	return sess.sel, true
}

// Set stores sel for id.
func (s *SessionStore) Set(id string, sel filter.Selection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = &session{sel: sel, lastSeen: s.now()}
}

// Reset clears every predicate of id.
func (s *SessionStore) Reset(id string) {
	s.Set(id, filter.Reset())
}

// Len returns the number of stored sessions, expired ones included until
// the next sweep.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep removes expired sessions and returns how many were dropped.
func (s *SessionStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, sess := range s.sessions {
		if now.Sub(sess.lastSeen) > s.ttl {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Run sweeps expired sessions every interval until ctx is done.
func (s *SessionStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				zap.L().Debug("dashboard: swept idle sessions", zap.Int("removed", n))
			}
		}
	}
}

// sessionID returns the caller's session id, issuing a new cookie when the
// request carries none or a malformed one.
func sessionID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			return c.Value
		}
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}
