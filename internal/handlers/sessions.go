package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"crawler-dashboard/internal/dashboard"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const sessionCookie = "dashboard_session"

type session struct {
	ctrl     *dashboard.Controller
	lastSeen time.Time
}

// SessionManager keeps one dashboard controller per browser session.
// Idle sessions are closed after ttl.
type SessionManager struct {
	newController func() *dashboard.Controller
	ttl           time.Duration
	logger        *logrus.Logger
	now           func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

func NewSessionManager(newController func() *dashboard.Controller, ttl time.Duration, logger *logrus.Logger) *SessionManager {
	return &SessionManager{
		newController: newController,
		ttl:           ttl,
		logger:        logger,
		now:           time.Now,
		sessions:      make(map[string]*session),
	}
}

// Controller returns the caller's controller, starting a session and setting
// the cookie when the request has none or it has expired.
func (m *SessionManager) Controller(w http.ResponseWriter, r *http.Request) *dashboard.Controller {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cookie, err := r.Cookie(sessionCookie); err == nil {
		if s, ok := m.sessions[cookie.Value]; ok {
			s.lastSeen = m.now()
			return s.ctrl
		}
	}

	id := uuid.New().String()
	s := &session{ctrl: m.newController(), lastSeen: m.now()}
	m.sessions[id] = s

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	m.logger.WithField("session", id).Debug("Session started")

	return s.ctrl
}

func (m *SessionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep closes sessions idle for longer than ttl and returns how many it closed.
func (m *SessionManager) Sweep() int {
	m.mu.Lock()
	var expired []*session
	cutoff := m.now().Add(-m.ttl)
	for id, s := range m.sessions {
		if s.lastSeen.Before(cutoff) {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.ctrl.Close()
	}
	if len(expired) > 0 {
		m.logger.Infof("Expired %d idle sessions", len(expired))
	}
	return len(expired)
}

// Run sweeps idle sessions until ctx is done, then closes the rest.
func (m *SessionManager) Run(ctx context.Context) {
	interval := m.ttl / 2
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.CloseAll()
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*session)
	m.mu.Unlock()

	for _, s := range all {
		s.ctrl.Close()
	}
}
