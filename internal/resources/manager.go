package resources

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrManagerClosed is returned by GetSession after CloseAll. Using a
// closed manager is a programming error, not a recoverable condition.
var ErrManagerClosed = errors.New("resource manager is closed")

// Session is one pooled HTTP client dedicated to a single provider.
type Session struct {
	Client    *http.Client
	CreatedAt time.Time

	mu     sync.Mutex
	closed bool
}

// Close releases the session's idle connections and marks it unusable.
// Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.Client.CloseIdleConnections()
}

// Closed reports whether the session has been closed.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Config bounds the resources a manager may allocate.
type Config struct {
	SessionTimeout time.Duration
	ConnLimit      int
	ConnPerHost    int
}

// Stats is a point-in-time snapshot of the pool.
type Stats struct {
	ActiveSessions int  `json:"active_sessions"`
	TotalCreated   int  `json:"total_created"`
	Closed         bool `json:"closed"`
}

// Manager owns at most one live session per provider name. Sessions are
// created lazily and reused across searches, so the number of open
// sockets is bounded by provider count regardless of query volume.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
	created  int

	cfg    Config
	logger *logrus.Logger
}

func NewManager(cfg Config, logger *logrus.Logger) *Manager {
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 30 * time.Second
	}
	if cfg.ConnLimit <= 0 {
		cfg.ConnLimit = 100
	}
	if cfg.ConnPerHost <= 0 {
		cfg.ConnPerHost = 20
	}
	return &Manager{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		logger:   logger,
	}
}

// GetSession returns the provider's pooled session, creating it on first
// use. A session found closed is replaced transparently.
func (m *Manager) GetSession(providerName string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}

	if session, ok := m.sessions[providerName]; ok {
		if !session.Closed() {
			return session, nil
		}
		// Closed externally; drop it and fall through to recreate.
		delete(m.sessions, providerName)
	}

	session := &Session{
		Client: &http.Client{
			Timeout: m.cfg.SessionTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        m.cfg.ConnLimit,
				MaxIdleConnsPerHost: m.cfg.ConnPerHost,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		CreatedAt: time.Now(),
	}

	m.sessions[providerName] = session
	m.created++

	m.logger.WithField("provider", providerName).Debug("Created new session")
	return session, nil
}

// CloseSession closes and removes the session for one provider.
func (m *Manager) CloseSession(providerName string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if session, ok := m.sessions[providerName]; ok {
		session.Close()
		delete(m.sessions, providerName)
		m.logger.WithField("provider", providerName).Debug("Closed session")
	}
}

// CloseAll closes every pooled session and refuses new session creation
// afterwards. Idempotent; safe to call from a shutdown hook. In-flight
// requests are not cancelled, only idle connections are released.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true

	for name, session := range m.sessions {
		session.Close()
		delete(m.sessions, name)
	}

	m.logger.Info("Resource manager closed all sessions")
}

// Stats returns resource usage counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	active := 0
	for _, session := range m.sessions {
		if !session.Closed() {
			active++
		}
	}

	return Stats{
		ActiveSessions: active,
		TotalCreated:   m.created,
		Closed:         m.closed,
	}
}
