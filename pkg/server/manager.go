package server

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/vango-dev/remoting/pkg/connector"
	"go.opentelemetry.io/otel/trace"
)

// SessionManager manages all active sessions.
// It handles session creation, lookup, cleanup, and lifecycle callbacks.
type SessionManager struct {
	sessions map[string]*Session
	mu       sync.RWMutex

	config *ServerConfig

	// Cleanup (protected by cleanupMu)
	cleanupInterval time.Duration
	cleanupTicker   *time.Ticker
	cleanupMu       sync.Mutex
	done            chan struct{}
	cleanupDone     chan struct{}
	shutdownOnce    sync.Once
	shutdown        atomic.Bool

	totalCreated atomic.Uint64
	totalClosed  atomic.Uint64
	peakSessions int

	onSessionCreate func(*Session)
	onSessionClose  func(*Session)

	metrics *connector.Metrics
	tracer  trace.Tracer
	logger  *slog.Logger
}

// ManagerStats is a snapshot of session counters.
type ManagerStats struct {
	Active       int    `json:"active"`
	TotalCreated uint64 `json:"total_created"`
	TotalClosed  uint64 `json:"total_closed"`
	Peak         int    `json:"peak"`
}

// NewSessionManager creates a SessionManager and starts its cleanup loop.
// metrics and tracer are handed to every session's connector and may be nil.
func NewSessionManager(config *ServerConfig, metrics *connector.Metrics, tracer trace.Tracer, logger *slog.Logger) *SessionManager {
	if config == nil {
		config = DefaultServerConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	interval := config.CleanupInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	sm := &SessionManager{
		sessions:        make(map[string]*Session),
		config:          config,
		cleanupInterval: interval,
		done:            make(chan struct{}),
		cleanupDone:     make(chan struct{}),
		metrics:         metrics,
		tracer:          tracer,
		logger:          logger.With("component", "session_manager"),
	}

	go sm.cleanupLoop()
	return sm
}

// Create creates a new session with a fresh id.
func (sm *SessionManager) Create(ip string) (*Session, error) {
	if sm.shutdown.Load() {
		return nil, ErrManagerShutdown
	}

	id := uuid.NewString()
	opts := []connector.ServerOption{
		connector.WithSessionID(id),
		connector.WithPollTimeout(sm.config.LongPollTimeout),
		connector.WithServerStrictMode(sm.config.StrictMode),
		connector.WithServerLogger(sm.logger),
		connector.WithServerMetrics(sm.metrics),
	}
	if sm.tracer != nil {
		opts = append(opts, connector.WithServerTracer(sm.tracer))
	}

	sm.mu.Lock()
	if sm.config.MaxSessions > 0 && len(sm.sessions) >= sm.config.MaxSessions {
		sm.mu.Unlock()
		return nil, ErrMaxSessionsReached
	}
	session := newSession(id, ip, connector.NewServerConnector(opts...), sm.logger)
	sm.sessions[id] = session
	sm.totalCreated.Add(1)
	if len(sm.sessions) > sm.peakSessions {
		sm.peakSessions = len(sm.sessions)
	}
	active := len(sm.sessions)
	onCreate := sm.onSessionCreate
	sm.mu.Unlock()

	if onCreate != nil {
		onCreate(session)
	}

	sm.logger.Info("session created",
		"session_id", id,
		"ip", ip,
		"active_sessions", active)
	return session, nil
}

// Get returns the session with the given id, or nil.
func (sm *SessionManager) Get(id string) *Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.sessions[id]
}

// Lookup returns the open session with the given id, or ErrSessionNotFound.
func (sm *SessionManager) Lookup(id string) (*Session, error) {
	if s := sm.Get(id); s != nil && !s.IsClosed() {
		return s, nil
	}
	return nil, NewSessionError(id, "lookup", ErrSessionNotFound)
}

// Resolve returns the session for id, creating a new one when id is empty
// or unknown. created reports whether a new session was made.
func (sm *SessionManager) Resolve(id, ip string) (session *Session, created bool, err error) {
	if existing, lookupErr := sm.Lookup(id); lookupErr == nil {
		existing.Touch()
		return existing, false, nil
	}
	s, err := sm.Create(ip)
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

// Close closes and removes the session with the given id.
func (sm *SessionManager) Close(id string) {
	sm.mu.Lock()
	session := sm.removeSessionLocked(id)
	sm.mu.Unlock()

	if session != nil {
		sm.closeSessions([]*Session{session})
	}
}

func (sm *SessionManager) removeSessionLocked(id string) *Session {
	session, ok := sm.sessions[id]
	if !ok {
		return nil
	}
	delete(sm.sessions, id)
	return session
}

func (sm *SessionManager) closeSessions(sessions []*Session) {
	sm.mu.RLock()
	onClose := sm.onSessionClose
	sm.mu.RUnlock()

	for _, s := range sessions {
		s.Close()
		sm.totalClosed.Add(1)
		if onClose != nil {
			onClose(s)
		}
	}
}

// Count returns the number of active sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// cleanupLoop periodically removes expired sessions.
func (sm *SessionManager) cleanupLoop() {
	defer close(sm.cleanupDone)

	sm.cleanupMu.Lock()
	sm.cleanupTicker = time.NewTicker(sm.cleanupInterval)
	sm.cleanupMu.Unlock()

	defer func() {
		sm.cleanupMu.Lock()
		if sm.cleanupTicker != nil {
			sm.cleanupTicker.Stop()
		}
		sm.cleanupMu.Unlock()
	}()

	for {
		sm.cleanupMu.Lock()
		ticker := sm.cleanupTicker
		sm.cleanupMu.Unlock()

		select {
		case <-ticker.C:
			sm.cleanupExpired()
		case <-sm.done:
			return
		}
	}
}

// cleanupExpired removes sessions that have exceeded their idle timeout.
func (sm *SessionManager) cleanupExpired() {
	timeout := sm.config.SessionIdleTimeout
	if timeout <= 0 {
		return
	}

	sm.mu.Lock()
	now := time.Now()
	var toClose []*Session
	for id, session := range sm.sessions {
		if now.Sub(session.LastActive()) > timeout {
			toClose = append(toClose, sm.removeSessionLocked(id))
		}
	}
	remaining := len(sm.sessions)
	sm.mu.Unlock()

	sm.closeSessions(toClose)

	if len(toClose) > 0 {
		sm.logger.Info("cleaned up expired sessions",
			"expired", len(toClose),
			"remaining", remaining)
	}
}

// SetCleanupInterval changes the cleanup loop interval.
func (sm *SessionManager) SetCleanupInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	sm.cleanupMu.Lock()
	defer sm.cleanupMu.Unlock()
	sm.cleanupInterval = d
	if sm.cleanupTicker != nil {
		sm.cleanupTicker.Reset(d)
	}
}

// SetOnSessionCreate sets a callback run for every new session before it
// serves its first request.
func (sm *SessionManager) SetOnSessionCreate(fn func(*Session)) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.onSessionCreate = fn
}

// SetOnSessionClose sets a callback run after a session was closed.
func (sm *SessionManager) SetOnSessionClose(fn func(*Session)) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.onSessionClose = fn
}

// ForEach iterates over all sessions until fn returns false.
// The callback should not perform long-running operations as it holds the read lock.
func (sm *SessionManager) ForEach(fn func(*Session) bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	for _, session := range sm.sessions {
		if !fn(session) {
			return
		}
	}
}

// Stats returns a snapshot of the session counters.
func (sm *SessionManager) Stats() ManagerStats {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return ManagerStats{
		Active:       len(sm.sessions),
		TotalCreated: sm.totalCreated.Load(),
		TotalClosed:  sm.totalClosed.Load(),
		Peak:         sm.peakSessions,
	}
}

// Shutdown closes all sessions.
func (sm *SessionManager) Shutdown() {
	_ = sm.ShutdownWithContext(context.Background())
}

// ShutdownWithContext stops the cleanup loop and closes all sessions
// concurrently. It returns ctx.Err() if ctx ends first.
func (sm *SessionManager) ShutdownWithContext(ctx context.Context) error {
	var err error
	sm.shutdownOnce.Do(func() {
		sm.shutdown.Store(true)
		close(sm.done)
		<-sm.cleanupDone

		sm.mu.Lock()
		sessions := make([]*Session, 0, len(sm.sessions))
		for _, s := range sm.sessions {
			sessions = append(sessions, s)
		}
		sm.sessions = make(map[string]*Session)
		sm.mu.Unlock()

		finished := make(chan struct{})
		go func() {
			defer close(finished)
			var wg sync.WaitGroup
			for _, session := range sessions {
				wg.Add(1)
				go func(s *Session) {
					defer wg.Done()
					sm.closeSessions([]*Session{s})
				}(session)
			}
			wg.Wait()
		}()

		select {
		case <-finished:
		case <-ctx.Done():
			err = ctx.Err()
		}

		sm.logger.Info("session manager shutdown",
			"closed_sessions", len(sessions))
	})
	return err
}
