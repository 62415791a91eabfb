package server

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/vango-dev/remoting/pkg/connector"
	"github.com/vango-dev/remoting/pkg/model"
	"github.com/vango-dev/remoting/pkg/protocol"
)

// Session is one client's synchronization context.
type Session struct {
	// ID is the session id handed to the client.
	ID string

	// CreatedAt is when the session was created.
	CreatedAt time.Time

	// IP is the client address the session was created from.
	IP string

	connector  *connector.ServerConnector
	lastActive atomic.Int64
	closed     atomic.Bool
	logger     *slog.Logger
}

func newSession(id, ip string, sc *connector.ServerConnector, logger *slog.Logger) *Session {
	now := time.Now()
	s := &Session{
		ID:        id,
		CreatedAt: now,
		IP:        ip,
		connector: sc,
		logger:    logger.With("session_id", id),
	}
	s.lastActive.Store(now.UnixNano())
	return s
}

// Connector returns the session's server connector.
func (s *Session) Connector() *connector.ServerConnector {
	return s.connector
}

// Store returns the session's server-side model store.
func (s *Session) Store() *model.Store {
	return s.connector.Store()
}

// Receive runs one batch through the session's connector. A closed session
// fails with ErrSessionClosed; every error comes back as a *SessionError.
func (s *Session) Receive(ctx context.Context, cmds []protocol.Command) ([]protocol.Command, error) {
	resp, err := s.connector.Receive(ctx, cmds)
	s.Touch()
	if err != nil {
		if errors.Is(err, connector.ErrConnectorClosed) {
			err = ErrSessionClosed
		}
		return nil, NewSessionError(s.ID, "receive", err)
	}
	return resp, nil
}

// Touch marks the session as active now.
func (s *Session) Touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

// LastActive returns the time of the last request on the session.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// IsClosed reports whether the session has been closed.
func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// Close releases the session's long poll and drops its store. It is safe to
// call more than once.
func (s *Session) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.connector.Close()
	s.logger.Debug("session closed")
}
