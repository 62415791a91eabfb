package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	rerrors "github.com/vango-dev/remoting/internal/errors"
	"github.com/vango-dev/remoting/pkg/connector"
	"github.com/vango-dev/remoting/pkg/protocol"
)

// ServerConfig holds configuration for the HTTP/WebSocket server.
type ServerConfig struct {
	// Address is the address to listen on (e.g., ":8080" or "localhost:3000").
	// Default: ":8080".
	Address string

	// Path is the batch endpoint. The WebSocket endpoint is Path + "/ws".
	// Default: "/remoting".
	Path string

	// Sessions

	// LongPollTimeout is how long a StartLongPoll is held without pushes.
	// Default: 30 seconds.
	LongPollTimeout time.Duration

	// SessionIdleTimeout is the time after which an inactive session is closed.
	// Default: 5 minutes.
	SessionIdleTimeout time.Duration

	// CleanupInterval is the interval for the session cleanup loop.
	// Default: 30 seconds.
	CleanupInterval time.Duration

	// MaxSessions is the maximum number of concurrent sessions.
	// Default: 0 (no limit).
	MaxSessions int

	// SessionCookie is the cookie carrying the session id.
	// Default: "remoting_session".
	SessionCookie string

	// StrictMode ignores value changes whose old value does not match.
	// Default: false.
	StrictMode bool

	// Limits

	// MaxBodyBytes limits one request body or WebSocket frame.
	// Default: protocol.MaxPayloadSize (4MB).
	MaxBodyBytes int64

	// WebSocket

	// ReadBufferSize is the WebSocket read buffer size.
	// Default: 4096.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size.
	// Default: 4096.
	WriteBufferSize int

	// CheckOrigin is called to validate the WebSocket request origin.
	// Default: allows all origins (not recommended for production).
	CheckOrigin func(r *http.Request) bool

	// Server lifecycle

	// ReadHeaderTimeout bounds reading request headers.
	// Default: 10 seconds.
	ReadHeaderTimeout time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Default: 30 seconds.
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:            ":8080",
		Path:               "/remoting",
		LongPollTimeout:    connector.DefaultPollTimeout,
		SessionIdleTimeout: 5 * time.Minute,
		CleanupInterval:    30 * time.Second,
		SessionCookie:      "remoting_session",
		MaxBodyBytes:       protocol.MaxPayloadSize,
		ReadBufferSize:     4096,
		WriteBufferSize:    4096,
		CheckOrigin:        func(r *http.Request) bool { return true },
		ReadHeaderTimeout:  10 * time.Second,
		ShutdownTimeout:    30 * time.Second,
	}
}

// Clone returns a copy of the ServerConfig.
func (c *ServerConfig) Clone() *ServerConfig {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// applyDefaults fills unset fields from DefaultServerConfig.
func (c *ServerConfig) applyDefaults() {
	d := DefaultServerConfig()
	if c.Address == "" {
		c.Address = d.Address
	}
	if c.Path == "" {
		c.Path = d.Path
	}
	if c.LongPollTimeout == 0 {
		c.LongPollTimeout = d.LongPollTimeout
	}
	if c.SessionIdleTimeout == 0 {
		c.SessionIdleTimeout = d.SessionIdleTimeout
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = d.CleanupInterval
	}
	if c.SessionCookie == "" {
		c.SessionCookie = d.SessionCookie
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = d.MaxBodyBytes
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.WriteBufferSize == 0 {
		c.WriteBufferSize = d.WriteBufferSize
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = d.CheckOrigin
	}
	if c.ReadHeaderTimeout == 0 {
		c.ReadHeaderTimeout = d.ReadHeaderTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
}

// Validate checks the configuration for values the server cannot run with.
func (c *ServerConfig) Validate() error {
	var problems []string
	if !strings.HasPrefix(c.Path, "/") {
		problems = append(problems, fmt.Sprintf("path %q must start with /", c.Path))
	}
	if c.LongPollTimeout < 0 {
		problems = append(problems, "long poll timeout must not be negative")
	}
	if c.SessionIdleTimeout > 0 && c.SessionIdleTimeout <= c.LongPollTimeout {
		problems = append(problems, "session idle timeout must exceed the long poll timeout")
	}
	if c.MaxSessions < 0 {
		problems = append(problems, "max sessions must not be negative")
	}
	if c.MaxBodyBytes < 0 {
		problems = append(problems, "max body bytes must not be negative")
	}
	if len(problems) > 0 {
		return rerrors.New(rerrors.CodeInvalidConfig).WithDetail(strings.Join(problems, "; "))
	}
	return nil
}
