package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vango-dev/remoting/pkg/connector"
	"github.com/vango-dev/remoting/pkg/protocol"
	"go.opentelemetry.io/otel/trace"
)

// Server serves sessions over HTTP and WebSocket.
type Server struct {
	config   *ServerConfig
	sessions *SessionManager
	router   chi.Router
	upgrader websocket.Upgrader
	codec    protocol.JSONCodec
	registry *prometheus.Registry

	httpServer *http.Server
	logger     *slog.Logger
}

// Option configures a Server.
type Option func(*serverOptions)

type serverOptions struct {
	logger   *slog.Logger
	registry *prometheus.Registry
	tracer   trace.Tracer
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *serverOptions) {
		o.logger = logger
	}
}

// WithRegistry sets the Prometheus registry served on /metrics.
// Default: a new registry with Go and process collectors.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *serverOptions) {
		o.registry = reg
	}
}

// WithTracer sets the tracer used for session spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *serverOptions) {
		o.tracer = tracer
	}
}

// New creates a Server. Unset config fields take their defaults.
func New(config *ServerConfig, opts ...Option) *Server {
	if config == nil {
		config = DefaultServerConfig()
	} else {
		config = config.Clone()
		config.applyDefaults()
	}

	o := serverOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
		o.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	logger := o.logger.With("component", "server")
	metrics := connector.NewMetrics(connector.WithMetricsRegistry(o.registry))

	s := &Server{
		config:   config,
		sessions: NewSessionManager(config, metrics, o.tracer, o.logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		codec:    protocol.JSONCodec{MaxSize: int(config.MaxBodyBytes)},
		registry: o.registry,
		logger:   logger,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Post(s.config.Path, s.handleBatch)
	r.Get(s.config.Path+"/ws", s.handleWebSocket)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router returns the chi router so applications can mount extra routes.
func (s *Server) Router() chi.Router {
	return s.router
}

// Sessions returns the session manager.
func (s *Server) Sessions() *SessionManager {
	return s.sessions
}

// Config returns the server configuration.
func (s *Server) Config() *ServerConfig {
	return s.config
}

// OnSessionCreate registers the controller hook run for every new session.
func (s *Server) OnSessionCreate(fn func(*Session)) {
	s.sessions.SetOnSessionCreate(fn)
}

// OnSessionClose registers a hook run after a session was closed.
func (s *Server) OnSessionClose(fn func(*Session)) {
	s.sessions.SetOnSessionClose(fn)
}

// requestSessionID returns the session id from the header or the cookie.
func (s *Server) requestSessionID(r *http.Request) string {
	if id := r.Header.Get(connector.SessionHeader); id != "" {
		return id
	}
	if c, err := r.Cookie(s.config.SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// sessionFor resolves the request's session and stamps its id on the response.
func (s *Server) sessionFor(w http.ResponseWriter, r *http.Request) (*Session, error) {
	session, created, err := s.sessions.Resolve(s.requestSessionID(r), clientIP(r))
	if err != nil {
		return nil, err
	}
	w.Header().Set(connector.SessionHeader, session.ID)
	if created {
		http.SetCookie(w, &http.Cookie{
			Name:     s.config.SessionCookie,
			Value:    session.ID,
			Path:     "/",
			HttpOnly: true,
			Secure:   r.TLS != nil,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return session, nil
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, protocol.ErrPayloadTooLarge.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cmds, err := s.codec.Decode(body)
	if err != nil {
		s.logger.Warn("rejected batch", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Interrupts bypass the session cycle and never create a session.
	if connector.IsInterrupt(cmds) {
		if session, err := s.sessions.Lookup(s.requestSessionID(r)); err != nil {
			s.logger.Debug("interrupt dropped", "error", err)
		} else {
			session.Connector().Interrupt()
		}
		s.writeBatch(w, nil)
		return
	}

	session, err := s.sessionFor(w, r)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrMaxSessionsReached) || errors.Is(err, ErrManagerShutdown) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}

	if connector.IsPoll(cmds) {
		s.servePoll(w, r, session, cmds)
		return
	}

	resp, err := session.Receive(r.Context(), cmds)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		status := http.StatusUnprocessableEntity
		if errors.Is(err, ErrSessionClosed) {
			status = http.StatusGone
		}
		s.logger.Error("batch failed", "session_id", session.ID, "error", err)
		http.Error(w, err.Error(), status)
		return
	}
	s.writeBatch(w, resp)
}

// servePoll commits the response headers, including the session id, before
// parking, so a fresh client can address interrupts to this poll.
func (s *Server) servePoll(w http.ResponseWriter, r *http.Request, session *Session, cmds []protocol.Command) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	resp, err := session.Receive(r.Context(), cmds)
	if err != nil {
		// The status is already sent; an empty body fails to decode on the client.
		if r.Context().Err() == nil {
			s.logger.Error("poll failed", "session_id", session.ID, "error", err)
		}
		return
	}
	data, err := s.codec.Encode(resp)
	if err != nil {
		s.logger.Error("encode response", "session_id", session.ID, "error", err)
		return
	}
	w.Write(data)
}

func (s *Server) writeBatch(w http.ResponseWriter, cmds []protocol.Command) {
	data, err := s.codec.Encode(cmds)
	if err != nil {
		s.logger.Error("encode response", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

type healthResponse struct {
	Status   string       `json:"status"`
	Sessions ManagerStats `json:"sessions"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(healthResponse{
		Status:   "ok",
		Sessions: s.sessions.Stats(),
	})
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.config.Validate(); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "address", ln.Addr().String(), "path", s.config.Path)
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown closes all sessions, which releases parked polls, and then
// shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.sessions.ShutdownWithContext(ctx); err != nil {
		s.logger.Warn("session shutdown incomplete", "error", err)
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.logger.Info("server shutdown complete")
	return nil
}

// clientIP returns the remote host of r without the port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeWait bounds a single WebSocket write.
const writeWait = 10 * time.Second
