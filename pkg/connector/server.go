package connector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-dev/remoting/pkg/model"
	"github.com/vango-dev/remoting/pkg/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	sideClient = "client"
	sideServer = "server"
)

// DefaultPollTimeout is how long a long poll is held when nothing is pushed.
const DefaultPollTimeout = 30 * time.Second

// HandlerFunc is a server action bound to a command kind. It runs after the
// command was applied to the session's store.
type HandlerFunc func(ctx context.Context, sc *ServerConnector, cmd protocol.Command) error

// ServerOption configures a ServerConnector.
type ServerOption func(*ServerConnector)

// WithPollTimeout sets how long StartLongPoll waits for pushed commands.
// Default: DefaultPollTimeout
func WithPollTimeout(d time.Duration) ServerOption {
	return func(sc *ServerConnector) {
		if d > 0 {
			sc.pollTimeout = d
		}
	}
}

// WithServerLogger sets the logger.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(sc *ServerConnector) {
		if logger != nil {
			sc.logger = logger
		}
	}
}

// WithServerStrictMode enables stale value change rejection.
func WithServerStrictMode(strict bool) ServerOption {
	return func(sc *ServerConnector) {
		sc.strict = strict
	}
}

// WithServerMetrics sets the metrics sink.
func WithServerMetrics(m *Metrics) ServerOption {
	return func(sc *ServerConnector) {
		sc.metrics = m
	}
}

// WithServerTracer sets the tracer used for Receive spans.
func WithServerTracer(tracer trace.Tracer) ServerOption {
	return func(sc *ServerConnector) {
		if tracer != nil {
			sc.tracer = tracer
		}
	}
}

// WithSessionID tags logs and spans with a session id.
func WithSessionID(id string) ServerOption {
	return func(sc *ServerConnector) {
		sc.sessionID = id
	}
}

// ServerConnector is the server side of one client session. It owns the
// session's model store and the queue of commands the server has produced
// but not yet returned.
type ServerConnector struct {
	store    *model.Store
	applier  *Applier
	outgoing *CommandQueue

	handlersMu sync.RWMutex
	handlers   map[protocol.Kind][]HandlerFunc

	// cycle serializes Receive. Interrupt never takes it.
	cycle     sync.Mutex
	interrupt chan struct{}
	closed    chan struct{}
	closeOnce sync.Once

	pollTimeout time.Duration
	strict      bool
	sessionID   string
	logger      *slog.Logger
	metrics     *Metrics
	tracer      trace.Tracer
}

var _ Sender = (*ServerConnector)(nil)

// NewServerConnector creates a connector with an empty server-side store.
func NewServerConnector(opts ...ServerOption) *ServerConnector {
	sc := &ServerConnector{
		outgoing:    NewCommandQueue(),
		handlers:    make(map[protocol.Kind][]HandlerFunc),
		interrupt:   make(chan struct{}, 1),
		closed:      make(chan struct{}),
		pollTimeout: DefaultPollTimeout,
		logger:      slog.Default(),
		tracer:      defaultTracer(),
	}
	for _, opt := range opts {
		opt(sc)
	}

	sc.logger = sc.logger.With("component", "server_connector")
	if sc.sessionID != "" {
		sc.logger = sc.logger.With("session_id", sc.sessionID)
	}

	synchronizer := NewModelSynchronizer(func() Sender { return sc })
	sc.store = model.NewStore(model.ServerSide, synchronizer, model.WithLogger(sc.logger))
	sc.applier = NewApplier(sc.store, sc.strict, sc.logger)
	return sc
}

// Store returns the session's model store. Server code mutates it like any
// store; its local changes are queued for the client.
func (sc *ServerConnector) Store() *model.Store {
	return sc.store
}

// Register binds an action to a command kind. Actions for one kind run in
// registration order.
func (sc *ServerConnector) Register(kind protocol.Kind, h HandlerFunc) {
	sc.handlersMu.Lock()
	defer sc.handlersMu.Unlock()
	sc.handlers[kind] = append(sc.handlers[kind], h)
}

// Send queues a server-originated command and wakes a waiting long poll.
// onFinished runs when the command has been handed to a response.
func (sc *ServerConnector) Send(cmd protocol.Command, onFinished func()) {
	sc.outgoing.Add(cmd, onFinished)
}

// Pending returns the number of commands waiting to be returned to the client.
func (sc *ServerConnector) Pending() int {
	return sc.outgoing.Len()
}

// Interrupt releases an outstanding long poll. An interrupt that arrives
// while no poll is waiting releases the next one immediately.
func (sc *ServerConnector) Interrupt() {
	select {
	case sc.interrupt <- struct{}{}:
	default:
	}
}

// Close releases any waiting poll and clears the store. Receive fails with
// ErrConnectorClosed afterwards.
func (sc *ServerConnector) Close() {
	sc.closeOnce.Do(func() {
		close(sc.closed)
		sc.store.Clear()
		sc.logger.Debug("server connector closed")
	})
}

func (sc *ServerConnector) isClosed() bool {
	select {
	case <-sc.closed:
		return true
	default:
		return false
	}
}

// Receive applies one batch from the client and returns the commands to send
// back. Batches of one session are processed one at a time, in arrival order.
// A failing command aborts the batch; commands before it stay applied.
func (sc *ServerConnector) Receive(ctx context.Context, cmds []protocol.Command) (resp []protocol.Command, err error) {
	sc.cycle.Lock()
	defer sc.cycle.Unlock()

	if sc.isClosed() {
		return nil, ErrConnectorClosed
	}

	start := time.Now()
	ctx, span := startCycleSpan(ctx, sc.tracer, "remoting.server.receive", sideServer, cmds)
	if sc.sessionID != "" {
		span.SetAttributes(attribute.String("remoting.session_id", sc.sessionID))
	}
	defer func() {
		sc.metrics.recordCycle(sideServer, time.Since(start), err)
		endSpan(span, err)
	}()

	sc.metrics.recordReceived(sideServer, cmds)

	for _, cmd := range cmds {
		switch cmd.Kind() {
		case protocol.KindStartLongPoll:
			sc.waitForPush(ctx)
		case protocol.KindInterruptLongPoll:
			// The poll this targets has already returned.
		default:
			if err := sc.dispatch(ctx, cmd); err != nil {
				sc.logger.Error("command failed",
					"kind", cmd.Kind().String(),
					"error", err)
				return nil, err
			}
		}
	}

	// An abandoned request keeps its pushes for the next one.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch := sc.outgoing.Drain()
	resp = commandsOf(batch)
	sc.metrics.recordSent(sideServer, resp)
	for _, qc := range batch {
		if qc.OnFinished != nil {
			qc.OnFinished()
		}
	}
	return resp, nil
}

func (sc *ServerConnector) dispatch(ctx context.Context, cmd protocol.Command) error {
	if err := sc.applier.Apply(cmd); err != nil {
		return err
	}

	sc.handlersMu.RLock()
	handlers := sc.handlers[cmd.Kind()]
	sc.handlersMu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, sc, cmd); err != nil {
			return err
		}
	}
	return nil
}

// waitForPush blocks until outgoing commands exist, the poll timeout elapses,
// an interrupt arrives, the connector closes, or ctx is done.
func (sc *ServerConnector) waitForPush(ctx context.Context) {
	if sc.outgoing.Len() > 0 {
		return
	}

	start := time.Now()
	sc.metrics.pollStarted()
	defer func() { sc.metrics.pollFinished(time.Since(start)) }()

	timer := time.NewTimer(sc.pollTimeout)
	defer timer.Stop()

	for sc.outgoing.Len() == 0 {
		select {
		case <-sc.outgoing.Ready():
		case <-sc.interrupt:
			sc.logger.Debug("long poll interrupted")
			return
		case <-timer.C:
			return
		case <-sc.closed:
			return
		case <-ctx.Done():
			return
		}
	}
}
