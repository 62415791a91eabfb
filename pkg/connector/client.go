package connector

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-dev/remoting/pkg/model"
	"github.com/vango-dev/remoting/pkg/protocol"
	"go.opentelemetry.io/otel/trace"
)

// State is the connection state of a ClientConnector.
type State int

const (
	// Disconnected: no background loop is running. Sent commands are queued.
	Disconnected State = iota
	// Idle: the loop is running and no long poll is outstanding.
	Idle
	// AwaitingPollResponse: a long poll is parked on the server.
	AwaitingPollResponse
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Idle:
		return "Idle"
	case AwaitingPollResponse:
		return "AwaitingPollResponse"
	default:
		return "Unknown"
	}
}

// DefaultPollRetryDelay is the pause after a failed long poll.
const DefaultPollRetryDelay = time.Second

// ClientOption configures a ClientConnector.
type ClientOption func(*ClientConnector)

// WithUIExecutor sets the executor that applies responses and runs callbacks.
// Default: DirectExecutor (the connector's loop goroutine)
func WithUIExecutor(exec Executor) ClientOption {
	return func(c *ClientConnector) {
		if exec != nil {
			c.ui = exec
		}
	}
}

// WithExceptionHandler sets the handler for failed cycles and commands.
// Default: LoggingExceptionHandler on the UI executor
func WithExceptionHandler(h ExceptionHandler) ClientOption {
	return func(c *ClientConnector) {
		c.handler = h
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *ClientConnector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithPushEnabled makes the connector park a long poll whenever it is idle.
func WithPushEnabled(enabled bool) ClientOption {
	return func(c *ClientConnector) {
		c.pushEnabled = enabled
	}
}

// WithStrictMode makes the connector ignore value changes whose old value
// does not match the current value.
func WithStrictMode(strict bool) ClientOption {
	return func(c *ClientConnector) {
		c.strict = strict
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) ClientOption {
	return func(c *ClientConnector) {
		c.metrics = m
	}
}

// WithTracer sets the tracer used for cycle spans.
func WithTracer(tracer trace.Tracer) ClientOption {
	return func(c *ClientConnector) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// WithPollRetryDelay sets the pause after a failed long poll.
// Default: DefaultPollRetryDelay
func WithPollRetryDelay(d time.Duration) ClientOption {
	return func(c *ClientConnector) {
		if d > 0 {
			c.retryDelay = d
		}
	}
}

// ClientConnector synchronizes a client model store with a server.
type ClientConnector struct {
	store     *model.Store
	transport Transport
	applier   *Applier
	queue     *CommandQueue

	ui          Executor
	handler     ExceptionHandler
	logger      *slog.Logger
	metrics     *Metrics
	tracer      trace.Tracer
	pushEnabled bool
	strict      bool
	retryDelay  time.Duration

	mu          sync.Mutex
	state       State
	loopCtx     context.Context
	cancel      context.CancelFunc
	done        chan struct{}
	interrupted bool
	lost        error
}

var _ Sender = (*ClientConnector)(nil)

// NewClientConnector creates a disconnected connector. With a nil store the
// connector creates a client store whose mutations it sends. A non-nil store
// must be built with a ModelSynchronizer that returns this connector.
func NewClientConnector(store *model.Store, transport Transport, opts ...ClientOption) *ClientConnector {
	c := &ClientConnector{
		transport:  transport,
		queue:      NewCommandQueue(),
		ui:         DirectExecutor{},
		logger:     slog.Default(),
		tracer:     defaultTracer(),
		retryDelay: DefaultPollRetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "client_connector")

	if c.handler == nil {
		c.handler = &LoggingExceptionHandler{Logger: c.logger, Executor: c.ui}
	}
	if store == nil {
		store = model.NewStore(model.ClientSide,
			NewModelSynchronizer(func() Sender { return c }),
			model.WithLogger(c.logger))
	}
	c.store = store
	c.applier = NewApplier(store, c.strict, c.logger)
	return c
}

// Store returns the client model store.
func (c *ClientConnector) Store() *model.Store {
	return c.store
}

// State returns the current connection state.
func (c *ClientConnector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending returns the number of commands not yet taken by a cycle.
func (c *ClientConnector) Pending() int {
	return c.queue.Len()
}

// Connect starts the background loop. Commands queued while disconnected
// are sent in the first cycle. Connect clears the lost-commands condition
// left by a failed batch.
func (c *ClientConnector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Disconnected {
		return ErrAlreadyConnected
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.loopCtx = loopCtx
	c.lost = nil
	c.cancel = cancel
	c.done = make(chan struct{})
	c.state = Idle

	go c.run(loopCtx, c.done)
	c.logger.Info("client connector connected", "push", c.pushEnabled)
	return nil
}

// Disconnect stops the loop and releases any outstanding long poll without
// reporting an error. A batch already in flight completes; commands not yet
// taken stay queued for the next Connect.
func (c *ClientConnector) Disconnect() {
	c.mu.Lock()
	if c.state == Disconnected {
		c.mu.Unlock()
		return
	}
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	<-done
	c.logger.Info("client connector disconnected", "pending", c.queue.Len())
}

// Send queues cmd for the next batch. If a long poll is outstanding it is
// interrupted, once per poll, so the batch goes out promptly.
func (c *ClientConnector) Send(cmd protocol.Command, onFinished func()) {
	c.mu.Lock()
	c.queue.Add(cmd, onFinished)
	interrupt := c.state == AwaitingPollResponse && !c.interrupted
	if interrupt {
		c.interrupted = true
	}
	ctx := c.loopCtx
	c.mu.Unlock()

	if interrupt {
		go c.interruptPoll(ctx)
	}
}

// Sync runs callback on the UI executor once every command queued before it
// has completed a round trip.
func (c *ClientConnector) Sync(callback func()) {
	c.Send(protocol.Empty{}, callback)
}

// DispatchHandle applies one incoming command to the store.
func (c *ClientConnector) DispatchHandle(cmd protocol.Command) error {
	return c.applier.Apply(cmd)
}

func (c *ClientConnector) interruptPoll(ctx context.Context) {
	if err := c.transport.Interrupt(ctx); err != nil && ctx.Err() == nil {
		c.logger.Warn("long poll interrupt failed", "error", err)
	}
}

func (c *ClientConnector) run(ctx context.Context, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		c.state = Disconnected
		c.mu.Unlock()
		close(done)
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		batch, poll := c.next()
		if poll {
			c.poll(ctx)
			continue
		}
		if batch == nil {
			var err error
			if batch, err = c.queue.Next(ctx); err != nil {
				return
			}
		}
		if ctx.Err() != nil {
			// Disconnected before the batch went out.
			c.queue.PushFront(batch)
			return
		}
		c.transmit(ctx, batch)
	}
}

// next takes the pending batch. With push enabled and nothing pending it
// moves to AwaitingPollResponse instead, under the same lock Send uses, so a
// concurrent Send either lands in this batch or interrupts the poll.
func (c *ClientConnector) next() (batch []QueuedCommand, poll bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	batch = c.queue.Drain()
	if len(batch) > 0 || !c.pushEnabled {
		return batch, false
	}
	c.state = AwaitingPollResponse
	c.interrupted = false
	return nil, true
}

func (c *ClientConnector) setState(s State) {
	c.mu.Lock()
	if c.state != Disconnected {
		c.state = s
	}
	c.mu.Unlock()
}

func (c *ClientConnector) poll(ctx context.Context) {
	resp, err := c.cycle(ctx, []protocol.Command{protocol.StartLongPoll{}})
	c.setState(Idle)

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.handler.Handle(err)

		select {
		case <-ctx.Done():
		case <-c.queue.Ready():
			// Put the signal back for the batch that caused it.
			c.queue.signal()
		case <-time.After(c.retryDelay):
		}
		return
	}
	c.dispatch(resp, nil)
}

func (c *ClientConnector) transmit(ctx context.Context, batch []QueuedCommand) {
	// An in-flight batch outlives Disconnect.
	resp, err := c.cycle(context.WithoutCancel(ctx), commandsOf(batch))
	if err != nil {
		if carriesModelCommands(batch) {
			c.mu.Lock()
			c.lost = err
			c.mu.Unlock()
		}
		c.handler.Handle(err)
		return
	}
	c.dispatch(resp, batch)
}

func carriesModelCommands(batch []QueuedCommand) bool {
	for _, qc := range batch {
		if k := qc.Command.Kind(); k != protocol.KindEmpty && !protocol.IsControl(qc.Command) {
			return true
		}
	}
	return false
}

func (c *ClientConnector) cycle(ctx context.Context, cmds []protocol.Command) (resp []protocol.Command, err error) {
	start := time.Now()
	ctx, span := startCycleSpan(ctx, c.tracer, "remoting.client.transmit", sideClient, cmds)
	defer func() {
		c.metrics.recordCycle(sideClient, time.Since(start), err)
		endSpan(span, err)
	}()

	c.metrics.recordSent(sideClient, cmds)
	resp, err = c.transport.Transmit(ctx, cmds)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		c.logger.Error("transmit failed", "commands", len(cmds), "error", err)
		return nil, ErrTransportFailed.Wrap(err)
	}
	c.metrics.recordReceived(sideClient, resp)
	return resp, nil
}

// dispatch applies resp and then runs the batch's callbacks, all on the UI
// executor. After a batch with model commands was lost the callbacks cannot
// vouch for delivery, so they are reported to the exception handler instead.
func (c *ClientConnector) dispatch(resp []protocol.Command, batch []QueuedCommand) {
	if len(resp) == 0 && len(batch) == 0 {
		return
	}
	c.mu.Lock()
	lost := c.lost
	c.mu.Unlock()

	c.ui.Execute(func() {
		for _, cmd := range resp {
			if protocol.IsControl(cmd) {
				continue
			}
			if err := c.applier.Apply(cmd); err != nil {
				c.logger.Error("applying server command failed",
					"kind", cmd.Kind().String(),
					"error", err)
				c.handler.Handle(err)
			}
		}
		if lost != nil {
			for _, qc := range batch {
				if qc.OnFinished != nil {
					c.handler.Handle(ErrCommandsLost.Wrap(lost))
					return
				}
			}
			return
		}
		for _, qc := range batch {
			if qc.OnFinished != nil {
				qc.OnFinished()
			}
		}
	})
}
