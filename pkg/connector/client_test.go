package connector

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vango-dev/remoting/pkg/model"
	"github.com/vango-dev/remoting/pkg/protocol"
)

func newConnectedPair(t *testing.T, push bool, opts ...ClientOption) (*ClientConnector, *ServerConnector, *recordingTransport) {
	t.Helper()
	sc := NewServerConnector(WithPollTimeout(5 * time.Second))
	rt := &recordingTransport{next: NewLocalTransport(sc, nil)}

	opts = append([]ClientOption{WithPushEnabled(push), WithExceptionHandler(failOnError(t))}, opts...)
	cc := NewClientConnector(nil, rt, opts...)
	if err := cc.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	t.Cleanup(func() {
		cc.Disconnect()
		sc.Close()
	})
	return cc, sc, rt
}

func TestClientConnector_SyncSendsSingleEmptyCommand(t *testing.T) {
	cc, _, rt := newConnectedPair(t, false)

	done := make(chan struct{})
	cc.Sync(func() { close(done) })
	waitClosed(t, done, "sync callback")

	sent := rt.sent()
	if len(sent) != 1 || sent[0].Kind() != protocol.KindEmpty {
		t.Fatalf("sent = %v, want one Empty", kinds(sent))
	}
}

func TestClientConnector_CreateReachesServerWithSameIDs(t *testing.T) {
	cc, sc, _ := newConnectedPair(t, false)

	attr := model.NewAttribute(model.ClientSide, "name", "Ada", model.WithQualifier("person.name"))
	if err := cc.Store().Add(model.NewPresentationModel("p1", "Person", []*model.Attribute{attr})); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if err := attr.SetValue("Grace"); err != nil {
		t.Fatalf("SetValue() error: %v", err)
	}

	done := make(chan struct{})
	cc.Sync(func() { close(done) })
	waitClosed(t, done, "sync callback")

	pm, ok := sc.Store().FindPresentationModelByID("p1")
	if !ok {
		t.Fatal("server does not know p1")
	}
	if pm.Type() != "Person" {
		t.Fatalf("server pm type = %q", pm.Type())
	}
	serverAttr, ok := sc.Store().FindAttributeByID(attr.ID())
	if !ok {
		t.Fatalf("server does not know attribute %s", attr.ID())
	}
	if serverAttr.Value() != "Grace" || serverAttr.Qualifier() != "person.name" {
		t.Fatalf("server attribute = %v/%q", serverAttr.Value(), serverAttr.Qualifier())
	}
	if sc.Pending() != 0 {
		t.Fatalf("server echoed %d commands", sc.Pending())
	}
}

func TestClientConnector_BatchPreservesOrder(t *testing.T) {
	rt := &recordingTransport{}
	cc := NewClientConnector(nil, rt, WithExceptionHandler(failOnError(t)))

	// Queued while disconnected, sent as one batch on Connect.
	cc.Send(protocol.ValueChanged{AttributeID: "1S", NewValue: 1}, nil)
	cc.Send(protocol.ValueChanged{AttributeID: "1S", NewValue: 2}, nil)
	cc.Send(protocol.DeletePresentationModel{PMID: "p"}, nil)

	if err := cc.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer cc.Disconnect()

	waitUntil(t, "batch", func() bool { return rt.batchCount() == 1 })
	got := kinds(rt.sent())
	want := []protocol.Kind{protocol.KindValueChanged, protocol.KindValueChanged, protocol.KindDeletePresentationModel}
	if !slices.Equal(got, want) {
		t.Fatalf("sent kinds = %v, want %v", got, want)
	}
	if v := rt.sent()[1].(protocol.ValueChanged).NewValue; v != 2 {
		t.Fatalf("second value = %v, want 2", v)
	}
}

func TestClientConnector_ConnectTwice(t *testing.T) {
	cc, _, _ := newConnectedPair(t, false)
	if err := cc.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("Connect() error = %v, want ErrAlreadyConnected", err)
	}
}

func TestClientConnector_RemoteChangesAreNotEchoed(t *testing.T) {
	cc, sc, rt := newConnectedPair(t, true)

	attr := model.NewAttribute(model.ServerSide, "count", 0)
	if err := sc.Store().Add(model.NewPresentationModel("counter", "Counter", []*model.Attribute{attr})); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	waitUntil(t, "client to receive counter", func() bool {
		return cc.Store().Contains("counter")
	})

	for i := 1; i <= 3; i++ {
		if err := attr.SetValue(i); err != nil {
			t.Fatalf("SetValue() error: %v", err)
		}
	}
	waitUntil(t, "client value 3", func() bool {
		a, ok := cc.Store().FindAttributeByID(attr.ID())
		return ok && model.ValuesEqual(a.Value(), 3)
	})

	if sent := rt.sent(); len(sent) != 0 {
		t.Fatalf("client echoed %v", kinds(sent))
	}
	if cc.Pending() != 0 {
		t.Fatalf("client queued %d commands", cc.Pending())
	}
}

func TestClientConnector_SendInterruptsPollOnce(t *testing.T) {
	cc, sc, rt := newConnectedPair(t, true)

	waitUntil(t, "long poll", func() bool { return cc.State() == AwaitingPollResponse })

	attr := model.NewAttribute(model.ClientSide, "a", 0)
	if err := cc.Store().Add(model.NewPresentationModel("p1", "T", []*model.Attribute{attr})); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	waitUntil(t, "server to receive p1", func() bool { return sc.Store().Contains("p1") })
	if n := rt.interruptCount(); n != 1 {
		t.Fatalf("interrupts = %d, want 1", n)
	}
}

func TestClientConnector_DisconnectKeepsUnsentCommands(t *testing.T) {
	cc, sc, rt := newConnectedPair(t, true)
	waitUntil(t, "long poll", func() bool { return cc.State() == AwaitingPollResponse })

	cc.Disconnect()
	if cc.State() != Disconnected {
		t.Fatalf("State() = %v, want Disconnected", cc.State())
	}

	attr := model.NewAttribute(model.ClientSide, "a", 0)
	if err := cc.Store().Add(model.NewPresentationModel("p1", "T", []*model.Attribute{attr})); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if cc.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", cc.Pending())
	}
	before := len(rt.sent())

	if err := cc.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	waitUntil(t, "server to receive p1", func() bool { return sc.Store().Contains("p1") })
	if got := len(rt.sent()) - before; got != 1 {
		t.Fatalf("sent %d commands after reconnect, want 1", got)
	}
}

func TestClientConnector_FailedCycleReportsAndContinues(t *testing.T) {
	rt := &recordingTransport{fail: errors.New("connection refused")}

	var handled atomic.Int32
	cc := NewClientConnector(nil, rt, WithExceptionHandler(ExceptionHandlerFunc(func(err error) {
		if !errors.Is(err, ErrTransportFailed) {
			t.Errorf("handled error = %v, want ErrTransportFailed", err)
		}
		handled.Add(1)
	})))
	if err := cc.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer cc.Disconnect()

	var lost atomic.Bool
	cc.Sync(func() { lost.Store(true) })
	waitUntil(t, "failure report", func() bool { return handled.Load() == 1 })

	rt.setFail(nil)
	done := make(chan struct{})
	cc.Sync(func() { close(done) })
	waitClosed(t, done, "second sync")

	if lost.Load() {
		t.Fatal("callback of failed batch fired")
	}
}

func TestClientConnector_DefaultHandlerSurvivesFailedCycle(t *testing.T) {
	rt := &recordingTransport{fail: errors.New("connection refused")}
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	cc := NewClientConnector(nil, rt, WithLogger(quiet))
	if err := cc.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer cc.Disconnect()

	cc.Send(protocol.Empty{}, nil)
	waitUntil(t, "first batch", func() bool { return rt.batchCount() == 1 })
	cc.Send(protocol.Empty{}, nil)
	waitUntil(t, "second batch", func() bool { return rt.batchCount() == 2 })

	if cc.State() == Disconnected {
		t.Fatal("loop stopped after a failed cycle")
	}
}

func TestClientConnector_CallbacksAfterLostBatchAreReported(t *testing.T) {
	rt := &recordingTransport{fail: errors.New("connection refused")}

	var mu sync.Mutex
	var handled []error
	cc := NewClientConnector(nil, rt, WithExceptionHandler(ExceptionHandlerFunc(func(err error) {
		mu.Lock()
		handled = append(handled, err)
		mu.Unlock()
	})))
	if err := cc.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer cc.Disconnect()

	countLost := func() int {
		mu.Lock()
		defer mu.Unlock()
		n := 0
		for _, err := range handled {
			if errors.Is(err, ErrCommandsLost) {
				n++
			}
		}
		return n
	}

	attr := model.NewAttribute(model.ClientSide, "a", 0)
	if err := cc.Store().Add(model.NewPresentationModel("p1", "T", []*model.Attribute{attr})); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	waitUntil(t, "failed batch", func() bool { return rt.batchCount() == 1 })

	rt.setFail(nil)
	var fired atomic.Bool
	cc.Sync(func() { fired.Store(true) })
	waitUntil(t, "lost commands report", func() bool { return countLost() == 1 })
	if fired.Load() {
		t.Fatal("sync callback fired after a lost batch")
	}

	cc.Disconnect()
	if err := cc.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	done := make(chan struct{})
	cc.Sync(func() { close(done) })
	waitClosed(t, done, "sync after reconnect")
	if n := countLost(); n != 1 {
		t.Fatalf("lost reports = %d, want 1", n)
	}
}

// cancelAfterFirstCheck reports cancellation from its second Err call on.
type cancelAfterFirstCheck struct {
	context.Context
	calls atomic.Int32
}

func (c *cancelAfterFirstCheck) Err() error {
	if c.calls.Add(1) > 1 {
		return context.Canceled
	}
	return nil
}

func TestClientConnector_CancelledLoopRequeuesTakenBatch(t *testing.T) {
	rt := &recordingTransport{}
	cc := NewClientConnector(nil, rt, WithExceptionHandler(failOnError(t)))
	cc.Send(protocol.Empty{}, nil)
	cc.Send(protocol.DeletePresentationModel{PMID: "p1"}, nil)

	done := make(chan struct{})
	cc.run(&cancelAfterFirstCheck{Context: context.Background()}, done)
	waitClosed(t, done, "loop exit")

	if rt.batchCount() != 0 {
		t.Fatalf("transmitted %d batches after cancellation", rt.batchCount())
	}
	batch := cc.queue.Drain()
	if got := kinds(commandsOf(batch)); !slices.Equal(got, []protocol.Kind{protocol.KindEmpty, protocol.KindDeletePresentationModel}) {
		t.Fatalf("requeued = %v", got)
	}
}

func TestClientConnector_CallbacksRunOnUIExecutor(t *testing.T) {
	ui := NewSerialExecutor()
	defer ui.Close()

	cc, sc, _ := newConnectedPair(t, false, WithUIExecutor(ui))
	sc.Register(protocol.KindEmpty, func(ctx context.Context, sc *ServerConnector, cmd protocol.Command) error {
		return sc.Store().Add(model.NewPresentationModel("fromAction", "T", nil))
	})

	var order []string
	done := make(chan struct{})
	cc.Store().OnChange(func(e model.StoreEvent) {
		order = append(order, "added "+e.Model.ID())
	})
	cc.Sync(func() {
		order = append(order, "callback")
		close(done)
	})
	waitClosed(t, done, "sync callback")
	ui.Flush()

	if !slices.Equal(order, []string{"added fromAction", "callback"}) {
		t.Fatalf("order = %v", order)
	}
}

func TestClientConnector_DispatchHandle(t *testing.T) {
	cc := NewClientConnector(nil, &recordingTransport{})

	create := protocol.CreatePresentationModel{
		PMID:   "p1",
		PMType: "T",
		Attributes: []protocol.AttributeData{
			{PropertyName: "a", Value: "x", Qualifier: "q", ID: "9S"},
		},
	}
	if err := cc.DispatchHandle(create); err != nil {
		t.Fatalf("DispatchHandle(create) error: %v", err)
	}
	if err := cc.DispatchHandle(create); !errors.Is(err, model.ErrModelExists) {
		t.Fatalf("DispatchHandle(create) again error = %v, want ErrModelExists", err)
	}
	if err := cc.DispatchHandle(protocol.DeletePresentationModel{PMID: "nope"}); !errors.Is(err, model.ErrModelNotFound) {
		t.Fatalf("DispatchHandle(delete) error = %v, want ErrModelNotFound", err)
	}
	if cc.Pending() != 0 {
		t.Fatalf("dispatch queued %d commands", cc.Pending())
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		Disconnected:         "Disconnected",
		Idle:                 "Idle",
		AwaitingPollResponse: "AwaitingPollResponse",
		State(42):            "Unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
