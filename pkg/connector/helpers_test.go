package connector

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/vango-dev/remoting/pkg/protocol"
)

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

// recordingTransport wraps another transport and records every batch.
type recordingTransport struct {
	next Transport

	mu         sync.Mutex
	batches    [][]protocol.Command
	interrupts int
	fail       error
}

func (r *recordingTransport) Transmit(ctx context.Context, cmds []protocol.Command) ([]protocol.Command, error) {
	r.mu.Lock()
	r.batches = append(r.batches, cmds)
	fail := r.fail
	r.mu.Unlock()
	if fail != nil {
		return nil, fail
	}
	if r.next == nil {
		return nil, nil
	}
	return r.next.Transmit(ctx, cmds)
}

func (r *recordingTransport) Interrupt(ctx context.Context) error {
	r.mu.Lock()
	r.interrupts++
	r.mu.Unlock()
	if r.next == nil {
		return nil
	}
	return r.next.Interrupt(ctx)
}

func (r *recordingTransport) setFail(err error) {
	r.mu.Lock()
	r.fail = err
	r.mu.Unlock()
}

// sent returns every non-control command transmitted so far.
func (r *recordingTransport) sent() []protocol.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []protocol.Command
	for _, b := range r.batches {
		for _, cmd := range b {
			if !protocol.IsControl(cmd) {
				out = append(out, cmd)
			}
		}
	}
	return out
}

func (r *recordingTransport) batchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func (r *recordingTransport) interruptCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interrupts
}

func kinds(cmds []protocol.Command) []protocol.Kind {
	out := make([]protocol.Kind, len(cmds))
	for i, cmd := range cmds {
		out[i] = cmd.Kind()
	}
	return out
}

// failOnError is an exception handler that fails the test.
func failOnError(t *testing.T) ExceptionHandler {
	return ExceptionHandlerFunc(func(err error) {
		t.Errorf("unexpected connector error: %v", err)
	})
}
