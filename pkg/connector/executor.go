package connector

import (
	"sync"
)

// Executor runs tasks. Connectors deliver responses and callbacks through an
// Executor that represents the application's foreground context.
type Executor interface {
	Execute(fn func())
}

// DirectExecutor runs tasks on the calling goroutine.
type DirectExecutor struct{}

// Execute runs fn immediately.
func (DirectExecutor) Execute(fn func()) {
	fn()
}

// SerialExecutor runs tasks one at a time, in submission order, on a single
// goroutine. Execute never blocks.
type SerialExecutor struct {
	mu      sync.Mutex
	tasks   []func()
	wake    chan struct{}
	closed  bool
	stopped chan struct{}
}

// NewSerialExecutor starts the executor goroutine.
func NewSerialExecutor() *SerialExecutor {
	e := &SerialExecutor{
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go e.run()
	return e
}

// Execute queues fn. Tasks submitted after Close are dropped.
func (e *SerialExecutor) Execute(fn func()) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.tasks = append(e.tasks, fn)
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Flush blocks until every task queued before the call has run.
// It must not be called from a task.
func (e *SerialExecutor) Flush() {
	done := make(chan struct{})
	e.Execute(func() { close(done) })
	select {
	case <-done:
	case <-e.stopped:
	}
}

// Close runs the queued tasks and stops the goroutine.
func (e *SerialExecutor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		<-e.stopped
		return
	}
	e.closed = true
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
	<-e.stopped
}

func (e *SerialExecutor) run() {
	defer close(e.stopped)
	for range e.wake {
		for {
			e.mu.Lock()
			if len(e.tasks) == 0 {
				closed := e.closed
				e.mu.Unlock()
				if closed {
					return
				}
				break
			}
			fn := e.tasks[0]
			e.tasks[0] = nil
			e.tasks = e.tasks[1:]
			e.mu.Unlock()

			fn()
		}
	}
}
