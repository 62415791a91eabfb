package connector

import (
	"context"
	"sync"

	"github.com/vango-dev/remoting/pkg/protocol"
)

// QueuedCommand is a command waiting for transmission.
type QueuedCommand struct {
	Command    protocol.Command
	OnFinished func()
}

// CommandQueue is an ordered FIFO of commands. Batches are taken whole: a
// batch is everything pending at the moment it is taken.
type CommandQueue struct {
	mu    sync.Mutex
	items []QueuedCommand
	ready chan struct{}
}

// NewCommandQueue creates an empty queue.
func NewCommandQueue() *CommandQueue {
	return &CommandQueue{ready: make(chan struct{}, 1)}
}

// Add appends cmd to the queue.
func (q *CommandQueue) Add(cmd protocol.Command, onFinished func()) {
	q.mu.Lock()
	q.items = append(q.items, QueuedCommand{Command: cmd, OnFinished: onFinished})
	q.mu.Unlock()
	q.signal()
}

// PushFront puts batch back at the head of the queue in its original order.
func (q *CommandQueue) PushFront(batch []QueuedCommand) {
	if len(batch) == 0 {
		return
	}
	q.mu.Lock()
	q.items = append(append(make([]QueuedCommand, 0, len(batch)+len(q.items)), batch...), q.items...)
	q.mu.Unlock()
	q.signal()
}

func (q *CommandQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Ready is signaled after commands were added. A receive does not guarantee
// the queue is still non-empty.
func (q *CommandQueue) Ready() <-chan struct{} {
	return q.ready
}

// Len returns the number of pending commands.
func (q *CommandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain removes and returns all pending commands without blocking.
func (q *CommandQueue) Drain() []QueuedCommand {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// Next blocks until at least one command is pending and returns the whole
// pending batch in enqueue order.
func (q *CommandQueue) Next(ctx context.Context) ([]QueuedCommand, error) {
	for {
		if batch := q.Drain(); len(batch) > 0 {
			return batch, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.ready:
		}
	}
}

func commandsOf(batch []QueuedCommand) []protocol.Command {
	cmds := make([]protocol.Command, len(batch))
	for i, qc := range batch {
		cmds[i] = qc.Command
	}
	return cmds
}
