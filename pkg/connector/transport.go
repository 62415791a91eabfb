package connector

import (
	"context"

	"github.com/vango-dev/remoting/pkg/protocol"
)

// SessionHeader carries the session id on HTTP requests and responses.
const SessionHeader = "X-Remoting-Session"

// Transport performs request/response cycles against a server.
type Transport interface {
	// Transmit sends one batch and returns the server's response batch.
	Transmit(ctx context.Context, cmds []protocol.Command) ([]protocol.Command, error)

	// Interrupt releases an outstanding long poll without waiting for the
	// cycle that holds it.
	Interrupt(ctx context.Context) error
}

// LocalTransport connects a client to an in-process ServerConnector. Batches
// still pass through the codec in both directions.
type LocalTransport struct {
	server *ServerConnector
	codec  protocol.Codec
}

var _ Transport = (*LocalTransport)(nil)

// NewLocalTransport creates a transport to server. A nil codec uses protocol.JSONCodec.
func NewLocalTransport(server *ServerConnector, codec protocol.Codec) *LocalTransport {
	if codec == nil {
		codec = protocol.JSONCodec{}
	}
	return &LocalTransport{server: server, codec: codec}
}

// Transmit encodes cmds, hands them to the server and decodes its answer.
func (t *LocalTransport) Transmit(ctx context.Context, cmds []protocol.Command) ([]protocol.Command, error) {
	in, err := roundTrip(t.codec, cmds)
	if err != nil {
		return nil, err
	}
	resp, err := t.server.Receive(ctx, in)
	if err != nil {
		return nil, err
	}
	return roundTrip(t.codec, resp)
}

// Interrupt releases the server's waiting poll.
func (t *LocalTransport) Interrupt(ctx context.Context) error {
	t.server.Interrupt()
	return nil
}

func roundTrip(codec protocol.Codec, cmds []protocol.Command) ([]protocol.Command, error) {
	data, err := codec.Encode(cmds)
	if err != nil {
		return nil, err
	}
	return codec.Decode(data)
}

// IsInterrupt reports whether a batch only asks to release a long poll.
// Such batches must bypass the session's cycle.
func IsInterrupt(cmds []protocol.Command) bool {
	if len(cmds) == 0 {
		return false
	}
	for _, cmd := range cmds {
		if cmd.Kind() != protocol.KindInterruptLongPoll {
			return false
		}
	}
	return true
}

// IsPoll reports whether cmds is a lone long-poll request.
func IsPoll(cmds []protocol.Command) bool {
	return len(cmds) == 1 && cmds[0].Kind() == protocol.KindStartLongPoll
}
