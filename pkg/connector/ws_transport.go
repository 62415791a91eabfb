package connector

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/vango-dev/remoting/pkg/protocol"
)

// WebSocketTransport carries batches as text frames over one WebSocket
// connection. The server answers every batch except a lone interrupt, so
// an interrupt can be written while a poll is outstanding.
type WebSocketTransport struct {
	conn  *websocket.Conn
	codec protocol.Codec

	writeMu sync.Mutex
	cycleMu sync.Mutex
	// Guarded by cycleMu: responses owed to abandoned cycles, and the
	// commands they carried.
	late  int
	carry []protocol.Command

	responses chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	errMu   sync.Mutex
	readErr error
}

var _ Transport = (*WebSocketTransport)(nil)

// DialWebSocket connects to url. header may carry a session id.
func DialWebSocket(ctx context.Context, url string, header http.Header, codec protocol.Codec) (*WebSocketTransport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return NewWebSocketTransport(conn, codec), nil
}

// NewWebSocketTransport wraps an established connection and starts reading.
func NewWebSocketTransport(conn *websocket.Conn, codec protocol.Codec) *WebSocketTransport {
	if codec == nil {
		codec = protocol.JSONCodec{}
	}
	conn.SetReadLimit(protocol.MaxPayloadSize)
	t := &WebSocketTransport{
		conn:      conn,
		codec:     codec,
		responses: make(chan []byte, 1),
		closed:    make(chan struct{}),
	}
	go t.readLoop()
	return t
}

func (t *WebSocketTransport) readLoop() {
	for {
		msgType, data, err := t.conn.ReadMessage()
		if err != nil {
			t.errMu.Lock()
			t.readErr = err
			t.errMu.Unlock()
			t.Close()
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		select {
		case t.responses <- data:
		case <-t.closed:
			return
		}
	}
}

// Transmit writes one batch and waits for its response frame.
func (t *WebSocketTransport) Transmit(ctx context.Context, cmds []protocol.Command) ([]protocol.Command, error) {
	t.cycleMu.Lock()
	defer t.cycleMu.Unlock()

	data, err := t.codec.Encode(cmds)
	if err != nil {
		return nil, err
	}
	if err := t.write(data); err != nil {
		return nil, err
	}

	for {
		select {
		case data := <-t.responses:
			resp, err := t.codec.Decode(data)
			if t.late > 0 {
				// An abandoned cycle's pushes go out with this one.
				t.late--
				if err == nil {
					t.carry = append(t.carry, resp...)
				}
				continue
			}
			if err != nil {
				return nil, err
			}
			if len(t.carry) > 0 {
				resp = append(t.carry, resp...)
				t.carry = nil
			}
			return resp, nil
		case <-t.closed:
			return nil, t.closeErr()
		case <-ctx.Done():
			// The answer still arrives in order; keep it for the next
			// cycle and release the server if it is holding a poll.
			t.late++
			_ = t.Interrupt(context.WithoutCancel(ctx))
			return nil, ctx.Err()
		}
	}
}

func (t *WebSocketTransport) closeErr() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	if t.readErr != nil {
		return t.readErr
	}
	return websocket.ErrCloseSent
}

// Interrupt writes a lone InterruptLongPoll frame. It does not wait for the
// outstanding cycle.
func (t *WebSocketTransport) Interrupt(ctx context.Context) error {
	data, err := t.codec.Encode([]protocol.Command{protocol.InterruptLongPoll{}})
	if err != nil {
		return err
	}
	return t.write(data)
}

func (t *WebSocketTransport) write(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Close closes the connection.
func (t *WebSocketTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		t.writeMu.Lock()
		_ = t.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		t.writeMu.Unlock()
		err = t.conn.Close()
	})
	return err
}
