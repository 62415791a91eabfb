package connector

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/vango-dev/remoting/pkg/protocol"
)

// HTTPTransport posts batches to a server endpoint. The session id handed
// out by the server is kept and sent with every later request.
type HTTPTransport struct {
	url    string
	client *http.Client
	codec  protocol.Codec

	mu        sync.Mutex
	sessionID string
	known     chan struct{} // closed once sessionID is set
	wait      time.Duration
}

var _ Transport = (*HTTPTransport)(nil)

// HTTPOption configures an HTTPTransport.
type HTTPOption func(*HTTPTransport)

// WithHTTPClient sets the HTTP client. Its timeout must exceed the server's
// long-poll timeout.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(t *HTTPTransport) {
		if client != nil {
			t.client = client
		}
	}
}

// WithCodec sets the codec. Default: protocol.JSONCodec
func WithCodec(codec protocol.Codec) HTTPOption {
	return func(t *HTTPTransport) {
		if codec != nil {
			t.codec = codec
		}
	}
}

// WithSession resumes an existing session id.
func WithSession(id string) HTTPOption {
	return func(t *HTTPTransport) {
		t.sessionID = id
	}
}

// NewHTTPTransport creates a transport posting to url.
func NewHTTPTransport(url string, opts ...HTTPOption) *HTTPTransport {
	t := &HTTPTransport{
		url:    url,
		client: &http.Client{Timeout: DefaultPollTimeout + 30*time.Second},
		codec:  protocol.JSONCodec{},
		known:  make(chan struct{}),
		wait:   DefaultSessionWait,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.sessionID != "" {
		close(t.known)
	}
	return t
}

// DefaultSessionWait bounds how long an interrupt waits for the first
// response headers to carry a session id.
const DefaultSessionWait = 10 * time.Second

// SessionID returns the session id assigned by the server, if any.
func (t *HTTPTransport) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// Transmit posts cmds and decodes the response batch.
func (t *HTTPTransport) Transmit(ctx context.Context, cmds []protocol.Command) ([]protocol.Command, error) {
	body, err := t.codec.Encode(cmds)
	if err != nil {
		return nil, err
	}
	data, err := t.post(ctx, body)
	if err != nil {
		return nil, err
	}
	return t.codec.Decode(data)
}

// Interrupt posts a lone InterruptLongPoll for the current session. On a
// fresh transport it first waits for the server to assign the session id,
// which the server sends as soon as a poll is parked.
func (t *HTTPTransport) Interrupt(ctx context.Context) error {
	select {
	case <-t.known:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(t.wait):
	}

	body, err := t.codec.Encode([]protocol.Command{protocol.InterruptLongPoll{}})
	if err != nil {
		return err
	}
	_, err = t.post(ctx, body)
	return err
}

func (t *HTTPTransport) post(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if id := t.SessionID(); id != "" {
		req.Header.Set(SessionHeader, id)
	}

	res, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	// Headers arrive before a parked poll's body.
	if id := res.Header.Get(SessionHeader); id != "" {
		t.setSessionID(id)
	}

	data, err := io.ReadAll(io.LimitReader(res.Body, protocol.MaxPayloadSize+1))
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		return nil, ErrUnexpectedReply.WithDetail(fmt.Sprintf("status %d: %s", res.StatusCode, bytes.TrimSpace(data)))
	}
	return data, nil
}

func (t *HTTPTransport) setSessionID(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sessionID == "" {
		close(t.known)
	}
	t.sessionID = id
}
