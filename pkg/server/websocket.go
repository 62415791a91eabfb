package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-dev/remoting/pkg/connector"
	"github.com/vango-dev/remoting/pkg/protocol"
)

// handleWebSocket upgrades the request and serves the session over the
// connection until either side closes it.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessionFor(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	header := http.Header{}
	header.Set(connector.SessionHeader, session.ID)
	conn, err := s.upgrader.Upgrade(w, r, header)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "session_id", session.ID, "error", err)
		return
	}

	ws := &wsConn{
		server:  s,
		session: session,
		conn:    conn,
		batches: make(chan []protocol.Command, 16),
	}
	ws.serve(r.Context())
}

// wsConn serves one WebSocket connection. Reading runs on the handler
// goroutine so interrupts are seen while a poll is parked; batches are
// processed in order on a second goroutine.
type wsConn struct {
	server  *Server
	session *Session
	conn    *websocket.Conn
	batches chan []protocol.Command
}

func (c *wsConn) serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.conn.SetReadLimit(c.server.config.MaxBodyBytes)

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancel()
		c.processLoop(ctx)
	}()

	c.readLoop(ctx)
	cancel()
	close(c.batches)
	<-done
	c.conn.Close()
}

// readLoop continuously reads frames and hands batches to the process loop.
func (c *wsConn) readLoop(ctx context.Context) {
	logger := c.session.logger
	for {
		msgType, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				logger.Error("read error", "error", err)
			}
			return
		}
		c.session.Touch()

		if msgType != websocket.TextMessage {
			logger.Warn("ignoring non-text frame", "type", msgType)
			continue
		}

		cmds, err := c.server.codec.Decode(msg)
		if err != nil {
			logger.Error("batch decode error", "error", err)
			c.closeWith(websocket.CloseInvalidFramePayloadData, err.Error())
			return
		}

		if connector.IsInterrupt(cmds) {
			c.session.Connector().Interrupt()
			continue
		}

		select {
		case c.batches <- cmds:
		case <-ctx.Done():
			return
		}
	}
}

func (c *wsConn) processLoop(ctx context.Context) {
	for cmds := range c.batches {
		resp, err := c.session.Receive(ctx, cmds)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			code := websocket.CloseInternalServerErr
			if errors.Is(err, ErrSessionClosed) {
				code = websocket.CloseGoingAway
			}
			c.session.logger.Error("batch failed", "error", err)
			c.closeWith(code, err.Error())
			return
		}

		data, err := c.server.codec.Encode(resp)
		if err != nil {
			c.session.logger.Error("encode response", "error", err)
			c.closeWith(websocket.CloseInternalServerErr, err.Error())
			return
		}
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			c.session.logger.Warn("write error", "error", err)
			c.conn.Close()
			return
		}
	}
}

// closeWith sends a close frame and closes the connection, which ends the
// read loop.
func (c *wsConn) closeWith(code int, reason string) {
	if len(reason) > 120 {
		reason = reason[:120]
	}
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	c.conn.Close()
}
