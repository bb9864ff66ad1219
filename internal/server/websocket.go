package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/23skdu/longbow-parley/internal/session"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsReadLimit  = 512 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type wsOutbound struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// wsConn binds one websocket to one session. Turns run off the read loop so
// status requests are answered while generating.
type wsConn struct {
	srv    *Server
	conn   *websocket.Conn
	sess   *session.Session
	send   chan []byte
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// serveWebsocket handles GET /ws/sessions/{sessionID}
func (s *Server) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "err", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &wsConn{
		srv:    s,
		conn:   conn,
		sess:   sess,
		send:   make(chan []byte, 256),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	go c.writePump()
	go c.readPump()
}

func (c *wsConn) readPump() {
	defer func() {
		c.cancel()
		close(c.done)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(wsReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.srv.log.Warn("websocket read failed", "err", err)
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.sendError(ErrCodeInvalidRequest, "Invalid JSON format", nil)
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// push queues a message; it reports false once the connection is gone.
func (c *wsConn) push(typ string, payload any) bool {
	data, err := json.Marshal(wsOutbound{Type: typ, Payload: payload})
	if err != nil {
		return false
	}
	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	}
}

func (c *wsConn) sendError(code, message string, details map[string]any) {
	c.push("error", ErrorDetail{Code: code, Message: message, Details: details})
}

func (c *wsConn) sendDomainError(err error) {
	_, code, details := classify(err)
	c.sendError(code, err.Error(), details)
}

func (c *wsConn) handleMessage(msg WSMessage) {
	switch msg.Type {
	case "turn":
		var req TurnRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			c.sendError(ErrCodeInvalidRequest, "Invalid turn request", nil)
			return
		}
		go c.runTurn(req.Prompt)
	case "status":
		c.push("status", c.sess.Status())
	case "reset":
		if err := c.sess.Reset(); err != nil {
			c.sendDomainError(err)
			return
		}
		c.push("status", c.sess.Status())
	case "clear":
		if err := c.sess.ClearContext(); err != nil {
			c.sendDomainError(err)
			return
		}
		c.push("status", c.sess.Status())
	default:
		c.sendError("UNKNOWN_TYPE", "Unknown message type: "+msg.Type, nil)
	}
}

func (c *wsConn) runTurn(prompt string) {
	ctx, cancel := c.srv.turnContext(c.ctx)
	defer cancel()

	res, err := c.sess.Submit(ctx, prompt, func(fragment string) bool {
		return c.push("token", tokenEvent{Text: fragment})
	})
	c.srv.recordTurn(res, err)
	if err != nil {
		c.sendDomainError(err)
		return
	}
	c.push("done", newTurnResponse(res))
}
