package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/studyrooms/chatcore/internal/chat"
)

const writeWait = 10 * time.Second

// Client is one authenticated connection. The principal binding is
// immutable for the connection's lifetime. joined is touched only from the
// read pump, so it needs no lock.
type Client struct {
	id          string
	principalID string
	conn        *websocket.Conn
	send        chan []byte
	srv         *Server
	joined      map[string]struct{}
	dropOnce    sync.Once
}

func newClient(id, principalID string, conn *websocket.Conn, srv *Server) *Client {
	return &Client{
		id:          id,
		principalID: principalID,
		conn:        conn,
		send:        make(chan []byte, srv.cfg.SendBuffer),
		srv:         srv,
		joined:      make(map[string]struct{}),
	}
}

// drop severs the connection. Closing the socket unblocks the read pump,
// which runs the full disconnect cleanup exactly once.
func (c *Client) drop() {
	c.dropOnce.Do(func() {
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// enqueue hands a frame to the write pump without blocking the caller.
func (c *Client) enqueue(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		c.drop()
		return false
	}
}

// sendEvent encodes and queues an event for this connection only.
func (c *Client) sendEvent(ev chat.ServerEvent) {
	frame, err := chat.EncodeServerEvent(ev)
	if err != nil {
		c.srv.log.Error("encode event failed", zap.String("conn", c.id), zap.Error(err))
		return
	}
	c.enqueue(frame)
}

// readPump owns the socket's read side for the connection's lifetime and
// runs disconnect cleanup when it exits. A connection silent beyond the
// liveness window fails its read deadline and is cleaned up the same way
// as a clean close.
func (c *Client) readPump(ctx context.Context) {
	defer c.srv.cleanup(ctx, c)

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(c.srv.cfg.LivenessTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.srv.cfg.LivenessTimeout))
		// Heartbeat doubles as the presence liveness refresh.
		c.srv.presence.Touch(ctx, c.principalID)
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				c.srv.log.Debug("read failed", zap.String("conn", c.id), zap.Error(err))
			}
			return
		}

		ev, err := chat.DecodeClientEvent(raw)
		if err != nil {
			c.sendEvent(chat.ErrorEvent{Code: "bad_request", Message: "unrecognized event"})
			continue
		}
		c.srv.dispatch(ctx, c, ev)
	}
}

// writePump owns the socket's write side: queued frames plus keepalive
// pings on the heartbeat interval.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.srv.cfg.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		c.drop()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					c.srv.log.Debug("write failed", zap.String("conn", c.id), zap.Error(err))
				}
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
