package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pulselive/backend/internal/live"
)

const (
	// pingInterval and pongWait are used for heartbeat.
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
)

// Envelope is the WebSocket message frame exchanged with browsers.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// client is one WebSocket participant bridged onto a session's topics.
type client struct {
	sessionID string
	identity  string
	conn      *websocket.Conn
	signals   live.SignalingChannel
	sub       live.SubscriptionHandle
	member    live.Membership
	send      chan Envelope
	logger    *zap.Logger

	mu     sync.Mutex
	closed bool
}

// enqueue queues one outbound frame. Topic callbacks keep firing briefly
// after the connection goes away, so sends race the shutdown; the closed
// flag keeps them from hitting a closed channel.
func (c *client) enqueue(env Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- env:
	default:
		// buffer full, skip
	}
}

func (c *client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *client) readPump() {
	defer func() {
		c.sub.Close()
		c.member.Leave()
		c.closeSend()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch env.Event {
		case "signal":
			var msg live.Message
			if err := json.Unmarshal(env.Data, &msg); err != nil {
				continue
			}
			if err := msg.Validate(); err != nil {
				c.logger.Debug("rejecting malformed signal", zap.String("identity", c.identity), zap.Error(err))
				continue
			}
			if err := c.signals.Publish(context.Background(), c.sessionID, msg); err != nil {
				c.logger.Warn("signal publish failed", zap.Error(err))
			}
		default:
			// ignore
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
