package main

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 10 * 1024 * 1024
	sendBufferSize = 256
)

// wsConn is the slice of the transport the core consumes. The accept
// loop hands us *websocket.Conn; tests hand us fakes.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

func newClientID() string {
	return fmt.Sprintf("client_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

type Client struct {
	id     string
	roomID string
	info   RoomInfo
	ip     string

	hub  *Hub
	conn wsConn
	send chan []byte
	done chan struct{}
	log  *zap.Logger

	// alive is cleared at each heartbeat tick and set again by any
	// inbound message or pong. A peer silent for one full interval is
	// terminated on the next tick.
	alive  atomic.Bool
	closed atomic.Bool

	connectedAt  time.Time
	lastActivity atomic.Int64 // unix millis

	closeOnce sync.Once
}

func newClient(hub *Hub, conn wsConn, roomID string, info RoomInfo, ip string, log *zap.Logger) *Client {
	c := &Client{
		id:          newClientID(),
		roomID:      roomID,
		info:        info,
		ip:          ip,
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		done:        make(chan struct{}),
		log:         log,
		connectedAt: time.Now(),
	}
	c.alive.Store(true)
	c.touch()
	return c
}

func (c *Client) touch() {
	c.lastActivity.Store(time.Now().UnixMilli())
}

// active is the admission-relevant liveness predicate: open transport,
// acknowledged heartbeat, and a fully assigned identity.
func (c *Client) active() bool {
	return !c.closed.Load() && c.alive.Load() && c.id != "" && c.roomID != ""
}

func (c *Client) open() bool {
	return !c.closed.Load()
}

// enqueue hands a payload to the write pump without blocking. A full
// buffer means the peer cannot keep up; the caller treats that as a
// failed send.
func (c *Client) enqueue(payload []byte) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// closeWith sends a close frame with the given code, then tears the
// transport down. Safe to call multiple times and from any goroutine.
func (c *Client) closeWith(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = c.conn.Close()
	})
}

// terminate drops the transport without a close handshake. Used for
// peers that already failed the liveness check.
func (c *Client) terminate() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c.roomID, c)
		c.hub.quota.Release(c.ip, c.roomID)
		c.terminate()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	deadline := 2 * c.hub.cfg.PingInterval()
	_ = c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		c.alive.Store(true)
		c.touch()
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn("read error",
					zap.String("client", c.id),
					zap.String("room", c.roomID),
					zap.Error(err))
				c.closeWith(websocket.CloseInternalServerErr, "internal error")
			}
			return
		}
		c.alive.Store(true)
		c.touch()
		_ = c.conn.SetReadDeadline(time.Now().Add(deadline))
		c.handleMessage(message)
	}
}

// handleMessage routes one inbound frame. File-tree rooms recognize
// typed JSON events; everything else, including malformed file-tree
// JSON, is relayed byte for byte.
func (c *Client) handleMessage(message []byte) {
	if c.info.Kind == RoomFileTree {
		var event struct {
			Type   string `json:"type"`
			Action string `json:"action"`
		}
		if json.Unmarshal(message, &event) == nil && event.Type == "fileTree" {
			c.log.Debug("file tree event",
				zap.String("room", c.roomID),
				zap.String("action", event.Action))
			c.hub.Broadcast(c.roomID, message, c)
			return
		}
	}
	c.hub.Broadcast(c.roomID, message, c)
}

func (c *Client) writePump() {
	defer c.terminate()
	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, message); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
