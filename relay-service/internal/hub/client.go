package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/weiawesome/wes-edu-relay/pkg/log"
)

// Client is one connected socket.
type Client struct {
	ID          string
	ConnectedAt time.Time

	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	config Config

	mu     sync.Mutex
	closed bool
}

func NewClient(id string, h *Hub, conn *websocket.Conn) *Client {
	cfg := h.Config()
	return &Client{
		ID:          id,
		ConnectedAt: time.Now(),
		hub:         h,
		conn:        conn,
		send:        make(chan []byte, cfg.SendBuffer),
		config:      cfg,
	}
}

// ReadPump reads frames until the socket fails and hands each to handler.
// onClose runs once before the client leaves the hub.
func (c *Client) ReadPump(handler func(*Client, []byte), onClose func(*Client)) {
	defer func() {
		if onClose != nil {
			onClose(c)
		}
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	if c.config.MaxMessageSize > 0 {
		c.conn.SetReadLimit(c.config.MaxMessageSize)
	}
	c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				l := log.L()
				l.Debug().Err(err).Str(log.FieldClientID, c.ID).Msg("websocket closed unexpectedly")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		handler(c, message)
	}
}

// WritePump drains the send queue and keeps the socket alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendMessage marshals message and queues it for this client only.
func (c *Client) SendMessage(message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	c.Enqueue(data)
	return nil
}

// Enqueue queues data without blocking. It reports false when the client
// is gone or its buffer is full.
func (c *Client) Enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
