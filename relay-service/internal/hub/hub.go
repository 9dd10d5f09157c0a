package hub

import (
	"sync"
	"time"

	"github.com/weiawesome/wes-edu-relay/pkg/log"
)

// Config controls socket keep-alive and buffering.
type Config struct {
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

// Hub owns the set of connected sockets and fans payloads out to all of them.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	quit       chan struct{}
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
	config     Config
}

func NewHub(cfg Config) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		config:     cfg,
	}
}

// Config returns the socket settings new clients should use.
func (h *Hub) Config() Config {
	return h.config
}

// Run serves register, unregister and broadcast requests until Stop.
func (h *Hub) Run() {
	defer close(h.done)
	l := log.L()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			l.Debug().Str(log.FieldClientID, client.ID).Msg("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				client.closeSend()
			}
			h.mu.Unlock()
			l.Debug().Str(log.FieldClientID, client.ID).Msg("client unregistered")

		case data := <-h.broadcast:
			h.mu.RLock()
			for _, client := range h.clients {
				if !client.Enqueue(data) {
					l.Warn().Str(log.FieldClientID, client.ID).Msg("send buffer full, dropping client")
					go h.Unregister(client)
				}
			}
			h.mu.RUnlock()

		case <-h.quit:
			h.mu.Lock()
			for id, client := range h.clients {
				delete(h.clients, id)
				client.closeSend()
			}
			h.mu.Unlock()
			return
		}
	}
}

// Register adds a client. After Stop the client is closed instead.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.quit:
		client.closeSend()
	}
}

// Unregister removes a client and closes its send queue.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	}
}

// Broadcast queues data for every connected client, the sender included.
func (h *Hub) Broadcast(data []byte) {
	select {
	case h.broadcast <- data:
	case <-h.quit:
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop closes every client and ends Run.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
	<-h.done
}
