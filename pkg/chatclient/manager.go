// Package chatclient keeps one shared relay socket per process and fans
// its events out to any number of listeners.
package chatclient

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/weiawesome/wes-edu-relay/pkg/log"
	"github.com/weiawesome/wes-edu-relay/pkg/protocol"
)

// Status is the connection state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// Identity is announced in the handshake of every opened socket.
type Identity struct {
	UserID string
	Role   string
	Name   string
}

// Config controls dialing and reconnection.
type Config struct {
	URL               string
	Identity          Identity
	ReconnectDelay    time.Duration // fixed delay before each reconnect attempt
	HeartbeatInterval time.Duration // application ping; zero disables
	ReadTimeout       time.Duration // zero disables; extended by every frame and server ping
	DialTimeout       time.Duration
	WriteWait         time.Duration
}

func DefaultConfig() Config {
	return Config{
		ReconnectDelay:    3 * time.Second,
		HeartbeatInterval: 60 * time.Second,
		ReadTimeout:       90 * time.Second,
		DialTimeout:       10 * time.Second,
		WriteWait:         10 * time.Second,
	}
}

// Listener receives connection events. Nil callbacks are skipped. All
// callbacks run on one dispatcher goroutine in a single global order.
type Listener struct {
	OnStatusChange   func(Status)
	OnPresenceUpdate func([]protocol.OnlineUser)
	OnMessage        func(protocol.ChatMessage)
	OnSystem         func(protocol.System)
}

// Registration identifies a registered listener.
type Registration struct {
	id       uint64
	listener Listener
}

// Manager owns the shared socket. The socket is open exactly while at
// least one listener is registered.
type Manager struct {
	cfg    Config
	dialer *websocket.Dialer

	mu             sync.Mutex
	status         Status
	conn           *websocket.Conn
	generation     uint64 // bumped on every dial and teardown; stale goroutines compare against it
	handshakeSent  bool
	reconnectTimer *time.Timer
	listeners      map[uint64]*Registration
	nextID         uint64
	presence       []protocol.OnlineUser
	resetHooks     map[uint64]func()
	closed         bool

	writeMu sync.Mutex

	events       *eventQueue
	quit         chan struct{}
	dispatchDone chan struct{}
}

func NewManager(cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}

	m := &Manager{
		cfg:          cfg,
		dialer:       &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout},
		status:       StatusDisconnected,
		listeners:    make(map[uint64]*Registration),
		resetHooks:   make(map[uint64]func()),
		events:       newEventQueue(),
		quit:         make(chan struct{}),
		dispatchDone: make(chan struct{}),
	}
	go m.dispatchLoop()
	return m
}

// Register adds a listener, opening the socket if needed. The listener
// first receives the current status and presence snapshot.
func (m *Manager) Register(l Listener) *Registration {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	reg := &Registration{id: m.nextID, listener: l}
	if m.closed {
		return reg
	}
	m.listeners[reg.id] = reg

	m.events.push(event{
		kind:   eventReplay,
		status: m.status,
		users:  copyUsers(m.presence),
		target: reg,
	})

	m.connectLocked()
	return reg
}

// Unregister removes a listener. Removing the last one closes the socket
// and clears all shared state.
func (m *Manager) Unregister(reg *Registration) {
	if reg == nil {
		return
	}

	m.mu.Lock()
	if _, ok := m.listeners[reg.id]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.listeners, reg.id)
	if len(m.listeners) > 0 {
		m.mu.Unlock()
		return
	}
	conn, hooks := m.teardownLocked()
	m.mu.Unlock()

	closeConn(conn, m.cfg.WriteWait)
	for _, fn := range hooks {
		fn()
	}
}

// Connect opens the socket unless it is already open or opening, or no
// listener is registered.
func (m *Manager) Connect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectLocked()
}

// Send writes v as JSON when connected. It is a no-op returning false in
// any other state.
func (m *Manager) Send(v interface{}) bool {
	m.mu.Lock()
	if m.status != StatusConnected || m.conn == nil {
		m.mu.Unlock()
		return false
	}
	conn := m.conn
	m.mu.Unlock()

	if err := m.write(conn, v); err != nil {
		l := log.L()
		l.Warn().Err(err).Msg("relay send failed")
		return false
	}
	return true
}

// SignOut announces an explicit logout on the open socket.
func (m *Manager) SignOut() bool {
	return m.Send(protocol.NewUserOffline(m.cfg.Identity.UserID))
}

// Identity returns the identity announced by this manager.
func (m *Manager) Identity() Identity {
	return m.cfg.Identity
}

// Status returns the current connection state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// OnlineUsers returns the last presence snapshot received.
func (m *Manager) OnlineUsers() []protocol.OnlineUser {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyUsers(m.presence)
}

// ListenerCount returns the number of registered listeners.
func (m *Manager) ListenerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners)
}

// OnReset registers fn to run whenever the last listener leaves and the
// shared state is cleared. The returned func removes the hook.
func (m *Manager) OnReset(fn func()) (remove func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	m.resetHooks[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.resetHooks, id)
	}
}

// Close drops every listener, closes the socket and stops dispatching.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.listeners = make(map[uint64]*Registration)
	conn, hooks := m.teardownLocked()
	m.mu.Unlock()

	closeConn(conn, m.cfg.WriteWait)
	for _, fn := range hooks {
		fn()
	}
	close(m.quit)
	<-m.dispatchDone
}

func (m *Manager) connectLocked() {
	if m.closed || len(m.listeners) == 0 {
		return
	}
	if m.status == StatusConnecting || m.status == StatusConnected {
		return
	}
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}

	m.generation++
	m.setStatusLocked(StatusConnecting)
	go m.dial(m.generation)
}

func (m *Manager) dial(gen uint64) {
	l := log.L()

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.DialTimeout)
	conn, _, err := m.dialer.DialContext(ctx, m.cfg.URL, nil)
	cancel()

	m.mu.Lock()
	if gen != m.generation || len(m.listeners) == 0 {
		// Torn down while dialing.
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		m.setStatusLocked(StatusError)
		m.scheduleReconnectLocked()
		m.mu.Unlock()
		l.Warn().Err(err).Str("url", m.cfg.URL).Msg("relay dial failed")
		return
	}

	m.conn = conn
	m.handshakeSent = false
	m.mu.Unlock()

	// The handshake goes out before the state flips to connected so no
	// Send can overtake it.
	m.prepareRead(conn)
	m.sendHandshake(gen, conn)

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.setStatusLocked(StatusConnected)
	m.mu.Unlock()

	l.Info().Str("url", m.cfg.URL).Msg("relay connected")

	go m.readLoop(gen, conn)
	if m.cfg.HeartbeatInterval > 0 {
		go m.heartbeat(gen, conn)
	}
}

// sendHandshake writes user_info once per opened socket.
func (m *Manager) sendHandshake(gen uint64, conn *websocket.Conn) {
	m.mu.Lock()
	if gen != m.generation || m.handshakeSent {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	id := m.cfg.Identity
	if err := m.write(conn, protocol.NewUserInfo(id.UserID, id.Role, id.Name)); err != nil {
		l := log.L()
		l.Warn().Err(err).Msg("handshake send failed")
		return
	}

	m.mu.Lock()
	if gen == m.generation {
		m.handshakeSent = true
	}
	m.mu.Unlock()
}

func (m *Manager) prepareRead(conn *websocket.Conn) {
	if m.cfg.ReadTimeout <= 0 {
		return
	}
	conn.SetReadDeadline(time.Now().Add(m.cfg.ReadTimeout))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(m.cfg.ReadTimeout))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(m.cfg.WriteWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})
}

func (m *Manager) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleClose(gen, err)
			return
		}
		if m.cfg.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(m.cfg.ReadTimeout))
		}
		m.handleFrame(gen, data)
	}
}

// handleFrame decodes one frame read by the reader of generation gen.
func (m *Manager) handleFrame(gen uint64, data []byte) {
	l := log.L()

	msgType, err := protocol.Peek(data)
	if err != nil {
		l.Warn().Err(err).Msg("dropping malformed frame")
		return
	}

	switch msgType {
	case protocol.TypeOnlineUsers:
		var snapshot protocol.OnlineUsers
		if err := json.Unmarshal(data, &snapshot); err != nil {
			l.Warn().Err(err).Msg("dropping malformed online_users")
			return
		}
		m.mu.Lock()
		if gen == m.generation {
			m.presence = snapshot.Users
			m.events.push(event{kind: eventPresence, users: copyUsers(snapshot.Users)})
		}
		m.mu.Unlock()

	case protocol.TypeChat:
		msg, err := protocol.DecodeChat(data)
		if err != nil {
			l.Warn().Err(err).Msg("dropping malformed chat")
			return
		}
		m.pushCurrent(gen, event{kind: eventMessage, message: msg})

	case protocol.TypeSystem:
		var sys protocol.System
		if err := json.Unmarshal(data, &sys); err != nil {
			l.Warn().Err(err).Msg("dropping malformed system message")
			return
		}
		m.pushCurrent(gen, event{kind: eventSystem, system: sys})

	case protocol.TypePong:
		// heartbeat reply

	default:
		l.Debug().Str("type", msgType).Msg("ignoring unknown frame type")
	}
}

// pushCurrent queues ev unless the socket of generation gen was torn down.
func (m *Manager) pushCurrent(gen uint64, ev event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation {
		return
	}
	m.events.push(ev)
}

func (m *Manager) handleClose(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.generation {
		return
	}

	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.handshakeSent = false

	status := StatusError
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		status = StatusDisconnected
	}
	m.setStatusLocked(status)

	l := log.L()
	l.Info().Err(err).Int("listeners", len(m.listeners)).Msg("relay connection closed")

	if len(m.listeners) > 0 {
		m.scheduleReconnectLocked()
	}
}

// scheduleReconnectLocked arms a single reconnect attempt.
func (m *Manager) scheduleReconnectLocked() {
	if m.reconnectTimer != nil || m.closed {
		return
	}
	m.reconnectTimer = time.AfterFunc(m.cfg.ReconnectDelay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.reconnectTimer = nil
		m.connectLocked()
	})
}

// teardownLocked clears all shared state and returns what must be closed
// and run once the lock is released.
func (m *Manager) teardownLocked() (*websocket.Conn, []func()) {
	m.generation++
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}

	conn := m.conn
	m.conn = nil
	m.handshakeSent = false
	m.presence = nil
	m.setStatusLocked(StatusDisconnected)

	hooks := make([]func(), 0, len(m.resetHooks))
	for _, fn := range m.resetHooks {
		hooks = append(hooks, fn)
	}
	return conn, hooks
}

func (m *Manager) heartbeat(gen uint64, conn *websocket.Conn) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.quit:
			return
		case <-ticker.C:
			m.mu.Lock()
			current := gen == m.generation && m.conn == conn
			m.mu.Unlock()
			if !current {
				return
			}
			if err := m.write(conn, protocol.Envelope{Type: protocol.TypePing}); err != nil {
				return
			}
		}
	}
}

func (m *Manager) write(conn *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (m *Manager) setStatusLocked(s Status) {
	if m.status == s {
		return
	}
	m.status = s
	m.events.push(event{kind: eventStatus, status: s})
}

func (m *Manager) dispatchLoop() {
	defer close(m.dispatchDone)

	for {
		select {
		case <-m.events.signal:
			for _, ev := range m.events.drain() {
				m.deliver(ev)
			}
		case <-m.quit:
			return
		}
	}
}

func (m *Manager) deliver(ev event) {
	for _, reg := range m.recipients(ev.target) {
		l := reg.listener
		switch ev.kind {
		case eventStatus:
			if l.OnStatusChange != nil {
				l.OnStatusChange(ev.status)
			}
		case eventPresence:
			if l.OnPresenceUpdate != nil {
				l.OnPresenceUpdate(copyUsers(ev.users))
			}
		case eventMessage:
			if l.OnMessage != nil {
				l.OnMessage(ev.message)
			}
		case eventSystem:
			if l.OnSystem != nil {
				l.OnSystem(ev.system)
			}
		case eventReplay:
			if l.OnStatusChange != nil {
				l.OnStatusChange(ev.status)
			}
			if l.OnPresenceUpdate != nil && ev.users != nil {
				l.OnPresenceUpdate(copyUsers(ev.users))
			}
		}
	}
}

// recipients returns the listeners an event goes to, in registration order.
func (m *Manager) recipients(target *Registration) []*Registration {
	m.mu.Lock()
	defer m.mu.Unlock()

	if target != nil {
		if _, ok := m.listeners[target.id]; ok {
			return []*Registration{target}
		}
		return nil
	}

	regs := make([]*Registration, 0, len(m.listeners))
	for _, reg := range m.listeners {
		regs = append(regs, reg)
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].id < regs[j].id })
	return regs
}

func closeConn(conn *websocket.Conn, wait time.Duration) {
	if conn == nil {
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wait))
	conn.Close()
}

func copyUsers(users []protocol.OnlineUser) []protocol.OnlineUser {
	if users == nil {
		return nil
	}
	out := make([]protocol.OnlineUser, len(users))
	copy(out, users)
	return out
}
