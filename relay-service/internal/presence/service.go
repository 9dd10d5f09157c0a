package presence

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/weiawesome/wes-edu-relay/pkg/log"
	"github.com/weiawesome/wes-edu-relay/pkg/protocol"
	"github.com/weiawesome/wes-edu-relay/relay-service/internal/audit"
)

var ErrMissingUserID = errors.New("user id is required")

// Config holds presence timing.
type Config struct {
	DebounceWindow  time.Duration // coalescing window for online_users broadcasts
	DuplicateWindow time.Duration // re-handshakes inside it do not broadcast
	SweepInterval   time.Duration
	StaleAfter      time.Duration
}

func DefaultConfig() Config {
	return Config{
		DebounceWindow:  100 * time.Millisecond,
		DuplicateWindow: 2 * time.Second,
		SweepInterval:   30 * time.Second,
		StaleAfter:      5 * time.Minute,
	}
}

// Broadcaster delivers a payload to every connected socket.
type Broadcaster interface {
	Broadcast(data []byte)
}

// Directory supplies display names for handshakes that carry none.
type Directory interface {
	Lookup(ctx context.Context, userID string) (name, role string, err error)
}

type entry struct {
	userID      string
	name        string
	role        string
	lastSeen    time.Time
	handshakeAt time.Time
}

// binding is the handshake a socket announced, with the resolved labels.
type binding struct {
	userID string
	name   string
	role   string
}

// Service is the server-side registry of online users. One mutex guards
// the registry, the socket bindings and the pending broadcast timer.
type Service struct {
	broadcaster Broadcaster
	directory   Directory
	config      Config
	now         func() time.Time

	mu       sync.Mutex
	users    map[string]*entry
	bindings map[string]binding // clientID -> handshake
	pending  *time.Timer
	stopped  bool

	broadcasts atomic.Int64

	cancel context.CancelFunc
	doneCh chan struct{}
}

type Option func(*Service)

// WithDirectory resolves names for handshakes without one.
func WithDirectory(d Directory) Option {
	return func(s *Service) { s.directory = d }
}

// WithClock replaces time.Now for staleness and duplicate checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(b Broadcaster, cfg Config, opts ...Option) *Service {
	s := &Service{
		broadcaster: b,
		config:      cfg,
		now:         time.Now,
		users:       make(map[string]*entry),
		bindings:    make(map[string]binding),
		doneCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the staleness sweep until ctx ends or Stop is called.
func (s *Service) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.sweepLoop(ctx)
}

// Stop ends the sweep and cancels a pending broadcast.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.doneCh
	}

	s.mu.Lock()
	s.stopped = true
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
	s.mu.Unlock()
}

// Handshake records info for the socket clientID. It reports whether a
// broadcast was scheduled; a repeat handshake by the same user inside the
// duplicate window refreshes the entry silently.
func (s *Service) Handshake(ctx context.Context, clientID string, info protocol.UserInfo) (bool, error) {
	if info.UserID == "" {
		return false, ErrMissingUserID
	}

	name, role := info.Name, info.Role
	if name == "" && s.directory != nil {
		if n, r, err := s.directory.Lookup(ctx, info.UserID); err == nil {
			name = n
			if role == "" {
				role = r
			}
		} else {
			l := log.Ctx(ctx)
			l.Debug().Err(err).Str(log.FieldUserID, info.UserID).Msg("directory lookup failed")
		}
	}
	if name == "" {
		name = info.UserID
	}

	s.mu.Lock()
	now := s.now()
	e, ok := s.users[info.UserID]
	duplicate := ok && now.Sub(e.handshakeAt) < s.config.DuplicateWindow
	if !ok {
		e = &entry{userID: info.UserID}
		s.users[info.UserID] = e
	}
	e.name = name
	e.role = role
	e.lastSeen = now
	e.handshakeAt = now
	s.bindings[clientID] = binding{userID: info.UserID, name: name, role: role}
	if !duplicate {
		s.scheduleLocked()
	}
	s.mu.Unlock()

	if duplicate {
		l := log.Ctx(ctx)
		l.Debug().Str(log.FieldUserID, info.UserID).Str(log.FieldClientID, clientID).Msg("duplicate handshake suppressed")
		return false, nil
	}
	audit.LogWithDetail(ctx, audit.ActionHandshake, info.UserID, role, "user online")
	return true, nil
}

// Touch refreshes the last-seen time of the user bound to clientID
// without broadcasting. A bound user that was evicted meanwhile (by a
// sibling socket's disconnect or the sweep) is restored and announced.
func (s *Service) Touch(clientID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, bound := s.bindings[clientID]
	if !bound {
		return false
	}
	now := s.now()
	if e, ok := s.users[b.userID]; ok {
		e.lastSeen = now
		return true
	}
	s.users[b.userID] = &entry{userID: b.userID, name: b.name, role: b.role, lastSeen: now, handshakeAt: now}
	s.scheduleLocked()
	return true
}

// Logout removes userID (or the user bound to clientID when userID is
// empty) from the registry.
func (s *Service) Logout(ctx context.Context, clientID, userID string) bool {
	s.mu.Lock()
	b, bound := s.bindings[clientID]
	if userID == "" {
		userID = b.userID
	}
	if bound && b.userID == userID {
		delete(s.bindings, clientID)
	}
	removed := s.removeLocked(userID)
	s.mu.Unlock()

	if removed {
		audit.Log(ctx, audit.ActionLogout, userID, "user logged out")
	}
	return removed
}

// Disconnect evicts the user that handshook on clientID. Sockets that
// never sent a handshake leave the registry untouched.
func (s *Service) Disconnect(ctx context.Context, clientID string) bool {
	s.mu.Lock()
	b, bound := s.bindings[clientID]
	userID := b.userID
	delete(s.bindings, clientID)
	removed := bound && s.removeLocked(userID)
	s.mu.Unlock()

	if removed {
		audit.LogWithDetail(ctx, audit.ActionDisconnect, userID, clientID, "user offline")
	}
	return removed
}

// Snapshot returns the current registry as an online_users payload.
func (s *Service) Snapshot() protocol.OnlineUsers {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Broadcasts returns how many online_users broadcasts were sent.
func (s *Service) Broadcasts() int64 {
	return s.broadcasts.Load()
}

func (s *Service) removeLocked(userID string) bool {
	if userID == "" {
		return false
	}
	if _, ok := s.users[userID]; !ok {
		return false
	}
	delete(s.users, userID)
	s.scheduleLocked()
	return true
}

// scheduleLocked arms the debounce timer unless one is already pending.
func (s *Service) scheduleLocked() {
	if s.pending != nil || s.stopped {
		return
	}
	s.pending = time.AfterFunc(s.config.DebounceWindow, s.flush)
}

func (s *Service) flush() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.pending = nil
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	data, err := json.Marshal(snapshot)
	if err != nil {
		l := log.L()
		l.Error().Err(err).Msg("failed to marshal online users")
		return
	}
	s.broadcaster.Broadcast(data)
	s.broadcasts.Add(1)
}

func (s *Service) snapshotLocked() protocol.OnlineUsers {
	users := make([]protocol.OnlineUser, 0, len(s.users))
	for _, e := range s.users {
		users = append(users, protocol.OnlineUser{
			UserID:   e.userID,
			Name:     e.name,
			Role:     e.role,
			LastSeen: protocol.Millis(e.lastSeen),
		})
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Name != users[j].Name {
			return users[i].Name < users[j].Name
		}
		return users[i].UserID < users[j].UserID
	})
	return protocol.OnlineUsers{
		Type:      protocol.TypeOnlineUsers,
		Users:     users,
		Timestamp: protocol.Millis(s.now()),
	}
}

func (s *Service) sweepLoop(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep evicts users idle longer than StaleAfter and schedules at most
// one broadcast for the whole batch.
func (s *Service) sweep(ctx context.Context) int {
	s.mu.Lock()
	now := s.now()
	var evicted []string
	for id, e := range s.users {
		if now.Sub(e.lastSeen) > s.config.StaleAfter {
			delete(s.users, id)
			evicted = append(evicted, id)
		}
	}
	if len(evicted) > 0 {
		s.scheduleLocked()
	}
	s.mu.Unlock()

	for _, id := range evicted {
		audit.Log(ctx, audit.ActionEvict, id, "stale user evicted")
	}
	return len(evicted)
}
