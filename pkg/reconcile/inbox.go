package reconcile

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/weiawesome/wes-edu-relay/pkg/chatclient"
	"github.com/weiawesome/wes-edu-relay/pkg/log"
	"github.com/weiawesome/wes-edu-relay/pkg/protocol"
)

var ErrNotConnected = errors.New("relay not connected")

// HistoryStore is the durable message log. Append writes the message under
// both participants and returns it with its assigned id.
type HistoryStore interface {
	Append(ctx context.Context, msg protocol.ChatMessage) (protocol.ChatMessage, error)
	History(ctx context.Context, ownerID, partnerID string) ([]protocol.ChatMessage, error)
	MarkRead(ctx context.Context, ownerID, partnerID string) error
}

// Conn is the part of the connection manager an Inbox sends through.
type Conn interface {
	Send(v interface{}) bool
	Status() chatclient.Status
}

type conversation struct {
	durable []protocol.ChatMessage
	live    []protocol.ChatMessage
}

// Inbox holds the conversations of one user.
type Inbox struct {
	owner  chatclient.Identity
	store  HistoryStore
	dedup  Deduper
	unread *UnreadCounter
	now    func() time.Time

	readTimeout time.Duration
	onMessage   func(partnerID string, msg protocol.ChatMessage)

	mu      sync.Mutex
	convs   map[string]*conversation
	focused string
	conn    Conn

	writes sync.WaitGroup
}

type Option func(*Inbox)

// WithDedupWindow overrides DefaultDedupWindow.
func WithDedupWindow(d time.Duration) Option {
	return func(i *Inbox) { i.dedup = NewDeduper(d) }
}

// WithUnreadCounter shares a counter between inboxes.
func WithUnreadCounter(u *UnreadCounter) Option {
	return func(i *Inbox) { i.unread = u }
}

// WithOnMessage sets a callback run for every live message accepted into
// a conversation. It runs on the manager's dispatcher and must not block.
func WithOnMessage(fn func(partnerID string, msg protocol.ChatMessage)) Option {
	return func(i *Inbox) { i.onMessage = fn }
}

// WithConn sends through c instead of an attached manager.
func WithConn(c Conn) Option {
	return func(i *Inbox) { i.conn = c }
}

func WithClock(now func() time.Time) Option {
	return func(i *Inbox) { i.now = now }
}

func NewInbox(owner chatclient.Identity, store HistoryStore, opts ...Option) *Inbox {
	i := &Inbox{
		owner:       owner,
		store:       store,
		dedup:       NewDeduper(DefaultDedupWindow),
		unread:      NewUnreadCounter(),
		now:         time.Now,
		readTimeout: 10 * time.Second,
		convs:       make(map[string]*conversation),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Attach registers the inbox on m and clears it whenever m tears down its
// shared state. The returned func detaches it again.
func (i *Inbox) Attach(m *chatclient.Manager) (detach func()) {
	i.mu.Lock()
	i.conn = m
	i.mu.Unlock()

	reg := m.Register(chatclient.Listener{
		OnMessage: func(msg protocol.ChatMessage) { i.HandleLive(msg) },
	})
	remove := m.OnReset(i.Reset)

	return func() {
		m.Unregister(reg)
		remove()
		i.mu.Lock()
		if i.conn == Conn(m) {
			i.conn = nil
		}
		i.mu.Unlock()
	}
}

// Open focuses the conversation with partnerID, clears its unread count and
// reads its history once. Live messages that arrived before or during the
// read are kept unless the history already holds them.
func (i *Inbox) Open(ctx context.Context, partnerID string) ([]protocol.ChatMessage, error) {
	i.mu.Lock()
	i.focused = partnerID
	i.conversationLocked(partnerID)
	i.mu.Unlock()
	i.unread.Reset(i.owner.UserID, partnerID)

	history, err := i.store.History(ctx, i.owner.UserID, partnerID)
	if err != nil {
		return nil, err
	}

	i.mu.Lock()
	conv := i.conversationLocked(partnerID)
	conv.durable = history
	kept := conv.live[:0]
	for _, msg := range conv.live {
		if !i.inDurable(conv, msg) {
			kept = append(kept, msg)
		}
	}
	conv.live = kept
	msgs := merged(conv)
	i.mu.Unlock()

	l := log.Ctx(ctx)
	l.Debug().Str(log.FieldPartnerID, partnerID).Int("history", len(history)).Int("messages", len(msgs)).Msg("conversation opened")

	return msgs, nil
}

// Focus makes partnerID the foreground conversation without reading
// history.
func (i *Inbox) Focus(partnerID string) {
	i.mu.Lock()
	i.focused = partnerID
	i.mu.Unlock()
	i.unread.Reset(i.owner.UserID, partnerID)
}

// Leave clears the foreground conversation.
func (i *Inbox) Leave() {
	i.mu.Lock()
	i.focused = ""
	i.mu.Unlock()
}

// Focused returns the foreground partner, or "".
func (i *Inbox) Focused() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.focused
}

// HandleLive merges a relayed message. It returns false when the message
// is not addressed to the owner or is already shown.
func (i *Inbox) HandleLive(msg protocol.ChatMessage) bool {
	partnerID, ok := msg.Partner(i.owner.UserID, i.owner.Role)
	if !ok {
		return false
	}

	i.mu.Lock()
	conv := i.conversationLocked(partnerID)
	if i.inDurable(conv, msg) {
		i.mu.Unlock()
		return false
	}
	for _, seen := range conv.live {
		if identical(seen, msg) {
			i.mu.Unlock()
			return false
		}
	}
	conv.live = append(conv.live, msg)
	if msg.Sender != i.owner.Role && i.focused != partnerID {
		i.unread.Increment(i.owner.UserID, partnerID)
	}
	i.mu.Unlock()

	if i.onMessage != nil {
		i.onMessage(partnerID, msg)
	}
	return true
}

// Messages returns the conversation with partnerID ordered by send time.
func (i *Inbox) Messages(partnerID string) []protocol.ChatMessage {
	i.mu.Lock()
	defer i.mu.Unlock()

	conv, ok := i.convs[partnerID]
	if !ok {
		return nil
	}
	return merged(conv)
}

// Unread returns the unread count of the conversation with partnerID.
func (i *Inbox) Unread(partnerID string) int {
	return i.unread.Get(i.owner.UserID, partnerID)
}

// UnreadAll returns every non-zero unread count keyed by partner.
func (i *Inbox) UnreadAll() map[string]int {
	return i.unread.All(i.owner.UserID)
}

// MarkRead zeroes the unread count now and flags the stored messages as
// read in the background.
func (i *Inbox) MarkRead(partnerID string) {
	i.unread.Reset(i.owner.UserID, partnerID)

	i.writes.Add(1)
	go func() {
		defer i.writes.Done()

		ctx, cancel := context.WithTimeout(context.Background(), i.readTimeout)
		defer cancel()
		if err := i.store.MarkRead(ctx, i.owner.UserID, partnerID); err != nil {
			l := log.L()
			l.Warn().Err(err).Str(log.FieldUserID, i.owner.UserID).Str(log.FieldPartnerID, partnerID).Msg("failed to mark messages read")
		}
	}()
}

// Send stores text in the history and relays it to partnerID. The relayed
// payload carries the id assigned by the store; if the store is down the
// message is still relayed without one.
func (i *Inbox) Send(ctx context.Context, partnerID, text string) (protocol.ChatMessage, error) {
	i.mu.Lock()
	conn := i.conn
	i.mu.Unlock()
	if conn == nil || conn.Status() != chatclient.StatusConnected {
		return protocol.ChatMessage{}, ErrNotConnected
	}

	teacherID, parentID := i.owner.UserID, partnerID
	if i.owner.Role == protocol.RoleParent {
		teacherID, parentID = partnerID, i.owner.UserID
	}
	msg := protocol.NewChat(i.owner.Role, teacherID, parentID, text, i.now())
	if err := msg.Validate(); err != nil {
		return protocol.ChatMessage{}, err
	}

	stored, err := i.store.Append(ctx, msg)
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldPartnerID, partnerID).Msg("history append failed, relaying without id")
		stored = msg
	}

	if !conn.Send(stored) {
		return stored, ErrNotConnected
	}
	return stored, nil
}

// Reset drops every conversation, the focus and the unread counts.
func (i *Inbox) Reset() {
	i.mu.Lock()
	i.convs = make(map[string]*conversation)
	i.focused = ""
	i.mu.Unlock()
	i.unread.Clear(i.owner.UserID)
}

// Wait blocks until background read-flag writes have finished.
func (i *Inbox) Wait() {
	i.writes.Wait()
}

func (i *Inbox) conversationLocked(partnerID string) *conversation {
	conv, ok := i.convs[partnerID]
	if !ok {
		conv = &conversation{}
		i.convs[partnerID] = conv
	}
	return conv
}

func (i *Inbox) inDurable(conv *conversation, msg protocol.ChatMessage) bool {
	for _, stored := range conv.durable {
		if i.dedup.Same(stored, msg) {
			return true
		}
	}
	return false
}

func merged(conv *conversation) []protocol.ChatMessage {
	out := make([]protocol.ChatMessage, 0, len(conv.durable)+len(conv.live))
	out = append(out, conv.durable...)
	out = append(out, conv.live...)
	sort.SliceStable(out, func(a, b int) bool { return out[a].Timestamp < out[b].Timestamp })
	return out
}
