package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/weiawesome/wes-edu-relay/history-service/internal/domain"
	"github.com/weiawesome/wes-edu-relay/pkg/protocol"
)

type conversationKey struct {
	owner, partner string
}

// MemoryMessageRepository keeps messages in process. Used for local runs
// and tests.
type MemoryMessageRepository struct {
	mu    sync.RWMutex
	convs map[conversationKey][]domain.Message
	ids   map[string]struct{}
}

func NewMemoryMessageRepository() *MemoryMessageRepository {
	return &MemoryMessageRepository{
		convs: make(map[conversationKey][]domain.Message),
		ids:   make(map[string]struct{}),
	}
}

func (r *MemoryMessageRepository) Append(_ context.Context, msg protocol.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.ids[msg.MessageID]; ok {
		return ErrDuplicate
	}
	r.ids[msg.MessageID] = struct{}{}

	for _, c := range domain.Copies(msg) {
		key := conversationKey{c.OwnerID, c.PartnerID}
		msgs := append(r.convs[key], c)
		sort.SliceStable(msgs, func(i, j int) bool { return less(msgs[i], msgs[j]) })
		r.convs[key] = msgs
	}
	return nil
}

func (r *MemoryMessageRepository) List(_ context.Context, ownerID, partnerID string, limit int) ([]domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	msgs := r.convs[conversationKey{ownerID, partnerID}]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (r *MemoryMessageRepository) MarkRead(_ context.Context, ownerID, partnerID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var updated int64
	msgs := r.convs[conversationKey{ownerID, partnerID}]
	for i := range msgs {
		if !msgs[i].Read && msgs[i].SenderID() == partnerID {
			msgs[i].Read = true
			updated++
		}
	}
	return updated, nil
}

func (r *MemoryMessageRepository) Close() error {
	return nil
}

func less(a, b domain.Message) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	return a.MessageID < b.MessageID
}
