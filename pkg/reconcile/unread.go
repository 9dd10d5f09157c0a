package reconcile

import "sync"

// UnreadCounter maps owner -> partner -> unread count.
type UnreadCounter struct {
	mu     sync.RWMutex
	counts map[string]map[string]int
}

func NewUnreadCounter() *UnreadCounter {
	return &UnreadCounter{counts: make(map[string]map[string]int)}
}

// Increment adds one unread message from partner and returns the new count.
func (u *UnreadCounter) Increment(owner, partner string) int {
	u.mu.Lock()
	defer u.mu.Unlock()

	byPartner, ok := u.counts[owner]
	if !ok {
		byPartner = make(map[string]int)
		u.counts[owner] = byPartner
	}
	byPartner[partner]++
	return byPartner[partner]
}

// Reset sets the count for partner to zero.
func (u *UnreadCounter) Reset(owner, partner string) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if byPartner, ok := u.counts[owner]; ok {
		delete(byPartner, partner)
	}
}

func (u *UnreadCounter) Get(owner, partner string) int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.counts[owner][partner]
}

// All returns a copy of the non-zero counts of owner.
func (u *UnreadCounter) All(owner string) map[string]int {
	u.mu.RLock()
	defer u.mu.RUnlock()

	out := make(map[string]int, len(u.counts[owner]))
	for partner, n := range u.counts[owner] {
		out[partner] = n
	}
	return out
}

// Clear drops every count of owner.
func (u *UnreadCounter) Clear(owner string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.counts, owner)
}
