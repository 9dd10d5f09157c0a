package directory

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrUserNotFound = errors.New("user not found")

// User is a directory entry used to label presence.
type User struct {
	ID          string    `json:"userId"`
	DisplayName string    `json:"name"`
	Role        string    `json:"role"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Directory stores display names and roles by user id.
type Directory interface {
	Get(ctx context.Context, userID string) (*User, error)
	Upsert(ctx context.Context, user *User) error
	Lookup(ctx context.Context, userID string) (name, role string, err error)
}

// MemoryDirectory keeps users in a map.
type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[string]User
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{users: make(map[string]User)}
}

func (d *MemoryDirectory) Get(ctx context.Context, userID string) (*User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (d *MemoryDirectory) Upsert(ctx context.Context, user *User) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	user.UpdatedAt = time.Now()
	d.users[user.ID] = *user
	return nil
}

func (d *MemoryDirectory) Lookup(ctx context.Context, userID string) (string, string, error) {
	return lookup(ctx, d, userID)
}

func lookup(ctx context.Context, d Directory, userID string) (string, string, error) {
	u, err := d.Get(ctx, userID)
	if err != nil {
		return "", "", err
	}
	return u.DisplayName, u.Role, nil
}
