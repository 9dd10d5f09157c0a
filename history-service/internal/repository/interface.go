package repository

import (
	"context"
	"errors"

	"github.com/weiawesome/wes-edu-relay/history-service/internal/domain"
	"github.com/weiawesome/wes-edu-relay/pkg/protocol"
)

// Drivers accepted by config.
const (
	DriverMemory    = "memory"
	DriverSQL       = "sql"
	DriverCassandra = "cassandra"
)

var ErrDuplicate = errors.New("message already stored")

// MessageRepository stores every message twice, once per participant.
type MessageRepository interface {
	// Append writes both copies of msg, which must carry its id. Writing
	// an id that is already stored never adds a third copy; drivers either
	// return ErrDuplicate or rewrite the same rows.
	Append(ctx context.Context, msg protocol.ChatMessage) error
	// List returns the owner's copies of the conversation with partnerID
	// ordered by send time then id, at most limit entries counted from the
	// newest.
	List(ctx context.Context, ownerID, partnerID string, limit int) ([]domain.Message, error)
	// MarkRead flags the owner's unread copies written by partnerID and
	// returns how many changed.
	MarkRead(ctx context.Context, ownerID, partnerID string) (int64, error)
	Close() error
}
