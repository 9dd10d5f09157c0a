package cache

import (
	"context"
	"errors"
	"time"

	"github.com/weiawesome/wes-edu-relay/history-service/internal/domain"
)

var ErrCacheMiss = errors.New("cache miss")

// HistoryCache holds conversation reads keyed by (owner, partner).
type HistoryCache interface {
	Get(ctx context.Context, ownerID, partnerID string) ([]domain.Message, error)
	Set(ctx context.Context, ownerID, partnerID string, msgs []domain.Message, ttl time.Duration) error
	Invalidate(ctx context.Context, pairs ...[2]string) error
	Close() error
}
