package service

import (
	"context"

	"github.com/weiawesome/wes-edu-relay/history-service/internal/domain"
	"github.com/weiawesome/wes-edu-relay/pkg/protocol"
)

type HistoryService interface {
	// Append stores req under both participants. created is false when the
	// message id was already stored and nothing changed.
	Append(ctx context.Context, req domain.AppendRequest) (msg protocol.ChatMessage, created bool, err error)
	// History returns the owner's conversation with partnerID, oldest first.
	History(ctx context.Context, ownerID, partnerID string) ([]domain.Message, error)
	MarkRead(ctx context.Context, ownerID, partnerID string) (int64, error)
}
