package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/weiawesome/wes-edu-relay/history-service/internal/cache"
	"github.com/weiawesome/wes-edu-relay/history-service/internal/domain"
	"github.com/weiawesome/wes-edu-relay/history-service/internal/generator"
	"github.com/weiawesome/wes-edu-relay/history-service/internal/repository"
	"github.com/weiawesome/wes-edu-relay/pkg/log"
	"github.com/weiawesome/wes-edu-relay/pkg/protocol"
	"golang.org/x/sync/singleflight"
)

type historyServiceImpl struct {
	repo      repository.MessageRepository
	cache     cache.HistoryCache
	cacheTTL  time.Duration
	ids       generator.Generator
	limit     int
	validator *requestValidator
	now       func() time.Time
	sf        singleflight.Group
}

// NewHistoryService wires the service. historyCache may be nil.
func NewHistoryService(
	repo repository.MessageRepository,
	historyCache cache.HistoryCache,
	cacheTTL time.Duration,
	ids generator.Generator,
	limit int,
) HistoryService {
	return &historyServiceImpl{
		repo:      repo,
		cache:     historyCache,
		cacheTTL:  cacheTTL,
		ids:       ids,
		limit:     limit,
		validator: newRequestValidator(),
		now:       time.Now,
	}
}

func (s *historyServiceImpl) Append(ctx context.Context, req domain.AppendRequest) (protocol.ChatMessage, bool, error) {
	if err := s.validator.Struct(req); err != nil {
		return protocol.ChatMessage{}, false, err
	}

	msg := req.ChatMessage()
	if msg.Timestamp == 0 {
		msg.Timestamp = protocol.Millis(s.now())
	}

	if msg.MessageID == "" {
		id, err := s.ids.Next(msg.SentAt())
		if err != nil {
			return protocol.ChatMessage{}, false, fmt.Errorf("failed to assign message id: %w", err)
		}
		msg.MessageID = id
	} else if err := s.ids.Validate(msg.MessageID); err != nil {
		return protocol.ChatMessage{}, false, &ValidationError{Fields: map[string]string{"messageId": err.Error()}}
	}

	created := true
	if err := s.repo.Append(ctx, msg); err != nil {
		if !errors.Is(err, repository.ErrDuplicate) {
			return protocol.ChatMessage{}, false, fmt.Errorf("failed to append message: %w", err)
		}
		created = false
	}

	l := log.Ctx(ctx)
	l.Debug().
		Str("message_id", msg.MessageID).
		Str("teacher_id", msg.TeacherID).
		Str("parent_id", msg.ParentID).
		Bool("created", created).
		Msg("message appended")

	if created {
		s.invalidate(ctx, [2]string{msg.TeacherID, msg.ParentID}, [2]string{msg.ParentID, msg.TeacherID})
	}
	return msg, created, nil
}

func (s *historyServiceImpl) History(ctx context.Context, ownerID, partnerID string) ([]domain.Message, error) {
	key := ownerID + "\x00" + partnerID

	// Concurrent opens of one conversation share a single read.
	result, err, _ := s.sf.Do(key, func() (interface{}, error) {
		return s.fetchWithCache(ctx, ownerID, partnerID)
	})
	if err != nil {
		return nil, err
	}

	msgs, ok := result.([]domain.Message)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from singleflight")
	}
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *historyServiceImpl) fetchWithCache(ctx context.Context, ownerID, partnerID string) ([]domain.Message, error) {
	l := log.Ctx(ctx)

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, ownerID, partnerID)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			l.Warn().Err(err).Msg("cache get error")
		}
	}

	msgs, err := s.repo.List(ctx, ownerID, partnerID, s.limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages from repository: %w", err)
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}

	if s.cache != nil {
		cacheCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := s.cache.Set(cacheCtx, ownerID, partnerID, msgs, s.cacheTTL); err != nil {
			l.Warn().Err(err).Msg("cache set error")
		}
	}
	return msgs, nil
}

func (s *historyServiceImpl) MarkRead(ctx context.Context, ownerID, partnerID string) (int64, error) {
	updated, err := s.repo.MarkRead(ctx, ownerID, partnerID)
	if err != nil {
		return 0, err
	}
	if updated > 0 {
		s.invalidate(ctx, [2]string{ownerID, partnerID})
	}
	return updated, nil
}

func (s *historyServiceImpl) invalidate(ctx context.Context, pairs ...[2]string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, pairs...); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Msg("cache invalidate error")
	}
}
