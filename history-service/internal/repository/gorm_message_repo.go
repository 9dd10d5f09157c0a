package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/weiawesome/wes-edu-relay/history-service/internal/domain"
	"github.com/weiawesome/wes-edu-relay/pkg/database"
	"github.com/weiawesome/wes-edu-relay/pkg/protocol"
	"gorm.io/gorm"
)

// MessageModel is one row per stored copy.
type MessageModel struct {
	OwnerID   string `gorm:"primaryKey;size:128;index:idx_conversation,priority:1"`
	MessageID string `gorm:"primaryKey;size:64"`
	PartnerID string `gorm:"size:128;not null;index:idx_conversation,priority:2"`
	SentAt    int64  `gorm:"not null;index:idx_conversation,priority:3"`
	Sender    string `gorm:"size:16;not null"`
	SenderID  string `gorm:"size:128;not null"`
	TeacherID string `gorm:"size:128;not null"`
	ParentID  string `gorm:"size:128;not null"`
	Text      string `gorm:"type:text;not null"`
	Read      bool   `gorm:"column:is_read;not null;default:false"`
	CreatedAt time.Time
}

func (MessageModel) TableName() string {
	return "messages"
}

func (m *MessageModel) toDomain() domain.Message {
	return domain.Message{
		ChatMessage: protocol.ChatMessage{
			Type:      protocol.TypeChat,
			MessageID: m.MessageID,
			Text:      m.Text,
			Sender:    m.Sender,
			TeacherID: m.TeacherID,
			ParentID:  m.ParentID,
			Timestamp: m.SentAt,
		},
		OwnerID:   m.OwnerID,
		PartnerID: m.PartnerID,
		Read:      m.Read,
	}
}

func fromDomain(m domain.Message) MessageModel {
	return MessageModel{
		OwnerID:   m.OwnerID,
		MessageID: m.MessageID,
		PartnerID: m.PartnerID,
		SentAt:    m.Timestamp,
		Sender:    m.Sender,
		SenderID:  m.SenderID(),
		TeacherID: m.TeacherID,
		ParentID:  m.ParentID,
		Text:      m.Text,
		Read:      m.Read,
	}
}

type GormMessageRepository struct {
	db *gorm.DB
}

func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	return &GormMessageRepository{db: db}
}

func (r *GormMessageRepository) Migrate() error {
	return r.db.AutoMigrate(&MessageModel{})
}

// Append inserts both copies in one transaction.
func (r *GormMessageRepository) Append(ctx context.Context, msg protocol.ChatMessage) error {
	copies := domain.Copies(msg)
	rows := []MessageModel{fromDomain(copies[0]), fromDomain(copies[1])}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&MessageModel{}).
			Where("owner_id = ? AND message_id = ?", msg.TeacherID, msg.MessageID).
			Count(&existing).Error; err != nil {
			return fmt.Errorf("failed to check message: %w", err)
		}
		if existing > 0 {
			return ErrDuplicate
		}
		if err := tx.Create(&rows).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicate
			}
			return fmt.Errorf("failed to insert message: %w", err)
		}
		return nil
	})
}

func (r *GormMessageRepository) List(ctx context.Context, ownerID, partnerID string, limit int) ([]domain.Message, error) {
	q := r.db.WithContext(ctx).
		Where("owner_id = ? AND partner_id = ?", ownerID, partnerID).
		Order("sent_at DESC").Order("message_id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []MessageModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	out := make([]domain.Message, len(rows))
	for i := range rows {
		out[len(rows)-1-i] = rows[i].toDomain()
	}
	return out, nil
}

func (r *GormMessageRepository) MarkRead(ctx context.Context, ownerID, partnerID string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&MessageModel{}).
		Where("owner_id = ? AND partner_id = ? AND sender_id = ? AND is_read = ?", ownerID, partnerID, partnerID, false).
		Update("is_read", true)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *GormMessageRepository) Close() error {
	return database.Close(r.db)
}
