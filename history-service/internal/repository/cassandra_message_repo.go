package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/weiawesome/wes-edu-relay/history-service/internal/config"
	"github.com/weiawesome/wes-edu-relay/history-service/internal/domain"
	"github.com/weiawesome/wes-edu-relay/pkg/protocol"
)

const cassandraSchema = `
CREATE TABLE IF NOT EXISTS messages_by_conversation (
	owner_id   text,
	partner_id text,
	sent_at    bigint,
	message_id text,
	sender     text,
	sender_id  text,
	teacher_id text,
	parent_id  text,
	text       text,
	is_read    boolean,
	PRIMARY KEY ((owner_id, partner_id), sent_at, message_id)
) WITH CLUSTERING ORDER BY (sent_at DESC, message_id DESC)`

// CassandraMessageRepository partitions messages by (owner, partner).
// Re-appending an id rewrites the same rows, so Append never returns
// ErrDuplicate here.
type CassandraMessageRepository struct {
	session *gocql.Session
}

func NewCassandraMessageRepository(cfg config.CassandraConfig) (*CassandraMessageRepository, error) {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = parseConsistency(cfg.Consistency)
	cluster.ConnectTimeout = cfg.ConnectTimeout
	cluster.Timeout = cfg.Timeout
	if cfg.NumConns > 0 {
		cluster.NumConns = cfg.NumConns
	}
	if cfg.Username != "" && cfg.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create cassandra session: %w", err)
	}

	r := &CassandraMessageRepository{session: session}
	if cfg.CreateSchema {
		if err := session.Query(cassandraSchema).Exec(); err != nil {
			session.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return r, nil
}

// Append writes both copies in one logged batch. The recipient copy leaves
// is_read untouched so a retried append does not unread it.
func (r *CassandraMessageRepository) Append(ctx context.Context, msg protocol.ChatMessage) error {
	batch := r.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)

	for _, c := range domain.Copies(msg) {
		if c.Read {
			batch.Query(`INSERT INTO messages_by_conversation
				(owner_id, partner_id, sent_at, message_id, sender, sender_id, teacher_id, parent_id, text, is_read)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, true)`,
				c.OwnerID, c.PartnerID, c.Timestamp, c.MessageID, c.Sender, c.SenderID(), c.TeacherID, c.ParentID, c.Text)
			continue
		}
		batch.Query(`INSERT INTO messages_by_conversation
			(owner_id, partner_id, sent_at, message_id, sender, sender_id, teacher_id, parent_id, text)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.OwnerID, c.PartnerID, c.Timestamp, c.MessageID, c.Sender, c.SenderID(), c.TeacherID, c.ParentID, c.Text)
	}

	if err := r.session.ExecuteBatch(batch); err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

func (r *CassandraMessageRepository) List(ctx context.Context, ownerID, partnerID string, limit int) ([]domain.Message, error) {
	query := `SELECT sent_at, message_id, sender, teacher_id, parent_id, text, is_read
			  FROM messages_by_conversation
			  WHERE owner_id = ? AND partner_id = ?`
	args := []interface{}{ownerID, partnerID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	iter := r.session.Query(query, args...).WithContext(ctx).Iter()

	var newestFirst []domain.Message
	var (
		sentAt                                       int64
		messageID, sender, teacherID, parentID, text string
		read                                         bool
	)
	for iter.Scan(&sentAt, &messageID, &sender, &teacherID, &parentID, &text, &read) {
		newestFirst = append(newestFirst, domain.Message{
			ChatMessage: protocol.ChatMessage{
				Type:      protocol.TypeChat,
				MessageID: messageID,
				Text:      text,
				Sender:    sender,
				TeacherID: teacherID,
				ParentID:  parentID,
				Timestamp: sentAt,
			},
			OwnerID:   ownerID,
			PartnerID: partnerID,
			Read:      read,
		})
		read = false
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	out := make([]domain.Message, len(newestFirst))
	for i, m := range newestFirst {
		out[len(newestFirst)-1-i] = m
	}
	return out, nil
}

// MarkRead scans the partition for unread rows from partnerID and flips
// them in one unlogged single-partition batch.
func (r *CassandraMessageRepository) MarkRead(ctx context.Context, ownerID, partnerID string) (int64, error) {
	iter := r.session.Query(`SELECT sent_at, message_id, sender_id, is_read
		FROM messages_by_conversation
		WHERE owner_id = ? AND partner_id = ?`, ownerID, partnerID).WithContext(ctx).Iter()

	batch := r.session.NewBatch(gocql.UnloggedBatch).WithContext(ctx)
	var (
		sentAt              int64
		messageID, senderID string
		read                bool
		updated             int64
	)
	for iter.Scan(&sentAt, &messageID, &senderID, &read) {
		if !read && senderID == partnerID {
			batch.Query(`UPDATE messages_by_conversation SET is_read = true
				WHERE owner_id = ? AND partner_id = ? AND sent_at = ? AND message_id = ?`,
				ownerID, partnerID, sentAt, messageID)
			updated++
		}
		read = false
	}
	if err := iter.Close(); err != nil {
		return 0, fmt.Errorf("failed to scan unread messages: %w", err)
	}
	if updated == 0 {
		return 0, nil
	}

	if err := r.session.ExecuteBatch(batch); err != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", err)
	}
	return updated, nil
}

func (r *CassandraMessageRepository) Close() error {
	r.session.Close()
	return nil
}

func parseConsistency(s string) gocql.Consistency {
	switch strings.ToUpper(s) {
	case "ONE":
		return gocql.One
	case "QUORUM":
		return gocql.Quorum
	case "ALL":
		return gocql.All
	case "LOCAL_ONE":
		return gocql.LocalOne
	case "EACH_QUORUM":
		return gocql.EachQuorum
	default:
		return gocql.LocalQuorum
	}
}
