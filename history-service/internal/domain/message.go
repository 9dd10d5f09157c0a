package domain

import "github.com/weiawesome/wes-edu-relay/pkg/protocol"

// Message is one stored copy of a chat message, filed under OwnerID's
// conversation with PartnerID.
type Message struct {
	protocol.ChatMessage
	OwnerID   string `json:"ownerId"`
	PartnerID string `json:"partnerId"`
	Read      bool   `json:"read"`
}

// Copies returns the two namespaced copies of msg. The author's own copy
// starts read.
func Copies(msg protocol.ChatMessage) [2]Message {
	teacher := Message{
		ChatMessage: msg,
		OwnerID:     msg.TeacherID,
		PartnerID:   msg.ParentID,
		Read:        msg.Sender == protocol.RoleTeacher,
	}
	parent := Message{
		ChatMessage: msg,
		OwnerID:     msg.ParentID,
		PartnerID:   msg.TeacherID,
		Read:        msg.Sender == protocol.RoleParent,
	}
	return [2]Message{teacher, parent}
}

// AppendRequest is the body of POST /api/v1/messages.
type AppendRequest struct {
	MessageID string `json:"messageId"`
	Text      string `json:"text" validate:"notblank,max=4000"`
	Sender    string `json:"sender" validate:"required,oneof=teacher parent"`
	TeacherID string `json:"teacherId" validate:"required,max=128"`
	ParentID  string `json:"parentId" validate:"required,max=128,nefield=TeacherID"`
	Timestamp int64  `json:"timestamp" validate:"gte=0"`
}

// ChatMessage converts r to the wire payload.
func (r AppendRequest) ChatMessage() protocol.ChatMessage {
	return protocol.ChatMessage{
		Type:      protocol.TypeChat,
		MessageID: r.MessageID,
		Text:      r.Text,
		Sender:    r.Sender,
		TeacherID: r.TeacherID,
		ParentID:  r.ParentID,
		Timestamp: r.Timestamp,
	}
}

type HistoryResponse struct {
	Messages []Message `json:"messages"`
}

type MarkReadResponse struct {
	Updated int64 `json:"updated"`
}
