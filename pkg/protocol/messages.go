// Package protocol defines the JSON payloads exchanged over the relay
// socket. Every payload is an object tagged by "type"; timestamps are unix
// milliseconds.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Message types.
const (
	TypeUserInfo    = "user_info"
	TypeUserOffline = "user_offline"
	TypeOnlineUsers = "online_users"
	TypeChat        = "chat"
	TypeSystem      = "system"
	TypePing        = "ping"
	TypePong        = "pong"
)

// Participant roles of a conversation.
const (
	RoleTeacher = "teacher"
	RoleParent  = "parent"
)

var ErrInvalidMessage = errors.New("invalid message")

// Envelope is the part every payload shares.
type Envelope struct {
	Type string `json:"type"`
}

// UserInfo is the handshake a client sends once per opened socket.
type UserInfo struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
	Role   string `json:"role"`
	Name   string `json:"name"`
}

// UserOffline is an explicit logout.
type UserOffline struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// OnlineUser is one presence entry.
type OnlineUser struct {
	UserID   string `json:"userId"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	LastSeen int64  `json:"lastSeen"`
}

// OnlineUsers is the full presence snapshot.
type OnlineUsers struct {
	Type      string       `json:"type"`
	Users     []OnlineUser `json:"users"`
	Timestamp int64        `json:"timestamp"`
}

// ChatMessage is a chat payload between one teacher and one parent.
// Sender holds the role of the author. MessageID is set when the message
// was first written to the history store.
type ChatMessage struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId,omitempty"`
	Text      string `json:"text"`
	Sender    string `json:"sender"`
	TeacherID string `json:"teacherId"`
	ParentID  string `json:"parentId"`
	Timestamp int64  `json:"timestamp"`
}

// System is a server notice.
type System struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

func NewUserInfo(userID, role, name string) UserInfo {
	return UserInfo{Type: TypeUserInfo, UserID: userID, Role: role, Name: name}
}

func NewUserOffline(userID string) UserOffline {
	return UserOffline{Type: TypeUserOffline, UserID: userID}
}

func NewSystem(text string, at time.Time) System {
	return System{Type: TypeSystem, Text: text, Timestamp: Millis(at)}
}

// NewChat builds a chat payload authored by sender.
func NewChat(sender, teacherID, parentID, text string, at time.Time) ChatMessage {
	return ChatMessage{
		Type:      TypeChat,
		Text:      text,
		Sender:    sender,
		TeacherID: teacherID,
		ParentID:  parentID,
		Timestamp: Millis(at),
	}
}

// Peek returns the type of a payload. It fails when data is not a JSON
// object.
func Peek(data []byte) (string, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return env.Type, nil
}

// DecodeChat parses a chat payload.
func DecodeChat(data []byte) (ChatMessage, error) {
	var msg ChatMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ChatMessage{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if msg.Type != TypeChat {
		return ChatMessage{}, fmt.Errorf("%w: type %q", ErrInvalidMessage, msg.Type)
	}
	return msg, nil
}

// Validate checks the fields a stored chat record needs.
func (m ChatMessage) Validate() error {
	switch {
	case m.Text == "":
		return fmt.Errorf("%w: empty text", ErrInvalidMessage)
	case m.TeacherID == "" || m.ParentID == "":
		return fmt.Errorf("%w: missing participant", ErrInvalidMessage)
	case m.Sender != RoleTeacher && m.Sender != RoleParent:
		return fmt.Errorf("%w: sender role %q", ErrInvalidMessage, m.Sender)
	}
	return nil
}

// SentAt returns the send time.
func (m ChatMessage) SentAt() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// SenderID returns the user id of the author.
func (m ChatMessage) SenderID() string {
	if m.Sender == RoleTeacher {
		return m.TeacherID
	}
	return m.ParentID
}

// Partner returns the other participant of m as seen by the owner, and
// false when the owner is not a participant.
func (m ChatMessage) Partner(ownerID, ownerRole string) (string, bool) {
	switch ownerRole {
	case RoleTeacher:
		if m.TeacherID == ownerID {
			return m.ParentID, true
		}
	case RoleParent:
		if m.ParentID == ownerID {
			return m.TeacherID, true
		}
	}
	return "", false
}

// Millis converts t to unix milliseconds.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}
