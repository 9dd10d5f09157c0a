// Package reconcile merges durable conversation history with the live relay
// stream and keeps per-conversation unread counts.
package reconcile

import (
	"time"

	"github.com/weiawesome/wes-edu-relay/pkg/protocol"
)

// DefaultDedupWindow is how far apart two otherwise matching messages may
// be sent and still count as one.
const DefaultDedupWindow = 2 * time.Second

// Deduper decides whether two chat records are the same logical message.
type Deduper struct {
	Window time.Duration
}

func NewDeduper(window time.Duration) Deduper {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return Deduper{Window: window}
}

// Same reports whether a and b are one message. Message ids decide when both
// records carry one; otherwise text and sender role must match and the send
// times must be less than Window apart.
func (d Deduper) Same(a, b protocol.ChatMessage) bool {
	if a.MessageID != "" && b.MessageID != "" {
		return a.MessageID == b.MessageID
	}
	if a.Text != b.Text || a.Sender != b.Sender {
		return false
	}
	delta := a.SentAt().Sub(b.SentAt())
	if delta < 0 {
		delta = -delta
	}
	return delta < d.Window
}

// identical reports an exact repeat of one delivery.
func identical(a, b protocol.ChatMessage) bool {
	if a.MessageID != "" || b.MessageID != "" {
		return a.MessageID == b.MessageID
	}
	return a == b
}
