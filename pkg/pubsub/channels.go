package pubsub

import "strings"

// Channels shared by relay instances.
const (
	// ChannelRelayChat carries chat payloads accepted by any instance.
	ChannelRelayChat = "relay:chat"
)

// Event types.
const (
	EventChatRelayed = "chat_relayed"
)

// channelToTopic maps a Redis-style channel onto a Kafka topic name.
//
//	"relay:chat" → "relay-chat"
func channelToTopic(channel string) string {
	return strings.ReplaceAll(channel, ":", "-")
}
