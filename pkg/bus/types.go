package bus

import "github.com/foolllll-j/cloudimg/pkg/message"

type InboundMessage struct {
	Channel  string
	SenderID string
	ChatID   string
	Content  string
	// Event is the parsed chat event the message came from. It is nil for
	// messages that did not originate from a chat host.
	Event    *message.Event
	Metadata map[string]string
}

// MediaItem is an image or video attached to an outbound message.
type MediaItem struct {
	Type string // "image" or "video"
	URL  string
}

type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
	Media   []MediaItem
	// ReplyTo quotes the message with this id when the channel supports it.
	ReplyTo string
}
