// Package channels is the boundary between StickerBot and the chat networks
// it listens on. A network adapter turns platform events into
// IncomingMessage values and sends text or stickers back.
package channels

import (
	"context"
	"errors"
	"time"
)

// MessageType is what an incoming message carries, or what an outgoing media
// message should be delivered as.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageVideo    MessageType = "video"
	MessageSticker  MessageType = "sticker"
	MessageDocument MessageType = "document"
	MessageAudio    MessageType = "audio"
	MessageLocation MessageType = "location"
	MessageReaction MessageType = "reaction"
)

var (
	ErrChannelDisconnected = errors.New("channel is not connected")
	ErrSendFailed          = errors.New("failed to send message")
	ErrNoMedia             = errors.New("message has no media")
	ErrMediaNotSupported   = errors.New("media type not supported")
	ErrMediaDownloadFailed = errors.New("failed to download media")
)

// Channel is a connected chat network.
type Channel interface {
	Name() string
	Connect(ctx context.Context) error
	Disconnect() error

	// Send delivers a text reply to a chat.
	Send(ctx context.Context, to string, message *OutgoingMessage) error

	// Receive streams accepted inbound messages. The stream is closed when
	// the channel shuts down for good.
	Receive() <-chan *IncomingMessage

	IsConnected() bool
	Health() HealthStatus
}

// MediaChannel is a Channel that can fetch inbound attachments and send
// media such as stickers.
type MediaChannel interface {
	Channel

	SendMedia(ctx context.Context, to string, media *MediaMessage) error

	// DownloadMedia fetches and decrypts msg's attachment, returning the
	// bytes and the MIME type declared by the sender.
	DownloadMedia(ctx context.Context, msg *IncomingMessage) ([]byte, string, error)
}

// PresenceChannel is implemented by networks with chat-state indicators.
type PresenceChannel interface {
	Channel

	SendTyping(ctx context.Context, to string) error
	SendPresence(ctx context.Context, available bool) error
	MarkRead(ctx context.Context, chatID string, messageIDs []string) error
}

// IncomingMessage is one inbound chat message after the adapter has
// filtered and normalized it.
type IncomingMessage struct {
	ID      string
	Channel string

	// From identifies the sender; FromName is their display name when known.
	From     string
	FromName string

	// ChatID is where replies go. For direct messages it equals From.
	ChatID  string
	IsGroup bool

	Type MessageType
	// Content is the text body or the media caption. Trigger matching runs
	// against it.
	Content   string
	Timestamp time.Time

	// ReplyTo and QuotedContent describe the message this one quotes.
	ReplyTo       string
	QuotedContent string

	// Media is nil for messages without an attachment.
	Media *MediaInfo

	// Metadata holds adapter-specific values keyed by the adapter's
	// Meta* constants.
	Metadata map[string]any
}

// HasMedia reports whether the message carries a downloadable attachment.
func (m *IncomingMessage) HasMedia() bool {
	return m != nil && m.Media != nil
}

// OutgoingMessage is a text reply.
type OutgoingMessage struct {
	Content string

	// ReplyTo quotes a message by ID. ReplyToSender names its author, which
	// group chats need to render the quote.
	ReplyTo       string
	ReplyToSender string
}

// MediaMessage is an outbound attachment, usually a sticker.
type MediaMessage struct {
	Type     MessageType
	Data     []byte
	MimeType string
	Filename string
	Caption  string

	// Width, Height and Animated describe stickers and images to the client.
	Width    uint32
	Height   uint32
	Animated bool

	ReplyTo       string
	ReplyToSender string
}

// MediaInfo locates an inbound attachment. Everything needed to download it
// later is kept here, so the original platform event can be discarded.
type MediaInfo struct {
	Type     MessageType
	MimeType string
	Filename string
	Caption  string
	FileSize uint64

	Width    uint32
	Height   uint32
	Duration uint32 // seconds
	// Animated marks GIFs sent as looping video and animated stickers.
	Animated bool

	// URL, DirectPath and the key and hashes below address the encrypted
	// blob on WhatsApp's media servers.
	URL           string
	DirectPath    string
	MediaKey      []byte
	FileSHA256    []byte
	FileEncSHA256 []byte
}

// HealthStatus is a channel's health as reported on /health.
type HealthStatus struct {
	Connected     bool           `json:"connected"`
	LastMessageAt time.Time      `json:"last_message_at"`
	ErrorCount    int            `json:"error_count"`
	Details       map[string]any `json:"details,omitempty"`
}
