package bot

import (
	"context"

	"github.com/jholhewres/stickerbot/pkg/stickerbot/channels"
	"github.com/jholhewres/stickerbot/pkg/stickerbot/channels/whatsapp"
	"github.com/jholhewres/stickerbot/pkg/stickerbot/sticker"
)

// conversation adapts one incoming channel message to sticker.Conversation.
// Replies go to the chat the message came from and quote it.
type conversation struct {
	channel channels.MediaChannel
	msg     *channels.IncomingMessage
}

var _ sticker.Conversation = (*conversation)(nil)

func newConversation(ch channels.MediaChannel, msg *channels.IncomingMessage) *conversation {
	return &conversation{channel: ch, msg: msg}
}

func (c *conversation) Body() string { return c.msg.Content }

func (c *conversation) HasMedia() bool { return c.msg.HasMedia() }

func (c *conversation) DownloadMedia(ctx context.Context) (*sticker.MediaPayload, error) {
	data, mimeType, err := c.channel.DownloadMedia(ctx, c.msg)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	return &sticker.MediaPayload{MimeType: mimeType, Data: data}, nil
}

func (c *conversation) ReplyText(ctx context.Context, text string) error {
	return c.channel.Send(ctx, c.chatID(), &channels.OutgoingMessage{
		Content:       text,
		ReplyTo:       c.msg.ID,
		ReplyToSender: c.sender(),
	})
}

func (c *conversation) ReplySticker(ctx context.Context, att *sticker.Attachment) error {
	return c.channel.SendMedia(ctx, c.chatID(), &channels.MediaMessage{
		Type:          channels.MessageSticker,
		Data:          att.Data,
		MimeType:      att.MimeType,
		Width:         uint32(att.Width),
		Height:        uint32(att.Height),
		Animated:      att.Animated,
		ReplyTo:       c.msg.ID,
		ReplyToSender: c.sender(),
	})
}

// typing shows the "composing" indicator when the channel supports it.
func (c *conversation) typing(ctx context.Context) {
	if pc, ok := c.channel.(channels.PresenceChannel); ok {
		_ = pc.SendTyping(ctx, c.chatID())
	}
}

func (c *conversation) chatID() string {
	if c.msg.ChatID != "" {
		return c.msg.ChatID
	}
	return c.msg.From
}

// sender prefers the raw sender JID, which stays valid for quoting even when
// From was resolved to a phone number.
func (c *conversation) sender() string {
	if jid, ok := c.msg.Metadata[whatsapp.MetaSenderJID].(string); ok && jid != "" {
		return jid
	}
	return c.msg.From
}
