// Package whatsapp – messages.go sends replies and fetches attachments. It
// builds outgoing protobuf messages and rebuilds downloadable ones from
// channels.MediaInfo.
package whatsapp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jholhewres/stickerbot/pkg/stickerbot/channels"

	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"
)

// Send delivers a text reply, quoting msg.ReplyTo when set.
func (w *WhatsApp) Send(ctx context.Context, to string, msg *channels.OutgoingMessage) error {
	jid, err := w.recipient(to)
	if err != nil {
		return err
	}
	waMsg := buildTextMessage(msg.Content, w.quoteContext(msg.ReplyTo, msg.ReplyToSender))
	return w.send(ctx, jid, waMsg)
}

// SendMedia uploads media and sends it. Stickers go out as StickerMessage so
// clients render them inline instead of as a photo.
func (w *WhatsApp) SendMedia(ctx context.Context, to string, media *channels.MediaMessage) error {
	jid, err := w.recipient(to)
	if err != nil {
		return err
	}
	waMsg, err := w.buildMediaMessage(ctx, media)
	if err != nil {
		return fmt.Errorf("building media message: %w", err)
	}
	return w.send(ctx, jid, waMsg)
}

// recipient checks the link is up and parses the destination.
func (w *WhatsApp) recipient(to string) (types.JID, error) {
	if !w.connected.Load() || w.client == nil {
		return types.JID{}, channels.ErrChannelDisconnected
	}
	jid, err := parseJID(to)
	if err != nil {
		return types.JID{}, fmt.Errorf("invalid JID %q: %w", to, err)
	}
	return jid, nil
}

func (w *WhatsApp) send(ctx context.Context, jid types.JID, waMsg *waE2E.Message) error {
	if _, err := w.client.SendMessage(ctx, jid, waMsg); err != nil {
		w.errorCount.Add(1)
		return fmt.Errorf("%w: %v", channels.ErrSendFailed, err)
	}
	return nil
}

// DownloadMedia fetches and decrypts the attachment of msg.
func (w *WhatsApp) DownloadMedia(ctx context.Context, msg *channels.IncomingMessage) ([]byte, string, error) {
	if !msg.HasMedia() {
		return nil, "", channels.ErrNoMedia
	}
	if w.client == nil {
		return nil, "", channels.ErrChannelDisconnected
	}
	return w.downloadMediaFromInfo(ctx, msg.Media)
}

// SendTyping shows "typing..." in a chat. It is a no-op when disabled or
// offline.
func (w *WhatsApp) SendTyping(ctx context.Context, to string) error {
	if !w.cfg.SendTyping || !w.connected.Load() {
		return nil
	}
	jid, err := parseJID(to)
	if err != nil {
		return err
	}
	return w.client.SendChatPresence(ctx, jid, types.ChatPresenceComposing, types.ChatPresenceMediaText)
}

// SendPresence marks the bot online or offline.
func (w *WhatsApp) SendPresence(ctx context.Context, available bool) error {
	if !w.connected.Load() {
		return nil
	}
	presence := types.PresenceUnavailable
	if available {
		presence = types.PresenceAvailable
	}
	return w.client.SendPresence(ctx, presence)
}

// MarkRead sends read receipts for messageIDs in chatID.
func (w *WhatsApp) MarkRead(ctx context.Context, chatID string, messageIDs []string) error {
	if !w.connected.Load() {
		return nil
	}
	jid, err := parseJID(chatID)
	if err != nil {
		return err
	}
	ids := make([]types.MessageID, 0, len(messageIDs))
	for _, id := range messageIDs {
		ids = append(ids, types.MessageID(id))
	}
	return w.client.MarkRead(ctx, ids, time.Now(), jid, jid)
}

// buildTextMessage returns a plain conversation message, or an extended one
// when it quotes another message.
func buildTextMessage(text string, quote *waE2E.ContextInfo) *waE2E.Message {
	if quote == nil {
		return &waE2E.Message{Conversation: proto.String(text)}
	}
	return &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text:        proto.String(text),
			ContextInfo: quote,
		},
	}
}

// buildMediaMessage uploads a sticker and wraps it in a StickerMessage. Other
// media types are never sent by the bot.
func (w *WhatsApp) buildMediaMessage(ctx context.Context, media *channels.MediaMessage) (*waE2E.Message, error) {
	if len(media.Data) == 0 {
		return nil, fmt.Errorf("empty media payload")
	}
	appType, err := uploadTypeFor(media.Type)
	if err != nil {
		return nil, err
	}

	upload, err := w.client.Upload(ctx, media.Data, appType)
	if err != nil {
		return nil, fmt.Errorf("uploading %s: %w", media.Type, err)
	}

	quote := w.quoteContext(media.ReplyTo, media.ReplyToSender)
	return stickerMessageFromUpload(upload, media, quote), nil
}

// uploadTypeFor maps a channel media type to the whatsmeow upload bucket.
// Stickers travel in the image bucket.
func uploadTypeFor(t channels.MessageType) (whatsmeow.MediaType, error) {
	if t != channels.MessageSticker {
		return "", fmt.Errorf("%w: %s", channels.ErrMediaNotSupported, t)
	}
	return whatsmeow.MediaImage, nil
}

func stickerMessageFromUpload(up whatsmeow.UploadResponse, media *channels.MediaMessage, quote *waE2E.ContextInfo) *waE2E.Message {
	mime := media.MimeType
	if mime == "" {
		mime = "image/webp"
	}
	return &waE2E.Message{StickerMessage: &waE2E.StickerMessage{
		URL:           proto.String(up.URL),
		DirectPath:    proto.String(up.DirectPath),
		MediaKey:      up.MediaKey,
		FileEncSHA256: up.FileEncSHA256,
		FileSHA256:    up.FileSHA256,
		FileLength:    proto.Uint64(up.FileLength),
		Mimetype:      proto.String(mime),
		Width:         proto.Uint32(media.Width),
		Height:        proto.Uint32(media.Height),
		IsAnimated:    proto.Bool(media.Animated),
		ContextInfo:   quote,
	}}
}

// downloadMediaFromInfo rebuilds the encrypted media reference and downloads it.
func (w *WhatsApp) downloadMediaFromInfo(ctx context.Context, info *channels.MediaInfo) ([]byte, string, error) {
	downloadable, err := downloadableFor(info)
	if err != nil {
		return nil, "", err
	}
	data, err := w.client.Download(ctx, downloadable)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", channels.ErrMediaDownloadFailed, err)
	}
	return data, info.MimeType, nil
}

// downloadableFor rebuilds the protobuf media message whatsmeow needs to
// locate and decrypt an attachment.
func downloadableFor(info *channels.MediaInfo) (whatsmeow.DownloadableMessage, error) {
	if info == nil {
		return nil, channels.ErrNoMedia
	}
	if info.DirectPath == "" && info.URL == "" {
		return nil, fmt.Errorf("%w: no media location", channels.ErrMediaDownloadFailed)
	}

	switch info.Type {
	case channels.MessageImage:
		return &waE2E.ImageMessage{
			URL:           optionalString(info.URL),
			DirectPath:    optionalString(info.DirectPath),
			MediaKey:      info.MediaKey,
			FileSHA256:    info.FileSHA256,
			FileEncSHA256: info.FileEncSHA256,
			FileLength:    proto.Uint64(info.FileSize),
			Mimetype:      optionalString(info.MimeType),
		}, nil
	case channels.MessageVideo:
		return &waE2E.VideoMessage{
			URL:           optionalString(info.URL),
			DirectPath:    optionalString(info.DirectPath),
			MediaKey:      info.MediaKey,
			FileSHA256:    info.FileSHA256,
			FileEncSHA256: info.FileEncSHA256,
			FileLength:    proto.Uint64(info.FileSize),
			Mimetype:      optionalString(info.MimeType),
			GifPlayback:   proto.Bool(info.Animated),
		}, nil
	case channels.MessageDocument:
		return &waE2E.DocumentMessage{
			URL:           optionalString(info.URL),
			DirectPath:    optionalString(info.DirectPath),
			MediaKey:      info.MediaKey,
			FileSHA256:    info.FileSHA256,
			FileEncSHA256: info.FileEncSHA256,
			FileLength:    proto.Uint64(info.FileSize),
			Mimetype:      optionalString(info.MimeType),
			FileName:      optionalString(info.Filename),
		}, nil
	case channels.MessageSticker:
		return &waE2E.StickerMessage{
			URL:           optionalString(info.URL),
			DirectPath:    optionalString(info.DirectPath),
			MediaKey:      info.MediaKey,
			FileSHA256:    info.FileSHA256,
			FileEncSHA256: info.FileEncSHA256,
			FileLength:    proto.Uint64(info.FileSize),
			Mimetype:      optionalString(info.MimeType),
		}, nil
	case channels.MessageAudio:
		return &waE2E.AudioMessage{
			URL:           optionalString(info.URL),
			DirectPath:    optionalString(info.DirectPath),
			MediaKey:      info.MediaKey,
			FileSHA256:    info.FileSHA256,
			FileEncSHA256: info.FileEncSHA256,
			FileLength:    proto.Uint64(info.FileSize),
			Mimetype:      optionalString(info.MimeType),
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", channels.ErrMediaNotSupported, info.Type)
	}
}

// quoteContext builds the reply context for messageID. The cached inbound
// message supplies the exact participant JID and the quoted body; sender is
// the fallback participant when the message is no longer cached.
func (w *WhatsApp) quoteContext(messageID, sender string) *waE2E.ContextInfo {
	if messageID == "" {
		return nil
	}
	ctxInfo := &waE2E.ContextInfo{StanzaID: proto.String(messageID)}
	if entry, ok := w.recent.get(messageID); ok {
		ctxInfo.Participant = proto.String(entry.sender.String())
		ctxInfo.QuotedMessage = entry.message
		return ctxInfo
	}
	if sender != "" {
		if jid, err := parseJID(sender); err == nil {
			ctxInfo.Participant = proto.String(jid.ToNonAD().String())
		}
	}
	return ctxInfo
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return proto.String(s)
}

// ---------- Recent message cache ----------

type recentEntry struct {
	sender  types.JID
	message *waE2E.Message
}

// recentMessages is a bounded FIFO of inbound messages keyed by ID.
type recentMessages struct {
	mu    sync.Mutex
	cap   int
	order []string
	items map[string]recentEntry
}

func newRecentMessages(capacity int) *recentMessages {
	if capacity <= 0 {
		capacity = 1
	}
	return &recentMessages{
		cap:   capacity,
		items: make(map[string]recentEntry, capacity),
	}
}

func (r *recentMessages) put(id string, sender types.JID, msg *waE2E.Message) {
	if id == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[id]; !exists {
		r.order = append(r.order, id)
	}
	r.items[id] = recentEntry{sender: sender, message: msg}

	for len(r.order) > r.cap {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.items, oldest)
	}
}

func (r *recentMessages) get(id string) (recentEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.items[id]
	return e, ok
}

func (r *recentMessages) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}
