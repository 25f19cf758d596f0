// Package whatsapp – events.go reacts to whatsmeow events: connection
// lifecycle changes update the channel state, and chat messages become
// channels.IncomingMessage values.
package whatsapp

import (
	"errors"
	"strings"

	"github.com/jholhewres/stickerbot/pkg/stickerbot/channels"

	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// Metadata keys set on every IncomingMessage.
const (
	MetaSenderJID = "sender_jid"
	MetaChatJID   = "chat_jid"
	MetaPushName  = "push_name"
)

// keepAliveFailureLimit is how many consecutive keep-alive failures mark the
// socket as half-open.
const keepAliveFailureLimit = 3

func (w *WhatsApp) handleEvent(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		w.handleMessageEvt(evt)

	case *events.Connected:
		w.reconnectAttempts.Store(0)
		w.errorCount.Store(0)
		w.UpdateLastMsgTime()
		w.transition(StateConnected, "", map[string]any{
			"jid":      w.clientJID(),
			"platform": w.clientPlatform(),
		})
		w.logger.Info("whatsapp: connected", "jid", w.clientJID(), "platform", w.clientPlatform())
		w.notifyQR(QREvent{Type: QRSuccess, Message: "WhatsApp connected"})

	case *events.Disconnected:
		w.logger.Warn("whatsapp: connection lost")
		if w.transition(StateDisconnected, "connection_lost", nil) == StateConnected && w.ctx.Err() == nil {
			go w.attemptReconnect()
		}

	case *events.StreamReplaced:
		w.logger.Error("whatsapp: session opened elsewhere, stream replaced")
		w.transition(StateDisconnected, "stream_replaced", nil)

	case *events.LoggedOut:
		reason := "unknown"
		if evt.Reason != 0 {
			reason = evt.Reason.String()
		}
		w.logger.Error("whatsapp: logged out, pairing again", "reason", reason, "on_connect", evt.OnConnect)
		w.transition(StateDisconnected, "logged_out", map[string]any{"reason": reason, "needs_qr": true})
		go func() {
			if err := w.loginWithQR(w.ctx); err != nil {
				w.logger.Warn("whatsapp: re-pairing ended", "error", err)
			}
		}()

	case *events.TemporaryBan:
		w.logger.Error("whatsapp: temporarily banned", "code", evt.Code, "expire", evt.Expire)
		w.transition(StateBanned, "temporary_ban", map[string]any{
			"code":   evt.Code.String(),
			"expire": evt.Expire.String(),
		})

	case *events.KeepAliveTimeout:
		w.errorCount.Add(1)
		w.logger.Warn("whatsapp: keep-alive timeout",
			"error_count", evt.ErrorCount, "last_success", evt.LastSuccess)
		if evt.ErrorCount >= keepAliveFailureLimit && w.getState() == StateConnected {
			w.logger.Error("whatsapp: socket looks half-open, reconnecting")
			w.forceReconnect()
		}

	case *events.KeepAliveRestored:
		w.errorCount.Store(0)
		w.logger.Info("whatsapp: keep-alive restored")

	case *events.ConnectFailure:
		w.handleConnectFailure(evt)

	case *events.PairSuccess:
		w.logger.Info("whatsapp: device paired", "jid", evt.ID, "platform", evt.Platform)
		w.notifyQR(QREvent{Type: QRSuccess, Message: "Paired with " + evt.ID.String()})
	}
}

func (w *WhatsApp) handleConnectFailure(evt *events.ConnectFailure) {
	reason := "unknown"
	if evt.Reason != 0 {
		reason = evt.Reason.String()
	}
	permanent := evt.PermanentDisconnectDescription()
	w.logger.Error("whatsapp: connect failure",
		"reason", reason, "message", evt.Message, "permanent", permanent)

	w.transition(StateDisconnected, "connect_failure", map[string]any{
		"reason":    reason,
		"permanent": permanent,
	})
	if permanent == "" && w.ctx.Err() == nil {
		go w.attemptReconnect()
	}
}

// handleMessageEvt filters, converts and emits one inbound message. Accepted
// messages are remembered so replies can quote them.
func (w *WhatsApp) handleMessageEvt(evt *events.Message) {
	w.UpdateLastMsgTime()

	msg, ok := w.convertMessage(evt)
	if !ok {
		return
	}
	w.recent.put(msg.ID, evt.Info.Sender.ToNonAD(), evt.Message)

	if w.cfg.AutoRead {
		go func() { _ = w.MarkRead(w.ctx, msg.ChatID, []string{msg.ID}) }()
	}
	w.emitMessage(msg)
}

// accepts applies the chat filters: never our own messages or status
// broadcasts, then groups and DMs as configured.
func (w *WhatsApp) accepts(info *types.MessageInfo) bool {
	switch {
	case info.IsFromMe, info.Chat.Server == types.BroadcastServer:
		return false
	case info.IsGroup:
		return w.cfg.RespondToGroups
	default:
		return w.cfg.RespondToDMs
	}
}

func (w *WhatsApp) convertMessage(evt *events.Message) (*channels.IncomingMessage, bool) {
	info := &evt.Info
	if !w.accepts(info) {
		return nil, false
	}

	msg := &channels.IncomingMessage{
		ID:        string(info.ID),
		Channel:   w.Name(),
		From:      w.resolveJID(info.Sender),
		FromName:  info.PushName,
		ChatID:    w.resolveJID(info.Chat),
		IsGroup:   info.IsGroup,
		Timestamp: info.Timestamp,
		Metadata: map[string]any{
			MetaSenderJID: info.Sender.ToNonAD().String(),
			MetaChatJID:   info.Chat.String(),
			MetaPushName:  info.PushName,
		},
	}
	extractMessageContent(evt.Message, msg)
	extractQuotedMessage(evt.Message, msg)
	return msg, true
}

// resolveJID prefers the phone-number JID for hidden (LID) identities when
// the store has the mapping.
func (w *WhatsApp) resolveJID(jid types.JID) string {
	if jid.Server == types.HiddenUserServer && w.client != nil && w.client.Store != nil {
		if alt, err := w.client.Store.GetAltJID(w.ctx, jid); err == nil && !alt.IsEmpty() {
			return alt.String()
		}
	}
	return jid.String()
}

// mediaProto is the accessor set shared by every downloadable message type.
type mediaProto interface {
	GetMimetype() string
	GetFileLength() uint64
	GetURL() string
	GetDirectPath() string
	GetMediaKey() []byte
	GetFileSHA256() []byte
	GetFileEncSHA256() []byte
}

func mediaInfo(kind channels.MessageType, m mediaProto) *channels.MediaInfo {
	return &channels.MediaInfo{
		Type:          kind,
		MimeType:      m.GetMimetype(),
		FileSize:      m.GetFileLength(),
		URL:           m.GetURL(),
		DirectPath:    m.GetDirectPath(),
		MediaKey:      m.GetMediaKey(),
		FileSHA256:    m.GetFileSHA256(),
		FileEncSHA256: m.GetFileEncSHA256(),
	}
}

// extractMessageContent sets Type, Content and Media. Captions count as
// Content so a trigger typed under a photo is seen.
func extractMessageContent(waMsg *waE2E.Message, msg *channels.IncomingMessage) {
	if waMsg == nil {
		return
	}
	msg.Type = channels.MessageText

	switch {
	case waMsg.Conversation != nil:
		msg.Content = waMsg.GetConversation()

	case waMsg.ExtendedTextMessage != nil:
		msg.Content = waMsg.GetExtendedTextMessage().GetText()

	case waMsg.ImageMessage != nil:
		img := waMsg.GetImageMessage()
		msg.Type, msg.Content = channels.MessageImage, img.GetCaption()
		msg.Media = mediaInfo(channels.MessageImage, img)
		msg.Media.Caption = img.GetCaption()
		msg.Media.Width, msg.Media.Height = img.GetWidth(), img.GetHeight()

	case waMsg.VideoMessage != nil:
		// GIFs travel as MP4 with GifPlayback set.
		video := waMsg.GetVideoMessage()
		msg.Type, msg.Content = channels.MessageVideo, video.GetCaption()
		msg.Media = mediaInfo(channels.MessageVideo, video)
		msg.Media.Caption = video.GetCaption()
		msg.Media.Width, msg.Media.Height = video.GetWidth(), video.GetHeight()
		msg.Media.Duration = video.GetSeconds()
		msg.Media.Animated = video.GetGifPlayback()

	case waMsg.DocumentMessage != nil:
		doc := waMsg.GetDocumentMessage()
		msg.Type, msg.Content = channels.MessageDocument, doc.GetCaption()
		msg.Media = mediaInfo(channels.MessageDocument, doc)
		msg.Media.Caption = doc.GetCaption()
		msg.Media.Filename = doc.GetFileName()

	case waMsg.StickerMessage != nil:
		st := waMsg.GetStickerMessage()
		msg.Type = channels.MessageSticker
		msg.Media = mediaInfo(channels.MessageSticker, st)
		msg.Media.Width, msg.Media.Height = st.GetWidth(), st.GetHeight()
		msg.Media.Animated = st.GetIsAnimated()

	case waMsg.AudioMessage != nil:
		audio := waMsg.GetAudioMessage()
		msg.Type = channels.MessageAudio
		msg.Media = mediaInfo(channels.MessageAudio, audio)
		msg.Media.Duration = audio.GetSeconds()

	case waMsg.ReactionMessage != nil:
		msg.Type = channels.MessageReaction
		msg.Content = waMsg.GetReactionMessage().GetText()
	}
}

// extractQuotedMessage records which message this one replies to.
func extractQuotedMessage(waMsg *waE2E.Message, msg *channels.IncomingMessage) {
	ctxInfo := contextInfoOf(waMsg)
	if ctxInfo == nil {
		return
	}
	msg.ReplyTo = ctxInfo.GetStanzaID()
	if quoted := ctxInfo.GetQuotedMessage(); quoted != nil {
		msg.QuotedContent = quotedText(quoted)
	}
}

func contextInfoOf(waMsg *waE2E.Message) *waE2E.ContextInfo {
	if waMsg == nil {
		return nil
	}
	type withContext interface{ GetContextInfo() *waE2E.ContextInfo }
	for _, m := range []withContext{
		waMsg.GetExtendedTextMessage(),
		waMsg.GetImageMessage(),
		waMsg.GetVideoMessage(),
		waMsg.GetDocumentMessage(),
		waMsg.GetStickerMessage(),
		waMsg.GetAudioMessage(),
	} {
		if ci := m.GetContextInfo(); ci != nil {
			return ci
		}
	}
	return nil
}

// quotedText is a one-line preview of a quoted message.
func quotedText(quoted *waE2E.Message) string {
	switch {
	case quoted.Conversation != nil:
		return quoted.GetConversation()
	case quoted.ExtendedTextMessage != nil:
		return quoted.GetExtendedTextMessage().GetText()
	case quoted.ImageMessage != nil:
		return strings.TrimSpace("[image] " + quoted.GetImageMessage().GetCaption())
	case quoted.VideoMessage != nil:
		return strings.TrimSpace("[video] " + quoted.GetVideoMessage().GetCaption())
	case quoted.StickerMessage != nil:
		return "[sticker]"
	case quoted.DocumentMessage != nil:
		return "[document: " + quoted.GetDocumentMessage().GetFileName() + "]"
	}
	return "[message]"
}

var errShortPhone = errors.New("phone number too short")

// parseJID accepts a full JID ("...@s.whatsapp.net", "...@g.us") or a bare
// phone number with at least 10 digits; punctuation in numbers is ignored.
func parseJID(s string) (types.JID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.JID{}, errors.New("empty JID")
	}
	if strings.Contains(s, "@") {
		return types.ParseJID(s)
	}

	var digits strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() < 10 {
		return types.JID{}, errShortPhone
	}
	return types.NewJID(digits.String(), types.DefaultUserServer), nil
}
