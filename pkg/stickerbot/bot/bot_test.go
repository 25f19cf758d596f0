package bot

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jholhewres/stickerbot/pkg/stickerbot/channels"
	"github.com/jholhewres/stickerbot/pkg/stickerbot/sticker"

	"github.com/chai2010/webp"
)

type fakeChannel struct {
	in chan *channels.IncomingMessage

	mu       sync.Mutex
	media    map[string][]byte
	failIDs  map[string]bool
	texts    []*channels.OutgoingMessage
	stickers []*channels.MediaMessage
	typing   int
	targets  []string
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		in:      make(chan *channels.IncomingMessage, 16),
		media:   make(map[string][]byte),
		failIDs: make(map[string]bool),
	}
}

func (f *fakeChannel) Name() string                              { return "fake" }
func (f *fakeChannel) Connect(context.Context) error             { return nil }
func (f *fakeChannel) Disconnect() error                         { return nil }
func (f *fakeChannel) IsConnected() bool                         { return true }
func (f *fakeChannel) Health() channels.HealthStatus             { return channels.HealthStatus{Connected: true} }
func (f *fakeChannel) Receive() <-chan *channels.IncomingMessage { return f.in }

func (f *fakeChannel) Send(_ context.Context, to string, msg *channels.OutgoingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, msg)
	f.targets = append(f.targets, to)
	return nil
}

func (f *fakeChannel) SendMedia(_ context.Context, to string, m *channels.MediaMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stickers = append(f.stickers, m)
	f.targets = append(f.targets, to)
	return nil
}

func (f *fakeChannel) DownloadMedia(_ context.Context, msg *channels.IncomingMessage) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failIDs[msg.ID] {
		return nil, "", channels.ErrMediaDownloadFailed
	}
	mimeType := ""
	if msg.Media != nil {
		mimeType = msg.Media.MimeType
	}
	return f.media[msg.ID], mimeType, nil
}

func (f *fakeChannel) SendTyping(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing++
	return nil
}

func (f *fakeChannel) SendPresence(context.Context, bool) error         { return nil }
func (f *fakeChannel) MarkRead(context.Context, string, []string) error { return nil }

var (
	_ channels.MediaChannel    = (*fakeChannel)(nil)
	_ channels.PresenceChannel = (*fakeChannel)(nil)
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.NRGBA{R: 200, G: 40, B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func imageMessage(id, caption string) *channels.IncomingMessage {
	return &channels.IncomingMessage{
		ID:      id,
		Channel: "fake",
		From:    "5511999999999@s.whatsapp.net",
		ChatID:  "5511999999999@s.whatsapp.net",
		Type:    channels.MessageImage,
		Content: caption,
		Media:   &channels.MediaInfo{Type: channels.MessageImage, MimeType: "image/png"},
		Metadata: map[string]any{
			"sender_jid": "5511999999999@s.whatsapp.net",
		},
	}
}

type harness struct {
	bot      *Bot
	ch       *fakeChannel
	dir      string
	outcomes chan sticker.Outcome
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	logger := quietLogger()
	ws := sticker.NewWorkspace(dir, logger)
	conv := sticker.NewConverter(sticker.ConverterConfig{
		Workspace: ws,
		Transcoder: sticker.NewTranscoder(sticker.TranscoderConfig{
			Static:  sticker.NewImageEncoder(sticker.CanvasSize, sticker.FitContain, 80),
			Timeout: 10 * time.Second,
			Logger:  logger,
		}),
		DownloadRetry: sticker.RetryPolicy{MaxAttempts: 2, Delay: 5 * time.Millisecond},
		SendRetry:     sticker.RetryPolicy{MaxAttempts: 2, Delay: 5 * time.Millisecond},
		Messages: sticker.Messages{
			DownloadFailed:   "download failed",
			ProcessingFailed: "processing failed",
		},
		Logger: logger,
	})

	ch := newFakeChannel()
	b := New(ch, conv, Config{MaxConcurrent: 2, Logger: logger})
	outcomes := make(chan sticker.Outcome, 16)
	b.onOutcome = func(o sticker.Outcome) { outcomes <- o }
	return &harness{bot: b, ch: ch, dir: dir, outcomes: outcomes}
}

func (h *harness) run(t *testing.T) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.bot.Run(ctx) }()
	return func() {
		stop()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				t.Errorf("Run returned %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Run did not return after cancel")
		}
	}
}

func (h *harness) waitOutcome(t *testing.T) sticker.Outcome {
	t.Helper()
	select {
	case o := <-h.outcomes:
		return o
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for conversion")
		return sticker.Outcome{}
	}
}

func assertNoScratchFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("scratch dir not empty: %v", names)
	}
}

func TestBot_ConvertsTriggeredImage(t *testing.T) {
	h := newHarness(t)
	stop := h.run(t)
	defer stop()

	msg := imageMessage("MSG1", "check this out /FIG")
	h.ch.media["MSG1"] = pngBytes(t, 300, 120)
	h.ch.in <- msg

	o := h.waitOutcome(t)
	if o.Failed() {
		t.Fatalf("conversion failed: %v", o.Err)
	}

	h.ch.mu.Lock()
	defer h.ch.mu.Unlock()
	if len(h.ch.stickers) != 1 {
		t.Fatalf("stickers sent = %d, want 1", len(h.ch.stickers))
	}
	st := h.ch.stickers[0]
	if st.Type != channels.MessageSticker || st.MimeType != "image/webp" {
		t.Errorf("unexpected media message %+v", st)
	}
	if st.ReplyTo != "MSG1" || st.ReplyToSender != "5511999999999@s.whatsapp.net" {
		t.Errorf("sticker does not quote the request: %+v", st)
	}
	w, hgt, _, err := webp.GetInfo(st.Data)
	if err != nil {
		t.Fatalf("sticker is not webp: %v", err)
	}
	if w != 512 || hgt != 512 || st.Width != 512 || st.Height != 512 {
		t.Errorf("sticker size = %dx%d (declared %dx%d)", w, hgt, st.Width, st.Height)
	}
	if len(h.ch.texts) != 0 {
		t.Errorf("unexpected text replies: %d", len(h.ch.texts))
	}
	if h.ch.typing == 0 {
		t.Error("expected a typing indicator")
	}
	assertNoScratchFiles(t, h.dir)
}

func TestBot_IgnoresUntriggeredMessages(t *testing.T) {
	h := newHarness(t)
	stop := h.run(t)

	noTrigger := imageMessage("A", "nice picture")
	textOnly := &channels.IncomingMessage{ID: "B", Content: "/fig", Type: channels.MessageText}
	h.ch.in <- noTrigger
	h.ch.in <- textOnly

	// A triggered message after them proves the loop moved past both.
	h.ch.media["C"] = pngBytes(t, 10, 10)
	h.ch.in <- imageMessage("C", "/fig")
	o := h.waitOutcome(t)
	stop()

	if o.Failed() {
		t.Fatalf("conversion failed: %v", o.Err)
	}
	select {
	case extra := <-h.outcomes:
		t.Errorf("unexpected outcome for ignored message: %+v", extra)
	default:
	}
	if len(h.ch.stickers) != 1 || len(h.ch.texts) != 0 {
		t.Errorf("stickers=%d texts=%d", len(h.ch.stickers), len(h.ch.texts))
	}
}

func TestBot_DownloadFailureThenNextRequestServed(t *testing.T) {
	h := newHarness(t)
	stop := h.run(t)
	defer stop()

	h.ch.failIDs["BAD"] = true
	h.ch.in <- imageMessage("BAD", "/fig")

	o := h.waitOutcome(t)
	if !o.Failed() || !errors.Is(o.Err, sticker.ErrDownloadFailed) {
		t.Fatalf("expected download failure, got %+v", o)
	}
	h.ch.mu.Lock()
	if len(h.ch.texts) != 1 || h.ch.texts[0].Content != "download failed" {
		t.Errorf("texts = %+v", h.ch.texts)
	}
	if len(h.ch.stickers) != 0 {
		t.Errorf("stickers = %d, want 0", len(h.ch.stickers))
	}
	h.ch.mu.Unlock()
	assertNoScratchFiles(t, h.dir)

	h.ch.mu.Lock()
	h.ch.media["GOOD"] = pngBytes(t, 64, 64)
	h.ch.mu.Unlock()
	h.ch.in <- imageMessage("GOOD", "/fig")

	if o := h.waitOutcome(t); o.Failed() {
		t.Fatalf("second request failed: %v", o.Err)
	}
	h.ch.mu.Lock()
	if len(h.ch.stickers) != 1 || len(h.ch.texts) != 1 {
		t.Errorf("stickers=%d texts=%d", len(h.ch.stickers), len(h.ch.texts))
	}
	h.ch.mu.Unlock()
	assertNoScratchFiles(t, h.dir)
}

func TestBot_StopsWhenStreamCloses(t *testing.T) {
	h := newHarness(t)
	close(h.ch.in)

	done := make(chan error, 1)
	go func() { done <- h.bot.Run(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the stream closed")
	}
}

func TestConversation_ChatAndSenderFallbacks(t *testing.T) {
	ch := newFakeChannel()
	msg := &channels.IncomingMessage{ID: "X", From: "5511000000000@s.whatsapp.net"}
	c := newConversation(ch, msg)

	if c.chatID() != msg.From {
		t.Errorf("chatID = %q, want From", c.chatID())
	}
	if c.sender() != msg.From {
		t.Errorf("sender = %q, want From", c.sender())
	}

	msg.ChatID = "120363000000000000@g.us"
	msg.Metadata = map[string]any{"sender_jid": "5511000000000:12@s.whatsapp.net"}
	if c.chatID() != msg.ChatID || c.sender() != "5511000000000:12@s.whatsapp.net" {
		t.Errorf("chat=%q sender=%q", c.chatID(), c.sender())
	}

	if err := c.ReplyText(context.Background(), "hi"); err != nil {
		t.Fatal(err)
	}
	if ch.targets[0] != msg.ChatID || ch.texts[0].ReplyTo != "X" {
		t.Errorf("reply went to %q quoting %q", ch.targets[0], ch.texts[0].ReplyTo)
	}

	payload, err := c.DownloadMedia(context.Background())
	if err != nil || payload != nil {
		t.Errorf("expected nil payload for a message without media bytes, got %+v", payload)
	}
}

func TestJanitor(t *testing.T) {
	dir := t.TempDir()
	ws := sticker.NewWorkspace(dir, quietLogger())

	stale := ws.PathFor("old", sticker.RoleOriginal, "png")
	fresh := ws.PathFor("new", sticker.RoleSticker, "webp")
	for _, p := range []string{stale, fresh} {
		if err := os.WriteFile(p, []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}

	j, err := NewJanitor(ws, JanitorConfig{Schedule: "@every 1h", MaxAge: time.Hour}, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	j.Start()
	j.Stop()

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale file should have been removed on start")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Errorf("fresh file should remain: %v", err)
	}

	if _, err := NewJanitor(ws, JanitorConfig{Schedule: "whenever"}, quietLogger()); err == nil {
		t.Error("expected error for invalid schedule")
	}
}
