// Package whatsapp is StickerBot's WhatsApp channel, built on whatsmeow (the
// WhatsApp Web multidevice protocol in Go).
//
// The device session lives in a SQLite database. The first run pairs the bot
// with a phone through a QR code; later runs resume silently. Inbound
// messages are filtered by chat kind and streamed as
// channels.IncomingMessage; sticker replies quote the message that asked for
// them. Lost connections are redialled with backoff, and a health monitor
// catches sockets that die without telling anyone.
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jholhewres/stickerbot/pkg/stickerbot/channels"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"

	_ "github.com/mattn/go-sqlite3" // session store driver
)

// Config configures the WhatsApp channel.
type Config struct {
	// SessionDir holds whatsapp.db unless DatabasePath points elsewhere.
	SessionDir   string `yaml:"session_dir"`
	DatabasePath string `yaml:"database_path"`

	// DeviceName is what the phone lists under linked devices.
	DeviceName string `yaml:"device_name"`

	RespondToGroups bool `yaml:"respond_to_groups"`
	RespondToDMs    bool `yaml:"respond_to_dms"`

	// AutoRead sends read receipts for accepted messages.
	AutoRead bool `yaml:"auto_read"`

	// SendTyping shows "typing..." while a sticker is being made.
	SendTyping bool `yaml:"send_typing"`

	// ReconnectBackoff is the delay before the first redial; later attempts
	// wait proportionally longer. MaxReconnectAttempts of 0 never gives up.
	ReconnectBackoff     time.Duration `yaml:"reconnect_backoff"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`

	HealthMonitor HealthMonitorConfig `yaml:"health_monitor"`
}

// DefaultConfig answers both DMs and groups with a session under
// ./sessions/whatsapp.
func DefaultConfig() Config {
	return Config{
		SessionDir:           "./sessions/whatsapp",
		DeviceName:           "StickerBot",
		RespondToGroups:      true,
		RespondToDMs:         true,
		SendTyping:           true,
		ReconnectBackoff:     5 * time.Second,
		MaxReconnectAttempts: 10,
		HealthMonitor:        DefaultHealthMonitorConfig(),
	}
}

// SessionDatabase is the SQLite file the device session is kept in.
func (c Config) SessionDatabase() string {
	if c.DatabasePath != "" {
		return c.DatabasePath
	}
	return filepath.Join(c.SessionDir, "whatsapp.db")
}

// WhatsApp implements channels.MediaChannel and channels.PresenceChannel.
type WhatsApp struct {
	cfg    Config
	client *whatsmeow.Client
	logger *slog.Logger

	// messagesMu orders sends on messages against its close.
	messagesMu     sync.RWMutex
	messages       chan *channels.IncomingMessage
	messagesClosed bool

	state     atomic.Value // ConnectionState
	connected atomic.Bool
	lastMsg   atomic.Value // time.Time

	errorCount        atomic.Int64
	reconnectAttempts atomic.Int32
	reconnecting      atomic.Bool
	monitorRunning    atomic.Bool

	qr        qrHub
	observers observerSet

	// recent lets sticker replies quote the original message.
	recent *recentMessages

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a disconnected channel. Call Connect to start it.
func New(cfg Config, logger *slog.Logger) *WhatsApp {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = 5 * time.Second
	}
	if cfg.DeviceName == "" {
		cfg.DeviceName = "StickerBot"
	}

	w := &WhatsApp{
		cfg:      cfg,
		logger:   logger.With("component", "whatsapp"),
		messages: make(chan *channels.IncomingMessage, 256),
		recent:   newRecentMessages(512),
		ctx:      context.Background(),
	}
	w.setState(StateDisconnected)
	return w
}

// Name returns "whatsapp".
func (w *WhatsApp) Name() string { return "whatsapp" }

// Connect opens the session store and dials WhatsApp. An unpaired device
// returns immediately and pairs in the background; SubscribeQR delivers the
// codes to scan.
func (w *WhatsApp) Connect(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.setState(StateConnecting)

	dbPath := w.cfg.SessionDatabase()
	w.logger.Info("whatsapp: opening session store", "path", dbPath)
	container, err := sqlstore.New(w.ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL", dbPath), waLog.Noop)
	if err != nil {
		w.setState(StateDisconnected)
		return fmt.Errorf("creating session store: %w", err)
	}

	device, err := container.GetFirstDevice(w.ctx)
	if err != nil {
		w.setState(StateDisconnected)
		return fmt.Errorf("loading device: %w", err)
	}

	store.SetOSInfo(w.cfg.DeviceName, [3]uint32{1, 0, 0})
	w.client = whatsmeow.NewClient(device, waLog.Noop)
	w.client.AddEventHandler(w.handleEvent)
	w.client.EnableAutoReconnect = true
	w.client.InitialAutoReconnect = true

	if w.client.Store.ID == nil {
		w.setState(StateWaitingQR)
		w.logger.Info("whatsapp: device not linked, starting QR pairing")
		go func() {
			if err := w.loginWithQR(w.ctx); err != nil {
				w.logger.Warn("whatsapp: QR pairing ended", "error", err)
			}
		}()
		return nil
	}

	if err := w.client.Connect(); err != nil {
		w.setState(StateDisconnected)
		return fmt.Errorf("connecting: %w", err)
	}
	w.connected.Store(true)
	w.logger.Info("whatsapp: session resumed", "jid", w.clientJID())

	w.StartHealthMonitor(w.ctx, w.cfg.HealthMonitor)
	return nil
}

// Disconnect closes the socket and the Receive stream. It is safe to call
// more than once.
func (w *WhatsApp) Disconnect() error {
	if w.cancel != nil {
		w.cancel()
	}
	if w.client != nil {
		w.client.Disconnect()
	}
	w.messagesMu.Lock()
	if !w.messagesClosed {
		w.messagesClosed = true
		close(w.messages)
	}
	w.messagesMu.Unlock()

	w.transition(StateDisconnected, "user_request", nil)
	w.logger.Info("whatsapp: disconnected")
	return nil
}

// Receive streams accepted inbound messages until Disconnect.
func (w *WhatsApp) Receive() <-chan *channels.IncomingMessage {
	return w.messages
}

// IsConnected reports whether the session is logged in and online.
func (w *WhatsApp) IsConnected() bool {
	return w.connected.Load()
}

// NeedsQR reports whether the device still has to be paired.
func (w *WhatsApp) NeedsQR() bool {
	return w.client != nil && w.client.Store.ID == nil && !w.connected.Load()
}

// Health reports connection state for the keep-alive endpoint.
func (w *WhatsApp) Health() channels.HealthStatus {
	h := channels.HealthStatus{
		Connected:     w.connected.Load(),
		LastMessageAt: w.getLastMsgTime(),
		ErrorCount:    int(w.errorCount.Load()),
		Details: map[string]any{
			"state":              string(w.getState()),
			"reconnect_attempts": w.reconnectAttempts.Load(),
		},
	}
	if jid := w.clientJID(); jid != "" {
		h.Details["jid"] = jid
		h.Details["platform"] = w.clientPlatform()
	}
	return h
}

func (w *WhatsApp) clientJID() string {
	if w.client == nil || w.client.Store.ID == nil {
		return ""
	}
	return w.client.Store.ID.String()
}

func (w *WhatsApp) clientPlatform() string {
	if w.client == nil {
		return ""
	}
	return w.client.Store.Platform
}

// emitMessage queues msg for Receive. A full queue drops the message rather
// than stalling the whatsmeow event loop.
func (w *WhatsApp) emitMessage(msg *channels.IncomingMessage) {
	w.messagesMu.RLock()
	defer w.messagesMu.RUnlock()
	if w.messagesClosed {
		return
	}
	select {
	case w.messages <- msg:
		w.UpdateLastMsgTime()
	case <-w.ctx.Done():
	default:
		w.logger.Warn("whatsapp: receive queue full, dropping message",
			"from", msg.From, "type", msg.Type)
	}
}
