package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
)

// QR event types.
const (
	QRCode    = "code"
	QRSuccess = "success"
	QRTimeout = "timeout"
	QRError   = "error"
	QRRefresh = "refresh"
)

// qrLifetime is how long WhatsApp accepts one pairing code.
const qrLifetime = 60 * time.Second

// QREvent is a pairing update for whoever renders the QR code.
type QREvent struct {
	Type        string `json:"type"`
	Code        string `json:"code,omitempty"`
	Message     string `json:"message,omitempty"`
	SecondsLeft int    `json:"seconds_left,omitempty"`
}

// qrHub fans pairing events out to subscribers and remembers the live code
// so a subscriber that arrives late can still scan it.
type qrHub struct {
	mu     sync.Mutex
	subs   []chan QREvent
	last   *QREvent
	issued time.Time
}

func (h *qrHub) subscribe() (chan QREvent, func()) {
	ch := make(chan QREvent, 8)

	h.mu.Lock()
	h.subs = append(h.subs, ch)
	if h.last != nil {
		evt := *h.last
		evt.SecondsLeft = max(0, int((qrLifetime - time.Since(h.issued)).Seconds()))
		ch <- evt
	}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			for i, sub := range h.subs {
				if sub == ch {
					h.subs = append(h.subs[:i], h.subs[i+1:]...)
					close(ch)
					return
				}
			}
		})
	}
}

func (h *qrHub) publish(evt QREvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if evt.Type == QRCode {
		h.last, h.issued = &evt, time.Now()
	} else {
		h.last, h.issued = nil, time.Time{}
	}
	for _, ch := range h.subs {
		select {
		case ch <- evt:
		default: // slow subscriber
		}
	}
}

// SubscribeQR streams pairing events. The returned function unsubscribes and
// closes the stream.
func (w *WhatsApp) SubscribeQR() (chan QREvent, func()) {
	return w.qr.subscribe()
}

func (w *WhatsApp) notifyQR(evt QREvent) {
	w.qr.publish(evt)
}

// loginWithQR opens the socket in pairing mode and relays codes until the
// phone scans one, the code expires or ctx ends.
func (w *WhatsApp) loginWithQR(ctx context.Context) error {
	codes, err := w.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("getting QR channel: %w", err)
	}
	if err := w.client.Connect(); err != nil {
		return fmt.Errorf("connecting for QR: %w", err)
	}

	w.setState(StateWaitingQR)
	w.logger.Info("whatsapp: waiting for QR code scan")

	shown := 0
	for {
		var item whatsmeow.QRChannelItem
		select {
		case <-ctx.Done():
			w.setState(StateDisconnected)
			return ctx.Err()
		case evt, ok := <-codes:
			if !ok {
				return errors.New("QR channel closed unexpectedly")
			}
			item = evt
		}

		switch item.Event {
		case QRCode:
			shown++
			w.setState(StateWaitingQR)
			w.logger.Info("whatsapp: QR code ready", "attempt", shown)
			w.notifyQR(QREvent{
				Type:    QRCode,
				Code:    item.Code,
				Message: "Scan the QR code with WhatsApp to link StickerBot",
			})

		case QRSuccess:
			w.reconnectAttempts.Store(0)
			w.setState(StateConnected)
			w.connected.Store(true)
			w.logger.Info("whatsapp: login successful")
			w.notifyQR(QREvent{Type: QRSuccess, Message: "WhatsApp linked successfully"})
			w.StartHealthMonitor(w.ctx, w.cfg.HealthMonitor)
			return nil

		case QRTimeout:
			w.setState(StateDisconnected)
			w.logger.Warn("whatsapp: QR code expired")
			w.notifyQR(QREvent{Type: QRTimeout, Message: "QR code expired"})
			return errors.New("QR code timeout")

		default:
			if item.Error != nil {
				w.setState(StateDisconnected)
				w.logger.Error("whatsapp: QR login error", "error", item.Error)
				w.notifyQR(QREvent{Type: QRError, Message: "Error: " + item.Error.Error()})
				return fmt.Errorf("QR login error: %w", item.Error)
			}
		}
	}
}

// RequestNewQR drops the pending socket and starts pairing again. Without a
// deadline on ctx the new attempt is limited to 2 minutes.
func (w *WhatsApp) RequestNewQR(ctx context.Context) error {
	switch {
	case w.connected.Load():
		return errors.New("already connected")
	case w.client == nil:
		return errors.New("client not initialized")
	}

	w.client.Disconnect()
	w.notifyQR(QREvent{Type: QRRefresh, Message: "Generating new QR code..."})

	go func() {
		qrCtx, cancel := ctx, context.CancelFunc(func() {})
		if _, ok := ctx.Deadline(); !ok {
			qrCtx, cancel = context.WithTimeout(ctx, 2*time.Minute)
		}
		defer cancel()
		if err := w.loginWithQR(qrCtx); err != nil {
			w.logger.Error("whatsapp: QR re-login failed", "error", err)
		}
	}()
	return nil
}
