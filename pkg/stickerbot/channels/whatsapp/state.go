package whatsapp

import (
	"sync"
	"time"
)

// ConnectionState is the channel's view of the WhatsApp link.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateWaitingQR    ConnectionState = "waiting_qr"
	StateBanned       ConnectionState = "banned"
)

// ConnectionEvent describes one state change.
type ConnectionEvent struct {
	State     ConnectionState `json:"state"`
	Previous  ConnectionState `json:"previous,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Reason    string          `json:"reason,omitempty"`
	Details   map[string]any  `json:"details,omitempty"`
}

// ConnectionObserver is told about every state change. Observers run on
// their own goroutine and must not block for long.
type ConnectionObserver interface {
	OnConnectionChange(evt ConnectionEvent)
}

// ConnectionObserverFunc adapts a function to ConnectionObserver.
type ConnectionObserverFunc func(evt ConnectionEvent)

func (f ConnectionObserverFunc) OnConnectionChange(evt ConnectionEvent) { f(evt) }

// observerSet is a copy-on-notify list of connection observers.
type observerSet struct {
	mu   sync.Mutex
	list []ConnectionObserver
}

func (s *observerSet) add(obs ConnectionObserver) {
	s.mu.Lock()
	s.list = append(s.list, obs)
	s.mu.Unlock()
}

func (s *observerSet) snapshot() []ConnectionObserver {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ConnectionObserver(nil), s.list...)
}

func (w *WhatsApp) getState() ConnectionState {
	if v, ok := w.state.Load().(ConnectionState); ok {
		return v
	}
	return StateDisconnected
}

func (w *WhatsApp) setState(state ConnectionState) {
	w.state.Store(state)
}

// GetState returns the current connection state.
func (w *WhatsApp) GetState() ConnectionState {
	return w.getState()
}

// AddConnectionObserver registers obs for state changes.
func (w *WhatsApp) AddConnectionObserver(obs ConnectionObserver) {
	w.observers.add(obs)
}

func (w *WhatsApp) notifyConnectionChange(evt ConnectionEvent) {
	for _, obs := range w.observers.snapshot() {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Warn("whatsapp: connection observer panic", "error", r)
				}
			}()
			obs.OnConnectionChange(evt)
		}()
	}
}

// transition moves to state, keeps the connected flag in step with it and
// notifies observers. It returns the state it replaced.
func (w *WhatsApp) transition(state ConnectionState, reason string, details map[string]any) ConnectionState {
	previous, _ := w.state.Swap(state).(ConnectionState)
	if previous == "" {
		previous = StateDisconnected
	}
	w.connected.Store(state == StateConnected)

	w.notifyConnectionChange(ConnectionEvent{
		State:     state,
		Previous:  previous,
		Timestamp: time.Now(),
		Reason:    reason,
		Details:   details,
	})
	return previous
}

// reconnectDelay grows linearly with the attempt number, capped at 5m.
func (w *WhatsApp) reconnectDelay(attempt int32) time.Duration {
	return min(w.cfg.ReconnectBackoff*time.Duration(attempt), 5*time.Minute)
}

// attemptReconnect redials until the socket is up, the channel is shut down
// or MaxReconnectAttempts runs out. Only one loop runs at a time; the
// Connected event finishes the job.
func (w *WhatsApp) attemptReconnect() {
	if !w.reconnecting.CompareAndSwap(false, true) {
		w.logger.Debug("whatsapp: reconnect already in progress")
		return
	}
	defer w.reconnecting.Store(false)

	w.setState(StateReconnecting)

	for w.ctx.Err() == nil {
		attempt := w.reconnectAttempts.Add(1)
		if limit := w.cfg.MaxReconnectAttempts; limit > 0 && attempt > int32(limit) {
			w.logger.Error("whatsapp: giving up reconnecting", "attempts", attempt-1)
			w.transition(StateDisconnected, "max_reconnect_attempts", map[string]any{"attempts": attempt - 1})
			return
		}

		delay := w.reconnectDelay(attempt)
		w.logger.Info("whatsapp: reconnecting", "attempt", attempt, "delay", delay)
		w.transition(StateReconnecting, "connection_lost", map[string]any{
			"attempt":     attempt,
			"backoff_sec": delay.Seconds(),
		})

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-w.ctx.Done():
			timer.Stop()
			return
		}

		if w.client == nil {
			w.logger.Warn("whatsapp: no client to reconnect")
			return
		}
		// A half-open socket makes Connect fail with "already connected".
		if w.client.IsConnected() {
			w.client.Disconnect()
			time.Sleep(100 * time.Millisecond)
		}
		if err := w.client.Connect(); err != nil {
			w.logger.Warn("whatsapp: reconnect failed", "attempt", attempt, "error", err)
			continue
		}
		w.logger.Info("whatsapp: socket reopened, waiting for login")
		return
	}
}
