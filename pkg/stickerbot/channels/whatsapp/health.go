// Package whatsapp – health.go watches the connection for silent drops and
// keeps it warm with periodic presence updates.
package whatsapp

import (
	"context"
	"time"
)

// HealthMonitorConfig configures proactive connection health monitoring.
type HealthMonitorConfig struct {
	Enabled bool `yaml:"enabled"`

	// CheckInterval is how often to perform health checks. Default: 30s.
	CheckInterval time.Duration `yaml:"check_interval"`

	// MaxSilentDuration is how long the connection may stay without any
	// activity before it is inspected. Default: 5m.
	MaxSilentDuration time.Duration `yaml:"max_silent_duration"`

	// ForceReconnectAfter forces a reconnection after this much silence even
	// when the client still reports connected (0 = disabled).
	ForceReconnectAfter time.Duration `yaml:"force_reconnect_after"`

	// PingInterval is how often a presence update is sent. Default: 2m.
	PingInterval time.Duration `yaml:"ping_interval"`
}

// DefaultHealthMonitorConfig returns sensible defaults.
func DefaultHealthMonitorConfig() HealthMonitorConfig {
	return HealthMonitorConfig{
		Enabled:             true,
		CheckInterval:       30 * time.Second,
		MaxSilentDuration:   5 * time.Minute,
		ForceReconnectAfter: 15 * time.Minute,
		PingInterval:        2 * time.Minute,
	}
}

func (c HealthMonitorConfig) withDefaults() HealthMonitorConfig {
	if c.CheckInterval <= 0 {
		c.CheckInterval = 30 * time.Second
	}
	if c.MaxSilentDuration <= 0 {
		c.MaxSilentDuration = 5 * time.Minute
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 2 * time.Minute
	}
	return c
}

// StartHealthMonitor runs the health check and pinger goroutines until ctx
// is cancelled. Calling it again while running is a no-op.
func (w *WhatsApp) StartHealthMonitor(ctx context.Context, cfg HealthMonitorConfig) {
	if !cfg.Enabled {
		return
	}
	if !w.monitorRunning.CompareAndSwap(false, true) {
		return
	}
	cfg = cfg.withDefaults()

	go func() {
		defer w.monitorRunning.Store(false)
		ticker := time.NewTicker(cfg.CheckInterval)
		defer ticker.Stop()

		w.logger.Info("whatsapp: health monitor started",
			"check_interval", cfg.CheckInterval,
			"max_silent", cfg.MaxSilentDuration,
			"force_reconnect_after", cfg.ForceReconnectAfter)

		for {
			select {
			case <-ctx.Done():
				w.logger.Info("whatsapp: health monitor stopped")
				return
			case <-ticker.C:
				w.performHealthCheck(cfg)
			}
		}
	}()

	go w.runPinger(ctx, cfg.PingInterval)
}

func (w *WhatsApp) runPinger(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.getState() != StateConnected {
				continue
			}
			if err := w.SendPresence(ctx, true); err != nil {
				w.logger.Warn("whatsapp: pinger failed to send presence", "error", err)
				continue
			}
			w.logger.Debug("whatsapp: pinger sent presence update")
			w.UpdateLastMsgTime()
		}
	}
}

// performHealthCheck returns the action taken, for logging and tests.
func (w *WhatsApp) performHealthCheck(cfg HealthMonitorConfig) healthAction {
	state := w.getState()
	if state != StateConnected {
		return healthSkipped
	}

	silent := time.Since(w.getLastMsgTime())
	if silent <= cfg.MaxSilentDuration {
		return healthOK
	}

	w.logger.Warn("whatsapp: connection silent for too long",
		"silent_duration", silent,
		"max_silent", cfg.MaxSilentDuration)

	if w.client != nil && !w.client.IsConnected() {
		w.logger.Error("whatsapp: client reports disconnected but state is connected")
		w.forceReconnect()
		return healthReconnect
	}

	if cfg.ForceReconnectAfter > 0 && silent > cfg.ForceReconnectAfter {
		w.logger.Warn("whatsapp: forcing preventive reconnection",
			"silent_duration", silent,
			"force_reconnect_after", cfg.ForceReconnectAfter)
		w.forceReconnect()
		return healthReconnect
	}

	return healthSilent
}

type healthAction string

const (
	healthSkipped   healthAction = "skipped"
	healthOK        healthAction = "ok"
	healthSilent    healthAction = "silent"
	healthReconnect healthAction = "reconnect"
)

// forceReconnect drops the connected flag and redials in the background.
func (w *WhatsApp) forceReconnect() {
	w.transition(StateReconnecting, "forced_reconnect", nil)
	if w.client != nil {
		go w.attemptReconnect()
	}
}

func (w *WhatsApp) getLastMsgTime() time.Time {
	if v := w.lastMsg.Load(); v != nil {
		return v.(time.Time)
	}
	return time.Time{}
}

// UpdateLastMsgTime records connection activity.
func (w *WhatsApp) UpdateLastMsgTime() {
	w.lastMsg.Store(time.Now())
}
