package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jholhewres/stickerbot/pkg/stickerbot/bot"
	"github.com/jholhewres/stickerbot/pkg/stickerbot/channels/whatsapp"
	"github.com/jholhewres/stickerbot/pkg/stickerbot/deps"
	"github.com/jholhewres/stickerbot/pkg/stickerbot/keepalive"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

// newServeCmd creates the `stickerbot serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to WhatsApp and answer sticker requests",
		Long: `Start StickerBot as a daemon: link or resume the WhatsApp session,
then reply to every message that carries media and the trigger command
with a sticker.

Examples:
  stickerbot serve
  stickerbot serve --config ./config.yaml -v`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	// ── Load config ──
	cfg, configPath, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	// ── Configure logger ──
	logger := loggerFor(cmd, cfg)
	slog.SetDefault(logger)
	if configPath != "" {
		logger.Info("config loaded", "path", configPath)
	} else {
		logger.Info("no config file found, using defaults")
	}

	// ── Preflight ──
	for _, st := range deps.MissingRequired(deps.CheckBinaries(
		deps.StickerRequirements(cfg.Sticker.FFmpegPath, cfg.Sticker.FFprobePath))) {
		logger.Warn("required binary missing, animated stickers will fail",
			"binary", st.Command, "detail", st.Detail)
	}

	// ── Single instance lock ──
	lockPath := cfg.ResolvedLockFile()
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o700); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}
	if db := cfg.Channels.WhatsApp.SessionDatabase(); db != "" {
		if err := os.MkdirAll(filepath.Dir(db), 0o700); err != nil {
			return fmt.Errorf("creating session directory: %w", err)
		}
	}
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return errors.New("another stickerbot instance is already using this session")
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("failed to release lock", "error", err)
		}
	}()

	// ── Context ──
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Pipeline ──
	p := buildPipeline(cfg, logger)
	if err := p.workspace.EnsureDir(); err != nil {
		return err
	}

	// ── WhatsApp ──
	wa := whatsapp.New(cfg.Channels.WhatsApp, logger)
	wa.AddConnectionObserver(whatsapp.ConnectionObserverFunc(func(evt whatsapp.ConnectionEvent) {
		logger.Info("whatsapp connection changed",
			"state", evt.State,
			"previous", evt.Previous,
			"reason", evt.Reason)
	}))
	qrCh, unsubscribeQR := wa.SubscribeQR()
	defer unsubscribeQR()
	go renderQR(ctx, wa, qrCh, cmd.OutOrStdout(), logger)

	if err := wa.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to WhatsApp: %w", err)
	}

	// ── Keep-alive ──
	var ka *keepalive.Server
	if cfg.Keepalive.Enabled {
		ka = keepalive.New(cfg.Keepalive, logger, wa)
		if err := ka.Start(ctx); err != nil {
			_ = wa.Disconnect()
			return err
		}
	}

	// ── Janitor ──
	var janitor *bot.Janitor
	if cfg.Sticker.Janitor.Enabled {
		janitor, err = bot.NewJanitor(p.workspace, bot.JanitorConfig{
			Schedule: cfg.Sticker.Janitor.Schedule,
			MaxAge:   cfg.Sticker.Janitor.MaxAge,
		}, logger)
		if err != nil {
			_ = wa.Disconnect()
			return err
		}
		janitor.Start()
	}

	// ── Bot ──
	b := bot.New(wa, p.converter, bot.Config{
		MaxConcurrent:  cfg.Sticker.MaxConcurrent,
		RequestTimeout: cfg.Sticker.RequestTimeout,
		DrainTimeout:   shutdownTimeout,
		Logger:        logger,
	})
	botDone := make(chan struct{})
	go func() {
		defer close(botDone)
		_ = b.Run(ctx)
	}()

	logger.Info("StickerBot running. Press Ctrl+C to stop.",
		"name", cfg.Name,
		"trigger", p.converter.Trigger(),
		"animated_probe", p.probe)

	<-ctx.Done()
	logger.Info("shutdown signal received, stopping...")

	// ── Graceful shutdown ──
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout+5*time.Second)
	defer cancel()

	select {
	case <-botDone:
	case <-shutdownCtx.Done():
		logger.Warn("in-flight conversions did not finish in time")
	}
	if janitor != nil {
		janitor.Stop()
	}
	if ka != nil {
		if err := ka.Stop(shutdownCtx); err != nil {
			logger.Warn("keepalive shutdown failed", "error", err)
		}
	}
	if err := wa.Disconnect(); err != nil {
		logger.Warn("whatsapp disconnect failed", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}
