// Package bot connects a messaging channel to the sticker converter: it reads
// incoming messages, picks the ones that ask for a sticker and runs each
// through the conversion pipeline concurrently.
package bot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jholhewres/stickerbot/pkg/stickerbot/channels"
	"github.com/jholhewres/stickerbot/pkg/stickerbot/sticker"
)

// Config configures a Bot.
type Config struct {
	// MaxConcurrent bounds in-flight conversions. Default: 4.
	MaxConcurrent int

	// RequestTimeout bounds one conversion end to end. Default: 3m.
	RequestTimeout time.Duration

	// DrainTimeout is how long Run waits for in-flight conversions after
	// its context ends before cancelling them. Default: 10s.
	DrainTimeout time.Duration

	Logger *slog.Logger
}

// Bot dispatches triggered messages to the converter.
type Bot struct {
	channel   channels.MediaChannel
	converter *sticker.Converter
	cfg       Config
	logger    *slog.Logger

	sem chan struct{}
	wg  sync.WaitGroup

	// onOutcome observes finished requests (tests).
	onOutcome func(sticker.Outcome)
}

// New creates a bot reading from ch.
func New(ch channels.MediaChannel, conv *sticker.Converter, cfg Config) *Bot {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 3 * time.Minute
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 10 * time.Second
	}
	return &Bot{
		channel:   ch,
		converter: conv,
		cfg:       cfg,
		logger:    logger.With("component", "bot"),
		sem:       make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Run consumes messages until ctx ends or the channel's stream closes, then
// waits for in-flight conversions. Conversions outlive ctx by at most
// DrainTimeout; every one still removes its scratch files.
func (b *Bot) Run(ctx context.Context) error {
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	b.logger.Info("bot started",
		"channel", b.channel.Name(),
		"trigger", b.converter.Trigger(),
		"max_concurrent", b.cfg.MaxConcurrent)

	incoming := b.channel.Receive()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case msg, ok := <-incoming:
			if !ok {
				b.logger.Info("message stream closed")
				break loop
			}
			if !b.converter.Triggered(msg.Content, msg.HasMedia()) {
				continue
			}
			if !b.acquire(ctx) {
				break loop
			}
			b.wg.Add(1)
			go b.handle(workCtx, msg)
		}
	}

	b.drain(cancelWork)
	b.logger.Info("bot stopped")
	return ctx.Err()
}

func (b *Bot) acquire(ctx context.Context) bool {
	select {
	case b.sem <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (b *Bot) handle(ctx context.Context, msg *channels.IncomingMessage) {
	defer b.wg.Done()
	defer func() { <-b.sem }()

	ctx, cancel := context.WithTimeout(ctx, b.cfg.RequestTimeout)
	defer cancel()

	conv := newConversation(b.channel, msg)
	conv.typing(ctx)

	b.logger.Debug("sticker requested",
		"message_id", msg.ID,
		"chat", msg.ChatID,
		"from", msg.FromName,
		"type", msg.Type)

	outcome := b.converter.Handle(ctx, conv)
	if b.onOutcome != nil {
		b.onOutcome(outcome)
	}
}

// drain waits for in-flight conversions, cancelling them after DrainTimeout.
func (b *Bot) drain(cancelWork context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(b.cfg.DrainTimeout):
		b.logger.Warn("in-flight conversions still running, cancelling",
			"drain_timeout", b.cfg.DrainTimeout)
		cancelWork()
	}
	<-done
}
