package sticker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jholhewres/stickerbot/pkg/stickerbot/media"
)

// DefaultTrigger is the command that asks for a sticker.
const DefaultTrigger = "/fig"

// Stage is a step of the conversion state machine.
type Stage string

const (
	StageReceived    Stage = "received"
	StageDownloading Stage = "downloading"
	StageClassified  Stage = "classified"
	StageTranscoding Stage = "transcoding"
	StageSending     Stage = "sending"
	StageCompleted   Stage = "completed"
	StageFailed      Stage = "failed"
	StageIgnored     Stage = "ignored"
)

// MediaPayload is a fully buffered inbound attachment.
type MediaPayload struct {
	MimeType string
	Data     []byte
}

// Conversation is the inbound message plus the ways to answer it.
type Conversation interface {
	Body() string
	HasMedia() bool
	// DownloadMedia returns nil when no payload is available.
	DownloadMedia(ctx context.Context) (*MediaPayload, error)
	ReplyText(ctx context.Context, text string) error
	ReplySticker(ctx context.Context, att *Attachment) error
}

// Messages are the user-facing texts sent back to the conversation.
type Messages struct {
	// Converting is sent before downloading. Empty disables it.
	Converting       string `yaml:"converting"`
	DownloadFailed   string `yaml:"download_failed"`
	ProcessingFailed string `yaml:"processing_failed"`
}

// DefaultMessages returns the stock replies.
func DefaultMessages() Messages {
	return Messages{
		Converting:       "Converting to sticker...",
		DownloadFailed:   "Could not download the media. Please send it again.",
		ProcessingFailed: "Could not create the sticker. Please try another file.",
	}
}

// Outcome reports how one request ended.
type Outcome struct {
	RequestID string
	Stage     Stage
	Err       error
	Duration  time.Duration
}

// Failed reports whether the request ended in failure.
func (o Outcome) Failed() bool { return o.Stage == StageFailed }

// ConverterConfig configures a Converter.
type ConverterConfig struct {
	Trigger       string
	Workspace     *Workspace
	Transcoder    *Transcoder
	Validator     *media.Validator
	DownloadRetry RetryPolicy
	SendRetry     RetryPolicy
	Messages      Messages
	Logger        *slog.Logger
}

// Converter runs the conversion pipeline for one conversation at a time.
// It holds no per-request state and is safe for concurrent use.
type Converter struct {
	trigger       string
	workspace     *Workspace
	transcoder    *Transcoder
	validator     *media.Validator
	downloadRetry RetryPolicy
	sendRetry     RetryPolicy
	messages      Messages
	logger        *slog.Logger
}

// NewConverter creates a converter.
func NewConverter(cfg ConverterConfig) *Converter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	trigger := strings.TrimSpace(cfg.Trigger)
	if trigger == "" {
		trigger = DefaultTrigger
	}
	validator := cfg.Validator
	if validator == nil {
		validator = media.NewValidator(media.DefaultValidatorConfig())
	}
	return &Converter{
		trigger:       trigger,
		workspace:     cfg.Workspace,
		transcoder:    cfg.Transcoder,
		validator:     validator,
		downloadRetry: cfg.DownloadRetry,
		sendRetry:     cfg.SendRetry,
		messages:      cfg.Messages,
		logger:        logger.With("component", "converter"),
	}
}

// Trigger returns the configured trigger token.
func (c *Converter) Trigger() string { return c.trigger }

// Triggered reports whether body contains the trigger (case-insensitive) and
// media is attached.
func (c *Converter) Triggered(body string, hasMedia bool) bool {
	return Triggered(c.trigger, body, hasMedia)
}

// Triggered reports whether body contains trigger, ignoring case, and the
// message carries media.
func Triggered(trigger, body string, hasMedia bool) bool {
	if !hasMedia || trigger == "" {
		return false
	}
	return strings.Contains(strings.ToLower(body), strings.ToLower(trigger))
}

// Handle runs one conversation through the pipeline. Scratch files are
// always removed before Handle returns, and a failed request produces at most
// one failure notification.
func (c *Converter) Handle(ctx context.Context, conv Conversation) Outcome {
	start := time.Now()
	if !c.Triggered(conv.Body(), conv.HasMedia()) {
		return Outcome{Stage: StageIgnored}
	}

	run := &requestRun{c: c, conv: conv, stage: StageReceived}
	err := run.execute(ctx)

	outcome := Outcome{
		RequestID: run.req.ID,
		Stage:     StageCompleted,
		Duration:  time.Since(start),
	}
	logger := c.logger.With("request_id", run.req.ID)
	if err != nil {
		failedAt := run.stage
		outcome.Stage = StageFailed
		outcome.Err = &StageError{Stage: failedAt, RequestID: run.req.ID, Err: err}
		logger.Warn("sticker conversion failed",
			"stage", failedAt,
			"error", err,
			"duration_ms", outcome.Duration.Milliseconds(),
		)
		c.notifyFailure(ctx, conv, failedAt, logger)
		return outcome
	}

	logger.Info("sticker sent",
		"strategy", run.req.Strategy.String(),
		"duration_ms", outcome.Duration.Milliseconds(),
	)
	return outcome
}

// requestRun carries the mutable state of a single Handle call.
type requestRun struct {
	c     *Converter
	conv  Conversation
	stage Stage
	req   Request
}

func (r *requestRun) execute(ctx context.Context) (err error) {
	c := r.c
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	// Registered before any file exists, so cleanup covers every exit path.
	defer func() {
		if r.req.ID != "" {
			c.workspace.Cleanup(r.req)
		}
	}()

	if c.messages.Converting != "" {
		if err := r.conv.ReplyText(ctx, c.messages.Converting); err != nil {
			c.logger.Debug("failed to send acknowledgement", "error", err)
		}
	}

	r.stage = StageDownloading
	payload, err := Retry(ctx, c.downloadRetry, "download", func(ctx context.Context) (*MediaPayload, error) {
		p, err := r.conv.DownloadMedia(ctx)
		if err != nil {
			return nil, err
		}
		if p == nil || len(p.Data) == 0 {
			return nil, ErrEmptyResult
		}
		return p, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}

	r.stage = StageClassified
	mimeType := media.ResolveMimeType(payload.MimeType, payload.Data)
	strategy := Classify(mimeType)
	r.req = c.workspace.NewRequest(strategy)
	c.logger.Debug("media classified",
		"request_id", r.req.ID,
		"mime_type", mimeType,
		"strategy", strategy.String(),
		"bytes", len(payload.Data),
	)

	r.stage = StageTranscoding
	if _, err := c.validator.Validate(payload.Data, mimeType); err != nil {
		return err
	}
	if err := c.workspace.EnsureDir(); err != nil {
		return err
	}
	if err := c.workspace.Write(r.req.SourcePath, payload.Data); err != nil {
		return err
	}
	if err := c.transcoder.Transcode(ctx, r.req); err != nil {
		return err
	}

	r.stage = StageSending
	att, err := NewAttachmentFromFile(r.req.StickerPath)
	if err != nil {
		return transcodeFailed(strategy, err)
	}
	if att.Animated {
		c.logger.Debug("animated sticker ready",
			"request_id", r.req.ID,
			"frames", att.Frames,
			"duration_ms", att.Duration.Milliseconds(),
		)
	}
	_, err = Retry(ctx, c.sendRetry, "send", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.conv.ReplySticker(ctx, att)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	r.stage = StageCompleted
	return nil
}

// notifyFailure sends the single failure reply for a request. Errors are
// logged and swallowed.
func (c *Converter) notifyFailure(ctx context.Context, conv Conversation, stage Stage, logger *slog.Logger) {
	text := c.messages.ProcessingFailed
	if stage == StageDownloading {
		text = c.messages.DownloadFailed
	}
	if text == "" {
		return
	}
	// The request context may already be cancelled; give the reply its own
	// short window.
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := conv.ReplyText(notifyCtx, text); err != nil {
		logger.Warn("failed to send failure notification", "stage", stage, "error", err)
	}
}

