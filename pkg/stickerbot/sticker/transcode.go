package sticker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// Fit controls how a still image is mapped onto the square canvas.
type Fit string

const (
	// FitContain scales to fit and pads with transparency.
	FitContain Fit = "contain"
	// FitCover scales to fill and crops the overflow around the centre.
	FitCover Fit = "cover"
)

// ParseFit accepts "contain" or "cover"; empty means contain.
func ParseFit(s string) (Fit, error) {
	switch Fit(s) {
	case "", FitContain:
		return FitContain, nil
	case FitCover:
		return FitCover, nil
	default:
		return "", fmt.Errorf("unknown fit %q (want contain or cover)", s)
	}
}

// Encoder turns the file at src into a WebP sticker at dst.
type Encoder interface {
	Encode(ctx context.Context, src, dst string) error
}

// EncoderFunc adapts a function to the Encoder interface.
type EncoderFunc func(ctx context.Context, src, dst string) error

func (f EncoderFunc) Encode(ctx context.Context, src, dst string) error { return f(ctx, src, dst) }

// TranscoderConfig configures a Transcoder.
type TranscoderConfig struct {
	Static   Encoder
	Animated Encoder
	// Timeout bounds every Transcode call. Zero means no deadline.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Transcoder dispatches a request to the encoder for its strategy and checks
// that a sticker was actually produced.
type Transcoder struct {
	static   Encoder
	animated Encoder
	timeout  time.Duration
	logger   *slog.Logger
}

// NewTranscoder creates a transcoder.
func NewTranscoder(cfg TranscoderConfig) *Transcoder {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Transcoder{
		static:   cfg.Static,
		animated: cfg.Animated,
		timeout:  cfg.Timeout,
		logger:   logger.With("component", "transcoder"),
	}
}

// Transcode encodes req.SourcePath into req.StickerPath. Every failure is a
// *TranscodeError; a deadline hit unwraps to ErrTimeout and a missing or
// empty output unwraps to ErrOutputMissing.
func (t *Transcoder) Transcode(ctx context.Context, req Request) error {
	var enc Encoder
	switch req.Strategy.Kind {
	case KindStatic:
		enc = t.static
	case KindAnimated:
		enc = t.animated
	default:
		return transcodeFailed(req.Strategy, fmt.Errorf("unsupported strategy %q", req.Strategy.Kind))
	}
	if enc == nil {
		return transcodeFailed(req.Strategy, fmt.Errorf("no encoder configured for %s", req.Strategy.Kind))
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	start := time.Now()
	err := enc.Encode(ctx, req.SourcePath, req.StickerPath)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return transcodeFailed(req.Strategy, fmt.Errorf("%w after %s", ErrTimeout, t.timeout))
	}
	if err != nil {
		return transcodeFailed(req.Strategy, err)
	}

	info, statErr := os.Stat(req.StickerPath)
	if statErr != nil || info.Size() == 0 {
		return transcodeFailed(req.Strategy, ErrOutputMissing)
	}

	t.logger.Debug("sticker encoded",
		"request_id", req.ID,
		"strategy", req.Strategy.String(),
		"bytes", info.Size(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}
