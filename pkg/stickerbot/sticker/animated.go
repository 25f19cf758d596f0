package sticker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/jholhewres/stickerbot/pkg/stickerbot/media/ffprobe"
)

// DefaultMaxDuration caps animated stickers.
const DefaultMaxDuration = 10 * time.Second

// ErrNoVideoStream is returned when a probed source carries no picture.
var ErrNoVideoStream = errors.New("no video stream")

// FFmpegConfig configures an FFmpegEncoder.
type FFmpegConfig struct {
	// Binary is the ffmpeg executable. Defaults to "ffmpeg".
	Binary string
	// ProbeBinary enables a pre-flight ffprobe when set.
	ProbeBinary string
	Size        int
	MaxDuration time.Duration
	Logger      *slog.Logger
}

// FFmpegEncoder converts GIF and MP4 sources into looping animated WebP by
// running ffmpeg as a child process.
type FFmpegEncoder struct {
	binary      string
	probe       string
	size        int
	maxDuration time.Duration
	logger      *slog.Logger
}

// NewFFmpegEncoder creates an animated encoder.
func NewFFmpegEncoder(cfg FFmpegConfig) *FFmpegEncoder {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	binary := strings.TrimSpace(cfg.Binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	size := cfg.Size
	if size <= 0 {
		size = CanvasSize
	}
	maxDuration := cfg.MaxDuration
	if maxDuration <= 0 {
		maxDuration = DefaultMaxDuration
	}
	return &FFmpegEncoder{
		binary:      binary,
		probe:       strings.TrimSpace(cfg.ProbeBinary),
		size:        size,
		maxDuration: maxDuration,
		logger:      logger.With("component", "ffmpeg"),
	}
}

// Args returns the ffmpeg argument list for src -> dst.
func (e *FFmpegEncoder) Args(src, dst string) []string {
	s := strconv.Itoa(e.size)
	filter := fmt.Sprintf(
		"scale=%s:%s:force_original_aspect_ratio=decrease:flags=lanczos,format=rgba,pad=%s:%s:(ow-iw)/2:(oh-ih)/2:color=0x00000000",
		s, s, s, s,
	)
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-y",
		"-i", src,
		"-vf", filter,
		"-c:v", "libwebp",
		"-loop", "0",
		"-preset", "default",
		"-an",
		"-fps_mode", "passthrough",
		"-t", formatSeconds(e.maxDuration),
		dst,
	}
}

// Encode runs ffmpeg and waits for its single terminal event: process exit or
// context cancellation (which kills the process).
func (e *FFmpegEncoder) Encode(ctx context.Context, src, dst string) error {
	if e.probe != "" {
		result, err := ffprobe.Inspect(ctx, e.probe, src)
		if err != nil {
			return err
		}
		if !result.HasVideo() {
			return ErrNoVideoStream
		}
	}

	var stderr strings.Builder
	cmd := exec.CommandContext(ctx, e.binary, e.Args(src, dst)...)
	cmd.Stdout = nil
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting ffmpeg: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	err := <-done
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 512 {
			msg = msg[len(msg)-512:]
		}
		e.logger.Warn("ffmpeg failed", "src", src, "error", err, "stderr", msg)
		if msg != "" {
			return fmt.Errorf("ffmpeg: %w: %s", err, msg)
		}
		return fmt.Errorf("ffmpeg: %w", err)
	}
	return nil
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
