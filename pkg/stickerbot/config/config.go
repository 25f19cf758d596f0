// Package config defines the StickerBot configuration and loads it from YAML
// with environment variable expansion.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/jholhewres/stickerbot/pkg/stickerbot/channels/whatsapp"
	"github.com/jholhewres/stickerbot/pkg/stickerbot/keepalive"
	"github.com/jholhewres/stickerbot/pkg/stickerbot/sticker"

	"github.com/robfig/cron/v3"
)

// Config is the top-level StickerBot configuration.
type Config struct {
	// Name identifies the bot in logs.
	Name string `yaml:"name"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`

	// Channels configures the messaging channels.
	Channels ChannelsConfig `yaml:"channels"`

	// Sticker configures the conversion pipeline.
	Sticker StickerConfig `yaml:"sticker"`

	// Keepalive configures the HTTP keep-alive listener.
	Keepalive keepalive.Config `yaml:"keepalive"`

	// LockFile guards the WhatsApp session against a second daemon.
	// Defaults to {session_dir}/stickerbot.lock.
	LockFile string `yaml:"lock_file"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error").
	Level string `yaml:"level"`

	// Format is the log format ("json", "text"). Empty picks text on a
	// terminal and json otherwise.
	Format string `yaml:"format"`
}

// ChannelsConfig holds per-channel settings.
type ChannelsConfig struct {
	WhatsApp whatsapp.Config `yaml:"whatsapp"`
}

// StickerConfig configures the conversion pipeline.
type StickerConfig struct {
	// Trigger is the command that requests a sticker (case-insensitive).
	Trigger string `yaml:"trigger"`

	// ScratchDir holds the temporary source and sticker files.
	ScratchDir string `yaml:"scratch_dir"`

	// Fit is "contain" (pad with transparency) or "cover" (crop).
	Fit string `yaml:"fit"`

	// Quality is the lossy WebP quality for still stickers (1-100).
	Quality float32 `yaml:"quality"`

	// CanvasSize is the square sticker size in pixels.
	CanvasSize int `yaml:"canvas_size"`

	// MaxDuration caps animated stickers.
	MaxDuration time.Duration `yaml:"max_duration"`

	// TranscodeTimeout bounds every transcode.
	TranscodeTimeout time.Duration `yaml:"transcode_timeout"`

	// RequestTimeout bounds one request end to end.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	FFmpegPath string `yaml:"ffmpeg_path"`

	// FFprobePath enables probing animated sources before transcoding.
	// Empty disables the probe.
	FFprobePath string `yaml:"ffprobe_path"`

	// MaxMediaSizeMB rejects larger payloads (0 = unlimited).
	MaxMediaSizeMB int `yaml:"max_media_size_mb"`

	// MaxConcurrent bounds the number of requests handled at once.
	MaxConcurrent int `yaml:"max_concurrent"`

	DownloadRetry sticker.RetryPolicy `yaml:"download_retry"`
	SendRetry     sticker.RetryPolicy `yaml:"send_retry"`

	Janitor JanitorConfig `yaml:"janitor"`

	Messages sticker.Messages `yaml:"messages"`
}

// JanitorConfig configures the periodic removal of orphaned scratch files.
type JanitorConfig struct {
	Enabled bool `yaml:"enabled"`

	// Schedule is a cron expression or descriptor such as "@every 10m".
	Schedule string `yaml:"schedule"`

	// MaxAge is how old a scratch file must be before it is removed.
	MaxAge time.Duration `yaml:"max_age"`
}

// DefaultConfig returns the configuration used when no file overrides it.
func DefaultConfig() *Config {
	wa := whatsapp.DefaultConfig()
	wa.SessionDir = "./sessions/whatsapp"

	return &Config{
		Name: "StickerBot",
		Logging: LoggingConfig{
			Level: "info",
		},
		Channels: ChannelsConfig{
			WhatsApp: wa,
		},
		Sticker:   DefaultStickerConfig(),
		Keepalive: keepalive.DefaultConfig(),
	}
}

// DefaultStickerConfig returns the pipeline defaults.
func DefaultStickerConfig() StickerConfig {
	return StickerConfig{
		Trigger:          sticker.DefaultTrigger,
		ScratchDir:       "./tmp",
		Fit:              string(sticker.FitContain),
		Quality:          sticker.DefaultQuality,
		CanvasSize:       sticker.CanvasSize,
		MaxDuration:      sticker.DefaultMaxDuration,
		TranscodeTimeout: 60 * time.Second,
		RequestTimeout:   3 * time.Minute,
		FFmpegPath:       "ffmpeg",
		FFprobePath:      "ffprobe",
		MaxMediaSizeMB:   16,
		MaxConcurrent:    4,
		DownloadRetry:    sticker.DefaultRetryPolicy(),
		SendRetry:        sticker.DefaultRetryPolicy(),
		Janitor: JanitorConfig{
			Enabled:  true,
			Schedule: "@every 10m",
			MaxAge:   30 * time.Minute,
		},
		Messages: sticker.DefaultMessages(),
	}
}

// applyDefaults fills zero values left by sections that were present but
// empty in the YAML.
func (c *Config) applyDefaults() {
	d := DefaultConfig()

	if c.Name == "" {
		c.Name = d.Name
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Channels.WhatsApp.SessionDir == "" && c.Channels.WhatsApp.DatabasePath == "" {
		c.Channels.WhatsApp.SessionDir = d.Channels.WhatsApp.SessionDir
	}
	if c.Keepalive.Address == "" {
		c.Keepalive.Address = d.Keepalive.Address
	}

	s, ds := &c.Sticker, d.Sticker
	if strings.TrimSpace(s.Trigger) == "" {
		s.Trigger = ds.Trigger
	}
	if s.ScratchDir == "" {
		s.ScratchDir = ds.ScratchDir
	}
	if s.Fit == "" {
		s.Fit = ds.Fit
	}
	if s.Quality == 0 {
		s.Quality = ds.Quality
	}
	if s.CanvasSize == 0 {
		s.CanvasSize = ds.CanvasSize
	}
	if s.MaxDuration == 0 {
		s.MaxDuration = ds.MaxDuration
	}
	if s.TranscodeTimeout == 0 {
		s.TranscodeTimeout = ds.TranscodeTimeout
	}
	if s.RequestTimeout == 0 {
		s.RequestTimeout = ds.RequestTimeout
	}
	if s.FFmpegPath == "" {
		s.FFmpegPath = ds.FFmpegPath
	}
	if s.MaxConcurrent == 0 {
		s.MaxConcurrent = ds.MaxConcurrent
	}
	if s.DownloadRetry.MaxAttempts == 0 {
		s.DownloadRetry = ds.DownloadRetry
	}
	if s.SendRetry.MaxAttempts == 0 {
		s.SendRetry = ds.SendRetry
	}
	if s.Janitor.Schedule == "" {
		s.Janitor.Schedule = ds.Janitor.Schedule
	}
	if s.Janitor.MaxAge == 0 {
		s.Janitor.MaxAge = ds.Janitor.MaxAge
	}
	if s.Messages.DownloadFailed == "" {
		s.Messages.DownloadFailed = ds.Messages.DownloadFailed
	}
	if s.Messages.ProcessingFailed == "" {
		s.Messages.ProcessingFailed = ds.Messages.ProcessingFailed
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	s := c.Sticker
	if _, err := sticker.ParseFit(s.Fit); err != nil {
		return fmt.Errorf("sticker.fit: %w", err)
	}
	if s.Quality < 1 || s.Quality > 100 {
		return fmt.Errorf("sticker.quality must be between 1 and 100, got %v", s.Quality)
	}
	if s.CanvasSize < 16 || s.CanvasSize > 2048 {
		return fmt.Errorf("sticker.canvas_size must be between 16 and 2048, got %d", s.CanvasSize)
	}
	if s.MaxConcurrent < 1 {
		return fmt.Errorf("sticker.max_concurrent must be at least 1, got %d", s.MaxConcurrent)
	}
	if s.MaxMediaSizeMB < 0 {
		return fmt.Errorf("sticker.max_media_size_mb must not be negative")
	}
	if s.DownloadRetry.MaxAttempts < 1 || s.SendRetry.MaxAttempts < 1 {
		return fmt.Errorf("sticker retry max_attempts must be at least 1")
	}
	if s.DownloadRetry.Delay < 0 || s.SendRetry.Delay < 0 {
		return fmt.Errorf("sticker retry delay must not be negative")
	}
	if s.MaxDuration < 0 || s.MaxDuration > sticker.DefaultMaxDuration {
		return fmt.Errorf("sticker.max_duration must be between 0 and %s, got %s", sticker.DefaultMaxDuration, s.MaxDuration)
	}
	if s.TranscodeTimeout < 0 || s.RequestTimeout < 0 {
		return fmt.Errorf("sticker timeouts must not be negative")
	}
	if s.Janitor.Enabled {
		if _, err := cron.ParseStandard(s.Janitor.Schedule); err != nil {
			return fmt.Errorf("sticker.janitor.schedule %q: %w", s.Janitor.Schedule, err)
		}
		if window := s.RequestWindow(); s.Janitor.MaxAge <= window {
			return fmt.Errorf("sticker.janitor.max_age (%s) must exceed the longest a request can hold its files (%s)",
				s.Janitor.MaxAge, window)
		}
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}
	if !c.Channels.WhatsApp.RespondToDMs && !c.Channels.WhatsApp.RespondToGroups {
		return fmt.Errorf("channels.whatsapp: respond_to_dms and respond_to_groups are both disabled")
	}
	return nil
}

// RequestWindow is the longest a request can keep files in the scratch
// directory: the request timeout, or the transcode timeout plus every retry
// delay when that is longer.
func (s StickerConfig) RequestWindow() time.Duration {
	retries := time.Duration(max(0, s.DownloadRetry.MaxAttempts-1))*s.DownloadRetry.Delay +
		time.Duration(max(0, s.SendRetry.MaxAttempts-1))*s.SendRetry.Delay
	return max(s.RequestTimeout, s.TranscodeTimeout+retries)
}

// StickerFit returns the parsed fit policy.
func (c *Config) StickerFit() sticker.Fit {
	fit, err := sticker.ParseFit(c.Sticker.Fit)
	if err != nil {
		return sticker.FitContain
	}
	return fit
}

// ResolvedLockFile returns the lock file path, defaulting next to the
// session database.
func (c *Config) ResolvedLockFile() string {
	if c.LockFile != "" {
		return c.LockFile
	}
	return strings.TrimSuffix(c.Channels.WhatsApp.SessionDatabase(), ".db") + ".lock"
}
