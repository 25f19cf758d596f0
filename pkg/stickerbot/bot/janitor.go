package bot

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jholhewres/stickerbot/pkg/stickerbot/sticker"

	"github.com/robfig/cron/v3"
)

// JanitorConfig configures the scratch directory sweeper.
type JanitorConfig struct {
	Schedule string
	MaxAge   time.Duration
}

// Janitor removes scratch files orphaned by a crashed or killed process.
type Janitor struct {
	workspace *sticker.Workspace
	maxAge    time.Duration
	cron      *cron.Cron
	logger    *slog.Logger
}

// NewJanitor creates a janitor sweeping ws on cfg.Schedule.
func NewJanitor(ws *sticker.Workspace, cfg JanitorConfig, logger *slog.Logger) (*Janitor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 30 * time.Minute
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 10m"
	}

	j := &Janitor{
		workspace: ws,
		maxAge:    cfg.MaxAge,
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		))),
		logger: logger.With("component", "janitor"),
	}
	if _, err := j.cron.AddFunc(cfg.Schedule, func() { j.Sweep() }); err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", cfg.Schedule, err)
	}
	return j, nil
}

// Start sweeps once immediately, then on schedule.
func (j *Janitor) Start() {
	j.Sweep()
	j.cron.Start()
	j.logger.Info("janitor started", "dir", j.workspace.Dir(), "max_age", j.maxAge)
}

// Stop halts the schedule and waits for a running sweep.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(10 * time.Second):
		j.logger.Warn("janitor stop timed out")
	}
}

// Sweep removes stale scratch files and returns how many were deleted.
func (j *Janitor) Sweep() int {
	removed := j.workspace.CleanStale(j.maxAge)
	if removed > 0 {
		j.logger.Info("removed stale scratch files", "count", removed)
	}
	return removed
}
