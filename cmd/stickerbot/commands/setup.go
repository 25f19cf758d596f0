package commands

import (
	"fmt"
	"log/slog"

	"github.com/jholhewres/stickerbot/pkg/stickerbot/config"
	"github.com/jholhewres/stickerbot/pkg/stickerbot/deps"
	"github.com/jholhewres/stickerbot/pkg/stickerbot/media"
	"github.com/jholhewres/stickerbot/pkg/stickerbot/sticker"

	"github.com/spf13/cobra"
)

// resolveConfig loads the --config file, else a discovered one, else the
// built-in defaults.
func resolveConfig(cmd *cobra.Command) (*config.Config, string, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")

	if configPath != "" {
		cfg, err := config.LoadConfigFromFile(configPath)
		if err != nil {
			return nil, "", fmt.Errorf("loading config: %w", err)
		}
		return cfg, configPath, nil
	}

	if found := config.FindConfigFile(); found != "" {
		cfg, err := config.LoadConfigFromFile(found)
		if err != nil {
			return nil, "", fmt.Errorf("loading config from %s: %w", found, err)
		}
		return cfg, found, nil
	}

	cfg, err := config.Load("")
	return cfg, "", err
}

// loggerFor builds the logger for cmd from cfg and the --verbose flag.
func loggerFor(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	return newLogger(cfg.Logging, verbose, cmd.ErrOrStderr())
}

// pipeline is the assembled conversion stack.
type pipeline struct {
	workspace *sticker.Workspace
	converter *sticker.Converter
	// probe reports whether ffprobe was found and enabled.
	probe bool
}

// buildPipeline wires the workspace, encoders and converter from cfg.
// ffprobe is only used when it resolves on PATH.
func buildPipeline(cfg *config.Config, logger *slog.Logger) *pipeline {
	s := cfg.Sticker

	probePath := ""
	if s.FFprobePath != "" {
		for _, st := range deps.CheckBinaries(deps.StickerRequirements(s.FFmpegPath, s.FFprobePath)) {
			if st.Name == "FFprobe" && st.Available {
				probePath = st.Path
			}
		}
		if probePath == "" {
			logger.Warn("ffprobe not found, animated sources will not be probed", "ffprobe_path", s.FFprobePath)
		}
	}

	ws := sticker.NewWorkspace(s.ScratchDir, logger)
	transcoder := sticker.NewTranscoder(sticker.TranscoderConfig{
		Static: sticker.NewImageEncoder(s.CanvasSize, cfg.StickerFit(), s.Quality),
		Animated: sticker.NewFFmpegEncoder(sticker.FFmpegConfig{
			Binary:      s.FFmpegPath,
			ProbeBinary: probePath,
			Size:        s.CanvasSize,
			MaxDuration: s.MaxDuration,
			Logger:      logger,
		}),
		Timeout: s.TranscodeTimeout,
		Logger:  logger,
	})

	converter := sticker.NewConverter(sticker.ConverterConfig{
		Trigger:       s.Trigger,
		Workspace:     ws,
		Transcoder:    transcoder,
		Validator:     media.NewValidator(media.UniformLimit(s.MaxMediaSizeMB)),
		DownloadRetry: s.DownloadRetry,
		SendRetry:     s.SendRetry,
		Messages:      s.Messages,
		Logger:        logger,
	})

	return &pipeline{workspace: ws, converter: converter, probe: probePath != ""}
}
