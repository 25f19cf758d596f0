package commands

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jholhewres/stickerbot/pkg/stickerbot/config"
	"github.com/jholhewres/stickerbot/pkg/stickerbot/sticker"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

// newInitCmd creates the `stickerbot init` setup wizard.
func newInitCmd() *cobra.Command {
	var (
		output string
		force  bool
		yes    bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactive setup wizard",
		Long: `Starts an interactive wizard that writes a config.yaml with the trigger
command, sticker fit, chat filters and keep-alive settings.

Examples:
  stickerbot init
  stickerbot init --output ./configs/config.yaml
  stickerbot init --yes   # write the defaults without prompting`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(output); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", output)
			}

			answers := defaultAnswers()
			if !yes {
				if err := askAnswers(&answers); err != nil {
					if errors.Is(err, huh.ErrUserAborted) {
						fmt.Fprintln(cmd.OutOrStdout(), "Setup cancelled.")
						return nil
					}
					return err
				}
			}

			cfg, err := answers.apply(config.DefaultConfig())
			if err != nil {
				return err
			}
			if err := config.SaveConfigToFile(cfg, output); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config written to %s\n", output)
			fmt.Fprintln(out, "Next: run `stickerbot doctor`, then `stickerbot serve` and scan the QR code.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "config.yaml", "where to write the config")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "accept the defaults without prompting")
	return cmd
}

// setupAnswers holds the wizard fields in their input form.
type setupAnswers struct {
	Name            string
	Trigger         string
	Fit             string
	Quality         string
	RespondToDMs    bool
	RespondToGroups bool
	Acknowledge     bool
	Keepalive       bool
	KeepaliveAddr   string
}

func defaultAnswers() setupAnswers {
	cfg := config.DefaultConfig()
	return setupAnswers{
		Name:            cfg.Name,
		Trigger:         cfg.Sticker.Trigger,
		Fit:             cfg.Sticker.Fit,
		Quality:         strconv.Itoa(int(cfg.Sticker.Quality)),
		RespondToDMs:    cfg.Channels.WhatsApp.RespondToDMs,
		RespondToGroups: cfg.Channels.WhatsApp.RespondToGroups,
		Acknowledge:     cfg.Sticker.Messages.Converting != "",
		Keepalive:       cfg.Keepalive.Enabled,
		KeepaliveAddr:   cfg.Keepalive.Address,
	}
}

func askAnswers(a *setupAnswers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Bot name").
				Value(&a.Name),
			huh.NewInput().
				Title("Trigger command").
				Description("Send it as the caption of an image or video.").
				Value(&a.Trigger).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("trigger is required")
					}
					return nil
				}),
			huh.NewSelect[string]().
				Title("How should non-square media fit the canvas?").
				Options(
					huh.NewOption("Contain: keep everything, pad with transparency", string(sticker.FitContain)),
					huh.NewOption("Cover: fill the square, crop the edges", string(sticker.FitCover)),
				).
				Value(&a.Fit),
			huh.NewInput().
				Title("WebP quality (1-100)").
				Value(&a.Quality).
				Validate(validateQuality),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Answer direct messages?").
				Value(&a.RespondToDMs),
			huh.NewConfirm().
				Title("Answer in groups?").
				Value(&a.RespondToGroups),
			huh.NewConfirm().
				Title("Send a \"converting\" note before each sticker?").
				Value(&a.Acknowledge),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Expose the keep-alive HTTP endpoint?").
				Description("Lets hosting platforms ping /health.").
				Value(&a.Keepalive),
			huh.NewInput().
				Title("Keep-alive listen address").
				Value(&a.KeepaliveAddr),
		),
	)
	return form.Run()
}

func validateQuality(s string) error {
	q, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || q < 1 || q > 100 {
		return errors.New("enter a number between 1 and 100")
	}
	return nil
}

// apply copies the answers onto cfg and validates the result.
func (a setupAnswers) apply(cfg *config.Config) (*config.Config, error) {
	if name := strings.TrimSpace(a.Name); name != "" {
		cfg.Name = name
	}
	if trigger := strings.TrimSpace(a.Trigger); trigger != "" {
		cfg.Sticker.Trigger = trigger
	}
	if a.Fit != "" {
		cfg.Sticker.Fit = a.Fit
	}
	if err := validateQuality(a.Quality); err != nil {
		return nil, fmt.Errorf("quality: %w", err)
	}
	q, _ := strconv.Atoi(strings.TrimSpace(a.Quality))
	cfg.Sticker.Quality = float32(q)

	cfg.Channels.WhatsApp.RespondToDMs = a.RespondToDMs
	cfg.Channels.WhatsApp.RespondToGroups = a.RespondToGroups
	if !a.Acknowledge {
		cfg.Sticker.Messages.Converting = ""
	}

	cfg.Keepalive.Enabled = a.Keepalive
	if addr := strings.TrimSpace(a.KeepaliveAddr); addr != "" {
		cfg.Keepalive.Address = addr
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
