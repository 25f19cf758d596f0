package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jholhewres/stickerbot/pkg/stickerbot/config"
	"github.com/jholhewres/stickerbot/pkg/stickerbot/deps"
	"github.com/jholhewres/stickerbot/pkg/stickerbot/sticker"

	"github.com/spf13/cobra"
)

// check is one row of the doctor report.
type check struct {
	Name     string
	OK       bool
	Optional bool
	Detail   string
}

func (c check) status() string {
	switch {
	case c.OK:
		return "ok"
	case c.Optional:
		return "warn"
	default:
		return "FAIL"
	}
}

// newDoctorCmd creates the `stickerbot doctor` command.
func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check binaries, directories and the WhatsApp session",
		Long: `Verify that everything StickerBot needs is in place: FFmpeg and FFprobe
on PATH, a writable scratch directory and the WhatsApp session store.

Exits with an error when a required check fails.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, configPath, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			if configPath == "" {
				configPath = "(defaults)"
			}

			checks := runChecks(cfg)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config: %s\n", configPath)
			fmt.Fprintln(out, renderChecks(checks))

			if failed := failedChecks(checks); failed > 0 {
				return fmt.Errorf("%d required check(s) failed", failed)
			}
			fmt.Fprintln(out, "All required checks passed.")
			return nil
		},
	}
}

func runChecks(cfg *config.Config) []check {
	var checks []check

	for _, st := range deps.CheckBinaries(deps.StickerRequirements(cfg.Sticker.FFmpegPath, cfg.Sticker.FFprobePath)) {
		detail := st.Path
		if !st.Available {
			detail = st.Detail
		}
		checks = append(checks, check{
			Name:     st.Name,
			OK:       st.Available,
			Optional: st.Optional,
			Detail:   detail,
		})
	}

	checks = append(checks, scratchCheck(cfg.Sticker.ScratchDir))
	checks = append(checks, sessionCheck(cfg.Channels.WhatsApp.SessionDatabase()))
	return checks
}

// scratchCheck creates the scratch directory and writes a probe file to it.
func scratchCheck(dir string) check {
	c := check{Name: "Scratch dir"}
	ws := sticker.NewWorkspace(dir, nil)
	if err := ws.EnsureDir(); err != nil {
		c.Detail = err.Error()
		return c
	}
	probe := filepath.Join(ws.Dir(), ".doctor")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		c.Detail = fmt.Sprintf("not writable: %v", err)
		return c
	}
	_ = os.Remove(probe)
	c.OK = true
	c.Detail = ws.Dir()
	return c
}

// sessionCheck reports whether a linked session exists. A missing one only
// means serve will show a QR code.
func sessionCheck(dbPath string) check {
	c := check{Name: "WhatsApp session", Optional: true}
	info, err := os.Stat(dbPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		c.Detail = "not linked yet, serve will show a QR code"
	case err != nil:
		c.Detail = err.Error()
	case info.IsDir():
		c.Detail = fmt.Sprintf("%s is a directory", dbPath)
	default:
		c.OK = true
		c.Detail = dbPath
	}
	return c
}

func renderChecks(checks []check) string {
	rows := make([][]string, 0, len(checks))
	for _, c := range checks {
		rows = append(rows, []string{c.Name, c.status(), c.Detail})
	}
	return renderTable([]string{"Check", "Status", "Detail"}, rows, 1)
}

func failedChecks(checks []check) int {
	n := 0
	for _, c := range checks {
		if !c.OK && !c.Optional {
			n++
		}
	}
	return n
}
