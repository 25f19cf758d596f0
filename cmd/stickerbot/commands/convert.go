package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jholhewres/stickerbot/pkg/stickerbot/sticker"

	"github.com/spf13/cobra"
)

// newConvertCmd creates the `stickerbot convert` command that runs the
// sticker pipeline on a local file.
func newConvertCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "convert <file>",
		Short: "Convert a local image or video into a sticker",
		Long: `Run a local file through the same pipeline the bot uses and write the
resulting 512x512 WebP sticker.

Examples:
  stickerbot convert cat.png
  stickerbot convert clip.mp4 -o clip-sticker.webp`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, args[0], output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (default: <input>.webp, or <input>.sticker.webp for WebP input)")
	return cmd
}

func runConvert(cmd *cobra.Command, input, output string) error {
	cfg, _, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := loggerFor(cmd, cfg)

	if _, err := os.Stat(input); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	if output == "" {
		output = defaultOutputPath(input)
	}
	if filepath.Clean(output) == filepath.Clean(input) {
		return fmt.Errorf("output %s would overwrite the input", output)
	}

	// No chat to acknowledge in.
	cfg.Sticker.Messages.Converting = ""
	p := buildPipeline(cfg, logger)

	conv := &fileConversation{
		body:   p.converter.Trigger(),
		input:  input,
		output: output,
		notes:  cmd.ErrOrStderr(),
	}
	outcome := p.converter.Handle(cmd.Context(), conv)
	if outcome.Failed() {
		return outcome.Err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Sticker written to %s (%dx%d, animated=%t)\n",
		output, conv.width, conv.height, conv.animated)
	return nil
}

// defaultOutputPath swaps the extension for .webp. WebP inputs get a
// .sticker.webp suffix so the source is never overwritten.
func defaultOutputPath(input string) string {
	ext := filepath.Ext(input)
	base := strings.TrimSuffix(input, ext)
	if strings.EqualFold(ext, ".webp") {
		return base + ".sticker.webp"
	}
	return base + ".webp"
}

// fileConversation feeds a local file to the converter and writes the
// sticker it replies with.
type fileConversation struct {
	body   string
	input  string
	output string
	notes  io.Writer

	width, height int
	animated      bool
}

var _ sticker.Conversation = (*fileConversation)(nil)

func (f *fileConversation) Body() string { return f.body }

func (f *fileConversation) HasMedia() bool { return true }

// DownloadMedia leaves the MIME type empty so it is sniffed from content.
func (f *fileConversation) DownloadMedia(_ context.Context) (*sticker.MediaPayload, error) {
	data, err := os.ReadFile(f.input)
	if err != nil {
		return nil, err
	}
	return &sticker.MediaPayload{Data: data}, nil
}

func (f *fileConversation) ReplyText(_ context.Context, text string) error {
	_, err := fmt.Fprintln(f.notes, text)
	return err
}

func (f *fileConversation) ReplySticker(_ context.Context, att *sticker.Attachment) error {
	if dir := filepath.Dir(f.output); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := os.WriteFile(f.output, att.Data, 0o644); err != nil {
		return err
	}
	f.width, f.height, f.animated = att.Width, att.Height, att.Animated
	return nil
}
