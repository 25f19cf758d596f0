// Package commands implements the StickerBot CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stickerbot",
		Short: "StickerBot - turns WhatsApp media into stickers",
		Long: `StickerBot watches WhatsApp chats for media sent with a trigger
command (default /fig) and replies with the media converted to a sticker.
Still images become 512x512 WebP stickers; GIFs and MP4 videos become
looping animated stickers of up to 10 seconds.

Examples:
  stickerbot init
  stickerbot serve --config ./config.yaml
  stickerbot convert cat.gif -o cat.webp
  stickerbot doctor`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newConvertCmd(),
		newDoctorCmd(),
		newInitCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
