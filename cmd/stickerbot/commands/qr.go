package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/jholhewres/stickerbot/pkg/stickerbot/channels/whatsapp"

	"github.com/mdp/qrterminal/v3"
)

// renderQR prints every QR code the channel emits until the session is
// linked, ctx ends or qrCh closes. Expired codes trigger a fresh one.
func renderQR(ctx context.Context, wa *whatsapp.WhatsApp, qrCh <-chan whatsapp.QREvent, out io.Writer, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-qrCh:
			if !ok {
				return
			}
			switch evt.Type {
			case whatsapp.QRCode:
				fmt.Fprintln(out)
				fmt.Fprintln(out, evt.Message)
				fmt.Fprintln(out, "WhatsApp > Settings > Linked devices > Link a device")
				qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, out)
			case whatsapp.QRTimeout:
				logger.Info("QR code expired, requesting a new one")
				if err := wa.RequestNewQR(ctx); err != nil {
					logger.Warn("could not request a new QR code", "error", err)
				}
			case whatsapp.QRSuccess:
				fmt.Fprintln(out, evt.Message)
			case whatsapp.QRError:
				logger.Error("QR login failed", "message", evt.Message)
			}
		}
	}
}
