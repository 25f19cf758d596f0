package sticker

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/chai2010/webp"
)

// StickerMimeType is the MIME type of every produced sticker.
const StickerMimeType = "image/webp"

// Attachment is an encoded sticker ready to be sent.
type Attachment struct {
	Path     string
	MimeType string
	Data     []byte
	Width    int
	Height   int
	Animated bool
	// Frames and Duration are set for animated stickers.
	Frames   int
	Duration time.Duration
	// Loops is the ANIM loop count; 0 loops forever.
	Loops int
}

var errNotWebP = errors.New("not a webp file")

// NewAttachmentFromFile loads a WebP sticker and reads its dimensions.
func NewAttachmentFromFile(path string) (*Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sticker: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("reading sticker: %w", ErrOutputMissing)
	}

	width, height, animated, err := webpInfo(data)
	if err != nil {
		return nil, fmt.Errorf("inspecting sticker: %w", err)
	}
	att := &Attachment{
		Path:     path,
		MimeType: StickerMimeType,
		Data:     data,
		Width:    width,
		Height:   height,
		Animated: animated,
	}
	if animated {
		anim, err := readAnimation(data)
		if err != nil {
			return nil, fmt.Errorf("inspecting sticker: %w", err)
		}
		att.Frames = anim.frames
		att.Duration = anim.duration
		att.Loops = anim.loops
	}
	return att, nil
}

type animation struct {
	frames   int
	duration time.Duration
	loops    int
}

// readAnimation sums ANMF frame durations and reads the ANIM loop count.
func readAnimation(data []byte) (animation, error) {
	var anim animation
	err := riffChunks(data, func(fourCC string, payload []byte) error {
		switch fourCC {
		case "ANIM":
			if len(payload) < 6 {
				return errors.New("short ANIM chunk")
			}
			anim.loops = int(binary.LittleEndian.Uint16(payload[4:6]))
		case "ANMF":
			if len(payload) < 16 {
				return errors.New("short ANMF chunk")
			}
			anim.frames++
			anim.duration += time.Duration(uint24(payload[12:15])) * time.Millisecond
		}
		return nil
	})
	return anim, err
}

// webpInfo returns the canvas size and whether the file is animated.
// Extended (VP8X) files carry both in their header; simple files are asked
// of libwebp.
func webpInfo(data []byte) (width, height int, animated bool, err error) {
	if len(data) < 16 || !bytes.Equal(data[0:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WEBP")) {
		return 0, 0, false, errNotWebP
	}
	if bytes.Equal(data[12:16], []byte("VP8X")) {
		if len(data) < 30 {
			return 0, 0, false, errNotWebP
		}
		flags := data[20]
		width = int(uint24(data[24:27])) + 1
		height = int(uint24(data[27:30])) + 1
		return width, height, flags&0x02 != 0, nil
	}
	w, h, _, err := webp.GetInfo(data)
	if err != nil {
		return 0, 0, false, err
	}
	return w, h, false, nil
}

func uint24(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

// riffChunks walks the top-level chunks of a WebP file, calling fn for each.
func riffChunks(data []byte, fn func(fourCC string, payload []byte) error) error {
	if len(data) < 12 || !bytes.Equal(data[0:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WEBP")) {
		return errNotWebP
	}
	for off := 12; off+8 <= len(data); {
		fourCC := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		start := off + 8
		end := start + size
		if size < 0 || end > len(data) {
			return fmt.Errorf("truncated %s chunk", fourCC)
		}
		if err := fn(fourCC, data[start:end]); err != nil {
			return err
		}
		off = end + size%2
	}
	return nil
}
