package sticker

import "strings"

// Kind selects the transcode path.
type Kind string

const (
	KindStatic   Kind = "static"
	KindAnimated Kind = "animated"
)

const (
	mimeGIF = "image/gif"
	mimeMP4 = "video/mp4"
)

// Strategy is the conversion path for a payload plus the extension its
// source file is written with.
type Strategy struct {
	Kind      Kind
	Extension string
}

func (s Strategy) String() string {
	return string(s.Kind) + "/" + s.Extension
}

// Animated reports whether the strategy goes through the ffmpeg path.
func (s Strategy) Animated() bool { return s.Kind == KindAnimated }

// Classify maps a MIME type to its conversion strategy. GIF and MP4 sources
// are animated; everything else is treated as a still image.
func Classify(mimeType string) Strategy {
	switch normalizeMime(mimeType) {
	case mimeGIF:
		return Strategy{Kind: KindAnimated, Extension: "gif"}
	case mimeMP4:
		return Strategy{Kind: KindAnimated, Extension: "mp4"}
	default:
		return Strategy{Kind: KindStatic, Extension: "png"}
	}
}

// normalizeMime lower-cases a MIME type and drops parameters
// ("video/mp4; codecs=avc1" -> "video/mp4").
func normalizeMime(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}
