package media

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"testing"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.NRGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func gifBytes(t *testing.T) []byte {
	t.Helper()
	pal := image.NewPaletted(image.Rect(0, 0, 4, 4), []color.Color{color.Black, color.White})
	var buf bytes.Buffer
	if err := gif.Encode(&buf, pal, nil); err != nil {
		t.Fatalf("encode gif: %v", err)
	}
	return buf.Bytes()
}

func TestResolveMimeType(t *testing.T) {
	png := pngBytes(t)
	gifData := gifBytes(t)

	tests := []struct {
		name     string
		declared string
		data     []byte
		want     string
	}{
		{"declared wins", "image/jpeg", png, "image/jpeg"},
		{"declared normalized", "Video/MP4; codecs=avc1", nil, "video/mp4"},
		{"empty sniffs png", "", png, "image/png"},
		{"octet-stream sniffs gif", "application/octet-stream", gifData, "image/gif"},
		{"nothing to sniff", "", nil, "application/octet-stream"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveMimeType(tt.declared, tt.data); got != tt.want {
				t.Errorf("ResolveMimeType(%q) = %q, want %q", tt.declared, got, tt.want)
			}
		})
	}
}

func TestCategorizeType(t *testing.T) {
	tests := []struct {
		mime string
		want MediaType
	}{
		{"image/png", MediaTypeImage},
		{"image/gif", MediaTypeImage},
		{"video/mp4", MediaTypeVideo},
		{"audio/ogg; codecs=opus", MediaTypeAudio},
		{"application/pdf", MediaTypeDocument},
	}
	for _, tt := range tests {
		if got := CategorizeType(tt.mime); got != tt.want {
			t.Errorf("CategorizeType(%q) = %v, want %v", tt.mime, got, tt.want)
		}
	}
}

func TestValidator(t *testing.T) {
	v := NewValidator(ValidatorConfig{MaxImageSize: 10, MaxVideoSize: 20})

	t.Run("within limit", func(t *testing.T) {
		res, err := v.Validate(make([]byte, 10), "image/png")
		if err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
		if res.Type != MediaTypeImage || res.Size != 10 {
			t.Errorf("unexpected result %+v", res)
		}
	})

	t.Run("image over limit", func(t *testing.T) {
		_, err := v.Validate(make([]byte, 11), "image/png")
		if !errors.Is(err, ErrMediaTooLarge) {
			t.Fatalf("expected ErrMediaTooLarge, got %v", err)
		}
	})

	t.Run("video uses its own limit", func(t *testing.T) {
		if _, err := v.Validate(make([]byte, 15), "video/mp4"); err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
	})

	t.Run("zero disables", func(t *testing.T) {
		unlimited := NewValidator(UniformLimit(0))
		if _, err := unlimited.Validate(make([]byte, 1<<20), "image/png"); err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
	})
}

func TestUniformLimit(t *testing.T) {
	cfg := UniformLimit(2)
	if cfg.MaxImageSize != 2*1024*1024 || cfg.MaxVideoSize != 2*1024*1024 {
		t.Fatalf("unexpected limits %+v", cfg)
	}
}
