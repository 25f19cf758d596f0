package sticker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

// CanvasSize is the edge length of a sticker in pixels.
const CanvasSize = 512

// DefaultQuality is the lossy WebP quality used when none is configured.
const DefaultQuality = 80

// DefaultMaxPixels caps the declared dimensions of a still image. A decoded
// NRGBA image costs four bytes per pixel.
const DefaultMaxPixels = 40_000_000

// ErrImageTooLarge indicates a still image declares more pixels than the
// encoder accepts.
var ErrImageTooLarge = errors.New("image dimensions too large")

// ImageEncoder renders still images onto a square transparent canvas and
// encodes the result as WebP.
type ImageEncoder struct {
	Size    int
	Fit     Fit
	Quality float32
	// MaxPixels bounds width*height before decoding; 0 means DefaultMaxPixels.
	MaxPixels int

	decode func(path string) (image.Image, error)
}

// NewImageEncoder returns an encoder for a size×size canvas.
func NewImageEncoder(size int, fit Fit, quality float32) *ImageEncoder {
	if size <= 0 {
		size = CanvasSize
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	if fit == "" {
		fit = FitContain
	}
	return &ImageEncoder{Size: size, Fit: fit, Quality: quality, MaxPixels: DefaultMaxPixels}
}

// Encode decodes src (PNG, JPEG, GIF, BMP, TIFF or WebP), fits it to the
// canvas and writes dst. The header is checked against MaxPixels before any
// pixel data is read. Decoding runs on its own goroutine so a deadline on
// ctx returns at once; dst is only written by the caller's goroutine.
func (e *ImageEncoder) Encode(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.checkDimensions(src); err != nil {
		return err
	}

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := e.render(src)
		done <- result{data: data, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if res.err != nil {
		return res.err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.WriteFile(dst, res.data, 0o600); err != nil {
		return fmt.Errorf("writing sticker: %w", err)
	}
	return nil
}

// checkDimensions reads only the image header.
func (e *ImageEncoder) checkDimensions(src string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening image: %w", err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return fmt.Errorf("decoding image header: %w", err)
	}
	limit := e.MaxPixels
	if limit <= 0 {
		limit = DefaultMaxPixels
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > int64(limit) {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrImageTooLarge, cfg.Width, cfg.Height, limit)
	}
	return nil
}

func (e *ImageEncoder) render(src string) ([]byte, error) {
	decode := e.decode
	if decode == nil {
		decode = func(path string) (image.Image, error) {
			return imaging.Open(path, imaging.AutoOrientation(true))
		}
	}
	img, err := decode(src)
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, e.Render(img), &webp.Options{Quality: e.Quality, Exact: true}); err != nil {
		return nil, fmt.Errorf("encoding webp: %w", err)
	}
	return buf.Bytes(), nil
}

// Render maps img onto the canvas according to the fit policy.
func (e *ImageEncoder) Render(img image.Image) *image.NRGBA {
	size := e.Size
	if e.Fit == FitCover {
		return imaging.Fill(img, size, size, imaging.Center, imaging.Lanczos)
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	// Scale so the longer edge matches the canvas; small images are upscaled.
	if w >= h {
		h = max(1, h*size/w)
		w = size
	} else {
		w = max(1, w*size/h)
		h = size
	}
	scaled := imaging.Resize(img, w, h, imaging.Lanczos)

	canvas := imaging.New(size, size, color.NRGBA{})
	return imaging.PasteCenter(canvas, scaled)
}
