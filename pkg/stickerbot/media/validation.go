// Package media validates and identifies inbound media payloads before they
// reach the sticker pipeline.
package media

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// MediaType is the broad category of a payload.
type MediaType string

const (
	MediaTypeImage    MediaType = "image"
	MediaTypeVideo    MediaType = "video"
	MediaTypeAudio    MediaType = "audio"
	MediaTypeDocument MediaType = "document"
)

// ErrMediaTooLarge is returned when a payload exceeds the configured limit.
var ErrMediaTooLarge = errors.New("media too large")

const octetStream = "application/octet-stream"

// ValidatorConfig contains validation limits. Zero disables a limit.
type ValidatorConfig struct {
	MaxImageSize int64 `yaml:"max_image_size" json:"max_image_size"`
	MaxVideoSize int64 `yaml:"max_video_size" json:"max_video_size"`
}

// DefaultValidatorConfig returns default limits.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxImageSize: 16 * 1024 * 1024, // 16MB
		MaxVideoSize: 16 * 1024 * 1024, // 16MB
	}
}

// UniformLimit applies the same limit in megabytes to every category.
func UniformLimit(mb int) ValidatorConfig {
	limit := int64(mb) * 1024 * 1024
	if mb <= 0 {
		limit = 0
	}
	return ValidatorConfig{MaxImageSize: limit, MaxVideoSize: limit}
}

// MaxSizeForType returns the maximum size for a media type.
func (c ValidatorConfig) MaxSizeForType(t MediaType) int64 {
	switch t {
	case MediaTypeVideo:
		return c.MaxVideoSize
	default:
		return c.MaxImageSize
	}
}

// ValidationResult describes a validated payload.
type ValidationResult struct {
	MimeType string
	Type     MediaType
	Size     int64
}

// Validator enforces size limits on payloads.
type Validator struct {
	config ValidatorConfig
}

// NewValidator creates a new validator.
func NewValidator(config ValidatorConfig) *Validator {
	return &Validator{config: config}
}

// Validate resolves the payload's MIME type and checks its size against the
// limit for its category. Oversized payloads fail with ErrMediaTooLarge.
func (v *Validator) Validate(data []byte, mimeType string) (*ValidationResult, error) {
	result := &ValidationResult{
		MimeType: ResolveMimeType(mimeType, data),
		Size:     int64(len(data)),
	}
	result.Type = CategorizeType(result.MimeType)

	maxSize := v.config.MaxSizeForType(result.Type)
	if maxSize > 0 && result.Size > maxSize {
		return result, fmt.Errorf("%w: %d bytes exceeds %d for %s", ErrMediaTooLarge, result.Size, maxSize, result.Type)
	}
	return result, nil
}

// ResolveMimeType normalizes the declared MIME type. When it is missing or
// generic, the type is sniffed from the payload content.
func ResolveMimeType(declared string, data []byte) string {
	declared = NormalizeMimeType(declared)
	if declared != "" && declared != octetStream {
		return declared
	}
	if len(data) == 0 {
		return octetStream
	}
	return NormalizeMimeType(mimetype.Detect(data).String())
}

// NormalizeMimeType lower-cases a MIME type and drops its parameters.
func NormalizeMimeType(mimeType string) string {
	mimeType = strings.Split(mimeType, ";")[0]
	return strings.ToLower(strings.TrimSpace(mimeType))
}

// CategorizeType maps a MIME type to a MediaType.
func CategorizeType(mimeType string) MediaType {
	mimeType = NormalizeMimeType(mimeType)
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return MediaTypeImage
	case strings.HasPrefix(mimeType, "video/"):
		return MediaTypeVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return MediaTypeAudio
	default:
		return MediaTypeDocument
	}
}
