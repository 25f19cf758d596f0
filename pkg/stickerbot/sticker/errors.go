package sticker

import (
	"errors"
	"fmt"

	"github.com/jholhewres/stickerbot/pkg/stickerbot/media"
)

var (
	// ErrDownloadFailed indicates the inbound media could not be fetched.
	ErrDownloadFailed = errors.New("media download failed")
	// ErrStorageUnavailable indicates the scratch directory or a scratch file could not be written.
	ErrStorageUnavailable = errors.New("scratch storage unavailable")
	// ErrTranscodeFailed indicates the sticker could not be produced.
	ErrTranscodeFailed = errors.New("transcode failed")
	// ErrSendFailed indicates the sticker reply could not be delivered.
	ErrSendFailed = errors.New("sticker send failed")
	// ErrRetryExhausted indicates every attempt of a retried operation failed.
	ErrRetryExhausted = errors.New("retry attempts exhausted")
	// ErrEmptyResult marks an attempt that returned nothing; it counts as a failure.
	ErrEmptyResult = errors.New("empty result")
	// ErrOutputMissing indicates a transcoder reported success without writing output.
	ErrOutputMissing = errors.New("output missing")
	// ErrTimeout indicates the transcode deadline elapsed.
	ErrTimeout = errors.New("timeout")
	// ErrMediaTooLarge indicates the payload exceeds the configured size limit.
	ErrMediaTooLarge = media.ErrMediaTooLarge
)

// TranscodeError wraps the cause of a failed transcode.
type TranscodeError struct {
	Strategy Strategy
	Cause    error
}

func (e *TranscodeError) Error() string {
	return fmt.Sprintf("transcode failed (%s): %v", e.Strategy, e.Cause)
}

func (e *TranscodeError) Unwrap() error { return e.Cause }

// Is makes every TranscodeError match ErrTranscodeFailed.
func (e *TranscodeError) Is(target error) bool { return target == ErrTranscodeFailed }

func transcodeFailed(strategy Strategy, cause error) error {
	return &TranscodeError{Strategy: strategy, Cause: cause}
}

// RetryExhaustedError carries the last failure of a retried operation.
type RetryExhaustedError struct {
	Op       string
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("%s: %d attempt(s) failed: %v", e.Op, e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Last }

// Is makes every RetryExhaustedError match ErrRetryExhausted.
func (e *RetryExhaustedError) Is(target error) bool { return target == ErrRetryExhausted }

// StageError is the terminal failure of one conversion request.
type StageError struct {
	Stage     Stage
	RequestID string
	Err       error
}

func (e *StageError) Error() string {
	if e.RequestID == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %v", e.Stage, e.RequestID, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
