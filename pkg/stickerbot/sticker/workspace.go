package sticker

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role distinguishes the two scratch files a request owns.
type Role string

const (
	RoleOriginal Role = "original"
	RoleSticker  Role = "sticker"
)

// Request is one conversion's identity and its scratch paths.
type Request struct {
	ID          string
	Strategy    Strategy
	SourcePath  string
	StickerPath string
}

// Workspace owns the scratch directory where per-request files live.
// Paths are disjoint per request, so no locking is needed.
type Workspace struct {
	dir    string
	logger *slog.Logger
}

// NewWorkspace creates a workspace rooted at dir.
func NewWorkspace(dir string, logger *slog.Logger) *Workspace {
	if logger == nil {
		logger = slog.Default()
	}
	if dir == "" {
		dir = "./tmp"
	}
	return &Workspace{
		dir:    dir,
		logger: logger.With("component", "workspace"),
	}
}

// Dir returns the scratch directory.
func (w *Workspace) Dir() string { return w.dir }

// EnsureDir creates the scratch directory (and parents) if missing.
func (w *Workspace) EnsureDir() error {
	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return fmt.Errorf("%w: creating %s: %v", ErrStorageUnavailable, w.dir, err)
	}
	return nil
}

// PathFor returns <dir>/<role>_<requestID>.<ext>.
func (w *Workspace) PathFor(requestID string, role Role, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	return filepath.Join(w.dir, fmt.Sprintf("%s_%s.%s", role, requestID, ext))
}

// NewRequest allocates a request id and both scratch paths for strategy.
func (w *Workspace) NewRequest(strategy Strategy) Request {
	id := uuid.NewString()
	return w.requestFor(id, strategy)
}

func (w *Workspace) requestFor(id string, strategy Strategy) Request {
	return Request{
		ID:          id,
		Strategy:    strategy,
		SourcePath:  w.PathFor(id, RoleOriginal, strategy.Extension),
		StickerPath: w.PathFor(id, RoleSticker, "webp"),
	}
}

// Write persists data at path.
func (w *Workspace) Write(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("%w: writing %s: %v", ErrStorageUnavailable, filepath.Base(path), err)
	}
	return nil
}

// RemoveIfExists deletes path. Failures are logged, never returned, so
// cleanup cannot mask the error that ended a request.
func (w *Workspace) RemoveIfExists(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		w.logger.Warn("failed to remove scratch file", "path", path, "error", err)
	}
}

// Cleanup removes both scratch files of a request.
func (w *Workspace) Cleanup(req Request) {
	w.RemoveIfExists(req.SourcePath)
	w.RemoveIfExists(req.StickerPath)
}

// CleanStale removes scratch files older than maxAge that were left behind by
// a crashed process. Only files named after a Role are touched.
func (w *Workspace) CleanStale(maxAge time.Duration) int {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			w.logger.Warn("failed to read scratch directory", "dir", w.dir, "error", err)
		}
		return 0
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !isScratchName(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(w.dir, entry.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			w.logger.Warn("failed to remove stale scratch file", "path", path, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		w.logger.Info("removed stale scratch files", "count", removed, "max_age", maxAge)
	}
	return removed
}

func isScratchName(name string) bool {
	return strings.HasPrefix(name, string(RoleOriginal)+"_") ||
		strings.HasPrefix(name, string(RoleSticker)+"_")
}
