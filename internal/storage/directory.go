package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
)

var (
	ErrRemoveLink  = errors.New("cannot remove current link")
	ErrCreateLink  = errors.New("cannot create current link")
	ErrWriteFailed = errors.New("write failed")
)

// DirectoryArea is a rotated file tree. Each job writes into its own
// `<path>/<job-id>/` subdirectory, one append-mode file per hour
// (Rotation does not change the file naming), and `<path>/current`
// points at the active job directory.
type DirectoryArea struct {
	Path     string
	Rotation time.Duration
	logger   arbor.ILogger
}

// NewDirectoryArea creates the target path if absent and parses the
// rotation string.
func NewDirectoryArea(path, rotation string, logger arbor.ILogger) (*DirectoryArea, error) {
	rot, err := ParseRotation(rotation)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("create storage path %s: %w", path, err)
	}
	return &DirectoryArea{Path: path, Rotation: rot, logger: logger}, nil
}

// NewWriter opens the rotating writer for one job and atomically
// repoints the `current` symlink at the job's subdirectory.
func (d *DirectoryArea) NewWriter(jobID string) (*RotatingWriter, error) {
	dir := filepath.Join(d.Path, jobID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create job dir %s: %w", dir, err)
	}

	if err := d.swapCurrent(jobID); err != nil {
		return nil, err
	}

	return &RotatingWriter{dir: dir, logger: d.logger}, nil
}

// swapCurrent replaces the `current` symlink without a window where it
// is missing: the new link is staged under a temp name then renamed
// over the old one.
func (d *DirectoryArea) swapCurrent(jobID string) error {
	staging := filepath.Join(d.Path, ".current-next")
	if err := os.Remove(staging); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrRemoveLink, err)
	}
	if err := os.Symlink(jobID, staging); err != nil {
		return fmt.Errorf("%w: %v", ErrCreateLink, err)
	}
	if err := os.Rename(staging, filepath.Join(d.Path, "current")); err != nil {
		return fmt.Errorf("%w: %v", ErrCreateLink, err)
	}
	return nil
}

// RotatingWriter appends frames to the file named after the current
// hour (`YYYYMMDD-HH0000`), reopening when the hour changes. The
// filename is always hourly regardless of the area's rotation.
type RotatingWriter struct {
	dir    string
	logger arbor.ILogger

	mu   sync.Mutex
	slot string
	fd   *os.File
}

func (w *RotatingWriter) slotName(now time.Time) string {
	return now.UTC().Truncate(time.Hour).Format("20060102-150405")
}

// Write appends one frame, rolling over when the slot changes.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	slot := w.slotName(time.Now())
	if w.fd == nil || slot != w.slot {
		if w.fd != nil {
			_ = w.fd.Close()
		}
		fd, err := os.OpenFile(filepath.Join(w.dir, slot), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrWriteFailed, err)
		}
		w.fd = fd
		w.slot = slot
		w.logger.Debug().Str("file", slot).Msg("Storage slot opened")
	}

	n, err := w.fd.Write(p)
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return n, nil
}

func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fd == nil {
		return nil
	}
	err := w.fd.Close()
	w.fd = nil
	return err
}
