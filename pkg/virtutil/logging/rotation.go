package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// RotationConfig bounds the size and age of the log file set.
type RotationConfig struct {
	// MaxSize in bytes before the active file is rotated. Zero means 10 MiB.
	MaxSize int64

	// MaxAge in days for rotated files. Zero keeps them regardless of age.
	MaxAge int

	// MaxBackups is the number of rotated files kept. Zero keeps all.
	MaxBackups int

	// Daily rotates on the first write after local midnight.
	Daily bool
}

const defaultMaxSize = 10 << 20

// DefaultRotationConfig keeps five rotated files for at most thirty days.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{
		MaxSize:    defaultMaxSize,
		MaxAge:     30,
		MaxBackups: 5,
		Daily:      true,
	}
}

const rotatedStamp = "20060102T150405"

// RotatingWriter is an append-only file writer that rotates by size and by
// day. Writes take an advisory flock so that concurrent virtutil processes
// sharing one log file do not interleave partial records.
type RotatingWriter struct {
	mu     sync.Mutex
	path   string
	cfg    RotationConfig
	file   *os.File
	size   int64
	opened time.Time
}

// NewRotatingWriter opens path for appending, creating parent directories.
func NewRotatingWriter(path string, cfg RotationConfig) (*RotatingWriter, error) {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = defaultMaxSize
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	w := &RotatingWriter{path: path, cfg: cfg}
	if err := w.open(); err != nil {
		return nil, err
	}
	w.prune()
	return w, nil
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, os.ErrClosed
	}

	if w.due(int64(len(p)), time.Now()) {
		if err := w.rotate(); err != nil {
			return 0, fmt.Errorf("rotating log file: %w", err)
		}
	}

	fd := int(w.file.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX); err != nil {
		return 0, fmt.Errorf("locking log file: %w", err)
	}
	defer func() { _ = unix.Flock(fd, unix.LOCK_UN) }()

	n, err := w.file.Write(p)
	w.size += int64(n)
	if err != nil {
		return n, fmt.Errorf("writing log file: %w", err)
	}
	return n, nil
}

// Close syncs and closes the active file. Further writes fail.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	syncErr := w.file.Sync()
	closeErr := w.file.Close()
	w.file = nil
	if syncErr != nil {
		return fmt.Errorf("syncing log file: %w", syncErr)
	}
	return closeErr
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	w.file = f
	w.size = info.Size()
	w.opened = info.ModTime()
	return nil
}

func (w *RotatingWriter) due(incoming int64, now time.Time) bool {
	if w.size > 0 && w.size+incoming > w.cfg.MaxSize {
		return true
	}
	if !w.cfg.Daily {
		return false
	}
	y1, m1, d1 := w.opened.Date()
	y2, m2, d2 := now.Date()
	return y1 != y2 || m1 != m2 || d1 != d2
}

func (w *RotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("closing log file: %w", err)
	}
	w.file = nil

	ext := filepath.Ext(w.path)
	target := fmt.Sprintf("%s.%s%s", strings.TrimSuffix(w.path, ext), time.Now().Format(rotatedStamp), ext)
	if err := os.Rename(w.path, target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("renaming log file: %w", err)
	}

	if err := w.open(); err != nil {
		return err
	}
	w.opened = time.Now()
	w.prune()
	return nil
}

// prune removes rotated siblings beyond MaxBackups or older than MaxAge.
// Errors are ignored.
func (w *RotatingWriter) prune() {
	dir := filepath.Dir(w.path)
	ext := filepath.Ext(w.path)
	stem := strings.TrimSuffix(filepath.Base(w.path), ext) + "."

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	type rotated struct {
		path string
		mod  time.Time
	}
	var files []rotated
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == filepath.Base(w.path) {
			continue
		}
		if !strings.HasPrefix(name, stem) || !strings.HasSuffix(name, ext) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, rotated{path: filepath.Join(dir, name), mod: info.ModTime()})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].mod.After(files[j].mod) })

	cutoff := time.Now().AddDate(0, 0, -w.cfg.MaxAge)
	for i, f := range files {
		tooMany := w.cfg.MaxBackups > 0 && i >= w.cfg.MaxBackups
		tooOld := w.cfg.MaxAge > 0 && f.mod.Before(cutoff)
		if tooMany || tooOld {
			_ = os.Remove(f.path)
		}
	}
}
