package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/adrg/xdg"
	"github.com/google/uuid"
)

// ErrNotFound is returned by Get for an unknown ID.
var ErrNotFound = errors.New("history entry not found")

// DefaultDir is where entries are stored unless configured otherwise.
func DefaultDir() string {
	return filepath.Join(xdg.DataHome, "virtutil", "history")
}

// History stores entries as one JSON file each.
type History struct {
	dir string
	mu  sync.Mutex
}

// New creates a History rooted at dir. The directory is created on the
// first Record.
func New(dir string) (*History, error) {
	if dir == "" {
		return nil, errors.New("history directory cannot be empty")
	}
	return &History{dir: dir}, nil
}

// Dir returns the storage directory.
func (h *History) Dir() string { return h.dir }

// Record assigns an ID and timestamp to e and persists it.
func (h *History) Record(e Entry) (*Entry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	e.ID = uuid.NewString()
	e.Timestamp = time.Now().UTC()
	if e.Status == "" {
		e.Status = StatusOK
	}

	if err := os.MkdirAll(h.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	if err := h.write(&e); err != nil {
		return nil, fmt.Errorf("failed to write history entry: %w", err)
	}
	return &e, nil
}

func (h *History) write(e *Entry) error {
	path := filepath.Join(h.dir, filename(e))

	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// filename sorts by time and keeps the ID visible for Get.
func filename(e *Entry) string {
	return fmt.Sprintf("%s-%s-%s.json", e.Timestamp.Format("20060102T150405"), e.Operation, e.ID)
}

// List returns entries newest first, optionally only those of op. A limit
// of zero or less returns everything.
func (h *History) List(op Operation, limit int) ([]Entry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	all, err := h.readAll()
	if err != nil {
		return nil, err
	}

	entries := []Entry{}
	for _, e := range all {
		if op != "" && e.Operation != op {
			continue
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Get returns the entry whose ID equals id or, when unambiguous, starts
// with it.
func (h *History) Get(id string) (*Entry, error) {
	if id == "" {
		return nil, errors.New("entry ID cannot be empty")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	all, err := h.readAll()
	if err != nil {
		return nil, err
	}

	var match *Entry
	for i := range all {
		e := &all[i]
		if e.ID == id {
			return e, nil
		}
		if strings.HasPrefix(e.ID, id) {
			if match != nil {
				return nil, fmt.Errorf("ambiguous entry ID %q", id)
			}
			match = e
		}
	}
	if match == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return match, nil
}

// Cleanup removes entries older than retentionDays and returns how many
// were removed.
func (h *History) Cleanup(retentionDays int) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	files, err := os.ReadDir(h.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read history directory: %w", err)
	}

	removed := 0
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		info, err := f.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(h.dir, f.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

func (h *History) readAll() ([]Entry, error) {
	files, err := os.ReadDir(h.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read history directory: %w", err)
	}

	var entries []Entry
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(h.dir, f.Name()))
		if err != nil {
			continue
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			// Skip files that can't be parsed
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}
