// Package scanner discovers data files to load. Patterns use doublestar
// syntax: a pattern without a slash is matched against the file name, a
// pattern with a slash against the path relative to the root.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar"
	"github.com/charlievieth/fastwalk"

	"github.com/virtutil/virtutil/pkg/virtutil/logging"
)

// ErrNotDirectory is returned when Root is not a directory.
var ErrNotDirectory = errors.New("not a directory")

// ErrBadPattern wraps an unparsable pattern.
var ErrBadPattern = errors.New("invalid file pattern")

// Options selects which files are discovered.
type Options struct {
	// Root directory to search.
	Root string

	// Pattern is a doublestar glob such as "*.nq.gz" or "*.{nq,ttl}".
	Pattern string

	// Recursive descends into subdirectories.
	Recursive bool

	// Exclude holds patterns for paths to skip, matched like Pattern.
	Exclude []string
}

// Validate checks that Root is set and every pattern parses.
func (o Options) Validate() error {
	if o.Root == "" {
		return fmt.Errorf("%w: empty root", ErrNotDirectory)
	}
	for _, p := range append([]string{o.Pattern}, o.Exclude...) {
		if _, err := doublestar.Match(p, "x"); err != nil {
			return fmt.Errorf("%w: %q: %v", ErrBadPattern, p, err)
		}
	}
	return nil
}

// File is a discovered regular file.
type File struct {
	Path string
	Size int64
}

// Paths returns the file paths in order.
func Paths(files []File) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Path
	}
	return out
}

// TotalSize sums the sizes of files.
func TotalSize(files []File) int64 {
	var n int64
	for _, f := range files {
		n += f.Size
	}
	return n
}

var logger = logging.Get("scanner")

// Discover returns the regular files under opts.Root that match
// opts.Pattern, sorted by path. Symlinks are not followed. Unreadable
// subdirectories are logged and skipped.
func Discover(ctx context.Context, opts Options) ([]File, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, root)
	}

	m := matcher{root: root, pattern: opts.Pattern, exclude: opts.Exclude}

	var files []File
	if opts.Recursive {
		files, err = m.walk(ctx)
	} else {
		files, err = m.list()
	}
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	logger.Debug("discovered files", "root", root, "pattern", opts.Pattern, "recursive", opts.Recursive, "count", len(files))
	return files, nil
}

type matcher struct {
	root    string
	pattern string
	exclude []string
}

// Match reports whether the slash-separated relative path rel matches
// pattern. Patterns without a slash are matched against the base name.
func Match(pattern, rel string) bool {
	subject := rel
	if !strings.Contains(pattern, "/") {
		subject = filepath.Base(rel)
	}
	ok, _ := doublestar.Match(pattern, subject)
	return ok
}

func (m matcher) excluded(rel string) bool {
	for _, p := range m.exclude {
		if Match(p, rel) {
			return true
		}
	}
	return false
}

func (m matcher) accept(rel string) bool {
	return Match(m.pattern, rel) && !m.excluded(rel)
}

func (m matcher) list() ([]File, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, err
	}
	var files []File
	for _, e := range entries {
		if !e.Type().IsRegular() || !m.accept(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			logger.Warn("stat failed", "path", e.Name(), "error", err)
			continue
		}
		files = append(files, File{Path: filepath.Join(m.root, e.Name()), Size: info.Size()})
	}
	return files, nil
}

func (m matcher) walk(ctx context.Context) ([]File, error) {
	var (
		mu    sync.Mutex
		files []File
	)

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, m.root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			logger.Warn("walk error", "path", path, "error", err)
			return nil
		}

		rel, relErr := filepath.Rel(m.root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if m.excluded(rel) {
				return fastwalk.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !m.accept(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			logger.Warn("stat failed", "path", path, "error", err)
			return nil
		}

		mu.Lock()
		files = append(files, File{Path: path, Size: info.Size()})
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// Filter keeps the paths under root that match pattern and are not
// excluded, sorted. It applies Discover's rules to listings produced
// elsewhere, such as find output from inside a container.
func Filter(root string, paths []string, pattern string, exclude []string) []string {
	m := matcher{root: root, pattern: pattern, exclude: exclude}
	var out []string
	for _, p := range paths {
		r := strings.TrimPrefix(strings.TrimPrefix(p, root), "/")
		if r == "" {
			continue
		}
		excludedDir := false
		if dir := filepath.ToSlash(filepath.Dir(r)); dir != "." {
			parts := strings.Split(dir, "/")
			for i := range parts {
				if m.excluded(strings.Join(parts[:i+1], "/")) {
					excludedDir = true
					break
				}
			}
		}
		if !excludedDir && m.accept(r) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}
