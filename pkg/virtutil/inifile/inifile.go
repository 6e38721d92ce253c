// Package inifile edits values in a Virtuoso virtuoso.ini in place.
//
// Only the value part of the targeted "Key = Value" lines changes. Every
// other byte of the file, including comments, alignment, blank lines and
// line endings, is written back unchanged.
package inifile

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrSectionNotFound is returned when an edit names a section the file
// does not contain.
var ErrSectionNotFound = errors.New("section not found")

// Edit sets Key to Value inside [Section].
type Edit struct {
	Section string
	Key     string
	Value   string
}

// Change describes an edit that modified the file.
type Change struct {
	Edit
	// Old is the previous value, empty when the key was inserted.
	Old      string
	Inserted bool
}

func (c Change) String() string {
	if c.Inserted {
		return fmt.Sprintf("[%s] %s = %s (added)", c.Section, c.Key, c.Value)
	}
	return fmt.Sprintf("[%s] %s: %s -> %s", c.Section, c.Key, c.Old, c.Value)
}

// Patch applies edits to the file at path. The file is only rewritten when
// at least one value differs; the rewrite goes through a temporary file in
// the same directory followed by a rename. No edit is applied unless all
// sections exist.
func Patch(path string, edits []Edit) ([]Change, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	out, changes, err := Apply(data, edits)
	if err != nil {
		return nil, fmt.Errorf("patching %s: %w", path, err)
	}
	if len(changes) == 0 {
		return nil, nil
	}

	if err := writeAtomic(path, out); err != nil {
		return nil, err
	}
	return changes, nil
}

// Apply is Patch without the file I/O.
func Apply(data []byte, edits []Edit) ([]byte, []Change, error) {
	doc := parse(data)
	var changes []Change
	for _, e := range edits {
		c, err := doc.set(e)
		if err != nil {
			return nil, nil, err
		}
		if c != nil {
			changes = append(changes, *c)
		}
	}
	return doc.bytes(), changes, nil
}

// line is one physical line split from its terminator.
type line struct {
	text string
	eol  string
}

type document struct {
	lines []line
	// eol used for inserted lines.
	eol string
}

func parse(data []byte) *document {
	doc := &document{eol: "\n"}
	rest := string(data)
	for len(rest) > 0 {
		i := strings.IndexByte(rest, '\n')
		if i < 0 {
			doc.lines = append(doc.lines, line{text: rest})
			break
		}
		text, eol := rest[:i], "\n"
		if strings.HasSuffix(text, "\r") {
			text, eol = text[:len(text)-1], "\r\n"
		}
		doc.lines = append(doc.lines, line{text: text, eol: eol})
		rest = rest[i+1:]
	}
	for _, l := range doc.lines {
		if l.eol != "" {
			doc.eol = l.eol
			break
		}
	}
	return doc
}

func (d *document) bytes() []byte {
	var b bytes.Buffer
	for _, l := range d.lines {
		b.WriteString(l.text)
		b.WriteString(l.eol)
	}
	return b.Bytes()
}

func sectionName(text string) (string, bool) {
	t := strings.TrimSpace(text)
	if len(t) < 2 || t[0] != '[' || t[len(t)-1] != ']' {
		return "", false
	}
	return strings.TrimSpace(t[1 : len(t)-1]), true
}

func isComment(text string) bool {
	t := strings.TrimSpace(text)
	return t == "" || t[0] == ';' || t[0] == '#'
}

// span returns the half-open line range of the section body.
func (d *document) span(section string) (start, end int, ok bool) {
	start = -1
	for i, l := range d.lines {
		name, isSection := sectionName(l.text)
		if !isSection {
			continue
		}
		if start >= 0 {
			return start, i, true
		}
		if strings.EqualFold(name, section) {
			start = i + 1
		}
	}
	if start < 0 {
		return 0, 0, false
	}
	return start, len(d.lines), true
}

func (d *document) set(e Edit) (*Change, error) {
	start, end, ok := d.span(e.Section)
	if !ok {
		return nil, fmt.Errorf("%w: [%s]", ErrSectionNotFound, e.Section)
	}

	for i := start; i < end; i++ {
		text := d.lines[i].text
		if isComment(text) {
			continue
		}
		eq := strings.IndexByte(text, '=')
		if eq < 0 || !strings.EqualFold(strings.TrimSpace(text[:eq]), e.Key) {
			continue
		}

		rawValue := text[eq+1:]
		old := strings.TrimSpace(rawValue)
		if old == e.Value {
			return nil, nil
		}
		lead := rawValue[:len(rawValue)-len(strings.TrimLeft(rawValue, " \t"))]
		if lead == "" {
			lead = " "
		}
		d.lines[i].text = text[:eq+1] + lead + e.Value
		return &Change{Edit: e, Old: old}, nil
	}

	// Insert after the last non-blank line of the section.
	at := end
	for at > start && strings.TrimSpace(d.lines[at-1].text) == "" {
		at--
	}
	if at > 0 && d.lines[at-1].eol == "" {
		d.lines[at-1].eol = d.eol
	}
	inserted := line{text: e.Key + " = " + e.Value, eol: d.eol}
	d.lines = append(d.lines[:at], append([]line{inserted}, d.lines[at:]...)...)
	return &Change{Edit: e, Inserted: true}, nil
}

func writeAtomic(path string, data []byte) error {
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		cleanup()
		return fmt.Errorf("setting mode: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
