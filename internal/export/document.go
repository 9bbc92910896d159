package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Document is one export target: an ordered JSON array of entries with an
// identity index for append-safe re-runs.
type Document struct {
	path    string
	entries []Entry
	seen    map[string]struct{}
	added   int
}

// OpenDocument loads an existing export document, or starts an empty one if
// the file does not exist yet.
func OpenDocument(path string) (*Document, error) {
	d := &Document{path: path, seen: make(map[string]struct{})}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return d, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read export document: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return d, nil
	}

	if err := json.Unmarshal(data, &d.entries); err != nil {
		return nil, fmt.Errorf("parse export document %s: %w", path, err)
	}
	for _, entry := range d.entries {
		d.seen[entry.Identity()] = struct{}{}
	}
	return d, nil
}

// Append adds an entry unless an entry with the same identity was already
// written. It reports whether the entry was added.
func (d *Document) Append(entry Entry) bool {
	id := entry.Identity()
	if _, dup := d.seen[id]; dup {
		return false
	}
	d.seen[id] = struct{}{}
	d.entries = append(d.entries, entry)
	d.added++
	return true
}

// Len returns the total number of entries, existing plus appended.
func (d *Document) Len() int { return len(d.entries) }

// Added returns how many entries this session appended.
func (d *Document) Added() int { return d.added }

// Path returns the document's target path.
func (d *Document) Path() string { return d.path }

// Flush writes the whole document to a temporary file and renames it over
// the target, so an interrupted run never leaves a truncated array behind.
func (d *Document) Flush() error {
	entries := d.entries
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode export document: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(d.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".flowlog-export-*")
	if err != nil {
		return fmt.Errorf("create temp export file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write export document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close export document: %w", err)
	}
	if err := os.Rename(tmpPath, d.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace export document: %w", err)
	}
	return nil
}
