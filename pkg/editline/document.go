// Package editline implements a convergent in-memory line editor
// operating on a file loaded as an ordered sequence of lines.
//
// A Document is backed by a slice rather than a linked list — idiomatic
// Go favors this, and every operation here (region selection,
// insertion, deletion, replacement, column edits) is naturally
// expressible as slice splicing.
package editline

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Document is a file loaded as an ordered sequence of lines, ready for
// convergent editing and atomic save.
type Document struct {
	Lines      []string
	LineEnding string // "\n" or "\r\n", detected on load
	Path       string
	loadedHash string
}

// Load reads path and splits it into lines, detecting the line-ending
// convention in use so Save can reproduce it.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Document{Path: path, LineEnding: "\n"}, nil
		}
		return nil, fmt.Errorf("editline: reading %s: %w", path, err)
	}
	return LoadBytes(path, data)
}

// LoadBytes builds a Document directly from file content, used by
// tests and by the template-expansion path that loads a template file
// rather than the promise target.
func LoadBytes(path string, data []byte) (*Document, error) {
	ending := "\n"
	if bytes.Contains(data, []byte("\r\n")) {
		ending = "\r\n"
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	var lines []string
	if text != "" {
		lines = strings.Split(text, "\n")
	}
	return &Document{Lines: lines, LineEnding: ending, Path: path, loadedHash: hashLines(lines)}, nil
}

func hashLines(lines []string) string {
	return strings.Join(lines, "\x00")
}

// Changed reports whether the in-memory lines differ from what was
// loaded.
func (d *Document) Changed() bool {
	return hashLines(d.Lines) != d.loadedHash
}

// Save writes the document back to Path via an atomic replace
// (temp file, fsync, rename), preserving the original line-ending
// convention. If the content is unchanged, no write occurs. In
// dryRun, the write is skipped but the changed-or-not result is still
// reported accurately.
func (d *Document) Save(dryRun bool) (changed bool, err error) {
	if !d.Changed() {
		return false, nil
	}
	if dryRun {
		return true, nil
	}

	var buf bytes.Buffer
	for _, line := range d.Lines {
		buf.WriteString(line)
		buf.WriteString(d.LineEnding)
	}

	dir := filepath.Dir(d.Path)
	tmp, err := os.CreateTemp(dir, ".editline-*.tmp")
	if err != nil {
		return false, fmt.Errorf("editline: creating temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return false, fmt.Errorf("editline: writing %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return false, fmt.Errorf("editline: fsync %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return false, fmt.Errorf("editline: closing %s: %w", tmpPath, err)
	}
	if info, statErr := os.Stat(d.Path); statErr == nil {
		_ = os.Chmod(tmpPath, info.Mode())
	}
	if err := os.Rename(tmpPath, d.Path); err != nil {
		return false, fmt.Errorf("editline: renaming %s to %s: %w", tmpPath, d.Path, err)
	}
	d.loadedHash = hashLines(d.Lines)
	return true, nil
}
