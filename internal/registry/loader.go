// Package registry maps model identifiers to local gguf files for the
// llama-based runtimes. Hub-style identifiers (e.g. "TheBloke/foo-GGUF") are
// matched against file names in a models directory.
package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"completiond/internal/common/fsutil"
)

// Entry is one discovered model file.
type Entry struct {
	// ID is the full file name, e.g. "tinyllama-1.1b.Q4_K_M.gguf".
	ID string
	// Path is the absolute file path.
	Path string
	// SizeBytes is the file size at scan time.
	SizeBytes int64
}

// Stem returns ID without the .gguf extension.
func (e Entry) Stem() string {
	return strings.TrimSuffix(e.ID, filepath.Ext(e.ID))
}

// ErrModelNotFound is returned by Resolve when nothing matches.
var ErrModelNotFound = errors.New("model not found")

// LoadDir scans a directory for *.gguf files, sorted by ID.
func LoadDir(dir string) ([]Entry, error) {
	abs, err := fsutil.AbsPath(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var out []Entry
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".gguf") {
			continue
		}
		var size int64
		if fi, err := e.Info(); err == nil {
			size = fi.Size()
		}
		out = append(out, Entry{ID: name, Path: filepath.Join(abs, name), SizeBytes: size})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Resolve returns the gguf path for modelID. A modelID that is itself a
// path to an existing file wins. Otherwise the last path segment of modelID
// is matched case-insensitively against file names and stems in dir.
func Resolve(dir, modelID string) (string, error) {
	id := strings.TrimSpace(modelID)
	if id == "" {
		return "", fmt.Errorf("%w: empty id", ErrModelNotFound)
	}
	if p, err := fsutil.AbsPath(id); err == nil && fsutil.IsRegularFile(p) {
		return p, nil
	}
	if dir == "" {
		return "", fmt.Errorf("%w: %s (no models dir configured)", ErrModelNotFound, id)
	}
	entries, err := LoadDir(dir)
	if err != nil {
		return "", err
	}
	want := strings.ToLower(id[strings.LastIndex(id, "/")+1:])
	for _, e := range entries {
		if strings.ToLower(e.ID) == want || strings.ToLower(e.Stem()) == want {
			return e.Path, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrModelNotFound, id)
}
