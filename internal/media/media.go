// Package media stores the small audio blobs served by the web app.
package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
)

var (
	ErrNotFound    = errors.New("media not found")
	ErrTooLarge    = errors.New("media too large")
	ErrInvalidName = errors.New("invalid media name")

	namePattern = regexp.MustCompile(`^\w+$`)
)

// Kind describes one class of blob.
type Kind struct {
	Name        string
	Subdir      string
	Ext         string
	ContentType string
	MaxBytes    int64
	// Writable limits uploads to these names; nil allows any valid name.
	Writable map[string]bool
}

// Audio returns the intro/pitch recording kind.
func Audio(maxBytes int64) Kind {
	return Kind{
		Name:        "audio",
		Ext:         ".webm",
		ContentType: "audio/webm",
		MaxBytes:    maxBytes,
		Writable:    map[string]bool{"intro": true, "pitch": true},
	}
}

// BGM returns the background music kind.
func BGM(maxBytes int64) Kind {
	return Kind{
		Name:        "bgm",
		Subdir:      "bgm",
		Ext:         ".mp3",
		ContentType: "audio/mpeg",
		MaxBytes:    maxBytes,
	}
}

// Store keeps blobs on local disk.
type Store struct {
	root string
}

// NewStore returns a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// Put writes the blob read from r, rejecting bodies above kind.MaxBytes.
// It returns the stored size.
func (s *Store) Put(kind Kind, name string, r io.Reader) (int64, error) {
	if !namePattern.MatchString(name) {
		return 0, ErrInvalidName
	}
	if kind.Writable != nil && !kind.Writable[name] {
		return 0, ErrInvalidName
	}

	dir := filepath.Join(s.root, kind.Subdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create %s directory: %w", kind.Name, err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("create temp %s file: %w", kind.Name, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // nolint:errcheck // no-op after rename

	limit := kind.MaxBytes
	n, err := io.Copy(tmp, io.LimitReader(r, limit+1))
	if err != nil {
		_ = tmp.Close()
		return 0, fmt.Errorf("write %s: %w", kind.Name, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close %s: %w", kind.Name, err)
	}
	if limit > 0 && n > limit {
		return 0, ErrTooLarge
	}
	if err := os.Rename(tmpName, s.path(kind, name)); err != nil {
		return 0, fmt.Errorf("store %s: %w", kind.Name, err)
	}
	return n, nil
}

// Open returns the blob for reading. The caller closes it.
func (s *Store) Open(kind Kind, name string) (*os.File, os.FileInfo, error) {
	if !namePattern.MatchString(name) {
		return nil, nil, ErrNotFound
	}
	f, err := os.Open(s.path(kind, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", kind.Name, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("stat %s: %w", kind.Name, err)
	}
	return f, info, nil
}

func (s *Store) path(kind Kind, name string) string {
	return filepath.Join(s.root, kind.Subdir, name+kind.Ext)
}
