package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalStorage keeps rendered exports on disk under a base directory.
type LocalStorage struct {
	baseDir string
}

// NewLocalStorage ensures the base directory exists and returns a handle.
func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	if baseDir == "" {
		baseDir = "./exports"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &LocalStorage{baseDir: baseDir}, nil
}

// Save writes data to name, relative to the base directory.
func (s *LocalStorage) Save(name string, data []byte) (string, error) {
	path, err := s.resolve(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("prepare directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return name, nil
}

// Open returns a read-only handle for a stored file.
func (s *LocalStorage) Open(name string) (*os.File, error) {
	path, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return file, nil
}

// Delete removes a stored file if present.
func (s *LocalStorage) Delete(name string) error {
	path, err := s.resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

// CleanupOlderThan removes files last modified before now-ttl and returns their names.
func (s *LocalStorage) CleanupOlderThan(ttl time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-ttl)
	deleted := make([]string, 0)
	err := filepath.WalkDir(s.baseDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		rel, err := filepath.Rel(s.baseDir, path)
		if err != nil {
			rel = path
		}
		deleted = append(deleted, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cleanup storage: %w", err)
	}
	return deleted, nil
}

// resolve rejects names escaping the base directory.
func (s *LocalStorage) resolve(name string) (string, error) {
	clean := filepath.Clean(name)
	if name == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid storage path %q", name)
	}
	return filepath.Join(s.baseDir, clean), nil
}

// Scope owns temporary files created while handling one inbound message or upload.
// Cleanup removes all of them and is safe to call more than once.
type Scope struct {
	dir     string
	maxSize int64
}

// NewScope creates a private temp directory under root.
func NewScope(root string, maxSize int64) (*Scope, error) {
	if root == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create temp root: %w", err)
	}
	dir, err := os.MkdirTemp(root, "scope-")
	if err != nil {
		return nil, fmt.Errorf("create temp scope: %w", err)
	}
	return &Scope{dir: dir, maxSize: maxSize}, nil
}

// Write copies r into a new file inside the scope and returns its path.
// Reading stops with an error once the configured size limit is exceeded.
func (s *Scope) Write(name string, r io.Reader) (string, error) {
	file, err := os.CreateTemp(s.dir, "*-"+filepath.Base(name))
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer file.Close() //nolint:errcheck

	src := r
	if s.maxSize > 0 {
		src = io.LimitReader(r, s.maxSize+1)
	}
	n, err := io.Copy(file, src)
	if err != nil {
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if s.maxSize > 0 && n > s.maxSize {
		return "", fmt.Errorf("file %s exceeds %d bytes", name, s.maxSize)
	}
	return file.Name(), nil
}

// Dir returns the scope directory.
func (s *Scope) Dir() string {
	return s.dir
}

// Cleanup removes the scope directory and everything in it.
func (s *Scope) Cleanup() error {
	if s == nil || s.dir == "" {
		return nil
	}
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("remove temp scope: %w", err)
	}
	return nil
}
