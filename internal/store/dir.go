package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// DirStore keeps one file per resource in a local directory.
type DirStore struct {
	dir string
	ext string

	// rename is swapped in tests to simulate a failing commit.
	rename func(oldpath, newpath string) error
}

// NewDirStore creates a store rooted at dir writing <name>.<ext> files.
func NewDirStore(dir, ext string) *DirStore {
	return &DirStore{
		dir:    dir,
		ext:    normalizeExt(ext),
		rename: os.Rename,
	}
}

// Dir returns the root directory.
func (s *DirStore) Dir() string {
	return s.dir
}

// EnsureReady creates the directory if it does not exist.
func (s *DirStore) EnsureReady(_ context.Context) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return &StorageError{Op: "prepare", Path: s.dir, Err: err}
	}
	info, err := os.Stat(s.dir)
	if err != nil {
		return &StorageError{Op: "prepare", Path: s.dir, Err: err}
	}
	if !info.IsDir() {
		return &StorageError{Op: "prepare", Path: s.dir, Err: errors.New("not a directory")}
	}
	return nil
}

// Path returns the file path for name.
func (s *DirStore) Path(name string) string {
	return filepath.Join(s.dir, key(name, s.ext))
}

// Exists reports whether the file for name is present. A missing file is
// not an error.
func (s *DirStore) Exists(_ context.Context, name string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, &StorageError{Op: "stat", Path: name, Err: err}
	}

	path := s.Path(name)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, &StorageError{Op: "stat", Path: path, Err: err}
	}
	if !info.Mode().IsRegular() {
		return false, &StorageError{Op: "stat", Path: path, Err: errors.New("not a regular file")}
	}
	return true, nil
}

// Write stores data for name with an atomic rename.
func (s *DirStore) Write(_ context.Context, name string, data []byte) error {
	if err := validateName(name); err != nil {
		return &StorageError{Op: "write", Path: name, Err: err}
	}

	path := s.Path(name)
	if err := s.writeAtomic(path, data); err != nil {
		return &StorageError{Op: "write", Path: path, Err: err}
	}
	return nil
}

// writeAtomic writes to a temp file in the destination directory and
// renames it into place. The temp file is removed on every error path.
func (s *DirStore) writeAtomic(dst string, data []byte) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(dst), ".assetsync-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Chmod(0o644); err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Close(); err != nil {
		return err
	}

	if err := s.rename(tmpPath, dst); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true

	return nil
}
