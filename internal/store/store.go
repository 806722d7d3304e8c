// Package store persists fetched payloads. Presence of an object for a name
// is the only state: if it exists, the resource is synced.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// DefaultExt is the extension used when none is configured.
const DefaultExt = "png"

// Store is a destination addressed by resource name.
type Store interface {
	// EnsureReady prepares the destination. Safe to call on every run.
	EnsureReady(ctx context.Context) error
	// Exists reports whether name has been persisted.
	Exists(ctx context.Context, name string) (bool, error)
	// Write persists data under name. A failed write leaves nothing behind.
	Write(ctx context.Context, name string, data []byte) error
	// Path returns the derived location for name.
	Path(name string) string
}

// ErrInvalidName is wrapped by StorageError for names that cannot be used as
// a file stem.
var ErrInvalidName = errors.New("invalid resource name")

// StorageError reports a destination that cannot be read or written.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Open returns a BucketStore when dest is a URL (contains "://") and a
// DirStore otherwise.
func Open(ctx context.Context, dest, ext string) (Store, error) {
	if strings.Contains(dest, "://") {
		return OpenBucket(ctx, dest, ext)
	}
	return NewDirStore(dest, ext), nil
}

// key derives the object name for a resource.
func key(name, ext string) string {
	return name + "." + ext
}

func validateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("%w: %q contains a path separator or null byte", ErrInvalidName, name)
	}
	return nil
}

func normalizeExt(ext string) string {
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" {
		return DefaultExt
	}
	return ext
}
