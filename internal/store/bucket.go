package store

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
)

// BucketStore keeps one object per resource in a gocloud bucket.
type BucketStore struct {
	bucket *blob.Bucket
	url    string
	ext    string
}

// OpenBucket opens the bucket at url (file:///..., mem://, or any driver
// linked into the binary).
func OpenBucket(ctx context.Context, url, ext string) (*BucketStore, error) {
	b, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, &StorageError{Op: "open", Path: url, Err: err}
	}
	return NewBucketStore(b, url, ext), nil
}

// NewBucketStore wraps an already opened bucket. url is used for messages.
func NewBucketStore(b *blob.Bucket, url, ext string) *BucketStore {
	return &BucketStore{bucket: b, url: url, ext: normalizeExt(ext)}
}

// EnsureReady checks that the bucket can be reached.
func (s *BucketStore) EnsureReady(ctx context.Context) error {
	ok, err := s.bucket.IsAccessible(ctx)
	if err != nil {
		return &StorageError{Op: "prepare", Path: s.url, Err: err}
	}
	if !ok {
		return &StorageError{Op: "prepare", Path: s.url, Err: errors.New("bucket is not accessible")}
	}
	return nil
}

// Path returns the object key for name.
func (s *BucketStore) Path(name string) string {
	return key(name, s.ext)
}

// Exists reports whether the object for name is present.
func (s *BucketStore) Exists(ctx context.Context, name string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, &StorageError{Op: "stat", Path: name, Err: err}
	}
	ok, err := s.bucket.Exists(ctx, s.Path(name))
	if err != nil {
		return false, &StorageError{Op: "stat", Path: s.Path(name), Err: err}
	}
	return ok, nil
}

// Write uploads data for name. The upload is only committed by a successful
// Close; on any earlier error the writer context is cancelled, which aborts it.
func (s *BucketStore) Write(ctx context.Context, name string, data []byte) error {
	if err := validateName(name); err != nil {
		return &StorageError{Op: "write", Path: name, Err: err}
	}

	k := s.Path(name)
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := s.bucket.NewWriter(wctx, k, &blob.WriterOptions{
		ContentType: http.DetectContentType(data),
	})
	if err != nil {
		return &StorageError{Op: "write", Path: k, Err: err}
	}

	if _, err := w.Write(data); err != nil {
		cancel()
		_ = w.Close()
		return &StorageError{Op: "write", Path: k, Err: err}
	}

	if err := w.Close(); err != nil {
		return &StorageError{Op: "write", Path: k, Err: fmt.Errorf("commit: %w", err)}
	}
	return nil
}

// Close releases the bucket.
func (s *BucketStore) Close() error {
	return s.bucket.Close()
}
