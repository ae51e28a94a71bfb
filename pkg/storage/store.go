package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when an artifact key does not exist.
var ErrNotFound = errors.New("storage: object not found")

// ArtifactStore persists rendered documents by key.
type ArtifactStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, int64, error)
	Delete(ctx context.Context, key string) error
}
