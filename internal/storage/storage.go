// Package storage abstracts the remote object store the pipeline uploads to.
// The production implementation is S3; an in-memory sink backs tests and
// local development.
package storage

import (
	"context"
	"time"
)

// Object describes one stored object, as returned by List.
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Sink is the narrow contract the pipeline needs from remote storage.
// Put must be idempotent: re-uploading the same key overwrites in place.
type Sink interface {
	// Put uploads the file at localPath under key with the given content
	// type and cache-control metadata.
	Put(ctx context.Context, key, localPath, contentType, cacheControl string) error

	// Get returns the content of the object stored under key.
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns all objects whose keys start with prefix.
	List(ctx context.Context, prefix string) ([]Object, error)

	// Delete removes the given keys. Missing keys are not an error.
	Delete(ctx context.Context, keys []string) error

	// PresignGet returns a time-limited GET URL for key.
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}
