// Package storage archives completed render assets to durable storage.
// It defines the Store interface (port) for hexagonal architecture and
// implementations for local disk and S3 storage, plus an Archiver that
// copies assets from the render backend's ephemeral URLs.
package storage

import (
	"context"
	"errors"
	"io"
)

// Static errors for storage operations.
var (
	// ErrBucketRequired is returned when no S3 bucket is configured.
	ErrBucketRequired = errors.New("storage: bucket is required")
	// ErrEmptySourceURL is returned when an asset URL to archive is empty.
	ErrEmptySourceURL = errors.New("storage: source URL is empty")
	// ErrDownloadFailed is returned when fetching an asset returns a non-200 status.
	ErrDownloadFailed = errors.New("storage: download failed")
)

// Store defines the interface for durable asset storage.
type Store interface {
	// Save writes data under the given key and returns the durable URL.
	Save(ctx context.Context, key string, data io.Reader) (url string, err error)
}
