package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore implements the Store interface using local disk.
// Saved assets are served by the application from baseURL.
type LocalStore struct {
	dir     string
	baseURL string
}

// NewLocalStore creates a new LocalStore instance.
// The dir parameter specifies where assets are stored. If dir is empty,
// a subdirectory of os.TempDir() is used. The directory is created if it
// doesn't exist. baseURL is prepended to keys to form the returned URL.
func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "director-assets")
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create asset directory: %w", err)
	}

	return &LocalStore{
		dir:     dir,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}, nil
}

// Dir returns the asset directory path.
func (s *LocalStore) Dir() string {
	return s.dir
}

// Save writes data under the given key and returns the durable URL.
// Key path separators become subdirectories.
func (s *LocalStore) Save(ctx context.Context, key string, data io.Reader) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	dest := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dest), 0750); err != nil {
		return "", fmt.Errorf("create asset subdirectory: %w", err)
	}

	f, err := os.Create(dest) // #nosec G304 - key is derived from internal task IDs
	if err != nil {
		return "", fmt.Errorf("create asset file: %w", err)
	}

	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(dest)
		return "", fmt.Errorf("write asset file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(dest)
		return "", fmt.Errorf("close asset file: %w", err)
	}

	if s.baseURL != "" {
		return s.baseURL + "/" + key, nil
	}
	return "file://" + dest, nil
}
