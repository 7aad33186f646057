package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/semopic/director-api/internal/pipeline"
)

// Archiver copies completed render assets from the backend's ephemeral
// URLs into a durable Store. Archival is best effort: the orchestrator
// keeps the original URLs when it fails.
type Archiver struct {
	store      Store
	httpClient *http.Client
	logger     *slog.Logger
}

// ArchiverOption configures an Archiver.
type ArchiverOption func(*Archiver)

// WithHTTPClient sets a custom HTTP client for asset downloads.
func WithHTTPClient(c *http.Client) ArchiverOption {
	return func(a *Archiver) {
		a.httpClient = c
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ArchiverOption {
	return func(a *Archiver) {
		a.logger = logger
	}
}

// NewArchiver creates an Archiver writing to the given store.
func NewArchiver(store Store, opts ...ArchiverOption) *Archiver {
	a := &Archiver{
		store:      store,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ArchiveRender copies the rendered video and thumbnail to durable
// storage and returns the asset with its URLs rewritten. The thumbnail
// is optional; a missing thumbnail URL is not an error.
func (a *Archiver) ArchiveRender(ctx context.Context, taskID string, video pipeline.RenderedVideo) (pipeline.RenderedVideo, error) {
	if video.VideoURL == "" {
		return video, ErrEmptySourceURL
	}

	archived := video

	videoURL, err := a.copyAsset(ctx, video.VideoURL, archiveKey(taskID, video.VideoURL, "video"))
	if err != nil {
		return video, fmt.Errorf("archive video: %w", err)
	}
	archived.VideoURL = videoURL

	if video.ThumbnailURL != "" {
		thumbURL, err := a.copyAsset(ctx, video.ThumbnailURL, archiveKey(taskID, video.ThumbnailURL, "thumbnail"))
		if err != nil {
			return video, fmt.Errorf("archive thumbnail: %w", err)
		}
		archived.ThumbnailURL = thumbURL
	}

	a.logger.Info("render assets archived",
		slog.String("task_id", taskID),
		slog.String("video_url", archived.VideoURL),
	)
	return archived, nil
}

// copyAsset streams one asset from its source URL into the store.
func (a *Archiver) copyAsset(ctx context.Context, sourceURL, key string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("create download request: %w", err)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download asset: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d for %s", ErrDownloadFailed, resp.StatusCode, sourceURL)
	}

	return a.store.Save(ctx, key, resp.Body)
}

// archiveKey builds the storage key for one asset, preserving the
// source extension when there is one.
func archiveKey(taskID, sourceURL, name string) string {
	var ext string
	if u, err := url.Parse(sourceURL); err == nil {
		ext = path.Ext(path.Base(u.Path))
	}
	if ext == "" {
		if name == "video" {
			ext = ".mp4"
		} else {
			ext = ".jpg"
		}
	}
	return path.Join("renders", taskID, name+ext)
}
