// Package render provides an HTTP client for the video render backend.
package render

import (
	"github.com/semopic/director-api/internal/pipeline"
	"github.com/semopic/director-api/internal/task"
)

// Status represents the status of a render job as reported by the backend.
type Status string

// Render job statuses aligned with the backend API.
const (
	StatusQueued     Status = "QUEUED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
	StatusTimedOut   Status = "TIMED_OUT"
)

// IsTerminal returns true if the status is a terminal state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	default:
		return false
	}
}

// TaskStatus maps a backend status onto the tracker's status enum.
// Cancelled and timed-out jobs are reported as failures; unknown
// statuses are treated as still processing so polling continues.
func (s Status) TaskStatus() task.Status {
	switch s {
	case StatusQueued:
		return task.StatusPending
	case StatusProcessing:
		return task.StatusProcessing
	case StatusCompleted:
		return task.StatusCompleted
	case StatusFailed, StatusCancelled, StatusTimedOut:
		return task.StatusFailed
	default:
		return task.StatusProcessing
	}
}

// SubmitRequest carries everything the backend needs to render a video.
type SubmitRequest struct {
	SessionID string
	ImageURLs []string
	Script    pipeline.Script
	Style     pipeline.StyleChoice
}

// SubmitResult is the outcome of submitting a render job. The backend
// may resolve trivial jobs synchronously, in which case Status is
// already terminal and VideoURL/Error are populated.
type SubmitResult struct {
	TaskID       string
	Status       Status
	VideoURL     string
	ThumbnailURL string
	Error        string
}

// PollResult contains the result of polling a render job's status.
type PollResult struct {
	Status       Status
	Progress     int    // 0..100, best effort while processing
	VideoURL     string // only set when Status is StatusCompleted
	ThumbnailURL string // only set when Status is StatusCompleted
	Error        string // only set when Status is a failure state
}

// renderRequest represents the request body for the backend's render endpoint.
type renderRequest struct {
	SessionID string               `json:"session_id"`
	ImageURLs []string             `json:"image_urls"`
	Script    pipeline.Script      `json:"script"`
	Style     pipeline.StyleChoice `json:"style"`
}

// renderResponse represents the response from the backend's render endpoint.
type renderResponse struct {
	TaskID string       `json:"task_id"`
	Status string       `json:"status,omitempty"`
	Output renderOutput `json:"output,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// statusResponse represents the response from the backend's status endpoint.
type statusResponse struct {
	TaskID   string       `json:"task_id"`
	Status   string       `json:"status"`
	Progress int          `json:"progress,omitempty"`
	Output   renderOutput `json:"output,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// renderOutput represents the output field in a backend response.
type renderOutput struct {
	VideoURL     string `json:"video_url,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}
