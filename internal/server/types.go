// Package server provides the HTTP surface for the video pipeline API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"time"

	"github.com/semopic/director-api/internal/ledger"
	"github.com/semopic/director-api/internal/pipeline"
	"github.com/semopic/director-api/internal/task"
)

// CreateSessionRequest is the HTTP request body for opening a pipeline session.
type CreateSessionRequest struct {
	// UserID identifies the owning user.
	UserID string `json:"user_id" validate:"required"`
	// ImageURLs are the uploaded product images.
	ImageURLs []string `json:"image_urls" validate:"required,min=1,dive,url"`
	// UsageDescription is the seller's free-form usage notes.
	UsageDescription string `json:"usage_description"`
}

// EditDraftRequest is the HTTP request body for editing the current draft.
type EditDraftRequest struct {
	// Patch holds the fields to merge into the draft; a null value
	// removes the field.
	Patch map[string]any `json:"patch" validate:"required"`
}

// ConfirmRequest is the HTTP request body for confirming the current stage.
// ScriptIndex is required only at the script-selection stage.
type ConfirmRequest struct {
	ScriptIndex *int `json:"script_index,omitempty"`
}

// AbandonRequest is the HTTP request body for abandoning a session.
type AbandonRequest struct {
	Reason string `json:"reason"`
}

// CreateOrderRequest is the HTTP request body for opening a recharge order.
type CreateOrderRequest struct {
	// UserID identifies the paying user.
	UserID string `json:"user_id" validate:"required"`
	// PackageID selects the recharge package.
	PackageID string `json:"package_id" validate:"required"`
}

// SessionResponse is the HTTP representation of a pipeline session.
type SessionResponse struct {
	ID           string             `json:"id"`
	Stage        string             `json:"stage"`
	Artifacts    pipeline.Artifacts `json:"artifacts"`
	Draft        *pipeline.Draft    `json:"draft,omitempty"`
	RenderTaskID string             `json:"render_task_id,omitempty"`
	FailReason   string             `json:"fail_reason,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// newSessionResponse converts a domain snapshot into the HTTP shape.
func newSessionResponse(snap pipeline.Snapshot) SessionResponse {
	return SessionResponse{
		ID:           snap.ID,
		Stage:        string(snap.Stage),
		Artifacts:    snap.Artifacts,
		Draft:        snap.Draft,
		RenderTaskID: snap.RenderTaskID,
		FailReason:   snap.FailReason,
		CreatedAt:    snap.CreatedAt,
		UpdatedAt:    snap.UpdatedAt,
	}
}

// TaskResponse is the HTTP representation of a tracked job.
type TaskResponse struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	Status       string `json:"status"`
	Progress     int    `json:"progress"`
	VideoURL     string `json:"video_url,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	ReceiptID    string `json:"receipt_id,omitempty"`
	Credits      int64  `json:"credits,omitempty"`
	Error        string `json:"error,omitempty"`
}

// newTaskResponse converts a tracker snapshot into the HTTP shape.
func newTaskResponse(snap task.Snapshot) TaskResponse {
	return TaskResponse{
		ID:           snap.ID,
		Kind:         string(snap.Kind),
		Status:       string(snap.Status),
		Progress:     snap.Progress,
		VideoURL:     snap.Result.VideoURL,
		ThumbnailURL: snap.Result.ThumbnailURL,
		ReceiptID:    snap.Result.ReceiptID,
		Credits:      snap.Result.Credits,
		Error:        snap.LastError,
	}
}

// OrderResponse is the HTTP response after opening a recharge order.
type OrderResponse struct {
	OrderID   string    `json:"order_id"`
	QRPayload string    `json:"qr_payload"`
	Credits   int       `json:"credits"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// BalanceResponse is the HTTP response for a balance query.
type BalanceResponse struct {
	UserID  string `json:"user_id"`
	Balance int64  `json:"balance"`
}

// TransactionsResponse is the HTTP response for a ledger history query.
type TransactionsResponse struct {
	UserID       string                `json:"user_id"`
	Transactions []*ledger.Transaction `json:"transactions"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
