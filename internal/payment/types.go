// Package payment provides an HTTP client for the credit recharge payment backend.
package payment

import (
	"time"

	"github.com/semopic/director-api/internal/task"
)

// Status represents the status of a payment order.
type Status string

// Payment order statuses aligned with the backend API.
const (
	StatusPending   Status = "PENDING"
	StatusPaid      Status = "PAID"
	StatusExpired   Status = "EXPIRED"
	StatusCancelled Status = "CANCELLED"
	StatusFailed    Status = "FAILED"
)

// IsTerminal returns true if the status is a terminal state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusPaid, StatusExpired, StatusCancelled, StatusFailed:
		return true
	default:
		return false
	}
}

// TaskStatus maps an order status onto the tracker's status enum.
// Unknown statuses are treated as still processing so polling continues.
func (s Status) TaskStatus() task.Status {
	switch s {
	case StatusPending:
		return task.StatusProcessing
	case StatusPaid:
		return task.StatusCompleted
	case StatusExpired:
		return task.StatusExpired
	case StatusCancelled, StatusFailed:
		return task.StatusFailed
	default:
		return task.StatusProcessing
	}
}

// Order is a created payment order awaiting confirmation. QRPayload is
// rendered client-side for the user to scan.
type Order struct {
	OrderID   string
	QRPayload string
	Credits   int
	ExpiresAt time.Time
}

// PollResult contains the result of polling an order's status.
type PollResult struct {
	Status    Status
	ReceiptID string // only set when Status is StatusPaid
	Credits   int    // credits granted, only set when Status is StatusPaid
	Error     string // only set when Status is a failure state
}

// orderRequest represents the request body for the backend's order endpoint.
type orderRequest struct {
	UserID    string `json:"user_id"`
	PackageID string `json:"package_id"`
}

// orderResponse represents the response from the backend's order endpoint.
type orderResponse struct {
	OrderID   string `json:"order_id"`
	QRPayload string `json:"qr_payload"`
	Credits   int    `json:"credits"`
	ExpiresAt string `json:"expires_at,omitempty"`
	Error     string `json:"error,omitempty"`
}

// statusResponse represents the response from the backend's status endpoint.
type statusResponse struct {
	OrderID   string `json:"order_id"`
	Status    string `json:"status"`
	ReceiptID string `json:"receipt_id,omitempty"`
	Credits   int    `json:"credits,omitempty"`
	Error     string `json:"error,omitempty"`
}
