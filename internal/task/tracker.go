// Package task provides the Tracker aggregate for externally-executing jobs
// (video renders and payment orders) together with the Poller that drives
// status checks against the owning backend. A tracker is a small state
// machine; once it reaches a terminal status it is frozen and no further
// updates are applied.
package task

import (
	"sync"
	"time"
)

// Kind identifies which backend a tracked job belongs to.
type Kind string

const (
	// KindVideoRender tracks a video render job.
	KindVideoRender Kind = "VIDEO_RENDER"
	// KindPaymentOrder tracks a payment order awaiting confirmation.
	KindPaymentOrder Kind = "PAYMENT_ORDER"
)

// Status represents the current state of a tracked job.
type Status string

const (
	// StatusPending indicates the job has been accepted but not yet picked up.
	StatusPending Status = "PENDING"
	// StatusProcessing indicates the backend is working on the job.
	StatusProcessing Status = "PROCESSING"
	// StatusCompleted indicates the job finished successfully.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the backend reported a terminal failure,
	// or polling was exhausted.
	StatusFailed Status = "FAILED"
	// StatusExpired indicates a payment order timed out before confirmation.
	StatusExpired Status = "EXPIRED"
)

// IsTerminal returns true if the status represents a final state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusExpired:
		return true
	default:
		return false
	}
}

// Result is the payload attached to a tracker when it completes.
// Render jobs carry video fields; payment orders carry receipt fields.
type Result struct {
	// VideoURL is the URL of the rendered video.
	VideoURL string
	// ThumbnailURL is the URL of the video thumbnail.
	ThumbnailURL string
	// ReceiptID is the payment receipt identifier.
	ReceiptID string
	// Amount is the amount paid, in cents.
	Amount int64
	// Credits is the number of credits granted by the payment.
	Credits int64
}

// Tracker represents one externally-executing job. All mutation goes
// through ApplyProgress and Finalize; reads go through Snapshot.
type Tracker struct {
	mu sync.Mutex

	id        string
	kind      Kind
	status    Status
	progress  int
	result    Result
	lastError string
	finalized bool
	createdAt time.Time
	updatedAt time.Time
}

// Snapshot is an immutable copy of a tracker's state for display.
type Snapshot struct {
	// ID is the external job identifier.
	ID string
	// Kind is the job kind.
	Kind Kind
	// Status is the current job state.
	Status Status
	// Progress is the percentage of completion (0-100).
	Progress int
	// Result is the completion payload, zero until COMPLETED.
	Result Result
	// LastError is the failure message, empty unless FAILED.
	LastError string
	// CreatedAt is when tracking started.
	CreatedAt time.Time
	// UpdatedAt is when the tracker last changed.
	UpdatedAt time.Time
}

// NewTracker creates a tracker for an accepted external job in PENDING state.
func NewTracker(id string, kind Kind) *Tracker {
	now := time.Now()
	return &Tracker{
		id:        id,
		kind:      kind,
		status:    StatusPending,
		createdAt: now,
		updatedAt: now,
	}
}

// ID returns the external job identifier.
func (t *Tracker) ID() string { return t.id }

// Kind returns the job kind.
func (t *Tracker) Kind() Kind { return t.kind }

// IsTerminal returns true once the tracker has been finalized.
func (t *Tracker) IsTerminal() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finalized
}

// ApplyProgress records a non-terminal status update. Progress is clamped
// to the 0-100 range and never decreases; a stale update arriving after
// finalization is discarded.
func (t *Tracker) ApplyProgress(status Status, progress int) {
	if status.IsTerminal() {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finalized {
		return
	}

	t.status = status
	if progress > 100 {
		progress = 100
	}
	if progress > t.progress {
		t.progress = progress
	}
	t.updatedAt = time.Now()
}

// Finalize transitions the tracker to a terminal status exactly once.
// It returns true only for the caller that won the guard; all later
// calls are no-ops returning false. Non-terminal statuses are rejected.
func (t *Tracker) Finalize(status Status, result Result, errMsg string) bool {
	if !status.IsTerminal() {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finalized {
		return false
	}

	t.finalized = true
	t.status = status
	t.lastError = errMsg
	if status == StatusCompleted {
		t.result = result
		t.progress = 100
	}
	t.updatedAt = time.Now()
	return true
}

// Snapshot returns a copy of the tracker state for safe reads.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		ID:        t.id,
		Kind:      t.kind,
		Status:    t.status,
		Progress:  t.progress,
		Result:    t.result,
		LastError: t.lastError,
		CreatedAt: t.createdAt,
		UpdatedAt: t.updatedAt,
	}
}
