package task

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultInterval is the cadence between status checks.
	DefaultInterval = 3 * time.Second
	// DefaultMaxConsecutiveFailures is how many transport errors in a row
	// are tolerated before the tracker is forced to FAILED.
	DefaultMaxConsecutiveFailures = 5

	// ExhaustedMessage is the lastError recorded when the retry budget
	// runs out.
	ExhaustedMessage = "polling exhausted"
	// ExpiredMessage is the lastError recorded when a wall-clock deadline
	// passes before the job completes.
	ExpiredMessage = "order expired before confirmation"
)

// Update is the normalized result of one status check.
type Update struct {
	// Status is the backend-reported status, normalized.
	Status Status
	// Progress is the completion percentage, if the backend reports one.
	Progress int
	// Result is the completion payload, set when Status is COMPLETED.
	Result Result
	// Message is the backend-reported error, set when Status is FAILED.
	Message string
}

// CheckFunc performs one external status check for the given job ID.
// A returned error is a transport failure and does not change the tracker;
// a terminal failure reported by the backend arrives as a FAILED Update.
type CheckFunc func(ctx context.Context, id string) (Update, error)

// Poller drives one tracker by invoking a CheckFunc on a fixed cadence.
// It stops automatically at a terminal state and invokes the terminal
// callback exactly once, no matter how many ticks race to observe the
// terminal status.
type Poller struct {
	tracker     *Tracker
	check       CheckFunc
	onTerminal  func(*Tracker)
	interval    time.Duration
	maxFailures int
	deadline    time.Time
	logger      *slog.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// Option configures a Poller.
type Option func(*Poller)

// WithInterval sets the cadence between status checks.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithMaxConsecutiveFailures sets the transport-error retry budget.
func WithMaxConsecutiveFailures(n int) Option {
	return func(p *Poller) {
		if n > 0 {
			p.maxFailures = n
		}
	}
}

// WithDeadline sets a wall-clock expiry. If the deadline passes before the
// job reaches a terminal state, the tracker is finalized as EXPIRED. Used
// for payment orders, which must not remain pollable forever.
func WithDeadline(t time.Time) Option {
	return func(p *Poller) {
		p.deadline = t
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Poller) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPoller creates a poller for the given tracker. onTerminal may be nil.
func NewPoller(tracker *Tracker, check CheckFunc, onTerminal func(*Tracker), opts ...Option) *Poller {
	p := &Poller{
		tracker:     tracker,
		check:       check,
		onTerminal:  onTerminal,
		interval:    DefaultInterval,
		maxFailures: DefaultMaxConsecutiveFailures,
		logger:      slog.Default(),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start begins the polling loop on its own goroutine. The loop ends when
// the tracker reaches a terminal state, Stop is called, or ctx is cancelled.
func (p *Poller) Start(ctx context.Context) {
	go p.run(ctx)
}

// Stop cancels the polling loop. It is idempotent, safe to call after
// natural termination, and safe to call from within the terminal callback.
// It does not wait for the loop to exit and leaves the tracker's last-known
// state untouched.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// Done is closed once the polling loop has exited.
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
		}

		// A previous tick may have finalized the tracker while this one
		// was waiting; never dispatch a check against a terminal tracker.
		if p.tracker.IsTerminal() {
			return
		}

		if !p.deadline.IsZero() && time.Now().After(p.deadline) {
			p.finalize(StatusExpired, Result{}, ExpiredMessage)
			return
		}

		upd, err := p.check(ctx, p.tracker.ID())
		if err != nil {
			failures++
			p.logger.Warn("status check failed",
				slog.String("task_id", p.tracker.ID()),
				slog.String("kind", string(p.tracker.Kind())),
				slog.Int("consecutive_failures", failures),
				slog.String("error", err.Error()),
			)
			if failures >= p.maxFailures {
				p.finalize(StatusFailed, Result{}, ExhaustedMessage)
				return
			}
			continue
		}
		failures = 0

		if upd.Status.IsTerminal() {
			p.finalize(upd.Status, upd.Result, upd.Message)
			return
		}

		// Re-checked inside ApplyProgress: a stale non-terminal response
		// racing with a terminal tick from elsewhere is discarded.
		p.tracker.ApplyProgress(upd.Status, upd.Progress)
	}
}

// finalize applies a terminal status through the tracker's one-shot guard
// and fires the callback only if this poller won it.
func (p *Poller) finalize(status Status, result Result, errMsg string) {
	if !p.tracker.Finalize(status, result, errMsg) {
		return
	}

	p.logger.Info("task reached terminal state",
		slog.String("task_id", p.tracker.ID()),
		slog.String("kind", string(p.tracker.Kind())),
		slog.String("status", string(status)),
	)

	if p.onTerminal != nil {
		p.onTerminal(p.tracker)
	}
}
