// Package orchestrator coordinates pipeline sessions, external job
// tracking and the credit ledger behind one façade. It owns the session
// and tracker registries, starts pollers for submitted jobs and settles
// credits exactly once when jobs reach a terminal state.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/semopic/director-api/internal/ledger"
	"github.com/semopic/director-api/internal/payment"
	"github.com/semopic/director-api/internal/pipeline"
	"github.com/semopic/director-api/internal/render"
	"github.com/semopic/director-api/internal/storage"
	"github.com/semopic/director-api/internal/task"
)

// Static errors for orchestrator operations.
var (
	// ErrSessionNotFound is returned when no session exists for the ID.
	ErrSessionNotFound = errors.New("orchestrator: session not found")
	// ErrTaskNotFound is returned when no tracker exists for the ID.
	ErrTaskNotFound = errors.New("orchestrator: task not found")
	// ErrRendererUnavailable is returned when no render client is configured.
	ErrRendererUnavailable = errors.New("orchestrator: render backend not configured")
	// ErrPaymentsUnavailable is returned when no payment client is configured.
	ErrPaymentsUnavailable = errors.New("orchestrator: payment backend not configured")
)

// callbackTimeout bounds the work done inside a terminal callback
// (archival, ledger settlement).
const callbackTimeout = 2 * time.Minute

// Settings carries the tunable business values.
type Settings struct {
	// RenderCost is the credit price of one video render.
	RenderCost int64
	// SignupBonus is the credit grant for a new user.
	SignupBonus int64
	// PollInterval is the cadence for job status checks.
	PollInterval time.Duration
	// PollMaxFailures is the consecutive transport-failure budget.
	PollMaxFailures int
	// PaymentExpiry bounds how long an unconfirmed order is polled when
	// the backend reports no expiry of its own.
	PaymentExpiry time.Duration
}

// Deps carries the injected collaborators. Archiver is optional; the
// others are required unless the corresponding operations are never used.
type Deps struct {
	Generator pipeline.StageGenerator
	Renderer  render.Client
	Payments  payment.Client
	Ledger    *ledger.Ledger
	Archiver  *storage.Archiver
	Logger    *slog.Logger
}

// sessionEntry pairs a session with its owning user.
type sessionEntry struct {
	session *pipeline.Session
	userID  string
}

// Orchestrator is the application façade over sessions, trackers,
// pollers and the ledger.
type Orchestrator struct {
	generator pipeline.StageGenerator
	renderer  render.Client
	payments  payment.Client
	ledger    *ledger.Ledger
	archiver  *storage.Archiver
	logger    *slog.Logger
	settings  Settings

	reg *registry

	// lifeCtx outlives any request: pollers run on it so they keep
	// ticking after the submitting handler returns. Shutdown cancels it.
	lifeCtx context.Context
	cancel  context.CancelFunc
}

// New creates an orchestrator with the given collaborators.
func New(deps Deps, settings Settings) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if settings.PollInterval <= 0 {
		settings.PollInterval = task.DefaultInterval
	}
	if settings.PollMaxFailures <= 0 {
		settings.PollMaxFailures = task.DefaultMaxConsecutiveFailures
	}

	lifeCtx, cancel := context.WithCancel(context.Background())

	return &Orchestrator{
		generator: deps.Generator,
		renderer:  deps.Renderer,
		payments:  deps.Payments,
		ledger:    deps.Ledger,
		archiver:  deps.Archiver,
		logger:    logger,
		settings:  settings,
		reg:       newRegistry(),
		lifeCtx:   lifeCtx,
		cancel:    cancel,
	}
}

// StartSession opens a pipeline session for the user's uploaded media.
func (o *Orchestrator) StartSession(userID string, upload pipeline.Upload) pipeline.Snapshot {
	session := pipeline.NewSession(upload)
	o.reg.putSession(&sessionEntry{session: session, userID: userID})

	o.logger.Info("session started",
		slog.String("session_id", session.ID()),
		slog.String("user_id", userID),
	)
	return session.Snapshot()
}

// Session returns a snapshot of the session state.
func (o *Orchestrator) Session(sessionID string) (pipeline.Snapshot, error) {
	entry, err := o.reg.session(sessionID)
	if err != nil {
		return pipeline.Snapshot{}, err
	}
	return entry.session.Snapshot(), nil
}

// Sessions returns snapshots of every session owned by the user, newest
// first.
func (o *Orchestrator) Sessions(userID string) []pipeline.Snapshot {
	return o.reg.sessionsFor(userID)
}

// Generate produces a draft for the session's current stage.
func (o *Orchestrator) Generate(ctx context.Context, sessionID string) (pipeline.Snapshot, error) {
	return o.withSession(sessionID, func(s *pipeline.Session) error {
		return s.Generate(ctx, o.generator)
	})
}

// Regenerate discards the current draft and produces a fresh one.
func (o *Orchestrator) Regenerate(ctx context.Context, sessionID string) (pipeline.Snapshot, error) {
	return o.withSession(sessionID, func(s *pipeline.Session) error {
		return s.Regenerate(ctx, o.generator)
	})
}

// EditDraft merges a partial edit into the session's current draft.
func (o *Orchestrator) EditDraft(sessionID string, patch map[string]any) (pipeline.Snapshot, error) {
	return o.withSession(sessionID, func(s *pipeline.Session) error {
		return s.EditDraft(patch)
	})
}

// EditScript merges a partial edit into one script candidate.
func (o *Orchestrator) EditScript(sessionID string, index int, patch map[string]any) (pipeline.Snapshot, error) {
	return o.withSession(sessionID, func(s *pipeline.Session) error {
		return s.EditScript(index, patch)
	})
}

// Confirm freezes the current draft as an artifact and advances the stage.
func (o *Orchestrator) Confirm(sessionID string) (pipeline.Snapshot, error) {
	return o.withSession(sessionID, func(s *pipeline.Session) error {
		return s.Confirm()
	})
}

// ConfirmScript selects one script candidate and advances the stage.
func (o *Orchestrator) ConfirmScript(sessionID string, index int) (pipeline.Snapshot, error) {
	return o.withSession(sessionID, func(s *pipeline.Session) error {
		return s.ConfirmScript(index)
	})
}

// AbandonSession fails a non-terminal session with the given reason.
func (o *Orchestrator) AbandonSession(sessionID, reason string) (pipeline.Snapshot, error) {
	return o.withSession(sessionID, func(s *pipeline.Session) error {
		return s.Abandon(reason)
	})
}

// StartRender submits the confirmed session to the render backend and
// begins tracking the job. The user's balance is checked up front; the
// actual debit happens once the render completes. ctx bounds only the
// synchronous submission; polling runs on the orchestrator's lifecycle
// and survives the caller's context.
func (o *Orchestrator) StartRender(ctx context.Context, sessionID string) (task.Snapshot, error) {
	if o.renderer == nil {
		return task.Snapshot{}, ErrRendererUnavailable
	}

	entry, err := o.reg.session(sessionID)
	if err != nil {
		return task.Snapshot{}, err
	}

	snap := entry.session.Snapshot()
	if snap.Stage != pipeline.StageReadyToRender {
		return task.Snapshot{}, fmt.Errorf("%w: cannot render from %s", pipeline.ErrInvalidTransition, snap.Stage)
	}

	balance, err := o.ledger.Balance(ctx, entry.userID)
	if err != nil {
		return task.Snapshot{}, fmt.Errorf("check balance: %w", err)
	}
	if balance < o.settings.RenderCost {
		return task.Snapshot{}, fmt.Errorf("%w: balance %d, render costs %d",
			ledger.ErrInsufficientBalance, balance, o.settings.RenderCost)
	}

	result, err := o.renderer.Submit(ctx, render.SubmitRequest{
		SessionID: sessionID,
		ImageURLs: snap.Artifacts.Upload.ImageURLs,
		Script:    *snap.Artifacts.Script,
		Style:     *snap.Artifacts.Style,
	})
	if err != nil {
		return task.Snapshot{}, fmt.Errorf("submit render: %w", err)
	}

	if err := entry.session.EnterRendering(result.TaskID); err != nil {
		return task.Snapshot{}, err
	}

	tracker := task.NewTracker(result.TaskID, task.KindVideoRender)
	o.reg.putTracker(tracker)

	o.logger.Info("render submitted",
		slog.String("session_id", sessionID),
		slog.String("task_id", result.TaskID),
		slog.String("status", string(result.Status)),
	)

	// Backends may resolve trivial jobs synchronously.
	if result.Status.IsTerminal() {
		if tracker.Finalize(result.Status.TaskStatus(), task.Result{
			VideoURL:     result.VideoURL,
			ThumbnailURL: result.ThumbnailURL,
		}, result.Error) {
			o.settleRender(entry, tracker)
		}
		return tracker.Snapshot(), nil
	}

	poller := task.NewPoller(tracker, o.checkRender, func(t *task.Tracker) {
		o.settleRender(entry, t)
	},
		task.WithInterval(o.settings.PollInterval),
		task.WithMaxConsecutiveFailures(o.settings.PollMaxFailures),
		task.WithLogger(o.logger),
	)
	o.reg.putPoller(result.TaskID, poller)
	poller.Start(o.lifeCtx)

	return tracker.Snapshot(), nil
}

// checkRender is the CheckFunc for render jobs.
func (o *Orchestrator) checkRender(ctx context.Context, taskID string) (task.Update, error) {
	res, err := o.renderer.Poll(ctx, taskID)
	if err != nil {
		return task.Update{}, err
	}

	update := task.Update{
		Status:   res.Status.TaskStatus(),
		Progress: res.Progress,
		Message:  res.Error,
	}
	if update.Status == task.StatusCompleted {
		update.Result = task.Result{
			VideoURL:     res.VideoURL,
			ThumbnailURL: res.ThumbnailURL,
		}
	}
	return update, nil
}

// settleRender runs exactly once per render job, after the tracker is
// finalized. It archives the assets, settles the debit and moves the
// session to its terminal render state.
func (o *Orchestrator) settleRender(entry *sessionEntry, tracker *task.Tracker) {
	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()

	snap := tracker.Snapshot()
	sessionID := entry.session.ID()

	switch snap.Status {
	case task.StatusCompleted:
		video := pipeline.RenderedVideo{
			VideoURL:     snap.Result.VideoURL,
			ThumbnailURL: snap.Result.ThumbnailURL,
		}

		if o.archiver != nil {
			archived, err := o.archiver.ArchiveRender(ctx, snap.ID, video)
			if err != nil {
				o.logger.Warn("asset archival failed, keeping backend URLs",
					slog.String("task_id", snap.ID),
					slog.String("error", err.Error()),
				)
			} else {
				video = archived
			}
		}

		if _, err := o.ledger.Apply(ctx, entry.userID, -o.settings.RenderCost,
			"video render", ledger.RenderKey(snap.ID)); err != nil {
			o.logger.Error("render debit failed",
				slog.String("task_id", snap.ID),
				slog.String("user_id", entry.userID),
				slog.String("error", err.Error()),
			)
		}

		if err := entry.session.CompleteRender(video); err != nil {
			o.logger.Error("session completion failed",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()),
			)
			return
		}

		o.logger.Info("render completed",
			slog.String("session_id", sessionID),
			slog.String("task_id", snap.ID),
		)

	case task.StatusFailed, task.StatusExpired:
		reason := snap.LastError
		if reason == "" {
			reason = "render failed"
		}
		if err := entry.session.FailRender(reason); err != nil {
			o.logger.Error("session failure transition failed",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()),
			)
			return
		}

		o.logger.Info("render failed",
			slog.String("session_id", sessionID),
			slog.String("task_id", snap.ID),
			slog.String("reason", reason),
		)
	}
}

// CreatePaymentOrder opens a recharge order and begins tracking it. The
// credit grant happens once the order is confirmed paid. ctx bounds only
// the synchronous order creation; polling runs on the orchestrator's
// lifecycle and survives the caller's context.
func (o *Orchestrator) CreatePaymentOrder(ctx context.Context, userID, packageID string) (payment.Order, error) {
	if o.payments == nil {
		return payment.Order{}, ErrPaymentsUnavailable
	}

	order, err := o.payments.CreateOrder(ctx, userID, packageID)
	if err != nil {
		return payment.Order{}, fmt.Errorf("create order: %w", err)
	}

	tracker := task.NewTracker(order.OrderID, task.KindPaymentOrder)
	o.reg.putTracker(tracker)

	deadline := order.ExpiresAt
	if deadline.IsZero() && o.settings.PaymentExpiry > 0 {
		deadline = time.Now().Add(o.settings.PaymentExpiry)
	}

	opts := []task.Option{
		task.WithInterval(o.settings.PollInterval),
		task.WithMaxConsecutiveFailures(o.settings.PollMaxFailures),
		task.WithLogger(o.logger),
	}
	if !deadline.IsZero() {
		opts = append(opts, task.WithDeadline(deadline))
	}

	credits := int64(order.Credits)
	poller := task.NewPoller(tracker, o.checkPayment, func(t *task.Tracker) {
		o.settlePayment(userID, credits, t)
	}, opts...)
	o.reg.putPoller(order.OrderID, poller)
	poller.Start(o.lifeCtx)

	o.logger.Info("payment order created",
		slog.String("order_id", order.OrderID),
		slog.String("user_id", userID),
		slog.Int("credits", order.Credits),
	)
	return order, nil
}

// checkPayment is the CheckFunc for payment orders.
func (o *Orchestrator) checkPayment(ctx context.Context, orderID string) (task.Update, error) {
	res, err := o.payments.Poll(ctx, orderID)
	if err != nil {
		return task.Update{}, err
	}

	update := task.Update{
		Status:  res.Status.TaskStatus(),
		Message: res.Error,
	}
	if update.Status == task.StatusCompleted {
		update.Result = task.Result{
			ReceiptID: res.ReceiptID,
			Credits:   int64(res.Credits),
		}
	}
	return update, nil
}

// settlePayment runs exactly once per order, after the tracker is
// finalized. Confirmed orders credit the user through the ledger's
// idempotency key, so a replayed confirmation cannot double-grant.
func (o *Orchestrator) settlePayment(userID string, orderCredits int64, tracker *task.Tracker) {
	snap := tracker.Snapshot()
	if snap.Status != task.StatusCompleted {
		o.logger.Info("payment order closed without confirmation",
			slog.String("order_id", snap.ID),
			slog.String("status", string(snap.Status)),
		)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()

	credits := snap.Result.Credits
	if credits == 0 {
		credits = orderCredits
	}

	if _, err := o.ledger.Apply(ctx, userID, credits,
		"credit recharge", ledger.PaymentKey(snap.ID)); err != nil {
		o.logger.Error("recharge credit failed",
			slog.String("order_id", snap.ID),
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return
	}

	o.logger.Info("payment confirmed",
		slog.String("order_id", snap.ID),
		slog.String("user_id", userID),
		slog.Int64("credits", credits),
	)
}

// GrantSignupBonus credits the initial grant for a new user. The
// per-user idempotency key makes repeated registration attempts safe.
func (o *Orchestrator) GrantSignupBonus(ctx context.Context, userID string) (*ledger.Transaction, error) {
	return o.ledger.Apply(ctx, userID, o.settings.SignupBonus, "signup bonus", "signup:"+userID)
}

// Task returns a snapshot of a tracked job.
func (o *Orchestrator) Task(taskID string) (task.Snapshot, error) {
	tracker, err := o.reg.tracker(taskID)
	if err != nil {
		return task.Snapshot{}, err
	}
	return tracker.Snapshot(), nil
}

// Balance returns the user's current credit balance.
func (o *Orchestrator) Balance(ctx context.Context, userID string) (int64, error) {
	return o.ledger.Balance(ctx, userID)
}

// Transactions returns the user's ledger history, newest first.
func (o *Orchestrator) Transactions(ctx context.Context, userID string) ([]*ledger.Transaction, error) {
	return o.ledger.Transactions(ctx, userID)
}

// Shutdown stops all pollers and waits for their loops to exit, or for
// ctx to be cancelled.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.cancel()
	pollers := o.reg.allPollers()
	for _, p := range pollers {
		p.Stop()
	}
	for _, p := range pollers {
		select {
		case <-p.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// withSession looks up the session, applies op and returns the fresh
// snapshot. The operation's error is returned alongside the snapshot so
// callers can still show current state.
func (o *Orchestrator) withSession(sessionID string, op func(*pipeline.Session) error) (pipeline.Snapshot, error) {
	entry, err := o.reg.session(sessionID)
	if err != nil {
		return pipeline.Snapshot{}, err
	}
	if err := op(entry.session); err != nil {
		return entry.session.Snapshot(), err
	}
	return entry.session.Snapshot(), nil
}
