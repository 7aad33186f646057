// Package ledger provides the credit ledger: a per-user balance backed by an
// append-only list of signed transactions. Applying a transaction is
// idempotent on a caller-supplied key, which makes completion side effects
// safe to deliver any number of times.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Static errors for ledger operations.
var (
	// ErrInsufficientBalance is returned when a debit would take the
	// balance below zero. No state is changed.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	// ErrTransactionNotFound is returned by stores when no transaction
	// matches the query.
	ErrTransactionNotFound = errors.New("ledger: transaction not found")
)

// Transaction is one committed ledger entry. Entries are immutable.
type Transaction struct {
	// ID is the unique transaction identifier.
	ID string `json:"id"`
	// UserID is the owning account.
	UserID string `json:"user_id"`
	// IdempotencyKey deduplicates redundant deliveries of the same
	// side effect. No two committed transactions share a key.
	IdempotencyKey string `json:"idempotency_key"`
	// Amount is the signed credit delta.
	Amount int64 `json:"amount"`
	// Reason is a human-readable description of the transaction.
	Reason string `json:"reason"`
	// ResultingBalance is the balance after this transaction.
	ResultingBalance int64 `json:"resulting_balance"`
	// CreatedAt is when the transaction was committed.
	CreatedAt time.Time `json:"created_at"`
}

// RenderKey derives the idempotency key for a render debit. Repeated
// completion signals for the same task collide onto one ledger entry.
func RenderKey(taskID string) string {
	return fmt.Sprintf("render:%s", taskID)
}

// PaymentKey derives the idempotency key for a payment credit.
func PaymentKey(orderID string) string {
	return fmt.Sprintf("payment:%s", orderID)
}

// Ledger applies transactions against a Store. The whole check-then-act
// sequence runs under a single mutex; this is the only shared-mutable-state
// discipline the orchestration core requires.
type Ledger struct {
	mu     sync.Mutex
	store  Store
	logger *slog.Logger
}

// New creates a ledger over the given store.
func New(store Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: store, logger: logger}
}

// Apply commits a signed transaction for the user, keyed by idempotencyKey.
//
// If a transaction with the same key already exists, the existing
// transaction is returned unchanged; redundant completion signals are a
// success-no-op, not an error. A debit that would take the balance below
// zero is rejected with ErrInsufficientBalance and changes nothing.
func (l *Ledger) Apply(ctx context.Context, userID string, amount int64, reason, idempotencyKey string) (*Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.store.FindByKey(ctx, userID, idempotencyKey)
	if err == nil {
		l.logger.Debug("duplicate transaction ignored",
			slog.String("user_id", userID),
			slog.String("idempotency_key", idempotencyKey),
		)
		return existing, nil
	}
	if !errors.Is(err, ErrTransactionNotFound) {
		return nil, fmt.Errorf("lookup transaction: %w", err)
	}

	balance, err := l.store.Balance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}

	newBalance := balance + amount
	if amount < 0 && newBalance < 0 {
		return nil, ErrInsufficientBalance
	}

	tx := &Transaction{
		ID:               uuid.NewString(),
		UserID:           userID,
		IdempotencyKey:   idempotencyKey,
		Amount:           amount,
		Reason:           reason,
		ResultingBalance: newBalance,
		CreatedAt:        time.Now(),
	}
	if err := l.store.Append(ctx, tx); err != nil {
		return nil, fmt.Errorf("append transaction: %w", err)
	}

	l.logger.Info("transaction committed",
		slog.String("user_id", userID),
		slog.String("idempotency_key", idempotencyKey),
		slog.Int64("amount", amount),
		slog.Int64("resulting_balance", newBalance),
		slog.String("reason", reason),
	)
	return tx, nil
}

// Balance returns the current balance for the user.
func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Balance(ctx, userID)
}

// Transactions returns the user's committed transactions in commit order.
func (l *Ledger) Transactions(ctx context.Context, userID string) ([]*Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.List(ctx, userID)
}
