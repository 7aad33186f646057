package ledger

import "context"

// Store defines the persistence port for committed transactions.
// Implementations do not need their own locking for Apply's invariants;
// the Ledger serializes the check-then-act sequence above them.
type Store interface {
	// Append persists a committed transaction.
	Append(ctx context.Context, tx *Transaction) error

	// FindByKey returns the transaction with the given idempotency key
	// for the user, or ErrTransactionNotFound.
	FindByKey(ctx context.Context, userID, idempotencyKey string) (*Transaction, error)

	// Balance returns the user's current balance. A user with no
	// transactions has balance zero.
	Balance(ctx context.Context, userID string) (int64, error)

	// List returns the user's transactions in commit order.
	List(ctx context.Context, userID string) ([]*Transaction, error)
}
