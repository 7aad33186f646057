package ledger

import (
	"context"
	"sync"
)

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory implementation of Store.
// Suitable for development and testing; use SQLiteStore when idempotency
// must survive a process restart.
type MemoryStore struct {
	mu       sync.RWMutex
	byUser   map[string][]*Transaction
	byKey    map[string]map[string]*Transaction
	balances map[string]int64
}

// NewMemoryStore creates a new in-memory transaction store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byUser:   make(map[string][]*Transaction),
		byKey:    make(map[string]map[string]*Transaction),
		balances: make(map[string]int64),
	}
}

// Append persists a committed transaction. A clone is stored to avoid
// external mutations.
func (s *MemoryStore) Append(_ context.Context, tx *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *tx
	s.byUser[tx.UserID] = append(s.byUser[tx.UserID], &clone)
	if s.byKey[tx.UserID] == nil {
		s.byKey[tx.UserID] = make(map[string]*Transaction)
	}
	s.byKey[tx.UserID][tx.IdempotencyKey] = &clone
	s.balances[tx.UserID] = tx.ResultingBalance
	return nil
}

// FindByKey returns the transaction with the given idempotency key.
func (s *MemoryStore) FindByKey(_ context.Context, userID, idempotencyKey string) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.byKey[userID][idempotencyKey]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	clone := *tx
	return &clone, nil
}

// Balance returns the user's current balance.
func (s *MemoryStore) Balance(_ context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[userID], nil
}

// List returns the user's transactions in commit order.
func (s *MemoryStore) List(_ context.Context, userID string) ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txs := s.byUser[userID]
	result := make([]*Transaction, 0, len(txs))
	for _, tx := range txs {
		clone := *tx
		result = append(result, &clone)
	}
	return result, nil
}
