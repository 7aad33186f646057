package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore persists transactions in SQLite so idempotency keys survive
// a process restart. Payment confirmations in particular may be re-delivered
// across restarts, which an in-memory key set cannot absorb.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath and runs
// migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// WAL mode for better concurrency; SQLite supports one writer at a time.
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// migrate runs idempotent schema migrations.
func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		idempotency_key TEXT NOT NULL,
		amount INTEGER NOT NULL,
		reason TEXT NOT NULL,
		resulting_balance INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		UNIQUE (user_id, idempotency_key)
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_user_id ON transactions(user_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append persists a committed transaction.
func (s *SQLiteStore) Append(ctx context.Context, tx *Transaction) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transactions
			(id, user_id, idempotency_key, amount, reason, resulting_balance, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.UserID, tx.IdempotencyKey, tx.Amount, tx.Reason,
		tx.ResultingBalance, tx.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// FindByKey returns the transaction with the given idempotency key.
func (s *SQLiteStore) FindByKey(ctx context.Context, userID, idempotencyKey string) (*Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, idempotency_key, amount, reason, resulting_balance, created_at
		 FROM transactions WHERE user_id = ? AND idempotency_key = ?`,
		userID, idempotencyKey,
	)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	return tx, err
}

// Balance returns the resulting balance of the user's latest transaction.
func (s *SQLiteStore) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx,
		`SELECT resulting_balance FROM transactions
		 WHERE user_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		userID,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query balance: %w", err)
	}
	return balance, nil
}

// List returns the user's transactions in commit order.
func (s *SQLiteStore) List(ctx context.Context, userID string) ([]*Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, idempotency_key, amount, reason, resulting_balance, created_at
		 FROM transactions WHERE user_id = ? ORDER BY created_at ASC, rowid ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var result []*Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}

// scanner abstracts sql.Row and sql.Rows for scanTransaction.
type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (*Transaction, error) {
	var tx Transaction
	var createdAt string
	if err := row.Scan(&tx.ID, &tx.UserID, &tx.IdempotencyKey, &tx.Amount,
		&tx.Reason, &tx.ResultingBalance, &createdAt); err != nil {
		return nil, err
	}
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	tx.CreatedAt = ts
	return &tx, nil
}
