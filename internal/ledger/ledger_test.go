package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func newTestLedger() *Ledger {
	return New(NewMemoryStore(), nil)
}

func TestLedger_ApplyCredit(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	tx, err := l.Apply(ctx, "user-1", 520, "signup bonus", "signup:user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tx.ID == "" {
		t.Error("expected transaction ID to be set")
	}
	if tx.ResultingBalance != 520 {
		t.Errorf("expected resulting balance 520, got %d", tx.ResultingBalance)
	}

	balance, err := l.Balance(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if balance != 520 {
		t.Errorf("expected balance 520, got %d", balance)
	}
}

func TestLedger_ApplyIsIdempotent(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	first, err := l.Apply(ctx, "user-1", 100, "recharge", PaymentKey("order-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Redundant deliveries of the same completion signal.
	for i := 0; i < 5; i++ {
		tx, err := l.Apply(ctx, "user-1", 100, "recharge", PaymentKey("order-1"))
		if err != nil {
			t.Fatalf("unexpected error on redundant apply: %v", err)
		}
		if tx.ID != first.ID {
			t.Errorf("expected existing transaction returned, got %s", tx.ID)
		}
	}

	balance, _ := l.Balance(ctx, "user-1")
	if balance != 100 {
		t.Errorf("expected one balance delta, got balance %d", balance)
	}

	txs, _ := l.Transactions(ctx, "user-1")
	if len(txs) != 1 {
		t.Errorf("expected exactly one transaction, got %d", len(txs))
	}
}

func TestLedger_InsufficientBalance(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	if _, err := l.Apply(ctx, "user-1", 50, "recharge", "k1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := l.Apply(ctx, "user-1", -100, "render", "k2")
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	balance, _ := l.Balance(ctx, "user-1")
	if balance != 50 {
		t.Errorf("expected balance unchanged at 50, got %d", balance)
	}
	txs, _ := l.Transactions(ctx, "user-1")
	if len(txs) != 1 {
		t.Errorf("expected no partial state, got %d transactions", len(txs))
	}
}

func TestLedger_RunningBalanceInvariant(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	amounts := []int64{520, -70, 1100, -70, -70}
	for i, amount := range amounts {
		if _, err := l.Apply(ctx, "user-1", amount, "tx", PaymentKey(string(rune('a'+i)))); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	txs, _ := l.Transactions(ctx, "user-1")
	var running int64
	for _, tx := range txs {
		running += tx.Amount
		if tx.ResultingBalance != running {
			t.Errorf("transaction %s: resulting balance %d, want running sum %d",
				tx.ID, tx.ResultingBalance, running)
		}
	}

	balance, _ := l.Balance(ctx, "user-1")
	if balance != running {
		t.Errorf("balance %d does not match last resulting balance %d", balance, running)
	}
}

func TestLedger_ConcurrentRedundantApplies(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	const racers = 16
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Apply(ctx, "user-1", 200, "recharge", PaymentKey("order-9"))
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	balance, _ := l.Balance(ctx, "user-1")
	if balance != 200 {
		t.Errorf("expected exactly one delta, got balance %d", balance)
	}
}

func TestKeys(t *testing.T) {
	if got := RenderKey("task-7"); got != "render:task-7" {
		t.Errorf("unexpected render key %q", got)
	}
	if got := PaymentKey("order-7"); got != "payment:order-7" {
		t.Errorf("unexpected payment key %q", got)
	}
}

func TestLedger_SeparateUsers(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	_, _ = l.Apply(ctx, "user-1", 100, "recharge", "k")
	_, _ = l.Apply(ctx, "user-2", 300, "recharge", "k")

	b1, _ := l.Balance(ctx, "user-1")
	b2, _ := l.Balance(ctx, "user-2")
	if b1 != 100 || b2 != 300 {
		t.Errorf("expected per-user balances 100/300, got %d/%d", b1, b2)
	}
}
