package ledger

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/nandanakrishna556/gictor-server/internal/domain"
)

func TestReserveAndBalance(t *testing.T) {
	ctx := context.Background()
	l := NewMemory()
	l.SetBalance("u1", 5.0)

	if err := l.Reserve(ctx, "u1", 0.25, "req-1", "script generation"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	balance, _ := l.Balance(ctx, "u1")
	if balance != 4.75 {
		t.Fatalf("balance = %v, want 4.75", balance)
	}
	if n := l.RowCount(); n != 1 {
		t.Fatalf("rows = %d, want 1", n)
	}
}

func TestReserveInsufficient(t *testing.T) {
	ctx := context.Background()
	l := NewMemory()
	l.SetBalance("u1", 1.0)

	err := l.Reserve(ctx, "u1", 1.5, "req-1", "lip sync generation")
	if !errors.Is(err, domain.ErrInsufficientCredits) {
		t.Fatalf("err = %v, want ErrInsufficientCredits", err)
	}
	balance, _ := l.Balance(ctx, "u1")
	if balance != 1.0 {
		t.Fatalf("balance changed on rejected reserve: %v", balance)
	}
	if n := l.RowCount(); n != 0 {
		t.Fatalf("rows = %d, want 0 after rejected reserve", n)
	}
}

func TestReserveDuplicateRequestID(t *testing.T) {
	ctx := context.Background()
	l := NewMemory()
	l.SetBalance("u1", 10)

	for i := 0; i < 3; i++ {
		if err := l.Reserve(ctx, "u1", 2, "req-1", "x"); err != nil {
			t.Fatalf("Reserve #%d: %v", i+1, err)
		}
	}
	balance, _ := l.Balance(ctx, "u1")
	if balance != 8 {
		t.Fatalf("balance = %v, want 8 (single deduction)", balance)
	}
	if n := l.RowCount(); n != 1 {
		t.Fatalf("rows = %d, want 1", n)
	}
}

func TestRefundIdempotent(t *testing.T) {
	ctx := context.Background()
	l := NewMemory()
	l.SetBalance("u1", 5)
	if err := l.Reserve(ctx, "u1", 0.25, "req-1", "x"); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 4; i++ {
		if err := l.Refund(ctx, "u1", 0.25, "req-1", "worker failed"); err != nil {
			t.Fatalf("Refund #%d: %v", i+1, err)
		}
	}
	balance, _ := l.Balance(ctx, "u1")
	if balance != 5 {
		t.Fatalf("balance = %v, want 5 (exactly one refund)", balance)
	}
	if n := l.RowCount(); n != 2 {
		t.Fatalf("rows = %d, want 2 (one usage, one refund)", n)
	}
}

func TestGrantIdempotentPerReference(t *testing.T) {
	ctx := context.Background()
	l := NewMemory()

	for i := 0; i < 2; i++ {
		if err := l.Grant(ctx, "u1", 10, "payment-abc", "starter pack"); err != nil {
			t.Fatal(err)
		}
	}
	balance, _ := l.Balance(ctx, "u1")
	if balance != 10 {
		t.Fatalf("balance = %v, want 10", balance)
	}

	// Empty reference always applies.
	_ = l.Grant(ctx, "u1", 1, "", "manual adjustment")
	_ = l.Grant(ctx, "u1", 1, "", "manual adjustment")
	balance, _ = l.Balance(ctx, "u1")
	if balance != 12 {
		t.Fatalf("balance = %v, want 12", balance)
	}
}

// Concurrent reservations must never overdraw the account: committed usage is
// bounded by the initial balance.
func TestNoOverdraftUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	l := NewMemory()
	l.SetBalance("u1", 10)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var committed float64
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := l.Reserve(ctx, "u1", 0.3, reqID(i), "x")
			if err == nil {
				mu.Lock()
				committed += 0.3
				mu.Unlock()
			} else if !errors.Is(err, domain.ErrInsufficientCredits) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	balance, _ := l.Balance(ctx, "u1")
	if balance < -1e-9 {
		t.Fatalf("balance went negative: %v", balance)
	}
	if committed-10 > 1e-9 {
		t.Fatalf("committed usage %v exceeds initial balance", committed)
	}
	if math.Abs(10-committed-balance) > 1e-9 {
		t.Fatalf("accounting mismatch: committed %v + balance %v != 10", committed, balance)
	}
}

func TestTransactionsNewestFirst(t *testing.T) {
	ctx := context.Background()
	l := NewMemory()
	l.SetBalance("u1", 5)
	_ = l.Reserve(ctx, "u1", 1, "req-1", "first")
	_ = l.Reserve(ctx, "u1", 1, "req-2", "second")
	_ = l.Refund(ctx, "u1", 1, "req-2", "failed")

	txns, err := l.Transactions(ctx, "u1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(txns) != 3 {
		t.Fatalf("got %d transactions, want 3", len(txns))
	}
	if txns[0].Type != domain.TxRefund {
		t.Fatalf("newest transaction type = %s, want refund", txns[0].Type)
	}
}

func reqID(i int) string {
	return "req-" + string(rune('a'+i%26)) + "-" + string(rune('0'+i/26))
}
