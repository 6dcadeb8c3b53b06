package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nandanakrishna556/gictor-server/internal/domain"
)

// Memory is an in-process ledger with the same idempotency semantics as the
// PostgreSQL implementation. Used by tests and local development without a
// database.
type Memory struct {
	mu       sync.Mutex
	balances map[string]float64
	rows     []domain.CreditTransaction
	seen     map[string]struct{} // requestID + "/" + type
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{
		balances: make(map[string]float64),
		seen:     make(map[string]struct{}),
	}
}

var _ Ledger = (*Memory)(nil)

// SetBalance seeds an account, for tests.
func (l *Memory) SetBalance(userID string, balance float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userID] = balance
}

func (l *Memory) Reserve(ctx context.Context, userID string, amount float64, requestID, description string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if requestID != "" {
		if _, dup := l.seen[requestID+"/"+string(domain.TxUsage)]; dup {
			return nil
		}
	}
	if l.balances[userID] < amount {
		return domain.ErrInsufficientCredits
	}
	l.balances[userID] -= amount
	l.append(userID, -amount, domain.TxUsage, description, requestID)
	return nil
}

func (l *Memory) Refund(ctx context.Context, userID string, amount float64, requestID, reason string) error {
	if amount <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if requestID != "" {
		if _, dup := l.seen[requestID+"/"+string(domain.TxRefund)]; dup {
			return nil
		}
	}
	l.balances[userID] += amount
	l.append(userID, amount, domain.TxRefund, reason, requestID)
	return nil
}

func (l *Memory) Grant(ctx context.Context, userID string, amount float64, reference, description string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if reference != "" {
		if _, dup := l.seen[reference+"/"+string(domain.TxPurchase)]; dup {
			return nil
		}
	}
	l.balances[userID] += amount
	l.append(userID, amount, domain.TxPurchase, description, reference)
	return nil
}

func (l *Memory) Balance(ctx context.Context, userID string) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID], nil
}

func (l *Memory) Transactions(ctx context.Context, userID string, limit int) ([]domain.CreditTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	// Rows are appended in order, so walking backwards yields newest first.
	var txns []domain.CreditTransaction
	for i := len(l.rows) - 1; i >= 0 && len(txns) < limit; i-- {
		if l.rows[i].UserID == userID {
			txns = append(txns, l.rows[i])
		}
	}
	return txns, nil
}

// RowCount reports the total number of ledger rows, for tests.
func (l *Memory) RowCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rows)
}

// append must be called with the mutex held.
func (l *Memory) append(userID string, amount float64, txType domain.TransactionType, description, requestID string) {
	if requestID != "" {
		l.seen[requestID+"/"+string(txType)] = struct{}{}
	}
	l.rows = append(l.rows, domain.CreditTransaction{
		ID:          uuid.NewString(),
		UserID:      userID,
		Amount:      amount,
		Type:        txType,
		Description: description,
		RequestID:   requestID,
		CreatedAt:   time.Now(),
	})
}
