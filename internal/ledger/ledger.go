// Package ledger owns credit balances and the append-only transaction log.
// All balance mutation in the system goes through one of its
// implementations; reserve and refund are atomic against the store so
// concurrent dispatches for one user can never overdraw the account.
package ledger

import (
	"context"

	"github.com/nandanakrishna556/gictor-server/internal/domain"
)

// Ledger is the credit account contract used by the gateway and reconciler.
type Ledger interface {
	// Reserve atomically checks the balance and deducts amount, appending a
	// usage row keyed by requestID. Returns domain.ErrInsufficientCredits
	// when the balance is too low (a normal outcome, nothing was changed)
	// and a domain.ErrStorage-wrapped error on infrastructure faults. A
	// repeat call with the same requestID is a no-op.
	Reserve(ctx context.Context, userID string, amount float64, requestID, description string) error

	// Refund restores amount and appends a refund row keyed by requestID.
	// Idempotent: one refund row may exist per request, later calls change
	// nothing.
	Refund(ctx context.Context, userID string, amount float64, requestID, reason string) error

	// Grant adds purchased credits, keyed by an external payment reference
	// for idempotency. An empty reference always applies.
	Grant(ctx context.Context, userID string, amount float64, reference, description string) error

	// Balance reports the current balance; absent accounts read as zero.
	Balance(ctx context.Context, userID string) (float64, error)

	// Transactions lists the most recent ledger rows, newest first.
	Transactions(ctx context.Context, userID string, limit int) ([]domain.CreditTransaction, error)
}
