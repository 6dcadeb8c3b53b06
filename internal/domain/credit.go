package domain

import "time"

// TransactionType enumerates the business reason for a ledger entry.
type TransactionType string

const (
	TxUsage    TransactionType = "usage"
	TxRefund   TransactionType = "refund"
	TxPurchase TransactionType = "purchase"
)

// CreditAccount holds a user's spendable balance. The balance is only ever
// mutated through the ledger's atomic operations.
type CreditAccount struct {
	UserID    string
	Balance   float64
	UpdatedAt time.Time
}

// CreditTransaction is a single append-only ledger row. Amount is negative
// for usage and positive for refunds and purchases. RequestID correlates the
// row with the generation request that caused it and carries the idempotency
// guarantee: at most one usage and one refund row may exist per request.
type CreditTransaction struct {
	ID          string
	UserID      string
	Amount      float64
	Type        TransactionType
	Description string
	RequestID   string
	CreatedAt   time.Time
}
