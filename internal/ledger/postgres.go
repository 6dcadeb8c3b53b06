package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/nandanakrishna556/gictor-server/internal/domain"
)

// PG is the PostgreSQL-backed ledger. Reserve relies on a conditional update
// (balance >= amount in the WHERE clause) so two concurrent reservations can
// never both pass the balance check, and on a unique (request_id, type) index
// for usage/refund idempotency.
type PG struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPG creates a ledger backed by the given pool.
func NewPG(pool *pgxpool.Pool, logger zerolog.Logger) *PG {
	return &PG{pool: pool, logger: logger}
}

var _ Ledger = (*PG)(nil)

// EnsureSchema creates the ledger tables if they do not exist.
func (l *PG) EnsureSchema(ctx context.Context) error {
	const q = `
CREATE TABLE IF NOT EXISTS credit_accounts (
	user_id    TEXT PRIMARY KEY,
	balance    NUMERIC(12,2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS credit_transactions (
	id          UUID PRIMARY KEY,
	user_id     TEXT NOT NULL,
	amount      NUMERIC(12,2) NOT NULL,
	type        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	request_id  TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS credit_transactions_request_type
	ON credit_transactions (request_id, type) WHERE request_id <> '';
CREATE INDEX IF NOT EXISTS credit_transactions_user_created
	ON credit_transactions (user_id, created_at DESC);
`
	if _, err := l.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("%w: ensure ledger schema: %v", domain.ErrStorage, err)
	}
	return nil
}

// Reserve implements Ledger.
func (l *PG) Reserve(ctx context.Context, userID string, amount float64, requestID, description string) error {
	if amount <= 0 {
		return fmt.Errorf("%w: reserve amount must be positive", domain.ErrStorage)
	}
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin reserve: %v", domain.ErrStorage, err)
	}
	defer tx.Rollback(ctx)

	// Dedup first so a retried reserve never double-deducts.
	var txnID uuid.UUID
	err = tx.QueryRow(ctx, `
INSERT INTO credit_transactions (id, user_id, amount, type, description, request_id)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (request_id, type) WHERE request_id <> '' DO NOTHING
RETURNING id;`,
		uuid.New(), userID, -amount, domain.TxUsage, description, requestID,
	).Scan(&txnID)
	if errors.Is(err, pgx.ErrNoRows) {
		l.logger.Warn().Str("request_id", requestID).Msg("ledger: duplicate reserve ignored")
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: append usage row: %v", domain.ErrStorage, err)
	}

	tag, err := tx.Exec(ctx, `
UPDATE credit_accounts
SET balance = balance - $2, updated_at = now()
WHERE user_id = $1 AND balance >= $2;`,
		userID, amount,
	)
	if err != nil {
		return fmt.Errorf("%w: deduct balance: %v", domain.ErrStorage, err)
	}
	if tag.RowsAffected() == 0 {
		// Not enough credit (or no account at all). The implicit rollback
		// discards the usage row, so this outcome has no side effects.
		return domain.ErrInsufficientCredits
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit reserve: %v", domain.ErrStorage, err)
	}
	return nil
}

// Refund implements Ledger.
func (l *PG) Refund(ctx context.Context, userID string, amount float64, requestID, reason string) error {
	if amount <= 0 {
		return nil
	}
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin refund: %v", domain.ErrStorage, err)
	}
	defer tx.Rollback(ctx)

	var txnID uuid.UUID
	err = tx.QueryRow(ctx, `
INSERT INTO credit_transactions (id, user_id, amount, type, description, request_id)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (request_id, type) WHERE request_id <> '' DO NOTHING
RETURNING id;`,
		uuid.New(), userID, amount, domain.TxRefund, reason, requestID,
	).Scan(&txnID)
	if errors.Is(err, pgx.ErrNoRows) {
		// Already refunded. Duplicate callbacks land here.
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: append refund row: %v", domain.ErrStorage, err)
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO credit_accounts (user_id, balance, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (user_id) DO UPDATE SET balance = credit_accounts.balance + $2, updated_at = now();`,
		userID, amount,
	); err != nil {
		return fmt.Errorf("%w: restore balance: %v", domain.ErrStorage, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit refund: %v", domain.ErrStorage, err)
	}
	l.logger.Info().Str("user_id", userID).Str("request_id", requestID).Float64("amount", amount).Msg("ledger: refund applied")
	return nil
}

// Grant implements Ledger.
func (l *PG) Grant(ctx context.Context, userID string, amount float64, reference, description string) error {
	if amount <= 0 {
		return fmt.Errorf("%w: grant amount must be positive", domain.ErrStorage)
	}
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin grant: %v", domain.ErrStorage, err)
	}
	defer tx.Rollback(ctx)

	var txnID uuid.UUID
	err = tx.QueryRow(ctx, `
INSERT INTO credit_transactions (id, user_id, amount, type, description, request_id)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (request_id, type) WHERE request_id <> '' DO NOTHING
RETURNING id;`,
		uuid.New(), userID, amount, domain.TxPurchase, description, reference,
	).Scan(&txnID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: append purchase row: %v", domain.ErrStorage, err)
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO credit_accounts (user_id, balance, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (user_id) DO UPDATE SET balance = credit_accounts.balance + $2, updated_at = now();`,
		userID, amount,
	); err != nil {
		return fmt.Errorf("%w: add balance: %v", domain.ErrStorage, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit grant: %v", domain.ErrStorage, err)
	}
	return nil
}

// Balance implements Ledger.
func (l *PG) Balance(ctx context.Context, userID string) (float64, error) {
	var balance float64
	err := l.pool.QueryRow(ctx, `SELECT balance FROM credit_accounts WHERE user_id = $1;`, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: read balance: %v", domain.ErrStorage, err)
	}
	return balance, nil
}

// Transactions implements Ledger.
func (l *PG) Transactions(ctx context.Context, userID string, limit int) ([]domain.CreditTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := l.pool.Query(ctx, `
SELECT id, user_id, amount, type, description, request_id, created_at
FROM credit_transactions
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2;`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list transactions: %v", domain.ErrStorage, err)
	}
	defer rows.Close()

	var txns []domain.CreditTransaction
	for rows.Next() {
		var txn domain.CreditTransaction
		if err := rows.Scan(&txn.ID, &txn.UserID, &txn.Amount, &txn.Type, &txn.Description, &txn.RequestID, &txn.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan transaction: %v", domain.ErrStorage, err)
		}
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list transactions: %v", domain.ErrStorage, err)
	}
	return txns, nil
}
