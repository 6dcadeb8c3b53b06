package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nandanakrishna556/gictor-server/internal/domain"
)

// FinishedAssetRepositoryPG implements domain.FinishedAssetRepository.
type FinishedAssetRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewFinishedAssetRepository creates a finished asset repository backed by PostgreSQL.
func NewFinishedAssetRepository(pool *pgxpool.Pool) *FinishedAssetRepositoryPG {
	return &FinishedAssetRepositoryPG{pool: pool}
}

var _ domain.FinishedAssetRepository = (*FinishedAssetRepositoryPG)(nil)

// EnsureSchema creates the finished_assets table if it does not exist. The
// unique pipeline_id index keeps duplicate final-stage callbacks from
// materializing a second asset for the same pipeline.
func (r *FinishedAssetRepositoryPG) EnsureSchema(ctx context.Context) error {
	const q = `
CREATE TABLE IF NOT EXISTS finished_assets (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	pipeline_id      TEXT NOT NULL,
	url              TEXT NOT NULL,
	duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS finished_assets_pipeline
	ON finished_assets (pipeline_id) WHERE pipeline_id <> '';
CREATE INDEX IF NOT EXISTS finished_assets_user_created
	ON finished_assets (user_id, created_at DESC);
`
	if _, err := r.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("%w: ensure asset schema: %v", domain.ErrStorage, err)
	}
	return nil
}

// Create inserts a finished asset. Inserting twice for the same pipeline is a
// no-op.
func (r *FinishedAssetRepositoryPG) Create(ctx context.Context, a *domain.FinishedAsset) error {
	const q = `
INSERT INTO finished_assets (id, user_id, pipeline_id, url, duration_seconds)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (pipeline_id) WHERE pipeline_id <> '' DO NOTHING;
`
	if _, err := r.pool.Exec(ctx, q, a.ID, a.UserID, a.PipelineID, a.URL, a.DurationSeconds); err != nil {
		return fmt.Errorf("%w: create finished asset: %v", domain.ErrStorage, err)
	}
	return nil
}

// ListByUser returns the user's finished assets, newest first.
func (r *FinishedAssetRepositoryPG) ListByUser(ctx context.Context, userID string, limit int) ([]domain.FinishedAsset, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	const q = `
SELECT id, user_id, pipeline_id, url, duration_seconds, created_at
FROM finished_assets
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2;
`
	rows, err := r.pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list finished assets: %v", domain.ErrStorage, err)
	}
	defer rows.Close()

	var out []domain.FinishedAsset
	for rows.Next() {
		var a domain.FinishedAsset
		if err := rows.Scan(&a.ID, &a.UserID, &a.PipelineID, &a.URL, &a.DurationSeconds, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan finished asset: %v", domain.ErrStorage, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list finished assets: %v", domain.ErrStorage, err)
	}
	return out, nil
}
