package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nandanakrishna556/gictor-server/internal/domain"
)

// RequestRepositoryPG implements domain.RequestRepository.
type RequestRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewRequestRepository creates a request repository backed by PostgreSQL.
func NewRequestRepository(pool *pgxpool.Pool) *RequestRepositoryPG {
	return &RequestRepositoryPG{pool: pool}
}

var _ domain.RequestRepository = (*RequestRepositoryPG)(nil)

// EnsureSchema creates the generation_requests table if it does not exist.
func (r *RequestRepositoryPG) EnsureSchema(ctx context.Context) error {
	const q = `
CREATE TABLE IF NOT EXISTS generation_requests (
	id             TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL,
	project_id     TEXT NOT NULL DEFAULT '',
	folder_id      TEXT NOT NULL DEFAULT '',
	pipeline_id    TEXT NOT NULL DEFAULT '',
	stage          TEXT NOT NULL DEFAULT '',
	kind           TEXT NOT NULL,
	status         TEXT NOT NULL,
	progress       INT NOT NULL DEFAULT 0,
	cost_credits   NUMERIC(12,2) NOT NULL,
	result_json    JSONB,
	error_message  TEXT NOT NULL DEFAULT '',
	origin_country TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS generation_requests_user_created
	ON generation_requests (user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS generation_requests_status
	ON generation_requests (status, updated_at);
`
	if _, err := r.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("%w: ensure request schema: %v", domain.ErrStorage, err)
	}
	return nil
}

// Create inserts a new request record.
func (r *RequestRepositoryPG) Create(ctx context.Context, req *domain.GenerationRequest) error {
	const q = `
INSERT INTO generation_requests
	(id, user_id, project_id, folder_id, pipeline_id, stage, kind, status, progress, cost_credits, error_message, origin_country)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12);
`
	_, err := r.pool.Exec(ctx, q,
		req.ID, req.UserID, req.ProjectID, req.FolderID, req.PipelineID, req.Stage,
		req.Kind, req.Status, req.Progress, req.CostCredits, req.ErrorMessage, req.OriginCountry,
	)
	if err != nil {
		return fmt.Errorf("%w: create request: %v", domain.ErrStorage, err)
	}
	return nil
}

// GetByID fetches a request by id.
func (r *RequestRepositoryPG) GetByID(ctx context.Context, id string) (*domain.GenerationRequest, error) {
	return r.get(ctx, `SELECT `+requestColumns+` FROM generation_requests WHERE id = $1;`, id)
}

// GetByIDForUser fetches a request scoped to its owner.
func (r *RequestRepositoryPG) GetByIDForUser(ctx context.Context, id, userID string) (*domain.GenerationRequest, error) {
	return r.get(ctx, `SELECT `+requestColumns+` FROM generation_requests WHERE id = $1 AND user_id = $2;`, id, userID)
}

// GetByPipelineStage resolves the newest request for a pipeline stage.
func (r *RequestRepositoryPG) GetByPipelineStage(ctx context.Context, pipelineID, stage string) (*domain.GenerationRequest, error) {
	return r.get(ctx, `
SELECT `+requestColumns+`
FROM generation_requests
WHERE pipeline_id = $1 AND stage = $2
ORDER BY created_at DESC
LIMIT 1;`, pipelineID, stage)
}

const requestColumns = `id, user_id, project_id, folder_id, pipeline_id, stage, kind, status, progress, cost_credits, result_json, error_message, origin_country, created_at, updated_at`

func (r *RequestRepositoryPG) get(ctx context.Context, query string, args ...any) (*domain.GenerationRequest, error) {
	row := r.pool.QueryRow(ctx, query, args...)
	var req domain.GenerationRequest
	if err := row.Scan(
		&req.ID, &req.UserID, &req.ProjectID, &req.FolderID, &req.PipelineID, &req.Stage,
		&req.Kind, &req.Status, &req.Progress, &req.CostCredits, &req.ResultJSON,
		&req.ErrorMessage, &req.OriginCountry, &req.CreatedAt, &req.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: get request: %v", domain.ErrStorage, err)
	}
	return &req, nil
}

// UpdateStatus applies a lifecycle transition. Rows already in a terminal
// state are never touched, so duplicate terminal writes are no-ops at the
// storage layer as well.
func (r *RequestRepositoryPG) UpdateStatus(ctx context.Context, id string, status domain.Status, progress int, errMsg *string, resultJSON []byte) error {
	const q = `
UPDATE generation_requests
SET status = $2,
    progress = $3,
    error_message = COALESCE($4, error_message),
    result_json = COALESCE($5, result_json),
    updated_at = now()
WHERE id = $1 AND status NOT IN ('completed', 'failed');
`
	_, err := r.pool.Exec(ctx, q, id, status, progress, errMsg, nullableBytes(resultJSON))
	if err != nil {
		return fmt.Errorf("%w: update request status: %v", domain.ErrStorage, err)
	}
	return nil
}

// UpdateProgress bumps progress on an in-flight request; it never lowers the
// stored value.
func (r *RequestRepositoryPG) UpdateProgress(ctx context.Context, id string, progress int) error {
	const q = `
UPDATE generation_requests
SET progress = GREATEST(progress, $2), updated_at = now()
WHERE id = $1 AND status = 'processing';
`
	_, err := r.pool.Exec(ctx, q, id, progress)
	if err != nil {
		return fmt.Errorf("%w: update request progress: %v", domain.ErrStorage, err)
	}
	return nil
}

// ListStuckProcessing returns non-terminal requests that have not been
// touched for olderThanSeconds, oldest first.
func (r *RequestRepositoryPG) ListStuckProcessing(ctx context.Context, olderThanSeconds int, limit int) ([]domain.GenerationRequest, error) {
	const q = `
SELECT ` + requestColumns + `
FROM generation_requests
WHERE status IN ('pending', 'processing')
  AND updated_at < now() - ($1 * interval '1 second')
ORDER BY updated_at ASC
LIMIT $2;
`
	rows, err := r.pool.Query(ctx, q, olderThanSeconds, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list stuck requests: %v", domain.ErrStorage, err)
	}
	defer rows.Close()

	var out []domain.GenerationRequest
	for rows.Next() {
		var req domain.GenerationRequest
		if err := rows.Scan(
			&req.ID, &req.UserID, &req.ProjectID, &req.FolderID, &req.PipelineID, &req.Stage,
			&req.Kind, &req.Status, &req.Progress, &req.CostCredits, &req.ResultJSON,
			&req.ErrorMessage, &req.OriginCountry, &req.CreatedAt, &req.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("%w: scan stuck request: %v", domain.ErrStorage, err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list stuck requests: %v", domain.ErrStorage, err)
	}
	return out, nil
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
