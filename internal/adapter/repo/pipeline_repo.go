package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nandanakrishna556/gictor-server/internal/domain"
)

// PipelineRepositoryPG implements domain.PipelineRepository.
type PipelineRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewPipelineRepository creates a pipeline repository backed by PostgreSQL.
func NewPipelineRepository(pool *pgxpool.Pool) *PipelineRepositoryPG {
	return &PipelineRepositoryPG{pool: pool}
}

var _ domain.PipelineRepository = (*PipelineRepositoryPG)(nil)

// EnsureSchema creates the pipelines table if it does not exist.
func (r *PipelineRepositoryPG) EnsureSchema(ctx context.Context) error {
	const q = `
CREATE TABLE IF NOT EXISTS pipelines (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	project_id    TEXT NOT NULL DEFAULT '',
	current_stage TEXT NOT NULL DEFAULT '',
	stage_done    JSONB NOT NULL DEFAULT '{}'::jsonb,
	stage_outputs JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
	if _, err := r.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("%w: ensure pipeline schema: %v", domain.ErrStorage, err)
	}
	return nil
}

// Create inserts a new pipeline record.
func (r *PipelineRepositoryPG) Create(ctx context.Context, p *domain.Pipeline) error {
	done, err := json.Marshal(emptyIfNilBool(p.StageDone))
	if err != nil {
		return fmt.Errorf("%w: marshal stage flags: %v", domain.ErrStorage, err)
	}
	outputs, err := json.Marshal(emptyIfNilOutput(p.StageOutputs))
	if err != nil {
		return fmt.Errorf("%w: marshal stage outputs: %v", domain.ErrStorage, err)
	}
	const q = `
INSERT INTO pipelines (id, user_id, project_id, current_stage, stage_done, stage_outputs)
VALUES ($1, $2, $3, $4, $5, $6);
`
	if _, err := r.pool.Exec(ctx, q, p.ID, p.UserID, p.ProjectID, p.CurrentStage, done, outputs); err != nil {
		return fmt.Errorf("%w: create pipeline: %v", domain.ErrStorage, err)
	}
	return nil
}

// GetByID fetches a pipeline by id.
func (r *PipelineRepositoryPG) GetByID(ctx context.Context, id string) (*domain.Pipeline, error) {
	const q = `
SELECT id, user_id, project_id, current_stage, stage_done, stage_outputs, created_at, updated_at
FROM pipelines
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, q, id)
	var p domain.Pipeline
	var done, outputs []byte
	if err := row.Scan(&p.ID, &p.UserID, &p.ProjectID, &p.CurrentStage, &done, &outputs, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: get pipeline: %v", domain.ErrStorage, err)
	}
	if err := json.Unmarshal(done, &p.StageDone); err != nil {
		return nil, fmt.Errorf("%w: decode stage flags: %v", domain.ErrStorage, err)
	}
	if err := json.Unmarshal(outputs, &p.StageOutputs); err != nil {
		return nil, fmt.Errorf("%w: decode stage outputs: %v", domain.ErrStorage, err)
	}
	return &p, nil
}

// SetStageResult marks one stage complete and stores its output. Only the
// named stage's entries are touched, so concurrent callbacks for different
// stages do not clobber each other.
func (r *PipelineRepositoryPG) SetStageResult(ctx context.Context, id, stage string, output domain.StageOutput) error {
	out, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("%w: marshal stage output: %v", domain.ErrStorage, err)
	}
	const q = `
UPDATE pipelines
SET stage_done = jsonb_set(stage_done, ARRAY[$2], 'true'::jsonb),
    stage_outputs = jsonb_set(stage_outputs, ARRAY[$2], $3::jsonb),
    current_stage = $2,
    updated_at = now()
WHERE id = $1;
`
	if _, err := r.pool.Exec(ctx, q, id, stage, out); err != nil {
		return fmt.Errorf("%w: set stage result: %v", domain.ErrStorage, err)
	}
	return nil
}

func emptyIfNilBool(m map[string]bool) map[string]bool {
	if m == nil {
		return map[string]bool{}
	}
	return m
}

func emptyIfNilOutput(m map[string]domain.StageOutput) map[string]domain.StageOutput {
	if m == nil {
		return map[string]domain.StageOutput{}
	}
	return m
}
