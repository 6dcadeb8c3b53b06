package domain

import "context"

// RequestRepository defines persistence for generation requests.
type RequestRepository interface {
	Create(ctx context.Context, req *GenerationRequest) error
	GetByID(ctx context.Context, id string) (*GenerationRequest, error)
	GetByIDForUser(ctx context.Context, id, userID string) (*GenerationRequest, error)
	// GetByPipelineStage resolves the request dispatched for one stage of a
	// pipeline, for stage-scoped callbacks that carry no request id.
	GetByPipelineStage(ctx context.Context, pipelineID, stage string) (*GenerationRequest, error)
	// UpdateStatus moves a request through its lifecycle. Result and error
	// payloads are only written when non-nil.
	UpdateStatus(ctx context.Context, id string, status Status, progress int, errMsg *string, resultJSON []byte) error
	// UpdateProgress bumps progress on a processing request; it never lowers
	// the stored value and never touches terminal rows.
	UpdateProgress(ctx context.Context, id string, progress int) error
	// ListStuckProcessing returns requests that have sat in pending or
	// processing longer than the given age, for the reconciliation sweep.
	ListStuckProcessing(ctx context.Context, olderThanSeconds int, limit int) ([]GenerationRequest, error)
}

// PipelineRepository defines persistence for multi-stage pipelines.
type PipelineRepository interface {
	Create(ctx context.Context, p *Pipeline) error
	GetByID(ctx context.Context, id string) (*Pipeline, error)
	// SetStageResult marks one stage complete and stores its output.
	SetStageResult(ctx context.Context, id, stage string, output StageOutput) error
}

// FinishedAssetRepository persists the derived records created when a
// pipeline's final stage completes.
type FinishedAssetRepository interface {
	Create(ctx context.Context, a *FinishedAsset) error
	ListByUser(ctx context.Context, userID string, limit int) ([]FinishedAsset, error)
}
