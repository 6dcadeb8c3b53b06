// Package reconcile applies the external engine's status callbacks to
// persisted state and the credit ledger. Delivery is at-least-once, so every
// path here is idempotent: a request transitions into a terminal state once,
// and a failed request is refunded once, no matter how many times the same
// callback arrives.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nandanakrishna556/gictor-server/internal/domain"
	"github.com/nandanakrishna556/gictor-server/internal/ledger"
	"github.com/nandanakrishna556/gictor-server/internal/metrics"
)

// Callback is the engine's report for one request or one pipeline stage.
// Stage-scoped callbacks set Type to "pipeline_<stage>" and identify the
// target by PipelineID; request-scoped callbacks use FileID.
type Callback struct {
	Type         string              `json:"type,omitempty"`
	FileID       string              `json:"file_id,omitempty"`
	PipelineID   string              `json:"pipeline_id,omitempty"`
	Status       string              `json:"status"`
	DownloadURL  string              `json:"download_url,omitempty"`
	PreviewURL   string              `json:"preview_url,omitempty"`
	Progress     *int                `json:"progress,omitempty"`
	Output       *domain.StageOutput `json:"output,omitempty"`
	ErrorMessage string              `json:"error_message,omitempty"`
	UserID       string              `json:"user_id,omitempty"`
	CreditsCost  float64             `json:"credits_cost,omitempty"`
}

// Reconciler applies callbacks.
type Reconciler struct {
	ledger    ledger.Ledger
	requests  domain.RequestRepository
	pipelines domain.PipelineRepository
	assets    domain.FinishedAssetRepository
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

// New wires a reconciler.
func New(
	led ledger.Ledger,
	requests domain.RequestRepository,
	pipelines domain.PipelineRepository,
	assets domain.FinishedAssetRepository,
	logger zerolog.Logger,
	m *metrics.Metrics,
) *Reconciler {
	return &Reconciler{
		ledger:    led,
		requests:  requests,
		pipelines: pipelines,
		assets:    assets,
		logger:    logger,
		metrics:   m,
	}
}

// Reconcile applies one callback. Errors map to the handler's responses:
// domain.ErrInvalidCallback is a 400, domain.ErrNotFound a 404, anything
// wrapping domain.ErrStorage a 500 so the engine's retry redelivers.
func (r *Reconciler) Reconcile(ctx context.Context, cb Callback) error {
	if err := validateCallback(cb); err != nil {
		r.metrics.ReconcileOutcome("invalid")
		return err
	}
	if stage, ok := pipelineStage(cb.Type); ok {
		return r.reconcileStage(ctx, cb, stage)
	}
	return r.reconcileRequest(ctx, cb)
}

func validateCallback(cb Callback) error {
	switch cb.Status {
	case "completed", "failed", "processing":
	default:
		return fmt.Errorf("%w: unsupported status %q", domain.ErrInvalidCallback, cb.Status)
	}
	if _, ok := pipelineStage(cb.Type); ok {
		if cb.PipelineID == "" {
			return fmt.Errorf("%w: pipeline callback without pipeline_id", domain.ErrInvalidCallback)
		}
		return nil
	}
	if cb.Type != "" {
		return fmt.Errorf("%w: unsupported callback type %q", domain.ErrInvalidCallback, cb.Type)
	}
	if cb.FileID == "" {
		return fmt.Errorf("%w: callback without file_id", domain.ErrInvalidCallback)
	}
	return nil
}

func pipelineStage(callbackType string) (string, bool) {
	stage, ok := strings.CutPrefix(callbackType, "pipeline_")
	if !ok || stage == "" {
		return "", false
	}
	return stage, true
}

// reconcileRequest handles the single-request callback form.
func (r *Reconciler) reconcileRequest(ctx context.Context, cb Callback) error {
	req, err := r.requests.GetByID(ctx, cb.FileID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			r.metrics.ReconcileOutcome("unknown_request")
			return err
		}
		r.metrics.ReconcileOutcome("storage_error")
		return err
	}
	if req.Status.Terminal() {
		// Duplicate delivery of a terminal callback. Nothing to do.
		r.metrics.ReconcileOutcome("duplicate")
		return nil
	}

	switch cb.Status {
	case "completed":
		result, err := json.Marshal(map[string]string{
			"download_url": cb.DownloadURL,
			"preview_url":  cb.PreviewURL,
		})
		if err != nil {
			return fmt.Errorf("%w: encode result: %v", domain.ErrStorage, err)
		}
		empty := ""
		if err := r.requests.UpdateStatus(ctx, req.ID, domain.StatusCompleted, 100, &empty, result); err != nil {
			r.metrics.ReconcileOutcome("storage_error")
			return err
		}
		r.metrics.ReconcileOutcome("completed")
		return nil

	case "failed":
		return r.fail(ctx, req, cb)

	default: // processing
		if cb.Progress != nil {
			if err := r.requests.UpdateProgress(ctx, req.ID, clampProgress(*cb.Progress)); err != nil {
				r.metrics.ReconcileOutcome("storage_error")
				return err
			}
		}
		r.metrics.ReconcileOutcome("progress")
		return nil
	}
}

// reconcileStage handles the pipeline-stage callback form. The stage's
// request row is the unit that transitions; the pipeline row aggregates
// outputs, and final-stage completion materializes a finished asset.
func (r *Reconciler) reconcileStage(ctx context.Context, cb Callback, stage string) error {
	p, err := r.pipelines.GetByID(ctx, cb.PipelineID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			r.metrics.ReconcileOutcome("unknown_pipeline")
			return err
		}
		r.metrics.ReconcileOutcome("storage_error")
		return err
	}

	req, err := r.requests.GetByPipelineStage(ctx, cb.PipelineID, stage)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		r.metrics.ReconcileOutcome("storage_error")
		return err
	}
	if req != nil && req.Status.Terminal() {
		r.metrics.ReconcileOutcome("duplicate")
		return nil
	}

	switch cb.Status {
	case "completed":
		var output domain.StageOutput
		if cb.Output != nil {
			output = *cb.Output
		}
		if err := r.pipelines.SetStageResult(ctx, cb.PipelineID, stage, output); err != nil {
			r.metrics.ReconcileOutcome("storage_error")
			return err
		}
		if req != nil {
			result, merr := json.Marshal(output)
			if merr != nil {
				return fmt.Errorf("%w: encode stage output: %v", domain.ErrStorage, merr)
			}
			empty := ""
			if err := r.requests.UpdateStatus(ctx, req.ID, domain.StatusCompleted, 100, &empty, result); err != nil {
				r.metrics.ReconcileOutcome("storage_error")
				return err
			}
		}
		if stage == domain.FinalStage {
			if err := r.materialize(ctx, p, output); err != nil {
				r.metrics.ReconcileOutcome("storage_error")
				return err
			}
		}
		r.metrics.ReconcileOutcome("completed")
		return nil

	case "failed":
		if req == nil {
			// The stage row never made it to storage. Fall back to the
			// callback's own claims so the user is still made whole; the
			// dedup key is the pipeline id + stage.
			r.metrics.ReconcileOutcome("failed")
			if cb.UserID == "" || cb.CreditsCost <= 0 {
				return nil
			}
			return r.refund(ctx, cb.UserID, cb.CreditsCost, cb.PipelineID+"/"+stage, cb.ErrorMessage)
		}
		return r.fail(ctx, req, cb)

	default: // processing
		if req != nil && cb.Progress != nil {
			if err := r.requests.UpdateProgress(ctx, req.ID, clampProgress(*cb.Progress)); err != nil {
				r.metrics.ReconcileOutcome("storage_error")
				return err
			}
		}
		r.metrics.ReconcileOutcome("progress")
		return nil
	}
}

// fail marks a request terminal-failed and refunds its stored cost. The
// amount always comes from the row written at dispatch time; the callback's
// credits_cost is only logged when it disagrees.
func (r *Reconciler) fail(ctx context.Context, req *domain.GenerationRequest, cb Callback) error {
	msg := cb.ErrorMessage
	if msg == "" {
		msg = "generation failed"
	}
	if err := r.requests.UpdateStatus(ctx, req.ID, domain.StatusFailed, 0, &msg, nil); err != nil {
		r.metrics.ReconcileOutcome("storage_error")
		return err
	}
	if cb.CreditsCost > 0 && cb.CreditsCost != req.CostCredits {
		r.logger.Warn().
			Str("request_id", req.ID).
			Float64("stored", req.CostCredits).
			Float64("claimed", cb.CreditsCost).
			Msg("reconcile: callback cost disagrees with stored reservation, using stored")
	}
	if err := r.refund(ctx, req.UserID, req.CostCredits, req.ID, msg); err != nil {
		return err
	}
	r.metrics.ReconcileOutcome("failed")
	return nil
}

func (r *Reconciler) refund(ctx context.Context, userID string, amount float64, requestID, reason string) error {
	if amount <= 0 {
		return nil
	}
	if err := r.ledger.Refund(ctx, userID, amount, requestID, reason); err != nil {
		r.metrics.ReconcileOutcome("storage_error")
		return err
	}
	r.metrics.Refunded(amount)
	return nil
}

// materialize creates the finished-file entry for a completed pipeline.
func (r *Reconciler) materialize(ctx context.Context, p *domain.Pipeline, output domain.StageOutput) error {
	if output.URL == "" {
		r.logger.Warn().Str("pipeline_id", p.ID).Msg("reconcile: final stage completed without an output url")
		return nil
	}
	return r.assets.Create(ctx, &domain.FinishedAsset{
		ID:              uuid.NewString(),
		UserID:          p.UserID,
		PipelineID:      p.ID,
		URL:             output.URL,
		DurationSeconds: output.DurationSeconds,
	})
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
