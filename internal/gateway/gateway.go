// Package gateway orchestrates the credit-metered dispatch saga: rate check,
// validation, server-side pricing, credit reservation, persistence, and the
// forward to the external engine, with refund compensation when the forward
// fails. Side effects are ordered so the persisted record and the
// reservation exist before the external call; a crash mid-forward leaves a
// row the sweep can resolve instead of a silently lost reservation.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/nandanakrishna556/gictor-server/internal/cost"
	"github.com/nandanakrishna556/gictor-server/internal/domain"
	"github.com/nandanakrishna556/gictor-server/internal/ledger"
	"github.com/nandanakrishna556/gictor-server/internal/metrics"
	"github.com/nandanakrishna556/gictor-server/internal/ratelimit"
	"github.com/nandanakrishna556/gictor-server/internal/validate"
	"github.com/nandanakrishna556/gictor-server/internal/worker"
)

// Submitter forwards jobs to the external engine.
type Submitter interface {
	Submit(ctx context.Context, job worker.Job) error
}

// Gateway runs the dispatch saga.
type Gateway struct {
	limiter   *ratelimit.Limiter
	costs     *cost.Model
	ledger    ledger.Ledger
	requests  domain.RequestRepository
	pipelines domain.PipelineRepository
	submit    Submitter
	timeout   time.Duration
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

// New wires a gateway. timeout bounds the external forward; zero means 30s.
func New(
	limiter *ratelimit.Limiter,
	costs *cost.Model,
	led ledger.Ledger,
	requests domain.RequestRepository,
	pipelines domain.PipelineRepository,
	submit Submitter,
	timeout time.Duration,
	logger zerolog.Logger,
	m *metrics.Metrics,
) *Gateway {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Gateway{
		limiter:   limiter,
		costs:     costs,
		ledger:    led,
		requests:  requests,
		pipelines: pipelines,
		submit:    submit,
		timeout:   timeout,
		logger:    logger,
		metrics:   m,
	}
}

// Input is one authenticated dispatch request. Principal comes from the
// verified token, never the payload.
type Input struct {
	Principal  string
	Kind       domain.Kind
	RawPayload json.RawMessage
	ProjectID  string
	FolderID   string
	PipelineID string
	Stage      string
	Origin     string
}

// Result acknowledges an accepted dispatch.
type Result struct {
	RequestID    string
	ReservedCost float64
}

// Dispatch runs the saga. On any error before the reservation there are no
// side effects; after the reservation, compensation runs before the error is
// returned, so a non-nil error never leaves credit orphaned.
func (g *Gateway) Dispatch(ctx context.Context, in Input) (Result, error) {
	if in.Principal == "" {
		return Result{}, domain.ErrUnauthenticated
	}
	if _, ok := g.limiter.Check(in.Principal); !ok {
		g.metrics.DispatchOutcome("rate_limited")
		return Result{}, &domain.RateLimitedError{RetryAfter: g.limiter.RetryAfter(in.Principal)}
	}

	payload, err := validate.Validate(in.Kind, in.RawPayload)
	if err != nil {
		g.metrics.DispatchOutcome("invalid")
		return Result{}, err
	}

	credits := g.costs.Compute(in.Kind, cost.Params{DurationSeconds: payload.DurationSeconds})
	requestID := uuid.NewString()

	if err := g.ledger.Reserve(ctx, in.Principal, credits, requestID, describeKind(in.Kind)); err != nil {
		if errors.Is(err, domain.ErrInsufficientCredits) {
			g.metrics.DispatchOutcome("insufficient_credits")
			available, berr := g.ledger.Balance(ctx, in.Principal)
			if berr != nil {
				available = 0
			}
			return Result{}, &domain.InsufficientCreditsError{Required: credits, Available: available}
		}
		g.metrics.DispatchOutcome("storage_error")
		return Result{}, err
	}

	// From here on every failure must refund before returning.
	req := &domain.GenerationRequest{
		ID:            requestID,
		UserID:        in.Principal,
		ProjectID:     in.ProjectID,
		FolderID:      in.FolderID,
		PipelineID:    in.PipelineID,
		Stage:         in.Stage,
		Kind:          in.Kind,
		Status:        domain.StatusPending,
		CostCredits:   credits,
		OriginCountry: in.Origin,
	}
	if err := g.ensurePipeline(ctx, in); err != nil {
		return Result{}, g.compensate(ctx, req, "pipeline setup failed", err)
	}
	if err := g.requests.Create(ctx, req); err != nil {
		return Result{}, g.compensate(ctx, req, "persist failed", err)
	}

	submitCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	job := worker.Job{
		RequestID:  requestID,
		UserID:     in.Principal,
		Kind:       in.Kind,
		PipelineID: in.PipelineID,
		Stage:      in.Stage,
		Payload:    payload,
	}
	if err := g.submit.Submit(submitCtx, job); err != nil {
		return Result{}, g.compensate(ctx, req, "worker dispatch failed", err)
	}

	if err := g.requests.UpdateStatus(ctx, requestID, domain.StatusProcessing, 0, nil, nil); err != nil {
		// The job is already running; the record stays pending and the
		// callback or the sweep will move it along. Not a dispatch failure.
		g.logger.Error().Err(err).Str("request_id", requestID).Msg("gateway: mark processing failed")
	}

	g.metrics.DispatchOutcome("accepted")
	g.logger.Info().
		Str("request_id", requestID).
		Str("user_id", in.Principal).
		Str("kind", string(in.Kind)).
		Float64("credits", credits).
		Msg("gateway: job dispatched")
	return Result{RequestID: requestID, ReservedCost: credits}, nil
}

// ensurePipeline creates the pipeline row for stage-scoped dispatches when it
// does not exist yet. An existing pipeline must belong to the principal;
// otherwise the dispatch would write stages and finished assets into another
// user's pipeline.
func (g *Gateway) ensurePipeline(ctx context.Context, in Input) error {
	if in.PipelineID == "" || in.Stage == "" {
		return nil
	}
	p, err := g.pipelines.GetByID(ctx, in.PipelineID)
	if err == nil {
		if p.UserID != in.Principal {
			// Reported as not-found so the response does not reveal that
			// someone else's pipeline id exists.
			return fmt.Errorf("pipeline %s: %w", in.PipelineID, domain.ErrNotFound)
		}
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return g.pipelines.Create(ctx, &domain.Pipeline{
		ID:           in.PipelineID,
		UserID:       in.Principal,
		ProjectID:    in.ProjectID,
		CurrentStage: in.Stage,
		StageDone:    map[string]bool{},
		StageOutputs: map[string]domain.StageOutput{},
	})
}

// compensate marks the request failed and refunds the reservation, then
// wraps cause for the caller. The refund is idempotent, so a partial earlier
// compensation is safe to repeat.
func (g *Gateway) compensate(ctx context.Context, req *domain.GenerationRequest, reason string, cause error) error {
	msg := reason
	g.logger.Warn().Err(cause).Str("request_id", req.ID).Msg("gateway: compensating failed dispatch")

	if err := g.requests.UpdateStatus(ctx, req.ID, domain.StatusFailed, 0, &msg, nil); err != nil {
		g.logger.Error().Err(err).Str("request_id", req.ID).Msg("gateway: mark failed during compensation")
	}
	if err := g.ledger.Refund(ctx, req.UserID, req.CostCredits, req.ID, reason); err != nil {
		// Refund failure is an infrastructure fault that must be surfaced
		// loudly; the ledger row dedup lets operators replay it.
		g.logger.Error().Err(err).Str("request_id", req.ID).Float64("credits", req.CostCredits).Msg("gateway: refund failed")
		g.metrics.DispatchOutcome("compensation_error")
		return fmt.Errorf("%w: compensation incomplete: %v", domain.ErrStorage, err)
	}
	g.metrics.Refunded(req.CostCredits)

	switch {
	case errors.Is(cause, domain.ErrWorkerTimeout):
		g.metrics.DispatchOutcome("worker_timeout")
	case errors.Is(cause, domain.ErrWorkerUnavailable):
		g.metrics.DispatchOutcome("worker_unavailable")
	default:
		g.metrics.DispatchOutcome("storage_error")
	}
	return fmt.Errorf("dispatch %s: %w", req.ID, cause)
}

var titleCaser = cases.Title(language.English)

// describeKind renders a kind as a ledger row description.
func describeKind(kind domain.Kind) string {
	return titleCaser.String(strings.ReplaceAll(string(kind), "_", " ")) + " generation"
}
