package handlers

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nandanakrishna556/gictor-server/internal/domain"
	"github.com/nandanakrishna556/gictor-server/internal/gateway"
	"github.com/nandanakrishna556/gictor-server/internal/middleware"
)

type dispatchRequest struct {
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	ProjectID  string          `json:"project_id"`
	FolderID   string          `json:"folder_id"`
	PipelineID string          `json:"pipeline_id"`
	Stage      string          `json:"stage"`
}

// Dispatch accepts a generation request, reserves its cost, and forwards it
// to the external engine.
func (a *App) Dispatch(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.Type == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "type is required")
		return
	}

	res, err := a.Gateway.Dispatch(r.Context(), gateway.Input{
		Principal:  userID,
		Kind:       domain.Kind(req.Type),
		RawPayload: req.Payload,
		ProjectID:  req.ProjectID,
		FolderID:   req.FolderID,
		PipelineID: req.PipelineID,
		Stage:      req.Stage,
		Origin:     middleware.CountryFromContext(r.Context()),
	})
	if err != nil {
		a.dispatchError(w, r, err)
		return
	}

	a.json(w, http.StatusOK, map[string]any{
		"success":          true,
		"request_id":       res.RequestID,
		"credits_deducted": res.ReservedCost,
	})
}

func (a *App) dispatchError(w http.ResponseWriter, r *http.Request, err error) {
	locale := middleware.LocaleFromContext(r.Context())

	if ve, ok := domain.AsValidationError(err); ok {
		a.json(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "invalid_input",
			"issues":  ve.Issues,
		})
		return
	}

	var ice *domain.InsufficientCreditsError
	if errors.As(err, &ice) {
		a.json(w, http.StatusPaymentRequired, map[string]any{
			"success":   false,
			"error":     "insufficient_credits",
			"message":   localized("insufficient_credits", locale),
			"required":  ice.Required,
			"available": ice.Available,
		})
		return
	}

	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		a.error(w, http.StatusUnauthorized, "unauthorized", "invalid credentials")
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "pipeline not found")
	case errors.Is(err, domain.ErrRateLimited):
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(err)))
		a.error(w, http.StatusTooManyRequests, "rate_limited", "too many requests, slow down")
	case errors.Is(err, domain.ErrInsufficientCredits):
		a.error(w, http.StatusPaymentRequired, "insufficient_credits", localized("insufficient_credits", locale))
	case errors.Is(err, domain.ErrWorkerTimeout):
		a.error(w, http.StatusGatewayTimeout, "worker_timeout", localized("worker_timeout", locale))
	case errors.Is(err, domain.ErrWorkerUnavailable):
		a.error(w, http.StatusBadGateway, "worker_unavailable", localized("worker_unavailable", locale))
	default:
		a.Logger.Error().Err(err).Msg("dispatch failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

// GenerationStatus returns one request, scoped to its owner.
func (a *App) GenerationStatus(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	id := chi.URLParam(r, "id")
	if id == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "id required")
		return
	}
	req, err := a.Requests.GetByIDForUser(r.Context(), id, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "generation not found")
			return
		}
		a.Logger.Error().Err(err).Str("request_id", id).Msg("load generation failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load generation")
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"id":            req.ID,
		"kind":          req.Kind,
		"status":        req.Status,
		"progress":      req.Progress,
		"cost_credits":  req.CostCredits,
		"pipeline_id":   req.PipelineID,
		"stage":         req.Stage,
		"result":        json.RawMessage(nullableJSON(req.ResultJSON)),
		"error_message": req.ErrorMessage,
		"created_at":    req.CreatedAt,
		"updated_at":    req.UpdatedAt,
	})
}

// FinishedAssets lists the user's completed pipeline outputs.
func (a *App) FinishedAssets(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	assets, err := a.Assets.ListByUser(r.Context(), userID, limit)
	if err != nil {
		a.Logger.Error().Err(err).Msg("list finished assets failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load assets")
		return
	}
	items := make([]map[string]any, 0, len(assets))
	for _, asset := range assets {
		items = append(items, map[string]any{
			"id":               asset.ID,
			"pipeline_id":      asset.PipelineID,
			"url":              asset.URL,
			"duration_seconds": asset.DurationSeconds,
			"created_at":       asset.CreatedAt,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"success": true, "assets": items})
}

// retryAfterSeconds reads the remaining window off a rate-limit error,
// rounded up so the client never retries inside the same window.
func retryAfterSeconds(err error) int {
	var rle *domain.RateLimitedError
	if errors.As(err, &rle) && rle.RetryAfter > 0 {
		return int(math.Ceil(rle.RetryAfter.Seconds()))
	}
	return 60
}

func nullableJSON(b []byte) []byte {
	if len(b) == 0 {
		return []byte("null")
	}
	return b
}
