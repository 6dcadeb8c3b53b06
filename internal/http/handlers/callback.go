package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nandanakrishna556/gictor-server/internal/domain"
	"github.com/nandanakrishna556/gictor-server/internal/reconcile"
)

// Callback receives the external engine's status reports. Auth is a shared
// secret in x-api-key, compared in constant time. Storage faults surface as
// 5xx so the engine's retry policy redelivers; everything the reconciler
// applies is idempotent, so redelivery is safe.
func (a *App) Callback(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("x-api-key")
	if a.CallbackAPIKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(a.CallbackAPIKey)) != 1 {
		a.Logger.Warn().Str("remote", r.RemoteAddr).Msg("callback with bad api key")
		a.error(w, http.StatusUnauthorized, "unauthorized", "invalid api key")
		return
	}

	var cb reconcile.Callback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	if err := a.Reconciler.Reconcile(r.Context(), cb); err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidCallback):
			a.error(w, http.StatusBadRequest, "invalid_callback", err.Error())
		case errors.Is(err, domain.ErrNotFound):
			a.error(w, http.StatusNotFound, "not_found", "unknown request or pipeline")
		default:
			a.Logger.Error().Err(err).Msg("reconcile failed")
			a.error(w, http.StatusInternalServerError, "internal", "reconciliation failed")
		}
		return
	}

	a.json(w, http.StatusOK, map[string]any{"success": true})
}
