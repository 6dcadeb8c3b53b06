package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/nandanakrishna556/gictor-server/internal/domain"
	"github.com/nandanakrishna556/gictor-server/internal/gateway"
	"github.com/nandanakrishna556/gictor-server/internal/ledger"
	"github.com/nandanakrishna556/gictor-server/internal/middleware"
	"github.com/nandanakrishna556/gictor-server/internal/reconcile"
)

// App is the handler container; the router calls its methods.
type App struct {
	Logger         zerolog.Logger
	Gateway        *gateway.Gateway
	Reconciler     *reconcile.Reconciler
	Ledger         ledger.Ledger
	Requests       domain.RequestRepository
	Assets         domain.FinishedAssetRepository
	CallbackAPIKey string
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]any{
		"success": false,
		"error":   errCode,
		"message": message,
	})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

// User-facing messages for outcomes the UI surfaces directly, per locale.
var messages = map[string]map[string]string{
	"insufficient_credits": {
		"en": "You don't have enough credits for this generation. Please top up and try again.",
		"id": "Kredit Anda tidak cukup untuk generasi ini. Silakan isi ulang dan coba lagi.",
	},
	"worker_unavailable": {
		"en": "The generation service is temporarily unavailable. Your credits were not charged; please retry shortly.",
		"id": "Layanan generasi sedang tidak tersedia. Kredit Anda tidak terpotong; silakan coba lagi sebentar lagi.",
	},
	"worker_timeout": {
		"en": "The generation service took too long to respond. Your credits were not charged; please retry shortly.",
		"id": "Layanan generasi terlalu lama merespons. Kredit Anda tidak terpotong; silakan coba lagi sebentar lagi.",
	},
}

func localized(key, locale string) string {
	if byLocale, ok := messages[key]; ok {
		if msg, ok := byLocale[locale]; ok {
			return msg
		}
		return byLocale["en"]
	}
	return key
}
