package handlers

import (
	"net/http"
	"strconv"
)

// CreditBalance returns the caller's current balance.
func (a *App) CreditBalance(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	balance, err := a.Ledger.Balance(r.Context(), userID)
	if err != nil {
		a.Logger.Error().Err(err).Msg("read balance failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load balance")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"success": true, "balance": balance})
}

// CreditTransactions lists the caller's recent ledger rows, newest first.
func (a *App) CreditTransactions(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	txns, err := a.Ledger.Transactions(r.Context(), userID, limit)
	if err != nil {
		a.Logger.Error().Err(err).Msg("list transactions failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load transactions")
		return
	}
	items := make([]map[string]any, 0, len(txns))
	for _, txn := range txns {
		items = append(items, map[string]any{
			"id":          txn.ID,
			"amount":      txn.Amount,
			"type":        txn.Type,
			"description": txn.Description,
			"request_id":  txn.RequestID,
			"created_at":  txn.CreatedAt,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"success": true, "transactions": items})
}
