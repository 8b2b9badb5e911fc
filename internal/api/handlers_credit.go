package api

import (
	"net/http"
	"strconv"

	"github.com/stockmeta/internal/auth"
	"github.com/stockmeta/internal/types"
)

// handleBalance handles GET /credit/balance - Current account snapshot
func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	user, err := s.ledgerService.Balance(r.Context(), userID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, user)
}

// handleHistory handles GET /credit/history - Page of ledger entries
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	limit, offset := paginationParams(r)
	txType := types.TransactionType(r.URL.Query().Get("type"))

	txs, total, err := s.ledgerService.History(r.Context(), userID, txType, limit, offset)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": txs,
		"total":        total,
	})
}

// handleTopup handles POST /credit/topup - Submit a payment slip
func (s *Server) handleTopup(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var req struct {
		AmountBaht int64 `json:"amountBaht"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "Invalid request body", nil)
		return
	}

	slip, err := s.topupService.SubmitSlip(r.Context(), userID, req.AmountBaht)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{"slip": slip})
}

// handleUserSlips handles GET /credit/slips - The caller's top-up slips
func (s *Server) handleUserSlips(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	limit, offset := paginationParams(r)

	slips, err := s.topupService.UserSlips(r.Context(), userID, limit, offset)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"slips": slips})
}

// paginationParams reads limit/offset query parameters with safe defaults.
func paginationParams(r *http.Request) (limit, offset int) {
	limit = 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}
