package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/stockmeta/internal/models"
	"github.com/stockmeta/internal/types"
)

// adminActor is the identity recorded on admin actions taken with the shared
// key. Per-admin identities would need real admin accounts first.
const adminActor = "admin"

// handleListUsers handles GET /admin/users
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	limit, offset := paginationParams(r)

	users, err := s.userService.List(r.Context(), limit, offset)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

// handleSetUserStatus handles POST /admin/users/{id}/status
func (s *Server) handleSetUserStatus(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	var req struct {
		Status types.UserStatus `json:"status"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "Invalid request body", nil)
		return
	}

	if err := s.userService.SetStatus(r.Context(), userID, req.Status); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"userId": userID,
		"status": req.Status,
	})
}

// handleGrantCredits handles POST /admin/users/{id}/credits - Manual grant
func (s *Server) handleGrantCredits(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	var req struct {
		Amount int64  `json:"amount"`
		Reason string `json:"reason"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "Invalid request body", nil)
		return
	}

	user, err := s.userService.Grant(r.Context(), userID, req.Amount, req.Reason)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, user)
}

// handleListJobs handles GET /admin/jobs - Jobs filtered by status
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset := paginationParams(r)
	status := types.JobStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = types.JobReserved
	}

	jobs, err := s.jobs.ListByStatus(r.Context(), status, limit, offset)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

// handleForceRefund handles POST /admin/jobs/{token}/refund - Force-expire a
// reserved job and refund the reservation.
func (s *Server) handleForceRefund(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]

	job, err := s.jobs.GetByToken(r.Context(), token)
	if err != nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "job not found: "+token, nil)
		return
	}

	expired, err := s.sweepService.ForceExpire(r.Context(), job.ID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"job": expired})
}

// handleListSlips handles GET /admin/slips - Pending top-up slips
func (s *Server) handleListSlips(w http.ResponseWriter, r *http.Request) {
	limit, offset := paginationParams(r)

	slips, err := s.topupService.PendingSlips(r.Context(), limit, offset)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"slips": slips})
}

// handleVerifySlip handles POST /admin/slips/{id}/verify - Approve and grant
func (s *Server) handleVerifySlip(w http.ResponseWriter, r *http.Request) {
	slipID := mux.Vars(r)["id"]

	result, err := s.topupService.VerifySlip(r.Context(), slipID, adminActor)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// handleRejectSlip handles POST /admin/slips/{id}/reject
func (s *Server) handleRejectSlip(w http.ResponseWriter, r *http.Request) {
	slipID := mux.Vars(r)["id"]

	slip, err := s.topupService.RejectSlip(r.Context(), slipID, adminActor)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"slip": slip})
}

// handleCreatePromotion handles POST /admin/promotions
func (s *Server) handleCreatePromotion(w http.ResponseWriter, r *http.Request) {
	var promo models.Promotion
	if err := parseJSONBody(r, &promo); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "Invalid request body", nil)
		return
	}

	if err := s.promoService.Create(r.Context(), &promo); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, &promo)
}

// handleListPromotions handles GET /admin/promotions
func (s *Server) handleListPromotions(w http.ResponseWriter, r *http.Request) {
	limit, offset := paginationParams(r)

	promos, err := s.promoService.List(r.Context(), limit, offset)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"promotions": promos})
}

// handleGetPromotion handles GET /admin/promotions/{id}
func (s *Server) handleGetPromotion(w http.ResponseWriter, r *http.Request) {
	promo, err := s.promoService.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, promo)
}

// handleSetPromotionStatus handles POST /admin/promotions/{id}/status
func (s *Server) handleSetPromotionStatus(w http.ResponseWriter, r *http.Request) {
	promoID := mux.Vars(r)["id"]

	var req struct {
		Status types.PromoStatus `json:"status"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "Invalid request body", nil)
		return
	}

	if err := s.promoService.SetStatus(r.Context(), promoID, req.Status); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"promoId": promoID,
		"status":  req.Status,
	})
}

// handleGetRates handles GET /admin/rates - Current rate card
func (s *Server) handleGetRates(w http.ResponseWriter, r *http.Request) {
	card, err := s.rateService.Current(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, card)
}

// handleUpdateRates handles PUT /admin/rates - Replace the rate card.
// Open jobs keep their frozen rates; only new reservations see the change.
func (s *Server) handleUpdateRates(w http.ResponseWriter, r *http.Request) {
	var card models.RateCard
	if err := parseJSONBody(r, &card); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "Invalid request body", nil)
		return
	}

	if err := s.rateService.Update(r.Context(), &card); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, &card)
}

// handleListReports handles GET /admin/reports
func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	limit, _ := paginationParams(r)

	reports, err := s.reportService.ListRecent(r.Context(), limit)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"reports": reports})
}

// handleGetReport handles GET /admin/reports/{date}
func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.reportService.GetByDate(r.Context(), mux.Vars(r)["date"])
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, report)
}

// handleListAudit handles GET /admin/audit - Recent audit events, optionally
// filtered by event type or user.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	limit, _ := paginationParams(r)
	query := r.URL.Query()

	var events []*models.AuditEvent
	var err error
	if userID := query.Get("userId"); userID != "" {
		events, err = s.auditLog.ListByUser(r.Context(), userID, limit)
	} else {
		events, err = s.auditLog.ListRecent(r.Context(), query.Get("eventType"), limit)
	}
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}
