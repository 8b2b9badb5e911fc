package api

import (
	"net/http"
	"time"
)

// handleCleanupExpiredJobs handles POST /system/cleanup-expired-jobs - Run
// one expiry sweep outside the background schedule.
func (s *Server) handleCleanupExpiredJobs(w http.ResponseWriter, r *http.Request) {
	expired, err := s.sweepService.SweepOnce(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"expired": expired})
}

// handleGenerateDailyReport handles POST /system/generate-daily-report.
// An optional date (YYYY-MM-DD) regenerates a past day; default is today.
func (s *Server) handleGenerateDailyReport(w http.ResponseWriter, r *http.Request) {
	day := time.Now().UTC()

	var req struct {
		Date string `json:"date"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := parseJSONBody(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "Invalid request body", nil)
			return
		}
	}
	if req.Date != "" {
		parsed, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "date must be YYYY-MM-DD", nil)
			return
		}
		day = parsed
	}

	report, err := s.reportService.GenerateDaily(r.Context(), day)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, report)
}

// handleExpirePromotions handles POST /system/expire-promotions - Expire
// promotions past their end date.
func (s *Server) handleExpirePromotions(w http.ResponseWriter, r *http.Request) {
	expired, err := s.promoService.ExpirePromotions(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"expired": expired})
}
