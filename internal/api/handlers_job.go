package api

import (
	"net/http"

	"github.com/stockmeta/internal/auth"
	apperrors "github.com/stockmeta/internal/errors"
	"github.com/stockmeta/internal/service"
	"github.com/stockmeta/internal/types"
)

// handleReserve handles POST /job/reserve - Debit worst-case cost, open a job
func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var req struct {
		Mode       types.Mode `json:"mode"`
		PhotoCount int        `json:"photoCount"`
		VideoCount int        `json:"videoCount"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "Invalid request body", nil)
		return
	}

	result, err := s.ledgerService.Reserve(r.Context(), &service.ReserveRequest{
		UserID:     userID,
		Mode:       req.Mode,
		PhotoCount: req.PhotoCount,
		VideoCount: req.VideoCount,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, result)
}

// handleFinalize handles POST /job/finalize - Settle a job against actual work
func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var req service.FinalizeRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "Invalid request body", nil)
		return
	}

	if err := s.authorizeJobAccess(r, req.JobToken, userID); err != nil {
		respondServiceError(w, err)
		return
	}

	result, err := s.ledgerService.Finalize(r.Context(), &req)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// handleFail handles POST /job/fail - Full refund for a job that never started
func (s *Server) handleFail(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var req struct {
		JobToken string `json:"jobToken"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "Invalid request body", nil)
		return
	}

	if err := s.authorizeJobAccess(r, req.JobToken, userID); err != nil {
		respondServiceError(w, err)
		return
	}

	job, err := s.ledgerService.Fail(r.Context(), req.JobToken)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"job": job})
}

// handleUserJobs handles GET /job/list - The caller's jobs
func (s *Server) handleUserJobs(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	limit, offset := paginationParams(r)

	jobs, err := s.ledgerService.Jobs(r.Context(), userID, limit, offset)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

// authorizeJobAccess rejects settlement of a job the caller does not own.
// The probe deliberately reports NOT_FOUND for foreign tokens so tokens
// cannot be enumerated.
func (s *Server) authorizeJobAccess(r *http.Request, jobToken, userID string) error {
	if jobToken == "" {
		return apperrors.NewInvalidParameterError("jobToken", "job token is required")
	}

	job, err := s.jobs.GetByToken(r.Context(), jobToken)
	if err != nil {
		// Let the service layer produce the canonical NOT_FOUND
		return nil
	}
	if job.UserID != userID {
		return apperrors.NewNotFoundError("job", jobToken)
	}
	return nil
}
