package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	apperrors "github.com/stockmeta/internal/errors"
	"github.com/stockmeta/internal/logging"
	"github.com/stockmeta/internal/models"
	"github.com/stockmeta/internal/storage"
	"github.com/stockmeta/internal/types"
)

// LedgerService implements the reserve-then-finalize credit protocol. A
// reservation debits the worst-case cost up front; finalize settles the job
// against actual successful work and refunds the difference. Failed files
// are never charged.
type LedgerService struct {
	users     UserStore
	jobs      JobStore
	txs       TransactionStore
	rates     *RateService
	audit     AuditStore
	jobExpiry time.Duration
}

// NewLedgerService creates a new ledger service
func NewLedgerService(users UserStore, jobs JobStore, txs TransactionStore, rates *RateService, audit AuditStore, jobExpiry time.Duration) *LedgerService {
	return &LedgerService{
		users:     users,
		jobs:      jobs,
		txs:       txs,
		rates:     rates,
		audit:     audit,
		jobExpiry: jobExpiry,
	}
}

// ReserveRequest describes a reservation for a batch of files
type ReserveRequest struct {
	UserID     string     `json:"userId"`
	Mode       types.Mode `json:"mode"`
	PhotoCount int        `json:"photoCount"`
	VideoCount int        `json:"videoCount"`
}

// ReserveResult is the outcome of a successful reservation
type ReserveResult struct {
	Job     *models.Job `json:"job"`
	Balance int64       `json:"balance"`
}

// Reserve debits the worst-case cost of a batch and opens a RESERVED job
// with the rates frozen at this moment. The debit is a single conditional
// UPDATE, so concurrent reservations against one account can never overdraw
// the balance.
func (s *LedgerService) Reserve(ctx context.Context, req *ReserveRequest) (*ReserveResult, error) {
	if req.PhotoCount < 0 || req.VideoCount < 0 {
		return nil, apperrors.NewInvalidParameterError("counts", "file counts must be non-negative")
	}
	fileCount := req.PhotoCount + req.VideoCount
	if fileCount == 0 {
		return nil, apperrors.NewInvalidParameterError("counts", "batch must contain at least one file")
	}

	photoRate, videoRate, err := s.rates.RatesFor(ctx, req.Mode)
	if err != nil {
		return nil, err
	}

	cost := int64(req.PhotoCount)*photoRate + int64(req.VideoCount)*videoRate

	balance, err := s.users.ReserveCredits(ctx, req.UserID, cost)
	if err != nil {
		if errors.Is(err, storage.ErrConditionFailed) {
			return nil, s.explainReservationFailure(ctx, req.UserID, cost)
		}
		return nil, apperrors.NewStoreError("reserve credits", err)
	}

	job := &models.Job{
		UserID:          req.UserID,
		Mode:            req.Mode,
		FileCount:       fileCount,
		PhotoCount:      req.PhotoCount,
		VideoCount:      req.VideoCount,
		PhotoRate:       photoRate,
		VideoRate:       videoRate,
		ReservedCredits: cost,
		ExpiresAt:       time.Now().Add(s.jobExpiry),
	}

	if err := s.jobs.Create(ctx, job); err != nil {
		// Undo the debit so a failed insert doesn't strand credits
		if _, refundErr := s.users.AddCredits(ctx, req.UserID, cost); refundErr != nil {
			logging.FromContext(ctx).WithFields(map[string]interface{}{
				"userId": req.UserID,
				"cost":   cost,
				"error":  refundErr.Error(),
			}).Error("Failed to refund after job create failure")
		}
		return nil, apperrors.NewStoreError("create job", err)
	}

	s.recordAudit(ctx, "job_reserved", req.UserID, models.SeverityInfo, map[string]string{
		"jobToken":        job.JobToken,
		"mode":            string(req.Mode),
		"fileCount":       strconv.Itoa(fileCount),
		"reservedCredits": strconv.FormatInt(cost, 10),
	})

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"userId":          req.UserID,
		"jobToken":        job.JobToken,
		"mode":            req.Mode,
		"fileCount":       fileCount,
		"reservedCredits": cost,
		"balance":         balance,
	}).Info("Credits reserved")

	return &ReserveResult{Job: job, Balance: balance}, nil
}

// explainReservationFailure turns a failed conditional debit into the
// specific error the client can act on.
func (s *LedgerService) explainReservationFailure(ctx context.Context, userID string, cost int64) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.NewNotFoundError("user", userID)
		}
		return apperrors.NewStoreError("get user", err)
	}

	if user.Disabled() {
		return apperrors.NewAccountDisabledError(user.Status)
	}

	return apperrors.NewInsufficientCreditsError(cost, user.Credits)
}

// FinalizeRequest reports the outcome of a batch. PhotoCount and VideoCount
// are the successful files per kind; they must sum to SuccessCount.
type FinalizeRequest struct {
	JobToken     string `json:"jobToken"`
	SuccessCount int    `json:"successCount"`
	FailedCount  int    `json:"failedCount"`
	PhotoCount   int    `json:"photoCount"`
	VideoCount   int    `json:"videoCount"`
}

// FinalizeResult is the settlement of a finalized job
type FinalizeResult struct {
	Job            *models.Job `json:"job"`
	ActualUsage    int64       `json:"actualUsage"`
	Refund         int64       `json:"refund"`
	Balance        int64       `json:"balance"`
	AlreadySettled bool        `json:"alreadySettled"`
}

// Finalize settles a RESERVED job: charges the successful files at the
// frozen rates and refunds the rest of the reservation. A duplicate
// finalize of a COMPLETED job returns the stored settlement without moving
// credits again; any other terminal state is a conflict.
func (s *LedgerService) Finalize(ctx context.Context, req *FinalizeRequest) (*FinalizeResult, error) {
	if req.SuccessCount < 0 || req.FailedCount < 0 || req.PhotoCount < 0 || req.VideoCount < 0 {
		return nil, apperrors.NewInvalidParameterError("counts", "counts must be non-negative")
	}
	if req.PhotoCount+req.VideoCount != req.SuccessCount {
		return nil, apperrors.NewInvalidParameterError("counts",
			"photoCount + videoCount must equal successCount")
	}

	job, err := s.jobs.GetByToken(ctx, req.JobToken)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperrors.NewNotFoundError("job", req.JobToken)
		}
		return nil, apperrors.NewStoreError("get job", err)
	}

	if req.SuccessCount+req.FailedCount > job.FileCount {
		return nil, apperrors.NewInvalidParameterError("counts",
			fmt.Sprintf("reported %d outcomes for a %d-file job",
				req.SuccessCount+req.FailedCount, job.FileCount))
	}

	actualUsage := int64(req.PhotoCount)*job.PhotoRate + int64(req.VideoCount)*job.VideoRate
	if actualUsage > job.ReservedCredits {
		// Frozen rates guarantee usage <= reservation for the reserved mix;
		// a different mix can only be cheaper or equal, never billable above
		// the reservation.
		actualUsage = job.ReservedCredits
	}
	refund := job.ReservedCredits - actualUsage

	claimed, err := s.jobs.CompleteIfReserved(ctx, req.JobToken, actualUsage, refund,
		req.SuccessCount, req.FailedCount, req.PhotoCount, req.VideoCount)
	if err != nil {
		if errors.Is(err, storage.ErrConditionFailed) {
			return s.settleAlreadyTerminal(ctx, req.JobToken)
		}
		return nil, apperrors.NewStoreError("complete job", err)
	}

	balance, err := s.settleCredits(ctx, claimed, actualUsage, refund)
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, "job_completed", claimed.UserID, models.SeverityInfo, map[string]string{
		"jobToken":    claimed.JobToken,
		"actualUsage": strconv.FormatInt(actualUsage, 10),
		"refund":      strconv.FormatInt(refund, 10),
	})

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"jobToken":    claimed.JobToken,
		"userId":      claimed.UserID,
		"actualUsage": actualUsage,
		"refund":      refund,
		"balance":     balance,
	}).Info("Job finalized")

	return &FinalizeResult{
		Job:         claimed,
		ActualUsage: actualUsage,
		Refund:      refund,
		Balance:     balance,
	}, nil
}

// settleAlreadyTerminal handles a finalize that lost the race to another
// resolver.
func (s *LedgerService) settleAlreadyTerminal(ctx context.Context, jobToken string) (*FinalizeResult, error) {
	job, err := s.jobs.GetByToken(ctx, jobToken)
	if err != nil {
		return nil, apperrors.NewStoreError("get job", err)
	}

	if job.Status == types.JobCompleted {
		balance, err := s.users.GetBalance(ctx, job.UserID)
		if err != nil {
			return nil, apperrors.NewStoreError("get balance", err)
		}
		return &FinalizeResult{
			Job:            job,
			ActualUsage:    job.ActualUsage,
			Refund:         job.RefundAmount,
			Balance:        balance,
			AlreadySettled: true,
		}, nil
	}

	return nil, apperrors.NewInvalidJobStateError(jobToken, job.Status)
}

// settleCredits applies the refund and writes the ledger entries for a
// claimed settlement. Ledger writes are best effort after the balance moved:
// the job row is the authoritative settlement record.
func (s *LedgerService) settleCredits(ctx context.Context, job *models.Job, actualUsage, refund int64) (int64, error) {
	var balance int64
	var err error

	if refund > 0 {
		balance, err = s.users.AddCredits(ctx, job.UserID, refund)
	} else {
		balance, err = s.users.GetBalance(ctx, job.UserID)
	}
	if err != nil {
		return 0, apperrors.NewStoreError("apply refund", err)
	}

	if actualUsage > 0 {
		if err := s.users.RecordUsage(ctx, job.UserID, actualUsage); err != nil {
			logging.FromContext(ctx).WithError(err).Warn("Failed to record lifetime usage")
		}
		s.appendLedger(ctx, &models.Transaction{
			UserID:       job.UserID,
			Type:         types.TxUsage,
			Amount:       -actualUsage,
			BalanceAfter: balance,
			JobID:        &job.ID,
			Description:  fmt.Sprintf("Usage for job %s (%s)", job.JobToken, job.Mode),
		})
	}

	if refund > 0 {
		s.appendLedger(ctx, &models.Transaction{
			UserID:       job.UserID,
			Type:         types.TxRefund,
			Amount:       refund,
			BalanceAfter: balance,
			JobID:        &job.ID,
			Description:  fmt.Sprintf("Refund of unused reservation for job %s", job.JobToken),
		})
	}

	return balance, nil
}

// Fail resolves a RESERVED job whose batch never started, refunding the full
// reservation. Failing an already-FAILED job is a no-op.
func (s *LedgerService) Fail(ctx context.Context, jobToken string) (*models.Job, error) {
	job, err := s.jobs.FailIfReserved(ctx, jobToken)
	if err != nil {
		if errors.Is(err, storage.ErrConditionFailed) {
			existing, getErr := s.jobs.GetByToken(ctx, jobToken)
			if getErr != nil {
				if errors.Is(getErr, storage.ErrNotFound) {
					return nil, apperrors.NewNotFoundError("job", jobToken)
				}
				return nil, apperrors.NewStoreError("get job", getErr)
			}
			if existing.Status == types.JobFailed {
				return existing, nil
			}
			return nil, apperrors.NewInvalidJobStateError(jobToken, existing.Status)
		}
		return nil, apperrors.NewStoreError("fail job", err)
	}

	balance, err := s.users.AddCredits(ctx, job.UserID, job.ReservedCredits)
	if err != nil {
		return nil, apperrors.NewStoreError("refund reservation", err)
	}

	s.appendLedger(ctx, &models.Transaction{
		UserID:       job.UserID,
		Type:         types.TxRefund,
		Amount:       job.ReservedCredits,
		BalanceAfter: balance,
		JobID:        &job.ID,
		Description:  fmt.Sprintf("Full refund for failed job %s", job.JobToken),
	})

	s.recordAudit(ctx, "job_failed", job.UserID, models.SeverityWarning, map[string]string{
		"jobToken": job.JobToken,
		"refund":   strconv.FormatInt(job.ReservedCredits, 10),
	})

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"jobToken": job.JobToken,
		"userId":   job.UserID,
		"refund":   job.ReservedCredits,
	}).Warn("Job failed before start, reservation refunded")

	return job, nil
}

// Balance returns the user's current account snapshot
func (s *LedgerService) Balance(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperrors.NewNotFoundError("user", userID)
		}
		return nil, apperrors.NewStoreError("get user", err)
	}
	return user, nil
}

// History returns a page of the user's ledger entries
func (s *LedgerService) History(ctx context.Context, userID string, txType types.TransactionType, limit, offset int) ([]*models.Transaction, int64, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	txs, err := s.txs.ListByUser(ctx, userID, txType, limit, offset)
	if err != nil {
		return nil, 0, apperrors.NewStoreError("list transactions", err)
	}

	total, err := s.txs.CountByUser(ctx, userID)
	if err != nil {
		return nil, 0, apperrors.NewStoreError("count transactions", err)
	}

	return txs, total, nil
}

// Jobs returns a page of the user's jobs
func (s *LedgerService) Jobs(ctx context.Context, userID string, limit, offset int) ([]*models.Job, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	jobs, err := s.jobs.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, apperrors.NewStoreError("list jobs", err)
	}

	return jobs, nil
}

func (s *LedgerService) appendLedger(ctx context.Context, tx *models.Transaction) {
	if err := s.txs.Create(ctx, tx); err != nil {
		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"userId": tx.UserID,
			"type":   tx.Type,
			"amount": tx.Amount,
			"error":  err.Error(),
		}).Error("Failed to append ledger entry")
	}
}

func (s *LedgerService) recordAudit(ctx context.Context, eventType, userID, severity string, details map[string]string) {
	if s.audit == nil {
		return
	}
	event := &models.AuditEvent{
		EventType: eventType,
		UserID:    userID,
		Severity:  severity,
		Details:   details,
	}
	if err := s.audit.Insert(ctx, event); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Failed to record audit event")
	}
}
