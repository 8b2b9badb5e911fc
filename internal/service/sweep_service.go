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

// SweepService force-resolves RESERVED jobs whose expiry has passed,
// refunding the full reservation. Each expiry races any late finalize
// through the same conditional transition, so a job is settled exactly once
// no matter who gets there first.
type SweepService struct {
	jobs      JobStore
	users     UserStore
	txs       TransactionStore
	audit     AuditStore
	interval  time.Duration
	batchSize int

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSweepService creates a new sweep service
func NewSweepService(jobs JobStore, users UserStore, txs TransactionStore, audit AuditStore, interval time.Duration, batchSize int) *SweepService {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &SweepService{
		jobs:      jobs,
		users:     users,
		txs:       txs,
		audit:     audit,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Start begins the periodic sweep loop
func (s *SweepService) Start(ctx context.Context) error {
	if s.stopCh != nil {
		return fmt.Errorf("sweeper is already running")
	}

	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.run(ctx)

	logging.FromContext(ctx).WithField("interval", s.interval).Info("Expiry sweeper started")
	return nil
}

// Stop stops the sweep loop and waits for the current pass to finish
func (s *SweepService) Stop() error {
	if s.stopCh == nil {
		return fmt.Errorf("sweeper is not running")
	}

	close(s.stopCh)
	<-s.doneCh
	s.stopCh = nil

	return nil
}

func (s *SweepService) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				logging.FromContext(ctx).WithError(err).Error("Sweep pass failed")
			}
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// SweepOnce expires all due reservations and returns how many were expired
func (s *SweepService) SweepOnce(ctx context.Context) (int, error) {
	due, err := s.jobs.ListExpiredReserved(ctx, time.Now(), s.batchSize)
	if err != nil {
		return 0, apperrors.NewStoreError("list expired jobs", err)
	}

	expired := 0
	for _, job := range due {
		claimed, err := s.expireOne(ctx, job.ID)
		if err != nil {
			logging.FromContext(ctx).WithFields(map[string]interface{}{
				"jobId": job.ID,
				"error": err.Error(),
			}).Error("Failed to expire job")
			continue
		}
		if claimed {
			expired++
		}
	}

	if expired > 0 {
		logging.FromContext(ctx).WithField("expired", expired).Info("Sweep pass expired jobs")
	}

	return expired, nil
}

// expireOne claims one expiry. A false return means a finalize won the race
// between listing and claiming, which is not an error.
func (s *SweepService) expireOne(ctx context.Context, jobID string) (bool, error) {
	job, err := s.jobs.ExpireIfReserved(ctx, jobID)
	if err != nil {
		if errors.Is(err, storage.ErrConditionFailed) {
			return false, nil
		}
		return false, err
	}

	balance, err := s.users.AddCredits(ctx, job.UserID, job.ReservedCredits)
	if err != nil {
		return true, fmt.Errorf("refund after expiry: %w", err)
	}

	if err := s.txs.Create(ctx, &models.Transaction{
		UserID:       job.UserID,
		Type:         types.TxRefund,
		Amount:       job.ReservedCredits,
		BalanceAfter: balance,
		JobID:        &job.ID,
		Description:  fmt.Sprintf("Refund of expired reservation for job %s", job.JobToken),
	}); err != nil {
		logging.FromContext(ctx).WithError(err).Error("Failed to append expiry ledger entry")
	}

	if s.audit != nil {
		_ = s.audit.Insert(ctx, &models.AuditEvent{
			EventType: "job_expired",
			UserID:    job.UserID,
			Severity:  models.SeverityWarning,
			Details: map[string]string{
				"jobToken": job.JobToken,
				"refund":   strconv.FormatInt(job.ReservedCredits, 10),
			},
		})
	}

	return true, nil
}

// ForceExpire lets an admin resolve a stuck reservation immediately,
// regardless of its expiry time. Same claim semantics as the sweeper.
func (s *SweepService) ForceExpire(ctx context.Context, jobID string) (*models.Job, error) {
	claimed, err := s.expireOne(ctx, jobID)
	if err != nil {
		return nil, apperrors.NewStoreError("force expire", err)
	}
	if !claimed {
		job, getErr := s.jobs.GetByID(ctx, jobID)
		if getErr != nil {
			if errors.Is(getErr, storage.ErrNotFound) {
				return nil, apperrors.NewNotFoundError("job", jobID)
			}
			return nil, apperrors.NewStoreError("get job", getErr)
		}
		return nil, apperrors.NewInvalidJobStateError(job.JobToken, job.Status)
	}

	return s.jobs.GetByID(ctx, jobID)
}
