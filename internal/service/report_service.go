package service

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/stockmeta/internal/errors"
	"github.com/stockmeta/internal/logging"
	"github.com/stockmeta/internal/models"
	"github.com/stockmeta/internal/storage"
)

// JobStatsStore aggregates job activity for reporting
type JobStatsStore interface {
	StatsSince(ctx context.Context, since time.Time) (*storage.JobDayStats, error)
}

// ReportService generates daily activity reports. Regenerating a day's
// report overwrites the previous one.
type ReportService struct {
	users    UserStore
	jobStats JobStatsStore
	slips    SlipStore
	reports  ReportStore
}

// NewReportService creates a new report service
func NewReportService(users UserStore, jobStats JobStatsStore, slips SlipStore, reports ReportStore) *ReportService {
	return &ReportService{
		users:    users,
		jobStats: jobStats,
		slips:    slips,
		reports:  reports,
	}
}

// GenerateDaily builds and stores the report for the UTC day containing the
// given time.
func (s *ReportService) GenerateDaily(ctx context.Context, day time.Time) (*models.DailyReport, error) {
	dayStart := day.UTC().Truncate(24 * time.Hour)

	newUsers, err := s.users.CountCreatedSince(ctx, dayStart)
	if err != nil {
		return nil, apperrors.NewStoreError("count new users", err)
	}

	jobStats, err := s.jobStats.StatsSince(ctx, dayStart)
	if err != nil {
		return nil, apperrors.NewStoreError("aggregate job stats", err)
	}

	topupBaht, creditsSold, err := s.slips.TopupStatsSince(ctx, dayStart)
	if err != nil {
		return nil, apperrors.NewStoreError("aggregate topup stats", err)
	}

	report := &models.DailyReport{
		Date:                dayStart.Format("2006-01-02"),
		NewUsers:            newUsers,
		TotalJobs:           jobStats.TotalJobs,
		TotalFilesProcessed: jobStats.FilesProcessed,
		TotalTopupBaht:      topupBaht,
		TotalCreditsSold:    creditsSold,
		TotalCreditsUsed:    jobStats.CreditsUsed,
		GeneratedAt:         time.Now(),
	}

	if err := s.reports.Upsert(ctx, report); err != nil {
		return nil, apperrors.NewStoreError("save daily report", err)
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"date":      report.Date,
		"newUsers":  report.NewUsers,
		"totalJobs": report.TotalJobs,
	}).Info("Daily report generated")

	return report, nil
}

// GetByDate returns a stored report for a date (YYYY-MM-DD)
func (s *ReportService) GetByDate(ctx context.Context, date string) (*models.DailyReport, error) {
	report, err := s.reports.GetByDate(ctx, date)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperrors.NewNotFoundError("daily report", date)
		}
		return nil, apperrors.NewStoreError("get daily report", err)
	}
	return report, nil
}

// ListRecent returns the most recent stored reports
func (s *ReportService) ListRecent(ctx context.Context, limit int) ([]*models.DailyReport, error) {
	if limit <= 0 || limit > 90 {
		limit = 30
	}
	reports, err := s.reports.ListRecent(ctx, limit)
	if err != nil {
		return nil, apperrors.NewStoreError("list daily reports", err)
	}
	return reports, nil
}
