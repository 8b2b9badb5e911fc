package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stockmeta/internal/models"
)

// ReportRepository persists generated daily reports. Regenerating a day
// overwrites the previous row.
type ReportRepository struct {
	db *PostgresDB
}

// NewReportRepository creates a new report repository
func NewReportRepository(db *PostgresDB) *ReportRepository {
	return &ReportRepository{db: db}
}

// Upsert saves a daily report, replacing any existing report for the date
func (r *ReportRepository) Upsert(ctx context.Context, report *models.DailyReport) error {
	report.GeneratedAt = time.Now()

	query := `
		INSERT INTO daily_reports (date, new_users, total_jobs, total_files_processed,
			total_topup_baht, total_credits_sold, total_credits_used, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (date) DO UPDATE SET
			new_users = EXCLUDED.new_users,
			total_jobs = EXCLUDED.total_jobs,
			total_files_processed = EXCLUDED.total_files_processed,
			total_topup_baht = EXCLUDED.total_topup_baht,
			total_credits_sold = EXCLUDED.total_credits_sold,
			total_credits_used = EXCLUDED.total_credits_used,
			generated_at = EXCLUDED.generated_at
	`

	_, err := r.db.Pool().Exec(ctx, query,
		report.Date,
		report.NewUsers,
		report.TotalJobs,
		report.TotalFilesProcessed,
		report.TotalTopupBaht,
		report.TotalCreditsSold,
		report.TotalCreditsUsed,
		report.GeneratedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert daily report: %w", err)
	}

	return nil
}

// GetByDate retrieves the report for a date (YYYY-MM-DD)
func (r *ReportRepository) GetByDate(ctx context.Context, date string) (*models.DailyReport, error) {
	query := `
		SELECT date, new_users, total_jobs, total_files_processed,
			total_topup_baht, total_credits_sold, total_credits_used, generated_at
		FROM daily_reports
		WHERE date = $1
	`

	var report models.DailyReport
	err := r.db.Pool().QueryRow(ctx, query, date).Scan(
		&report.Date,
		&report.NewUsers,
		&report.TotalJobs,
		&report.TotalFilesProcessed,
		&report.TotalTopupBaht,
		&report.TotalCreditsSold,
		&report.TotalCreditsUsed,
		&report.GeneratedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("daily report %s: %w", date, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get daily report: %w", err)
	}

	return &report, nil
}

// ListRecent returns the most recent daily reports
func (r *ReportRepository) ListRecent(ctx context.Context, limit int) ([]*models.DailyReport, error) {
	query := `
		SELECT date, new_users, total_jobs, total_files_processed,
			total_topup_baht, total_credits_sold, total_credits_used, generated_at
		FROM daily_reports
		ORDER BY date DESC
		LIMIT $1
	`

	rows, err := r.db.Pool().Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list daily reports: %w", err)
	}
	defer rows.Close()

	var reports []*models.DailyReport
	for rows.Next() {
		var report models.DailyReport
		err := rows.Scan(
			&report.Date,
			&report.NewUsers,
			&report.TotalJobs,
			&report.TotalFilesProcessed,
			&report.TotalTopupBaht,
			&report.TotalCreditsSold,
			&report.TotalCreditsUsed,
			&report.GeneratedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan daily report: %w", err)
		}
		reports = append(reports, &report)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily reports: %w", err)
	}

	return reports, nil
}
