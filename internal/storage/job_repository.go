package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stockmeta/internal/models"
	"github.com/stockmeta/internal/types"
)

// JobRepository handles job lifecycle persistence. Every transition out of
// RESERVED is a single conditional UPDATE guarded by "status = 'RESERVED'",
// so exactly one of any set of racing resolvers (finalize, sweeper, admin
// force-refund) claims the job.
type JobRepository struct {
	db *PostgresDB
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *PostgresDB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, job_token, user_id, mode, status, file_count,
		photo_count, video_count, photo_rate, video_rate, reserved_credits,
		actual_usage, refund_amount, success_count, failed_count,
		created_at, expires_at, completed_at`

// Create creates a new job in RESERVED state
func (r *JobRepository) Create(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.JobToken == "" {
		job.JobToken = uuid.New().String()
	}
	job.Status = types.JobReserved
	job.CreatedAt = time.Now()

	query := `
		INSERT INTO jobs (id, job_token, user_id, mode, status, file_count,
			photo_count, video_count, photo_rate, video_rate, reserved_credits,
			actual_usage, refund_amount, success_count, failed_count,
			created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		job.ID,
		job.JobToken,
		job.UserID,
		job.Mode,
		job.Status,
		job.FileCount,
		job.PhotoCount,
		job.VideoCount,
		job.PhotoRate,
		job.VideoRate,
		job.ReservedCredits,
		job.ActualUsage,
		job.RefundAmount,
		job.SuccessCount,
		job.FailedCount,
		job.CreatedAt,
		job.ExpiresAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var job models.Job
	err := row.Scan(
		&job.ID,
		&job.JobToken,
		&job.UserID,
		&job.Mode,
		&job.Status,
		&job.FileCount,
		&job.PhotoCount,
		&job.VideoCount,
		&job.PhotoRate,
		&job.VideoRate,
		&job.ReservedCredits,
		&job.ActualUsage,
		&job.RefundAmount,
		&job.SuccessCount,
		&job.FailedCount,
		&job.CreatedAt,
		&job.ExpiresAt,
		&job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetByToken retrieves a job by its job token
func (r *JobRepository) GetByToken(ctx context.Context, jobToken string) (*models.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE job_token = $1`, jobColumns)

	job, err := scanJob(r.db.Pool().QueryRow(ctx, query, jobToken))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("job %s: %w", jobToken, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return job, nil
}

// GetByID retrieves a job by ID
func (r *JobRepository) GetByID(ctx context.Context, id string) (*models.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE id = $1`, jobColumns)

	job, err := scanJob(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return job, nil
}

// CompleteIfReserved transitions a job RESERVED -> COMPLETED, recording the
// settlement counts. Returns the claimed job, or ErrConditionFailed if the
// job was already terminal (a racing sweeper or duplicate finalize got there
// first).
func (r *JobRepository) CompleteIfReserved(ctx context.Context, jobToken string, actualUsage, refund int64, success, failed, photos, videos int) (*models.Job, error) {
	query := fmt.Sprintf(`
		UPDATE jobs
		SET status = 'COMPLETED',
			actual_usage = $2,
			refund_amount = $3,
			success_count = $4,
			failed_count = $5,
			photo_count = $6,
			video_count = $7,
			completed_at = $8
		WHERE job_token = $1 AND status = 'RESERVED'
		RETURNING %s
	`, jobColumns)

	job, err := scanJob(r.db.Pool().QueryRow(ctx, query,
		jobToken, actualUsage, refund, success, failed, photos, videos, time.Now()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConditionFailed
		}
		return nil, fmt.Errorf("failed to complete job: %w", err)
	}

	return job, nil
}

// ExpireIfReserved transitions a job RESERVED -> EXPIRED with a full refund
// of the reservation. Returns ErrConditionFailed if the job is no longer
// RESERVED.
func (r *JobRepository) ExpireIfReserved(ctx context.Context, jobID string) (*models.Job, error) {
	query := fmt.Sprintf(`
		UPDATE jobs
		SET status = 'EXPIRED',
			refund_amount = reserved_credits,
			completed_at = $2
		WHERE id = $1 AND status = 'RESERVED'
		RETURNING %s
	`, jobColumns)

	job, err := scanJob(r.db.Pool().QueryRow(ctx, query, jobID, time.Now()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConditionFailed
		}
		return nil, fmt.Errorf("failed to expire job: %w", err)
	}

	return job, nil
}

// FailIfReserved transitions a job RESERVED -> FAILED with a full refund.
// Used when the client reports the batch never started.
func (r *JobRepository) FailIfReserved(ctx context.Context, jobToken string) (*models.Job, error) {
	query := fmt.Sprintf(`
		UPDATE jobs
		SET status = 'FAILED',
			refund_amount = reserved_credits,
			completed_at = $2
		WHERE job_token = $1 AND status = 'RESERVED'
		RETURNING %s
	`, jobColumns)

	job, err := scanJob(r.db.Pool().QueryRow(ctx, query, jobToken, time.Now()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConditionFailed
		}
		return nil, fmt.Errorf("failed to fail job: %w", err)
	}

	return job, nil
}

// ListExpiredReserved returns RESERVED jobs whose expiry has passed
func (r *JobRepository) ListExpiredReserved(ctx context.Context, now time.Time, limit int) ([]*models.Job, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM jobs
		WHERE status = 'RESERVED' AND expires_at <= $1
		ORDER BY expires_at ASC
		LIMIT $2
	`, jobColumns)

	return r.queryJobs(ctx, query, now, limit)
}

// ListByUser returns a user's jobs, newest first
func (r *JobRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Job, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM jobs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, jobColumns)

	return r.queryJobs(ctx, query, userID, limit, offset)
}

// ListByStatus returns jobs in a given status, newest first
func (r *JobRepository) ListByStatus(ctx context.Context, status types.JobStatus, limit, offset int) ([]*models.Job, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM jobs
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, jobColumns)

	return r.queryJobs(ctx, query, status, limit, offset)
}

func (r *JobRepository) queryJobs(ctx context.Context, query string, args ...interface{}) ([]*models.Job, error) {
	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}

	return jobs, nil
}

// JobDayStats aggregates one day of job activity for reporting
type JobDayStats struct {
	TotalJobs      int
	FilesProcessed int
	CreditsUsed    int64
}

// StatsSince aggregates completed-job activity since the given time
func (r *JobRepository) StatsSince(ctx context.Context, since time.Time) (*JobDayStats, error) {
	query := `
		SELECT COUNT(*),
			COALESCE(SUM(success_count + failed_count), 0),
			COALESCE(SUM(actual_usage), 0)
		FROM jobs
		WHERE created_at >= $1
	`

	var stats JobDayStats
	err := r.db.Pool().QueryRow(ctx, query, since).Scan(
		&stats.TotalJobs,
		&stats.FilesProcessed,
		&stats.CreditsUsed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate job stats: %w", err)
	}

	return &stats, nil
}
