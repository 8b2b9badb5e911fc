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

// SlipRepository handles payment slip persistence. Verification is a
// conditional transition out of PENDING so a slip can never be granted twice.
type SlipRepository struct {
	db *PostgresDB
}

// NewSlipRepository creates a new slip repository
func NewSlipRepository(db *PostgresDB) *SlipRepository {
	return &SlipRepository{db: db}
}

const slipColumns = `id, user_id, status, amount_baht, credits_granted,
		promo_id, verified_by, created_at, verified_at`

// Create creates a new slip in PENDING state
func (r *SlipRepository) Create(ctx context.Context, slip *models.Slip) error {
	if slip.ID == "" {
		slip.ID = uuid.New().String()
	}
	slip.Status = types.SlipPending
	slip.CreatedAt = time.Now()

	query := `
		INSERT INTO slips (id, user_id, status, amount_baht, credits_granted,
			promo_id, verified_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		slip.ID,
		slip.UserID,
		slip.Status,
		slip.AmountBaht,
		slip.CreditsGranted,
		slip.PromoID,
		slip.VerifiedBy,
		slip.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create slip: %w", err)
	}

	return nil
}

func scanSlip(row pgx.Row) (*models.Slip, error) {
	var slip models.Slip
	err := row.Scan(
		&slip.ID,
		&slip.UserID,
		&slip.Status,
		&slip.AmountBaht,
		&slip.CreditsGranted,
		&slip.PromoID,
		&slip.VerifiedBy,
		&slip.CreatedAt,
		&slip.VerifiedAt,
	)
	if err != nil {
		return nil, err
	}
	return &slip, nil
}

// GetByID retrieves a slip by ID
func (r *SlipRepository) GetByID(ctx context.Context, id string) (*models.Slip, error) {
	query := fmt.Sprintf(`SELECT %s FROM slips WHERE id = $1`, slipColumns)

	slip, err := scanSlip(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("slip %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get slip: %w", err)
	}

	return slip, nil
}

// VerifyIfPending transitions a slip PENDING -> VERIFIED, recording the
// granted credits and applied promotion. Returns ErrConditionFailed if the
// slip was already resolved.
func (r *SlipRepository) VerifyIfPending(ctx context.Context, slipID, verifiedBy string, creditsGranted int64, promoID *string) (*models.Slip, error) {
	query := fmt.Sprintf(`
		UPDATE slips
		SET status = 'VERIFIED',
			credits_granted = $2,
			promo_id = $3,
			verified_by = $4,
			verified_at = $5
		WHERE id = $1 AND status = 'PENDING'
		RETURNING %s
	`, slipColumns)

	slip, err := scanSlip(r.db.Pool().QueryRow(ctx, query,
		slipID, creditsGranted, promoID, verifiedBy, time.Now()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConditionFailed
		}
		return nil, fmt.Errorf("failed to verify slip: %w", err)
	}

	return slip, nil
}

// RejectIfPending transitions a slip PENDING -> REJECTED
func (r *SlipRepository) RejectIfPending(ctx context.Context, slipID, verifiedBy string) (*models.Slip, error) {
	query := fmt.Sprintf(`
		UPDATE slips
		SET status = 'REJECTED', verified_by = $2, verified_at = $3
		WHERE id = $1 AND status = 'PENDING'
		RETURNING %s
	`, slipColumns)

	slip, err := scanSlip(r.db.Pool().QueryRow(ctx, query, slipID, verifiedBy, time.Now()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConditionFailed
		}
		return nil, fmt.Errorf("failed to reject slip: %w", err)
	}

	return slip, nil
}

// ListByStatus returns slips in a given status, oldest first so the
// verification queue is FIFO.
func (r *SlipRepository) ListByStatus(ctx context.Context, status types.SlipStatus, limit, offset int) ([]*models.Slip, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM slips
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3
	`, slipColumns)

	return r.querySlips(ctx, query, status, limit, offset)
}

// ListByUser returns a user's slips, newest first
func (r *SlipRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Slip, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM slips
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, slipColumns)

	return r.querySlips(ctx, query, userID, limit, offset)
}

func (r *SlipRepository) querySlips(ctx context.Context, query string, args ...interface{}) ([]*models.Slip, error) {
	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query slips: %w", err)
	}
	defer rows.Close()

	var slips []*models.Slip
	for rows.Next() {
		slip, err := scanSlip(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan slip: %w", err)
		}
		slips = append(slips, slip)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating slips: %w", err)
	}

	return slips, nil
}

// CountVerifiedByUser counts a user's verified top-ups, used for
// first-topup promotion conditions.
func (r *SlipRepository) CountVerifiedByUser(ctx context.Context, userID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM slips WHERE user_id = $1 AND status = 'VERIFIED'`

	err := r.db.Pool().QueryRow(ctx, query, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count verified slips: %w", err)
	}

	return count, nil
}

// TopupStatsSince aggregates verified top-up activity since the given time
func (r *SlipRepository) TopupStatsSince(ctx context.Context, since time.Time) (totalBaht, totalCredits int64, err error) {
	query := `
		SELECT COALESCE(SUM(amount_baht), 0), COALESCE(SUM(credits_granted), 0)
		FROM slips
		WHERE status = 'VERIFIED' AND verified_at >= $1
	`

	err = r.db.Pool().QueryRow(ctx, query, since).Scan(&totalBaht, &totalCredits)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to aggregate topup stats: %w", err)
	}

	return totalBaht, totalCredits, nil
}
