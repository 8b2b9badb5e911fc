package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stockmeta/internal/models"
	"github.com/stockmeta/internal/types"
)

// PromoRepository handles promotion and redemption persistence. Rewards and
// conditions are stored as JSONB because their shape varies by reward type.
type PromoRepository struct {
	db *PostgresDB
}

// NewPromoRepository creates a new promo repository
func NewPromoRepository(db *PostgresDB) *PromoRepository {
	return &PromoRepository{db: db}
}

const promoColumns = `id, name, status, priority, reward, conditions,
		total_redemptions, total_bonus, created_at, updated_at`

// Create creates a new promotion
func (r *PromoRepository) Create(ctx context.Context, promo *models.Promotion) error {
	if promo.ID == "" {
		promo.ID = uuid.New().String()
	}
	if promo.Status == "" {
		promo.Status = types.PromoActive
	}

	now := time.Now()
	promo.CreatedAt = now
	promo.UpdatedAt = now

	rewardJSON, err := json.Marshal(promo.Reward)
	if err != nil {
		return fmt.Errorf("failed to marshal reward: %w", err)
	}
	conditionsJSON, err := json.Marshal(promo.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal conditions: %w", err)
	}

	query := `
		INSERT INTO promotions (id, name, status, priority, reward, conditions,
			total_redemptions, total_bonus, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.db.Pool().Exec(ctx, query,
		promo.ID,
		promo.Name,
		promo.Status,
		promo.Priority,
		rewardJSON,
		conditionsJSON,
		promo.TotalRedemptions,
		promo.TotalBonus,
		promo.CreatedAt,
		promo.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create promotion: %w", err)
	}

	return nil
}

func scanPromo(row pgx.Row) (*models.Promotion, error) {
	var promo models.Promotion
	var rewardJSON, conditionsJSON []byte

	err := row.Scan(
		&promo.ID,
		&promo.Name,
		&promo.Status,
		&promo.Priority,
		&rewardJSON,
		&conditionsJSON,
		&promo.TotalRedemptions,
		&promo.TotalBonus,
		&promo.CreatedAt,
		&promo.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(rewardJSON, &promo.Reward); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reward: %w", err)
	}
	if err := json.Unmarshal(conditionsJSON, &promo.Conditions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conditions: %w", err)
	}

	return &promo, nil
}

// GetByID retrieves a promotion by ID
func (r *PromoRepository) GetByID(ctx context.Context, id string) (*models.Promotion, error) {
	query := fmt.Sprintf(`SELECT %s FROM promotions WHERE id = $1`, promoColumns)

	promo, err := scanPromo(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("promotion %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get promotion: %w", err)
	}

	return promo, nil
}

// ListActive returns active promotions ordered by priority (highest first)
func (r *PromoRepository) ListActive(ctx context.Context) ([]*models.Promotion, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM promotions
		WHERE status = 'ACTIVE'
		ORDER BY priority DESC, created_at ASC
	`, promoColumns)

	return r.queryPromos(ctx, query)
}

// List returns all promotions, newest first
func (r *PromoRepository) List(ctx context.Context, limit, offset int) ([]*models.Promotion, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM promotions
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, promoColumns)

	return r.queryPromos(ctx, query, limit, offset)
}

func (r *PromoRepository) queryPromos(ctx context.Context, query string, args ...interface{}) ([]*models.Promotion, error) {
	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query promotions: %w", err)
	}
	defer rows.Close()

	var promos []*models.Promotion
	for rows.Next() {
		promo, err := scanPromo(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan promotion: %w", err)
		}
		promos = append(promos, promo)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating promotions: %w", err)
	}

	return promos, nil
}

// UpdateStatus changes a promotion's status
func (r *PromoRepository) UpdateStatus(ctx context.Context, promoID string, status types.PromoStatus) error {
	query := `UPDATE promotions SET status = $2, updated_at = $3 WHERE id = $1`

	result, err := r.db.Pool().Exec(ctx, query, promoID, status, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update promotion status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("promotion %s: %w", promoID, ErrNotFound)
	}

	return nil
}

// ExpirePastEndDate marks active promotions past their end date as EXPIRED.
// Returns the number of promotions expired.
func (r *PromoRepository) ExpirePastEndDate(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE promotions
		SET status = 'EXPIRED', updated_at = $1
		WHERE status = 'ACTIVE'
			AND conditions ? 'endDate'
			AND (conditions->>'endDate')::timestamptz <= $1
	`

	result, err := r.db.Pool().Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire promotions: %w", err)
	}

	return result.RowsAffected(), nil
}

// InsertRedemption records a redemption. The unique (promo_id, slip_id)
// index makes retried verifications idempotent: the second insert is a
// no-op and claimed is false.
func (r *PromoRepository) InsertRedemption(ctx context.Context, red *models.Redemption) (claimed bool, err error) {
	if red.ID == "" {
		red.ID = uuid.New().String()
	}
	red.CreatedAt = time.Now()

	query := `
		INSERT INTO promo_redemptions (id, promo_id, user_id, slip_id,
			topup_baht, base_credits, bonus_credits, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (promo_id, slip_id) DO NOTHING
	`

	result, err := r.db.Pool().Exec(ctx, query,
		red.ID,
		red.PromoID,
		red.UserID,
		red.SlipID,
		red.TopupBaht,
		red.BaseCredits,
		red.BonusCredits,
		red.CreatedAt,
	)

	if err != nil {
		return false, fmt.Errorf("failed to insert redemption: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// RecordRedemptionTotals bumps a promotion's aggregate counters
func (r *PromoRepository) RecordRedemptionTotals(ctx context.Context, promoID string, bonus int64) error {
	query := `
		UPDATE promotions
		SET total_redemptions = total_redemptions + 1,
			total_bonus = total_bonus + $2,
			updated_at = $3
		WHERE id = $1
	`

	_, err := r.db.Pool().Exec(ctx, query, promoID, bonus, time.Now())
	if err != nil {
		return fmt.Errorf("failed to record redemption totals: %w", err)
	}

	return nil
}

// CountRedemptions counts total redemptions of a promotion
func (r *PromoRepository) CountRedemptions(ctx context.Context, promoID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM promo_redemptions WHERE promo_id = $1`

	err := r.db.Pool().QueryRow(ctx, query, promoID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count redemptions: %w", err)
	}

	return count, nil
}

// CountRedemptionsByUser counts one user's redemptions of a promotion
func (r *PromoRepository) CountRedemptionsByUser(ctx context.Context, promoID, userID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM promo_redemptions WHERE promo_id = $1 AND user_id = $2`

	err := r.db.Pool().QueryRow(ctx, query, promoID, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count user redemptions: %w", err)
	}

	return count, nil
}
