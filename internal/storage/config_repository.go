package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stockmeta/internal/config"
	"github.com/stockmeta/internal/models"
)

const rateCardKey = "rate_card"

// ConfigRepository persists admin-editable settings in a key/value table.
// Currently the only setting is the rate card.
type ConfigRepository struct {
	db *PostgresDB
}

// NewConfigRepository creates a new config repository
func NewConfigRepository(db *PostgresDB) *ConfigRepository {
	return &ConfigRepository{db: db}
}

// GetRateCard returns the stored rate card, or ErrNotFound if none was ever
// saved (callers fall back to the static config defaults).
func (r *ConfigRepository) GetRateCard(ctx context.Context) (*models.RateCard, error) {
	query := `SELECT value FROM system_config WHERE key = $1`

	var raw []byte
	err := r.db.Pool().QueryRow(ctx, query, rateCardKey).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("rate card: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get rate card: %w", err)
	}

	var card models.RateCard
	if err := json.Unmarshal(raw, &card); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rate card: %w", err)
	}

	return &card, nil
}

// SaveRateCard upserts the rate card. Open jobs are unaffected because each
// job freezes its rates at reservation time.
func (r *ConfigRepository) SaveRateCard(ctx context.Context, card *models.RateCard) error {
	raw, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("failed to marshal rate card: %w", err)
	}

	query := `
		INSERT INTO system_config (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.Pool().Exec(ctx, query, rateCardKey, raw, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save rate card: %w", err)
	}

	return nil
}

// DefaultRateCard builds a rate card from the static billing config
func DefaultRateCard(cfg *config.BillingConfig) *models.RateCard {
	return &models.RateCard{
		ExchangeRate: cfg.ExchangeRate,
		Rates: map[string]models.ModeRates{
			"istock":       {Photo: cfg.IStockPhotoRate, Video: cfg.IStockVideoRate},
			"adobe":        {Photo: cfg.AdobePhotoRate, Video: cfg.AdobeVideoRate},
			"shutterstock": {Photo: cfg.ShutterstockPhotoRate, Video: cfg.ShutterstockVideoRate},
		},
	}
}
