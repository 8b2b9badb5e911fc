package service

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/stockmeta/internal/errors"
	"github.com/stockmeta/internal/logging"
	"github.com/stockmeta/internal/models"
	"github.com/stockmeta/internal/storage"
	"github.com/stockmeta/internal/types"
)

// RateService resolves the current rate card: Redis cache first, then the
// settings store, then the static defaults. The cache TTL bounds how stale a
// reservation's rates can be after an admin change.
type RateService struct {
	configStore ConfigStore
	cache       RateCardCache
	defaults    *models.RateCard
}

// NewRateService creates a new rate service. cache may be nil, in which case
// every lookup goes to the store.
func NewRateService(configStore ConfigStore, cache RateCardCache, defaults *models.RateCard) *RateService {
	return &RateService{
		configStore: configStore,
		cache:       cache,
		defaults:    defaults,
	}
}

// Current returns the effective rate card
func (s *RateService) Current(ctx context.Context) (*models.RateCard, error) {
	if s.cache != nil {
		card, err := s.cache.Get(ctx)
		if err == nil {
			return card, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			logging.FromContext(ctx).WithError(err).Warn("Rate card cache read failed, falling back to store")
		}
	}

	card, err := s.configStore.GetRateCard(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			card = s.defaults
		} else {
			return nil, apperrors.NewStoreError("get rate card", err)
		}
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, card); err != nil {
			logging.FromContext(ctx).WithError(err).Warn("Failed to cache rate card")
		}
	}

	return card, nil
}

// RatesFor returns the per-file photo and video rates for a platform
func (s *RateService) RatesFor(ctx context.Context, mode types.Mode) (photoRate, videoRate int64, err error) {
	card, err := s.Current(ctx)
	if err != nil {
		return 0, 0, err
	}

	rates, ok := card.Rates[string(mode)]
	if !ok {
		return 0, 0, apperrors.NewInvalidParameterError("mode", fmt.Sprintf("unknown platform %q", mode))
	}

	return rates.Photo, rates.Video, nil
}

// ExchangeRate returns the credits-per-baht exchange rate
func (s *RateService) ExchangeRate(ctx context.Context) (int64, error) {
	card, err := s.Current(ctx)
	if err != nil {
		return 0, err
	}
	return card.ExchangeRate, nil
}

// Update replaces the rate card. Open jobs keep their frozen rates.
func (s *RateService) Update(ctx context.Context, card *models.RateCard) error {
	if card.ExchangeRate <= 0 {
		return apperrors.NewInvalidParameterError("exchangeRate", "must be positive")
	}
	for mode, rates := range card.Rates {
		if rates.Photo <= 0 || rates.Video <= 0 {
			return apperrors.NewInvalidParameterError("rates", fmt.Sprintf("rates for %q must be positive", mode))
		}
	}

	if err := s.configStore.SaveRateCard(ctx, card); err != nil {
		return apperrors.NewStoreError("save rate card", err)
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			logging.FromContext(ctx).WithError(err).Warn("Failed to invalidate rate card cache")
		}
	}

	logging.FromContext(ctx).WithField("exchangeRate", card.ExchangeRate).Info("Rate card updated")
	return nil
}
