package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	apperrors "github.com/stockmeta/internal/errors"
	"github.com/stockmeta/internal/logging"
	"github.com/stockmeta/internal/models"
	"github.com/stockmeta/internal/storage"
	"github.com/stockmeta/internal/types"
)

// newUserWindow is how long after registration an account counts as "new"
// for promotion conditions.
const newUserWindow = 7 * 24 * time.Hour

// PromoService evaluates and applies promotions. At most one promotion
// applies to a top-up: the highest-priority eligible one, ties broken by the
// larger bonus.
type PromoService struct {
	promos PromoStore
	slips  SlipStore
	audit  AuditStore
}

// NewPromoService creates a new promo service
func NewPromoService(promos PromoStore, slips SlipStore, audit AuditStore) *PromoService {
	return &PromoService{promos: promos, slips: slips, audit: audit}
}

// Applied describes the single promotion chosen for a top-up
type Applied struct {
	Promo        *models.Promotion
	BonusCredits int64
	// EffectiveRate is the exchange rate after a RATE_OVERRIDE, or the
	// input rate otherwise.
	EffectiveRate int64
}

// FindApplicable returns the best applicable promotion for a top-up, or nil
// if none applies.
func (s *PromoService) FindApplicable(ctx context.Context, user *models.User, amountBaht, exchangeRate int64) (*Applied, error) {
	promos, err := s.promos.ListActive(ctx)
	if err != nil {
		return nil, apperrors.NewStoreError("list promotions", err)
	}

	var best *Applied
	for _, promo := range promos {
		if promo.Conditions.WelcomeBonus {
			// Welcome bonuses apply at registration, not at top-up
			continue
		}

		eligible, err := s.eligible(ctx, promo, user, amountBaht)
		if err != nil {
			return nil, err
		}
		if !eligible {
			continue
		}

		applied := s.computeBonus(promo, amountBaht, exchangeRate)
		if applied.BonusCredits <= 0 && applied.EffectiveRate == exchangeRate {
			continue
		}

		if best == nil ||
			applied.Promo.Priority > best.Promo.Priority ||
			(applied.Promo.Priority == best.Promo.Priority && applied.BonusCredits > best.BonusCredits) {
			best = applied
		}
	}

	return best, nil
}

func (s *PromoService) eligible(ctx context.Context, promo *models.Promotion, user *models.User, amountBaht int64) (bool, error) {
	cond := promo.Conditions
	now := time.Now()

	if cond.StartDate != nil && now.Before(*cond.StartDate) {
		return false, nil
	}
	if cond.EndDate != nil && now.After(*cond.EndDate) {
		return false, nil
	}
	if cond.MinTopupBaht > 0 && amountBaht < cond.MinTopupBaht {
		return false, nil
	}
	if cond.MaxTopupBaht > 0 && amountBaht > cond.MaxTopupBaht {
		return false, nil
	}
	if cond.NewUsersOnly && time.Since(user.CreatedAt) > newUserWindow {
		return false, nil
	}

	if cond.FirstTopupOnly {
		verified, err := s.slips.CountVerifiedByUser(ctx, user.ID)
		if err != nil {
			return false, apperrors.NewStoreError("count verified slips", err)
		}
		if verified > 0 {
			return false, nil
		}
	}

	if cond.MaxRedemptions > 0 {
		total, err := s.promos.CountRedemptions(ctx, promo.ID)
		if err != nil {
			return false, apperrors.NewStoreError("count redemptions", err)
		}
		if total >= cond.MaxRedemptions {
			return false, nil
		}
	}

	if cond.MaxPerUser > 0 {
		mine, err := s.promos.CountRedemptionsByUser(ctx, promo.ID, user.ID)
		if err != nil {
			return false, apperrors.NewStoreError("count user redemptions", err)
		}
		if mine >= cond.MaxPerUser {
			return false, nil
		}
	}

	return true, nil
}

// computeBonus calculates the bonus for one promotion. The base grant is
// amountBaht * exchangeRate; the bonus comes on top of it except for
// RATE_OVERRIDE, which replaces the rate.
func (s *PromoService) computeBonus(promo *models.Promotion, amountBaht, exchangeRate int64) *Applied {
	applied := &Applied{Promo: promo, EffectiveRate: exchangeRate}
	base := amountBaht * exchangeRate

	switch promo.Reward.Type {
	case types.RewardFlat:
		applied.BonusCredits = promo.Reward.BonusCredits

	case types.RewardPercentage:
		applied.BonusCredits = base * int64(promo.Reward.BonusPercentage) / 100

	case types.RewardTiered:
		for _, tier := range promo.Reward.Tiers {
			if amountBaht < tier.MinBaht {
				continue
			}
			if tier.MaxBaht != nil && amountBaht > *tier.MaxBaht {
				continue
			}
			applied.BonusCredits = tier.Credits
			break
		}

	case types.RewardRateOverride:
		if promo.Reward.OverrideRate > exchangeRate {
			applied.EffectiveRate = promo.Reward.OverrideRate
			applied.BonusCredits = amountBaht * (promo.Reward.OverrideRate - exchangeRate)
		}
	}

	return applied
}

// WelcomeBonus returns the registration bonus from the highest-priority
// active welcome promotion, or nil if there is none.
func (s *PromoService) WelcomeBonus(ctx context.Context) (*models.Promotion, int64, error) {
	promos, err := s.promos.ListActive(ctx)
	if err != nil {
		return nil, 0, apperrors.NewStoreError("list promotions", err)
	}

	now := time.Now()
	for _, promo := range promos {
		if !promo.Conditions.WelcomeBonus {
			continue
		}
		if promo.Conditions.StartDate != nil && now.Before(*promo.Conditions.StartDate) {
			continue
		}
		if promo.Conditions.EndDate != nil && now.After(*promo.Conditions.EndDate) {
			continue
		}
		if promo.Reward.BonusCredits > 0 {
			return promo, promo.Reward.BonusCredits, nil
		}
	}

	return nil, 0, nil
}

// RecordRedemption persists a redemption and bumps the promotion counters.
// Returns false without error when the (promo, slip) pair was already
// redeemed.
func (s *PromoService) RecordRedemption(ctx context.Context, red *models.Redemption) (bool, error) {
	claimed, err := s.promos.InsertRedemption(ctx, red)
	if err != nil {
		return false, apperrors.NewStoreError("insert redemption", err)
	}
	if !claimed {
		return false, nil
	}

	if err := s.promos.RecordRedemptionTotals(ctx, red.PromoID, red.BonusCredits); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Failed to update promotion totals")
	}

	if s.audit != nil {
		_ = s.audit.Insert(ctx, &models.AuditEvent{
			EventType: "promo_redeemed",
			UserID:    red.UserID,
			Severity:  models.SeverityInfo,
			Details: map[string]string{
				"promoId":      red.PromoID,
				"slipId":       red.SlipID,
				"bonusCredits": strconv.FormatInt(red.BonusCredits, 10),
			},
		})
	}

	return true, nil
}

// Create creates a new promotion
func (s *PromoService) Create(ctx context.Context, promo *models.Promotion) error {
	if promo.Name == "" {
		return apperrors.NewInvalidParameterError("name", "name is required")
	}
	switch promo.Reward.Type {
	case types.RewardFlat, types.RewardPercentage, types.RewardTiered, types.RewardRateOverride:
	default:
		return apperrors.NewInvalidParameterError("reward.type", "unknown reward type")
	}

	if err := s.promos.Create(ctx, promo); err != nil {
		return apperrors.NewStoreError("create promotion", err)
	}

	return nil
}

// Get returns a promotion by ID
func (s *PromoService) Get(ctx context.Context, id string) (*models.Promotion, error) {
	promo, err := s.promos.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperrors.NewNotFoundError("promotion", id)
		}
		return nil, apperrors.NewStoreError("get promotion", err)
	}
	return promo, nil
}

// List returns a page of all promotions
func (s *PromoService) List(ctx context.Context, limit, offset int) ([]*models.Promotion, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	promos, err := s.promos.List(ctx, limit, offset)
	if err != nil {
		return nil, apperrors.NewStoreError("list promotions", err)
	}
	return promos, nil
}

// SetStatus pauses, resumes or expires a promotion
func (s *PromoService) SetStatus(ctx context.Context, promoID string, status types.PromoStatus) error {
	switch status {
	case types.PromoActive, types.PromoPaused, types.PromoExpired:
	default:
		return apperrors.NewInvalidParameterError("status", "unknown promotion status")
	}

	if err := s.promos.UpdateStatus(ctx, promoID, status); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.NewNotFoundError("promotion", promoID)
		}
		return apperrors.NewStoreError("update promotion status", err)
	}

	return nil
}

// ExpirePromotions marks active promotions past their end date as EXPIRED.
// Returns the number expired.
func (s *PromoService) ExpirePromotions(ctx context.Context) (int64, error) {
	expired, err := s.promos.ExpirePastEndDate(ctx, time.Now())
	if err != nil {
		return 0, apperrors.NewStoreError("expire promotions", err)
	}

	if expired > 0 {
		logging.FromContext(ctx).WithField("count", expired).Info("Promotions expired")
	}

	return expired, nil
}
