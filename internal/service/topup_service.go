package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	apperrors "github.com/stockmeta/internal/errors"
	"github.com/stockmeta/internal/logging"
	"github.com/stockmeta/internal/models"
	"github.com/stockmeta/internal/storage"
	"github.com/stockmeta/internal/types"
)

// TopupService handles payment slip submission and verification. Credits are
// granted only when an admin verifies a slip; verification is idempotent via
// the conditional PENDING -> VERIFIED transition.
type TopupService struct {
	users  UserStore
	slips  SlipStore
	txs    TransactionStore
	rates  *RateService
	promos *PromoService
	audit  AuditStore
}

// NewTopupService creates a new topup service
func NewTopupService(users UserStore, slips SlipStore, txs TransactionStore, rates *RateService, promos *PromoService, audit AuditStore) *TopupService {
	return &TopupService{
		users:  users,
		slips:  slips,
		txs:    txs,
		rates:  rates,
		promos: promos,
		audit:  audit,
	}
}

// SubmitSlip records a pending top-up slip
func (s *TopupService) SubmitSlip(ctx context.Context, userID string, amountBaht int64) (*models.Slip, error) {
	if amountBaht <= 0 {
		return nil, apperrors.NewInvalidParameterError("amountBaht", "must be positive")
	}

	if _, err := s.users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperrors.NewNotFoundError("user", userID)
		}
		return nil, apperrors.NewStoreError("get user", err)
	}

	slip := &models.Slip{
		UserID:     userID,
		AmountBaht: amountBaht,
	}

	if err := s.slips.Create(ctx, slip); err != nil {
		return nil, apperrors.NewStoreError("create slip", err)
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"userId":     userID,
		"slipId":     slip.ID,
		"amountBaht": amountBaht,
	}).Info("Top-up slip submitted")

	return slip, nil
}

// VerifyResult is the outcome of a verified top-up
type VerifyResult struct {
	Slip         *models.Slip `json:"slip"`
	BaseCredits  int64        `json:"baseCredits"`
	BonusCredits int64        `json:"bonusCredits"`
	Balance      int64        `json:"balance"`
	PromoID      *string      `json:"promoId,omitempty"`
}

// VerifySlip approves a pending slip: converts baht to credits at the
// current exchange rate, applies the single best promotion, and grants the
// total. A slip that is no longer PENDING is a conflict; credits can never
// be granted twice for one slip.
func (s *TopupService) VerifySlip(ctx context.Context, slipID, adminID string) (*VerifyResult, error) {
	slip, err := s.slips.GetByID(ctx, slipID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperrors.NewNotFoundError("slip", slipID)
		}
		return nil, apperrors.NewStoreError("get slip", err)
	}

	user, err := s.users.GetByID(ctx, slip.UserID)
	if err != nil {
		return nil, apperrors.NewStoreError("get user", err)
	}

	exchangeRate, err := s.rates.ExchangeRate(ctx)
	if err != nil {
		return nil, err
	}

	applied, err := s.promos.FindApplicable(ctx, user, slip.AmountBaht, exchangeRate)
	if err != nil {
		return nil, err
	}

	effectiveRate := exchangeRate
	var bonus int64
	var promoID *string
	if applied != nil {
		effectiveRate = applied.EffectiveRate
		if applied.Promo.Reward.Type != types.RewardRateOverride {
			bonus = applied.BonusCredits
		}
		promoID = &applied.Promo.ID
	}

	baseCredits := slip.AmountBaht * effectiveRate
	total := baseCredits + bonus

	verified, err := s.slips.VerifyIfPending(ctx, slipID, adminID, total, promoID)
	if err != nil {
		if errors.Is(err, storage.ErrConditionFailed) {
			return nil, &apperrors.CategorizedError{
				Category:   apperrors.CategoryJobState,
				StatusCode: 409,
				Code:       "SLIP_ALREADY_RESOLVED",
				Message:    fmt.Sprintf("slip %s is no longer pending", slipID),
				Details:    map[string]interface{}{"slipId": slipID, "status": string(slip.Status)},
			}
		}
		return nil, apperrors.NewStoreError("verify slip", err)
	}

	if applied != nil {
		claimed, err := s.promos.RecordRedemption(ctx, &models.Redemption{
			PromoID:      applied.Promo.ID,
			UserID:       user.ID,
			SlipID:       slipID,
			TopupBaht:    slip.AmountBaht,
			BaseCredits:  baseCredits,
			BonusCredits: total - slip.AmountBaht*exchangeRate,
		})
		if err != nil {
			logging.FromContext(ctx).WithError(err).Error("Failed to record promotion redemption")
		} else if !claimed {
			logging.FromContext(ctx).WithFields(map[string]interface{}{
				"promoId": applied.Promo.ID,
				"slipId":  slipID,
			}).Warn("Redemption already recorded for slip")
		}
	}

	balance, err := s.users.RecordTopup(ctx, user.ID, slip.AmountBaht, total)
	if err != nil {
		return nil, apperrors.NewStoreError("grant credits", err)
	}

	description := fmt.Sprintf("Top-up %d THB at %d credits/THB", slip.AmountBaht, effectiveRate)
	if bonus > 0 {
		description += fmt.Sprintf(" + %d bonus credits", bonus)
	}
	if err := s.txs.Create(ctx, &models.Transaction{
		UserID:       user.ID,
		Type:         types.TxTopup,
		Amount:       total,
		BalanceAfter: balance,
		SlipID:       &verified.ID,
		Description:  description,
	}); err != nil {
		logging.FromContext(ctx).WithError(err).Error("Failed to append topup ledger entry")
	}

	if s.audit != nil {
		_ = s.audit.Insert(ctx, &models.AuditEvent{
			EventType: "topup_verified",
			UserID:    user.ID,
			Severity:  models.SeverityInfo,
			Details: map[string]string{
				"slipId":     slipID,
				"amountBaht": strconv.FormatInt(slip.AmountBaht, 10),
				"credits":    strconv.FormatInt(total, 10),
				"verifiedBy": adminID,
			},
		})
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"userId":      user.ID,
		"slipId":      slipID,
		"amountBaht":  slip.AmountBaht,
		"baseCredits": baseCredits,
		"bonus":       bonus,
		"balance":     balance,
	}).Info("Top-up verified")

	return &VerifyResult{
		Slip:         verified,
		BaseCredits:  baseCredits,
		BonusCredits: total - baseCredits,
		Balance:      balance,
		PromoID:      promoID,
	}, nil
}

// RejectSlip rejects a pending slip
func (s *TopupService) RejectSlip(ctx context.Context, slipID, adminID string) (*models.Slip, error) {
	slip, err := s.slips.RejectIfPending(ctx, slipID, adminID)
	if err != nil {
		if errors.Is(err, storage.ErrConditionFailed) {
			existing, getErr := s.slips.GetByID(ctx, slipID)
			if getErr != nil {
				if errors.Is(getErr, storage.ErrNotFound) {
					return nil, apperrors.NewNotFoundError("slip", slipID)
				}
				return nil, apperrors.NewStoreError("get slip", getErr)
			}
			return nil, &apperrors.CategorizedError{
				Category:   apperrors.CategoryJobState,
				StatusCode: 409,
				Code:       "SLIP_ALREADY_RESOLVED",
				Message:    fmt.Sprintf("slip %s is no longer pending", slipID),
				Details:    map[string]interface{}{"slipId": slipID, "status": string(existing.Status)},
			}
		}
		return nil, apperrors.NewStoreError("reject slip", err)
	}

	if s.audit != nil {
		_ = s.audit.Insert(ctx, &models.AuditEvent{
			EventType: "topup_rejected",
			UserID:    slip.UserID,
			Severity:  models.SeverityWarning,
			Details:   map[string]string{"slipId": slipID, "rejectedBy": adminID},
		})
	}

	return slip, nil
}

// PendingSlips returns the verification queue, oldest first
func (s *TopupService) PendingSlips(ctx context.Context, limit, offset int) ([]*models.Slip, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	slips, err := s.slips.ListByStatus(ctx, types.SlipPending, limit, offset)
	if err != nil {
		return nil, apperrors.NewStoreError("list pending slips", err)
	}
	return slips, nil
}

// UserSlips returns a user's slips, newest first
func (s *TopupService) UserSlips(ctx context.Context, userID string, limit, offset int) ([]*models.Slip, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	slips, err := s.slips.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, apperrors.NewStoreError("list user slips", err)
	}
	return slips, nil
}
