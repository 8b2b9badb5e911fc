package models

import (
	"time"

	"github.com/stockmeta/internal/types"
)

// RewardTier maps a baht range to a bonus-credit grant. MaxBaht nil means
// open-ended.
type RewardTier struct {
	MinBaht int64  `json:"minBaht"`
	MaxBaht *int64 `json:"maxBaht,omitempty"`
	Credits int64  `json:"credits"`
}

// Reward describes how a promotion's bonus is computed.
type Reward struct {
	Type            types.RewardType `json:"type"`
	BonusCredits    int64            `json:"bonusCredits,omitempty"`
	BonusPercentage int              `json:"bonusPercentage,omitempty"`
	OverrideRate    int64            `json:"overrideRate,omitempty"`
	Tiers           []RewardTier     `json:"tiers,omitempty"`
}

// PromoConditions gate when a promotion applies.
type PromoConditions struct {
	StartDate      *time.Time `json:"startDate,omitempty"`
	EndDate        *time.Time `json:"endDate,omitempty"`
	MinTopupBaht   int64      `json:"minTopupBaht,omitempty"`
	MaxTopupBaht   int64      `json:"maxTopupBaht,omitempty"`
	MaxRedemptions int        `json:"maxRedemptions,omitempty"`
	MaxPerUser     int        `json:"maxPerUser,omitempty"`
	NewUsersOnly   bool       `json:"newUsersOnly,omitempty"`
	FirstTopupOnly bool       `json:"firstTopupOnly,omitempty"`
	WelcomeBonus   bool       `json:"welcomeBonus,omitempty"`
}

// Promotion represents a bonus-credit campaign. Only the single best
// applicable promotion is applied to a top-up (no stacking).
type Promotion struct {
	ID               string            `json:"id" db:"id"`
	Name             string            `json:"name" db:"name"`
	Status           types.PromoStatus `json:"status" db:"status"`
	Priority         int               `json:"priority" db:"priority"`
	Reward           Reward            `json:"reward" db:"reward"`
	Conditions       PromoConditions   `json:"conditions" db:"conditions"`
	TotalRedemptions int               `json:"totalRedemptions" db:"total_redemptions"`
	TotalBonus       int64             `json:"totalBonus" db:"total_bonus"`
	CreatedAt        time.Time         `json:"createdAt" db:"created_at"`
	UpdatedAt        time.Time         `json:"updatedAt" db:"updated_at"`
}

// Redemption records one application of a promotion. The (promo_id, slip_id)
// pair is unique so a retried top-up can never redeem the same promotion twice.
type Redemption struct {
	ID           string    `json:"id" db:"id"`
	PromoID      string    `json:"promoId" db:"promo_id"`
	UserID       string    `json:"userId" db:"user_id"`
	SlipID       string    `json:"slipId" db:"slip_id"`
	TopupBaht    int64     `json:"topupBaht" db:"topup_baht"`
	BaseCredits  int64     `json:"baseCredits" db:"base_credits"`
	BonusCredits int64     `json:"bonusCredits" db:"bonus_credits"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}
