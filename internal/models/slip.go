package models

import (
	"time"

	"github.com/stockmeta/internal/types"
)

// Slip represents a submitted payment slip for a top-up.
type Slip struct {
	ID             string           `json:"id" db:"id"`
	UserID         string           `json:"userId" db:"user_id"`
	Status         types.SlipStatus `json:"status" db:"status"`
	AmountBaht     int64            `json:"amountBaht" db:"amount_baht"`
	CreditsGranted int64            `json:"creditsGranted" db:"credits_granted"`
	PromoID        *string          `json:"promoId,omitempty" db:"promo_id"`
	VerifiedBy     string           `json:"verifiedBy,omitempty" db:"verified_by"`
	CreatedAt      time.Time        `json:"createdAt" db:"created_at"`
	VerifiedAt     *time.Time       `json:"verifiedAt,omitempty" db:"verified_at"`
}
