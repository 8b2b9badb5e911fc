// Package models provides data models for the stockmeta billing system.
package models

import (
	"time"

	"github.com/stockmeta/internal/types"
)

// User represents a registered account. Users are never deleted; disabled
// accounts are soft-disabled via Status.
type User struct {
	ID               string           `json:"id" db:"id"`
	Email            string           `json:"email" db:"email"`
	PasswordHash     string           `json:"-" db:"password_hash"`
	FullName         string           `json:"fullName" db:"full_name"`
	Credits          int64            `json:"credits" db:"credits"`
	Status           types.UserStatus `json:"status" db:"status"`
	HardwareID       string           `json:"hardwareId,omitempty" db:"hardware_id"`
	AppVersion       string           `json:"appVersion,omitempty" db:"app_version"`
	TotalTopupBaht   int64            `json:"totalTopupBaht" db:"total_topup_baht"`
	TotalCreditsUsed int64            `json:"totalCreditsUsed" db:"total_credits_used"`
	CreatedAt        time.Time        `json:"createdAt" db:"created_at"`
	LastLogin        time.Time        `json:"lastLogin" db:"last_login"`
	LastActive       time.Time        `json:"lastActive" db:"last_active"`
}

// Disabled reports whether the account may not reserve work.
func (u *User) Disabled() bool {
	return u.Status != types.StatusActive
}
