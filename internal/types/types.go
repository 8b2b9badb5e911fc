// Package types provides common type definitions for the stockmeta billing system.
package types

// UserStatus represents the account standing of a user
type UserStatus string

const (
	// StatusActive represents an account in good standing
	StatusActive UserStatus = "active"
	// StatusSuspended represents a temporarily disabled account
	StatusSuspended UserStatus = "suspended"
	// StatusBanned represents a permanently disabled account
	StatusBanned UserStatus = "banned"
)

// JobStatus represents the lifecycle state of a batch job
type JobStatus string

const (
	// JobReserved means credits are debited and the job is in flight
	JobReserved JobStatus = "RESERVED"
	// JobCompleted means the job was finalized and the unused reservation refunded
	JobCompleted JobStatus = "COMPLETED"
	// JobExpired means the reservation was force-resolved by the sweeper or an admin
	JobExpired JobStatus = "EXPIRED"
	// JobFailed means the client reported the job unable to start
	JobFailed JobStatus = "FAILED"
)

// Terminal reports whether a job status is a terminal state.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobExpired || s == JobFailed
}

// TransactionType represents the kind of a ledger entry
type TransactionType string

const (
	// TxTopup represents a credit purchase (positive amount)
	TxTopup TransactionType = "TOPUP"
	// TxUsage represents credits consumed by completed work (negative amount)
	TxUsage TransactionType = "USAGE"
	// TxRefund represents the return of unused reserved credits (positive amount)
	TxRefund TransactionType = "REFUND"
)

// Mode represents the target stock platform for a batch job
type Mode string

const (
	// ModeIStock represents the iStock platform
	ModeIStock Mode = "istock"
	// ModeAdobe represents the Adobe Stock platform
	ModeAdobe Mode = "adobe"
	// ModeShutterstock represents the Shutterstock platform
	ModeShutterstock Mode = "shutterstock"
)

// MediaKind represents the media type of a file for billing and admission control
type MediaKind string

const (
	// KindPhoto represents a still image
	KindPhoto MediaKind = "photo"
	// KindVideo represents a video clip
	KindVideo MediaKind = "video"
)

// FileOutcome represents the result of processing one file
type FileOutcome string

const (
	// OutcomeSuccess means metadata was generated for the file
	OutcomeSuccess FileOutcome = "success"
	// OutcomeError means processing failed; the file is not charged
	OutcomeError FileOutcome = "error"
	// OutcomeSkipped means the file never started because the job was stopped
	OutcomeSkipped FileOutcome = "skipped"
)

// SlipStatus represents the verification state of a payment slip
type SlipStatus string

const (
	// SlipPending represents a slip awaiting verification
	SlipPending SlipStatus = "PENDING"
	// SlipVerified represents an approved slip whose credits were granted
	SlipVerified SlipStatus = "VERIFIED"
	// SlipRejected represents a rejected slip
	SlipRejected SlipStatus = "REJECTED"
)

// PromoStatus represents the lifecycle state of a promotion
type PromoStatus string

const (
	// PromoActive represents a promotion eligible for redemption
	PromoActive PromoStatus = "ACTIVE"
	// PromoPaused represents a promotion temporarily withheld by an admin
	PromoPaused PromoStatus = "PAUSED"
	// PromoExpired represents a promotion past its end date
	PromoExpired PromoStatus = "EXPIRED"
)

// RewardType represents how a promotion's bonus is computed
type RewardType string

const (
	// RewardFlat grants a fixed number of bonus credits
	RewardFlat RewardType = "BONUS_CREDITS"
	// RewardPercentage grants a percentage of the base credits
	RewardPercentage RewardType = "PERCENTAGE_BONUS"
	// RewardTiered grants a bonus from a baht-range table
	RewardTiered RewardType = "TIERED_BONUS"
	// RewardRateOverride replaces the exchange rate for the top-up
	RewardRateOverride RewardType = "RATE_OVERRIDE"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
