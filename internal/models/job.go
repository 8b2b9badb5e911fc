package models

import (
	"time"

	"github.com/stockmeta/internal/types"
)

// Job represents one batch-processing run. A Job is created only by a
// reservation and is never deleted; terminal rows remain as the audit trail.
//
// PhotoRate and VideoRate are frozen at reservation time so that later rate
// changes never affect an open job.
type Job struct {
	ID              string          `json:"id" db:"id"`
	JobToken        string          `json:"jobToken" db:"job_token"`
	UserID          string          `json:"userId" db:"user_id"`
	Mode            types.Mode      `json:"mode" db:"mode"`
	Status          types.JobStatus `json:"status" db:"status"`
	FileCount       int             `json:"fileCount" db:"file_count"`
	PhotoCount      int             `json:"photoCount" db:"photo_count"`
	VideoCount      int             `json:"videoCount" db:"video_count"`
	PhotoRate       int64           `json:"photoRate" db:"photo_rate"`
	VideoRate       int64           `json:"videoRate" db:"video_rate"`
	ReservedCredits int64           `json:"reservedCredits" db:"reserved_credits"`
	ActualUsage     int64           `json:"actualUsage" db:"actual_usage"`
	RefundAmount    int64           `json:"refundAmount" db:"refund_amount"`
	SuccessCount    int             `json:"successCount" db:"success_count"`
	FailedCount     int             `json:"failedCount" db:"failed_count"`
	CreatedAt       time.Time       `json:"createdAt" db:"created_at"`
	ExpiresAt       time.Time       `json:"expiresAt" db:"expires_at"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty" db:"completed_at"`
}
