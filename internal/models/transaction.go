package models

import (
	"time"

	"github.com/stockmeta/internal/types"
)

// Transaction is an immutable, append-only ledger entry. Amounts are signed:
// TOPUP and REFUND are positive, USAGE is negative. BalanceAfter is a snapshot
// taken when the entry was written, never recomputed.
type Transaction struct {
	ID           string                `json:"id" db:"id"`
	UserID       string                `json:"userId" db:"user_id"`
	Type         types.TransactionType `json:"type" db:"type"`
	Amount       int64                 `json:"amount" db:"amount"`
	BalanceAfter int64                 `json:"balanceAfter" db:"balance_after"`
	JobID        *string               `json:"jobId,omitempty" db:"job_id"`
	SlipID       *string               `json:"slipId,omitempty" db:"slip_id"`
	Description  string                `json:"description" db:"description"`
	CreatedAt    time.Time             `json:"createdAt" db:"created_at"`
}
