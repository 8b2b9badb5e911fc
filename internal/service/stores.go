// Package service implements the billing core: credit reservation and
// settlement, top-up verification, promotions, expiry sweeping and reporting.
package service

import (
	"context"
	"time"

	"github.com/stockmeta/internal/models"
	"github.com/stockmeta/internal/types"
)

// UserStore is the user persistence interface consumed by services
type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	List(ctx context.Context, limit, offset int) ([]*models.User, error)
	UpdateStatus(ctx context.Context, userID string, status types.UserStatus) error
	RecordLogin(ctx context.Context, userID, hardwareID, appVersion string) error
	ReserveCredits(ctx context.Context, userID string, cost int64) (int64, error)
	AddCredits(ctx context.Context, userID string, amount int64) (int64, error)
	RecordTopup(ctx context.Context, userID string, amountBaht, credits int64) (int64, error)
	RecordUsage(ctx context.Context, userID string, usedCredits int64) error
	GetBalance(ctx context.Context, userID string) (int64, error)
	CountCreatedSince(ctx context.Context, since time.Time) (int, error)
}

// JobStore is the job persistence interface consumed by services
type JobStore interface {
	Create(ctx context.Context, job *models.Job) error
	GetByToken(ctx context.Context, jobToken string) (*models.Job, error)
	GetByID(ctx context.Context, id string) (*models.Job, error)
	CompleteIfReserved(ctx context.Context, jobToken string, actualUsage, refund int64, success, failed, photos, videos int) (*models.Job, error)
	ExpireIfReserved(ctx context.Context, jobID string) (*models.Job, error)
	FailIfReserved(ctx context.Context, jobToken string) (*models.Job, error)
	ListExpiredReserved(ctx context.Context, now time.Time, limit int) ([]*models.Job, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Job, error)
	ListByStatus(ctx context.Context, status types.JobStatus, limit, offset int) ([]*models.Job, error)
}

// TransactionStore is the ledger persistence interface consumed by services
type TransactionStore interface {
	Create(ctx context.Context, tx *models.Transaction) error
	ListByUser(ctx context.Context, userID string, txType types.TransactionType, limit, offset int) ([]*models.Transaction, error)
	CountByUser(ctx context.Context, userID string) (int64, error)
	SumByTypeSince(ctx context.Context, txType types.TransactionType, since time.Time) (int64, error)
}

// SlipStore is the payment slip persistence interface consumed by services
type SlipStore interface {
	Create(ctx context.Context, slip *models.Slip) error
	GetByID(ctx context.Context, id string) (*models.Slip, error)
	VerifyIfPending(ctx context.Context, slipID, verifiedBy string, creditsGranted int64, promoID *string) (*models.Slip, error)
	RejectIfPending(ctx context.Context, slipID, verifiedBy string) (*models.Slip, error)
	ListByStatus(ctx context.Context, status types.SlipStatus, limit, offset int) ([]*models.Slip, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Slip, error)
	CountVerifiedByUser(ctx context.Context, userID string) (int, error)
	TopupStatsSince(ctx context.Context, since time.Time) (totalBaht, totalCredits int64, err error)
}

// PromoStore is the promotion persistence interface consumed by services
type PromoStore interface {
	Create(ctx context.Context, promo *models.Promotion) error
	GetByID(ctx context.Context, id string) (*models.Promotion, error)
	ListActive(ctx context.Context) ([]*models.Promotion, error)
	List(ctx context.Context, limit, offset int) ([]*models.Promotion, error)
	UpdateStatus(ctx context.Context, promoID string, status types.PromoStatus) error
	ExpirePastEndDate(ctx context.Context, now time.Time) (int64, error)
	InsertRedemption(ctx context.Context, red *models.Redemption) (bool, error)
	RecordRedemptionTotals(ctx context.Context, promoID string, bonus int64) error
	CountRedemptions(ctx context.Context, promoID string) (int, error)
	CountRedemptionsByUser(ctx context.Context, promoID, userID string) (int, error)
}

// ConfigStore is the settings persistence interface consumed by services
type ConfigStore interface {
	GetRateCard(ctx context.Context) (*models.RateCard, error)
	SaveRateCard(ctx context.Context, card *models.RateCard) error
}

// RateCardCache is the rate card cache interface consumed by services
type RateCardCache interface {
	Get(ctx context.Context) (*models.RateCard, error)
	Set(ctx context.Context, card *models.RateCard) error
	Invalidate(ctx context.Context) error
}

// AuditStore is the audit event sink consumed by services
type AuditStore interface {
	Insert(ctx context.Context, event *models.AuditEvent) error
}

// ReportStore is the daily report persistence interface consumed by services
type ReportStore interface {
	Upsert(ctx context.Context, report *models.DailyReport) error
	GetByDate(ctx context.Context, date string) (*models.DailyReport, error)
	ListRecent(ctx context.Context, limit int) ([]*models.DailyReport, error)
}
