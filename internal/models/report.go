package models

import "time"

// DailyReport aggregates one day of platform activity.
type DailyReport struct {
	Date                string    `json:"date" db:"date"`
	NewUsers            int       `json:"newUsers" db:"new_users"`
	TotalJobs           int       `json:"totalJobs" db:"total_jobs"`
	TotalFilesProcessed int       `json:"totalFilesProcessed" db:"total_files_processed"`
	TotalTopupBaht      int64     `json:"totalTopupBaht" db:"total_topup_baht"`
	TotalCreditsSold    int64     `json:"totalCreditsSold" db:"total_credits_sold"`
	TotalCreditsUsed    int64     `json:"totalCreditsUsed" db:"total_credits_used"`
	GeneratedAt         time.Time `json:"generatedAt" db:"generated_at"`
}

// RateCard holds the per-platform billing rates and the exchange rate. It is
// admin-editable; jobs freeze their own copy of the relevant rates at
// reservation time.
type RateCard struct {
	ExchangeRate int64                `json:"exchangeRate"`
	Rates        map[string]ModeRates `json:"rates"`
}

// ModeRates holds the per-file credit rates for one platform.
type ModeRates struct {
	Photo int64 `json:"photo"`
	Video int64 `json:"video"`
}
