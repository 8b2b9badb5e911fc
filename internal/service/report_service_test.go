package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stockmeta/internal/models"
	"github.com/stockmeta/internal/storage"
)

type mockReportStore struct {
	mu      sync.Mutex
	reports map[string]*models.DailyReport
}

func newMockReportStore() *mockReportStore {
	return &mockReportStore{reports: make(map[string]*models.DailyReport)}
}

func (m *mockReportStore) Upsert(ctx context.Context, report *models.DailyReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *report
	m.reports[report.Date] = &copied
	return nil
}

func (m *mockReportStore) GetByDate(ctx context.Context, date string) (*models.DailyReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if report, ok := m.reports[date]; ok {
		copied := *report
		return &copied, nil
	}
	return nil, fmt.Errorf("report %s: %w", date, storage.ErrNotFound)
}

func (m *mockReportStore) ListRecent(ctx context.Context, limit int) ([]*models.DailyReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.DailyReport
	for _, report := range m.reports {
		copied := *report
		out = append(out, &copied)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

type mockJobStatsStore struct {
	stats storage.JobDayStats
}

func (m *mockJobStatsStore) StatsSince(ctx context.Context, since time.Time) (*storage.JobDayStats, error) {
	copied := m.stats
	return &copied, nil
}

func TestGenerateDaily(t *testing.T) {
	users := newMockUserStore()
	slips := newMockSlipStore()
	reports := newMockReportStore()
	jobStats := &mockJobStatsStore{stats: storage.JobDayStats{
		TotalJobs:      12,
		FilesProcessed: 340,
		CreditsUsed:    900,
	}}
	svc := NewReportService(users, jobStats, slips, reports)
	ctx := context.Background()

	now := time.Date(2026, 8, 27, 15, 30, 0, 0, time.UTC)

	users.add(&models.User{Email: "today@example.com", CreatedAt: now.Add(-time.Hour)})

	slip := &models.Slip{UserID: "user-1", AmountBaht: 500}
	slips.Create(ctx, slip)
	if _, err := slips.VerifyIfPending(ctx, slip.ID, "admin", 2000, nil); err != nil {
		t.Fatalf("VerifyIfPending() error = %v", err)
	}

	report, err := svc.GenerateDaily(ctx, now)
	if err != nil {
		t.Fatalf("GenerateDaily() error = %v", err)
	}

	if report.Date != "2026-08-27" {
		t.Errorf("Date = %s, want 2026-08-27", report.Date)
	}
	if report.NewUsers != 1 {
		t.Errorf("NewUsers = %d, want 1", report.NewUsers)
	}
	if report.TotalJobs != 12 || report.TotalFilesProcessed != 340 || report.TotalCreditsUsed != 900 {
		t.Errorf("job aggregates = (%d, %d, %d), want (12, 340, 900)",
			report.TotalJobs, report.TotalFilesProcessed, report.TotalCreditsUsed)
	}
	if report.TotalTopupBaht != 500 || report.TotalCreditsSold != 2000 {
		t.Errorf("topup aggregates = (%d, %d), want (500, 2000)",
			report.TotalTopupBaht, report.TotalCreditsSold)
	}

	stored, err := svc.GetByDate(ctx, "2026-08-27")
	if err != nil {
		t.Fatalf("GetByDate() error = %v", err)
	}
	if stored.TotalJobs != 12 {
		t.Errorf("stored TotalJobs = %d, want 12", stored.TotalJobs)
	}
}

func TestGenerateDaily_RegenerateOverwrites(t *testing.T) {
	users := newMockUserStore()
	slips := newMockSlipStore()
	reports := newMockReportStore()
	jobStats := &mockJobStatsStore{stats: storage.JobDayStats{TotalJobs: 1}}
	svc := NewReportService(users, jobStats, slips, reports)
	ctx := context.Background()

	day := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)

	if _, err := svc.GenerateDaily(ctx, day); err != nil {
		t.Fatalf("GenerateDaily() error = %v", err)
	}

	jobStats.stats.TotalJobs = 7
	report, err := svc.GenerateDaily(ctx, day)
	if err != nil {
		t.Fatalf("regenerate error = %v", err)
	}
	if report.TotalJobs != 7 {
		t.Errorf("regenerated TotalJobs = %d, want 7", report.TotalJobs)
	}

	stored, _ := svc.GetByDate(ctx, "2026-08-27")
	if stored.TotalJobs != 7 {
		t.Errorf("stored TotalJobs after regenerate = %d, want 7", stored.TotalJobs)
	}
}

func TestGetByDate_Missing(t *testing.T) {
	svc := NewReportService(newMockUserStore(), &mockJobStatsStore{}, newMockSlipStore(), newMockReportStore())

	_, err := svc.GetByDate(context.Background(), "1999-01-01")
	if code := errCode(t, err); code != "NOT_FOUND" {
		t.Errorf("error code = %s, want NOT_FOUND", code)
	}
}
