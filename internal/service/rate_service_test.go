package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stockmeta/internal/models"
	"github.com/stockmeta/internal/storage"
	"github.com/stockmeta/internal/types"
)

type mockRateCache struct {
	mu   sync.Mutex
	card *models.RateCard

	gets int
	sets int
}

func (m *mockRateCache) Get(ctx context.Context) (*models.RateCard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.card == nil {
		return nil, fmt.Errorf("rate card: %w", storage.ErrNotFound)
	}
	copied := *m.card
	return &copied, nil
}

func (m *mockRateCache) Set(ctx context.Context, card *models.RateCard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets++
	copied := *card
	m.card = &copied
	return nil
}

func (m *mockRateCache) Invalidate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.card = nil
	return nil
}

func TestRateService_DefaultsWhenStoreEmpty(t *testing.T) {
	svc := NewRateService(&mockConfigStore{}, nil, defaultTestRateCard())

	card, err := svc.Current(context.Background())
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if card.ExchangeRate != 4 {
		t.Errorf("ExchangeRate = %d, want the default 4", card.ExchangeRate)
	}
}

func TestRateService_StoreOverridesDefaults(t *testing.T) {
	store := &mockConfigStore{}
	svc := NewRateService(store, nil, defaultTestRateCard())
	ctx := context.Background()

	custom := defaultTestRateCard()
	custom.ExchangeRate = 5
	if err := svc.Update(ctx, custom); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	rate, err := svc.ExchangeRate(ctx)
	if err != nil {
		t.Fatalf("ExchangeRate() error = %v", err)
	}
	if rate != 5 {
		t.Errorf("ExchangeRate() = %d, want the stored 5", rate)
	}
}

func TestRateService_CachePopulatedOnMiss(t *testing.T) {
	cache := &mockRateCache{}
	svc := NewRateService(&mockConfigStore{}, cache, defaultTestRateCard())
	ctx := context.Background()

	if _, err := svc.Current(ctx); err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if cache.sets != 1 {
		t.Errorf("cache sets after miss = %d, want 1", cache.sets)
	}

	// Second read is served from the cache
	if _, err := svc.Current(ctx); err != nil {
		t.Fatalf("second Current() error = %v", err)
	}
	if cache.sets != 1 {
		t.Errorf("cache sets after hit = %d, want still 1", cache.sets)
	}
}

func TestRateService_UpdateInvalidatesCache(t *testing.T) {
	cache := &mockRateCache{}
	store := &mockConfigStore{}
	svc := NewRateService(store, cache, defaultTestRateCard())
	ctx := context.Background()

	if _, err := svc.Current(ctx); err != nil {
		t.Fatalf("Current() error = %v", err)
	}

	custom := defaultTestRateCard()
	custom.ExchangeRate = 6
	if err := svc.Update(ctx, custom); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	rate, err := svc.ExchangeRate(ctx)
	if err != nil {
		t.Fatalf("ExchangeRate() error = %v", err)
	}
	if rate != 6 {
		t.Errorf("ExchangeRate() after update = %d, want 6 (stale cache served)", rate)
	}
}

func TestRateService_RatesFor(t *testing.T) {
	svc := newTestRateService()
	ctx := context.Background()

	photo, video, err := svc.RatesFor(ctx, types.ModeAdobe)
	if err != nil {
		t.Fatalf("RatesFor() error = %v", err)
	}
	if photo != 2 || video != 2 {
		t.Errorf("adobe rates = (%d, %d), want (2, 2)", photo, video)
	}

	_, _, err = svc.RatesFor(ctx, "myspace")
	if code := errCode(t, err); code != "INVALID_PARAMETER" {
		t.Errorf("error code = %s, want INVALID_PARAMETER", code)
	}
}

func TestRateService_UpdateValidation(t *testing.T) {
	svc := newTestRateService()
	ctx := context.Background()

	bad := defaultTestRateCard()
	bad.ExchangeRate = 0
	if err := svc.Update(ctx, bad); errCode(t, err) != "INVALID_PARAMETER" {
		t.Error("zero exchange rate should be rejected")
	}

	bad = defaultTestRateCard()
	bad.Rates["adobe"] = models.ModeRates{Photo: 0, Video: 2}
	if err := svc.Update(ctx, bad); errCode(t, err) != "INVALID_PARAMETER" {
		t.Error("zero photo rate should be rejected")
	}
}
