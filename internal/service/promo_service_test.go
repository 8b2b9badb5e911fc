package service

import (
	"context"
	"testing"
	"time"

	"github.com/stockmeta/internal/models"
	"github.com/stockmeta/internal/types"
)

type promoFixture struct {
	promos *mockPromoStore
	slips  *mockSlipStore
	svc    *PromoService
}

func newPromoFixture() *promoFixture {
	promos := newMockPromoStore()
	slips := newMockSlipStore()
	return &promoFixture{
		promos: promos,
		slips:  slips,
		svc:    NewPromoService(promos, slips, &mockAuditStore{}),
	}
}

func newUser() *models.User {
	// Registered well outside any new-user window
	return &models.User{ID: "user-1", CreatedAt: time.Now().Add(-30 * 24 * time.Hour)}
}

func freshUser() *models.User {
	return &models.User{ID: "user-2", CreatedAt: time.Now().Add(-time.Hour)}
}

func TestFindApplicable_FlatBonus(t *testing.T) {
	f := newPromoFixture()
	f.promos.Create(context.Background(), &models.Promotion{
		Name:   "Flat 50",
		Reward: models.Reward{Type: types.RewardFlat, BonusCredits: 50},
	})

	applied, err := f.svc.FindApplicable(context.Background(), newUser(), 100, 4)
	if err != nil {
		t.Fatalf("FindApplicable() error = %v", err)
	}
	if applied == nil {
		t.Fatal("expected a promotion to apply")
	}
	if applied.BonusCredits != 50 {
		t.Errorf("BonusCredits = %d, want 50", applied.BonusCredits)
	}
	if applied.EffectiveRate != 4 {
		t.Errorf("EffectiveRate = %d, want the unchanged 4", applied.EffectiveRate)
	}
}

func TestFindApplicable_PercentageBonus(t *testing.T) {
	f := newPromoFixture()
	f.promos.Create(context.Background(), &models.Promotion{
		Name:   "20% extra",
		Reward: models.Reward{Type: types.RewardPercentage, BonusPercentage: 20},
	})

	// base = 100 baht * 4 = 400, bonus = 80
	applied, err := f.svc.FindApplicable(context.Background(), newUser(), 100, 4)
	if err != nil {
		t.Fatalf("FindApplicable() error = %v", err)
	}
	if applied == nil || applied.BonusCredits != 80 {
		t.Fatalf("applied = %+v, want bonus 80", applied)
	}
}

func TestFindApplicable_TieredBonus(t *testing.T) {
	f := newPromoFixture()
	max := int64(499)
	f.promos.Create(context.Background(), &models.Promotion{
		Name: "Tiered",
		Reward: models.Reward{
			Type: types.RewardTiered,
			Tiers: []models.RewardTier{
				{MinBaht: 500, Credits: 300},
				{MinBaht: 100, MaxBaht: &max, Credits: 40},
			},
		},
	})

	tests := []struct {
		baht int64
		want int64
	}{
		{50, 0},   // below every tier
		{100, 40}, // second tier
		{499, 40},
		{500, 300}, // first tier
		{2000, 300},
	}

	for _, tt := range tests {
		applied, err := f.svc.FindApplicable(context.Background(), newUser(), tt.baht, 4)
		if err != nil {
			t.Fatalf("FindApplicable(%d) error = %v", tt.baht, err)
		}
		var got int64
		if applied != nil {
			got = applied.BonusCredits
		}
		if got != tt.want {
			t.Errorf("bonus for %d baht = %d, want %d", tt.baht, got, tt.want)
		}
	}
}

func TestFindApplicable_RateOverride(t *testing.T) {
	f := newPromoFixture()
	f.promos.Create(context.Background(), &models.Promotion{
		Name:   "6 per baht weekend",
		Reward: models.Reward{Type: types.RewardRateOverride, OverrideRate: 6},
	})

	applied, err := f.svc.FindApplicable(context.Background(), newUser(), 100, 4)
	if err != nil {
		t.Fatalf("FindApplicable() error = %v", err)
	}
	if applied == nil {
		t.Fatal("expected the override to apply")
	}
	if applied.EffectiveRate != 6 {
		t.Errorf("EffectiveRate = %d, want 6", applied.EffectiveRate)
	}
	// 100 baht * (6 - 4)
	if applied.BonusCredits != 200 {
		t.Errorf("BonusCredits = %d, want 200", applied.BonusCredits)
	}
}

func TestFindApplicable_OverrideBelowCurrentRateIsIgnored(t *testing.T) {
	f := newPromoFixture()
	f.promos.Create(context.Background(), &models.Promotion{
		Name:   "Stale override",
		Reward: models.Reward{Type: types.RewardRateOverride, OverrideRate: 3},
	})

	applied, err := f.svc.FindApplicable(context.Background(), newUser(), 100, 4)
	if err != nil {
		t.Fatalf("FindApplicable() error = %v", err)
	}
	if applied != nil {
		t.Errorf("an override below the current rate should not apply, got %+v", applied)
	}
}

func TestFindApplicable_Conditions(t *testing.T) {
	past := time.Now().Add(-24 * time.Hour)
	future := time.Now().Add(24 * time.Hour)

	tests := []struct {
		name    string
		cond    models.PromoConditions
		user    *models.User
		baht    int64
		applies bool
	}{
		{"below minimum top-up", models.PromoConditions{MinTopupBaht: 200}, newUser(), 100, false},
		{"at minimum top-up", models.PromoConditions{MinTopupBaht: 200}, newUser(), 200, true},
		{"above maximum top-up", models.PromoConditions{MaxTopupBaht: 500}, newUser(), 600, false},
		{"not started yet", models.PromoConditions{StartDate: &future}, newUser(), 100, false},
		{"already ended", models.PromoConditions{EndDate: &past}, newUser(), 100, false},
		{"inside the window", models.PromoConditions{StartDate: &past, EndDate: &future}, newUser(), 100, true},
		{"new users only, old account", models.PromoConditions{NewUsersOnly: true}, newUser(), 100, false},
		{"new users only, fresh account", models.PromoConditions{NewUsersOnly: true}, freshUser(), 100, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPromoFixture()
			f.promos.Create(context.Background(), &models.Promotion{
				Name:       "Conditional",
				Reward:     models.Reward{Type: types.RewardFlat, BonusCredits: 10},
				Conditions: tt.cond,
			})

			applied, err := f.svc.FindApplicable(context.Background(), tt.user, tt.baht, 4)
			if err != nil {
				t.Fatalf("FindApplicable() error = %v", err)
			}
			if (applied != nil) != tt.applies {
				t.Errorf("applies = %v, want %v", applied != nil, tt.applies)
			}
		})
	}
}

func TestFindApplicable_FirstTopupOnly(t *testing.T) {
	f := newPromoFixture()
	ctx := context.Background()
	user := newUser()

	f.promos.Create(ctx, &models.Promotion{
		Name:       "First top-up",
		Reward:     models.Reward{Type: types.RewardFlat, BonusCredits: 25},
		Conditions: models.PromoConditions{FirstTopupOnly: true},
	})

	applied, err := f.svc.FindApplicable(ctx, user, 100, 4)
	if err != nil {
		t.Fatalf("FindApplicable() error = %v", err)
	}
	if applied == nil {
		t.Fatal("first top-up should qualify")
	}

	// A verified slip disqualifies later top-ups
	slip := &models.Slip{UserID: user.ID, AmountBaht: 100}
	f.slips.Create(ctx, slip)
	if _, err := f.slips.VerifyIfPending(ctx, slip.ID, "admin", 400, nil); err != nil {
		t.Fatalf("VerifyIfPending() error = %v", err)
	}

	applied, err = f.svc.FindApplicable(ctx, user, 100, 4)
	if err != nil {
		t.Fatalf("FindApplicable() error = %v", err)
	}
	if applied != nil {
		t.Error("second top-up should not qualify for a first-top-up promotion")
	}
}

func TestFindApplicable_RedemptionCaps(t *testing.T) {
	f := newPromoFixture()
	ctx := context.Background()
	user := newUser()

	promo := &models.Promotion{
		Name:       "Capped",
		Reward:     models.Reward{Type: types.RewardFlat, BonusCredits: 10},
		Conditions: models.PromoConditions{MaxRedemptions: 1},
	}
	f.promos.Create(ctx, promo)

	if applied, _ := f.svc.FindApplicable(ctx, user, 100, 4); applied == nil {
		t.Fatal("promotion should apply before the cap is hit")
	}

	f.promos.InsertRedemption(ctx, &models.Redemption{
		PromoID: promo.ID, UserID: "someone-else", SlipID: "slip-x",
	})

	if applied, _ := f.svc.FindApplicable(ctx, user, 100, 4); applied != nil {
		t.Error("promotion at its global redemption cap should not apply")
	}
}

func TestFindApplicable_MaxPerUser(t *testing.T) {
	f := newPromoFixture()
	ctx := context.Background()
	user := newUser()

	promo := &models.Promotion{
		Name:       "Once each",
		Reward:     models.Reward{Type: types.RewardFlat, BonusCredits: 10},
		Conditions: models.PromoConditions{MaxPerUser: 1},
	}
	f.promos.Create(ctx, promo)

	f.promos.InsertRedemption(ctx, &models.Redemption{
		PromoID: promo.ID, UserID: user.ID, SlipID: "slip-1",
	})

	if applied, _ := f.svc.FindApplicable(ctx, user, 100, 4); applied != nil {
		t.Error("a user at their per-user cap should not qualify again")
	}

	// Other users still qualify
	if applied, _ := f.svc.FindApplicable(ctx, freshUser(), 100, 4); applied == nil {
		t.Error("another user should still qualify")
	}
}

func TestFindApplicable_PicksHighestPriority(t *testing.T) {
	f := newPromoFixture()
	ctx := context.Background()

	f.promos.Create(ctx, &models.Promotion{
		Name: "Big but low priority", Priority: 1,
		Reward: models.Reward{Type: types.RewardFlat, BonusCredits: 500},
	})
	f.promos.Create(ctx, &models.Promotion{
		Name: "Small but high priority", Priority: 10,
		Reward: models.Reward{Type: types.RewardFlat, BonusCredits: 20},
	})

	applied, err := f.svc.FindApplicable(ctx, newUser(), 100, 4)
	if err != nil {
		t.Fatalf("FindApplicable() error = %v", err)
	}
	if applied == nil || applied.Promo.Name != "Small but high priority" {
		t.Errorf("picked %+v, want the higher-priority promotion", applied)
	}
}

func TestFindApplicable_TieBreaksOnLargerBonus(t *testing.T) {
	f := newPromoFixture()
	ctx := context.Background()

	f.promos.Create(ctx, &models.Promotion{
		Name: "Smaller", Priority: 5,
		Reward: models.Reward{Type: types.RewardFlat, BonusCredits: 30},
	})
	f.promos.Create(ctx, &models.Promotion{
		Name: "Larger", Priority: 5,
		Reward: models.Reward{Type: types.RewardFlat, BonusCredits: 90},
	})

	applied, err := f.svc.FindApplicable(ctx, newUser(), 100, 4)
	if err != nil {
		t.Fatalf("FindApplicable() error = %v", err)
	}
	if applied == nil || applied.BonusCredits != 90 {
		t.Errorf("picked %+v, want the larger bonus at equal priority", applied)
	}
}

func TestFindApplicable_SkipsWelcomeBonuses(t *testing.T) {
	f := newPromoFixture()
	f.promos.Create(context.Background(), &models.Promotion{
		Name:       "Welcome",
		Reward:     models.Reward{Type: types.RewardFlat, BonusCredits: 100},
		Conditions: models.PromoConditions{WelcomeBonus: true},
	})

	applied, err := f.svc.FindApplicable(context.Background(), freshUser(), 100, 4)
	if err != nil {
		t.Fatalf("FindApplicable() error = %v", err)
	}
	if applied != nil {
		t.Error("welcome bonuses apply at registration, not top-up")
	}
}

func TestWelcomeBonus(t *testing.T) {
	f := newPromoFixture()
	ctx := context.Background()

	promo, bonus, err := f.svc.WelcomeBonus(ctx)
	if err != nil {
		t.Fatalf("WelcomeBonus() error = %v", err)
	}
	if promo != nil || bonus != 0 {
		t.Errorf("WelcomeBonus() with no promotions = (%v, %d), want (nil, 0)", promo, bonus)
	}

	f.promos.Create(ctx, &models.Promotion{
		Name:       "Welcome 100",
		Reward:     models.Reward{Type: types.RewardFlat, BonusCredits: 100},
		Conditions: models.PromoConditions{WelcomeBonus: true},
	})

	promo, bonus, err = f.svc.WelcomeBonus(ctx)
	if err != nil {
		t.Fatalf("WelcomeBonus() error = %v", err)
	}
	if promo == nil || bonus != 100 {
		t.Errorf("WelcomeBonus() = (%v, %d), want the 100-credit welcome promotion", promo, bonus)
	}
}

func TestRecordRedemption_DuplicateNotClaimed(t *testing.T) {
	f := newPromoFixture()
	ctx := context.Background()

	promo := &models.Promotion{
		Name:   "Flat",
		Reward: models.Reward{Type: types.RewardFlat, BonusCredits: 10},
	}
	f.promos.Create(ctx, promo)

	red := &models.Redemption{
		PromoID: promo.ID, UserID: "user-1", SlipID: "slip-1", BonusCredits: 10,
	}

	claimed, err := f.svc.RecordRedemption(ctx, red)
	if err != nil {
		t.Fatalf("RecordRedemption() error = %v", err)
	}
	if !claimed {
		t.Fatal("first redemption should be claimed")
	}

	claimed, err = f.svc.RecordRedemption(ctx, red)
	if err != nil {
		t.Fatalf("duplicate RecordRedemption() error = %v", err)
	}
	if claimed {
		t.Error("duplicate redemption of the same (promo, slip) should not claim")
	}

	got, _ := f.promos.GetByID(ctx, promo.ID)
	if got.TotalRedemptions != 1 || got.TotalBonus != 10 {
		t.Errorf("totals = (%d, %d), want (1, 10)", got.TotalRedemptions, got.TotalBonus)
	}
}

func TestCreate_RejectsUnknownRewardType(t *testing.T) {
	f := newPromoFixture()

	err := f.svc.Create(context.Background(), &models.Promotion{
		Name:   "Broken",
		Reward: models.Reward{Type: "LOTTERY"},
	})
	if code := errCode(t, err); code != "INVALID_PARAMETER" {
		t.Errorf("error code = %s, want INVALID_PARAMETER", code)
	}
}

func TestExpirePromotions(t *testing.T) {
	f := newPromoFixture()
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	f.promos.Create(ctx, &models.Promotion{
		Name:       "Over",
		Reward:     models.Reward{Type: types.RewardFlat, BonusCredits: 10},
		Conditions: models.PromoConditions{EndDate: &past},
	})
	f.promos.Create(ctx, &models.Promotion{
		Name:       "Still running",
		Reward:     models.Reward{Type: types.RewardFlat, BonusCredits: 10},
		Conditions: models.PromoConditions{EndDate: &future},
	})
	f.promos.Create(ctx, &models.Promotion{
		Name:   "Open ended",
		Reward: models.Reward{Type: types.RewardFlat, BonusCredits: 10},
	})

	expired, err := f.svc.ExpirePromotions(ctx)
	if err != nil {
		t.Fatalf("ExpirePromotions() error = %v", err)
	}
	if expired != 1 {
		t.Errorf("ExpirePromotions() = %d, want 1", expired)
	}

	active, _ := f.promos.ListActive(ctx)
	if len(active) != 2 {
		t.Errorf("active promotions after expiry = %d, want 2", len(active))
	}
}
