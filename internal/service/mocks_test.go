package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stockmeta/internal/models"
	"github.com/stockmeta/internal/storage"
	"github.com/stockmeta/internal/types"
)

// In-memory stores for testing. The conditional mutations take a mutex and
// check-then-write atomically, mirroring the single-statement guarantees of
// the real SQL.

type mockUserStore struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{users: make(map[string]*models.User)}
}

func (m *mockUserStore) add(user *models.User) *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.Status == "" {
		user.Status = types.StatusActive
	}
	m.users[user.ID] = user
	return user
}

func (m *mockUserStore) Create(ctx context.Context, user *models.User) error {
	m.add(user)
	return nil
}

func (m *mockUserStore) GetByID(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user, ok := m.users[id]; ok {
		copied := *user
		return &copied, nil
	}
	return nil, fmt.Errorf("user %s: %w", id, storage.ErrNotFound)
}

func (m *mockUserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Email == email {
			copied := *user
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", email, storage.ErrNotFound)
}

func (m *mockUserStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	_, err := m.GetByEmail(ctx, email)
	return err == nil, nil
}

func (m *mockUserStore) List(ctx context.Context, limit, offset int) ([]*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var users []*models.User
	for _, user := range m.users {
		copied := *user
		users = append(users, &copied)
	}
	return users, nil
}

func (m *mockUserStore) UpdateStatus(ctx context.Context, userID string, status types.UserStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return fmt.Errorf("user %s: %w", userID, storage.ErrNotFound)
	}
	user.Status = status
	return nil
}

func (m *mockUserStore) RecordLogin(ctx context.Context, userID, hardwareID, appVersion string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return fmt.Errorf("user %s: %w", userID, storage.ErrNotFound)
	}
	user.HardwareID = hardwareID
	user.AppVersion = appVersion
	user.LastLogin = time.Now()
	return nil
}

func (m *mockUserStore) ReserveCredits(ctx context.Context, userID string, cost int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok || user.Status != types.StatusActive || user.Credits < cost {
		return 0, storage.ErrConditionFailed
	}
	user.Credits -= cost
	return user.Credits, nil
}

func (m *mockUserStore) AddCredits(ctx context.Context, userID string, amount int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return 0, fmt.Errorf("user %s: %w", userID, storage.ErrNotFound)
	}
	user.Credits += amount
	return user.Credits, nil
}

func (m *mockUserStore) RecordTopup(ctx context.Context, userID string, amountBaht, credits int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return 0, fmt.Errorf("user %s: %w", userID, storage.ErrNotFound)
	}
	user.Credits += credits
	user.TotalTopupBaht += amountBaht
	return user.Credits, nil
}

func (m *mockUserStore) RecordUsage(ctx context.Context, userID string, usedCredits int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user, ok := m.users[userID]; ok {
		user.TotalCreditsUsed += usedCredits
	}
	return nil
}

func (m *mockUserStore) GetBalance(ctx context.Context, userID string) (int64, error) {
	user, err := m.GetByID(ctx, userID)
	if err != nil {
		return 0, err
	}
	return user.Credits, nil
}

func (m *mockUserStore) CountCreatedSince(ctx context.Context, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, user := range m.users {
		if !user.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

type mockJobStore struct {
	mu   sync.Mutex
	jobs map[string]*models.Job // keyed by job token
}

func newMockJobStore() *mockJobStore {
	return &mockJobStore{jobs: make(map[string]*models.Job)}
}

func (m *mockJobStore) Create(ctx context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.JobToken == "" {
		job.JobToken = uuid.New().String()
	}
	job.Status = types.JobReserved
	job.CreatedAt = time.Now()
	stored := *job
	m.jobs[job.JobToken] = &stored
	return nil
}

func (m *mockJobStore) GetByToken(ctx context.Context, jobToken string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[jobToken]; ok {
		copied := *job
		return &copied, nil
	}
	return nil, fmt.Errorf("job %s: %w", jobToken, storage.ErrNotFound)
}

func (m *mockJobStore) GetByID(ctx context.Context, id string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.ID == id {
			copied := *job
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("job %s: %w", id, storage.ErrNotFound)
}

func (m *mockJobStore) CompleteIfReserved(ctx context.Context, jobToken string, actualUsage, refund int64, success, failed, photos, videos int) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobToken]
	if !ok || job.Status != types.JobReserved {
		return nil, storage.ErrConditionFailed
	}
	now := time.Now()
	job.Status = types.JobCompleted
	job.ActualUsage = actualUsage
	job.RefundAmount = refund
	job.SuccessCount = success
	job.FailedCount = failed
	job.PhotoCount = photos
	job.VideoCount = videos
	job.CompletedAt = &now
	copied := *job
	return &copied, nil
}

func (m *mockJobStore) ExpireIfReserved(ctx context.Context, jobID string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.ID != jobID {
			continue
		}
		if job.Status != types.JobReserved {
			return nil, storage.ErrConditionFailed
		}
		now := time.Now()
		job.Status = types.JobExpired
		job.RefundAmount = job.ReservedCredits
		job.CompletedAt = &now
		copied := *job
		return &copied, nil
	}
	return nil, storage.ErrConditionFailed
}

func (m *mockJobStore) FailIfReserved(ctx context.Context, jobToken string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobToken]
	if !ok || job.Status != types.JobReserved {
		return nil, storage.ErrConditionFailed
	}
	now := time.Now()
	job.Status = types.JobFailed
	job.RefundAmount = job.ReservedCredits
	job.CompletedAt = &now
	copied := *job
	return &copied, nil
}

func (m *mockJobStore) ListExpiredReserved(ctx context.Context, now time.Time, limit int) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*models.Job
	for _, job := range m.jobs {
		if job.Status == types.JobReserved && !job.ExpiresAt.After(now) {
			copied := *job
			due = append(due, &copied)
		}
		if len(due) >= limit {
			break
		}
	}
	return due, nil
}

func (m *mockJobStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var jobs []*models.Job
	for _, job := range m.jobs {
		if job.UserID == userID {
			copied := *job
			jobs = append(jobs, &copied)
		}
	}
	return jobs, nil
}

func (m *mockJobStore) ListByStatus(ctx context.Context, status types.JobStatus, limit, offset int) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var jobs []*models.Job
	for _, job := range m.jobs {
		if job.Status == status {
			copied := *job
			jobs = append(jobs, &copied)
		}
	}
	return jobs, nil
}

type mockTransactionStore struct {
	mu  sync.Mutex
	txs []*models.Transaction
}

func newMockTransactionStore() *mockTransactionStore {
	return &mockTransactionStore{}
}

func (m *mockTransactionStore) Create(ctx context.Context, tx *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	tx.CreatedAt = time.Now()
	copied := *tx
	m.txs = append(m.txs, &copied)
	return nil
}

func (m *mockTransactionStore) ListByUser(ctx context.Context, userID string, txType types.TransactionType, limit, offset int) ([]*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Transaction
	for _, tx := range m.txs {
		if tx.UserID == userID && (txType == "" || tx.Type == txType) {
			copied := *tx
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *mockTransactionStore) CountByUser(ctx context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, tx := range m.txs {
		if tx.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (m *mockTransactionStore) SumByTypeSince(ctx context.Context, txType types.TransactionType, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, tx := range m.txs {
		if tx.Type == txType && !tx.CreatedAt.Before(since) {
			sum += tx.Amount
		}
	}
	return sum, nil
}

// byType returns all entries of one type for assertions
func (m *mockTransactionStore) byType(txType types.TransactionType) []*models.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Transaction
	for _, tx := range m.txs {
		if tx.Type == txType {
			out = append(out, tx)
		}
	}
	return out
}

type mockSlipStore struct {
	mu    sync.Mutex
	slips map[string]*models.Slip
}

func newMockSlipStore() *mockSlipStore {
	return &mockSlipStore{slips: make(map[string]*models.Slip)}
}

func (m *mockSlipStore) Create(ctx context.Context, slip *models.Slip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if slip.ID == "" {
		slip.ID = uuid.New().String()
	}
	slip.Status = types.SlipPending
	slip.CreatedAt = time.Now()
	stored := *slip
	m.slips[slip.ID] = &stored
	return nil
}

func (m *mockSlipStore) GetByID(ctx context.Context, id string) (*models.Slip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if slip, ok := m.slips[id]; ok {
		copied := *slip
		return &copied, nil
	}
	return nil, fmt.Errorf("slip %s: %w", id, storage.ErrNotFound)
}

func (m *mockSlipStore) VerifyIfPending(ctx context.Context, slipID, verifiedBy string, creditsGranted int64, promoID *string) (*models.Slip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slip, ok := m.slips[slipID]
	if !ok || slip.Status != types.SlipPending {
		return nil, storage.ErrConditionFailed
	}
	now := time.Now()
	slip.Status = types.SlipVerified
	slip.CreditsGranted = creditsGranted
	slip.PromoID = promoID
	slip.VerifiedBy = verifiedBy
	slip.VerifiedAt = &now
	copied := *slip
	return &copied, nil
}

func (m *mockSlipStore) RejectIfPending(ctx context.Context, slipID, verifiedBy string) (*models.Slip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slip, ok := m.slips[slipID]
	if !ok || slip.Status != types.SlipPending {
		return nil, storage.ErrConditionFailed
	}
	now := time.Now()
	slip.Status = types.SlipRejected
	slip.VerifiedBy = verifiedBy
	slip.VerifiedAt = &now
	copied := *slip
	return &copied, nil
}

func (m *mockSlipStore) ListByStatus(ctx context.Context, status types.SlipStatus, limit, offset int) ([]*models.Slip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Slip
	for _, slip := range m.slips {
		if slip.Status == status {
			copied := *slip
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *mockSlipStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Slip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Slip
	for _, slip := range m.slips {
		if slip.UserID == userID {
			copied := *slip
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *mockSlipStore) CountVerifiedByUser(ctx context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, slip := range m.slips {
		if slip.UserID == userID && slip.Status == types.SlipVerified {
			count++
		}
	}
	return count, nil
}

func (m *mockSlipStore) TopupStatsSince(ctx context.Context, since time.Time) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var baht, credits int64
	for _, slip := range m.slips {
		if slip.Status == types.SlipVerified && slip.VerifiedAt != nil && !slip.VerifiedAt.Before(since) {
			baht += slip.AmountBaht
			credits += slip.CreditsGranted
		}
	}
	return baht, credits, nil
}

type redemptionKey struct {
	promoID string
	slipID  string
}

type mockPromoStore struct {
	mu          sync.Mutex
	promos      map[string]*models.Promotion
	redemptions map[redemptionKey]*models.Redemption
}

func newMockPromoStore() *mockPromoStore {
	return &mockPromoStore{
		promos:      make(map[string]*models.Promotion),
		redemptions: make(map[redemptionKey]*models.Redemption),
	}
}

func (m *mockPromoStore) Create(ctx context.Context, promo *models.Promotion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if promo.ID == "" {
		promo.ID = uuid.New().String()
	}
	if promo.Status == "" {
		promo.Status = types.PromoActive
	}
	stored := *promo
	m.promos[promo.ID] = &stored
	return nil
}

func (m *mockPromoStore) GetByID(ctx context.Context, id string) (*models.Promotion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if promo, ok := m.promos[id]; ok {
		copied := *promo
		return &copied, nil
	}
	return nil, fmt.Errorf("promotion %s: %w", id, storage.ErrNotFound)
}

func (m *mockPromoStore) ListActive(ctx context.Context) ([]*models.Promotion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Promotion
	for _, promo := range m.promos {
		if promo.Status == types.PromoActive {
			copied := *promo
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *mockPromoStore) List(ctx context.Context, limit, offset int) ([]*models.Promotion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Promotion
	for _, promo := range m.promos {
		copied := *promo
		out = append(out, &copied)
	}
	return out, nil
}

func (m *mockPromoStore) UpdateStatus(ctx context.Context, promoID string, status types.PromoStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	promo, ok := m.promos[promoID]
	if !ok {
		return fmt.Errorf("promotion %s: %w", promoID, storage.ErrNotFound)
	}
	promo.Status = status
	return nil
}

func (m *mockPromoStore) ExpirePastEndDate(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired int64
	for _, promo := range m.promos {
		if promo.Status == types.PromoActive &&
			promo.Conditions.EndDate != nil && !promo.Conditions.EndDate.After(now) {
			promo.Status = types.PromoExpired
			expired++
		}
	}
	return expired, nil
}

func (m *mockPromoStore) InsertRedemption(ctx context.Context, red *models.Redemption) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := redemptionKey{promoID: red.PromoID, slipID: red.SlipID}
	if _, exists := m.redemptions[key]; exists {
		return false, nil
	}
	if red.ID == "" {
		red.ID = uuid.New().String()
	}
	copied := *red
	m.redemptions[key] = &copied
	return true, nil
}

func (m *mockPromoStore) RecordRedemptionTotals(ctx context.Context, promoID string, bonus int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if promo, ok := m.promos[promoID]; ok {
		promo.TotalRedemptions++
		promo.TotalBonus += bonus
	}
	return nil
}

func (m *mockPromoStore) CountRedemptions(ctx context.Context, promoID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for key := range m.redemptions {
		if key.promoID == promoID {
			count++
		}
	}
	return count, nil
}

func (m *mockPromoStore) CountRedemptionsByUser(ctx context.Context, promoID, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for key, red := range m.redemptions {
		if key.promoID == promoID && red.UserID == userID {
			count++
		}
	}
	return count, nil
}

type mockConfigStore struct {
	mu   sync.Mutex
	card *models.RateCard
}

func (m *mockConfigStore) GetRateCard(ctx context.Context) (*models.RateCard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.card == nil {
		return nil, fmt.Errorf("rate card: %w", storage.ErrNotFound)
	}
	copied := *m.card
	return &copied, nil
}

func (m *mockConfigStore) SaveRateCard(ctx context.Context, card *models.RateCard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *card
	m.card = &copied
	return nil
}

type mockAuditStore struct {
	mu     sync.Mutex
	events []*models.AuditEvent
}

func (m *mockAuditStore) Insert(ctx context.Context, event *models.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockAuditStore) byType(eventType string) []*models.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AuditEvent
	for _, event := range m.events {
		if event.EventType == eventType {
			out = append(out, event)
		}
	}
	return out
}

// defaultTestRateCard mirrors the shipped billing defaults
func defaultTestRateCard() *models.RateCard {
	return &models.RateCard{
		ExchangeRate: 4,
		Rates: map[string]models.ModeRates{
			"istock":       {Photo: 3, Video: 3},
			"adobe":        {Photo: 2, Video: 2},
			"shutterstock": {Photo: 2, Video: 2},
		},
	}
}

func newTestRateService() *RateService {
	return NewRateService(&mockConfigStore{}, nil, defaultTestRateCard())
}
