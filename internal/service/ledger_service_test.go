package service

import (
	"context"
	"sync"
	"testing"
	"time"

	apperrors "github.com/stockmeta/internal/errors"
	"github.com/stockmeta/internal/models"
	"github.com/stockmeta/internal/types"
)

type ledgerFixture struct {
	users  *mockUserStore
	jobs   *mockJobStore
	txs    *mockTransactionStore
	audit  *mockAuditStore
	ledger *LedgerService
	sweep  *SweepService
}

func newLedgerFixture() *ledgerFixture {
	users := newMockUserStore()
	jobs := newMockJobStore()
	txs := newMockTransactionStore()
	audit := &mockAuditStore{}

	return &ledgerFixture{
		users:  users,
		jobs:   jobs,
		txs:    txs,
		audit:  audit,
		ledger: NewLedgerService(users, jobs, txs, newTestRateService(), audit, 2*time.Hour),
		sweep:  NewSweepService(jobs, users, txs, audit, time.Minute, 100),
	}
}

func (f *ledgerFixture) addUser(credits int64) *models.User {
	return f.users.add(&models.User{Email: "user@example.com", Credits: credits})
}

func errCode(t *testing.T, err error) string {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error")
	}
	catErr, ok := err.(*apperrors.CategorizedError)
	if !ok {
		t.Fatalf("expected CategorizedError, got %T: %v", err, err)
	}
	return catErr.Code
}

func TestReserve_DebitsWorstCaseAndFreezesRates(t *testing.T) {
	f := newLedgerFixture()
	user := f.addUser(100)
	ctx := context.Background()

	result, err := f.ledger.Reserve(ctx, &ReserveRequest{
		UserID:     user.ID,
		Mode:       types.ModeIStock,
		PhotoCount: 10,
		VideoCount: 2,
	})
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}

	// istock: 10 photos * 3 + 2 videos * 3 = 36
	if result.Job.ReservedCredits != 36 {
		t.Errorf("ReservedCredits = %d, want 36", result.Job.ReservedCredits)
	}
	if result.Balance != 64 {
		t.Errorf("Balance = %d, want 64", result.Balance)
	}
	if result.Job.PhotoRate != 3 || result.Job.VideoRate != 3 {
		t.Errorf("frozen rates = (%d, %d), want (3, 3)", result.Job.PhotoRate, result.Job.VideoRate)
	}
	if result.Job.Status != types.JobReserved {
		t.Errorf("Status = %s, want RESERVED", result.Job.Status)
	}
	if result.Job.JobToken == "" {
		t.Error("JobToken should be set")
	}

	// Reservation itself writes no ledger entry
	if count, _ := f.txs.CountByUser(ctx, user.ID); count != 0 {
		t.Errorf("ledger entries after reserve = %d, want 0", count)
	}
}

func TestReserve_InsufficientCredits(t *testing.T) {
	f := newLedgerFixture()
	user := f.addUser(10)

	_, err := f.ledger.Reserve(context.Background(), &ReserveRequest{
		UserID:     user.ID,
		Mode:       types.ModeIStock,
		PhotoCount: 10, // needs 30
	})

	if code := errCode(t, err); code != "INSUFFICIENT_CREDITS" {
		t.Fatalf("error code = %s, want INSUFFICIENT_CREDITS", code)
	}

	catErr := err.(*apperrors.CategorizedError)
	if catErr.Details["shortfall"] != int64(20) {
		t.Errorf("shortfall = %v, want 20", catErr.Details["shortfall"])
	}

	// Balance untouched
	if balance, _ := f.users.GetBalance(context.Background(), user.ID); balance != 10 {
		t.Errorf("balance after refused reserve = %d, want 10", balance)
	}
}

func TestReserve_DisabledAccount(t *testing.T) {
	f := newLedgerFixture()
	user := f.users.add(&models.User{Credits: 100, Status: types.StatusSuspended})

	_, err := f.ledger.Reserve(context.Background(), &ReserveRequest{
		UserID:     user.ID,
		Mode:       types.ModeAdobe,
		PhotoCount: 1,
	})

	if code := errCode(t, err); code != "ACCOUNT_DISABLED" {
		t.Errorf("error code = %s, want ACCOUNT_DISABLED", code)
	}
}

func TestReserve_UnknownUser(t *testing.T) {
	f := newLedgerFixture()

	_, err := f.ledger.Reserve(context.Background(), &ReserveRequest{
		UserID:     "no-such-user",
		Mode:       types.ModeAdobe,
		PhotoCount: 1,
	})

	if code := errCode(t, err); code != "NOT_FOUND" {
		t.Errorf("error code = %s, want NOT_FOUND", code)
	}
}

func TestReserve_EmptyBatch(t *testing.T) {
	f := newLedgerFixture()
	user := f.addUser(100)

	_, err := f.ledger.Reserve(context.Background(), &ReserveRequest{
		UserID: user.ID,
		Mode:   types.ModeIStock,
	})

	if code := errCode(t, err); code != "INVALID_PARAMETER" {
		t.Errorf("error code = %s, want INVALID_PARAMETER", code)
	}
}

func TestReserve_ConcurrentNeverOverdraws(t *testing.T) {
	f := newLedgerFixture()
	// 10 credits: room for exactly 3 adobe photos at 2 credits plus 4 left
	user := f.addUser(10)
	ctx := context.Background()

	const attempts = 20
	var wg sync.WaitGroup
	granted := make(chan int64, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.ledger.Reserve(ctx, &ReserveRequest{
				UserID:     user.ID,
				Mode:       types.ModeAdobe,
				PhotoCount: 1, // 2 credits each
			})
			if err == nil {
				granted <- result.Job.ReservedCredits
			}
		}()
	}
	wg.Wait()
	close(granted)

	var reserved int64
	for cost := range granted {
		reserved += cost
	}

	balance, _ := f.users.GetBalance(ctx, user.ID)
	if balance < 0 {
		t.Fatalf("balance went negative: %d", balance)
	}
	if reserved+balance != 10 {
		t.Errorf("reserved (%d) + balance (%d) != initial 10", reserved, balance)
	}
}

func TestFinalize_ChargesSuccessesRefundsRest(t *testing.T) {
	f := newLedgerFixture()
	user := f.addUser(100)
	ctx := context.Background()

	reserved, err := f.ledger.Reserve(ctx, &ReserveRequest{
		UserID:     user.ID,
		Mode:       types.ModeIStock,
		PhotoCount: 8,
		VideoCount: 2, // reserve 30
	})
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}

	result, err := f.ledger.Finalize(ctx, &FinalizeRequest{
		JobToken:     reserved.Job.JobToken,
		SuccessCount: 7,
		FailedCount:  3,
		PhotoCount:   6,
		VideoCount:   1,
	})
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	// usage = 6*3 + 1*3 = 21, refund = 30 - 21 = 9
	if result.ActualUsage != 21 {
		t.Errorf("ActualUsage = %d, want 21", result.ActualUsage)
	}
	if result.Refund != 9 {
		t.Errorf("Refund = %d, want 9", result.Refund)
	}
	if result.Balance != 79 {
		t.Errorf("Balance = %d, want 79 (100 - 21 used)", result.Balance)
	}
	if result.Job.Status != types.JobCompleted {
		t.Errorf("Status = %s, want COMPLETED", result.Job.Status)
	}

	usage := f.txs.byType(types.TxUsage)
	if len(usage) != 1 || usage[0].Amount != -21 {
		t.Errorf("USAGE entries = %+v, want one entry of -21", usage)
	}
	refunds := f.txs.byType(types.TxRefund)
	if len(refunds) != 1 || refunds[0].Amount != 9 {
		t.Errorf("REFUND entries = %+v, want one entry of 9", refunds)
	}
	if usage[0].BalanceAfter != 79 || refunds[0].BalanceAfter != 79 {
		t.Error("ledger balance snapshots should equal final balance")
	}
}

func TestFinalize_AllFailedRefundsEverything(t *testing.T) {
	f := newLedgerFixture()
	user := f.addUser(50)
	ctx := context.Background()

	reserved, _ := f.ledger.Reserve(ctx, &ReserveRequest{
		UserID:     user.ID,
		Mode:       types.ModeShutterstock,
		PhotoCount: 5, // reserve 10
	})

	result, err := f.ledger.Finalize(ctx, &FinalizeRequest{
		JobToken:    reserved.Job.JobToken,
		FailedCount: 5,
	})
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	if result.ActualUsage != 0 {
		t.Errorf("ActualUsage = %d, want 0", result.ActualUsage)
	}
	if result.Refund != 10 {
		t.Errorf("Refund = %d, want 10", result.Refund)
	}
	if result.Balance != 50 {
		t.Errorf("Balance = %d, want the original 50", result.Balance)
	}

	if usage := f.txs.byType(types.TxUsage); len(usage) != 0 {
		t.Errorf("no USAGE entry expected for a fully failed job, got %d", len(usage))
	}
}

func TestFinalize_DuplicateIsIdempotent(t *testing.T) {
	f := newLedgerFixture()
	user := f.addUser(100)
	ctx := context.Background()

	reserved, _ := f.ledger.Reserve(ctx, &ReserveRequest{
		UserID:     user.ID,
		Mode:       types.ModeIStock,
		PhotoCount: 4, // reserve 12
	})

	req := &FinalizeRequest{
		JobToken:     reserved.Job.JobToken,
		SuccessCount: 4,
		PhotoCount:   4,
	}

	first, err := f.ledger.Finalize(ctx, req)
	if err != nil {
		t.Fatalf("first Finalize() error = %v", err)
	}

	second, err := f.ledger.Finalize(ctx, req)
	if err != nil {
		t.Fatalf("duplicate Finalize() error = %v", err)
	}

	if !second.AlreadySettled {
		t.Error("duplicate finalize should report AlreadySettled")
	}
	if second.Balance != first.Balance {
		t.Errorf("duplicate finalize moved the balance: %d -> %d", first.Balance, second.Balance)
	}
	if len(f.txs.byType(types.TxUsage)) != 1 {
		t.Error("duplicate finalize wrote a second USAGE entry")
	}
}

func TestFinalize_CountValidation(t *testing.T) {
	f := newLedgerFixture()
	user := f.addUser(100)
	ctx := context.Background()

	reserved, _ := f.ledger.Reserve(ctx, &ReserveRequest{
		UserID:     user.ID,
		Mode:       types.ModeIStock,
		PhotoCount: 5,
	})

	tests := []struct {
		name string
		req  *FinalizeRequest
	}{
		{
			name: "photo/video split does not match successes",
			req: &FinalizeRequest{
				JobToken: reserved.Job.JobToken, SuccessCount: 3, PhotoCount: 2,
			},
		},
		{
			name: "more outcomes than files",
			req: &FinalizeRequest{
				JobToken: reserved.Job.JobToken, SuccessCount: 4, FailedCount: 3, PhotoCount: 4,
			},
		},
		{
			name: "negative counts",
			req: &FinalizeRequest{
				JobToken: reserved.Job.JobToken, SuccessCount: -1,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ledger.Finalize(ctx, tt.req)
			if code := errCode(t, err); code != "INVALID_PARAMETER" {
				t.Errorf("error code = %s, want INVALID_PARAMETER", code)
			}
		})
	}
}

func TestFinalize_AfterExpiryIsConflict(t *testing.T) {
	f := newLedgerFixture()
	user := f.addUser(100)
	ctx := context.Background()

	reserved, _ := f.ledger.Reserve(ctx, &ReserveRequest{
		UserID:     user.ID,
		Mode:       types.ModeIStock,
		PhotoCount: 5, // reserve 15
	})

	if _, err := f.sweep.ForceExpire(ctx, reserved.Job.ID); err != nil {
		t.Fatalf("ForceExpire() error = %v", err)
	}

	_, err := f.ledger.Finalize(ctx, &FinalizeRequest{
		JobToken:     reserved.Job.JobToken,
		SuccessCount: 5,
		PhotoCount:   5,
	})

	if code := errCode(t, err); code != "INVALID_JOB_STATE" {
		t.Errorf("error code = %s, want INVALID_JOB_STATE", code)
	}

	// Expiry refunded the full reservation exactly once
	if balance, _ := f.users.GetBalance(ctx, user.ID); balance != 100 {
		t.Errorf("balance = %d, want 100", balance)
	}
}

func TestFinalize_RacesSweeperSettlesExactlyOnce(t *testing.T) {
	f := newLedgerFixture()
	ctx := context.Background()

	const rounds = 50
	for i := 0; i < rounds; i++ {
		user := f.users.add(&models.User{Credits: 30})
		reserved, err := f.ledger.Reserve(ctx, &ReserveRequest{
			UserID:     user.ID,
			Mode:       types.ModeIStock,
			PhotoCount: 10, // reserve 30, balance 0
		})
		if err != nil {
			t.Fatalf("Reserve() error = %v", err)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = f.ledger.Finalize(ctx, &FinalizeRequest{
				JobToken:     reserved.Job.JobToken,
				SuccessCount: 10,
				PhotoCount:   10,
			})
		}()
		go func() {
			defer wg.Done()
			_, _ = f.sweep.ForceExpire(ctx, reserved.Job.ID)
		}()
		wg.Wait()

		job, _ := f.jobs.GetByToken(ctx, reserved.Job.JobToken)
		balance, _ := f.users.GetBalance(ctx, user.ID)

		switch job.Status {
		case types.JobCompleted:
			// All 10 charged: nothing comes back
			if balance != 0 {
				t.Fatalf("round %d: completed job balance = %d, want 0", i, balance)
			}
		case types.JobExpired:
			// Full reservation refunded exactly once
			if balance != 30 {
				t.Fatalf("round %d: expired job balance = %d, want 30", i, balance)
			}
		default:
			t.Fatalf("round %d: job ended in non-terminal state %s", i, job.Status)
		}
	}
}

func TestFail_RefundsFullReservation(t *testing.T) {
	f := newLedgerFixture()
	user := f.addUser(40)
	ctx := context.Background()

	reserved, _ := f.ledger.Reserve(ctx, &ReserveRequest{
		UserID:     user.ID,
		Mode:       types.ModeAdobe,
		PhotoCount: 10, // reserve 20
	})

	job, err := f.ledger.Fail(ctx, reserved.Job.JobToken)
	if err != nil {
		t.Fatalf("Fail() error = %v", err)
	}

	if job.Status != types.JobFailed {
		t.Errorf("Status = %s, want FAILED", job.Status)
	}
	if balance, _ := f.users.GetBalance(ctx, user.ID); balance != 40 {
		t.Errorf("balance = %d, want 40", balance)
	}

	// Failing again is a no-op
	again, err := f.ledger.Fail(ctx, reserved.Job.JobToken)
	if err != nil {
		t.Fatalf("second Fail() error = %v", err)
	}
	if again.Status != types.JobFailed {
		t.Errorf("second Fail() status = %s, want FAILED", again.Status)
	}
	if balance, _ := f.users.GetBalance(ctx, user.ID); balance != 40 {
		t.Errorf("balance after duplicate fail = %d, want 40", balance)
	}
}

func TestFail_CompletedJobIsConflict(t *testing.T) {
	f := newLedgerFixture()
	user := f.addUser(40)
	ctx := context.Background()

	reserved, _ := f.ledger.Reserve(ctx, &ReserveRequest{
		UserID:     user.ID,
		Mode:       types.ModeAdobe,
		PhotoCount: 2,
	})
	if _, err := f.ledger.Finalize(ctx, &FinalizeRequest{
		JobToken: reserved.Job.JobToken, SuccessCount: 2, PhotoCount: 2,
	}); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	_, err := f.ledger.Fail(ctx, reserved.Job.JobToken)
	if code := errCode(t, err); code != "INVALID_JOB_STATE" {
		t.Errorf("error code = %s, want INVALID_JOB_STATE", code)
	}
}
