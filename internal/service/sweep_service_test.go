package service

import (
	"context"
	"testing"
	"time"

	"github.com/stockmeta/internal/types"
)

// newExpiredLedger builds a ledger whose reservations are already past their
// expiry, so the sweeper sees them immediately.
func newExpiredLedger(f *ledgerFixture) *LedgerService {
	return NewLedgerService(f.users, f.jobs, f.txs, newTestRateService(), f.audit, -time.Hour)
}

func TestSweepOnce_RefundsExpiredReservations(t *testing.T) {
	f := newLedgerFixture()
	ledger := newExpiredLedger(f)
	user := f.addUser(100)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := ledger.Reserve(ctx, &ReserveRequest{
			UserID:     user.ID,
			Mode:       types.ModeIStock,
			PhotoCount: 2, // 6 credits each
		}); err != nil {
			t.Fatalf("Reserve() error = %v", err)
		}
	}

	if balance, _ := f.users.GetBalance(ctx, user.ID); balance != 82 {
		t.Fatalf("balance after reservations = %d, want 82", balance)
	}

	expired, err := f.sweep.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("SweepOnce() error = %v", err)
	}
	if expired != 3 {
		t.Errorf("SweepOnce() = %d, want 3", expired)
	}

	if balance, _ := f.users.GetBalance(ctx, user.ID); balance != 100 {
		t.Errorf("balance after sweep = %d, want the original 100", balance)
	}

	jobs, _ := f.jobs.ListByStatus(ctx, types.JobExpired, 10, 0)
	if len(jobs) != 3 {
		t.Errorf("expired jobs = %d, want 3", len(jobs))
	}
	for _, job := range jobs {
		if job.RefundAmount != job.ReservedCredits {
			t.Errorf("job %s refund = %d, want the full reservation %d",
				job.JobToken, job.RefundAmount, job.ReservedCredits)
		}
	}

	refunds := f.txs.byType(types.TxRefund)
	if len(refunds) != 3 {
		t.Errorf("REFUND entries = %d, want 3", len(refunds))
	}
}

func TestSweepOnce_LeavesUnexpiredJobsAlone(t *testing.T) {
	f := newLedgerFixture()
	user := f.addUser(100)
	ctx := context.Background()

	// Default fixture expiry is 2h in the future
	if _, err := f.ledger.Reserve(ctx, &ReserveRequest{
		UserID:     user.ID,
		Mode:       types.ModeAdobe,
		PhotoCount: 5,
	}); err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}

	expired, err := f.sweep.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("SweepOnce() error = %v", err)
	}
	if expired != 0 {
		t.Errorf("SweepOnce() = %d, want 0", expired)
	}

	if balance, _ := f.users.GetBalance(ctx, user.ID); balance != 90 {
		t.Errorf("balance = %d, the live reservation should stand", balance)
	}
}

func TestSweepOnce_IsIdempotent(t *testing.T) {
	f := newLedgerFixture()
	ledger := newExpiredLedger(f)
	user := f.addUser(50)
	ctx := context.Background()

	if _, err := ledger.Reserve(ctx, &ReserveRequest{
		UserID:     user.ID,
		Mode:       types.ModeShutterstock,
		PhotoCount: 5, // 10 credits
	}); err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}

	if expired, _ := f.sweep.SweepOnce(ctx); expired != 1 {
		t.Fatalf("first sweep expired %d, want 1", expired)
	}
	if expired, _ := f.sweep.SweepOnce(ctx); expired != 0 {
		t.Errorf("second sweep expired %d, want 0", expired)
	}

	if balance, _ := f.users.GetBalance(ctx, user.ID); balance != 50 {
		t.Errorf("balance = %d, a reservation must be refunded exactly once", balance)
	}
}

func TestForceExpire(t *testing.T) {
	f := newLedgerFixture()
	user := f.addUser(60)
	ctx := context.Background()

	reserved, err := f.ledger.Reserve(ctx, &ReserveRequest{
		UserID:     user.ID,
		Mode:       types.ModeIStock,
		PhotoCount: 4, // 12 credits, expires in 2h
	})
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}

	job, err := f.sweep.ForceExpire(ctx, reserved.Job.ID)
	if err != nil {
		t.Fatalf("ForceExpire() error = %v", err)
	}
	if job.Status != types.JobExpired {
		t.Errorf("Status = %s, want EXPIRED", job.Status)
	}

	if balance, _ := f.users.GetBalance(ctx, user.ID); balance != 60 {
		t.Errorf("balance = %d, want 60", balance)
	}

	// Expiring again is a conflict, not a second refund
	_, err = f.sweep.ForceExpire(ctx, reserved.Job.ID)
	if code := errCode(t, err); code != "INVALID_JOB_STATE" {
		t.Errorf("error code = %s, want INVALID_JOB_STATE", code)
	}
	if balance, _ := f.users.GetBalance(ctx, user.ID); balance != 60 {
		t.Errorf("balance after duplicate expire = %d, want 60", balance)
	}
}

func TestForceExpire_UnknownJob(t *testing.T) {
	f := newLedgerFixture()

	_, err := f.sweep.ForceExpire(context.Background(), "no-such-job")
	if code := errCode(t, err); code != "NOT_FOUND" {
		t.Errorf("error code = %s, want NOT_FOUND", code)
	}
}

func TestSweeper_StartStop(t *testing.T) {
	f := newLedgerFixture()
	ledger := newExpiredLedger(f)
	user := f.addUser(30)
	ctx := context.Background()

	if _, err := ledger.Reserve(ctx, &ReserveRequest{
		UserID:     user.ID,
		Mode:       types.ModeIStock,
		PhotoCount: 10, // 30 credits
	}); err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}

	sweeper := NewSweepService(f.jobs, f.users, f.txs, f.audit, 10*time.Millisecond, 100)
	if err := sweeper.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := sweeper.Start(ctx); err == nil {
		t.Error("second Start() should fail while running")
	}

	deadline := time.After(2 * time.Second)
	for {
		balance, _ := f.users.GetBalance(ctx, user.ID)
		if balance == 30 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("sweeper never refunded, balance = %d", balance)
		case <-time.After(10 * time.Millisecond):
		}
	}

	if err := sweeper.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := sweeper.Stop(); err == nil {
		t.Error("second Stop() should fail when not running")
	}
}
