package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"vowsuite/internal/model"
	"vowsuite/internal/repository"
)

func newCreditFixture() (*CreditService, *fakeCreditStore, *fakeBalanceCache, *fakeBus) {
	store := newFakeCreditStore()
	cache := newFakeBalanceCache()
	bus := &fakeBus{}
	svc := NewCreditService(store, cache, bus, slog.New(slog.DiscardHandler))
	return svc, store, cache, bus
}

func TestAddCredits_RecordsLedgerEntry(t *testing.T) {
	svc, store, cache, bus := newCreditFixture()
	store.seed("admin-1", 0, 0)

	bal, err := svc.AddCredits(context.Background(), model.AddCreditsRequest{
		AdminID:     "admin-1",
		Amount:      100,
		Reason:      "promo grant",
		PerformedBy: "operator-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bal.Total != 100 || bal.Used != 0 || bal.Available != 100 {
		t.Errorf("unexpected balance: %+v", bal)
	}

	if len(store.entries) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(store.entries))
	}
	entry := store.entries[0]
	if entry.Action != model.ActionAdd || entry.Amount != 100 {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if entry.BalanceBefore != 0 || entry.BalanceAfter != 100 {
		t.Errorf("expected snapshot 0 -> 100, got %d -> %d", entry.BalanceBefore, entry.BalanceAfter)
	}
	if entry.PerformedBy != "operator-1" {
		t.Errorf("expected performed_by operator-1, got %q", entry.PerformedBy)
	}

	if bus.count(repository.TopicLedgerRecorded) != 1 {
		t.Error("expected a ledger event on the bus")
	}
	if _, ok := cache.balances["admin-1"]; !ok {
		t.Error("expected the cache to be refreshed")
	}
}

func TestAddCredits_UnknownAccount(t *testing.T) {
	svc, _, _, _ := newCreditFixture()

	_, err := svc.AddCredits(context.Background(), model.AddCreditsRequest{
		AdminID: "ghost", Amount: 10, PerformedBy: "operator-1",
	})
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestAddCredits_RejectsNonPositiveAmount(t *testing.T) {
	svc, store, _, _ := newCreditFixture()
	store.seed("admin-1", 0, 0)

	for _, amount := range []int64{0, -5} {
		if _, err := svc.AddCredits(context.Background(), model.AddCreditsRequest{
			AdminID: "admin-1", Amount: amount,
		}); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("amount %d: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
	if len(store.entries) != 0 {
		t.Errorf("expected no ledger entries, got %d", len(store.entries))
	}
}

func TestUseCredits_SpendsAvailableBalance(t *testing.T) {
	svc, store, _, _ := newCreditFixture()
	store.seed("admin-1", 100, 0)

	bal, err := svc.UseCredits(context.Background(), model.UseCreditsRequest{
		AdminID:          "admin-1",
		Amount:           30,
		Reason:           "publish",
		RelatedWeddingID: "wed-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bal.Total != 100 || bal.Used != 30 || bal.Available != 70 {
		t.Errorf("unexpected balance: %+v", bal)
	}

	entry := store.entries[0]
	if entry.Action != model.ActionUsed || entry.Amount != -30 {
		t.Errorf("unexpected entry: %+v", entry)
	}
	// USED entries snapshot the available balance, not total_credits.
	if entry.BalanceBefore != 100 || entry.BalanceAfter != 70 {
		t.Errorf("expected snapshot 100 -> 70, got %d -> %d", entry.BalanceBefore, entry.BalanceAfter)
	}
	if entry.PerformedBy != "admin-1" {
		t.Errorf("expected the owner as actor, got %q", entry.PerformedBy)
	}
	if entry.RelatedWeddingID != "wed-1" {
		t.Errorf("expected related wedding id, got %q", entry.RelatedWeddingID)
	}
}

func TestUseCredits_InsufficientAvailable(t *testing.T) {
	svc, store, _, bus := newCreditFixture()
	store.seed("admin-1", 50, 50)

	_, err := svc.UseCredits(context.Background(), model.UseCreditsRequest{
		AdminID: "admin-1", Amount: 1, RelatedWeddingID: "wed-1",
	})

	var insufficient *InsufficientCreditsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientCreditsError, got %v", err)
	}
	if insufficient.Required != 1 || insufficient.Available != 0 {
		t.Errorf("expected required=1 available=0, got %+v", insufficient)
	}

	acct := store.accounts["admin-1"]
	if acct.TotalCredits != 50 || acct.UsedCredits != 50 {
		t.Errorf("balance must be unchanged, got %+v", acct)
	}
	if len(store.entries) != 0 {
		t.Error("a rejected operation must not write a ledger entry")
	}
	if bus.count(repository.TopicLedgerRecorded) != 0 {
		t.Error("a rejected operation must not publish an event")
	}
}

func TestDeductCredits_ReducesTotal(t *testing.T) {
	svc, store, _, _ := newCreditFixture()
	store.seed("admin-1", 100, 0)

	bal, err := svc.DeductCredits(context.Background(), model.DeductCreditsRequest{
		AdminID: "admin-1", Amount: 40, Reason: "chargeback", PerformedBy: "operator-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bal.Total != 60 || bal.Available != 60 {
		t.Errorf("unexpected balance: %+v", bal)
	}

	entry := store.entries[0]
	if entry.Action != model.ActionDeduct || entry.Amount != -40 {
		t.Errorf("deduct entries store the negated magnitude, got %+v", entry)
	}
	if entry.BalanceBefore != 100 || entry.BalanceAfter != 60 {
		t.Errorf("expected snapshot 100 -> 60, got %d -> %d", entry.BalanceBefore, entry.BalanceAfter)
	}
}

func TestDeductCredits_CannotClawBackSpentCredits(t *testing.T) {
	svc, store, _, _ := newCreditFixture()
	store.seed("admin-1", 100, 80)

	// Only 20 credits are unspent; deducting 30 would leave total below used.
	_, err := svc.DeductCredits(context.Background(), model.DeductCreditsRequest{
		AdminID: "admin-1", Amount: 30, PerformedBy: "operator-1",
	})

	var insufficient *InsufficientCreditsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientCreditsError, got %v", err)
	}
	// The reported headroom is what can actually be deducted, not the raw
	// total: available = total - used.
	if insufficient.Required != 30 || insufficient.Available != 20 {
		t.Errorf("expected required=30 available=20, got %+v", insufficient)
	}
	if len(store.entries) != 0 {
		t.Error("a rejected deduction must not write a ledger entry")
	}
}

func TestAdjustCredits_CannotClawBackSpentCredits(t *testing.T) {
	svc, store, _, _ := newCreditFixture()
	store.seed("admin-1", 100, 80)

	// The resulting total (70) stays positive, but the used-credits floor
	// still rejects it; the error must report the real headroom.
	_, err := svc.AdjustCredits(context.Background(), model.AdjustCreditsRequest{
		AdminID: "admin-1", Amount: -30, PerformedBy: "operator-1",
	})

	var insufficient *InsufficientCreditsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientCreditsError, got %v", err)
	}
	if insufficient.Required != 30 || insufficient.Available != 20 {
		t.Errorf("expected required=30 available=20, got %+v", insufficient)
	}
	if store.accounts["admin-1"].TotalCredits != 100 {
		t.Error("balance must be unchanged")
	}
}

func TestAdjustCredits_SignedCorrection(t *testing.T) {
	svc, store, _, _ := newCreditFixture()
	store.seed("admin-1", 100, 0)

	bal, err := svc.AdjustCredits(context.Background(), model.AdjustCreditsRequest{
		AdminID: "admin-1", Amount: -60, Reason: "billing correction", PerformedBy: "operator-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bal.Total != 40 {
		t.Errorf("expected total 40, got %d", bal.Total)
	}
	if entry := store.entries[0]; entry.Action != model.ActionAdjust || entry.Amount != -60 {
		t.Errorf("adjust entries keep the signed amount as-is, got %+v", entry)
	}
}

func TestAdjustCredits_RejectsNegativeResult(t *testing.T) {
	svc, store, _, _ := newCreditFixture()
	store.seed("admin-1", 10, 0)

	_, err := svc.AdjustCredits(context.Background(), model.AdjustCreditsRequest{
		AdminID: "admin-1", Amount: -20, PerformedBy: "operator-1",
	})

	var negative *NegativeBalanceError
	if !errors.As(err, &negative) {
		t.Fatalf("expected NegativeBalanceError, got %v", err)
	}
	if negative.Resulting != -10 {
		t.Errorf("expected resulting -10, got %d", negative.Resulting)
	}
	if store.accounts["admin-1"].TotalCredits != 10 {
		t.Error("balance must be unchanged")
	}
}

func TestIdempotencyKey_AppliesAtMostOnce(t *testing.T) {
	svc, store, _, _ := newCreditFixture()
	store.seed("admin-1", 0, 0)

	req := model.AddCreditsRequest{
		AdminID: "admin-1", Amount: 100, PerformedBy: "webhook", IdempotencyKey: "pay-123",
	}
	if _, err := svc.AddCredits(context.Background(), req); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, err := svc.AddCredits(context.Background(), req); !errors.Is(err, ErrDuplicateRequest) {
		t.Fatalf("expected ErrDuplicateRequest, got %v", err)
	}

	if store.accounts["admin-1"].TotalCredits != 100 {
		t.Errorf("expected the grant applied exactly once, total=%d", store.accounts["admin-1"].TotalCredits)
	}
	if len(store.entries) != 1 {
		t.Errorf("expected 1 ledger entry, got %d", len(store.entries))
	}
}

func TestLedger_ReconstructsBalances(t *testing.T) {
	svc, store, _, _ := newCreditFixture()
	store.seed("admin-1", 0, 0)
	ctx := context.Background()

	mustBalance := func(bal *model.Balance, err error) *model.Balance {
		t.Helper()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return bal
	}

	mustBalance(svc.AddCredits(ctx, model.AddCreditsRequest{AdminID: "admin-1", Amount: 100, PerformedBy: "op"}))
	mustBalance(svc.UseCredits(ctx, model.UseCreditsRequest{AdminID: "admin-1", Amount: 25, RelatedWeddingID: "wed-1"}))
	mustBalance(svc.DeductCredits(ctx, model.DeductCreditsRequest{AdminID: "admin-1", Amount: 30, PerformedBy: "op"}))
	bal := mustBalance(svc.AdjustCredits(ctx, model.AdjustCreditsRequest{AdminID: "admin-1", Amount: 5, PerformedBy: "op"}))

	// Replaying the ledger must reproduce the running totals.
	var total, used int64
	for _, entry := range store.entries {
		switch entry.Action {
		case model.ActionAdd, model.ActionDeduct, model.ActionAdjust:
			total += entry.Amount
		case model.ActionUsed:
			used += -entry.Amount
		}
	}
	if total != bal.Total {
		t.Errorf("ledger replay gives total %d, balance says %d", total, bal.Total)
	}
	if used != bal.Used {
		t.Errorf("ledger replay gives used %d, balance says %d", used, bal.Used)
	}
	if len(store.entries) != 4 {
		t.Errorf("expected one entry per successful mutation, got %d", len(store.entries))
	}
}

func TestGetCreditBalance_ReadsThroughCache(t *testing.T) {
	svc, store, cache, _ := newCreditFixture()
	store.seed("admin-1", 100, 40)
	ctx := context.Background()

	bal, err := svc.GetCreditBalance(ctx, "admin-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bal.Available != 60 {
		t.Errorf("expected available 60, got %d", bal.Available)
	}
	if cache.sets != 1 {
		t.Fatalf("expected a cache fill, got %d sets", cache.sets)
	}

	// A second read must come from the cache, not the store.
	store.accounts["admin-1"].TotalCredits = 999
	bal, err = svc.GetCreditBalance(ctx, "admin-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bal.Total != 100 {
		t.Errorf("expected cached total 100, got %d", bal.Total)
	}
}

func TestGetCreditBalance_UnknownAccount(t *testing.T) {
	svc, _, _, _ := newCreditFixture()
	if _, err := svc.GetCreditBalance(context.Background(), "ghost"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestGetCreditLedger_PagesNewestFirst(t *testing.T) {
	svc, store, _, _ := newCreditFixture()
	store.seed("admin-1", 0, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.AddCredits(ctx, model.AddCreditsRequest{AdminID: "admin-1", Amount: int64(10 * (i + 1)), PerformedBy: "op"}); err != nil {
			t.Fatalf("seed entry %d: %v", i, err)
		}
	}

	page, err := svc.GetCreditLedger(ctx, "admin-1", 2, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.Total != 3 {
		t.Errorf("expected total 3, got %d", page.Total)
	}
	if len(page.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(page.Entries))
	}
	if page.Entries[0].Amount != 30 || page.Entries[1].Amount != 20 {
		t.Errorf("expected newest-first order, got %+v", page.Entries)
	}

	page, err = svc.GetCreditLedger(ctx, "admin-1", 2, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Entries) != 1 || page.Entries[0].Amount != 10 {
		t.Errorf("expected the oldest entry on page 2, got %+v", page.Entries)
	}
}
