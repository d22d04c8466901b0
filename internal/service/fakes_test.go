package service

import (
	"context"
	"fmt"
	"time"

	"vowsuite/internal/model"
	"vowsuite/internal/repository"
)

// fakeCreditStore mirrors the guarded-update semantics of the Postgres repo
// in memory, recording every ledger entry it writes.
type fakeCreditStore struct {
	accounts map[string]*model.CreditAccount
	entries  []model.LedgerEntry
	seenKeys map[string]bool
	applyErr error
	findErr  error
}

func newFakeCreditStore() *fakeCreditStore {
	return &fakeCreditStore{
		accounts: make(map[string]*model.CreditAccount),
		seenKeys: make(map[string]bool),
	}
}

func (f *fakeCreditStore) seed(adminID string, total, used int64) {
	f.accounts[adminID] = &model.CreditAccount{
		AdminID:      adminID,
		TotalCredits: total,
		UsedCredits:  used,
	}
}

func (f *fakeCreditStore) FindAccount(ctx context.Context, adminID string) (*model.CreditAccount, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	acct, ok := f.accounts[adminID]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	copied := *acct
	return &copied, nil
}

func (f *fakeCreditStore) ApplyLedger(ctx context.Context, entry model.LedgerEntry) (*model.CreditAccount, *model.LedgerEntry, error) {
	if f.applyErr != nil {
		return nil, nil, f.applyErr
	}
	acct, ok := f.accounts[entry.AdminID]
	if !ok {
		return nil, nil, repository.ErrAccountNotFound
	}
	if entry.IdempotencyKey != "" && f.seenKeys[entry.IdempotencyKey] {
		return nil, nil, repository.ErrAlreadyProcessed
	}

	switch entry.Action {
	case model.ActionAdd:
		acct.TotalCredits += entry.Amount
	case model.ActionDeduct, model.ActionAdjust:
		if acct.TotalCredits+entry.Amount < acct.UsedCredits {
			return nil, nil, repository.ErrInsufficient
		}
		acct.TotalCredits += entry.Amount
	case model.ActionUsed:
		if acct.TotalCredits-acct.UsedCredits+entry.Amount < 0 {
			return nil, nil, repository.ErrInsufficient
		}
		acct.UsedCredits -= entry.Amount
	default:
		return nil, nil, fmt.Errorf("unknown action %q", entry.Action)
	}

	if entry.Action == model.ActionUsed {
		entry.BalanceAfter = acct.TotalCredits - acct.UsedCredits
	} else {
		entry.BalanceAfter = acct.TotalCredits
	}
	entry.BalanceBefore = entry.BalanceAfter - entry.Amount
	entry.ID = fmt.Sprintf("entry-%d", len(f.entries)+1)
	entry.CreatedAt = time.Now().UTC()

	if entry.IdempotencyKey != "" {
		f.seenKeys[entry.IdempotencyKey] = true
	}
	f.entries = append(f.entries, entry)

	copied := *acct
	recorded := entry
	return &copied, &recorded, nil
}

func (f *fakeCreditStore) LedgerPage(ctx context.Context, adminID string, limit, skip int) (*model.LedgerPage, error) {
	var matched []model.LedgerEntry
	for i := len(f.entries) - 1; i >= 0; i-- {
		if f.entries[i].AdminID == adminID {
			matched = append(matched, f.entries[i])
		}
	}
	page := &model.LedgerPage{Total: int64(len(matched)), Entries: []model.LedgerEntry{}}
	for i := skip; i < len(matched) && i < skip+limit; i++ {
		page.Entries = append(page.Entries, matched[i])
	}
	return page, nil
}

// fakeWeddingStore shares the credit store so charges and status flips behave
// like one transaction: a rejected guard leaves the wedding untouched.
type fakeWeddingStore struct {
	weddings map[string]*model.Wedding
	credits  *fakeCreditStore

	// beforeWrite runs at the start of each write, standing in for a
	// concurrent writer slipping between the service pre-checks and the
	// transaction.
	beforeWrite func()
}

func newFakeWeddingStore(credits *fakeCreditStore) *fakeWeddingStore {
	return &fakeWeddingStore{weddings: make(map[string]*model.Wedding), credits: credits}
}

func (f *fakeWeddingStore) Find(ctx context.Context, id, adminID string) (*model.Wedding, error) {
	w, ok := f.weddings[id]
	if !ok || w.AdminID != adminID {
		return nil, repository.ErrWeddingNotFound
	}
	copied := *w
	return &copied, nil
}

func (f *fakeWeddingStore) FindBySlug(ctx context.Context, slug, excludeID string) (*model.Wedding, error) {
	for _, w := range f.weddings {
		if w.Slug == slug && w.ID != excludeID {
			copied := *w
			return &copied, nil
		}
	}
	return nil, repository.ErrWeddingNotFound
}

func (f *fakeWeddingStore) PublishCharge(ctx context.Context, weddingID string, cost int64, entry model.LedgerEntry) (*repository.ChargeResult, error) {
	if f.beforeWrite != nil {
		f.beforeWrite()
	}
	w, ok := f.weddings[weddingID]
	if !ok {
		return nil, repository.ErrWeddingNotFound
	}
	if w.Status != model.StatusDraft {
		return nil, repository.ErrStatusConflict
	}

	res, err := f.charge(ctx, cost, entry)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	w.Status = model.StatusPublished
	w.TotalCreditCost = cost
	w.PublishedAt = &now
	w.IsActive = true

	copied := *w
	res.Wedding = &copied
	return res, nil
}

func (f *fakeWeddingStore) UpgradeCharge(ctx context.Context, weddingID, designKey string, features []string, newCost int64, entry model.LedgerEntry) (*repository.ChargeResult, error) {
	if f.beforeWrite != nil {
		f.beforeWrite()
	}
	w, ok := f.weddings[weddingID]
	if !ok {
		return nil, repository.ErrWeddingNotFound
	}
	if w.Status != model.StatusPublished {
		return nil, repository.ErrStatusConflict
	}

	res, err := f.charge(ctx, -entry.Amount, entry)
	if err != nil {
		return nil, err
	}

	w.SelectedDesignKey = designKey
	w.SelectedFeatures = features
	w.TotalCreditCost = newCost

	copied := *w
	res.Wedding = &copied
	return res, nil
}

func (f *fakeWeddingStore) UpdateSelection(ctx context.Context, weddingID, designKey string, features []string, newCost int64) (*model.Wedding, error) {
	if f.beforeWrite != nil {
		f.beforeWrite()
	}
	w, ok := f.weddings[weddingID]
	if !ok || w.Status != model.StatusPublished {
		return nil, repository.ErrStatusConflict
	}
	w.SelectedDesignKey = designKey
	w.SelectedFeatures = features
	w.TotalCreditCost = newCost
	copied := *w
	return &copied, nil
}

func (f *fakeWeddingStore) Archive(ctx context.Context, weddingID string) (*model.Wedding, error) {
	w, ok := f.weddings[weddingID]
	if !ok || w.Status == model.StatusArchived {
		return nil, repository.ErrStatusConflict
	}
	w.Status = model.StatusArchived
	w.IsActive = false
	copied := *w
	return &copied, nil
}

func (f *fakeWeddingStore) charge(ctx context.Context, cost int64, entry model.LedgerEntry) (*repository.ChargeResult, error) {
	if cost == 0 {
		acct, err := f.credits.FindAccount(ctx, entry.AdminID)
		if err != nil {
			return nil, err
		}
		return &repository.ChargeResult{Account: acct}, nil
	}
	acct, recorded, err := f.credits.ApplyLedger(ctx, entry)
	if err != nil {
		return nil, err
	}
	return &repository.ChargeResult{Account: acct, Entry: recorded}, nil
}

type fakePricingStore struct {
	features map[string]model.FeatureCost
}

func (f *fakePricingStore) GetFeature(ctx context.Context, key string) (*model.FeatureCost, error) {
	fc, ok := f.features[key]
	if !ok {
		return nil, nil
	}
	return &fc, nil
}

type fakeBalanceCache struct {
	balances map[string]model.Balance
	sets     int
}

func newFakeBalanceCache() *fakeBalanceCache {
	return &fakeBalanceCache{balances: make(map[string]model.Balance)}
}

func (f *fakeBalanceCache) Get(ctx context.Context, adminID string) (*model.Balance, error) {
	bal, ok := f.balances[adminID]
	if !ok {
		return nil, repository.ErrCacheMiss
	}
	return &bal, nil
}

func (f *fakeBalanceCache) Set(ctx context.Context, adminID string, bal model.Balance) error {
	f.balances[adminID] = bal
	f.sets++
	return nil
}

func (f *fakeBalanceCache) Invalidate(ctx context.Context, adminID string) error {
	delete(f.balances, adminID)
	return nil
}

type fakeBus struct {
	topics []string
}

func (f *fakeBus) Publish(topic string, data []byte) error {
	f.topics = append(f.topics, topic)
	return nil
}

func (f *fakeBus) count(topic string) int {
	n := 0
	for _, t := range f.topics {
		if t == topic {
			n++
		}
	}
	return n
}
