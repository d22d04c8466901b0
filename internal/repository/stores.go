package repository

import (
	"context"
	"errors"

	"vowsuite/internal/model"
)

var (
	ErrAccountNotFound  = errors.New("credit account not found")
	ErrWeddingNotFound  = errors.New("wedding not found")
	ErrInsufficient     = errors.New("balance guard rejected the update")
	ErrAlreadyProcessed = errors.New("request already processed (idempotency)")
	ErrStatusConflict   = errors.New("wedding status changed concurrently")
	ErrCacheMiss        = errors.New("balance not found in cache")
)

// CreditStore is everything the credit service needs from persistence.
// ApplyLedger runs the guarded balance update and the ledger insert in one
// transaction; a rejected guard leaves no trace.
type CreditStore interface {
	FindAccount(ctx context.Context, adminID string) (*model.CreditAccount, error)
	ApplyLedger(ctx context.Context, entry model.LedgerEntry) (*model.CreditAccount, *model.LedgerEntry, error)
	LedgerPage(ctx context.Context, adminID string, limit, skip int) (*model.LedgerPage, error)
}

// ChargeResult is what a transactional wedding charge leaves behind.
// Entry is nil when the charge was free (zero cost).
type ChargeResult struct {
	Wedding *model.Wedding
	Account *model.CreditAccount
	Entry   *model.LedgerEntry
}

// WeddingStore is everything the lifecycle service needs from persistence.
// The charge methods commit the credit mutation, its ledger entry and the
// wedding update atomically.
type WeddingStore interface {
	Find(ctx context.Context, id, adminID string) (*model.Wedding, error)
	FindBySlug(ctx context.Context, slug, excludeID string) (*model.Wedding, error)
	PublishCharge(ctx context.Context, weddingID string, cost int64, entry model.LedgerEntry) (*ChargeResult, error)
	UpgradeCharge(ctx context.Context, weddingID, designKey string, features []string, newCost int64, entry model.LedgerEntry) (*ChargeResult, error)
	UpdateSelection(ctx context.Context, weddingID, designKey string, features []string, newCost int64) (*model.Wedding, error)
	Archive(ctx context.Context, weddingID string) (*model.Wedding, error)
}

// PricingStore is the read-only feature/design pricing registry.
// GetFeature returns (nil, nil) for unknown keys.
type PricingStore interface {
	GetFeature(ctx context.Context, key string) (*model.FeatureCost, error)
}

// BalanceCache is the read-through cache in front of credit_accounts.
// Get returns ErrCacheMiss when the admin has no cached balance.
type BalanceCache interface {
	Get(ctx context.Context, adminID string) (*model.Balance, error)
	Set(ctx context.Context, adminID string, bal model.Balance) error
	Invalidate(ctx context.Context, adminID string) error
}
