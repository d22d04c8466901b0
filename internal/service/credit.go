package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"vowsuite/internal/model"
	"vowsuite/internal/repository"
)

const (
	defaultLedgerPageSize = 20
	maxLedgerPageSize     = 100
)

// CreditOperations is the credit accounting surface. Transports depend on this
// interface, not on the concrete service.
type CreditOperations interface {
	AddCredits(ctx context.Context, req model.AddCreditsRequest) (*model.Balance, error)
	DeductCredits(ctx context.Context, req model.DeductCreditsRequest) (*model.Balance, error)
	UseCredits(ctx context.Context, req model.UseCreditsRequest) (*model.Balance, error)
	AdjustCredits(ctx context.Context, req model.AdjustCreditsRequest) (*model.Balance, error)
	GetCreditBalance(ctx context.Context, adminID string) (*model.Balance, error)
	GetCreditLedger(ctx context.Context, adminID string, limit, skip int) (*model.LedgerPage, error)
}

// CreditService enforces the balance invariants: every mutation pairs with
// exactly one ledger entry, and no operation may leave available credits
// negative. The store closes the concurrent check-then-act race with a guarded
// conditional update; this service owns validation, error shaping, the balance
// cache and event publication.
type CreditService struct {
	store repository.CreditStore
	cache repository.BalanceCache
	bus   repository.MessageBus
	log   *slog.Logger
}

func NewCreditService(store repository.CreditStore, cache repository.BalanceCache, bus repository.MessageBus, log *slog.Logger) *CreditService {
	return &CreditService{store: store, cache: cache, bus: bus, log: log}
}

// AddCredits grants credits to an admin, increasing total_credits. There is no
// upper bound.
func (s *CreditService) AddCredits(ctx context.Context, req model.AddCreditsRequest) (*model.Balance, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	entry := model.LedgerEntry{
		AdminID:        req.AdminID,
		Action:         model.ActionAdd,
		Amount:         req.Amount,
		Reason:         req.Reason,
		PerformedBy:    req.PerformedBy,
		Metadata:       req.Metadata,
		IdempotencyKey: req.IdempotencyKey,
	}
	return s.apply(ctx, entry)
}

// DeductCredits is a manual/administrative deduction from total_credits.
// It may not take total_credits below used_credits, so the deductible
// headroom is the available balance.
func (s *CreditService) DeductCredits(ctx context.Context, req model.DeductCreditsRequest) (*model.Balance, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	entry := model.LedgerEntry{
		AdminID:          req.AdminID,
		Action:           model.ActionDeduct,
		Amount:           -req.Amount,
		Reason:           req.Reason,
		PerformedBy:      req.PerformedBy,
		RelatedWeddingID: req.RelatedWeddingID,
		Metadata:         req.Metadata,
		IdempotencyKey:   req.IdempotencyKey,
	}
	return s.apply(ctx, entry)
}

// UseCredits spends available balance on an action, increasing used_credits
// without touching total_credits. The actor is implicitly the account owner.
func (s *CreditService) UseCredits(ctx context.Context, req model.UseCreditsRequest) (*model.Balance, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	entry := model.LedgerEntry{
		AdminID:          req.AdminID,
		Action:           model.ActionUsed,
		Amount:           -req.Amount,
		Reason:           req.Reason,
		PerformedBy:      req.AdminID,
		RelatedWeddingID: req.RelatedWeddingID,
		Metadata:         req.Metadata,
		IdempotencyKey:   req.IdempotencyKey,
	}
	return s.apply(ctx, entry)
}

// AdjustCredits applies a signed correction to total_credits. The result may
// not go negative.
func (s *CreditService) AdjustCredits(ctx context.Context, req model.AdjustCreditsRequest) (*model.Balance, error) {
	if req.Amount == 0 {
		return nil, ErrInvalidAmount
	}
	entry := model.LedgerEntry{
		AdminID:     req.AdminID,
		Action:      model.ActionAdjust,
		Amount:      req.Amount,
		Reason:      req.Reason,
		PerformedBy: req.PerformedBy,
		Metadata:    req.Metadata,
	}
	return s.apply(ctx, entry)
}

// GetCreditBalance reads through the cache; Postgres backs a miss.
func (s *CreditService) GetCreditBalance(ctx context.Context, adminID string) (*model.Balance, error) {
	if bal, err := s.cache.Get(ctx, adminID); err == nil {
		return bal, nil
	} else if !errors.Is(err, repository.ErrCacheMiss) {
		s.log.Warn("balance cache read failed", "admin_id", adminID, "error", err)
	}

	acct, err := s.store.FindAccount(ctx, adminID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	bal := balanceOf(acct)
	if err := s.cache.Set(ctx, adminID, bal); err != nil {
		s.log.Warn("balance cache write failed", "admin_id", adminID, "error", err)
	}
	return &bal, nil
}

// GetCreditLedger returns a page of ledger history, newest first.
func (s *CreditService) GetCreditLedger(ctx context.Context, adminID string, limit, skip int) (*model.LedgerPage, error) {
	if limit <= 0 {
		limit = defaultLedgerPageSize
	}
	if limit > maxLedgerPageSize {
		limit = maxLedgerPageSize
	}
	if skip < 0 {
		skip = 0
	}
	return s.store.LedgerPage(ctx, adminID, limit, skip)
}

// apply runs one guarded mutation, then refreshes the cache and emits the
// ledger event. Both follow-ups are best-effort: the committed transaction is
// the source of truth.
func (s *CreditService) apply(ctx context.Context, entry model.LedgerEntry) (*model.Balance, error) {
	acct, recorded, err := s.store.ApplyLedger(ctx, entry)
	if err != nil {
		return nil, s.mapStoreError(ctx, entry, err)
	}

	bal := balanceOf(acct)
	if err := s.cache.Set(ctx, entry.AdminID, bal); err != nil {
		s.log.Warn("balance cache refresh failed", "admin_id", entry.AdminID, "error", err)
	}
	publishLedgerEvent(s.bus, s.log, recorded)

	s.log.Info("ledger entry recorded",
		"admin_id", recorded.AdminID,
		"action", recorded.Action,
		"amount", recorded.Amount,
		"entry_id", recorded.ID,
	)
	return &bal, nil
}

func (s *CreditService) mapStoreError(ctx context.Context, entry model.LedgerEntry, err error) error {
	switch {
	case errors.Is(err, repository.ErrAccountNotFound):
		return ErrAccountNotFound
	case errors.Is(err, repository.ErrAlreadyProcessed):
		return ErrDuplicateRequest
	case errors.Is(err, repository.ErrInsufficient):
		// Re-read for a precise message; the guard already protected the data.
		acct, ferr := s.store.FindAccount(ctx, entry.AdminID)
		if ferr != nil {
			acct = &model.CreditAccount{AdminID: entry.AdminID}
		}
		// The guard floor for every action is the available balance: DEDUCT
		// and negative ADJUST may not take total_credits below used_credits,
		// USED may not overdraw. An adjustment that would drive total_credits
		// itself negative gets the more specific error.
		if entry.Action == model.ActionAdjust {
			if resulting := acct.TotalCredits + entry.Amount; resulting < 0 {
				return &NegativeBalanceError{Resulting: resulting}
			}
		}
		return &InsufficientCreditsError{Required: -entry.Amount, Available: acct.Available()}
	default:
		return fmt.Errorf("apply ledger entry: %w", err)
	}
}

// publishLedgerEvent emits the committed entry on the bus, best-effort.
func publishLedgerEvent(bus repository.MessageBus, log *slog.Logger, entry *model.LedgerEntry) {
	event := repository.LedgerRecordedEvent{
		EntryID:          entry.ID,
		AdminID:          entry.AdminID,
		Action:           entry.Action,
		Amount:           entry.Amount,
		RelatedWeddingID: entry.RelatedWeddingID,
		Reason:           entry.Reason,
		CreatedAt:        entry.CreatedAt,
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Warn("failed to encode ledger event", "entry_id", entry.ID, "error", err)
		return
	}
	if err := bus.Publish(repository.TopicLedgerRecorded, data); err != nil {
		log.Warn("failed to publish ledger event", "entry_id", entry.ID, "error", err)
	}
}

func balanceOf(acct *model.CreditAccount) model.Balance {
	return model.Balance{
		Total:     acct.TotalCredits,
		Used:      acct.UsedCredits,
		Available: acct.Available(),
	}
}
