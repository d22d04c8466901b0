package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"vowsuite/internal/model"
	"vowsuite/internal/repository"
)

// themeKeyPrefix maps a design key to its pricing registry row.
const themeKeyPrefix = "theme_"

// LifecycleOperations is the wedding state-machine surface.
type LifecycleOperations interface {
	CalculateCreditCost(ctx context.Context, designKey string, features []string) (*model.CostBreakdown, error)
	ValidateSlugUniqueness(ctx context.Context, slug, excludeWeddingID string) (bool, string, error)
	CheckReadyStatus(ctx context.Context, wedding *model.Wedding) (bool, []string, error)
	PublishWedding(ctx context.Context, weddingID, adminID string) (*model.PublishResult, error)
	UpgradeWeddingFeatures(ctx context.Context, req model.UpgradeRequest) (*model.UpgradeResult, error)
	ArchiveWedding(ctx context.Context, weddingID, adminID string) (*model.Wedding, error)
}

// LifecycleService drives draft → published → archived, gating each paid
// transition on credit availability. All credit mutation goes through the
// transactional store paths, so a wedding can never flip status without its
// charge committing in the same transaction.
type LifecycleService struct {
	weddings repository.WeddingStore
	pricing  repository.PricingStore
	credits  repository.CreditStore
	cache    repository.BalanceCache
	bus      repository.MessageBus
	log      *slog.Logger
}

func NewLifecycleService(
	weddings repository.WeddingStore,
	pricing repository.PricingStore,
	credits repository.CreditStore,
	cache repository.BalanceCache,
	bus repository.MessageBus,
	log *slog.Logger,
) *LifecycleService {
	return &LifecycleService{
		weddings: weddings,
		pricing:  pricing,
		credits:  credits,
		cache:    cache,
		bus:      bus,
		log:      log,
	}
}

// CalculateCreditCost itemizes what a selection would charge: the design theme
// plus every selected feature present and enabled in the registry. Unknown or
// disabled keys contribute nothing rather than blocking the publish.
func (s *LifecycleService) CalculateCreditCost(ctx context.Context, designKey string, features []string) (*model.CostBreakdown, error) {
	bd := &model.CostBreakdown{Lines: []model.CostLine{}}

	if designKey != "" {
		theme, err := s.pricing.GetFeature(ctx, themeKeyPrefix+designKey)
		if err != nil {
			return nil, fmt.Errorf("lookup theme %q: %w", designKey, err)
		}
		if theme != nil && theme.Enabled {
			bd.Lines = append(bd.Lines, model.CostLine{
				Item: displayName(theme, designKey),
				Kind: model.CostItemDesign,
				Cost: theme.CreditCost,
			})
			bd.Total += theme.CreditCost
		}
	}

	seen := make(map[string]bool, len(features))
	for _, key := range features {
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true

		fc, err := s.pricing.GetFeature(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("lookup feature %q: %w", key, err)
		}
		if fc == nil || !fc.Enabled {
			continue
		}
		bd.Lines = append(bd.Lines, model.CostLine{
			Item: displayName(fc, key),
			Kind: model.CostItemAddon,
			Cost: fc.CreditCost,
		})
		bd.Total += fc.CreditCost
	}
	return bd, nil
}

// ValidateSlugUniqueness checks that no other wedding holds the slug.
// excludeWeddingID lets a wedding re-validate its own slug without colliding
// with itself.
func (s *LifecycleService) ValidateSlugUniqueness(ctx context.Context, slug, excludeWeddingID string) (bool, string, error) {
	_, err := s.weddings.FindBySlug(ctx, slug, excludeWeddingID)
	if err != nil {
		if errors.Is(err, repository.ErrWeddingNotFound) {
			return true, "", nil
		}
		return false, "", err
	}
	return false, fmt.Sprintf("the address %q is already taken by another wedding", slug), nil
}

// CheckReadyStatus verifies the required fields and slug uniqueness without
// mutating anything. It returns the labels of everything still missing.
func (s *LifecycleService) CheckReadyStatus(ctx context.Context, wedding *model.Wedding) (bool, []string, error) {
	var missing []string

	required := []struct {
		label string
		empty bool
	}{
		{"title", wedding.Title == ""},
		{"slug", wedding.Slug == ""},
		{"groom name", wedding.GroomName == ""},
		{"bride name", wedding.BrideName == ""},
		{"event date", wedding.EventDate == nil},
		{"venue", wedding.Venue == ""},
		{"design", wedding.SelectedDesignKey == ""},
	}
	for _, field := range required {
		if field.empty {
			missing = append(missing, field.label)
		}
	}

	if wedding.Slug != "" {
		unique, msg, err := s.ValidateSlugUniqueness(ctx, wedding.Slug, wedding.ID)
		if err != nil {
			return false, nil, err
		}
		if !unique {
			missing = append(missing, msg)
		}
	}

	return len(missing) == 0, missing, nil
}

// PublishWedding is the paid transition draft → published: readiness check,
// cost calculation, available-balance check, then an atomic charge + status
// flip. Publishing twice yields ErrAlreadyPublished with no second charge.
func (s *LifecycleService) PublishWedding(ctx context.Context, weddingID, adminID string) (*model.PublishResult, error) {
	wedding, err := s.findOwned(ctx, weddingID, adminID)
	if err != nil {
		return nil, err
	}
	switch wedding.Status {
	case model.StatusPublished:
		return nil, ErrAlreadyPublished
	case model.StatusArchived:
		return nil, ErrAlreadyArchived
	}

	ready, missing, err := s.CheckReadyStatus(ctx, wedding)
	if err != nil {
		return nil, err
	}
	if !ready {
		return nil, &NotReadyError{Missing: missing}
	}

	bd, err := s.CalculateCreditCost(ctx, wedding.SelectedDesignKey, wedding.SelectedFeatures)
	if err != nil {
		return nil, err
	}

	if err := s.checkAvailable(ctx, adminID, bd.Total); err != nil {
		return nil, err
	}

	entry := model.LedgerEntry{
		AdminID:          adminID,
		Action:           model.ActionUsed,
		Amount:           -bd.Total,
		Reason:           fmt.Sprintf("publish wedding %q", wedding.Slug),
		RelatedWeddingID: weddingID,
		PerformedBy:      adminID,
		Metadata:         chargeMetadata(bd, wedding.SelectedDesignKey, wedding.SelectedFeatures),
	}
	res, err := s.weddings.PublishCharge(ctx, weddingID, bd.Total, entry)
	if err != nil {
		return nil, s.mapChargeError(ctx, weddingID, adminID, bd.Total, err)
	}

	s.afterCharge(ctx, res, repository.TopicWeddingPublished, bd.Total)
	s.log.Info("wedding published",
		"wedding_id", res.Wedding.ID,
		"admin_id", adminID,
		"slug", res.Wedding.Slug,
		"cost", bd.Total,
	)

	return &model.PublishResult{
		Wedding:          res.Wedding,
		ChargedCredits:   bd.Total,
		RemainingCredits: res.Account.Available(),
		Breakdown:        *bd,
	}, nil
}

// UpgradeWeddingFeatures changes the design/feature selection of a published
// wedding. Upgrades charge only the cost delta; downgrades and no-ops are free
// and never refund.
func (s *LifecycleService) UpgradeWeddingFeatures(ctx context.Context, req model.UpgradeRequest) (*model.UpgradeResult, error) {
	wedding, err := s.findOwned(ctx, req.WeddingID, req.AdminID)
	if err != nil {
		return nil, err
	}
	switch wedding.Status {
	case model.StatusArchived:
		return nil, ErrAlreadyArchived
	case model.StatusPublished:
	default:
		return nil, ErrNotPublished
	}

	designKey := wedding.SelectedDesignKey
	if req.DesignKey != nil {
		designKey = *req.DesignKey
	}
	features := wedding.SelectedFeatures
	if req.Features != nil {
		features = *req.Features
	}

	currentBD, err := s.CalculateCreditCost(ctx, wedding.SelectedDesignKey, wedding.SelectedFeatures)
	if err != nil {
		return nil, err
	}
	newBD, err := s.CalculateCreditCost(ctx, designKey, features)
	if err != nil {
		return nil, err
	}
	delta := newBD.Total - currentBD.Total

	if delta <= 0 {
		updated, err := s.weddings.UpdateSelection(ctx, req.WeddingID, designKey, features, newBD.Total)
		if err != nil {
			if errors.Is(err, repository.ErrStatusConflict) {
				return nil, s.statusConflictError(ctx, req.WeddingID, req.AdminID)
			}
			return nil, err
		}
		s.publishWeddingEvent(updated, repository.TopicWeddingUpgraded, 0)
		s.log.Info("wedding selection downgraded",
			"wedding_id", updated.ID, "admin_id", req.AdminID, "new_cost", newBD.Total)

		remaining := int64(0)
		if acct, err := s.credits.FindAccount(ctx, req.AdminID); err == nil {
			remaining = acct.Available()
		} else {
			s.log.Warn("balance read failed after downgrade", "admin_id", req.AdminID, "error", err)
		}
		return &model.UpgradeResult{
			Wedding:          updated,
			ChargedCredits:   0,
			RemainingCredits: remaining,
			Breakdown:        *newBD,
		}, nil
	}

	if err := s.checkAvailable(ctx, req.AdminID, delta); err != nil {
		return nil, err
	}

	meta := chargeMetadata(newBD, designKey, features)
	meta["previous_cost"] = currentBD.Total
	meta["charged_delta"] = delta
	entry := model.LedgerEntry{
		AdminID:          req.AdminID,
		Action:           model.ActionUsed,
		Amount:           -delta,
		Reason:           fmt.Sprintf("upgrade wedding %q", wedding.Slug),
		RelatedWeddingID: req.WeddingID,
		PerformedBy:      req.AdminID,
		Metadata:         meta,
	}
	res, err := s.weddings.UpgradeCharge(ctx, req.WeddingID, designKey, features, newBD.Total, entry)
	if err != nil {
		return nil, s.mapChargeError(ctx, req.WeddingID, req.AdminID, delta, err)
	}

	s.afterCharge(ctx, res, repository.TopicWeddingUpgraded, delta)
	s.log.Info("wedding upgraded",
		"wedding_id", res.Wedding.ID,
		"admin_id", req.AdminID,
		"charged_delta", delta,
		"new_cost", newBD.Total,
	)

	return &model.UpgradeResult{
		Wedding:          res.Wedding,
		ChargedCredits:   delta,
		RemainingCredits: res.Account.Available(),
		Breakdown:        *newBD,
	}, nil
}

// ArchiveWedding is terminal and refunds nothing, ever: spent credits stay
// spent as an explicit forfeiture policy.
func (s *LifecycleService) ArchiveWedding(ctx context.Context, weddingID, adminID string) (*model.Wedding, error) {
	wedding, err := s.findOwned(ctx, weddingID, adminID)
	if err != nil {
		return nil, err
	}
	if wedding.Status == model.StatusArchived {
		return nil, ErrAlreadyArchived
	}

	archived, err := s.weddings.Archive(ctx, weddingID)
	if err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return nil, ErrAlreadyArchived
		}
		return nil, err
	}

	s.publishWeddingEvent(archived, repository.TopicWeddingArchived, 0)
	s.log.Info("wedding archived", "wedding_id", archived.ID, "admin_id", adminID)
	return archived, nil
}

func (s *LifecycleService) findOwned(ctx context.Context, weddingID, adminID string) (*model.Wedding, error) {
	wedding, err := s.weddings.Find(ctx, weddingID, adminID)
	if err != nil {
		if errors.Is(err, repository.ErrWeddingNotFound) {
			return nil, ErrWeddingNotFound
		}
		return nil, err
	}
	return wedding, nil
}

// checkAvailable is the courtesy precheck that produces a precise shortfall
// message. The transactional guard re-checks under concurrency.
func (s *LifecycleService) checkAvailable(ctx context.Context, adminID string, required int64) error {
	acct, err := s.credits.FindAccount(ctx, adminID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		return err
	}
	if acct.Available() < required {
		return &InsufficientCreditsError{Required: required, Available: acct.Available()}
	}
	return nil
}

func (s *LifecycleService) mapChargeError(ctx context.Context, weddingID, adminID string, required int64, err error) error {
	switch {
	case errors.Is(err, repository.ErrInsufficient):
		available := int64(0)
		if acct, ferr := s.credits.FindAccount(ctx, adminID); ferr == nil {
			available = acct.Available()
		}
		return &InsufficientCreditsError{Required: required, Available: available}
	case errors.Is(err, repository.ErrAccountNotFound):
		return ErrAccountNotFound
	case errors.Is(err, repository.ErrStatusConflict):
		return s.statusConflictError(ctx, weddingID, adminID)
	default:
		return fmt.Errorf("charge wedding: %w", err)
	}
}

// statusConflictError resolves a transactional status conflict into the error
// matching the wedding's actual state: a concurrent writer may have published
// or archived it between the pre-checks and the transaction.
func (s *LifecycleService) statusConflictError(ctx context.Context, weddingID, adminID string) error {
	wedding, err := s.weddings.Find(ctx, weddingID, adminID)
	if err != nil {
		if errors.Is(err, repository.ErrWeddingNotFound) {
			return ErrWeddingNotFound
		}
		return err
	}
	switch wedding.Status {
	case model.StatusArchived:
		return ErrAlreadyArchived
	case model.StatusPublished:
		return ErrAlreadyPublished
	default:
		return ErrNotPublished
	}
}

func (s *LifecycleService) afterCharge(ctx context.Context, res *repository.ChargeResult, topic string, charged int64) {
	bal := balanceOf(res.Account)
	if err := s.cache.Set(ctx, res.Account.AdminID, bal); err != nil {
		s.log.Warn("balance cache refresh failed", "admin_id", res.Account.AdminID, "error", err)
	}
	if res.Entry != nil {
		publishLedgerEvent(s.bus, s.log, res.Entry)
	}
	s.publishWeddingEvent(res.Wedding, topic, charged)
}

func (s *LifecycleService) publishWeddingEvent(wedding *model.Wedding, topic string, charged int64) {
	event := repository.WeddingLifecycleEvent{
		WeddingID:      wedding.ID,
		AdminID:        wedding.AdminID,
		Status:         wedding.Status,
		ChargedCredits: charged,
		OccurredAt:     time.Now().UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		s.log.Warn("failed to encode wedding event", "wedding_id", wedding.ID, "error", err)
		return
	}
	if err := s.bus.Publish(topic, data); err != nil {
		s.log.Warn("failed to publish wedding event", "wedding_id", wedding.ID, "topic", topic, "error", err)
	}
}

func chargeMetadata(bd *model.CostBreakdown, designKey string, features []string) map[string]any {
	return map[string]any{
		"cost_breakdown": bd.Lines,
		"design_key":     designKey,
		"features":       features,
	}
}

func displayName(fc *model.FeatureCost, fallback string) string {
	if fc.DisplayName != "" {
		return fc.DisplayName
	}
	return fallback
}
