package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vowsuite/internal/model"
)

const weddingColumns = `id, admin_id, status, slug, title, groom_name, bride_name,
	event_date, venue, selected_design_key, selected_features, total_credit_cost,
	published_at, is_active, created_at, updated_at`

// WeddingRepo owns the weddings table and the transactional charge paths that
// touch both a wedding row and its admin's credit account.
type WeddingRepo struct {
	db *pgxpool.Pool
}

func NewWeddingRepo(db *pgxpool.Pool) *WeddingRepo {
	return &WeddingRepo{db: db}
}

// Find loads a wedding scoped to its owner. A missing id and a foreign owner
// both come back as ErrWeddingNotFound so callers cannot probe for other
// admins' weddings.
func (r *WeddingRepo) Find(ctx context.Context, id, adminID string) (*model.Wedding, error) {
	query := `SELECT ` + weddingColumns + ` FROM weddings WHERE id = $1 AND admin_id = $2`
	return scanWedding(r.db.QueryRow(ctx, query, id, adminID))
}

// FindBySlug checks global slug uniqueness. excludeID skips the wedding being
// re-validated so a published wedding's own slug does not conflict with itself.
func (r *WeddingRepo) FindBySlug(ctx context.Context, slug, excludeID string) (*model.Wedding, error) {
	query := `SELECT ` + weddingColumns + ` FROM weddings WHERE slug = $1 AND ($2 = '' OR id <> $2)`
	return scanWedding(r.db.QueryRow(ctx, query, slug, excludeID))
}

// PublishCharge flips the wedding to published and charges the admin's
// available balance in a single transaction. A zero cost (free design, no paid
// addons) publishes without touching the account and writes no ledger entry.
func (r *WeddingRepo) PublishCharge(ctx context.Context, weddingID string, cost int64, entry model.LedgerEntry) (*ChargeResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	res, err := r.chargeTx(ctx, tx, cost, entry)
	if err != nil {
		return nil, err
	}

	query := `UPDATE weddings
		SET status = $2, total_credit_cost = $3, published_at = now(), is_active = true, updated_at = now()
		WHERE id = $1 AND status = $4
		RETURNING ` + weddingColumns
	res.Wedding, err = scanWedding(tx.QueryRow(ctx, query, weddingID, model.StatusPublished, cost, model.StatusDraft))
	if err != nil {
		if errors.Is(err, ErrWeddingNotFound) {
			return nil, ErrStatusConflict
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}

// UpgradeCharge applies a costlier selection to a published wedding, charging
// only the delta carried by entry.Amount. The selection update and the charge
// commit together.
func (r *WeddingRepo) UpgradeCharge(ctx context.Context, weddingID, designKey string, features []string, newCost int64, entry model.LedgerEntry) (*ChargeResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	res, err := r.chargeTx(ctx, tx, -entry.Amount, entry)
	if err != nil {
		return nil, err
	}

	res.Wedding, err = r.updateSelectionTx(ctx, tx, weddingID, designKey, features, newCost)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}

// UpdateSelection applies a same-or-cheaper selection. Downgrades are free and
// never refund, so no account row is touched.
func (r *WeddingRepo) UpdateSelection(ctx context.Context, weddingID, designKey string, features []string, newCost int64) (*model.Wedding, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	wedding, err := r.updateSelectionTx(ctx, tx, weddingID, designKey, features, newCost)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return wedding, nil
}

// Archive is terminal: status moves to archived, the site goes inactive, and
// no credits move.
func (r *WeddingRepo) Archive(ctx context.Context, weddingID string) (*model.Wedding, error) {
	query := `UPDATE weddings
		SET status = $2, is_active = false, updated_at = now()
		WHERE id = $1 AND status <> $2
		RETURNING ` + weddingColumns
	wedding, err := scanWedding(r.db.QueryRow(ctx, query, weddingID, model.StatusArchived))
	if err != nil {
		if errors.Is(err, ErrWeddingNotFound) {
			return nil, ErrStatusConflict
		}
		return nil, err
	}
	return wedding, nil
}

func (r *WeddingRepo) chargeTx(ctx context.Context, tx pgx.Tx, cost int64, entry model.LedgerEntry) (*ChargeResult, error) {
	if cost == 0 {
		acct, err := findAccountTx(ctx, tx, entry.AdminID)
		if err != nil {
			return nil, err
		}
		return &ChargeResult{Account: acct}, nil
	}

	acct, err := applyBalanceTx(ctx, tx, entry.Action, entry.AdminID, entry.Amount)
	if err != nil {
		return nil, err
	}
	entry.ID = uuid.NewString()
	entry.CreatedAt = time.Now().UTC()
	entry.BalanceBefore, entry.BalanceAfter = snapshotBounds(entry.Action, acct, entry.Amount)
	if err := insertLedgerTx(ctx, tx, &entry); err != nil {
		return nil, err
	}
	return &ChargeResult{Account: acct, Entry: &entry}, nil
}

func (r *WeddingRepo) updateSelectionTx(ctx context.Context, tx pgx.Tx, weddingID, designKey string, features []string, newCost int64) (*model.Wedding, error) {
	query := `UPDATE weddings
		SET selected_design_key = $2, selected_features = $3, total_credit_cost = $4, updated_at = now()
		WHERE id = $1 AND status = $5
		RETURNING ` + weddingColumns
	wedding, err := scanWedding(tx.QueryRow(ctx, query, weddingID, designKey, features, newCost, model.StatusPublished))
	if err != nil {
		if errors.Is(err, ErrWeddingNotFound) {
			return nil, ErrStatusConflict
		}
		return nil, err
	}
	return wedding, nil
}

func findAccountTx(ctx context.Context, tx pgx.Tx, adminID string) (*model.CreditAccount, error) {
	query := `SELECT admin_id, total_credits, used_credits, created_at, updated_at
		FROM credit_accounts WHERE admin_id = $1`
	var acct model.CreditAccount
	err := tx.QueryRow(ctx, query, adminID).Scan(
		&acct.AdminID, &acct.TotalCredits, &acct.UsedCredits, &acct.CreatedAt, &acct.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("find account: %w", err)
	}
	return &acct, nil
}

func scanWedding(row pgx.Row) (*model.Wedding, error) {
	var w model.Wedding
	err := row.Scan(
		&w.ID, &w.AdminID, &w.Status, &w.Slug, &w.Title, &w.GroomName, &w.BrideName,
		&w.EventDate, &w.Venue, &w.SelectedDesignKey, &w.SelectedFeatures, &w.TotalCreditCost,
		&w.PublishedAt, &w.IsActive, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWeddingNotFound
		}
		return nil, fmt.Errorf("scan wedding: %w", err)
	}
	return &w, nil
}
