package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vowsuite/internal/model"
)

// CreditRepo is the sole writer of credit_accounts and ledger_entries.
type CreditRepo struct {
	db *pgxpool.Pool
}

func NewCreditRepo(db *pgxpool.Pool) *CreditRepo {
	return &CreditRepo{db: db}
}

func (r *CreditRepo) FindAccount(ctx context.Context, adminID string) (*model.CreditAccount, error) {
	query := `SELECT admin_id, total_credits, used_credits, created_at, updated_at
		FROM credit_accounts WHERE admin_id = $1`

	var acct model.CreditAccount
	err := r.db.QueryRow(ctx, query, adminID).Scan(
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

// ApplyLedger mutates the balance and appends the matching ledger entry in one
// transaction. The balance update carries the non-negativity guard in its
// WHERE clause, so two concurrent spenders can never both pass the check.
func (r *CreditRepo) ApplyLedger(ctx context.Context, entry model.LedgerEntry) (*model.CreditAccount, *model.LedgerEntry, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	acct, err := applyBalanceTx(ctx, tx, entry.Action, entry.AdminID, entry.Amount)
	if err != nil {
		return nil, nil, err
	}

	entry.ID = uuid.NewString()
	entry.CreatedAt = time.Now().UTC()
	entry.BalanceBefore, entry.BalanceAfter = snapshotBounds(entry.Action, acct, entry.Amount)

	if err := insertLedgerTx(ctx, tx, &entry); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}
	return acct, &entry, nil
}

func (r *CreditRepo) LedgerPage(ctx context.Context, adminID string, limit, skip int) (*model.LedgerPage, error) {
	page := &model.LedgerPage{Entries: []model.LedgerEntry{}}

	countQuery := `SELECT count(*) FROM ledger_entries WHERE admin_id = $1`
	if err := r.db.QueryRow(ctx, countQuery, adminID).Scan(&page.Total); err != nil {
		return nil, fmt.Errorf("count ledger entries: %w", err)
	}

	query := `SELECT id, admin_id, action_type, amount, balance_before, balance_after,
			reason, related_wedding_id, performed_by, metadata, idempotency_key, created_at
		FROM ledger_entries
		WHERE admin_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, adminID, limit, skip)
	if err != nil {
		return nil, fmt.Errorf("query ledger entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e model.LedgerEntry
		var related, idem *string
		var meta []byte
		if err := rows.Scan(
			&e.ID, &e.AdminID, &e.Action, &e.Amount, &e.BalanceBefore, &e.BalanceAfter,
			&e.Reason, &related, &e.PerformedBy, &meta, &idem, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		if related != nil {
			e.RelatedWeddingID = *related
		}
		if idem != nil {
			e.IdempotencyKey = *idem
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode ledger metadata: %w", err)
			}
		}
		page.Entries = append(page.Entries, e)
	}
	return page, rows.Err()
}

// applyBalanceTx runs the guarded conditional UPDATE for one ledger action.
// amount is signed: positive for ADD and positive adjustments, negative for
// DEDUCT, USED and negative adjustments.
func applyBalanceTx(ctx context.Context, tx pgx.Tx, action model.ActionType, adminID string, amount int64) (*model.CreditAccount, error) {
	var query string
	switch action {
	case model.ActionAdd:
		query = `UPDATE credit_accounts
			SET total_credits = total_credits + $2, updated_at = now()
			WHERE admin_id = $1
			RETURNING admin_id, total_credits, used_credits, created_at, updated_at`
	case model.ActionDeduct, model.ActionAdjust:
		// total_credits may never drop below used_credits: credits already
		// spent on published weddings cannot be clawed back by a manual
		// deduction or adjustment.
		query = `UPDATE credit_accounts
			SET total_credits = total_credits + $2, updated_at = now()
			WHERE admin_id = $1 AND total_credits + $2 >= used_credits
			RETURNING admin_id, total_credits, used_credits, created_at, updated_at`
	case model.ActionUsed:
		query = `UPDATE credit_accounts
			SET used_credits = used_credits - $2, updated_at = now()
			WHERE admin_id = $1 AND total_credits - used_credits + $2 >= 0
			RETURNING admin_id, total_credits, used_credits, created_at, updated_at`
	default:
		return nil, fmt.Errorf("unknown ledger action %q", action)
	}

	var acct model.CreditAccount
	err := tx.QueryRow(ctx, query, adminID, amount).Scan(
		&acct.AdminID, &acct.TotalCredits, &acct.UsedCredits, &acct.CreatedAt, &acct.UpdatedAt,
	)
	if err == nil {
		return &acct, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("update balance: %w", err)
	}

	// No row matched: either the account is unknown or the guard rejected it.
	var exists bool
	existsQuery := `SELECT EXISTS (SELECT 1 FROM credit_accounts WHERE admin_id = $1)`
	if err := tx.QueryRow(ctx, existsQuery, adminID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check account: %w", err)
	}
	if !exists {
		return nil, ErrAccountNotFound
	}
	return nil, ErrInsufficient
}

// snapshotBounds derives balance_before/balance_after for the ledger entry
// from the post-update account state. USED entries snapshot the available
// balance; all other actions snapshot total_credits.
func snapshotBounds(action model.ActionType, acct *model.CreditAccount, amount int64) (before, after int64) {
	if action == model.ActionUsed {
		after = acct.Available()
	} else {
		after = acct.TotalCredits
	}
	return after - amount, after
}

func insertLedgerTx(ctx context.Context, tx pgx.Tx, entry *model.LedgerEntry) error {
	var meta []byte
	if entry.Metadata != nil {
		b, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("encode ledger metadata: %w", err)
		}
		meta = b
	}
	var related, idem any
	if entry.RelatedWeddingID != "" {
		related = entry.RelatedWeddingID
	}
	if entry.IdempotencyKey != "" {
		idem = entry.IdempotencyKey
	}

	query := `INSERT INTO ledger_entries
			(id, admin_id, action_type, amount, balance_before, balance_after,
			 reason, related_wedding_id, performed_by, metadata, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (idempotency_key) DO NOTHING`

	tag, err := tx.Exec(ctx, query,
		entry.ID, entry.AdminID, string(entry.Action), entry.Amount,
		entry.BalanceBefore, entry.BalanceAfter, entry.Reason,
		related, entry.PerformedBy, meta, idem, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyProcessed
	}
	return nil
}
