package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NotificationRepo persists the per-admin notification feed the worker builds
// from ledger events. The entry id is the primary key, so redelivered events
// collapse into a single row.
type NotificationRepo struct {
	db *pgxpool.Pool
}

func NewNotificationRepo(db *pgxpool.Pool) *NotificationRepo {
	return &NotificationRepo{db: db}
}

func (r *NotificationRepo) RecordNotification(ctx context.Context, event LedgerRecordedEvent) error {
	query := `INSERT INTO ledger_notifications (entry_id, admin_id, action_type, amount, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (entry_id) DO NOTHING`

	_, err := r.db.Exec(ctx, query,
		event.EntryID, event.AdminID, string(event.Action), event.Amount, event.Reason, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record notification: %w", err)
	}
	return nil
}
