package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sethvargo/go-retry"

	"vowsuite/internal/repository"
)

// NotificationStore is where processed ledger events land. The production
// implementation dedupes on entry id, so redelivery is safe.
type NotificationStore interface {
	RecordNotification(ctx context.Context, event repository.LedgerRecordedEvent) error
}

// LedgerNotifier listens on the ledger event topic and materialises the
// per-admin notification feed. It is the audit/notification sink the credit
// core publishes into.
type LedgerNotifier struct {
	store    NotificationStore
	natsConn *nats.Conn
}

func NewLedgerNotifier(store NotificationStore, nc *nats.Conn) *LedgerNotifier {
	return &LedgerNotifier{store: store, natsConn: nc}
}

// Run subscribes to the ledger topic and blocks until ctx is cancelled.
func (w *LedgerNotifier) Run(ctx context.Context) error {
	// QueueSubscribe: with several API instances running, each event is
	// delivered to exactly one notifier in the group.
	sub, err := w.natsConn.QueueSubscribe(repository.TopicLedgerRecorded, "notifier_group", func(m *nats.Msg) {
		if err := w.Process(ctx, m.Data); err != nil {
			slog.Error("notifier: failed to process ledger event", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("notifier: failed to subscribe to NATS: %w", err)
	}

	slog.Info("Ledger notifier is running")

	// Wait for shutdown signal.
	<-ctx.Done()

	slog.Info("Notifier received shutdown signal, draining subscription...")
	return sub.Drain()
}

// Process decodes one ledger event and records it, retrying transient store
// failures with exponential backoff before giving up.
func (w *LedgerNotifier) Process(ctx context.Context, data []byte) error {
	var event repository.LedgerRecordedEvent
	if err := json.Unmarshal(data, &event); err != nil {
		// Malformed payloads never succeed on retry; drop them.
		return fmt.Errorf("decode ledger event: %w", err)
	}

	backoff := retry.WithMaxRetries(5, retry.NewExponential(100*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := w.store.RecordNotification(ctx, event); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record notification for entry %s: %w", event.EntryID, err)
	}

	slog.Info("notifier: ledger event recorded",
		"entry_id", event.EntryID,
		"admin_id", event.AdminID,
		"action", event.Action,
	)
	return nil
}

// Start implements the infrastructure.Server interface.
func (w *LedgerNotifier) Start(ctx context.Context) error {
	return w.Run(ctx)
}

// Stop implements the infrastructure.Server interface (no-op, shutdown is via ctx).
func (w *LedgerNotifier) Stop(ctx context.Context) error {
	return nil
}
