package nats

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/nats-io/nats.go"

	"vowsuite/internal/model"
	"vowsuite/internal/repository"
	"vowsuite/internal/service"
)

// Handler consumes credit-grant commands from the payment webhook service.
// When a credit purchase settles, the webhook service publishes an AddCredits
// command here instead of calling the HTTP API, so grants survive API restarts.
type Handler struct {
	credits service.CreditOperations
	nc      *nats.Conn
	subs    []*nats.Subscription
}

func NewHandler(credits service.CreditOperations, nc *nats.Conn) *Handler {
	return &Handler{credits: credits, nc: nc}
}

// Start subscribes to the command topic and blocks until ctx is cancelled.
func (h *Handler) Start(ctx context.Context) error {
	sub, err := h.nc.QueueSubscribe(repository.TopicCreditGrant, "credits_group", func(m *nats.Msg) {
		var req model.AddCreditsRequest
		if err := json.Unmarshal(m.Data, &req); err != nil {
			slog.Error("nats: failed to unmarshal credit grant command", "error", err)
			return
		}
		if _, err := h.credits.AddCredits(ctx, req); err != nil {
			// Duplicate grants are expected on webhook redelivery; everything
			// else deserves attention.
			if errors.Is(err, service.ErrDuplicateRequest) {
				slog.Info("nats: credit grant already applied", "admin_id", req.AdminID, "key", req.IdempotencyKey)
				return
			}
			slog.Error("nats: credit grant failed", "error", err, "admin_id", req.AdminID)
		}
	})
	if err != nil {
		return err
	}
	h.subs = append(h.subs, sub)

	slog.Info("NATS credit command handler is running")

	// Block until context is cancelled.
	<-ctx.Done()
	slog.Info("NATS credit command handler shutting down, draining subscriptions...")

	for _, s := range h.subs {
		_ = s.Drain()
	}
	return nil
}

func (h *Handler) Stop(ctx context.Context) error {
	for _, s := range h.subs {
		_ = s.Unsubscribe()
	}
	return nil
}
