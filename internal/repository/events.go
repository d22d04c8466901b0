package repository

import (
	"time"

	"vowsuite/internal/model"
)

const (
	TopicLedgerRecorded   = "ledger.recorded"
	TopicWeddingPublished = "weddings.published"
	TopicWeddingUpgraded  = "weddings.upgraded"
	TopicWeddingArchived  = "weddings.archived"

	// TopicCreditGrant carries AddCredits commands from the payment webhook
	// service; consumed by the NATS command handler.
	TopicCreditGrant = "commands.credits.add"
)

// LedgerRecordedEvent is published after every committed ledger entry.
type LedgerRecordedEvent struct {
	EntryID          string           `json:"entry_id"`
	AdminID          string           `json:"admin_id"`
	Action           model.ActionType `json:"action_type"`
	Amount           int64            `json:"amount"`
	RelatedWeddingID string           `json:"related_wedding_id,omitempty"`
	Reason           string           `json:"reason"`
	CreatedAt        time.Time        `json:"created_at"`
}

// WeddingLifecycleEvent is published after a wedding changes status or
// selection.
type WeddingLifecycleEvent struct {
	WeddingID      string              `json:"wedding_id"`
	AdminID        string              `json:"admin_id"`
	Status         model.WeddingStatus `json:"status"`
	ChargedCredits int64               `json:"charged_credits"`
	OccurredAt     time.Time           `json:"occurred_at"`
}
