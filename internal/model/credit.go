package model

import "time"

// ActionType classifies a ledger entry. The set is closed: every
// balance-affecting operation maps to exactly one of these.
type ActionType string

const (
	ActionAdd    ActionType = "ADD"
	ActionDeduct ActionType = "DEDUCT"
	ActionUsed   ActionType = "USED"
	ActionAdjust ActionType = "ADJUST"
)

// CreditAccount holds the running totals for one admin. The ledger is the
// audit trail; these fields are the authoritative balance.
type CreditAccount struct {
	AdminID      string    `json:"admin_id"`
	TotalCredits int64     `json:"total_credits"`
	UsedCredits  int64     `json:"used_credits"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Available is the spendable balance: total minus used.
func (a *CreditAccount) Available() int64 {
	return a.TotalCredits - a.UsedCredits
}

// Balance is the read-model returned to callers.
type Balance struct {
	Total     int64 `json:"total_credits"`
	Used      int64 `json:"used_credits"`
	Available int64 `json:"available_credits"`
}

// LedgerEntry is one immutable row of the audit trail. Amount is signed:
// positive for grants, negative for deductions and usage. BalanceBefore and
// BalanceAfter snapshot total_credits for ADD/DEDUCT/ADJUST and the available
// balance for USED.
type LedgerEntry struct {
	ID               string         `json:"id"`
	AdminID          string         `json:"admin_id"`
	Action           ActionType     `json:"action_type"`
	Amount           int64          `json:"amount"`
	BalanceBefore    int64          `json:"balance_before"`
	BalanceAfter     int64          `json:"balance_after"`
	Reason           string         `json:"reason"`
	RelatedWeddingID string         `json:"related_wedding_id,omitempty"`
	PerformedBy      string         `json:"performed_by"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	IdempotencyKey   string         `json:"idempotency_key,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

type AddCreditsRequest struct {
	AdminID        string         `json:"admin_id"`
	Amount         int64          `json:"amount"`
	Reason         string         `json:"reason"`
	PerformedBy    string         `json:"performed_by"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

type DeductCreditsRequest struct {
	AdminID          string         `json:"admin_id"`
	Amount           int64          `json:"amount"`
	Reason           string         `json:"reason"`
	PerformedBy      string         `json:"performed_by"`
	RelatedWeddingID string         `json:"related_wedding_id,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	IdempotencyKey   string         `json:"idempotency_key,omitempty"`
}

type UseCreditsRequest struct {
	AdminID          string         `json:"admin_id"`
	Amount           int64          `json:"amount"`
	Reason           string         `json:"reason"`
	RelatedWeddingID string         `json:"related_wedding_id"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	IdempotencyKey   string         `json:"idempotency_key,omitempty"`
}

type AdjustCreditsRequest struct {
	AdminID     string         `json:"admin_id"`
	Amount      int64          `json:"amount"`
	Reason      string         `json:"reason"`
	PerformedBy string         `json:"performed_by"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// LedgerPage is one page of ledger history, newest first.
type LedgerPage struct {
	Entries []LedgerEntry `json:"entries"`
	Total   int64         `json:"total"`
}
