package model

import "time"

type WeddingStatus string

const (
	StatusDraft     WeddingStatus = "draft"
	StatusPublished WeddingStatus = "published"
	StatusArchived  WeddingStatus = "archived"
)

// Wedding is the invitation project whose lifecycle is gated by credit
// availability. Only the fields the ledger and lifecycle care about live here;
// theme content, galleries and RSVP data belong to other services.
type Wedding struct {
	ID                string        `json:"id"`
	AdminID           string        `json:"admin_id"`
	Status            WeddingStatus `json:"status"`
	Slug              string        `json:"slug"`
	Title             string        `json:"title"`
	GroomName         string        `json:"groom_name"`
	BrideName         string        `json:"bride_name"`
	EventDate         *time.Time    `json:"event_date,omitempty"`
	Venue             string        `json:"venue"`
	SelectedDesignKey string        `json:"selected_design_key"`
	SelectedFeatures  []string      `json:"selected_features"`
	TotalCreditCost   int64         `json:"total_credit_cost"`
	PublishedAt       *time.Time    `json:"published_at,omitempty"`
	IsActive          bool          `json:"is_active"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// FeatureCost is one row of the externally maintained pricing registry.
// Design themes are registered under the key "theme_<design_key>".
type FeatureCost struct {
	FeatureKey  string `json:"feature_key"`
	DisplayName string `json:"display_name"`
	CreditCost  int64  `json:"credit_cost"`
	Enabled     bool   `json:"enabled"`
}

const (
	CostItemDesign = "design"
	CostItemAddon  = "addon"
)

// CostLine is one item of a cost breakdown.
type CostLine struct {
	Item string `json:"item"`
	Kind string `json:"type"`
	Cost int64  `json:"cost"`
}

// CostBreakdown itemizes what a publish or upgrade would charge.
type CostBreakdown struct {
	Total int64      `json:"total"`
	Lines []CostLine `json:"breakdown"`
}

// PublishResult reports a successful publish: the new wedding state, what it
// cost and what the admin has left.
type PublishResult struct {
	Wedding          *Wedding      `json:"wedding"`
	ChargedCredits   int64         `json:"charged_credits"`
	RemainingCredits int64         `json:"remaining_credits"`
	Breakdown        CostBreakdown `json:"cost_breakdown"`
}

// UpgradeResult reports a feature/design change on a published wedding.
// ChargedCredits is zero for downgrades.
type UpgradeResult struct {
	Wedding          *Wedding      `json:"wedding"`
	ChargedCredits   int64         `json:"charged_credits"`
	RemainingCredits int64         `json:"remaining_credits"`
	Breakdown        CostBreakdown `json:"cost_breakdown"`
}

type UpgradeRequest struct {
	WeddingID string    `json:"wedding_id"`
	AdminID   string    `json:"admin_id"`
	DesignKey *string   `json:"new_design_key,omitempty"`
	Features  *[]string `json:"new_features,omitempty"`
}
