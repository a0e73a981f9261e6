package ledger

import "time"

// Feature identifies a token-costing generation capability.
type Feature string

const (
	// FeatureSimpleIdea is the lightweight idea generator
	FeatureSimpleIdea Feature = "simple-idea"
	// FeatureAdvancedIdea is the full startup plan generator
	FeatureAdvancedIdea Feature = "advanced-idea"
	// FeatureSectionRewrite regenerates a single section of a plan
	FeatureSectionRewrite Feature = "section-rewrite"
	// FeatureContentIdeas generates content marketing ideas for a plan
	FeatureContentIdeas Feature = "content-ideas"
	// FeatureMVPImplementation generates an MVP implementation outline
	FeatureMVPImplementation Feature = "mvp-implementation"
	// FeatureSEOStrategy generates an SEO strategy for a plan
	FeatureSEOStrategy Feature = "seo-strategy"
)

// Balance is a user's current token count.
// Tokens is never negative; every mutation also bumps UpdatedAt.
type Balance struct {
	UserID    string
	Tokens    int64
	UpdatedAt time.Time
}

// UsageEvent records one feature consumption against a user.
// Events are append-only and immutable once written.
type UsageEvent struct {
	UserID    string
	Feature   Feature
	Cost      int64
	Timestamp time.Time
}

// PurchaseStatusCompleted is the only purchase status currently modeled.
const PurchaseStatusCompleted = "completed"

// Purchase records one completed payment event.
// ExternalID is the payment processor's session/transaction id and acts as
// the idempotency key for webhook retries: at most one Purchase exists per
// ExternalID.
type Purchase struct {
	UserID      string
	PackageID   string
	PackageName string
	Tokens      int64
	AmountMinor int64
	Currency    string
	ExternalID  string
	Status      string
	CreatedAt   time.Time
}

// Config holds balance service configuration
type Config struct {
	// InitialGrant is credited when a user's balance is first materialized
	// (default: 10)
	InitialGrant int64

	// Costs maps features to their token price (default: DefaultCosts())
	Costs map[Feature]int64

	// Logger is used for structured logging (default: NoopLogger)
	Logger Logger

	// Metrics is used for tracking ledger operations (default: NoopMetrics)
	Metrics Metrics
}

// DefaultCosts returns the default token price per feature.
// These are product configuration, not core logic; override via Config.Costs.
func DefaultCosts() map[Feature]int64 {
	return map[Feature]int64{
		FeatureSimpleIdea:        1,
		FeatureAdvancedIdea:      5,
		FeatureSectionRewrite:    2,
		FeatureContentIdeas:      3,
		FeatureMVPImplementation: 5,
		FeatureSEOStrategy:       3,
	}
}
