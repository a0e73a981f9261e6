package billing

import (
	"net/http"

	"github.com/launchpilot/tokenledger/pkg/ledger"
)

// Package describes a purchasable token pack.
type Package struct {
	// PriceID is the provider-side price identifier
	PriceID string

	// Tokens is the number of tokens the pack grants
	Tokens int64

	// Name is the display name recorded on purchases
	Name string
}

// Notifier pushes a new balance to a user's open channels.
// *notify.Hub satisfies this; delivery is best-effort and a provider never
// fails a payment flow over it.
type Notifier interface {
	Publish(userID string, tokens int64) int
}

// Config defines the standard configuration all providers should accept
type Config struct {
	// Ledger is the balance service credited by payment events (required)
	Ledger *ledger.Service

	// Notifier receives the new balance after a successful credit (optional)
	Notifier Notifier

	// Packages maps package ids to their token packs
	Packages map[string]Package

	// WebhookSecret is used to verify incoming webhook requests
	WebhookSecret string

	// APIKey is used for outbound API calls to the provider (e.g. SyncSession)
	APIKey string

	// HTTPClient is an optional HTTP client for API calls.
	// If nil, a default client with 10s timeout will be used.
	HTTPClient *http.Client

	// Logger is used for structured logging (default: NoopLogger)
	Logger ledger.Logger

	// Metrics is an optional metrics collector for payment operations.
	// If nil, metrics are silently ignored (no-op).
	Metrics Metrics
}
