package billing

import (
	"context"
	"net/http"

	"github.com/launchpilot/tokenledger/pkg/ledger"
)

// Provider is the generic interface that any payment backend must implement.
// This keeps the application free to swap processors with zero logic changes.
type Provider interface {
	// Name returns the provider name (e.g., "stripe")
	Name() string

	// WebhookHandler returns the HTTP handler that processes payment events.
	// The implementation handles signature verification, parsing, crediting
	// and notification internally.
	WebhookHandler() http.Handler

	// SyncSession is the manual-reconciliation fallback for when a webhook
	// is delayed or missed: it retrieves the checkout session by id from the
	// provider, verifies it is paid and belongs to the user, then applies
	// the same idempotent credit path the webhook uses.
	SyncSession(ctx context.Context, userID, sessionID string) (*ledger.Purchase, error)
}
