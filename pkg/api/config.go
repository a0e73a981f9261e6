package api

import (
	"net/http"

	"github.com/launchpilot/tokenledger/pkg/billing"
	"github.com/launchpilot/tokenledger/pkg/ledger"
	"github.com/launchpilot/tokenledger/pkg/notify"
)

// Config holds the dependencies of the token HTTP API.
type Config struct {
	// Ledger is the balance service (required)
	Ledger *ledger.Service

	// Hub delivers real-time balance updates (optional; the stream endpoint
	// returns 404 when nil)
	Hub *notify.Hub

	// Provider handles manual purchase verification (optional; the verify
	// endpoint returns 404 when nil)
	Provider billing.Provider

	// GetUserID extracts the authenticated user from a request (required)
	GetUserID notify.UserIDExtractor

	// OnError is called for unexpected internal errors.
	// If nil, a generic 500 JSON body is written.
	OnError func(w http.ResponseWriter, r *http.Request, err error)

	// Logger is used for structured logging (default: NoopLogger)
	Logger ledger.Logger
}
