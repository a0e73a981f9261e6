package stripe

import (
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/launchpilot/tokenledger/pkg/billing"
	"github.com/launchpilot/tokenledger/pkg/billing/internal"
	"github.com/launchpilot/tokenledger/pkg/ledger"
)

const (
	providerName             = "stripe"
	defaultHTTPTimeout       = 10 * time.Second
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
	maxWebhookBody           = 256 * 1024

	paymentStatusPaid = "paid"
)

// Metadata keys attached to checkout sessions. The webhook handler and
// SyncSession both read these back, so the keys must stay in sync with
// CheckoutURL.
const (
	metaUserID      = "user_id"
	metaPackageID   = "package_id"
	metaTokens      = "tokens"
	metaPackageName = "package_name"
)

// Config extends billing.Config with Stripe-specific options
type Config struct {
	billing.Config // Base config (Ledger, Notifier, Packages, etc.)

	// Stripe-specific
	StripeAPIKey        string
	StripeWebhookSecret string
}

// Provider implements the billing.Provider interface for Stripe
type Provider struct {
	ledger        *ledger.Service
	notifier      billing.Notifier
	packages      map[string]billing.Package
	httpClient    *http.Client
	rateLimiter   *internal.RateLimiter
	webhookSecret []byte
	apiKey        string
	stripeClient  *stripe.Client
	logger        ledger.Logger
	metrics       billing.Metrics
}

// NewProvider creates a new Stripe payment provider
func NewProvider(config Config) (*Provider, error) {
	if config.Ledger == nil {
		return nil, billing.ErrProviderNotConfigured
	}

	apiKey := strings.TrimSpace(config.StripeAPIKey)
	if apiKey == "" {
		apiKey = strings.TrimSpace(config.APIKey)
	}
	if apiKey == "" {
		return nil, billing.ErrProviderNotConfigured
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: defaultHTTPTimeout,
		}
	}

	stripeClient := stripe.NewClient(apiKey)

	webhookSecretStr := strings.TrimSpace(config.StripeWebhookSecret)
	if webhookSecretStr == "" {
		webhookSecretStr = strings.TrimSpace(config.WebhookSecret)
	}
	webhookSecret := []byte(webhookSecretStr)

	packages := make(map[string]billing.Package, len(config.Packages))
	for id, pkg := range config.Packages {
		packages[id] = pkg
	}

	logger := config.Logger
	if logger == nil {
		logger = &ledger.NoopLogger{}
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}

	limiter := internal.NewRateLimiter(defaultRateLimitRequests, defaultRateLimitWindow)

	return &Provider{
		ledger:        config.Ledger,
		notifier:      config.Notifier,
		packages:      packages,
		httpClient:    httpClient,
		rateLimiter:   limiter,
		webhookSecret: webhookSecret,
		apiKey:        apiKey,
		stripeClient:  stripeClient,
		logger:        logger,
		metrics:       metrics,
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Stripe webhooks,
// wrapped with per-IP rate limiting.
func (p *Provider) WebhookHandler() http.Handler {
	handler := http.HandlerFunc(p.handleWebhook)
	return p.rateLimiter.Middleware(handler)
}

// Package returns the configured token package for the given ID.
func (p *Provider) Package(id string) (billing.Package, bool) {
	pkg, ok := p.packages[id]
	return pkg, ok
}

// notify pushes the user's new balance to connected clients.
// Delivery is best effort; a nil notifier is fine.
func (p *Provider) notify(userID string, tokens int64) {
	if p.notifier == nil {
		return
	}
	p.notifier.Publish(userID, tokens)
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
