package stripe

import (
	"context"
	"fmt"
	"time"

	"github.com/launchpilot/tokenledger/pkg/billing"
	"github.com/launchpilot/tokenledger/pkg/ledger"
)

// SyncSession reconciles a checkout session directly against the Stripe API.
// It exists as a recovery path for webhook delivery failures: the client
// returns from the hosted payment page with the session id, and the caller
// can force the credit through here.
//
// The caller's userID must match the session metadata; crediting goes through
// the same idempotent purchase recording as the webhook path, so invoking
// this after a successful webhook is a no-op.
func (p *Provider) SyncSession(ctx context.Context, userID, sessionID string) (*ledger.Purchase, error) {
	startTime := time.Now()

	session, err := p.stripeClient.V1CheckoutSessions.Retrieve(ctx, sessionID, nil)
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/checkout/sessions/retrieve", "error")
		p.metrics.RecordSessionSync(providerName, "error")
		return nil, fmt.Errorf("%w: %v", billing.ErrProviderAPIError, err)
	}
	p.metrics.RecordAPICall(providerName, "/checkout/sessions/retrieve", "success")
	p.metrics.RecordAPICallDuration(providerName, "/checkout/sessions/retrieve", time.Since(startTime))

	if string(session.PaymentStatus) != paymentStatusPaid {
		p.metrics.RecordSessionSync(providerName, "error")
		return nil, fmt.Errorf("%w: session %s status %q",
			billing.ErrSessionNotPaid, sessionID, session.PaymentStatus)
	}

	pe, err := p.paymentEventFromSession(session)
	if err != nil {
		p.metrics.RecordSessionSync(providerName, "error")
		return nil, err
	}

	// A session id is enough to retrieve someone else's session; refuse to
	// credit unless the authenticated caller owns it.
	if pe.UserID != userID {
		p.metrics.RecordSessionSync(providerName, "error")
		return nil, fmt.Errorf("%w: session %s", billing.ErrSessionUserMismatch, sessionID)
	}

	purchase := &ledger.Purchase{
		UserID:      pe.UserID,
		PackageID:   pe.PackageID,
		PackageName: pe.PackageName,
		Tokens:      pe.Tokens,
		AmountMinor: pe.AmountMinor,
		Currency:    pe.Currency,
		ExternalID:  pe.ExternalID,
		Status:      ledger.PurchaseStatusCompleted,
	}

	balance, err := p.ledger.CreditFromPurchase(ctx, purchase)
	if err != nil {
		p.metrics.RecordSessionSync(providerName, "error")
		return nil, fmt.Errorf("failed to credit purchase %s: %w", pe.ExternalID, err)
	}

	p.logger.Info("session reconciled",
		ledger.Field{Key: "user_id", Value: userID},
		ledger.Field{Key: "session_id", Value: sessionID},
		ledger.Field{Key: "tokens", Value: pe.Tokens},
		ledger.Field{Key: "balance", Value: balance},
	)

	p.metrics.RecordSessionSync(providerName, "success")
	p.notify(userID, balance)

	return purchase, nil
}
