package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/launchpilot/tokenledger/pkg/billing"
	"github.com/launchpilot/tokenledger/pkg/billing/internal"
	"github.com/launchpilot/tokenledger/pkg/ledger"
)

// handleWebhook processes incoming Stripe webhook events.
//
// Requests that fail signature verification are rejected with 401. Once the
// signature is verified the event is known to be genuine, so processing
// failures are acknowledged with 200 and flagged through logs and metrics
// instead: returning an error would only make Stripe redeliver an event we
// already know how to handle, and redelivery is made safe by purchase
// idempotency anyway.
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	setSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if len(p.webhookSecret) == 0 {
		http.Error(w, "webhook not configured", http.StatusServiceUnavailable)
		return
	}

	select {
	case <-r.Context().Done():
		http.Error(w, "request timeout", http.StatusRequestTimeout)
		return
	default:
	}

	body, err := internal.ReadBodyStrict(w, r, maxWebhookBody)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
		} else {
			http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
		}
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if sig == "" {
		sig = r.Header.Get("stripe-signature")
	}

	event, err := stripe.ConstructEvent(body, sig, string(p.webhookSecret))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		return
	}

	eventType := string(event.Type)
	if eventType == "" {
		eventType = "UNKNOWN"
	}

	status := "success"
	if err := p.processWebhookEvent(r.Context(), &event); err != nil {
		// Signature already verified: acknowledge and flag rather than
		// trigger redelivery.
		p.logger.Error("webhook processing failed",
			ledger.Field{Key: "provider", Value: providerName},
			ledger.Field{Key: "event_type", Value: eventType},
			ledger.Field{Key: "event_id", Value: event.ID},
			ledger.Field{Key: "error", Value: err.Error()},
		)
		p.metrics.RecordWebhookError(providerName, "processing_error")
		status = "error"
	}

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		return
	}

	p.metrics.RecordWebhookEvent(providerName, eventType, status)
	p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
}

func (p *Provider) processWebhookEvent(ctx context.Context, event *stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		return p.handleCheckoutCompleted(ctx, event)
	default:
		// Unknown event type - ignore silently
		return nil
	}
}

// handleCheckoutCompleted credits a completed one-time token purchase.
func (p *Provider) handleCheckoutCompleted(ctx context.Context, event *stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("failed to unmarshal checkout session: %w", err)
	}

	// Sessions can complete with deferred payment methods; only paid
	// sessions grant tokens.
	if string(session.PaymentStatus) != paymentStatusPaid {
		p.logger.Debug("skipping unpaid checkout session",
			ledger.Field{Key: "session_id", Value: session.ID},
			ledger.Field{Key: "payment_status", Value: string(session.PaymentStatus)},
		)
		return nil
	}

	pe, err := p.paymentEventFromSession(&session)
	if err != nil {
		return err
	}

	balance, err := p.ledger.CreditFromPurchase(ctx, &ledger.Purchase{
		UserID:      pe.UserID,
		PackageID:   pe.PackageID,
		PackageName: pe.PackageName,
		Tokens:      pe.Tokens,
		AmountMinor: pe.AmountMinor,
		Currency:    pe.Currency,
		ExternalID:  pe.ExternalID,
		Status:      ledger.PurchaseStatusCompleted,
	})
	if err != nil {
		return fmt.Errorf("failed to credit purchase %s: %w", pe.ExternalID, err)
	}

	p.logger.Info("checkout session credited",
		ledger.Field{Key: "user_id", Value: pe.UserID},
		ledger.Field{Key: "session_id", Value: pe.ExternalID},
		ledger.Field{Key: "tokens", Value: pe.Tokens},
		ledger.Field{Key: "balance", Value: balance},
	)

	p.notify(pe.UserID, balance)
	return nil
}

// paymentEventFromSession converts a checkout session into a normalized
// payment event using the metadata attached at session creation.
func (p *Provider) paymentEventFromSession(session *stripe.CheckoutSession) (*billing.PaymentEvent, error) {
	if session.Metadata == nil {
		return nil, fmt.Errorf("%w: session %s has no metadata", billing.ErrInvalidPaymentEvent, session.ID)
	}

	userID := session.Metadata[metaUserID]
	if userID == "" {
		return nil, fmt.Errorf("%w: metadata.%s missing on session %s",
			billing.ErrInvalidPaymentEvent, metaUserID, session.ID)
	}

	packageID := session.Metadata[metaPackageID]
	packageName := session.Metadata[metaPackageName]

	tokens, err := strconv.ParseInt(session.Metadata[metaTokens], 10, 64)
	if err != nil || tokens <= 0 {
		// Fall back to the configured package when the metadata token
		// count is absent or mangled.
		pkg, ok := p.packages[packageID]
		if !ok {
			return nil, fmt.Errorf("%w: session %s has no usable token count",
				billing.ErrInvalidPaymentEvent, session.ID)
		}
		tokens = pkg.Tokens
		if packageName == "" {
			packageName = pkg.Name
		}
	}

	return &billing.PaymentEvent{
		UserID:      userID,
		PackageID:   packageID,
		PackageName: packageName,
		Tokens:      tokens,
		AmountMinor: session.AmountTotal,
		Currency:    string(session.Currency),
		ExternalID:  session.ID,
		Timestamp:   time.Unix(session.Created, 0),
	}, nil
}
