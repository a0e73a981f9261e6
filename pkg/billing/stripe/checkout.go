package stripe

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/launchpilot/tokenledger/pkg/billing"
)

// CheckoutURL creates a one-time payment Checkout Session for a token pack
// and returns the hosted payment page URL.
//
// The session carries the user and pack in metadata; the webhook handler
// reads the same keys back when the payment completes, so checkout is the
// single place the mapping is established.
func (p *Provider) CheckoutURL(ctx context.Context, userID, packageID, successURL, cancelURL string) (string, error) {
	startTime := time.Now()

	pkg, ok := p.packages[packageID]
	if !ok {
		p.metrics.RecordAPICall(providerName, "/checkout/sessions", "unknown_package")
		return "", fmt.Errorf("%w: %s", billing.ErrUnknownPackage, packageID)
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(pkg.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
	}

	params.Metadata = map[string]string{
		metaUserID:      userID,
		metaPackageID:   packageID,
		metaTokens:      strconv.FormatInt(pkg.Tokens, 10),
		metaPackageName: pkg.Name,
	}
	params.ClientReferenceID = stripe.String(userID)

	session, err := p.stripeClient.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/checkout/sessions", "error")
		p.metrics.RecordAPICallDuration(providerName, "/checkout/sessions", time.Since(startTime))
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}

	p.metrics.RecordAPICall(providerName, "/checkout/sessions", "success")
	p.metrics.RecordAPICallDuration(providerName, "/checkout/sessions", time.Since(startTime))

	return session.URL, nil
}
