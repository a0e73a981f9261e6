package billing

import "time"

// PaymentEvent is the provider-neutral form of a payment-completed
// notification, decoded and verified by a provider before processing.
type PaymentEvent struct {
	// UserID is the internal user identifier
	UserID string

	// PackageID is the purchased token pack
	PackageID string

	// PackageName is the pack's display name at purchase time
	PackageName string

	// Tokens is the token quantity purchased
	Tokens int64

	// AmountMinor is the charged amount in currency minor units
	AmountMinor int64

	// Currency is the ISO currency code
	Currency string

	// ExternalID is the provider's session/transaction id; unique per
	// payment and the idempotency key for retries
	ExternalID string

	// Timestamp is when the event occurred (from the provider)
	Timestamp time.Time
}
