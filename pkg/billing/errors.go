package billing

import "errors"

var (
	// ErrProviderNotConfigured is returned when a provider is not properly configured
	ErrProviderNotConfigured = errors.New("payment provider not configured")

	// ErrInvalidWebhookSignature is returned when webhook signature validation fails
	ErrInvalidWebhookSignature = errors.New("invalid webhook signature")

	// ErrInvalidPaymentEvent is returned for a payment event missing the
	// fields needed to credit a balance. Malformed events are acknowledged
	// at the transport boundary (a retry cannot fix them) but flagged.
	ErrInvalidPaymentEvent = errors.New("invalid payment event")

	// ErrUnknownPackage is returned for a package id with no configured pack
	ErrUnknownPackage = errors.New("unknown token package")

	// ErrSessionNotPaid is returned by SyncSession for a session whose
	// payment has not completed
	ErrSessionNotPaid = errors.New("payment session not paid")

	// ErrSessionUserMismatch is returned by SyncSession when the session
	// does not belong to the requesting user
	ErrSessionUserMismatch = errors.New("payment session does not belong to user")

	// ErrProviderAPIError is returned when the provider's API returns an error
	ErrProviderAPIError = errors.New("payment provider API error")
)
