package ledger

import "context"

// Store defines the interface for ledger persistence.
// All methods use concrete types from this package to avoid import cycles.
//
// Credit and Debit are the only mutation paths for a balance and must be
// atomic per user: a read-modify-write implemented as two unguarded storage
// calls is not a valid implementation. Adapters achieve this with whatever
// primitive the engine offers (a process mutex, a storage transaction, a
// conditional update, or a server-side script).
type Store interface {
	// GetBalance retrieves a user's balance.
	// Returns ErrBalanceNotFound when no record exists.
	GetBalance(ctx context.Context, userID string) (*Balance, error)

	// CreateBalance materializes a balance record with the given token count.
	// If a record already exists it is returned unchanged; creation never
	// clobbers a concurrent writer.
	CreateBalance(ctx context.Context, userID string, tokens int64) (*Balance, error)

	// Credit atomically adds amount to the user's balance, creating the
	// record with tokens = amount if absent. Returns the new token count.
	Credit(ctx context.Context, userID string, amount int64) (int64, error)

	// Debit atomically subtracts amount from the user's balance.
	// Returns ErrBalanceNotFound when no record exists, or an
	// *InsufficientTokensError (no mutation) when the balance is short.
	// Returns the new token count on success.
	Debit(ctx context.Context, userID string, amount int64) (int64, error)

	// RecordUsage appends a consumption event.
	RecordUsage(ctx context.Context, ev *UsageEvent) error

	// UsageTotal returns the sum of recorded usage costs for a user.
	UsageTotal(ctx context.Context, userID string) (int64, error)

	// CreatePurchase records a completed payment.
	// Returns ErrDuplicatePurchase when a purchase with the same ExternalID
	// already exists.
	CreatePurchase(ctx context.Context, p *Purchase) error

	// GetPurchase retrieves a purchase by external transaction id.
	// Returns nil if no record found (not an error).
	GetPurchase(ctx context.Context, externalID string) (*Purchase, error)

	// ListPurchases returns a user's purchases, newest first.
	ListPurchases(ctx context.Context, userID string) ([]*Purchase, error)
}
