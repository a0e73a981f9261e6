package ledger

import (
	"context"
	"fmt"
)

// Gate is the pre-flight check for token-costing operations.
//
// Check authorizes without debiting; the caller runs the paid operation and
// calls Settle only when it succeeded, so a failed generation never consumes
// tokens. Two concurrent requests can both pass Check before either settles;
// the transient over-spend is caught at the next check rather than blocked
// here. That window is an accepted property of the check/act/settle ordering,
// not a bug to lock around.
type Gate struct {
	service *Service
}

// NewGate creates a feature gate backed by the given balance service.
func NewGate(service *Service) (*Gate, error) {
	if service == nil {
		return nil, ErrStorageUnavailable
	}
	return &Gate{service: service}, nil
}

// Check verifies the user can afford the feature and returns its cost.
// Performs no mutation. Fails with an *InsufficientTokensError carrying the
// exact shortfall, or ErrUnknownFeature for a feature with no configured cost.
func (g *Gate) Check(ctx context.Context, userID string, feature Feature) (int64, error) {
	cost, err := g.service.Cost(feature)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", err, feature)
	}

	bal, err := g.service.GetBalance(ctx, userID)
	if err != nil {
		return 0, err
	}
	if bal.Tokens < cost {
		return 0, &InsufficientTokensError{Required: cost, Available: bal.Tokens}
	}
	return cost, nil
}

// Settle debits the feature's cost and appends a usage event. Call it only
// after the protected operation succeeded. Returns the new token count.
//
// A usage-record failure after a successful debit is logged and absorbed:
// the debit is the authoritative mutation and is not rolled back for a
// bookkeeping miss.
func (g *Gate) Settle(ctx context.Context, userID string, feature Feature) (int64, error) {
	cost, err := g.service.Cost(feature)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", err, feature)
	}

	newTokens, err := g.service.Debit(ctx, userID, cost)
	if err != nil {
		return 0, err
	}

	if err := g.service.RecordUsage(ctx, &UsageEvent{
		UserID:  userID,
		Feature: feature,
		Cost:    cost,
	}); err != nil {
		g.service.config.Logger.Warn("usage event not recorded",
			Field{Key: "user_id", Value: userID},
			Field{Key: "feature", Value: string(feature)},
			Field{Key: "error", Value: err.Error()})
	}
	return newTokens, nil
}
