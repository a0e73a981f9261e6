package ledger

import (
	"context"
	"errors"
	"time"
)

const defaultInitialGrant = 10

// Service is the balance update service: the single write path for user
// token balances. It layers the first-use grant, amount validation, purchase
// idempotency and observability on top of a Store; per-user atomicity of the
// underlying mutations is the Store's contract.
type Service struct {
	store  Store
	config Config
}

// NewService creates a new balance service with the given store and configuration
func NewService(store Store, config Config) (*Service, error) {
	if store == nil {
		return nil, ErrStorageUnavailable
	}

	// Set defaults
	if config.InitialGrant == 0 {
		config.InitialGrant = defaultInitialGrant
	}
	if config.Costs == nil {
		config.Costs = DefaultCosts()
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}

	return &Service{
		store:  store,
		config: config,
	}, nil
}

// Cost returns the configured token price for a feature.
func (s *Service) Cost(feature Feature) (int64, error) {
	cost, ok := s.config.Costs[feature]
	if !ok {
		return 0, ErrUnknownFeature
	}
	return cost, nil
}

// GetBalance returns the user's balance, materializing the record with the
// first-use grant if the user has never been seen before.
func (s *Service) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	start := time.Now()
	bal, err := s.store.GetBalance(ctx, userID)
	s.config.Metrics.RecordStorageOperation("get_balance", time.Since(start), ignoreNotFound(err))
	if err == nil {
		return bal, nil
	}
	if !errors.Is(err, ErrBalanceNotFound) {
		return nil, err
	}

	bal, err = s.grant(ctx, userID)
	if err != nil {
		return nil, err
	}
	return bal, nil
}

// Credit atomically adds amount to the user's balance and returns the new
// token count. The record is created if absent.
func (s *Service) Credit(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	start := time.Now()
	newTokens, err := s.store.Credit(ctx, userID, amount)
	s.config.Metrics.RecordStorageOperation("credit", time.Since(start), err)
	s.config.Metrics.RecordCredit(amount, err == nil)
	if err != nil {
		s.config.Logger.Error("credit failed",
			Field{Key: "user_id", Value: userID},
			Field{Key: "amount", Value: amount},
			Field{Key: "error", Value: err.Error()})
		return 0, err
	}

	s.config.Logger.Info("balance credited",
		Field{Key: "user_id", Value: userID},
		Field{Key: "amount", Value: amount},
		Field{Key: "tokens", Value: newTokens})
	return newTokens, nil
}

// Debit atomically subtracts amount from the user's balance and returns the
// new token count. A user with no record is first materialized with the
// first-use grant, so a debit is a balance query in the lifecycle sense.
// A rejected debit leaves the balance untouched and returns an
// *InsufficientTokensError carrying the exact shortfall; it is an expected
// outcome, not logged as an application error.
func (s *Service) Debit(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	newTokens, err := s.debitOnce(ctx, userID, amount)
	if errors.Is(err, ErrBalanceNotFound) {
		if _, grantErr := s.grant(ctx, userID); grantErr != nil {
			return 0, grantErr
		}
		newTokens, err = s.debitOnce(ctx, userID, amount)
	}

	insufficient := errors.Is(err, ErrInsufficientTokens)
	s.config.Metrics.RecordDebit(amount, err == nil, insufficient)
	if err != nil {
		if insufficient {
			s.config.Logger.Debug("debit rejected",
				Field{Key: "user_id", Value: userID},
				Field{Key: "amount", Value: amount})
		} else {
			s.config.Logger.Error("debit failed",
				Field{Key: "user_id", Value: userID},
				Field{Key: "amount", Value: amount},
				Field{Key: "error", Value: err.Error()})
		}
		return 0, err
	}

	s.config.Logger.Info("balance debited",
		Field{Key: "user_id", Value: userID},
		Field{Key: "amount", Value: amount},
		Field{Key: "tokens", Value: newTokens})
	return newTokens, nil
}

// CreditFromPurchase applies a completed payment exactly once.
//
// The Purchase is recorded before the balance is touched: CreatePurchase is
// the deduplication point, so when two deliveries of the same payment event
// race, at most one records the purchase and credits. A replayed event
// returns the current balance and a nil error (no-op success).
func (s *Service) CreditFromPurchase(ctx context.Context, p *Purchase) (int64, error) {
	if p == nil || p.UserID == "" || p.ExternalID == "" {
		return 0, ErrInvalidAmount
	}
	if p.Tokens <= 0 {
		return 0, ErrInvalidAmount
	}
	if p.Status == "" {
		p.Status = PurchaseStatusCompleted
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	start := time.Now()
	err := s.store.CreatePurchase(ctx, p)
	s.config.Metrics.RecordStorageOperation("create_purchase", time.Since(start), ignoreDuplicate(err))
	if errors.Is(err, ErrDuplicatePurchase) {
		s.config.Metrics.RecordDuplicatePurchase()
		s.config.Logger.Info("duplicate payment event ignored",
			Field{Key: "user_id", Value: p.UserID},
			Field{Key: "external_id", Value: p.ExternalID})
		bal, balErr := s.GetBalance(ctx, p.UserID)
		if balErr != nil {
			return 0, balErr
		}
		return bal.Tokens, nil
	}
	if err != nil {
		return 0, err
	}

	newTokens, err := s.Credit(ctx, p.UserID, p.Tokens)
	if err != nil {
		// The purchase row exists but the credit did not land. The caller
		// owns surfacing this for manual reconciliation; retrying here would
		// race the payment adapter's own retry discipline.
		s.config.Logger.Error("purchase recorded but credit failed",
			Field{Key: "user_id", Value: p.UserID},
			Field{Key: "external_id", Value: p.ExternalID},
			Field{Key: "error", Value: err.Error()})
		return 0, err
	}
	return newTokens, nil
}

// RecordUsage appends a consumption event.
func (s *Service) RecordUsage(ctx context.Context, ev *UsageEvent) error {
	if ev == nil || ev.UserID == "" {
		return ErrInvalidAmount
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	start := time.Now()
	err := s.store.RecordUsage(ctx, ev)
	s.config.Metrics.RecordStorageOperation("record_usage", time.Since(start), err)
	return err
}

// UsageTotal returns the sum of recorded usage costs for a user.
func (s *Service) UsageTotal(ctx context.Context, userID string) (int64, error) {
	return s.store.UsageTotal(ctx, userID)
}

// GetPurchase retrieves a purchase by external transaction id.
// Returns nil if no record found (not an error).
func (s *Service) GetPurchase(ctx context.Context, externalID string) (*Purchase, error) {
	return s.store.GetPurchase(ctx, externalID)
}

// ListPurchases returns a user's purchases, newest first.
func (s *Service) ListPurchases(ctx context.Context, userID string) ([]*Purchase, error) {
	return s.store.ListPurchases(ctx, userID)
}

func (s *Service) grant(ctx context.Context, userID string) (*Balance, error) {
	start := time.Now()
	bal, err := s.store.CreateBalance(ctx, userID, s.config.InitialGrant)
	s.config.Metrics.RecordStorageOperation("create_balance", time.Since(start), err)
	if err != nil {
		return nil, err
	}
	s.config.Metrics.RecordGrant()
	s.config.Logger.Info("first-use grant applied",
		Field{Key: "user_id", Value: userID},
		Field{Key: "tokens", Value: bal.Tokens})
	return bal, nil
}

func (s *Service) debitOnce(ctx context.Context, userID string, amount int64) (int64, error) {
	start := time.Now()
	newTokens, err := s.store.Debit(ctx, userID, amount)
	s.config.Metrics.RecordStorageOperation("debit", time.Since(start), ignoreExpected(err))
	return newTokens, err
}

// ignoreNotFound keeps expected miss outcomes out of storage error metrics.
func ignoreNotFound(err error) error {
	if errors.Is(err, ErrBalanceNotFound) {
		return nil
	}
	return err
}

func ignoreDuplicate(err error) error {
	if errors.Is(err, ErrDuplicatePurchase) {
		return nil
	}
	return err
}

func ignoreExpected(err error) error {
	if errors.Is(err, ErrBalanceNotFound) || errors.Is(err, ErrInsufficientTokens) {
		return nil
	}
	return err
}
