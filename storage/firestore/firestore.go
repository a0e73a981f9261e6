// Package firestore provides a Firestore implementation of the ledger.Store
// interface. Balance mutations run inside Firestore transactions, which
// gives the per-user atomicity the Store contract requires.
package firestore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/launchpilot/tokenledger/pkg/ledger"
)

// Storage implements ledger.Store using Google Cloud Firestore
type Storage struct {
	client              *firestore.Client
	balancesCollection  string
	purchasesCollection string
	usageCollection     string
	usageTotals         string
}

// Config holds Firestore storage configuration
type Config struct {
	// BalancesCollection holds one document per user, keyed by user id
	// Default: "user-tokens"
	BalancesCollection string

	// PurchasesCollection holds one document per purchase, keyed by the
	// payment processor's session id. Document-id uniqueness is what makes
	// purchase recording idempotent.
	// Default: "token-purchases"
	PurchasesCollection string

	// UsageCollection holds append-only usage events
	// Default: "usage-events"
	UsageCollection string

	// UsageTotalsCollection holds one running-total document per user
	// Default: "usage-counts"
	UsageTotalsCollection string
}

// New creates a new Firestore storage adapter
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	if config.BalancesCollection == "" {
		config.BalancesCollection = "user-tokens"
	}
	if config.PurchasesCollection == "" {
		config.PurchasesCollection = "token-purchases"
	}
	if config.UsageCollection == "" {
		config.UsageCollection = "usage-events"
	}
	if config.UsageTotalsCollection == "" {
		config.UsageTotalsCollection = "usage-counts"
	}

	return &Storage{
		client:              client,
		balancesCollection:  config.BalancesCollection,
		purchasesCollection: config.PurchasesCollection,
		usageCollection:     config.UsageCollection,
		usageTotals:         config.UsageTotalsCollection,
	}, nil
}

// GetBalance implements ledger.Store
func (s *Storage) GetBalance(ctx context.Context, userID string) (*ledger.Balance, error) {
	doc := s.client.Collection(s.balancesCollection).Doc(userID)
	snap, err := doc.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ledger.ErrBalanceNotFound
		}
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	if !snap.Exists() {
		return nil, ledger.ErrBalanceNotFound
	}

	data := snap.Data()
	return &ledger.Balance{
		UserID:    userID,
		Tokens:    getInt64(data, "tokens"),
		UpdatedAt: getTime(data, "updatedAt"),
	}, nil
}

// CreateBalance implements ledger.Store
func (s *Storage) CreateBalance(ctx context.Context, userID string, tokens int64) (*ledger.Balance, error) {
	if userID == "" {
		return nil, fmt.Errorf("empty user id")
	}
	if tokens < 0 {
		return nil, ledger.ErrInvalidAmount
	}

	doc := s.client.Collection(s.balancesCollection).Doc(userID)
	var result ledger.Balance

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(doc)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil && snap.Exists() {
			data := snap.Data()
			result = ledger.Balance{
				UserID:    userID,
				Tokens:    getInt64(data, "tokens"),
				UpdatedAt: getTime(data, "updatedAt"),
			}
			return nil
		}

		now := time.Now().UTC()
		result = ledger.Balance{UserID: userID, Tokens: tokens, UpdatedAt: now}
		return tx.Create(doc, map[string]interface{}{
			"tokens":    tokens,
			"updatedAt": now,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create balance: %w", err)
	}

	return &result, nil
}

// Credit implements ledger.Store
func (s *Storage) Credit(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ledger.ErrInvalidAmount
	}

	doc := s.client.Collection(s.balancesCollection).Doc(userID)
	var newTokens int64

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(doc)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}

		var current int64
		if err == nil && snap.Exists() {
			current = getInt64(snap.Data(), "tokens")
		}

		newTokens = current + amount
		return tx.Set(doc, map[string]interface{}{
			"tokens":    newTokens,
			"updatedAt": time.Now().UTC(),
		}, firestore.MergeAll)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to credit balance: %w", err)
	}

	return newTokens, nil
}

// Debit implements ledger.Store
func (s *Storage) Debit(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ledger.ErrInvalidAmount
	}

	doc := s.client.Collection(s.balancesCollection).Doc(userID)
	var newTokens int64

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(doc)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return ledger.ErrBalanceNotFound
			}
			return err
		}
		if !snap.Exists() {
			return ledger.ErrBalanceNotFound
		}

		current := getInt64(snap.Data(), "tokens")
		if current < amount {
			return &ledger.InsufficientTokensError{
				Required:  amount,
				Available: current,
			}
		}

		newTokens = current - amount
		return tx.Set(doc, map[string]interface{}{
			"tokens":    newTokens,
			"updatedAt": time.Now().UTC(),
		}, firestore.MergeAll)
	})
	if err != nil {
		return 0, err
	}

	return newTokens, nil
}

// RecordUsage implements ledger.Store.
// The event is appended and the user's running total is bumped in the same
// transaction, so UsageTotal never needs a collection scan.
func (s *Storage) RecordUsage(ctx context.Context, ev *ledger.UsageEvent) error {
	if ev == nil || ev.UserID == "" {
		return fmt.Errorf("invalid usage event")
	}

	timestamp := ev.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	eventDoc := s.client.Collection(s.usageCollection).NewDoc()
	totalDoc := s.client.Collection(s.usageTotals).Doc(ev.UserID)

	return s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(totalDoc)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}

		var total int64
		if err == nil && snap.Exists() {
			total = getInt64(snap.Data(), "total")
		}

		if err := tx.Create(eventDoc, map[string]interface{}{
			"userId":    ev.UserID,
			"feature":   string(ev.Feature),
			"cost":      ev.Cost,
			"timestamp": timestamp,
		}); err != nil {
			return err
		}

		return tx.Set(totalDoc, map[string]interface{}{
			"total":     total + ev.Cost,
			"updatedAt": timestamp,
		}, firestore.MergeAll)
	})
}

// UsageTotal implements ledger.Store
func (s *Storage) UsageTotal(ctx context.Context, userID string) (int64, error) {
	snap, err := s.client.Collection(s.usageTotals).Doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get usage total: %w", err)
	}
	if !snap.Exists() {
		return 0, nil
	}
	return getInt64(snap.Data(), "total"), nil
}

// CreatePurchase implements ledger.Store
func (s *Storage) CreatePurchase(ctx context.Context, p *ledger.Purchase) error {
	if p == nil || p.UserID == "" || p.ExternalID == "" {
		return fmt.Errorf("invalid purchase")
	}

	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	doc := s.client.Collection(s.purchasesCollection).Doc(p.ExternalID)
	_, err := doc.Create(ctx, map[string]interface{}{
		"userId":      p.UserID,
		"packageId":   p.PackageID,
		"packageName": p.PackageName,
		"tokens":      p.Tokens,
		"amountMinor": p.AmountMinor,
		"currency":    p.Currency,
		"externalId":  p.ExternalID,
		"status":      p.Status,
		"createdAt":   createdAt,
	})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return ledger.ErrDuplicatePurchase
		}
		return fmt.Errorf("failed to create purchase: %w", err)
	}

	return nil
}

// GetPurchase implements ledger.Store
func (s *Storage) GetPurchase(ctx context.Context, externalID string) (*ledger.Purchase, error) {
	snap, err := s.client.Collection(s.purchasesCollection).Doc(externalID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get purchase: %w", err)
	}
	if !snap.Exists() {
		return nil, nil
	}
	return purchaseFromData(snap.Data()), nil
}

// ListPurchases implements ledger.Store.
// Sorting happens client-side so the query needs no composite index.
func (s *Storage) ListPurchases(ctx context.Context, userID string) ([]*ledger.Purchase, error) {
	iterSnaps, err := s.client.Collection(s.purchasesCollection).
		Where("userId", "==", userID).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}

	out := make([]*ledger.Purchase, 0, len(iterSnaps))
	for _, snap := range iterSnaps {
		out = append(out, purchaseFromData(snap.Data()))
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func purchaseFromData(data map[string]interface{}) *ledger.Purchase {
	return &ledger.Purchase{
		UserID:      getString(data, "userId"),
		PackageID:   getString(data, "packageId"),
		PackageName: getString(data, "packageName"),
		Tokens:      getInt64(data, "tokens"),
		AmountMinor: getInt64(data, "amountMinor"),
		Currency:    getString(data, "currency"),
		ExternalID:  getString(data, "externalId"),
		Status:      getString(data, "status"),
		CreatedAt:   getTime(data, "createdAt"),
	}
}

// Helper functions for safe type extraction from Firestore data

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getInt64(data map[string]interface{}, key string) int64 {
	switch v := data[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v
	}
	return time.Time{}
}
