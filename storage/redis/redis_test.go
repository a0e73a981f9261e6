package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/launchpilot/tokenledger/pkg/ledger"
)

// setupTestRedis creates a Redis client for testing.
// Requires Redis running on localhost:6379.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use DB 15 for testing
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test database: %v", err)
	}

	return client
}

func setupTestStorage(t *testing.T) *Storage {
	t.Helper()
	storage, err := New(setupTestRedis(t), DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	return storage
}

func TestNew_RequiresClient(t *testing.T) {
	if _, err := New(nil, DefaultConfig()); err == nil {
		t.Error("Expected error for nil client")
	}
}

func TestStorage_BalanceLifecycle(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	_, err := storage.GetBalance(ctx, "user1")
	if !errors.Is(err, ledger.ErrBalanceNotFound) {
		t.Errorf("Expected ErrBalanceNotFound, got %v", err)
	}

	b, err := storage.CreateBalance(ctx, "user1", 10)
	if err != nil {
		t.Fatalf("CreateBalance failed: %v", err)
	}
	if b.Tokens != 10 {
		t.Errorf("Expected 10 tokens, got %d", b.Tokens)
	}

	// Re-create must return the existing record untouched.
	if _, err := storage.Credit(ctx, "user1", 7); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	b, err = storage.CreateBalance(ctx, "user1", 10)
	if err != nil {
		t.Fatalf("CreateBalance failed: %v", err)
	}
	if b.Tokens != 17 {
		t.Errorf("Expected existing balance 17, got %d", b.Tokens)
	}
}

func TestStorage_CreditAndDebit(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	tokens, err := storage.Credit(ctx, "user2", 25)
	if err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	if tokens != 25 {
		t.Errorf("Expected 25, got %d", tokens)
	}

	tokens, err = storage.Debit(ctx, "user2", 10)
	if err != nil {
		t.Fatalf("Debit failed: %v", err)
	}
	if tokens != 15 {
		t.Errorf("Expected 15, got %d", tokens)
	}

	_, err = storage.Debit(ctx, "user2", 100)
	var insufficientErr *ledger.InsufficientTokensError
	if !errors.As(err, &insufficientErr) {
		t.Fatalf("Expected InsufficientTokensError, got %v", err)
	}
	if insufficientErr.Required != 100 || insufficientErr.Available != 15 {
		t.Errorf("Error detail mismatch: %+v", insufficientErr)
	}

	if _, err := storage.Debit(ctx, "ghost", 1); !errors.Is(err, ledger.ErrBalanceNotFound) {
		t.Errorf("Expected ErrBalanceNotFound, got %v", err)
	}
}

func TestStorage_ConcurrentDebits(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	if _, err := storage.Credit(ctx, "user3", 30); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	var g errgroup.Group
	successes := make(chan struct{}, 60)
	for i := 0; i < 60; i++ {
		g.Go(func() error {
			_, err := storage.Debit(ctx, "user3", 1)
			if err == nil {
				successes <- struct{}{}
				return nil
			}
			var insufficientErr *ledger.InsufficientTokensError
			if errors.As(err, &insufficientErr) {
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Concurrent debit failed: %v", err)
	}
	close(successes)

	won := 0
	for range successes {
		won++
	}
	if won != 30 {
		t.Errorf("Expected exactly 30 successful debits, got %d", won)
	}

	b, err := storage.GetBalance(ctx, "user3")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if b.Tokens != 0 {
		t.Errorf("Expected 0, got %d", b.Tokens)
	}
}

func TestStorage_Usage(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	total, err := storage.UsageTotal(ctx, "user4")
	if err != nil {
		t.Fatalf("UsageTotal failed: %v", err)
	}
	if total != 0 {
		t.Errorf("Expected 0 for fresh user, got %d", total)
	}

	events := []*ledger.UsageEvent{
		{UserID: "user4", Feature: ledger.FeatureAdvancedIdea, Cost: 5},
		{UserID: "user4", Feature: ledger.FeatureContentIdeas, Cost: 3},
	}
	for _, ev := range events {
		if err := storage.RecordUsage(ctx, ev); err != nil {
			t.Fatalf("RecordUsage failed: %v", err)
		}
	}

	total, err = storage.UsageTotal(ctx, "user4")
	if err != nil {
		t.Fatalf("UsageTotal failed: %v", err)
	}
	if total != 8 {
		t.Errorf("Expected 8, got %d", total)
	}
}

func TestStorage_PurchaseIdempotency(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	p := &ledger.Purchase{
		UserID:      "user5",
		PackageID:   "starter",
		PackageName: "Starter Pack",
		Tokens:      50,
		AmountMinor: 499,
		Currency:    "usd",
		ExternalID:  "cs_redis_test_1",
		Status:      ledger.PurchaseStatusCompleted,
	}

	if err := storage.CreatePurchase(ctx, p); err != nil {
		t.Fatalf("CreatePurchase failed: %v", err)
	}
	if err := storage.CreatePurchase(ctx, p); !errors.Is(err, ledger.ErrDuplicatePurchase) {
		t.Errorf("Expected ErrDuplicatePurchase, got %v", err)
	}

	got, err := storage.GetPurchase(ctx, "cs_redis_test_1")
	if err != nil {
		t.Fatalf("GetPurchase failed: %v", err)
	}
	if got == nil || got.Tokens != 50 {
		t.Errorf("Unexpected purchase: %+v", got)
	}

	// Duplicate create must not double-index the purchase.
	list, err := storage.ListPurchases(ctx, "user5")
	if err != nil {
		t.Fatalf("ListPurchases failed: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("Expected 1 indexed purchase, got %d", len(list))
	}
}

func TestStorage_ListPurchases_NewestFirst(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p := &ledger.Purchase{
			UserID:     "user6",
			PackageID:  "starter",
			Tokens:     int64(10 * (i + 1)),
			ExternalID: fmt.Sprintf("cs_redis_list_%d", i),
			Status:     ledger.PurchaseStatusCompleted,
		}
		if err := storage.CreatePurchase(ctx, p); err != nil {
			t.Fatalf("CreatePurchase failed: %v", err)
		}
	}

	list, err := storage.ListPurchases(ctx, "user6")
	if err != nil {
		t.Fatalf("ListPurchases failed: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("Expected 3 purchases, got %d", len(list))
	}
	if list[0].ExternalID != "cs_redis_list_2" || list[2].ExternalID != "cs_redis_list_0" {
		t.Errorf("Purchases not newest first: %v, %v, %v",
			list[0].ExternalID, list[1].ExternalID, list[2].ExternalID)
	}
}
