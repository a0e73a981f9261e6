package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/launchpilot/tokenledger/pkg/ledger"
)

const testProjectID = "test-project"

// setupTestStorage connects to the Firestore emulator and returns a storage
// adapter with per-run collection names for isolation.
// Requires FIRESTORE_EMULATOR_HOST (e.g. localhost:8080).
func setupTestStorage(t *testing.T) *Storage {
	t.Helper()

	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set; skipping Firestore tests")
	}

	ctx := context.Background()
	client, err := firestore.NewClient(ctx, testProjectID)
	if err != nil {
		t.Fatalf("Failed to create Firestore client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	run := time.Now().UnixNano()
	storage, err := New(client, Config{
		BalancesCollection:    fmt.Sprintf("test_balances_%d", run),
		PurchasesCollection:   fmt.Sprintf("test_purchases_%d", run),
		UsageCollection:       fmt.Sprintf("test_usage_%d", run),
		UsageTotalsCollection: fmt.Sprintf("test_usage_totals_%d", run),
	})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	return storage
}

func TestNew_RequiresClient(t *testing.T) {
	if _, err := New(nil, Config{}); err == nil {
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

	if _, err := storage.Credit(ctx, "user1", 5); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	b, err = storage.CreateBalance(ctx, "user1", 10)
	if err != nil {
		t.Fatalf("CreateBalance failed: %v", err)
	}
	if b.Tokens != 15 {
		t.Errorf("Expected existing balance 15, got %d", b.Tokens)
	}
}

func TestStorage_Debit(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	if _, err := storage.Credit(ctx, "user2", 10); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	tokens, err := storage.Debit(ctx, "user2", 3)
	if err != nil {
		t.Fatalf("Debit failed: %v", err)
	}
	if tokens != 7 {
		t.Errorf("Expected 7, got %d", tokens)
	}

	_, err = storage.Debit(ctx, "user2", 50)
	var insufficientErr *ledger.InsufficientTokensError
	if !errors.As(err, &insufficientErr) {
		t.Fatalf("Expected InsufficientTokensError, got %v", err)
	}
	if insufficientErr.Required != 50 || insufficientErr.Available != 7 {
		t.Errorf("Error detail mismatch: %+v", insufficientErr)
	}

	if _, err := storage.Debit(ctx, "ghost", 1); !errors.Is(err, ledger.ErrBalanceNotFound) {
		t.Errorf("Expected ErrBalanceNotFound, got %v", err)
	}
}

func TestStorage_Usage(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	events := []*ledger.UsageEvent{
		{UserID: "user3", Feature: ledger.FeatureSimpleIdea, Cost: 1},
		{UserID: "user3", Feature: ledger.FeatureMVPImplementation, Cost: 5},
	}
	for _, ev := range events {
		if err := storage.RecordUsage(ctx, ev); err != nil {
			t.Fatalf("RecordUsage failed: %v", err)
		}
	}

	total, err := storage.UsageTotal(ctx, "user3")
	if err != nil {
		t.Fatalf("UsageTotal failed: %v", err)
	}
	if total != 6 {
		t.Errorf("Expected 6, got %d", total)
	}

	total, err = storage.UsageTotal(ctx, "nobody")
	if err != nil {
		t.Fatalf("UsageTotal failed: %v", err)
	}
	if total != 0 {
		t.Errorf("Expected 0 for unknown user, got %d", total)
	}
}

func TestStorage_PurchaseIdempotency(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	p := &ledger.Purchase{
		UserID:      "user4",
		PackageID:   "starter",
		PackageName: "Starter Pack",
		Tokens:      50,
		AmountMinor: 499,
		Currency:    "usd",
		ExternalID:  "cs_fs_test_1",
		Status:      ledger.PurchaseStatusCompleted,
	}

	if err := storage.CreatePurchase(ctx, p); err != nil {
		t.Fatalf("CreatePurchase failed: %v", err)
	}
	if err := storage.CreatePurchase(ctx, p); !errors.Is(err, ledger.ErrDuplicatePurchase) {
		t.Errorf("Expected ErrDuplicatePurchase, got %v", err)
	}

	got, err := storage.GetPurchase(ctx, "cs_fs_test_1")
	if err != nil {
		t.Fatalf("GetPurchase failed: %v", err)
	}
	if got == nil || got.Tokens != 50 || got.UserID != "user4" {
		t.Errorf("Unexpected purchase: %+v", got)
	}

	missing, err := storage.GetPurchase(ctx, "cs_missing")
	if err != nil {
		t.Fatalf("GetPurchase failed: %v", err)
	}
	if missing != nil {
		t.Errorf("Expected nil for missing purchase, got %+v", missing)
	}
}

func TestStorage_ListPurchases(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		p := &ledger.Purchase{
			UserID:     "user5",
			PackageID:  "starter",
			Tokens:     50,
			ExternalID: fmt.Sprintf("cs_fs_list_%d", i),
			Status:     ledger.PurchaseStatusCompleted,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		if err := storage.CreatePurchase(ctx, p); err != nil {
			t.Fatalf("CreatePurchase failed: %v", err)
		}
	}

	list, err := storage.ListPurchases(ctx, "user5")
	if err != nil {
		t.Fatalf("ListPurchases failed: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("Expected 3 purchases, got %d", len(list))
	}
	if list[0].ExternalID != "cs_fs_list_2" {
		t.Errorf("Expected newest purchase first, got %s", list[0].ExternalID)
	}
}
