package stripe

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/launchpilot/tokenledger/pkg/billing"
	"github.com/launchpilot/tokenledger/pkg/ledger"
	"github.com/launchpilot/tokenledger/storage/memory"
)

const (
	testStripeAPIKey        = "sk_test_1234567890"
	testStripeWebhookSecret = "whsec_test_secret"
	testUserID              = "test-user-123"
	testPackageStarter      = "starter"
	testPackageGrowth       = "growth"
)

func testLedger(t *testing.T) *ledger.Service {
	t.Helper()
	svc, err := ledger.NewService(memory.New(), ledger.Config{})
	if err != nil {
		t.Fatalf("Failed to create ledger service: %v", err)
	}
	return svc
}

func testPackages() map[string]billing.Package {
	return map[string]billing.Package{
		testPackageStarter: {PriceID: "price_starter", Tokens: 50, Name: "Starter Pack"},
		testPackageGrowth:  {PriceID: "price_growth", Tokens: 200, Name: "Growth Pack"},
	}
}

func testProvider(t *testing.T) (*Provider, *ledger.Service) {
	t.Helper()
	svc := testLedger(t)
	provider, err := NewProvider(Config{
		Config: billing.Config{
			Ledger:   svc,
			Packages: testPackages(),
		},
		StripeAPIKey:        testStripeAPIKey,
		StripeWebhookSecret: testStripeWebhookSecret,
	})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}
	return provider, svc
}

func TestNewProvider_RequiresLedger(t *testing.T) {
	_, err := NewProvider(Config{
		StripeAPIKey: testStripeAPIKey,
	})
	if err != billing.ErrProviderNotConfigured {
		t.Errorf("Expected ErrProviderNotConfigured, got %v", err)
	}
}

func TestNewProvider_RequiresAPIKey(t *testing.T) {
	_, err := NewProvider(Config{
		Config: billing.Config{Ledger: testLedger(t)},
	})
	if err != billing.ErrProviderNotConfigured {
		t.Errorf("Expected ErrProviderNotConfigured, got %v", err)
	}
}

func TestNewProvider_FallsBackToGenericConfig(t *testing.T) {
	provider, err := NewProvider(Config{
		Config: billing.Config{
			Ledger:        testLedger(t),
			APIKey:        testStripeAPIKey,
			WebhookSecret: testStripeWebhookSecret,
		},
	})
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	if string(provider.webhookSecret) != testStripeWebhookSecret {
		t.Errorf("Webhook secret fallback not applied: got %q", provider.webhookSecret)
	}
}

func TestProvider_Name(t *testing.T) {
	provider, _ := testProvider(t)
	if provider.Name() != "stripe" {
		t.Errorf("Expected provider name stripe, got %q", provider.Name())
	}
}

func TestProvider_Package(t *testing.T) {
	provider, _ := testProvider(t)

	pkg, ok := provider.Package(testPackageStarter)
	if !ok {
		t.Fatal("Expected starter package to exist")
	}
	if pkg.Tokens != 50 {
		t.Errorf("Expected 50 tokens, got %d", pkg.Tokens)
	}

	if _, ok := provider.Package("nonexistent"); ok {
		t.Error("Expected lookup of unknown package to fail")
	}
}

func TestWebhookHandler_RejectsNonPost(t *testing.T) {
	provider, _ := testProvider(t)
	handler := provider.WebhookHandler()

	req := httptest.NewRequest(http.MethodGet, "/webhook/stripe", http.NoBody)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", w.Code)
	}
}

func TestWebhookHandler_RejectsInvalidSignature(t *testing.T) {
	provider, _ := testProvider(t)
	handler := provider.WebhookHandler()

	body := `{"type":"checkout.session.completed"}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/stripe", strings.NewReader(body))
	req.Header.Set("Stripe-Signature", "t=123,v1=deadbeef")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for invalid signature, got %d", w.Code)
	}
}

func TestWebhookHandler_RejectsEmptyBody(t *testing.T) {
	provider, _ := testProvider(t)
	handler := provider.WebhookHandler()

	req := httptest.NewRequest(http.MethodPost, "/webhook/stripe", http.NoBody)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty body, got %d", w.Code)
	}
}

func TestWebhookHandler_UnconfiguredSecret(t *testing.T) {
	provider, err := NewProvider(Config{
		Config:       billing.Config{Ledger: testLedger(t)},
		StripeAPIKey: testStripeAPIKey,
	})
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/webhook/stripe", strings.NewReader("{}"))
	w := httptest.NewRecorder()
	provider.WebhookHandler().ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 when webhook secret missing, got %d", w.Code)
	}
}
