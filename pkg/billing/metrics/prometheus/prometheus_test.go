package prommetrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	if metrics == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestMetrics_RecordWebhookEvent(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordWebhookEvent("stripe", "checkout.session.completed", "success")
	metrics.RecordWebhookEvent("stripe", "checkout.session.completed", "error")
	metrics.RecordWebhookProcessingDuration("stripe", "checkout.session.completed", 15*time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	var events *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "test_billing_webhook_events_total" {
			events = f
			break
		}
	}
	if events == nil {
		t.Fatal("Expected to find webhook events metric")
	}
	if len(events.Metric) != 2 {
		t.Errorf("Expected 2 time series, got %d", len(events.Metric))
	}
}

func TestMetrics_RecordWebhookError(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordWebhookError("stripe", "auth_failed")
	metrics.RecordWebhookError("stripe", "processing_error")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(families) == 0 {
		t.Error("Expected webhook error metrics to be recorded")
	}
}

func TestMetrics_RecordSessionSync(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordSessionSync("stripe", "success")
	metrics.RecordSessionSync("stripe", "not_paid")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(families) == 0 {
		t.Error("Expected session sync metrics to be recorded")
	}
}

func TestMetrics_RecordAPICall(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordAPICall("stripe", "checkout_session_create", "success")
	metrics.RecordAPICallDuration("stripe", "checkout_session_create", 120*time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(families) < 2 {
		t.Errorf("Expected at least 2 metric families, got %d", len(families))
	}
}

func TestDefaultMetrics(t *testing.T) {
	metrics := DefaultMetrics("test_default_billing")

	if metrics == nil {
		t.Fatal("DefaultMetrics returned nil")
	}

	// Verify it works against the default registerer
	metrics.RecordWebhookEvent("stripe", "checkout.session.completed", "success")
	metrics.RecordSessionSync("stripe", "success")
}
