package internal

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiter_AllowWithinLimit(t *testing.T) {
	limiter := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !limiter.allow("192.168.1.1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if limiter.allow("192.168.1.1") {
		t.Error("request over limit should be rejected")
	}
	// A different IP has its own bucket.
	if !limiter.allow("192.168.1.2") {
		t.Error("other IP should not be affected")
	}
}

func TestRateLimiter_WindowReset(t *testing.T) {
	window := 50 * time.Millisecond
	limiter := NewRateLimiter(1, window)

	if !limiter.allow("10.0.0.1") {
		t.Fatal("first request should be allowed")
	}
	if limiter.allow("10.0.0.1") {
		t.Fatal("second request should be rejected")
	}

	time.Sleep(window + 20*time.Millisecond)

	if !limiter.allow("10.0.0.1") {
		t.Error("request after window reset should be allowed")
	}
}

func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	limiter := NewRateLimiter(10, 50*time.Millisecond)

	now := time.Now()
	limiter.requests["192.168.1.100"] = &bucket{count: 5, resetAt: now.Add(-time.Second)}
	limiter.requests["192.168.1.200"] = &bucket{count: 3, resetAt: now.Add(time.Minute)}

	limiter.cleanupExpired(now)

	if _, exists := limiter.requests["192.168.1.100"]; exists {
		t.Error("expired entry should have been removed")
	}
	if _, exists := limiter.requests["192.168.1.200"]; !exists {
		t.Error("active entry should not have been removed")
	}
}

func TestRateLimiter_CleanupPreventsUnboundedGrowth(t *testing.T) {
	window := 50 * time.Millisecond
	limiter := NewRateLimiter(10, window)

	for i := 0; i < 300; i++ {
		limiter.allow(fmt.Sprintf("172.16.%d.%d", i/256, i%256))
	}

	time.Sleep(window + 20*time.Millisecond)

	// Enough requests to hit the cleanup threshold.
	for i := 0; i < 100; i++ {
		limiter.allow("10.0.0.1")
	}

	if len(limiter.requests) > 50 {
		t.Errorf("map size (%d) suggests expired entries are not being cleaned up", len(limiter.requests))
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	limiter := NewRateLimiter(2, time.Minute)

	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhook", http.NoBody)
		req.RemoteAddr = "192.168.1.1:1234"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, w.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/webhook", http.NoBody)
	req.RemoteAddr = "192.168.1.1:1234"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", w.Code)
	}
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
	req.RemoteAddr = "203.0.113.5:4321"
	if ip := GetClientIP(req); ip != "203.0.113.5:4321" {
		t.Errorf("expected RemoteAddr fallback, got %q", ip)
	}

	req.Header.Set("X-Forwarded-For", "198.51.100.7, 203.0.113.5")
	if ip := GetClientIP(req); ip != "198.51.100.7" {
		t.Errorf("expected first X-Forwarded-For entry, got %q", ip)
	}
}
