package notify

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// readSSEEvent reads lines from the stream until one data: frame is complete.
func readSSEEvent(t *testing.T, reader *bufio.Reader) Event {
	t.Helper()

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("Failed to read from stream: %v", err)
		}
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("Failed to decode event %q: %v", line, err)
		}
		return ev
	}
}

func TestSSEHandler_StreamsEvents(t *testing.T) {
	hub := NewHub(Config{})
	defer hub.Close()

	srv := httptest.NewServer(SSEHandler(hub, UserIDFromHeader("X-User-ID")))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, http.NoBody)
	req.Header.Set("X-User-ID", "user1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Expected text/event-stream, got %q", ct)
	}

	reader := bufio.NewReader(resp.Body)

	ev := readSSEEvent(t, reader)
	if ev.Type != EventConnected {
		t.Fatalf("Expected connected event first, got %q", ev.Type)
	}

	// Wait for the subscription to be registered before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers("user1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Publish("user1", 25)

	ev = readSSEEvent(t, reader)
	if ev.Type != EventBalance {
		t.Fatalf("Expected balance event, got %q", ev.Type)
	}
	if ev.Tokens == nil || *ev.Tokens != 25 {
		t.Errorf("Expected tokens 25, got %v", ev.Tokens)
	}
}

func TestSSEHandler_Unauthorized(t *testing.T) {
	hub := NewHub(Config{})
	defer hub.Close()

	handler := SSEHandler(hub, UserIDFromQuery("user"))

	req := httptest.NewRequest(http.MethodGet, "/api/tokens/stream", http.NoBody)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", w.Code)
	}
}

func TestSSEHandler_MethodNotAllowed(t *testing.T) {
	hub := NewHub(Config{})
	defer hub.Close()

	handler := SSEHandler(hub, UserIDFromQuery("user"))

	req := httptest.NewRequest(http.MethodPost, "/api/tokens/stream?user=user1", http.NoBody)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestSSEHandler_UnsubscribesOnDisconnect(t *testing.T) {
	hub := NewHub(Config{})
	defer hub.Close()

	srv := httptest.NewServer(SSEHandler(hub, UserIDFromQuery("user")))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?user=user1", http.NoBody)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers("user1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	resp.Body.Close()

	deadline = time.Now().Add(2 * time.Second)
	for hub.Subscribers("user1") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("Subscriber never removed after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
