package notify

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// UserIDExtractor extracts the user ID from an HTTP request.
// Return empty string if the user is not authenticated.
type UserIDExtractor func(r *http.Request) string

// UserIDFromQuery returns a UserIDExtractor reading a query parameter.
func UserIDFromQuery(param string) UserIDExtractor {
	return func(r *http.Request) string {
		return r.URL.Query().Get(param)
	}
}

// UserIDFromHeader returns a UserIDExtractor reading a header.
func UserIDFromHeader(name string) UserIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(name)
	}
}

// SSEHandler exposes a hub as a Server-Sent Events endpoint. Each connection
// subscribes the user and streams connected/heartbeat/balance events until
// the client goes away; the subscription is always removed on the way out.
func SSEHandler(hub *Hub, getUserID UserIDExtractor) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		userID := getUserID(r)
		if userID == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		sub := hub.Subscribe(userID)
		defer hub.Unsubscribe(sub)

		for {
			select {
			case <-r.Context().Done():
				return
			case ev, ok := <-sub.C:
				if !ok {
					return
				}
				data, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	})
}
