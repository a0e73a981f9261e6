// Package notify provides the in-process balance notification hub: a
// registry of per-user push subscribers fed by the payment flow and drained
// by long-lived SSE connections.
//
// The registry is process-local and non-durable. If the process restarts all
// subscriptions are lost and clients reconnect; balance state is always
// recoverable from the ledger via polling, so delivery here is best-effort
// by design.
package notify

import (
	"sync"
	"time"

	"github.com/launchpilot/tokenledger/pkg/ledger"
)

// Event types delivered on a subscription channel.
const (
	EventConnected = "connected"
	EventHeartbeat = "heartbeat"
	EventBalance   = "balance"
)

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultBuffer            = 8
)

// Event is one push payload. Tokens is set only for balance events and is
// the authoritative current value, not a delta.
type Event struct {
	Type      string `json:"type"`
	Tokens    *int64 `json:"tokens,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Subscription is one open push channel. Read events from C; the channel is
// closed when the subscription is removed from the hub.
type Subscription struct {
	// C delivers events until the subscription is closed.
	C <-chan Event

	userID string
	ch     chan Event
}

// UserID returns the user this subscription belongs to.
func (s *Subscription) UserID() string {
	return s.userID
}

// Config holds hub configuration
type Config struct {
	// HeartbeatInterval is how often every subscriber receives a heartbeat
	// event so network intermediaries do not time the connection out
	// (default: 30 seconds)
	HeartbeatInterval time.Duration

	// Buffer is the per-subscriber channel capacity. A subscriber whose
	// buffer is full when an event arrives is treated as dead and removed
	// (default: 8)
	Buffer int

	// Logger is used for structured logging (default: NoopLogger)
	Logger ledger.Logger
}

// Hub maps user ids to their open push channels. It is an injected,
// lifecycle-scoped object, not a package singleton: construct one per
// process (or per test) and Close it when done.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*Subscription]struct{}

	config    Config
	done      chan struct{}
	closeOnce sync.Once
}

// NewHub creates a hub and starts its heartbeat loop.
func NewHub(config Config) *Hub {
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = defaultHeartbeatInterval
	}
	if config.Buffer <= 0 {
		config.Buffer = defaultBuffer
	}
	if config.Logger == nil {
		config.Logger = &ledger.NoopLogger{}
	}

	h := &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		config: config,
		done:   make(chan struct{}),
	}
	go h.heartbeatLoop()
	return h
}

// Subscribe opens a push channel for the user and immediately delivers a
// connected acknowledgment on it.
func (h *Hub) Subscribe(userID string) *Subscription {
	sub := &Subscription{
		userID: userID,
		ch:     make(chan Event, h.config.Buffer),
	}
	sub.C = sub.ch

	h.mu.Lock()
	set, ok := h.subs[userID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[userID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	// Fresh buffered channel, the ack always fits.
	sub.ch <- Event{Type: EventConnected, Timestamp: nowMillis()}

	h.config.Logger.Debug("subscriber added", ledger.Field{Key: "user_id", Value: userID})
	return sub
}

// Unsubscribe removes the subscription and closes its channel. The user's
// entry is discarded entirely when its last subscriber leaves. Safe to call
// more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	h.removeLocked(sub)
	h.mu.Unlock()
}

// Publish delivers the new balance to every open channel for the user and
// returns the number of subscribers reached. A subscriber that cannot accept
// the event is removed; one dead channel never blocks delivery to the others
// or the publisher.
func (h *Hub) Publish(userID string, tokens int64) int {
	ev := Event{Type: EventBalance, Tokens: &tokens, Timestamp: nowMillis()}

	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for sub := range h.subs[userID] {
		select {
		case sub.ch <- ev:
			delivered++
		default:
			h.removeLocked(sub)
			h.config.Logger.Debug("dead subscriber dropped",
				ledger.Field{Key: "user_id", Value: userID})
		}
	}
	return delivered
}

// Subscribers returns the number of open channels for a user.
func (h *Hub) Subscribers(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[userID])
}

// Close stops the heartbeat loop and closes every open channel.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		for _, set := range h.subs {
			for sub := range set {
				close(sub.ch)
			}
		}
		h.subs = make(map[string]map[*Subscription]struct{})
		h.mu.Unlock()
	})
}

func (h *Hub) heartbeatLoop() {
	ticker := time.NewTicker(h.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.broadcastHeartbeat()
		}
	}
}

func (h *Hub) broadcastHeartbeat() {
	ev := Event{Type: EventHeartbeat, Timestamp: nowMillis()}

	h.mu.Lock()
	defer h.mu.Unlock()

	for userID, set := range h.subs {
		for sub := range set {
			select {
			case sub.ch <- ev:
			default:
				h.removeLocked(sub)
				h.config.Logger.Debug("dead subscriber dropped",
					ledger.Field{Key: "user_id", Value: userID})
			}
		}
	}
}

// removeLocked deletes the subscription and closes its channel exactly once.
// Caller holds h.mu.
func (h *Hub) removeLocked(sub *Subscription) {
	set, ok := h.subs[sub.userID]
	if !ok {
		return
	}
	if _, present := set[sub]; !present {
		return
	}
	delete(set, sub)
	close(sub.ch)
	if len(set) == 0 {
		delete(h.subs, sub.userID)
	}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
