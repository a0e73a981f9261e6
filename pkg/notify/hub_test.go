package notify

import (
	"testing"
	"time"
)

func recvEvent(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C:
		if !ok {
			t.Fatal("Subscription channel closed unexpectedly")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for event")
	}
	return Event{}
}

func TestHub_SubscribeDeliversConnectedAck(t *testing.T) {
	hub := NewHub(Config{})
	defer hub.Close()

	sub := hub.Subscribe("user1")
	defer hub.Unsubscribe(sub)

	ev := recvEvent(t, sub)
	if ev.Type != EventConnected {
		t.Errorf("Expected connected event, got %q", ev.Type)
	}
	if ev.Tokens != nil {
		t.Errorf("Connected event should not carry a token count")
	}
	if sub.UserID() != "user1" {
		t.Errorf("Expected user1, got %q", sub.UserID())
	}
}

func TestHub_PublishFansOutToAllSubscribers(t *testing.T) {
	hub := NewHub(Config{})
	defer hub.Close()

	sub1 := hub.Subscribe("user1")
	sub2 := hub.Subscribe("user1")
	other := hub.Subscribe("user2")

	// Drain the connected acks
	recvEvent(t, sub1)
	recvEvent(t, sub2)
	recvEvent(t, other)

	delivered := hub.Publish("user1", 42)
	if delivered != 2 {
		t.Errorf("Expected 2 deliveries, got %d", delivered)
	}

	for _, sub := range []*Subscription{sub1, sub2} {
		ev := recvEvent(t, sub)
		if ev.Type != EventBalance {
			t.Errorf("Expected balance event, got %q", ev.Type)
		}
		if ev.Tokens == nil || *ev.Tokens != 42 {
			t.Errorf("Expected tokens 42, got %v", ev.Tokens)
		}
	}

	// The other user must not see the event
	select {
	case ev := <-other.C:
		t.Errorf("user2 should not receive user1's event, got %q", ev.Type)
	default:
	}
}

func TestHub_PublishWithoutSubscribers(t *testing.T) {
	hub := NewHub(Config{})
	defer hub.Close()

	if delivered := hub.Publish("nobody", 10); delivered != 0 {
		t.Errorf("Expected 0 deliveries, got %d", delivered)
	}
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub(Config{})
	defer hub.Close()

	sub := hub.Subscribe("user1")
	recvEvent(t, sub)

	hub.Unsubscribe(sub)

	if _, ok := <-sub.C; ok {
		t.Error("Expected channel to be closed after Unsubscribe")
	}
	if n := hub.Subscribers("user1"); n != 0 {
		t.Errorf("Expected 0 subscribers, got %d", n)
	}

	// Safe to call again
	hub.Unsubscribe(sub)
	hub.Unsubscribe(nil)
}

func TestHub_FullBufferDropsSubscriber(t *testing.T) {
	hub := NewHub(Config{Buffer: 1})
	defer hub.Close()

	sub := hub.Subscribe("user1")
	// Connected ack fills the one-slot buffer; do not drain it.

	if delivered := hub.Publish("user1", 5); delivered != 0 {
		t.Errorf("Expected 0 deliveries to a full subscriber, got %d", delivered)
	}
	if n := hub.Subscribers("user1"); n != 0 {
		t.Errorf("Expected dead subscriber to be removed, got %d", n)
	}

	// The buffered ack is still readable, then the channel is closed.
	ev := recvEvent(t, sub)
	if ev.Type != EventConnected {
		t.Errorf("Expected buffered connected event, got %q", ev.Type)
	}
	if _, ok := <-sub.C; ok {
		t.Error("Expected channel to be closed after removal")
	}
}

func TestHub_Heartbeat(t *testing.T) {
	hub := NewHub(Config{HeartbeatInterval: 20 * time.Millisecond})
	defer hub.Close()

	sub := hub.Subscribe("user1")
	defer hub.Unsubscribe(sub)
	recvEvent(t, sub)

	ev := recvEvent(t, sub)
	if ev.Type != EventHeartbeat {
		t.Errorf("Expected heartbeat event, got %q", ev.Type)
	}
}

func TestHub_CloseClosesAllChannels(t *testing.T) {
	hub := NewHub(Config{})

	sub1 := hub.Subscribe("user1")
	sub2 := hub.Subscribe("user2")
	recvEvent(t, sub1)
	recvEvent(t, sub2)

	hub.Close()

	for _, sub := range []*Subscription{sub1, sub2} {
		if _, ok := <-sub.C; ok {
			t.Error("Expected channel to be closed after hub Close")
		}
	}

	// Safe to call again
	hub.Close()
}
