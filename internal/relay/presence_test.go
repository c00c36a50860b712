package relay_test

import (
	"testing"
	"time"

	"github.com/parley-labs/parley-node/internal/relay"
)

func newTestPresence(t *testing.T, quietWindow time.Duration) (*relay.Presence, *relay.Registry) {
	_, logger := newTestLogger(t)
	registry := relay.NewRegistry(logger)
	presence := relay.NewPresence(registry, quietWindow, logger)
	return presence, registry
}

func TestStatusBroadcastReachesAllConnections(t *testing.T) {
	presence, registry := newTestPresence(t, 2*time.Second)

	alice := connect(t, registry, relay.Identity{ID: 1, DisplayName: "alice"})
	bob := connect(t, registry, relay.Identity{ID: 2, DisplayName: "bob"})

	presence.OnConnect(2)

	for _, conn := range []*fakeConn{alice, bob} {
		event := conn.lastOfType(t, relay.EventUserStatus)
		var payload relay.UserStatusPayload
		decodePayload(t, event, &payload)
		if payload.IdentityID != 2 || payload.Status != relay.StatusOnline {
			t.Errorf("Unexpected status payload: %+v", payload)
		}
	}

	presence.OnDisconnect(2)

	event := alice.lastOfType(t, relay.EventUserStatus)
	var payload relay.UserStatusPayload
	decodePayload(t, event, &payload)
	if payload.IdentityID != 2 || payload.Status != relay.StatusOffline {
		t.Errorf("Unexpected offline payload: %+v", payload)
	}
}

func TestTypingRoutedToRecipient(t *testing.T) {
	presence, registry := newTestPresence(t, 2*time.Second)

	connect(t, registry, relay.Identity{ID: 1, DisplayName: "alice"})
	bob := connect(t, registry, relay.Identity{ID: 2, DisplayName: "bob"})

	presence.Typing(1, 2)

	event := bob.lastOfType(t, relay.EventTyping)
	var payload relay.TypingPayload
	decodePayload(t, event, &payload)
	if payload.FromID != 1 || payload.ToID != 2 {
		t.Errorf("Unexpected typing payload: %+v", payload)
	}
	if !presence.TypingActive(1, 2) {
		t.Error("Expected typing entry to be active")
	}

	presence.StopTyping(1, 2)
	if presence.TypingActive(1, 2) {
		t.Error("Expected typing entry to be cleared")
	}
	if bob.countOfType(relay.EventStopTyping) != 1 {
		t.Error("Expected a stop_typing event")
	}
}

func TestTypingToOfflineRecipientIsDropped(t *testing.T) {
	presence, registry := newTestPresence(t, 2*time.Second)

	alice := connect(t, registry, relay.Identity{ID: 1, DisplayName: "alice"})

	// No connection for identity 2; signal is dropped, not queued
	presence.Typing(1, 2)

	if alice.countOfType(relay.EventTyping) != 0 {
		t.Error("Typing signal must not bounce back to the sender")
	}
	if !presence.TypingActive(1, 2) {
		t.Error("Typing entry is still tracked even when undeliverable")
	}
}

func TestTypingExpiresAfterQuietWindow(t *testing.T) {
	presence, registry := newTestPresence(t, 80*time.Millisecond)
	presence.Start()
	defer presence.Stop()

	connect(t, registry, relay.Identity{ID: 1, DisplayName: "alice"})
	bob := connect(t, registry, relay.Identity{ID: 2, DisplayName: "bob"})

	presence.Typing(1, 2)

	deadline := time.Now().Add(2 * time.Second)
	for presence.TypingActive(1, 2) {
		if time.Now().After(deadline) {
			t.Fatal("Typing entry did not expire")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The janitor emits the stop signal on behalf of the quiet client
	deadline = time.Now().Add(2 * time.Second)
	for bob.countOfType(relay.EventStopTyping) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Expected janitor to emit stop_typing")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestExpiredQueryLeavesStopSignalToJanitor(t *testing.T) {
	presence, registry := newTestPresence(t, 50*time.Millisecond)

	connect(t, registry, relay.Identity{ID: 1, DisplayName: "alice"})
	bob := connect(t, registry, relay.Identity{ID: 2, DisplayName: "bob"})

	presence.Typing(1, 2)
	time.Sleep(80 * time.Millisecond)

	// Queries observe expiry but must not remove the entry; the stop
	// signal belongs to the janitor
	if presence.TypingActive(1, 2) {
		t.Fatal("Entry should read as expired")
	}
	if presence.TypingActive(1, 2) {
		t.Fatal("Entry should still read as expired")
	}

	presence.Start()
	defer presence.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for bob.countOfType(relay.EventStopTyping) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Janitor never emitted stop_typing after queries observed expiry")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTypingRefreshExtendsWindow(t *testing.T) {
	presence, _ := newTestPresence(t, 100*time.Millisecond)

	presence.Typing(1, 2)
	time.Sleep(60 * time.Millisecond)
	presence.Typing(1, 2)
	time.Sleep(60 * time.Millisecond)

	// 120ms after the first signal but only 60ms after the refresh
	if !presence.TypingActive(1, 2) {
		t.Error("Refresh should have extended the typing window")
	}
}

func TestDisconnectClearsTypingEntries(t *testing.T) {
	presence, registry := newTestPresence(t, 2*time.Second)

	connect(t, registry, relay.Identity{ID: 1, DisplayName: "alice"})
	presence.Typing(1, 2)
	presence.Typing(3, 1)

	presence.OnDisconnect(1)

	if presence.TypingActive(1, 2) || presence.TypingActive(3, 1) {
		t.Error("Disconnect should drop typing entries in both directions")
	}
}
