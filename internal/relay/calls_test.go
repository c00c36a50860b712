package relay_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/parley-labs/parley-node/internal/relay"
)

func newTestBroker(t *testing.T) (*relay.Broker, *relay.Registry) {
	_, logger := newTestLogger(t)
	registry := relay.NewRegistry(logger)
	return relay.NewBroker(registry, logger), registry
}

func TestCallHandshake(t *testing.T) {
	broker, registry := newTestBroker(t)
	alice := relay.Identity{ID: 1, DisplayName: "alice"}
	bob := relay.Identity{ID: 2, DisplayName: "bob"}

	aliceConn := connect(t, registry, alice)
	bobConn := connect(t, registry, bob)

	offer := json.RawMessage(`{"sdp":"offer"}`)
	if err := broker.Initiate(alice, bob.ID, offer); err != nil {
		t.Fatalf("Failed to initiate call: %v", err)
	}

	state, ok := broker.SessionState(alice.ID, bob.ID)
	if !ok || state != relay.CallOutgoing {
		t.Fatalf("Expected outgoing session, got %q ok=%v", state, ok)
	}

	// Callee receives the offer with the caller's name
	incoming := bobConn.lastOfType(t, relay.EventCallIncoming)
	var incomingPayload relay.CallIncomingPayload
	decodePayload(t, incoming, &incomingPayload)
	if incomingPayload.FromID != alice.ID || incomingPayload.FromName != "alice" {
		t.Errorf("Unexpected incoming payload: %+v", incomingPayload)
	}
	if string(incomingPayload.Offer) != string(offer) {
		t.Errorf("Offer not relayed verbatim: %s", incomingPayload.Offer)
	}

	answer := json.RawMessage(`{"sdp":"answer"}`)
	if err := broker.Accept(bob, alice.ID, answer); err != nil {
		t.Fatalf("Failed to accept call: %v", err)
	}

	state, ok = broker.SessionState(alice.ID, bob.ID)
	if !ok || state != relay.CallConnected {
		t.Fatalf("Expected connected session, got %q ok=%v", state, ok)
	}

	// Caller receives the answer
	accepted := aliceConn.lastOfType(t, relay.EventCallAccepted)
	var acceptedPayload relay.CallAcceptedPayload
	decodePayload(t, accepted, &acceptedPayload)
	if acceptedPayload.FromID != bob.ID || string(acceptedPayload.Answer) != string(answer) {
		t.Errorf("Unexpected accepted payload: %+v", acceptedPayload)
	}
}

func TestInitiateToOfflineCallee(t *testing.T) {
	broker, registry := newTestBroker(t)
	alice := relay.Identity{ID: 1, DisplayName: "alice"}
	connect(t, registry, alice)

	err := broker.Initiate(alice, 2, json.RawMessage(`{}`))
	if !errors.Is(err, relay.ErrRecipientOffline) {
		t.Fatalf("Expected ErrRecipientOffline, got %v", err)
	}
	if _, ok := broker.SessionState(alice.ID, 2); ok {
		t.Error("No session should exist after a failed initiate")
	}
}

func TestInitiateWhileCallInProgress(t *testing.T) {
	broker, registry := newTestBroker(t)
	alice := relay.Identity{ID: 1, DisplayName: "alice"}
	bob := relay.Identity{ID: 2, DisplayName: "bob"}

	connect(t, registry, alice)
	connect(t, registry, bob)

	if err := broker.Initiate(alice, bob.ID, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Failed to initiate call: %v", err)
	}

	// Same direction
	if err := broker.Initiate(alice, bob.ID, json.RawMessage(`{}`)); !errors.Is(err, relay.ErrCallInProgress) {
		t.Errorf("Expected ErrCallInProgress, got %v", err)
	}
	// Reverse direction
	if err := broker.Initiate(bob, alice.ID, json.RawMessage(`{}`)); !errors.Is(err, relay.ErrCallInProgress) {
		t.Errorf("Expected ErrCallInProgress for reverse call, got %v", err)
	}
}

func TestAcceptWithoutMatchingCall(t *testing.T) {
	broker, registry := newTestBroker(t)
	bob := relay.Identity{ID: 2, DisplayName: "bob"}
	connect(t, registry, bob)

	// Out-of-order accept with no session
	err := broker.Accept(bob, 1, json.RawMessage(`{}`))
	if !errors.Is(err, relay.ErrNoSuchCall) {
		t.Fatalf("Expected ErrNoSuchCall, got %v", err)
	}
}

func TestAcceptTwiceRejected(t *testing.T) {
	broker, registry := newTestBroker(t)
	alice := relay.Identity{ID: 1, DisplayName: "alice"}
	bob := relay.Identity{ID: 2, DisplayName: "bob"}

	connect(t, registry, alice)
	connect(t, registry, bob)

	if err := broker.Initiate(alice, bob.ID, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Failed to initiate call: %v", err)
	}
	if err := broker.Accept(bob, alice.ID, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Failed to accept call: %v", err)
	}

	// The session is already connected
	if err := broker.Accept(bob, alice.ID, json.RawMessage(`{}`)); !errors.Is(err, relay.ErrNoSuchCall) {
		t.Errorf("Expected ErrNoSuchCall on double accept, got %v", err)
	}
}

func TestSignalRelayedWithinSession(t *testing.T) {
	broker, registry := newTestBroker(t)
	alice := relay.Identity{ID: 1, DisplayName: "alice"}
	bob := relay.Identity{ID: 2, DisplayName: "bob"}

	aliceConn := connect(t, registry, alice)
	connect(t, registry, bob)

	if err := broker.Initiate(alice, bob.ID, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Failed to initiate call: %v", err)
	}

	// Callee can trickle candidates back while still ringing
	candidate := json.RawMessage(`{"candidate":"a=..."}`)
	if err := broker.Signal(bob.ID, alice.ID, candidate); err != nil {
		t.Fatalf("Failed to relay signal: %v", err)
	}

	event := aliceConn.lastOfType(t, relay.EventCallSignal)
	var payload relay.CallSignalPayload
	decodePayload(t, event, &payload)
	if payload.FromID != bob.ID || string(payload.Data) != string(candidate) {
		t.Errorf("Unexpected signal payload: %+v", payload)
	}
}

func TestSignalWithoutSession(t *testing.T) {
	broker, registry := newTestBroker(t)
	connect(t, registry, relay.Identity{ID: 1, DisplayName: "alice"})

	err := broker.Signal(1, 2, json.RawMessage(`{}`))
	if !errors.Is(err, relay.ErrNoSuchCall) {
		t.Errorf("Expected ErrNoSuchCall, got %v", err)
	}
}

func TestHangupNotifiesPeer(t *testing.T) {
	broker, registry := newTestBroker(t)
	alice := relay.Identity{ID: 1, DisplayName: "alice"}
	bob := relay.Identity{ID: 2, DisplayName: "bob"}

	aliceConn := connect(t, registry, alice)
	connect(t, registry, bob)

	if err := broker.Initiate(alice, bob.ID, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Failed to initiate call: %v", err)
	}

	// Callee hangs up the call the caller started
	broker.Hangup(bob.ID, alice.ID)

	if _, ok := broker.SessionState(alice.ID, bob.ID); ok {
		t.Error("Session should be destroyed after hangup")
	}

	event := aliceConn.lastOfType(t, relay.EventCallEnded)
	var payload relay.CallEndedPayload
	decodePayload(t, event, &payload)
	if payload.FromID != bob.ID {
		t.Errorf("Expected ended-by %d, got %d", bob.ID, payload.FromID)
	}

	// Hanging up again is a no-op
	broker.Hangup(bob.ID, alice.ID)
	if aliceConn.countOfType(relay.EventCallEnded) != 1 {
		t.Error("Repeated hangup must not notify again")
	}
}

func TestDisconnectForcesCallEnd(t *testing.T) {
	broker, registry := newTestBroker(t)
	alice := relay.Identity{ID: 1, DisplayName: "alice"}
	bob := relay.Identity{ID: 2, DisplayName: "bob"}

	connect(t, registry, alice)
	bobConn := connect(t, registry, bob)

	if err := broker.Initiate(alice, bob.ID, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Failed to initiate call: %v", err)
	}
	if err := broker.Accept(bob, alice.ID, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Failed to accept call: %v", err)
	}

	broker.EndAllFor(alice.ID)

	if _, ok := broker.SessionState(alice.ID, bob.ID); ok {
		t.Error("Session should be destroyed when a participant disconnects")
	}

	event := bobConn.lastOfType(t, relay.EventCallEnded)
	var payload relay.CallEndedPayload
	decodePayload(t, event, &payload)
	if payload.FromID != alice.ID {
		t.Errorf("Expected ended-by %d, got %d", alice.ID, payload.FromID)
	}
}
