package relay

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/parley-labs/parley-node/internal/utils"
)

// CallState is the phase of a call session
type CallState string

const (
	// CallOutgoing - offer forwarded, waiting for the callee's answer
	CallOutgoing CallState = "outgoing"

	// CallConnected - answer relayed back, media flows peer-to-peer
	CallConnected CallState = "connected"
)

type callKey struct {
	caller int64
	callee int64
}

// CallSession is the ephemeral state for one call attempt between an
// ordered (caller, callee) pair. Destroyed on any terminal transition.
type CallSession struct {
	Caller       int64
	Callee       int64
	State        CallState
	StartedAt    time.Time
	LastSignalAt time.Time
}

// Broker implements the call state machine and relays offer/answer/ICE
// payloads between two identities. Payloads are opaque; the broker
// never inspects them. Delivery is fire-and-forget: once an event is
// handed to a connection there is no tracking of transport success,
// and there is no ringing timeout - a call stays outgoing until
// accept, hangup or a participant disconnect.
type Broker struct {
	registry *Registry

	sessions map[callKey]*CallSession
	mu       sync.Mutex

	logger *utils.LogsManager
}

// NewBroker creates a call signaling broker over the registry
func NewBroker(registry *Registry, logger *utils.LogsManager) *Broker {
	return &Broker{
		registry: registry,
		sessions: make(map[callKey]*CallSession),
		logger:   logger,
	}
}

// Initiate starts a call attempt and forwards the offer to the callee.
// Fails immediately with ErrRecipientOffline when the callee has no
// live connection, and with ErrCallInProgress when a session between
// the two identities already exists in either direction.
func (b *Broker) Initiate(caller Identity, calleeID int64, offer json.RawMessage) error {
	callee, ok := b.registry.Resolve(calleeID)
	if !ok {
		return ErrRecipientOffline
	}

	key := callKey{caller: caller.ID, callee: calleeID}
	reverse := callKey{caller: calleeID, callee: caller.ID}

	b.mu.Lock()
	if _, exists := b.sessions[key]; exists {
		b.mu.Unlock()
		return ErrCallInProgress
	}
	if _, exists := b.sessions[reverse]; exists {
		b.mu.Unlock()
		return ErrCallInProgress
	}
	now := time.Now()
	b.sessions[key] = &CallSession{
		Caller:       caller.ID,
		Callee:       calleeID,
		State:        CallOutgoing,
		StartedAt:    now,
		LastSignalAt: now,
	}
	b.mu.Unlock()

	event, err := NewEvent(EventCallIncoming, CallIncomingPayload{
		FromID:   caller.ID,
		FromName: caller.DisplayName,
		Offer:    offer,
	})
	if err != nil {
		b.endSession(key)
		return fmt.Errorf("failed to build incoming call event: %w", err)
	}
	callee.Send(event)

	b.logger.Info(fmt.Sprintf("Call %d->%d ringing", caller.ID, calleeID), "calls")
	return nil
}

// Accept answers a ringing call: it requires a matching outgoing
// session (out-of-order accepts are rejected with ErrNoSuchCall),
// relays the answer back to the caller and transitions the session to
// connected. A caller that disconnected while ringing ends the session
// and surfaces ErrRecipientOffline to the callee.
func (b *Broker) Accept(callee Identity, callerID int64, answer json.RawMessage) error {
	key := callKey{caller: callerID, callee: callee.ID}

	b.mu.Lock()
	session, exists := b.sessions[key]
	if !exists || session.State != CallOutgoing {
		b.mu.Unlock()
		return ErrNoSuchCall
	}
	session.State = CallConnected
	session.LastSignalAt = time.Now()
	b.mu.Unlock()

	caller, ok := b.registry.Resolve(callerID)
	if !ok {
		b.endSession(key)
		return ErrRecipientOffline
	}

	event, err := NewEvent(EventCallAccepted, CallAcceptedPayload{
		FromID: callee.ID,
		Answer: answer,
	})
	if err != nil {
		b.endSession(key)
		return fmt.Errorf("failed to build call accepted event: %w", err)
	}
	caller.Send(event)

	b.logger.Info(fmt.Sprintf("Call %d->%d connected", callerID, callee.ID), "calls")
	return nil
}

// Signal relays an opaque signaling payload (e.g. a trickle ICE
// candidate) to the other participant of an existing session. With no
// matching session it fails with ErrNoSuchCall; a participant that
// went offline mid-session degrades to a silent drop, matching the
// fire-and-forget delivery contract.
func (b *Broker) Signal(fromID, toID int64, data json.RawMessage) error {
	b.mu.Lock()
	session := b.lookupLocked(fromID, toID)
	if session == nil {
		b.mu.Unlock()
		return ErrNoSuchCall
	}
	session.LastSignalAt = time.Now()
	b.mu.Unlock()

	connection, ok := b.registry.Resolve(toID)
	if !ok {
		return nil
	}

	event, err := NewEvent(EventCallSignal, CallSignalPayload{
		FromID: fromID,
		ToID:   toID,
		Data:   data,
	})
	if err != nil {
		return fmt.Errorf("failed to build call signal event: %w", err)
	}
	connection.Send(event)
	return nil
}

// Hangup ends the session between the two identities (either party may
// call it, in either call direction) and notifies the other side.
// Hanging up a call that no longer exists is a no-op.
func (b *Broker) Hangup(fromID, toID int64) {
	b.mu.Lock()
	session := b.lookupLocked(fromID, toID)
	if session == nil {
		b.mu.Unlock()
		return
	}
	delete(b.sessions, callKey{caller: session.Caller, callee: session.Callee})
	b.mu.Unlock()

	b.notifyEnded(toID, fromID)
	b.logger.Info(fmt.Sprintf("Call %d->%d ended by %d", session.Caller, session.Callee, fromID), "calls")
}

// EndAllFor force-ends every session the identity participates in,
// notifying the remaining party. Called on registry eviction or
// disconnect.
func (b *Broker) EndAllFor(identityID int64) {
	var peers []int64

	b.mu.Lock()
	for key, session := range b.sessions {
		if session.Caller == identityID {
			peers = append(peers, session.Callee)
			delete(b.sessions, key)
		} else if session.Callee == identityID {
			peers = append(peers, session.Caller)
			delete(b.sessions, key)
		}
	}
	b.mu.Unlock()

	for _, peer := range peers {
		b.notifyEnded(peer, identityID)
	}

	if len(peers) > 0 {
		b.logger.Info(fmt.Sprintf("Forced end of %d call(s) for identity %d", len(peers), identityID), "calls")
	}
}

// SessionState reports the state of the session for an ordered
// (caller, callee) pair
func (b *Broker) SessionState(callerID, calleeID int64) (CallState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	session, exists := b.sessions[callKey{caller: callerID, callee: calleeID}]
	if !exists {
		return "", false
	}
	return session.State, true
}

// lookupLocked finds the session between two identities in either
// direction; the caller holds the lock
func (b *Broker) lookupLocked(a, c int64) *CallSession {
	if session, exists := b.sessions[callKey{caller: a, callee: c}]; exists {
		return session
	}
	if session, exists := b.sessions[callKey{caller: c, callee: a}]; exists {
		return session
	}
	return nil
}

func (b *Broker) endSession(key callKey) {
	b.mu.Lock()
	delete(b.sessions, key)
	b.mu.Unlock()
}

func (b *Broker) notifyEnded(toID, fromID int64) {
	connection, ok := b.registry.Resolve(toID)
	if !ok {
		return
	}

	event, err := NewEvent(EventCallEnded, CallEndedPayload{FromID: fromID})
	if err != nil {
		b.logger.Error(fmt.Sprintf("Failed to build call ended event: %v", err), "calls")
		return
	}
	connection.Send(event)
}
