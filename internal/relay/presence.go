package relay

import (
	"fmt"
	"sync"
	"time"

	"github.com/parley-labs/parley-node/internal/utils"
)

// DefaultTypingQuietWindow is how long a typing entry survives without
// a refresh before the janitor emits the stop signal
const DefaultTypingQuietWindow = 2 * time.Second

type typingKey struct {
	from int64
	to   int64
}

// Presence derives online/offline state from registry membership and
// tracks ephemeral typing entries. Typing entries auto-expire after a
// quiet window with no refresh; a janitor emits the stop signal so
// clients are not required to send one. Nothing here is persisted.
type Presence struct {
	registry *Registry

	// typing entries: (from, to) -> expiry
	typing map[typingKey]time.Time
	mu     sync.Mutex

	quietWindow time.Duration
	logger      *utils.LogsManager
	stop        chan struct{}
	stopOnce    sync.Once
}

// NewPresence creates a presence tracker over the registry. quietWindow
// is how long a typing entry survives without a refresh.
func NewPresence(registry *Registry, quietWindow time.Duration, logger *utils.LogsManager) *Presence {
	return &Presence{
		registry:    registry,
		typing:      make(map[typingKey]time.Time),
		quietWindow: quietWindow,
		logger:      logger,
		stop:        make(chan struct{}),
	}
}

// Start launches the typing janitor
func (p *Presence) Start() {
	go p.expireLoop()
}

// Stop terminates the typing janitor
func (p *Presence) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// OnConnect marks an identity online and broadcasts the status change
// to every live connection, including the new one.
func (p *Presence) OnConnect(identityID int64) {
	p.broadcastStatus(identityID, StatusOnline)
}

// OnDisconnect marks an identity offline, drops its typing entries and
// broadcasts the status change.
func (p *Presence) OnDisconnect(identityID int64) {
	p.mu.Lock()
	for key := range p.typing {
		if key.from == identityID || key.to == identityID {
			delete(p.typing, key)
		}
	}
	p.mu.Unlock()

	p.broadcastStatus(identityID, StatusOffline)
}

func (p *Presence) broadcastStatus(identityID int64, status string) {
	event, err := NewEvent(EventUserStatus, UserStatusPayload{
		IdentityID: identityID,
		Status:     status,
	})
	if err != nil {
		p.logger.Error(fmt.Sprintf("Failed to build user status event: %v", err), "presence")
		return
	}

	for _, connection := range p.registry.Connections() {
		connection.Send(event)
	}

	p.logger.Debug(fmt.Sprintf("Identity %d is %s", identityID, status), "presence")
}

// Typing records a typing signal from->to and routes it to the
// recipient if online. Offline recipients drop the signal silently;
// typing state is advisory only and never queued.
func (p *Presence) Typing(fromID, toID int64) {
	p.mu.Lock()
	p.typing[typingKey{from: fromID, to: toID}] = time.Now().Add(p.quietWindow)
	p.mu.Unlock()

	p.route(EventTyping, fromID, toID)
}

// StopTyping clears the typing entry and routes the stop signal to the
// recipient if online.
func (p *Presence) StopTyping(fromID, toID int64) {
	p.mu.Lock()
	delete(p.typing, typingKey{from: fromID, to: toID})
	p.mu.Unlock()

	p.route(EventStopTyping, fromID, toID)
}

// TypingActive reports whether from is currently typing to to,
// accounting for quiet-window expiry. Read-only: removing an expired
// entry is left to the janitor, which owns the stop signal.
func (p *Presence) TypingActive(fromID, toID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	expiry, ok := p.typing[typingKey{from: fromID, to: toID}]
	return ok && !time.Now().After(expiry)
}

func (p *Presence) route(eventType EventType, fromID, toID int64) {
	connection, ok := p.registry.Resolve(toID)
	if !ok {
		return
	}

	event, err := NewEvent(eventType, TypingPayload{FromID: fromID, ToID: toID})
	if err != nil {
		p.logger.Error(fmt.Sprintf("Failed to build %s event: %v", eventType, err), "presence")
		return
	}
	connection.Send(event)
}

// expireLoop sweeps expired typing entries and emits the stop signal
// for each, so a client that simply went quiet clears on the peer side.
func (p *Presence) expireLoop() {
	interval := p.quietWindow / 4
	if interval < 50*time.Millisecond {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case now := <-ticker.C:
			var expired []typingKey
			p.mu.Lock()
			for key, expiry := range p.typing {
				if now.After(expiry) {
					delete(p.typing, key)
					expired = append(expired, key)
				}
			}
			p.mu.Unlock()

			for _, key := range expired {
				p.route(EventStopTyping, key.from, key.to)
			}
		}
	}
}
