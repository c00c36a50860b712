package relay

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parley-labs/parley-node/internal/utils"
)

// Registry tracks live connections and maps identities to them.
// Invariant: at most one live connection per identity at any instant;
// a newer registration evicts the prior mapping (last-writer-wins).
// State is in-memory and process-lifetime only.
type Registry struct {
	// identity id -> live connection
	byIdentity map[int64]*Connection

	// connection id -> live connection
	byConn map[string]*Connection

	mu sync.RWMutex

	logger *utils.LogsManager
}

// NewRegistry creates an empty connection registry
func NewRegistry(logger *utils.LogsManager) *Registry {
	return &Registry{
		byIdentity: make(map[int64]*Connection),
		byConn:     make(map[string]*Connection),
		logger:     logger,
	}
}

// Register installs identity->conn under the caller-supplied
// connection id, atomically evicting any prior connection for the same
// identity. The evicted connection (if any) is returned so the caller
// can notify and close it.
func (r *Registry) Register(identity Identity, connID string, conn Conn) (*Connection, *Connection) {
	if connID == "" {
		connID = uuid.New().String()
	}
	connection := &Connection{
		ID:            connID,
		Identity:      identity,
		EstablishedAt: time.Now(),
		conn:          conn,
	}

	r.mu.Lock()
	evicted := r.byIdentity[identity.ID]
	if evicted != nil {
		delete(r.byConn, evicted.ID)
	}
	r.byIdentity[identity.ID] = connection
	r.byConn[connection.ID] = connection
	count := len(r.byIdentity)
	r.mu.Unlock()

	if evicted != nil {
		r.logger.Warn(fmt.Sprintf("Identity %d reconnected, evicting connection %s", identity.ID, evicted.ID), "registry")
	}
	r.logger.Debug(fmt.Sprintf("Registered connection %s for identity %d (%d online)", connection.ID, identity.ID, count), "registry")

	return connection, evicted
}

// Unregister removes the mapping for a connection id and returns the
// identity it was bound to. A connection that has already been evicted
// (and so no longer owns its identity's slot) reports not-found, which
// keeps a stale disconnect from marking a re-logged-in identity offline.
func (r *Registry) Unregister(connID string) (Identity, bool) {
	r.mu.Lock()
	connection, ok := r.byConn[connID]
	if !ok {
		r.mu.Unlock()
		return Identity{}, false
	}
	delete(r.byConn, connID)
	delete(r.byIdentity, connection.Identity.ID)
	count := r.count()
	r.mu.Unlock()

	r.logger.Debug(fmt.Sprintf("Unregistered connection %s for identity %d (%d online)", connID, connection.Identity.ID, count), "registry")

	return connection.Identity, true
}

// count assumes the caller still holds the lock
func (r *Registry) count() int {
	return len(r.byIdentity)
}

// Resolve looks up the live connection for an identity
func (r *Registry) Resolve(identityID int64) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connection, ok := r.byIdentity[identityID]
	return connection, ok
}

// AllOnline returns a snapshot of online identity ids, ascending
func (r *Registry) AllOnline() []int64 {
	r.mu.RLock()
	ids := make([]int64, 0, len(r.byIdentity))
	for id := range r.byIdentity {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// OnlineIdentities returns a snapshot of the identities currently
// connected, for the presence snapshot sent on login
func (r *Registry) OnlineIdentities() []Identity {
	r.mu.RLock()
	identities := make([]Identity, 0, len(r.byIdentity))
	for _, connection := range r.byIdentity {
		identities = append(identities, connection.Identity)
	}
	r.mu.RUnlock()

	sort.Slice(identities, func(i, j int) bool { return identities[i].ID < identities[j].ID })
	return identities
}

// Connections returns a snapshot of all live connections for fan-out
func (r *Registry) Connections() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connections := make([]*Connection, 0, len(r.byConn))
	for _, connection := range r.byConn {
		connections = append(connections, connection)
	}
	return connections
}

// ConnectionCount returns the number of live connections
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byIdentity)
}
