package relay_test

import (
	"database/sql"
	"encoding/json"
	"sync"
	"testing"

	"github.com/parley-labs/parley-node/internal/database"
	"github.com/parley-labs/parley-node/internal/relay"
	"github.com/parley-labs/parley-node/internal/utils"
	_ "modernc.org/sqlite"
)

// fakeConn captures sent events for assertions
type fakeConn struct {
	mu     sync.Mutex
	events []*relay.Event
	closed bool
}

func (f *fakeConn) Send(event *relay.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) eventsOfType(eventType relay.EventType) []*relay.Event {
	f.mu.Lock()
	defer f.mu.Unlock()

	var matched []*relay.Event
	for _, event := range f.events {
		if event.Type == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

func (f *fakeConn) countOfType(eventType relay.EventType) int {
	return len(f.eventsOfType(eventType))
}

func (f *fakeConn) lastOfType(t *testing.T, eventType relay.EventType) *relay.Event {
	matched := f.eventsOfType(eventType)
	if len(matched) == 0 {
		t.Fatalf("Expected at least one %s event", eventType)
	}
	return matched[len(matched)-1]
}

func decodePayload(t *testing.T, event *relay.Event, target interface{}) {
	if err := json.Unmarshal(event.Payload, target); err != nil {
		t.Fatalf("Failed to decode %s payload: %v", event.Type, err)
	}
}

func newTestLogger(t *testing.T) (*utils.ConfigManager, *utils.LogsManager) {
	cm := utils.NewConfigManager("")
	return cm, utils.NewLogsManager(cm)
}

// newTestStores opens an in-memory database with real user and message
// managers
func newTestStores(t *testing.T) (*database.UserManager, *database.MessageManager, *sql.DB) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	cm, logger := newTestLogger(t)

	um, err := database.NewUserManager(db, cm, logger)
	if err != nil {
		t.Fatalf("Failed to create UserManager: %v", err)
	}
	mm, err := database.NewMessageManager(db, logger)
	if err != nil {
		t.Fatalf("Failed to create MessageManager: %v", err)
	}

	return um, mm, db
}

func registerUser(t *testing.T, um *database.UserManager, username string) relay.Identity {
	identity, err := um.Register(username, "secret")
	if err != nil {
		t.Fatalf("Failed to register %s: %v", username, err)
	}
	return identity
}

func connect(t *testing.T, registry *relay.Registry, identity relay.Identity) *fakeConn {
	conn := &fakeConn{}
	if _, evicted := registry.Register(identity, "", conn); evicted != nil {
		t.Fatalf("Unexpected eviction for %d", identity.ID)
	}
	return conn
}
