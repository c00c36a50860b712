package database

import (
	"database/sql"
	"testing"
	"time"

	"github.com/parley-labs/parley-node/internal/relay"
	"github.com/parley-labs/parley-node/internal/utils"
	_ "modernc.org/sqlite"
)

func setupTestMessageDB(t *testing.T) (*MessageManager, *sql.DB) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	cm := utils.NewConfigManager("")
	logger := utils.NewLogsManager(cm)

	mm, err := NewMessageManager(db, logger)
	if err != nil {
		t.Fatalf("Failed to create MessageManager: %v", err)
	}

	return mm, db
}

func insertTestMessage(t *testing.T, mm *MessageManager, from, to int64, content string) *relay.Message {
	msg := &relay.Message{From: from, To: to, Content: content, Kind: relay.KindText}
	if err := mm.Insert(msg); err != nil {
		t.Fatalf("Failed to insert message: %v", err)
	}
	return msg
}

func TestInsertAndGetMessage(t *testing.T) {
	mm, db := setupTestMessageDB(t)
	defer db.Close()

	msg := insertTestMessage(t, mm, 1, 2, "hello")
	if msg.ID == 0 {
		t.Fatal("Expected a non-zero message id")
	}
	if msg.CreatedAt == 0 {
		t.Fatal("Expected created_at to be assigned")
	}

	got, err := mm.Get(msg.ID)
	if err != nil {
		t.Fatalf("Failed to get message: %v", err)
	}
	if got == nil {
		t.Fatal("Expected message, got nil")
	}
	if got.Content != "hello" || got.From != 1 || got.To != 2 {
		t.Errorf("Unexpected message: %+v", got)
	}

	missing, err := mm.Get(9999)
	if err != nil {
		t.Fatalf("Unexpected error for missing message: %v", err)
	}
	if missing != nil {
		t.Errorf("Expected nil for missing message, got %+v", missing)
	}
}

func TestUpdateContentSetsEditedFlag(t *testing.T) {
	mm, db := setupTestMessageDB(t)
	defer db.Close()

	msg := insertTestMessage(t, mm, 1, 2, "first")

	if err := mm.UpdateContent(msg.ID, "second"); err != nil {
		t.Fatalf("Failed to update content: %v", err)
	}

	got, err := mm.Get(msg.ID)
	if err != nil {
		t.Fatalf("Failed to get message: %v", err)
	}
	if got.Content != "second" {
		t.Errorf("Expected content second, got %s", got.Content)
	}
	if !got.Edited {
		t.Error("Expected edited flag to be set")
	}
}

func TestMarkDeletedKeepsRow(t *testing.T) {
	mm, db := setupTestMessageDB(t)
	defer db.Close()

	msg := insertTestMessage(t, mm, 1, 2, "secret")

	if err := mm.MarkDeleted(msg.ID, "This message was deleted"); err != nil {
		t.Fatalf("Failed to tombstone message: %v", err)
	}

	got, err := mm.Get(msg.ID)
	if err != nil {
		t.Fatalf("Failed to get message: %v", err)
	}
	if got == nil {
		t.Fatal("Tombstoned row should still exist")
	}
	if !got.Deleted {
		t.Error("Expected deleted flag to be set")
	}
	if got.Content != "This message was deleted" {
		t.Errorf("Expected tombstone content, got %s", got.Content)
	}

	// Tombstoned messages reject content updates
	if err := mm.UpdateContent(msg.ID, "resurrect"); err == nil {
		t.Error("Expected error updating a tombstoned message")
	}
}

func TestMarkReadFromIsMonotonic(t *testing.T) {
	mm, db := setupTestMessageDB(t)
	defer db.Close()

	insertTestMessage(t, mm, 1, 2, "one")
	insertTestMessage(t, mm, 1, 2, "two")
	insertTestMessage(t, mm, 2, 1, "reply")

	updated, err := mm.MarkReadFrom(1, 2)
	if err != nil {
		t.Fatalf("Failed to mark read: %v", err)
	}
	if updated != 2 {
		t.Errorf("Expected 2 rows updated, got %d", updated)
	}

	// Second pass finds nothing unread
	updated, err = mm.MarkReadFrom(1, 2)
	if err != nil {
		t.Fatalf("Failed to mark read: %v", err)
	}
	if updated != 0 {
		t.Errorf("Expected 0 rows updated, got %d", updated)
	}

	// The reverse direction is untouched
	count, err := mm.UnreadCount(2, 1)
	if err != nil {
		t.Fatalf("Failed to count unread: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 unread in reverse direction, got %d", count)
	}
}

func TestHistoryOrderingAndLimit(t *testing.T) {
	mm, db := setupTestMessageDB(t)
	defer db.Close()

	first := insertTestMessage(t, mm, 1, 2, "first")
	insertTestMessage(t, mm, 2, 1, "second")
	third := insertTestMessage(t, mm, 1, 2, "third")

	// A message with a third party never shows up
	insertTestMessage(t, mm, 1, 3, "other thread")

	messages, err := mm.History(1, 2, 10)
	if err != nil {
		t.Fatalf("Failed to load history: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(messages))
	}
	if messages[0].ID != first.ID || messages[2].ID != third.ID {
		t.Errorf("History not ascending: %v, %v, %v", messages[0].ID, messages[1].ID, messages[2].ID)
	}

	// Limit keeps the most recent window, still ascending
	messages, err = mm.History(1, 2, 2)
	if err != nil {
		t.Fatalf("Failed to load limited history: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(messages))
	}
	if messages[1].ID != third.ID {
		t.Errorf("Expected newest message last, got id %d", messages[1].ID)
	}
	if messages[0].ID >= messages[1].ID {
		t.Error("Limited history not ascending")
	}
}

func TestRecentContactsOrdering(t *testing.T) {
	mm, db := setupTestMessageDB(t)
	defer db.Close()

	insertTestMessage(t, mm, 1, 2, "to two")
	time.Sleep(2 * time.Millisecond) // created_at has millisecond resolution
	insertTestMessage(t, mm, 3, 1, "from three")

	ids, err := mm.RecentContacts(1)
	if err != nil {
		t.Fatalf("Failed to load recent contacts: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("Expected 2 contacts, got %d", len(ids))
	}
	// Most recently active first; identity 3 messaged last
	if ids[0] != 3 || ids[1] != 2 {
		t.Errorf("Unexpected contact ordering: %v", ids)
	}

	ids, err = mm.RecentContacts(4)
	if err != nil {
		t.Fatalf("Failed to load recent contacts: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("Expected no contacts, got %v", ids)
	}
}
