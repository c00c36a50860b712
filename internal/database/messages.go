package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/parley-labs/parley-node/internal/relay"
	"github.com/parley-labs/parley-node/internal/utils"
)

// MessageManager handles the messages table. It implements
// relay.MessageStore. Deletion is a soft tombstone; rows are never
// physically removed.
type MessageManager struct {
	db     *sql.DB
	logger *utils.LogsManager
}

// NewMessageManager creates a message manager and ensures the messages
// table exists
func NewMessageManager(db *sql.DB, logger *utils.LogsManager) (*MessageManager, error) {
	mm := &MessageManager{
		db:     db,
		logger: logger,
	}

	if err := mm.initTable(); err != nil {
		return nil, err
	}

	return mm, nil
}

func (mm *MessageManager) initTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		from_id INTEGER NOT NULL,
		to_id INTEGER NOT NULL,
		content TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT 'text' CHECK(kind IN ('text', 'image', 'file')),
		attachment_ref TEXT DEFAULT '',
		created_at INTEGER NOT NULL,
		edited INTEGER NOT NULL DEFAULT 0,
		deleted INTEGER NOT NULL DEFAULT 0,
		read INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (from_id) REFERENCES users(id),
		FOREIGN KEY (to_id) REFERENCES users(id)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(from_id, to_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages(to_id, read);
	`

	if _, err := mm.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create messages table: %v", err)
	}

	mm.logger.Info("messages table initialized", "database")
	return nil
}

// Insert persists a new message, assigning its id and created_at
// (unix milliseconds)
func (mm *MessageManager) Insert(msg *relay.Message) error {
	msg.CreatedAt = time.Now().UnixMilli()

	result, err := mm.db.Exec(
		`INSERT INTO messages (from_id, to_id, content, kind, attachment_ref, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.From, msg.To, msg.Content, msg.Kind, msg.AttachmentRef, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %v", err)
	}

	msg.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read message id: %v", err)
	}

	return nil
}

// Get returns a message by id, or nil if absent
func (mm *MessageManager) Get(id int64) (*relay.Message, error) {
	var msg relay.Message

	err := mm.db.QueryRow(
		`SELECT id, from_id, to_id, content, kind, attachment_ref, created_at, edited, deleted, read
		 FROM messages WHERE id = ?`,
		id,
	).Scan(&msg.ID, &msg.From, &msg.To, &msg.Content, &msg.Kind, &msg.AttachmentRef,
		&msg.CreatedAt, &msg.Edited, &msg.Deleted, &msg.Read)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query message %d: %v", id, err)
	}

	return &msg, nil
}

// UpdateContent replaces content and sets the edited flag
func (mm *MessageManager) UpdateContent(id int64, content string) error {
	result, err := mm.db.Exec(
		"UPDATE messages SET content = ?, edited = 1 WHERE id = ? AND deleted = 0",
		content, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update message %d: %v", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %v", err)
	}
	if affected == 0 {
		return relay.ErrNotFound
	}
	return nil
}

// MarkDeleted tombstones a message: content is replaced by the
// placeholder and the row persists
func (mm *MessageManager) MarkDeleted(id int64, tombstone string) error {
	result, err := mm.db.Exec(
		"UPDATE messages SET content = ?, deleted = 1 WHERE id = ?",
		tombstone, id,
	)
	if err != nil {
		return fmt.Errorf("failed to tombstone message %d: %v", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %v", err)
	}
	if affected == 0 {
		return relay.ErrNotFound
	}
	return nil
}

// MarkReadFrom marks all unread messages sender->reader as read and
// returns how many rows changed. Already-read rows are untouched.
func (mm *MessageManager) MarkReadFrom(senderID, readerID int64) (int64, error) {
	result, err := mm.db.Exec(
		"UPDATE messages SET read = 1 WHERE from_id = ? AND to_id = ? AND read = 0",
		senderID, readerID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages read: %v", err)
	}
	return result.RowsAffected()
}

// History returns the most recent limit messages between a and b in
// either direction, ascending by created_at then id
func (mm *MessageManager) History(a, b int64, limit int) ([]*relay.Message, error) {
	rows, err := mm.db.Query(
		`SELECT id, from_id, to_id, content, kind, attachment_ref, created_at, edited, deleted, read
		 FROM messages
		 WHERE (from_id = ? AND to_id = ?) OR (from_id = ? AND to_id = ?)
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		a, b, b, a, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %v", err)
	}
	defer rows.Close()

	var messages []*relay.Message
	for rows.Next() {
		var msg relay.Message
		if err := rows.Scan(&msg.ID, &msg.From, &msg.To, &msg.Content, &msg.Kind,
			&msg.AttachmentRef, &msg.CreatedAt, &msg.Edited, &msg.Deleted, &msg.Read); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %v", err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query walks newest-first to apply the limit; callers want ascending
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// RecentContacts returns the identity ids with whom any message exists,
// most recently active first
func (mm *MessageManager) RecentContacts(id int64) ([]int64, error) {
	rows, err := mm.db.Query(
		`SELECT CASE WHEN from_id = ? THEN to_id ELSE from_id END AS other
		 FROM messages
		 WHERE from_id = ? OR to_id = ?
		 GROUP BY other
		 ORDER BY MAX(created_at) DESC`,
		id, id, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent contacts: %v", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var other int64
		if err := rows.Scan(&other); err != nil {
			return nil, fmt.Errorf("failed to scan contact row: %v", err)
		}
		ids = append(ids, other)
	}

	return ids, rows.Err()
}

// UnreadCount returns the number of unread messages sender->reader
func (mm *MessageManager) UnreadCount(senderID, readerID int64) (int64, error) {
	var count int64
	err := mm.db.QueryRow(
		"SELECT COUNT(*) FROM messages WHERE from_id = ? AND to_id = ? AND read = 0",
		senderID, readerID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %v", err)
	}
	return count, nil
}
