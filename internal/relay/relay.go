// Package relay implements the real-time session core: it maps
// authenticated identities to live connections, relays and persists
// private messages, tracks presence and typing state, and brokers
// call-signaling handshakes between two identities.
package relay

import (
	"time"
)

// Identity is an authenticated user as seen by the relay core.
// Created and owned by the external user directory; display name and
// avatar are read-through attributes.
type Identity struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar_ref,omitempty"`
}

// Message is a durable private message between two identities.
// CreatedAt is unix milliseconds; ordering within a pair is by
// CreatedAt then ID ascending.
type Message struct {
	ID            int64  `json:"id"`
	From          int64  `json:"from_id"`
	To            int64  `json:"to_id"`
	Content       string `json:"content"`
	Kind          string `json:"kind"` // text, image or file
	AttachmentRef string `json:"attachment_ref,omitempty"`
	CreatedAt     int64  `json:"created_at"`
	Edited        bool   `json:"edited"`
	Deleted       bool   `json:"deleted"`
	Read          bool   `json:"read"`
}

// Message kinds
const (
	KindText  = "text"
	KindImage = "image"
	KindFile  = "file"
)

// Conn is the transport side of a live connection. Send must never
// block; implementations drop on a full buffer. Close tears down the
// underlying transport.
type Conn interface {
	Send(event *Event)
	Close()
}

// Connection binds a transport connection to exactly one identity.
type Connection struct {
	ID            string
	Identity      Identity
	EstablishedAt time.Time
	conn          Conn
}

// Send forwards an event to the connection's transport.
func (c *Connection) Send(event *Event) {
	c.conn.Send(event)
}

// Close closes the underlying transport.
func (c *Connection) Close() {
	c.conn.Close()
}

// UserDirectory is the external user-credential store. The core never
// sees passwords beyond passing them through for verification.
type UserDirectory interface {
	// Register creates a new identity; ErrDuplicateIdentity on collision
	Register(username, password string) (Identity, error)

	// Authenticate verifies credentials; ErrAuthenticationFailed on mismatch
	Authenticate(username, password string) (Identity, error)

	// Get resolves an identity by id; ErrNotFound if absent
	Get(id int64) (Identity, error)

	// Search does a case-insensitive substring match over display names,
	// excluding excludeID, capped at limit results
	Search(query string, excludeID int64, limit int) ([]Identity, error)
}

// MessageStore is the durable persistence boundary for messages.
// Deletion is a soft tombstone; rows are never physically removed by
// the core.
type MessageStore interface {
	// Insert persists a new message, assigning ID and CreatedAt
	Insert(msg *Message) error

	// Get returns a message by id, or nil if absent
	Get(id int64) (*Message, error)

	// UpdateContent replaces content and sets the edited flag
	UpdateContent(id int64, content string) error

	// MarkDeleted tombstones a message, replacing content
	MarkDeleted(id int64, tombstone string) error

	// MarkReadFrom marks all unread messages sender->reader as read and
	// returns how many rows changed
	MarkReadFrom(senderID, readerID int64) (int64, error)

	// History returns the most recent limit messages between a and b,
	// ascending by created_at then id
	History(a, b int64, limit int) ([]*Message, error)

	// RecentContacts returns identity ids with whom any message exists,
	// most recently active first
	RecentContacts(id int64) ([]int64, error)
}

// BlobStore stores attachment payloads outside the message rows and
// returns an opaque retrievable reference.
type BlobStore interface {
	Put(name string, data []byte) (ref string, err error)
	Get(ref string) ([]byte, error)
}
