package relay

import (
	"fmt"
	"strings"

	"github.com/parley-labs/parley-node/internal/utils"
)

// Messenger validates, persists and forwards private messages, and
// enforces edit/delete ownership and read-receipt propagation.
//
// Delivery to the recipient is at-most-once, best-effort: no
// acknowledgement, no retry, no offline queue beyond persisted
// history. Persistence always happens before routing, and the registry
// is consulted again after each store call so a connection that went
// away mid-operation degrades to "recipient offline" rather than an
// error.
type Messenger struct {
	registry *Registry
	store    MessageStore
	users    UserDirectory

	historyLimit int
	searchLimit  int
	tombstone    string

	logger *utils.LogsManager
}

// NewMessenger creates a message relay over the given store and registry
func NewMessenger(registry *Registry, store MessageStore, users UserDirectory, cm *utils.ConfigManager, logger *utils.LogsManager) *Messenger {
	return &Messenger{
		registry:     registry,
		store:        store,
		users:        users,
		historyLimit: cm.GetConfigInt("history_limit", 50, 1, 1000),
		searchLimit:  cm.GetConfigInt("search_limit", 20, 1, 100),
		tombstone:    cm.GetConfigWithDefault("tombstone_text", "This message was deleted"),
		logger:       logger,
	}
}

// Send persists a new message, forwards it to the recipient if online,
// and unconditionally echoes a sent confirmation (carrying the
// server-assigned id and timestamp) back to the sender's connection.
// A failed persist aborts before any relay happens.
func (m *Messenger) Send(fromID, toID int64, content, kind, attachmentRef string) (*Message, error) {
	if kind == "" {
		kind = KindText
	}
	switch kind {
	case KindText, KindImage, KindFile:
	default:
		return nil, fmt.Errorf("unknown message kind %q", kind)
	}

	msg := &Message{
		From:          fromID,
		To:            toID,
		Content:       content,
		Kind:          kind,
		AttachmentRef: attachmentRef,
	}

	if err := m.store.Insert(msg); err != nil {
		m.logger.Error(fmt.Sprintf("Failed to persist message from %d to %d: %v", fromID, toID, err), "relay")
		return nil, fmt.Errorf("failed to persist message: %w", err)
	}

	// Best-effort forward; the recipient may have disconnected since
	// the operation began
	if connection, ok := m.registry.Resolve(toID); ok {
		if event, err := NewEvent(EventPrivateMsg, msg); err == nil {
			connection.Send(event)
		}
	}

	if connection, ok := m.registry.Resolve(fromID); ok {
		if event, err := NewEvent(EventMessageSent, msg); err == nil {
			connection.Send(event)
		}
	}

	m.logger.Debug(fmt.Sprintf("Relayed message %d from %d to %d", msg.ID, fromID, toID), "relay")

	return msg, nil
}

// Edit updates message content for the owning sender, marks it edited
// and notifies both parties. Non-owners get ErrUnauthorized and the
// content is left untouched. Tombstoned messages cannot be edited.
func (m *Messenger) Edit(messageID, requesterID int64, newContent string) (*Message, error) {
	msg, err := m.store.Get(messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load message %d: %w", messageID, err)
	}
	if msg == nil || msg.Deleted {
		return nil, ErrNotFound
	}
	if msg.From != requesterID {
		m.logger.Warn(fmt.Sprintf("Identity %d attempted to edit message %d owned by %d", requesterID, messageID, msg.From), "relay")
		return nil, ErrUnauthorized
	}

	if err := m.store.UpdateContent(messageID, newContent); err != nil {
		return nil, fmt.Errorf("failed to update message %d: %w", messageID, err)
	}

	msg.Content = newContent
	msg.Edited = true
	m.notifyBoth(EventMessageEdited, msg)

	return msg, nil
}

// Delete tombstones a message for the owning sender: the row persists,
// content is replaced by a fixed placeholder, and both parties are
// notified. Deleting an already-deleted message is a no-op beyond the
// first tombstone.
func (m *Messenger) Delete(messageID, requesterID int64) (*Message, error) {
	msg, err := m.store.Get(messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load message %d: %w", messageID, err)
	}
	if msg == nil {
		return nil, ErrNotFound
	}
	if msg.From != requesterID {
		m.logger.Warn(fmt.Sprintf("Identity %d attempted to delete message %d owned by %d", requesterID, messageID, msg.From), "relay")
		return nil, ErrUnauthorized
	}
	if msg.Deleted {
		// idempotent: no second tombstone, no second notification
		return msg, nil
	}

	if err := m.store.MarkDeleted(messageID, m.tombstone); err != nil {
		return nil, fmt.Errorf("failed to delete message %d: %w", messageID, err)
	}

	msg.Content = m.tombstone
	msg.Deleted = true
	m.notifyBoth(EventMessageDeleted, msg)

	return msg, nil
}

// MarkRead marks all unread messages sender->reader as read and sends
// the sender a single bulk read receipt carrying the reader's id.
// Already-read messages stay read; the operation is monotonic.
func (m *Messenger) MarkRead(readerID, senderID int64) error {
	updated, err := m.store.MarkReadFrom(senderID, readerID)
	if err != nil {
		return fmt.Errorf("failed to mark messages read: %w", err)
	}
	if updated == 0 {
		return nil
	}

	if connection, ok := m.registry.Resolve(senderID); ok {
		if event, err := NewEvent(EventMessagesRead, MessagesReadPayload{ByID: readerID}); err == nil {
			connection.Send(event)
		}
	}

	return nil
}

// History returns the most recent limit messages between requester and
// other, ascending by created_at then id. The window is finite and not
// restartable; there is no pagination cursor.
func (m *Messenger) History(requesterID, otherID int64, limit int) ([]*Message, error) {
	if limit <= 0 || limit > m.historyLimit {
		limit = m.historyLimit
	}

	messages, err := m.store.History(requesterID, otherID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return messages, nil
}

// RecentContacts returns the distinct identities with whom any message
// exists, most recently active first, for populating a contact list.
func (m *Messenger) RecentContacts(identityID int64) ([]Identity, error) {
	ids, err := m.store.RecentContacts(identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent contacts: %w", err)
	}

	contacts := make([]Identity, 0, len(ids))
	for _, id := range ids {
		identity, err := m.users.Get(id)
		if err != nil {
			// Directory row gone is not fatal for a contact listing
			m.logger.Warn(fmt.Sprintf("Contact %d not resolvable: %v", id, err), "relay")
			continue
		}
		contacts = append(contacts, identity)
	}
	return contacts, nil
}

// SearchUsers does a case-insensitive substring match over display
// names, excluding the requester, capped at the configured limit.
func (m *Messenger) SearchUsers(query string, excludeID int64) ([]Identity, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	return m.users.Search(query, excludeID, m.searchLimit)
}

func (m *Messenger) notifyBoth(eventType EventType, msg *Message) {
	event, err := NewEvent(eventType, msg)
	if err != nil {
		m.logger.Error(fmt.Sprintf("Failed to build %s event: %v", eventType, err), "relay")
		return
	}

	if connection, ok := m.registry.Resolve(msg.From); ok {
		connection.Send(event)
	}
	if connection, ok := m.registry.Resolve(msg.To); ok {
		connection.Send(event)
	}
}
