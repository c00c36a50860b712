package relay

import (
	"encoding/json"
	"time"
)

// EventType represents the type of a protocol event
type EventType string

const (
	// Inbound (client -> relay) event types
	EventRegister      EventType = "register"
	EventLogin         EventType = "login"
	EventSearchUsers   EventType = "search_users"
	EventGetHistory    EventType = "get_history"
	EventPrivateMsg    EventType = "private_message"
	EventEditMessage   EventType = "edit_message"
	EventDeleteMessage EventType = "delete_message"
	EventMarkRead      EventType = "mark_read"
	EventTyping        EventType = "typing"
	EventStopTyping    EventType = "stop_typing"
	EventCallInitiate  EventType = "call_initiate"
	EventCallAccept    EventType = "call_accept"
	EventCallSignal    EventType = "call_signal"
	EventCallHangup    EventType = "call_hangup"

	// Outbound (relay -> client) event types
	EventRegisterSuccess EventType = "register_success"
	EventRegisterError   EventType = "register_error"
	EventLoginSuccess    EventType = "login_success"
	EventLoginError      EventType = "login_error"
	EventRecentChats     EventType = "recent_chats"
	EventOnlineUsers     EventType = "online_users"
	EventSearchResults   EventType = "search_results"
	EventHistory         EventType = "history"
	EventMessageSent     EventType = "message_sent"
	EventMessageEdited   EventType = "message_edited"
	EventMessageDeleted  EventType = "message_deleted"
	EventMessagesRead    EventType = "messages_read"
	EventUserStatus      EventType = "user_status"
	EventCallIncoming    EventType = "call_incoming"
	EventCallAccepted    EventType = "call_accepted"
	EventCallEnded       EventType = "call_ended"
	EventCallError       EventType = "call_error"
	EventSessionReplaced EventType = "session_replaced"

	// Control event types
	EventPing      EventType = "ping"
	EventPong      EventType = "pong"
	EventError     EventType = "error"
	EventConnected EventType = "connected"
)

// Event is the base structure for all protocol events
type Event struct {
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// NewEvent creates a new event with the given type and payload
func NewEvent(eventType EventType, payload interface{}) (*Event, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Event{
		Type:      eventType,
		Payload:   payloadBytes,
		Timestamp: time.Now().Unix(),
	}, nil
}

// CredentialsPayload carries register/login credentials
type CredentialsPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SearchUsersPayload contains a display-name search query
type SearchUsersPayload struct {
	Query string `json:"query"`
}

// GetHistoryPayload requests the message window with another identity
type GetHistoryPayload struct {
	OtherID int64 `json:"other_id"`
	Limit   int   `json:"limit,omitempty"`
}

// PrivateMessagePayload carries a new outbound message. Attachment
// data, when present, is base64 and stored via the blob store before
// the message row is persisted.
type PrivateMessagePayload struct {
	ToID           int64  `json:"to_id"`
	Content        string `json:"content"`
	Kind           string `json:"kind,omitempty"`
	AttachmentName string `json:"attachment_name,omitempty"`
	AttachmentData string `json:"attachment_data,omitempty"` // base64
}

// EditMessagePayload requests a content edit on an owned message
type EditMessagePayload struct {
	MessageID  int64  `json:"message_id"`
	NewContent string `json:"new_content"`
}

// DeleteMessagePayload requests a tombstone delete on an owned message
type DeleteMessagePayload struct {
	MessageID int64 `json:"message_id"`
}

// MarkReadPayload marks all messages from FromID to the reader as read
type MarkReadPayload struct {
	FromID int64 `json:"from_id"`
}

// TypingPayload is the directed ephemeral typing signal
type TypingPayload struct {
	FromID int64 `json:"from_id,omitempty"`
	ToID   int64 `json:"to_id"`
}

// CallInitiatePayload starts a call attempt towards CalleeID
type CallInitiatePayload struct {
	CalleeID int64           `json:"callee_id"`
	Offer    json.RawMessage `json:"offer"`
}

// CallAcceptPayload answers a ringing call from CallerID
type CallAcceptPayload struct {
	CallerID int64           `json:"caller_id"`
	Answer   json.RawMessage `json:"answer"`
}

// CallSignalPayload relays an opaque signaling payload (e.g. a trickle
// ICE candidate) within an existing session. The broker never inspects
// Data.
type CallSignalPayload struct {
	FromID int64           `json:"from_id,omitempty"`
	ToID   int64           `json:"to_id,omitempty"`
	Data   json.RawMessage `json:"data"`
}

// CallHangupPayload ends the session with ToID
type CallHangupPayload struct {
	ToID int64 `json:"to_id"`
}

// LoginSuccessPayload confirms authentication
type LoginSuccessPayload struct {
	Identity Identity `json:"identity"`
}

// RegisterErrorPayload reports a failed registration
type RegisterErrorPayload struct {
	Reason string `json:"reason"`
	Code   string `json:"code,omitempty"`
}

// RecentChatsPayload lists identities with existing chat history
type RecentChatsPayload struct {
	Contacts []Identity `json:"contacts"`
}

// OnlineUsersPayload is the presence snapshot sent on login
type OnlineUsersPayload struct {
	Users []Identity `json:"users"`
}

// SearchResultsPayload carries display-name search results
type SearchResultsPayload struct {
	Users []Identity `json:"users"`
}

// HistoryPayload carries the fixed message window with another identity
type HistoryPayload struct {
	OtherID  int64      `json:"other_id"`
	Messages []*Message `json:"messages"`
}

// MessagesReadPayload is the bulk read receipt sent to the sender
type MessagesReadPayload struct {
	ByID int64 `json:"by_id"`
}

// Presence states
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// UserStatusPayload is broadcast on connect/disconnect
type UserStatusPayload struct {
	IdentityID int64  `json:"identity_id"`
	Status     string `json:"status"`
}

// CallIncomingPayload is delivered to the callee when a call rings
type CallIncomingPayload struct {
	FromID   int64           `json:"from_id"`
	FromName string          `json:"from_name"`
	Offer    json.RawMessage `json:"offer"`
}

// CallAcceptedPayload relays the answer back to the caller
type CallAcceptedPayload struct {
	FromID int64           `json:"from_id"`
	Answer json.RawMessage `json:"answer"`
}

// CallEndedPayload notifies the remaining party of a terminal transition
type CallEndedPayload struct {
	FromID int64 `json:"from_id"`
}

// CallErrorPayload reports a call failure to the initiator
type CallErrorPayload struct {
	CalleeID int64  `json:"callee_id,omitempty"`
	Error    string `json:"error"`
	Code     string `json:"code,omitempty"`
}

// ErrorPayload contains generic error information
type ErrorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// ConnectedPayload is sent when a client successfully connects
type ConnectedPayload struct {
	Message      string `json:"message"`
	ConnectionID string `json:"connection_id"`
}

// SessionReplacedPayload is sent to an evicted connection before close
type SessionReplacedPayload struct {
	Message string `json:"message"`
}
