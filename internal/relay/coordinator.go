package relay

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/parley-labs/parley-node/internal/utils"
)

// Session is the per-connection dispatch state. Events for one
// connection are processed sequentially by its read loop, so the
// identity pointer needs no locking.
type Session struct {
	ID       string
	conn     Conn
	identity *Identity
}

// Identity returns the authenticated identity, or nil before login
func (s *Session) Identity() *Identity {
	return s.identity
}

// Coordinator is the top-level dispatcher: it authenticates incoming
// connections, wires them into the registry and routes inbound
// protocol events to the presence tracker, message relay and call
// broker. Unauthenticated or malformed events are dropped with a log
// entry and never retried.
type Coordinator struct {
	registry  *Registry
	presence  *Presence
	messenger *Messenger
	calls     *Broker
	users     UserDirectory
	blobs     BlobStore
	logger    *utils.LogsManager
}

// NewCoordinator creates a session coordinator over the core components
func NewCoordinator(
	registry *Registry,
	presence *Presence,
	messenger *Messenger,
	calls *Broker,
	users UserDirectory,
	blobs BlobStore,
	logger *utils.LogsManager,
) *Coordinator {
	return &Coordinator{
		registry:  registry,
		presence:  presence,
		messenger: messenger,
		calls:     calls,
		users:     users,
		blobs:     blobs,
		logger:    logger,
	}
}

// NewSession starts an unauthenticated session for a fresh transport
// connection and sends the greeting. Only register and login events
// are accepted until authentication completes.
func (c *Coordinator) NewSession(conn Conn) *Session {
	session := &Session{
		ID:   uuid.New().String(),
		conn: conn,
	}

	if event, err := NewEvent(EventConnected, ConnectedPayload{
		Message:      "Connected to relay",
		ConnectionID: session.ID,
	}); err == nil {
		conn.Send(event)
	}

	return session
}

// Attach starts a session that is already authenticated (token
// fast-path on the WebSocket upgrade) and runs the full login flow.
func (c *Coordinator) Attach(conn Conn, identity Identity) *Session {
	session := c.NewSession(conn)
	c.completeLogin(session, identity)
	return session
}

// Disconnect tears down a session on transport close: it unregisters
// the connection, broadcasts offline presence and force-ends any call
// the identity participated in. An evicted connection no longer owns
// its identity's registry slot, so its disconnect is a no-op here.
func (c *Coordinator) Disconnect(session *Session) {
	if session.identity == nil {
		return
	}

	identity, ok := c.registry.Unregister(session.ID)
	if !ok {
		return
	}

	c.presence.OnDisconnect(identity.ID)
	c.calls.EndAllFor(identity.ID)
}

// Dispatch routes one inbound event for a session. Events other than
// register/login require authentication; everything invalid is dropped
// with a log entry.
func (c *Coordinator) Dispatch(session *Session, event *Event) {
	switch event.Type {
	case EventPing:
		if pong, err := NewEvent(EventPong, nil); err == nil {
			session.conn.Send(pong)
		}
		return

	case EventRegister:
		c.handleRegister(session, event)
		return

	case EventLogin:
		c.handleLogin(session, event)
		return
	}

	if session.identity == nil {
		c.logger.Warn(fmt.Sprintf("Dropping %s event from unauthenticated connection %s", event.Type, session.ID), "coordinator")
		return
	}

	switch event.Type {
	case EventSearchUsers:
		c.handleSearchUsers(session, event)
	case EventGetHistory:
		c.handleGetHistory(session, event)
	case EventPrivateMsg:
		c.handlePrivateMessage(session, event)
	case EventEditMessage:
		c.handleEditMessage(session, event)
	case EventDeleteMessage:
		c.handleDeleteMessage(session, event)
	case EventMarkRead:
		c.handleMarkRead(session, event)
	case EventTyping:
		c.handleTyping(session, event, true)
	case EventStopTyping:
		c.handleTyping(session, event, false)
	case EventCallInitiate:
		c.handleCallInitiate(session, event)
	case EventCallAccept:
		c.handleCallAccept(session, event)
	case EventCallSignal:
		c.handleCallSignal(session, event)
	case EventCallHangup:
		c.handleCallHangup(session, event)
	default:
		c.logger.Debug(fmt.Sprintf("Dropping unknown event type %s from connection %s", event.Type, session.ID), "coordinator")
	}
}

func (c *Coordinator) handleRegister(session *Session, event *Event) {
	var payload CredentialsPayload
	if !c.decode(session, event, &payload) {
		return
	}

	identity, err := c.users.Register(payload.Username, payload.Password)
	if err != nil {
		c.logger.Warn(fmt.Sprintf("Registration failed for %q: %v", payload.Username, err), "coordinator")
		if response, rerr := NewEvent(EventRegisterError, RegisterErrorPayload{
			Reason: err.Error(),
			Code:   ErrorCode(err),
		}); rerr == nil {
			session.conn.Send(response)
		}
		return
	}

	c.logger.Info(fmt.Sprintf("Registered identity %d (%s)", identity.ID, identity.DisplayName), "coordinator")
	if response, err := NewEvent(EventRegisterSuccess, LoginSuccessPayload{Identity: identity}); err == nil {
		session.conn.Send(response)
	}
}

func (c *Coordinator) handleLogin(session *Session, event *Event) {
	var payload CredentialsPayload
	if !c.decode(session, event, &payload) {
		return
	}

	identity, err := c.users.Authenticate(payload.Username, payload.Password)
	if err != nil {
		c.logger.Warn(fmt.Sprintf("Login failed for %q: %v", payload.Username, err), "coordinator")
		if response, rerr := NewEvent(EventLoginError, ErrorPayload{
			Error: "authentication failed",
			Code:  ErrorCode(err),
		}); rerr == nil {
			session.conn.Send(response)
		}
		return
	}

	c.completeLogin(session, identity)
}

// completeLogin registers the connection (closing any displaced one so
// a stale tab cannot receive duplicate deliveries), broadcasts online
// presence and sends the login bundle: identity, recent chats and the
// online-users snapshot.
func (c *Coordinator) completeLogin(session *Session, identity Identity) {
	_, evicted := c.registry.Register(identity, session.ID, session.conn)
	if evicted != nil {
		// The evicted connection's calls die with it; its later
		// disconnect unregisters nothing, so this is the only place
		// that can end them
		c.calls.EndAllFor(identity.ID)

		if notice, err := NewEvent(EventSessionReplaced, SessionReplacedPayload{
			Message: "Signed in from another location",
		}); err == nil {
			evicted.Send(notice)
		}
		evicted.Close()
	}

	session.identity = &identity
	c.presence.OnConnect(identity.ID)

	if response, err := NewEvent(EventLoginSuccess, LoginSuccessPayload{Identity: identity}); err == nil {
		session.conn.Send(response)
	}

	contacts, err := c.messenger.RecentContacts(identity.ID)
	if err != nil {
		c.logger.Error(fmt.Sprintf("Failed to load recent contacts for %d: %v", identity.ID, err), "coordinator")
	} else if response, err := NewEvent(EventRecentChats, RecentChatsPayload{Contacts: contacts}); err == nil {
		session.conn.Send(response)
	}

	if response, err := NewEvent(EventOnlineUsers, OnlineUsersPayload{
		Users: c.registry.OnlineIdentities(),
	}); err == nil {
		session.conn.Send(response)
	}

	c.logger.Info(fmt.Sprintf("Identity %d (%s) logged in on connection %s", identity.ID, identity.DisplayName, session.ID), "coordinator")
}

func (c *Coordinator) handleSearchUsers(session *Session, event *Event) {
	var payload SearchUsersPayload
	if !c.decode(session, event, &payload) {
		return
	}

	users, err := c.messenger.SearchUsers(payload.Query, session.identity.ID)
	if err != nil {
		c.sendError(session, err)
		return
	}

	if response, err := NewEvent(EventSearchResults, SearchResultsPayload{Users: users}); err == nil {
		session.conn.Send(response)
	}
}

func (c *Coordinator) handleGetHistory(session *Session, event *Event) {
	var payload GetHistoryPayload
	if !c.decode(session, event, &payload) {
		return
	}

	messages, err := c.messenger.History(session.identity.ID, payload.OtherID, payload.Limit)
	if err != nil {
		c.sendError(session, err)
		return
	}

	if response, err := NewEvent(EventHistory, HistoryPayload{
		OtherID:  payload.OtherID,
		Messages: messages,
	}); err == nil {
		session.conn.Send(response)
	}
}

func (c *Coordinator) handlePrivateMessage(session *Session, event *Event) {
	var payload PrivateMessagePayload
	if !c.decode(session, event, &payload) {
		return
	}

	attachmentRef := ""
	if payload.AttachmentData != "" {
		data, err := base64.StdEncoding.DecodeString(payload.AttachmentData)
		if err != nil {
			c.logger.Warn(fmt.Sprintf("Dropping message with undecodable attachment from %d: %v", session.identity.ID, err), "coordinator")
			return
		}
		attachmentRef, err = c.blobs.Put(payload.AttachmentName, data)
		if err != nil {
			c.sendError(session, fmt.Errorf("failed to store attachment: %w", err))
			return
		}
	}

	if _, err := c.messenger.Send(session.identity.ID, payload.ToID, payload.Content, payload.Kind, attachmentRef); err != nil {
		c.sendError(session, err)
	}
}

func (c *Coordinator) handleEditMessage(session *Session, event *Event) {
	var payload EditMessagePayload
	if !c.decode(session, event, &payload) {
		return
	}

	if _, err := c.messenger.Edit(payload.MessageID, session.identity.ID, payload.NewContent); err != nil {
		c.sendError(session, err)
	}
}

func (c *Coordinator) handleDeleteMessage(session *Session, event *Event) {
	var payload DeleteMessagePayload
	if !c.decode(session, event, &payload) {
		return
	}

	if _, err := c.messenger.Delete(payload.MessageID, session.identity.ID); err != nil {
		c.sendError(session, err)
	}
}

func (c *Coordinator) handleMarkRead(session *Session, event *Event) {
	var payload MarkReadPayload
	if !c.decode(session, event, &payload) {
		return
	}

	if err := c.messenger.MarkRead(session.identity.ID, payload.FromID); err != nil {
		c.sendError(session, err)
	}
}

func (c *Coordinator) handleTyping(session *Session, event *Event, active bool) {
	var payload TypingPayload
	if !c.decode(session, event, &payload) {
		return
	}

	if active {
		c.presence.Typing(session.identity.ID, payload.ToID)
	} else {
		c.presence.StopTyping(session.identity.ID, payload.ToID)
	}
}

func (c *Coordinator) handleCallInitiate(session *Session, event *Event) {
	var payload CallInitiatePayload
	if !c.decode(session, event, &payload) {
		return
	}

	if err := c.calls.Initiate(*session.identity, payload.CalleeID, payload.Offer); err != nil {
		c.sendCallError(session, payload.CalleeID, err)
	}
}

func (c *Coordinator) handleCallAccept(session *Session, event *Event) {
	var payload CallAcceptPayload
	if !c.decode(session, event, &payload) {
		return
	}

	if err := c.calls.Accept(*session.identity, payload.CallerID, payload.Answer); err != nil {
		c.sendCallError(session, payload.CallerID, err)
	}
}

func (c *Coordinator) handleCallSignal(session *Session, event *Event) {
	var payload CallSignalPayload
	if !c.decode(session, event, &payload) {
		return
	}

	if err := c.calls.Signal(session.identity.ID, payload.ToID, payload.Data); err != nil {
		c.sendCallError(session, payload.ToID, err)
	}
}

func (c *Coordinator) handleCallHangup(session *Session, event *Event) {
	var payload CallHangupPayload
	if !c.decode(session, event, &payload) {
		return
	}

	c.calls.Hangup(session.identity.ID, payload.ToID)
}

// decode unmarshals an event payload; malformed payloads are dropped
// with a log entry per the protocol contract
func (c *Coordinator) decode(session *Session, event *Event, target interface{}) bool {
	if err := json.Unmarshal(event.Payload, target); err != nil {
		c.logger.Warn(fmt.Sprintf("Dropping malformed %s payload on connection %s: %v", event.Type, session.ID, err), "coordinator")
		return false
	}
	return true
}

func (c *Coordinator) sendError(session *Session, err error) {
	response, berr := NewEvent(EventError, ErrorPayload{
		Error: err.Error(),
		Code:  ErrorCode(err),
	})
	if berr != nil {
		return
	}
	session.conn.Send(response)
}

func (c *Coordinator) sendCallError(session *Session, peerID int64, err error) {
	var message string
	switch {
	case errors.Is(err, ErrRecipientOffline):
		message = "recipient is offline"
	case errors.Is(err, ErrCallInProgress):
		message = "call already in progress"
	case errors.Is(err, ErrNoSuchCall):
		message = "no matching call"
	default:
		message = err.Error()
	}

	response, berr := NewEvent(EventCallError, CallErrorPayload{
		CalleeID: peerID,
		Error:    message,
		Code:     ErrorCode(err),
	})
	if berr != nil {
		return
	}
	session.conn.Send(response)
}
