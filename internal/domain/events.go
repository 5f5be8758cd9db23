package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Wire event names. The envelope is a flat JSON object carrying a "type"
// discriminator next to the payload fields.
const (
	// outbound
	EventSetup       = "setup"
	EventJoinRoom    = "join_room"
	EventLeaveRoom   = "leave_room"
	EventTypingStart = "typing_start"
	EventTypingStop  = "typing_stop"
	EventSendMessage = "send_message"

	// inbound
	EventConnected           = "connected"
	EventMessage             = "message"
	EventMessageUpdated      = "message_updated"
	EventMessagesRead        = "messages_read"
	EventTyping              = "typing"
	EventTypingStopped       = "typing_stopped"
	EventMessageDeleted      = "message_deleted"
	EventPresence            = "presence"
	EventConversationCreated = "conversation_created"
	EventConversationDeleted = "conversation_deleted"
)

// Event is one decoded, validated inbound channel event.
type Event interface {
	EventName() string
}

// Connected is the server's acknowledgement of setup. It fires on every
// successful (re)connection and is the trigger for re-joining rooms.
type Connected struct{}

func (Connected) EventName() string { return EventConnected }

// MessageArrived carries a newly appended message.
type MessageArrived struct {
	Message *Message
}

func (MessageArrived) EventName() string { return EventMessage }

// MessageUpdated carries an in-place mutation of an existing message,
// including the tombstone form of a global delete.
type MessageUpdated struct {
	Message *Message
}

func (MessageUpdated) EventName() string { return EventMessageUpdated }

// MessagesRead reports that a user has read a conversation up to now.
type MessagesRead struct {
	ConversationID string
	UserID         string
	ReadAt         time.Time
}

func (MessagesRead) EventName() string { return EventMessagesRead }

// TypingStarted reports that a user started (or is still) typing in a room.
type TypingStarted struct {
	ConversationID string
	UserID         string
	DisplayName    string
}

func (TypingStarted) EventName() string { return EventTyping }

// TypingStopped reports the explicit end of a typing indicator. It may be
// dropped by the transport; the idle auto-clear is the backstop.
type TypingStopped struct {
	ConversationID string
}

func (TypingStopped) EventName() string { return EventTypingStopped }

// MessageDeleted requests local removal of a message from the log. Used for
// the delete-for-me echo and for hard deletes.
type MessageDeleted struct {
	MessageID      string
	ConversationID string
}

func (MessageDeleted) EventName() string { return EventMessageDeleted }

// PresenceChanged flips a user's online flag.
type PresenceChanged struct {
	UserID string
	Online bool
}

func (PresenceChanged) EventName() string { return EventPresence }

// ConversationCreated announces a conversation the client should list.
type ConversationCreated struct {
	Conversation *Conversation
}

func (ConversationCreated) EventName() string { return EventConversationCreated }

// ConversationDeleted announces removal of a conversation.
type ConversationDeleted struct {
	ConversationID string
}

func (ConversationDeleted) EventName() string { return EventConversationDeleted }

// envelope is the superset of inbound payload fields, narrowed per type.
type envelope struct {
	Type string `json:"type"`

	Message        *Message      `json:"message,omitempty"`
	Conversation   *Conversation `json:"conversation,omitempty"`
	ConversationID string        `json:"conversation_id,omitempty"`
	MessageID      string        `json:"message_id,omitempty"`
	UserID         string        `json:"user_id,omitempty"`
	DisplayName    string        `json:"display_name,omitempty"`
	ReadAt         time.Time     `json:"read_at,omitempty"`
	Online         *bool         `json:"online,omitempty"`
}

// DecodeEvent parses and validates a raw inbound frame into its tagged
// variant. Payloads from the channel are loosely typed; narrowing happens
// here so the rest of the core only ever sees well-formed events.
func DecodeEvent(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	switch env.Type {
	case EventConnected:
		return Connected{}, nil

	case EventMessage, EventMessageUpdated:
		if env.Message == nil || env.Message.ID == "" || env.Message.ConversationID == "" {
			return nil, fmt.Errorf("%s: %w", env.Type, ErrInvalidEvent)
		}
		if env.Message.Delivery == "" {
			env.Message.Delivery = DeliverySent
		}
		if env.Type == EventMessage {
			return MessageArrived{Message: env.Message}, nil
		}
		return MessageUpdated{Message: env.Message}, nil

	case EventMessagesRead:
		if env.ConversationID == "" || env.UserID == "" {
			return nil, fmt.Errorf("%s: %w", env.Type, ErrInvalidEvent)
		}
		readAt := env.ReadAt
		if readAt.IsZero() {
			readAt = time.Now()
		}
		return MessagesRead{ConversationID: env.ConversationID, UserID: env.UserID, ReadAt: readAt}, nil

	case EventTyping:
		if env.ConversationID == "" || env.UserID == "" {
			return nil, fmt.Errorf("%s: %w", env.Type, ErrInvalidEvent)
		}
		return TypingStarted{ConversationID: env.ConversationID, UserID: env.UserID, DisplayName: env.DisplayName}, nil

	case EventTypingStopped:
		if env.ConversationID == "" {
			return nil, fmt.Errorf("%s: %w", env.Type, ErrInvalidEvent)
		}
		return TypingStopped{ConversationID: env.ConversationID}, nil

	case EventMessageDeleted:
		if env.MessageID == "" || env.ConversationID == "" {
			return nil, fmt.Errorf("%s: %w", env.Type, ErrInvalidEvent)
		}
		return MessageDeleted{MessageID: env.MessageID, ConversationID: env.ConversationID}, nil

	case EventPresence:
		if env.UserID == "" || env.Online == nil {
			return nil, fmt.Errorf("%s: %w", env.Type, ErrInvalidEvent)
		}
		return PresenceChanged{UserID: env.UserID, Online: *env.Online}, nil

	case EventConversationCreated:
		if env.Conversation == nil || env.Conversation.ID == "" {
			return nil, fmt.Errorf("%s: %w", env.Type, ErrInvalidEvent)
		}
		return ConversationCreated{Conversation: env.Conversation}, nil

	case EventConversationDeleted:
		if env.ConversationID == "" {
			return nil, fmt.Errorf("%s: %w", env.Type, ErrInvalidEvent)
		}
		return ConversationDeleted{ConversationID: env.ConversationID}, nil

	default:
		return nil, fmt.Errorf("%q: %w", env.Type, ErrUnknownEvent)
	}
}
