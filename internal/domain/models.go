package domain

import (
	"errors"
	"time"
)

// ConversationType distinguishes one-on-one threads from named groups.
type ConversationType string

const (
	ConversationPrivate ConversationType = "private"
	ConversationGroup   ConversationType = "group"
)

// ContentType classifies a message body.
type ContentType string

const (
	ContentText     ContentType = "text"
	ContentImage    ContentType = "image"
	ContentVideo    ContentType = "video"
	ContentDocument ContentType = "document"
)

// Role of a user inside a conversation. Elevated roles may delete other
// members' messages for everyone.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

// Elevated reports whether the role grants moderation rights.
func (r Role) Elevated() bool {
	return r == RoleAdmin || r == RoleOwner
}

// DeliveryState tracks a message through the optimistic send flow.
type DeliveryState string

const (
	DeliveryPending   DeliveryState = "pending"
	DeliverySent      DeliveryState = "sent"
	DeliveryDelivered DeliveryState = "delivered"
	DeliveryRead      DeliveryState = "read"
	DeliveryFailed    DeliveryState = "failed"
)

// DeleteScope selects between the two message deletion variants.
type DeleteScope string

const (
	DeleteForMe       DeleteScope = "for_me"
	DeleteForEveryone DeleteScope = "for_everyone"
)

// Member is one participant of a conversation.
type Member struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
	// Online is populated only for the counterpart of a private conversation.
	Online *bool `json:"online,omitempty"`
}

// LastMessage is the snapshot shown in the conversation list.
type LastMessage struct {
	ContentType ContentType `json:"content_type"`
	Preview     string      `json:"preview"`
	SentAt      time.Time   `json:"sent_at"`
}

// Conversation is a private or group thread as held by the registry.
type Conversation struct {
	ID          string           `json:"id"`
	Type        ConversationType `json:"type"`
	Name        string           `json:"name"`
	Avatar      string           `json:"avatar,omitempty"`
	Members     []Member         `json:"members"`
	LastMessage *LastMessage     `json:"last_message,omitempty"`
	UnreadCount int              `json:"unread_count"`
}

/// Validate enforces the membership invariants: a private conversation has
// exactly two members, a group has at least two and a name.
func (c *Conversation) Validate() error {
	switch c.Type {
	case ConversationPrivate:
		if len(c.Members) != 2 {
			return errors.New("private conversation requires exactly 2 members")
		}
	case ConversationGroup:
		if len(c.Members) < 2 {
			return errors.New("group conversation requires at least 2 members")
		}
		if c.Name == "" {
			return errors.New("group conversation requires a name")
		}
	default:
		return errors.New("unknown conversation type")
	}
	return nil
}

// Counterpart returns the member that is not self in a private conversation.
func (c *Conversation) Counterpart(selfID string) (Member, bool) {
	if c.Type != ConversationPrivate {
		return Member{}, false
	}
	for _, m := range c.Members {
		if m.UserID != selfID {
			return m, true
		}
	}
	return Member{}, false
}

// Sender identifies the author of a message.
type Sender struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	Role        Role   `json:"role,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

// complete reports whether the sender reference carries more than the id.
func (s Sender) complete() bool {
	return s.UserID != "" && s.DisplayName != ""
}

// Attachment references an uploaded file carried by a message.
type Attachment struct {
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Message is one entry of a conversation's ordered log. A message belongs to
// exactly one conversation for its entire lifetime.
type Message struct {
	ID             string               `json:"id"`
	ConversationID string               `json:"conversation_id"`
	Sender         Sender               `json:"sender"`
	ContentType    ContentType          `json:"content_type"`
	Body           string               `json:"body"`
	Attachments    []Attachment         `json:"attachments,omitempty"`
	SentAt         time.Time            `json:"sent_at"`
	ReadBy         map[string]time.Time `json:"read_by,omitempty"`
	Deleted        bool                 `json:"deleted"`
	Delivery       DeliveryState        `json:"-"`
}

// MarkReadBy appends a reader to the read-by set. Idempotent: an existing
// entry keeps its original timestamp.
func (m *Message) MarkReadBy(userID string, readAt time.Time) {
	if m.ReadBy == nil {
		m.ReadBy = make(map[string]time.Time, 1)
	}
	if _, ok := m.ReadBy[userID]; ok {
		return
	}
	m.ReadBy[userID] = readAt
}

// Tombstone clears the body after a global delete. The message keeps its
// position in the log.
func (m *Message) Tombstone() {
	m.Deleted = true
	m.Body = ""
	m.Attachments = nil
}

// Merge applies an updated copy of the same message in place. Field groups
// win as a whole: a partially-populated sender on the update never overwrites
// a complete one already held, and a read-by entry is never removed.
func (m *Message) Merge(in *Message) {
	if in == nil || in.ID != m.ID {
		return
	}
	if in.Deleted {
		m.Tombstone()
	} else {
		m.Body = in.Body
		if in.ContentType != "" {
			m.ContentType = in.ContentType
		}
		if len(in.Attachments) > 0 {
			m.Attachments = in.Attachments
		}
	}
	if !in.SentAt.IsZero() {
		m.SentAt = in.SentAt
	}
	if in.Sender.complete() || (!m.Sender.complete() && in.Sender.UserID != "") {
		m.Sender = in.Sender
	}
	for uid, at := range in.ReadBy {
		m.MarkReadBy(uid, at)
	}
}

// Preview derives the list snapshot text for a message.
func (m *Message) Preview() string {
	if m.Deleted {
		return ""
	}
	if m.Body != "" {
		return m.Body
	}
	if len(m.Attachments) > 0 {
		return m.Attachments[0].Name
	}
	return ""
}
