package chat

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/darasahq/darasa/core"
	"github.com/darasahq/darasa/core/user"
)

type Kind string

const (
	KindDirect Kind = "direct"
	KindGroup  Kind = "group"
)

// Conversation is a thread of messages between a fixed set of participants.
// A direct conversation has exactly two participants for its whole lifetime
// and is deduplicated globally per unordered pair via DirectKey.
type Conversation struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Title     string    `json:"title,omitempty"`
	DirectKey string    `json:"-"` // canonical pair key; empty for groups
	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC; bumps on every new message
}

// DirectKeyFor computes the canonical, order-independent key for a user pair.
func DirectKeyFor(u1, u2 string) string {
	if u2 < u1 {
		u1, u2 = u2, u1
	}
	return u1 + ":" + u2
}

// Participant ties a user to a conversation and carries their read cursor.
// LastReadMessageID is monotonically non-decreasing.
type Participant struct {
	ConversationID    string `json:"conversation_id"`
	UserID            string `json:"user_id"`
	LastReadMessageID int64  `json:"last_read_message_id"`
}

// Message is one entry in a conversation's append-only log. IDs are strictly
// increasing within a conversation (gaps allowed, reordering never).
// Deleted messages stay stored but are excluded from listings, counts and receipts.
type Message struct {
	ID             int64              `json:"id"`
	ConversationID string             `json:"conversation_id"`
	SenderID       string             `json:"sender_id"`
	Content        string             `json:"content"`
	Attachment     core.AttachmentRef `json:"attachment,omitempty"`
	CreatedAt      time.Time          `json:"created_at"` // UTC
	Deleted        bool               `json:"-"`

	// Sender carries display data resolved from the user directory;
	// it is enrichment only and never persisted with the message.
	Sender user.Profile `json:"sender,omitempty"`
}

// ConversationSummary is one row of a user's conversation list.
type ConversationSummary struct {
	ID               string        `json:"id"`
	Kind             Kind          `json:"kind"`
	Title            string        `json:"title,omitempty"`
	UnreadCount      int           `json:"unread_count"`
	LastMessage      *Message      `json:"last_message,omitempty"`
	OtherParticipant *user.Profile `json:"other_participant,omitempty"` // direct conversations only
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// ReadReceipt is the derived read state of a single message.
type ReadReceipt struct {
	MessageID int64    `json:"message_id"`
	ReadBy    []string `json:"read_by"`
	ReadByAll bool     `json:"read_by_all"`
}

// NewConversation contains information needed to start (or resolve) a conversation.
type NewConversation struct {
	ParticipantIDs []string           `json:"participant_ids" validate:"required,min=1,dive,required"`
	Kind           Kind               `json:"kind" validate:"required,conversationkind"`
	Title          string             `json:"title"`
	InitialMessage string             `json:"initial_message"`
	Attachment     core.AttachmentRef `json:"attachment"`
}

func (nc *NewConversation) Validate(validate *validator.Validate) error {
	nc.Title = core.CleanString(nc.Title)
	nc.InitialMessage = core.CleanString(nc.InitialMessage)
	return validate.Struct(nc)
}

// NewMessage contains information needed to append a message.
// Content may be empty only when an attachment is present.
type NewMessage struct {
	Content    string             `json:"content"`
	Attachment core.AttachmentRef `json:"attachment"`
}

func (nm *NewMessage) Validate(validate *validator.Validate) error {
	nm.Content = core.CleanString(nm.Content)
	return validate.Struct(nm)
}
