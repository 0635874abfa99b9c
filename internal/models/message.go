package models

import (
	"errors"
	"time"
)

// DeletedPlaceholder replaces the content of a soft-deleted message.
const DeletedPlaceholder = "This message was deleted"

var ErrAlreadyDeleted = errors.New("message is deleted")

type Message struct {
	ID             int64          `json:"id"`
	RoomID         int64          `json:"room_id"`
	SenderID       int64          `json:"sender_id"`
	SenderName     string         `json:"sender_name"`
	Content        string         `json:"content"`
	ReplyToID      *int64         `json:"reply_to_id,omitempty"`
	ReplyTo        *MessageRef    `json:"reply_to,omitempty"`
	ReactionCounts map[string]int `json:"reaction_counts,omitempty"`
	IsEdited       bool           `json:"is_edited"`
	EditedAt       *time.Time     `json:"edited_at,omitempty"`
	IsDeleted      bool           `json:"is_deleted"`
	DeletedAt      *time.Time     `json:"deleted_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// MessageRef is the summary of a reply target.
type MessageRef struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	Sender    string    `json:"sender"`
	CreatedAt time.Time `json:"created_at"`
}

func (m *Message) Ref() *MessageRef {
	return &MessageRef{ID: m.ID, Content: m.Content, Sender: m.SenderName, CreatedAt: m.CreatedAt}
}

func (m *Message) Edit(content string, at time.Time) error {
	if m.IsDeleted {
		return ErrAlreadyDeleted
	}
	m.Content = content
	m.IsEdited = true
	m.EditedAt = &at
	m.UpdatedAt = at
	return nil
}

// SoftDelete scrubs the content in place. It is a one-way transition.
func (m *Message) SoftDelete(at time.Time) error {
	if m.IsDeleted {
		return ErrAlreadyDeleted
	}
	m.IsDeleted = true
	m.DeletedAt = &at
	m.Content = DeletedPlaceholder
	m.UpdatedAt = at
	return nil
}

type DirectMessage struct {
	ID             int64      `json:"id"`
	ConversationID int64      `json:"conversation_id"`
	SenderID       int64      `json:"sender_id"`
	SenderName     string     `json:"sender_name"`
	RecipientID    int64      `json:"recipient_id"`
	RecipientName  string     `json:"recipient_name"`
	Content        string     `json:"content"`
	IsRead         bool       `json:"is_read"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
	IsEdited       bool       `json:"is_edited"`
	EditedAt       *time.Time `json:"edited_at,omitempty"`
	IsDeleted      bool       `json:"is_deleted"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type ReactionKind string

const (
	ReactionLike  ReactionKind = "like"
	ReactionLove  ReactionKind = "love"
	ReactionLaugh ReactionKind = "laugh"
	ReactionWow   ReactionKind = "wow"
	ReactionSad   ReactionKind = "sad"
	ReactionAngry ReactionKind = "angry"
)

func (k ReactionKind) Valid() bool {
	switch k {
	case ReactionLike, ReactionLove, ReactionLaugh, ReactionWow, ReactionSad, ReactionAngry:
		return true
	}
	return false
}

// Reaction is unique per (message, user, kind). A user may hold several
// distinct kinds on the same message.
type Reaction struct {
	MessageID int64        `json:"message_id"`
	UserID    int64        `json:"user_id"`
	Kind      ReactionKind `json:"reaction_type"`
	CreatedAt time.Time    `json:"created_at"`
}
