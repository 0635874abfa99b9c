package events

import (
	"encoding/json"
	"time"

	"chat-realtime/internal/models"
)

// Outbound is an event fanned out to the sessions of a group.
type Outbound interface {
	Kind() Kind
	// Origin is the user whose action produced the event.
	Origin() int64
	// EchoesToOrigin reports whether the originator's own sessions receive it.
	EchoesToOrigin() bool
	outbound()
}

type MessagePayload struct {
	ID             int64              `json:"id"`
	RoomID         int64              `json:"room_id"`
	Content        string             `json:"content"`
	Sender         models.UserRef     `json:"sender"`
	ReplyTo        *models.MessageRef `json:"reply_to"`
	ReactionCounts map[string]int     `json:"reaction_counts"`
	IsEdited       bool               `json:"is_edited"`
	EditedAt       *time.Time         `json:"edited_at"`
	IsDeleted      bool               `json:"is_deleted"`
	DeletedAt      *time.Time         `json:"deleted_at"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

func NewMessagePayload(m *models.Message) MessagePayload {
	counts := m.ReactionCounts
	if counts == nil {
		counts = map[string]int{}
	}
	return MessagePayload{
		ID:             m.ID,
		RoomID:         m.RoomID,
		Content:        m.Content,
		Sender:         models.UserRef{ID: m.SenderID, Username: m.SenderName},
		ReplyTo:        m.ReplyTo,
		ReactionCounts: counts,
		IsEdited:       m.IsEdited,
		EditedAt:       m.EditedAt,
		IsDeleted:      m.IsDeleted,
		DeletedAt:      m.DeletedAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

type DirectMessagePayload struct {
	ID             int64          `json:"id"`
	ConversationID int64          `json:"conversation_id"`
	Sender         models.UserRef `json:"sender"`
	Recipient      models.UserRef `json:"recipient"`
	Content        string         `json:"content"`
	IsRead         bool           `json:"is_read"`
	ReadAt         *time.Time     `json:"read_at"`
	IsEdited       bool           `json:"is_edited"`
	EditedAt       *time.Time     `json:"edited_at"`
	IsDeleted      bool           `json:"is_deleted"`
	DeletedAt      *time.Time     `json:"deleted_at"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func NewDirectMessagePayload(m *models.DirectMessage) DirectMessagePayload {
	return DirectMessagePayload{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Sender:         models.UserRef{ID: m.SenderID, Username: m.SenderName},
		Recipient:      models.UserRef{ID: m.RecipientID, Username: m.RecipientName},
		Content:        m.Content,
		IsRead:         m.IsRead,
		ReadAt:         m.ReadAt,
		IsEdited:       m.IsEdited,
		EditedAt:       m.EditedAt,
		IsDeleted:      m.IsDeleted,
		DeletedAt:      m.DeletedAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

type ChatMessage struct {
	Type    Kind           `json:"type"`
	Message MessagePayload `json:"message"`
}

type TypingIndicator struct {
	Type     Kind   `json:"type"`
	User     string `json:"user"`
	UserID   int64  `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

type MessageReaction struct {
	Type         Kind           `json:"type"`
	MessageID    int64          `json:"message_id"`
	ReactionType string         `json:"reaction_type"`
	Action       string         `json:"action"`
	User         string         `json:"user"`
	UserID       int64          `json:"user_id"`
	Counts       map[string]int `json:"reaction_counts"`
}

type MessageEdited struct {
	Type    Kind           `json:"type"`
	Message MessagePayload `json:"message"`
	editor  int64
}

type MessageDeleted struct {
	Type      Kind      `json:"type"`
	MessageID int64     `json:"message_id"`
	DeletedAt time.Time `json:"deleted_at"`
	deleter   int64
}

type DirectMessage struct {
	Type    Kind                 `json:"type"`
	Message DirectMessagePayload `json:"message"`
}

type MessagesRead struct {
	Type       Kind      `json:"type"`
	MessageIDs []int64   `json:"message_ids"`
	UpdatedIDs []int64   `json:"updated_ids"`
	User       string    `json:"user"`
	UserID     int64     `json:"user_id"`
	ReadAt     time.Time `json:"read_at"`
}

// ErrorReply is sent only to the session whose frame was refused. It is
// never fanned out, so it is not an Outbound.
type ErrorReply struct {
	Type  Kind   `json:"type"`
	Error string `json:"error"`
}

func NewChatMessage(m *models.Message) ChatMessage {
	return ChatMessage{Type: KindChatMessage, Message: NewMessagePayload(m)}
}

func NewTypingIndicator(who models.Identity, isTyping bool) TypingIndicator {
	return TypingIndicator{Type: KindTypingIndicator, User: who.Username, UserID: who.ID, IsTyping: isTyping}
}

func NewMessageReaction(who models.Identity, messageID int64, kind models.ReactionKind, action string, counts map[string]int) MessageReaction {
	if counts == nil {
		counts = map[string]int{}
	}
	return MessageReaction{
		Type: KindMessageReaction, MessageID: messageID, ReactionType: string(kind),
		Action: action, User: who.Username, UserID: who.ID, Counts: counts,
	}
}

func NewMessageEdited(m *models.Message) MessageEdited {
	return MessageEdited{Type: KindMessageEdited, Message: NewMessagePayload(m), editor: m.SenderID}
}

func NewMessageDeleted(m *models.Message) MessageDeleted {
	ev := MessageDeleted{Type: KindMessageDeleted, MessageID: m.ID, deleter: m.SenderID}
	if m.DeletedAt != nil {
		ev.DeletedAt = *m.DeletedAt
	}
	return ev
}

func NewDirectMessage(m *models.DirectMessage) DirectMessage {
	return DirectMessage{Type: KindDirectMessage, Message: NewDirectMessagePayload(m)}
}

func NewMessagesRead(who models.Identity, requested, updated []int64, at time.Time) MessagesRead {
	if requested == nil {
		requested = []int64{}
	}
	if updated == nil {
		updated = []int64{}
	}
	return MessagesRead{
		Type: KindMessagesRead, MessageIDs: requested, UpdatedIDs: updated,
		User: who.Username, UserID: who.ID, ReadAt: at,
	}
}

func NewErrorReply(msg string) ErrorReply {
	return ErrorReply{Type: KindError, Error: msg}
}

func (ChatMessage) Kind() Kind     { return KindChatMessage }
func (TypingIndicator) Kind() Kind { return KindTypingIndicator }
func (MessageReaction) Kind() Kind { return KindMessageReaction }
func (MessageEdited) Kind() Kind   { return KindMessageEdited }
func (MessageDeleted) Kind() Kind  { return KindMessageDeleted }
func (DirectMessage) Kind() Kind   { return KindDirectMessage }
func (MessagesRead) Kind() Kind    { return KindMessagesRead }
func (ErrorReply) Kind() Kind      { return KindError }

func (e ChatMessage) Origin() int64     { return e.Message.Sender.ID }
func (e TypingIndicator) Origin() int64 { return e.UserID }
func (e MessageReaction) Origin() int64 { return e.UserID }
func (e MessageEdited) Origin() int64   { return e.editor }
func (e MessageDeleted) Origin() int64  { return e.deleter }
func (e DirectMessage) Origin() int64   { return e.Message.Sender.ID }
func (e MessagesRead) Origin() int64    { return e.UserID }

// Typing indicators and read receipts are not echoed to their originator.
// Everything else is, so the sender's UI sees its own change confirmed.
func (ChatMessage) EchoesToOrigin() bool     { return true }
func (TypingIndicator) EchoesToOrigin() bool { return false }
func (MessageReaction) EchoesToOrigin() bool { return true }
func (MessageEdited) EchoesToOrigin() bool   { return true }
func (MessageDeleted) EchoesToOrigin() bool  { return true }
func (DirectMessage) EchoesToOrigin() bool   { return true }
func (MessagesRead) EchoesToOrigin() bool    { return false }

func (ChatMessage) outbound()     {}
func (TypingIndicator) outbound() {}
func (MessageReaction) outbound() {}
func (MessageEdited) outbound()   {}
func (MessageDeleted) outbound()  {}
func (DirectMessage) outbound()   {}
func (MessagesRead) outbound()    {}

// Encode renders an event or reply as a text frame.
func Encode(v interface{ Kind() Kind }) ([]byte, error) {
	return json.Marshal(v)
}
