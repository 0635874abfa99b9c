package models

import (
	"fmt"
	"time"
)

type GroupKind int

const (
	GroupRoom GroupKind = iota + 1
	GroupConversation
)

func (k GroupKind) String() string {
	switch k {
	case GroupRoom:
		return "room"
	case GroupConversation:
		return "conversation"
	default:
		return "unknown"
	}
}

// GroupKey identifies the unit of fanout: a room or a conversation.
type GroupKey struct {
	Kind GroupKind
	ID   int64
}

func RoomKey(id int64) GroupKey {
	return GroupKey{Kind: GroupRoom, ID: id}
}

func ConversationKey(id int64) GroupKey {
	return GroupKey{Kind: GroupConversation, ID: id}
}

func (k GroupKey) IsRoom() bool {
	return k.Kind == GroupRoom
}

func (k GroupKey) String() string {
	if k.Kind == GroupConversation {
		return fmt.Sprintf("direct_%d", k.ID)
	}
	return fmt.Sprintf("chat_%d", k.ID)
}

type Role string

const (
	RoleNone      Role = ""
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleMember    Role = "member"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleModerator, RoleMember:
		return true
	}
	return false
}

type Room struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	RoomType    string    `json:"room_type"` // "private", "group", "public"
	CreatedBy   int64     `json:"created_by"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Membership is unique per (room, user).
type Membership struct {
	RoomID   int64     `json:"room_id"`
	UserID   int64     `json:"user_id"`
	Role     Role      `json:"role"`
	AddedBy  *int64    `json:"added_by,omitempty"`
	JoinedAt time.Time `json:"joined_at"`
}

// Conversation always has exactly two distinct participants.
type Conversation struct {
	ID            int64     `json:"id"`
	Participants  [2]int64  `json:"participants"`
	LastMessageID *int64    `json:"last_message_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (c *Conversation) HasParticipant(userID int64) bool {
	return c.Participants[0] == userID || c.Participants[1] == userID
}

// OtherParticipant returns the participant that is not userID.
func (c *Conversation) OtherParticipant(userID int64) (int64, bool) {
	switch userID {
	case c.Participants[0]:
		return c.Participants[1], true
	case c.Participants[1]:
		return c.Participants[0], true
	}
	return 0, false
}
