// Package store holds the persistence layer for users, rooms, conversations
// and messages. Postgres is the production backend; SQLite and Memory serve
// single-node setups and tests.
package store

import (
	"context"
	"errors"
	"time"

	"chat-realtime/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a conditional update matched no row,
	// e.g. the message was deleted concurrently.
	ErrConflict = errors.New("conflict")
	ErrInvalid  = errors.New("invalid argument")
)

// UserDirectory is the view of users the realtime core relies on.
type UserDirectory interface {
	GetUser(ctx context.Context, id int64) (*models.Identity, error)
	SetOnline(ctx context.Context, id int64, online bool) error
	TouchLastSeen(ctx context.Context, id int64) error
}

type Groups interface {
	// GetRoom returns ErrNotFound for missing and inactive rooms.
	GetRoom(ctx context.Context, id int64) (*models.Room, error)
	GetMembership(ctx context.Context, roomID, userID int64) (*models.Membership, error)
	GetConversation(ctx context.Context, id int64) (*models.Conversation, error)
}

type Messages interface {
	CreateMessage(ctx context.Context, msg *models.Message) error
	// GetMessage loads the message with sender name, reply summary and
	// reaction counts populated.
	GetMessage(ctx context.Context, id int64) (*models.Message, error)
	// UpdateMessage persists content/edited/deleted state. It only applies to
	// a message that is not deleted yet and returns ErrConflict otherwise.
	UpdateMessage(ctx context.Context, msg *models.Message) error

	// AddReaction reports whether a new row was stored.
	AddReaction(ctx context.Context, r *models.Reaction) (bool, error)
	// RemoveReaction reports whether a row was removed.
	RemoveReaction(ctx context.Context, messageID, userID int64, kind models.ReactionKind) (bool, error)
	ReactionCounts(ctx context.Context, messageID int64) (map[string]int, error)
}

type DirectMessages interface {
	// CreateDirectMessage stores msg and points the conversation's last
	// message at it.
	CreateDirectMessage(ctx context.Context, msg *models.DirectMessage) error
	// MarkRead flips is_read for messages of the conversation addressed to
	// recipientID that are still unread and returns the ids it changed.
	MarkRead(ctx context.Context, conversationID, recipientID int64, ids []int64, at time.Time) ([]int64, error)
}

// Provisioner covers the operations owned by the REST side. They are used
// by the operator CLI and by tests.
type Provisioner interface {
	CreateUser(ctx context.Context, username string) (*models.Identity, error)
	// CreateRoom stores the room and makes the creator its admin.
	CreateRoom(ctx context.Context, room *models.Room) error
	AddMember(ctx context.Context, roomID, userID int64, role models.Role, addedBy *int64) (*models.Membership, bool, error)
	GetOrCreateConversation(ctx context.Context, userID1, userID2 int64) (*models.Conversation, bool, error)
}

type Store interface {
	UserDirectory
	Groups
	Messages
	DirectMessages
	Provisioner
	Close() error
}

func validConversationPair(a, b int64) error {
	if a == 0 || b == 0 || a == b {
		return ErrInvalid
	}
	return nil
}
