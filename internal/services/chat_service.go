package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chat-realtime/internal/events"
	"chat-realtime/internal/models"
	"chat-realtime/internal/store"

	"go.uber.org/zap"
)

var (
	ErrBlankContent      = errors.New("content is blank")
	ErrGroupNotFound     = errors.New("group not found")
	ErrMessageNotFound   = errors.New("message not found")
	ErrNotSender         = errors.New("requester is not the sender")
	ErrNotParticipant    = errors.New("requester is not a participant")
	ErrMessageDeleted    = errors.New("message is deleted")
	ErrInvalidReaction   = errors.New("invalid reaction type")
	ErrDuplicateReaction = errors.New("reaction already exists")
	ErrReactionNotFound  = errors.New("reaction not found")
)

// Publisher fans an event out to the live sessions of a group.
// Publish must not block on slow recipients.
type Publisher interface {
	Publish(key models.GroupKey, ev events.Outbound)
}

// ChatStore is the part of the store the message state machine mutates.
type ChatStore interface {
	store.Groups
	store.Messages
	store.DirectMessages
}

// ChatService applies message transitions and publishes the resulting
// state. Every successful mutation publishes exactly one event; failures
// and no-ops publish nothing.
type ChatService struct {
	store ChatStore
	pub   Publisher
	locks *groupLocks
	log   *zap.Logger
	now   func() time.Time
}

func NewChatService(s ChatStore, pub Publisher, log *zap.Logger) *ChatService {
	return &ChatService{
		store: s,
		pub:   pub,
		locks: newGroupLocks(),
		log:   log,
		now:   time.Now,
	}
}

// SendRoomMessage stores a new room message. A reply target that is
// missing or lives in another room is dropped and the message is stored
// without it.
func (s *ChatService) SendRoomMessage(ctx context.Context, who models.Identity, roomID int64, content string, replyTo *int64) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrBlankContent
	}

	key := models.RoomKey(roomID)
	defer s.locks.lock(key)()

	msg := &models.Message{RoomID: roomID, SenderID: who.ID, Content: content}
	if replyTo != nil {
		target, err := s.store.GetMessage(ctx, *replyTo)
		switch {
		case err == nil && target.RoomID == roomID:
			id := target.ID
			msg.ReplyToID = &id
		case err == nil || errors.Is(err, store.ErrNotFound):
			s.log.Debug("dropping reply target", zap.Int64("reply_to", *replyTo), zap.Int64("room_id", roomID))
		default:
			return nil, fmt.Errorf("load reply target: %w", err)
		}
	}

	if err := s.store.CreateMessage(ctx, msg); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrGroupNotFound
		}
		return nil, fmt.Errorf("create message: %w", err)
	}

	stored, err := s.store.GetMessage(ctx, msg.ID)
	if err != nil {
		return nil, fmt.Errorf("reload message %d: %w", msg.ID, err)
	}
	s.pub.Publish(key, events.NewChatMessage(stored))
	return stored, nil
}

// loadOwned returns the message if it belongs to the room and was sent by
// who. Missing and foreign messages are indistinguishable to the caller.
func (s *ChatService) loadOwned(ctx context.Context, who models.Identity, roomID, messageID int64) (*models.Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("load message %d: %w", messageID, err)
	}
	if msg.RoomID != roomID {
		return nil, ErrMessageNotFound
	}
	if msg.SenderID != who.ID {
		return nil, ErrNotSender
	}
	if msg.IsDeleted {
		return nil, ErrMessageDeleted
	}
	return msg, nil
}

func (s *ChatService) EditRoomMessage(ctx context.Context, who models.Identity, roomID, messageID int64, content string) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrBlankContent
	}

	key := models.RoomKey(roomID)
	defer s.locks.lock(key)()

	msg, err := s.loadOwned(ctx, who, roomID, messageID)
	if err != nil {
		return nil, err
	}
	if err := msg.Edit(content, s.now()); err != nil {
		return nil, ErrMessageDeleted
	}
	if err := s.update(ctx, msg); err != nil {
		return nil, err
	}
	s.pub.Publish(key, events.NewMessageEdited(msg))
	return msg, nil
}

// DeleteRoomMessage soft-deletes: the content is replaced with
// models.DeletedPlaceholder and the message can no longer be edited.
func (s *ChatService) DeleteRoomMessage(ctx context.Context, who models.Identity, roomID, messageID int64) (*models.Message, error) {
	key := models.RoomKey(roomID)
	defer s.locks.lock(key)()

	msg, err := s.loadOwned(ctx, who, roomID, messageID)
	if err != nil {
		return nil, err
	}
	if err := msg.SoftDelete(s.now()); err != nil {
		return nil, ErrMessageDeleted
	}
	if err := s.update(ctx, msg); err != nil {
		return nil, err
	}
	s.pub.Publish(key, events.NewMessageDeleted(msg))
	return msg, nil
}

func (s *ChatService) update(ctx context.Context, msg *models.Message) error {
	if err := s.store.UpdateMessage(ctx, msg); err != nil {
		switch {
		case errors.Is(err, store.ErrConflict):
			return ErrMessageDeleted
		case errors.Is(err, store.ErrNotFound):
			return ErrMessageNotFound
		}
		return fmt.Errorf("update message %d: %w", msg.ID, err)
	}
	return nil
}

func (s *ChatService) AddReaction(ctx context.Context, who models.Identity, roomID, messageID int64, kind models.ReactionKind) (map[string]int, error) {
	return s.react(ctx, who, roomID, messageID, kind, true)
}

func (s *ChatService) RemoveReaction(ctx context.Context, who models.Identity, roomID, messageID int64, kind models.ReactionKind) (map[string]int, error) {
	return s.react(ctx, who, roomID, messageID, kind, false)
}

func (s *ChatService) react(ctx context.Context, who models.Identity, roomID, messageID int64, kind models.ReactionKind, add bool) (map[string]int, error) {
	if !kind.Valid() {
		return nil, ErrInvalidReaction
	}

	key := models.RoomKey(roomID)
	defer s.locks.lock(key)()

	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("load message %d: %w", messageID, err)
	}
	if msg.RoomID != roomID {
		return nil, ErrMessageNotFound
	}

	action := "add"
	if add {
		created, err := s.store.AddReaction(ctx, &models.Reaction{MessageID: messageID, UserID: who.ID, Kind: kind})
		if err != nil {
			return nil, fmt.Errorf("add reaction: %w", err)
		}
		if !created {
			return nil, ErrDuplicateReaction
		}
	} else {
		action = "remove"
		removed, err := s.store.RemoveReaction(ctx, messageID, who.ID, kind)
		if err != nil {
			return nil, fmt.Errorf("remove reaction: %w", err)
		}
		if !removed {
			return nil, ErrReactionNotFound
		}
	}

	counts, err := s.store.ReactionCounts(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("reaction counts: %w", err)
	}
	s.pub.Publish(key, events.NewMessageReaction(who, messageID, kind, action, counts))
	return counts, nil
}

func (s *ChatService) SendDirectMessage(ctx context.Context, who models.Identity, conversationID int64, content string) (*models.DirectMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrBlankContent
	}

	key := models.ConversationKey(conversationID)
	defer s.locks.lock(key)()

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrGroupNotFound
		}
		return nil, fmt.Errorf("load conversation %d: %w", conversationID, err)
	}
	recipient, ok := conv.OtherParticipant(who.ID)
	if !ok {
		return nil, ErrNotParticipant
	}

	dm := &models.DirectMessage{
		ConversationID: conversationID,
		SenderID:       who.ID,
		RecipientID:    recipient,
		Content:        content,
	}
	if err := s.store.CreateDirectMessage(ctx, dm); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrGroupNotFound
		}
		return nil, fmt.Errorf("create direct message: %w", err)
	}
	s.pub.Publish(key, events.NewDirectMessage(dm))
	return dm, nil
}

// MarkRead flips the unread messages among ids that were sent to who in
// this conversation. Ids that do not qualify are skipped. An event is
// published only when at least one message changed.
func (s *ChatService) MarkRead(ctx context.Context, who models.Identity, conversationID int64, ids []int64) ([]int64, error) {
	if len(ids) == 0 || who.IsAnonymous() {
		return nil, nil
	}

	key := models.ConversationKey(conversationID)
	defer s.locks.lock(key)()

	at := s.now()
	updated, err := s.store.MarkRead(ctx, conversationID, who.ID, ids, at)
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	if len(updated) == 0 {
		return nil, nil
	}
	s.pub.Publish(key, events.NewMessagesRead(who, ids, updated, at))
	return updated, nil
}
