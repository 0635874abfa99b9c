package handlers

import (
	"context"
	"errors"
	"strings"
	"time"

	"chat-realtime/internal/events"
	"chat-realtime/internal/metrics"
	"chat-realtime/internal/models"
	"chat-realtime/internal/services"
	"chat-realtime/internal/store"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

const (
	replyInvalidJSON = "Invalid JSON"
	replyRateLimited = "Rate limit exceeded"
)

// Authority is the membership check the gateway and router consult.
type Authority interface {
	IsMember(ctx context.Context, who models.Identity, key models.GroupKey) (bool, error)
	RoleOf(ctx context.Context, who models.Identity, key models.GroupKey) (models.Role, error)
}

// Router decodes the frames of one session and maps each to a single
// chat service call or, for typing, straight to fanout.
type Router struct {
	chat     *services.ChatService
	members  Authority
	users    store.UserDirectory
	registry *GroupRegistry

	lastSeenInterval time.Duration
	now              func() time.Time

	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewRouter(chat *services.ChatService, members Authority, users store.UserDirectory, registry *GroupRegistry, lastSeenInterval time.Duration, log *zap.Logger, m *metrics.Metrics) *Router {
	return &Router{
		chat:             chat,
		members:          members,
		users:            users,
		registry:         registry,
		lastSeenInterval: lastSeenInterval,
		now:              time.Now,
		log:              log,
		metrics:          m,
	}
}

// accepts reports whether a frame kind is meaningful for the group kind.
func accepts(key models.GroupKey, kind events.Kind) bool {
	switch kind {
	case events.KindTyping:
		return true
	case events.KindChatMessage, events.KindMessageReaction, events.KindMessageEdit, events.KindMessageDelete:
		return key.IsRoom()
	case events.KindDirectMessage, events.KindMessageRead:
		return !key.IsRoom()
	}
	return false
}

// Handle processes one text frame. It never returns an error: failures are
// either absorbed or answered with a single error reply to this session.
func (r *Router) Handle(ctx context.Context, s *Session, data []byte) {
	if s.limiter != nil && !s.limiter.Allow() {
		r.metrics.Frames.WithLabelValues("rate_limited").Inc()
		r.reply(s, replyRateLimited)
		return
	}

	frame, err := events.Decode(data)
	if err != nil {
		r.metrics.Frames.WithLabelValues("malformed").Inc()
		r.log.Debug("malformed frame", zap.String("session", s.ID()), zap.Error(err))
		r.reply(s, replyInvalidJSON)
		return
	}
	if frame == nil || !accepts(s.Group(), frame.Kind()) {
		r.metrics.Frames.WithLabelValues("ignored").Inc()
		return
	}
	r.metrics.Frames.WithLabelValues(string(frame.Kind())).Inc()

	who, key := s.Identity(), s.Group()

	ok, err := r.members.IsMember(ctx, who, key)
	if err != nil {
		r.log.Error("membership check", zap.Stringer("group", key), zap.Int64("user_id", who.ID), zap.Error(err))
		return
	}
	if !ok {
		r.metrics.SessionsRejected.WithLabelValues("revoked").Inc()
		r.log.Info("membership revoked, closing session",
			zap.String("session", s.ID()), zap.Stringer("group", key), zap.Int64("user_id", who.ID))
		s.Close(websocket.ClosePolicyViolation, "not a member")
		return
	}

	if s.shouldTouch(r.now(), r.lastSeenInterval) {
		if err := r.users.TouchLastSeen(ctx, who.ID); err != nil {
			r.log.Warn("touch last seen", zap.Int64("user_id", who.ID), zap.Error(err))
		}
	}

	switch f := frame.(type) {
	case events.ChatMessageFrame:
		if blank(f.Content) {
			return
		}
		_, err = r.chat.SendRoomMessage(ctx, who, key.ID, f.Content, f.ReplyTo)
	case events.TypingFrame:
		r.registry.Broadcast(key, events.NewTypingIndicator(who, f.IsTyping))
	case events.ReactionFrame:
		kind := models.ReactionKind(f.ReactionType)
		switch f.Action {
		case "", "add":
			_, err = r.chat.AddReaction(ctx, who, key.ID, f.MessageID, kind)
		case "remove":
			_, err = r.chat.RemoveReaction(ctx, who, key.ID, f.MessageID, kind)
		default:
			r.log.Debug("unknown reaction action", zap.String("action", f.Action))
		}
	case events.EditFrame:
		if blank(f.Content) {
			return
		}
		_, err = r.chat.EditRoomMessage(ctx, who, key.ID, f.MessageID, f.Content)
	case events.DeleteFrame:
		_, err = r.chat.DeleteRoomMessage(ctx, who, key.ID, f.MessageID)
	case events.DirectMessageFrame:
		if blank(f.Content) {
			return
		}
		_, err = r.chat.SendDirectMessage(ctx, who, key.ID, f.Content)
	case events.ReadFrame:
		_, err = r.chat.MarkRead(ctx, who, key.ID, f.MessageIDs)
	default:
		r.log.Warn("unrouted frame", zap.String("type", string(frame.Kind())))
	}
	r.logResult(s, frame.Kind(), err)
}

func blank(content string) bool {
	return strings.TrimSpace(content) == ""
}

func (r *Router) reply(s *Session, msg string) {
	data, err := events.Encode(events.NewErrorReply(msg))
	if err != nil {
		return
	}
	if !s.Enqueue(data) {
		r.metrics.DeliveryFailures.Inc()
		s.Close(websocket.CloseTryAgainLater, "send queue full")
	}
}

// absorbed are the outcomes that are no-ops by contract. They are not
// surfaced to anyone.
var absorbed = []error{
	services.ErrBlankContent,
	services.ErrGroupNotFound,
	services.ErrMessageNotFound,
	services.ErrNotSender,
	services.ErrNotParticipant,
	services.ErrMessageDeleted,
	services.ErrInvalidReaction,
	services.ErrDuplicateReaction,
	services.ErrReactionNotFound,
}

func (r *Router) logResult(s *Session, kind events.Kind, err error) {
	if err == nil {
		return
	}
	fields := []zap.Field{
		zap.String("type", string(kind)),
		zap.String("session", s.ID()),
		zap.Stringer("group", s.Group()),
		zap.Int64("user_id", s.Identity().ID),
		zap.Error(err),
	}
	for _, target := range absorbed {
		if errors.Is(err, target) {
			r.log.Debug("frame had no effect", fields...)
			return
		}
	}
	r.log.Error("frame failed", fields...)
}
