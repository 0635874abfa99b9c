package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"chat-realtime/internal/events"
	"chat-realtime/internal/models"
	"chat-realtime/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type published struct {
	key models.GroupKey
	ev  events.Outbound
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(key models.GroupKey, ev events.Outbound) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{key, ev})
}

func (p *recordingPublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.events...)
}

type fixture struct {
	ctx   context.Context
	store *store.Memory
	pub   *recordingPublisher
	svc   *ChatService
	alice models.Identity
	bob   models.Identity
	room  *models.Room
	conv  *models.Conversation
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()
	pub := &recordingPublisher{}

	alice, err := st.CreateUser(ctx, "alice")
	require.NoError(t, err)
	bob, err := st.CreateUser(ctx, "bob")
	require.NoError(t, err)

	room := &models.Room{Name: "general", CreatedBy: alice.ID}
	require.NoError(t, st.CreateRoom(ctx, room))
	_, _, err = st.AddMember(ctx, room.ID, bob.ID, models.RoleMember, &alice.ID)
	require.NoError(t, err)

	conv, _, err := st.GetOrCreateConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	svc := NewChatService(st, pub, zap.NewNop())
	svc.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	return &fixture{ctx: ctx, store: st, pub: pub, svc: svc, alice: *alice, bob: *bob, room: room, conv: conv}
}

func TestSendRoomMessage(t *testing.T) {
	f := newFixture(t)

	msg, err := f.svc.SendRoomMessage(f.ctx, f.alice, f.room.ID, "  hi  ", nil)
	require.NoError(t, err)
	assert.Equal(t, "hi", msg.Content)
	assert.False(t, msg.IsDeleted)
	assert.False(t, msg.IsEdited)

	evs := f.pub.all()
	require.Len(t, evs, 1)
	assert.Equal(t, models.RoomKey(f.room.ID), evs[0].key)
	ev, ok := evs[0].ev.(events.ChatMessage)
	require.True(t, ok)
	assert.Equal(t, "hi", ev.Message.Content)
	assert.Equal(t, models.UserRef{ID: f.alice.ID, Username: "alice"}, ev.Message.Sender)

	stored, err := f.store.GetMessage(f.ctx, msg.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsDeleted)
}

func TestSendRoomMessageBlank(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SendRoomMessage(f.ctx, f.alice, f.room.ID, " \n\t", nil)
	assert.ErrorIs(t, err, ErrBlankContent)
	assert.Empty(t, f.pub.all())
}

func TestSendRoomMessageReplyTarget(t *testing.T) {
	f := newFixture(t)

	other := &models.Room{Name: "other", CreatedBy: f.alice.ID}
	require.NoError(t, f.store.CreateRoom(f.ctx, other))
	foreign, err := f.svc.SendRoomMessage(f.ctx, f.alice, other.ID, "elsewhere", nil)
	require.NoError(t, err)

	parent, err := f.svc.SendRoomMessage(f.ctx, f.bob, f.room.ID, "question", nil)
	require.NoError(t, err)

	reply, err := f.svc.SendRoomMessage(f.ctx, f.alice, f.room.ID, "answer", &parent.ID)
	require.NoError(t, err)
	require.NotNil(t, reply.ReplyTo)
	assert.Equal(t, parent.ID, reply.ReplyTo.ID)
	assert.Equal(t, "bob", reply.ReplyTo.Sender)

	missing := int64(9999)
	for _, target := range []*int64{&foreign.ID, &missing} {
		msg, err := f.svc.SendRoomMessage(f.ctx, f.alice, f.room.ID, "dangling", target)
		require.NoError(t, err)
		assert.Nil(t, msg.ReplyToID)
		assert.Nil(t, msg.ReplyTo)
	}
}

func TestSendRoomMessageInactiveRoom(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.DeactivateRoom(f.ctx, f.room.ID))

	_, err := f.svc.SendRoomMessage(f.ctx, f.alice, f.room.ID, "hello?", nil)
	assert.ErrorIs(t, err, ErrGroupNotFound)
	assert.Empty(t, f.pub.all())
}

func TestEditRoomMessage(t *testing.T) {
	f := newFixture(t)
	msg, err := f.svc.SendRoomMessage(f.ctx, f.alice, f.room.ID, "first", nil)
	require.NoError(t, err)

	_, err = f.svc.EditRoomMessage(f.ctx, f.bob, f.room.ID, msg.ID, "hijack")
	assert.ErrorIs(t, err, ErrNotSender)

	stored, err := f.store.GetMessage(f.ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", stored.Content)
	assert.False(t, stored.IsEdited)

	edited, err := f.svc.EditRoomMessage(f.ctx, f.alice, f.room.ID, msg.ID, "second")
	require.NoError(t, err)
	assert.True(t, edited.IsEdited)
	require.NotNil(t, edited.EditedAt)

	again, err := f.svc.EditRoomMessage(f.ctx, f.alice, f.room.ID, msg.ID, "second")
	require.NoError(t, err)
	assert.Equal(t, "second", again.Content)

	evs := f.pub.all()
	require.Len(t, evs, 3)
	ev, ok := evs[1].ev.(events.MessageEdited)
	require.True(t, ok)
	assert.Equal(t, "second", ev.Message.Content)
	assert.True(t, ev.Message.IsEdited)
}

func TestEditRoomMessageWrongRoomOrMissing(t *testing.T) {
	f := newFixture(t)
	msg, err := f.svc.SendRoomMessage(f.ctx, f.alice, f.room.ID, "first", nil)
	require.NoError(t, err)

	_, err = f.svc.EditRoomMessage(f.ctx, f.alice, f.room.ID+100, msg.ID, "x")
	assert.ErrorIs(t, err, ErrMessageNotFound)
	_, err = f.svc.EditRoomMessage(f.ctx, f.alice, f.room.ID, 4242, "x")
	assert.ErrorIs(t, err, ErrMessageNotFound)
	_, err = f.svc.EditRoomMessage(f.ctx, f.alice, f.room.ID, msg.ID, "   ")
	assert.ErrorIs(t, err, ErrBlankContent)
	assert.Len(t, f.pub.all(), 1)
}

func TestDeleteIsOneWay(t *testing.T) {
	f := newFixture(t)
	msg, err := f.svc.SendRoomMessage(f.ctx, f.alice, f.room.ID, "secret", nil)
	require.NoError(t, err)

	_, err = f.svc.DeleteRoomMessage(f.ctx, f.bob, f.room.ID, msg.ID)
	assert.ErrorIs(t, err, ErrNotSender)
	assert.Len(t, f.pub.all(), 1)

	deleted, err := f.svc.DeleteRoomMessage(f.ctx, f.alice, f.room.ID, msg.ID)
	require.NoError(t, err)
	assert.True(t, deleted.IsDeleted)
	assert.Equal(t, models.DeletedPlaceholder, deleted.Content)

	_, err = f.svc.DeleteRoomMessage(f.ctx, f.alice, f.room.ID, msg.ID)
	assert.ErrorIs(t, err, ErrMessageDeleted)
	_, err = f.svc.EditRoomMessage(f.ctx, f.alice, f.room.ID, msg.ID, "resurrect")
	assert.ErrorIs(t, err, ErrMessageDeleted)

	evs := f.pub.all()
	require.Len(t, evs, 2)
	ev, ok := evs[1].ev.(events.MessageDeleted)
	require.True(t, ok)
	assert.Equal(t, msg.ID, ev.MessageID)

	stored, err := f.store.GetMessage(f.ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeletedPlaceholder, stored.Content)
	assert.True(t, stored.IsDeleted)

	// Deleted messages stay addressable as reply targets.
	reply, err := f.svc.SendRoomMessage(f.ctx, f.bob, f.room.ID, "what was it?", &msg.ID)
	require.NoError(t, err)
	require.NotNil(t, reply.ReplyTo)
	assert.Equal(t, models.DeletedPlaceholder, reply.ReplyTo.Content)
}

func TestReactions(t *testing.T) {
	f := newFixture(t)
	msg, err := f.svc.SendRoomMessage(f.ctx, f.alice, f.room.ID, "react to me", nil)
	require.NoError(t, err)

	counts, err := f.svc.AddReaction(f.ctx, f.bob, f.room.ID, msg.ID, models.ReactionLike)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"like": 1}, counts)

	_, err = f.svc.AddReaction(f.ctx, f.bob, f.room.ID, msg.ID, models.ReactionLike)
	assert.ErrorIs(t, err, ErrDuplicateReaction)

	counts, err = f.svc.AddReaction(f.ctx, f.bob, f.room.ID, msg.ID, models.ReactionLove)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"like": 1, "love": 1}, counts)

	_, err = f.svc.AddReaction(f.ctx, f.bob, f.room.ID, msg.ID, models.ReactionKind("meh"))
	assert.ErrorIs(t, err, ErrInvalidReaction)

	counts, err = f.svc.RemoveReaction(f.ctx, f.bob, f.room.ID, msg.ID, models.ReactionLike)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"love": 1}, counts)

	_, err = f.svc.RemoveReaction(f.ctx, f.bob, f.room.ID, msg.ID, models.ReactionLike)
	assert.ErrorIs(t, err, ErrReactionNotFound)

	evs := f.pub.all()
	require.Len(t, evs, 4)
	last, ok := evs[3].ev.(events.MessageReaction)
	require.True(t, ok)
	assert.Equal(t, "remove", last.Action)
	assert.Equal(t, "like", last.ReactionType)
	assert.Equal(t, f.bob.ID, last.UserID)
}

func TestSendDirectMessage(t *testing.T) {
	f := newFixture(t)

	dm, err := f.svc.SendDirectMessage(f.ctx, f.alice, f.conv.ID, "psst")
	require.NoError(t, err)
	assert.Equal(t, f.bob.ID, dm.RecipientID)
	assert.Equal(t, "bob", dm.RecipientName)
	assert.False(t, dm.IsRead)

	conv, err := f.store.GetConversation(f.ctx, f.conv.ID)
	require.NoError(t, err)
	require.NotNil(t, conv.LastMessageID)
	assert.Equal(t, dm.ID, *conv.LastMessageID)

	carol, err := f.store.CreateUser(f.ctx, "carol")
	require.NoError(t, err)
	_, err = f.svc.SendDirectMessage(f.ctx, *carol, f.conv.ID, "let me in")
	assert.ErrorIs(t, err, ErrNotParticipant)

	_, err = f.svc.SendDirectMessage(f.ctx, f.alice, 8888, "nobody")
	assert.ErrorIs(t, err, ErrGroupNotFound)

	evs := f.pub.all()
	require.Len(t, evs, 1)
	assert.Equal(t, models.ConversationKey(f.conv.ID), evs[0].key)
}

func TestMarkRead(t *testing.T) {
	f := newFixture(t)

	fromBob, err := f.svc.SendDirectMessage(f.ctx, f.bob, f.conv.ID, "for alice")
	require.NoError(t, err)
	fromAlice, err := f.svc.SendDirectMessage(f.ctx, f.alice, f.conv.ID, "for bob")
	require.NoError(t, err)

	// Bob cannot mark alice's inbox.
	updated, err := f.svc.MarkRead(f.ctx, f.bob, f.conv.ID, []int64{fromBob.ID})
	require.NoError(t, err)
	assert.Empty(t, updated)

	updated, err = f.svc.MarkRead(f.ctx, f.alice, f.conv.ID, []int64{fromBob.ID, fromAlice.ID, 777})
	require.NoError(t, err)
	assert.Equal(t, []int64{fromBob.ID}, updated)

	got, err := f.store.GetDirectMessage(f.ctx, fromBob.ID)
	require.NoError(t, err)
	assert.True(t, got.IsRead)
	require.NotNil(t, got.ReadAt)

	// Already read: nothing flips, nothing is published.
	updated, err = f.svc.MarkRead(f.ctx, f.alice, f.conv.ID, []int64{fromBob.ID})
	require.NoError(t, err)
	assert.Empty(t, updated)

	evs := f.pub.all()
	require.Len(t, evs, 3)
	ev, ok := evs[2].ev.(events.MessagesRead)
	require.True(t, ok)
	assert.Equal(t, []int64{fromBob.ID, fromAlice.ID, 777}, ev.MessageIDs)
	assert.Equal(t, []int64{fromBob.ID}, ev.UpdatedIDs)
	assert.Equal(t, f.alice.ID, ev.Origin())
	assert.False(t, ev.EchoesToOrigin())
}

func TestEventsOnAGroupKeepOrder(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.SendRoomMessage(f.ctx, f.alice, f.room.ID, "burst", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	evs := f.pub.all()
	require.Len(t, evs, 20)
	var last int64
	for _, p := range evs {
		id := p.ev.(events.ChatMessage).Message.ID
		assert.Greater(t, id, last)
		last = id
	}
	assert.Zero(t, f.svc.locks.size())
}
