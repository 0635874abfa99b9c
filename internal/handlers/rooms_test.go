package handlers

import (
	"testing"
	"time"

	"chat-realtime/internal/events"
	"chat-realtime/internal/metrics"
	"chat-realtime/internal/models"

	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRegistry() *GroupRegistry {
	return NewGroupRegistry(zap.NewNop(), metrics.New(nil))
}

func TestRegistryJoinLeave(t *testing.T) {
	r := newTestRegistry()
	key := models.RoomKey(1)
	s := newSession(newFakeConn(), models.Identity{ID: 7, Username: "u"}, key, 4, nil)

	r.Join(key, s)
	r.Join(key, s)
	assert.Equal(t, 1, r.Count(key))

	r.Leave(key, s)
	r.Leave(key, s)
	r.Leave(models.RoomKey(2), s)
	assert.Equal(t, 0, r.Count(key))
}

func TestRegistryBroadcastSkipsOrigin(t *testing.T) {
	r := newTestRegistry()
	key := models.RoomKey(1)
	alice := newSession(newFakeConn(), models.Identity{ID: 1, Username: "alice"}, key, 4, nil)
	bob := newSession(newFakeConn(), models.Identity{ID: 2, Username: "bob"}, key, 4, nil)
	other := newSession(newFakeConn(), models.Identity{ID: 3, Username: "carol"}, models.RoomKey(9), 4, nil)
	r.Join(key, alice)
	r.Join(key, bob)
	r.Join(models.RoomKey(9), other)

	r.Broadcast(key, events.NewTypingIndicator(alice.Identity(), true))
	assert.Len(t, alice.send, 0)
	assert.Len(t, bob.send, 1)
	assert.Len(t, other.send, 0)

	r.Broadcast(key, events.NewChatMessage(&models.Message{ID: 5, RoomID: 1, SenderID: 1, SenderName: "alice", Content: "hi"}))
	assert.Len(t, alice.send, 1)
	assert.Len(t, bob.send, 2)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.Events.WithLabelValues("typing_indicator")))
}

func TestRegistryFullQueueClosesOnlyThatSession(t *testing.T) {
	r := newTestRegistry()
	key := models.RoomKey(1)

	slowConn := newFakeConn()
	slow := newSession(slowConn, models.Identity{ID: 1}, key, 1, nil)
	slow.cleanup = func() { r.Leave(key, slow) }
	fast := newSession(newFakeConn(), models.Identity{ID: 2}, key, 8, nil)
	r.Join(key, slow)
	r.Join(key, fast)

	msg := &models.Message{ID: 1, RoomID: 1, SenderID: 2, Content: "x"}
	r.Broadcast(key, events.NewChatMessage(msg))
	r.Broadcast(key, events.NewChatMessage(msg))

	assert.True(t, slow.Closed())
	assert.False(t, fast.Closed())
	assert.Len(t, fast.send, 2)
	assert.Equal(t, 1, r.Count(key))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.DeliveryFailures))

	go slow.writePump()
	slowConn.waitClosed(t)
	select {
	case <-slow.pumpDone:
	case <-time.After(time.Second):
		t.Fatal("write pump did not stop")
	}
	assert.Equal(t, websocket.CloseTryAgainLater, slowConn.code())
}

func TestSessionCloseRunsCleanupOnce(t *testing.T) {
	s := newSession(newFakeConn(), models.Identity{ID: 1}, models.RoomKey(1), 1, nil)
	calls := 0
	s.cleanup = func() { calls++ }

	s.Close(websocket.CloseNormalClosure, "")
	s.Close(websocket.ClosePolicyViolation, "")
	require.Equal(t, 1, calls)
	assert.False(t, s.Enqueue([]byte("late")))
	assert.Equal(t, websocket.CloseNormalClosure, s.closeCode)
}

func TestRegistryCloseAll(t *testing.T) {
	r := newTestRegistry()
	for i := int64(1); i <= 3; i++ {
		key := models.RoomKey(i)
		s := newSession(newFakeConn(), models.Identity{ID: i}, key, 1, nil)
		s.cleanup = func() { r.Leave(key, s) }
		r.Join(key, s)
	}
	r.CloseAll()
	for i := int64(1); i <= 3; i++ {
		assert.Equal(t, 0, r.Count(models.RoomKey(i)))
	}
}
