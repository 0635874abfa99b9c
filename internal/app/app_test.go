package app

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"chat-realtime/internal/config"
	"chat-realtime/internal/models"
	"chat-realtime/internal/services"
	"chat-realtime/internal/store"

	fws "github.com/fasthttp/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp/fasthttputil"
	"go.uber.org/zap"
)

type harness struct {
	srv   *Server
	st    *store.Memory
	ln    *fasthttputil.InmemoryListener
	cfg   config.Config
	alice *models.Identity
	bob   *models.Identity
	room  *models.Room
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	cfg := config.Default()
	cfg.Store.Driver = config.DriverMemory
	cfg.Auth.JWTSecret = "e2e-secret"
	require.NoError(t, cfg.Validate())

	st, err := OpenStore(ctx, cfg.Store, zap.NewNop())
	require.NoError(t, err)
	mem := st.(*store.Memory)

	alice, err := mem.CreateUser(ctx, "alice")
	require.NoError(t, err)
	bob, err := mem.CreateUser(ctx, "bob")
	require.NoError(t, err)
	room := &models.Room{Name: "lobby", CreatedBy: alice.ID}
	require.NoError(t, mem.CreateRoom(ctx, room))
	_, _, err = mem.AddMember(ctx, room.ID, bob.ID, models.RoleMember, nil)
	require.NoError(t, err)

	srv := New(cfg, zap.NewNop(), st, prometheus.NewRegistry())
	ln := fasthttputil.NewInmemoryListener()
	go func() { _ = srv.Fiber.Listener(ln) }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	return &harness{srv: srv, st: mem, ln: ln, cfg: cfg, alice: alice, bob: bob, room: room}
}

func (h *harness) dial(t *testing.T, path string) (*fws.Conn, *http.Response, error) {
	t.Helper()
	dialer := fws.Dialer{
		NetDial:          func(network, addr string) (net.Conn, error) { return h.ln.Dial() },
		HandshakeTimeout: 2 * time.Second,
	}
	conn, resp, err := dialer.Dial("ws://chat.test"+path, nil)
	if err == nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, resp, err
}

func (h *harness) token(t *testing.T, who *models.Identity) string {
	t.Helper()
	tok, err := services.GenerateJWT(h.cfg.Auth.JWTSecret, who.ID, who.Username, time.Hour)
	require.NoError(t, err)
	return tok
}

func readEvent(t *testing.T, c *fws.Conn) map[string]any {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	var v map[string]any
	require.NoError(t, c.ReadJSON(&v))
	return v
}

func TestHealth(t *testing.T) {
	h := newHarness(t)

	resp, err := h.srv.Fiber.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestPlainHTTPOnWebsocketRoute(t *testing.T) {
	h := newHarness(t)

	resp, err := h.srv.Fiber.Test(httptest.NewRequest("GET", "/ws/chat/1", nil))
	require.NoError(t, err)
	assert.Equal(t, 426, resp.StatusCode)
}

func TestWebsocketRoomRoundTrip(t *testing.T) {
	h := newHarness(t)
	path := func(who *models.Identity) string {
		return "/ws/chat/" + itoa(h.room.ID) + "?token=" + h.token(t, who)
	}

	a, _, err := h.dial(t, path(h.alice))
	require.NoError(t, err)
	b, _, err := h.dial(t, path(h.bob))
	require.NoError(t, err)

	key := models.RoomKey(h.room.ID)
	require.Eventually(t, func() bool { return h.srv.Registry.Count(key) == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, a.WriteJSON(map[string]any{"type": "chat_message", "content": "over the wire"}))
	for _, c := range []*fws.Conn{a, b} {
		ev := readEvent(t, c)
		assert.Equal(t, "chat_message", ev["type"])
		assert.Equal(t, "over the wire", ev["message"].(map[string]any)["content"])
	}

	resp, err := h.srv.Fiber.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.True(t, strings.Contains(string(body), `chat_sessions_active{group_kind="room"} 2`))
	assert.True(t, strings.Contains(string(body), `chat_events_total{type="chat_message"} 1`))
}

func TestWebsocketBearerHeader(t *testing.T) {
	h := newHarness(t)

	dialer := fws.Dialer{NetDial: func(network, addr string) (net.Conn, error) { return h.ln.Dial() }}
	header := map[string][]string{"Authorization": {"Bearer " + h.token(t, h.bob)}}
	conn, _, err := dialer.Dial("ws://chat.test/ws/chat/"+itoa(h.room.ID), header)
	require.NoError(t, err)
	defer conn.Close()

	key := models.RoomKey(h.room.ID)
	require.Eventually(t, func() bool { return h.srv.Registry.Count(key) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebsocketUnauthorizedIsRefusedBeforeUpgrade(t *testing.T) {
	h := newHarness(t)
	carol, err := h.st.CreateUser(context.Background(), "carol")
	require.NoError(t, err)

	cases := []struct {
		path   string
		status int
	}{
		{"/ws/chat/" + itoa(h.room.ID), 403},
		{"/ws/chat/" + itoa(h.room.ID) + "?token=garbage", 403},
		{"/ws/chat/" + itoa(h.room.ID) + "?token=" + h.token(t, carol), 403},
		{"/ws/chat/not-a-number?token=" + h.token(t, h.alice), 400},
		{"/ws/direct/0?token=" + h.token(t, h.alice), 400},
	}
	for _, tc := range cases {
		_, resp, err := h.dial(t, tc.path)
		require.ErrorIs(t, err, fws.ErrBadHandshake, tc.path)
		require.NotNil(t, resp, tc.path)
		assert.Equal(t, tc.status, resp.StatusCode, tc.path)
	}
	assert.Equal(t, 0, h.srv.Registry.Count(models.RoomKey(h.room.ID)))

	u, err := h.st.GetUser(context.Background(), carol.ID)
	require.NoError(t, err)
	assert.False(t, u.IsOnline)
}

func TestShutdownClosesSessions(t *testing.T) {
	h := newHarness(t)

	a, _, err := h.dial(t, "/ws/chat/"+itoa(h.room.ID)+"?access_token="+h.token(t, h.alice))
	require.NoError(t, err)
	key := models.RoomKey(h.room.ID)
	require.Eventually(t, func() bool { return h.srv.Registry.Count(key) == 1 }, 2*time.Second, 10*time.Millisecond)

	h.srv.Registry.CloseAll()

	require.NoError(t, a.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = a.ReadMessage()
	assert.True(t, fws.IsCloseError(err, fws.CloseGoingAway), "%v", err)

	u, err := h.st.GetUser(context.Background(), h.alice.ID)
	require.NoError(t, err)
	assert.False(t, u.IsOnline)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
