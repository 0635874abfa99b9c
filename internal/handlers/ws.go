package handlers

import (
	"context"
	"strconv"
	"strings"
	"time"

	"chat-realtime/internal/config"
	"chat-realtime/internal/metrics"
	"chat-realtime/internal/models"
	"chat-realtime/internal/store"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const cleanupTimeout = 5 * time.Second

// Rejection reasons, as recorded in chat_sessions_rejected_total.
const (
	rejectNotMember = "not_member"
	rejectAnonymous = "anonymous"
	rejectError     = "error"
	rejectBadTarget = "bad_target"
)

// Locals set on the fiber context once a request has been admitted.
const (
	localGroup    = "group"
	localIdentity = "identity"
	localRole     = "role"
)

// Authenticator turns a credential into an identity, falling back to
// anonymous.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) models.Identity
}

// Gateway owns the lifecycle of websocket sessions: authenticate, gate on
// membership, join the group, route frames, clean up exactly once.
type Gateway struct {
	ctx      context.Context
	auth     Authenticator
	members  Authority
	users    store.UserDirectory
	registry *GroupRegistry
	router   *Router
	cfg      config.RealtimeConfig

	log     *zap.Logger
	metrics *metrics.Metrics
}

type GatewayDeps struct {
	Auth     Authenticator
	Members  Authority
	Users    store.UserDirectory
	Registry *GroupRegistry
	Router   *Router
	Config   config.RealtimeConfig
	Log      *zap.Logger
	Metrics  *metrics.Metrics
}

// NewGateway binds sessions to ctx: store calls made on behalf of a
// session are cancelled when ctx is.
func NewGateway(ctx context.Context, d GatewayDeps) *Gateway {
	return &Gateway{
		ctx:      ctx,
		auth:     d.Auth,
		members:  d.Members,
		users:    d.Users,
		registry: d.Registry,
		router:   d.Router,
		cfg:      d.Config,
		log:      d.Log,
		metrics:  d.Metrics,
	}
}

// admit authenticates token and checks membership in key. A non-empty
// reason means the session must be refused.
func (g *Gateway) admit(ctx context.Context, key models.GroupKey, token string) (models.Identity, models.Role, string) {
	who := g.auth.Authenticate(ctx, token)

	role, err := g.members.RoleOf(ctx, who, key)
	if err == nil && role != models.RoleNone {
		return who, role, ""
	}

	reason := rejectNotMember
	switch {
	case err != nil:
		reason = rejectError
		g.log.Error("membership check", zap.Stringer("group", key), zap.Error(err))
	case who.IsAnonymous():
		reason = rejectAnonymous
	}
	g.metrics.SessionsRejected.WithLabelValues(reason).Inc()
	g.log.Info("rejecting session", zap.Stringer("group", key), zap.Int64("user_id", who.ID), zap.String("reason", reason))
	return who, role, reason
}

// Serve admits and runs one connection to completion. It returns after the
// session has been cleaned up and its write pump has stopped.
func (g *Gateway) Serve(conn Conn, key models.GroupKey, token string) {
	who, role, reason := g.admit(g.ctx, key, token)
	if reason != "" {
		rejectConn(conn)
		return
	}
	g.serve(conn, key, who, role)
}

// serve runs an already admitted connection.
func (g *Gateway) serve(conn Conn, key models.GroupKey, who models.Identity, role models.Role) {
	ctx := g.ctx
	limiter := rate.NewLimiter(rate.Limit(g.cfg.FramesPerSecond), g.cfg.FrameBurst)
	s := newSession(conn, who, key, g.cfg.SendBuffer, limiter)
	s.lastSeen = time.Now()
	s.cleanup = func() { g.cleanup(s) }

	if key.IsRoom() {
		g.setOnline(s, true)
	}
	g.metrics.SessionsActive.WithLabelValues(key.Kind.String()).Inc()
	g.registry.Join(key, s)
	go s.writePump()

	g.log.Info("session joined",
		zap.String("session", s.ID()),
		zap.Stringer("group", key),
		zap.Int64("user_id", who.ID),
		zap.String("username", who.Username),
		zap.String("role", string(role)),
		zap.Int("live_sessions", g.registry.Count(key)))

	code, text := websocket.CloseNormalClosure, ""
	for !s.Closed() {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				g.log.Warn("read failed", zap.String("session", s.ID()), zap.Error(err))
				code, text = websocket.CloseAbnormalClosure, ""
			}
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		g.router.Handle(ctx, s, msg)
	}

	s.Close(code, text)
	<-s.pumpDone
}

// cleanup runs once per session. Each step runs even if an earlier one
// failed.
func (g *Gateway) cleanup(s *Session) {
	g.registry.Leave(s.Group(), s)
	g.metrics.SessionsActive.WithLabelValues(s.Group().Kind.String()).Dec()
	if s.Group().IsRoom() {
		g.setOnline(s, false)
	}
	g.log.Info("session left",
		zap.String("session", s.ID()),
		zap.Stringer("group", s.Group()),
		zap.Int64("user_id", s.Identity().ID),
		zap.Int("live_sessions", g.registry.Count(s.Group())))
}

func (g *Gateway) setOnline(s *Session, online bool) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := g.users.SetOnline(ctx, s.Identity().ID, online); err != nil {
		g.log.Error("set online", zap.Int64("user_id", s.Identity().ID), zap.Bool("online", online), zap.Error(err))
	}
}

func rejectConn(conn Conn) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "not a member"), time.Now().Add(writeWait))
	_ = conn.Close()
}

// RoomHandler serves /ws/chat/:room_id.
func (g *Gateway) RoomHandler() fiber.Handler {
	return g.handler("room_id", models.RoomKey)
}

// DirectHandler serves /ws/direct/:conversation_id.
func (g *Gateway) DirectHandler() fiber.Handler {
	return g.handler("conversation_id", models.ConversationKey)
}

// handler refuses a request before the upgrade when the target is not a
// group id or the caller is not a member of it.
func (g *Gateway) handler(param string, keyOf func(int64) models.GroupKey) fiber.Handler {
	upgrade := websocket.New(func(c *websocket.Conn) {
		key, _ := c.Locals(localGroup).(models.GroupKey)
		who, _ := c.Locals(localIdentity).(models.Identity)
		role, _ := c.Locals(localRole).(models.Role)
		c.SetReadLimit(int64(g.cfg.ReadLimit))
		g.serve(c, key, who, role)
	})

	return func(c *fiber.Ctx) error {
		id, err := strconv.ParseInt(c.Params(param), 10, 64)
		if err != nil || id <= 0 {
			g.metrics.SessionsRejected.WithLabelValues(rejectBadTarget).Inc()
			return fiber.ErrBadRequest
		}
		key := keyOf(id)

		token, _ := c.Locals("token").(string)
		who, role, reason := g.admit(g.ctx, key, token)
		switch reason {
		case "":
		case rejectError:
			return fiber.ErrServiceUnavailable
		default:
			return fiber.ErrForbidden
		}

		c.Locals(localGroup, key)
		c.Locals(localIdentity, who)
		c.Locals(localRole, role)
		return upgrade(c)
	}
}

// WSUpgradeMiddleware rejects plain HTTP requests on websocket routes.
func WSUpgradeMiddleware(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		c.Locals("allowed", true)
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// TokenMiddleware copies the credential into locals. It never rejects:
// a missing or bad token resolves to anonymous and fails the membership
// gate in the route handler.
func TokenMiddleware(c *fiber.Ctx) error {
	token := c.Query("token")
	if token == "" {
		token = c.Query("access_token")
	}
	if token == "" {
		authHeader := c.Get("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			token = authHeader[len("Bearer "):]
		}
	}
	c.Locals("token", token)
	return c.Next()
}
