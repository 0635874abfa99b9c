package handlers

import (
	"sync"
	"time"

	"chat-realtime/internal/models"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const writeWait = 5 * time.Second

// Conn is the transport under a session. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Session is one live connection joined to exactly one group. Writes go
// through a buffered queue drained by a single write pump, so a slow
// client never blocks the broadcaster.
type Session struct {
	id    string
	who   models.Identity
	group models.GroupKey
	conn  Conn

	send     chan []byte
	done     chan struct{}
	pumpDone chan struct{}

	closeOnce sync.Once
	closeMu   sync.Mutex
	closeCode int
	closeText string
	cleanup   func()

	limiter  *rate.Limiter
	lastSeen time.Time
}

func newSession(conn Conn, who models.Identity, group models.GroupKey, buffer int, limiter *rate.Limiter) *Session {
	return &Session{
		id:       uuid.New().String(),
		who:      who,
		group:    group,
		conn:     conn,
		send:     make(chan []byte, buffer),
		done:     make(chan struct{}),
		pumpDone: make(chan struct{}),
		limiter:  limiter,
	}
}

func (s *Session) ID() string                { return s.id }
func (s *Session) Identity() models.Identity { return s.who }
func (s *Session) Group() models.GroupKey    { return s.group }

// Enqueue queues a frame without blocking. It reports false when the
// session is closed or its queue is full.
func (s *Session) Enqueue(data []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// Close stops the session and runs its cleanup. Only the first call has
// any effect; the close code it carries is the one sent to the peer.
func (s *Session) Close(code int, text string) {
	s.closeOnce.Do(func() {
		s.closeMu.Lock()
		s.closeCode, s.closeText = code, text
		s.closeMu.Unlock()
		close(s.done)
		if s.cleanup != nil {
			s.cleanup()
		}
	})
}

func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Session) writePump() {
	defer close(s.pumpDone)
	for {
		select {
		case data := <-s.send:
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.Close(websocket.CloseAbnormalClosure, "write failed")
			}
		case <-s.done:
			s.closeMu.Lock()
			code, text := s.closeCode, s.closeText
			s.closeMu.Unlock()
			// 1006 is reserved and must not be sent on the wire.
			if code != websocket.CloseAbnormalClosure {
				_ = s.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
			}
			_ = s.conn.Close()
			return
		}
	}
}

// shouldTouch reports whether last-seen is due. Called only from the
// session's read loop.
func (s *Session) shouldTouch(now time.Time, interval time.Duration) bool {
	if now.Sub(s.lastSeen) < interval {
		return false
	}
	s.lastSeen = now
	return true
}
