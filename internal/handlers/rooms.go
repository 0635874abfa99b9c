package handlers

import (
	"sync"

	"chat-realtime/internal/events"
	"chat-realtime/internal/metrics"
	"chat-realtime/internal/models"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

// GroupRegistry maps each room or conversation to its live sessions and
// fans events out to them.
type GroupRegistry struct {
	// group -> session id -> session
	groups map[models.GroupKey]map[string]*Session
	mu     sync.RWMutex

	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewGroupRegistry(log *zap.Logger, m *metrics.Metrics) *GroupRegistry {
	return &GroupRegistry{
		groups:  make(map[models.GroupKey]map[string]*Session),
		log:     log,
		metrics: m,
	}
}

func (r *GroupRegistry) Join(key models.GroupKey, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.groups[key]; !ok {
		r.groups[key] = make(map[string]*Session)
	}
	r.groups[key][s.ID()] = s
}

func (r *GroupRegistry) Leave(key models.GroupKey, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sessions, ok := r.groups[key]; ok {
		delete(sessions, s.ID())
		if len(sessions) == 0 {
			delete(r.groups, key)
		}
	}
}

func (r *GroupRegistry) snapshot(key models.GroupKey) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.groups[key]))
	for _, s := range r.groups[key] {
		sessions = append(sessions, s)
	}
	return sessions
}

// Broadcast delivers ev to every session in the group at the time of the
// call. A session that cannot take the frame is closed, which removes it
// from the group; the others still receive it.
func (r *GroupRegistry) Broadcast(key models.GroupKey, ev events.Outbound) {
	data, err := events.Encode(ev)
	if err != nil {
		r.log.Error("encode event", zap.String("type", string(ev.Kind())), zap.Error(err))
		return
	}
	r.metrics.Events.WithLabelValues(string(ev.Kind())).Inc()

	for _, s := range r.snapshot(key) {
		if !ev.EchoesToOrigin() && s.Identity().ID == ev.Origin() {
			continue
		}
		if !s.Enqueue(data) {
			r.metrics.DeliveryFailures.Inc()
			r.log.Warn("dropping slow session",
				zap.String("session", s.ID()),
				zap.Stringer("group", key),
				zap.Int64("user_id", s.Identity().ID))
			s.Close(websocket.CloseTryAgainLater, "send queue full")
		}
	}
}

// Publish lets the registry serve as the chat service's publisher.
func (r *GroupRegistry) Publish(key models.GroupKey, ev events.Outbound) {
	r.Broadcast(key, ev)
}

// Count returns the number of live sessions in a group.
func (r *GroupRegistry) Count(key models.GroupKey) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups[key])
}

// CloseAll closes every live session; each runs its own cleanup.
func (r *GroupRegistry) CloseAll() {
	r.mu.RLock()
	var all []*Session
	for _, sessions := range r.groups {
		for _, s := range sessions {
			all = append(all, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range all {
		s.Close(websocket.CloseGoingAway, "server shutting down")
	}
}
