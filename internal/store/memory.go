package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"chat-realtime/internal/models"
)

type reactionKey struct {
	messageID int64
	userID    int64
	kind      models.ReactionKind
}

type membershipKey struct {
	roomID int64
	userID int64
}

// Memory keeps everything in process. Returned values are copies.
type Memory struct {
	mu sync.RWMutex

	nextID int64

	users         map[int64]*models.Identity
	rooms         map[int64]*models.Room
	memberships   map[membershipKey]*models.Membership
	conversations map[int64]*models.Conversation
	messages      map[int64]*models.Message
	directs       map[int64]*models.DirectMessage
	reactions     map[reactionKey]*models.Reaction

	now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		users:         make(map[int64]*models.Identity),
		rooms:         make(map[int64]*models.Room),
		memberships:   make(map[membershipKey]*models.Membership),
		conversations: make(map[int64]*models.Conversation),
		messages:      make(map[int64]*models.Message),
		directs:       make(map[int64]*models.DirectMessage),
		reactions:     make(map[reactionKey]*models.Reaction),
		now:           time.Now,
	}
}

func (s *Memory) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Memory) Close() error { return nil }

func (s *Memory) CreateUser(ctx context.Context, username string) (*models.Identity, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrInvalid
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			return nil, fmt.Errorf("username %q: %w", username, ErrConflict)
		}
	}
	u := &models.Identity{ID: s.id(), Username: username, LastSeen: s.now()}
	s.users[u.ID] = u
	cp := *u
	return &cp, nil
}

func (s *Memory) GetUser(ctx context.Context, id int64) (*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Memory) SetOnline(ctx context.Context, id int64, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.IsOnline = online
	if online {
		u.LastSeen = s.now()
	}
	return nil
}

func (s *Memory) TouchLastSeen(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.LastSeen = s.now()
	return nil
}

func (s *Memory) CreateRoom(ctx context.Context, room *models.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[room.CreatedBy]; !ok {
		return fmt.Errorf("room creator %d: %w", room.CreatedBy, ErrNotFound)
	}
	now := s.now()
	room.ID = s.id()
	room.IsActive = true
	if room.RoomType == "" {
		room.RoomType = "group"
	}
	room.CreatedAt, room.UpdatedAt = now, now
	cp := *room
	s.rooms[room.ID] = &cp

	creator := room.CreatedBy
	s.memberships[membershipKey{room.ID, creator}] = &models.Membership{
		RoomID: room.ID, UserID: creator, Role: models.RoleAdmin, AddedBy: &creator, JoinedAt: now,
	}
	return nil
}

func (s *Memory) GetRoom(ctx context.Context, id int64) (*models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok || !r.IsActive {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// DeactivateRoom soft-deletes a room the way the REST side does.
func (s *Memory) DeactivateRoom(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return ErrNotFound
	}
	r.IsActive = false
	return nil
}

func (s *Memory) AddMember(ctx context.Context, roomID, userID int64, role models.Role, addedBy *int64) (*models.Membership, bool, error) {
	if role == models.RoleNone {
		role = models.RoleMember
	}
	if !role.Valid() {
		return nil, false, ErrInvalid
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[roomID]; !ok {
		return nil, false, ErrNotFound
	}
	if _, ok := s.users[userID]; !ok {
		return nil, false, ErrNotFound
	}
	key := membershipKey{roomID, userID}
	if m, ok := s.memberships[key]; ok {
		cp := *m
		return &cp, false, nil
	}
	m := &models.Membership{RoomID: roomID, UserID: userID, Role: role, AddedBy: addedBy, JoinedAt: s.now()}
	s.memberships[key] = m
	cp := *m
	return &cp, true, nil
}

// RemoveMember drops a membership; used to exercise lifetime authorization.
func (s *Memory) RemoveMember(ctx context.Context, roomID, userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.memberships, membershipKey{roomID, userID})
}

func (s *Memory) GetMembership(ctx context.Context, roomID, userID int64) (*models.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memberships[membershipKey{roomID, userID}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *Memory) GetOrCreateConversation(ctx context.Context, userID1, userID2 int64) (*models.Conversation, bool, error) {
	if err := validConversationPair(userID1, userID2); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conversations {
		if c.HasParticipant(userID1) && c.HasParticipant(userID2) {
			cp := *c
			return &cp, false, nil
		}
	}
	for _, id := range []int64{userID1, userID2} {
		if _, ok := s.users[id]; !ok {
			return nil, false, fmt.Errorf("user %d: %w", id, ErrNotFound)
		}
	}
	now := s.now()
	c := &models.Conversation{ID: s.id(), Participants: [2]int64{userID1, userID2}, CreatedAt: now, UpdatedAt: now}
	s.conversations[c.ID] = c
	cp := *c
	return &cp, true, nil
}

func (s *Memory) GetConversation(ctx context.Context, id int64) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Memory) CreateMessage(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[msg.RoomID]; !ok || !r.IsActive {
		return ErrNotFound
	}
	now := s.now()
	msg.ID = s.id()
	msg.CreatedAt, msg.UpdatedAt = now, now
	cp := *msg
	cp.ReplyTo, cp.ReactionCounts = nil, nil
	s.messages[msg.ID] = &cp
	return nil
}

func (s *Memory) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.hydrate(m), nil
}

func (s *Memory) hydrate(m *models.Message) *models.Message {
	cp := *m
	if u, ok := s.users[m.SenderID]; ok {
		cp.SenderName = u.Username
	}
	if m.ReplyToID != nil {
		if ref, ok := s.messages[*m.ReplyToID]; ok {
			r := *ref
			if u, ok := s.users[r.SenderID]; ok {
				r.SenderName = u.Username
			}
			cp.ReplyTo = r.Ref()
		}
	}
	cp.ReactionCounts = s.countsLocked(m.ID)
	return &cp
}

func (s *Memory) UpdateMessage(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.messages[msg.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.IsDeleted {
		return ErrConflict
	}
	cur.Content = msg.Content
	cur.IsEdited, cur.EditedAt = msg.IsEdited, msg.EditedAt
	cur.IsDeleted, cur.DeletedAt = msg.IsDeleted, msg.DeletedAt
	cur.UpdatedAt = msg.UpdatedAt
	return nil
}

func (s *Memory) AddReaction(ctx context.Context, r *models.Reaction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[r.MessageID]; !ok {
		return false, ErrNotFound
	}
	key := reactionKey{r.MessageID, r.UserID, r.Kind}
	if _, ok := s.reactions[key]; ok {
		return false, nil
	}
	r.CreatedAt = s.now()
	cp := *r
	s.reactions[key] = &cp
	return true, nil
}

func (s *Memory) RemoveReaction(ctx context.Context, messageID, userID int64, kind models.ReactionKind) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := reactionKey{messageID, userID, kind}
	if _, ok := s.reactions[key]; !ok {
		return false, nil
	}
	delete(s.reactions, key)
	return true, nil
}

func (s *Memory) ReactionCounts(ctx context.Context, messageID int64) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countsLocked(messageID), nil
}

func (s *Memory) countsLocked(messageID int64) map[string]int {
	counts := make(map[string]int)
	for k := range s.reactions {
		if k.messageID == messageID {
			counts[string(k.kind)]++
		}
	}
	return counts
}

func (s *Memory) CreateDirectMessage(ctx context.Context, msg *models.DirectMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[msg.ConversationID]
	if !ok {
		return ErrNotFound
	}
	now := s.now()
	msg.ID = s.id()
	msg.CreatedAt, msg.UpdatedAt = now, now
	if u, ok := s.users[msg.SenderID]; ok {
		msg.SenderName = u.Username
	}
	if u, ok := s.users[msg.RecipientID]; ok {
		msg.RecipientName = u.Username
	}
	cp := *msg
	s.directs[msg.ID] = &cp

	id := msg.ID
	c.LastMessageID = &id
	c.UpdatedAt = now
	return nil
}

// GetDirectMessage is a test and inspection helper.
func (s *Memory) GetDirectMessage(ctx context.Context, id int64) (*models.DirectMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.directs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *Memory) MarkRead(ctx context.Context, conversationID, recipientID int64, ids []int64, at time.Time) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var updated []int64
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		m, ok := s.directs[id]
		if !ok || m.ConversationID != conversationID || m.RecipientID != recipientID || m.IsRead {
			continue
		}
		readAt := at
		m.IsRead = true
		m.ReadAt = &readAt
		updated = append(updated, id)
	}
	return updated, nil
}
