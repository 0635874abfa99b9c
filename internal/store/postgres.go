package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chat-realtime/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is the production store backed by a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func (s *Postgres) CreateUser(ctx context.Context, username string) (*models.Identity, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrInvalid
	}
	var u models.Identity
	query := `INSERT INTO users (username) VALUES ($1) RETURNING id, username, is_online, last_seen`
	err := s.pool.QueryRow(ctx, query, username).Scan(&u.ID, &u.Username, &u.IsOnline, &u.LastSeen)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("username %q: %w", username, ErrConflict)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Postgres) GetUser(ctx context.Context, id int64) (*models.Identity, error) {
	var u models.Identity
	query := `SELECT id, username, is_online, last_seen FROM users WHERE id = $1`
	if err := s.pool.QueryRow(ctx, query, id).Scan(&u.ID, &u.Username, &u.IsOnline, &u.LastSeen); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *Postgres) SetOnline(ctx context.Context, id int64, online bool) error {
	status := "offline"
	if online {
		status = "online"
	}
	query := `UPDATE users SET is_online = $2, status = $3,
		last_seen = CASE WHEN $2 THEN NOW() ELSE last_seen END
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, id, online, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) TouchLastSeen(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET last_seen = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) CreateRoom(ctx context.Context, room *models.Room) error {
	if room.RoomType == "" {
		room.RoomType = "group"
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `INSERT INTO chat_rooms (name, description, room_type, created_by)
		VALUES ($1, $2, $3, $4) RETURNING id, is_active, created_at, updated_at`
	err = tx.QueryRow(ctx, query, room.Name, room.Description, room.RoomType, room.CreatedBy).
		Scan(&room.ID, &room.IsActive, &room.CreatedAt, &room.UpdatedAt)
	if err != nil {
		return err
	}

	// Creator is the room's first admin
	_, err = tx.Exec(ctx, `INSERT INTO chat_room_memberships (room_id, user_id, role, added_by) VALUES ($1, $2, 'admin', $2)`,
		room.ID, room.CreatedBy)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *Postgres) GetRoom(ctx context.Context, id int64) (*models.Room, error) {
	var r models.Room
	query := `SELECT id, name, description, room_type, created_by, is_active, created_at, updated_at
		FROM chat_rooms WHERE id = $1 AND is_active`
	err := s.pool.QueryRow(ctx, query, id).
		Scan(&r.ID, &r.Name, &r.Description, &r.RoomType, &r.CreatedBy, &r.IsActive, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

func (s *Postgres) AddMember(ctx context.Context, roomID, userID int64, role models.Role, addedBy *int64) (*models.Membership, bool, error) {
	if role == models.RoleNone {
		role = models.RoleMember
	}
	if !role.Valid() {
		return nil, false, ErrInvalid
	}
	m := models.Membership{RoomID: roomID, UserID: userID}
	query := `INSERT INTO chat_room_memberships (room_id, user_id, role, added_by) VALUES ($1, $2, $3, $4)
		ON CONFLICT (room_id, user_id) DO NOTHING
		RETURNING role, added_by, joined_at`
	err := s.pool.QueryRow(ctx, query, roomID, userID, string(role), addedBy).Scan(&m.Role, &m.AddedBy, &m.JoinedAt)
	if err == nil {
		return &m, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}
	existing, err := s.GetMembership(ctx, roomID, userID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *Postgres) GetMembership(ctx context.Context, roomID, userID int64) (*models.Membership, error) {
	m := models.Membership{RoomID: roomID, UserID: userID}
	query := `SELECT role, added_by, joined_at FROM chat_room_memberships WHERE room_id = $1 AND user_id = $2`
	if err := s.pool.QueryRow(ctx, query, roomID, userID).Scan(&m.Role, &m.AddedBy, &m.JoinedAt); err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func orderedPair(a, b int64) (int64, int64) {
	if a < b {
		return a, b
	}
	return b, a
}

func (s *Postgres) GetOrCreateConversation(ctx context.Context, userID1, userID2 int64) (*models.Conversation, bool, error) {
	if err := validConversationPair(userID1, userID2); err != nil {
		return nil, false, err
	}
	low, high := orderedPair(userID1, userID2)

	var c models.Conversation
	query := `INSERT INTO conversations (user_low, user_high) VALUES ($1, $2)
		ON CONFLICT (user_low, user_high) DO NOTHING
		RETURNING id, user_low, user_high, last_message_id, created_at, updated_at`
	err := s.pool.QueryRow(ctx, query, low, high).
		Scan(&c.ID, &c.Participants[0], &c.Participants[1], &c.LastMessageID, &c.CreatedAt, &c.UpdatedAt)
	if err == nil {
		return &c, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}

	query = `SELECT id, user_low, user_high, last_message_id, created_at, updated_at
		FROM conversations WHERE user_low = $1 AND user_high = $2`
	err = s.pool.QueryRow(ctx, query, low, high).
		Scan(&c.ID, &c.Participants[0], &c.Participants[1], &c.LastMessageID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, false, notFound(err)
	}
	return &c, false, nil
}

func (s *Postgres) GetConversation(ctx context.Context, id int64) (*models.Conversation, error) {
	var c models.Conversation
	query := `SELECT id, user_low, user_high, last_message_id, created_at, updated_at FROM conversations WHERE id = $1`
	err := s.pool.QueryRow(ctx, query, id).
		Scan(&c.ID, &c.Participants[0], &c.Participants[1], &c.LastMessageID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *Postgres) CreateMessage(ctx context.Context, msg *models.Message) error {
	query := `INSERT INTO messages (room_id, sender_id, content, reply_to_id)
		SELECT $1::bigint, $2::bigint, $3::text, $4::bigint
		WHERE EXISTS (SELECT 1 FROM chat_rooms WHERE id = $1 AND is_active)
		RETURNING id, created_at, updated_at`
	err := s.pool.QueryRow(ctx, query, msg.RoomID, msg.SenderID, msg.Content, msg.ReplyToID).
		Scan(&msg.ID, &msg.CreatedAt, &msg.UpdatedAt)
	return notFound(err)
}

func (s *Postgres) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	var (
		m          models.Message
		refID      *int64
		refContent *string
		refSender  *string
		refCreated *time.Time
	)
	query := `
		SELECT m.id, m.room_id, m.sender_id, u.username, m.content, m.reply_to_id,
			m.is_edited, m.edited_at, m.is_deleted, m.deleted_at, m.created_at, m.updated_at,
			r.id, r.content, ru.username, r.created_at
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		LEFT JOIN messages r ON r.id = m.reply_to_id
		LEFT JOIN users ru ON ru.id = r.sender_id
		WHERE m.id = $1`
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&m.ID, &m.RoomID, &m.SenderID, &m.SenderName, &m.Content, &m.ReplyToID,
		&m.IsEdited, &m.EditedAt, &m.IsDeleted, &m.DeletedAt, &m.CreatedAt, &m.UpdatedAt,
		&refID, &refContent, &refSender, &refCreated,
	)
	if err != nil {
		return nil, notFound(err)
	}
	if refID != nil {
		m.ReplyTo = &models.MessageRef{ID: *refID}
		if refContent != nil {
			m.ReplyTo.Content = *refContent
		}
		if refSender != nil {
			m.ReplyTo.Sender = *refSender
		}
		if refCreated != nil {
			m.ReplyTo.CreatedAt = *refCreated
		}
	}

	m.ReactionCounts, err = s.ReactionCounts(ctx, id)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Postgres) UpdateMessage(ctx context.Context, msg *models.Message) error {
	query := `UPDATE messages SET content = $2, is_edited = $3, edited_at = $4,
		is_deleted = $5, deleted_at = $6, updated_at = $7
		WHERE id = $1 AND NOT is_deleted`
	tag, err := s.pool.Exec(ctx, query, msg.ID, msg.Content, msg.IsEdited, msg.EditedAt,
		msg.IsDeleted, msg.DeletedAt, msg.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (s *Postgres) AddReaction(ctx context.Context, r *models.Reaction) (bool, error) {
	query := `INSERT INTO message_reactions (message_id, user_id, reaction_type) VALUES ($1, $2, $3)
		ON CONFLICT (message_id, user_id, reaction_type) DO NOTHING
		RETURNING created_at`
	err := s.pool.QueryRow(ctx, query, r.MessageID, r.UserID, string(r.Kind)).Scan(&r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if isForeignKeyViolation(err) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Postgres) RemoveReaction(ctx context.Context, messageID, userID int64, kind models.ReactionKind) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM message_reactions WHERE message_id = $1 AND user_id = $2 AND reaction_type = $3`,
		messageID, userID, string(kind))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Postgres) ReactionCounts(ctx context.Context, messageID int64) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT reaction_type, COUNT(*) FROM message_reactions WHERE message_id = $1 GROUP BY reaction_type`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}

func (s *Postgres) CreateDirectMessage(ctx context.Context, msg *models.DirectMessage) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `INSERT INTO direct_messages (conversation_id, sender_id, recipient_id, content)
		VALUES ($1, $2, $3, $4) RETURNING id, created_at, updated_at`
	err = tx.QueryRow(ctx, query, msg.ConversationID, msg.SenderID, msg.RecipientID, msg.Content).
		Scan(&msg.ID, &msg.CreatedAt, &msg.UpdatedAt)
	if isForeignKeyViolation(err) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `UPDATE conversations SET last_message_id = $2, updated_at = NOW() WHERE id = $1`,
		msg.ConversationID, msg.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	err = tx.QueryRow(ctx, `SELECT s.username, r.username FROM users s, users r WHERE s.id = $1 AND r.id = $2`,
		msg.SenderID, msg.RecipientID).Scan(&msg.SenderName, &msg.RecipientName)
	if err != nil {
		return notFound(err)
	}

	return tx.Commit(ctx)
}

func (s *Postgres) MarkRead(ctx context.Context, conversationID, recipientID int64, ids []int64, at time.Time) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `UPDATE direct_messages SET is_read = TRUE, read_at = $4
		WHERE id = ANY($1) AND conversation_id = $2 AND recipient_id = $3 AND NOT is_read
		RETURNING id`
	rows, err := s.pool.Query(ctx, query, ids, conversationID, recipientID, at)
	if err != nil {
		return nil, err
	}
	updated, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, err
	}
	return updated, nil
}
