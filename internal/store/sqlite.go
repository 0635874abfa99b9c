package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chat-realtime/internal/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type userRow struct {
	ID        int64     `gorm:"primaryKey"`
	Username  string    `gorm:"uniqueIndex;not null"`
	Status    string    `gorm:"not null;default:offline"`
	IsOnline  bool      `gorm:"not null;default:false"`
	LastSeen  time.Time `gorm:"not null"`
	CreatedAt time.Time
}

func (userRow) TableName() string { return "users" }

type roomRow struct {
	ID          int64  `gorm:"primaryKey"`
	Name        string `gorm:"not null"`
	Description string
	RoomType    string `gorm:"not null;default:group"`
	CreatedBy   int64  `gorm:"not null"`
	IsActive    bool   `gorm:"not null;default:true"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (roomRow) TableName() string { return "chat_rooms" }

type membershipRow struct {
	ID       int64  `gorm:"primaryKey"`
	RoomID   int64  `gorm:"uniqueIndex:idx_room_user;not null"`
	UserID   int64  `gorm:"uniqueIndex:idx_room_user;not null"`
	Role     string `gorm:"not null;default:member"`
	AddedBy  *int64
	JoinedAt time.Time `gorm:"autoCreateTime"`
}

func (membershipRow) TableName() string { return "chat_room_memberships" }

type messageRow struct {
	ID        int64  `gorm:"primaryKey"`
	RoomID    int64  `gorm:"index;not null"`
	SenderID  int64  `gorm:"not null"`
	Content   string `gorm:"not null"`
	ReplyToID *int64
	IsEdited  bool
	EditedAt  *time.Time
	IsDeleted bool
	DeletedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (messageRow) TableName() string { return "messages" }

type reactionRow struct {
	ID           int64  `gorm:"primaryKey"`
	MessageID    int64  `gorm:"uniqueIndex:idx_reaction;not null"`
	UserID       int64  `gorm:"uniqueIndex:idx_reaction;not null"`
	ReactionType string `gorm:"uniqueIndex:idx_reaction;not null"`
	CreatedAt    time.Time
}

func (reactionRow) TableName() string { return "message_reactions" }

type conversationRow struct {
	ID            int64 `gorm:"primaryKey"`
	UserLow       int64 `gorm:"uniqueIndex:idx_pair;not null"`
	UserHigh      int64 `gorm:"uniqueIndex:idx_pair;not null"`
	LastMessageID *int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (conversationRow) TableName() string { return "conversations" }

type directMessageRow struct {
	ID             int64  `gorm:"primaryKey"`
	ConversationID int64  `gorm:"index;not null"`
	SenderID       int64  `gorm:"not null"`
	RecipientID    int64  `gorm:"index;not null"`
	Content        string `gorm:"not null"`
	IsRead         bool
	ReadAt         *time.Time
	IsEdited       bool
	EditedAt       *time.Time
	IsDeleted      bool
	DeletedAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (directMessageRow) TableName() string { return "direct_messages" }

// SQLite is the single-node store built on gorm.
type SQLite struct {
	db *gorm.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return nil, err
	}
	err = db.AutoMigrate(&userRow{}, &roomRow{}, &membershipRow{}, &messageRow{},
		&reactionRow{}, &conversationRow{}, &directMessageRow{})
	if err != nil {
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func gormNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (u userRow) identity() *models.Identity {
	return &models.Identity{ID: u.ID, Username: u.Username, IsOnline: u.IsOnline, LastSeen: u.LastSeen}
}

func (s *SQLite) CreateUser(ctx context.Context, username string) (*models.Identity, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrInvalid
	}
	db := s.db.WithContext(ctx)
	var n int64
	if err := db.Model(&userRow{}).Where("username = ?", username).Count(&n).Error; err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, fmt.Errorf("username %q: %w", username, ErrConflict)
	}
	row := userRow{Username: username, Status: "offline", LastSeen: time.Now()}
	if err := db.Create(&row).Error; err != nil {
		return nil, err
	}
	return row.identity(), nil
}

func (s *SQLite) GetUser(ctx context.Context, id int64) (*models.Identity, error) {
	var row userRow
	if err := s.db.WithContext(ctx).First(&row, id).Error; err != nil {
		return nil, gormNotFound(err)
	}
	return row.identity(), nil
}

func (s *SQLite) SetOnline(ctx context.Context, id int64, online bool) error {
	updates := map[string]any{"is_online": online, "status": "offline"}
	if online {
		updates["status"] = "online"
		updates["last_seen"] = time.Now()
	}
	res := s.db.WithContext(ctx).Model(&userRow{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) TouchLastSeen(ctx context.Context, id int64) error {
	res := s.db.WithContext(ctx).Model(&userRow{}).Where("id = ?", id).Update("last_seen", time.Now())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) CreateRoom(ctx context.Context, room *models.Room) error {
	if room.RoomType == "" {
		room.RoomType = "group"
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var creator userRow
		if err := tx.First(&creator, room.CreatedBy).Error; err != nil {
			return gormNotFound(err)
		}
		row := roomRow{Name: room.Name, Description: room.Description, RoomType: room.RoomType,
			CreatedBy: room.CreatedBy, IsActive: true}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		addedBy := room.CreatedBy
		admin := membershipRow{RoomID: row.ID, UserID: room.CreatedBy, Role: string(models.RoleAdmin), AddedBy: &addedBy}
		if err := tx.Create(&admin).Error; err != nil {
			return err
		}
		room.ID, room.IsActive, room.CreatedAt, room.UpdatedAt = row.ID, true, row.CreatedAt, row.UpdatedAt
		return nil
	})
}

func (s *SQLite) GetRoom(ctx context.Context, id int64) (*models.Room, error) {
	var row roomRow
	if err := s.db.WithContext(ctx).Where("id = ? AND is_active = ?", id, true).First(&row).Error; err != nil {
		return nil, gormNotFound(err)
	}
	return &models.Room{ID: row.ID, Name: row.Name, Description: row.Description, RoomType: row.RoomType,
		CreatedBy: row.CreatedBy, IsActive: row.IsActive, CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt}, nil
}

func (m membershipRow) membership() *models.Membership {
	return &models.Membership{RoomID: m.RoomID, UserID: m.UserID, Role: models.Role(m.Role), AddedBy: m.AddedBy, JoinedAt: m.JoinedAt}
}

func (s *SQLite) AddMember(ctx context.Context, roomID, userID int64, role models.Role, addedBy *int64) (*models.Membership, bool, error) {
	if role == models.RoleNone {
		role = models.RoleMember
	}
	if !role.Valid() {
		return nil, false, ErrInvalid
	}
	var (
		out     *models.Membership
		created bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing membershipRow
		err := tx.Where("room_id = ? AND user_id = ?", roomID, userID).First(&existing).Error
		if err == nil {
			out = existing.membership()
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		var n int64
		if err := tx.Model(&roomRow{}).Where("id = ?", roomID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		if err := tx.Model(&userRow{}).Where("id = ?", userID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		row := membershipRow{RoomID: roomID, UserID: userID, Role: string(role), AddedBy: addedBy}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		out, created = row.membership(), true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

func (s *SQLite) GetMembership(ctx context.Context, roomID, userID int64) (*models.Membership, error) {
	var row membershipRow
	if err := s.db.WithContext(ctx).Where("room_id = ? AND user_id = ?", roomID, userID).First(&row).Error; err != nil {
		return nil, gormNotFound(err)
	}
	return row.membership(), nil
}

func (c conversationRow) conversation() *models.Conversation {
	return &models.Conversation{ID: c.ID, Participants: [2]int64{c.UserLow, c.UserHigh},
		LastMessageID: c.LastMessageID, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt}
}

func (s *SQLite) GetOrCreateConversation(ctx context.Context, userID1, userID2 int64) (*models.Conversation, bool, error) {
	if err := validConversationPair(userID1, userID2); err != nil {
		return nil, false, err
	}
	low, high := orderedPair(userID1, userID2)
	var (
		out     *models.Conversation
		created bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row conversationRow
		err := tx.Where("user_low = ? AND user_high = ?", low, high).First(&row).Error
		if err == nil {
			out = row.conversation()
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		var n int64
		if err := tx.Model(&userRow{}).Where("id IN ?", []int64{low, high}).Count(&n).Error; err != nil {
			return err
		}
		if n != 2 {
			return ErrNotFound
		}
		row = conversationRow{UserLow: low, UserHigh: high}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		out, created = row.conversation(), true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

func (s *SQLite) GetConversation(ctx context.Context, id int64) (*models.Conversation, error) {
	var row conversationRow
	if err := s.db.WithContext(ctx).First(&row, id).Error; err != nil {
		return nil, gormNotFound(err)
	}
	return row.conversation(), nil
}

func (s *SQLite) CreateMessage(ctx context.Context, msg *models.Message) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&roomRow{}).Where("id = ? AND is_active = ?", msg.RoomID, true).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		row := messageRow{RoomID: msg.RoomID, SenderID: msg.SenderID, Content: msg.Content, ReplyToID: msg.ReplyToID}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		msg.ID, msg.CreatedAt, msg.UpdatedAt = row.ID, row.CreatedAt, row.UpdatedAt
		return nil
	})
}

func (s *SQLite) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	db := s.db.WithContext(ctx)
	var row messageRow
	if err := db.First(&row, id).Error; err != nil {
		return nil, gormNotFound(err)
	}
	m := &models.Message{
		ID: row.ID, RoomID: row.RoomID, SenderID: row.SenderID, Content: row.Content, ReplyToID: row.ReplyToID,
		IsEdited: row.IsEdited, EditedAt: row.EditedAt, IsDeleted: row.IsDeleted, DeletedAt: row.DeletedAt,
		CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt,
	}
	m.SenderName = s.username(db, row.SenderID)

	if row.ReplyToID != nil {
		var ref messageRow
		if err := db.First(&ref, *row.ReplyToID).Error; err == nil {
			m.ReplyTo = &models.MessageRef{ID: ref.ID, Content: ref.Content, Sender: s.username(db, ref.SenderID), CreatedAt: ref.CreatedAt}
		}
	}

	counts, err := s.ReactionCounts(ctx, id)
	if err != nil {
		return nil, err
	}
	m.ReactionCounts = counts
	return m, nil
}

func (s *SQLite) username(db *gorm.DB, id int64) string {
	var name string
	db.Model(&userRow{}).Where("id = ?", id).Pluck("username", &name)
	return name
}

func (s *SQLite) UpdateMessage(ctx context.Context, msg *models.Message) error {
	res := s.db.WithContext(ctx).Model(&messageRow{}).
		Where("id = ? AND is_deleted = ?", msg.ID, false).
		Updates(map[string]any{
			"content":    msg.Content,
			"is_edited":  msg.IsEdited,
			"edited_at":  msg.EditedAt,
			"is_deleted": msg.IsDeleted,
			"deleted_at": msg.DeletedAt,
			"updated_at": msg.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

func (s *SQLite) AddReaction(ctx context.Context, r *models.Reaction) (bool, error) {
	db := s.db.WithContext(ctx)
	var n int64
	if err := db.Model(&messageRow{}).Where("id = ?", r.MessageID).Count(&n).Error; err != nil {
		return false, err
	}
	if n == 0 {
		return false, ErrNotFound
	}
	row := reactionRow{MessageID: r.MessageID, UserID: r.UserID, ReactionType: string(r.Kind)}
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	r.CreatedAt = row.CreatedAt
	return true, nil
}

func (s *SQLite) RemoveReaction(ctx context.Context, messageID, userID int64, kind models.ReactionKind) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("message_id = ? AND user_id = ? AND reaction_type = ?", messageID, userID, string(kind)).
		Delete(&reactionRow{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *SQLite) ReactionCounts(ctx context.Context, messageID int64) (map[string]int, error) {
	var rows []struct {
		ReactionType string
		Count        int
	}
	err := s.db.WithContext(ctx).Model(&reactionRow{}).
		Select("reaction_type, COUNT(*) AS count").
		Where("message_id = ?", messageID).
		Group("reaction_type").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.ReactionType] = r.Count
	}
	return counts, nil
}

func (s *SQLite) CreateDirectMessage(ctx context.Context, msg *models.DirectMessage) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conv conversationRow
		if err := tx.First(&conv, msg.ConversationID).Error; err != nil {
			return gormNotFound(err)
		}
		row := directMessageRow{ConversationID: msg.ConversationID, SenderID: msg.SenderID,
			RecipientID: msg.RecipientID, Content: msg.Content}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		lastID := row.ID
		err := tx.Model(&conv).Updates(map[string]any{"last_message_id": lastID, "updated_at": time.Now()}).Error
		if err != nil {
			return err
		}
		msg.ID, msg.CreatedAt, msg.UpdatedAt = row.ID, row.CreatedAt, row.UpdatedAt
		msg.SenderName = s.username(tx, msg.SenderID)
		msg.RecipientName = s.username(tx, msg.RecipientID)
		return nil
	})
}

func (s *SQLite) MarkRead(ctx context.Context, conversationID, recipientID int64, ids []int64, at time.Time) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var updated []int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		scope := tx.Model(&directMessageRow{}).
			Where("id IN ? AND conversation_id = ? AND recipient_id = ? AND is_read = ?", ids, conversationID, recipientID, false)
		if err := scope.Pluck("id", &updated).Error; err != nil {
			return err
		}
		if len(updated) == 0 {
			return nil
		}
		return tx.Model(&directMessageRow{}).Where("id IN ?", updated).
			Updates(map[string]any{"is_read": true, "read_at": at}).Error
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
