package records

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"teamchat/cmd/records/ids"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// SQLiteStore is a GORM-backed single-file Store for single-node deployments.
// It uses one connection, so writes (and seq allocation) are serialized by
// the database handle itself.
type SQLiteStore struct {
	db *gorm.DB
}

type sqliteUser struct {
	ID           string `gorm:"primaryKey;size:26"`
	Email        string `gorm:"not null"`
	EmailNorm    string `gorm:"not null;uniqueIndex:uq_users_email_norm"`
	DisplayName  string `gorm:"not null"`
	PasswordHash string `gorm:"not null"`
	IsOnline     bool   `gorm:"not null;default:false"`
	LastSeen     *time.Time
	CreatedAt    time.Time
}

func (sqliteUser) TableName() string { return "users" }

func (u sqliteUser) toUser() User {
	return User{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		IsOnline:    u.IsOnline,
		LastSeen:    u.LastSeen,
		CreatedAt:   u.CreatedAt,
	}
}

type sqliteChannel struct {
	ID          string `gorm:"primaryKey;size:26"`
	Name        string `gorm:"not null"`
	NameNorm    string `gorm:"not null;uniqueIndex:uq_channels_name_norm"`
	Description string `gorm:"not null;default:''"`
	CreatedBy   string `gorm:"not null;index"`
	CreatedAt   time.Time
}

func (sqliteChannel) TableName() string { return "channels" }

type sqliteMember struct {
	ChannelID string `gorm:"primaryKey"`
	UserID    string `gorm:"primaryKey;index"`
	JoinedAt  time.Time
}

func (sqliteMember) TableName() string { return "channel_members" }

type sqliteMessage struct {
	ID        string `gorm:"primaryKey;size:26"`
	ChannelID string `gorm:"not null;uniqueIndex:uq_messages_channel_seq,priority:1"`
	Seq       int64  `gorm:"not null;uniqueIndex:uq_messages_channel_seq,priority:2"`
	UserID    string `gorm:"not null;index"`
	Content   string `gorm:"not null"`
	CreatedAt time.Time
}

func (sqliteMessage) TableName() string { return "messages" }

// NewSQLiteStore opens (or creates) the database at path. ":memory:" gives a
// private in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("records: empty sqlite path")
	}

	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return nil, fmt.Errorf("records: open sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate applies schema updates.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&sqliteUser{}, &sqliteChannel{}, &sqliteMember{}, &sqliteMessage{})
}

// Ping checks the underlying connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *SQLiteStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "records.CreateUser"

	f, err := validateCreateUser(op, in)
	if err != nil {
		return User{}, err
	}
	id, err := ids.NewULID(f.now)
	if err != nil {
		return User{}, err
	}

	row := sqliteUser{
		ID:           id,
		Email:        f.email,
		EmailNorm:    f.emailNorm,
		DisplayName:  f.displayName,
		PasswordHash: f.hash,
		CreatedAt:    f.now,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return User{}, sqliteMapWriteErr(op, err)
	}
	return row.toUser(), nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (User, error) {
	const op = "records.GetUser"

	var row sqliteUser
	err := s.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(id)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, NotFoundError{Op: op, Resource: ResourceUser}
	}
	if err != nil {
		return User{}, err
	}
	return row.toUser(), nil
}

func (s *SQLiteStore) GetCredentials(ctx context.Context, email string) (User, string, error) {
	const op = "records.GetCredentials"

	var row sqliteUser
	err := s.db.WithContext(ctx).Where("email_norm = ?", NormalizeEmail(email)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, "", NotFoundError{Op: op, Resource: ResourceUser}
	}
	if err != nil {
		return User{}, "", err
	}
	return row.toUser(), row.PasswordHash, nil
}

func (s *SQLiteStore) UpdatePresence(ctx context.Context, userID string, isOnline bool, lastSeen time.Time) error {
	const op = "records.UpdatePresence"

	res := s.db.WithContext(ctx).Model(&sqliteUser{}).
		Where("id = ?", strings.TrimSpace(userID)).
		Updates(map[string]any{"is_online": isOnline, "last_seen": nowOr(lastSeen)})
	if res.Error != nil {
		return fmt.Errorf("%s: %w", op, res.Error)
	}
	if res.RowsAffected == 0 {
		return NotFoundError{Op: op, Resource: ResourceUser}
	}
	return nil
}

func (s *SQLiteStore) ListUsersByIDs(ctx context.Context, userIDs []string) ([]User, error) {
	if len(userIDs) == 0 {
		return []User{}, nil
	}

	var rows []sqliteUser
	if err := s.db.WithContext(ctx).Where("id IN ?", userIDs).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]User, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toUser())
	}
	sortUsers(out)
	return out, nil
}

type sqliteChannelRow struct {
	ID          string
	Name        string
	Description string
	CreatedBy   string
	CreatedAt   time.Time
	MemberCount int
}

func (r sqliteChannelRow) toChannel() Channel {
	return Channel(r)
}

func (s *SQLiteStore) channelQuery(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).
		Table("channels AS c").
		Select(`c.id, c.name, c.description, c.created_by, c.created_at,
		        (SELECT count(*) FROM channel_members m WHERE m.channel_id = c.id) AS member_count`)
}

func (s *SQLiteStore) ListChannels(ctx context.Context) ([]Channel, error) {
	var rows []sqliteChannelRow
	if err := s.channelQuery(ctx).Order("c.created_at ASC, c.id ASC").Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Channel, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toChannel())
	}
	return out, nil
}

func (s *SQLiteStore) GetChannel(ctx context.Context, id string) (Channel, error) {
	const op = "records.GetChannel"

	var rows []sqliteChannelRow
	if err := s.channelQuery(ctx).Where("c.id = ?", strings.TrimSpace(id)).Limit(1).Scan(&rows).Error; err != nil {
		return Channel{}, err
	}
	if len(rows) == 0 {
		return Channel{}, NotFoundError{Op: op, Resource: ResourceChannel}
	}
	return rows[0].toChannel(), nil
}

func (s *SQLiteStore) CreateChannel(ctx context.Context, in CreateChannelInput) (Channel, error) {
	const op = "records.CreateChannel"

	f, err := validateCreateChannel(op, in)
	if err != nil {
		return Channel{}, err
	}
	id, err := ids.NewULID(f.now)
	if err != nil {
		return Channel{}, err
	}

	row := sqliteChannel{
		ID:          id,
		Name:        f.name,
		NameNorm:    f.nameNorm,
		Description: f.description,
		CreatedBy:   f.creatorID,
		CreatedAt:   f.now,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := sqliteRequire(tx, op, &sqliteUser{}, f.creatorID, "user"); err != nil {
			return err
		}
		if err := tx.Create(&row).Error; err != nil {
			return sqliteMapWriteErr(op, err)
		}
		return tx.Create(&sqliteMember{ChannelID: id, UserID: f.creatorID, JoinedAt: f.now}).Error
	})
	if err != nil {
		return Channel{}, err
	}
	return Channel{
		ID:          id,
		Name:        f.name,
		Description: f.description,
		CreatedBy:   f.creatorID,
		CreatedAt:   f.now,
		MemberCount: 1,
	}, nil
}

func (s *SQLiteStore) JoinChannel(ctx context.Context, channelID, userID string, now time.Time) error {
	const op = "records.JoinChannel"
	return s.withPair(ctx, op, channelID, userID, func(tx *gorm.DB, channelID, userID string) error {
		return tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&sqliteMember{ChannelID: channelID, UserID: userID, JoinedAt: nowOr(now)}).Error
	})
}

func (s *SQLiteStore) LeaveChannel(ctx context.Context, channelID, userID string) error {
	const op = "records.LeaveChannel"
	return s.withPair(ctx, op, channelID, userID, func(tx *gorm.DB, channelID, userID string) error {
		return tx.Where("channel_id = ? AND user_id = ?", channelID, userID).Delete(&sqliteMember{}).Error
	})
}

func (s *SQLiteStore) withPair(ctx context.Context, op, channelID, userID string, fn func(tx *gorm.DB, channelID, userID string) error) error {
	channelID, err := requireID(op, "channel_id", channelID)
	if err != nil {
		return err
	}
	userID, err = requireID(op, "user_id", userID)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := sqliteRequire(tx, op, &sqliteChannel{}, channelID, "channel"); err != nil {
			return err
		}
		if err := sqliteRequire(tx, op, &sqliteUser{}, userID, "user"); err != nil {
			return err
		}
		return fn(tx, channelID, userID)
	})
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, in AppendMessageInput) (Message, error) {
	const op = "records.AppendMessage"

	in, err := validateAppend(op, in)
	if err != nil {
		return Message{}, err
	}
	id, err := ids.NewULID(in.Now)
	if err != nil {
		return Message{}, err
	}

	var (
		out    Message
		author sqliteUser
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := sqliteRequire(tx, op, &sqliteChannel{}, in.ChannelID, "channel"); err != nil {
			return err
		}
		if err := tx.Where("id = ?", in.UserID).First(&author).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return NotFoundError{Op: op, Resource: ResourceUser}
			}
			return err
		}

		var last int64
		if err := tx.Model(&sqliteMessage{}).
			Where("channel_id = ?", in.ChannelID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&last).Error; err != nil {
			return err
		}

		row := sqliteMessage{
			ID:        id,
			ChannelID: in.ChannelID,
			Seq:       last + 1,
			UserID:    in.UserID,
			Content:   in.Content,
			CreatedAt: in.Now,
		}
		if err := tx.Create(&row).Error; err != nil {
			return sqliteMapWriteErr(op, err)
		}

		out = Message{
			ID:        row.ID,
			ChannelID: row.ChannelID,
			UserID:    row.UserID,
			Content:   row.Content,
			CreatedAt: row.CreatedAt,
			Seq:       row.Seq,
			Author:    author.toUser().Summary(),
		}
		return nil
	})
	if err != nil {
		return Message{}, err
	}
	return out, nil
}

type sqliteMessageRow struct {
	ID                string
	ChannelID         string
	UserID            string
	Content           string
	CreatedAt         time.Time
	Seq               int64
	AuthorEmail       string
	AuthorDisplayName string
}

func (s *SQLiteStore) ListMessages(ctx context.Context, channelID string, limit, offset int) ([]Message, error) {
	const op = "records.ListMessages"

	channelID, err := requireID(op, "channel_id", channelID)
	if err != nil {
		return nil, err
	}
	limit, offset = ClampPage(limit, offset)

	db := s.db.WithContext(ctx)
	if err := sqliteRequire(db, op, &sqliteChannel{}, channelID, "channel"); err != nil {
		return nil, err
	}

	var rows []sqliteMessageRow
	if err := db.Table("messages AS m").
		Select(`m.id, m.channel_id, m.user_id, m.content, m.created_at, m.seq,
		        u.email AS author_email, u.display_name AS author_display_name`).
		Joins("JOIN users u ON u.id = m.user_id").
		Where("m.channel_id = ?", channelID).
		Order("m.seq DESC").
		Limit(limit).
		Offset(offset).
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, Message{
			ID:        r.ID,
			ChannelID: r.ChannelID,
			UserID:    r.UserID,
			Content:   r.Content,
			CreatedAt: r.CreatedAt,
			Seq:       r.Seq,
			Author:    UserSummary{ID: r.UserID, Email: r.AuthorEmail, DisplayName: r.AuthorDisplayName},
		})
	}
	reverseMessages(out)
	return out, nil
}

// sqliteRequire returns NotFoundError when no row of model has the given id.
func sqliteRequire(tx *gorm.DB, op string, model any, id, resource string) error {
	var n int64
	if err := tx.Model(model).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return NotFoundError{Op: op, Resource: resource}
	}
	return nil
}

func sqliteMapWriteErr(op string, err error) error {
	// The driver reports "UNIQUE constraint failed: <table>.<column>".
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") {
		switch {
		case strings.Contains(msg, "email"):
			return ConflictError{Op: op, Field: FieldEmail}
		case strings.Contains(msg, "name"):
			return ConflictError{Op: op, Field: FieldChannelName}
		default:
			return ConflictError{Op: op, Field: FieldUnknown}
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
