package records

import (
	"context"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	MaxDisplayNameChars = 64
	MaxChannelNameChars = 80
	MaxDescriptionChars = 500
	MaxMessageChars     = 4000

	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// User is a chat participant. IsOnline and LastSeen are written only by
// UpdatePresence; credentials never leave the store except through GetCredentials.
type User struct {
	ID          string
	Email       string
	DisplayName string
	IsOnline    bool
	LastSeen    *time.Time
	CreatedAt   time.Time
}

// Summary is the author view embedded in messages.
func (u User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Email: u.Email, DisplayName: u.DisplayName}
}

type UserSummary struct {
	ID          string
	Email       string
	DisplayName string
}

type Channel struct {
	ID          string
	Name        string
	Description string
	CreatedBy   string
	CreatedAt   time.Time
	MemberCount int
}

// Message is immutable once appended. Seq is the per-channel total order
// assigned by the store; it is the order every observer must see.
type Message struct {
	ID        string
	ChannelID string
	UserID    string
	Content   string
	CreatedAt time.Time
	Seq       int64
	Author    UserSummary
}

type CreateUserInput struct {
	Email        string
	DisplayName  string
	PasswordHash string
	Now          time.Time
}

type CreateChannelInput struct {
	Name        string
	Description string
	CreatorID   string
	Now         time.Time
}

type AppendMessageInput struct {
	ChannelID string
	UserID    string
	Content   string
	Now       time.Time
}

// Store is the durable persistence boundary shared by the relay and the HTTP API.
type Store interface {
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)
	GetUser(ctx context.Context, id string) (User, error)
	// GetCredentials returns the user and its stored password hash by email.
	GetCredentials(ctx context.Context, email string) (User, string, error)
	UpdatePresence(ctx context.Context, userID string, isOnline bool, lastSeen time.Time) error
	// ListUsersByIDs returns the known users among ids; unknown ids are skipped.
	ListUsersByIDs(ctx context.Context, ids []string) ([]User, error)

	ListChannels(ctx context.Context) ([]Channel, error)
	GetChannel(ctx context.Context, id string) (Channel, error)
	// CreateChannel creates the channel and makes the creator its first member.
	CreateChannel(ctx context.Context, in CreateChannelInput) (Channel, error)
	JoinChannel(ctx context.Context, channelID, userID string, now time.Time) error
	LeaveChannel(ctx context.Context, channelID, userID string) error

	AppendMessage(ctx context.Context, in AppendMessageInput) (Message, error)
	// ListMessages selects the window [offset, offset+limit) of a channel's
	// messages ordered newest first, and returns it oldest first.
	ListMessages(ctx context.Context, channelID string, limit, offset int) ([]Message, error)

	Close() error
}

// ClampPage applies history paging defaults and bounds.
func ClampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

type userFields struct {
	email, emailNorm, displayName, hash string
	now                                 time.Time
}

func validateCreateUser(op string, in CreateUserInput) (userFields, error) {
	email := strings.TrimSpace(in.Email)
	if email == "" {
		return userFields{}, invalid(op, "email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return userFields{}, invalid(op, "email is malformed")
	}
	if strings.TrimSpace(in.PasswordHash) == "" {
		return userFields{}, invalid(op, "password hash is required")
	}

	name := strings.TrimSpace(in.DisplayName)
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameChars {
		return userFields{}, invalid(op, "display name too long")
	}

	return userFields{
		email:       email,
		emailNorm:   NormalizeEmail(email),
		displayName: name,
		hash:        in.PasswordHash,
		now:         nowOr(in.Now),
	}, nil
}

type channelFields struct {
	name, nameNorm, description, creatorID string
	now                                    time.Time
}

func validateCreateChannel(op string, in CreateChannelInput) (channelFields, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return channelFields{}, invalid(op, "channel name is required")
	}
	if utf8.RuneCountInString(name) > MaxChannelNameChars {
		return channelFields{}, invalid(op, "channel name too long")
	}
	desc := strings.TrimSpace(in.Description)
	if utf8.RuneCountInString(desc) > MaxDescriptionChars {
		return channelFields{}, invalid(op, "description too long")
	}
	creator := strings.TrimSpace(in.CreatorID)
	if creator == "" {
		return channelFields{}, invalid(op, "creator is required")
	}
	return channelFields{
		name:        name,
		nameNorm:    NormalizeChannelName(name),
		description: desc,
		creatorID:   creator,
		now:         nowOr(in.Now),
	}, nil
}

func validateAppend(op string, in AppendMessageInput) (AppendMessageInput, error) {
	in.ChannelID = strings.TrimSpace(in.ChannelID)
	in.UserID = strings.TrimSpace(in.UserID)
	in.Content = strings.TrimSpace(in.Content)
	switch {
	case in.ChannelID == "":
		return in, invalid(op, "channel_id is required")
	case in.UserID == "":
		return in, invalid(op, "user_id is required")
	case in.Content == "":
		return in, invalid(op, "content is empty")
	case utf8.RuneCountInString(in.Content) > MaxMessageChars:
		return in, invalid(op, "content too long")
	}
	in.Now = nowOr(in.Now)
	return in, nil
}

func requireID(op, field, v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", invalid(op, field+" is required")
	}
	return v, nil
}

func nowOr(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

// reverseMessages flips a newest-first window into chronological order.
func reverseMessages(ms []Message) {
	for i, j := 0, len(ms)-1; i < j; i, j = i+1, j-1 {
		ms[i], ms[j] = ms[j], ms[i]
	}
}
