package records

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"teamchat/cmd/records/ids"
)

// MemoryStore is the in-process Store used when no database is configured.
// One mutex guards everything; it is meant for development and tests.
type MemoryStore struct {
	mu sync.Mutex

	users       map[string]*memUser
	usersByMail map[string]string // email_norm -> id

	channels       map[string]*memChannel
	channelsByName map[string]string // name_norm -> id
}

type memUser struct {
	user User
	hash string
}

type memChannel struct {
	ch      Channel
	members map[string]time.Time
	seq     int64
	msgs    []Message // ordered by seq
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:          make(map[string]*memUser),
		usersByMail:    make(map[string]string),
		channels:       make(map[string]*memChannel),
		channelsByName: make(map[string]string),
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "records.CreateUser"

	f, err := validateCreateUser(op, in)
	if err != nil {
		return User{}, err
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	id, err := ids.NewULID(f.now)
	if err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.usersByMail[f.emailNorm]; taken {
		return User{}, ConflictError{Op: op, Field: FieldEmail}
	}
	u := User{ID: id, Email: f.email, DisplayName: f.displayName, CreatedAt: f.now}
	s.users[id] = &memUser{user: u, hash: f.hash}
	s.usersByMail[f.emailNorm] = id
	return u, nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id string) (User, error) {
	const op = "records.GetUser"
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[strings.TrimSpace(id)]
	if !ok {
		return User{}, NotFoundError{Op: op, Resource: ResourceUser}
	}
	return u.user, nil
}

func (s *MemoryStore) GetCredentials(ctx context.Context, email string) (User, string, error) {
	const op = "records.GetCredentials"
	if err := ctx.Err(); err != nil {
		return User{}, "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.usersByMail[NormalizeEmail(email)]
	if !ok {
		return User{}, "", NotFoundError{Op: op, Resource: ResourceUser}
	}
	u := s.users[id]
	return u.user, u.hash, nil
}

func (s *MemoryStore) UpdatePresence(ctx context.Context, userID string, isOnline bool, lastSeen time.Time) error {
	const op = "records.UpdatePresence"
	if err := ctx.Err(); err != nil {
		return err
	}
	lastSeen = nowOr(lastSeen)

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[strings.TrimSpace(userID)]
	if !ok {
		return NotFoundError{Op: op, Resource: ResourceUser}
	}
	u.user.IsOnline = isOnline
	u.user.LastSeen = &lastSeen
	return nil
}

func (s *MemoryStore) ListUsersByIDs(ctx context.Context, userIDs []string) ([]User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]User, 0, len(userIDs))
	seen := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if u, ok := s.users[id]; ok {
			out = append(out, u.user)
		}
	}
	sortUsers(out)
	return out, nil
}

func (s *MemoryStore) ListChannels(ctx context.Context) ([]Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Channel, 0, len(s.channels))
	for _, c := range s.channels {
		out = append(out, c.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) GetChannel(ctx context.Context, id string) (Channel, error) {
	const op = "records.GetChannel"
	if err := ctx.Err(); err != nil {
		return Channel{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.channels[strings.TrimSpace(id)]
	if !ok {
		return Channel{}, NotFoundError{Op: op, Resource: ResourceChannel}
	}
	return c.snapshot(), nil
}

func (s *MemoryStore) CreateChannel(ctx context.Context, in CreateChannelInput) (Channel, error) {
	const op = "records.CreateChannel"

	f, err := validateCreateChannel(op, in)
	if err != nil {
		return Channel{}, err
	}
	if err := ctx.Err(); err != nil {
		return Channel{}, err
	}
	id, err := ids.NewULID(f.now)
	if err != nil {
		return Channel{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[f.creatorID]; !ok {
		return Channel{}, NotFoundError{Op: op, Resource: ResourceUser}
	}
	if _, taken := s.channelsByName[f.nameNorm]; taken {
		return Channel{}, ConflictError{Op: op, Field: FieldChannelName}
	}

	c := &memChannel{
		ch: Channel{
			ID:          id,
			Name:        f.name,
			Description: f.description,
			CreatedBy:   f.creatorID,
			CreatedAt:   f.now,
		},
		members: map[string]time.Time{f.creatorID: f.now},
	}
	s.channels[id] = c
	s.channelsByName[f.nameNorm] = id
	return c.snapshot(), nil
}

func (s *MemoryStore) JoinChannel(ctx context.Context, channelID, userID string, now time.Time) error {
	const op = "records.JoinChannel"
	c, u, err := s.lookupPair(ctx, op, channelID, userID)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()

	if _, already := c.members[u]; !already {
		c.members[u] = nowOr(now)
	}
	return nil
}

func (s *MemoryStore) LeaveChannel(ctx context.Context, channelID, userID string) error {
	const op = "records.LeaveChannel"
	c, u, err := s.lookupPair(ctx, op, channelID, userID)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()

	delete(c.members, u)
	return nil
}

// lookupPair resolves channel and user under s.mu and returns with the lock held on success.
func (s *MemoryStore) lookupPair(ctx context.Context, op, channelID, userID string) (*memChannel, string, error) {
	channelID, err := requireID(op, "channel_id", channelID)
	if err != nil {
		return nil, "", err
	}
	userID, err = requireID(op, "user_id", userID)
	if err != nil {
		return nil, "", err
	}
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	s.mu.Lock()
	c, ok := s.channels[channelID]
	if !ok {
		s.mu.Unlock()
		return nil, "", NotFoundError{Op: op, Resource: ResourceChannel}
	}
	if _, ok := s.users[userID]; !ok {
		s.mu.Unlock()
		return nil, "", NotFoundError{Op: op, Resource: ResourceUser}
	}
	return c, userID, nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, in AppendMessageInput) (Message, error) {
	const op = "records.AppendMessage"

	in, err := validateAppend(op, in)
	if err != nil {
		return Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	id, err := ids.NewULID(in.Now)
	if err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.channels[in.ChannelID]
	if !ok {
		return Message{}, NotFoundError{Op: op, Resource: ResourceChannel}
	}
	u, ok := s.users[in.UserID]
	if !ok {
		return Message{}, NotFoundError{Op: op, Resource: ResourceUser}
	}

	c.seq++
	m := Message{
		ID:        id,
		ChannelID: in.ChannelID,
		UserID:    in.UserID,
		Content:   in.Content,
		CreatedAt: in.Now,
		Seq:       c.seq,
		Author:    u.user.Summary(),
	}
	c.msgs = append(c.msgs, m)
	return m, nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, channelID string, limit, offset int) ([]Message, error) {
	const op = "records.ListMessages"

	channelID, err := requireID(op, "channel_id", channelID)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit, offset = ClampPage(limit, offset)

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.channels[channelID]
	if !ok {
		return nil, NotFoundError{Op: op, Resource: ResourceChannel}
	}

	// Newest-first window [offset, offset+limit) maps to this ascending slice.
	end := len(c.msgs) - offset
	if end <= 0 {
		return []Message{}, nil
	}
	start := max(end-limit, 0)

	out := make([]Message, 0, end-start)
	for _, m := range c.msgs[start:end] {
		if u, ok := s.users[m.UserID]; ok {
			m.Author = u.user.Summary()
		}
		out = append(out, m)
	}
	return out, nil
}

func (c *memChannel) snapshot() Channel {
	ch := c.ch
	ch.MemberCount = len(c.members)
	return ch
}

func sortUsers(us []User) {
	sort.Slice(us, func(i, j int) bool {
		a, b := strings.ToLower(us[i].DisplayName), strings.ToLower(us[j].DisplayName)
		if a != b {
			return a < b
		}
		return us[i].ID < us[j].ID
	})
}
