package records

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"teamchat/cmd/records/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over PostgreSQL.
//
// The pgx pool is owned by the caller; Close is a no-op. Schema and table
// identifiers are validated and quoted. AppendMessage serializes per channel
// with a transactional advisory lock so seq allocation is gap-free and
// monotonic even across processes.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

type PostgresOption func(*PostgresStore) error

const DefaultPostgresSchema = "teamchat"

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema (default "teamchat").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("records: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return errors.New("records: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: DefaultPostgresSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("records: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) Close() error { return nil }

func (s *PostgresStore) t(name string) string { return pgIdent(s.schema, name) }

func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "records.CreateUser"

	f, err := validateCreateUser(op, in)
	if err != nil {
		return User{}, err
	}
	id, err := ids.NewULID(f.now)
	if err != nil {
		return User{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return User{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+s.t("users")+` (id, email, email_norm, display_name, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, f.email, f.emailNorm, f.displayName, f.now,
	); err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, fmt.Errorf("%s: insert user: %w", op, err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+s.t("user_credentials")+` (user_id, password_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $3)`,
		id, f.hash, f.now,
	); err != nil {
		return User{}, fmt.Errorf("%s: insert credentials: %w", op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return User{}, err
	}
	return User{ID: id, Email: f.email, DisplayName: f.displayName, CreatedAt: f.now}, nil
}

const pgUserCols = `u.id, u.email, u.display_name, u.is_online, u.last_seen, u.created_at`

func scanUser(row pgx.Row, extra ...any) (User, error) {
	var u User
	dst := append([]any{&u.ID, &u.Email, &u.DisplayName, &u.IsOnline, &u.LastSeen, &u.CreatedAt}, extra...)
	err := row.Scan(dst...)
	return u, err
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (User, error) {
	const op = "records.GetUser"

	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+pgUserCols+` FROM `+s.t("users")+` u WHERE u.id = $1`,
		strings.TrimSpace(id),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, NotFoundError{Op: op, Resource: ResourceUser}
	}
	return u, err
}

func (s *PostgresStore) GetCredentials(ctx context.Context, email string) (User, string, error) {
	const op = "records.GetCredentials"

	var hash string
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+pgUserCols+`, c.password_hash
		   FROM `+s.t("users")+` u
		   JOIN `+s.t("user_credentials")+` c ON c.user_id = u.id
		  WHERE u.email_norm = $1`,
		NormalizeEmail(email),
	), &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, "", NotFoundError{Op: op, Resource: ResourceUser}
	}
	if err != nil {
		return User{}, "", err
	}
	return u, hash, nil
}

func (s *PostgresStore) UpdatePresence(ctx context.Context, userID string, isOnline bool, lastSeen time.Time) error {
	const op = "records.UpdatePresence"

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.t("users")+` SET is_online = $2, last_seen = $3 WHERE id = $1`,
		strings.TrimSpace(userID), isOnline, nowOr(lastSeen),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: ResourceUser}
	}
	return nil
}

func (s *PostgresStore) ListUsersByIDs(ctx context.Context, userIDs []string) ([]User, error) {
	if len(userIDs) == 0 {
		return []User{}, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+pgUserCols+` FROM `+s.t("users")+` u WHERE u.id = ANY($1)`,
		userIDs,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]User, 0, len(userIDs))
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortUsers(out)
	return out, nil
}

func (s *PostgresStore) channelSelect() string {
	return `SELECT c.id, c.name, c.description, c.created_by, c.created_at,
	               (SELECT count(*) FROM ` + s.t("channel_members") + ` m WHERE m.channel_id = c.id)
	          FROM ` + s.t("channels") + ` c`
}

func scanChannel(row pgx.Row) (Channel, error) {
	var (
		c     Channel
		count int64
	)
	err := row.Scan(&c.ID, &c.Name, &c.Description, &c.CreatedBy, &c.CreatedAt, &count)
	c.MemberCount = int(count)
	return c, err
}

func (s *PostgresStore) ListChannels(ctx context.Context) ([]Channel, error) {
	rows, err := s.pool.Query(ctx, s.channelSelect()+` ORDER BY c.created_at ASC, c.id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Channel, 0, 16)
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetChannel(ctx context.Context, id string) (Channel, error) {
	const op = "records.GetChannel"

	c, err := scanChannel(s.pool.QueryRow(ctx, s.channelSelect()+` WHERE c.id = $1`, strings.TrimSpace(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return Channel{}, NotFoundError{Op: op, Resource: ResourceChannel}
	}
	return c, err
}

func (s *PostgresStore) CreateChannel(ctx context.Context, in CreateChannelInput) (Channel, error) {
	const op = "records.CreateChannel"

	f, err := validateCreateChannel(op, in)
	if err != nil {
		return Channel{}, err
	}
	id, err := ids.NewULID(f.now)
	if err != nil {
		return Channel{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return Channel{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+s.t("channels")+` (id, name, name_norm, description, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		id, f.name, f.nameNorm, f.description, f.creatorID, f.now,
	); err != nil {
		return Channel{}, pgMapWriteErr(op, err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+s.t("channel_members")+` (channel_id, user_id, joined_at) VALUES ($1, $2, $3)`,
		id, f.creatorID, f.now,
	); err != nil {
		return Channel{}, pgMapWriteErr(op, err)
	}

	if err := tx.Commit(ctx); err != nil {
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

func (s *PostgresStore) JoinChannel(ctx context.Context, channelID, userID string, now time.Time) error {
	const op = "records.JoinChannel"

	channelID, err := requireID(op, "channel_id", channelID)
	if err != nil {
		return err
	}
	userID, err = requireID(op, "user_id", userID)
	if err != nil {
		return err
	}

	if _, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.t("channel_members")+` (channel_id, user_id, joined_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (channel_id, user_id) DO NOTHING`,
		channelID, userID, nowOr(now),
	); err != nil {
		return pgMapWriteErr(op, err)
	}
	return nil
}

func (s *PostgresStore) LeaveChannel(ctx context.Context, channelID, userID string) error {
	const op = "records.LeaveChannel"

	channelID, err := requireID(op, "channel_id", channelID)
	if err != nil {
		return err
	}
	userID, err = requireID(op, "user_id", userID)
	if err != nil {
		return err
	}

	var channelOK, userOK bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+s.t("channels")+` WHERE id = $1),
		        EXISTS (SELECT 1 FROM `+s.t("users")+` WHERE id = $2)`,
		channelID, userID,
	).Scan(&channelOK, &userOK); err != nil {
		return err
	}
	if !channelOK {
		return NotFoundError{Op: op, Resource: ResourceChannel}
	}
	if !userOK {
		return NotFoundError{Op: op, Resource: ResourceUser}
	}

	_, err = s.pool.Exec(ctx,
		`DELETE FROM `+s.t("channel_members")+` WHERE channel_id = $1 AND user_id = $2`,
		channelID, userID,
	)
	return err
}

func (s *PostgresStore) AppendMessage(ctx context.Context, in AppendMessageInput) (Message, error) {
	const op = "records.AppendMessage"

	in, err := validateAppend(op, in)
	if err != nil {
		return Message{}, err
	}
	id, err := ids.NewULID(in.Now)
	if err != nil {
		return Message{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return Message{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, in.ChannelID); err != nil {
		return Message{}, fmt.Errorf("%s: advisory lock: %w", op, err)
	}

	var author UserSummary
	err = tx.QueryRow(ctx,
		`SELECT id, email, display_name FROM `+s.t("users")+` WHERE id = $1`, in.UserID,
	).Scan(&author.ID, &author.Email, &author.DisplayName)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, NotFoundError{Op: op, Resource: ResourceUser}
	}
	if err != nil {
		return Message{}, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+s.t("channel_cursors")+` (channel_id, next_seq) VALUES ($1, 1)
		 ON CONFLICT (channel_id) DO NOTHING`,
		in.ChannelID,
	); err != nil {
		return Message{}, pgMapWriteErr(op, err)
	}

	var seq int64
	if err := tx.QueryRow(ctx,
		`UPDATE `+s.t("channel_cursors")+`
		    SET next_seq = next_seq + 1, updated_at = now()
		  WHERE channel_id = $1
		RETURNING next_seq - 1`,
		in.ChannelID,
	).Scan(&seq); err != nil {
		return Message{}, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+s.t("messages")+` (id, channel_id, seq, user_id, content, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		id, in.ChannelID, seq, in.UserID, in.Content, in.Now,
	); err != nil {
		return Message{}, pgMapWriteErr(op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, err
	}
	return Message{
		ID:        id,
		ChannelID: in.ChannelID,
		UserID:    in.UserID,
		Content:   in.Content,
		CreatedAt: in.Now,
		Seq:       seq,
		Author:    author,
	}, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, channelID string, limit, offset int) ([]Message, error) {
	const op = "records.ListMessages"

	channelID, err := requireID(op, "channel_id", channelID)
	if err != nil {
		return nil, err
	}
	limit, offset = ClampPage(limit, offset)

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+s.t("channels")+` WHERE id = $1)`, channelID,
	).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, NotFoundError{Op: op, Resource: ResourceChannel}
	}

	rows, err := s.pool.Query(ctx,
		`SELECT m.id, m.channel_id, m.user_id, m.content, m.created_at, m.seq,
		        u.id, u.email, u.display_name
		   FROM `+s.t("messages")+` m
		   JOIN `+s.t("users")+` u ON u.id = m.user_id
		  WHERE m.channel_id = $1
		  ORDER BY m.seq DESC
		  LIMIT $2 OFFSET $3`,
		channelID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Message, 0, limit)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.UserID, &m.Content, &m.CreatedAt, &m.Seq,
			&m.Author.ID, &m.Author.Email, &m.Author.DisplayName); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reverseMessages(out)
	return out, nil
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

// pgMapWriteErr maps constraint violations to typed errors.
func pgMapWriteErr(op string, err error) error {
	if field, ok := pgClassifyUniqueViolation(err); ok {
		return ConflictError{Op: op, Field: field}
	}
	if res, ok := pgForeignKeyResource(err); ok {
		return NotFoundError{Op: op, Resource: res}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func pgForeignKeyResource(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23503" { // foreign_key_violation
		return "", false
	}
	c := strings.ToLower(pgErr.ConstraintName)
	switch {
	case strings.HasSuffix(c, "_channel"):
		return "channel", true
	case strings.HasSuffix(c, "_user"), strings.HasSuffix(c, "_creator"):
		return "user", true
	default:
		return "", true
	}
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	switch c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName)); {
	case c == "uq_users_email_norm", strings.Contains(c, "email"):
		return FieldEmail, true
	case c == "uq_channels_name_norm", strings.Contains(c, "name"):
		return FieldChannelName, true
	default:
		return FieldUnknown, true
	}
}
