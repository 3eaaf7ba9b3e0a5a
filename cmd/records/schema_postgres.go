package records

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// PostgresSchemaSQL returns idempotent DDL for every table the store uses,
// qualified with schema. Constraint names are load-bearing: error mapping
// classifies violations by them.
func PostgresSchemaSQL(schema string) string {
	q := func(name string) string { return pgIdent(schema, name) }

	return fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %[1]s;

CREATE TABLE IF NOT EXISTS %[2]s (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL,
  email_norm TEXT NOT NULL,
  display_name TEXT NOT NULL,
  is_online BOOLEAN NOT NULL DEFAULT false,
  last_seen TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),

  CONSTRAINT chk_users_id_ulid_len CHECK (char_length(id) = 26),
  CONSTRAINT uq_users_email_norm UNIQUE (email_norm)
);

CREATE TABLE IF NOT EXISTS %[3]s (
  user_id TEXT PRIMARY KEY,
  password_hash TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),

  CONSTRAINT fk_credentials_user FOREIGN KEY (user_id) REFERENCES %[2]s(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS %[4]s (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  name_norm TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  created_by TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),

  CONSTRAINT uq_channels_name_norm UNIQUE (name_norm),
  CONSTRAINT fk_channels_creator FOREIGN KEY (created_by) REFERENCES %[2]s(id)
);

CREATE TABLE IF NOT EXISTS %[5]s (
  channel_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),

  PRIMARY KEY (channel_id, user_id),
  CONSTRAINT fk_members_channel FOREIGN KEY (channel_id) REFERENCES %[4]s(id) ON DELETE CASCADE,
  CONSTRAINT fk_members_user FOREIGN KEY (user_id) REFERENCES %[2]s(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS %[6]s (
  channel_id TEXT PRIMARY KEY,
  next_seq BIGINT NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),

  CONSTRAINT fk_cursors_channel FOREIGN KEY (channel_id) REFERENCES %[4]s(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS %[7]s (
  id TEXT PRIMARY KEY,
  channel_id TEXT NOT NULL,
  seq BIGINT NOT NULL,
  user_id TEXT NOT NULL,
  content TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,

  CONSTRAINT uq_messages_channel_seq UNIQUE (channel_id, seq),
  CONSTRAINT fk_messages_channel FOREIGN KEY (channel_id) REFERENCES %[4]s(id) ON DELETE CASCADE,
  CONSTRAINT fk_messages_user FOREIGN KEY (user_id) REFERENCES %[2]s(id)
);
`,
		pgx.Identifier{schema}.Sanitize(),
		q("users"),
		q("user_credentials"),
		q("channels"),
		q("channel_members"),
		q("channel_cursors"),
		q("messages"),
	)
}

// Migrate applies PostgresSchemaSQL for the store's schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, PostgresSchemaSQL(s.schema)); err != nil {
		return fmt.Errorf("records: migrate %s: %w", s.schema, err)
	}
	return nil
}
