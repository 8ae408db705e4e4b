package repository

import (
	"context"
	"fmt"
	"strings"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id {{uuid}} PRIMARY KEY,
	name TEXT NOT NULL,
	email TEXT NOT NULL UNIQUE,
	password TEXT NOT NULL,
	avatar TEXT NOT NULL DEFAULT '',
	status_message TEXT NOT NULL DEFAULT '',
	is_active BOOLEAN NOT NULL DEFAULT FALSE,
	last_seen {{ts}} NOT NULL,
	created_at {{ts}} NOT NULL,
	updated_at {{ts}} NOT NULL
);

CREATE TABLE IF NOT EXISTS chats (
	id {{uuid}} PRIMARY KEY,
	user1_id {{uuid}} NOT NULL REFERENCES users(id),
	user2_id {{uuid}} NOT NULL REFERENCES users(id),
	created_at {{ts}} NOT NULL,
	UNIQUE (user1_id, user2_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id {{uuid}} PRIMARY KEY,
	chat_id {{uuid}} NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
	sender_id {{uuid}} NOT NULL REFERENCES users(id),
	content TEXT,
	message_type TEXT NOT NULL DEFAULT 'text',
	status TEXT NOT NULL DEFAULT 'sent',
	is_edited BOOLEAN NOT NULL DEFAULT FALSE,
	is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
	reply_to_message_id {{uuid}} REFERENCES messages(id),
	delivered_at {{ts}},
	seen_at {{ts}},
	created_at {{ts}} NOT NULL,
	updated_at {{ts}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, id);

CREATE TABLE IF NOT EXISTS attachments (
	id {{uuid}} PRIMARY KEY,
	message_id {{uuid}} NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	filename TEXT NOT NULL,
	file_url TEXT NOT NULL,
	file_type TEXT NOT NULL,
	file_size BIGINT NOT NULL,
	created_at {{ts}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_attachments_message ON attachments(message_id);

CREATE TABLE IF NOT EXISTS message_reactions (
	id {{uuid}} PRIMARY KEY,
	message_id {{uuid}} NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	user_id {{uuid}} NOT NULL REFERENCES users(id),
	emoji TEXT NOT NULL,
	created_at {{ts}} NOT NULL,
	UNIQUE (message_id, user_id, emoji)
);

CREATE TABLE IF NOT EXISTS friend_requests (
	id {{uuid}} PRIMARY KEY,
	sender_id {{uuid}} NOT NULL REFERENCES users(id),
	receiver_id {{uuid}} NOT NULL REFERENCES users(id),
	pair_low {{uuid}} NOT NULL,
	pair_high {{uuid}} NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	created_at {{ts}} NOT NULL,
	updated_at {{ts}} NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_friend_requests_pending
	ON friend_requests(pair_low, pair_high) WHERE status = 'pending';

CREATE TABLE IF NOT EXISTS friendships (
	id {{uuid}} PRIMARY KEY,
	user1_id {{uuid}} NOT NULL REFERENCES users(id),
	user2_id {{uuid}} NOT NULL REFERENCES users(id),
	created_at {{ts}} NOT NULL,
	UNIQUE (user1_id, user2_id)
);

CREATE TABLE IF NOT EXISTS outbox_events (
	id {{uuid}} PRIMARY KEY,
	event_type TEXT NOT NULL,
	payload {{json}} NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	created_at {{ts}} NOT NULL,
	processed_at {{ts}}
);

CREATE INDEX IF NOT EXISTS idx_outbox_status ON outbox_events(status, created_at);
`

func schemaFor(d Dialect) string {
	var r *strings.Replacer
	switch d {
	case Postgres:
		r = strings.NewReplacer("{{uuid}}", "UUID", "{{ts}}", "TIMESTAMPTZ", "{{json}}", "JSONB")
	default:
		r = strings.NewReplacer("{{uuid}}", "TEXT", "{{ts}}", "TIMESTAMP", "{{json}}", "TEXT")
	}
	return r.Replace(schema)
}

// Migrate creates the schema if it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if s.dialect == SQLite {
		if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			return fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	}
	for _, stmt := range strings.Split(schemaFor(s.dialect), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
