package repo

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schemaSQL = `
-- Channel messages
CREATE TABLE IF NOT EXISTS discuss_messages (
  id TEXT PRIMARY KEY,                 -- e.g., "msg-0190f3a2-..."; time-ordered
  channel_id TEXT NOT NULL,            -- owning discussion channel
  author_id TEXT NOT NULL,
  author_name TEXT,
  author_role TEXT,
  body TEXT NOT NULL DEFAULT '',       -- cleared on delete (tombstone)
  attachment TEXT,                     -- JSON descriptor, null if none
  reply_to TEXT,                       -- parent message id, weak reference
  revision INTEGER NOT NULL DEFAULT 0, -- bumped on every edit
  deleted INTEGER NOT NULL DEFAULT 0,  -- tombstone flag; row is never dropped
  created_at INTEGER NOT NULL,         -- unix ms
  edited_at INTEGER                    -- unix ms of last edit or delete
);

CREATE INDEX IF NOT EXISTS idx_discuss_messages_channel
  ON discuss_messages(channel_id, created_at, id);
CREATE INDEX IF NOT EXISTS idx_discuss_messages_reply_to
  ON discuss_messages(reply_to);

-- Per-user emoji reactions
CREATE TABLE IF NOT EXISTS discuss_reactions (
  message_id TEXT NOT NULL,
  emoji TEXT NOT NULL,
  user_id TEXT NOT NULL,
  reacted_at INTEGER NOT NULL,         -- unix ms
  PRIMARY KEY (message_id, emoji, user_id)
);

-- Read watermarks: one row per (channel, user); covers every message at or
-- before the named message in (created_at, id) order
CREATE TABLE IF NOT EXISTS discuss_reads (
  channel_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  message_id TEXT NOT NULL,
  created_at INTEGER NOT NULL,         -- created_at of the watermark message
  read_at INTEGER NOT NULL,            -- unix ms
  PRIMARY KEY (channel_id, user_id)
);
`

// SQLite is a Repository over a local sqlite database. Every write is
// mirrored as an event appended to an events JSONL next to the database, so
// feed.Tail can push the write to other processes on the same machine.
type SQLite struct {
	db         *sql.DB
	eventsPath string
	now        func() int64
}

// Open opens (creating if needed) the discussion database at path and
// applies the schema.
func Open(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &SQLite{
		db:         conn,
		eventsPath: EventsPath(path),
		now:        func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// EventsPath returns the events JSONL path for a database path.
func EventsPath(dbPath string) string {
	return filepath.Join(filepath.Dir(dbPath), "events.jsonl")
}

// Close closes the underlying database.
func (r *SQLite) Close() error {
	return r.db.Close()
}

// DB exposes the raw connection for tests.
func (r *SQLite) DB() *sql.DB { return r.db }
