package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create conversations and messages",
		SQL: `
			CREATE TABLE conversations (
				id               TEXT PRIMARY KEY,
				org_id           TEXT NOT NULL,
				source_url       TEXT NOT NULL DEFAULT '',
				client_ip        TEXT NOT NULL DEFAULT '',
				name             TEXT NOT NULL DEFAULT '',
				email            TEXT NOT NULL DEFAULT '',
				status           TEXT NOT NULL DEFAULT 'active',
				assignment       TEXT NOT NULL DEFAULT '',
				category         TEXT NOT NULL DEFAULT 'ai-handled',
				identity_stage   TEXT NOT NULL DEFAULT '',
				pending_message  TEXT NOT NULL DEFAULT '',
				escalated        INTEGER NOT NULL DEFAULT 0,
				summary          TEXT NOT NULL DEFAULT '',
				created_at       TEXT NOT NULL,
				last_activity_at TEXT NOT NULL,
				ended_at         TEXT,
				ended_by         TEXT NOT NULL DEFAULT ''
			);

			CREATE INDEX idx_conversations_org ON conversations (org_id, status);
			CREATE INDEX idx_conversations_activity ON conversations (last_activity_at);

			CREATE TABLE messages (
				seq             INTEGER PRIMARY KEY AUTOINCREMENT,
				id              TEXT NOT NULL UNIQUE,
				conversation_id TEXT NOT NULL REFERENCES conversations(id),
				role            TEXT NOT NULL,
				sender          TEXT NOT NULL DEFAULT '',
				body            TEXT NOT NULL,
				kind            TEXT NOT NULL DEFAULT 'text',
				attachment      TEXT NOT NULL DEFAULT '',
				dedup_key       TEXT UNIQUE,
				seen            INTEGER NOT NULL DEFAULT 0,
				created_at      TEXT NOT NULL
			);

			CREATE INDEX idx_messages_conversation ON messages (conversation_id, created_at, seq);
		`,
	},
	{
		Version: 2,
		Name:    "create tickets and agents",
		SQL: `
			CREATE TABLE tickets (
				id              TEXT PRIMARY KEY,
				conversation_id TEXT NOT NULL DEFAULT '',
				org_id          TEXT NOT NULL,
				contact_name    TEXT NOT NULL DEFAULT '',
				contact_email   TEXT NOT NULL DEFAULT '',
				contact_phone   TEXT NOT NULL DEFAULT '',
				query           TEXT NOT NULL,
				priority        TEXT NOT NULL DEFAULT 'medium',
				source          TEXT NOT NULL,
				created_at      TEXT NOT NULL
			);

			CREATE INDEX idx_tickets_conversation ON tickets (conversation_id);

			CREATE TABLE agents (
				id         TEXT PRIMARY KEY,
				name       TEXT NOT NULL DEFAULT '',
				online     INTEGER NOT NULL DEFAULT 0,
				updated_at TEXT NOT NULL
			);
		`,
	},
}
