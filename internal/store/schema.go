package store

import "context"

// schemaStatements creates every table, index, and virtual table the
// repositories below depend on. Applied with CREATE TABLE IF NOT EXISTS
// rather than a numbered migration ladder: this module has one schema
// version, so the upgrade machinery a multi-release bridge needs would be
// pure overhead here.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL,
		origin_id TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_origin ON conversations(source, origin_id)`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations(updated_at)`,

	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		insertion_seq INTEGER NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation_created ON messages(conversation_id, created_at, insertion_seq)`,

	// messages_fts backs search_full_text: word-tokenized, ranked with bm25.
	`CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
		content,
		content='messages',
		content_rowid='rowid',
		tokenize='unicode61'
	)`,
	// messages_trgm backs search_trigram: trigram-tokenized for fuzzy/substring
	// matches the word-tokenized index can't reach (typos, partial tokens).
	`CREATE VIRTUAL TABLE IF NOT EXISTS messages_trgm USING fts5(
		content,
		content='messages',
		content_rowid='rowid',
		tokenize='trigram'
	)`,
	`CREATE TRIGGER IF NOT EXISTS messages_fts_ai AFTER INSERT ON messages BEGIN
		INSERT INTO messages_fts(rowid, content) VALUES (new.rowid, new.content);
		INSERT INTO messages_trgm(rowid, content) VALUES (new.rowid, new.content);
	END`,
	`CREATE TRIGGER IF NOT EXISTS messages_fts_ad AFTER DELETE ON messages BEGIN
		INSERT INTO messages_fts(messages_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
		INSERT INTO messages_trgm(messages_trgm, rowid, content) VALUES ('delete', old.rowid, old.content);
	END`,
	`CREATE TRIGGER IF NOT EXISTS messages_fts_au AFTER UPDATE ON messages BEGIN
		INSERT INTO messages_fts(messages_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
		INSERT INTO messages_fts(rowid, content) VALUES (new.rowid, new.content);
		INSERT INTO messages_trgm(messages_trgm, rowid, content) VALUES ('delete', old.rowid, old.content);
		INSERT INTO messages_trgm(rowid, content) VALUES (new.rowid, new.content);
	END`,

	`CREATE TABLE IF NOT EXISTS message_embeddings (
		message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		model TEXT NOT NULL,
		vector TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (message_id, model)
	)`,

	`CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 5,
		lease_owner TEXT NOT NULL DEFAULT '',
		lease_expires_at INTEGER,
		last_error TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		available_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_status_available ON jobs(status, available_at)`,

	`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

// applySchema creates every table/index/trigger if missing. Statements run
// individually (not as one multi-statement Exec) so a partial failure names
// exactly which object could not be created.
func applySchema(ctx context.Context, db dbExecer) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
