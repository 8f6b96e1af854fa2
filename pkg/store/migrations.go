package store

// migration is one forward-only schema step, applied inside a single
// EXCLUSIVE transaction.
type migration struct {
	version int
	stmts []string
}

var migrations = []migration{
	{
		version: 1,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS meta (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS projects (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				root_path TEXT NOT NULL UNIQUE,
				parent_id TEXT REFERENCES projects(id)
			)`,
			`CREATE TABLE IF NOT EXISTS chunks (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				path TEXT NOT NULL,
				layer TEXT NOT NULL,
				project TEXT,
				start_line INTEGER NOT NULL,
				end_line INTEGER NOT NULL,
				content_hash TEXT NOT NULL,
				text TEXT NOT NULL,
				embedding BLOB,
				updated_at INTEGER NOT NULL,
				UNIQUE(path, start_line, end_line)
			)`,
			`CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
				text, content='chunks', content_rowid='id'
			)`,
			`CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
				INSERT INTO chunks_fts(rowid, text) VALUES (new.id, new.text);
			END`,
			`CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
				INSERT INTO chunks_fts(chunks_fts, rowid, text) VALUES('delete', old.id, old.text);
			END`,
			`CREATE TRIGGER IF NOT EXISTS chunks_au AFTER UPDATE ON chunks BEGIN
				INSERT INTO chunks_fts(chunks_fts, rowid, text) VALUES('delete', old.id, old.text);
				INSERT INTO chunks_fts(rowid, text) VALUES (new.id, new.text);
			END`,
			`CREATE TABLE IF NOT EXISTS embedding_cache (
				content_hash TEXT PRIMARY KEY,
				embedding BLOB NOT NULL,
				dims INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS episodes (
				id TEXT PRIMARY KEY,
				session_id TEXT NOT NULL,
				project TEXT,
				scope TEXT NOT NULL,
				summary TEXT NOT NULL,
				entities TEXT NOT NULL,
				importance TEXT NOT NULL,
				source_type TEXT NOT NULL,
				full_content TEXT,
				embedding BLOB,
				created_at INTEGER NOT NULL,
				accessed_at INTEGER NOT NULL,
				access_count INTEGER NOT NULL DEFAULT 0,
				graduated_at INTEGER
			)`,
			`CREATE VIRTUAL TABLE IF NOT EXISTS episodes_fts USING fts5(
				summary, entities, content='episodes', content_rowid='rowid'
			)`,
			`CREATE TRIGGER IF NOT EXISTS episodes_ai AFTER INSERT ON episodes BEGIN
				INSERT INTO episodes_fts(rowid, summary, entities) VALUES (new.rowid, new.summary, new.entities);
			END`,
			`CREATE TRIGGER IF NOT EXISTS episodes_ad AFTER DELETE ON episodes BEGIN
				INSERT INTO episodes_fts(episodes_fts, rowid, summary, entities) VALUES('delete', old.rowid, old.summary, old.entities);
			END`,
			`CREATE TRIGGER IF NOT EXISTS episodes_au AFTER UPDATE ON episodes BEGIN
				INSERT INTO episodes_fts(episodes_fts, rowid, summary, entities) VALUES('delete', old.rowid, old.summary, old.entities);
				INSERT INTO episodes_fts(rowid, summary, entities) VALUES (new.rowid, new.summary, new.entities);
			END`,
			`CREATE INDEX IF NOT EXISTS idx_episodes_session ON episodes(session_id)`,
			`CREATE INDEX IF NOT EXISTS idx_chunks_project ON chunks(project)`,
		},
	},
}
