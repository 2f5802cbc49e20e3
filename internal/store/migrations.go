package store

// migrations is the ordered list of SQL migration statements. The index of a
// statement plus one is its schema version.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS buddies (
		id TEXT PRIMARY KEY,
		record TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS conversations (
		buddy_id TEXT PRIMARY KEY,
		document TEXT NOT NULL,
		message_count INTEGER NOT NULL DEFAULT 0,
		last_updated DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_buddies_created ON buddies(created_at)`,
}
