package database

import (
	"database/sql"
	"fmt"
)

// SchemaVersion is bumped whenever the DDL below changes shape.
const SchemaVersion = 1

// seedCategories are inserted once per database.
var seedCategories = []struct {
	Name        string
	Description string
}{
	{"personal", "Personal information and attributes"},
	{"work", "Professional and work-related facts"},
	{"relationships", "People and social connections"},
	{"preferences", "Likes, dislikes and opinions"},
	{"events", "Specific events and experiences"},
	{"facts", "General factual statements"},
	{"other", "Uncategorized memories"},
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS memories (
		memory_id        TEXT PRIMARY KEY,
		content          TEXT NOT NULL CHECK(length(content) <= 10000),
		original_message TEXT,
		category         TEXT NOT NULL,
		confidence_score REAL NOT NULL CHECK(confidence_score >= 0.0 AND confidence_score <= 1.0),
		timestamp        TEXT,
		created_at       TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		updated_at       TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		metadata         TEXT NOT NULL DEFAULT '{}',
		embedding        BLOB,
		is_active        INTEGER NOT NULL DEFAULT 1
	)`,

	`CREATE TABLE IF NOT EXISTS memory_updates (
		update_id        TEXT PRIMARY KEY,
		memory_id        TEXT NOT NULL REFERENCES memories(memory_id),
		previous_content TEXT,
		new_content      TEXT,
		update_type      TEXT NOT NULL CHECK(update_type IN ('create','update','merge','replace','archive','link')),
		updated_by       TEXT NOT NULL,
		updated_at       TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`,

	`CREATE TABLE IF NOT EXISTS sessions (
		session_id     TEXT PRIMARY KEY,
		started_at     TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		last_active_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		message_count  INTEGER NOT NULL DEFAULT 0,
		memory_count   INTEGER NOT NULL DEFAULT 0,
		metadata       TEXT NOT NULL DEFAULT '{}'
	)`,

	`CREATE TABLE IF NOT EXISTS categories (
		name        TEXT PRIMARY KEY,
		description TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS schema_version (
		version    INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`,

	`CREATE INDEX IF NOT EXISTS idx_memories_category ON memories(category)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_is_active ON memories(is_active)`,
	`CREATE INDEX IF NOT EXISTS idx_memory_updates_memory_id ON memory_updates(memory_id)`,

	// FTS5 mirror of (content, category) with porter stemming. memory_id is
	// stored but not indexed so trigram-free joins stay cheap.
	`CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
		memory_id UNINDEXED,
		content,
		category,
		tokenize='porter'
	)`,

	`CREATE TRIGGER IF NOT EXISTS memories_fts_insert AFTER INSERT ON memories BEGIN
		INSERT INTO memories_fts(memory_id, content, category)
		VALUES (new.memory_id, new.content, new.category);
	END`,

	`CREATE TRIGGER IF NOT EXISTS memories_fts_update AFTER UPDATE OF content, category ON memories BEGIN
		DELETE FROM memories_fts WHERE memory_id = old.memory_id;
		INSERT INTO memories_fts(memory_id, content, category)
		VALUES (new.memory_id, new.content, new.category);
	END`,

	`CREATE TRIGGER IF NOT EXISTS memories_fts_delete AFTER DELETE ON memories BEGIN
		DELETE FROM memories_fts WHERE memory_id = old.memory_id;
	END`,

	`CREATE TRIGGER IF NOT EXISTS memories_touch_updated_at AFTER UPDATE ON memories
	WHEN new.updated_at = old.updated_at BEGIN
		UPDATE memories SET updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE memory_id = new.memory_id;
	END`,
}

// initSchema creates all tables, triggers, and seed rows for one user
// database, then records the schema version.
func initSchema(db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}

	for _, c := range seedCategories {
		if _, err := db.Exec(
			`INSERT OR IGNORE INTO categories (name, description) VALUES (?, ?)`,
			c.Name, c.Description,
		); err != nil {
			return fmt.Errorf("failed to seed category %s: %w", c.Name, err)
		}
	}

	if _, err := db.Exec(
		`INSERT OR IGNORE INTO schema_version (version) VALUES (?)`, SchemaVersion,
	); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}

	return nil
}

// ValidateSchemaVersion fails when the stored version does not match the
// version this binary was built for.
func ValidateSchemaVersion(db *sql.DB) error {
	var version int
	err := db.QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&version)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version != SchemaVersion {
		return fmt.Errorf("schema version mismatch: found %d, expected %d", version, SchemaVersion)
	}
	return nil
}
