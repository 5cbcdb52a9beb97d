package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "memory_entries: append-only tiered memory log",
		SQL: `
CREATE TABLE memory_entries (
    id            TEXT PRIMARY KEY,
    principal_id  TEXT NOT NULL,
    tag           TEXT NOT NULL CHECK (tag IN ('chronological', 'general', 'confidential', 'secret', 'ultra_secret')),
    seq           INTEGER NOT NULL,

    content       BLOB NOT NULL,
    sealed        INTEGER NOT NULL DEFAULT 0,

    source        TEXT NOT NULL CHECK (source IN ('text', 'voice', 'other')),
    confidence    REAL NOT NULL DEFAULT 0 CHECK (confidence >= 0 AND confidence <= 1),
    related       TEXT NOT NULL DEFAULT '[]',
    context       TEXT NOT NULL DEFAULT '',
    created_at    INTEGER NOT NULL,

    -- Tombstone
    deleted_at    INTEGER,
    delete_reason TEXT,
    deleted_by    TEXT,

    UNIQUE (principal_id, tag, seq)
);

CREATE INDEX idx_entries_section ON memory_entries(principal_id, tag, created_at DESC);

CREATE TRIGGER memory_entries_immutable
BEFORE UPDATE OF id, principal_id, tag, seq, content, sealed, source, confidence, related, context, created_at
ON memory_entries
BEGIN
    SELECT RAISE(ABORT, 'memory entries are immutable');
END;

CREATE TRIGGER memory_entries_tombstone_once
BEFORE UPDATE OF deleted_at ON memory_entries
WHEN OLD.deleted_at IS NOT NULL
BEGIN
    SELECT RAISE(ABORT, 'memory entry already deleted');
END;

CREATE TRIGGER memory_entries_append_only
BEFORE DELETE ON memory_entries
BEGIN
    SELECT RAISE(ABORT, 'memory entries are append-only');
END;
`,
	},
	{
		Version:     2,
		Description: "passphrases: enrolled passphrase hashes",
		SQL: `
CREATE TABLE passphrases (
    principal_id TEXT PRIMARY KEY,
    hash         BLOB NOT NULL,
    salt         BLOB NOT NULL,
    params       TEXT NOT NULL,
    enrolled_at  INTEGER NOT NULL
);
`,
	},
	{
		Version:     3,
		Description: "unlock_sessions: at most one unlock window per principal",
		SQL: `
CREATE TABLE unlock_sessions (
    principal_id TEXT PRIMARY KEY,
    issued_at    INTEGER NOT NULL,
    expires_at   INTEGER NOT NULL CHECK (expires_at > issued_at)
);

CREATE INDEX idx_unlock_expires ON unlock_sessions(expires_at);
`,
	},
	{
		Version:     4,
		Description: "audit_records: hash-chained append-only audit trail",
		SQL: `
CREATE TABLE audit_records (
    id          INTEGER PRIMARY KEY,
    ts          INTEGER NOT NULL,
    event_type  TEXT NOT NULL,
    actor       TEXT NOT NULL,
    fields      TEXT NOT NULL DEFAULT '{}',
    prev_hash   TEXT NOT NULL,
    record_hash TEXT NOT NULL
);

CREATE INDEX idx_audit_actor ON audit_records(actor, id DESC);
CREATE INDEX idx_audit_type  ON audit_records(event_type);

CREATE TRIGGER audit_records_no_update
BEFORE UPDATE ON audit_records
BEGIN
    SELECT RAISE(ABORT, 'audit records are immutable');
END;

CREATE TRIGGER audit_records_no_delete
BEFORE DELETE ON audit_records
BEGIN
    SELECT RAISE(ABORT, 'audit records are append-only');
END;
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
