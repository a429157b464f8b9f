// Package migrate brings a vault database to the declared schema version.
// Migrations are append-only and immutable once shipped; each runs in its
// own transaction so a failure leaves the database at the highest
// successfully applied version. The FTS objects are re-asserted on every
// run regardless of history, which repairs databases whose triggers were
// dropped externally or created by older versions.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/basket/chatvault/internal/audit"
)

// Migration is one versioned DDL step. Versions are strictly increasing
// with no gaps.
type Migration struct {
	Version int
	Name    string
	Script  string
}

const migrationV1Schema = `
CREATE TABLE IF NOT EXISTS schema_meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ingestion_runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	provider TEXT NOT NULL,
	status TEXT NOT NULL CHECK(status IN ('running', 'complete', 'failed')),
	started_at INTEGER NOT NULL,
	completed_at INTEGER,
	source_label TEXT,
	error_message TEXT
);

CREATE TABLE IF NOT EXISTS raw_artifacts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ingestion_run_id INTEGER NOT NULL REFERENCES ingestion_runs(id),
	parent_artifact_id INTEGER REFERENCES raw_artifacts(id),
	provider TEXT NOT NULL,
	artifact_type TEXT NOT NULL,
	filename TEXT NOT NULL,
	path_in_container TEXT,
	size_bytes INTEGER NOT NULL,
	sha256 TEXT NOT NULL UNIQUE,
	stored_path TEXT NOT NULL,
	imported_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS threads (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	provider TEXT NOT NULL,
	provider_thread_id TEXT,
	title TEXT NOT NULL DEFAULT '',
	created_at INTEGER,
	artifact_id INTEGER NOT NULL REFERENCES raw_artifacts(id),
	ingestion_run_id INTEGER NOT NULL REFERENCES ingestion_runs(id)
);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	thread_id INTEGER NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
	provider TEXT NOT NULL,
	provider_message_id TEXT,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	content_plain TEXT NOT NULL,
	timestamp INTEGER,
	position INTEGER NOT NULL,
	parent_provider_message_id TEXT,
	content_sha256 TEXT NOT NULL,
	artifact_id INTEGER NOT NULL REFERENCES raw_artifacts(id),
	ingestion_run_id INTEGER NOT NULL REFERENCES ingestion_runs(id)
);

CREATE INDEX IF NOT EXISTS idx_artifacts_run ON raw_artifacts(ingestion_run_id);
CREATE INDEX IF NOT EXISTS idx_artifacts_parent ON raw_artifacts(parent_artifact_id);
CREATE INDEX IF NOT EXISTS idx_threads_run ON threads(ingestion_run_id);
CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, position);
CREATE INDEX IF NOT EXISTS idx_messages_run ON messages(ingestion_run_id);
`

// ftsSchema is executed after every migration pass, not just once. The
// virtual table is an external-content mirror of messages; the three
// triggers keep it synchronized.
const ftsSchema = `
CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
	content_plain,
	content=messages,
	content_rowid=id
);

CREATE TRIGGER IF NOT EXISTS messages_fts_ai AFTER INSERT ON messages BEGIN
	INSERT INTO messages_fts(rowid, content_plain) VALUES (new.id, new.content_plain);
END;

CREATE TRIGGER IF NOT EXISTS messages_fts_ad AFTER DELETE ON messages BEGIN
	INSERT INTO messages_fts(messages_fts, rowid, content_plain) VALUES('delete', old.id, old.content_plain);
END;

CREATE TRIGGER IF NOT EXISTS messages_fts_au AFTER UPDATE ON messages BEGIN
	INSERT INTO messages_fts(messages_fts, rowid, content_plain) VALUES('delete', old.id, old.content_plain);
	INSERT INTO messages_fts(rowid, content_plain) VALUES (new.id, new.content_plain);
END;
`

// Migrations is the shipped migration list.
var Migrations = []Migration{
	{Version: 1, Name: "vault base schema", Script: migrationV1Schema},
}

// Options overrides the migration list and target version. Tests only.
type Options struct {
	Migrations []Migration
	Target     int
}

// Migrate applies all pending migrations and re-asserts the FTS objects.
func Migrate(ctx context.Context, db *sql.DB, opts *Options) error {
	migrations := Migrations
	target := 0
	if opts != nil {
		if opts.Migrations != nil {
			migrations = opts.Migrations
		}
		target = opts.Target
	}
	if target == 0 {
		for _, m := range migrations {
			if m.Version > target {
				target = m.Version
			}
		}
	}

	current, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}

	pending := make([]Migration, 0, len(migrations))
	for _, m := range migrations {
		if m.Version > current && m.Version <= target {
			pending = append(pending, m)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Version < pending[j].Version })

	for _, m := range pending {
		if err := applyOne(ctx, db, m); err != nil {
			audit.Record("migration", "failed", "", 0, "-", fmt.Sprintf("v%d (%s): %v", m.Version, m.Name, err))
			return fmt.Errorf("migration v%d (%s): %w", m.Version, m.Name, err)
		}
		audit.Record("migration", "applied", "", 0, "-", fmt.Sprintf("v%d (%s)", m.Version, m.Name))
	}

	if _, err := db.ExecContext(ctx, ftsSchema); err != nil {
		return fmt.Errorf("assert fts objects: %w", err)
	}

	final := current
	if len(pending) > 0 {
		final = pending[len(pending)-1].Version
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d;", final)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func applyOne(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, m.Script); err != nil {
		return fmt.Errorf("exec script: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO schema_meta (key, value) VALUES ('schema_version', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value;
	`, fmt.Sprintf("%d", m.Version)); err != nil {
		return fmt.Errorf("record schema_version: %w", err)
	}
	return tx.Commit()
}

func currentVersion(ctx context.Context, db *sql.DB) (int, error) {
	var exists int
	err := db.QueryRowContext(ctx, `SELECT 1 FROM sqlite_master WHERE type='table' AND name='schema_meta';`).Scan(&exists)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("probe schema_meta: %w", err)
	}
	var raw string
	err = db.QueryRowContext(ctx, `SELECT value FROM schema_meta WHERE key = 'schema_version';`).Scan(&raw)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema_version: %w", err)
	}
	var v int
	if _, err := fmt.Sscanf(raw, "%d", &v); err != nil {
		return 0, fmt.Errorf("parse schema_version %q: %w", raw, err)
	}
	return v, nil
}

// Version reads the applied schema version without migrating.
func Version(ctx context.Context, db *sql.DB) (int, error) {
	return currentVersion(ctx, db)
}
