// Package vault owns everything under the vault directory: the SQLite
// database (relational rows + FTS index) and the content-addressed
// artifact files. Runs own artifacts own threads own messages; only
// thread deletion cascades to messages.
package vault

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/basket/chatvault/internal/bus"
	"github.com/basket/chatvault/internal/migrate"
	"github.com/basket/chatvault/internal/pathroot"
	_ "github.com/mattn/go-sqlite3"
)

// Run statuses. A run transitions exactly once out of running.
const (
	RunStatusRunning  = "running"
	RunStatusComplete = "complete"
	RunStatusFailed   = "failed"
)

type Store struct {
	db     *sql.DB
	paths  pathroot.Paths
	bus    *bus.Bus // may be nil in tests
	logger *slog.Logger
}

// Open creates the vault layout on disk, opens the database on a single
// connection, and migrates it to the latest schema.
func Open(ctx context.Context, paths pathroot.Paths, eventBus *bus.Bus, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(paths.Artifacts, 0o755); err != nil {
		return nil, fmt.Errorf("create artifacts directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", paths.DB)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db, paths: paths, bus: eventBus, logger: logger}
	if err := store.configurePragmas(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrate.Migrate(ctx, db, nil); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate vault db: %w", err)
	}
	return store, nil
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// Paths returns the frozen vault layout this store was opened with.
func (s *Store) Paths() pathroot.Paths {
	return s.paths
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) configurePragmas(ctx context.Context) error {
	pragma := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
	}
	for _, q := range pragma {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("set pragma %q: %w", q, err)
		}
	}
	return nil
}

func (s *Store) publish(topic string, payload any) {
	if s.bus != nil {
		s.bus.Publish(topic, payload)
	}
}

// artifactPath builds the self-describing on-disk name for an artifact:
// 64 hex chars, hyphen, sanitized basename. SHA dominates, so basename
// collisions are harmless.
func (s *Store) artifactPath(sha256Hex, safeName string) string {
	return filepath.Join(s.paths.Artifacts, sha256Hex+"-"+safeName)
}
