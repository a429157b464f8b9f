package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/basket/chatvault/internal/audit"
	"github.com/basket/chatvault/internal/bus"
	"github.com/basket/chatvault/internal/errcode"
	"github.com/basket/chatvault/internal/shared"
)

// Wipe resets the vault in two phases: artifact files first, relational
// rows second. A filesystem failure aborts before the database is touched,
// so the vault never ends up with deleted rows pointing at orphan files.
// The reverse direction (files gone, rows present) is tolerated: the next
// wipe cleans up, and a re-import finds the stale row via SHA dedup and
// re-writes the file.
func (s *Store) Wipe(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.paths.Artifacts)
	if err != nil {
		return 0, errcode.New(errcode.FSWriteFailed, fmt.Errorf("list artifacts: %w", err))
	}

	removed := 0
	var fileErrs []error
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		p := filepath.Join(s.paths.Artifacts, e.Name())
		if err := os.Remove(p); err != nil {
			fileErrs = append(fileErrs, err)
			continue
		}
		removed++
	}
	if len(fileErrs) > 0 {
		err := errcode.New(errcode.FSWriteFailed, fmt.Errorf("remove %d artifact file(s): %w", len(fileErrs), errors.Join(fileErrs...)))
		audit.Record("wipe", "failed", "", 0, shared.TraceID(ctx), err.Error())
		return removed, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return removed, errcode.New(errcode.DBWriteFailed, fmt.Errorf("begin wipe tx: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	// Order matters for foreign keys. The FTS index follows via trigger.
	truncations := []string{
		`DELETE FROM messages;`,
		`DELETE FROM threads;`,
		`DELETE FROM raw_artifacts;`,
		`DELETE FROM ingestion_runs;`,
	}
	for _, stmt := range truncations {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return removed, errcode.New(errcode.DBWriteFailed, fmt.Errorf("wipe %s: %w", stmt, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return removed, errcode.New(errcode.DBWriteFailed, fmt.Errorf("commit wipe tx: %w", err))
	}

	s.logger.Info("vault wiped", "files_removed", removed)
	audit.Record("wipe", "complete", "", 0, shared.TraceID(ctx), fmt.Sprintf("%d files removed", removed))
	s.publish(bus.TopicVaultWiped, bus.WipeEvent{FilesRemoved: removed})
	return removed, nil
}
