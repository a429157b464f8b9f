package vault

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/basket/chatvault/internal/errcode"
)

// Artifact is one byte-identical file ever ingested, keyed by its SHA-256.
type Artifact struct {
	ID              int64
	RunID           int64
	ParentID        sql.NullInt64
	Provider        string
	Type            string
	Filename        string
	PathInContainer sql.NullString
	SizeBytes       int64
	SHA256          string
	StoredPath      string
	ImportedAt      time.Time
}

// StoreResult reports whether an artifact write deduplicated against an
// existing row.
type StoreResult struct {
	ID      int64
	Skipped bool
}

// StoreArtifactParams names the inputs to StoreRawArtifact.
type StoreArtifactParams struct {
	RunID           int64
	Provider        string
	Type            string
	Filename        string
	Bytes           []byte
	ParentID        int64  // 0 = top-level artifact
	PathInContainer string // "" = not extracted from a container
}

// StoreRawArtifact persists bytes under the artifacts directory and inserts
// the corresponding row. A byte sequence already present returns the
// pre-existing row unchanged; its file is written again only when it is
// missing from disk. If the filesystem write fails the row is never inserted.
func (s *Store) StoreRawArtifact(ctx context.Context, p StoreArtifactParams) (StoreResult, error) {
	sum := sha256.Sum256(p.Bytes)
	shaHex := hex.EncodeToString(sum[:])

	var existing int64
	var existingPath string
	err := s.db.QueryRowContext(ctx, `SELECT id, stored_path FROM raw_artifacts WHERE sha256 = ?;`, shaHex).Scan(&existing, &existingPath)
	if err == nil {
		if _, statErr := os.Stat(existingPath); os.IsNotExist(statErr) {
			if err := os.WriteFile(existingPath, p.Bytes, 0o644); err != nil {
				return StoreResult{}, errcode.New(errcode.FSWriteFailed, fmt.Errorf("restore artifact file: %w", err))
			}
		}
		return StoreResult{ID: existing, Skipped: true}, nil
	}
	if err != sql.ErrNoRows {
		return StoreResult{}, errcode.New(errcode.DBWriteFailed, fmt.Errorf("probe artifact sha: %w", err))
	}

	// Strip any directory component from the supplied name; entry names in
	// hostile archives are attacker-controlled.
	safeName := filepath.Base(strings.ReplaceAll(p.Filename, "\\", "/"))
	if safeName == "." || safeName == string(filepath.Separator) || safeName == "" {
		safeName = "artifact"
	}
	storedPath := s.artifactPath(shaHex, safeName)

	if err := os.WriteFile(storedPath, p.Bytes, 0o644); err != nil {
		return StoreResult{}, errcode.New(errcode.FSWriteFailed, fmt.Errorf("write artifact file: %w", err))
	}

	parent := sql.NullInt64{Int64: p.ParentID, Valid: p.ParentID != 0}
	pathInContainer := sql.NullString{String: p.PathInContainer, Valid: p.PathInContainer != ""}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO raw_artifacts (
			ingestion_run_id, parent_artifact_id, provider, artifact_type,
			filename, path_in_container, size_bytes, sha256, stored_path, imported_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`, p.RunID, parent, p.Provider, p.Type, safeName, pathInContainer,
		int64(len(p.Bytes)), shaHex, storedPath, time.Now().UnixMilli())
	if err != nil {
		// Leave the file in place: its row may arrive on a retry and the
		// SHA dedup tolerates an orphan.
		return StoreResult{}, errcode.New(errcode.DBWriteFailed, fmt.Errorf("insert artifact row: %w", err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return StoreResult{}, errcode.New(errcode.DBWriteFailed, fmt.Errorf("artifact insert id: %w", err))
	}

	s.logger.Debug("artifact stored", "artifact_id", id, "sha256", shaHex, "size", len(p.Bytes))
	return StoreResult{ID: id, Skipped: false}, nil
}

// GetArtifact loads one artifact row by id.
func (s *Store) GetArtifact(ctx context.Context, id int64) (Artifact, error) {
	var a Artifact
	var importedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, ingestion_run_id, parent_artifact_id, provider, artifact_type,
		       filename, path_in_container, size_bytes, sha256, stored_path, imported_at
		FROM raw_artifacts WHERE id = ?;
	`, id).Scan(&a.ID, &a.RunID, &a.ParentID, &a.Provider, &a.Type, &a.Filename,
		&a.PathInContainer, &a.SizeBytes, &a.SHA256, &a.StoredPath, &importedAt)
	if err != nil {
		return Artifact{}, fmt.Errorf("get artifact %d: %w", id, err)
	}
	a.ImportedAt = time.UnixMilli(importedAt)
	return a, nil
}
