package vault

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/basket/chatvault/internal/errcode"
	"github.com/basket/chatvault/internal/migrate"
)

// Diagnostics is the privacy-safe report consumed by the host shell. Its
// queries touch only schema_meta, ingestion_runs, and raw_artifacts,
// never messages, threads, titles, or filenames. Error messages are
// reduced to their wire codes and any absolute path is redacted.
type Diagnostics struct {
	GeneratedAt string            `json:"generated_at"`
	App         AppInfo           `json:"app"`
	Runtime     RuntimeInfo       `json:"runtime"`
	Vault       VaultInfo         `json:"vault"`
	Ingestion   IngestionInfo     `json:"ingestion"`
	Artifacts   []ArtifactSummary `json:"artifacts"`
	Health      HealthInfo        `json:"health"`
}

type AppInfo struct {
	Version    string `json:"version"`
	IsPackaged bool   `json:"is_packaged"`
}

type RuntimeInfo struct {
	Platform  string `json:"platform"`
	Arch      string `json:"arch"`
	GoVersion string `json:"go_version"`
	OSRelease string `json:"os_release"`
}

type VaultInfo struct {
	SchemaVersion       int   `json:"schema_version"`
	DBSizeBytes         int64 `json:"db_size_bytes"`
	ArtifactsTotalBytes int64 `json:"artifacts_total_bytes"`
	FTSEnabled          bool  `json:"fts_enabled"`
}

type IngestionInfo struct {
	RunsSummary map[string]int `json:"runs_summary"`
	RecentRuns  []RecentRun    `json:"recent_runs"`
}

type RecentRun struct {
	ID          int64  `json:"id"`
	Provider    string `json:"provider"`
	Status      string `json:"status"`
	StartedAt   int64  `json:"started_at"`
	CompletedAt int64  `json:"completed_at,omitempty"`
	ErrorCode   string `json:"error_code,omitempty"`
}

type ArtifactSummary struct {
	Provider   string `json:"provider"`
	Type       string `json:"type"`
	Count      int64  `json:"count"`
	TotalBytes int64  `json:"total_bytes"`
}

type HealthInfo struct {
	SQLiteIntegrityCheck string `json:"sqlite_integrity_check"`
}

// CollectDiagnostics assembles the report.
func (s *Store) CollectDiagnostics(ctx context.Context, appVersion string, isPackaged bool) (Diagnostics, error) {
	d := Diagnostics{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		App:         AppInfo{Version: appVersion, IsPackaged: isPackaged},
		Runtime: RuntimeInfo{
			Platform:  runtime.GOOS,
			Arch:      runtime.GOARCH,
			GoVersion: runtime.Version(),
			OSRelease: osRelease(),
		},
	}

	version, err := migrate.Version(ctx, s.db)
	if err != nil {
		return d, err
	}
	d.Vault.SchemaVersion = version
	if fi, err := os.Stat(s.paths.DB); err == nil {
		d.Vault.DBSizeBytes = fi.Size()
	}
	_ = s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size_bytes), 0) FROM raw_artifacts;`).Scan(&d.Vault.ArtifactsTotalBytes)

	var ftsCount int
	_ = s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM sqlite_master WHERE name = 'messages_fts';`).Scan(&ftsCount)
	d.Vault.FTSEnabled = ftsCount > 0

	d.Ingestion.RunsSummary = map[string]int{}
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM ingestion_runs GROUP BY status;`)
	if err != nil {
		return d, fmt.Errorf("runs summary: %w", err)
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return d, fmt.Errorf("scan runs summary: %w", err)
		}
		d.Ingestion.RunsSummary[status] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return d, fmt.Errorf("runs summary rows: %w", err)
	}

	recent, err := s.recentRuns(ctx, 20)
	if err != nil {
		return d, err
	}
	d.Ingestion.RecentRuns = recent

	d.Artifacts, err = s.artifactSummaries(ctx)
	if err != nil {
		return d, err
	}

	var integrity string
	if err := s.db.QueryRowContext(ctx, `PRAGMA integrity_check;`).Scan(&integrity); err != nil {
		integrity = fmt.Sprintf("error: %v", err)
	}
	d.Health.SQLiteIntegrityCheck = integrity

	return d, nil
}

func (s *Store) recentRuns(ctx context.Context, limit int) ([]RecentRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, provider, status, started_at, completed_at, error_message
		FROM ingestion_runs
		ORDER BY id DESC
		LIMIT ?;
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent runs: %w", err)
	}
	defer rows.Close()

	var out []RecentRun
	for rows.Next() {
		var r RecentRun
		var completedAt sql.NullInt64
		var errMsg sql.NullString
		if err := rows.Scan(&r.ID, &r.Provider, &r.Status, &r.StartedAt, &completedAt, &errMsg); err != nil {
			return nil, fmt.Errorf("scan recent run: %w", err)
		}
		if completedAt.Valid {
			r.CompletedAt = completedAt.Int64
		}
		// Raw messages stay in the run row for forensics; only the mapped
		// code ever leaves the vault.
		if errMsg.Valid && errMsg.String != "" {
			r.ErrorCode = errcode.Classify(errMsg.String)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) artifactSummaries(ctx context.Context) ([]ArtifactSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider, artifact_type, COUNT(1), COALESCE(SUM(size_bytes), 0)
		FROM raw_artifacts
		GROUP BY provider, artifact_type
		ORDER BY provider, artifact_type;
	`)
	if err != nil {
		return nil, fmt.Errorf("artifact summaries: %w", err)
	}
	defer rows.Close()

	var out []ArtifactSummary
	for rows.Next() {
		var a ArtifactSummary
		if err := rows.Scan(&a.Provider, &a.Type, &a.Count, &a.TotalBytes); err != nil {
			return nil, fmt.Errorf("scan artifact summary: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func osRelease() string {
	if b, err := os.ReadFile("/proc/sys/kernel/osrelease"); err == nil {
		return string(b[:max(0, len(b)-1)])
	}
	return runtime.GOOS
}
