package vault

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/basket/chatvault/internal/bus"
	"github.com/basket/chatvault/internal/errcode"
)

// Run is one import attempt, the forensic audit unit.
type Run struct {
	ID           int64
	Provider     string
	Status       string
	StartedAt    time.Time
	CompletedAt  sql.NullTime
	SourceLabel  sql.NullString
	ErrorMessage sql.NullString
}

// CreateIngestionRun opens a run in the running state.
func (s *Store) CreateIngestionRun(ctx context.Context, provider, sourceLabel string) (int64, error) {
	label := sql.NullString{String: sourceLabel, Valid: sourceLabel != ""}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO ingestion_runs (provider, status, started_at, source_label)
		VALUES (?, ?, ?, ?);
	`, provider, RunStatusRunning, time.Now().UnixMilli(), label)
	if err != nil {
		return 0, errcode.New(errcode.DBWriteFailed, fmt.Errorf("insert ingestion run: %w", err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errcode.New(errcode.DBWriteFailed, fmt.Errorf("run insert id: %w", err))
	}
	s.publish(bus.TopicRunStarted, bus.RunEvent{RunID: id, Provider: provider, Status: RunStatusRunning})
	return id, nil
}

// FinalizeIngestionRun transitions a run out of running exactly once. The
// guard on status keeps finalized rows immutable.
func (s *Store) FinalizeIngestionRun(ctx context.Context, runID int64, status, errorMessage string) error {
	if status != RunStatusComplete && status != RunStatusFailed {
		return fmt.Errorf("invalid final run status %q", status)
	}
	errMsg := sql.NullString{String: errorMessage, Valid: errorMessage != ""}
	res, err := s.db.ExecContext(ctx, `
		UPDATE ingestion_runs
		SET status = ?, completed_at = ?, error_message = ?
		WHERE id = ? AND status = ?;
	`, status, time.Now().UnixMilli(), errMsg, runID, RunStatusRunning)
	if err != nil {
		return errcode.New(errcode.DBWriteFailed, fmt.Errorf("finalize run %d: %w", runID, err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errcode.New(errcode.DBWriteFailed, fmt.Errorf("finalize run rows affected: %w", err))
	}
	if affected != 1 {
		return fmt.Errorf("run %d is not running; refusing to finalize", runID)
	}

	var provider string
	_ = s.db.QueryRowContext(ctx, `SELECT provider FROM ingestion_runs WHERE id = ?;`, runID).Scan(&provider)
	topic := bus.TopicRunCompleted
	if status == RunStatusFailed {
		topic = bus.TopicRunFailed
	}
	ev := bus.RunEvent{RunID: runID, Provider: provider, Status: status}
	if status == RunStatusFailed {
		ev.ErrorCode = errcode.Classify(errorMessage)
	}
	s.publish(topic, ev)
	return nil
}

// GetRun loads one run row by id.
func (s *Store) GetRun(ctx context.Context, id int64) (Run, error) {
	var r Run
	var startedAt int64
	var completedAt sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, provider, status, started_at, completed_at, source_label, error_message
		FROM ingestion_runs WHERE id = ?;
	`, id).Scan(&r.ID, &r.Provider, &r.Status, &startedAt, &completedAt, &r.SourceLabel, &r.ErrorMessage)
	if err != nil {
		return Run{}, fmt.Errorf("get run %d: %w", id, err)
	}
	r.StartedAt = time.UnixMilli(startedAt)
	if completedAt.Valid {
		r.CompletedAt = sql.NullTime{Time: time.UnixMilli(completedAt.Int64), Valid: true}
	}
	return r, nil
}

// CountMessagesForRun returns how many messages a run ingested.
func (s *Store) CountMessagesForRun(ctx context.Context, runID int64) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM messages WHERE ingestion_run_id = ?;`, runID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages for run %d: %w", runID, err)
	}
	return n, nil
}

// SweepOrphanedRuns marks runs stuck in running longer than maxAge as
// failed. An interrupted process leaves its run in running; a re-import is
// always safe because of SHA dedup, so the sweep only restores the
// transitions-exactly-once invariant for forensics.
func (s *Store) SweepOrphanedRuns(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UnixMilli()
	res, err := s.db.ExecContext(ctx, `
		UPDATE ingestion_runs
		SET status = ?, completed_at = ?, error_message = ?
		WHERE status = ? AND started_at < ?;
	`, RunStatusFailed, time.Now().UnixMilli(), errcode.UnknownError+": interrupted", RunStatusRunning, cutoff)
	if err != nil {
		return 0, errcode.New(errcode.DBWriteFailed, fmt.Errorf("sweep orphaned runs: %w", err))
	}
	return res.RowsAffected()
}
