package vault

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/basket/chatvault/internal/errcode"
)

// Thread is one normalized conversation.
type Thread struct {
	Provider         string
	ProviderThreadID string // "" = vendor supplied none
	Title            string
	CreatedAt        int64 // epoch ms; 0 = unknown
	ArtifactID       int64
	RunID            int64
}

// Message is one normalized utterance. Position is dense within a thread
// in parser-emission order.
type Message struct {
	ThreadID          int64
	Provider          string
	ProviderMessageID string
	Role              string
	Content           string
	ContentPlain      string
	Timestamp         int64 // epoch ms; 0 = unknown
	Position          int
	ParentProviderID  string
	ContentSHA256     string
	ArtifactID        int64
	RunID             int64
}

// ParseTx is the write surface handed to a parser. Everything a parser
// emits lands inside one transaction: a failure at any point leaves zero
// new threads and zero new messages visible.
type ParseTx struct {
	tx  *sql.Tx
	ctx context.Context
}

// WithParseTx wraps one parser invocation in a transaction. When fn
// returns an error the transaction rolls back and the error propagates
// unchanged.
func (s *Store) WithParseTx(ctx context.Context, fn func(pt *ParseTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errcode.New(errcode.DBWriteFailed, fmt.Errorf("begin parse tx: %w", err))
	}
	if err := fn(&ParseTx{tx: tx, ctx: ctx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errcode.New(errcode.DBWriteFailed, fmt.Errorf("commit parse tx: %w", err))
	}
	return nil
}

// InsertThread inserts one thread row and returns its id.
func (pt *ParseTx) InsertThread(t Thread) (int64, error) {
	providerThreadID := sql.NullString{String: t.ProviderThreadID, Valid: t.ProviderThreadID != ""}
	createdAt := sql.NullInt64{Int64: t.CreatedAt, Valid: t.CreatedAt != 0}
	res, err := pt.tx.ExecContext(pt.ctx, `
		INSERT INTO threads (provider, provider_thread_id, title, created_at, artifact_id, ingestion_run_id)
		VALUES (?, ?, ?, ?, ?, ?);
	`, t.Provider, providerThreadID, t.Title, createdAt, t.ArtifactID, t.RunID)
	if err != nil {
		return 0, errcode.New(errcode.DBWriteFailed, fmt.Errorf("insert thread: %w", err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errcode.New(errcode.DBWriteFailed, fmt.Errorf("thread insert id: %w", err))
	}
	return id, nil
}

// InsertMessage inserts one message row. The FTS index follows via trigger.
func (pt *ParseTx) InsertMessage(m Message) error {
	providerMessageID := sql.NullString{String: m.ProviderMessageID, Valid: m.ProviderMessageID != ""}
	parentID := sql.NullString{String: m.ParentProviderID, Valid: m.ParentProviderID != ""}
	timestamp := sql.NullInt64{Int64: m.Timestamp, Valid: m.Timestamp != 0}
	_, err := pt.tx.ExecContext(pt.ctx, `
		INSERT INTO messages (
			thread_id, provider, provider_message_id, role, content, content_plain,
			timestamp, position, parent_provider_message_id, content_sha256,
			artifact_id, ingestion_run_id
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`, m.ThreadID, m.Provider, providerMessageID, m.Role, m.Content, m.ContentPlain,
		timestamp, m.Position, parentID, m.ContentSHA256, m.ArtifactID, m.RunID)
	if err != nil {
		return errcode.New(errcode.DBWriteFailed, fmt.Errorf("insert message: %w", err))
	}
	return nil
}
