package vault

import (
	"context"
	"database/sql"
	"fmt"
)

// Hit is one ranked search result joined with its thread.
type Hit struct {
	MessageID   int64  `json:"message_id"`
	ThreadID    int64  `json:"thread_id"`
	Content     string `json:"content"`
	Role        string `json:"role"`
	Timestamp   int64  `json:"timestamp,omitempty"`
	ThreadTitle string `json:"thread_title"`
	Provider    string `json:"provider"`
}

// Search runs an FTS query over normalized message content. The query
// string is handed to the engine verbatim; tokens, quoted phrases, and
// boolean operators follow the FTS5 grammar.
func (s *Store) Search(ctx context.Context, query string) ([]Hit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.thread_id, m.content, m.role, m.timestamp,
		       t.title, t.provider
		FROM messages_fts f
		JOIN messages m ON f.rowid = m.id
		JOIN threads  t ON m.thread_id = t.id
		WHERE messages_fts MATCH ?
		ORDER BY rank;
	`, query)
	if err != nil {
		return nil, fmt.Errorf("fts query: %w", err)
	}
	defer rows.Close()

	var out []Hit
	for rows.Next() {
		var h Hit
		var ts sql.NullInt64
		if err := rows.Scan(&h.MessageID, &h.ThreadID, &h.Content, &h.Role, &ts, &h.ThreadTitle, &h.Provider); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		if ts.Valid {
			h.Timestamp = ts.Int64
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("hit rows: %w", err)
	}
	return out, nil
}
